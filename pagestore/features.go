package pagestore

import "strings"

// Features is a capability set. Callers check it before optional operations.
type Features uint32

const (
	FeatureBloomFilter Features = 1 << iota
	FeatureRangeDeletion
	FeatureSerializer
	FeatureCompression
)

// Has reports whether every feature in f2 is present.
func (f Features) Has(f2 Features) bool { return f&f2 == f2 }

func (f Features) String() string {
	var names []string
	for _, x := range []struct {
		f    Features
		name string
	}{
		{FeatureBloomFilter, "bloom-filter"},
		{FeatureRangeDeletion, "range-deletion"},
		{FeatureSerializer, "serializer"},
		{FeatureCompression, "compression"},
	} {
		if f.Has(x.f) {
			names = append(names, x.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}
