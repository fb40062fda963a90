package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// Integer keys round-trip exactly; floats use the shortest representation that
// parses back to the same value, so float keys stay ordered after a reload.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used when none is configured.
var Default Codec = GoJSON{}
