package bloom

// Stats tracks how often the filter settles a lookup on its own.
type Stats struct {
	Queries        uint64
	DefiniteNos    uint64
	MaybeYes       uint64
	ConfirmedFPs   uint64
	ObservedFPRate float64
}

// Update records one query: filterSaid is MayContain, actual is the tree answer.
func (s *Stats) Update(filterSaid, actual bool) {
	s.Queries++
	if !filterSaid {
		s.DefiniteNos++
		return
	}
	s.MaybeYes++
	if !actual {
		s.ConfirmedFPs++
	}
	s.ObservedFPRate = float64(s.ConfirmedFPs) / float64(s.MaybeYes)
}

// Effectiveness is the percentage of queries answered without a tree walk.
func (s *Stats) Effectiveness() float64 {
	if s.Queries == 0 {
		return 0
	}
	return float64(s.DefiniteNos) / float64(s.Queries) * 100
}
