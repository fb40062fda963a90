package pagestore

import "time"

// Tier names where Resolve found a page.
type Tier uint8

const (
	TierWriteSet Tier = iota
	TierPrimary
	TierSoft
	TierStore
)

func (t Tier) String() string {
	switch t {
	case TierWriteSet:
		return "write-set"
	case TierPrimary:
		return "primary"
	case TierSoft:
		return "soft"
	case TierStore:
		return "store"
	default:
		return "unknown"
	}
}

// FlushStats describes one committed flush.
type FlushStats struct {
	Pages    int
	Bytes    int64
	Freed    int
	Seq      uint64
	Duration time.Duration
}

// Observer receives provider events. Implementations must be safe for
// concurrent use.
type Observer interface {
	// RecordResolve is called for every successful Resolve.
	RecordResolve(tier Tier, d time.Duration)
	// RecordFlush is called after every Flush attempt.
	RecordFlush(stats FlushStats, err error)
	// RecordEviction is called when a page leaves a cache tier.
	RecordEviction(tier Tier)
}

type noopObserver struct{}

func (noopObserver) RecordResolve(Tier, time.Duration) {}
func (noopObserver) RecordFlush(FlushStats, error)     {}
func (noopObserver) RecordEviction(Tier)               {}
