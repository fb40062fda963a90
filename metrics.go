package pagedb

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/pagedb/page"
	"github.com/hupe1980/pagedb/pagestore"
)

// MetricsObserver defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// A MetricsObserver also receives page-level events from the provider and the
// tree. Implementations must be safe for concurrent use.
//
// Example Prometheus integration:
//
//	type PrometheusObserver struct {
//	    pagedb.NoopMetricsObserver
//	    flushHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusObserver) RecordFlush(s pagestore.FlushStats, err error) {
//	    p.flushHistogram.Observe(s.Duration.Seconds())
//	}
type MetricsObserver interface {
	// RecordGet is called after each Get or Has. hit reports whether the key
	// was found.
	RecordGet(duration time.Duration, hit bool, err error)

	// RecordPut is called after each Put.
	RecordPut(duration time.Duration, err error)

	// RecordDelete is called after each Delete and once per DeleteRange with
	// the number of removed keys.
	RecordDelete(removed int, duration time.Duration, err error)

	// RecordScan is called after each Scan with the number of visited items.
	RecordScan(visited int, duration time.Duration, err error)

	// RecordResolve is called when the provider resolves a page.
	RecordResolve(tier pagestore.Tier, duration time.Duration)

	// RecordFlush is called after every flush attempt.
	RecordFlush(stats pagestore.FlushStats, err error)

	// RecordEviction is called when a page leaves a cache tier.
	RecordEviction(tier pagestore.Tier)

	// RecordSplit is called when a page splits.
	RecordSplit(kind page.Kind)

	// RecordMerge is called when two pages merge.
	RecordMerge(kind page.Kind)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
// Use this when metrics collection is not needed.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) RecordGet(time.Duration, bool, error)        {}
func (NoopMetricsObserver) RecordPut(time.Duration, error)              {}
func (NoopMetricsObserver) RecordDelete(int, time.Duration, error)      {}
func (NoopMetricsObserver) RecordScan(int, time.Duration, error)        {}
func (NoopMetricsObserver) RecordResolve(pagestore.Tier, time.Duration) {}
func (NoopMetricsObserver) RecordFlush(pagestore.FlushStats, error)     {}
func (NoopMetricsObserver) RecordEviction(pagestore.Tier)               {}
func (NoopMetricsObserver) RecordSplit(page.Kind)                       {}
func (NoopMetricsObserver) RecordMerge(page.Kind)                       {}

// BasicMetricsObserver provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsObserver struct {
	GetCount      atomic.Int64
	GetHits       atomic.Int64
	GetErrors     atomic.Int64
	GetTotalNanos atomic.Int64
	PutCount      atomic.Int64
	PutErrors     atomic.Int64
	PutTotalNanos atomic.Int64
	DeleteCount   atomic.Int64
	DeletedKeys   atomic.Int64
	DeleteErrors  atomic.Int64
	ScanCount     atomic.Int64
	ScannedItems  atomic.Int64
	ScanErrors    atomic.Int64

	ResolveWriteSet atomic.Int64
	ResolvePrimary  atomic.Int64
	ResolveSoft     atomic.Int64
	ResolveStore    atomic.Int64

	FlushCount      atomic.Int64
	FlushErrors     atomic.Int64
	FlushPages      atomic.Int64
	FlushBytes      atomic.Int64
	FlushTotalNanos atomic.Int64

	Evictions atomic.Int64
	Splits    atomic.Int64
	Merges    atomic.Int64
}

// RecordGet implements MetricsObserver.
func (b *BasicMetricsObserver) RecordGet(duration time.Duration, hit bool, err error) {
	b.GetCount.Add(1)
	b.GetTotalNanos.Add(duration.Nanoseconds())
	if hit {
		b.GetHits.Add(1)
	}
	if err != nil {
		b.GetErrors.Add(1)
	}
}

// RecordPut implements MetricsObserver.
func (b *BasicMetricsObserver) RecordPut(duration time.Duration, err error) {
	b.PutCount.Add(1)
	b.PutTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PutErrors.Add(1)
	}
}

// RecordDelete implements MetricsObserver.
func (b *BasicMetricsObserver) RecordDelete(removed int, _ time.Duration, err error) {
	b.DeleteCount.Add(1)
	b.DeletedKeys.Add(int64(removed))
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordScan implements MetricsObserver.
func (b *BasicMetricsObserver) RecordScan(visited int, _ time.Duration, err error) {
	b.ScanCount.Add(1)
	b.ScannedItems.Add(int64(visited))
	if err != nil {
		b.ScanErrors.Add(1)
	}
}

// RecordResolve implements MetricsObserver.
func (b *BasicMetricsObserver) RecordResolve(tier pagestore.Tier, _ time.Duration) {
	switch tier {
	case pagestore.TierWriteSet:
		b.ResolveWriteSet.Add(1)
	case pagestore.TierPrimary:
		b.ResolvePrimary.Add(1)
	case pagestore.TierSoft:
		b.ResolveSoft.Add(1)
	case pagestore.TierStore:
		b.ResolveStore.Add(1)
	}
}

// RecordFlush implements MetricsObserver.
func (b *BasicMetricsObserver) RecordFlush(s pagestore.FlushStats, err error) {
	b.FlushCount.Add(1)
	b.FlushTotalNanos.Add(s.Duration.Nanoseconds())
	if err != nil {
		b.FlushErrors.Add(1)
		return
	}
	b.FlushPages.Add(int64(s.Pages))
	b.FlushBytes.Add(s.Bytes)
}

// RecordEviction implements MetricsObserver.
func (b *BasicMetricsObserver) RecordEviction(pagestore.Tier) { b.Evictions.Add(1) }

// RecordSplit implements MetricsObserver.
func (b *BasicMetricsObserver) RecordSplit(page.Kind) { b.Splits.Add(1) }

// RecordMerge implements MetricsObserver.
func (b *BasicMetricsObserver) RecordMerge(page.Kind) { b.Merges.Add(1) }

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsObserver) GetStats() BasicMetricsStats {
	resolves := b.ResolveWriteSet.Load() + b.ResolvePrimary.Load() + b.ResolveSoft.Load() + b.ResolveStore.Load()
	var hitRatio float64
	if resolves > 0 {
		hitRatio = float64(resolves-b.ResolveStore.Load()) / float64(resolves)
	}
	return BasicMetricsStats{
		GetCount:      b.GetCount.Load(),
		GetHits:       b.GetHits.Load(),
		GetErrors:     b.GetErrors.Load(),
		GetAvgNanos:   avg(b.GetTotalNanos.Load(), b.GetCount.Load()),
		PutCount:      b.PutCount.Load(),
		PutErrors:     b.PutErrors.Load(),
		PutAvgNanos:   avg(b.PutTotalNanos.Load(), b.PutCount.Load()),
		DeleteCount:   b.DeleteCount.Load(),
		DeletedKeys:   b.DeletedKeys.Load(),
		DeleteErrors:  b.DeleteErrors.Load(),
		ScanCount:     b.ScanCount.Load(),
		ScannedItems:  b.ScannedItems.Load(),
		ScanErrors:    b.ScanErrors.Load(),
		PageLoads:     b.ResolveStore.Load(),
		PageHitRatio:  hitRatio,
		FlushCount:    b.FlushCount.Load(),
		FlushErrors:   b.FlushErrors.Load(),
		FlushPages:    b.FlushPages.Load(),
		FlushBytes:    b.FlushBytes.Load(),
		FlushAvgNanos: avg(b.FlushTotalNanos.Load(), b.FlushCount.Load()),
		Evictions:     b.Evictions.Load(),
		Splits:        b.Splits.Load(),
		Merges:        b.Merges.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsObserver state.
type BasicMetricsStats struct {
	GetCount      int64
	GetHits       int64
	GetErrors     int64
	GetAvgNanos   int64
	PutCount      int64
	PutErrors     int64
	PutAvgNanos   int64
	DeleteCount   int64
	DeletedKeys   int64
	DeleteErrors  int64
	ScanCount     int64
	ScannedItems  int64
	ScanErrors    int64
	PageLoads     int64
	PageHitRatio  float64
	FlushCount    int64
	FlushErrors   int64
	FlushPages    int64
	FlushBytes    int64
	FlushAvgNanos int64
	Evictions     int64
	Splits        int64
	Merges        int64
}
