package pagedb

import (
	"log/slog"

	"github.com/hupe1980/pagedb/codec"
	"github.com/hupe1980/pagedb/internal/resource"
	"github.com/hupe1980/pagedb/page"
	"github.com/hupe1980/pagedb/pagestore"
)

// ResourceLimits bounds memory, flush concurrency and write throughput.
type ResourceLimits = resource.Config

type options struct {
	codec          codec.Codec
	compression    page.Compression
	leafFanout     int
	innerFanout    int
	cacheBytes     int64
	softCacheBytes int64
	filterCapacity int
	filterFPRate   float64
	limits         *ResourceLimits
	blockCache     int64
	blockSize      int64
	metrics        MetricsObserver
	logger         *Logger
	flushOnClose   bool
}

// Option configures Open.
type Option func(*options)

// WithCodec configures the codec for keys and items of a new index. An
// existing index keeps the codec it was created with.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression sets the page body compression. Pages that compress by
// less than a tenth are stored uncompressed.
func WithCompression(c page.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithFanout sets the maximum entries per leaf and separator keys per inner
// page of a new index. Both must be at least 2.
func WithFanout(leaf, inner int) Option {
	return func(o *options) {
		o.leafFanout = leaf
		o.innerFanout = inner
	}
}

// WithCacheBytes sets the byte budget of the page cache and of the soft tier
// that catches pages evicted from it. A zero soft budget disables the tier.
func WithCacheBytes(primary, soft int64) Option {
	return func(o *options) {
		o.cacheBytes = primary
		o.softCacheBytes = soft
	}
}

// WithFilter sizes the existence filter and sets its target false positive
// rate.
func WithFilter(capacity int, falsePositiveRate float64) Option {
	return func(o *options) {
		o.filterCapacity = capacity
		o.filterFPRate = falsePositiveRate
	}
}

// WithResourceLimits charges the page cache against a memory budget and
// bounds flush workers and write throughput.
//
// Example:
//
//	idx, _ := pagedb.Open[string, int](ctx, store, pagedb.WithResourceLimits(pagedb.ResourceLimits{
//	    MemoryLimitBytes:   256 << 20,
//	    MaxFlushWorkers:    8,
//	    IOLimitBytesPerSec: 64 << 20,
//	}))
func WithResourceLimits(limits ResourceLimits) Option {
	return func(o *options) {
		o.limits = &limits
	}
}

// WithBlockCache puts a block cache of capacity bytes in front of the store.
// It pays off for remote stores where every page read is a request.
func WithBlockCache(capacity, blockSize int64) Option {
	return func(o *options) {
		o.blockCache = capacity
		o.blockSize = blockSize
	}
}

// WithMetricsObserver configures a metrics observer for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsObserver:
//
//	metrics := &pagedb.BasicMetricsObserver{}
//	idx, _ := pagedb.Open[string, int](ctx, store, pagedb.WithMetricsObserver(metrics))
//	// ... use idx ...
//	stats := metrics.GetStats()
//	fmt.Printf("Gets: %d, page hit ratio: %.2f\n", stats.GetCount, stats.PageHitRatio)
func WithMetricsObserver(m MetricsObserver) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsObserver{}
		}
		o.metrics = m
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithFlushOnClose controls whether Close flushes pending changes. It is on
// by default; without it Close discards unflushed changes.
func WithFlushOnClose(enabled bool) Option {
	return func(o *options) {
		o.flushOnClose = enabled
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:          codec.Default,
		compression:    page.CompressionLZ4,
		leafFanout:     pagestore.DefaultFanout,
		innerFanout:    pagestore.DefaultFanout,
		cacheBytes:     pagestore.DefaultCacheBytes,
		softCacheBytes: pagestore.DefaultSoftCacheBytes,
		filterCapacity: pagestore.DefaultFilterCapacity,
		filterFPRate:   pagestore.DefaultFilterFalsePositiveRate,
		metrics:        NoopMetricsObserver{},
		logger:         NoopLogger(),
		flushOnClose:   true,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

func providerOptions[K, V any](o options) []pagestore.Option[K, V] {
	opts := []pagestore.Option[K, V]{
		pagestore.WithCodec[K, V](o.codec),
		pagestore.WithCompression[K, V](o.compression),
		pagestore.WithFanout[K, V](o.leafFanout, o.innerFanout),
		pagestore.WithCacheBytes[K, V](o.cacheBytes, o.softCacheBytes),
		pagestore.WithFilter[K, V](o.filterCapacity, o.filterFPRate),
		pagestore.WithLogger[K, V](o.logger.Logger),
		pagestore.WithObserver[K, V](o.metrics),
	}
	if o.limits != nil {
		opts = append(opts, pagestore.WithResourceController[K, V](resource.NewController(*o.limits)))
	}
	return opts
}
