package pagestore

import (
	"log/slog"

	"github.com/hupe1980/pagedb/cache"
	"github.com/hupe1980/pagedb/codec"
	"github.com/hupe1980/pagedb/internal/resource"
	"github.com/hupe1980/pagedb/page"
)

const (
	// DefaultFanout is the leaf and inner fan-out of a new index.
	DefaultFanout = 64
	// MinFanout is the smallest fan-out a tree can balance.
	MinFanout = 2

	DefaultCacheBytes     = 64 << 20
	DefaultSoftCacheBytes = 16 << 20

	DefaultFilterCapacity          = 1024
	DefaultFilterFalsePositiveRate = 0.01
)

type options[K, V any] struct {
	codec       codec.Codec
	compression page.Compression
	leafFanout  int
	innerFanout int

	cacheBytes     int64
	softCacheBytes int64
	primary        cache.Cache[page.Ref, *page.Node[K, V]]
	soft           cache.Cache[page.Ref, *page.Node[K, V]]

	filterCapacity int
	filterFPRate   float64

	rc       *resource.Controller
	logger   *slog.Logger
	observer Observer
}

func defaultOptions[K, V any]() options[K, V] {
	return options[K, V]{
		codec:          codec.Default,
		compression:    page.CompressionLZ4,
		leafFanout:     DefaultFanout,
		innerFanout:    DefaultFanout,
		cacheBytes:     DefaultCacheBytes,
		softCacheBytes: DefaultSoftCacheBytes,
		filterCapacity: DefaultFilterCapacity,
		filterFPRate:   DefaultFilterFalsePositiveRate,
		logger:         slog.New(slog.DiscardHandler),
		observer:       noopObserver{},
	}
}

// Option configures a Provider.
type Option[K, V any] func(*options[K, V])

// WithCodec sets the key and item codec. nil selects codec.Default.
func WithCodec[K, V any](c codec.Codec) Option[K, V] {
	return func(o *options[K, V]) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression sets the page body compression.
func WithCompression[K, V any](c page.Compression) Option[K, V] {
	return func(o *options[K, V]) {
		o.compression = c
	}
}

// WithFanout sets the fan-outs of a new index. An existing index keeps the
// fan-outs recorded in its descriptor.
func WithFanout[K, V any](leaf, inner int) Option[K, V] {
	return func(o *options[K, V]) {
		o.leafFanout = leaf
		o.innerFanout = inner
	}
}

// WithCacheBytes sets the byte budgets of the primary and soft tiers.
func WithCacheBytes[K, V any](primary, soft int64) Option[K, V] {
	return func(o *options[K, V]) {
		o.cacheBytes = primary
		o.softCacheBytes = soft
	}
}

// WithPrimaryCache replaces the primary LRU tier.
func WithPrimaryCache[K, V any](c cache.Cache[page.Ref, *page.Node[K, V]]) Option[K, V] {
	return func(o *options[K, V]) {
		o.primary = c
	}
}

// WithSoftCache replaces the soft tier.
func WithSoftCache[K, V any](c cache.Cache[page.Ref, *page.Node[K, V]]) Option[K, V] {
	return func(o *options[K, V]) {
		o.soft = c
	}
}

// WithFilter sizes the existence filter installed for a new or cleared index.
func WithFilter[K, V any](capacity int, falsePositiveRate float64) Option[K, V] {
	return func(o *options[K, V]) {
		o.filterCapacity = capacity
		o.filterFPRate = falsePositiveRate
	}
}

// WithResourceController charges the primary tier against rc and bounds
// flush concurrency and throughput with it.
func WithResourceController[K, V any](rc *resource.Controller) Option[K, V] {
	return func(o *options[K, V]) {
		o.rc = rc
	}
}

// WithLogger sets the logger. nil discards.
func WithLogger[K, V any](l *slog.Logger) Option[K, V] {
	return func(o *options[K, V]) {
		if l == nil {
			l = slog.New(slog.DiscardHandler)
		}
		o.logger = l
	}
}

// WithObserver sets the event observer.
func WithObserver[K, V any](obs Observer) Option[K, V] {
	return func(o *options[K, V]) {
		if obs == nil {
			obs = noopObserver{}
		}
		o.observer = obs
	}
}
