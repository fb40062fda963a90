package cache

import "github.com/hupe1980/pagedb/internal/resource"

// EvictFunc observes entries leaving a bounded tier.
type EvictFunc[K comparable, V any] func(key K, value V)

type settings[K comparable, V any] struct {
	onEvict EvictFunc[K, V]
	rc      *resource.Controller
}

// Option configures a bounded cache.
type Option[K comparable, V any] func(*settings[K, V])

// WithOnEvict registers fn to run for every evicted entry. fn runs after the
// cache lock is released and may use other caches.
func WithOnEvict[K comparable, V any](fn EvictFunc[K, V]) Option[K, V] {
	return func(s *settings[K, V]) {
		s.onEvict = fn
	}
}

// WithMemoryController charges resident sizes against rc.
func WithMemoryController[K comparable, V any](rc *resource.Controller) Option[K, V] {
	return func(s *settings[K, V]) {
		s.rc = rc
	}
}

func applyOptions[K comparable, V any](opts []Option[K, V]) settings[K, V] {
	var s settings[K, V]
	for _, o := range opts {
		o(&s)
	}
	return s
}
