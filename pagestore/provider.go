package pagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/pagedb/blobstore"
	"github.com/hupe1980/pagedb/bloom"
	"github.com/hupe1980/pagedb/cache"
	"github.com/hupe1980/pagedb/codec"
	"github.com/hupe1980/pagedb/page"
)

const (
	// CurrentName is the sentinel blob naming the live descriptor.
	CurrentName = "CURRENT"

	pagePrefix       = "pages/"
	descriptorPrefix = "DESCRIPTOR-"
)

// PageName returns the blob name of ref.
func PageName(ref page.Ref) string {
	return pagePrefix + ref.String() + ".page"
}

// DescriptorName returns the blob name of descriptor generation seq.
func DescriptorName(seq uint64) string {
	return fmt.Sprintf("%s%06d.bin", descriptorPrefix, seq)
}

// Provider resolves, caches and persists the pages of one index.
type Provider[K, V any] struct {
	store blobstore.BlobStore
	opts  options[K, V]
	log   *slog.Logger
	obs   Observer

	mu          sync.RWMutex
	codec       codec.Codec
	desc        *page.Descriptor
	current     string
	filter      *bloom.Filter
	freed       *roaring64.Bitmap
	metaDirty   bool
	initialized bool
	closed      bool

	writeSet *cache.Unbounded[page.Ref, *page.Node[K, V]]
	primary  cache.Cache[page.Ref, *page.Node[K, V]]
	soft     cache.Cache[page.Ref, *page.Node[K, V]]

	flushMu sync.Mutex
}

func nodeRef[K, V any](n *page.Node[K, V]) page.Ref { return n.Ref }

// New creates a provider over store. Call Initialize before anything else.
func New[K, V any](store blobstore.BlobStore, opts ...Option[K, V]) (*Provider[K, V], error) {
	if store == nil {
		return nil, fmt.Errorf("pagestore: nil store: %w", cache.ErrInvalidArgument)
	}
	o := defaultOptions[K, V]()
	for _, opt := range opts {
		opt(&o)
	}
	if o.leafFanout < MinFanout || o.innerFanout < MinFanout {
		return nil, fmt.Errorf("pagestore: fan-out %d/%d below %d: %w", o.leafFanout, o.innerFanout, MinFanout, cache.ErrCapacityOutOfRange)
	}

	p := &Provider[K, V]{
		store: store,
		opts:  o,
		log:   o.logger,
		obs:   o.observer,
		codec: o.codec,
		freed: roaring64.New(),
	}

	var err error
	if p.writeSet, err = cache.NewUnbounded[page.Ref, *page.Node[K, V]](nodeRef[K, V]); err != nil {
		return nil, err
	}

	p.soft = o.soft
	if p.soft == nil && o.softCacheBytes > 0 {
		p.soft, err = cache.NewSoft[page.Ref, *page.Node[K, V]](o.softCacheBytes, nodeRef[K, V],
			cache.WithOnEvict[page.Ref, *page.Node[K, V]](func(page.Ref, *page.Node[K, V]) { p.obs.RecordEviction(TierSoft) }))
		if err != nil {
			return nil, fmt.Errorf("pagestore: soft tier: %w", err)
		}
	}

	p.primary = o.primary
	if p.primary == nil {
		p.primary, err = cache.NewLRU[page.Ref, *page.Node[K, V]](o.cacheBytes, nodeRef[K, V],
			cache.WithOnEvict[page.Ref, *page.Node[K, V]](p.demote),
			cache.WithMemoryController[page.Ref, *page.Node[K, V]](o.rc))
		if err != nil {
			return nil, fmt.Errorf("pagestore: primary tier: %w", err)
		}
	}
	return p, nil
}

func (p *Provider[K, V]) demote(_ page.Ref, n *page.Node[K, V]) {
	p.obs.RecordEviction(TierPrimary)
	if p.soft != nil {
		_ = p.soft.Add(n, true)
	}
}

func (p *Provider[K, V]) readyLocked() error {
	if p.closed {
		return ErrClosed
	}
	if !p.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (p *Provider[K, V]) ready() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.readyLocked()
}

// Initialize loads the live descriptor and its filter, or creates and commits
// an empty index when the store has no CURRENT blob. Repeated calls are no-ops.
func (p *Provider[K, V]) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.initialized {
		return nil
	}

	current, err := blobstore.ReadAll(ctx, p.store, CurrentName)
	if errors.Is(err, blobstore.ErrNotFound) {
		return p.create(ctx)
	}
	if err != nil {
		return fmt.Errorf("pagestore: read %s: %w", CurrentName, err)
	}

	name := strings.TrimSpace(string(current))
	if !strings.HasPrefix(name, descriptorPrefix) {
		return fmt.Errorf("%w: %s names %q", ErrCorrupted, CurrentName, name)
	}
	data, err := blobstore.ReadAll(ctx, p.store, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return fmt.Errorf("%w: descriptor %s missing: %w", ErrCorrupted, name, err)
		}
		return fmt.Errorf("pagestore: read %s: %w", name, err)
	}
	desc, err := page.DecodeDescriptor(data)
	if err != nil {
		return fmt.Errorf("pagestore: descriptor %s: %w", name, err)
	}
	if desc.LeafFanout < MinFanout || desc.InnerFanout < MinFanout {
		return fmt.Errorf("%w: descriptor fan-out %d/%d", ErrCorrupted, desc.LeafFanout, desc.InnerFanout)
	}

	if desc.Codec != p.codec.Name() {
		c, ok := codec.ByName(desc.Codec)
		if !ok {
			return fmt.Errorf("%w: codec %q", ErrUnsupported, desc.Codec)
		}
		p.log.WarnContext(ctx, "index codec overrides configured codec", "index", desc.Codec, "configured", p.codec.Name())
		p.codec = c
	}

	if len(desc.Filter) > 0 {
		f, err := bloom.Unmarshal(desc.Filter)
		if err != nil {
			return fmt.Errorf("%w: filter: %w", ErrCorrupted, err)
		}
		p.filter = f
	}

	p.desc = desc
	p.current = name
	p.initialized = true
	p.log.InfoContext(ctx, "index opened",
		"descriptor", name,
		"pages", desc.PageCount,
		"items", desc.ItemCount,
		"height", desc.Height,
	)

	p.sweep(ctx)
	return nil
}

func (p *Provider[K, V]) create(ctx context.Context) error {
	desc := page.NewDescriptor(p.codec.Name(), uint32(p.opts.leafFanout), uint32(p.opts.innerFanout))
	desc.Seq = 1
	p.filter = p.newFilter()
	if fb, err := p.filter.MarshalBinary(); err == nil {
		desc.Filter = fb
	}

	name, err := p.commit(ctx, desc)
	if err != nil {
		return err
	}
	p.desc = desc
	p.current = name
	p.initialized = true
	p.log.InfoContext(ctx, "index created", "store_id", desc.StoreID, "leaf_fanout", desc.LeafFanout, "inner_fanout", desc.InnerFanout)
	return nil
}

// sweep deletes descriptors and pages the committed descriptor does not
// reference. They are left behind by flushes that failed before CURRENT.
func (p *Provider[K, V]) sweep(ctx context.Context) {
	removed := 0
	if names, err := p.store.List(ctx, descriptorPrefix); err == nil {
		for _, name := range names {
			if name != p.current && p.store.Delete(ctx, name) == nil {
				removed++
			}
		}
	}
	if names, err := p.store.List(ctx, pagePrefix); err == nil {
		for _, name := range names {
			hex := strings.TrimSuffix(strings.TrimPrefix(name, pagePrefix), ".page")
			ref, err := page.ParseRef(hex)
			if err != nil || p.desc.Live.Contains(uint64(ref)) {
				continue
			}
			if p.store.Delete(ctx, name) == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		p.log.InfoContext(ctx, "removed unreferenced blobs", "count", removed)
	}
}

func (p *Provider[K, V]) newFilter() *bloom.Filter {
	return bloom.NewForCapacity(p.opts.filterCapacity, p.opts.filterFPRate)
}

// commit writes desc and then points CURRENT at it.
func (p *Provider[K, V]) commit(ctx context.Context, desc *page.Descriptor) (string, error) {
	blob, err := page.EncodeDescriptor(desc, p.opts.compression)
	if err != nil {
		return "", err
	}
	name := DescriptorName(desc.Seq)
	if err := p.opts.rc.AcquireIO(ctx, len(blob)); err != nil {
		return "", err
	}
	if err := p.store.Put(ctx, name, blob); err != nil {
		return "", fmt.Errorf("pagestore: write %s: %w", name, err)
	}
	if err := p.store.Put(ctx, CurrentName, []byte(name)); err != nil {
		return "", fmt.Errorf("pagestore: write %s: %w", CurrentName, err)
	}
	return name, nil
}

// AssignIdentifier gives n a fresh reference and adds it to the write set.
func (p *Provider[K, V]) AssignIdentifier(n *page.Node[K, V]) (page.Ref, error) {
	if n == nil {
		return page.NullRef, cache.ErrInvalidArgument
	}
	if n.Kind != page.KindLeaf && n.Kind != page.KindInner {
		return page.NullRef, fmt.Errorf("pagestore: assign %s page: %w", n.Kind, cache.ErrInvalidArgument)
	}

	p.mu.Lock()
	if err := p.readyLocked(); err != nil {
		p.mu.Unlock()
		return page.NullRef, err
	}
	if n.Ref != page.NullRef {
		p.mu.Unlock()
		return n.Ref, fmt.Errorf("%w: %s", ErrAlreadyAssigned, n.Ref)
	}
	ref := p.desc.NextRef
	p.desc.NextRef++
	p.desc.Live.Add(uint64(ref))
	p.desc.PageCount++
	p.metaDirty = true
	n.Ref = ref
	p.mu.Unlock()

	_ = p.writeSet.Add(n, true)
	_ = p.primary.Add(n, true)
	return ref, nil
}

// MarkDirty records that n changed and must be written by the next Flush.
func (p *Provider[K, V]) MarkDirty(n *page.Node[K, V]) error {
	if n == nil {
		return cache.ErrInvalidArgument
	}
	if n.Ref == page.NullRef {
		return ErrUnassigned
	}
	if err := p.ready(); err != nil {
		return err
	}
	if err := p.writeSet.Add(n, true); err != nil {
		return err
	}
	_ = p.primary.Add(n, true)
	return nil
}

// FreePage drops n from the index. Its blob is deleted after the next Flush.
func (p *Provider[K, V]) FreePage(n *page.Node[K, V]) error {
	if n == nil {
		return cache.ErrInvalidArgument
	}

	p.mu.Lock()
	if err := p.readyLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	if !p.desc.Live.Contains(uint64(n.Ref)) {
		p.mu.Unlock()
		return &PageNotFoundError{Ref: n.Ref}
	}
	p.desc.Live.Remove(uint64(n.Ref))
	p.desc.PageCount--
	p.freed.Add(uint64(n.Ref))
	p.metaDirty = true
	p.mu.Unlock()

	_ = p.writeSet.RemoveKey(n.Ref)
	_ = p.primary.RemoveKey(n.Ref)
	if p.soft != nil {
		_ = p.soft.RemoveKey(n.Ref)
	}
	return nil
}

// Resolve returns the page for ref, loading it from the store on a miss.
func (p *Provider[K, V]) Resolve(ctx context.Context, ref page.Ref) (*page.Node[K, V], error) {
	start := time.Now()
	if err := p.ready(); err != nil {
		return nil, err
	}

	if n, ok := p.writeSet.Lookup(ref, false); ok {
		p.obs.RecordResolve(TierWriteSet, time.Since(start))
		return n, nil
	}
	if n, ok := p.primary.Get(ref); ok {
		p.obs.RecordResolve(TierPrimary, time.Since(start))
		return n, nil
	}
	if p.soft != nil {
		if n, ok := p.soft.Get(ref); ok {
			p.promote(n)
			p.obs.RecordResolve(TierSoft, time.Since(start))
			return n, nil
		}
	}

	if !p.isLive(ref) {
		return nil, &PageNotFoundError{Ref: ref}
	}
	n, err := p.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := p.primary.Add(n, false); err != nil {
		p.log.DebugContext(ctx, "page not cached", "ref", ref, "error", err)
	}
	if cur, ok := p.primary.Lookup(ref, false); ok {
		n = cur
	}
	p.obs.RecordResolve(TierStore, time.Since(start))
	return n, nil
}

func (p *Provider[K, V]) promote(n *page.Node[K, V]) {
	if err := p.primary.Add(n, false); err == nil && p.soft != nil {
		_ = p.soft.RemoveKey(n.Ref)
	}
}

func (p *Provider[K, V]) isLive(ref page.Ref) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return ref != page.NullRef && p.desc.Live.Contains(uint64(ref))
}

func (p *Provider[K, V]) load(ctx context.Context, ref page.Ref) (*page.Node[K, V], error) {
	data, err := blobstore.ReadAll(ctx, p.store, PageName(ref))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, &PageNotFoundError{Ref: ref, cause: err}
		}
		return nil, fmt.Errorf("pagestore: load page %s: %w", ref, err)
	}

	p.mu.RLock()
	c := p.codec
	p.mu.RUnlock()

	n, err := page.DecodeNode[K, V](c, ref, data)
	if err != nil {
		return nil, fmt.Errorf("pagestore: decode page %s: %w", ref, err)
	}
	return n, nil
}

// AddToCache pins n in the primary tier, replacing any resident copy.
func (p *Provider[K, V]) AddToCache(n *page.Node[K, V]) error {
	if n == nil {
		return cache.ErrInvalidArgument
	}
	if n.Ref == page.NullRef {
		return ErrUnassigned
	}
	if err := p.ready(); err != nil {
		return err
	}
	return p.primary.Add(n, true)
}

// RemoveFromCache drops n from the primary and soft tiers. A dirty page stays
// in the write set until it is flushed.
func (p *Provider[K, V]) RemoveFromCache(n *page.Node[K, V]) error {
	if n == nil {
		return cache.ErrInvalidArgument
	}
	if err := p.ready(); err != nil {
		return err
	}
	if err := p.primary.Remove(n); err != nil {
		return err
	}
	if p.soft != nil {
		return p.soft.Remove(n)
	}
	return nil
}

// GetFromCache returns a resident page without touching the store.
func (p *Provider[K, V]) GetFromCache(ref page.Ref) (*page.Node[K, V], bool) {
	if n, ok := p.writeSet.Lookup(ref, false); ok {
		return n, true
	}
	if n, ok := p.primary.Get(ref); ok {
		return n, true
	}
	if p.soft != nil {
		return p.soft.Get(ref)
	}
	return nil, false
}

// Root returns the root reference and the tree height. An empty index has
// NullRef and height 0.
func (p *Provider[K, V]) Root() (page.Ref, uint32) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.desc == nil {
		return page.NullRef, 0
	}
	return p.desc.Root, p.desc.Height
}

// SetRoot records a new root.
func (p *Provider[K, V]) SetRoot(ref page.Ref, height uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.desc.Root = ref
	p.desc.Height = height
	p.metaDirty = true
}

// ItemCount returns the number of items in the index.
func (p *Provider[K, V]) ItemCount() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.desc == nil {
		return 0
	}
	return p.desc.ItemCount
}

// AddItems adjusts the item count by delta.
func (p *Provider[K, V]) AddItems(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.desc.ItemCount = uint64(int64(p.desc.ItemCount) + int64(delta))
	p.metaDirty = true
}

// Fanout returns the leaf and inner fan-outs in effect.
func (p *Provider[K, V]) Fanout() (leaf, inner int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.desc == nil {
		return p.opts.leafFanout, p.opts.innerFanout
	}
	return int(p.desc.LeafFanout), int(p.desc.InnerFanout)
}

// Descriptor returns a copy of the working descriptor, including the encoded
// current filter.
func (p *Provider[K, V]) Descriptor() (*page.Descriptor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.readyLocked(); err != nil {
		return nil, err
	}
	return p.snapshotLocked()
}

func (p *Provider[K, V]) snapshotLocked() (*page.Descriptor, error) {
	d := p.desc.Clone()
	if p.filter != nil {
		fb, err := p.filter.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("pagestore: encode filter: %w", err)
		}
		d.Filter = fb
	}
	return d, nil
}

// Codec returns the codec of the index.
func (p *Provider[K, V]) Codec() codec.Codec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.codec
}

// Features reports the optional operations this provider supports.
func (p *Provider[K, V]) Features() Features {
	f := FeatureBloomFilter | FeatureRangeDeletion | FeatureSerializer
	if p.opts.compression != page.CompressionNone {
		f |= FeatureCompression
	}
	return f
}

// MayContain consults the existence filter. Without a filter every key may
// be present.
func (p *Provider[K, V]) MayContain(key K) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.filter == nil {
		return true
	}
	kb, err := codec.EncodeField(p.codec, key)
	if err != nil {
		return true
	}
	return p.filter.MayContain(kb)
}

// AddToFilter records key in the existence filter. Inserts call it so the
// filter never reports a stored key as absent. Keys that passed CheckEntry
// always encode.
func (p *Provider[K, V]) AddToFilter(key K) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.filter == nil {
		return
	}
	kb, err := codec.EncodeField(p.codec, key)
	if err != nil {
		return
	}
	p.filter.Add(kb)
	p.metaDirty = true
}

// CheckEntry reports ErrUnencodable when key or item cannot be written with
// the index codec. Inserts call it before touching a page so a bad entry
// never reaches Flush.
func (p *Provider[K, V]) CheckEntry(key K, item V) error {
	c := p.Codec()
	if _, err := codec.EncodeField(c, key); err != nil {
		return fmt.Errorf("%w: key: %w", ErrUnencodable, err)
	}
	if _, err := codec.EncodeField(c, item); err != nil {
		return fmt.Errorf("%w: item: %w", ErrUnencodable, err)
	}
	return nil
}

// FilterSaturated reports whether the existence filter's estimated false
// positive rate is above twice the configured target.
func (p *Provider[K, V]) FilterSaturated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.filter == nil {
		return false
	}
	return p.filter.EstimatedFalsePositiveRate() > 2*p.opts.filterFPRate
}

// GetBloomFilter builds a filter over keys and installs it as the index
// filter. keys is ranged twice: once to size the filter and once to fill it.
// The filter is sized for twice the key count, and never below the
// configured capacity, so inserts after a rebuild have room.
func (p *Provider[K, V]) GetBloomFilter(keys iter.Seq[K]) (*bloom.Filter, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	n := 0
	for range keys {
		n++
	}

	c := p.Codec()
	f := bloom.NewForCapacity(max(2*n, p.opts.filterCapacity, 1), p.opts.filterFPRate)
	for k := range keys {
		kb, err := codec.EncodeField(c, k)
		if err != nil {
			return nil, fmt.Errorf("pagestore: filter key: %w", err)
		}
		f.Add(kb)
	}

	p.mu.Lock()
	p.filter = f
	p.metaDirty = true
	p.mu.Unlock()
	return f, nil
}

// Clear empties the index and commits the empty descriptor. Reference
// allocation continues where it left off.
func (p *Provider[K, V]) Clear(ctx context.Context) error {
	p.mu.Lock()
	if err := p.readyLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	pages := p.desc.PageCount
	p.freed.Or(p.desc.Live)
	p.desc.Reset()
	p.filter = p.newFilter()
	p.metaDirty = true
	p.mu.Unlock()

	p.writeSet.Clear()
	p.primary.Clear()
	if p.soft != nil {
		p.soft.Clear()
	}

	if _, err := p.Flush(ctx); err != nil {
		return err
	}
	p.log.InfoContext(ctx, "index cleared", "pages", pages)
	return nil
}

// Stats is a point-in-time view of a provider.
type Stats struct {
	Seq       uint64
	NextRef   page.Ref
	PageCount uint64
	ItemCount uint64
	Height    uint32

	Dirty     int
	Resident  int
	SoftLen   int
	PendingGC uint64

	Primary cache.Stats
	Soft    cache.Stats

	FilterKeys              uint32
	FilterBits              uint64
	FilterFalsePositiveRate float64
}

// Stats returns counters for the provider and its caches.
func (p *Provider[K, V]) Stats() Stats {
	p.mu.RLock()
	var s Stats
	if p.desc != nil {
		s.Seq = p.desc.Seq
		s.NextRef = p.desc.NextRef
		s.PageCount = p.desc.PageCount
		s.ItemCount = p.desc.ItemCount
		s.Height = p.desc.Height
	}
	s.PendingGC = p.freed.GetCardinality()
	if p.filter != nil {
		s.FilterKeys = p.filter.Count()
		s.FilterBits = p.filter.Bits()
		s.FilterFalsePositiveRate = p.filter.EstimatedFalsePositiveRate()
	}
	p.mu.RUnlock()

	s.Dirty = p.writeSet.Len()
	s.Resident = p.primary.Len()
	s.Primary = p.primary.Stats()
	if p.soft != nil {
		s.SoftLen = p.soft.Len()
		s.Soft = p.soft.Stats()
	}
	return s
}

// Close discards unflushed pages and releases the caches. The store is
// closed too when it implements io.Closer.
func (p *Provider[K, V]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	dirty := p.writeSet.Len()
	p.mu.Unlock()

	if dirty > 0 {
		p.log.Warn("closing with unflushed pages", "dirty", dirty)
	}
	p.writeSet.Clear()
	p.primary.Clear()
	if p.soft != nil {
		p.soft.Clear()
	}
	if c, ok := p.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
