// Package pagedb provides an embedded, page-oriented ordered index for Go.
//
// An index maps ordered keys to items and keeps them in fixed fan-out pages
// of a B+tree. Pages are encoded into blobs and written to any
// blobstore.BlobStore: a local directory, memory, SQLite, MinIO or S3.
//
// # Quick Start
//
//	ctx := context.Background()
//	idx, _ := pagedb.OpenLocal[string, int](ctx, "./data")
//	defer idx.Close()
//
//	idx.Put(ctx, "apple", 3)
//	n, ok, _ := idx.Get(ctx, "apple")
//
//	idx.Scan(ctx, "a", "b", func(k string, v int) bool {
//	    fmt.Println(k, v)
//	    return true
//	})
//
// Remote store:
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "index/")
//	idx, _ := pagedb.Open[uint64, Order](ctx, store, pagedb.WithBlockCache(64<<20, 64<<10))
//
// # Durability Model
//
// Changes are buffered in a write set of dirty pages and become durable on
// Flush:
//
//	idx.Put(ctx, k, v)   // buffered in memory
//	idx.Flush(ctx)       // durable after this
//
// A flush writes every dirty page, then a new descriptor, then the CURRENT
// pointer. A crash before the CURRENT write leaves the previous state intact.
// Close flushes by default (see WithFlushOnClose).
//
// # Caching
//
// Resolved pages live in a size-bounded LRU. Pages evicted from it move to a
// soft tier held by weak pointers, which the garbage collector may reclaim.
// A page not found in any tier is read from the store. The cache package is
// usable on its own.
//
// # Existence Filter
//
// Each index carries a Bloom filter over its keys. Has consults it before
// reading pages. Deletes do not clear bits; RefreshFilter rebuilds it.
//
// # Dump and Restore
//
// Dump writes a self-contained, compressed snapshot of the index. Restore
// loads a snapshot into an empty index, assigning fresh page references.
//
// # Thread Safety
//
// An Index is safe for concurrent use. Reads share a lock; writes, Flush and
// Dump are exclusive.
package pagedb
