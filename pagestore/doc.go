// Package pagestore is the page provider of an index tree.
//
// A Provider owns the reference namespace of one blob store. It hands out
// page references, resolves them through a tiered cache, keeps modified pages
// in a write set until the next Flush, and commits the descriptor that anchors
// the tree.
//
// # Resolution
//
// Resolve looks in the write set, then the primary LRU, then the soft tier
// and finally loads the page from the store. Pages evicted from the primary
// tier are demoted to the soft tier, where they stay reachable until the
// garbage collector reclaims them.
//
// # Layout
//
//	pages/<16 hex ref>.page   one blob per leaf or inner page
//	DESCRIPTOR-<seq>.bin      descriptor generations
//	CURRENT                   name of the live descriptor, written last
//
// # Concurrency
//
// Resolve, GetFromCache and the filter queries may run concurrently with each
// other. Methods that change pages or the descriptor, Flush included, must be
// serialized by the caller; the btree package does that with its own lock.
package pagestore
