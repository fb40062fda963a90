// Package btree implements an ordered key/item index as a B+tree whose pages
// live in a pagestore.Provider.
//
// Items are held only in leaves. Leaves are linked to their siblings, so range
// scans walk the leaf level instead of descending again from the root. Inner
// pages hold separator keys: child i of an inner page covers the keys k with
// Keys[i-1] <= k < Keys[i].
//
// Fan-outs come from the provider. A leaf splits when it holds more than the
// leaf fan-out entries, and an inner page when it holds more than the inner
// fan-out separators. Pages that fall below half occupancy borrow from a
// sibling or merge with it. The tree grows and shrinks only at the root.
//
// Concurrency: readers (Get, Has, Ascend, Check) run in parallel. Mutations,
// Flush, Dump, Restore and Clear are exclusive. Callbacks passed to Ascend
// run under the read lock and must not call back into the tree's mutating
// methods.
package btree
