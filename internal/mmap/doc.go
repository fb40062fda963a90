// Package mmap loads blob files for the local blob store.
//
// Large blobs (dumps, big descriptors) are mapped read-only; files below
// DefaultMinMapSize, which covers most pages, are read onto the heap. A
// Region must be closed once the caller has decoded its content.
package mmap
