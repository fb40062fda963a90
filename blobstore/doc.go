// Package blobstore abstracts where page blobs live.
//
// A page store keeps one blob per page, one per descriptor generation and a
// CURRENT pointer. Put must be atomic: readers see the old or the new content,
// never a mix. Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, temp-file-and-rename writes, mmap reads of large blobs
//   - MemoryStore: process memory, for tests and scratch indexes
//   - CachingStore: block cache in front of any other store
//   - sqlite.Store: a single SQLite database file
//   - minio.Store: MinIO or any S3-compatible endpoint via minio-go
//   - s3.Store: Amazon S3, optionally with DynamoDB-backed CURRENT commits
package blobstore
