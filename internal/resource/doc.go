// Package resource bounds what the page store may consume.
//
// The primary page cache reserves the encoded size of each resident page, the
// flush path takes a worker slot per concurrent page write, and every blob
// write is charged against an optional byte-rate limit.
package resource
