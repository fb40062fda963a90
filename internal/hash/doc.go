// Package hash holds the checksum used by every persisted artifact.
//
// Page blobs, descriptors and serializer records are all protected with
// CRC32-Castagnoli. Go's hash/crc32 picks the hardware path (SSE4.2, ARMv8
// CRC) when it is available.
package hash
