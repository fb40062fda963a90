// Package page defines the pages of an index tree and their persisted form.
//
// A tree is made of leaf and inner pages anchored by a single descriptor.
// Leaves hold sorted (key, item) entries and link to their siblings; inner
// pages hold sorted separator keys and one more child reference than keys.
// The descriptor records the root, index-wide counters, the set of live page
// references and the encoded existence filter.
//
// # Blob format
//
// Every persisted page starts with a 16 byte header:
//
//	magic        [4]byte  "PGDB"
//	version      uint8    FormatVersion
//	kind         uint8    KindLeaf, KindInner or KindDescriptor
//	compression  uint8    CompressionNone, CompressionLZ4 or CompressionZSTD
//	reserved     uint8
//	checksum     uint32   CRC32C of the stored body
//	length       uint32   stored body length
//
// Compressed bodies carry an 8 byte block header (uncompressed length,
// compressed length). Keys and items inside a body are length-prefixed.
// String-kinded fields are stored as raw bytes, everything else as codec
// output. Readers accept only the current FormatVersion.
package page
