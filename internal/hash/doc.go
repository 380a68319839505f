// Package hash provides the checksum and hashing primitives used by segdex.
//
// # CRC32-Castagnoli (CRC32C)
//
// Every file written through the codec layer ends with a footer carrying a
// CRC32C checksum over all preceding bytes. Go's crc32 package uses hardware
// instructions (SSE4.2, ARM CRC) when available.
//
// For one-shot checksums:
//
//	checksum := hash.CRC32C(data)
//
// For streaming checksums:
//
//	crc = hash.UpdateCRC32C(crc, chunk)
//
// # MurmurHash3
//
// Murmur3 hashes raw term bytes for the in-memory term hash tables. It is
// deterministic across processes so hash ordering never leaks into file
// contents.
package hash
