// Package manifest implements commit point persistence.
//
// # Overview
//
// A commit point names the segments that make up the index at one
// generation, together with per-segment deletion state and a user data map.
// Commit points are immutable files named segments_N, where N is the
// generation in base 36. The newest readable generation is the current
// commit.
//
// # Binary Format
//
//	Header:
//	  Magic      (int32)    - codec.CodecMagic
//	  Codec      (string)   - "Segments"
//	  Version    (int32)    - format version (currently 1)
//	  ID         (16 bytes) - random commit id
//	  Generation (vlong)
//
//	Payload:
//	  Version     (vlong)  - incremented on every change
//	  Counter     (vlong)  - next segment name counter
//	  NumSegments (vint)
//	  Segments[]:
//	    Name     (string)
//	    ID       (16 bytes)
//	    Codec    (string)
//	    DelGen   (vlong)  - deletion generation + 1, 0 when never deleted
//	    DelCount (vint)
//	  UserData (string map)
//
//	Footer (16 bytes) - codec footer with CRC32-C
//
// # Atomic Protocol
//
// Commits are published in two phases:
//
//  1. Prepare writes pending_segments_N and syncs it.
//  2. Finish renames it to segments_N and syncs directory metadata.
//
// A crash before the rename leaves a pending file that readers ignore. On
// blob stores the rename is a conditional put, so two writers cannot
// publish the same generation.
//
// ReadLatest falls back to older generations when the newest commit file is
// truncated or corrupt.
//
// # Thread Safety
//
// All Store methods are protected by a mutex and safe for concurrent use.
package manifest
