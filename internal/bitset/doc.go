// Package bitset provides a fixed-length bit set used for live documents.
//
// A BitSet is not safe for concurrent mutation. Readers share a BitSet only
// after the writer stops mutating it; writers that need to change a shared
// set Clone it first.
package bitset
