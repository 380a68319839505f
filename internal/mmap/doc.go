// Package mmap maps immutable index files read-only.
//
//	m, err := mmap.Open("_0.tim", mmap.AdviceRandom)
//	if err != nil { ... }
//	defer m.Close()
//	data := m.Bytes()
//
// Unix platforms use mmap(2) and madvise(2); Windows uses
// CreateFileMapping/MapViewOfFile and ignores the advice. Slices returned
// by Bytes must not be touched after Close.
package mmap
