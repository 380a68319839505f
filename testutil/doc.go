// Package testutil provides testing utilities for segdex.
//
// This package is intended for use in tests and benchmarks only.
// It provides a thread-safe seeded RNG and reproducible document
// generators.
//
// # Random Documents
//
//	gen := testutil.NewDocGenerator(seed)
//	for _, doc := range gen.Documents(1000) {
//	    _ = w.AddDocument(ctx, doc)
//	}
//
// The same seed always yields the same documents, which lets two indexes
// built with different codecs be compared.
package testutil
