package index

import "testing"

// SetMaxDocs lowers the document limit until t finishes.
func SetMaxDocs(t testing.TB, n int64) {
	t.Helper()
	old := maxDocs
	maxDocs = n
	t.Cleanup(func() { maxDocs = old })
}
