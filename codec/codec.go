// Package codec defines how segments are encoded.
//
// A Codec bundles one format per concern: postings, stored fields, term
// vectors, doc values, norms, field infos, segment info and live docs.
// Codecs are registered by name; a segment records the name of the codec
// that wrote it, so readers resolve formats through the registry. Changing a
// registered codec's encoding is a breaking change for persisted indexes.
//
// Every file written through a codec starts with a header (magic, format
// name, version and, for per-segment files, the segment id and a suffix) and
// ends with a 16 byte footer carrying a CRC32-C checksum of everything before
// it.
package codec

import (
	"fmt"
	"slices"
	"sync"
)

var registry = struct {
	sync.RWMutex
	codecs   map[string]*Codec
	postings map[string]PostingsFormat
}{
	codecs:   make(map[string]*Codec),
	postings: make(map[string]PostingsFormat),
}

// Register makes a codec available by name. It panics on duplicates.
func Register(c *Codec) {
	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.codecs[c.Name]; dup {
		panic(fmt.Sprintf("codec: Register called twice for codec %q", c.Name))
	}
	registry.codecs[c.Name] = c
}

// Lookup returns a registered codec.
func Lookup(name string) (*Codec, error) {
	registry.RLock()
	defer registry.RUnlock()
	c, ok := registry.codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownCodec, name, sortedKeys(registry.codecs))
	}
	return c, nil
}

// Names returns the registered codec names.
func Names() []string {
	registry.RLock()
	defer registry.RUnlock()
	return sortedKeys(registry.codecs)
}

// RegisterPostingsFormat makes a postings format available for per-field
// routing. It panics on duplicates.
func RegisterPostingsFormat(pf PostingsFormat) {
	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.postings[pf.Name()]; dup {
		panic(fmt.Sprintf("codec: RegisterPostingsFormat called twice for %q", pf.Name()))
	}
	registry.postings[pf.Name()] = pf
}

// LookupPostingsFormat returns a registered postings format.
func LookupPostingsFormat(name string) (PostingsFormat, error) {
	registry.RLock()
	defer registry.RUnlock()
	pf, ok := registry.postings[name]
	if !ok {
		return nil, fmt.Errorf("%w: postings format %q (registered: %v)", ErrUnknownCodec, name, sortedKeys(registry.postings))
	}
	return pf, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
