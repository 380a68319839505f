package index

import (
	"fmt"
	"sync"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/document"
)

// fieldNumbers assigns writer-wide field numbers so a field keeps its
// number in every segment. It also pins each field's doc values type.
type fieldNumbers struct {
	mu       sync.Mutex
	byName   map[string]int
	byNumber map[int]string
	dvTypes  map[string]document.DocValuesType
	next     int
}

func newFieldNumbers() *fieldNumbers {
	return &fieldNumbers{
		byName:   make(map[string]int),
		byNumber: make(map[int]string),
		dvTypes:  make(map[string]document.DocValuesType),
	}
}

// load seeds the numbering from an existing segment.
func (f *fieldNumbers) load(infos *codec.FieldInfos) error {
	for _, fi := range infos.All() {
		if _, err := f.addOrGet(fi.Name, fi.Number, fi.DocValuesType); err != nil {
			return err
		}
	}
	return nil
}

// addOrGet returns the number of name, assigning preferred when it is free
// or the next unused number otherwise.
func (f *fieldNumbers) addOrGet(name string, preferred int, dv document.DocValuesType) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkDocValues(name, dv); err != nil {
		return 0, err
	}
	if dv != document.DocValuesNone {
		f.dvTypes[name] = dv
	}
	if num, ok := f.byName[name]; ok {
		return num, nil
	}
	num := preferred
	if _, taken := f.byNumber[num]; num < 0 || taken {
		for {
			if _, taken := f.byNumber[f.next]; !taken {
				break
			}
			f.next++
		}
		num = f.next
	}
	f.byName[name] = num
	f.byNumber[num] = name
	return num, nil
}

// verify checks a doc values type without registering anything.
func (f *fieldNumbers) verify(name string, dv document.DocValuesType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkDocValues(name, dv)
}

func (f *fieldNumbers) checkDocValues(name string, dv document.DocValuesType) error {
	if dv == document.DocValuesNone {
		return nil
	}
	if cur, ok := f.dvTypes[name]; ok && cur != dv {
		return fmt.Errorf("%w: field %q cannot change doc values type from %s to %s", ErrIncompatibleField, name, cur, dv)
	}
	return nil
}

// clear drops all numbers, as DeleteAll starts a fresh index.
func (f *fieldNumbers) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.byName)
	clear(f.byNumber)
	clear(f.dvTypes)
	f.next = 0
}
