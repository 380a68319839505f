package arena

import (
	"encoding/binary"
	"io"
)

// ByteSliceWriter appends bytes to a slice chain in a ByteBlockPool.
type ByteSliceWriter struct {
	pool    *ByteBlockPool
	slice   []byte
	upto    int
	offset0 int
}

// NewByteSliceWriter creates a writer over pool.
func NewByteSliceWriter(pool *ByteBlockPool) *ByteSliceWriter {
	return &ByteSliceWriter{pool: pool}
}

// StartNewSlice allocates a first-level slice and positions the writer at it.
// It returns the absolute start address.
func (w *ByteSliceWriter) StartNewSlice() int {
	upto := w.pool.NewSlice(FirstLevelSize)
	w.Init(upto + w.pool.ByteOffset)
	return upto + w.pool.ByteOffset
}

// Init positions the writer at an absolute address inside an existing chain.
func (w *ByteSliceWriter) Init(address int) {
	w.slice = w.pool.Buffers[address>>ByteBlockShift]
	w.upto = address & ByteBlockMask
	w.offset0 = address - w.upto
}

// WriteByte appends one byte, chaining a new slice when the end marker is hit.
func (w *ByteSliceWriter) WriteByte(b byte) error {
	if w.slice[w.upto] != 0 {
		w.upto = w.pool.AllocSlice(w.slice, w.upto)
		w.slice = w.pool.Buffer
		w.offset0 = w.pool.ByteOffset
	}
	w.slice[w.upto] = b
	w.upto++
	return nil
}

// Write appends p byte by byte.
func (w *ByteSliceWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		_ = w.WriteByte(b)
	}
	return len(p), nil
}

// WriteVInt appends v as a 7-bit group varint.
func (w *ByteSliceWriter) WriteVInt(v int) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(uint32(v)))
	_, _ = w.Write(buf[:n])
}

// Address returns the absolute address of the next byte to be written.
func (w *ByteSliceWriter) Address() int {
	return w.upto + w.offset0
}

// ByteSliceReader replays a slice chain between two absolute addresses.
type ByteSliceReader struct {
	pool         *ByteBlockPool
	buffer       []byte
	bufferUpto   int
	bufferOffset int
	upto         int
	limit        int
	level        int
	endIndex     int
}

// Init positions the reader at startIndex; reading stops at endIndex.
func (r *ByteSliceReader) Init(pool *ByteBlockPool, startIndex, endIndex int) {
	r.pool = pool
	r.endIndex = endIndex
	r.level = 0
	r.bufferUpto = startIndex / ByteBlockSize
	r.bufferOffset = r.bufferUpto * ByteBlockSize
	r.buffer = pool.Buffers[r.bufferUpto]
	r.upto = startIndex & ByteBlockMask

	firstSize := byteLevelSizes[0]
	if startIndex+firstSize >= endIndex {
		// The whole stream lives in the first slice.
		r.limit = endIndex & ByteBlockMask
	} else {
		r.limit = r.upto + firstSize - 4
	}
}

// EOF reports whether every written byte has been read.
func (r *ByteSliceReader) EOF() bool {
	return r.upto+r.bufferOffset == r.endIndex
}

// ReadByte returns the next byte or io.EOF.
func (r *ByteSliceReader) ReadByte() (byte, error) {
	if r.EOF() {
		return 0, io.EOF
	}
	if r.upto == r.limit {
		r.nextSlice()
	}
	b := r.buffer[r.upto]
	r.upto++
	return b, nil
}

// Read fills p, crossing slice boundaries as needed.
func (r *ByteSliceReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if r.EOF() {
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		}
		if r.upto == r.limit {
			r.nextSlice()
		}
		avail := r.limit - r.upto
		if rem := r.endIndex - (r.upto + r.bufferOffset); rem < avail {
			avail = rem
		}
		c := copy(p[n:], r.buffer[r.upto:r.upto+avail])
		r.upto += c
		n += c
	}
	return n, nil
}

// ReadVInt decodes one varint.
func (r *ByteSliceReader) ReadVInt() (int, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, err
	}
	return int(uint32(v)), nil
}

func (r *ByteSliceReader) nextSlice() {
	nextIndex := int(binary.BigEndian.Uint32(r.buffer[r.limit:]))

	r.level = byteNextLevel[r.level]
	newSize := byteLevelSizes[r.level]

	r.bufferUpto = nextIndex / ByteBlockSize
	r.bufferOffset = r.bufferUpto * ByteBlockSize
	r.buffer = r.pool.Buffers[r.bufferUpto]
	r.upto = nextIndex & ByteBlockMask

	if nextIndex+newSize >= r.endIndex {
		r.limit = r.endIndex - r.bufferOffset
	} else {
		r.limit = r.upto + newSize - 4
	}
}

// IntSliceWriter appends int32 values to a slice chain in an IntBlockPool.
type IntSliceWriter struct {
	pool   *IntBlockPool
	offset int
}

// NewIntSliceWriter creates a writer over pool.
func NewIntSliceWriter(pool *IntBlockPool) *IntSliceWriter {
	return &IntSliceWriter{pool: pool}
}

// StartNewSlice allocates a first-level slice and returns its absolute start.
func (w *IntSliceWriter) StartNewSlice() int {
	w.offset = w.pool.newSlice(intLevelSizes[0]) + w.pool.IntOffset
	return w.offset
}

// Reset positions the writer at an absolute offset.
func (w *IntSliceWriter) Reset(offset int) { w.offset = offset }

// WriteInt appends v.
func (w *IntSliceWriter) WriteInt(v int32) {
	ints := w.pool.Buffers[w.offset>>IntBlockShift]
	rel := w.offset & IntBlockMask
	if ints[rel] != 0 {
		rel = w.pool.allocSlice(ints, rel)
		ints = w.pool.Buffer
		w.offset = rel + w.pool.IntOffset
	}
	ints[rel] = v
	w.offset++
}

// CurrentOffset returns the absolute offset of the next write.
func (w *IntSliceWriter) CurrentOffset() int { return w.offset }

// IntSliceReader replays an int slice chain.
type IntSliceReader struct {
	pool         *IntBlockPool
	buffer       []int32
	bufferUpto   int
	bufferOffset int
	upto         int
	limit        int
	level        int
	end          int
}

// NewIntSliceReader creates a reader over pool.
func NewIntSliceReader(pool *IntBlockPool) *IntSliceReader {
	return &IntSliceReader{pool: pool}
}

// Reset positions the reader at start; reading stops at end.
func (r *IntSliceReader) Reset(start, end int) {
	r.bufferUpto = start / IntBlockSize
	r.bufferOffset = r.bufferUpto * IntBlockSize
	r.end = end
	r.level = 0
	r.buffer = r.pool.Buffers[r.bufferUpto]
	r.upto = start & IntBlockMask

	firstSize := intLevelSizes[0]
	if start+firstSize >= end {
		r.limit = end & IntBlockMask
	} else {
		r.limit = r.upto + firstSize - 1
	}
}

// EndOfSlice reports whether all values have been read.
func (r *IntSliceReader) EndOfSlice() bool {
	return r.upto+r.bufferOffset == r.end
}

// ReadInt returns the next value. Callers check EndOfSlice first.
func (r *IntSliceReader) ReadInt() int32 {
	if r.upto == r.limit {
		r.nextSlice()
	}
	v := r.buffer[r.upto]
	r.upto++
	return v
}

func (r *IntSliceReader) nextSlice() {
	nextIndex := int(r.buffer[r.limit])
	r.level = intNextLevel[r.level]
	newSize := intLevelSizes[r.level]

	r.bufferUpto = nextIndex / IntBlockSize
	r.bufferOffset = r.bufferUpto * IntBlockSize
	r.buffer = r.pool.Buffers[r.bufferUpto]
	r.upto = nextIndex & IntBlockMask

	if nextIndex+newSize >= r.end {
		r.limit = r.end - r.bufferOffset
	} else {
		r.limit = r.upto + newSize - 1
	}
}
