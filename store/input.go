package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const inputBufferSize = 8 << 10

// ReaderAtCloser is the random-access source behind an Input.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Input is a positioned, buffered reader over a read-only file.
//
// Inputs are not safe for concurrent use; use Clone to get an independent
// position over the same file. Clones and slices share the file and must not
// be used after the original is closed.
type Input struct {
	name   string
	src    io.ReaderAt
	data   []byte // set when the whole file is in memory
	off    int64  // start of this view within src
	length int64
	pos    int64 // relative to off

	buf      []byte
	bufStart int64 // relative position of buf[0]

	closer func() error // nil for clones and slices
	closed bool
}

// NewInput creates an Input over size bytes of src. Close closes src.
func NewInput(name string, src ReaderAtCloser, size int64) *Input {
	return &Input{name: name, src: src, length: size, closer: src.Close}
}

// NewBytesInput creates an Input over data.
func NewBytesInput(name string, data []byte) *Input {
	return &Input{name: name, data: data, length: int64(len(data))}
}

func newMappedInput(name string, data []byte, closer func() error) *Input {
	return &Input{name: name, data: data, length: int64(len(data)), closer: closer}
}

// Name returns the file name, or a description for slices.
func (in *Input) Name() string { return in.name }

// Length returns the length of this input.
func (in *Input) Length() int64 { return in.length }

// FilePointer returns the current position.
func (in *Input) FilePointer() int64 { return in.pos }

// SeekTo sets the position for the next read.
func (in *Input) SeekTo(pos int64) error {
	if pos < 0 || pos > in.length {
		return fmt.Errorf("store: seek %d out of bounds [0,%d] in %s: %w", pos, in.length, in.name, io.ErrUnexpectedEOF)
	}
	in.pos = pos
	return nil
}

// Clone returns an independent Input at the same position.
func (in *Input) Clone() *Input {
	c := *in
	c.buf = nil
	c.closer = nil
	return &c
}

// Slice returns an Input over [off, off+length) of this input.
func (in *Input) Slice(desc string, off, length int64) (*Input, error) {
	if off < 0 || length < 0 || off+length > in.length {
		return nil, fmt.Errorf("store: slice [%d,%d) out of bounds (length %d) in %s: %w", off, off+length, in.length, in.name, io.ErrUnexpectedEOF)
	}
	s := &Input{name: in.name + " [" + desc + "]", src: in.src, off: in.off + off, length: length}
	if in.data != nil {
		s.data = in.data[off : off+length]
		s.off = 0
	}
	return s, nil
}

// ReadAt reads len(p) bytes at absolute position off of this input without
// moving the file pointer.
func (in *Input) ReadAt(p []byte, off int64) (int, error) {
	if in.closed {
		return 0, ErrClosed
	}
	if off >= in.length {
		return 0, io.EOF
	}
	n := len(p)
	if rem := in.length - off; int64(n) > rem {
		n = int(rem)
	}
	var err error
	if in.data != nil {
		copy(p, in.data[off:off+int64(n)])
	} else {
		_, err = in.src.ReadAt(p[:n], in.off+off)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	}
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

// Read implements io.Reader.
func (in *Input) Read(p []byte) (int, error) {
	if in.pos >= in.length {
		return 0, io.EOF
	}
	n := min(int64(len(p)), in.length-in.pos)
	if err := in.ReadBytes(p[:n]); err != nil {
		return 0, err
	}
	return int(n), nil
}

// ReadBytes fills p or fails with io.ErrUnexpectedEOF.
func (in *Input) ReadBytes(p []byte) error {
	if in.closed {
		return ErrClosed
	}
	if in.pos+int64(len(p)) > in.length {
		return in.eof()
	}
	if in.data != nil {
		copy(p, in.data[in.pos:])
		in.pos += int64(len(p))
		return nil
	}

	// Serve from the buffer where possible.
	if in.buffered(len(p)) {
		start := in.pos - in.bufStart
		copy(p, in.buf[start:])
		in.pos += int64(len(p))
		return nil
	}
	if len(p) >= inputBufferSize {
		if _, err := in.src.ReadAt(p, in.off+in.pos); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("store: read %s: %w", in.name, err)
		}
		in.pos += int64(len(p))
		return nil
	}
	if err := in.refill(); err != nil {
		return err
	}
	copy(p, in.buf)
	in.pos += int64(len(p))
	return nil
}

// ReadByte implements io.ByteReader.
func (in *Input) ReadByte() (byte, error) {
	if in.closed {
		return 0, ErrClosed
	}
	if in.pos >= in.length {
		return 0, in.eof()
	}
	if in.data != nil {
		b := in.data[in.pos]
		in.pos++
		return b, nil
	}
	if !in.buffered(1) {
		if err := in.refill(); err != nil {
			return 0, err
		}
	}
	b := in.buf[in.pos-in.bufStart]
	in.pos++
	return b, nil
}

func (in *Input) buffered(n int) bool {
	return in.buf != nil && in.pos >= in.bufStart && in.pos+int64(n) <= in.bufStart+int64(len(in.buf))
}

func (in *Input) refill() error {
	n := min(int64(inputBufferSize), in.length-in.pos)
	if cap(in.buf) < inputBufferSize {
		in.buf = make([]byte, 0, inputBufferSize)
	}
	in.buf = in.buf[:n]
	if _, err := in.src.ReadAt(in.buf, in.off+in.pos); err != nil && !errors.Is(err, io.EOF) {
		in.buf = in.buf[:0]
		return fmt.Errorf("store: read %s: %w", in.name, err)
	}
	in.bufStart = in.pos
	return nil
}

func (in *Input) eof() error {
	return fmt.Errorf("store: read past EOF (pos %d, length %d) in %s: %w", in.pos, in.length, in.name, io.ErrUnexpectedEOF)
}

// ReadInt32 reads 4 big-endian bytes.
func (in *Input) ReadInt32() (int32, error) {
	var b [4]byte
	if err := in.ReadBytes(b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

// ReadInt64 reads 8 big-endian bytes.
func (in *Input) ReadInt64() (int64, error) {
	var b [8]byte
	if err := in.ReadBytes(b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

// ReadVInt reads a variable-length int32.
func (in *Input) ReadVInt() (int32, error) {
	v, err := binary.ReadUvarint(in)
	if err != nil {
		return 0, in.varintErr(err)
	}
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("store: invalid vint in %s: %w", in.name, ErrMalformed)
	}
	return int32(uint32(v)), nil
}

// ReadVLong reads a non-negative variable-length int64.
func (in *Input) ReadVLong() (int64, error) {
	v, err := binary.ReadUvarint(in)
	if err != nil {
		return 0, in.varintErr(err)
	}
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("store: invalid vlong in %s: %w", in.name, ErrMalformed)
	}
	return int64(v), nil
}

func (in *Input) varintErr(err error) error {
	if errors.Is(err, io.EOF) {
		return in.eof()
	}
	return err
}

// ReadString reads a length-prefixed string.
func (in *Input) ReadString() (string, error) {
	n, err := in.ReadVInt()
	if err != nil {
		return "", err
	}
	if n < 0 || int64(n) > in.length-in.pos {
		return "", fmt.Errorf("store: invalid string length %d in %s: %w", n, in.name, ErrMalformed)
	}
	b := make([]byte, n)
	if err := in.ReadBytes(b); err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadStringMap reads a map written by Output.WriteStringMap.
func (in *Input) ReadStringMap() (map[string]string, error) {
	n, err := in.ReadVInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("store: invalid map size %d in %s: %w", n, in.name, ErrMalformed)
	}
	m := make(map[string]string, n)
	for i := int32(0); i < n; i++ {
		k, err := in.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := in.ReadString()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

// ReadStringSet reads strings written by Output.WriteStringSet.
func (in *Input) ReadStringSet() ([]string, error) {
	n, err := in.ReadVInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("store: invalid set size %d in %s: %w", n, in.name, ErrMalformed)
	}
	set := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		s, err := in.ReadString()
		if err != nil {
			return nil, err
		}
		set = append(set, s)
	}
	return set, nil
}

// Close closes the file. Closing a clone or slice only invalidates it.
func (in *Input) Close() error {
	if in.closed {
		return nil
	}
	in.closed = true
	in.buf = nil
	if in.closer != nil {
		return in.closer()
	}
	return nil
}
