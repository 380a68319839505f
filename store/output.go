package store

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sort"

	"github.com/hupe1980/segdex/internal/hash"
	"github.com/hupe1980/segdex/internal/resource"
)

const outputBufferSize = 8 << 10

// Output is a buffered, write-once file writer that keeps a running CRC32-C
// of everything written.
type Output struct {
	name   string
	w      io.WriteCloser
	buf    []byte
	pos    int64
	crc    uint32
	closed bool

	// onClose runs after the underlying writer closed successfully.
	onClose func(size int64) error
	// onAbort runs when the output is abandoned.
	onAbort func()

	ctx context.Context
	rc  *resource.Controller
}

func newOutput(name string, w io.WriteCloser) *Output {
	return &Output{
		name: name,
		w:    w,
		buf:  make([]byte, 0, outputBufferSize),
	}
}

// NewOutput wraps w as an Output. It is used by directories outside this
// package and by tests.
func NewOutput(name string, w io.WriteCloser) *Output {
	return newOutput(name, w)
}

// throttle rate limits buffer flushes through rc.
func (o *Output) throttle(ctx context.Context, rc *resource.Controller) {
	o.ctx, o.rc = ctx, rc
}

// Name returns the file name.
func (o *Output) Name() string { return o.name }

// FilePointer returns the number of bytes written so far.
func (o *Output) FilePointer() int64 { return o.pos }

// Checksum returns the CRC32-C of all bytes written so far.
func (o *Output) Checksum() uint32 { return o.crc }

func (o *Output) Write(p []byte) (int, error) {
	if o.closed {
		return 0, ErrClosed
	}
	o.crc = hash.UpdateCRC32C(o.crc, p)
	o.pos += int64(len(p))

	if len(o.buf)+len(p) <= cap(o.buf) {
		o.buf = append(o.buf, p...)
		return len(p), nil
	}
	if err := o.flush(); err != nil {
		return 0, err
	}
	if len(p) >= cap(o.buf) {
		if err := o.writeThrough(p); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	o.buf = append(o.buf, p...)
	return len(p), nil
}

// WriteByte writes a single byte.
func (o *Output) WriteByte(b byte) error {
	if o.closed {
		return ErrClosed
	}
	if len(o.buf) == cap(o.buf) {
		if err := o.flush(); err != nil {
			return err
		}
	}
	o.buf = append(o.buf, b)
	o.crc = hash.UpdateCRC32C(o.crc, o.buf[len(o.buf)-1:])
	o.pos++
	return nil
}

// WriteBytes writes p.
func (o *Output) WriteBytes(p []byte) error {
	_, err := o.Write(p)
	return err
}

// WriteInt32 writes v as 4 big-endian bytes.
func (o *Output) WriteInt32(v int32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return o.WriteBytes(b[:])
}

// WriteInt64 writes v as 8 big-endian bytes.
func (o *Output) WriteInt64(v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return o.WriteBytes(b[:])
}

// WriteVInt writes v as a variable-length integer of 7-bit groups. Negative
// values take five bytes.
func (o *Output) WriteVInt(v int32) error {
	var b [binary.MaxVarintLen32]byte
	n := binary.PutUvarint(b[:], uint64(uint32(v)))
	return o.WriteBytes(b[:n])
}

// WriteVLong writes a non-negative v as a variable-length integer.
func (o *Output) WriteVLong(v int64) error {
	if v < 0 {
		return errors.New("store: negative vlong")
	}
	var b [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(b[:], uint64(v))
	return o.WriteBytes(b[:n])
}

// WriteString writes a length-prefixed UTF-8 string.
func (o *Output) WriteString(s string) error {
	if err := o.WriteVInt(int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(o, s)
	return err
}

// WriteStringMap writes m with keys in sorted order.
func (o *Output) WriteStringMap(m map[string]string) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if err := o.WriteVInt(int32(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if err := o.WriteString(k); err != nil {
			return err
		}
		if err := o.WriteString(m[k]); err != nil {
			return err
		}
	}
	return nil
}

// WriteStringSet writes the strings in sorted order.
func (o *Output) WriteStringSet(set []string) error {
	sorted := append([]string(nil), set...)
	sort.Strings(sorted)
	if err := o.WriteVInt(int32(len(sorted))); err != nil {
		return err
	}
	for _, s := range sorted {
		if err := o.WriteString(s); err != nil {
			return err
		}
	}
	return nil
}

func (o *Output) flush() error {
	if len(o.buf) == 0 {
		return nil
	}
	err := o.writeThrough(o.buf)
	o.buf = o.buf[:0]
	return err
}

func (o *Output) writeThrough(p []byte) error {
	if o.rc != nil {
		if err := o.rc.AcquireIO(o.ctx, len(p)); err != nil {
			return err
		}
	}
	_, err := o.w.Write(p)
	return err
}

// Close flushes and closes the file, making it visible.
func (o *Output) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	if err := o.flush(); err != nil {
		_ = o.w.Close()
		if o.onAbort != nil {
			o.onAbort()
		}
		return err
	}
	if err := o.w.Close(); err != nil {
		if o.onAbort != nil {
			o.onAbort()
		}
		return err
	}
	if o.onClose != nil {
		return o.onClose(o.pos)
	}
	return nil
}

// Abort closes the output without publishing buffered data. Whatever reached
// the underlying file stays there; callers delete the file afterwards.
func (o *Output) Abort() {
	if o.closed {
		return
	}
	o.closed = true
	if a, ok := o.w.(interface{ Abort() error }); ok {
		_ = a.Abort()
	} else {
		_ = o.w.Close()
	}
	if o.onAbort != nil {
		o.onAbort()
	}
}
