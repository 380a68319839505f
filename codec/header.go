package codec

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/segdex/internal/hash"
	"github.com/hupe1980/segdex/store"
)

const (
	// CodecMagic starts every header.
	CodecMagic int32 = 0x3fd76c17
	// FooterMagic starts every footer.
	FooterMagic = ^CodecMagic
	// FooterLength is the size of a footer in bytes.
	FooterLength = 16
	// IDLength is the size of segment and commit ids.
	IDLength = 16
)

// ID identifies a segment or commit.
type ID [IDLength]byte

// WriteHeader writes magic, codec name and version.
func WriteHeader(out *store.Output, codec string, version int32) error {
	if err := out.WriteInt32(CodecMagic); err != nil {
		return err
	}
	if err := out.WriteString(codec); err != nil {
		return err
	}
	return out.WriteInt32(version)
}

// HeaderLength returns the length of a header for codec.
func HeaderLength(codec string) int {
	return 4 + uvarintLen(uint64(len(codec))) + len(codec) + 4
}

// IndexHeaderLength returns the length of an index header.
func IndexHeaderLength(codec, suffix string) int {
	return HeaderLength(codec) + IDLength + 1 + len(suffix)
}

func uvarintLen(v uint64) int {
	var buf [binary.MaxVarintLen64]byte
	return binary.PutUvarint(buf[:], v)
}

// WriteIndexHeader writes a header followed by the segment id and a short
// suffix. suffix must be shorter than 256 bytes.
func WriteIndexHeader(out *store.Output, codec string, version int32, id ID, suffix string) error {
	if len(suffix) > 255 {
		return fmt.Errorf("codec: suffix %q too long", suffix)
	}
	if err := WriteHeader(out, codec, version); err != nil {
		return err
	}
	if err := out.WriteBytes(id[:]); err != nil {
		return err
	}
	if err := out.WriteByte(byte(len(suffix))); err != nil {
		return err
	}
	return out.WriteBytes([]byte(suffix))
}

// CheckHeader reads and validates a header and returns the version.
func CheckHeader(in *store.Input, codec string, minVersion, maxVersion int32) (int32, error) {
	magic, err := in.ReadInt32()
	if err != nil {
		return 0, WrapReadError(in.Name(), err)
	}
	if magic != CodecMagic {
		return 0, Corruptf(in.Name(), "codec header mismatch: got %#x, want %#x", uint32(magic), uint32(CodecMagic))
	}
	return checkHeaderNoMagic(in, codec, minVersion, maxVersion)
}

func checkHeaderNoMagic(in *store.Input, codec string, minVersion, maxVersion int32) (int32, error) {
	name, err := in.ReadString()
	if err != nil {
		return 0, WrapReadError(in.Name(), err)
	}
	if name != codec {
		return 0, Corruptf(in.Name(), "codec mismatch: got %q, want %q", name, codec)
	}
	version, err := in.ReadInt32()
	if err != nil {
		return 0, WrapReadError(in.Name(), err)
	}
	if version < minVersion {
		return 0, fmt.Errorf("%w: %s version %d, min %d", ErrIndexFormatTooOld, in.Name(), version, minVersion)
	}
	if version > maxVersion {
		return 0, fmt.Errorf("%w: %s version %d, max %d", ErrIndexFormatTooNew, in.Name(), version, maxVersion)
	}
	return version, nil
}

// CheckIndexHeader validates an index header against the expected id and
// suffix and returns the version.
func CheckIndexHeader(in *store.Input, codec string, minVersion, maxVersion int32, id ID, suffix string) (int32, error) {
	version, err := CheckHeader(in, codec, minVersion, maxVersion)
	if err != nil {
		return 0, err
	}
	var got ID
	if err := in.ReadBytes(got[:]); err != nil {
		return 0, WrapReadError(in.Name(), err)
	}
	if got != id {
		return 0, Corruptf(in.Name(), "segment id mismatch: got %x, want %x", got, id)
	}
	n, err := in.ReadByte()
	if err != nil {
		return 0, WrapReadError(in.Name(), err)
	}
	buf := make([]byte, n)
	if err := in.ReadBytes(buf); err != nil {
		return 0, WrapReadError(in.Name(), err)
	}
	if string(buf) != suffix {
		return 0, Corruptf(in.Name(), "suffix mismatch: got %q, want %q", buf, suffix)
	}
	return version, nil
}

// WriteFooter writes the footer. The checksum covers every byte before it.
func WriteFooter(out *store.Output) error {
	if err := out.WriteInt32(FooterMagic); err != nil {
		return err
	}
	if err := out.WriteInt32(0); err != nil {
		return err
	}
	return out.WriteInt64(int64(out.Checksum()))
}

// parseFooter validates footer structure and returns the stored checksum.
func parseFooter(resource string, footer []byte) (uint32, error) {
	magic := binary.BigEndian.Uint32(footer)
	if want := FooterMagic; int32(magic) != want {
		return 0, Corruptf(resource, "codec footer mismatch: got %#x, want %#x", magic, uint32(want))
	}
	if alg := int32(binary.BigEndian.Uint32(footer[4:])); alg != 0 {
		return 0, Corruptf(resource, "unknown checksum algorithm %d", alg)
	}
	sum := binary.BigEndian.Uint64(footer[8:])
	if sum>>32 != 0 {
		return 0, Corruptf(resource, "illegal checksum %#x", sum)
	}
	return uint32(sum), nil
}

// RetrieveChecksum validates the footer structure and returns the stored
// checksum without reading the file body.
func RetrieveChecksum(in *store.Input) (uint32, error) {
	if in.Length() < FooterLength {
		return 0, Corruptf(in.Name(), "file too short (%d bytes) to contain a footer", in.Length())
	}
	var footer [FooterLength]byte
	if _, err := in.ReadAt(footer[:], in.Length()-FooterLength); err != nil {
		return 0, WrapReadError(in.Name(), err)
	}
	return parseFooter(in.Name(), footer[:])
}

// ChecksumEntireFile reads the whole file and verifies the footer checksum.
// It returns the checksum.
func ChecksumEntireFile(in *store.Input) (uint32, error) {
	want, err := RetrieveChecksum(in)
	if err != nil {
		return 0, err
	}
	h := hash.NewCRC32C()
	buf := make([]byte, 64<<10)
	remaining := in.Length() - 8
	for off := int64(0); remaining > 0; {
		n := min(int64(len(buf)), remaining)
		if _, err := in.ReadAt(buf[:n], off); err != nil {
			return 0, WrapReadError(in.Name(), err)
		}
		_, _ = h.Write(buf[:n])
		off += n
		remaining -= n
	}
	if got := h.Sum32(); got != want {
		return 0, Corruptf(in.Name(), "checksum failed: actual %#08x, expected %#08x", got, want)
	}
	return want, nil
}

// VerifyBytes verifies the footer of an in-memory file and returns the body
// without the footer.
func VerifyBytes(resource string, data []byte) ([]byte, error) {
	if len(data) < FooterLength {
		return nil, Corruptf(resource, "file too short (%d bytes) to contain a footer", len(data))
	}
	want, err := parseFooter(resource, data[len(data)-FooterLength:])
	if err != nil {
		return nil, err
	}
	if got := hash.CRC32C(data[:len(data)-8]); got != want {
		return nil, Corruptf(resource, "checksum failed: actual %#08x, expected %#08x", got, want)
	}
	return data[:len(data)-FooterLength], nil
}

// OpenVerified reads a whole file, verifies its checksum and returns an
// Input over everything except the footer. It is meant for small metadata
// files, which are always verified on open.
func OpenVerified(ctx context.Context, dir store.Directory, name string) (*store.Input, error) {
	data, err := store.ReadFile(ctx, dir, name)
	if err != nil {
		return nil, err
	}
	body, err := VerifyBytes(name, data)
	if err != nil {
		return nil, err
	}
	return store.NewBytesInput(name, body), nil
}

// CheckEOF returns a CorruptError unless in was consumed exactly.
func CheckEOF(in *store.Input) error {
	if in.FilePointer() != in.Length() {
		return Corruptf(in.Name(), "did not read all bytes: position %d, length %d", in.FilePointer(), in.Length())
	}
	return nil
}
