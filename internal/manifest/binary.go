package manifest

import (
	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/store"
)

const (
	codecName = "Segments"
	// CurrentVersion is the version of the commit format.
	CurrentVersion = 1
)

// write encodes the commit followed by a footer.
func (c *Commit) write(out *store.Output) error {
	if err := codec.WriteHeader(out, codecName, CurrentVersion); err != nil {
		return err
	}
	if err := out.WriteBytes(c.ID[:]); err != nil {
		return err
	}
	if err := out.WriteVLong(c.Generation); err != nil {
		return err
	}
	if err := out.WriteVLong(c.Version); err != nil {
		return err
	}
	if err := out.WriteVLong(c.Counter); err != nil {
		return err
	}
	if err := out.WriteVInt(int32(len(c.Segments))); err != nil {
		return err
	}
	for _, s := range c.Segments {
		if err := out.WriteString(s.Name); err != nil {
			return err
		}
		if err := out.WriteBytes(s.ID[:]); err != nil {
			return err
		}
		if err := out.WriteString(s.Codec); err != nil {
			return err
		}
		if err := out.WriteVLong(s.DelGen + 1); err != nil {
			return err
		}
		if err := out.WriteVInt(int32(s.DelCount)); err != nil {
			return err
		}
	}
	if err := out.WriteStringMap(c.UserData); err != nil {
		return err
	}
	return codec.WriteFooter(out)
}

// decode parses a verified commit file.
func decode(name string, data []byte) (*Commit, error) {
	body, err := codec.VerifyBytes(name, data)
	if err != nil {
		return nil, err
	}
	in := store.NewBytesInput(name, body)
	if _, err := codec.CheckHeader(in, codecName, CurrentVersion, CurrentVersion); err != nil {
		return nil, err
	}
	c, err := readCommit(in)
	if err != nil {
		return nil, codec.WrapReadError(name, err)
	}
	want, err := codec.GenerationFromSegmentsFileName(name)
	if err == nil && want != c.Generation {
		return nil, codec.Corruptf(name, "file holds generation %d", c.Generation)
	}
	if err := codec.CheckEOF(in); err != nil {
		return nil, err
	}
	return c, nil
}

func readCommit(in *store.Input) (*Commit, error) {
	c := &Commit{}
	var err error
	if err = in.ReadBytes(c.ID[:]); err != nil {
		return nil, err
	}
	if c.Generation, err = in.ReadVLong(); err != nil {
		return nil, err
	}
	if c.Version, err = in.ReadVLong(); err != nil {
		return nil, err
	}
	if c.Counter, err = in.ReadVLong(); err != nil {
		return nil, err
	}
	n, err := in.ReadVInt()
	if err != nil {
		return nil, err
	}
	if n < 0 || int64(n) > in.Length() {
		return nil, codec.Corruptf(in.Name(), "invalid segment count %d", n)
	}
	c.Segments = make([]SegmentEntry, n)
	for i := range c.Segments {
		s := &c.Segments[i]
		if s.Name, err = in.ReadString(); err != nil {
			return nil, err
		}
		if err = in.ReadBytes(s.ID[:]); err != nil {
			return nil, err
		}
		if s.Codec, err = in.ReadString(); err != nil {
			return nil, err
		}
		delGen, err := in.ReadVLong()
		if err != nil {
			return nil, err
		}
		s.DelGen = delGen - 1
		delCount, err := in.ReadVInt()
		if err != nil {
			return nil, err
		}
		if delCount < 0 || (s.DelGen < 0 && delCount > 0) {
			return nil, codec.Corruptf(in.Name(), "segment %s: invalid deletion count %d", s.Name, delCount)
		}
		s.DelCount = int(delCount)
	}
	if c.UserData, err = in.ReadStringMap(); err != nil {
		return nil, err
	}
	return c, nil
}
