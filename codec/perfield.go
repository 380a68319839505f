package codec

import (
	"context"
	"fmt"
	"slices"
)

// Field attributes recording per-field postings routing.
const (
	PerFieldFormatKey = "PerFieldPostingsFormat.format"
	PerFieldSuffixKey = "PerFieldPostingsFormat.suffix"
)

// PerFieldPostingsFormat routes each field to a postings format. Formats
// must be registered with RegisterPostingsFormat so segments can be read
// back.
type PerFieldPostingsFormat struct {
	Default  PostingsFormat
	PerField map[string]PostingsFormat
}

// NewPerFieldPostingsFormat returns a router that sends fields listed in
// perField to their format and everything else to def.
func NewPerFieldPostingsFormat(def PostingsFormat, perField map[string]PostingsFormat) *PerFieldPostingsFormat {
	return &PerFieldPostingsFormat{Default: def, PerField: perField}
}

func (p *PerFieldPostingsFormat) Name() string { return "PerField" }

func (p *PerFieldPostingsFormat) formatFor(field string) PostingsFormat {
	if pf, ok := p.PerField[field]; ok {
		return pf
	}
	return p.Default
}

func (p *PerFieldPostingsFormat) FieldsConsumer(_ context.Context, state *SegmentWriteState) (FieldsConsumer, error) {
	return &perFieldConsumer{p: p, state: state}, nil
}

type perFieldConsumer struct {
	p         *PerFieldPostingsFormat
	state     *SegmentWriteState
	consumers []FieldsConsumer
}

type fieldGroup struct {
	pf     PostingsFormat
	suffix string
	names  []string
}

func (c *perFieldConsumer) Write(ctx context.Context, fields Fields) error {
	// Attributes inherited from merge sources are stale.
	for _, fi := range c.state.FieldInfos.All() {
		delete(fi.Attributes, PerFieldFormatKey)
		delete(fi.Attributes, PerFieldSuffixKey)
	}

	var groups []*fieldGroup
	byFormat := make(map[string]*fieldGroup)
	for _, name := range fields.Names() {
		pf := c.p.formatFor(name)
		g, ok := byFormat[pf.Name()]
		if !ok {
			g = &fieldGroup{pf: pf, suffix: fmt.Sprintf("%s_%d", pf.Name(), 0)}
			byFormat[pf.Name()] = g
			groups = append(groups, g)
		}
		g.names = append(g.names, name)
		fi := c.state.FieldInfos.ByName(name)
		if fi == nil {
			return fmt.Errorf("codec: postings for unknown field %q", name)
		}
		fi.PutAttribute(PerFieldFormatKey, pf.Name())
		fi.PutAttribute(PerFieldSuffixKey, g.suffix)
	}

	for _, g := range groups {
		sub := *c.state
		sub.Suffix = g.suffix
		fc, err := g.pf.FieldsConsumer(ctx, &sub)
		if err != nil {
			return err
		}
		c.consumers = append(c.consumers, fc)
		if err := fc.Write(ctx, &subsetFields{Fields: fields, names: g.names}); err != nil {
			return err
		}
	}
	return nil
}

func (c *perFieldConsumer) Close() error {
	var first error
	for _, fc := range c.consumers {
		if first != nil {
			fc.Abort()
			continue
		}
		first = fc.Close()
	}
	return first
}

func (c *perFieldConsumer) Abort() {
	for _, fc := range c.consumers {
		fc.Abort()
	}
}

type subsetFields struct {
	Fields
	names []string
}

func (f *subsetFields) Names() []string { return f.names }

func (f *subsetFields) Terms(field string) (Terms, error) {
	if _, ok := slices.BinarySearch(f.names, field); !ok {
		return nil, nil
	}
	return f.Fields.Terms(field)
}

func (p *PerFieldPostingsFormat) FieldsProducer(ctx context.Context, state *SegmentReadState) (_ FieldsProducer, err error) {
	r := &perFieldProducer{
		bySuffix: make(map[string]FieldsProducer),
		byField:  make(map[string]FieldsProducer),
	}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()
	for _, fi := range state.FieldInfos.All() {
		if !fi.Indexed() {
			continue
		}
		formatName := fi.Attribute(PerFieldFormatKey)
		if formatName == "" {
			continue
		}
		suffix := fi.Attribute(PerFieldSuffixKey)
		if suffix == "" {
			return nil, Corruptf(state.Segment.Name, "field %q has postings format %q but no suffix", fi.Name, formatName)
		}
		fp, ok := r.bySuffix[suffix]
		if !ok {
			pf, err := LookupPostingsFormat(formatName)
			if err != nil {
				return nil, err
			}
			sub := *state
			sub.Suffix = suffix
			if fp, err = pf.FieldsProducer(ctx, &sub); err != nil {
				return nil, err
			}
			r.bySuffix[suffix] = fp
		}
		if _, ok := slices.BinarySearch(fp.Names(), fi.Name); ok {
			r.byField[fi.Name] = fp
		}
	}
	r.names = sortedKeys(r.byField)
	return r, nil
}

type perFieldProducer struct {
	bySuffix map[string]FieldsProducer
	byField  map[string]FieldsProducer
	names    []string
}

func (r *perFieldProducer) Names() []string { return r.names }

func (r *perFieldProducer) Terms(field string) (Terms, error) {
	fp, ok := r.byField[field]
	if !ok {
		return nil, nil
	}
	return fp.Terms(field)
}

func (r *perFieldProducer) CheckIntegrity(ctx context.Context) error {
	for _, suffix := range sortedKeys(r.bySuffix) {
		if err := r.bySuffix[suffix].CheckIntegrity(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *perFieldProducer) Close() error {
	var first error
	for _, fp := range r.bySuffix {
		if err := fp.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
