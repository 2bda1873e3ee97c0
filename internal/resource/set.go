package resource

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash"
)

// Span is a byte range a dynamic provider scanned.
type Span struct {
	Offset int
	Length int
}

// Provider computes a dynamic table from the live buffer. The returned spans
// are the bytes the answer depends on; nil means the whole buffer.
type Provider func(buf []byte) (Table, []Span, error)

type cached struct {
	table  Table
	spans  []Span
	digest uint64
}

// Set resolves every resource of one template for one session.
type Set struct {
	defs      map[string]Definition
	labels    map[string][]Label
	composed  map[string][]Part
	providers map[string]Provider
	cache     map[string]cached
	region    int
}

// NewSet builds the resolver. Composed resources are flattened here so a
// collision is reported before any session starts.
func NewSet(defs []Definition, labels map[string][]Label) (*Set, error) {
	s := &Set{
		defs:      make(map[string]Definition, len(defs)),
		labels:    labels,
		composed:  map[string][]Part{},
		providers: map[string]Provider{},
		cache:     map[string]cached{},
	}

	for _, d := range defs {
		if _, dup := s.defs[d.Name]; dup {
			return nil, fmt.Errorf("resource: duplicate %q", d.Name)
		}
		s.defs[d.Name] = d
	}

	for _, d := range defs {
		if d.Kind != Composed {
			continue
		}

		tables := make([]Table, 0, len(d.Parts))
		for _, name := range d.Parts {
			part, ok := s.defs[name]
			if !ok {
				return nil, fmt.Errorf("%w: %q composed into %q", ErrUnknown, name, d.Name)
			}
			if part.Kind != Static {
				return nil, fmt.Errorf("resource: %q composes non-static %q", d.Name, name)
			}
			tables = append(tables, part.Table)
		}

		parts, err := Compose(d.Parts, tables)
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", d.Name, err)
		}
		s.composed[d.Name] = parts
	}

	return s, nil
}

// SetRegion selects the variant index used by variant resources.
func (s *Set) SetRegion(i int) { s.region = i }

// Has reports whether a resource is defined.
func (s *Set) Has(name string) bool {
	_, ok := s.defs[name]
	return ok
}

// Names returns the defined resource names in order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.defs))
	for n := range s.defs {
		names = append(names, n)
	}
	sort.Strings(names)

	return names
}

// Provide registers the function behind a dynamic resource.
func (s *Set) Provide(name string, p Provider) error {
	d, ok := s.defs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	if d.Kind != Dynamic {
		return fmt.Errorf("resource: %q is not dynamic", name)
	}

	s.providers[name] = p
	delete(s.cache, name)

	return nil
}

// Unprovided returns dynamic resources that have no provider.
func (s *Set) Unprovided() []string {
	var out []string
	for _, n := range s.Names() {
		if s.defs[n].Kind != Dynamic {
			continue
		}
		if _, ok := s.providers[n]; !ok {
			out = append(out, n)
		}
	}

	return out
}

// Parts returns the placement of a composed resource.
func (s *Set) Parts(name string) []Part { return s.composed[name] }

// Labels returns the display headers attached to a resource.
func (s *Set) Labels(name string) []Label { return s.labels[name] }

// Invalidate drops cached dynamic tables; with no names it drops all.
func (s *Set) Invalidate(names ...string) {
	if len(names) == 0 {
		s.cache = map[string]cached{}
		return
	}
	for _, n := range names {
		delete(s.cache, n)
	}
}

// Table returns the current table of a resource.
func (s *Set) Table(name string, buf []byte) (Table, error) {
	d, ok := s.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}

	switch d.Kind {
	case Variants:
		if len(d.Variants) == 0 {
			return Table{}, nil
		}
		if s.region >= 0 && s.region < len(d.Variants) {
			return d.Variants[s.region], nil
		}
		return d.Variants[0], nil

	case Composed:
		return Flatten(s.composed[name]), nil

	case Dynamic:
		return s.dynamic(name, buf)
	}

	return d.Table, nil
}

// Label returns the label of key in a resource.
func (s *Set) Label(name string, key int, buf []byte) (string, bool, error) {
	d, ok := s.defs[name]
	if !ok {
		return "", false, fmt.Errorf("%w: %q", ErrUnknown, name)
	}

	if d.Kind == Composed {
		p, k, found := Resolve(s.composed[name], key)
		if !found {
			return "", false, nil
		}
		return p.Table[k], true, nil
	}

	t, err := s.Table(name, buf)
	if err != nil {
		return "", false, err
	}
	v, found := t[key]

	return v, found, nil
}

func (s *Set) dynamic(name string, buf []byte) (Table, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoProvider, name)
	}

	if c, hit := s.cache[name]; hit && c.digest == digest(buf, c.spans) {
		return c.table, nil
	}

	t, spans, err := p(buf)
	if err != nil {
		return nil, fmt.Errorf("resource %q: %w", name, err)
	}
	if t == nil {
		t = Table{}
	}

	s.cache[name] = cached{table: t, spans: spans, digest: digest(buf, spans)}

	return t, nil
}

// digest fingerprints the scanned ranges of buf.
func digest(buf []byte, spans []Span) uint64 {
	if spans == nil {
		return xxhash.Sum64(buf)
	}

	h := xxhash.New()
	var hdr [16]byte
	for _, sp := range spans {
		start, end := clamp(sp.Offset, len(buf)), clamp(sp.Offset+sp.Length, len(buf))
		if end < start {
			end = start
		}
		binary.LittleEndian.PutUint64(hdr[:8], uint64(start))
		binary.LittleEndian.PutUint64(hdr[8:], uint64(end))
		_, _ = h.Write(hdr[:])
		_, _ = h.Write(buf[start:end])
	}

	return h.Sum64()
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v > n {
		return n
	}

	return v
}
