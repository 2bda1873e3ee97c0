package template

import (
	"fmt"
	"sort"

	"github.com/woozymasta/savetpl/internal/checksum"
	"github.com/woozymasta/savetpl/internal/codec"
	"github.com/woozymasta/savetpl/internal/pipeline"
	"github.com/woozymasta/savetpl/internal/resource"
	"github.com/woozymasta/savetpl/internal/validator"
)

// builder converts a decoded document into a Template, checking every
// configuration rule on the way.
type builder struct {
	t     *Template
	ids   map[string]Item
	names map[string]bool // resources
}

func build(doc jsonDocument) (*Template, error) {
	b := &builder{
		t: &Template{
			Name:           doc.Name,
			ResourceLabels: map[string][]resource.Label{},
			Alphabets:      map[string]*codec.Alphabet{},
		},
		ids:   map[string]Item{},
		names: map[string]bool{},
	}

	if err := b.validator(doc.Validator); err != nil {
		return nil, err
	}
	if err := b.alphabets(doc.Alphabets); err != nil {
		return nil, err
	}
	if err := b.resources(doc.Resources, doc.ResourceLabels); err != nil {
		return nil, err
	}

	items, err := b.items(doc.Items, "items")
	if err != nil {
		return nil, err
	}
	b.t.Items = items

	if err := b.references(); err != nil {
		return nil, err
	}

	return b.t, nil
}

func invalid(path, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, path, fmt.Sprintf(format, args...))
}

func (b *builder) validator(rv rawValidator) error {
	v := validator.Validator{Prompt: rv.Prompt, Error: rv.Error}
	for i, rr := range rv.Regions {
		if rr.Name == "" {
			return invalid(fmt.Sprintf("validator.regions[%d]", i), "region without name")
		}
		if _, _, dup := v.Region(rr.Name); dup {
			return invalid("validator", "duplicate region %q", rr.Name)
		}

		r := validator.Region{Name: rr.Name}
		for _, rs := range rr.Signatures {
			if rs.Offset < 0 {
				return invalid("validator."+rr.Name, "negative signature offset")
			}
			bs, err := rs.bytes()
			if err != nil {
				return invalid("validator."+rr.Name, "%v", err)
			}
			r.Signatures = append(r.Signatures, validator.Signature{Offset: rs.Offset, Bytes: bs})
		}
		v.Regions = append(v.Regions, r)
	}
	b.t.Validator = v

	return nil
}

func (b *builder) alphabets(raw map[string]rawAlphabet) error {
	for name, ra := range raw {
		if ra.Pad < 0 || ra.Pad > 0xFF {
			return invalid("alphabets."+name, "pad 0x%X is not a byte", ra.Pad)
		}

		table := make(map[int]string, len(ra.Codes))
		for k, v := range ra.Codes {
			code, err := parseKey(k)
			if err != nil {
				return invalid("alphabets."+name, "%v", err)
			}
			table[code] = v
		}

		a, err := codec.NewAlphabet(name, table, byte(ra.Pad))
		if err != nil {
			return invalid("alphabets."+name, "%v", err)
		}
		b.t.Alphabets[name] = a
	}

	return nil
}

func (b *builder) resources(raw map[string]rawResource, labels map[string][]rawLabel) error {
	names := make([]string, 0, len(raw))
	for n := range raw {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		rr := raw[name]
		path := "resources." + name

		forms := 0
		for _, set := range []bool{rr.Values != nil, rr.Variants != nil, rr.Compose != nil, rr.Dynamic} {
			if set {
				forms++
			}
		}
		if forms > 1 {
			return invalid(path, "more than one of values, variants, compose, dynamic")
		}

		d := resource.Definition{Name: name}
		switch {
		case rr.Dynamic:
			d.Kind = resource.Dynamic
		case rr.Compose != nil:
			d.Kind = resource.Composed
			d.Parts = rr.Compose
		case rr.Variants != nil:
			d.Kind = resource.Variants
			for i, m := range rr.Variants {
				t, err := table(m)
				if err != nil {
					return invalid(fmt.Sprintf("%s.variants[%d]", path, i), "%v", err)
				}
				d.Variants = append(d.Variants, t)
			}
		default:
			t, err := table(rr.Values)
			if err != nil {
				return invalid(path, "%v", err)
			}
			d.Table = t
		}

		b.t.Resources = append(b.t.Resources, d)
		b.names[name] = true
	}

	for name, ls := range labels {
		if !b.names[name] {
			return invalid("resourceLabels."+name, "unknown resource")
		}
		for _, l := range ls {
			if l.End < l.Start {
				return invalid("resourceLabels."+name, "label %q ends before it starts", l.Text)
			}
			b.t.ResourceLabels[name] = append(b.t.ResourceLabels[name], resource.Label(l))
		}
	}

	// catches unknown parts and composed key collisions
	if _, err := resource.NewSet(b.t.Resources, b.t.ResourceLabels); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	return nil
}

func table(m map[string]string) (resource.Table, error) {
	t := make(resource.Table, len(m))
	for k, v := range m {
		key, err := parseKey(k)
		if err != nil {
			return nil, err
		}
		t[key] = v
	}

	return t, nil
}

func (b *builder) items(raw []*rawItem, path string) ([]Item, error) {
	out := make([]Item, 0, len(raw))
	for i, r := range raw {
		p := fmt.Sprintf("%s[%d]", path, i)
		if r == nil {
			return nil, invalid(p, "empty item")
		}
		if r.ID != "" {
			p += "(" + r.ID + ")"
		}

		it, err := b.item(r, p)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}

	return out, nil
}

func (b *builder) common(r *rawItem, path string) (Common, error) {
	c := Common{
		ID:       r.ID,
		Name:     r.Name,
		Hidden:   r.Hidden,
		Disabled: r.Disabled,
		Offset:   r.Offset,
		Length:   r.Length,
	}
	if c.Offset < 0 {
		return c, invalid(path, "negative offset")
	}
	if c.Length < 0 {
		return c, invalid(path, "negative length")
	}

	return c, nil
}

func (b *builder) register(it Item, path string) error {
	id := it.Base().ID
	if id == "" {
		return nil
	}
	if _, dup := b.ids[id]; dup {
		return invalid(path, "duplicate id %q", id)
	}
	b.ids[id] = it

	return nil
}

func (b *builder) item(r *rawItem, path string) (Item, error) {
	c, err := b.common(r, path)
	if err != nil {
		return nil, err
	}

	var it Item
	switch r.Type {
	case "section":
		items, err := b.items(r.Items, path+".items")
		if err != nil {
			return nil, err
		}
		it = &Section{Common: c, Items: items}

	case "tab":
		items, err := b.items(r.Items, path+".items")
		if err != nil {
			return nil, err
		}
		it = &Tab{Common: c, Items: items}

	case "tabs":
		items, err := b.items(r.Items, path+".items")
		if err != nil {
			return nil, err
		}
		tabs := &Tabs{Common: c}
		for _, child := range items {
			tab, ok := child.(*Tab)
			if !ok {
				return nil, invalid(path, "tabs may only hold tab items, got %s", TypeName(child))
			}
			tabs.Tabs = append(tabs.Tabs, tab)
		}
		it = tabs

	case "container":
		it, err = b.container(r, c, path)

	case "variable":
		it, err = b.variable(r, c, path)

	case "bitflags":
		it, err = b.bitflags(r, c, path)

	case "checksum":
		it, err = b.checksum(r, c, path)

	case "group":
		it, err = b.group(r, c, path)

	default:
		return nil, invalid(path, "unknown item type %q", r.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := b.register(it, path); err != nil {
		return nil, err
	}

	return it, nil
}

func (b *builder) container(r *rawItem, c Common, path string) (Item, error) {
	if c.Length <= 0 {
		return nil, invalid(path, "container stride must be positive")
	}
	if r.Instances <= 0 {
		return nil, invalid(path, "container needs at least one instance")
	}

	items, err := b.items(r.Items, path+".items")
	if err != nil {
		return nil, err
	}
	prepend, err := b.items(r.Prepend, path+".prependSubinstance")
	if err != nil {
		return nil, err
	}
	appended, err := b.items(r.Append, path+".appendSubinstance")
	if err != nil {
		return nil, err
	}

	if start, end := Footprint(items); end-start > c.Length {
		return nil, invalid(path, "instance fields span [0x%X,0x%X), wider than stride 0x%X", start, end, c.Length)
	}

	ct := &Container{Common: c, Instances: r.Instances, Items: items, Prepend: prepend, Append: appended}
	if r.DisableIf != nil {
		cond := &Condition{
			Offset:   r.DisableIf.Offset,
			DataType: codec.DataType(r.DisableIf.DataType),
			Bit:      r.DisableIf.Bit,
			Operator: r.DisableIf.Operator,
			Value:    r.DisableIf.Value,
		}
		if err := cond.check(); err != nil {
			return nil, invalid(path+".disableSubinstanceIf", "%v", err)
		}
		ct.DisableIf = cond
	}

	return ct, nil
}

func (b *builder) variable(r *rawItem, c Common, path string) (*Variable, error) {
	v := &Variable{
		Common:    c,
		DataType:  codec.DataType(r.DataType),
		Bit:       r.Bit,
		BigEndian: r.BigEndian,
		Nibble:    r.Nibble,
		Alphabet:  r.Alphabet,
		Resource:  r.Resource,
		Min:       r.Min,
		Max:       r.Max,
	}
	if r.Binary != nil {
		v.Binary = &Binary{BitStart: r.Binary.BitStart, BitLength: r.Binary.BitLength}
		if v.Binary.BitLength <= 0 {
			return nil, invalid(path, "binary bitLength must be positive")
		}
	}

	d, err := codec.Lookup(v.DataType)
	if err != nil {
		return nil, invalid(path, "%v", err)
	}
	if err := v.Options().Check(d); err != nil {
		return nil, invalid(path, "%v", err)
	}

	if d.Kind == codec.KindString {
		if _, err := b.t.Alphabet(v.Alphabet); err != nil {
			return nil, invalid(path, "unknown alphabet %q", v.Alphabet)
		}
	} else if v.Alphabet != "" {
		return nil, invalid(path, "alphabet on non-string %s", v.DataType)
	}

	for _, op := range r.Operations {
		v.Operations = append(v.Operations, pipeline.Operation{
			Op:        pipeline.Op(op.Op),
			Value:     op.Value,
			Precision: op.Precision,
			From:      pipeline.Unit(op.From),
			To:        pipeline.Unit(op.To),
		})
	}
	if err := pipeline.Validate(v.Operations); err != nil {
		return nil, invalid(path, "%v", err)
	}

	if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
		return nil, invalid(path, "min %v above max %v", *v.Min, *v.Max)
	}
	if v.Resource != "" && !b.names[v.Resource] {
		return nil, invalid(path, "unknown resource %q", v.Resource)
	}
	if r.OverrideShift != nil {
		v.OverrideShift = []Shift{{Parent: r.OverrideShift.Parent, Shift: r.OverrideShift.Shift}}
	}

	return v, nil
}

func (b *builder) bitflags(r *rawItem, c Common, path string) (Item, error) {
	bf := &Bitflags{Common: c}
	for i, f := range r.Flags {
		if f.Bit < 0 || f.Bit > 7 {
			return nil, invalid(fmt.Sprintf("%s.flags[%d]", path, i), "bit %d outside [0,7]", f.Bit)
		}
		if f.Offset < 0 {
			return nil, invalid(fmt.Sprintf("%s.flags[%d]", path, i), "negative offset")
		}
		bf.Flags = append(bf.Flags, Flag(f))
	}

	return bf, nil
}

func (b *builder) checksum(r *rawItem, c Common, path string) (Item, error) {
	if r.Control == nil {
		return nil, invalid(path, "checksum without control range")
	}

	cs := &Checksum{
		Common:    c,
		Control:   Control{OffsetStart: r.Control.OffsetStart, OffsetEnd: r.Control.OffsetEnd},
		Width:     r.Width,
		Algorithm: r.Algorithm,
		Step:      r.Step,
		BigEndian: r.BigEndian,
	}
	if cs.Width == 0 {
		cs.Width = 16
	}

	if err := cs.Spec(0).Check(); err != nil {
		return nil, invalid(path, "%v", err)
	}
	if c.Offset < cs.Control.OffsetEnd && c.Offset+cs.Size() > cs.Control.OffsetStart {
		return nil, invalid(path, "stored at 0x%X inside its own range [0x%X,0x%X)",
			c.Offset, cs.Control.OffsetStart, cs.Control.OffsetEnd)
	}

	if r.Salt != nil {
		if r.Salt.Type != "" && r.Salt.Type != "variable" {
			return nil, invalid(path+".salt", "salt must be a variable")
		}
		sc, err := b.common(r.Salt, path+".salt")
		if err != nil {
			return nil, err
		}
		salt, err := b.variable(r.Salt, sc, path+".salt")
		if err != nil {
			return nil, err
		}
		if err := b.register(salt, path+".salt"); err != nil {
			return nil, err
		}
		cs.Salt = salt
	}
	if r.OverrideShift != nil {
		cs.OverrideShift = []Shift{{Parent: r.OverrideShift.Parent, Shift: r.OverrideShift.Shift}}
	}

	return cs, nil
}

// Spec returns the checksum engine declaration with the range moved to base.
func (c *Checksum) Spec(base int) checksum.Spec {
	return checksum.Spec{
		Start:     base + c.Control.OffsetStart,
		End:       base + c.Control.OffsetEnd,
		Width:     c.Width,
		Step:      c.Step,
		BigEndian: c.BigEndian,
		Algorithm: c.Algorithm,
	}
}

func (b *builder) group(r *rawItem, c Common, path string) (Item, error) {
	g := &Group{Common: c, Kind: r.Kind}

	for i, child := range r.Items {
		p := fmt.Sprintf("%s.items[%d]", path, i)
		if child == nil || (child.Type != "" && child.Type != "variable") {
			return nil, invalid(p, "group members must be variables")
		}
		cc, err := b.common(child, p)
		if err != nil {
			return nil, err
		}
		v, err := b.variable(child, cc, p)
		if err != nil {
			return nil, err
		}
		if err := b.register(v, p); err != nil {
			return nil, err
		}
		g.Items = append(g.Items, v)
	}

	switch g.Kind {
	case GroupTime:
		if len(g.Items) < 2 || len(g.Items) > 3 {
			return nil, invalid(path, "time group needs 2 or 3 variables, got %d", len(g.Items))
		}
	case GroupFraction:
		if len(g.Items) != 2 {
			return nil, invalid(path, "fraction group needs 2 variables, got %d", len(g.Items))
		}
	default:
		return nil, invalid(path, "unknown group kind %q", g.Kind)
	}

	return g, nil
}

// references checks cross-item links once every id is known.
func (b *builder) references() error {
	check := func(owner string, shifts []Shift) error {
		for _, s := range shifts {
			parent, ok := b.ids[s.Parent]
			if !ok {
				return invalid(owner, "overrideShift parent %q not found", s.Parent)
			}
			if _, ok := parent.(*Variable); !ok {
				return invalid(owner, "overrideShift parent %q is a %s", s.Parent, TypeName(parent))
			}
		}
		return nil
	}

	return Walk(b.t.Items, func(it Item) error {
		switch v := it.(type) {
		case *Variable:
			return check(v.ID, v.OverrideShift)
		case *Checksum:
			return check(v.ID, v.OverrideShift)
		}
		return nil
	})
}

// Footprint returns the byte range [start, end) touched by items, relative
// to their common base. Empty lists return (0, 0).
func Footprint(items []Item) (int, int) {
	if len(items) == 0 {
		return 0, 0
	}

	start, end := Start(items[0]), Extent(items[0])
	for _, it := range items[1:] {
		start = min(start, Start(it))
		end = max(end, Extent(it))
	}

	return start, end
}

// Start returns the first byte an item touches, relative to the base its own
// offset is measured from.
func Start(it Item) int {
	c := it.Base()

	switch v := it.(type) {
	case *Variable:
		d, err := codec.Lookup(v.DataType)
		if err != nil {
			return c.Offset
		}
		off, _ := codec.Span(d, c.Offset, v.Options())
		return off

	case *Bitflags:
		if len(v.Flags) == 0 {
			return c.Offset
		}
		first := v.Flags[0].Offset
		for _, f := range v.Flags[1:] {
			first = min(first, f.Offset)
		}
		return c.Offset + first

	case *Checksum:
		first := min(c.Offset, v.Control.OffsetStart)
		if v.Salt != nil {
			first = min(first, Start(v.Salt))
		}
		return first

	case *Container:
		first, _ := Footprint(v.Items)
		if len(v.Prepend) > 0 {
			p, _ := Footprint(v.Prepend)
			first = min(first, p)
		}
		return c.Offset + first
	}

	children := Children(it)
	if len(children) == 0 {
		return c.Offset
	}
	first, _ := Footprint(children)

	return c.Offset + first
}

// Extent returns the end of the bytes an item touches, relative to the base
// its own offset is measured from.
func Extent(it Item) int {
	c := it.Base()

	switch v := it.(type) {
	case *Variable:
		d, err := codec.Lookup(v.DataType)
		if err != nil {
			return c.Offset
		}
		off, n := codec.Span(d, c.Offset, v.Options())
		return off + n

	case *Bitflags:
		end := c.Offset
		for _, f := range v.Flags {
			end = max(end, c.Offset+f.Offset+1)
		}
		return end

	case *Checksum:
		end := max(c.Offset+v.Size(), v.Control.OffsetEnd)
		if v.Salt != nil {
			end = max(end, Extent(v.Salt))
		}
		return end

	case *Container:
		_, end := Footprint(v.Items)
		end += (v.Instances - 1) * v.Length
		if len(v.Prepend) > 0 {
			_, p := Footprint(v.Prepend)
			end = max(end, p)
		}
		if len(v.Append) > 0 {
			_, a := Footprint(v.Append)
			end = max(end, v.Instances*v.Length+a)
		}
		return c.Offset + end
	}

	end := c.Offset
	for _, child := range Children(it) {
		end = max(end, c.Offset+Extent(child))
	}

	return end
}
