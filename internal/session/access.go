package session

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/woozymasta/savetpl/internal/codec"
	"github.com/woozymasta/savetpl/internal/hooks"
	"github.com/woozymasta/savetpl/internal/layout"
	"github.com/woozymasta/savetpl/internal/pipeline"
	"github.com/woozymasta/savetpl/internal/template"
)

// scalar returns the codec view of an integer-valued node.
func scalar(n *layout.Node) (codec.DataType, codec.Options, error) {
	switch v := n.Item.(type) {
	case *template.Variable:
		if v.DataType == codec.String {
			return "", codec.Options{}, fmt.Errorf("%w: %s is a string", ErrKind, n.Key)
		}
		return v.DataType, v.Options(), nil

	case *template.Checksum:
		return v.DataType(), codec.Options{BigEndian: v.BigEndian}, nil
	}

	return "", codec.Options{}, fmt.Errorf("%w: %s is a %s", ErrKind, n.Key, template.TypeName(n.Item))
}

func shiftsOf(it template.Item) []template.Shift {
	switch v := it.(type) {
	case *template.Variable:
		return v.OverrideShift
	case *template.Checksum:
		return v.OverrideShift
	}

	return nil
}

// offset resolves the absolute offset of a node, running its Shift hook and
// reading shift parents through their own hooks.
func (s *Session) offset(n *layout.Node) (int, error) {
	shifts := shiftsOf(n.Item)

	if b := s.hooks.Bundle(n.ID()); b != nil && b.Shift != nil {
		in := append([]template.Shift(nil), shifts...)
		err := hooks.Call(n.ID(), hooks.PhaseShift, func() error {
			var err error
			shifts, err = b.Shift(s.context(n), in)
			return err
		})
		if err != nil {
			s.hookFailed(err)
			return 0, err
		}
	}
	if len(shifts) == 0 {
		return n.Offset(), nil
	}

	if s.resolving[n] {
		return 0, fmt.Errorf("%w: %s", layout.ErrShiftCycle, n.Key)
	}
	s.resolving[n] = true
	defer delete(s.resolving, n)

	return s.tree.Resolve(n, shifts, s.getInt)
}

// getInt reads a raw integer, letting the GetInt hook answer first.
func (s *Session) getInt(n *layout.Node) (int64, error) {
	if b := s.hooks.Bundle(n.ID()); b != nil && b.GetInt != nil {
		var (
			v       int64
			handled bool
		)
		err := hooks.Call(n.ID(), hooks.PhaseGetInt, func() error {
			var err error
			v, handled, err = b.GetInt(s.context(n))
			return err
		})
		if err != nil {
			s.hookFailed(err)
			return 0, err
		}
		if handled {
			return v, nil
		}
	}

	return s.rawGet(n)
}

func (s *Session) rawGet(n *layout.Node) (int64, error) {
	dt, o, err := scalar(n)
	if err != nil {
		return 0, err
	}
	off, err := s.offset(n)
	if err != nil {
		return 0, err
	}

	return codec.ReadInt(s.buf, off, dt, o)
}

// setInt writes a raw integer through the SetInt and AfterSetInt hooks.
func (s *Session) setInt(n *layout.Node, v int64) error {
	b := s.hooks.Bundle(n.ID())

	handled := false
	if b != nil && b.SetInt != nil {
		err := hooks.Call(n.ID(), hooks.PhaseSetInt, func() error {
			var err error
			handled, err = b.SetInt(s.context(n), v)
			return err
		})
		if err != nil {
			s.hookFailed(err)
			return err
		}
	}
	if !handled {
		if err := s.rawSet(n, v); err != nil {
			return err
		}
	}

	return s.afterSet(n, b, hooks.SetEvent{Value: v})
}

func (s *Session) rawSet(n *layout.Node, v int64) error {
	dt, o, err := scalar(n)
	if err != nil {
		return err
	}
	off, err := s.offset(n)
	if err != nil {
		return err
	}
	d, err := codec.Lookup(dt)
	if err != nil {
		return err
	}

	start, size := codec.Span(d, off, o)
	return s.write(n.Key, start, size, func() error {
		return codec.WriteInt(s.buf, off, dt, v, o)
	})
}

// afterSet drops the hook's dynamic resources and runs AfterSetInt. The
// write itself is kept when the hook fails.
func (s *Session) afterSet(n *layout.Node, b *hooks.Bundle, ev hooks.SetEvent) error {
	if b == nil {
		return nil
	}
	if len(b.Invalidates) > 0 {
		s.res.Invalidate(b.Invalidates...)
	}
	if b.AfterSetInt == nil {
		return nil
	}

	err := hooks.Call(n.ID(), hooks.PhaseAfterSetInt, func() error {
		return b.AfterSetInt(s.context(n), ev)
	})
	s.hookFailed(err)

	return err
}

// GetInt returns the raw integer of a variable or checksum.
func (s *Session) GetInt(key string) (int64, error) {
	n, err := s.tree.Node(key)
	if err != nil {
		return 0, err
	}

	return s.getInt(n)
}

// SetInt writes the raw integer of a variable.
func (s *Session) SetInt(key string, v int64) error {
	n, err := s.tree.Node(key)
	if err != nil {
		return err
	}
	if _, ok := n.Item.(*template.Variable); !ok {
		return fmt.Errorf("%w: %s is a %s", ErrKind, key, template.TypeName(n.Item))
	}

	s.seq++
	return s.setInt(n, v)
}

// GetValue returns the display value of a variable: its raw integer passed
// through the operation pipeline.
func (s *Session) GetValue(key string) (float64, error) {
	n, err := s.tree.Node(key)
	if err != nil {
		return 0, err
	}

	return s.getValue(n)
}

func (s *Session) getValue(n *layout.Node) (float64, error) {
	raw, err := s.getInt(n)
	if err != nil {
		return 0, err
	}

	v, _ := n.Item.(*template.Variable)
	if v == nil {
		return float64(raw), nil
	}

	return pipeline.Decode(raw, v.Operations), nil
}

// SetValue encodes a display value and writes it. The value must lie in the
// item's bounds after the Item hook ran.
func (s *Session) SetValue(key string, display float64) error {
	n, err := s.tree.Node(key)
	if err != nil {
		return err
	}

	s.seq++
	return s.setValue(n, display)
}

func (s *Session) setValue(n *layout.Node, display float64) error {
	f, err := s.describe(n)
	if err != nil {
		return err
	}
	v, ok := f.Item.(*template.Variable)
	if !ok {
		return fmt.Errorf("%w: %s is a %s", ErrKind, n.Key, template.TypeName(n.Item))
	}
	if (v.Min != nil && display < *v.Min) || (v.Max != nil && display > *v.Max) {
		return fmt.Errorf("%w: %s=%v not in [%s, %s]", ErrRange, n.Key, display, bound(v.Min), bound(v.Max))
	}

	prev, err := s.getInt(n)
	if err != nil {
		return err
	}
	raw, err := pipeline.Encode(display, v.Operations, prev)
	if err != nil {
		return err
	}

	return s.setInt(n, raw)
}

func bound(f *float64) string {
	if f == nil {
		return "-"
	}

	return strconv.FormatFloat(*f, 'f', -1, 64)
}

// GetString decodes a string variable through its alphabet.
func (s *Session) GetString(key string) (string, error) {
	n, v, err := s.stringNode(key)
	if err != nil {
		return "", err
	}
	a, err := s.tmpl.Alphabet(v.Alphabet)
	if err != nil {
		return "", err
	}
	off, err := s.offset(n)
	if err != nil {
		return "", err
	}

	return codec.ReadString(s.buf, off, v.Length, a)
}

// SetString encodes and writes a string variable, padding the field.
func (s *Session) SetString(key, text string) error {
	n, v, err := s.stringNode(key)
	if err != nil {
		return err
	}
	a, err := s.tmpl.Alphabet(v.Alphabet)
	if err != nil {
		return err
	}
	off, err := s.offset(n)
	if err != nil {
		return err
	}

	s.seq++
	err = s.write(n.Key, off, v.Length, func() error {
		return codec.WriteString(s.buf, off, v.Length, a, text)
	})
	if err != nil {
		return err
	}
	if b := s.hooks.Bundle(n.ID()); b != nil && len(b.Invalidates) > 0 {
		s.res.Invalidate(b.Invalidates...)
	}

	return nil
}

func (s *Session) stringNode(key string) (*layout.Node, *template.Variable, error) {
	n, err := s.tree.Node(key)
	if err != nil {
		return nil, nil, err
	}
	v, ok := n.Item.(*template.Variable)
	if !ok || v.DataType != codec.String {
		return nil, nil, fmt.Errorf("%w: %s is not a string", ErrKind, key)
	}

	return n, v, nil
}

func (s *Session) flag(key string, index int) (*layout.Node, template.Flag, int, error) {
	n, err := s.tree.Node(key)
	if err != nil {
		return nil, template.Flag{}, 0, err
	}
	bf, ok := n.Item.(*template.Bitflags)
	if !ok {
		return nil, template.Flag{}, 0, fmt.Errorf("%w: %s is a %s", ErrKind, key, template.TypeName(n.Item))
	}
	if index < 0 || index >= len(bf.Flags) {
		return nil, template.Flag{}, 0, fmt.Errorf("%w: flag %d of %s", ErrRange, index, key)
	}
	f := bf.Flags[index]

	return n, f, n.Offset() + f.Offset, nil
}

// GetFlag reads one flag of a bitflags item.
func (s *Session) GetFlag(key string, index int) (bool, error) {
	_, f, off, err := s.flag(key, index)
	if err != nil {
		return false, err
	}

	v, err := codec.ReadInt(s.buf, off, codec.Bit, codec.Options{Bit: f.Bit})
	if err != nil {
		return false, err
	}

	return (v == 1) != f.Reversed, nil
}

// SetFlag writes one flag of a bitflags item; AfterSetInt sees the flag
// index and its new state.
func (s *Session) SetFlag(key string, index int, on bool) error {
	n, f, off, err := s.flag(key, index)
	if err != nil {
		return err
	}

	var raw int64
	if on != f.Reversed {
		raw = 1
	}

	s.seq++
	err = s.write(n.Key, off, 1, func() error {
		return codec.WriteInt(s.buf, off, codec.Bit, raw, codec.Options{Bit: f.Bit})
	})
	if err != nil {
		return err
	}

	return s.afterSet(n, s.hooks.Bundle(n.ID()), hooks.SetEvent{Value: int64(index), Flag: on})
}

// GroupValue is the combined display of a group.
type GroupValue struct {
	Values []float64
	Text   string // h:mm[:ss] for time, cur/max for fraction
}

// GroupValue reads every member of a group.
func (s *Session) GroupValue(key string) (GroupValue, error) {
	n, g, err := s.group(key)
	if err != nil {
		return GroupValue{}, err
	}

	gv := GroupValue{Values: make([]float64, len(n.Children))}
	for i, c := range n.Children {
		if gv.Values[i], err = s.getValue(c); err != nil {
			return GroupValue{}, err
		}
	}

	switch g.Kind {
	case template.GroupTime:
		parts := make([]string, len(gv.Values))
		for i, v := range gv.Values {
			if i == 0 {
				parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
			} else {
				parts[i] = fmt.Sprintf("%02d", int64(v))
			}
		}
		gv.Text = strings.Join(parts, ":")

	case template.GroupFraction:
		gv.Text = fmt.Sprintf("%s/%s",
			strconv.FormatFloat(gv.Values[0], 'f', -1, 64),
			strconv.FormatFloat(gv.Values[1], 'f', -1, 64))
	}

	return gv, nil
}

// SetGroupValue parses text in the group's display form and writes every
// member. Time minutes and seconds must be below 60.
func (s *Session) SetGroupValue(key, text string) error {
	n, g, err := s.group(key)
	if err != nil {
		return err
	}

	sep := ":"
	if g.Kind == template.GroupFraction {
		sep = "/"
	}
	fields := strings.Split(strings.TrimSpace(text), sep)
	if len(fields) != len(n.Children) {
		return fmt.Errorf("%w: %s wants %d %q-separated parts, got %q", ErrRange, key, len(n.Children), sep, text)
	}

	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return fmt.Errorf("%s part %d: %w", key, i, err)
		}
		if g.Kind == template.GroupTime && i > 0 && (v < 0 || v >= 60 || v != math.Trunc(v)) {
			return fmt.Errorf("%w: %s part %d=%v", ErrRange, key, i, v)
		}
		values[i] = v
	}
	if g.Kind == template.GroupFraction && values[0] > values[1] {
		return fmt.Errorf("%w: %s current %v above max %v", ErrRange, key, values[0], values[1])
	}

	s.seq++
	for i, c := range n.Children {
		if err := s.setValue(c, values[i]); err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) group(key string) (*layout.Node, *template.Group, error) {
	n, err := s.tree.Node(key)
	if err != nil {
		return nil, nil, err
	}
	g, ok := n.Item.(*template.Group)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s is a %s", ErrKind, key, template.TypeName(n.Item))
	}

	return n, g, nil
}

// Field is the live description of an item.
type Field struct {
	Key      string
	Item     template.Item // after the Item hook; do not modify
	Offset   int
	Disabled bool
	Hidden   bool
}

// Describe returns the item at key after the Item hook, with its resolved
// offset and the disabled state of its enclosing instances.
func (s *Session) Describe(key string) (Field, error) {
	n, err := s.tree.Node(key)
	if err != nil {
		return Field{}, err
	}

	return s.describe(n)
}

func (s *Session) describe(n *layout.Node) (Field, error) {
	it := n.Item
	if b := s.hooks.Bundle(n.ID()); b != nil && b.Item != nil {
		var out template.Item
		err := hooks.Call(n.ID(), hooks.PhaseItem, func() error {
			var err error
			out, err = b.Item(s.context(n), template.Clone(it))
			return err
		})
		if err != nil {
			s.hookFailed(err)
			return Field{}, err
		}
		if out != nil {
			it = out
		}
	}

	f := Field{Key: n.Key, Item: it, Hidden: it.Base().Hidden, Disabled: it.Base().Disabled}

	var err error
	if f.Offset, err = s.offset(n); err != nil {
		return Field{}, err
	}

	for p := n.Parent; p != nil && !f.Disabled; p = p.Parent {
		c, ok := p.Item.(*template.Container)
		if !ok || p.Role != layout.Instance || c.DisableIf == nil {
			continue
		}
		disabled, err := c.DisableIf.Eval(s.buf, p.Base)
		if err != nil {
			return Field{}, err
		}
		f.Disabled = disabled
	}

	return f, nil
}

// Label returns the resource label of a variable's current value.
func (s *Session) Label(key string) (string, bool, error) {
	n, err := s.tree.Node(key)
	if err != nil {
		return "", false, err
	}
	v, ok := n.Item.(*template.Variable)
	if !ok || v.Resource == "" {
		return "", false, fmt.Errorf("%w: %s has no resource", ErrKind, key)
	}

	raw, err := s.getInt(n)
	if err != nil {
		return "", false, err
	}

	return s.ResourceLabel(v.Resource, int(raw))
}

// ResourceLabel looks a key up in a named resource.
func (s *Session) ResourceLabel(name string, key int) (string, bool, error) {
	l, ok, err := s.res.Label(name, key, s.buf)

	var he *hooks.Error
	if errors.As(err, &he) {
		s.hookFailed(err)
	}

	return l, ok, err
}

// Invalidate drops cached dynamic resources; no names drops all.
func (s *Session) Invalidate(names ...string) { s.res.Invalidate(names...) }
