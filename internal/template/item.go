package template

import (
	"fmt"

	"github.com/woozymasta/savetpl/internal/codec"
	"github.com/woozymasta/savetpl/internal/pipeline"
)

// Item is one node of the schema tree. The set of implementations is closed:
// *Section, *Tabs, *Tab, *Container, *Variable, *Bitflags, *Checksum, *Group.
type Item interface {
	Base() *Common
	isItem()
}

// Common holds the fields every item may carry.
type Common struct {
	ID       string
	Name     string
	Hidden   bool
	Disabled bool
	Offset   int
	Length   int
}

// Base returns the shared fields.
func (c *Common) Base() *Common { return c }

// Section groups items under a heading.
type Section struct {
	Common
	Items []Item
}

// Tabs holds alternative pages of items.
type Tabs struct {
	Common
	Tabs []*Tab
}

// Tab is one page of a Tabs item.
type Tab struct {
	Common
	Items []Item
}

// Container repeats Items Instances times, Length bytes apart.
type Container struct {
	Common
	Instances int
	Items     []Item
	Prepend   []Item // once, relative to the container base
	Append    []Item // once, relative to base + Instances*Length
	DisableIf *Condition
}

// Stride returns the distance between instances.
func (c *Container) Stride() int { return c.Length }

// Shift moves an item by Shift bytes per unit of the value of Parent.
type Shift struct {
	Parent string
	Shift  int
}

// Binary selects bits [BitStart, BitStart+BitLength) of one byte.
type Binary struct {
	BitStart  int
	BitLength int
}

// Variable is a single typed value.
type Variable struct {
	Common
	DataType      codec.DataType
	Bit           int
	Binary        *Binary
	BigEndian     bool
	Nibble        int
	Alphabet      string
	Resource      string
	Min           *float64
	Max           *float64
	Operations    []pipeline.Operation
	OverrideShift []Shift
}

// Options returns the codec options of the variable.
func (v *Variable) Options() codec.Options {
	o := codec.Options{
		BigEndian: v.BigEndian,
		Bit:       v.Bit,
		Nibble:    v.Nibble,
		Length:    v.Length,
	}
	if v.Binary != nil {
		o.BitStart = v.Binary.BitStart
		o.BitLength = v.Binary.BitLength
	}

	return o
}

// Flag is one independent boolean cell.
type Flag struct {
	Offset   int
	Bit      int
	Label    string
	Hidden   bool
	Disabled bool
	Reversed bool // set when the bit is 0
}

// Bitflags is a list of flags sharing a heading.
type Bitflags struct {
	Common
	Flags []Flag
}

// Control is the covered range of a checksum, relative to the item's base.
type Control struct {
	OffsetStart int
	OffsetEnd   int
}

// Checksum is a stored value derived from a byte range.
type Checksum struct {
	Common
	Control       Control
	Width         int
	Algorithm     string
	Step          int
	BigEndian     bool
	Salt          *Variable
	OverrideShift []Shift
}

// DataType returns the storage type of the checksum field.
func (c *Checksum) DataType() codec.DataType {
	switch c.Width {
	case 8:
		return codec.Uint8
	case 16:
		return codec.Uint16
	case 32:
		return codec.Uint32
	}

	return codec.Uint64
}

// Size returns the byte width of the checksum field.
func (c *Checksum) Size() int { return c.Width / 8 }

// Group kinds.
const (
	GroupTime     = "time"
	GroupFraction = "fraction"
)

// Group combines variables into one display quantity.
type Group struct {
	Common
	Kind  string
	Items []*Variable
}

func (*Section) isItem()   {}
func (*Tabs) isItem()      {}
func (*Tab) isItem()       {}
func (*Container) isItem() {}
func (*Variable) isItem()  {}
func (*Bitflags) isItem()  {}
func (*Checksum) isItem()  {}
func (*Group) isItem()     {}

// TypeName returns the document type name of an item.
func TypeName(it Item) string {
	switch it.(type) {
	case *Section:
		return "section"
	case *Tabs:
		return "tabs"
	case *Tab:
		return "tab"
	case *Container:
		return "container"
	case *Variable:
		return "variable"
	case *Bitflags:
		return "bitflags"
	case *Checksum:
		return "checksum"
	case *Group:
		return "group"
	}

	return fmt.Sprintf("%T", it)
}

// Children returns the nested items of it in document order.
func Children(it Item) []Item {
	switch v := it.(type) {
	case *Section:
		return v.Items
	case *Tab:
		return v.Items
	case *Tabs:
		out := make([]Item, len(v.Tabs))
		for i, t := range v.Tabs {
			out[i] = t
		}
		return out
	case *Container:
		out := make([]Item, 0, len(v.Prepend)+len(v.Items)+len(v.Append))
		out = append(out, v.Prepend...)
		out = append(out, v.Items...)
		return append(out, v.Append...)
	case *Group:
		out := make([]Item, len(v.Items))
		for i, g := range v.Items {
			out[i] = g
		}
		return out
	}

	return nil
}

// Clone returns a deep copy of it that a hook may modify freely.
func Clone(it Item) Item {
	switch v := it.(type) {
	case *Section:
		c := *v
		c.Items = cloneItems(v.Items)
		return &c
	case *Tabs:
		c := *v
		c.Tabs = make([]*Tab, len(v.Tabs))
		for i, t := range v.Tabs {
			c.Tabs[i] = Clone(t).(*Tab)
		}
		return &c
	case *Tab:
		c := *v
		c.Items = cloneItems(v.Items)
		return &c
	case *Container:
		c := *v
		c.Items = cloneItems(v.Items)
		c.Prepend = cloneItems(v.Prepend)
		c.Append = cloneItems(v.Append)
		if v.DisableIf != nil {
			d := *v.DisableIf
			c.DisableIf = &d
		}
		return &c
	case *Variable:
		return cloneVariable(v)
	case *Bitflags:
		c := *v
		c.Flags = append([]Flag(nil), v.Flags...)
		return &c
	case *Checksum:
		c := *v
		c.OverrideShift = append([]Shift(nil), v.OverrideShift...)
		if v.Salt != nil {
			c.Salt = cloneVariable(v.Salt)
		}
		return &c
	case *Group:
		c := *v
		c.Items = make([]*Variable, len(v.Items))
		for i, g := range v.Items {
			c.Items[i] = cloneVariable(g)
		}
		return &c
	}

	return it
}

func cloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = Clone(it)
	}

	return out
}

func cloneVariable(v *Variable) *Variable {
	c := *v
	if v.Binary != nil {
		b := *v.Binary
		c.Binary = &b
	}
	if v.Min != nil {
		m := *v.Min
		c.Min = &m
	}
	if v.Max != nil {
		m := *v.Max
		c.Max = &m
	}
	c.Operations = append([]pipeline.Operation(nil), v.Operations...)
	c.OverrideShift = append([]Shift(nil), v.OverrideShift...)

	return &c
}
