// Package layout expands a template into concrete nodes with absolute
// offsets: containers become one node per instance.
package layout

import (
	"errors"
	"fmt"

	"github.com/woozymasta/savetpl/internal/template"
)

var (
	// ErrNotFound indicates a key that names no node.
	ErrNotFound = errors.New("layout: no such item")
	// ErrShiftCycle indicates offset shifts that depend on each other.
	ErrShiftCycle = errors.New("layout: overrideShift cycle")
)

// Role tells how a node hangs under its parent.
type Role int

const (
	// Member is an ordinary child.
	Member Role = iota

	// Instance is one repetition of a container.
	Instance

	// Prepend is a field attached once before a container's instances.
	Prepend

	// Append is a field attached once after a container's instances.
	Append
)

// Node is an instantiated item.
type Node struct {
	Item     template.Item
	Key      string // "" for items without id and for instance nodes
	Path     []int  // instance indices of the enclosing containers
	Base     int    // absolute position Item's offset is measured from
	Role     Role
	Index    int // instance index when Role is Instance
	Parent   *Node
	Children []*Node
}

// Offset returns the static absolute offset of the node's item.
func (n *Node) Offset() int {
	if n.Role == Instance {
		return n.Base
	}

	return n.Base + n.Item.Base().Offset
}

// ID returns the item id.
func (n *Node) ID() string { return n.Item.Base().ID }

// ParseFunc may replace an item before it is instantiated.
type ParseFunc func(template.Item) template.Item

// Tree is an expanded template.
type Tree struct {
	Roots []*Node
	index map[string]*Node
	order []*Node
}

// Expand instantiates items. parse, when set, may replace an item each time
// it is instantiated, before its children are expanded.
func Expand(items []template.Item, parse ParseFunc) *Tree {
	tr := &Tree{index: map[string]*Node{}}
	tr.Roots = tr.expand(items, nil, nil, 0, Member, parse)

	return tr
}

func (tr *Tree) expand(items []template.Item, parent *Node, path []int, base int, role Role, parse ParseFunc) []*Node {
	out := make([]*Node, 0, len(items))
	for _, it := range items {
		if parse != nil {
			it = parse(it)
		}
		out = append(out, tr.node(it, parent, path, base, role, parse))
	}

	return out
}

func (tr *Tree) node(it template.Item, parent *Node, path []int, base int, role Role, parse ParseFunc) *Node {
	n := &Node{Item: it, Path: path, Base: base, Role: role, Parent: parent}
	if id := it.Base().ID; id != "" {
		n.Key = Key(id, path)
		tr.index[n.Key] = n
	}
	tr.order = append(tr.order, n)

	own := base + it.Base().Offset

	switch v := it.(type) {
	case *template.Container:
		n.Children = append(n.Children, tr.expand(v.Prepend, n, path, own, Prepend, parse)...)

		for i := 0; i < v.Instances; i++ {
			ip := append(append([]int(nil), path...), i)
			inst := &Node{Item: v, Path: ip, Base: own + i*v.Stride(), Role: Instance, Index: i, Parent: n}
			tr.order = append(tr.order, inst)
			inst.Children = tr.expand(v.Items, inst, ip, inst.Base, Member, parse)
			n.Children = append(n.Children, inst)
		}

		n.Children = append(n.Children, tr.expand(v.Append, n, path, own+v.Instances*v.Stride(), Append, parse)...)

	case *template.Checksum:
		if v.Salt != nil {
			n.Children = tr.expand([]template.Item{v.Salt}, n, path, base, Member, parse)
		}

	default:
		n.Children = tr.expand(template.Children(it), n, path, own, Member, parse)
	}

	return n
}

// Nodes returns every node in document order.
func (tr *Tree) Nodes() []*Node { return tr.order }

// Node returns the node with the given key.
func (tr *Tree) Node(key string) (*Node, error) {
	n, ok := tr.index[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	return n, nil
}

// Scoped finds id as seen from a node at path: the deepest enclosing
// instance that has it wins, then outer scopes, then the global item.
func (tr *Tree) Scoped(id string, path []int) (*Node, error) {
	for i := len(path); i >= 0; i-- {
		if n, ok := tr.index[Key(id, path[:i])]; ok {
			return n, nil
		}
	}

	return nil, fmt.Errorf("%w: %q from %v", ErrNotFound, id, path)
}

// Instances returns the instance nodes of a container node.
func (n *Node) Instances() []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Role == Instance {
			out = append(out, c)
		}
	}

	return out
}

// Checksums returns every checksum node in document order.
func (tr *Tree) Checksums() []*Node {
	var out []*Node
	for _, n := range tr.order {
		if _, ok := n.Item.(*template.Checksum); ok {
			out = append(out, n)
		}
	}

	return out
}

// ValueFunc reads the live integer value of a node.
type ValueFunc func(*Node) (int64, error)

// Resolve returns the absolute offset of n after applying shifts: each shift
// adds value(parent)*Shift, parents resolved in n's scope, in order.
func (tr *Tree) Resolve(n *Node, shifts []template.Shift, value ValueFunc) (int, error) {
	off := n.Offset()
	for _, s := range shifts {
		p, err := tr.Scoped(s.Parent, n.Path)
		if err != nil {
			return 0, err
		}
		if p == n {
			return 0, fmt.Errorf("%w: %s shifts by itself", ErrShiftCycle, n.Key)
		}

		v, err := value(p)
		if err != nil {
			return 0, fmt.Errorf("shift parent %s: %w", p.Key, err)
		}
		off += int(v) * s.Shift
	}

	return off, nil
}
