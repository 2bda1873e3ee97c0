// Package resource maps raw integers to display labels.
package resource

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknown indicates a resource name that is not defined.
	ErrUnknown = errors.New("resource: unknown resource")
	// ErrCollision indicates composed sub-tables sharing a composed key.
	ErrCollision = errors.New("resource: composed key collision")
	// ErrNoProvider indicates a dynamic resource without a registered provider.
	ErrNoProvider = errors.New("resource: dynamic resource has no provider")
)

// Table maps raw keys to labels.
type Table map[int]string

// Keys returns the table keys in ascending order.
func (t Table) Keys() []int {
	keys := make([]int, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	return keys
}

// Kind is the resource flavour.
type Kind int

const (
	// Static is a single fixed table.
	Static Kind = iota

	// Variants selects one table per validator region.
	Variants

	// Composed merges named sub-tables into one key space.
	Composed

	// Dynamic is computed from the live buffer by a provider.
	Dynamic
)

// Definition is a resource as declared by a template.
type Definition struct {
	Name     string
	Kind     Kind
	Table    Table    // Static
	Variants []Table  // Variants, indexed by region
	Parts    []string // Composed, in order
}

// Label is a display-only section header over a key range of a resource.
type Label struct {
	Text  string
	Start int
	End   int // exclusive
}

// Part is one sub-table placed at a base in a composed key space.
type Part struct {
	Name  string
	Base  int
	Table Table
}

// End returns the first composed key after the part.
func (p Part) End() int {
	keys := p.Table.Keys()
	if len(keys) == 0 {
		return p.Base
	}

	return p.Base + keys[len(keys)-1] + 1
}

// Compose places tables one after another: each base is the end of the
// previous table. Keys must be non-negative.
func Compose(names []string, tables []Table) ([]Part, error) {
	if len(names) != len(tables) {
		return nil, fmt.Errorf("resource: %d names for %d tables", len(names), len(tables))
	}

	parts := make([]Part, 0, len(tables))
	base := 0
	for i, t := range tables {
		for k := range t {
			if k < 0 {
				return nil, fmt.Errorf("resource: %s has negative key %d", names[i], k)
			}
		}

		p := Part{Name: names[i], Base: base, Table: t}
		parts = append(parts, p)
		base = p.End()
	}

	if err := CheckDisjoint(parts); err != nil {
		return nil, err
	}

	return parts, nil
}

// CheckDisjoint verifies that no two parts map source keys to the same
// composed key.
func CheckDisjoint(parts []Part) error {
	seen := map[int]string{}
	for _, p := range parts {
		for k := range p.Table {
			ck := p.Base + k
			if other, dup := seen[ck]; dup {
				return fmt.Errorf("%w: %s and %s at %d", ErrCollision, other, p.Name, ck)
			}
			seen[ck] = p.Name
		}
	}

	return nil
}

// Resolve finds the part holding a composed key and the source key in it.
func Resolve(parts []Part, key int) (Part, int, bool) {
	for i := len(parts) - 1; i >= 0; i-- {
		p := parts[i]
		if key < p.Base || key >= p.End() {
			continue
		}
		if _, ok := p.Table[key-p.Base]; ok {
			return p, key - p.Base, true
		}
	}

	return Part{}, 0, false
}

// Flatten returns the composed table.
func Flatten(parts []Part) Table {
	out := Table{}
	for _, p := range parts {
		for k, v := range p.Table {
			out[p.Base+k] = v
		}
	}

	return out
}
