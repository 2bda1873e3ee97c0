// Package hooks is the per-game override protocol: optional callbacks keyed
// by item id that customize how the engine shapes, locates, reads and
// writes an item.
package hooks

import (
	"errors"
	"fmt"
	"sort"

	"github.com/woozymasta/savetpl/internal/checksum"
	"github.com/woozymasta/savetpl/internal/codec"
	"github.com/woozymasta/savetpl/internal/resource"
	"github.com/woozymasta/savetpl/internal/template"
)

var (
	// ErrUnbound indicates a registration that names nothing in the template.
	ErrUnbound = errors.New("hooks: registration does not match the template")
	// ErrConflict indicates two registrations for the same phase of one item.
	ErrConflict = errors.New("hooks: conflicting registration")
)

// Phase names one extension point.
type Phase string

// Extension points in the order the engine reaches them.
const (
	PhaseParseItem   Phase = "parseItem"
	PhaseShift       Phase = "shift"
	PhaseItem        Phase = "item"
	PhaseGetInt      Phase = "getInt"
	PhaseSetInt      Phase = "setInt"
	PhaseAfterSetInt Phase = "afterSetInt"
)

// Phases of module code the engine calls outside the per-item hooks.
const (
	PhaseResource Phase = "resource"
	PhaseChecksum Phase = "checksum"
)

// Error is a failed hook. It never aborts more than the one field.
type Error struct {
	ID    string
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("hook %s.%s: %v", e.ID, e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Call runs fn as hook id/phase, turning a returned error or a panic into
// an *Error.
func Call(id string, phase Phase, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{ID: id, Phase: phase, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := fn(); err != nil {
		return &Error{ID: id, Phase: phase, Err: err}
	}

	return nil
}

// View is read-only access to the save buffer.
type View interface {
	Len() int
	ReadInt(offset int, dt codec.DataType, o codec.Options) (int64, error)
	Bytes(offset, n int) ([]byte, error) // a copy
}

// Context is what a hook sees of the session while it runs.
type Context interface {
	View

	// Key is the address of the item the hook runs for.
	Key() string

	// Path is the instance path of that item.
	Path() []int

	// GetInt reads the raw integer of id, resolved in the hook's scope.
	// Hooks of the target are not run.
	GetInt(id string) (int64, error)

	// SetInt writes the raw integer of id, resolved in the hook's scope.
	// Hooks of the target are not run; covering checksums become dirty.
	SetInt(id string, v int64) error

	// Invalidate drops cached dynamic resources.
	Invalidate(resources ...string)

	// Repair recomputes the named checksum now, or every dirty one for "".
	Repair(id string) error
}

// SetEvent describes a completed write. For bitflags Value is the index of
// the written flag and Flag its new state.
type SetEvent struct {
	Value int64
	Flag  bool
}

// Bundle holds the hooks of one item. Nil fields keep the default behavior.
type Bundle struct {
	// ParseItem replaces the item before it is instantiated. it is a copy.
	ParseItem func(v View, it template.Item) (template.Item, error)

	// Shift replaces the offset-shift chain of the item.
	Shift func(ctx Context, shifts []template.Shift) ([]template.Shift, error)

	// Item adjusts bounds or disabled state from live values. it is a copy.
	Item func(ctx Context, it template.Item) (template.Item, error)

	// GetInt returns a derived value; handled=false falls back to the bytes.
	GetInt func(ctx Context) (v int64, handled bool, err error)

	// SetInt stores a derived value; handled=false falls back to the bytes.
	SetInt func(ctx Context, v int64) (handled bool, err error)

	// AfterSetInt runs side effects after a successful write.
	AfterSetInt func(ctx Context, ev SetEvent) error

	// Invalidates lists dynamic resources to drop after every write.
	Invalidates []string
}

// merge folds o into b; a phase set in both is a conflict.
func (b *Bundle) merge(id string, o Bundle) error {
	conflict := func(p Phase) error { return fmt.Errorf("%w: %s.%s", ErrConflict, id, p) }

	if o.ParseItem != nil {
		if b.ParseItem != nil {
			return conflict(PhaseParseItem)
		}
		b.ParseItem = o.ParseItem
	}
	if o.Shift != nil {
		if b.Shift != nil {
			return conflict(PhaseShift)
		}
		b.Shift = o.Shift
	}
	if o.Item != nil {
		if b.Item != nil {
			return conflict(PhaseItem)
		}
		b.Item = o.Item
	}
	if o.GetInt != nil {
		if b.GetInt != nil {
			return conflict(PhaseGetInt)
		}
		b.GetInt = o.GetInt
	}
	if o.SetInt != nil {
		if b.SetInt != nil {
			return conflict(PhaseSetInt)
		}
		b.SetInt = o.SetInt
	}
	if o.AfterSetInt != nil {
		if b.AfterSetInt != nil {
			return conflict(PhaseAfterSetInt)
		}
		b.AfterSetInt = o.AfterSetInt
	}
	b.Invalidates = append(b.Invalidates, o.Invalidates...)

	return nil
}

// Registry collects the override module of one game: hook bundles by item
// id, dynamic resource providers and custom checksum algorithms.
type Registry struct {
	bundles    map[string]*Bundle
	providers  map[string]resource.Provider
	algorithms map[string]checksum.Algorithm
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bundles:    map[string]*Bundle{},
		providers:  map[string]resource.Provider{},
		algorithms: map[string]checksum.Algorithm{},
	}
}

// Register adds hooks for an item id. Registering the same id again merges
// the bundles unless both set the same phase.
func (r *Registry) Register(id string, b Bundle) error {
	if id == "" {
		return fmt.Errorf("%w: empty item id", ErrUnbound)
	}

	cur, ok := r.bundles[id]
	if !ok {
		cur = &Bundle{}
		r.bundles[id] = cur
	}

	return cur.merge(id, b)
}

// RegisterAll adds the same hooks for every id in a family.
func (r *Registry) RegisterAll(ids []string, b Bundle) error {
	for _, id := range ids {
		if err := r.Register(id, b); err != nil {
			return err
		}
	}

	return nil
}

// Provide sets the function behind a dynamic resource.
func (r *Registry) Provide(name string, p resource.Provider) error {
	if _, dup := r.providers[name]; dup {
		return fmt.Errorf("%w: provider %q", ErrConflict, name)
	}
	r.providers[name] = p

	return nil
}

// Algorithm adds a custom checksum algorithm.
func (r *Registry) Algorithm(name string, fn checksum.Algorithm) error {
	if _, dup := r.algorithms[name]; dup {
		return fmt.Errorf("%w: algorithm %q", ErrConflict, name)
	}
	r.algorithms[name] = fn

	return nil
}

// Merge adds every registration of o.
func (r *Registry) Merge(o *Registry) error {
	if o == nil {
		return nil
	}

	for _, id := range o.IDs() {
		if err := r.Register(id, *o.bundles[id]); err != nil {
			return err
		}
	}
	for name, p := range o.providers {
		if err := r.Provide(name, p); err != nil {
			return err
		}
	}
	for name, fn := range o.algorithms {
		if err := r.Algorithm(name, fn); err != nil {
			return err
		}
	}

	return nil
}

// Bundle returns the hooks of id, or nil.
func (r *Registry) Bundle(id string) *Bundle {
	if r == nil || id == "" {
		return nil
	}

	return r.bundles[id]
}

// IDs returns the hooked item ids in order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.bundles))
	for id := range r.bundles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// Providers returns the registered resource providers.
func (r *Registry) Providers() map[string]resource.Provider { return r.providers }

// Algorithms returns the stock algorithms plus the registered ones.
func (r *Registry) Algorithms() checksum.Algorithms {
	algs := checksum.Builtin()
	for name, fn := range r.algorithms {
		algs[name] = fn
	}

	return algs
}

// Bind checks every registration against a template: hooked ids must exist,
// providers must name dynamic resources, invalidation lists must name
// resources and checksum algorithms must be known.
func (r *Registry) Bind(t *template.Template) error {
	var errs []error

	for _, id := range r.IDs() {
		if t.Find(id) == nil {
			errs = append(errs, fmt.Errorf("%w: no item %q", ErrUnbound, id))
		}
		for _, name := range r.bundles[id].Invalidates {
			if !hasResource(t, name, false) {
				errs = append(errs, fmt.Errorf("%w: %s invalidates unknown resource %q", ErrUnbound, id, name))
			}
		}
	}

	for name := range r.providers {
		if !hasResource(t, name, true) {
			errs = append(errs, fmt.Errorf("%w: provider for %q which is not a dynamic resource", ErrUnbound, name))
		}
	}

	algs := r.Algorithms()
	_ = template.Walk(t.Items, func(it template.Item) error {
		if c, ok := it.(*template.Checksum); ok {
			if _, err := algs.Lookup(c.Algorithm); err != nil {
				errs = append(errs, fmt.Errorf("checksum %q: %w", c.ID, err))
			}
		}
		return nil
	})

	return errors.Join(errs...)
}

func hasResource(t *template.Template, name string, dynamic bool) bool {
	for _, d := range t.Resources {
		if d.Name == name {
			return !dynamic || d.Kind == resource.Dynamic
		}
	}

	return false
}
