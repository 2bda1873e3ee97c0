// Package session edits one save buffer against a template. A Session owns
// the buffer, the expanded item tree, the hook registry, the resource
// resolver and the dirty-checksum tracker. It is not safe for concurrent use.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/woozymasta/savetpl/internal/checksum"
	"github.com/woozymasta/savetpl/internal/codec"
	"github.com/woozymasta/savetpl/internal/hooks"
	"github.com/woozymasta/savetpl/internal/layout"
	"github.com/woozymasta/savetpl/internal/resource"
	"github.com/woozymasta/savetpl/internal/template"
	"github.com/woozymasta/savetpl/internal/validator"
)

var (
	// ErrKind indicates an operation on the wrong kind of item.
	ErrKind = errors.New("session: operation not supported by item")
	// ErrRange indicates a value outside the item's bounds.
	ErrRange = errors.New("session: value outside bounds")
	// ErrNothingToUndo indicates an empty edit log.
	ErrNothingToUndo = errors.New("session: nothing to undo")
)

// Options configures Open.
type Options struct {
	// Hooks is the game's override module. It is bound to the template.
	Hooks *hooks.Registry

	// Logger receives hook failures and integrity warnings.
	Logger *slog.Logger

	// Region forces a validator region by name instead of detecting it.
	Region string

	// SkipValidate opens buffers that match no region, using region 0.
	SkipValidate bool
}

// Warning is a checksum that did not match when the buffer was opened.
type Warning struct {
	Key      string
	Stored   uint64
	Computed uint64
	Err      error
}

func (w Warning) String() string {
	if w.Err != nil {
		return fmt.Sprintf("%s: %v", w.Key, w.Err)
	}

	return fmt.Sprintf("%s: stored 0x%X, computed 0x%X", w.Key, w.Stored, w.Computed)
}

// Session is an open save buffer.
type Session struct {
	tmpl      *template.Template
	buf       []byte
	tree      *layout.Tree
	hooks     *hooks.Registry
	algs      checksum.Algorithms
	res       *resource.Set
	tracker   *checksum.Tracker
	checksums map[string]*layout.Node
	region    validator.Region
	warnings  []Warning
	log       *slog.Logger

	resolving map[*layout.Node]bool
	edits     []Edit
	seq       int
}

// Open starts a session over a copy of buf.
func Open(tmpl *template.Template, buf []byte, opts Options) (*Session, error) {
	s := &Session{
		tmpl:      tmpl,
		buf:       append([]byte(nil), buf...),
		hooks:     opts.Hooks,
		log:       opts.Logger,
		checksums: map[string]*layout.Node{},
		resolving: map[*layout.Node]bool{},
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.hooks == nil {
		s.hooks = hooks.NewRegistry()
	}
	if err := s.hooks.Bind(tmpl); err != nil {
		return nil, err
	}
	s.algs = s.hooks.Algorithms()

	region, index, err := s.detect(opts)
	if err != nil {
		return nil, err
	}
	s.region = region

	s.tree = layout.Expand(tmpl.Items, s.parseItem)

	s.res, err = resource.NewSet(tmpl.Resources, tmpl.ResourceLabels)
	if err != nil {
		return nil, err
	}
	s.res.SetRegion(index)
	for name, p := range s.hooks.Providers() {
		if err := s.res.Provide(name, guardProvider(name, p)); err != nil {
			return nil, err
		}
	}
	for _, name := range s.res.Unprovided() {
		s.log.Warn("dynamic resource has no provider", "resource", name)
	}

	s.track()
	s.warnings = s.audit()
	for _, w := range s.warnings {
		s.log.Warn("checksum mismatch", "checksum", w.Key, "detail", w.String())
	}

	return s, nil
}

func (s *Session) detect(opts Options) (validator.Region, int, error) {
	v := s.tmpl.Validator

	if opts.Region != "" {
		r, i, ok := v.Region(opts.Region)
		if !ok {
			return validator.Region{}, 0, fmt.Errorf("session: unknown region %q", opts.Region)
		}
		return r, i, nil
	}

	r, i, err := v.Validate(s.buf)
	if err != nil {
		if !opts.SkipValidate {
			return validator.Region{}, 0, err
		}
		s.log.Warn("buffer matches no region", "err", err)
		if len(v.Regions) > 0 {
			return v.Regions[0], 0, nil
		}
		return validator.Region{}, 0, nil
	}

	return r, i, nil
}

// parseItem applies the ParseItem hook each time an item is instantiated.
func (s *Session) parseItem(it template.Item) template.Item {
	id := it.Base().ID
	b := s.hooks.Bundle(id)
	if b == nil || b.ParseItem == nil {
		return it
	}

	var out template.Item
	err := hooks.Call(id, hooks.PhaseParseItem, func() error {
		var err error
		out, err = b.ParseItem(s, template.Clone(it))
		return err
	})
	if err != nil || out == nil {
		s.hookFailed(err)
		return it
	}

	return out
}

// guardProvider isolates a failing or panicking provider to its resource.
// Providers scan a copy of the buffer.
func guardProvider(name string, p resource.Provider) resource.Provider {
	return func(buf []byte) (resource.Table, []resource.Span, error) {
		var (
			t     resource.Table
			spans []resource.Span
		)
		err := hooks.Call(name, hooks.PhaseResource, func() error {
			var err error
			t, spans, err = p(append([]byte(nil), buf...))
			return err
		})

		return t, spans, err
	}
}

func (s *Session) hookFailed(err error) {
	if err == nil {
		return
	}

	var he *hooks.Error
	if errors.As(err, &he) {
		s.log.Warn("hook failed", "id", he.ID, "phase", string(he.Phase), "err", he.Err)
		return
	}
	s.log.Warn("hook failed", "err", err)
}

// Template returns the template the session edits.
func (s *Session) Template() *template.Template { return s.tmpl }

// Region returns the detected or forced validator region.
func (s *Session) Region() validator.Region { return s.region }

// Nodes returns every instantiated item in document order.
func (s *Session) Nodes() []*layout.Node { return s.tree.Nodes() }

// Node returns the item addressed by key.
func (s *Session) Node(key string) (*layout.Node, error) { return s.tree.Node(key) }

// Len returns the buffer size.
func (s *Session) Len() int { return len(s.buf) }

// ReadInt reads an integer straight from the buffer.
func (s *Session) ReadInt(offset int, dt codec.DataType, o codec.Options) (int64, error) {
	return codec.ReadInt(s.buf, offset, dt, o)
}

// Bytes returns a copy of n bytes at offset.
func (s *Session) Bytes(offset, n int) ([]byte, error) {
	if offset < 0 || n < 0 || offset+n > len(s.buf) {
		return nil, fmt.Errorf("%w: [0x%X,0x%X) of %d bytes", codec.ErrOutOfBounds, offset, offset+n, len(s.buf))
	}

	return append([]byte(nil), s.buf[offset:offset+n]...), nil
}

// Save repairs every dirty checksum and returns a copy of the buffer.
func (s *Session) Save() ([]byte, error) {
	if err := s.RepairAll(); err != nil {
		return nil, err
	}

	return append([]byte(nil), s.buf...), nil
}
