package session

import (
	"fmt"

	"github.com/woozymasta/savetpl/internal/checksum"
	"github.com/woozymasta/savetpl/internal/codec"
	"github.com/woozymasta/savetpl/internal/hooks"
	"github.com/woozymasta/savetpl/internal/layout"
	"github.com/woozymasta/savetpl/internal/template"
)

// checksumKey names a checksum node; checksums without id use their offset.
func checksumKey(n *layout.Node) string {
	if n.Key != "" {
		return n.Key
	}

	return fmt.Sprintf("checksum@0x%X", n.Offset())
}

// track registers every checksum range with the tracker.
func (s *Session) track() {
	nodes := s.tree.Checksums()
	entries := make([]checksum.Entry, 0, len(nodes))

	for _, n := range nodes {
		c := n.Item.(*template.Checksum)
		spec := c.Spec(n.Base)
		key := checksumKey(n)
		s.checksums[key] = n

		e := checksum.Entry{Key: key, Start: spec.Start, End: spec.End}
		if c.Salt != nil && len(n.Children) > 0 {
			if sp, ok := s.span(n.Children[0]); ok {
				e.Inputs = append(e.Inputs, sp)
			}
		}
		entries = append(entries, e)
	}

	s.tracker = checksum.NewTracker(entries)
}

// span returns the bytes an integer node occupies.
func (s *Session) span(n *layout.Node) (checksum.Span, bool) {
	dt, o, err := scalar(n)
	if err != nil {
		return checksum.Span{}, false
	}
	d, err := codec.Lookup(dt)
	if err != nil {
		return checksum.Span{}, false
	}
	off, err := s.offset(n)
	if err != nil {
		s.log.Warn("checksum input offset", "key", n.Key, "err", err)
		off = n.Offset()
	}

	return checksum.Span{Start: off, End: off + max(d.Size, 1) + o.Nibble/2}, true
}

// audit compares every stored checksum with its computed value.
func (s *Session) audit() []Warning {
	var out []Warning
	for _, e := range s.tracker.Entries() {
		stored, computed, err := s.compare(s.checksums[e.Key])
		if err != nil {
			out = append(out, Warning{Key: e.Key, Err: err})
			continue
		}
		if stored != computed {
			out = append(out, Warning{Key: e.Key, Stored: stored, Computed: computed})
		}
	}

	return out
}

// compute returns the checksum of n's range over the live buffer.
func (s *Session) compute(n *layout.Node) (uint64, error) {
	c := n.Item.(*template.Checksum)

	var salt uint64
	if c.Salt != nil && len(n.Children) > 0 {
		v, err := s.getInt(n.Children[0])
		if err != nil {
			return 0, fmt.Errorf("salt: %w", err)
		}
		salt = uint64(v)
	}

	var sum uint64
	err := hooks.Call(checksumKey(n), hooks.PhaseChecksum, func() error {
		var err error
		sum, err = checksum.Compute(s.buf, c.Spec(n.Base), salt, s.algs)
		return err
	})

	return sum, err
}

func (s *Session) compare(n *layout.Node) (stored, computed uint64, err error) {
	c := n.Item.(*template.Checksum)

	raw, err := s.rawGet(n)
	if err != nil {
		return 0, 0, err
	}
	if computed, err = s.compute(n); err != nil {
		return 0, 0, err
	}

	return uint64(raw) & checksum.Mask(c.Width), computed, nil
}

func (s *Session) checksumNode(key string) (*layout.Node, error) {
	n, ok := s.checksums[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", layout.ErrNotFound, key)
	}

	return n, nil
}

// ChecksumWarnings lists the checksums that did not match at Open.
func (s *Session) ChecksumWarnings() []Warning { return s.warnings }

// Checksums returns the keys of every checksum in document order.
func (s *Session) Checksums() []string {
	entries := s.tracker.Entries()
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}

	return keys
}

// Dirty returns the checksums awaiting repair, innermost first.
func (s *Session) Dirty() []string { return s.tracker.Dirty() }

// Validate reports whether the stored checksum matches its range.
func (s *Session) Validate(key string) (bool, error) {
	n, err := s.checksumNode(key)
	if err != nil {
		return false, err
	}

	stored, computed, err := s.compare(n)
	if err != nil {
		return false, err
	}

	return stored == computed, nil
}

// Repair recomputes and stores one checksum.
func (s *Session) Repair(key string) error {
	n, err := s.checksumNode(key)
	if err != nil {
		return err
	}

	return s.repair(n)
}

func (s *Session) repair(n *layout.Node) error {
	c, ok := n.Item.(*template.Checksum)
	if !ok {
		return fmt.Errorf("%w: %s is a %s", ErrKind, n.Key, template.TypeName(n.Item))
	}

	sum, err := s.compute(n)
	if err != nil {
		return err
	}
	off, err := s.offset(n)
	if err != nil {
		return err
	}

	if err := codec.WriteInt(s.buf, off, c.DataType(), int64(sum), codec.Options{BigEndian: c.BigEndian}); err != nil {
		return err
	}
	s.tracker.Add(off, c.Size())
	s.tracker.Clear(checksumKey(n))

	return nil
}

// RepairAll repairs dirty checksums, innermost range first, until none
// remain.
func (s *Session) RepairAll() error {
	return s.tracker.Settle(func(key string) error {
		n, err := s.checksumNode(key)
		if err != nil {
			return err
		}
		return s.repair(n)
	})
}
