package session

import (
	"bytes"
	"fmt"

	"github.com/woozymasta/savetpl/internal/codec"
)

// Edit is one recorded write. Writes made by a single public call, hooks
// included, share a Seq and are undone together.
type Edit struct {
	Seq    int
	Key    string
	Offset int
	Old    []byte
	New    []byte
}

// write runs fn over [off, off+n), records the change and marks covering
// checksums dirty. Nothing is recorded when fn fails or changes nothing.
func (s *Session) write(key string, off, n int, fn func() error) error {
	if off < 0 || n < 0 || off+n > len(s.buf) {
		return fmt.Errorf("%w: [0x%X,0x%X) of %d bytes", codec.ErrOutOfBounds, off, off+n, len(s.buf))
	}

	old := append([]byte(nil), s.buf[off:off+n]...)
	if err := fn(); err != nil {
		return err
	}
	cur := append([]byte(nil), s.buf[off:off+n]...)
	if bytes.Equal(old, cur) {
		return nil
	}

	s.edits = append(s.edits, Edit{Seq: s.seq, Key: key, Offset: off, Old: old, New: cur})
	for _, k := range s.tracker.Add(off, n) {
		s.log.Debug("checksum dirty", "checksum", k, "key", key)
	}

	return nil
}

// Edits returns the recorded writes, oldest first.
func (s *Session) Edits() []Edit { return append([]Edit(nil), s.edits...) }

// Undo reverts the writes of the most recent call that changed the buffer.
// Checksums covering the restored bytes become dirty again.
func (s *Session) Undo() error {
	if len(s.edits) == 0 {
		return ErrNothingToUndo
	}

	last := s.edits[len(s.edits)-1].Seq
	for len(s.edits) > 0 && s.edits[len(s.edits)-1].Seq == last {
		e := s.edits[len(s.edits)-1]
		s.edits = s.edits[:len(s.edits)-1]

		copy(s.buf[e.Offset:], e.Old)
		s.tracker.Add(e.Offset, len(e.Old))
	}
	s.res.Invalidate()

	return nil
}
