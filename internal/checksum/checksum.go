// Package checksum computes range checksums and tracks which of them a
// write has invalidated.
package checksum

import (
	"errors"
	"fmt"
	"hash/crc32"
	"sort"
)

var (
	// ErrInvalid indicates a malformed checksum declaration.
	ErrInvalid = errors.New("checksum: invalid declaration")
	// ErrUnknownAlgorithm indicates an algorithm name missing from the registry.
	ErrUnknownAlgorithm = errors.New("checksum: unknown algorithm")
	// ErrNotConverged indicates repairs that keep invalidating each other.
	ErrNotConverged = errors.New("checksum: repair did not converge")
)

// Algorithm folds data into a checksum. step is the accumulation unit in
// bytes; salt is the stored salt value (0 when none). The result is reduced
// by the caller.
type Algorithm func(data []byte, step int, bigEndian bool, salt uint64) uint64

// Algorithms is a registry of named algorithms.
type Algorithms map[string]Algorithm

// DefaultAlgorithm is used when a checksum names none.
const DefaultAlgorithm = "sum"

// Builtin returns a fresh registry with the stock algorithms.
func Builtin() Algorithms {
	return Algorithms{
		"sum":   Sum,
		"xor":   Xor,
		"crc32": CRC32,
	}
}

// Register adds a named algorithm.
func (a Algorithms) Register(name string, fn Algorithm) error {
	if name == "" || fn == nil {
		return fmt.Errorf("%w: empty algorithm registration", ErrInvalid)
	}
	if _, dup := a[name]; dup {
		return fmt.Errorf("checksum: algorithm %q already registered", name)
	}
	a[name] = fn

	return nil
}

// Lookup returns an algorithm by name; "" selects DefaultAlgorithm.
func (a Algorithms) Lookup(name string) (Algorithm, error) {
	if name == "" {
		name = DefaultAlgorithm
	}
	fn, ok := a[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}

	return fn, nil
}

// Spec describes one checksum over [Start, End).
type Spec struct {
	Start     int
	End       int
	Width     int // bits: 8, 16, 32 or 64
	Step      int // accumulation unit in bytes: 1, 2, 4 or 8
	BigEndian bool
	Algorithm string
}

// Check validates a declaration.
func (s Spec) Check() error {
	switch s.Width {
	case 8, 16, 32, 64:
	default:
		return fmt.Errorf("%w: width %d", ErrInvalid, s.Width)
	}

	switch s.step() {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("%w: step %d", ErrInvalid, s.Step)
	}

	if s.Start < 0 || s.End <= s.Start {
		return fmt.Errorf("%w: range [0x%X,0x%X)", ErrInvalid, s.Start, s.End)
	}
	if (s.End-s.Start)%s.step() != 0 {
		return fmt.Errorf("%w: range [0x%X,0x%X) not a multiple of step %d", ErrInvalid, s.Start, s.End, s.step())
	}

	return nil
}

func (s Spec) step() int {
	if s.Step == 0 {
		return 1
	}

	return s.Step
}

// Mask returns 2^width-1.
func Mask(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}

	return uint64(1)<<width - 1
}

// Compute returns the checksum of buf[Start:End) reduced mod 2^Width.
func Compute(buf []byte, s Spec, salt uint64, algs Algorithms) (uint64, error) {
	if err := s.Check(); err != nil {
		return 0, err
	}
	if s.End > len(buf) {
		return 0, fmt.Errorf("checksum: range [0x%X,0x%X) exceeds buffer 0x%X", s.Start, s.End, len(buf))
	}

	fn, err := algs.Lookup(s.Algorithm)
	if err != nil {
		return 0, err
	}

	return fn(buf[s.Start:s.End], s.step(), s.BigEndian, salt) & Mask(s.Width), nil
}

// Sum adds every word and the salt.
func Sum(data []byte, step int, bigEndian bool, salt uint64) uint64 {
	v := salt
	for i := 0; i+step <= len(data); i += step {
		v += word(data[i:i+step], bigEndian)
	}

	return v
}

// Xor folds every word and the salt with exclusive or.
func Xor(data []byte, step int, bigEndian bool, salt uint64) uint64 {
	v := salt
	for i := 0; i+step <= len(data); i += step {
		v ^= word(data[i:i+step], bigEndian)
	}

	return v
}

// CRC32 is IEEE CRC-32 seeded with the salt.
func CRC32(data []byte, _ int, _ bool, salt uint64) uint64 {
	return uint64(crc32.Update(uint32(salt), crc32.IEEETable, data))
}

func word(b []byte, bigEndian bool) uint64 {
	var v uint64
	if bigEndian {
		for _, x := range b {
			v = v<<8 | uint64(x)
		}
		return v
	}
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}

	return v
}

// Span is the byte range [Start, End).
type Span struct {
	Start, End int
}

func (s Span) overlaps(off, n int) bool { return off < s.End && off+n > s.Start }

// Entry is a tracked checksum: its covered range plus the bytes outside it
// the value also depends on, such as a stored salt.
type Entry struct {
	Key        string
	Start, End int
	Inputs     []Span
}

// touched reports whether a write of n bytes at off changes the checksum.
func (e Entry) touched(off, n int) bool {
	if (Span{e.Start, e.End}).overlaps(off, n) {
		return true
	}
	for _, in := range e.Inputs {
		if in.overlaps(off, n) {
			return true
		}
	}

	return false
}

// Tracker marks checksums dirty when a write lands in their range.
// Not safe for concurrent use.
type Tracker struct {
	entries []Entry
	dirty   map[string]bool
}

// NewTracker builds a tracker over resolved checksum entries.
func NewTracker(entries []Entry) *Tracker {
	return &Tracker{entries: entries, dirty: map[string]bool{}}
}

// Entries returns the tracked checksums.
func (t *Tracker) Entries() []Entry { return t.entries }

// Add records a write of n bytes at off and returns the keys it dirtied.
func (t *Tracker) Add(off, n int) []string {
	var hit []string
	for _, e := range t.entries {
		if e.touched(off, n) {
			if !t.dirty[e.Key] {
				hit = append(hit, e.Key)
			}
			t.dirty[e.Key] = true
		}
	}

	return hit
}

// Clear marks a checksum clean.
func (t *Tracker) Clear(key string) { delete(t.dirty, key) }

// IsDirty reports whether a checksum awaits repair.
func (t *Tracker) IsDirty(key string) bool { return t.dirty[key] }

// Len returns the number of dirty checksums.
func (t *Tracker) Len() int { return len(t.dirty) }

// Dirty returns dirty keys, innermost (shortest) range first.
func (t *Tracker) Dirty() []string {
	var out []Entry
	for _, e := range t.entries {
		if t.dirty[e.Key] {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := out[i].End-out[i].Start, out[j].End-out[j].Start
		if li != lj {
			return li < lj
		}
		return out[i].Start < out[j].Start
	})

	keys := make([]string, len(out))
	for i, e := range out {
		keys[i] = e.Key
	}

	return keys
}

// Settle calls repair for dirty checksums until none remain. repair must
// clear the key it fixes; writes it makes may dirty outer checksums.
func (t *Tracker) Settle(repair func(key string) error) error {
	limit := len(t.entries)*len(t.entries) + 1
	for round := 0; t.Len() > 0; round++ {
		if round >= limit {
			return fmt.Errorf("%w: %v still dirty", ErrNotConverged, t.Dirty())
		}

		key := t.Dirty()[0]
		if err := repair(key); err != nil {
			return err
		}
	}

	return nil
}
