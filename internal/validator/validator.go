// Package validator confirms that a buffer is a save file of the expected
// format and detects its regional variant.
package validator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrInvalidSave indicates that no region signature matched.
var ErrInvalidSave = errors.New("validator: not a valid save file")

// Signature is a fixed byte sequence expected at a fixed offset.
type Signature struct {
	Offset int
	Bytes  []byte
}

// Region is a named variant recognised by its signatures.
type Region struct {
	Name       string
	Signatures []Signature
}

// Validator holds the region signatures and user-facing strings of a template.
type Validator struct {
	Regions []Region
	Prompt  string // shown when asking for a file
	Error   string // shown when a file does not match
}

// Validate returns the first region whose signatures all match and its index.
// A validator without regions accepts any buffer as region "" index 0.
func (v Validator) Validate(buf []byte) (Region, int, error) {
	if len(v.Regions) == 0 {
		return Region{}, 0, nil
	}

	for i, r := range v.Regions {
		if r.Match(buf) {
			return r, i, nil
		}
	}

	if v.Error != "" {
		return Region{}, -1, fmt.Errorf("%w: %s", ErrInvalidSave, v.Error)
	}

	return Region{}, -1, ErrInvalidSave
}

// Region returns the named region and its index.
func (v Validator) Region(name string) (Region, int, bool) {
	for i, r := range v.Regions {
		if r.Name == name {
			return r, i, true
		}
	}

	return Region{}, -1, false
}

// Match reports whether every signature of the region is present in buf.
func (r Region) Match(buf []byte) bool {
	for _, s := range r.Signatures {
		end := s.Offset + len(s.Bytes)
		if s.Offset < 0 || end > len(buf) {
			return false
		}
		if !bytes.Equal(buf[s.Offset:end], s.Bytes) {
			return false
		}
	}

	return true
}

// Extent returns the number of leading bytes needed to check every signature.
func (v Validator) Extent() int {
	n := 0
	for _, r := range v.Regions {
		for _, s := range r.Signatures {
			if end := s.Offset + len(s.Bytes); end > n {
				n = end
			}
		}
	}

	return n
}

// ValidateFile reads only the header bytes of a file and validates them.
func ValidateFile(v Validator, path string) (region Region, index int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return Region{}, -1, err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	hdr := make([]byte, v.Extent())
	n, err := io.ReadFull(f, hdr)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Region{}, -1, err
	}

	return v.Validate(hdr[:n])
}
