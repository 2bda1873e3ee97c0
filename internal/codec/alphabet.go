package codec

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// escapeBase is the private-use block that carries byte codes missing from
// an alphabet, so unknown bytes decode and re-encode unchanged.
const escapeBase = 0xE000

// Alphabet maps single-byte codes to characters.
type Alphabet struct {
	Name   string
	Pad    byte // filler written after the text and trimmed on decode
	decode [256]rune
	known  [256]bool
	encode map[rune]byte
}

// NewAlphabet builds an alphabet from a code table. Every entry must be a
// single character; when two codes share a character the lowest code is
// used for encoding.
func NewAlphabet(name string, table map[int]string, pad byte) (*Alphabet, error) {
	a := &Alphabet{Name: name, Pad: pad, encode: make(map[rune]byte, len(table))}

	codes := make([]int, 0, len(table))
	for code := range table {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	for _, code := range codes {
		if code < 0 || code > 0xFF {
			return nil, fmt.Errorf("alphabet %q: code %d out of byte range", name, code)
		}

		s := table[code]
		r, size := utf8.DecodeRuneInString(s)
		if s == "" || size != len(s) {
			return nil, fmt.Errorf("alphabet %q: code 0x%02X must map to one character, got %q", name, code, s)
		}
		if r >= escapeBase && r <= escapeBase+0xFF {
			return nil, fmt.Errorf("alphabet %q: code 0x%02X uses reserved rune %U", name, code, r)
		}

		a.set(byte(code), r)
	}

	return a, nil
}

// ASCII returns the printable ASCII alphabet padded with NUL.
func ASCII() *Alphabet {
	a := &Alphabet{Name: "ascii", encode: map[rune]byte{}}
	for b := 0x20; b < 0x7F; b++ {
		a.set(byte(b), rune(b))
	}

	return a
}

var codePages = map[string]*charmap.Charmap{
	"windows1252": charmap.Windows1252,
	"windows1251": charmap.Windows1251,
	"cp437":       charmap.CodePage437,
	"cp850":       charmap.CodePage850,
	"iso8859_1":   charmap.ISO8859_1,
	"iso8859_15":  charmap.ISO8859_15,
}

// Named returns a built-in alphabet: "ascii" or a single-byte code page.
func Named(name string) (*Alphabet, bool) {
	name = strings.ToLower(name)
	if name == "" || name == "ascii" {
		return ASCII(), true
	}

	cm, ok := codePages[name]
	if !ok {
		return nil, false
	}

	a := &Alphabet{Name: name, encode: map[rune]byte{}}
	for b := 1; b < 256; b++ {
		r := cm.DecodeByte(byte(b))
		if r == utf8.RuneError {
			continue
		}
		a.set(byte(b), r)
	}

	return a, true
}

// set records code b for rune r.
func (a *Alphabet) set(b byte, r rune) {
	a.decode[b] = r
	a.known[b] = true
	if _, dup := a.encode[r]; !dup {
		a.encode[r] = b
	}
}

// Decode converts raw codes to text, trimming trailing pad bytes.
func (a *Alphabet) Decode(raw []byte) string {
	end := len(raw)
	for end > 0 && raw[end-1] == a.Pad {
		end--
	}

	var sb strings.Builder
	for _, b := range raw[:end] {
		if a.known[b] {
			sb.WriteRune(a.decode[b])
			continue
		}
		sb.WriteRune(rune(escapeBase + int(b)))
	}

	return sb.String()
}

// Encode converts text into exactly length codes, padding the remainder.
func (a *Alphabet) Encode(s string, length int) ([]byte, error) {
	out := make([]byte, 0, length)
	for _, r := range s {
		if len(out) == length {
			return nil, fmt.Errorf("%w: %q longer than %d codes", ErrOverflow, s, length)
		}

		if b, ok := a.encode[r]; ok {
			out = append(out, b)
			continue
		}
		if r >= escapeBase && r <= escapeBase+0xFF {
			out = append(out, byte(r-escapeBase))
			continue
		}

		return nil, fmt.Errorf("%w: %q has no code in alphabet %q", ErrOverflow, r, a.Name)
	}

	for len(out) < length {
		out = append(out, a.Pad)
	}

	return out, nil
}

// ReadString decodes a fixed-length string at offset.
func ReadString(buf []byte, offset, length int, a *Alphabet) (string, error) {
	if err := checkBounds(buf, offset, length); err != nil {
		return "", err
	}

	return a.Decode(buf[offset : offset+length]), nil
}

// WriteString encodes s into the field at offset. Nothing is written when
// the text cannot be encoded.
func WriteString(buf []byte, offset, length int, a *Alphabet, s string) error {
	if err := checkBounds(buf, offset, length); err != nil {
		return err
	}

	raw, err := a.Encode(s, length)
	if err != nil {
		return err
	}

	copy(buf[offset:offset+length], raw)

	return nil
}
