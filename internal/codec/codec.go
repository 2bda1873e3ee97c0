// Package codec reads and writes typed values in a save buffer.
package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfBounds indicates an access that does not fit in the buffer.
	ErrOutOfBounds = errors.New("codec: offset out of bounds")
	// ErrUnknownDataType indicates a data type name missing from the registry.
	ErrUnknownDataType = errors.New("codec: unknown data type")
	// ErrOverflow indicates a value that is not representable in the field width.
	ErrOverflow = errors.New("codec: value out of range")
	// ErrBadOptions indicates bit/nibble options outside the byte.
	ErrBadOptions = errors.New("codec: invalid options")
)

// DataType is the declared storage type of a variable.
type DataType string

// Data types known to the registry.
const (
	Uint8  DataType = "uint8"
	Uint16 DataType = "uint16"
	Uint24 DataType = "uint24"
	Uint32 DataType = "uint32"
	Uint64 DataType = "uint64"
	Int8   DataType = "int8"
	Int16  DataType = "int16"
	Int24  DataType = "int24"
	Int32  DataType = "int32"
	Int64  DataType = "int64"
	Bit    DataType = "bit"
	Lower4 DataType = "lower4"
	String DataType = "string"
)

// Kind groups data types by access strategy.
type Kind int

const (
	// KindInt is a whole-byte integer (optionally a binary sub-field).
	KindInt Kind = iota

	// KindBit is a single bit.
	KindBit

	// KindNibble is one half of a shared byte.
	KindNibble

	// KindString is a fixed-length run of alphabet codes.
	KindString
)

// Descriptor describes how a data type is laid out.
type Descriptor struct {
	Name   DataType
	Kind   Kind
	Size   int // byte width for KindInt, 1 for bit/nibble, 0 for strings
	Signed bool
}

var registry = map[DataType]Descriptor{
	Uint8:  {Name: Uint8, Kind: KindInt, Size: 1},
	Uint16: {Name: Uint16, Kind: KindInt, Size: 2},
	Uint24: {Name: Uint24, Kind: KindInt, Size: 3},
	Uint32: {Name: Uint32, Kind: KindInt, Size: 4},
	Uint64: {Name: Uint64, Kind: KindInt, Size: 8},
	Int8:   {Name: Int8, Kind: KindInt, Size: 1, Signed: true},
	Int16:  {Name: Int16, Kind: KindInt, Size: 2, Signed: true},
	Int24:  {Name: Int24, Kind: KindInt, Size: 3, Signed: true},
	Int32:  {Name: Int32, Kind: KindInt, Size: 4, Signed: true},
	Int64:  {Name: Int64, Kind: KindInt, Size: 8, Signed: true},
	Bit:    {Name: Bit, Kind: KindBit, Size: 1},
	Lower4: {Name: Lower4, Kind: KindNibble, Size: 1},
	String: {Name: String, Kind: KindString},
}

// Lookup returns the descriptor for a data type name.
func Lookup(dt DataType) (Descriptor, error) {
	d, ok := registry[dt]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownDataType, string(dt))
	}

	return d, nil
}

// Options carries the per-variable layout details.
type Options struct {
	BigEndian bool
	Bit       int // bit index for Bit
	BitStart  int // first bit of a binary sub-field
	BitLength int // binary sub-field width; 0 means whole value
	Nibble    int // logical index for Lower4
	Length    int // byte length for String
}

// Binary reports whether the options select a sub-byte field.
func (o Options) Binary() bool { return o.BitLength > 0 }

// Check validates options against a descriptor.
func (o Options) Check(d Descriptor) error {
	switch d.Kind {
	case KindBit:
		if o.Bit < 0 || o.Bit > 7 {
			return fmt.Errorf("%w: bit %d", ErrBadOptions, o.Bit)
		}

	case KindNibble:
		if o.Nibble < 0 {
			return fmt.Errorf("%w: nibble %d", ErrBadOptions, o.Nibble)
		}

	case KindString:
		if o.Length <= 0 {
			return fmt.Errorf("%w: string length %d", ErrBadOptions, o.Length)
		}

	case KindInt:
		if !o.Binary() {
			return nil
		}
		if d.Size != 1 {
			return fmt.Errorf("%w: binary field on %s", ErrBadOptions, d.Name)
		}
		if o.BitStart < 0 || o.BitStart > 7 || o.BitStart+o.BitLength > 8 {
			return fmt.Errorf("%w: binary %d+%d", ErrBadOptions, o.BitStart, o.BitLength)
		}
	}

	return nil
}

// Span returns the byte range [off, off+n) touched by an access.
func Span(d Descriptor, offset int, o Options) (int, int) {
	switch d.Kind {
	case KindNibble:
		return offset + o.Nibble/2, 1
	case KindString:
		return offset, o.Length
	default:
		return offset, d.Size
	}
}

// checkBounds validates that [off, off+n) is inside buf.
func checkBounds(buf []byte, off, n int) error {
	if off < 0 || n < 0 || off > len(buf) || n > len(buf)-off {
		return fmt.Errorf("%w: [0x%X,+%d) len=0x%X", ErrOutOfBounds, off, n, len(buf))
	}

	return nil
}
