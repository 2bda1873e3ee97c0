package codec

import "fmt"

// ReadInt reads an integer-like value (integer, bit, binary, nibble) at offset.
// 64-bit unsigned values keep their bit pattern in the returned int64.
func ReadInt(buf []byte, offset int, dt DataType, o Options) (int64, error) {
	d, err := Lookup(dt)
	if err != nil {
		return 0, err
	}
	if d.Kind == KindString {
		return 0, fmt.Errorf("%w: %s is not an integer type", ErrBadOptions, dt)
	}
	if err := o.Check(d); err != nil {
		return 0, err
	}

	off, n := Span(d, offset, o)
	if err := checkBounds(buf, off, n); err != nil {
		return 0, err
	}

	switch d.Kind {
	case KindBit:
		return int64(buf[off]>>o.Bit) & 1, nil

	case KindNibble:
		return int64(nibble(buf[off], o.Nibble)), nil
	}

	if o.Binary() {
		return int64(subBits(buf[off], o.BitStart, o.BitLength)), nil
	}

	v := readUint(buf[off:off+n], o.BigEndian)
	if d.Signed {
		return signExtend(v, n), nil
	}

	return int64(v), nil
}

// WriteInt writes an integer-like value at offset. The range is validated
// before the buffer is touched; sibling bits are preserved.
func WriteInt(buf []byte, offset int, dt DataType, v int64, o Options) error {
	d, err := Lookup(dt)
	if err != nil {
		return err
	}
	if d.Kind == KindString {
		return fmt.Errorf("%w: %s is not an integer type", ErrBadOptions, dt)
	}
	if err := o.Check(d); err != nil {
		return err
	}

	off, n := Span(d, offset, o)
	if err := checkBounds(buf, off, n); err != nil {
		return err
	}

	switch d.Kind {
	case KindBit:
		if v != 0 && v != 1 {
			return fmt.Errorf("%w: bit value %d", ErrOverflow, v)
		}
		buf[off] = buf[off]&^(1<<o.Bit) | byte(v)<<o.Bit
		return nil

	case KindNibble:
		if v < 0 || v > 0x0F {
			return fmt.Errorf("%w: nibble value %d", ErrOverflow, v)
		}
		buf[off] = setNibble(buf[off], o.Nibble, byte(v))
		return nil
	}

	if o.Binary() {
		if v < 0 || v >= 1<<o.BitLength {
			return fmt.Errorf("%w: %d does not fit %d bits", ErrOverflow, v, o.BitLength)
		}
		buf[off] = setSubBits(buf[off], o.BitStart, o.BitLength, byte(v))
		return nil
	}

	if err := fits(v, n, d.Signed); err != nil {
		return err
	}

	writeUint(buf[off:off+n], uint64(v), o.BigEndian)

	return nil
}

// readUint assembles len(b) bytes into an unsigned integer.
func readUint(b []byte, bigEndian bool) uint64 {
	var v uint64
	n := len(b)
	for i := 0; i < n; i++ {
		shift := i
		if bigEndian {
			shift = n - 1 - i
		}
		v |= uint64(b[i]) << (8 * shift)
	}

	return v
}

// writeUint spreads v over len(b) bytes.
func writeUint(b []byte, v uint64, bigEndian bool) {
	n := len(b)
	for i := 0; i < n; i++ {
		shift := i
		if bigEndian {
			shift = n - 1 - i
		}
		b[i] = byte(v >> (8 * shift))
	}
}

// signExtend widens an n-byte two's complement value.
func signExtend(v uint64, n int) int64 {
	if n >= 8 {
		return int64(v)
	}

	bits := uint(8 * n)
	if v&(1<<(bits-1)) != 0 {
		v |= ^uint64(0) << bits
	}

	return int64(v)
}

// fits checks that v is representable in n bytes.
func fits(v int64, n int, signed bool) error {
	if n >= 8 {
		return nil
	}

	bits := uint(8 * n)
	if signed {
		lo := -(int64(1) << (bits - 1))
		hi := int64(1)<<(bits-1) - 1
		if v < lo || v > hi {
			return fmt.Errorf("%w: %d not in [%d,%d]", ErrOverflow, v, lo, hi)
		}
		return nil
	}

	hi := int64(1)<<bits - 1
	if v < 0 || v > hi {
		return fmt.Errorf("%w: %d not in [0,%d]", ErrOverflow, v, hi)
	}

	return nil
}

func nibble(b byte, index int) byte {
	if index%2 == 0 {
		return b & 0x0F
	}

	return b >> 4
}

func setNibble(b byte, index int, v byte) byte {
	if index%2 == 0 {
		return b&0xF0 | v&0x0F
	}

	return b&0x0F | v<<4
}

func subBits(b byte, start, length int) byte {
	mask := byte(1<<length - 1)
	return (b >> start) & mask
}

func setSubBits(b byte, start, length int, v byte) byte {
	mask := byte(1<<length-1) << start
	return b&^mask | (v<<start)&mask
}
