package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestUint16LittleEndian covers a little-endian uint16 at 0x10 set to 300.
func TestUint16LittleEndian(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 0x20)
	require.NoError(t, WriteInt(buf, 0x10, Uint16, 300, Options{}))

	v, err := ReadInt(buf, 0x10, Uint16, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(300), v)
	assert.Equal(t, []byte{0x2C, 0x01}, buf[0x10:0x12])
}

func TestIntegerRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		dt   DataType
		big  bool
		vals []int64
		raw  []byte // expected bytes for vals[0]
	}{
		{name: "uint8", dt: Uint8, vals: []int64{0xAB, 0, 255}, raw: []byte{0xAB}},
		{name: "int8", dt: Int8, vals: []int64{-2, 127, -128}, raw: []byte{0xFE}},
		{name: "uint16be", dt: Uint16, big: true, vals: []int64{0x1234, 0xFFFF}, raw: []byte{0x12, 0x34}},
		{name: "uint24le", dt: Uint24, vals: []int64{0x123456, 0xFFFFFF}, raw: []byte{0x56, 0x34, 0x12}},
		{name: "uint24be", dt: Uint24, big: true, vals: []int64{0x123456}, raw: []byte{0x12, 0x34, 0x56}},
		{name: "int24", dt: Int24, vals: []int64{-1, -0x800000, 0x7FFFFF}, raw: []byte{0xFF, 0xFF, 0xFF}},
		{name: "int16be", dt: Int16, big: true, vals: []int64{-300}, raw: []byte{0xFE, 0xD4}},
		{name: "uint32", dt: Uint32, vals: []int64{0xDEADBEEF}, raw: []byte{0xEF, 0xBE, 0xAD, 0xDE}},
		{name: "int32", dt: Int32, vals: []int64{-5}, raw: []byte{0xFB, 0xFF, 0xFF, 0xFF}},
		{
			name: "uint64be",
			dt:   Uint64,
			big:  true,
			vals: []int64{0x0102030405060708, -1},
			raw:  []byte{1, 2, 3, 4, 5, 6, 7, 8},
		},
		{name: "int64", dt: Int64, vals: []int64{-42}, raw: []byte{0xD6, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := Options{BigEndian: tt.big}
			for i, want := range tt.vals {
				buf := make([]byte, 12)
				require.NoError(t, WriteInt(buf, 2, tt.dt, want, opts))

				got, err := ReadInt(buf, 2, tt.dt, opts)
				require.NoError(t, err)
				assert.Equal(t, want, got)

				if i == 0 {
					assert.Equal(t, tt.raw, buf[2:2+len(tt.raw)])
				}
			}
		})
	}
}

func TestWriteIntOverflow(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 4)
	assert.ErrorIs(t, WriteInt(buf, 0, Uint8, 256, Options{}), ErrOverflow)
	assert.ErrorIs(t, WriteInt(buf, 0, Uint16, -1, Options{}), ErrOverflow)
	assert.ErrorIs(t, WriteInt(buf, 0, Int8, 128, Options{}), ErrOverflow)
	assert.ErrorIs(t, WriteInt(buf, 0, Bit, 2, Options{}), ErrOverflow)
	assert.ErrorIs(t, WriteInt(buf, 0, Lower4, 16, Options{}), ErrOverflow)
	assert.Equal(t, make([]byte, 4), buf)
}

// TestBitIsolation covers writing bit 3 at 0x20 leaving the rest untouched.
func TestBitIsolation(t *testing.T) {
	t.Parallel()

	for _, start := range []byte{0x00, 0xFF, 0xA5, 0x5A} {
		for bit := 0; bit < 8; bit++ {
			for _, v := range []int64{0, 1} {
				buf := make([]byte, 0x21)
				buf[0x20] = start

				require.NoError(t, WriteInt(buf, 0x20, Bit, v, Options{Bit: bit}))

				mask := byte(1) << bit
				assert.Equal(t, start&^mask, buf[0x20]&^mask, "start=%#x bit=%d", start, bit)

				got, err := ReadInt(buf, 0x20, Bit, Options{Bit: bit})
				require.NoError(t, err)
				assert.Equal(t, v, got)
			}
		}
	}
}

func TestBinarySubField(t *testing.T) {
	t.Parallel()

	buf := []byte{0b1100_0011}
	opts := Options{BitStart: 2, BitLength: 3}

	require.NoError(t, WriteInt(buf, 0, Uint8, 0b101, opts))
	assert.Equal(t, byte(0b1101_0111), buf[0])

	v, err := ReadInt(buf, 0, Uint8, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(0b101), v)

	assert.ErrorIs(t, WriteInt(buf, 0, Uint8, 8, opts), ErrOverflow)
	assert.ErrorIs(t, WriteInt(buf, 0, Uint8, 1, Options{BitStart: 6, BitLength: 3}), ErrBadOptions)
	assert.ErrorIs(t, WriteInt(buf, 0, Uint16, 1, opts), ErrBadOptions)
}

func TestLower4Pairs(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 3)
	for i := 0; i < 6; i++ {
		require.NoError(t, WriteInt(buf, 0, Lower4, int64(i+9), Options{Nibble: i}))
	}

	assert.Equal(t, []byte{0xA9, 0xCB, 0xED}, buf)

	for i := 0; i < 6; i++ {
		v, err := ReadInt(buf, 0, Lower4, Options{Nibble: i})
		require.NoError(t, err)
		assert.Equal(t, int64(i+9), v)
	}
}

func TestBoundsRejectedBeforeMutation(t *testing.T) {
	t.Parallel()

	buf := bytes.Repeat([]byte{0x11}, 4)
	orig := bytes.Clone(buf)

	assert.ErrorIs(t, WriteInt(buf, 3, Uint16, 1, Options{}), ErrOutOfBounds)
	assert.ErrorIs(t, WriteInt(buf, -1, Uint8, 1, Options{}), ErrOutOfBounds)
	assert.ErrorIs(t, WriteInt(buf, 0, Lower4, 1, Options{Nibble: 8}), ErrOutOfBounds)
	assert.ErrorIs(t, WriteString(buf, 2, 3, ASCII(), "abc"), ErrOutOfBounds)
	assert.Equal(t, orig, buf)

	_, err := ReadInt(buf, 1, Uint32, Options{})
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestUnknownDataType(t *testing.T) {
	t.Parallel()

	_, err := Lookup("float128")
	require.ErrorIs(t, err, ErrUnknownDataType)

	_, err = ReadInt(make([]byte, 4), 0, "uint12", Options{})
	require.ErrorIs(t, err, ErrUnknownDataType)
}

func TestStringRoundTrip(t *testing.T) {
	t.Parallel()

	alpha, err := NewAlphabet("game", map[int]string{
		0x01: "A", 0x02: "B", 0x03: "C", 0x10: " ", 0x20: "é",
	}, 0xFF)
	require.NoError(t, err)

	buf := bytes.Repeat([]byte{0x00}, 8)
	require.NoError(t, WriteString(buf, 1, 6, alpha, "CAB é"))
	assert.Equal(t, []byte{0x00, 0x03, 0x01, 0x02, 0x10, 0x20, 0xFF, 0x00}, buf)

	s, err := ReadString(buf, 1, 6, alpha)
	require.NoError(t, err)
	assert.Equal(t, "CAB é", s)

	assert.ErrorIs(t, WriteString(buf, 1, 6, alpha, "ABCABCA"), ErrOverflow)
	assert.ErrorIs(t, WriteString(buf, 1, 6, alpha, "Z"), ErrOverflow)
}

func TestStringUnknownBytesRoundTrip(t *testing.T) {
	t.Parallel()

	alpha, err := NewAlphabet("game", map[int]string{0x01: "A"}, 0x00)
	require.NoError(t, err)

	raw := []byte{0x01, 0x7E, 0x00, 0x99, 0x01, 0x00}
	s, err := ReadString(raw, 0, len(raw), alpha)
	require.NoError(t, err)

	out := make([]byte, len(raw))
	require.NoError(t, WriteString(out, 0, len(out), alpha, s))
	assert.Equal(t, raw, out)
}

func TestNamedAlphabets(t *testing.T) {
	t.Parallel()

	a, ok := Named("windows1252")
	require.True(t, ok)

	raw, err := a.Encode("Café€", 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{'C', 'a', 'f', 0xE9, 0x80, 0, 0, 0}, raw)
	assert.Equal(t, "Café€", a.Decode(raw))

	_, ok = Named("klingon")
	assert.False(t, ok)

	ascii, ok := Named("")
	require.True(t, ok)
	assert.Equal(t, "ascii", ascii.Name)
}

func TestNewAlphabetRejectsBadTables(t *testing.T) {
	t.Parallel()

	_, err := NewAlphabet("x", map[int]string{0x100: "A"}, 0)
	assert.Error(t, err)

	_, err = NewAlphabet("x", map[int]string{0x01: "AB"}, 0)
	assert.Error(t, err)

	_, err = NewAlphabet("x", map[int]string{0x01: ""}, 0)
	assert.Error(t, err)
}
