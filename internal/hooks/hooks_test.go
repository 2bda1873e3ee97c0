package hooks

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woozymasta/savetpl/internal/codec"
	"github.com/woozymasta/savetpl/internal/resource"
	"github.com/woozymasta/savetpl/internal/template"
)

// fakeContext stores raw values by id and records writes.
type fakeContext struct {
	key    string
	values map[string]int64
	writes []string
}

func (f *fakeContext) Len() int { return 0 }
func (f *fakeContext) ReadInt(int, codec.DataType, codec.Options) (int64, error) {
	return 0, codec.ErrOutOfBounds
}
func (f *fakeContext) Bytes(int, int) ([]byte, error)   { return nil, codec.ErrOutOfBounds }
func (f *fakeContext) Key() string                      { return f.key }
func (f *fakeContext) Path() []int                      { return nil }
func (f *fakeContext) GetInt(id string) (int64, error)  { return f.values[id], nil }
func (f *fakeContext) Invalidate(...string)             {}
func (f *fakeContext) Repair(string) error              { return nil }
func (f *fakeContext) SetInt(id string, v int64) error {
	f.values[id] = v
	f.writes = append(f.writes, id)
	return nil
}

var curve = []int64{0, 10, 30, 60, 100, 150}

// set mimics a session write followed by the after-set hook.
func set(t *testing.T, r *Registry, ctx *fakeContext, id string, v int64) {
	t.Helper()

	ctx.key = id
	ctx.values[id] = v
	b := r.Bundle(id)
	require.NotNil(t, b)
	require.NoError(t, Call(id, PhaseAfterSetInt, func() error {
		return b.AfterSetInt(ctx, SetEvent{Value: v})
	}))
}

func TestLevelForBreakpoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		exp  int64
		want int64
	}{
		{exp: -5, want: 0},
		{exp: 0, want: 0},
		{exp: 9, want: 0},
		{exp: 10, want: 1},
		{exp: 29, want: 1},
		{exp: 30, want: 2},
		{exp: 150, want: 5},
		{exp: 9999, want: 5},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(curve, tt.exp), "exp=%d", tt.exp)
	}
}

func TestLevelCurveRoundTrip(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, LevelCurve(r, "exp", "level", curve))

	for lvl, threshold := range curve {
		ctx := &fakeContext{values: map[string]int64{}}

		// exactly on the breakpoint
		set(t, r, ctx, "exp", threshold)
		assert.Equal(t, int64(lvl), ctx.values["level"], "exp=%d", threshold)

		// strictly between this breakpoint and the next
		if lvl+1 < len(curve) && curve[lvl+1]-threshold > 1 {
			mid := threshold + (curve[lvl+1]-threshold)/2
			set(t, r, ctx, "exp", mid)
			assert.Equal(t, int64(lvl), ctx.values["level"], "exp=%d", mid)

			// a consistent level write leaves exp alone
			ctx.writes = nil
			set(t, r, ctx, "level", int64(lvl))
			assert.Equal(t, mid, ctx.values["exp"])
			assert.Empty(t, ctx.writes)
		}

		// setting the level from elsewhere resets exp to its threshold
		ctx.values["exp"] = 0
		set(t, r, ctx, "level", int64(lvl))
		assert.Equal(t, threshold, ctx.values["exp"], "level=%d", lvl)
		assert.Equal(t, int64(lvl), LevelFor(curve, ctx.values["exp"]))
	}
}

func TestLevelCurveRejectsBadInput(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, LevelCurve(NewRegistry(), "exp", "level", nil), ErrCurve)
	require.ErrorIs(t, LevelCurve(NewRegistry(), "exp", "level", []int64{0, 10, 5}), ErrCurve)

	r := NewRegistry()
	require.NoError(t, LevelCurve(r, "exp", "level", curve))
	ctx := &fakeContext{values: map[string]int64{}}
	err := Call("level", PhaseAfterSetInt, func() error {
		return r.Bundle("level").AfterSetInt(ctx, SetEvent{Value: 99})
	})
	require.ErrorIs(t, err, ErrCurve)
}

func TestCallIsolatesFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	err := Call("hp", PhaseGetInt, func() error { return boom })

	var he *Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "hp", he.ID)
	assert.Equal(t, PhaseGetInt, he.Phase)
	require.ErrorIs(t, err, boom)

	err = Call("hp", PhaseSetInt, func() error { panic("nil map") })
	require.ErrorAs(t, err, &he)
	assert.Contains(t, err.Error(), "nil map")

	require.NoError(t, Call("hp", PhaseItem, func() error { return nil }))
}

func TestRegisterMergesAndDetectsConflicts(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	get := func(Context) (int64, bool, error) { return 1, true, nil }
	after := func(Context, SetEvent) error { return nil }

	require.NoError(t, r.Register("hp", Bundle{GetInt: get, Invalidates: []string{"a"}}))
	require.NoError(t, r.Register("hp", Bundle{AfterSetInt: after, Invalidates: []string{"b"}}))

	b := r.Bundle("hp")
	require.NotNil(t, b)
	assert.NotNil(t, b.GetInt)
	assert.NotNil(t, b.AfterSetInt)
	assert.Equal(t, []string{"a", "b"}, b.Invalidates)

	require.ErrorIs(t, r.Register("hp", Bundle{GetInt: get}), ErrConflict)
	require.ErrorIs(t, r.Register("", Bundle{}), ErrUnbound)

	require.NoError(t, r.RegisterAll([]string{"mp", "sp"}, Bundle{GetInt: get}))
	assert.Equal(t, []string{"hp", "mp", "sp"}, r.IDs())
	assert.Nil(t, r.Bundle("xp"))

	var nilReg *Registry
	assert.Nil(t, nilReg.Bundle("hp"))
}

func bindTemplate(t *testing.T) *template.Template {
	t.Helper()

	tmpl, err := template.Parse([]byte(`
resources:
  towns: {0: Aldea}
  slots: {dynamic: true}
items:
  - {type: variable, id: hp, dataType: uint8}
  - {type: checksum, id: sum, offset: 8, algorithm: fletcher, control: {offsetStart: 0, offsetEnd: 8}}
`), template.FormatYAML)
	require.NoError(t, err)

	return tmpl
}

func TestBind(t *testing.T) {
	t.Parallel()

	tmpl := bindTemplate(t)

	r := NewRegistry()
	require.NoError(t, r.Register("hp", Bundle{Invalidates: []string{"slots"}}))
	require.NoError(t, r.Provide("slots", func([]byte) (resource.Table, []resource.Span, error) { return nil, nil, nil }))
	require.NoError(t, r.Algorithm("fletcher", func([]byte, int, bool, uint64) uint64 { return 0 }))
	require.NoError(t, r.Bind(tmpl))

	bad := NewRegistry()
	require.NoError(t, bad.Register("hpp", Bundle{}))
	require.NoError(t, bad.Register("hp", Bundle{Invalidates: []string{"ghosts"}}))
	require.NoError(t, bad.Provide("towns", nil))
	err := bad.Bind(tmpl)
	require.ErrorIs(t, err, ErrUnbound)
	assert.Contains(t, err.Error(), `"hpp"`)
	assert.Contains(t, err.Error(), `"ghosts"`)
	assert.Contains(t, err.Error(), `"towns"`)
	assert.Contains(t, err.Error(), "fletcher")
}

func TestMerge(t *testing.T) {
	t.Parallel()

	a := NewRegistry()
	require.NoError(t, a.Register("hp", Bundle{GetInt: func(Context) (int64, bool, error) { return 0, false, nil }}))

	b := NewRegistry()
	require.NoError(t, b.Register("hp", Bundle{AfterSetInt: func(Context, SetEvent) error { return nil }}))
	require.NoError(t, b.Algorithm("zero", func([]byte, int, bool, uint64) uint64 { return 0 }))

	require.NoError(t, a.Merge(b))
	require.NoError(t, a.Merge(nil))
	assert.NotNil(t, a.Bundle("hp").AfterSetInt)
	_, err := a.Algorithms().Lookup("zero")
	require.NoError(t, err)

	require.ErrorIs(t, a.Merge(b), ErrConflict)
}
