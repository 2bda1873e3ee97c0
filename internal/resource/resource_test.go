package resource

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeAssignsBases(t *testing.T) {
	t.Parallel()

	weapons := Table{0: "Knife", 1: "Sword", 2: "Axe"}
	armor := Table{0: "Cloth", 4: "Plate"}
	items := Table{1: "Potion"}

	parts, err := Compose([]string{"weapons", "armor", "items"}, []Table{weapons, armor, items})
	require.NoError(t, err)
	require.Len(t, parts, 3)

	assert.Equal(t, 0, parts[0].Base)
	assert.Equal(t, 3, parts[1].Base)
	assert.Equal(t, 8, parts[2].Base)

	p, k, ok := Resolve(parts, 7)
	require.True(t, ok)
	assert.Equal(t, "armor", p.Name)
	assert.Equal(t, 4, k)

	_, _, ok = Resolve(parts, 5)
	assert.False(t, ok)

	flat := Flatten(parts)
	assert.Equal(t, "Potion", flat[9])
	assert.Equal(t, "Axe", flat[2])
}

func TestComposeIsInjective(t *testing.T) {
	t.Parallel()

	tables := []Table{
		{0: "a", 2: "b", 9: "c"},
		{},
		{0: "d", 1: "e"},
		{5: "f", 3: "g"},
	}
	names := []string{"one", "empty", "two", "three"}

	parts, err := Compose(names, tables)
	require.NoError(t, err)

	seen := map[int]string{}
	for i, p := range parts {
		for k := range tables[i] {
			ck := p.Base + k
			_, dup := seen[ck]
			require.False(t, dup, "composed key %d reused", ck)
			seen[ck] = p.Name

			got, src, ok := Resolve(parts, ck)
			require.True(t, ok)
			assert.Equal(t, p.Name, got.Name)
			assert.Equal(t, k, src)
		}
	}
}

func TestCheckDisjointRejectsOverlap(t *testing.T) {
	t.Parallel()

	parts := []Part{
		{Name: "a", Base: 0, Table: Table{0: "x", 4: "y"}},
		{Name: "b", Base: 2, Table: Table{2: "z"}},
	}
	require.ErrorIs(t, CheckDisjoint(parts), ErrCollision)

	_, err := Compose([]string{"neg"}, []Table{{-1: "bad"}})
	require.Error(t, err)
}

func TestSetStaticVariantComposed(t *testing.T) {
	t.Parallel()

	s, err := NewSet([]Definition{
		{Name: "weapons", Kind: Static, Table: Table{0: "Knife", 1: "Sword"}},
		{Name: "armor", Kind: Static, Table: Table{0: "Cloth"}},
		{Name: "gear", Kind: Composed, Parts: []string{"weapons", "armor"}},
		{Name: "towns", Kind: Variants, Variants: []Table{{0: "Aldea"}, {0: "Mura"}}},
	}, map[string][]Label{"gear": {{Text: "Armor", Start: 2, End: 3}}})
	require.NoError(t, err)

	label, ok, err := s.Label("gear", 2, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Cloth", label)

	label, _, _ = s.Label("towns", 0, nil)
	assert.Equal(t, "Aldea", label)
	s.SetRegion(1)
	label, _, _ = s.Label("towns", 0, nil)
	assert.Equal(t, "Mura", label)
	s.SetRegion(7)
	label, _, _ = s.Label("towns", 0, nil)
	assert.Equal(t, "Aldea", label)

	_, ok, err = s.Label("weapons", 9, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.Label("nope", 0, nil)
	require.ErrorIs(t, err, ErrUnknown)

	assert.Equal(t, []Label{{Text: "Armor", Start: 2, End: 3}}, s.Labels("gear"))
}

func TestNewSetRejectsBadComposition(t *testing.T) {
	t.Parallel()

	_, err := NewSet([]Definition{{Name: "gear", Kind: Composed, Parts: []string{"missing"}}}, nil)
	require.ErrorIs(t, err, ErrUnknown)

	_, err = NewSet([]Definition{
		{Name: "slots", Kind: Dynamic},
		{Name: "gear", Kind: Composed, Parts: []string{"slots"}},
	}, nil)
	require.Error(t, err)
}

func TestDynamicCacheAndInvalidate(t *testing.T) {
	t.Parallel()

	s, err := NewSet([]Definition{{Name: "slots", Kind: Dynamic}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"slots"}, s.Unprovided())

	_, err = s.Table("slots", nil)
	require.ErrorIs(t, err, ErrNoProvider)

	calls := 0
	require.NoError(t, s.Provide("slots", func(buf []byte) (Table, []Span, error) {
		calls++
		out := Table{}
		for i := 0; i < 4; i++ {
			if buf[i] != 0 {
				out[i] = "occupied"
			}
		}
		return out, []Span{{Offset: 0, Length: 4}}, nil
	}))
	assert.Empty(t, s.Unprovided())

	buf := []byte{1, 0, 0, 0, 9, 9}

	tbl, err := s.Table("slots", buf)
	require.NoError(t, err)
	assert.Len(t, tbl, 1)
	assert.Equal(t, 1, calls)

	// bytes outside the scanned span do not refresh
	buf[5] = 3
	_, err = s.Table("slots", buf)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// a change inside the span does
	buf[2] = 1
	tbl, err = s.Table("slots", buf)
	require.NoError(t, err)
	assert.Len(t, tbl, 2)
	assert.Equal(t, 2, calls)

	s.Invalidate("slots")
	_, err = s.Table("slots", buf)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	s.Invalidate()
	_, err = s.Table("slots", buf)
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestDynamicProviderError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	s, err := NewSet([]Definition{{Name: "slots", Kind: Dynamic}, {Name: "plain", Table: Table{}}}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Provide("slots", func([]byte) (Table, []Span, error) { return nil, nil, boom }))

	_, err = s.Table("slots", []byte{0})
	require.ErrorIs(t, err, boom)

	require.Error(t, s.Provide("plain", nil))
	require.ErrorIs(t, s.Provide("ghost", nil), ErrUnknown)
}
