package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestDigest(t *testing.T) {
	t.Parallel()

	a := Digest([]byte("DQSV"))
	assert.Len(t, a, 16)
	assert.Equal(t, a, Digest([]byte("DQSV")))
	assert.NotEqual(t, a, Digest([]byte("DQSW")))
}

func TestAppendAndListFollowsSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx,
		Entry{Digest: "d0", Result: "d1", Template: "demo", Path: "a.sav", Key: "gold", Offset: 0x10, Old: []byte{1}, New: []byte{2}, CreatedAt: at},
		Entry{Digest: "d0", Result: "d1", Template: "demo", Path: "a.sav", Key: "town", Offset: 0x18, Old: []byte{0}, New: []byte{1}, CreatedAt: at},
	))
	require.NoError(t, s.Append(ctx,
		Entry{Digest: "d1", Result: "d2", Template: "demo", Path: "a.sav", Key: "hp#0", Offset: 0x2E, Old: []byte{0x5A}, New: []byte{0x53}},
	))
	require.NoError(t, s.Append(ctx,
		Entry{Digest: "x0", Result: "x1", Template: "demo", Path: "b.sav", Key: "gold", Offset: 0x10},
	))

	got, err := s.List(ctx, "d2")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"gold", "town", "hp#0"}, []string{got[0].Key, got[1].Key, got[2].Key})
	assert.True(t, at.Equal(got[0].CreatedAt))
	assert.Equal(t, []byte{0x53}, got[2].New)
	assert.False(t, got[2].CreatedAt.IsZero())

	got, err = s.List(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.List(ctx, "x1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Old)

	got, err = s.List(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListStopsOnCycles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Append(ctx, Entry{Digest: "a", Result: "b", Key: "x"}))
	require.NoError(t, s.Append(ctx, Entry{Digest: "b", Result: "a", Key: "y"}))

	got, err := s.List(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestAppendValidates(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	require.Error(t, s.Append(context.Background(), Entry{Key: "gold"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Append(ctx, Entry{Digest: "a", Result: "b"}), context.Canceled)

	var nilStore *Store
	require.ErrorIs(t, nilStore.Append(context.Background()), ErrNotConfigured)
	require.NoError(t, nilStore.Close())

	_, err := Open(" ")
	require.Error(t, err)
}
