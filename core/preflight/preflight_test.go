package preflight

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFreshness(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.True(t, Record{OK: true, CheckedAt: now.Add(-time.Minute)}.Fresh(now, 10*time.Minute))
	assert.False(t, Record{OK: true, CheckedAt: now.Add(-time.Hour)}.Fresh(now, 10*time.Minute))
	assert.False(t, Record{OK: false, CheckedAt: now}.Fresh(now, 10*time.Minute))
	assert.False(t, Record{OK: true}.Fresh(now, 10*time.Minute))
}

func TestRecordMatchesToken(t *testing.T) {
	record := Record{OK: true, TokenHash: HashToken("secret")}

	assert.True(t, record.Matches("secret"))
	assert.False(t, record.Matches("rotated"))
	assert.Empty(t, HashToken(""))
}

func testStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "github")
	require.NoError(t, err)
	assert.False(t, ok)

	checked := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.Put(ctx, "github", Record{OK: true, CheckedAt: checked, TokenHash: HashToken("t")}))

	record, ok, err := store.Get(ctx, "github")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, record.OK)
	assert.True(t, record.Matches("t"))

	require.NoError(t, store.Revoke(ctx, "github"))
	record, ok, err = store.Get(ctx, "github")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, record.OK)
	assert.True(t, record.Matches("t"), "revocation keeps the token hash")

	_, _, err = store.Get(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestSQLStore(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "preflight.db"))
	require.NoError(t, err)
	defer store.Close()

	testStore(t, store)
}
