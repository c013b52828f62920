package kvstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// conformance exercises the Store contract against any backend.
func conformance(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	dbs := NewDatabases("run1-")

	// ==== Single-field writes ====

	require.NoError(t, store.HSet(ctx, dbs.Redirects, "Alias", "Target"))

	got, err := store.HGet(ctx, dbs.Redirects, "Alias")
	require.NoError(t, err)
	assert.Equal(t, "Target", got)

	_, err = store.HGet(ctx, dbs.Redirects, "Absent")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := store.HExists(ctx, dbs.Redirects, "Alias")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.HExists(ctx, dbs.Redirects, "Absent")
	require.NoError(t, err)
	assert.False(t, ok)

	// ==== Batch writes and reads ====

	require.NoError(t, store.HMSet(ctx, dbs.Media, map[string]string{
		"Foo.jpg": "300",
		"Bar.png": "9999999",
	}))
	keys, err := store.HKeys(ctx, dbs.Media)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Foo.jpg", "Bar.png"}, keys)

	all, err := store.HGetAll(ctx, dbs.Media)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Foo.jpg": "300", "Bar.png": "9999999"}, all)

	// Databases do not bleed into each other.
	keys, err = store.HKeys(ctx, dbs.Details)
	require.NoError(t, err)
	assert.Empty(t, keys)

	// ==== Deletion ====

	require.NoError(t, store.HDel(ctx, dbs.Media, "Foo.jpg", "NeverExisted"))
	_, err = store.HGet(ctx, dbs.Media, "Foo.jpg")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Del(ctx, dbs.All()...))
	keys, err = store.HKeys(ctx, dbs.Media)
	require.NoError(t, err)
	assert.Empty(t, keys)
	keys, err = store.HKeys(ctx, dbs.Redirects)
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, store.Flush(ctx))
}

func TestBadgerStoreConformance(t *testing.T) {
	store, err := OpenBadger(t.TempDir())
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	conformance(t, store)
}

func TestRedisStoreConformance(t *testing.T) {
	srv := miniredis.RunT(t)

	store, err := OpenRedis(context.Background(), srv.Addr())
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	ctx := context.Background()
	dbs := NewDatabases("run1-")

	require.NoError(t, store.HSet(ctx, dbs.Redirects, "Alias", "Target"))
	got, err := store.HGet(ctx, dbs.Redirects, "Alias")
	require.NoError(t, err)
	assert.Equal(t, "Target", got)

	_, err = store.HGet(ctx, dbs.Redirects, "Absent")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.HMSet(ctx, dbs.Media, map[string]string{
		"Foo.jpg": "300",
		"Bar.png": "120",
	}))
	keys, err := store.HKeys(ctx, dbs.Media)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Foo.jpg", "Bar.png"}, keys)

	require.NoError(t, store.HDel(ctx, dbs.Media, "Foo.jpg"))
	require.NoError(t, store.Del(ctx, dbs.All()...))
	keys, err = store.HKeys(ctx, dbs.Media)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDatabaseNaming(t *testing.T) {
	dbs := NewDatabases("abc-")
	assert.Equal(t, "abc-r", dbs.Redirects)
	assert.Equal(t, "abc-d", dbs.Details)
	assert.Equal(t, "abc-m", dbs.Media)
	assert.Equal(t, "abc-c", dbs.MediaCheck)
	assert.Len(t, dbs.All(), 4)
}
