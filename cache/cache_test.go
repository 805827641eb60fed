// ABOUTME: Tests for the badger snapshot cache
// ABOUTME: Verifies round trips, expiry, persistence across reopen, and store hydration

package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/huddle/gateway/gatewaytest"
	"github.com/harperreed/huddle/models"
	"github.com/harperreed/huddle/viewmodel"
)

var _ viewmodel.Cache = (*Cache)(nil)

func openMemory(t *testing.T, opts Options) *Cache {
	t.Helper()
	opts.InMemory = true
	c, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSaveAndLoad(t *testing.T) {
	c := openMemory(t, Options{})
	savedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	recs := []models.Record{
		{"id": "t1", "title": "Write notes", "duration_minutes": int64(45), "read": true, "due_at": nil},
		{"id": "t2", "title": "Review", "score": 1.5},
	}
	require.NoError(t, c.Save("p1/tasks", recs, savedAt))

	got, at, ok, err := c.Load("p1/tasks")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(savedAt))
	require.Len(t, got, 2)
	assert.True(t, got[0].Equal(recs[0]), "got %v", got[0])
	assert.Equal(t, int64(45), got[0].Int("duration_minutes"))
	assert.True(t, got[0].Bool("read"))
	assert.Equal(t, 1.5, got[1]["score"])
}

func TestLoadMissing(t *testing.T) {
	c := openMemory(t, Options{})

	recs, _, ok, err := c.Load("nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, recs)
}

func TestEmptySnapshotIsStillASnapshot(t *testing.T) {
	c := openMemory(t, Options{})
	require.NoError(t, c.Save("u1/notifications", nil, time.Now()))

	recs, _, ok, err := c.Load("u1/notifications")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestMaxAge(t *testing.T) {
	c := openMemory(t, Options{MaxAge: time.Hour})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Save("fresh", []models.Record{{"id": "a"}}, now.Add(-time.Minute)))
	require.NoError(t, c.Save("old", []models.Record{{"id": "b"}}, now.Add(-2*time.Hour)))

	_, _, ok, err := c.Load("fresh")
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, ok, err = c.Load("old")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeysDeleteClear(t *testing.T) {
	c := openMemory(t, Options{})
	for _, k := range []string{"p1/tasks", "p1/comments", "u1/notifications"} {
		require.NoError(t, c.Save(k, []models.Record{{"id": k}}, time.Now()))
	}

	keys, err := c.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1/tasks", "p1/comments", "u1/notifications"}, keys)

	require.NoError(t, c.Delete("p1/comments"))
	keys, err = c.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	require.NoError(t, c.Clear())
	keys, err = c.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	c, err := Open(Options{Dir: dir, Logger: log.New(io.Discard)})
	require.NoError(t, err)
	require.NoError(t, c.Save("p1/meetings", []models.Record{{"id": "m1", "title": "Kickoff"}}, time.Now()))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, _, _, err = c.Load("p1/meetings")
	assert.ErrorIs(t, err, ErrClosed)

	c, err = Open(Options{Dir: dir})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	recs, _, ok, err := c.Load("p1/meetings")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Kickoff", recs[0].String("title"))
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestStoreWarmStartFromCache(t *testing.T) {
	c := openMemory(t, Options{})
	ctx := context.Background()
	scoping := models.Scoping{ProjectID: "p1", UserID: "u1"}
	cols := []models.Collection{models.Tasks}

	fake := gatewaytest.New()
	fake.Seed("tasks", models.Record{"id": "t1", "project_id": "p1", "title": "Cached", "created_at": models.Now()})

	first := viewmodel.New(fake, viewmodel.Options{Collections: cols, Scoping: scoping, Cache: c, Logger: log.New(io.Discard)})
	require.NoError(t, first.Reload(ctx, models.CollectionTasks))

	// A fresh store hydrates before any network round trip.
	second := viewmodel.New(fake, viewmodel.Options{Collections: cols, Scoping: scoping, Cache: c, Logger: log.New(io.Discard)})
	assert.Equal(t, 1, second.Hydrate())
	snap := second.Get(models.CollectionTasks)
	assert.Equal(t, viewmodel.StatusStale, snap.Status)
	_, ok := snap.Find("t1")
	assert.True(t, ok)

	// Another project's cache entry is separate.
	third := viewmodel.New(fake, viewmodel.Options{Collections: cols, Scoping: models.Scoping{ProjectID: "p2"}, Cache: c, Logger: log.New(io.Discard)})
	assert.Equal(t, 0, third.Hydrate())
}
