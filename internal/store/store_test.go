// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dastyar-team/dastyar/pkg/types"
)

// testStore opens a sqlite store in a temp directory.
func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(types.StoreConfig{
		Driver: types.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "db", "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(types.StoreConfig{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)
}

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t, "data/app.db?"+sqliteOptions, sqliteDSN("data/app.db"))
	assert.Equal(t, "file:app.db?cache=shared&"+sqliteOptions, sqliteDSN("file:app.db?cache=shared"))
}

func TestOpen_DSNWithQuery(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "q", "test.db") + "?cache=private"
	s, err := Open(types.StoreConfig{Driver: types.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", "v"))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestSettings_GetSet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	v, err := s.GetDefault(ctx, "missing", "0")
	require.NoError(t, err)
	assert.Equal(t, "0", v)

	require.NoError(t, s.Set(ctx, "SCIDIR_ACTIVATION_FLAG", "1"))
	require.NoError(t, s.Set(ctx, "SCIDIR_ACTIVATION_FLAG", "0"))

	v, err = s.Get(ctx, "SCIDIR_ACTIVATION_FLAG")
	require.NoError(t, err)
	assert.Equal(t, "0", v)
}

func TestSettings_UpdateAtomic(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, "counter", func(cur string, found bool) (string, error) {
				n := 0
				if found {
					n, _ = strconv.Atoi(cur)
				}
				return strconv.Itoa(n + 1), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "20", v)
}

func TestSettings_UpdateErrorRollsBack(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", "before"))

	boom := errors.New("boom")
	err := s.Update(ctx, "k", func(string, bool) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "before", v)
}

func TestRecords_UpsertOverwrites(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := types.MetadataRecord{
		DOI:            "10.1/abc",
		Title:          "First",
		Year:           2020,
		Category:       types.CategoryMedical,
		CategorySource: "ai:groq_chat",
		Status:         types.StatusOK,
	}
	require.NoError(t, s.UpsertRecord(ctx, 7, rec))

	rec.Title = "Second"
	rec.Year = 0
	rec.Status = types.StatusError
	rec.Error = "upstream"
	require.NoError(t, s.UpsertRecord(ctx, 7, rec))

	got, err := s.Record(ctx, 7, "10.1/abc")
	require.NoError(t, err)
	assert.Equal(t, "Second", got.Title)
	assert.Equal(t, 0, got.Year)
	assert.Equal(t, types.StatusError, got.Status)
	assert.Equal(t, "upstream", got.Error)

	n, err := s.CountRecords(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Another user gets its own row.
	require.NoError(t, s.UpsertRecord(ctx, 8, rec))
	n, err = s.CountRecords(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Record(ctx, 9, "10.1/abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLinks_Lifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	fresh := types.DownloadLink{Token: "fresh", UserID: 1, FilePath: "/tmp/a.zip", Filename: "a.zip",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	old := types.DownloadLink{Token: "old", UserID: 1, FilePath: "/tmp/b.zip",
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	require.NoError(t, s.InsertLink(ctx, fresh))
	require.NoError(t, s.InsertLink(ctx, old))
	assert.Error(t, s.InsertLink(ctx, fresh), "duplicate token")

	got, err := s.Link(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "a.zip", got.Filename)
	assert.Nil(t, got.UsedAt)

	ok, err := s.MarkLinkUsed(ctx, "fresh", 5, now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.MarkLinkUsed(ctx, "fresh", 5, now)
	require.NoError(t, err)
	assert.False(t, ok, "second mark must not succeed")

	stale, err := s.StaleLinks(ctx, now, false)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].Token)

	stale, err = s.StaleLinks(ctx, now, true)
	require.NoError(t, err)
	assert.Len(t, stale, 2)

	n, err := s.DeleteLinks(ctx, []string{"old", "fresh"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Link(ctx, "fresh")
	assert.ErrorIs(t, err, ErrNotFound)
}
