package db

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/observer/internal/config"
	"github.com/raphaelgruber/observer/internal/metrics"
	"github.com/raphaelgruber/observer/internal/models"
)

// newTestStore returns an in-memory store whose clock advances one second
// per write, so ordering by timestamp is deterministic.
func newTestStore(t *testing.T) (*SQLiteStore, *time.Time) {
	t.Helper()

	store, err := NewSQLiteStore(context.Background(), ":memory:", nil, metrics.NewCollector())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return store, &clock
}

func saveN(t *testing.T, s Store, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := s.SaveCapture(context.Background(), []byte(fmt.Sprintf("frame-%d", i)), "png")
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func captureIDs(cs []models.Capture) []string {
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestSQLiteSaveAndGetCapture(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.SaveCapture(ctx, []byte{0x89, 'P', 'N', 'G'}, "")
	require.NoError(t, err)

	got, err := s.GetCapture(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "png", got.FileType)
	assert.False(t, got.Archived)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'}), got.ImageData)
	assert.Empty(t, got.Filename)

	data, err := got.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)
}

func TestSQLiteSaveCaptureFile(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.SaveCaptureFile(ctx, CaptureFile{Name: "desk.jpg", Data: []byte("jpeg"), FileType: "jpg"})
	require.NoError(t, err)

	got, err := s.GetCapture(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "desk.jpg", got.Filename)
	assert.Equal(t, "jpg", got.FileType)

	recent, err := s.ListRecentCaptures(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, captureIDs(recent))
}

func TestSQLiteRecentCapturesNewestFirstAndLimited(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	ids := saveN(t, s, 12)

	recent, err := s.ListRecentCaptures(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, DefaultListLimit)
	assert.Equal(t, ids[11], recent[0].ID)
	assert.Equal(t, ids[2], recent[9].ID)

	five, err := s.ListRecentCaptures(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[11], ids[10], ids[9], ids[8], ids[7]}, captureIDs(five))
}

func TestSQLiteArchiveIsIdempotentAndPartitions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	ids := saveN(t, s, 3)

	ok, err := s.ArchiveCapture(ctx, ids[1])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ArchiveCapture(ctx, ids[1])
	require.NoError(t, err)
	assert.False(t, ok, "second archive modifies nothing")

	recent, err := s.ListRecentCaptures(ctx, 0)
	require.NoError(t, err)
	archived, err := s.ListArchivedCaptures(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{ids[2], ids[0]}, captureIDs(recent))
	assert.Equal(t, []string{ids[1]}, captureIDs(archived))
	assert.True(t, archived[0].Archived)

	ok, err = s.UnarchiveCapture(ctx, ids[1])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.UnarchiveCapture(ctx, ids[1])
	require.NoError(t, err)
	assert.False(t, ok)

	recent, err = s.ListRecentCaptures(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, ids[2], recent[0].ID)
	assert.Len(t, recent, 3)
}

func TestSQLiteArchivedAbsentCountsAsRecent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id := newID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO captures (id, image_data, file_type, timestamp) VALUES (?, ?, 'png', ?)`,
		id, "aGk=", time.Now().UnixNano())
	require.NoError(t, err)

	recent, err := s.ListRecentCaptures(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, captureIDs(recent))

	n, err := s.CountCaptures(ctx, CountFilter{Archived: ptr(false)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := s.ArchiveCapture(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteMissingAndInvalidIDs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	missing := newID()

	ok, err := s.ArchiveCapture(ctx, missing)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.DeleteCapture(ctx, missing)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.DeleteResponse(ctx, missing)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.GetCapture(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetResponse(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, bad := range []string{"", "abc", "66f1c0ffee", "../etc/passwd"} {
		_, err = s.ArchiveCapture(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
		_, err = s.DeleteResponse(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
		_, err = s.GetCapture(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
	}
}

func TestSQLiteDeleteCapture(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	ids := saveN(t, s, 2)

	ok, err := s.DeleteCapture(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DeleteCapture(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, ok)

	recent, err := s.ListRecentCaptures(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1]}, captureIDs(recent))
}

func TestSQLiteResponsesRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	ids := saveN(t, s, 2)

	doc := map[string]any{
		"model": "gpt-4o",
		"choices": []any{
			map[string]any{"message": map[string]any{"role": "assistant", "content": "a desk"}},
		},
		"usage": map[string]any{"total_tokens": float64(42)},
	}
	rid, err := s.SaveResponse(ctx, models.ResponseInput{
		Message:      "what is this?",
		ResponseData: doc,
		CaptureIDs:   []string{ids[1], ids[0]},
	})
	require.NoError(t, err)

	got, err := s.GetResponse(ctx, rid)
	require.NoError(t, err)
	assert.Equal(t, "what is this?", got.Message)
	assert.Equal(t, doc, got.ResponseData)
	assert.Equal(t, []string{ids[1], ids[0]}, got.CaptureIDs)
	assert.Equal(t, "a desk", got.Content())

	// deleting a referenced capture leaves the reference in place
	_, err = s.DeleteCapture(ctx, ids[0])
	require.NoError(t, err)
	got, err = s.GetResponse(ctx, rid)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1], ids[0]}, got.CaptureIDs)

	ok, err := s.DeleteResponse(ctx, rid)
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := s.ListRecentResponses(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSQLiteSaveResponseRejectsInvalidCaptureID(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.SaveResponse(context.Background(), models.ResponseInput{Message: "m", CaptureIDs: []string{"nope"}})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestSQLiteRecentResponsesOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var rids []string
	for i := 0; i < 3; i++ {
		rid, err := s.SaveResponse(ctx, models.ResponseInput{Message: fmt.Sprint(i)})
		require.NoError(t, err)
		rids = append(rids, rid)
	}

	list, err := s.ListRecentResponses(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, rids[2], list[0].ID)
	assert.Equal(t, rids[1], list[1].ID)
	assert.Equal(t, map[string]any{}, list[0].ResponseData)
	assert.Equal(t, []string{}, list[0].CaptureIDs)
}

func TestSQLiteCounts(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	ids := saveN(t, s, 4) // 12:00:01 .. 12:00:04
	_, err := s.ArchiveCapture(ctx, ids[0])
	require.NoError(t, err)
	_, err = s.SaveResponse(ctx, models.ResponseInput{Message: "m", CaptureIDs: ids[:1]}) // 12:00:05
	require.NoError(t, err)

	since := time.Date(2026, 3, 1, 12, 0, 2, 0, time.UTC)
	until := time.Date(2026, 3, 1, 12, 0, 4, 0, time.UTC)

	tests := []struct {
		name string
		f    CountFilter
		want int
	}{
		{"all", CountFilter{}, 4},
		{"archived", CountFilter{Archived: ptr(true)}, 1},
		{"recent", CountFilter{Archived: ptr(false)}, 3},
		{"window", CountFilter{Since: &since, Until: &until}, 2},
		{"since", CountFilter{Since: &since}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := s.CountCaptures(ctx, tt.f)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}

	n, err := s.CountResponses(ctx, CountFilter{Archived: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "archived filter ignored for responses")

	n, err = s.CountResponses(ctx, CountFilter{Since: clock})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStorageUsage(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveCapture(ctx, []byte("abc"), "png") // base64 "YWJj"
	require.NoError(t, err)
	_, err = s.SaveResponse(ctx, models.ResponseInput{Message: "m", ResponseData: map[string]any{"a": "b"}}) // {"a":"b"}
	require.NoError(t, err)

	usage, err := s.StorageUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), usage.Captures)
	assert.Equal(t, int64(9), usage.Responses)
	assert.Equal(t, int64(13), usage.Total)
}

func TestSQLiteRecordsMetrics(t *testing.T) {
	s, _ := newTestStore(t)
	saveN(t, s, 1)
	_, err := s.ListRecentCaptures(context.Background(), 0)
	require.NoError(t, err)

	snap := s.metrics.Snapshot()
	require.NotNil(t, snap.DBWrite)
	require.NotNil(t, snap.DBQuery)
	assert.Equal(t, int64(1), snap.DBWrite.Count)
}

func TestNewStoreSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "observer.db")
	ctx := context.Background()

	store, err := NewStore(ctx, config.Config{DBType: config.DBTypeSQLite, SQLitePath: path}, nil, nil)
	require.NoError(t, err)
	id, err := store.SaveCapture(ctx, []byte("x"), "png")
	require.NoError(t, err)
	require.NoError(t, store.Close(ctx))

	reopened, err := NewStore(ctx, config.Config{DBType: config.DBTypeSQLite, SQLitePath: path}, nil, nil)
	require.NoError(t, err)
	defer reopened.Close(ctx)
	got, err := reopened.GetCapture(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
}

func TestNewStoreUnknownType(t *testing.T) {
	_, err := NewStore(context.Background(), config.Config{DBType: "mongodb"}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestCanonicalID(t *testing.T) {
	id := newID()
	got, err := canonicalID(id)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	upper, err := canonicalID("6BA7B810-9DAD-11D1-80B4-00C04FD430C8")
	require.NoError(t, err)
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", upper)

	_, err = canonicalID("not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestStorageErrorWrapping(t *testing.T) {
	err := storageError("save capture", fmt.Errorf("disk full"))
	assert.ErrorIs(t, err, ErrStorage)
	assert.Contains(t, err.Error(), "save capture")
	assert.Contains(t, err.Error(), "disk full")
}

func ptr[T any](v T) *T { return &v }

func TestSQLiteForeignKeysOnEveryConnection(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "fk.db"), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })

	// Every statement gets a fresh connection.
	store.db.SetMaxIdleConns(0)

	var enabled int
	require.NoError(t, store.db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled))
	assert.Equal(t, 1, enabled)

	ids := saveN(t, store, 2)
	rid, err := store.SaveResponse(ctx, models.ResponseInput{
		Message:      "what?",
		ResponseData: map[string]any{"object": "chat.completion"},
		CaptureIDs:   ids,
	})
	require.NoError(t, err)

	ok, err := store.DeleteResponse(ctx, rid)
	require.NoError(t, err)
	require.True(t, ok)

	var links int
	require.NoError(t, store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM response_captures").Scan(&links))
	assert.Zero(t, links)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_pragma=foreign_keys(1)", sqliteDSN(":memory:"))
	assert.Equal(t, "file:x.db?mode=rwc&_pragma=foreign_keys(1)", sqliteDSN("file:x.db?mode=rwc"))
}
