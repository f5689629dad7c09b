package storage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/passcrow/passcrow/storage"
)

func newTestStore(t *testing.T) *storage.FileStore {
	t.Helper()
	dir := t.TempDir()
	fs := storage.NewFileStore(dir)
	require.NoError(t, fs.PrepareTable("testing"))
	return fs
}

func TestInsertFetchRoundTrip(t *testing.T) {
	fs := newTestStore(t)
	now := time.Now()
	exp := now.Add(5 * time.Minute).Unix()

	id, err := fs.Insert("testing", [][]byte{[]byte("stuff"), []byte("things")}, storage.InsertOptions{Expiration: exp})
	require.NoError(t, err)

	row, err := fs.Fetch("testing", id, now)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("stuff"), []byte("things")}, row)
}

func TestFetchExpiredRemovesRow(t *testing.T) {
	fs := newTestStore(t)
	now := time.Now()
	exp := now.Add(time.Minute).Unix()

	id, err := fs.Insert("testing", [][]byte{[]byte("stuff")}, storage.InsertOptions{Expiration: exp})
	require.NoError(t, err)

	_, err = fs.Fetch("testing", id, now.Add(2*time.Minute))
	require.Error(t, err)

	_, err = fs.Fetch("testing", id, now)
	require.Error(t, err, "row should have been physically removed on the expired fetch")
}

func TestFetchBySuffix(t *testing.T) {
	fs := newTestStore(t)
	now := time.Now()
	exp := now.Add(time.Hour).Unix()

	id, err := fs.Insert("testing", [][]byte{[]byte("stuff")}, storage.InsertOptions{Expiration: exp})
	require.NoError(t, err)

	idx := -1
	for i, c := range id {
		if c == '-' {
			idx = i
			break
		}
	}
	suffix := id[idx+1:]

	row, err := fs.Fetch("testing", suffix, now)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("stuff")}, row)
}

func TestDeleteIsIdempotent(t *testing.T) {
	fs := newTestStore(t)
	now := time.Now()
	id, err := fs.Insert("testing", [][]byte{[]byte("stuff")}, storage.InsertOptions{Expiration: now.Add(time.Hour).Unix()})
	require.NoError(t, err)

	removed, err := fs.Delete("testing", id)
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = fs.Delete("testing", id)
	require.NoError(t, err)
	require.False(t, removed)

	_, err = fs.Fetch("testing", id, now)
	require.Error(t, err)
}

func TestExpireTableSweepsStaleRows(t *testing.T) {
	fs := newTestStore(t)
	now := time.Now()

	liveID, err := fs.Insert("testing", [][]byte{[]byte("alive")}, storage.InsertOptions{Expiration: now.Add(time.Hour).Unix()})
	require.NoError(t, err)
	staleID, err := fs.Insert("testing", [][]byte{[]byte("stale")}, storage.InsertOptions{Expiration: now.Add(-time.Hour).Unix()})
	require.NoError(t, err)

	require.NoError(t, fs.ExpireTable("testing", now))

	_, err = fs.Fetch("testing", liveID, now)
	require.NoError(t, err)
	_, err = fs.Fetch("testing", staleID, now)
	require.Error(t, err)
}

func TestInsertPreferredRowIDConflict(t *testing.T) {
	fs := newTestStore(t)
	now := time.Now()
	exp := now.Add(time.Hour).Unix()

	id, err := fs.Insert("testing", [][]byte{[]byte("first")}, storage.InsertOptions{Expiration: exp, RowID: "abc123"})
	require.NoError(t, err)
	require.Contains(t, id, "abc123")

	_, err = fs.Insert("testing", [][]byte{[]byte("second")}, storage.InsertOptions{Expiration: exp, RowID: "abc123"})
	require.ErrorIs(t, err, storage.ErrRowIDConflict)
}

func TestNeverExpiresWithZeroExpiration(t *testing.T) {
	fs := newTestStore(t)
	now := time.Now()
	id, err := fs.Insert("testing", [][]byte{[]byte("forever")}, storage.InsertOptions{})
	require.NoError(t, err)

	row, err := fs.Fetch("testing", id, now.Add(1000*time.Hour))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("forever")}, row)
}
