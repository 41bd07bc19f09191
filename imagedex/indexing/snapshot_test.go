package indexing

import (
	"archive/zip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagedex/imagedex/imagedex/hashing"
)

type altAlgoHasher struct{ stubFileHasher }

func (altAlgoHasher) Algorithm() hashing.Algorithm { return hashing.Average }

func snapshotHasher() *stubFileHasher {
	return &stubFileHasher{fps: map[string]hashing.Fingerprint{
		"a.jpg": fpBits(),
		"b.jpg": fpBits(0, 1),
		"c.jpg": fpBits(0, 1, 2, 3, 4, 5),
	}}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg", "b.jpg", "c.jpg")
	snap := filepath.Join(dir, ".imagedex.zip")

	ix := New(snapshotHasher(), WithSnapshotPath(snap))
	_, err := ix.SyncDirectory(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, ix.Save())

	restored := New(snapshotHasher(), WithSnapshotPath(snap))
	require.NoError(t, restored.Load())

	assert.Equal(t, ix.FileCount(), restored.FileCount())
	assert.Equal(t, ix.Size(), restored.Size())

	want := ix.FindDuplicatesOf(filepath.Join(dir, "a.jpg"), 3)
	got := restored.FindDuplicatesOf(filepath.Join(dir, "a.jpg"), 3)
	assert.Equal(t, want, got, "restored index must answer queries identically")

	n, err := restored.SyncDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, n, "restored mtimes make an unchanged resync a no-op")
}

func TestSnapshot_SaveIsAtomicOverExisting(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg")
	snap := filepath.Join(dir, ".imagedex.zip")

	ix := New(snapshotHasher(), WithSnapshotPath(snap))
	_, err := ix.SyncDirectory(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, ix.Save())
	require.NoError(t, ix.Save(), "overwriting a prior snapshot must succeed")

	// No temp files left behind next to the snapshot.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestSnapshot_Load(t *testing.T) {
	t.Run("missing file reports rebuild without touching anything", func(t *testing.T) {
		snap := filepath.Join(t.TempDir(), ".imagedex.zip")
		ix := New(snapshotHasher(), WithSnapshotPath(snap))
		assert.ErrorIs(t, ix.Load(), ErrRebuildRequired)
		_, err := os.Stat(snap)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("corrupt container is discarded", func(t *testing.T) {
		snap := filepath.Join(t.TempDir(), ".imagedex.zip")
		require.NoError(t, os.WriteFile(snap, []byte("not a zip archive"), 0o644))

		ix := New(snapshotHasher(), WithSnapshotPath(snap))
		assert.ErrorIs(t, ix.Load(), ErrRebuildRequired)
		_, err := os.Stat(snap)
		assert.True(t, os.IsNotExist(err), "unusable snapshot must be removed")
	})

	t.Run("different algorithm is discarded", func(t *testing.T) {
		dir := t.TempDir()
		writeImages(t, dir, "a.jpg")
		snap := filepath.Join(dir, ".imagedex.zip")

		ix := New(snapshotHasher(), WithSnapshotPath(snap))
		_, err := ix.SyncDirectory(context.Background(), dir)
		require.NoError(t, err)
		require.NoError(t, ix.Save())

		other := New(&altAlgoHasher{*snapshotHasher()}, WithSnapshotPath(snap))
		assert.ErrorIs(t, other.Load(), ErrRebuildRequired)
		_, err = os.Stat(snap)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("incompatible hash width is discarded", func(t *testing.T) {
		snap := filepath.Join(t.TempDir(), ".imagedex.zip")
		writeRawSnapshot(t, snap, snapshotPayload{
			Version:   snapshotVersion,
			Algorithm: string(hashing.Perceptual),
			HashSize:  4,
			Hashes:    map[string][]string{"cafe": {"/photos/a.jpg"}},
			MTimes:    map[string]int64{"/photos/a.jpg": 1},
		})

		ix := New(snapshotHasher(), WithSnapshotPath(snap))
		assert.ErrorIs(t, ix.Load(), ErrRebuildRequired)
		_, err := os.Stat(snap)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("unknown payload version is discarded", func(t *testing.T) {
		snap := filepath.Join(t.TempDir(), ".imagedex.zip")
		writeRawSnapshot(t, snap, snapshotPayload{
			Version:   snapshotVersion + 1,
			Algorithm: string(hashing.Perceptual),
			HashSize:  hashing.Size,
		})

		ix := New(snapshotHasher(), WithSnapshotPath(snap))
		assert.ErrorIs(t, ix.Load(), ErrRebuildRequired)
	})

	t.Run("archive without the payload entry is discarded", func(t *testing.T) {
		snap := filepath.Join(t.TempDir(), ".imagedex.zip")
		f, err := os.Create(snap)
		require.NoError(t, err)
		zw := zip.NewWriter(f)
		w, err := zw.Create("something-else.json")
		require.NoError(t, err)
		_, err = w.Write([]byte("{}"))
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		require.NoError(t, f.Close())

		ix := New(snapshotHasher(), WithSnapshotPath(snap))
		assert.ErrorIs(t, ix.Load(), ErrRebuildRequired)
	})
}

func writeRawSnapshot(t *testing.T, path string, payload snapshotPayload) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create(snapshotEntryName)
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(w).Encode(payload))
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}
