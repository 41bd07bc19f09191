package indexing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagedex/imagedex/imagedex/hashing"
)

func TestRegistry_Upsert(t *testing.T) {
	now := time.Now()
	fp1 := hashing.FromUint64(0x01)
	fp2 := hashing.FromUint64(0xff)

	t.Run("first upsert is a new indexing", func(t *testing.T) {
		r := NewRegistry()
		assert.True(t, r.Upsert("/photos/a.jpg", fp1, now))
		assert.False(t, r.Upsert("/photos/a.jpg", fp1, now), "same path again is a re-indexing")
		assert.Equal(t, 1, r.Len())
		assert.Equal(t, 1, r.DistinctFingerprints())
	})

	t.Run("changed fingerprint drops the stale association", func(t *testing.T) {
		r := NewRegistry()
		r.Upsert("/photos/a.jpg", fp1, now)
		r.Upsert("/photos/a.jpg", fp2, now.Add(time.Second))

		assert.Empty(t, r.FilesFor(fp1), "path must not linger under the old fingerprint")
		assert.Equal(t, []string{"/photos/a.jpg"}, r.FilesFor(fp2))
		assert.Equal(t, 1, r.DistinctFingerprints(), "emptied bucket should be dropped")

		got, ok := r.FingerprintFor("/photos/a.jpg")
		require.True(t, ok)
		assert.Equal(t, fp2, got)
	})

	t.Run("many files can share one fingerprint with set semantics", func(t *testing.T) {
		r := NewRegistry()
		r.Upsert("/photos/a.jpg", fp1, now)
		r.Upsert("/photos/b.jpg", fp1, now)
		r.Upsert("/photos/a.jpg", fp1, now)

		assert.Equal(t, []string{"/photos/a.jpg", "/photos/b.jpg"}, r.FilesFor(fp1),
			"insertion order preserved, no duplicate entries")
	})

	t.Run("independently constructed equal fingerprints share a bucket", func(t *testing.T) {
		r := NewRegistry()
		r.Upsert("/photos/a.jpg", hashing.FromUint64(0xdeadbeef), now)
		r.Upsert("/photos/b.jpg", hashing.FromUint64(0xdeadbeef), now)
		assert.Equal(t, 1, r.DistinctFingerprints())
		assert.Len(t, r.FilesFor(hashing.FromUint64(0xdeadbeef)), 2)
	})
}

func TestRegistry_NeedsRefresh(t *testing.T) {
	r := NewRegistry()
	mtime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fp := hashing.FromUint64(7)

	assert.True(t, r.NeedsRefresh("/photos/a.jpg", mtime), "unseen path needs hashing")

	r.Upsert("/photos/a.jpg", fp, mtime)
	assert.False(t, r.NeedsRefresh("/photos/a.jpg", mtime))
	assert.True(t, r.NeedsRefresh("/photos/a.jpg", mtime.Add(time.Minute)), "changed mtime needs rehashing")
}

func TestRegistry_RemoveMissing(t *testing.T) {
	now := time.Now()
	fp1 := hashing.FromUint64(0x01)
	fp2 := hashing.FromUint64(0x02)

	r := NewRegistry()
	r.Upsert("/photos/a.jpg", fp1, now)
	r.Upsert("/photos/b.jpg", fp1, now)
	r.Upsert("/photos/c.jpg", fp2, now)

	removed := r.RemoveMissing(func(path string) bool {
		return path != "/photos/b.jpg" && path != "/photos/c.jpg"
	})

	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, r.DistinctFingerprints(), "fp2's emptied bucket must be cleaned up")
	assert.Equal(t, []string{"/photos/a.jpg"}, r.FilesFor(fp1))
	assert.False(t, r.NeedsRefresh("/photos/a.jpg", now))
	assert.True(t, r.NeedsRefresh("/photos/b.jpg", now), "removed path is unseen again")

	assert.Zero(t, r.RemoveMissing(func(string) bool { return true }), "nothing left to remove")
}

func TestRegistry_PathsUnder(t *testing.T) {
	now := time.Now()
	r := NewRegistry()
	r.Upsert("/photos/2024/a.jpg", hashing.FromUint64(1), now)
	r.Upsert("/photos/2024/b.jpg", hashing.FromUint64(2), now)
	r.Upsert("/photos/2025/c.jpg", hashing.FromUint64(3), now)

	under := r.PathsUnder("/photos/2024")
	assert.ElementsMatch(t, []string{"/photos/2024/a.jpg", "/photos/2024/b.jpg"}, under)
	assert.Len(t, r.PathsUnder("/photos"), 3)
	assert.Empty(t, r.PathsUnder("/other"))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/photos/a.jpg", NormalizePath("/photos//a.jpg"))
	assert.Equal(t, "/photos/a.jpg", NormalizePath("/photos/./a.jpg"))
	assert.Equal(t, "/photos", NormalizePath("/photos/"))
	assert.Equal(t, "C:/photos/a.jpg", NormalizePath(`C:\photos\a.jpg`))
}
