// Package indexing maintains the fingerprint registry, the index coordinator
// and the snapshot codec that together answer near-duplicate queries over a
// directory of images.
package indexing

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/armon/go-radix"

	"github.com/imagedex/imagedex/imagedex/hashing"
)

// Registry is the source of truth for fingerprint-to-file associations and
// per-file change tracking. Many files may share one fingerprint (exact
// duplicates, crops, collisions); a file maps to exactly one fingerprint at a
// time, the most recent hash superseding prior ones.
//
// Registry is not safe for concurrent mutation; the owning Index serializes
// access.
type Registry struct {
	// files preserves per-fingerprint insertion order with set semantics
	files  map[hashing.Fingerprint][]string
	byPath map[string]hashing.Fingerprint
	mtimes map[string]time.Time

	// dense fingerprint ids back the roaring bitmaps used during grouping;
	// ids are stable for the registry's lifetime but not persisted
	ids    map[hashing.Fingerprint]uint32
	nextID uint32

	// pathIndex mirrors the indexed path set in a patricia tree for O(k)
	// exact and prefix lookups
	pathIndex *radix.Tree
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		files:     make(map[hashing.Fingerprint][]string),
		byPath:    make(map[string]hashing.Fingerprint),
		mtimes:    make(map[string]time.Time),
		ids:       make(map[hashing.Fingerprint]uint32),
		pathIndex: radix.New(),
	}
}

// Upsert associates path with fp and records its mtime. A path previously
// associated with a different fingerprint loses the stale association first;
// a fingerprint bucket emptied that way is dropped from the registry, though
// its tree node lingers until the next rebuild. Returns true when the path was
// not indexed before.
func (r *Registry) Upsert(path string, fp hashing.Fingerprint, mtime time.Time) bool {
	path = NormalizePath(path)

	old, seen := r.byPath[path]
	if seen && old != fp {
		r.detach(path, old)
	}

	bucket, exists := r.files[fp]
	if !exists {
		r.ids[fp] = r.nextID
		r.nextID++
	}
	if !containsPath(bucket, path) {
		r.files[fp] = append(bucket, path)
	}

	r.byPath[path] = fp
	r.mtimes[path] = mtime
	r.pathIndex.Insert(path, struct{}{})

	return !seen
}

// NeedsRefresh reports whether path must be (re)hashed: it is unseen, or its
// stored mtime differs from the observed one. mtime comparison is the sole
// change-detection mechanism; a file rewritten with identical content and
// identical mtime is treated as unchanged.
func (r *Registry) NeedsRefresh(path string, observed time.Time) bool {
	stored, ok := r.mtimes[NormalizePath(path)]
	return !ok || !stored.Equal(observed)
}

// RemoveMissing drops every file entry whose path fails the existence probe,
// cleaning up now-empty fingerprint buckets. The returned count, when
// positive, is the trigger for a metric tree rebuild.
func (r *Registry) RemoveMissing(exists func(path string) bool) int {
	var missing []string
	for path := range r.mtimes {
		if !exists(path) {
			missing = append(missing, path)
		}
	}
	for _, path := range missing {
		fp, ok := r.byPath[path]
		if ok {
			r.detach(path, fp)
		}
		delete(r.byPath, path)
		delete(r.mtimes, path)
		r.pathIndex.Delete(path)
	}
	if len(missing) > 0 {
		slog.Info("Removed deleted files from registry", "count", len(missing))
	}
	return len(missing)
}

// detach removes path from fp's bucket, dropping the bucket and its dense id
// once empty.
func (r *Registry) detach(path string, fp hashing.Fingerprint) {
	bucket := r.files[fp]
	for i, p := range bucket {
		if p == path {
			r.files[fp] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(r.files[fp]) == 0 {
		delete(r.files, fp)
		delete(r.ids, fp)
	}
}

// Fingerprints returns every distinct fingerprint currently holding at least
// one file. Order is unspecified.
func (r *Registry) Fingerprints() []hashing.Fingerprint {
	fps := make([]hashing.Fingerprint, 0, len(r.files))
	for fp := range r.files {
		fps = append(fps, fp)
	}
	return fps
}

// FilesFor returns the file paths sharing fp, in insertion order. The returned
// slice is the registry's own; callers must not mutate it.
func (r *Registry) FilesFor(fp hashing.Fingerprint) []string {
	return r.files[fp]
}

// IDFor returns the dense id assigned to fp for bitmap bookkeeping.
func (r *Registry) IDFor(fp hashing.Fingerprint) (uint32, bool) {
	id, ok := r.ids[fp]
	return id, ok
}

// FingerprintFor returns the fingerprint currently associated with path.
func (r *Registry) FingerprintFor(path string) (hashing.Fingerprint, bool) {
	fp, ok := r.byPath[NormalizePath(path)]
	return fp, ok
}

// Len returns the number of indexed files.
func (r *Registry) Len() int {
	return len(r.byPath)
}

// DistinctFingerprints returns the number of distinct fingerprints with at
// least one file. After every completed mutation this equals the metric
// tree's node count.
func (r *Registry) DistinctFingerprints() int {
	return len(r.files)
}

// PathsUnder returns the indexed paths sharing the given prefix, via the
// patricia tree.
func (r *Registry) PathsUnder(prefix string) []string {
	var paths []string
	r.pathIndex.WalkPrefix(NormalizePath(prefix), func(key string, _ interface{}) bool {
		paths = append(paths, key)
		return false
	})
	return paths
}

// NormalizePath canonicalizes a file path for use as a registry identity.
func NormalizePath(path string) string {
	normalized := strings.ReplaceAll(path, "\\", "/")
	normalized = filepath.ToSlash(filepath.Clean(normalized))
	if len(normalized) > 1 && strings.HasSuffix(normalized, "/") {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func containsPath(bucket []string, path string) bool {
	for _, p := range bucket {
		if p == path {
			return true
		}
	}
	return false
}
