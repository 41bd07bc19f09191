package indexing

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/ZanzyTHEbar/assert-lib"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/imagedex/imagedex/imagedex/filesystem"
	"github.com/imagedex/imagedex/imagedex/hashing"
	"github.com/imagedex/imagedex/imagedex/trees"
)

// FileHasher is the capability the index consumes to turn a file into a
// fingerprint. Implementations must be deterministic for identical pixel data
// and safe for concurrent use across hashing workers.
type FileHasher interface {
	HashFile(path string) (hashing.Fingerprint, error)
	Algorithm() hashing.Algorithm
}

// Match pairs an indexed file with its distance to a query fingerprint.
type Match struct {
	Path     string
	Distance int
}

// GroupEntry is one file inside a duplicate group, with the fingerprint it was
// indexed under and that fingerprint's distance to the group's representative.
type GroupEntry struct {
	Path        string
	Fingerprint hashing.Fingerprint
	Distance    int
}

// Option configures an Index.
type Option func(*Index)

// WithPoolSize sets the number of parallel hashing workers for one sync call.
func WithPoolSize(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.poolSize = n
		}
	}
}

// WithSnapshotPath sets the file the index persists to and restores from.
func WithSnapshotPath(path string) Option {
	return func(ix *Index) { ix.snapshotPath = path }
}

// WithScanner overrides the directory scanner.
func WithScanner(s *filesystem.Scanner) Option {
	return func(ix *Index) { ix.scanner = s }
}

// WithProgress installs a callback invoked once per hashed file during a sync,
// with the running count and the batch total.
func WithProgress(fn func(done, total int)) Option {
	return func(ix *Index) { ix.progress = fn }
}

// Index coordinates incremental ingestion and the two supported query modes
// over one directory of images. The registry and metric tree are mutated only
// under the exclusive lock, one file at a time; hashing is the sole parallel
// stage. Read queries share the lock and may run concurrently with each other.
type Index struct {
	mu       sync.RWMutex
	registry *Registry
	tree     *trees.BKTree

	hasher       FileHasher
	scanner      *filesystem.Scanner
	snapshotPath string
	poolSize     int
	progress     func(done, total int)

	// id identifies this index across snapshots
	id      uuid.UUID
	asserts *assert.AssertHandler
}

// New creates an empty index using the given hasher capability.
func New(hasher FileHasher, opts ...Option) *Index {
	ix := &Index{
		registry: NewRegistry(),
		tree:     trees.NewBKTree(nil),
		hasher:   hasher,
		scanner:  filesystem.NewScanner(),
		poolSize: runtime.NumCPU(),
		id:       uuid.New(),
		asserts:  assert.NewAssertHandler(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

type hashResult struct {
	path  string
	fp    hashing.Fingerprint
	mtime time.Time
	err   error
}

// SyncDirectory brings the index up to date with dir: files that are new or
// whose mtime changed are (re)hashed and merged in, files gone from disk are
// dropped. Hashing runs on a worker pool owned by this call; results are
// merged sequentially because neither the registry nor the tree tolerates
// concurrent mutation. Per-file hashing failures are logged and skipped, never
// fatal to the batch. Returns the number of files indexed or re-indexed.
func (ix *Index) SyncDirectory(ctx context.Context, dir string) (int, error) {
	entries, err := ix.scanner.ListImages(dir)
	if err != nil {
		return 0, err
	}

	ix.mu.RLock()
	pending := make([]filesystem.ScanEntry, 0, len(entries))
	for _, entry := range entries {
		if ix.registry.NeedsRefresh(entry.Path, entry.ModTime) {
			pending = append(pending, entry)
		}
	}
	ix.mu.RUnlock()

	if len(pending) > 0 {
		slog.Info("Hashing new or updated images",
			"count", len(pending),
			"workers", ix.poolSize,
			"algorithm", ix.hasher.Algorithm())
	}

	results := ix.hashBatch(ctx, pending)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	count := 0
	for _, res := range results {
		if res.err != nil {
			slog.Warn("Skipping unhashable image", "path", res.path, "error", res.err)
			continue
		}
		ix.registry.Upsert(res.path, res.fp, res.mtime)
		ix.tree.Insert(res.fp)
		count++
	}

	if err := ctx.Err(); err != nil {
		// Interrupted between files: everything merged so far is consistent,
		// so surface the cancellation without running removal.
		return count, err
	}

	removed := ix.registry.RemoveMissing(func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	})
	if removed > 0 {
		ix.rebuildTreeLocked()
	}

	ix.asserts.Assert(ctx, ix.tree.Size() >= ix.registry.DistinctFingerprints(),
		"metric tree lost fingerprints still present in the registry")

	slog.Info("Directory sync completed",
		"dir", dir,
		"indexed", count,
		"removed", removed,
		"tree_size", ix.tree.Size())

	return count, nil
}

// hashBatch fingerprints the pending entries on a bounded worker pool.
// Failures travel inside the results so one bad file never aborts the batch.
func (ix *Index) hashBatch(ctx context.Context, pending []filesystem.ScanEntry) []hashResult {
	if len(pending) == 0 {
		return nil
	}

	var done int
	var progressMu sync.Mutex
	total := len(pending)

	p := pool.NewWithResults[hashResult]().
		WithMaxGoroutines(ix.poolSize).
		WithContext(ctx)

	for _, entry := range pending {
		p.Go(func(ctx context.Context) (hashResult, error) {
			res := hashResult{path: entry.Path, mtime: entry.ModTime}
			if err := ctx.Err(); err != nil {
				res.err = err
				return res, nil
			}
			res.fp, res.err = ix.hasher.HashFile(entry.Path)
			if ix.progress != nil {
				progressMu.Lock()
				done++
				ix.progress(done, total)
				progressMu.Unlock()
			}
			return res, nil
		})
	}

	results, _ := p.Wait()
	return results
}

// rebuildTreeLocked discards the metric tree and re-inserts every surviving
// fingerprint. This is the only deletion path: a BK-tree node cannot be
// removed locally without breaking the distance-edge invariant. Caller holds
// the write lock.
func (ix *Index) rebuildTreeLocked() {
	rebuilt := trees.NewBKTree(nil)
	for _, fp := range ix.registry.Fingerprints() {
		rebuilt.Insert(fp)
	}
	ix.tree = rebuilt
	slog.Debug("Metric tree rebuilt", "nodes", rebuilt.Size())
}

// FindDuplicatesOf hashes the given file and returns every indexed file within
// threshold of it, sorted by ascending distance (ties kept in encounter
// order). The query file's own basename is excluded. A file that cannot be
// read or decoded is reported and yields an empty result rather than an error.
func (ix *Index) FindDuplicatesOf(path string, threshold int) []Match {
	fp, err := ix.hasher.HashFile(path)
	if err != nil {
		slog.Warn("Cannot hash query image", "path", path, "error", err)
		return nil
	}

	ix.mu.RLock()
	matches := ix.matchesFor(fp, threshold, filepath.Base(path))
	ix.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	return matches
}

// matchesFor flattens a tree search into (file, distance) pairs via the
// registry, excluding files with the given basename. Caller holds at least the
// read lock.
func (ix *Index) matchesFor(fp hashing.Fingerprint, threshold int, excludeBase string) []Match {
	var matches []Match
	for _, hit := range ix.tree.Search(fp, threshold) {
		for _, file := range ix.registry.FilesFor(hit.Fingerprint) {
			if filepath.Base(file) == excludeBase {
				continue
			}
			matches = append(matches, Match{Path: file, Distance: hit.Distance})
		}
	}
	return matches
}

// ClosestNonDuplicates returns up to limit indexed files strictly beyond
// threshold, nearest first. This mirrors the "closest non-duplicate" listing
// of the query surface.
func (ix *Index) ClosestNonDuplicates(path string, threshold, limit int) []Match {
	fp, err := ix.hasher.HashFile(path)
	if err != nil {
		slog.Warn("Cannot hash query image", "path", path, "error", err)
		return nil
	}

	ix.mu.RLock()
	matches := ix.matchesFor(fp, hashing.MaxDistance, filepath.Base(path))
	ix.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})

	var out []Match
	for _, m := range matches {
		if m.Distance > threshold {
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// FindAllDuplicateGroups partitions the indexed fingerprints into duplicate
// groups at the given threshold. Grouping is single-hop: each group is the
// result set of one tree search seeded at a not-yet-visited fingerprint, so
// chains A~B~C where A and C are out of range of each other land in one group
// only when the seed's search happens to catch both. This is a documented
// limitation carried over deliberately, not transitive clustering.
func (ix *Index) FindAllDuplicateGroups(threshold int) [][]GroupEntry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	visited := roaring.New()
	var groups [][]GroupEntry

	for _, fp := range ix.registry.Fingerprints() {
		id, ok := ix.registry.IDFor(fp)
		if !ok || visited.Contains(id) {
			continue
		}

		hits := ix.tree.Search(fp, threshold)

		// Count distinct registered fingerprints and total files among the
		// hits; stale tree nodes whose bucket was emptied don't participate.
		distinct := 0
		totalFiles := 0
		for _, hit := range hits {
			files := ix.registry.FilesFor(hit.Fingerprint)
			if len(files) == 0 {
				continue
			}
			distinct++
			totalFiles += len(files)
		}
		if distinct <= 1 && totalFiles <= 1 {
			visited.Add(id)
			continue
		}

		var group []GroupEntry
		for _, hit := range hits {
			files := ix.registry.FilesFor(hit.Fingerprint)
			if len(files) == 0 {
				continue
			}
			if hitID, ok := ix.registry.IDFor(hit.Fingerprint); ok {
				visited.Add(hitID)
			}
			for _, file := range files {
				group = append(group, GroupEntry{
					Path:        file,
					Fingerprint: hit.Fingerprint,
					Distance:    hit.Distance,
				})
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// Size returns the number of distinct fingerprints in the metric tree.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tree.Size()
}

// FileCount returns the number of indexed files.
func (ix *Index) FileCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.registry.Len()
}

// IndexedUnder lists indexed file paths sharing a prefix, via the registry's
// patricia index.
func (ix *Index) IndexedUnder(prefix string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.registry.PathsUnder(prefix)
}
