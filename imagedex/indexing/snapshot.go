package indexing

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/imagedex/imagedex/imagedex/hashing"
	"github.com/imagedex/imagedex/imagedex/trees"
)

// ErrRebuildRequired signals that no usable snapshot exists: the file is
// missing, structurally corrupt, or written by an incompatible layout. The
// caller recovers by re-syncing from the source files; nothing else is lost.
var ErrRebuildRequired = errors.New("index snapshot unusable, rebuild required")

const (
	snapshotVersion   = 1
	snapshotEntryName = "index.json"
)

// snapshotPayload is the versioned on-disk schema: one JSON document inside a
// zip container. Fingerprints are keyed by their raw-byte hex encoding; mtimes
// are unix nanoseconds.
type snapshotPayload struct {
	Version   int                 `json:"version"`
	Algorithm string              `json:"algorithm"`
	HashSize  int                 `json:"hashSize"`
	IndexID   string              `json:"indexId"`
	BuiltAt   int64               `json:"builtAt"`
	Hashes    map[string][]string `json:"hashes"`
	MTimes    map[string]int64    `json:"mtimes"`
}

// Save serializes the registry into the snapshot file as one atomic unit: the
// payload is written to a temp file in the target directory and renamed into
// place, so a crash mid-write never clobbers a previously valid snapshot.
func (ix *Index) Save() error {
	if ix.snapshotPath == "" {
		return nil
	}

	ix.mu.RLock()
	payload := snapshotPayload{
		Version:   snapshotVersion,
		Algorithm: string(ix.hasher.Algorithm()),
		HashSize:  hashing.Size,
		IndexID:   ix.id.String(),
		BuiltAt:   time.Now().Unix(),
		Hashes:    make(map[string][]string, ix.registry.DistinctFingerprints()),
		MTimes:    make(map[string]int64, ix.registry.Len()),
	}
	for _, fp := range ix.registry.Fingerprints() {
		files := ix.registry.FilesFor(fp)
		paths := make([]string, len(files))
		copy(paths, files)
		payload.Hashes[fp.Hex()] = paths
	}
	for path, mtime := range ix.registry.mtimes {
		payload.MTimes[path] = mtime.UnixNano()
	}
	ix.mu.RUnlock()

	if err := writeSnapshot(ix.snapshotPath, &payload); err != nil {
		return fmt.Errorf("failed to save index snapshot: %w", err)
	}
	slog.Info("Index snapshot saved", "path", ix.snapshotPath, "fingerprints", len(payload.Hashes))
	return nil
}

// Load restores the registry from the snapshot file and rebuilds the metric
// tree by re-inserting every distinct fingerprint (insertion order affects
// only tree shape). Incompatible or corrupt snapshots are discarded and
// reported as ErrRebuildRequired; unexpected I/O errors are surfaced with the
// file left untouched.
func (ix *Index) Load() error {
	if ix.snapshotPath == "" {
		return ErrRebuildRequired
	}

	payload, err := readSnapshot(ix.snapshotPath)
	if err != nil {
		return err
	}

	if payload.Algorithm != string(ix.hasher.Algorithm()) {
		slog.Warn("Index snapshot built with a different hash algorithm, discarding",
			"snapshot", payload.Algorithm,
			"configured", ix.hasher.Algorithm())
		return discardSnapshot(ix.snapshotPath)
	}

	registry := NewRegistry()
	tree := trees.NewBKTree(nil)
	for hexFP, files := range payload.Hashes {
		fp, err := hashing.ParseHex(hexFP)
		if err != nil {
			slog.Warn("Index snapshot holds an incompatible fingerprint encoding, discarding", "error", err)
			return discardSnapshot(ix.snapshotPath)
		}
		for _, file := range files {
			mtime, ok := payload.MTimes[file]
			if !ok {
				slog.Warn("Index snapshot is internally inconsistent, discarding", "path", file)
				return discardSnapshot(ix.snapshotPath)
			}
			registry.Upsert(file, fp, time.Unix(0, mtime))
		}
		tree.Insert(fp)
	}

	if id, err := uuid.Parse(payload.IndexID); err == nil {
		ix.id = id
	}

	ix.mu.Lock()
	ix.registry = registry
	ix.tree = tree
	ix.mu.Unlock()

	slog.Info("Index snapshot loaded",
		"path", ix.snapshotPath,
		"files", registry.Len(),
		"fingerprints", tree.Size())
	return nil
}

func writeSnapshot(path string, payload *snapshotPayload) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".imagedex-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// Best effort cleanup; after a successful rename this is a no-op.
		os.Remove(tmpName)
	}()

	zw := zip.NewWriter(tmp)
	w, err := zw.Create(snapshotEntryName)
	if err != nil {
		tmp.Close()
		return err
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// readSnapshot opens and validates the container. Corruption and layout
// mismatches remove the file and return ErrRebuildRequired; anything the codec
// does not understand (permissions, transient I/O) is surfaced as-is so the
// caller never silently loses data.
func readSnapshot(path string) (*snapshotPayload, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRebuildRequired
		}
		return nil, err
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			slog.Warn("Index snapshot container is corrupt, discarding", "path", path)
			return nil, discardSnapshot(path)
		}
		return nil, err
	}
	defer zr.Close()

	var entry *zip.File
	for _, f := range zr.File {
		if f.Name == snapshotEntryName {
			entry = f
			break
		}
	}
	if entry == nil {
		slog.Warn("Index snapshot is missing its payload entry, discarding", "path", path)
		return nil, discardSnapshot(path)
	}

	rc, err := entry.Open()
	if err != nil {
		slog.Warn("Index snapshot payload is unreadable, discarding", "path", path, "error", err)
		return nil, discardSnapshot(path)
	}
	defer rc.Close()

	var payload snapshotPayload
	if err := json.NewDecoder(rc).Decode(&payload); err != nil {
		slog.Warn("Index snapshot payload is undecodable, discarding", "path", path, "error", err)
		return nil, discardSnapshot(path)
	}

	if payload.Version != snapshotVersion || payload.HashSize != hashing.Size {
		slog.Warn("Index snapshot layout is incompatible, discarding",
			"path", path,
			"version", payload.Version,
			"hash_size", payload.HashSize)
		return nil, discardSnapshot(path)
	}
	return &payload, nil
}

// discardSnapshot removes a snapshot judged unusable and reports the rebuild.
func discardSnapshot(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove unusable index snapshot", "path", path, "error", err)
	}
	return ErrRebuildRequired
}
