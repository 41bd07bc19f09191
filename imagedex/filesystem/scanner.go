// Package filesystem enumerates image files for indexing.
package filesystem

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"

	internal "github.com/imagedex/imagedex/imagedex"
)

// ScanEntry is one candidate image: its path and last-observed mtime.
type ScanEntry struct {
	Path    string
	ModTime time.Time
}

// imageExtensions are the recognized image file extensions, matched
// case-insensitively.
var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".bmp":  {},
	".heic": {},
	".heif": {},
	".webp": {},
	".tiff": {},
}

// IsImagePath reports whether the path carries a recognized image extension.
func IsImagePath(path string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Scanner yields (path, mtime) pairs for the images in a directory. An
// optional ignore file in the scanned directory excludes entries with
// gitignore-style patterns.
type Scanner struct {
	ignoreFileName string
}

// NewScanner creates a scanner honoring the default ignore file name.
func NewScanner() *Scanner {
	return &Scanner{ignoreFileName: internal.DefaultIgnoreFileName}
}

// ListImages enumerates the image files directly inside dir. Entries whose
// metadata cannot be read are skipped with a warning rather than failing the
// scan; only the directory read itself is a hard error.
func (s *Scanner) ListImages(dir string) ([]ScanEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	ignored, err := s.loadIgnore(dir)
	if err != nil {
		slog.Warn("Failed to load ignore patterns", "dir", dir, "error", err)
	}

	results := make([]ScanEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !IsImagePath(entry.Name()) {
			continue
		}
		if ignored != nil && ignored.MatchesPath(entry.Name()) {
			slog.Debug("Ignoring file", "name", entry.Name())
			continue
		}
		info, err := entry.Info()
		if err != nil {
			slog.Warn("Error getting file info", "name", entry.Name(), "error", err)
			continue
		}
		results = append(results, ScanEntry{
			Path:    filepath.Join(dir, entry.Name()),
			ModTime: info.ModTime(),
		})
	}
	return results, nil
}

// loadIgnore compiles the directory's ignore file when present.
func (s *Scanner) loadIgnore(dir string) (*ignore.GitIgnore, error) {
	ignorePath := filepath.Join(dir, s.ignoreFileName)
	if _, err := os.Stat(ignorePath); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error checking for %s: %w", s.ignoreFileName, err)
	}
	ignored, err := ignore.CompileIgnoreFile(ignorePath)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", s.ignoreFileName, err)
	}
	return ignored, nil
}
