package organize

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/imagedex/imagedex/imagedex/filesystem"
)

// DefaultLayout formats capture times into compact sortable filenames.
const DefaultLayout = "20060102_150405"

// Status classifies the outcome of one planned rename.
type Status string

const (
	StatusRenamed      Status = "renamed"
	StatusDryRun       Status = "dry-run"
	StatusNoChange     Status = "no-change"
	StatusTargetExists Status = "target-exists"
	StatusError        Status = "error"
)

// Result records one file's rename outcome.
type Result struct {
	OldName string
	NewName string
	Status  Status
	Err     error
}

// Renamer renames the images of a directory after their capture time. When
// several files resolve to the same timestamp, later ones get a numeric
// suffix, so one pass over a directory never assigns the same name twice.
type Renamer struct {
	layout string
	seen   map[string]int
}

// NewRenamer creates a Renamer using the given time layout, or DefaultLayout
// when empty.
func NewRenamer(layout string) *Renamer {
	if layout == "" {
		layout = DefaultLayout
	}
	return &Renamer{
		layout: layout,
		seen:   make(map[string]int),
	}
}

// newName derives the target filename for one file, suffixing duplicates with
// a three-digit counter starting at 001 for the second occupant of a name.
func (rn *Renamer) newName(path string) (string, error) {
	dt, err := CaptureTime(path)
	if err != nil {
		return "", err
	}

	ext := filepath.Ext(path)
	name := dt.Format(rn.layout) + ext

	if n, taken := rn.seen[name]; taken {
		rn.seen[name] = n + 1
		stem := name[:len(name)-len(ext)]
		return fmt.Sprintf("%s_%03d%s", stem, n+1, ext), nil
	}
	rn.seen[name] = 0
	return name, nil
}

// ProcessDirectory plans and, unless dryRun is set, performs the renames for
// every image directly inside dir, in lexical filename order so suffix
// assignment is reproducible. Per-file failures are recorded in the results
// and never abort the pass.
func (rn *Renamer) ProcessDirectory(dir string, dryRun bool) ([]Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !filesystem.IsImagePath(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	results := make([]Result, 0, len(names))
	for _, name := range names {
		results = append(results, rn.processOne(dir, name, dryRun))
	}
	return results, nil
}

func (rn *Renamer) processOne(dir, name string, dryRun bool) Result {
	oldPath := filepath.Join(dir, name)

	newName, err := rn.newName(oldPath)
	if err != nil {
		slog.Warn("Cannot resolve capture time", "file", name, "error", err)
		return Result{OldName: name, NewName: name, Status: StatusError, Err: err}
	}

	if newName == name {
		return Result{OldName: name, NewName: name, Status: StatusNoChange}
	}
	if dryRun {
		return Result{OldName: name, NewName: newName, Status: StatusDryRun}
	}

	newPath := filepath.Join(dir, newName)
	if _, err := os.Lstat(newPath); err == nil {
		slog.Warn("Rename target already exists", "file", name, "target", newName)
		return Result{OldName: name, NewName: newName, Status: StatusTargetExists}
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		slog.Warn("Rename failed", "file", name, "error", err)
		return Result{OldName: name, NewName: newName, Status: StatusError, Err: err}
	}
	return Result{OldName: name, NewName: newName, Status: StatusRenamed}
}

// Summarize tallies results per status.
func Summarize(results []Result) map[Status]int {
	counts := make(map[Status]int)
	for _, r := range results {
		counts[r.Status]++
	}
	return counts
}
