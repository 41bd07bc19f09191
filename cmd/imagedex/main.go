package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	internal "github.com/imagedex/imagedex/imagedex"
	"github.com/imagedex/imagedex/imagedex/config"
	"github.com/imagedex/imagedex/imagedex/hashing"
	"github.com/imagedex/imagedex/imagedex/indexing"
	"github.com/imagedex/imagedex/imagedex/organize"
)

const closestNonDuplicateLimit = 10

func main() {
	if err := run(); err != nil {
		logger := internal.GetLogger()
		logger.Error().Err(err).Msg("imagedex failed")
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to a config file (defaults to the standard lookup locations)")
		algorithm  = flag.String("algorithm", "", "hash algorithm: average, difference, wavelet or perceptual")
		threshold  = flag.Int("threshold", -1, "max Hamming distance for two images to count as duplicates")
		poolSize   = flag.Int("pool-size", 0, "number of parallel hashing workers")
		rename     = flag.Bool("rename", false, "rename images after their capture time instead of finding duplicates")
		dryRun     = flag.Bool("dry-run", false, "with -rename, only show what would be renamed")
		verbose    = flag.Bool("v", false, "verbose output")
	)
	flag.Usage = usage
	flag.Parse()

	level := slog.LevelWarn
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if *verbose {
		level = slog.LevelDebug
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() < 1 || flag.NArg() > 2 {
		usage()
		return fmt.Errorf("expected DIRECTORY [IMAGE], got %d arguments", flag.NArg())
	}
	dir := flag.Arg(0)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("directory not found: %s", dir)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *algorithm != "" {
		cfg.Imagedex.Algorithm = *algorithm
	}
	if *threshold >= 0 {
		cfg.Imagedex.Threshold = *threshold
	}
	if *poolSize > 0 {
		cfg.Imagedex.PoolSize = *poolSize
	}
	if cfg.Imagedex.Threshold > hashing.MaxDistance {
		return fmt.Errorf("threshold %d out of range [0, %d]", cfg.Imagedex.Threshold, hashing.MaxDistance)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *rename {
		return runRename(dir, cfg.Imagedex.RenameLayout, *dryRun)
	}
	return runDuplicates(ctx, dir, flag.Arg(1), cfg)
}

func runDuplicates(ctx context.Context, dir, queryImage string, cfg *config.Config) error {
	algo, err := hashing.ParseAlgorithm(cfg.Imagedex.Algorithm)
	if err != nil {
		return err
	}
	hasher, err := hashing.NewFileHasher(algo)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	ix := indexing.New(hasher,
		indexing.WithPoolSize(cfg.Imagedex.PoolSize),
		indexing.WithSnapshotPath(filepath.Join(dir, cfg.Imagedex.IndexFileName)),
		indexing.WithProgress(func(done, total int) {
			if bar == nil {
				bar = progressbar.Default(int64(total), "Hashing images")
			}
			_ = bar.Add(1)
		}),
	)

	if err := ix.Load(); err != nil {
		if !errors.Is(err, indexing.ErrRebuildRequired) {
			return err
		}
		slog.Info("No usable index snapshot, rebuilding from scratch", "dir", dir)
	}

	if _, err := ix.SyncDirectory(ctx, dir); err != nil {
		return err
	}
	if err := ix.Save(); err != nil {
		return err
	}

	if queryImage != "" {
		return reportDuplicatesOf(ix, queryImage, cfg.Imagedex.Threshold)
	}
	return reportAllGroups(ix, cfg.Imagedex.Threshold)
}

func reportDuplicatesOf(ix *indexing.Index, image string, threshold int) error {
	if info, err := os.Stat(image); err != nil || info.IsDir() {
		return fmt.Errorf("image not found: %s", image)
	}

	matches := ix.FindDuplicatesOf(image, threshold)
	if len(matches) == 0 {
		fmt.Printf("No duplicates of %s within distance %d.\n", image, threshold)
	} else {
		fmt.Printf("Found %d duplicate(s) of %s:\n", len(matches), image)
		for _, m := range matches {
			fmt.Printf("  %3d  %s\n", m.Distance, m.Path)
		}
	}

	near := ix.ClosestNonDuplicates(image, threshold, closestNonDuplicateLimit)
	if len(near) > 0 {
		fmt.Printf("\nClosest non-duplicates:\n")
		for _, m := range near {
			fmt.Printf("  %3d  %s\n", m.Distance, m.Path)
		}
	}
	return nil
}

func reportAllGroups(ix *indexing.Index, threshold int) error {
	groups := ix.FindAllDuplicateGroups(threshold)
	if len(groups) == 0 {
		fmt.Printf("No duplicate groups within distance %d across %d indexed files.\n",
			threshold, ix.FileCount())
		return nil
	}

	fmt.Printf("Found %d duplicate group(s) across %d indexed files:\n\n", len(groups), ix.FileCount())
	for i, group := range groups {
		fmt.Printf("Group %d:\n", i+1)
		for _, entry := range group {
			fmt.Printf("  %3d  %s\n", entry.Distance, entry.Path)
		}
		fmt.Println()
	}
	return nil
}

func runRename(dir, layout string, dryRun bool) error {
	if dryRun {
		fmt.Println("DRY-RUN MODE: no files will be modified.")
	}

	results, err := organize.NewRenamer(layout).ProcessDirectory(dir, dryRun)
	if err != nil {
		return err
	}

	for _, r := range results {
		switch r.Status {
		case organize.StatusRenamed:
			fmt.Printf("RENAME: %s -> %s\n", r.OldName, r.NewName)
		case organize.StatusDryRun:
			fmt.Printf("[DRY-RUN] %s -> %s\n", r.OldName, r.NewName)
		case organize.StatusNoChange:
			slog.Debug("Skipping already conforming file", "file", r.OldName)
		default:
			fmt.Printf("ERROR: %s (%s)\n", r.OldName, r.Status)
		}
	}

	counts := organize.Summarize(results)
	fmt.Printf("\nrenamed=%d dry-run=%d unchanged=%d errors=%d\n",
		counts[organize.StatusRenamed],
		counts[organize.StatusDryRun],
		counts[organize.StatusNoChange],
		counts[organize.StatusError]+counts[organize.StatusTargetExists])
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [options] DIRECTORY [IMAGE]

Index the images in DIRECTORY and report duplicate groups, or, when IMAGE is
given, the indexed duplicates of that image. The index is persisted next to
the images and reused across runs.

Options:
`, internal.DefaultAppName)
	flag.PrintDefaults()
}
