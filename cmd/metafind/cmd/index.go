package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mferrors "github.com/Aman-CERP/metafind/internal/errors"
	"github.com/Aman-CERP/metafind/internal/harvest"
	"github.com/Aman-CERP/metafind/internal/index"
	"github.com/Aman-CERP/metafind/internal/store"
	"github.com/Aman-CERP/metafind/internal/ui"
)

type indexOptions struct {
	noTUI         bool
	force         bool
	skipReconcile bool
	batchSize     int
	index         string
	backend       string
	includeHidden bool
	skipArchives  bool
	volume        string
	exclude       []string
}

func newIndexCmd(global *globalOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [roots...]",
		Short: "Harvest directories into the index",
		Long: `Walk the given directories and store the metadata of every entry
in the index. Items under the roots that no longer exist are removed.

Roots default to index.roots from the config, then to the working directory.
Only one process writes to an index at a time; a second 'metafind index'
waits briefly for the lock and then fails.

Examples:
  metafind index ~/Documents ~/Downloads
  metafind index --backend sqlite --index ./files .
  metafind index --force .
  metafind index --volume usb-backup /media/usb`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIndex(ctx, cmd, global, args, &opts)
		},
	}

	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Delete the existing index and rebuild from scratch")
	cmd.Flags().BoolVar(&opts.skipReconcile, "skip-reconcile", false, "Keep items of files that no longer exist")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", index.DefaultBatchSize, "Items written per index batch")
	cmd.Flags().StringVar(&opts.index, "index", "", "Index base path (default from config)")
	cmd.Flags().StringVar(&opts.backend, "backend", "", "Index backend: bleve, sqlite")
	cmd.Flags().BoolVar(&opts.includeHidden, "hidden", false, "Include dot-files and dot-directories")
	cmd.Flags().BoolVar(&opts.skipArchives, "skip-archives", false, "Do not list the members of zip, jar and tar archives")
	cmd.Flags().StringVar(&opts.volume, "volume", "", "Label items with a volume name and their path within it")
	cmd.Flags().StringSliceVar(&opts.exclude, "exclude", nil, "Additional exclude pattern (repeatable)")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, global *globalOptions, args []string, opts *indexOptions) error {
	cfg, err := global.loadConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("index") {
		cfg.Index.Path = opts.index
	}
	if flags.Changed("backend") {
		cfg.Index.Backend = opts.backend
	}
	if flags.Changed("hidden") {
		cfg.Harvest.IncludeHidden = opts.includeHidden
	}
	if flags.Changed("skip-archives") {
		cfg.Harvest.SkipArchives = opts.skipArchives
	}
	if flags.Changed("volume") {
		cfg.Harvest.Volume = opts.volume
	}
	cfg.Harvest.Exclude = append(cfg.Harvest.Exclude, opts.exclude...)
	if err := cfg.Validate(); err != nil {
		return mferrors.ValidationError(err.Error(), err)
	}

	roots, err := indexRoots(args, cfg.Index.Roots)
	if err != nil {
		return err
	}

	lock := store.NewLock(cfg.Index.Path)
	if err := lock.Acquire(ctx, mferrors.DefaultRetryConfig()); err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	if opts.force {
		if err := store.Remove(cfg.Index.Path); err != nil {
			return mferrors.New(mferrors.ErrCodeIndexFailed, "failed to clear index", err)
		}
		slog.Info("index_force_clear", slog.String("path", cfg.Index.Path))
	}

	idx, err := store.OpenIndex(cfg.Index.Path, cfg.Backend())
	if err != nil {
		return mferrors.New(mferrors.ErrCodeIndexOpen, "failed to open index", err).
			WithDetail("path", cfg.Index.Path).
			WithSuggestion("Run 'metafind index --force' to rebuild the index")
	}
	defer func() { _ = idx.Close() }()

	h, err := harvest.New(cfg.HarvestOptions(roots))
	if err != nil {
		return mferrors.New(mferrors.ErrCodeHarvestFailed, "failed to create harvester", err)
	}

	uiCfg := ui.NewConfig(cmd.ErrOrStderr(),
		ui.WithForcePlain(opts.noTUI),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithTitle("metafind index"))
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start progress display: %w", err)
	}
	defer func() { _ = renderer.Stop() }()

	backend := idx.Stats().Backend
	runner, err := index.NewRunner(index.RunnerDependencies{
		Renderer:  renderer,
		Harvester: h,
		Index:     idx,
		Backend:   string(backend),
	})
	if err != nil {
		return mferrors.InternalError("failed to create index runner", err)
	}

	result, err := runner.Run(ctx, index.RunnerConfig{
		BatchSize:     opts.batchSize,
		SkipReconcile: opts.skipReconcile,
	})
	if err != nil {
		if ctx.Err() != nil {
			return mferrors.New(mferrors.ErrCodeIndexFailed, "indexing interrupted", err).
				WithSuggestion("Run 'metafind index' again to finish")
		}
		return mferrors.New(mferrors.ErrCodeIndexFailed, "indexing failed", err)
	}

	// Earlier runs may have indexed other roots; the index still holds them.
	indexed := h.Roots()
	if prev, err := store.ReadManifest(cfg.Index.Path); err == nil && prev != nil && !opts.force {
		for _, root := range prev.Roots {
			if !slices.Contains(indexed, root) {
				indexed = append(indexed, root)
			}
		}
		slices.Sort(indexed)
	}
	manifest := &store.Manifest{
		Backend:   backend,
		Roots:     indexed,
		Volume:    cfg.Harvest.Volume,
		Items:     idx.Stats().ItemCount,
		IndexedAt: time.Now().UTC(),
	}
	if err := store.WriteManifest(cfg.Index.Path, manifest); err != nil {
		slog.Warn("manifest_write_failed", slog.String("error", err.Error()))
	}

	slog.Debug("index_result",
		slog.Int("items", result.Items),
		slog.Int("removed", result.Removed),
		slog.Int("warnings", result.Warnings))
	return nil
}

// indexRoots returns the absolute roots to harvest: the arguments, else the
// configured roots, else the working directory. Every root must be a directory.
func indexRoots(args, configured []string) ([]string, error) {
	roots := args
	if len(roots) == 0 {
		roots = configured
	}
	if len(roots) == 0 {
		roots = []string{"."}
	}

	abs := make([]string, 0, len(roots))
	for _, root := range roots {
		p, err := filepath.Abs(root)
		if err != nil {
			return nil, mferrors.New(mferrors.ErrCodeInvalidPath, "invalid root", err).WithDetail("root", root)
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, mferrors.New(mferrors.ErrCodeInvalidPath, "root not found", err).WithDetail("root", root)
		}
		if !info.IsDir() {
			return nil, mferrors.New(mferrors.ErrCodeInvalidPath, "root is not a directory", nil).WithDetail("root", root)
		}
		abs = append(abs, p)
	}
	return abs, nil
}
