package cmd

import (
	"github.com/spf13/cobra"

	mferrors "github.com/Aman-CERP/metafind/internal/errors"
	"github.com/Aman-CERP/metafind/internal/store"
	"github.com/Aman-CERP/metafind/internal/ui"
)

func newStatsCmd(global *globalOptions) *cobra.Command {
	var (
		jsonOutput bool
		indexPath  string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Long: `Show the backend, item count, size, indexed roots and last indexing
time of the index, and whether a writer currently holds it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("index") {
				cfg.Index.Path = indexPath
			}
			info, err := indexStatus(cfg.Index.Path)
			if err != nil {
				return err
			}

			renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout()))
			if jsonOutput {
				return renderer.RenderJSON(info)
			}
			return renderer.Render(info)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&indexPath, "index", "", "Index base path (default from config)")
	return cmd
}

// indexStatus collects StatusInfo for the index at basePath. A locked index
// is reported from its manifest without being opened.
func indexStatus(basePath string) (ui.StatusInfo, error) {
	if !store.Exists(basePath) {
		return ui.StatusInfo{}, mferrors.New(mferrors.ErrCodeIndexNotFound, "no index found", nil).
			WithDetail("path", basePath).
			WithSuggestion("Run 'metafind index <dir>' first")
	}

	backend := store.DetectBackend(basePath)
	info := ui.StatusInfo{
		Backend: string(backend),
		Path:    store.IndexPath(basePath, backend),
	}

	manifest, err := store.ReadManifest(basePath)
	if err != nil {
		return info, mferrors.Wrap(mferrors.ErrCodeCorruptIndex, err)
	}
	if manifest != nil {
		info.Roots = manifest.Roots
		info.Volume = manifest.Volume
		info.Items = manifest.Items
		info.LastModified = manifest.IndexedAt
	}

	lock := store.NewLock(basePath)
	acquired, err := lock.TryLock()
	if err != nil {
		return info, mferrors.Wrap(mferrors.ErrCodeIndexOpen, err)
	}
	if !acquired {
		info.Locked = true
		return info, nil
	}
	defer func() { _ = lock.Unlock() }()

	idx, err := store.OpenIndex(basePath, backend)
	if err != nil {
		return info, mferrors.New(mferrors.ErrCodeIndexOpen, "failed to open index", err)
	}
	defer func() { _ = idx.Close() }()

	stats := idx.Stats()
	info.Items = stats.ItemCount
	info.SizeBytes = stats.SizeBytes
	return info, nil
}
