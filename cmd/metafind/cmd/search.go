package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Aman-CERP/metafind/internal/config"
	"github.com/Aman-CERP/metafind/internal/engine"
	mferrors "github.com/Aman-CERP/metafind/internal/errors"
	"github.com/Aman-CERP/metafind/internal/format"
	"github.com/Aman-CERP/metafind/internal/harvest"
	"github.com/Aman-CERP/metafind/internal/index"
	"github.com/Aman-CERP/metafind/internal/query"
	"github.com/Aman-CERP/metafind/internal/sink"
	"github.com/Aman-CERP/metafind/internal/store"
	"github.com/Aman-CERP/metafind/internal/watcher"
)

// searchOptions holds CLI flags for search. Flags left unset keep the
// configured value.
type searchOptions struct {
	format      string
	null        bool
	limit       int
	live        bool
	output      string
	index       string
	backend     string
	displayAttr string
	bytes       string
	batchSize   int
	quiet       bool
}

func newSearchCmd(global *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search [query...]",
		Short: "Stream the items matching a query",
		Long: `Search the index and write every matching item to stdout.

Query syntax (bleve backend):
  report                 free text over path, name, display name and tags
  name:report*           field query (ext, kind, content_type, parent, digest)
  size:>1048576          numeric range
  +ext:pdf -name:draft   required and excluded clauses
  *                      everything (also used when no query is given)

The sqlite backend takes SQLite FTS5 MATCH expressions over all attribute
values instead, e.g. 'report AND pdf'.

Output formats:
  text   one display value per line (default)
  xml    <results> document with one element per item
  null   display values separated by NUL bytes, for xargs -0

Ctrl+C stops the run after the current item; XML output stays well formed.

Examples:
  metafind search 'ext:pdf' --limit 10
  metafind search -0 'kind:directory name:tmp' | xargs -0 rm -r
  metafind search --live --format xml 'ext:log'`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, global, args, &opts)
		},
	}

	addSearchFlags(cmd, &opts)
	return cmd
}

func addSearchFlags(cmd *cobra.Command, opts *searchOptions) {
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Output format: text, xml, null")
	cmd.Flags().BoolVarP(&opts.null, "null", "0", false, "Separate results with NUL bytes (same as --format null)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.live, "live", false, "Keep running and report changes after the initial results")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write results to a file instead of stdout")
	cmd.Flags().StringVar(&opts.index, "index", "", "Index base path (default from config)")
	cmd.Flags().StringVar(&opts.backend, "backend", "", "Index backend for a new index: bleve, sqlite")
	cmd.Flags().StringVar(&opts.displayAttr, "display-attr", "", "Attribute printed by the text and null formats")
	cmd.Flags().StringVar(&opts.bytes, "bytes", "", "Byte attributes in XML: base64, omit")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Items per engine batch")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print the run summary on stderr")
}

// apply copies the flags that were set onto cfg.
func (o *searchOptions) apply(flags *pflag.FlagSet, cfg *config.Config) error {
	if flags.Changed("format") {
		cfg.Output.Format = o.format
	}
	if o.null {
		if flags.Changed("format") && o.format != format.NullDelimited.String() {
			return mferrors.ValidationError("--null conflicts with --format "+o.format, nil)
		}
		cfg.Output.Format = format.NullDelimited.String()
	}
	if flags.Changed("limit") {
		cfg.Search.Limit = o.limit
	}
	if flags.Changed("live") {
		cfg.Search.Live = o.live
	}
	if flags.Changed("index") {
		cfg.Index.Path = o.index
	}
	if flags.Changed("backend") {
		cfg.Index.Backend = o.backend
	}
	if flags.Changed("display-attr") {
		cfg.Output.DisplayAttribute = o.displayAttr
	}
	if flags.Changed("bytes") {
		cfg.Output.Bytes = o.bytes
	}
	if flags.Changed("batch-size") {
		cfg.Search.BatchSize = o.batchSize
	}
	if err := cfg.Validate(); err != nil {
		return mferrors.ValidationError(err.Error(), err)
	}
	return nil
}

func runSearch(cmd *cobra.Command, global *globalOptions, args []string, opts *searchOptions) error {
	cfg, err := global.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := opts.apply(cmd.Flags(), cfg); err != nil {
		return err
	}

	q := strings.TrimSpace(strings.Join(args, " "))
	if q == "" {
		q = store.MatchAll
	}

	if !store.Exists(cfg.Index.Path) {
		return mferrors.New(mferrors.ErrCodeIndexNotFound, "no index found", nil).
			WithDetail("path", cfg.Index.Path).
			WithSuggestion("Run 'metafind index <dir>' first")
	}

	// Live sessions write to the index, so they take the writer lock.
	var lock *store.Lock
	if cfg.Search.Live {
		lock = store.NewLock(cfg.Index.Path)
		acquired, err := lock.TryLock()
		if err != nil {
			return mferrors.Wrap(mferrors.ErrCodeIndexOpen, err)
		}
		if !acquired {
			return mferrors.IndexLockedError(lock.Path())
		}
		defer func() { _ = lock.Unlock() }()
	}

	idx, err := store.OpenIndex(cfg.Index.Path, cfg.Backend())
	if err != nil {
		return mferrors.New(mferrors.ErrCodeIndexOpen, "failed to open index", err).
			WithDetail("path", cfg.Index.Path)
	}
	defer func() { _ = idx.Close() }()

	engineOpts := []engine.Option{engine.WithBatchSize(cfg.Search.BatchSize)}
	if cfg.Search.Live {
		feed, err := newWatchFeed(cfg, idx)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, engine.WithFeed(feed))
	}
	eng := engine.NewIndexEngine(idx, engineOpts...)

	outFormat := cfg.OutputFormat()
	var snk sink.Sink
	if opts.output != "" {
		file, err := sink.NewFile(opts.output, outFormat)
		if err != nil {
			return mferrors.SinkError("failed to open output file", err).
				WithDetail("path", opts.output)
		}
		snk = file
	} else {
		snk = sink.NewStream(cmd.OutOrStdout(), outFormat)
	}

	controller := query.NewController(eng, snk,
		query.WithFormatter(cfg.Formatter()),
		query.WithFollow(cfg.Search.Live))
	if err := controller.Configure(outFormat, cfg.Search.Limit); err != nil {
		return err
	}

	stopOnSignal := handleStopSignals(controller.Stop)
	defer stopOnSignal()

	summary, err := controller.Run(cmd.Context(), q)
	if !opts.quiet {
		printSummary(cmd.ErrOrStderr(), summary)
	}
	return err
}

// newWatchFeed builds the live mode change feed. Roots and the volume label
// come from the configuration, or from the manifest of the last index run.
func newWatchFeed(cfg *config.Config, idx store.Index) (*engine.WatchFeed, error) {
	roots := cfg.Index.Roots
	if len(roots) == 0 || cfg.Harvest.Volume == "" {
		manifest, err := store.ReadManifest(cfg.Index.Path)
		if err != nil {
			slog.Warn("manifest_read_failed", slog.String("error", err.Error()))
		}
		if manifest != nil {
			if len(roots) == 0 {
				roots = manifest.Roots
			}
			if cfg.Harvest.Volume == "" {
				cfg.Harvest.Volume = manifest.Volume
			}
		}
	}
	if len(roots) == 0 {
		return nil, mferrors.ValidationError("live mode needs the indexed roots", nil).
			WithSuggestion("Set index.roots in the config or run 'metafind index <dir>' first")
	}

	h, err := harvest.New(cfg.HarvestOptions(roots))
	if err != nil {
		return nil, mferrors.New(mferrors.ErrCodeHarvestFailed, "failed to create harvester", err)
	}
	coordinator := index.NewCoordinator(index.CoordinatorConfig{Harvester: h, Index: idx})

	opts := watcher.DefaultOptions()
	if d := cfg.DebounceDuration(); d > 0 {
		opts.DebounceWindow = d
	}
	return engine.NewWatchFeed(h, coordinator, opts), nil
}

// handleStopSignals calls stop on SIGINT or SIGTERM. A second signal
// exits immediately. The returned function releases the handler.
func handleStopSignals(stop func()) func() {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		select {
		case <-signals:
			slog.Debug("stop_signal_received")
			stop()
		case <-ctx.Done():
			return
		}
		select {
		case <-signals:
			os.Exit(130)
		case <-ctx.Done():
		}
	}()

	return func() {
		signal.Stop(signals)
		cancel()
	}
}

func printSummary(w io.Writer, s query.Summary) {
	if s.Reason == "" {
		return
	}
	line := fmt.Sprintf("%d %s in %s (%s)",
		s.Emitted, plural(s.Emitted, "result"), s.Duration.Round(time.Millisecond), s.Reason)
	if s.Removed > 0 {
		line += fmt.Sprintf(", %d removed", s.Removed)
	}
	_, _ = fmt.Fprintln(w, line)
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
