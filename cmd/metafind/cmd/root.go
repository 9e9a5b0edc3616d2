// Package cmd provides the CLI commands for metafind.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/metafind/internal/config"
	mferrors "github.com/Aman-CERP/metafind/internal/errors"
	"github.com/Aman-CERP/metafind/internal/logging"
	"github.com/Aman-CERP/metafind/internal/profiling"
	"github.com/Aman-CERP/metafind/pkg/version"
)

// globalOptions holds the persistent flags.
type globalOptions struct {
	debug     bool
	configDir string
	profile   profiling.Options

	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command. Running it with a query searches
// the index, the same as 'metafind search'.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&globalOptions{})
}

func newRootCmd(global *globalOptions) *cobra.Command {
	var search searchOptions

	cmd := &cobra.Command{
		Use:   "metafind [query...]",
		Short: "Search file metadata from the command line",
		Long: `metafind indexes file system metadata (names, paths, sizes, dates,
content types, digests) and streams the items matching a query as plain
text, XML or NUL-delimited records.

Build the index once, then search it:
  metafind index ~/Documents
  metafind 'ext:pdf size:>1048576'
  metafind -0 'name:report' | xargs -0 ls -l
  metafind --live --format xml 'kind:file'`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return runSearch(cmd, global, args, &search)
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := global.setupLogging(cmd); err != nil {
				return err
			}
			return global.startProfiling()
		},
	}

	cmd.SetVersionTemplate("metafind version {{.Version}}\n")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return mferrors.ValidationError(err.Error(), err).
			WithSuggestion("Run 'metafind --help' for usage")
	})

	cmd.PersistentFlags().BoolVar(&global.debug, "debug", false, "Write a debug log to ~/.metafind/logs/")
	cmd.PersistentFlags().StringVar(&global.configDir, "config", "", "Directory to look up .metafind.yaml from (default: working directory)")
	cmd.PersistentFlags().StringVar(&global.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&global.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&global.profile.Trace, "profile-trace", "", "Write execution trace to file")
	addSearchFlags(cmd, &search)

	cmd.AddCommand(newSearchCmd(global))
	cmd.AddCommand(newIndexCmd(global))
	cmd.AddCommand(newStatsCmd(global))
	cmd.AddCommand(newConfigCmd(global))
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and returns the process exit code.
// Errors are printed to stderr.
func Execute() int {
	global := &globalOptions{}
	ran, err := newRootCmd(global).ExecuteC()
	if err != nil {
		slog.Debug("command_failed", mferrors.LogAttrs(err)...)
	}
	global.finish()
	if err != nil {
		printError(os.Stderr, ran, err)
	}
	return mferrors.ExitCode(err)
}

// printError writes err for the user. Commands run with --json get the JSON
// error object so their output stays machine readable.
func printError(w io.Writer, ran *cobra.Command, err error) {
	if ran != nil && jsonRequested(ran) {
		if data, jerr := mferrors.FormatJSON(err); jerr == nil {
			_, _ = fmt.Fprintln(w, string(data))
			return
		}
	}
	_, _ = fmt.Fprint(w, mferrors.FormatForCLI(err))
}

func jsonRequested(cmd *cobra.Command) bool {
	f := cmd.Flags().Lookup("json")
	return f != nil && f.Changed
}

// setupLogging installs the default logger: a debug-level file log with
// --debug, otherwise a stderr handler at the configured level.
func (g *globalOptions) setupLogging(cmd *cobra.Command) error {
	if g.debug {
		cleanup, err := logging.SetupDebug()
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		g.loggingCleanup = cleanup
		slog.Debug("debug_logging_enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version),
			slog.String("command", cmd.CommandPath()))
		return nil
	}

	logging.SetupStderr(cmd.ErrOrStderr(), "warn")
	return nil
}

func (g *globalOptions) startProfiling() error {
	if !g.profile.Enabled() {
		return nil
	}
	session, err := profiling.Start(g.profile)
	if err != nil {
		return mferrors.ValidationError("failed to start profiling", err)
	}
	g.profiler = session
	return nil
}

// finish flushes profiles and closes the debug log. It runs after the
// command, whether or not it failed.
func (g *globalOptions) finish() {
	if err := g.profiler.Stop(); err != nil {
		slog.Warn("profile_write_failed", slog.String("error", err.Error()))
	}
	g.profiler = nil
	if g.loggingCleanup != nil {
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
}

// loadConfig loads the configuration for --config or the working directory
// and applies its log level to the stderr logger.
func (g *globalOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dir := g.configDir
	if dir == "" {
		dir = "."
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if !g.debug {
		logging.SetupStderr(cmd.ErrOrStderr(), cfg.Logging.Level)
	}
	return cfg, nil
}
