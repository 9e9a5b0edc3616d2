package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/metafind/configs"
	"github.com/Aman-CERP/metafind/internal/config"
	mferrors "github.com/Aman-CERP/metafind/internal/errors"
)

func newConfigCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage metafind configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/metafind/config.yaml)
  3. Project config (.metafind.yaml, nearest parent directory)
  4. Environment variables (METAFIND_*)
  5. Command-line flags`,
		Example: `  # Create the user config from the template
  metafind config init

  # Create a project config in the working directory
  metafind config init --project

  # Show the effective configuration
  metafind config show`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd(global))
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigRestoreCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force, project bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the configuration template",
		Long: `Write the commented configuration template to the user config file,
or to .metafind.yaml in the working directory with --project.

An existing user config is backed up before --force overwrites it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.GetUserConfigPath()
			if project {
				path = ".metafind.yaml"
			}
			return runConfigInit(cmd, path, force, !project)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration")
	cmd.Flags().BoolVar(&project, "project", false, "Write .metafind.yaml in the working directory")
	return cmd
}

func runConfigInit(cmd *cobra.Command, path string, force, user bool) error {
	if _, err := os.Stat(path); err == nil {
		if !force {
			return mferrors.ConfigError("configuration already exists", nil).
				WithDetail("path", path).
				WithSuggestion("Use --force to overwrite it")
		}
		if user {
			backup, err := config.BackupUserConfig()
			if err != nil {
				return mferrors.ConfigError("failed to back up configuration", err)
			}
			if backup != "" {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Backed up existing config to %s\n", backup)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return mferrors.ConfigError("failed to create config directory", err)
	}
	if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
		return mferrors.ConfigError("failed to write configuration", err)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	return err
}

func newConfigShowCmd(global *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}

			for _, src := range cfg.Sources {
				if _, err := fmt.Fprintf(out, "# source: %s\n", src); err != nil {
					return err
				}
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func newConfigRestoreCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "restore [backup]",
		Short: "Restore the user config from a backup",
		Long: `Restore the user config from a backup made by 'config init --force'.
Without an argument the newest backup is used. The current config is
backed up first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backups, err := config.ListUserConfigBackups()
			if err != nil {
				return mferrors.ConfigError("failed to list backups", err)
			}
			if list {
				for _, b := range backups {
					if _, err := fmt.Fprintln(cmd.OutOrStdout(), b); err != nil {
						return err
					}
				}
				return nil
			}

			var target string
			switch {
			case len(args) == 1:
				target = args[0]
			case len(backups) > 0:
				target = backups[0]
			default:
				return mferrors.ConfigError("no config backups found", nil)
			}

			if err := config.RestoreUserConfig(target); err != nil {
				return mferrors.ConfigError("failed to restore configuration", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Restored %s from %s\n", config.GetUserConfigPath(), target)
			return err
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List backups, newest first")
	return cmd
}
