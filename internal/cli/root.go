// Package cli implements the repsync command tree.
package cli

import (
	"github.com/spf13/cobra"

	"repsync/internal/config"
	"repsync/pkg/logger"
)

type globalFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
}

var flags globalFlags

// loadedConfig is populated by the persistent pre-run for subcommands.
var loadedConfig *config.Config

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "repsync",
		Short: "repsync - realtime sync client for collaborative workout sessions",
		Long: `repsync keeps a local exercise session document in sync with the
collaboration server over named WebSocket channels, surviving brief
offline periods through an on-disk session cache.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}

			configPath := flags.ConfigPath
			if configPath == "" {
				var err error
				configPath, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			level := cfg.Log.Level
			if flags.Verbose {
				level = "debug"
			}
			if flags.Quiet {
				level = "error"
			}
			if err := logger.Init(logger.Config{
				Level:  level,
				Format: cfg.Log.Format,
				File:   cfg.Log.File,
			}); err != nil {
				return err
			}

			loadedConfig = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "", "config file path (default ~/.repsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "errors only")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}
