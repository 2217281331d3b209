package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"repsync/internal/app"
	"repsync/internal/auth"
	"repsync/internal/config"
	"repsync/pkg/logger"
)

func newRunCmd() *cobra.Command {
	var tokenVar string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync client until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadedConfig
			log := logger.Component("cli")

			a, err := app.New(cfg, auth.EnvProvider{Var: tokenVar})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.Start(ctx); err != nil {
				a.Stop()
				return err
			}

			// Follow config edits while running; only the log level is
			// applied live, everything else needs a restart.
			configPath := flags.ConfigPath
			if configPath == "" {
				configPath, _ = config.DefaultConfigPath()
			}
			if configPath != "" {
				go func() {
					err := config.Watch(ctx, configPath, func(updated *config.Config) {
						logger.SetLevel(updated.Log.Level)
					})
					if err != nil {
						log.Debug().Err(err).Msg("Config watch unavailable")
					}
				}()
			}

			<-ctx.Done()
			log.Info().Msg("Shutting down")
			return a.Stop()
		},
	}

	cmd.Flags().StringVar(&tokenVar, "token-env", "REPSYNC_TOKEN", "environment variable holding the bearer token")
	return cmd
}
