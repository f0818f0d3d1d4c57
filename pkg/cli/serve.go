package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/speedrun-hq/speedrun-settler/pkg/config"
	"github.com/speedrun-hq/speedrun-settler/pkg/logger"
	"github.com/speedrun-hq/speedrun-settler/pkg/service"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the settler API and relay workers",
		Long: `Run the settler with configuration read from the environment.

Without RPC_URL the settler moves funds in an in-memory bank, which is useful for
local development against the HTTP API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg, err := config.LoadConfig(opts.EnvFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	if ctx == nil {
		ctx = context.Background()
	}
	// Cancel on SIGINT/SIGTERM for a graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.NewService(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create settler service: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error("Failed to close ledger store: %v", err)
		}
	}()

	log.Info("Starting the settler service...")
	if err := svc.Start(ctx); err != nil {
		return err
	}
	log.Info("Settler stopped")
	return nil
}
