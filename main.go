package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/camden-git/familytree/config"
	"github.com/camden-git/familytree/logging"
)

var (
	cfg    config.Config
	logger *zap.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:           "familytree",
		Short:         "Family relationship graph service",
		Long:          "Stores people and keeps their parent, spouse and child links consistent on both sides.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil {
				log.Printf("Info: No .env file found or error loading: %v", err)
			}
			var err error
			cfg, err = config.LoadConfig()
			if err != nil {
				return err
			}
			logger, err = logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
	serve := serveCmd()
	rootCmd.RunE = serve.RunE
	rootCmd.AddCommand(serve, auditCmd(), replayCmd())
	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
