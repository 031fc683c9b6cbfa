package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Run every stored pending or failed propagation task once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			worker := a.newWorker(cfg, nil, logger)
			done, failed, err := worker.Drain(cmd.Context())
			logger.Info("Replay finished", zap.Int("completed", done), zap.Int("failed", failed))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "completed=%d failed=%d\n", done, failed)
			if failed > 0 {
				return fmt.Errorf("%d propagation tasks still failing", failed)
			}
			return nil
		},
	}
}
