package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	var failOnFindings bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Report every stored relationship inconsistency without repairing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			found, err := a.service.Audit(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(found); err != nil {
				return err
			}
			if failOnFindings && len(found) > 0 {
				return fmt.Errorf("%d inconsistencies found", len(found))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failOnFindings, "fail", false, "exit non-zero when any inconsistency is found")
	return cmd
}
