package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/y0ug/depwner/internal/models"
	"github.com/y0ug/depwner/internal/service"
)

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Inspect and manage quarantined files",
}

// withService runs fn against a freshly opened engine and prints its response.
func withService(fn func(ctx context.Context, svc *service.Service) models.Response) error {
	ctx := context.Background()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close(ctx)
	return printResponse(fn(ctx, svc))
}

func init() {
	quarantineCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the quarantine ledger",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withService(func(_ context.Context, svc *service.Service) models.Response {
					return svc.Ledger()
				})
			},
		},
		&cobra.Command{
			Use:   "restore <original-path>",
			Short: "Move a quarantined file back and whitelist it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withService(func(_ context.Context, svc *service.Service) models.Response {
					return svc.Restore(args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "purge <original-path>",
			Short: "Delete a quarantined file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withService(func(_ context.Context, svc *service.Service) models.Response {
					return svc.Purge(args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "reconcile",
			Short: "Compare the quarantine directory with its ledger",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withService(func(_ context.Context, svc *service.Service) models.Response {
					return svc.Reconcile()
				})
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show store and quarantine counters",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withService(func(ctx context.Context, svc *service.Service) models.Response {
					return svc.Stats(ctx)
				})
			},
		},
	)
}
