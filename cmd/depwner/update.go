package main

import (
	"context"

	"github.com/spf13/cobra"
)

var updateFeedFile string

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Fetch the signature feed and merge it into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close(ctx)

		if updateFeedFile != "" {
			return printResponse(svc.UpdateDefinitionsFromFile(ctx, updateFeedFile))
		}
		return printResponse(svc.UpdateDefinitions(ctx))
	},
}

func init() {
	updateCmd.Flags().StringVar(&updateFeedFile, "feed-file", "", "Apply a feed already saved on disk instead of downloading it")
}
