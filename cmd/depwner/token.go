package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/y0ug/depwner/internal/models"
	"github.com/y0ug/depwner/pkg/auth"
)

var tokenSubject string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access and refresh token for the control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		authConfig, err := auth.NewConfig()
		if err != nil {
			return fmt.Errorf("failed to initialize auth config: %w", err)
		}
		if !authConfig.Enabled() {
			return fmt.Errorf("authentication is disabled; set AUTH_TYPE=jwt")
		}
		tokens, err := auth.GenerateToken(tokenSubject, authConfig)
		if err != nil {
			return err
		}
		return printResponse(models.Ok("Token issued", tokens))
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "Subject claim of the issued token")
}
