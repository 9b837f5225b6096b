package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	apphttp "gosh-fetch/internal/http"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.API.TokenSecret == "" {
			return errors.New("api.token_secret is not set; the API accepts unauthenticated requests")
		}
		ttl := tokenTTL
		if !cmd.Flags().Changed("ttl") {
			ttl = cfg.API.TokenTTL
		}
		token, err := apphttp.IssueToken(cfg.API.TokenSecret, tokenSubject, ttl, time.Now())
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "Token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime, 0 for no expiry (default api.token_ttl)")
}
