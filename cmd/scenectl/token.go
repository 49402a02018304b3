package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/danmuck/scenecast/internal/auth"
)

type tokenOptions struct {
	secret   string
	issuer   string
	consumer string
	ttl      time.Duration
}

func init() {
	rootCmd.AddCommand(newTokenCmd())
}

func newTokenCmd() *cobra.Command {
	opts := tokenOptions{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a join token for producers running with auth mode jwt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.secret == "" {
				return errors.New("--secret is required")
			}
			token, err := auth.JWT{Secret: []byte(opts.secret), Issuer: opts.issuer}.Issue(opts.consumer, opts.ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.secret, "secret", "", "shared HS256 secret (auth.jwt_secret)")
	cmd.Flags().StringVar(&opts.issuer, "issuer", "", "issuer claim (auth.jwt_issuer)")
	cmd.Flags().StringVar(&opts.consumer, "consumer", "", "consumer id claim")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	return cmd
}
