package main

import (
	"fmt"
	"os"
	"strings"

	"enrollment-service/internal/signature"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// signCmd prints the callback signature for a pair, for exercising the callback endpoint
// against a local instance.
func signCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "sign [orderId] [remotePaymentRef]",
		Short: "Compute the callback signature for an order and remote payment reference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			if secret == "" {
				secret = envOr("PAYMENT_SIGNING_SECRET", "")
			}
			if secret == "" {
				return fmt.Errorf("PAYMENT_SIGNING_SECRET or --secret is required")
			}
			fmt.Fprintln(cmd.OutOrStdout(), signature.Sign(args[0], args[1], secret))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to PAYMENT_SIGNING_SECRET)")
	return cmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
