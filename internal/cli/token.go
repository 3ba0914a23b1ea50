package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nibras-backend/internal/identity"
)

func newTokenCmd() *cobra.Command {
	var secret, subject, email string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("a signing secret is required (--secret or JWT_SECRET)")
			}
			token, err := identity.NewJWTVerifier(secret).Sign(subject, email, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "HS256 signing secret")
	f.StringVar(&subject, "subject", "dev", "token subject")
	f.StringVar(&email, "email", "", "email claim")
	f.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")

	return cmd
}
