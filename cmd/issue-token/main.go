// Command issue-token prints a signed actor token for local development.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/garyjia/disbursement-approvals/internal/config"
	"github.com/garyjia/disbursement-approvals/internal/infrastructure/auth"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "path to the configuration file")
	userID := pflag.StringP("user", "u", "", "user id to issue the token for")
	companyID := pflag.String("company", "", "company id carried in the token; empty for platform operators")
	ttl := pflag.Duration("ttl", 0, "token lifetime; defaults to auth.token_ttl")
	pflag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "--user is required")
		pflag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	lifetime := cfg.Auth.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	manager, err := auth.NewJWTManager(auth.Config{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
		TTL:    lifetime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create token issuer: %v\n", err)
		os.Exit(1)
	}

	token, expiresAt, err := manager.Issue(*userID, *companyID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println(token)
}
