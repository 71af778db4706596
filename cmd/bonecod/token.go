package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/DeKaN/ha-boneco/internal/auth"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/config"
)

// runToken mints an API access token signed with the configured secret and
// writes it to out.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "", "token subject, e.g. the client name")
	role := fs.String("role", string(auth.RoleViewer), "role: viewer, operator or admin")
	ttl := fs.Duration("ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("-subject is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	}

	token, err := auth.GenerateAccessToken(auth.TokenOptions{
		Subject: *subject,
		Role:    auth.Role(*role),
		Issuer:  cfg.Security.JWT.Issuer,
		TTL:     lifetime,
	}, cfg.Security.JWT.Secret)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
