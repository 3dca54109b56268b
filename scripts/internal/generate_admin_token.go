package internal

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/flexprice/dunning/internal/auth"
	"github.com/flexprice/dunning/internal/config"
)

// GenerateAdminTokenFromEnv prints a bearer token for the operator in
// ADMIN_USER_ID. The operator id is recorded as the actor of admin actions.
func GenerateAdminTokenFromEnv() error {
	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return GenerateAdminToken(auth.NewProvider(cfg), os.Getenv("ADMIN_USER_ID"), os.Stdout)
}

func GenerateAdminToken(provider auth.Provider, userID string, out io.Writer) error {
	if userID == "" {
		return fmt.Errorf("ADMIN_USER_ID is required")
	}

	token, expiresAt, err := provider.GenerateToken(userID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "user_id: %s\nexpires_at: %s\ntoken: %s\n", userID, expiresAt.UTC().Format(time.RFC3339), token)
	return nil
}
