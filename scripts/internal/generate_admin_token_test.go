package internal

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/flexprice/dunning/internal/auth"
	"github.com/flexprice/dunning/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAdminToken(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Auth.Secret = "script-secret"
	cfg.Auth.TokenTTL = time.Hour
	provider := auth.NewProvider(cfg)

	var out bytes.Buffer
	require.NoError(t, GenerateAdminToken(provider, "ops_jane", &out))

	var token string
	for _, line := range strings.Split(out.String(), "\n") {
		if v, ok := strings.CutPrefix(line, "token: "); ok {
			token = v
		}
	}
	require.NotEmpty(t, token)

	claims, err := provider.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops_jane", claims.UserID)

	assert.Error(t, GenerateAdminToken(provider, "", &out))
}
