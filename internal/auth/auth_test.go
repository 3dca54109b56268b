package auth

import (
	"testing"
	"time"

	"github.com/flexprice/dunning/internal/config"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testProvider(t *testing.T, apiKey string) Provider {
	cfg := config.GetDefaultConfig()
	cfg.Auth.Secret = "test-secret"
	cfg.Auth.TokenTTL = time.Hour
	if apiKey != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.MinCost)
		require.NoError(t, err)
		cfg.Auth.APIKeyHash = string(hash)
	}
	return NewProvider(cfg)
}

func TestTokenRoundTrip(t *testing.T) {
	p := testProvider(t, "")

	token, expiresAt, err := p.GenerateToken("ops_jane")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := p.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops_jane", claims.UserID)
}

func TestValidateTokenRejects(t *testing.T) {
	p := testProvider(t, "")

	other := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "ops_jane",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	wrongSecret, err := other.SignedString([]byte("another-secret"))
	require.NoError(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "ops_jane",
		"exp":     time.Now().Add(-time.Minute).Unix(),
	})
	expiredToken, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noUser := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	noUserToken, err := noUser.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", wrongSecret},
		{"expired", expiredToken},
		{"missing user", noUserToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ValidateToken(tt.token)
			require.Error(t, err)
			assert.True(t, ierr.IsPermissionDenied(err))
		})
	}
}

func TestValidateAPIKey(t *testing.T) {
	p := testProvider(t, "sk_dunning_123")

	claims, err := p.ValidateAPIKey("sk_dunning_123")
	require.NoError(t, err)
	assert.Equal(t, APIKeyActor, claims.UserID)

	_, err = p.ValidateAPIKey("sk_wrong")
	assert.True(t, ierr.IsPermissionDenied(err))

	_, err = testProvider(t, "").ValidateAPIKey("sk_dunning_123")
	assert.True(t, ierr.IsPermissionDenied(err))
}
