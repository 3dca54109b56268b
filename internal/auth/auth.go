package auth

import (
	"fmt"
	"time"

	"github.com/flexprice/dunning/internal/config"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyActor is recorded as the actor of operations authenticated with the
// static api key.
const APIKeyActor = "api_key"

// Claims identifies the operator behind an admin request
type Claims struct {
	UserID string
}

// Provider authenticates admin API callers
type Provider interface {
	ValidateToken(token string) (*Claims, error)
	ValidateAPIKey(key string) (*Claims, error)
	GenerateToken(userID string) (string, time.Time, error)
}

type dunningAuth struct {
	AuthConfig config.AuthConfig
}

func NewProvider(cfg *config.Configuration) Provider {
	return &dunningAuth{
		AuthConfig: cfg.Auth,
	}
}

func (a *dunningAuth) ValidateToken(token string) (*Claims, error) {
	parsedToken, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ierr.NewError("unexpected signing method").
				WithHint(fmt.Sprintf("unexpected signing method: %v", token.Header["alg"])).
				Mark(ierr.ErrPermissionDenied)
		}
		return []byte(a.AuthConfig.Secret), nil
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Token parse error").
			Mark(ierr.ErrPermissionDenied)
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok || !parsedToken.Valid {
		return nil, ierr.NewError("invalid token claims").
			WithHint("Invalid token claims").
			Mark(ierr.ErrPermissionDenied)
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, ierr.NewError("token missing user ID").
			WithHint("Token missing user ID").
			Mark(ierr.ErrPermissionDenied)
	}

	return &Claims{UserID: userID}, nil
}

// ValidateAPIKey compares key with the configured bcrypt hash. Api key auth
// is disabled when no hash is configured.
func (a *dunningAuth) ValidateAPIKey(key string) (*Claims, error) {
	if a.AuthConfig.APIKeyHash == "" {
		return nil, ierr.NewError("api key authentication is disabled").
			WithHint("Use a bearer token").
			Mark(ierr.ErrPermissionDenied)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.AuthConfig.APIKeyHash), []byte(key)); err != nil {
		return nil, ierr.NewError("invalid api key").
			WithHint("Invalid API key").
			Mark(ierr.ErrPermissionDenied)
	}
	return &Claims{UserID: APIKeyActor}, nil
}

func (a *dunningAuth) GenerateToken(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, ierr.NewError("missing required parameter: userID").
			WithHint("User ID is required").
			Mark(ierr.ErrValidation)
	}

	ttl := a.AuthConfig.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     expiresAt.Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.AuthConfig.Secret))
	if err != nil {
		return "", time.Time{}, ierr.WithError(err).
			WithHint("Failed to sign token").
			Mark(ierr.ErrSystem)
	}
	return signed, expiresAt, nil
}
