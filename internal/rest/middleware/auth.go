package middleware

import (
	"net/http"
	"strings"

	"github.com/flexprice/dunning/internal/auth"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/types"
	"github.com/gin-gonic/gin"
)

// AuthenticateMiddleware accepts a bearer JWT or the admin api key and sets
// the operator as the actor of the request.
func AuthenticateMiddleware(provider auth.Provider, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			claims *auth.Claims
			err    error
		)

		if apiKey := c.GetHeader(types.HeaderAPIKey); apiKey != "" {
			claims, err = provider.ValidateAPIKey(apiKey)
		} else {
			header := c.GetHeader(types.HeaderAuthorization)
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				err = ierr.NewError("missing authorization").
					WithHint("Provide a bearer token or an API key").
					Mark(ierr.ErrPermissionDenied)
			} else {
				claims, err = provider.ValidateToken(token)
			}
		}

		if err != nil {
			log.Debugw("rejected admin request", "path", c.Request.URL.Path, "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ierr.NewErrorResponse(err))
			return
		}

		ctx := types.SetUserID(c.Request.Context(), claims.UserID)
		ctx = types.SetActor(ctx, claims.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
