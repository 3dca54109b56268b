package middleware

import (
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/gin-gonic/gin"
)

// ErrorHandler renders the last error attached by a handler
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status := ierr.HTTPStatusFromErr(err)
		if status >= 500 {
			log.Errorw("request failed", "path", c.Request.URL.Path, "error", err)
		}
		c.JSON(status, ierr.NewErrorResponse(err))
	}
}
