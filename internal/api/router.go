package api

import (
	"github.com/flexprice/dunning/internal/api/cron"
	v1 "github.com/flexprice/dunning/internal/api/v1"
	"github.com/flexprice/dunning/internal/auth"
	"github.com/flexprice/dunning/internal/config"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/rest/middleware"
	"github.com/flexprice/dunning/internal/types"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Health      *v1.HealthHandler
	Dunning     *v1.DunningHandler
	CronDunning *cron.DunningCronHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration, logger *logger.Logger, authProvider auth.Provider) *gin.Engine {
	if cfg.Deployment.Mode != types.ModeLocal {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = logger.GetGinLogger()

	router := gin.New()
	router.Use(
		middleware.RequestIDMiddleware,
		middleware.SentryMiddleware(cfg),
		middleware.LoggingMiddleware(logger),
		gin.Recovery(),
		middleware.ErrorHandler(logger),
	)

	router.GET("/health", handlers.Health.Health)

	private := router.Group("/", middleware.AuthenticateMiddleware(authProvider, logger))
	private.Use(middleware.SentryUserContextMiddleware)

	v1Private := private.Group("/v1")
	dunning := v1Private.Group("/dunning")
	{
		dunning.GET("/cases", handlers.Dunning.ListActiveCases)
		dunning.GET("/metrics", handlers.Dunning.GetRecoveryMetrics)
		dunning.GET("/subscriptions/:id", handlers.Dunning.GetDunningStatus)
		dunning.POST("/subscriptions/:id/retry", handlers.Dunning.ForceRetry)
		dunning.POST("/subscriptions/:id/extend-grace", handlers.Dunning.ExtendGracePeriod)
		dunning.POST("/subscriptions/:id/cancel", handlers.Dunning.CancelImmediately)
		dunning.POST("/emails/:id/engagement", handlers.Dunning.RecordEmailEngagement)
	}

	cronGroup := v1Private.Group("/cron/dunning")
	{
		cronGroup.POST("/sweep", handlers.CronDunning.RunSweep)
		cronGroup.POST("/relay", handlers.CronDunning.RelayOutbox)
	}

	return router
}
