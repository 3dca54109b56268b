package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/flexprice/dunning/internal/api"
	"github.com/flexprice/dunning/internal/api/cron"
	v1 "github.com/flexprice/dunning/internal/api/v1"
	"github.com/flexprice/dunning/internal/auth"
	"github.com/flexprice/dunning/internal/cache"
	"github.com/flexprice/dunning/internal/config"
	"github.com/flexprice/dunning/internal/domain/dunning"
	"github.com/flexprice/dunning/internal/domain/invoice"
	"github.com/flexprice/dunning/internal/domain/outbox"
	"github.com/flexprice/dunning/internal/domain/subscription"
	"github.com/flexprice/dunning/internal/email"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/payment"
	"github.com/flexprice/dunning/internal/postgres"
	"github.com/flexprice/dunning/internal/pubsub"
	"github.com/flexprice/dunning/internal/pubsub/kafka"
	"github.com/flexprice/dunning/internal/pubsub/memory"
	pubsubRouter "github.com/flexprice/dunning/internal/pubsub/router"
	"github.com/flexprice/dunning/internal/repository/pgsql"
	"github.com/flexprice/dunning/internal/scheduler"
	"github.com/flexprice/dunning/internal/sentry"
	"github.com/flexprice/dunning/internal/service"
	"github.com/flexprice/dunning/internal/temporal/activities"
	temporalService "github.com/flexprice/dunning/internal/temporal/service"
	"github.com/flexprice/dunning/internal/types"
	"github.com/flexprice/dunning/internal/webhook"
	"github.com/flexprice/dunning/internal/webhook/payload"
	"github.com/gin-gonic/gin"
	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
)

func init() {
	// Pyroscope needs these rates for mutex and block profiles
	runtime.SetMutexProfileFraction(5)
	runtime.SetBlockProfileRate(5)
}

func main() {
	app := fx.New(
		fx.Provide(
			// Core dependencies
			config.NewConfig,
			logger.NewLogger,
			sentry.NewSentryService,
			types.NewSystemClock,

			// Storage
			postgres.NewDB,
			postgres.NewClient,
			cache.Initialize,

			// Repositories
			provideSubscriptionRepository,
			provideInvoiceRepository,
			provideRetryPolicyRepository,
			provideCampaignRepository,
			provideRetryAttemptRepository,
			provideDunningEmailRepository,
			provideDunningActionRepository,
			provideOutboxRepository,

			// Payment gateways
			payment.NewRegistryFromConfig,

			// Messaging
			providePubSub,
			pubsubRouter.NewRouter,
			webhook.NewSenderFromConfig,
			payload.NewPayloadBuilderFactory,
			webhook.NewHandler,
			email.NewEmailClient,
			email.NewEmail,
			provideEmailDeliveryService,

			// Services
			service.NewServiceParams,
			service.NewPolicyResolver,
			service.NewEmailSequencer,
			service.NewEventPublisher,
			service.NewDunningEngine,
			service.NewInvoiceGenerator,
			service.NewDunningSweeper,
			service.NewOutboxRelay,
			service.NewDunningAdminService,
			service.NewRecoveryMetricsService,

			// Scheduling
			scheduler.NewScheduler,
			activities.NewDunningActivities,
			temporalService.NewTemporalService,

			// HTTP
			auth.NewProvider,
			provideHandlers,
			api.NewRouter,
		),
		fx.Invoke(
			sentry.Module,
			startPyroscope,
			migrate,
			startServer,
		),
	)

	app.Run()
}

func provideSubscriptionRepository(client postgres.IClient, log *logger.Logger) subscription.Repository {
	return pgsql.NewSubscriptionRepository(client, log)
}

func provideInvoiceRepository(client postgres.IClient, log *logger.Logger) invoice.Repository {
	return pgsql.NewInvoiceRepository(client, log)
}

func provideRetryPolicyRepository(client postgres.IClient, log *logger.Logger, c cache.Cache, cfg *config.Configuration) dunning.PolicyRepository {
	return pgsql.NewRetryPolicyRepository(client, log, c, cfg.Cache.PolicyTTL)
}

func provideCampaignRepository(client postgres.IClient, log *logger.Logger, c cache.Cache, cfg *config.Configuration) dunning.CampaignRepository {
	return pgsql.NewCampaignRepository(client, log, c, cfg.Cache.PolicyTTL)
}

func provideRetryAttemptRepository(client postgres.IClient, log *logger.Logger) dunning.RetryAttemptRepository {
	return pgsql.NewRetryAttemptRepository(client, log)
}

func provideDunningEmailRepository(client postgres.IClient, log *logger.Logger) dunning.EmailRepository {
	return pgsql.NewDunningEmailRepository(client, log)
}

func provideDunningActionRepository(client postgres.IClient, log *logger.Logger) dunning.ActionRepository {
	return pgsql.NewDunningActionRepository(client, log)
}

func provideOutboxRepository(client postgres.IClient, log *logger.Logger) outbox.Repository {
	return pgsql.NewOutboxRepository(client, log)
}

// providePubSub returns the pubsub shared by the outbox relay and the
// delivery handlers. The memory pubsub only works within one process.
func providePubSub(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (pubsub.PubSub, error) {
	var (
		ps  pubsub.PubSub
		err error
	)
	switch cfg.PubSub.Type {
	case "kafka":
		ps, err = kafka.NewPubSubFromConfig(cfg, log, "")
		if err != nil {
			return nil, err
		}
	default:
		ps = memory.NewPubSub(cfg, log)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return ps.Close()
		},
	})
	return ps, nil
}

func provideEmailDeliveryService(
	client *email.Email,
	emailRepo dunning.EmailRepository,
	ps pubsub.PubSub,
	clock types.Clock,
	log *logger.Logger,
) *email.DeliveryService {
	return email.NewDeliveryService(client, emailRepo, ps, clock, log)
}

func provideHandlers(
	adminService service.DunningAdminService,
	metricsService service.RecoveryMetricsService,
	sweeper service.DunningSweeper,
	relay service.OutboxRelay,
	db postgres.IClient,
	clock types.Clock,
	log *logger.Logger,
) api.Handlers {
	return api.Handlers{
		Health:      v1.NewHealthHandler(db, log),
		Dunning:     v1.NewDunningHandler(adminService, metricsService, clock, log),
		CronDunning: cron.NewDunningCronHandler(sweeper, relay, log),
	}
}

func startPyroscope(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) error {
	if !cfg.Pyroscope.Enabled {
		return nil
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.Pyroscope.ApplicationName,
		ServerAddress:   cfg.Pyroscope.ServerAddress,
		Tags:            map[string]string{"mode": string(cfg.Deployment.Mode)},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
			pyroscope.ProfileMutexCount,
			pyroscope.ProfileMutexDuration,
			pyroscope.ProfileBlockCount,
			pyroscope.ProfileBlockDuration,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start pyroscope: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return profiler.Stop()
		},
	})
	log.Infow("pyroscope profiling started", "server", cfg.Pyroscope.ServerAddress)
	return nil
}

func migrate(lc fx.Lifecycle, cfg *config.Configuration, db *sql.DB, log *logger.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !cfg.Postgres.AutoMigrate {
				return nil
			}
			return postgres.Migrate(ctx, db, log)
		},
		OnStop: func(ctx context.Context) error {
			return db.Close()
		},
	})
}

// startServer runs the parts of the service the deployment mode asks for.
// Local mode runs everything in one process.
func startServer(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.Configuration,
	log *logger.Logger,
	router *gin.Engine,
	pubsubRouter *pubsubRouter.Router,
	webhookHandler *webhook.Handler,
	emailDelivery *email.DeliveryService,
	sched *scheduler.Scheduler,
	temporal temporalService.TemporalService,
) {
	mode := cfg.Deployment.Mode
	log.Infow("starting dunning service", "mode", mode)

	switch mode {
	case types.ModeLocal:
		startAPIServer(lc, shutdowner, cfg, router, log)
		startWorkers(lc, cfg, log, pubsubRouter, webhookHandler, emailDelivery, sched, temporal)
	case types.ModeAPI:
		startAPIServer(lc, shutdowner, cfg, router, log)
	case types.ModeWorker:
		startWorkers(lc, cfg, log, pubsubRouter, webhookHandler, emailDelivery, sched, temporal)
	default:
		log.Fatalf("unknown deployment mode: %s", mode)
	}
}

func startAPIServer(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Configuration, router *gin.Engine, log *logger.Logger) {
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting API server", "address", cfg.Server.Address)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorw("API server failed", "error", err)
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("shutting down API server")
			return srv.Shutdown(ctx)
		},
	})
}

func startWorkers(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	log *logger.Logger,
	router *pubsubRouter.Router,
	webhookHandler *webhook.Handler,
	emailDelivery *email.DeliveryService,
	sched *scheduler.Scheduler,
	temporal temporalService.TemporalService,
) {
	webhookHandler.RegisterHandler(router, cfg)
	emailDelivery.RegisterHandler(router, cfg)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting message router")
			go func() {
				if err := router.Run(context.Background()); err != nil {
					log.Errorw("message router stopped", "error", err)
				}
			}()
			<-router.Running()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping message router")
			return router.Close()
		},
	})

	scheduler.Module(lc, cfg, log, sched)
	temporalService.Module(lc, cfg, log, temporal)
}
