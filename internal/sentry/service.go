package sentry

import (
	"context"
	"time"

	"github.com/flexprice/dunning/internal/config"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/getsentry/sentry-go"
	"go.uber.org/fx"
)

// Service reports unexpected errors from background workers. All methods are
// no-ops when sentry is disabled.
type Service struct {
	cfg    *config.Configuration
	logger *logger.Logger
}

func NewSentryService(cfg *config.Configuration, logger *logger.Logger) *Service {
	return &Service{cfg: cfg, logger: logger}
}

// Module initialises the sentry client on start and flushes it on stop.
func Module(lc fx.Lifecycle, svc *Service) error {
	if !svc.cfg.Sentry.Enabled {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              svc.cfg.Sentry.DSN,
		Environment:      svc.cfg.Sentry.Environment,
		SampleRate:       svc.cfg.Sentry.SampleRate,
		EnableTracing:    false,
		AttachStacktrace: true,
	})
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sentry.Flush(2 * time.Second)
			return nil
		},
	})
	svc.logger.Infow("sentry initialized", "environment", svc.cfg.Sentry.Environment)
	return nil
}

func (s *Service) IsEnabled() bool {
	return s != nil && s.cfg.Sentry.Enabled
}

// CaptureException reports err with the given tags.
func (s *Service) CaptureException(ctx context.Context, err error, tags map[string]string) {
	if !s.IsEnabled() || err == nil {
		return
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		hub.CaptureException(err)
	})
}
