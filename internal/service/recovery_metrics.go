package service

import (
	"context"
	"io"
	"time"

	"github.com/flexprice/dunning/internal/domain/dunning"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/gocarina/gocsv"
)

// RecoveryMetricsService reports how well dunning recovers revenue. It only
// reads attempt history.
type RecoveryMetricsService interface {
	GetRecoveryMetrics(ctx context.Context, from, to time.Time) (*dunning.RecoveryMetrics, error)
	// ExportCSV writes one row per attempt number.
	ExportCSV(ctx context.Context, from, to time.Time, w io.Writer) error
}

type recoveryMetricsService struct {
	ServiceParams
}

func NewRecoveryMetricsService(params ServiceParams) RecoveryMetricsService {
	return &recoveryMetricsService{ServiceParams: params}
}

func (s *recoveryMetricsService) GetRecoveryMetrics(ctx context.Context, from, to time.Time) (*dunning.RecoveryMetrics, error) {
	if !to.After(from) {
		return nil, ierr.NewError("to must be after from").
			WithHint("The end of the period must be after its start").
			WithReportableDetails(map[string]any{
				"from": from,
				"to":   to,
			}).
			Mark(ierr.ErrValidation)
	}

	attempts, err := s.RetryAttemptRepo.ListAttemptedBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}

	metrics := dunning.ComputeRecoveryMetrics(from, to, attempts)

	cancelled, err := s.InvoiceRepo.CountCancelledBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	metrics.RunsCancelled = cancelled

	return metrics, nil
}

func (s *recoveryMetricsService) ExportCSV(ctx context.Context, from, to time.Time, w io.Writer) error {
	metrics, err := s.GetRecoveryMetrics(ctx, from, to)
	if err != nil {
		return err
	}

	rows := metrics.ByAttempt
	if rows == nil {
		rows = []dunning.AttemptStats{}
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to export recovery metrics").
			Mark(ierr.ErrInternal)
	}
	return nil
}
