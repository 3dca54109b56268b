package pgsql

import (
	"context"
	"time"

	"github.com/flexprice/dunning/internal/domain/dunning"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/postgres"
)

const retryAttemptColumns = `
	id, invoice_id, subscription_id, attempt_number, trigger, outcome, failure_kind,
	COALESCE(error_code, ''), COALESCE(error_message, ''), amount, currency, gateway,
	COALESCE(gateway_payment_ref, ''), idempotency_key, attempted_at, next_retry_at, created_at`

type retryAttemptRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewRetryAttemptRepository(client postgres.IClient, logger *logger.Logger) dunning.RetryAttemptRepository {
	return &retryAttemptRepository{
		client: client,
		logger: logger,
	}
}

func scanRetryAttempt(row rowScanner) (*dunning.RetryAttempt, error) {
	var a dunning.RetryAttempt
	if err := row.Scan(
		&a.ID, &a.InvoiceID, &a.SubscriptionID, &a.AttemptNumber, &a.Trigger, &a.Outcome, &a.FailureKind,
		&a.ErrorCode, &a.ErrorMessage, &a.Amount, &a.Currency, &a.Gateway,
		&a.GatewayPaymentRef, &a.IdempotencyKey, &a.AttemptedAt, &a.NextRetryAt, &a.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *retryAttemptRepository) Create(ctx context.Context, a *dunning.RetryAttempt) error {
	span := StartRepositorySpan(ctx, "retry_attempt", "create", map[string]interface{}{
		"invoice_id":     a.InvoiceID,
		"attempt_number": a.AttemptNumber,
	})
	defer FinishSpan(span)

	_, err := r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO retry_attempts (
			id, invoice_id, subscription_id, attempt_number, trigger, outcome, failure_kind,
			error_code, error_message, amount, currency, gateway,
			gateway_payment_ref, idempotency_key, attempted_at, next_retry_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		a.ID, a.InvoiceID, a.SubscriptionID, a.AttemptNumber, a.Trigger, a.Outcome, a.FailureKind,
		nullIfEmpty(a.ErrorCode), nullIfEmpty(a.ErrorMessage), a.Amount, a.Currency, a.Gateway,
		nullIfEmpty(a.GatewayPaymentRef), a.IdempotencyKey, a.AttemptedAt, a.NextRetryAt, a.CreatedAt,
	)
	if err != nil {
		SetSpanError(span, err)
		if postgres.IsUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("This attempt was already recorded").
				WithReportableDetails(map[string]any{
					"invoice_id":     a.InvoiceID,
					"attempt_number": a.AttemptNumber,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return dbError(err, "Failed to record retry attempt", map[string]any{"invoice_id": a.InvoiceID})
	}
	return nil
}

func (r *retryAttemptRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]*dunning.RetryAttempt, error) {
	span := StartRepositorySpan(ctx, "retry_attempt", "list_by_invoice", map[string]interface{}{
		"invoice_id": invoiceID,
	})
	defer FinishSpan(span)

	return r.query(ctx, `
		SELECT `+retryAttemptColumns+`
		FROM retry_attempts
		WHERE invoice_id = $1
		ORDER BY attempt_number ASC`, invoiceID)
}

func (r *retryAttemptRepository) GetLatestAttemptNumber(ctx context.Context, invoiceID string) (int, error) {
	var n int
	err := r.client.Querier(ctx).QueryRowContext(ctx,
		`SELECT COALESCE(MAX(attempt_number), 0) FROM retry_attempts WHERE invoice_id = $1`, invoiceID,
	).Scan(&n)
	if err != nil {
		return 0, dbError(err, "Failed to read attempt number", map[string]any{"invoice_id": invoiceID})
	}
	return n, nil
}

func (r *retryAttemptRepository) ListAttemptedBetween(ctx context.Context, from, to time.Time) ([]*dunning.RetryAttempt, error) {
	span := StartRepositorySpan(ctx, "retry_attempt", "list_attempted_between", map[string]interface{}{
		"from": from,
		"to":   to,
	})
	defer FinishSpan(span)

	return r.query(ctx, `
		SELECT `+retryAttemptColumns+`
		FROM retry_attempts
		WHERE attempted_at >= $1 AND attempted_at < $2
		ORDER BY attempted_at ASC`, from, to)
}

func (r *retryAttemptRepository) query(ctx context.Context, query string, args ...any) ([]*dunning.RetryAttempt, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(err, "Failed to list retry attempts", nil)
	}
	defer rows.Close()

	var attempts []*dunning.RetryAttempt
	for rows.Next() {
		a, err := scanRetryAttempt(rows)
		if err != nil {
			return nil, dbError(err, "Failed to read retry attempt", nil)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "Failed to list retry attempts", nil)
	}
	return attempts, nil
}
