package pgsql

import (
	"context"
	"time"

	"github.com/flexprice/dunning/internal/domain/dunning"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/postgres"
)

const dunningEmailColumns = `
	id, invoice_id, subscription_id, attempt_number, email_type, recipient, delivery_status,
	COALESCE(provider_message_id, ''), sent_at, opened_at, clicked_at, COALESCE(last_error, ''),
	created_at, updated_at`

type dunningEmailRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewDunningEmailRepository(client postgres.IClient, logger *logger.Logger) dunning.EmailRepository {
	return &dunningEmailRepository{
		client: client,
		logger: logger,
	}
}

func scanDunningEmail(row rowScanner) (*dunning.DunningEmail, error) {
	var e dunning.DunningEmail
	if err := row.Scan(
		&e.ID, &e.InvoiceID, &e.SubscriptionID, &e.AttemptNumber, &e.EmailType, &e.Recipient, &e.DeliveryStatus,
		&e.ProviderMessageID, &e.SentAt, &e.OpenedAt, &e.ClickedAt, &e.LastError,
		&e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *dunningEmailRepository) Create(ctx context.Context, e *dunning.DunningEmail) error {
	span := StartRepositorySpan(ctx, "dunning_email", "create", map[string]interface{}{
		"invoice_id": e.InvoiceID,
		"email_type": e.EmailType,
	})
	defer FinishSpan(span)

	// ON CONFLICT keeps the surrounding transaction usable when the dedup
	// slot is already taken
	res, err := r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO dunning_emails (
			id, invoice_id, subscription_id, attempt_number, email_type, recipient, delivery_status,
			provider_message_id, sent_at, opened_at, clicked_at, last_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT DO NOTHING`,
		e.ID, e.InvoiceID, e.SubscriptionID, e.AttemptNumber, e.EmailType, e.Recipient, e.DeliveryStatus,
		nullIfEmpty(e.ProviderMessageID), e.SentAt, e.OpenedAt, e.ClickedAt, nullIfEmpty(e.LastError),
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		SetSpanError(span, err)
		return dbError(err, "Failed to create dunning email", map[string]any{"invoice_id": e.InvoiceID})
	}

	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err, "Failed to create dunning email", map[string]any{"invoice_id": e.InvoiceID})
	}
	if n == 0 {
		return ierr.NewError("dunning email already recorded").
			WithHint("This dunning email was already sent").
			WithReportableDetails(map[string]any{
				"invoice_id":     e.InvoiceID,
				"email_type":     e.EmailType,
				"attempt_number": e.AttemptNumber,
			}).
			Mark(ierr.ErrAlreadyExists)
	}
	return nil
}

func (r *dunningEmailRepository) Get(ctx context.Context, id string) (*dunning.DunningEmail, error) {
	row := r.client.Querier(ctx).QueryRowContext(ctx,
		`SELECT `+dunningEmailColumns+` FROM dunning_emails WHERE id = $1`, id)
	e, err := scanDunningEmail(row)
	if err != nil {
		return nil, dbError(err, "Dunning email not found", map[string]any{"email_id": id})
	}
	return e, nil
}

func (r *dunningEmailRepository) Update(ctx context.Context, e *dunning.DunningEmail) error {
	span := StartRepositorySpan(ctx, "dunning_email", "update", map[string]interface{}{
		"email_id": e.ID,
	})
	defer FinishSpan(span)

	e.UpdatedAt = time.Now().UTC()
	res, err := r.client.Querier(ctx).ExecContext(ctx, `
		UPDATE dunning_emails SET
			delivery_status = $2, provider_message_id = $3, sent_at = $4,
			opened_at = $5, clicked_at = $6, last_error = $7, updated_at = $8
		WHERE id = $1`,
		e.ID, e.DeliveryStatus, nullIfEmpty(e.ProviderMessageID), e.SentAt,
		e.OpenedAt, e.ClickedAt, nullIfEmpty(e.LastError), e.UpdatedAt,
	)
	if err != nil {
		SetSpanError(span, err)
		return dbError(err, "Failed to update dunning email", map[string]any{"email_id": e.ID})
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ierr.NewErrorf("dunning email %s not found", e.ID).
			WithHint("Dunning email not found").
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *dunningEmailRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]*dunning.DunningEmail, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+dunningEmailColumns+`
		FROM dunning_emails
		WHERE invoice_id = $1
		ORDER BY created_at ASC, attempt_number ASC`, invoiceID)
	if err != nil {
		return nil, dbError(err, "Failed to list dunning emails", map[string]any{"invoice_id": invoiceID})
	}
	defer rows.Close()

	var emails []*dunning.DunningEmail
	for rows.Next() {
		e, err := scanDunningEmail(rows)
		if err != nil {
			return nil, dbError(err, "Failed to read dunning email", nil)
		}
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "Failed to list dunning emails", nil)
	}
	return emails, nil
}
