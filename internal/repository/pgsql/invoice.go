package pgsql

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/dunning/internal/domain/dunning"
	"github.com/flexprice/dunning/internal/domain/invoice"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/postgres"
	"github.com/flexprice/dunning/internal/types"
	"github.com/lib/pq"
)

const invoiceColumns = `
	id, subscription_id, customer_id, invoice_number, cycle_number, period_start, period_end,
	currency, line_items, subtotal, late_fee, amount_due, amount_paid, invoice_status,
	failed_attempts, retry_count, next_retry_at, grace_period_ends_at, dunning_started_at,
	policy_snapshot, policy_source, COALESCE(last_error_code, ''), COALESCE(last_error_message, ''),
	paid_at, cancelled_at, version, status, created_at, updated_at,
	COALESCE(created_by, ''), COALESCE(updated_by, '')`

type invoiceRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewInvoiceRepository(client postgres.IClient, logger *logger.Logger) invoice.Repository {
	return &invoiceRepository{
		client: client,
		logger: logger,
	}
}

func scanInvoice(row rowScanner) (*invoice.Invoice, error) {
	var (
		inv       invoice.Invoice
		lineItems []byte
		snapshot  []byte
	)
	err := row.Scan(
		&inv.ID, &inv.SubscriptionID, &inv.CustomerID, &inv.InvoiceNumber, &inv.CycleNumber, &inv.PeriodStart, &inv.PeriodEnd,
		&inv.Currency, &lineItems, &inv.Subtotal, &inv.LateFee, &inv.AmountDue, &inv.AmountPaid, &inv.InvoiceStatus,
		&inv.FailedAttempts, &inv.RetryCount, &inv.NextRetryAt, &inv.GracePeriodEndsAt, &inv.DunningStartedAt,
		&snapshot, &inv.PolicySource, &inv.LastErrorCode, &inv.LastErrorMessage,
		&inv.PaidAt, &inv.CancelledAt, &inv.Version, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt,
		&inv.CreatedBy, &inv.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	if len(lineItems) > 0 {
		if err := json.Unmarshal(lineItems, &inv.LineItems); err != nil {
			return nil, fmt.Errorf("decode line_items of invoice %s: %w", inv.ID, err)
		}
	}
	if len(snapshot) > 0 {
		inv.PolicySnapshot = &dunning.RetryPolicy{}
		if err := json.Unmarshal(snapshot, inv.PolicySnapshot); err != nil {
			return nil, fmt.Errorf("decode policy_snapshot of invoice %s: %w", inv.ID, err)
		}
	}
	return &inv, nil
}

func (r *invoiceRepository) queryInvoices(ctx context.Context, query string, args ...any) ([]*invoice.Invoice, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(err, "Failed to list invoices", nil)
	}
	defer rows.Close()

	var invoices []*invoice.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, dbError(err, "Failed to read invoice", nil)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "Failed to list invoices", nil)
	}
	return invoices, nil
}

func (r *invoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	span := StartRepositorySpan(ctx, "invoice", "create", map[string]interface{}{
		"invoice_id":      inv.ID,
		"subscription_id": inv.SubscriptionID,
		"cycle_number":    inv.CycleNumber,
	})
	defer FinishSpan(span)

	r.logger.Debugw("creating invoice",
		"invoice_id", inv.ID,
		"subscription_id", inv.SubscriptionID,
		"cycle_number", inv.CycleNumber,
	)

	lineItems, err := jsonValue(inv.LineItems)
	if err != nil {
		return err
	}
	if inv.Version == 0 {
		inv.Version = 1
	}

	_, err = r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO invoices (
			id, subscription_id, customer_id, invoice_number, cycle_number, period_start, period_end,
			currency, line_items, subtotal, late_fee, amount_due, amount_paid, invoice_status,
			version, status, created_at, updated_at, created_by, updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		inv.ID, inv.SubscriptionID, inv.CustomerID, inv.InvoiceNumber, inv.CycleNumber, inv.PeriodStart, inv.PeriodEnd,
		inv.Currency, lineItems, inv.Subtotal, inv.LateFee, inv.AmountDue, inv.AmountPaid, inv.InvoiceStatus,
		inv.Version, inv.Status, inv.CreatedAt, inv.UpdatedAt, inv.CreatedBy, inv.UpdatedBy,
	)
	if err != nil {
		SetSpanError(span, err)
		if postgres.IsUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("An invoice already exists for this billing cycle").
				WithReportableDetails(map[string]any{
					"subscription_id": inv.SubscriptionID,
					"cycle_number":    inv.CycleNumber,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return dbError(err, "Failed to create invoice", map[string]any{"invoice_id": inv.ID})
	}
	return nil
}

func (r *invoiceRepository) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	span := StartRepositorySpan(ctx, "invoice", "get", map[string]interface{}{
		"invoice_id": id,
	})
	defer FinishSpan(span)

	row := r.client.Querier(ctx).QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 AND status = 'published'`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		SetSpanError(span, err)
		return nil, dbError(err, "Invoice not found", map[string]any{"invoice_id": id})
	}
	return inv, nil
}

func (r *invoiceRepository) Update(ctx context.Context, inv *invoice.Invoice) error {
	span := StartRepositorySpan(ctx, "invoice", "update", map[string]interface{}{
		"invoice_id": inv.ID,
		"version":    inv.Version,
	})
	defer FinishSpan(span)

	lineItems, err := jsonValue(inv.LineItems)
	if err != nil {
		return err
	}
	var snapshot any
	if inv.PolicySnapshot != nil {
		if snapshot, err = jsonValue(inv.PolicySnapshot); err != nil {
			return err
		}
	}

	inv.UpdatedAt = time.Now().UTC()
	res, err := r.client.Querier(ctx).ExecContext(ctx, `
		UPDATE invoices SET
			line_items = $3, late_fee = $4, amount_due = $5, amount_paid = $6, invoice_status = $7,
			failed_attempts = $8, retry_count = $9, next_retry_at = $10, grace_period_ends_at = $11,
			dunning_started_at = $12, policy_snapshot = $13, policy_source = $14,
			last_error_code = $15, last_error_message = $16, paid_at = $17, cancelled_at = $18,
			updated_at = $19, updated_by = $20, version = version + 1
		WHERE id = $1 AND version = $2`,
		inv.ID, inv.Version,
		lineItems, inv.LateFee, inv.AmountDue, inv.AmountPaid, inv.InvoiceStatus,
		inv.FailedAttempts, inv.RetryCount, inv.NextRetryAt, inv.GracePeriodEndsAt,
		inv.DunningStartedAt, snapshot, inv.PolicySource,
		nullIfEmpty(inv.LastErrorCode), nullIfEmpty(inv.LastErrorMessage), inv.PaidAt, inv.CancelledAt,
		inv.UpdatedAt, inv.UpdatedBy,
	)
	if err != nil {
		SetSpanError(span, err)
		return dbError(err, "Failed to update invoice", map[string]any{"invoice_id": inv.ID})
	}
	if err := expectOneRow(res, "invoice", inv.ID); err != nil {
		SetSpanError(span, err)
		return err
	}
	inv.Version++
	return nil
}

func (r *invoiceRepository) GetOpenBySubscription(ctx context.Context, subscriptionID string) (*invoice.Invoice, error) {
	span := StartRepositorySpan(ctx, "invoice", "get_open_by_subscription", map[string]interface{}{
		"subscription_id": subscriptionID,
	})
	defer FinishSpan(span)

	row := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE subscription_id = $1 AND invoice_status = ANY($2) AND status = 'published'
		ORDER BY cycle_number DESC
		LIMIT 1`,
		subscriptionID, pq.Array(statusStrings(types.OpenInvoiceStatuses)))
	inv, err := scanInvoice(row)
	if err != nil {
		SetSpanError(span, err)
		return nil, dbError(err, "No open invoice for subscription", map[string]any{"subscription_id": subscriptionID})
	}
	return inv, nil
}

func (r *invoiceRepository) ListBySubscription(ctx context.Context, subscriptionID string) ([]*invoice.Invoice, error) {
	span := StartRepositorySpan(ctx, "invoice", "list_by_subscription", map[string]interface{}{
		"subscription_id": subscriptionID,
	})
	defer FinishSpan(span)

	return r.queryInvoices(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE subscription_id = $1 AND status = 'published'
		ORDER BY cycle_number ASC`, subscriptionID)
}

func (r *invoiceRepository) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]*invoice.Invoice, error) {
	span := StartRepositorySpan(ctx, "invoice", "list_due_for_retry", map[string]interface{}{
		"limit": limit,
	})
	defer FinishSpan(span)

	return r.queryInvoices(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE invoice_status = 'past_due'
			AND status = 'published'
			AND (next_retry_at <= $1 OR grace_period_ends_at <= $1)
		ORDER BY LEAST(next_retry_at, grace_period_ends_at) ASC
		LIMIT $2`, now, limit)
}

func (r *invoiceRepository) ListAwaitingCharge(ctx context.Context, limit int) ([]*invoice.Invoice, error) {
	span := StartRepositorySpan(ctx, "invoice", "list_awaiting_charge", map[string]interface{}{
		"limit": limit,
	})
	defer FinishSpan(span)

	return r.queryInvoices(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE invoice_status IN ('pending', 'billed') AND status = 'published'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
}

// dunningCaseWhere builds the WHERE clause shared by the list and count
// queries. Placeholders start at $1.
func dunningCaseWhere(filter *types.DunningCaseFilter) (string, []any) {
	conds := []string{"invoice_status = 'past_due'", "status = 'published'"}
	var args []any

	if filter != nil {
		if len(filter.SubscriptionIDs) > 0 {
			args = append(args, pq.Array(filter.SubscriptionIDs))
			conds = append(conds, fmt.Sprintf("subscription_id = ANY($%d)", len(args)))
		}
		if filter.CustomerID != "" {
			args = append(args, filter.CustomerID)
			conds = append(conds, fmt.Sprintf("customer_id = $%d", len(args)))
		}
		if filter.DueBefore != nil {
			args = append(args, *filter.DueBefore)
			conds = append(conds, fmt.Sprintf("next_retry_at <= $%d", len(args)))
		}
	}
	return strings.Join(conds, " AND "), args
}

func (r *invoiceRepository) ListInDunning(ctx context.Context, filter *types.DunningCaseFilter) ([]*invoice.Invoice, error) {
	span := StartRepositorySpan(ctx, "invoice", "list_in_dunning", nil)
	defer FinishSpan(span)

	if filter == nil {
		filter = types.NewDunningCaseFilter()
	}
	where, args := dunningCaseWhere(filter)
	args = append(args, filter.GetLimit(), filter.GetOffset())

	query := fmt.Sprintf(`
		SELECT %s
		FROM invoices
		WHERE %s
		ORDER BY next_retry_at ASC NULLS LAST, id ASC
		LIMIT $%d OFFSET $%d`, invoiceColumns, where, len(args)-1, len(args))
	return r.queryInvoices(ctx, query, args...)
}

func (r *invoiceRepository) CountInDunning(ctx context.Context, filter *types.DunningCaseFilter) (int, error) {
	span := StartRepositorySpan(ctx, "invoice", "count_in_dunning", nil)
	defer FinishSpan(span)

	where, args := dunningCaseWhere(filter)
	var count int
	if err := r.client.Querier(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoices WHERE `+where, args...).Scan(&count); err != nil {
		SetSpanError(span, err)
		return 0, dbError(err, "Failed to count dunning cases", nil)
	}
	return count, nil
}

func (r *invoiceRepository) CountCancelledBetween(ctx context.Context, from, to time.Time) (int, error) {
	span := StartRepositorySpan(ctx, "invoice", "count_cancelled_between", nil)
	defer FinishSpan(span)

	var count int
	err := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM invoices
		WHERE invoice_status = 'cancelled'
			AND dunning_started_at IS NOT NULL
			AND cancelled_at >= $1 AND cancelled_at < $2`, from, to).Scan(&count)
	if err != nil {
		SetSpanError(span, err)
		return 0, dbError(err, "Failed to count cancelled invoices", nil)
	}
	return count, nil
}

func statusStrings(statuses []types.InvoiceStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
