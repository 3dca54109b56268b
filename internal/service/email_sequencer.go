package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flexprice/dunning/internal/domain/dunning"
	"github.com/flexprice/dunning/internal/domain/invoice"
	"github.com/flexprice/dunning/internal/domain/outbox"
	"github.com/flexprice/dunning/internal/domain/subscription"
	"github.com/flexprice/dunning/internal/email"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/types"
)

// EmailRequest is one email instruction produced by the state machine.
type EmailRequest struct {
	EmailType     types.DunningEmailType
	Invoice       *invoice.Invoice
	Subscription  *subscription.Subscription
	AttemptNumber int
	ErrorCode     string
	ErrorMessage  string
}

type EmailEngagement string

const (
	EmailEngagementOpened  EmailEngagement = "opened"
	EmailEngagementClicked EmailEngagement = "clicked"
)

func (e EmailEngagement) Validate() error {
	if e != EmailEngagementOpened && e != EmailEngagementClicked {
		return ierr.NewErrorf("invalid email engagement: %s", e).
			WithHint("Engagement must be opened or clicked").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// EmailSequencer records dunning emails and queues them for delivery.
type EmailSequencer interface {
	// Enqueue writes the DunningEmail row and its outbox job. It returns nil
	// without error when the email was already recorded for this slot.
	Enqueue(ctx context.Context, req *EmailRequest) (*dunning.DunningEmail, error)
	// RecordEngagement stamps the first open or click reported by the
	// tracking collaborator.
	RecordEngagement(ctx context.Context, emailID string, engagement EmailEngagement) (*dunning.DunningEmail, error)
}

type emailSequencer struct {
	ServiceParams
}

func NewEmailSequencer(params ServiceParams) EmailSequencer {
	return &emailSequencer{ServiceParams: params}
}

func (s *emailSequencer) Enqueue(ctx context.Context, req *EmailRequest) (*dunning.DunningEmail, error) {
	if err := req.EmailType.Validate(); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	record := &dunning.DunningEmail{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_DUNNING_EMAIL),
		InvoiceID:      req.Invoice.ID,
		SubscriptionID: req.Subscription.ID,
		AttemptNumber:  req.AttemptNumber,
		EmailType:      req.EmailType,
		Recipient:      req.Subscription.CustomerEmail,
		DeliveryStatus: types.EmailDeliveryStatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if record.Recipient == "" {
		record.DeliveryStatus = types.EmailDeliveryStatusSkipped
		record.LastError = "subscription has no customer email"
	}

	if err := s.EmailRepo.Create(ctx, record); err != nil {
		if ierr.IsAlreadyExists(err) {
			s.Logger.Infow("dunning email already recorded, skipping",
				"invoice_id", req.Invoice.ID,
				"email_type", req.EmailType,
				"attempt_number", req.AttemptNumber,
			)
			return nil, nil
		}
		return nil, err
	}

	if record.DeliveryStatus == types.EmailDeliveryStatusSkipped {
		s.Logger.Warnw("dunning email skipped, no recipient",
			"invoice_id", req.Invoice.ID,
			"subscription_id", req.Subscription.ID,
			"email_type", req.EmailType,
		)
		return record, nil
	}

	job := &email.DunningEmailJob{
		EmailID:           record.ID,
		EmailType:         record.EmailType,
		Recipient:         record.Recipient,
		SubscriptionID:    req.Subscription.ID,
		InvoiceID:         req.Invoice.ID,
		InvoiceNumber:     req.Invoice.InvoiceNumber,
		AttemptNumber:     req.AttemptNumber,
		AmountDue:         req.Invoice.AmountRemaining(),
		Currency:          req.Invoice.Currency,
		ErrorCode:         req.ErrorCode,
		ErrorMessage:      req.ErrorMessage,
		NextRetryAt:       req.Invoice.NextRetryAt,
		GracePeriodEndsAt: req.Invoice.GracePeriodEndsAt,
		CancelReason:      req.Subscription.CancelReason,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to marshal email job").
			Mark(ierr.ErrInternal)
	}

	msg := &outbox.Message{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_OUTBOX_MESSAGE),
		Topic:         types.OutboxTopicEmail,
		EventName:     string(record.EmailType),
		AggregateID:   req.Invoice.ID,
		Payload:       payload,
		Status:        types.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	if err := s.OutboxRepo.Create(ctx, msg); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *emailSequencer) RecordEngagement(ctx context.Context, emailID string, engagement EmailEngagement) (*dunning.DunningEmail, error) {
	if err := engagement.Validate(); err != nil {
		return nil, err
	}

	record, err := s.EmailRepo.Get(ctx, emailID)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	stamp := func(field **time.Time) bool {
		if *field != nil {
			return false
		}
		*field = &now
		return true
	}

	changed := false
	switch engagement {
	case EmailEngagementOpened:
		changed = stamp(&record.OpenedAt)
	case EmailEngagementClicked:
		// a click implies the email was opened
		changed = stamp(&record.ClickedAt)
		changed = stamp(&record.OpenedAt) || changed
	}
	if !changed {
		return record, nil
	}

	record.UpdatedAt = now
	if err := s.EmailRepo.Update(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}
