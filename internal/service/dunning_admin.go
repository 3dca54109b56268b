package service

import (
	"context"
	"time"

	"github.com/flexprice/dunning/internal/api/dto"
	"github.com/flexprice/dunning/internal/domain/dunning"
	"github.com/flexprice/dunning/internal/domain/invoice"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/types"
	"github.com/samber/lo"
)

// DunningAdminService exposes dunning state and the manual operations.
// Manual operations take the same subscription guard as the scheduler and
// each one leaves a DunningAction audit row.
type DunningAdminService interface {
	GetDunningStatus(ctx context.Context, subscriptionID string) (*dto.DunningStatusResponse, error)
	ListActiveCases(ctx context.Context, filter *types.DunningCaseFilter) (*dto.ListDunningCasesResponse, error)

	ForceRetry(ctx context.Context, subscriptionID string, req *dto.ForceRetryRequest) (*dto.DunningActionResponse, error)
	ExtendGracePeriod(ctx context.Context, subscriptionID string, req *dto.ExtendGracePeriodRequest) (*dto.DunningActionResponse, error)
	CancelImmediately(ctx context.Context, subscriptionID string, req *dto.CancelDunningRequest) (*dto.DunningActionResponse, error)

	RecordEmailEngagement(ctx context.Context, emailID string, req *dto.RecordEmailEngagementRequest) (*dunning.DunningEmail, error)
}

type dunningAdminService struct {
	ServiceParams
	engine   DunningEngine
	resolver PolicyResolver
	emails   EmailSequencer
}

func NewDunningAdminService(params ServiceParams, engine DunningEngine, resolver PolicyResolver, emails EmailSequencer) DunningAdminService {
	return &dunningAdminService{
		ServiceParams: params,
		engine:        engine,
		resolver:      resolver,
		emails:        emails,
	}
}

func (s *dunningAdminService) GetDunningStatus(ctx context.Context, subscriptionID string) (*dto.DunningStatusResponse, error) {
	sub, err := s.SubRepo.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	inv, err := s.InvoiceRepo.GetOpenBySubscription(ctx, sub.ID)
	if err != nil {
		if !ierr.IsNotFound(err) {
			return nil, err
		}
		invoices, err := s.InvoiceRepo.ListBySubscription(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		if len(invoices) > 0 {
			inv = lo.MaxBy(invoices, func(a, b *invoice.Invoice) bool {
				return a.CycleNumber > b.CycleNumber
			})
		}
	}

	resp := &dto.DunningStatusResponse{
		SubscriptionID:     sub.ID,
		SubscriptionStatus: sub.SubscriptionStatus,
		CancelReason:       sub.CancelReason,
		Attempts:           []*dunning.RetryAttempt{},
		Emails:             []*dunning.DunningEmail{},
	}

	if inv != nil {
		resp.Invoice = dto.NewDunningCaseResponse(inv)
		resp.InDunning = inv.IsInDunning()
		resp.RetryCount = inv.RetryCount
		resp.NextRetryAt = inv.NextRetryAt
		resp.GracePeriodEndsAt = inv.GracePeriodEndsAt
		resp.LastErrorCode = inv.LastErrorCode
		resp.LastErrorMessage = inv.LastErrorMessage
		resp.Policy = inv.PolicySnapshot
		resp.PolicySource = inv.PolicySource

		attempts, err := s.RetryAttemptRepo.ListByInvoice(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		resp.Attempts = append(resp.Attempts, attempts...)

		emails, err := s.EmailRepo.ListByInvoice(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		resp.Emails = append(resp.Emails, emails...)
	}

	// no run started yet, show what would apply
	if resp.Policy == nil {
		resolved := s.resolver.Resolve(ctx, sub)
		resp.Policy = resolved.Policy
		resp.PolicySource = lo.ToPtr(resolved.Source)
	}
	resp.MaxRetries = resp.Policy.MaxRetries

	actions, err := s.ActionRepo.ListBySubscription(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	resp.Actions = append([]*dunning.Action{}, actions...)

	return resp, nil
}

func (s *dunningAdminService) ListActiveCases(ctx context.Context, filter *types.DunningCaseFilter) (*dto.ListDunningCasesResponse, error) {
	if filter == nil {
		filter = types.NewDunningCaseFilter()
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	invoices, err := s.InvoiceRepo.ListInDunning(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.InvoiceRepo.CountInDunning(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &dto.ListDunningCasesResponse{
		Items: lo.Map(invoices, func(inv *invoice.Invoice, _ int) *dto.DunningCaseResponse {
			return dto.NewDunningCaseResponse(inv)
		}),
		Pagination: types.NewPaginationResponse(total, filter.GetLimit(), filter.GetOffset()),
	}, nil
}

func (s *dunningAdminService) ForceRetry(ctx context.Context, subscriptionID string, req *dto.ForceRetryRequest) (*dto.DunningActionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp := &dto.DunningActionResponse{}
	err := withSubscriptionGuard(ctx, s.ServiceParams, subscriptionID, func(ctx context.Context) error {
		inv, err := s.pastDueInvoice(ctx, subscriptionID)
		if err != nil {
			return err
		}

		result, err := s.engine.ProcessInvoice(ctx, inv.ID, ProcessOptions{
			Trigger: types.AttemptTriggerManual,
		})
		if err != nil {
			return err
		}

		details := map[string]any{
			"invoice_status": result.Invoice.InvoiceStatus,
			"retry_count":    result.Invoice.RetryCount,
		}
		if result.Attempt != nil {
			details["attempt_number"] = result.Attempt.AttemptNumber
			details["outcome"] = result.Attempt.Outcome
		}

		action, err := s.recordAction(ctx, subscriptionID, inv.ID, types.DunningActionForceRetry, req.Reason, details)
		if err != nil {
			return err
		}

		resp.Action = action
		resp.Invoice = dto.NewDunningCaseResponse(result.Invoice)
		resp.Attempt = result.Attempt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *dunningAdminService) ExtendGracePeriod(ctx context.Context, subscriptionID string, req *dto.ExtendGracePeriodRequest) (*dto.DunningActionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp := &dto.DunningActionResponse{}
	err := withSubscriptionGuard(ctx, s.ServiceParams, subscriptionID, func(ctx context.Context) error {
		inv, err := s.pastDueInvoice(ctx, subscriptionID)
		if err != nil {
			return err
		}

		now := s.Clock.Now()
		extension := time.Duration(req.Days) * 24 * time.Hour
		details := map[string]any{
			"days":                          req.Days,
			"previous_grace_period_ends_at": inv.GracePeriodEndsAt,
			"previous_next_retry_at":        inv.NextRetryAt,
		}

		// a run without a grace limit keeps having none
		if inv.GracePeriodEndsAt != nil {
			base := *inv.GracePeriodEndsAt
			if base.Before(now) {
				base = now
			}
			extended := base.Add(extension)
			inv.GracePeriodEndsAt = &extended
		}
		if inv.NextRetryAt != nil {
			next := inv.NextRetryAt.Add(extension)
			inv.NextRetryAt = &next
		}

		if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
			return err
		}

		details["grace_period_ends_at"] = inv.GracePeriodEndsAt
		details["next_retry_at"] = inv.NextRetryAt
		action, err := s.recordAction(ctx, subscriptionID, inv.ID, types.DunningActionExtendGrace, req.Reason, details)
		if err != nil {
			return err
		}

		s.Logger.Infow("grace period extended",
			"subscription_id", subscriptionID,
			"invoice_id", inv.ID,
			"days", req.Days,
			"grace_period_ends_at", inv.GracePeriodEndsAt,
			"actor", action.Actor,
		)

		resp.Action = action
		resp.Invoice = dto.NewDunningCaseResponse(inv)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *dunningAdminService) CancelImmediately(ctx context.Context, subscriptionID string, req *dto.CancelDunningRequest) (*dto.DunningActionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp := &dto.DunningActionResponse{}
	err := withSubscriptionGuard(ctx, s.ServiceParams, subscriptionID, func(ctx context.Context) error {
		inv, err := s.pastDueInvoice(ctx, subscriptionID)
		if err != nil {
			return err
		}

		result, err := s.engine.CancelInvoice(ctx, inv.ID, types.CancelReasonManual)
		if err != nil {
			return err
		}

		action, err := s.recordAction(ctx, subscriptionID, inv.ID, types.DunningActionCancel, req.Reason, map[string]any{
			"retry_count": result.Invoice.RetryCount,
		})
		if err != nil {
			return err
		}

		resp.Action = action
		resp.Invoice = dto.NewDunningCaseResponse(result.Invoice)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *dunningAdminService) RecordEmailEngagement(ctx context.Context, emailID string, req *dto.RecordEmailEngagementRequest) (*dunning.DunningEmail, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.emails.RecordEngagement(ctx, emailID, EmailEngagement(req.Engagement))
}

// pastDueInvoice returns the invoice currently in dunning for a subscription.
func (s *dunningAdminService) pastDueInvoice(ctx context.Context, subscriptionID string) (*invoice.Invoice, error) {
	if _, err := s.SubRepo.Get(ctx, subscriptionID); err != nil {
		return nil, err
	}

	inv, err := s.InvoiceRepo.GetOpenBySubscription(ctx, subscriptionID)
	if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}
	if inv == nil || !inv.IsInDunning() {
		return nil, ierr.NewError("subscription is not in dunning").
			WithHint("The subscription has no past due invoice").
			WithReportableDetails(map[string]any{
				"subscription_id": subscriptionID,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	return inv, nil
}

func (s *dunningAdminService) recordAction(
	ctx context.Context,
	subscriptionID string,
	invoiceID string,
	actionType types.DunningActionType,
	reason string,
	details map[string]any,
) (*dunning.Action, error) {
	action := &dunning.Action{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_DUNNING_ACTION),
		SubscriptionID: subscriptionID,
		InvoiceID:      lo.ToPtr(invoiceID),
		Action:         actionType,
		Reason:         reason,
		Actor:          types.GetActor(ctx),
		Details:        details,
		CreatedAt:      s.Clock.Now(),
	}
	if err := s.ActionRepo.Create(ctx, action); err != nil {
		return nil, err
	}
	return action, nil
}
