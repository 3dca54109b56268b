package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/flexprice/dunning/internal/domain/dunning"
	"github.com/flexprice/dunning/internal/domain/invoice"
	"github.com/flexprice/dunning/internal/domain/outbox"
	"github.com/flexprice/dunning/internal/domain/subscription"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/payment"
	"github.com/flexprice/dunning/internal/testutil"
	"github.com/flexprice/dunning/internal/types"
	webhookDto "github.com/flexprice/dunning/internal/webhook/dto"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type DunningEngineSuite struct {
	testutil.BaseServiceTestSuite
	svc *testServices
	t0  time.Time
}

func TestDunningEngine(t *testing.T) {
	suite.Run(t, new(DunningEngineSuite))
}

func (s *DunningEngineSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.svc = newTestServices(&s.BaseServiceTestSuite)
	s.t0 = s.GetNow()
}

func (s *DunningEngineSuite) createSubscription(id string, mutate ...func(sub *subscription.Subscription)) *subscription.Subscription {
	sub := newTestSubscription(id, s.t0)
	for _, fn := range mutate {
		fn(sub)
	}
	s.Require().NoError(s.GetStores().SubscriptionRepo.Create(s.GetContext(), sub))
	return sub
}

// startDunning bills the first cycle with a declined initial charge.
func (s *DunningEngineSuite) startDunning(subID string) *invoice.Invoice {
	s.GetGateway().QueueDeclines(1)
	result, err := s.svc.generator.GenerateNextInvoice(s.GetContext(), subID)
	s.Require().NoError(err)
	s.Require().NotNil(result.Invoice)
	s.Require().Equal(types.InvoiceStatusPastDue, result.Invoice.InvoiceStatus)
	return result.Invoice
}

func (s *DunningEngineSuite) process(invoiceID string, trigger types.AttemptTrigger) *ProcessResult {
	result, err := s.svc.engine.ProcessInvoice(s.GetContext(), invoiceID, ProcessOptions{Trigger: trigger})
	s.Require().NoError(err)
	return result
}

func (s *DunningEngineSuite) getInvoice(id string) *invoice.Invoice {
	inv, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	return inv
}

func (s *DunningEngineSuite) getSubscription(id string) *subscription.Subscription {
	sub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	return sub
}

func (s *DunningEngineSuite) webhookEvents() []*webhookDto.InternalDunningEvent {
	messages := s.GetStores().OutboxRepo.ListByTopic(s.GetContext(), types.OutboxTopicWebhook)
	return lo.Map(messages, func(m *outbox.Message, _ int) *webhookDto.InternalDunningEvent {
		var envelope types.WebhookEvent
		s.Require().NoError(json.Unmarshal(m.Payload, &envelope))
		var event webhookDto.InternalDunningEvent
		s.Require().NoError(json.Unmarshal(envelope.Payload, &event))
		return &event
	})
}

func (s *DunningEngineSuite) eventNames() []types.DunningEventName {
	return lo.Map(s.webhookEvents(), func(e *webhookDto.InternalDunningEvent, _ int) types.DunningEventName {
		return e.EventType
	})
}

func (s *DunningEngineSuite) TestInitialChargeSucceeds() {
	s.createSubscription("sub_1")

	result, err := s.svc.generator.GenerateNextInvoice(s.GetContext(), "sub_1")
	s.Require().NoError(err)
	s.Require().NotNil(result.Charge)

	inv := s.getInvoice(result.Invoice.ID)
	s.Equal(types.InvoiceStatusPaid, inv.InvoiceStatus)
	s.True(inv.AmountPaid.Equal(decimal.NewFromInt(49)))
	s.Nil(inv.NextRetryAt)
	s.Nil(inv.PolicySnapshot)

	attempts, err := s.GetStores().RetryAttemptRepo.ListByInvoice(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Require().Len(attempts, 1)
	s.Equal(1, attempts[0].AttemptNumber)
	s.Equal(types.AttemptTriggerInitial, attempts[0].Trigger)
	s.Equal(inv.ID+":1", attempts[0].IdempotencyKey)

	s.Empty(s.webhookEvents())
	s.Empty(s.GetStores().OutboxRepo.ListByTopic(s.GetContext(), types.OutboxTopicEmail))
	s.Equal(types.SubscriptionStatusActive, s.getSubscription("sub_1").SubscriptionStatus)
}

func (s *DunningEngineSuite) TestInitialFailureStartsDunning() {
	s.createSubscription("sub_1")
	inv := s.startDunning("sub_1")

	inv = s.getInvoice(inv.ID)
	s.Equal(0, inv.RetryCount)
	s.Equal(1, inv.FailedAttempts)
	s.Equal("card_declined", inv.LastErrorCode)
	s.Require().NotNil(inv.NextRetryAt)
	s.Equal(s.t0.Add(day), *inv.NextRetryAt)
	s.Require().NotNil(inv.GracePeriodEndsAt)
	s.Equal(s.t0.Add(14*day), *inv.GracePeriodEndsAt)
	s.Require().NotNil(inv.PolicySnapshot)
	s.Equal([]int{1, 3, 7}, inv.PolicySnapshot.RetryIntervalsDays)
	s.Equal(types.PolicySourceGlobalDefault, lo.FromPtr(inv.PolicySource))

	s.Equal(types.SubscriptionStatusPastDue, s.getSubscription("sub_1").SubscriptionStatus)

	emails, err := s.GetStores().EmailRepo.ListByInvoice(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal([]types.DunningEmailType{types.DunningEmailTypeFirstFailure}, emailTypes(emails))
	s.Equal(types.EmailDeliveryStatusQueued, emails[0].DeliveryStatus)
	s.Len(s.GetStores().OutboxRepo.ListByTopic(s.GetContext(), types.OutboxTopicEmail), 1)

	events := s.webhookEvents()
	s.Require().Len(events, 1)
	s.Equal(types.EventDunningPaymentFailed, events[0].EventType)
	s.Equal("card_declined", events[0].ErrorCode)
	s.Equal(1, events[0].AttemptNumber)
}

func (s *DunningEngineSuite) TestNotDueIsSkipped() {
	s.createSubscription("sub_1")
	inv := s.startDunning("sub_1")

	// never retried in the same tick
	result := s.process(inv.ID, types.AttemptTriggerScheduled)
	s.True(result.Skipped)

	s.GetClock().Set(s.t0.Add(12 * time.Hour))
	result = s.process(inv.ID, types.AttemptTriggerScheduled)
	s.True(result.Skipped)
	s.Equal(1, s.GetGateway().CallCount())
}

func (s *DunningEngineSuite) TestRetryTimelineEndsInCancellation() {
	s.createSubscription("sub_1")
	inv := s.startDunning("sub_1")
	s.GetGateway().QueueDeclines(3)

	steps := []struct {
		at          time.Duration
		retryCount  int
		nextRetryAt *time.Time
	}{
		{at: 1 * day, retryCount: 1, nextRetryAt: lo.ToPtr(s.t0.Add(4 * day))},
		{at: 4 * day, retryCount: 2, nextRetryAt: lo.ToPtr(s.t0.Add(11 * day))},
		{at: 11 * day, retryCount: 3, nextRetryAt: nil},
	}

	for _, step := range steps {
		s.GetClock().Set(s.t0.Add(step.at))
		result := s.process(inv.ID, types.AttemptTriggerScheduled)
		s.False(result.Skipped)
		s.Equal(step.retryCount, result.Invoice.RetryCount)
		s.Equal(step.nextRetryAt, result.Invoice.NextRetryAt)
	}

	inv = s.getInvoice(inv.ID)
	s.Equal(types.InvoiceStatusCancelled, inv.InvoiceStatus)
	s.Equal(3, inv.RetryCount)
	s.Equal(4, inv.FailedAttempts)

	sub := s.getSubscription("sub_1")
	s.Equal(types.SubscriptionStatusCancelled, sub.SubscriptionStatus)
	s.Equal(types.CancelReasonPaymentFailed, lo.FromPtr(sub.CancelReason))

	emails, err := s.GetStores().EmailRepo.ListByInvoice(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal([]types.DunningEmailType{
		types.DunningEmailTypeFirstFailure,
		types.DunningEmailTypeRetryFailure,
		types.DunningEmailTypeFinalNotice,
		types.DunningEmailTypeCancellationNotice,
	}, emailTypes(emails))

	// events of one transaction share a timestamp, so order is not asserted
	s.ElementsMatch([]types.DunningEventName{
		types.EventDunningPaymentFailed,
		types.EventDunningPaymentFailed,
		types.EventDunningPaymentFailed,
		types.EventDunningPaymentFailed,
		types.EventDunningSubscriptionCancelled,
	}, s.eventNames())

	attempts, err := s.GetStores().RetryAttemptRepo.ListByInvoice(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal([]int{1, 2, 3, 4}, lo.Map(attempts, func(a *dunning.RetryAttempt, _ int) int { return a.AttemptNumber }))

	// nothing happens once the run is over
	s.GetClock().Set(s.t0.Add(30 * day))
	result := s.process(inv.ID, types.AttemptTriggerScheduled)
	s.True(result.Skipped)
	s.Equal(4, s.GetGateway().CallCount())
}

func (s *DunningEngineSuite) TestManualRetryRecovers() {
	s.createSubscription("sub_1")
	inv := s.startDunning("sub_1")

	s.GetClock().Set(s.t0.Add(2 * time.Hour))
	result := s.process(inv.ID, types.AttemptTriggerManual)
	s.Require().NotNil(result.Attempt)
	s.Equal(types.AttemptTriggerManual, result.Attempt.Trigger)
	s.Equal(2, result.Attempt.AttemptNumber)

	inv = s.getInvoice(inv.ID)
	s.Equal(types.InvoiceStatusPaid, inv.InvoiceStatus)
	s.Nil(inv.NextRetryAt)
	s.Equal(types.SubscriptionStatusActive, s.getSubscription("sub_1").SubscriptionStatus)

	emails, err := s.GetStores().EmailRepo.ListByInvoice(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	recovered := lo.Filter(emails, func(e *dunning.DunningEmail, _ int) bool {
		return e.EmailType == types.DunningEmailTypePaymentRecovered
	})
	s.Len(recovered, 1)
	s.Contains(s.eventNames(), types.EventDunningPaymentRecovered)

	s.GetClock().Set(s.t0.Add(day))
	s.True(s.process(inv.ID, types.AttemptTriggerScheduled).Skipped)
	s.Equal(2, s.GetGateway().CallCount())
}

func (s *DunningEngineSuite) TestRecoveryKeepsPausedSubscriptionPaused() {
	s.createSubscription("sub_1")
	inv := s.startDunning("sub_1")

	sub := s.getSubscription("sub_1")
	sub.SubscriptionStatus = types.SubscriptionStatusPaused
	s.Require().NoError(s.GetStores().SubscriptionRepo.Update(s.GetContext(), sub))

	s.GetClock().Set(s.t0.Add(2 * time.Hour))
	s.process(inv.ID, types.AttemptTriggerManual)

	s.Equal(types.InvoiceStatusPaid, s.getInvoice(inv.ID).InvoiceStatus)
	s.Equal(types.SubscriptionStatusPaused, s.getSubscription("sub_1").SubscriptionStatus)
	s.Contains(s.eventNames(), types.EventDunningPaymentRecovered)
}

func (s *DunningEngineSuite) TestConcurrentDispatchChargesOnce() {
	s.createSubscription("sub_1")
	inv := s.startDunning("sub_1")
	s.GetClock().Set(s.t0.Add(day))

	gateway := s.GetGateway()
	gateway.Block = make(chan struct{})
	gateway.Started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := s.svc.engine.ProcessInvoice(s.GetContext(), inv.ID, ProcessOptions{Trigger: types.AttemptTriggerScheduled})
		done <- err
	}()

	<-gateway.Started
	_, err := s.svc.engine.ProcessInvoice(s.GetContext(), inv.ID, ProcessOptions{Trigger: types.AttemptTriggerScheduled})
	s.Require().Error(err)
	s.True(ierr.IsLockConflict(err))

	close(gateway.Block)
	s.Require().NoError(<-done)

	attempts, err := s.GetStores().RetryAttemptRepo.ListByInvoice(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Len(attempts, 2)
	s.Equal(2, gateway.CallCount())
	s.False(s.GetDB().IsLocked(types.SubscriptionLockKey(s.GetContext(), "sub_1")))
}

func (s *DunningEngineSuite) TestZeroRetriesCancelsOnFirstFailure() {
	s.Require().NoError(s.GetStores().PolicyRepo.Create(s.GetContext(), newTestPolicy("rpol_strict", 0)))
	s.createSubscription("sub_1", func(sub *subscription.Subscription) {
		sub.PolicyOverrideID = lo.ToPtr("rpol_strict")
	})

	s.GetGateway().QueueDeclines(1)
	result, err := s.svc.generator.GenerateNextInvoice(s.GetContext(), "sub_1")
	s.Require().NoError(err)

	inv := s.getInvoice(result.Invoice.ID)
	s.Equal(types.InvoiceStatusCancelled, inv.InvoiceStatus)
	s.Nil(inv.NextRetryAt)
	s.Equal(types.SubscriptionStatusCancelled, s.getSubscription("sub_1").SubscriptionStatus)

	emails, err := s.GetStores().EmailRepo.ListByInvoice(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal([]types.DunningEmailType{types.DunningEmailTypeCancellationNotice}, emailTypes(emails))
	s.ElementsMatch([]types.DunningEventName{
		types.EventDunningPaymentFailed,
		types.EventDunningSubscriptionCancelled,
	}, s.eventNames())
}

func (s *DunningEngineSuite) TestGraceExpiryCancelsWithoutCharging() {
	policy := newTestPolicy("rpol_short_grace", 3, 10)
	policy.GracePeriodDays = 5
	s.Require().NoError(s.GetStores().PolicyRepo.Create(s.GetContext(), policy))
	s.createSubscription("sub_1", func(sub *subscription.Subscription) {
		sub.PolicyOverrideID = lo.ToPtr(policy.ID)
	})
	inv := s.startDunning("sub_1")

	s.GetClock().Set(s.t0.Add(5 * day))
	result := s.process(inv.ID, types.AttemptTriggerScheduled)
	s.Nil(result.Attempt)
	s.Equal(types.InvoiceStatusCancelled, result.Invoice.InvoiceStatus)
	s.Equal(1, s.GetGateway().CallCount())

	sub := s.getSubscription("sub_1")
	s.Equal(types.SubscriptionStatusCancelled, sub.SubscriptionStatus)
	s.Equal(types.CancelReasonGraceExpired, lo.FromPtr(sub.CancelReason))

	events := s.webhookEvents()
	last := events[len(events)-1]
	s.Equal(types.EventDunningSubscriptionCancelled, last.EventType)
	s.Equal(types.CancelReasonGraceExpired, lo.FromPtr(last.CancelReason))
}

func (s *DunningEngineSuite) TestLateFeeAppliedOnce() {
	policy := withLateFee(newTestPolicy("rpol_fee", 3, 1), 1, 5)
	s.Require().NoError(s.GetStores().PolicyRepo.Create(s.GetContext(), policy))
	s.createSubscription("sub_1", func(sub *subscription.Subscription) {
		sub.PolicyOverrideID = lo.ToPtr(policy.ID)
	})
	inv := s.startDunning("sub_1")
	s.GetGateway().QueueDeclines(2)

	s.GetClock().Set(s.t0.Add(day))
	s.process(inv.ID, types.AttemptTriggerScheduled)

	inv = s.getInvoice(inv.ID)
	s.True(inv.LateFee.Equal(decimal.NewFromInt(5)))
	s.True(inv.AmountDue.Equal(decimal.NewFromInt(54)))
	s.Len(inv.LineItems, 2)
	s.Equal(invoice.LineItemKindLateFee, inv.LineItems[1].Kind)

	s.GetClock().Set(s.t0.Add(2 * day))
	s.process(inv.ID, types.AttemptTriggerScheduled)

	inv = s.getInvoice(inv.ID)
	s.True(inv.AmountDue.Equal(decimal.NewFromInt(54)))
	s.Len(inv.LineItems, 2)

	requests := s.GetGateway().Requests()
	s.Require().Len(requests, 3)
	s.True(requests[2].Amount.Equal(decimal.NewFromInt(54)))
}

func (s *DunningEngineSuite) TestPinnedPolicyIgnoresLaterChanges() {
	s.createSubscription("sub_1")
	inv := s.startDunning("sub_1")

	s.GetConfig().Dunning.MaxRetries = 1
	s.GetGateway().QueueDeclines(1)
	s.GetClock().Set(s.t0.Add(day))
	result := s.process(inv.ID, types.AttemptTriggerScheduled)

	s.Equal(types.InvoiceStatusPastDue, result.Invoice.InvoiceStatus)
	s.Equal(1, result.Invoice.RetryCount)
	s.Equal(3, result.Invoice.PolicySnapshot.MaxRetries)
}

func (s *DunningEngineSuite) TestTimeoutIsAFailedAttempt() {
	s.createSubscription("sub_1")
	inv := s.startDunning("sub_1")

	s.GetGateway().Queue(payment.Failed(types.FailureKindTimeout, payment.CodeTimeout, "gateway did not respond in time"))
	s.GetClock().Set(s.t0.Add(day))
	result := s.process(inv.ID, types.AttemptTriggerScheduled)

	s.Require().NotNil(result.Attempt)
	s.Equal(types.FailureKindTimeout, lo.FromPtr(result.Attempt.FailureKind))
	s.Equal(1, result.Invoice.RetryCount)
	s.Require().NotNil(result.Invoice.NextRetryAt)
	s.True(result.Invoice.NextRetryAt.After(s.GetNow()))
}

func (s *DunningEngineSuite) TestAssignmentTracksRun() {
	s.Require().NoError(s.GetStores().CampaignRepo.Create(s.GetContext(), &dunning.Campaign{
		ID:        "dcmp_default",
		Name:      "Default",
		PolicyID:  "rpol_missing",
		IsDefault: true,
		BaseModel: types.BaseModel{Status: types.StatusPublished},
	}))
	s.createSubscription("sub_1")
	inv := s.startDunning("sub_1")

	assignment, err := s.GetStores().CampaignRepo.GetAssignment(s.GetContext(), "sub_1")
	s.Require().NoError(err)
	s.Equal("dcmp_default", assignment.CampaignID)
	s.Equal(inv.ID, lo.FromPtr(assignment.InvoiceID))
	s.Equal(0, assignment.CurrentRetryStep)
	s.Nil(assignment.CompletedAt)

	s.GetClock().Set(s.t0.Add(day))
	s.process(inv.ID, types.AttemptTriggerScheduled)

	assignment, err = s.GetStores().CampaignRepo.GetAssignment(s.GetContext(), "sub_1")
	s.Require().NoError(err)
	s.NotNil(assignment.CompletedAt)
}
