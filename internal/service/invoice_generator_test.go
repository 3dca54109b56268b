package service

import (
	"context"
	"testing"
	"time"

	"github.com/flexprice/dunning/internal/domain/invoice"
	"github.com/flexprice/dunning/internal/domain/subscription"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/testutil"
	"github.com/flexprice/dunning/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type InvoiceGeneratorSuite struct {
	testutil.BaseServiceTestSuite
	svc *testServices
	t0  time.Time
}

func TestInvoiceGenerator(t *testing.T) {
	suite.Run(t, new(InvoiceGeneratorSuite))
}

func (s *InvoiceGeneratorSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.svc = newTestServices(&s.BaseServiceTestSuite)
	s.t0 = s.GetNow()
}

func (s *InvoiceGeneratorSuite) createSubscription(id string, mutate ...func(sub *subscription.Subscription)) {
	sub := newTestSubscription(id, s.t0)
	for _, fn := range mutate {
		fn(sub)
	}
	s.Require().NoError(s.GetStores().SubscriptionRepo.Create(s.GetContext(), sub))
}

func (s *InvoiceGeneratorSuite) generate(id string) *GenerateResult {
	result, err := s.svc.generator.GenerateNextInvoice(s.GetContext(), id)
	s.Require().NoError(err)
	return result
}

func (s *InvoiceGeneratorSuite) invoices(subID string) []*invoice.Invoice {
	items, err := s.GetStores().InvoiceRepo.ListBySubscription(s.GetContext(), subID)
	s.Require().NoError(err)
	return items
}

func (s *InvoiceGeneratorSuite) TestFirstCycle() {
	s.createSubscription("sub_1")

	result := s.generate("sub_1")
	s.False(result.Skipped)
	s.Require().NotNil(result.Invoice)

	inv := result.Invoice
	s.Equal(1, inv.CycleNumber)
	s.Equal(s.t0, inv.PeriodStart)
	s.Equal(s.t0.AddDate(0, 1, 0), inv.PeriodEnd)
	s.True(inv.AmountDue.Equal(decimal.NewFromInt(49)))
	s.Require().Len(inv.LineItems, 1)
	s.Equal(invoice.LineItemKindSubscription, inv.LineItems[0].Kind)
	s.Equal(types.InvoiceStatusPaid, inv.InvoiceStatus)
	s.NotEmpty(inv.InvoiceNumber)

	sub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), "sub_1")
	s.Require().NoError(err)
	s.Equal(1, sub.CurrentCycle)
	s.Equal(s.t0.AddDate(0, 1, 0), sub.NextBillingAt)
}

func (s *InvoiceGeneratorSuite) TestNotDueIsSkipped() {
	s.createSubscription("sub_1", func(sub *subscription.Subscription) {
		sub.NextBillingAt = s.t0.Add(day)
	})

	result := s.generate("sub_1")
	s.True(result.Skipped)
	s.Nil(result.Invoice)
	s.Empty(s.invoices("sub_1"))
	s.Equal(0, s.GetGateway().CallCount())
}

func (s *InvoiceGeneratorSuite) TestCyclesAreGapless() {
	s.createSubscription("sub_1")

	s.generate("sub_1")
	second := s.generate("sub_1")
	s.True(second.Skipped, "a second run in the same period must not bill again")

	s.GetClock().Advance(31 * day)
	third := s.generate("sub_1")
	s.Require().NotNil(third.Invoice)
	s.Equal(2, third.Invoice.CycleNumber)
	s.Equal(s.t0.AddDate(0, 1, 0), third.Invoice.PeriodStart)

	cycles := lo.Map(s.invoices("sub_1"), func(inv *invoice.Invoice, _ int) int { return inv.CycleNumber })
	s.ElementsMatch([]int{1, 2}, cycles)
}

func (s *InvoiceGeneratorSuite) TestOpenInvoiceBlocksNextCycle() {
	s.createSubscription("sub_1")
	s.GetGateway().QueueDeclines(1)
	first := s.generate("sub_1")
	s.Require().Equal(types.InvoiceStatusPastDue, first.Invoice.InvoiceStatus)

	// past_due subscriptions are not billable, force the status back to
	// reach the open invoice check
	sub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), "sub_1")
	s.Require().NoError(err)
	sub.SubscriptionStatus = types.SubscriptionStatusActive
	s.Require().NoError(s.GetStores().SubscriptionRepo.Update(s.GetContext(), sub))

	s.GetClock().Advance(31 * day)
	result := s.generate("sub_1")
	s.True(result.Skipped)
	s.Contains(result.SkipReason, first.Invoice.ID)
	s.Len(s.invoices("sub_1"), 1)
}

func (s *InvoiceGeneratorSuite) TestMaxCyclesExpiresSubscription() {
	s.createSubscription("sub_1", func(sub *subscription.Subscription) {
		sub.MaxCycles = lo.ToPtr(1)
	})

	s.Require().NotNil(s.generate("sub_1").Invoice)

	s.GetClock().Advance(31 * day)
	result := s.generate("sub_1")
	s.True(result.Expired)
	s.Nil(result.Invoice)

	sub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), "sub_1")
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusExpired, sub.SubscriptionStatus)
	s.Len(s.invoices("sub_1"), 1)
}

func (s *InvoiceGeneratorSuite) TestTrialEndsIntoActive() {
	trialEnd := s.t0.Add(14 * day)
	s.createSubscription("sub_1", func(sub *subscription.Subscription) {
		sub.SubscriptionStatus = types.SubscriptionStatusTrialing
		sub.TrialStart = lo.ToPtr(s.t0)
		sub.TrialEnd = lo.ToPtr(trialEnd)
		sub.NextBillingAt = trialEnd
		sub.BillingAnchor = trialEnd
	})

	s.True(s.generate("sub_1").Skipped)

	s.GetClock().Set(trialEnd)
	result := s.generate("sub_1")
	s.Require().NotNil(result.Invoice)
	s.Equal(trialEnd, result.Invoice.PeriodStart)

	sub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), "sub_1")
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusActive, sub.SubscriptionStatus)
}

func (s *InvoiceGeneratorSuite) TestExistingCycleIsSkipped() {
	s.createSubscription("sub_1")

	// a concurrent run already inserted cycle 1 but the subscription row
	// still points at it
	s.Require().NoError(s.GetStores().InvoiceRepo.Create(s.GetContext(), &invoice.Invoice{
		ID:             "inv_existing",
		SubscriptionID: "sub_1",
		CustomerID:     "cust_sub_1",
		CycleNumber:    1,
		Currency:       "USD",
		AmountDue:      decimal.NewFromInt(49),
		InvoiceStatus:  types.InvoiceStatusPaid,
		BaseModel:      types.GetDefaultBaseModel(s.GetContext()),
	}))

	result := s.generate("sub_1")
	s.True(result.Skipped)
	s.Equal("invoice for cycle already exists", result.SkipReason)
	s.Len(s.invoices("sub_1"), 1)
	s.Equal(0, s.GetGateway().CallCount())
}

func (s *InvoiceGeneratorSuite) TestLockedSubscriptionIsRejected() {
	s.createSubscription("sub_1")

	err := s.GetDB().WithTx(s.GetContext(), func(txCtx context.Context) error {
		ok, err := s.GetDB().TryLockKey(txCtx, types.SubscriptionLockKey(txCtx, "sub_1"))
		s.Require().NoError(err)
		s.Require().True(ok)

		// a second caller outside this transaction
		_, err = s.svc.generator.GenerateNextInvoice(s.GetContext(), "sub_1")
		s.True(ierr.IsLockConflict(err))
		return nil
	})
	s.Require().NoError(err)
	s.Empty(s.invoices("sub_1"))

	s.Require().NotNil(s.generate("sub_1").Invoice)
}
