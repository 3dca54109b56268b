package service

import (
	"context"
	"testing"
	"time"

	"github.com/flexprice/dunning/internal/domain/invoice"
	"github.com/flexprice/dunning/internal/testutil"
	"github.com/flexprice/dunning/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type DunningSweeperSuite struct {
	testutil.BaseServiceTestSuite
	svc     *testServices
	sweeper DunningSweeper
	t0      time.Time
}

func TestDunningSweeper(t *testing.T) {
	suite.Run(t, new(DunningSweeperSuite))
}

func (s *DunningSweeperSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.GetConfig().Scheduler.Workers = 4
	s.GetConfig().Scheduler.BatchSize = 50
	s.svc = newTestServices(&s.BaseServiceTestSuite)
	s.sweeper = NewDunningSweeper(s.svc.params, s.svc.engine, s.svc.generator)
	s.t0 = s.GetNow()
}

func (s *DunningSweeperSuite) createSubscription(id string) {
	s.Require().NoError(s.GetStores().SubscriptionRepo.Create(s.GetContext(), newTestSubscription(id, s.t0)))
}

func (s *DunningSweeperSuite) sweep() *SweepResult {
	result, err := s.sweeper.RunOnce(s.GetContext())
	s.Require().NoError(err)
	return result
}

func (s *DunningSweeperSuite) invoice(id string) *invoice.Invoice {
	inv, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	return inv
}

func (s *DunningSweeperSuite) TestBillsDueSubscriptions() {
	s.createSubscription("sub_1")
	s.createSubscription("sub_2")

	result := s.sweep()
	s.Equal(2, result.Generated)
	s.Equal(0, result.Failed)
	s.Equal(2, s.GetGateway().CallCount())

	// nothing is due until the next period
	result = s.sweep()
	s.Equal(SweepResult{StartedAt: s.t0}, *result)
}

func (s *DunningSweeperSuite) TestRetriesFollowTheSchedule() {
	s.createSubscription("sub_1")
	s.GetGateway().QueueDeclines(2)
	s.sweep()

	invoices, err := s.GetStores().InvoiceRepo.ListBySubscription(s.GetContext(), "sub_1")
	s.Require().NoError(err)
	s.Require().Len(invoices, 1)
	inv := invoices[0]
	s.Equal(types.InvoiceStatusPastDue, inv.InvoiceStatus)

	// before the first retry is due
	s.GetClock().Advance(day - time.Minute)
	s.Equal(0, s.sweep().Retries)

	s.GetClock().Advance(time.Minute)
	result := s.sweep()
	s.Equal(1, result.Retries)
	s.Equal(1, s.invoice(inv.ID).RetryCount)

	// the next retry succeeds
	s.GetClock().Advance(3 * day)
	s.Equal(1, s.sweep().Retries)
	s.Equal(types.InvoiceStatusPaid, s.invoice(inv.ID).InvoiceStatus)
	s.Equal(3, s.GetGateway().CallCount())
}

func (s *DunningSweeperSuite) TestChargesPendingInvoices() {
	s.createSubscription("sub_1")

	// an invoice whose initial charge never ran, the subscription already
	// points at the next cycle
	sub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), "sub_1")
	s.Require().NoError(err)
	sub.CurrentCycle = 1
	sub.NextBillingAt = s.t0.AddDate(0, 1, 0)
	s.Require().NoError(s.GetStores().SubscriptionRepo.Update(s.GetContext(), sub))
	s.Require().NoError(s.GetStores().InvoiceRepo.Create(s.GetContext(), &invoice.Invoice{
		ID:             "inv_pending",
		SubscriptionID: "sub_1",
		CustomerID:     sub.CustomerID,
		CycleNumber:    1,
		Currency:       "USD",
		AmountDue:      decimal.NewFromInt(49),
		InvoiceStatus:  types.InvoiceStatusPending,
		BaseModel:      types.GetDefaultBaseModel(s.GetContext()),
	}))

	result := s.sweep()
	s.Equal(1, result.InitialCharges)
	s.Equal(0, result.Generated)
	s.Equal(types.InvoiceStatusPaid, s.invoice("inv_pending").InvoiceStatus)
}

func (s *DunningSweeperSuite) TestOneWorkItemPerSubscription() {
	s.createSubscription("sub_1")

	// pending invoice and a subscription that is still due at the same time
	s.Require().NoError(s.GetStores().InvoiceRepo.Create(s.GetContext(), &invoice.Invoice{
		ID:             "inv_pending",
		SubscriptionID: "sub_1",
		CustomerID:     "cust_sub_1",
		CycleNumber:    1,
		Currency:       "USD",
		AmountDue:      decimal.NewFromInt(49),
		InvoiceStatus:  types.InvoiceStatusPending,
		BaseModel:      types.GetDefaultBaseModel(s.GetContext()),
	}))

	result := s.sweep()
	s.Equal(1, result.InitialCharges)
	s.Equal(0, result.Generated)
	s.Equal(1, s.GetGateway().CallCount())
}

func (s *DunningSweeperSuite) TestGraceExpiryCancels() {
	s.createSubscription("sub_1")
	s.GetGateway().QueueDeclines(1)
	s.sweep()

	invoices, err := s.GetStores().InvoiceRepo.ListBySubscription(s.GetContext(), "sub_1")
	s.Require().NoError(err)
	inv := invoices[0]

	// the scheduler was down past the grace end
	s.GetClock().Set(inv.GracePeriodEndsAt.Add(time.Hour))
	result := s.sweep()
	s.Equal(1, result.Retries)
	s.Equal(types.InvoiceStatusCancelled, s.invoice(inv.ID).InvoiceStatus)
	s.Equal(1, s.GetGateway().CallCount())
}

func (s *DunningSweeperSuite) TestLockedSubscriptionIsLeftForNextSweep() {
	s.createSubscription("sub_1")
	s.createSubscription("sub_2")

	err := s.GetDB().WithTx(s.GetContext(), func(txCtx context.Context) error {
		ok, err := s.GetDB().TryLockKey(txCtx, types.SubscriptionLockKey(txCtx, "sub_1"))
		s.Require().NoError(err)
		s.Require().True(ok)

		result := s.sweep()
		s.Equal(1, result.Conflicts)
		s.Equal(1, result.Generated)
		s.Equal(0, result.Failed)
		return nil
	})
	s.Require().NoError(err)

	result := s.sweep()
	s.Equal(1, result.Generated)
	s.Equal(0, result.Conflicts)
}
