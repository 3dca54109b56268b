package service

import (
	"time"

	"github.com/flexprice/dunning/internal/domain/dunning"
	"github.com/flexprice/dunning/internal/domain/subscription"
	"github.com/flexprice/dunning/internal/testutil"
	"github.com/flexprice/dunning/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

func newTestServiceParams(s *testutil.BaseServiceTestSuite) ServiceParams {
	stores := s.GetStores()
	return ServiceParams{
		Logger:           s.GetLogger(),
		Config:           s.GetConfig(),
		DB:               s.GetDB(),
		Clock:            s.GetClock(),
		SubRepo:          stores.SubscriptionRepo,
		InvoiceRepo:      stores.InvoiceRepo,
		PolicyRepo:       stores.PolicyRepo,
		CampaignRepo:     stores.CampaignRepo,
		RetryAttemptRepo: stores.RetryAttemptRepo,
		EmailRepo:        stores.EmailRepo,
		ActionRepo:       stores.ActionRepo,
		OutboxRepo:       stores.OutboxRepo,
		Gateways:         s.GetGatewayRegistry(),
	}
}

// testServices wires every dunning service on top of the in-memory stores.
type testServices struct {
	params    ServiceParams
	resolver  PolicyResolver
	emails    EmailSequencer
	publisher EventPublisher
	engine    DunningEngine
	generator InvoiceGenerator
	admin     DunningAdminService
}

func newTestServices(s *testutil.BaseServiceTestSuite) *testServices {
	params := newTestServiceParams(s)
	svc := &testServices{params: params}
	svc.resolver = NewPolicyResolver(params)
	svc.emails = NewEmailSequencer(params)
	svc.publisher = NewEventPublisher(params)
	svc.engine = NewDunningEngine(params, svc.resolver, svc.emails, svc.publisher)
	svc.generator = NewInvoiceGenerator(params, svc.engine)
	svc.admin = NewDunningAdminService(params, svc.engine, svc.resolver, svc.emails)
	return svc
}

func newTestSubscription(id string, now time.Time) *subscription.Subscription {
	return &subscription.Subscription{
		ID:                 id,
		CustomerID:         "cust_" + id,
		CustomerEmail:      "billing+" + id + "@example.com",
		Currency:           "USD",
		Amount:             decimal.NewFromInt(49),
		BillingPeriod:      types.BillingPeriodMonthly,
		BillingPeriodCount: 1,
		BillingAnchor:      now,
		StartDate:          now,
		NextBillingAt:      now,
		Gateway:            types.PaymentGatewayMock,
		PaymentMethodRef:   "pm_card_visa",
		GatewayCustomerRef: "cus_" + id,
		SubscriptionStatus: types.SubscriptionStatusActive,
		BaseModel: types.BaseModel{
			Status:    types.StatusPublished,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func newTestPolicy(id string, maxRetries int, intervals ...int) *dunning.RetryPolicy {
	return &dunning.RetryPolicy{
		ID:                  id,
		Name:                id,
		MaxRetries:          maxRetries,
		RetryIntervalsDays:  intervals,
		GracePeriodDays:     30,
		EmailOnFirstFailure: true,
		EmailOnFinalFailure: true,
		BaseModel:           types.BaseModel{Status: types.StatusPublished},
	}
}

func withLateFee(p *dunning.RetryPolicy, afterRetry int, amount int64) *dunning.RetryPolicy {
	p.LateFeeAfterRetry = lo.ToPtr(afterRetry)
	p.LateFeeAmount = lo.ToPtr(decimal.NewFromInt(amount))
	return p
}

func emailTypes(emails []*dunning.DunningEmail) []types.DunningEmailType {
	return lo.Map(emails, func(e *dunning.DunningEmail, _ int) types.DunningEmailType { return e.EmailType })
}
