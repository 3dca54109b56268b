package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flexprice/dunning/internal/api/cron"
	"github.com/flexprice/dunning/internal/api/dto"
	v1 "github.com/flexprice/dunning/internal/api/v1"
	"github.com/flexprice/dunning/internal/auth"
	"github.com/flexprice/dunning/internal/domain/subscription"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/pubsub/memory"
	"github.com/flexprice/dunning/internal/service"
	"github.com/flexprice/dunning/internal/testutil"
	"github.com/flexprice/dunning/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

const testAPIKey = "sk_test_dunning"

type RouterSuite struct {
	testutil.BaseServiceTestSuite
	router    *gin.Engine
	token     string
	generator service.InvoiceGenerator
}

func TestRouter(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	gin.SetMode(gin.TestMode)

	cfg := s.GetConfig()
	cfg.Auth.Secret = "router-test-secret"
	hash, err := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
	s.Require().NoError(err)
	cfg.Auth.APIKeyHash = string(hash)

	stores := s.GetStores()
	params := service.NewServiceParams(
		s.GetLogger(), cfg, s.GetDB(), s.GetClock(),
		stores.SubscriptionRepo, stores.InvoiceRepo, stores.PolicyRepo, stores.CampaignRepo,
		stores.RetryAttemptRepo, stores.EmailRepo, stores.ActionRepo, stores.OutboxRepo,
		s.GetGatewayRegistry(), nil,
	)
	resolver := service.NewPolicyResolver(params)
	emails := service.NewEmailSequencer(params)
	engine := service.NewDunningEngine(params, resolver, emails, service.NewEventPublisher(params))
	s.generator = service.NewInvoiceGenerator(params, engine)

	handlers := Handlers{
		Health: v1.NewHealthHandler(s.GetDB(), s.GetLogger()),
		Dunning: v1.NewDunningHandler(
			service.NewDunningAdminService(params, engine, resolver, emails),
			service.NewRecoveryMetricsService(params),
			s.GetClock(),
			s.GetLogger(),
		),
		CronDunning: cron.NewDunningCronHandler(
			service.NewDunningSweeper(params, engine, s.generator),
			service.NewOutboxRelay(params, memory.NewPubSub(cfg, s.GetLogger())),
			s.GetLogger(),
		),
	}

	provider := auth.NewProvider(cfg)
	s.router = NewRouter(handlers, cfg, s.GetLogger(), provider)
	s.token, _, err = provider.GenerateToken("ops_jane")
	s.Require().NoError(err)
}

func (s *RouterSuite) seedPastDue(id string) {
	now := s.GetNow()
	s.Require().NoError(s.GetStores().SubscriptionRepo.Create(s.GetContext(), &subscription.Subscription{
		ID:                 id,
		CustomerID:         "cust_" + id,
		CustomerEmail:      id + "@example.com",
		Currency:           "USD",
		Amount:             decimal.NewFromInt(49),
		BillingPeriod:      types.BillingPeriodMonthly,
		BillingPeriodCount: 1,
		BillingAnchor:      now,
		StartDate:          now,
		NextBillingAt:      now,
		Gateway:            types.PaymentGatewayMock,
		PaymentMethodRef:   "pm_card_visa",
		SubscriptionStatus: types.SubscriptionStatusActive,
		BaseModel:          types.BaseModel{Status: types.StatusPublished, CreatedAt: now, UpdatedAt: now},
	}))
	s.GetGateway().QueueDeclines(1)
	_, err := s.generator.GenerateNextInvoice(s.GetContext(), id)
	s.Require().NoError(err)
}

func (s *RouterSuite) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *RouterSuite) TestHealthIsPublic() {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	s.Equal(http.StatusOK, w.Code)
	s.NotEmpty(w.Header().Get(types.HeaderRequestID))
}

func (s *RouterSuite) TestAuthentication() {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/dunning/cases", nil))
	s.Equal(http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/dunning/cases", nil)
	req.Header.Set(types.HeaderAPIKey, testAPIKey)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	s.Equal(http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/dunning/cases", nil)
	req.Header.Set(types.HeaderAPIKey, "sk_wrong")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *RouterSuite) TestStatusAndCases() {
	s.seedPastDue("sub_1")

	w := s.do(http.MethodGet, "/v1/dunning/subscriptions/sub_1", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var status dto.DunningStatusResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &status))
	s.True(status.InDunning)
	s.Equal(types.SubscriptionStatusPastDue, status.SubscriptionStatus)

	w = s.do(http.MethodGet, "/v1/dunning/cases?limit=10", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var cases dto.ListDunningCasesResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &cases))
	s.Len(cases.Items, 1)
	s.Equal("sub_1", cases.Items[0].SubscriptionID)
}

func (s *RouterSuite) TestErrorsMapToStatusCodes() {
	w := s.do(http.MethodGet, "/v1/dunning/subscriptions/sub_missing", nil)
	s.Equal(http.StatusNotFound, w.Code)

	var resp ierr.ErrorResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.False(resp.Success)

	w = s.do(http.MethodGet, "/v1/dunning/cases?limit=0", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterSuite) TestForceRetryRecordsOperator() {
	s.seedPastDue("sub_1")

	w := s.do(http.MethodPost, "/v1/dunning/subscriptions/sub_1/retry", dto.ForceRetryRequest{Reason: "card updated"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var resp dto.DunningActionResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal("ops_jane", resp.Action.Actor)
	s.Equal(types.InvoiceStatusPaid, resp.Invoice.InvoiceStatus)

	// nothing left to retry
	w = s.do(http.MethodPost, "/v1/dunning/subscriptions/sub_1/retry", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterSuite) TestExtendGraceAndCancel() {
	s.seedPastDue("sub_1")

	w := s.do(http.MethodPost, "/v1/dunning/subscriptions/sub_1/extend-grace", dto.ExtendGracePeriodRequest{Days: 0, Reason: "x"})
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/v1/dunning/subscriptions/sub_1/extend-grace", dto.ExtendGracePeriodRequest{Days: 3, Reason: "awaiting wire"})
	s.Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/v1/dunning/subscriptions/sub_1/cancel", dto.CancelDunningRequest{Reason: "customer asked"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	sub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), "sub_1")
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusCancelled, sub.SubscriptionStatus)
}

func (s *RouterSuite) TestLockedSubscriptionIsConflict() {
	s.seedPastDue("sub_1")

	err := s.GetDB().WithTx(s.GetContext(), func(txCtx context.Context) error {
		ok, err := s.GetDB().TryLockKey(txCtx, types.SubscriptionLockKey(txCtx, "sub_1"))
		s.Require().NoError(err)
		s.Require().True(ok)

		w := s.do(http.MethodPost, "/v1/dunning/subscriptions/sub_1/retry", nil)
		s.Equal(http.StatusConflict, w.Code)
		return nil
	})
	s.Require().NoError(err)
}

func (s *RouterSuite) TestMetrics() {
	s.seedPastDue("sub_1")
	from := s.GetNow().Add(-time.Hour).Format(time.RFC3339)
	to := s.GetNow().Add(time.Hour).Format(time.RFC3339)

	w := s.do(http.MethodGet, "/v1/dunning/metrics?from="+from+"&to="+to, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Contains(w.Body.String(), "card_declined")

	w = s.do(http.MethodGet, "/v1/dunning/metrics?format=csv&from="+from+"&to="+to, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Equal("text/csv", w.Header().Get("Content-Type"))
	s.True(strings.HasPrefix(w.Body.String(), "attempt_number,attempts,succeeded,failed,success_rate"))

	w = s.do(http.MethodGet, "/v1/dunning/metrics?from="+to+"&to="+from, nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterSuite) TestCronSweep() {
	s.Require().NoError(s.GetStores().SubscriptionRepo.Create(s.GetContext(), &subscription.Subscription{
		ID:                 "sub_due",
		CustomerID:         "cust_due",
		Currency:           "USD",
		Amount:             decimal.NewFromInt(20),
		BillingPeriod:      types.BillingPeriodMonthly,
		BillingPeriodCount: 1,
		BillingAnchor:      s.GetNow(),
		StartDate:          s.GetNow(),
		NextBillingAt:      s.GetNow(),
		Gateway:            types.PaymentGatewayMock,
		PaymentMethodRef:   "pm_card_visa",
		SubscriptionStatus: types.SubscriptionStatusActive,
		BaseModel:          types.BaseModel{Status: types.StatusPublished, CreatedAt: s.GetNow(), UpdatedAt: s.GetNow()},
	}))

	w := s.do(http.MethodPost, "/v1/cron/dunning/sweep", nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var result service.SweepResult
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &result))
	s.Equal(1, result.Generated)

	w = s.do(http.MethodPost, "/v1/cron/dunning/relay", nil)
	s.Equal(http.StatusOK, w.Code, w.Body.String())
}
