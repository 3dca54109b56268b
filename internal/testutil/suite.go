package testutil

import (
	"context"
	"time"

	"github.com/flexprice/dunning/internal/config"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/payment"
	"github.com/flexprice/dunning/internal/types"
	"github.com/stretchr/testify/suite"
)

// Stores holds the in-memory repositories of a test.
type Stores struct {
	SubscriptionRepo *InMemorySubscriptionStore
	InvoiceRepo      *InMemoryInvoiceStore
	PolicyRepo       *InMemoryPolicyStore
	CampaignRepo     *InMemoryCampaignStore
	RetryAttemptRepo *InMemoryRetryAttemptStore
	EmailRepo        *InMemoryEmailStore
	ActionRepo       *InMemoryActionStore
	OutboxRepo       *InMemoryOutboxStore
}

// BaseServiceTestSuite wires in-memory stores, a fake clock and a scripted
// gateway for service level tests.
type BaseServiceTestSuite struct {
	suite.Suite
	ctx      context.Context
	stores   Stores
	db       *InMemoryDB
	logger   *logger.Logger
	config   *config.Configuration
	clock    *FakeClock
	gateway  *ScriptedGateway
	registry *payment.Registry
}

// DefaultTestTime is the starting point of every test clock.
var DefaultTestTime = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = types.SetRequestID(context.Background(), types.GenerateUUIDWithPrefix(types.UUID_PREFIX_REQUEST))
	s.ctx = types.SetActor(s.ctx, "test_admin")

	s.config = config.GetDefaultConfig()
	s.config.Gateway.Default = types.PaymentGatewayMock
	s.config.Cache.Enabled = false

	s.logger = logger.NewNoopLogger()
	s.db = NewInMemoryDB()
	s.clock = NewFakeClock(DefaultTestTime)
	s.gateway = NewScriptedGateway()
	s.registry = payment.NewRegistry(s.logger, s.config.Dunning.ChargeTimeout, 0, 0, s.gateway)

	s.stores = Stores{
		SubscriptionRepo: NewInMemorySubscriptionStore(),
		InvoiceRepo:      NewInMemoryInvoiceStore(),
		PolicyRepo:       NewInMemoryPolicyStore(),
		CampaignRepo:     NewInMemoryCampaignStore(),
		RetryAttemptRepo: NewInMemoryRetryAttemptStore(),
		EmailRepo:        NewInMemoryEmailStore(),
		ActionRepo:       NewInMemoryActionStore(),
		OutboxRepo:       NewInMemoryOutboxStore(),
	}
}

func (s *BaseServiceTestSuite) TearDownTest() {
	s.stores.SubscriptionRepo.Clear()
	s.stores.InvoiceRepo.Clear()
	s.stores.PolicyRepo.Clear()
	s.stores.CampaignRepo.Clear()
	s.stores.RetryAttemptRepo.Clear()
	s.stores.EmailRepo.Clear()
	s.stores.ActionRepo.Clear()
	s.stores.OutboxRepo.Clear()
	s.gateway.Reset()
}

func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

func (s *BaseServiceTestSuite) GetDB() *InMemoryDB {
	return s.db
}

func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

func (s *BaseServiceTestSuite) GetClock() *FakeClock {
	return s.clock
}

func (s *BaseServiceTestSuite) GetGateway() *ScriptedGateway {
	return s.gateway
}

func (s *BaseServiceTestSuite) GetGatewayRegistry() *payment.Registry {
	return s.registry
}

// GetNow returns the current fake time.
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.clock.Now()
}
