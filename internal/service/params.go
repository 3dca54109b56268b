package service

import (
	"github.com/flexprice/dunning/internal/config"
	"github.com/flexprice/dunning/internal/domain/dunning"
	"github.com/flexprice/dunning/internal/domain/invoice"
	"github.com/flexprice/dunning/internal/domain/outbox"
	"github.com/flexprice/dunning/internal/domain/subscription"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/payment"
	"github.com/flexprice/dunning/internal/postgres"
	"github.com/flexprice/dunning/internal/sentry"
	"github.com/flexprice/dunning/internal/types"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	DB     postgres.IClient
	Clock  types.Clock

	// Repositories
	SubRepo          subscription.Repository
	InvoiceRepo      invoice.Repository
	PolicyRepo       dunning.PolicyRepository
	CampaignRepo     dunning.CampaignRepository
	RetryAttemptRepo dunning.RetryAttemptRepository
	EmailRepo        dunning.EmailRepository
	ActionRepo       dunning.ActionRepository
	OutboxRepo       outbox.Repository

	Gateways *payment.Registry
	Sentry   *sentry.Service
}

// NewServiceParams creates a new ServiceParams instance
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db postgres.IClient,
	clock types.Clock,
	subRepo subscription.Repository,
	invoiceRepo invoice.Repository,
	policyRepo dunning.PolicyRepository,
	campaignRepo dunning.CampaignRepository,
	retryAttemptRepo dunning.RetryAttemptRepository,
	emailRepo dunning.EmailRepository,
	actionRepo dunning.ActionRepository,
	outboxRepo outbox.Repository,
	gateways *payment.Registry,
	sentrySvc *sentry.Service,
) ServiceParams {
	return ServiceParams{
		Logger:           logger,
		Config:           config,
		DB:               db,
		Clock:            clock,
		SubRepo:          subRepo,
		InvoiceRepo:      invoiceRepo,
		PolicyRepo:       policyRepo,
		CampaignRepo:     campaignRepo,
		RetryAttemptRepo: retryAttemptRepo,
		EmailRepo:        emailRepo,
		ActionRepo:       actionRepo,
		OutboxRepo:       outboxRepo,
		Gateways:         gateways,
		Sentry:           sentrySvc,
	}
}
