package email

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/flexprice/dunning/internal/config"
	"github.com/flexprice/dunning/internal/domain/dunning"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/pubsub"
	pubsubRouter "github.com/flexprice/dunning/internal/pubsub/router"
	"github.com/flexprice/dunning/internal/types"
)

// DeliveryService consumes email jobs from the outbox topic, sends them and
// records the delivery status on the DunningEmail row.
type DeliveryService struct {
	email     *Email
	emailRepo dunning.EmailRepository
	pubSub    pubsub.PubSub
	clock     types.Clock
	logger    *logger.Logger
}

func NewDeliveryService(
	email *Email,
	emailRepo dunning.EmailRepository,
	pubSub pubsub.PubSub,
	clock types.Clock,
	log *logger.Logger,
) *DeliveryService {
	return &DeliveryService{
		email:     email,
		emailRepo: emailRepo,
		pubSub:    pubSub,
		clock:     clock,
		logger:    log,
	}
}

// RegisterHandler registers the email delivery handler with the router
func (s *DeliveryService) RegisterHandler(router *pubsubRouter.Router, cfg *config.Configuration) {
	throttle := middleware.NewThrottle(cfg.PubSub.RateLimit, time.Second)
	router.AddNoPublisherHandler(
		"dunning_email_delivery_handler",
		string(types.OutboxTopicEmail),
		s.pubSub,
		s.processMessage,
		throttle.Middleware,
	)
}

func (s *DeliveryService) processMessage(msg *message.Message) error {
	var job DunningEmailJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		// a malformed payload will never succeed, drop it
		s.logger.Errorw("failed to unmarshal email job",
			"error", err,
			"message_uuid", msg.UUID,
		)
		return nil
	}

	return s.Deliver(msg.Context(), &job)
}

// Deliver sends one job. Jobs whose email was already sent are skipped so a
// redelivered message never mails the customer twice.
func (s *DeliveryService) Deliver(ctx context.Context, job *DunningEmailJob) error {
	record, err := s.emailRepo.Get(ctx, job.EmailID)
	if err != nil {
		if ierr.IsNotFound(err) {
			s.logger.Warnw("dunning email not found, dropping job", "email_id", job.EmailID)
			return nil
		}
		return err
	}

	if record.DeliveryStatus == types.EmailDeliveryStatusSent {
		s.logger.Debugw("dunning email already sent", "email_id", record.ID)
		return nil
	}

	resp, sendErr := s.email.SendDunningEmail(ctx, job)
	now := s.clock.Now()
	record.UpdatedAt = now

	switch {
	case sendErr != nil:
		record.DeliveryStatus = types.EmailDeliveryStatusFailed
		record.LastError = sendErr.Error()
	case !resp.Success:
		record.DeliveryStatus = types.EmailDeliveryStatusSkipped
		record.LastError = resp.Error
	default:
		record.DeliveryStatus = types.EmailDeliveryStatusSent
		record.ProviderMessageID = resp.MessageID
		record.SentAt = &now
		record.LastError = ""
	}

	return s.emailRepo.Update(ctx, record)
}
