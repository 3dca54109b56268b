package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/flexprice/dunning/internal/config"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/types"
	"github.com/hashicorp/go-retryablehttp"
	svix "github.com/svix/svix-webhooks/go"
	"github.com/svix/svix-webhooks/go/models"
)

// Sender delivers a built webhook body to the outside world.
type Sender interface {
	Send(ctx context.Context, event *types.WebhookEvent, body json.RawMessage) error
}

// NewSenderFromConfig prefers Svix when enabled and falls back to a signed
// HTTP POST. It returns nil when webhooks are disabled.
func NewSenderFromConfig(cfg *config.Configuration, log *logger.Logger) (Sender, error) {
	if !cfg.Webhook.Enabled {
		return nil, nil
	}
	if cfg.Webhook.SvixEnabled {
		return NewSvixSender(cfg, log)
	}
	return NewHTTPSender(cfg, log)
}

type svixMessageAPI interface {
	Create(ctx context.Context, appID string, msg models.MessageIn, o *svix.MessageCreateOptions) (*models.MessageOut, error)
}

type svixSender struct {
	messages svixMessageAPI
	appID    string
	logger   *logger.Logger
}

func NewSvixSender(cfg *config.Configuration, log *logger.Logger) (Sender, error) {
	opts := &svix.SvixOptions{}
	if cfg.Webhook.SvixServerURL != "" {
		serverURL, err := url.Parse(cfg.Webhook.SvixServerURL)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHint("Invalid svix server url").
				Mark(ierr.ErrValidation)
		}
		opts.ServerUrl = serverURL
	}

	client, err := svix.New(cfg.Webhook.SvixAuthToken, opts)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to create svix client").
			Mark(ierr.ErrSystem)
	}

	return &svixSender{
		messages: client.Message,
		appID:    cfg.Webhook.SvixAppID,
		logger:   log,
	}, nil
}

func (s *svixSender) Send(ctx context.Context, event *types.WebhookEvent, body json.RawMessage) error {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ierr.WithError(err).
			WithHint("Webhook payload must be a json object").
			Mark(ierr.ErrValidation)
	}

	msg := models.MessageIn{
		EventType: string(event.EventName),
		EventId:   &event.ID,
		Payload:   payload,
	}
	out, err := s.messages.Create(ctx, s.appID, msg, &svix.MessageCreateOptions{
		IdempotencyKey: &event.ID,
	})
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to deliver webhook through svix").
			WithReportableDetails(map[string]any{"event_id": event.ID, "event_name": event.EventName}).
			Mark(ierr.ErrHTTPClient)
	}

	s.logger.Debugw("webhook delivered through svix", "event_id", event.ID, "svix_message_id", out.Id)
	return nil
}

// httpSender posts the body to a single endpoint, signed with the standard
// webhooks scheme so receivers can verify it with any svix library.
type httpSender struct {
	client *retryablehttp.Client
	url    string
	signer *svix.Webhook
	logger *logger.Logger
}

func NewHTTPSender(cfg *config.Configuration, log *logger.Logger) (Sender, error) {
	if cfg.Webhook.URL == "" {
		return nil, ierr.NewError("webhook url is not configured").
			WithHint("Set webhook.url or enable svix").
			Mark(ierr.ErrValidation)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.Webhook.MaxRetries
	client.HTTPClient.Timeout = cfg.Webhook.Timeout
	client.Logger = log.GetRetryableHTTPLogger()

	sender := &httpSender{
		client: client,
		url:    cfg.Webhook.URL,
		logger: log,
	}
	if cfg.Webhook.Secret != "" {
		signer, err := svix.NewWebhook(cfg.Webhook.Secret)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHint("Invalid webhook signing secret").
				Mark(ierr.ErrValidation)
		}
		sender.signer = signer
	}
	return sender, nil
}

func (s *httpSender) Send(ctx context.Context, event *types.WebhookEvent, body json.RawMessage) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to build webhook request").
			Mark(ierr.ErrInternal)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("webhook-id", event.ID)
	req.Header.Set("webhook-timestamp", strconv.FormatInt(event.Timestamp.Unix(), 10))
	if s.signer != nil {
		signature, err := s.signer.Sign(event.ID, event.Timestamp, body)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to sign webhook").
				Mark(ierr.ErrInternal)
		}
		req.Header.Set("webhook-signature", signature)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to deliver webhook").
			WithReportableDetails(map[string]any{"event_id": event.ID, "url": s.url}).
			Mark(ierr.ErrHTTPClient)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ierr.NewError(fmt.Sprintf("webhook endpoint returned status %d", resp.StatusCode)).
			WithReportableDetails(map[string]any{"event_id": event.ID, "status": resp.StatusCode}).
			Mark(ierr.ErrHTTPClient)
	}

	s.logger.Debugw("webhook delivered", "event_id", event.ID, "status", resp.StatusCode)
	return nil
}
