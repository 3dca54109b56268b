package email

import (
	"context"

	"github.com/flexprice/dunning/internal/config"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/resend/resend-go/v2"
)

// emailsAPI is the part of the resend client used to send mail.
type emailsAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// EmailClient sends mail through Resend. A client without an api key is
// disabled and never calls the provider.
type EmailClient struct {
	emails  emailsAPI
	cfg     config.EmailConfig
	enabled bool
}

func NewEmailClient(cfg *config.Configuration, log *logger.Logger) *EmailClient {
	c := &EmailClient{cfg: cfg.Email}
	if !cfg.Email.Enabled || cfg.Email.APIKey == "" {
		log.Infow("email delivery disabled", "enabled", cfg.Email.Enabled)
		return c
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.Logger = log.GetRetryableHTTPLogger()

	client := resend.NewCustomClient(retryClient.StandardClient(), cfg.Email.APIKey)
	c.emails = client.Emails
	c.enabled = true
	return c
}

func (c *EmailClient) IsEnabled() bool {
	return c != nil && c.enabled
}

func (c *EmailClient) GetFromAddress() string {
	return c.cfg.FromAddress
}

// SendEmail sends one message and returns the provider message id.
func (c *EmailClient) SendEmail(ctx context.Context, from, to, subject, html, text string) (string, error) {
	if !c.IsEnabled() {
		return "", ierr.NewError("email client is disabled").
			Mark(ierr.ErrInvalidOperation)
	}

	params := &resend.SendEmailRequest{
		From:    from,
		To:      []string{to},
		Subject: subject,
		Html:    html,
		Text:    text,
	}
	if c.cfg.ReplyTo != "" {
		params.ReplyTo = c.cfg.ReplyTo
	}

	sent, err := c.emails.SendWithContext(ctx, params)
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("Failed to send email").
			WithReportableDetails(map[string]any{"to": to, "subject": subject}).
			Mark(ierr.ErrHTTPClient)
	}
	return sent.Id, nil
}
