package email

import (
	"bytes"
	"context"
	"html/template"
	"time"

	"github.com/flexprice/dunning/internal/config"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/types"
	"github.com/shopspring/decimal"
)

// DunningEmailJob is the outbox payload of one dunning email. It carries a
// snapshot of everything the template needs.
type DunningEmailJob struct {
	EmailID           string                 `json:"email_id"`
	EmailType         types.DunningEmailType `json:"email_type"`
	Recipient         string                 `json:"recipient"`
	SubscriptionID    string                 `json:"subscription_id"`
	InvoiceID         string                 `json:"invoice_id"`
	InvoiceNumber     string                 `json:"invoice_number"`
	AttemptNumber     int                    `json:"attempt_number"`
	AmountDue         decimal.Decimal        `json:"amount_due"`
	Currency          string                 `json:"currency"`
	ErrorCode         string                 `json:"error_code,omitempty"`
	ErrorMessage      string                 `json:"error_message,omitempty"`
	NextRetryAt       *time.Time             `json:"next_retry_at,omitempty"`
	GracePeriodEndsAt *time.Time             `json:"grace_period_ends_at,omitempty"`
	CancelReason      *types.CancelReason    `json:"cancel_reason,omitempty"`
}

type SendEmailResponse struct {
	MessageID string
	Success   bool
	Error     string
}

// Email renders and sends dunning emails.
type Email struct {
	client     *EmailClient
	supportURL string
	logger     *logger.Logger
}

func NewEmail(client *EmailClient, cfg *config.Configuration, log *logger.Logger) *Email {
	return &Email{
		client:     client,
		supportURL: cfg.Email.SupportURL,
		logger:     log,
	}
}

func (s *Email) IsEnabled() bool {
	return s.client.IsEnabled()
}

// SendDunningEmail renders the template of the job type and sends it.
func (s *Email) SendDunningEmail(ctx context.Context, job *DunningEmailJob) (*SendEmailResponse, error) {
	subject, html, err := s.Render(job)
	if err != nil {
		return &SendEmailResponse{Error: err.Error()}, err
	}

	if !s.client.IsEnabled() {
		s.logger.Warnw("email client is disabled, skipping email send",
			"email_id", job.EmailID,
			"email_type", job.EmailType,
		)
		return &SendEmailResponse{
			Success: false,
			Error:   "email client is disabled",
		}, nil
	}

	messageID, err := s.client.SendEmail(ctx, s.client.GetFromAddress(), job.Recipient, subject, html, "")
	if err != nil {
		s.logger.Errorw("failed to send dunning email",
			"error", err,
			"email_id", job.EmailID,
			"email_type", job.EmailType,
			"invoice_id", job.InvoiceID,
		)
		return &SendEmailResponse{
			Success: false,
			Error:   err.Error(),
		}, err
	}

	s.logger.Infow("dunning email sent",
		"message_id", messageID,
		"email_id", job.EmailID,
		"email_type", job.EmailType,
		"invoice_id", job.InvoiceID,
	)
	return &SendEmailResponse{
		MessageID: messageID,
		Success:   true,
	}, nil
}

// Render returns the subject and html body of a job.
func (s *Email) Render(job *DunningEmailJob) (string, string, error) {
	content, ok := emailTemplates[job.EmailType]
	if !ok {
		return "", "", ierr.NewErrorf("template not found for email type %s", job.EmailType).
			Mark(ierr.ErrValidation)
	}

	tmpl, err := template.New("email").Parse(templateLayout)
	if err == nil {
		_, err = tmpl.Parse(content)
	}
	if err != nil {
		return "", "", ierr.WithError(err).
			WithHint("Failed to parse email template").
			Mark(ierr.ErrInternal)
	}

	subject := emailSubjects[job.EmailType]
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, BuildTemplateData(job, subject, s.supportURL)); err != nil {
		return "", "", ierr.WithError(err).
			WithHint("Failed to render email template").
			Mark(ierr.ErrInternal)
	}
	return subject, buf.String(), nil
}

// BuildTemplateData flattens a job into template variables.
func BuildTemplateData(job *DunningEmailJob, subject, supportURL string) map[string]interface{} {
	data := map[string]interface{}{
		"subject":        subject,
		"support_url":    supportURL,
		"invoice_number": job.InvoiceNumber,
		"attempt_number": job.AttemptNumber,
		"amount":         job.AmountDue.StringFixed(2),
		"currency":       job.Currency,
		"error_code":     job.ErrorCode,
		"error_message":  job.ErrorMessage,
		"next_retry_at":  "",
	}
	if job.NextRetryAt != nil {
		data["next_retry_at"] = job.NextRetryAt.UTC().Format("January 2, 2006")
	}
	if job.GracePeriodEndsAt != nil {
		data["grace_period_ends_at"] = job.GracePeriodEndsAt.UTC().Format("January 2, 2006")
	}
	return data
}
