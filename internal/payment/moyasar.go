package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flexprice/dunning/internal/config"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/types"
	"github.com/hashicorp/go-retryablehttp"
)

const moyasarDefaultBaseURL = "https://api.moyasar.com/v1"

// Moyasar payment statuses.
const (
	moyasarStatusPaid      = "paid"
	moyasarStatusCaptured  = "captured"
	moyasarStatusFailed    = "failed"
	moyasarStatusInitiated = "initiated"
)

type moyasarSource struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message,omitempty"`
}

type moyasarPaymentRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	Source      *moyasarSource    `json:"source"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	// GivenID makes the request idempotent on the Moyasar side.
	GivenID string `json:"given_id,omitempty"`
}

type moyasarPayment struct {
	ID       string         `json:"id"`
	Status   string         `json:"status"`
	Amount   int64          `json:"amount"`
	Currency string         `json:"currency"`
	Source   *moyasarSource `json:"source,omitempty"`
}

type moyasarErrorResponse struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Errors  map[string]any `json:"errors,omitempty"`
}

// MoyasarGateway charges a saved card token through the Moyasar payments
// API. The given_id carries the idempotency key so transport retries never
// create a second payment.
type MoyasarGateway struct {
	secretKey  string
	baseURL    string
	httpClient *retryablehttp.Client
	logger     *logger.Logger
}

func NewMoyasarGateway(cfg config.MoyasarConfig, log *logger.Logger) *MoyasarGateway {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = log.GetRetryableHTTPLogger()

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = moyasarDefaultBaseURL
	}
	return &MoyasarGateway{
		secretKey:  cfg.SecretKey,
		baseURL:    baseURL,
		httpClient: client,
		logger:     log,
	}
}

func (g *MoyasarGateway) Name() types.PaymentGateway {
	return types.PaymentGatewayMoyasar
}

func (g *MoyasarGateway) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error) {
	body, err := json.Marshal(&moyasarPaymentRequest{
		Amount:      toMinorUnits(req.Amount, req.Currency),
		Currency:    req.Currency,
		Description: req.Description,
		Source:      &moyasarSource{Type: "token", Token: req.PaymentMethodRef},
		Metadata:    req.Metadata,
		GivenID:     req.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal moyasar payment: %w", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build moyasar request: %w", err)
	}
	// Moyasar uses HTTP basic auth with the secret key as username
	httpReq.SetBasicAuth(g.secretKey, "")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read moyasar response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp moyasarErrorResponse
		_ = json.Unmarshal(respBody, &errResp)
		g.logger.Warnw("moyasar API error",
			"status", resp.StatusCode,
			"type", errResp.Type,
			"message", errResp.Message,
			"idempotency_key", req.IdempotencyKey)
		return moyasarErrorResult(resp.StatusCode, &errResp), nil
	}

	var payment moyasarPayment
	if err := json.Unmarshal(respBody, &payment); err != nil {
		return nil, fmt.Errorf("parse moyasar response: %w", err)
	}
	return moyasarPaymentResult(&payment), nil
}

func moyasarErrorResult(status int, e *moyasarErrorResponse) *ChargeResult {
	code := e.Type
	if code == "" {
		code = fmt.Sprintf("http_%d", status)
	}
	message := e.Message
	if message == "" {
		message = http.StatusText(status)
	}
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return Failed(types.FailureKindTransient, code, message)
	}
	return Failed(types.FailureKindHardDecline, code, message)
}

func moyasarPaymentResult(p *moyasarPayment) *ChargeResult {
	switch p.Status {
	case moyasarStatusPaid, moyasarStatusCaptured:
		return Succeeded(p.ID)
	case moyasarStatusFailed:
		message := "The payment was declined."
		if p.Source != nil && p.Source.Message != "" {
			message = p.Source.Message
		}
		r := Failed(types.FailureKindHardDecline, "payment_failed", message)
		r.PaymentRef = p.ID
		return r
	default:
		// initiated payments need a 3DS step the customer is not present for
		r := Failed(types.FailureKindHardDecline, "payment_"+p.Status, "The payment requires customer action.")
		r.PaymentRef = p.ID
		return r
	}
}
