package payment

import (
	"context"
	"fmt"

	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/types"
	razorpay "github.com/razorpay/razorpay-go"
)

type razorpayOrders interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayPayments interface {
	CreateRecurringPayment(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayGateway charges a saved token through a recurring payment. Every
// charge opens an order whose receipt is the idempotency key.
type RazorpayGateway struct {
	orders   razorpayOrders
	payments razorpayPayments
	logger   *logger.Logger
}

func NewRazorpayGateway(keyID, keySecret string, log *logger.Logger) *RazorpayGateway {
	client := razorpay.NewClient(keyID, keySecret)
	return &RazorpayGateway{
		orders:   client.Order,
		payments: client.Payment,
		logger:   log,
	}
}

func (g *RazorpayGateway) Name() types.PaymentGateway {
	return types.PaymentGatewayRazorpay
}

type razorpayResponse struct {
	result *ChargeResult
	err    error
}

// Charge runs the blocking SDK calls in a goroutine so the caller's deadline
// is honoured.
func (g *RazorpayGateway) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error) {
	done := make(chan razorpayResponse, 1)
	go func() {
		result, err := g.charge(req)
		done <- razorpayResponse{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-done:
		return resp.result, resp.err
	}
}

func (g *RazorpayGateway) charge(req *ChargeRequest) (*ChargeResult, error) {
	amount := toMinorUnits(req.Amount, req.Currency)
	notes := make(map[string]interface{}, len(req.Metadata))
	for k, v := range req.Metadata {
		notes[k] = v
	}

	order, err := g.orders.Create(map[string]interface{}{
		"amount":          amount,
		"currency":        req.Currency,
		"receipt":         req.IdempotencyKey,
		"payment_capture": 1,
		"notes":           notes,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay order: %w", err)
	}
	orderID, _ := order["id"].(string)
	if orderID == "" {
		return nil, fmt.Errorf("razorpay order: missing id in response")
	}

	payment, err := g.payments.CreateRecurringPayment(map[string]interface{}{
		"email":       req.CustomerEmail,
		"amount":      amount,
		"currency":    req.Currency,
		"order_id":    orderID,
		"customer_id": req.CustomerRef,
		"token":       req.PaymentMethodRef,
		"recurring":   "1",
		"description": req.Description,
		"notes":       notes,
	}, nil)
	if err != nil {
		g.logger.Debugw("razorpay recurring payment rejected",
			"idempotency_key", req.IdempotencyKey,
			"order_id", orderID,
			"error", err)
		return Failed(types.FailureKindTransient, "razorpay_error", err.Error()), nil
	}
	return razorpayPaymentResult(payment), nil
}

func razorpayPaymentResult(payment map[string]interface{}) *ChargeResult {
	if errObj, ok := payment["error"].(map[string]interface{}); ok {
		code, _ := errObj["code"].(string)
		description, _ := errObj["description"].(string)
		kind := types.FailureKindHardDecline
		if code == "SERVER_ERROR" || code == "GATEWAY_ERROR" {
			kind = types.FailureKindTransient
		}
		return Failed(kind, code, description)
	}

	paymentID, _ := payment["razorpay_payment_id"].(string)
	if paymentID == "" {
		return Failed(types.FailureKindTransient, CodeGatewayError, "razorpay returned no payment id")
	}
	return Succeeded(paymentID)
}
