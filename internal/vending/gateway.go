package vending

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
)

// Webhook event types, mirroring the gateway's vocabulary.
const (
	WebhookPaymentSucceeded = "payment_intent.succeeded"
	WebhookPaymentFailed    = "payment_intent.payment_failed"
)

// Intent is the gateway's handle for a payment about to be captured.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// WebhookEvent is a verified, decoded gateway callback.
type WebhookEvent struct {
	Type           string `json:"type"`
	IntentID       string `json:"intent_id"`
	OrderID        string `json:"order_id"`
	TransactionID  string `json:"transaction_id,omitempty"`
	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
}

// PaymentGateway abstracts payment capture. The implementation is chosen once
// at process start from config; the coordinator never branches on which one
// it got.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, orderID uuid.UUID, amount int64, currency string) (*Intent, error)
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// MockGateway is the development default: deterministic local intents, no
// signature verification, no network.
type MockGateway struct{}

func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (g *MockGateway) CreateIntent(ctx context.Context, orderID uuid.UUID, amount int64, currency string) (*Intent, error) {
	id := fmt.Sprintf("pi_mock_%d", time.Now().UnixMilli())
	return &Intent{
		ID:           id,
		ClientSecret: fmt.Sprintf("%s_secret_%s", id, uuid.NewString()[:8]),
		Amount:       amount,
		Currency:     currency,
	}, nil
}

func (g *MockGateway) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	var evt WebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, &GatewayError{Message: "invalid webhook payload", Cause: err}
	}
	return &evt, nil
}

// RemoteGateway talks to a real payment provider through its service API and
// verifies webhook deliveries with an HMAC-SHA256 signature over the raw
// payload.
type RemoteGateway struct {
	client        *apt.ServiceClient
	webhookSecret []byte
}

func NewRemoteGateway(baseURL, webhookSecret string) *RemoteGateway {
	return &RemoteGateway{
		client:        apt.NewServiceClient(baseURL),
		webhookSecret: []byte(webhookSecret),
	}
}

type createIntentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	OrderID  string `json:"order_id"`
}

func (g *RemoteGateway) CreateIntent(ctx context.Context, orderID uuid.UUID, amount int64, currency string) (*Intent, error) {
	req := createIntentRequest{
		Amount:   amount,
		Currency: currency,
		OrderID:  orderID.String(),
	}

	resp, err := g.client.Request(ctx, "POST", "/payment-intents", req)
	if err != nil {
		return nil, &GatewayError{Message: "cannot create payment intent", Cause: err}
	}

	var intent Intent
	if err := rehydrate(resp.Data, &intent); err != nil {
		return nil, &GatewayError{Message: "cannot decode payment intent", Cause: err}
	}
	return &intent, nil
}

func (g *RemoteGateway) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	mac := hmac.New(sha256.New, g.webhookSecret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, &GatewayError{Message: "webhook signature mismatch"}
	}

	var evt WebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, &GatewayError{Message: "invalid webhook payload", Cause: err}
	}
	return &evt, nil
}

// SignWebhook computes the signature a webhook payload must carry. Exposed
// for tests and for the gateway simulator.
func SignWebhook(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// NewGatewayFromConfig picks the gateway strategy at process start: a remote
// gateway when credentials are configured, the mock otherwise.
func NewGatewayFromConfig(config *apt.Config) PaymentGateway {
	baseURL, _ := config.GetString("gateway.url")
	secret, _ := config.GetString("gateway.webhook.secret")
	if baseURL != "" && secret != "" {
		return NewRemoteGateway(baseURL, secret)
	}
	return NewMockGateway()
}
