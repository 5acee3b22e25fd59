package vending

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/appetiteclub/apt"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func newPaymentRouter(c *Coordinator) chi.Router {
	h := NewPaymentHandler(c, apt.NewConfig(), apt.NewNoopLogger())
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestPaymentHandlerCreateIntent(t *testing.T) {
	c, deps := newTestCoordinator()
	order := seedPendingOrder(deps, "sess-1")

	r := newPaymentRouter(c)

	body, _ := json.Marshal(map[string]string{"order_id": order.ID.String()})
	req := httptest.NewRequest(http.MethodPost, "/payments/create-intent", bytes.NewReader(body))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Data struct {
			ClientSecret    string `json:"client_secret"`
			PaymentIntentID string `json:"payment_intent_id"`
			Amount          int64  `json:"amount"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if resp.Data.ClientSecret == "" || resp.Data.PaymentIntentID == "" {
		t.Errorf("incomplete intent payload: %+v", resp.Data)
	}
	if resp.Data.Amount != 250 {
		t.Errorf("Amount = %d, want 250", resp.Data.Amount)
	}
}

func TestPaymentHandlerCreateIntentMissingOrderID(t *testing.T) {
	c, _ := newTestCoordinator()
	r := newPaymentRouter(c)

	req := httptest.NewRequest(http.MethodPost, "/payments/create-intent", bytes.NewReader([]byte("{}")))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestPaymentHandlerProcessPayment(t *testing.T) {
	c, deps := newTestCoordinator()
	order := seedPendingOrder(deps, "sess-1")

	r := newPaymentRouter(c)

	body, _ := json.Marshal(map[string]string{"order_id": order.ID.String()})
	req := httptest.NewRequest(http.MethodPost, "/payments/process", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Data PaymentReceipt `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if resp.Data.PickupCode != "123456" {
		t.Errorf("PickupCode = %q, want 123456", resp.Data.PickupCode)
	}

	// Second confirmation conflicts.
	req = httptest.NewRequest(http.MethodPost, "/payments/process", bytes.NewReader(body))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("replayed process status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestPaymentHandlerGetStatus(t *testing.T) {
	c, deps := newTestCoordinator()
	order := seedPendingOrder(deps, "sess-1")

	r := newPaymentRouter(c)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/payments/%s/status", order.ID), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/payments/%s/status", uuid.New()), nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown order status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// newSignedWebhookCoordinator wires a coordinator whose gateway verifies
// HMAC signatures, as the remote gateway does in production.
func newSignedWebhookCoordinator(secret string) (*Coordinator, *testDeps) {
	c, deps := newTestCoordinator()
	c.gateway = NewRemoteGateway("http://gateway.local", secret)
	return c, deps
}

func TestPaymentHandlerWebhook(t *testing.T) {
	const secret = "whsec_test"

	c, deps := newSignedWebhookCoordinator(secret)
	order := seedPendingOrder(deps, "sess-1")

	payload, _ := json.Marshal(WebhookEvent{
		Type:     WebhookPaymentSucceeded,
		IntentID: "pi_123",
		OrderID:  order.ID.String(),
	})

	r := newPaymentRouter(c)

	t.Run("badSignature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(payload))
		req.Header.Set("X-Gateway-Signature", "deadbeef")
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if got := deps.orders.Stored(order.ID).Status; got != StatusPending {
			t.Errorf("order status = %q after rejected webhook, want pending", got)
		}
	})

	t.Run("validSignature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(payload))
		req.Header.Set("X-Gateway-Signature", SignWebhook(secret, payload))
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
		}
		if got := deps.orders.Stored(order.ID).Status; got != StatusPaid {
			t.Errorf("order status = %q, want paid", got)
		}
	})

	t.Run("redelivery", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(payload))
		req.Header.Set("X-Gateway-Signature", SignWebhook(secret, payload))
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("redelivery status = %d, want %d", w.Code, http.StatusOK)
		}
		if deps.payments.Count() != 1 {
			t.Errorf("payment records = %d, want 1", deps.payments.Count())
		}
	})
}

func TestPaymentHandlerRefund(t *testing.T) {
	c, deps := newTestCoordinator()
	order := seedPendingOrder(deps, "sess-1")

	r := newPaymentRouter(c)

	// Refund before payment conflicts.
	body, _ := json.Marshal(map[string]string{"reason": "test"})
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/payments/%s/refund", order.ID), bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("refund unpaid status = %d, want %d", w.Code, http.StatusConflict)
	}

	processBody, _ := json.Marshal(map[string]string{"order_id": order.ID.String()})
	req = httptest.NewRequest(http.MethodPost, "/payments/process", bytes.NewReader(processBody))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("process status = %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, fmt.Sprintf("/payments/%s/refund", order.ID), bytes.NewReader(body))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("refund status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	if got := deps.orders.Stored(order.ID).Status; got != StatusRefunded {
		t.Errorf("order status = %q, want refunded", got)
	}
}
