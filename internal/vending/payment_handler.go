package vending

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PaymentHandler exposes intent creation, the synchronous confirmation path,
// the gateway webhook, and refunds.
type PaymentHandler struct {
	coordinator *Coordinator
	logger      apt.Logger
	config      *apt.Config
	tlm         *telemetry.HTTP
}

func NewPaymentHandler(coordinator *Coordinator, config *apt.Config, logger apt.Logger) *PaymentHandler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &PaymentHandler{
		coordinator: coordinator,
		logger:      logger,
		config:      config,
		tlm:         telemetry.NewHTTP(),
	}
}

func (h *PaymentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/create-intent", h.CreateIntent)
		r.Post("/process", h.ProcessPayment)
		r.Get("/{orderID}/status", h.GetPaymentStatus)
		r.Post("/webhook", h.HandleWebhook)
		r.Post("/{orderID}/refund", h.RequestRefund)
	})
}

func (h *PaymentHandler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", apt.RequestIDFrom(r.Context()))
}

type createIntentPayload struct {
	OrderID uuid.UUID `json:"order_id" validate:"required"`
}

func (h *PaymentHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "PaymentHandler.CreateIntent")
	defer finish()

	log := h.log(r)

	var req createIntentPayload
	if !decodeJSON(w, r, log, &req) {
		return
	}
	if req.OrderID == uuid.Nil {
		apt.RespondError(w, http.StatusBadRequest, "order_id is required")
		return
	}

	intent, err := h.coordinator.CreatePaymentIntent(r.Context(), req.OrderID)
	if err != nil {
		log.Info("cannot create payment intent", "order_id", req.OrderID.String(), "error", err)
		respondDomainError(w, log, err)
		return
	}

	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"client_secret":     intent.ClientSecret,
		"payment_intent_id": intent.ID,
		"amount":            intent.Amount,
		"currency":          intent.Currency,
	}, nil)
}

func (h *PaymentHandler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "PaymentHandler.ProcessPayment")
	defer finish()

	log := h.log(r)

	var req ProcessPaymentRequest
	if !decodeJSON(w, r, log, &req) {
		return
	}
	if req.OrderID == uuid.Nil {
		apt.RespondError(w, http.StatusBadRequest, "order_id is required")
		return
	}
	if err := validate.Struct(req); err != nil {
		apt.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := h.coordinator.ProcessPayment(r.Context(), req)
	if err != nil {
		log.Info("cannot process payment", "order_id", req.OrderID.String(), "error", err)
		respondDomainError(w, log, err)
		return
	}

	log.Info("payment processed", "order_id", req.OrderID.String(), "transaction_id", receipt.TransactionID)
	apt.Respond(w, http.StatusOK, receipt, nil)
}

func (h *PaymentHandler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "PaymentHandler.GetPaymentStatus")
	defer finish()

	log := h.log(r)

	idStr := chi.URLParam(r, "orderID")
	id, err := uuid.Parse(idStr)
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	info, err := h.coordinator.PaymentStatus(r.Context(), id)
	if err != nil {
		respondDomainError(w, log, err)
		return
	}

	apt.Respond(w, http.StatusOK, info, nil)
}

// HandleWebhook receives gateway callbacks. Signature failures are 400 so the
// gateway does not retry forged or corrupted deliveries; genuine processing
// errors are 502 so its retry policy applies.
func (h *PaymentHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "PaymentHandler.HandleWebhook")
	defer finish()

	log := h.log(r)

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	signature := r.Header.Get("X-Gateway-Signature")

	err = h.coordinator.HandleGatewayEvent(r.Context(), payload, signature)
	if err != nil {
		var gateway *GatewayError
		if errors.As(err, &gateway) {
			log.Info("webhook rejected", "error", err)
			apt.RespondError(w, http.StatusBadRequest, gateway.Message)
			return
		}
		log.Error("cannot apply gateway event", "error", err)
		apt.RespondError(w, http.StatusBadGateway, "Could not apply gateway event")
		return
	}

	apt.Respond(w, http.StatusOK, map[string]bool{"received": true}, nil)
}

type refundPayload struct {
	Reason string `json:"reason"`
}

func (h *PaymentHandler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "PaymentHandler.RequestRefund")
	defer finish()

	log := h.log(r)

	idStr := chi.URLParam(r, "orderID")
	id, err := uuid.Parse(idStr)
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req refundPayload
	if !decodeJSON(w, r, log, &req) {
		return
	}

	order, err := h.coordinator.Refund(r.Context(), id, req.Reason)
	if err != nil {
		log.Info("cannot refund order", "order_id", id.String(), "error", err)
		respondDomainError(w, log, err)
		return
	}

	log.Info("order refunded", "order_id", id.String())
	apt.RespondSuccess(w, order)
}

// decodeJSON reads and unmarshals a bounded request body. It writes the
// error response itself and reports success through its return value.
func decodeJSON(w http.ResponseWriter, r *http.Request, log apt.Logger, target interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Debug("failed to read request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return false
	}

	if err := json.Unmarshal(body, target); err != nil {
		log.Debug("failed to decode request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return false
	}

	return true
}
