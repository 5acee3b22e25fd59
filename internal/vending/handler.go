package vending

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const MaxBodyBytes = 1 << 20

// validate holds the shared request-payload validator. Struct tags on the
// request types carry the rules.
var validate = validator.New()

// Handler exposes the client-facing order operations.
type Handler struct {
	coordinator *Coordinator
	logger      apt.Logger
	config      *apt.Config
	tlm         *telemetry.HTTP
}

func NewHandler(coordinator *Coordinator, config *apt.Config, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Handler{
		coordinator: coordinator,
		logger:      logger,
		config:      config,
		tlm:         telemetry.NewHTTP(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/{orderID}", h.GetOrder)
		r.Get("/number/{orderNumber}", h.GetOrderByNumber)
		r.Get("/{orderID}/status", h.GetOrderStatus)
		r.Get("/session/{sessionID}", h.GetOrdersBySession)
		r.Post("/multiple", h.GetMultipleOrders)
		r.Put("/{orderID}/cancel", h.CancelOrder)
		r.Post("/{orderID}/regenerate-code", h.RegeneratePickupCode)
	})
}

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", apt.RequestIDFrom(r.Context()))
}

// respondDomainError maps the coordinator's error taxonomy onto HTTP status
// codes. Anything outside the taxonomy is a 500 whose detail stays in the
// server log.
func respondDomainError(w http.ResponseWriter, log apt.Logger, err error) {
	var validation *ValidationError
	var notFound *NotFoundError
	var conflict *ConflictError
	var unavailable *UnavailableError
	var gateway *GatewayError

	switch {
	case errors.As(err, &validation):
		apt.RespondError(w, http.StatusBadRequest, validation.Message)
	case errors.As(err, &notFound):
		apt.RespondError(w, http.StatusNotFound, notFound.Message)
	case errors.As(err, &conflict):
		apt.RespondError(w, http.StatusConflict, conflict.Message)
	case errors.As(err, &unavailable):
		apt.RespondError(w, http.StatusServiceUnavailable, unavailable.Message)
	case errors.As(err, &gateway):
		apt.RespondError(w, http.StatusBadGateway, gateway.Message)
	default:
		log.Error("internal error", "error", err)
		apt.RespondError(w, http.StatusInternalServerError, "Internal error")
	}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CreateOrder")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	req, ok := h.decodeCreateOrderPayload(w, r, log)
	if !ok {
		return
	}

	if err := validate.Struct(req); err != nil {
		log.Debug("invalid create order request", "error", err)
		apt.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.coordinator.CreateOrder(ctx, req)
	if err != nil {
		log.Info("cannot create order", "machine_id", req.MachineID, "error", err)
		respondDomainError(w, log, err)
		return
	}

	log.Info("order created", "order_id", order.ID.String(), "order_number", order.OrderNumber)
	apt.Respond(w, http.StatusCreated, order, nil)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetOrder")
	defer finish()

	log := h.log(r)

	id, ok := h.orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.coordinator.GetOrder(r.Context(), id)
	if err != nil {
		respondDomainError(w, log, err)
		return
	}

	links := apt.RESTfulLinksFor(order)
	apt.RespondSuccess(w, order, links...)
}

func (h *Handler) GetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetOrderByNumber")
	defer finish()

	log := h.log(r)

	number := chi.URLParam(r, "orderNumber")
	order, err := h.coordinator.GetOrderByNumber(r.Context(), number)
	if err != nil {
		respondDomainError(w, log, err)
		return
	}

	links := apt.RESTfulLinksFor(order)
	apt.RespondSuccess(w, order, links...)
}

func (h *Handler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetOrderStatus")
	defer finish()

	log := h.log(r)

	id, ok := h.orderIDParam(w, r)
	if !ok {
		return
	}

	status, err := h.coordinator.OrderStatus(r.Context(), id)
	if err != nil {
		respondDomainError(w, log, err)
		return
	}

	apt.Respond(w, http.StatusOK, status, nil)
}

func (h *Handler) GetOrdersBySession(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetOrdersBySession")
	defer finish()

	log := h.log(r)

	sessionID := chi.URLParam(r, "sessionID")
	orders, err := h.coordinator.OrdersBySession(r.Context(), sessionID)
	if err != nil {
		log.Error("cannot list orders by session", "session_id", sessionID, "error", err)
		respondDomainError(w, log, err)
		return
	}

	apt.RespondCollection(w, orders, "order")
}

type multipleOrdersRequest struct {
	OrderIDs []uuid.UUID `json:"order_ids" validate:"required,min=1"`
}

func (h *Handler) GetMultipleOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetMultipleOrders")
	defer finish()

	log := h.log(r)

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var req multipleOrdersRequest
	if err := json.Unmarshal(body, &req); err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}

	if err := validate.Struct(req); err != nil {
		apt.RespondError(w, http.StatusBadRequest, "order_ids array is required")
		return
	}

	orders, err := h.coordinator.OrdersByIDs(r.Context(), req.OrderIDs)
	if err != nil {
		respondDomainError(w, log, err)
		return
	}

	apt.RespondCollection(w, orders, "order")
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CancelOrder")
	defer finish()

	log := h.log(r)

	id, ok := h.orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.coordinator.CancelOrder(r.Context(), id)
	if err != nil {
		log.Info("cannot cancel order", "order_id", id.String(), "error", err)
		respondDomainError(w, log, err)
		return
	}

	log.Info("order cancelled", "order_id", id.String())
	apt.RespondSuccess(w, order)
}

func (h *Handler) RegeneratePickupCode(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.RegeneratePickupCode")
	defer finish()

	log := h.log(r)

	id, ok := h.orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.coordinator.RegeneratePickupCode(r.Context(), id)
	if err != nil {
		log.Info("cannot regenerate pickup code", "order_id", id.String(), "error", err)
		respondDomainError(w, log, err)
		return
	}

	log.Info("pickup code regenerated", "order_id", id.String())
	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"order_id":               order.ID,
		"order_number":           order.OrderNumber,
		"pickup_code":            order.PickupCode,
		"pickup_code_expires_at": order.PickupCodeExpiresAt,
	}, nil)
}

func (h *Handler) orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "orderID")
	id, err := uuid.Parse(idStr)
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid order ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decodeCreateOrderPayload(w http.ResponseWriter, r *http.Request, log apt.Logger) (CreateOrderRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Debug("failed to read request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return CreateOrderRequest{}, false
	}

	var req CreateOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		log.Debug("failed to decode request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return CreateOrderRequest{}, false
	}

	return req, true
}
