package vending

import (
	"errors"
	"net/http"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// HardwareHandler is the machine-facing surface: code verification, dispense
// control, status reporting, and out-of-band machine state updates.
type HardwareHandler struct {
	coordinator *Coordinator
	logger      apt.Logger
	config      *apt.Config
	tlm         *telemetry.HTTP
}

func NewHardwareHandler(coordinator *Coordinator, config *apt.Config, logger apt.Logger) *HardwareHandler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &HardwareHandler{
		coordinator: coordinator,
		logger:      logger,
		config:      config,
		tlm:         telemetry.NewHTTP(),
	}
}

func (h *HardwareHandler) RegisterRoutes(r chi.Router) {
	r.Route("/hardware", func(r chi.Router) {
		r.Post("/verify-code", h.VerifyPickupCode)
		r.Post("/dispense", h.TriggerDispense)
		r.Post("/dispense/status", h.UpdateDispenseStatus)
		r.Post("/health", h.ReportHealth)
		r.Put("/inventory", h.UpdateInventory)
		r.Get("/{machineId}/pending-orders", h.GetPendingOrders)
	})

	r.Route("/machine", func(r chi.Router) {
		r.Get("/{machineId}/status", h.GetMachineStatus)
	})
}

func (h *HardwareHandler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", apt.RequestIDFrom(r.Context()))
}

type verifyCodePayload struct {
	MachineID  string `json:"machine_id" validate:"required"`
	PickupCode string `json:"pickup_code" validate:"required,len=6,numeric"`
}

// verifiedOrderItem is the per-slot view hardware needs to plan a dispense.
type verifiedOrderItem struct {
	ProductID    uuid.UUID `json:"product_id"`
	ProductName  string    `json:"product_name"`
	SlotPosition string    `json:"slot_position"`
	Quantity     int       `json:"quantity"`
	Dispensed    bool      `json:"dispensed"`
}

func (h *HardwareHandler) VerifyPickupCode(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "HardwareHandler.VerifyPickupCode")
	defer finish()

	log := h.log(r)

	var req verifyCodePayload
	if !decodeJSON(w, r, log, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		apt.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.coordinator.VerifyPickupCode(r.Context(), req.MachineID, req.PickupCode)
	if err != nil {
		if errors.Is(err, ErrPickupCodeExpired) {
			log.Info("expired pickup code", "machine_id", req.MachineID)
			apt.RespondError(w, http.StatusBadRequest, "Pickup code has expired")
			return
		}
		log.Info("pickup code rejected", "machine_id", req.MachineID, "error", err)
		respondDomainError(w, log, err)
		return
	}

	items := make([]verifiedOrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, verifiedOrderItem{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			SlotPosition: item.SlotPosition,
			Quantity:     item.Quantity,
			Dispensed:    item.Dispensed,
		})
	}

	log.Info("pickup code verified", "machine_id", req.MachineID, "order_id", order.ID.String())
	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"items":        items,
		"total_items":  order.TotalQuantity(),
	}, nil)
}

type triggerDispensePayload struct {
	MachineID string    `json:"machine_id" validate:"required"`
	OrderID   uuid.UUID `json:"order_id" validate:"required"`
}

func (h *HardwareHandler) TriggerDispense(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "HardwareHandler.TriggerDispense")
	defer finish()

	log := h.log(r)

	var req triggerDispensePayload
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

	order, err := h.coordinator.TriggerDispense(r.Context(), req.MachineID, req.OrderID)
	if err != nil {
		log.Info("cannot trigger dispense", "order_id", req.OrderID.String(), "error", err)
		respondDomainError(w, log, err)
		return
	}

	log.Info("dispense triggered", "order_id", order.ID.String(), "dispensing_id", order.DispensingID)
	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"order_id":      order.ID,
		"order_number":  order.OrderNumber,
		"dispensing_id": order.DispensingID,
		"status":        "initiated",
		"items":         order.Items,
	}, nil)
}

func (h *HardwareHandler) UpdateDispenseStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "HardwareHandler.UpdateDispenseStatus")
	defer finish()

	log := h.log(r)

	var report DispenseReport
	if !decodeJSON(w, r, log, &report) {
		return
	}
	if report.OrderID == uuid.Nil {
		apt.RespondError(w, http.StatusBadRequest, "order_id is required")
		return
	}
	if err := validate.Struct(report); err != nil {
		apt.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.coordinator.ApplyDispenseReport(r.Context(), report)
	if err != nil {
		log.Info("cannot apply dispense report", "order_id", report.OrderID.String(), "error", err)
		respondDomainError(w, log, err)
		return
	}

	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"order_id":            order.ID,
		"status":              order.Status,
		"dispensing_status":   order.DispensingStatus,
		"dispensing_progress": order.DispensingProgress,
	}, nil)
}

func (h *HardwareHandler) ReportHealth(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "HardwareHandler.ReportHealth")
	defer finish()

	log := h.log(r)

	var req HealthReportRequest
	if !decodeJSON(w, r, log, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		apt.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	machine, err := h.coordinator.ReportHealth(r.Context(), req)
	if err != nil {
		log.Info("cannot apply health report", "machine_id", req.MachineID, "error", err)
		respondDomainError(w, log, err)
		return
	}

	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"machine_id":     machine.MachineID,
		"status":         machine.Status,
		"last_heartbeat": machine.LastHeartbeat,
	}, nil)
}

func (h *HardwareHandler) UpdateInventory(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "HardwareHandler.UpdateInventory")
	defer finish()

	log := h.log(r)

	var req RestockRequest
	if !decodeJSON(w, r, log, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		apt.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	machine, err := h.coordinator.ApplyRestock(r.Context(), req)
	if err != nil {
		log.Info("cannot apply restock", "machine_id", req.MachineID, "error", err)
		respondDomainError(w, log, err)
		return
	}

	log.Info("machine restocked", "machine_id", machine.MachineID)
	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"machine_id":     machine.MachineID,
		"last_restocked": machine.LastRestocked,
		"slots":          machine.Slots,
	}, nil)
}

func (h *HardwareHandler) GetPendingOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "HardwareHandler.GetPendingOrders")
	defer finish()

	log := h.log(r)

	machineID := chi.URLParam(r, "machineId")
	orders, err := h.coordinator.PendingOrders(r.Context(), machineID)
	if err != nil {
		respondDomainError(w, log, err)
		return
	}

	apt.RespondCollection(w, orders, "order")
}

func (h *HardwareHandler) GetMachineStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "HardwareHandler.GetMachineStatus")
	defer finish()

	log := h.log(r)

	machineID := chi.URLParam(r, "machineId")
	machine, err := h.coordinator.MachineStatus(r.Context(), machineID)
	if err != nil {
		respondDomainError(w, log, err)
		return
	}

	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"machine_id":     machine.MachineID,
		"status":         machine.Status,
		"is_operational": machine.IsOperational,
		"last_heartbeat": machine.LastHeartbeat,
		"errors":         machine.ActiveFaults(),
	}, nil)
}
