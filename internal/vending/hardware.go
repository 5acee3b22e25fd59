package vending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smartvend/smartvend/pkg/event"
)

// VerifyPickupCode resolves a code typed at a machine into the paid order it
// authorizes. An expired code is a distinct error from an unknown one: the
// customer's recovery is to request a new code, not to re-type.
func (c *Coordinator) VerifyPickupCode(ctx context.Context, machineID, code string) (*Order, error) {
	if code == "" {
		return nil, Invalid("pickup code is required")
	}
	if machineID == "" {
		return nil, Invalid("machine id is required")
	}

	order, err := c.orders.FindActivePickup(ctx, machineID, code)
	if err != nil {
		return nil, fmt.Errorf("cannot verify pickup code: %w", err)
	}
	if order == nil {
		return nil, NotFound("invalid or expired pickup code")
	}

	if !order.PickupCodeValidAt(time.Now()) {
		return nil, ErrPickupCodeExpired
	}

	return order, nil
}

// TriggerDispense issues the one-shot dispense command. The paid->dispensing
// conditional update makes it one-shot: a second trigger, or a trigger on an
// unpaid order, hits a status mismatch and is rejected before any hardware
// command could duplicate.
func (c *Coordinator) TriggerDispense(ctx context.Context, machineID string, orderID uuid.UUID) (*Order, error) {
	order, err := c.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.MachineID != machineID {
		return nil, Invalid("order does not belong to this machine")
	}

	inProgress := DispensingInProgress
	dispensingID := DispensingID()
	progress := 0
	patch := StatusPatch{
		DispensingStatus:   &inProgress,
		DispensingID:       &dispensingID,
		DispensingProgress: &progress,
	}

	err = c.transition(ctx, orderID, StatusPaid, StatusDispensing, patch)
	if errors.Is(err, ErrStaleStatus) {
		return nil, Conflict("order must be paid before dispensing")
	}
	if err != nil {
		return nil, fmt.Errorf("cannot trigger dispense: %w", err)
	}

	order.Status = StatusDispensing
	order.DispensingStatus = DispensingInProgress
	order.DispensingID = dispensingID
	order.DispensingProgress = 0

	c.publishOrderEvent(ctx, event.EventOrderDispensing, order, "")
	return order, nil
}

// DispensedItem is one per-slot result inside a hardware status report.
type DispensedItem struct {
	SlotPosition string `json:"slot_position" validate:"required"`
	Success      bool   `json:"success"`
}

// DispenseReport is a hardware status update for an in-flight dispense.
// Delivery is at-least-once and unordered, and item lists may be partial.
type DispenseReport struct {
	MachineID      string           `json:"machine_id" validate:"required"`
	OrderID        uuid.UUID        `json:"order_id" validate:"required"`
	DispensingID   string           `json:"dispensing_id"`
	Status         DispensingStatus `json:"status" validate:"required,oneof=pending in_progress completed failed partial"`
	Progress       *int             `json:"progress" validate:"omitempty,min=0,max=100"`
	ItemsDispensed []DispensedItem  `json:"items_dispensed" validate:"omitempty,dive"`
	FailureReason  string           `json:"failure_reason"`
}

// ApplyDispenseReport reconciles a hardware report into the order. Per-item
// results apply first (each at most once), then a terminal top-level status
// finalizes the order through the usual conditional update, so duplicate
// final reports cannot double-bump machine counters or stock.
//
// A top-level completed report is authoritative even when some items never
// individually confirmed: the order completes, and the unconfirmed items keep
// Dispensed=false so the reconciliation gap stays visible in the record.
func (c *Coordinator) ApplyDispenseReport(ctx context.Context, report DispenseReport) (*Order, error) {
	order, err := c.GetOrder(ctx, report.OrderID)
	if err != nil {
		return nil, err
	}
	if order.MachineID != report.MachineID {
		return nil, Invalid("order does not belong to this machine")
	}

	c.applyItemResults(ctx, order, report.ItemsDispensed)

	switch report.Status {
	case DispensingCompleted:
		return c.finalizeDispense(ctx, order)
	case DispensingFailed:
		return c.failDispense(ctx, order, report.FailureReason)
	default:
		progress := order.DispensingProgress
		if report.Progress != nil {
			progress = *report.Progress
		}
		if err := c.orders.UpdateDispensing(ctx, order.ID, report.Status, progress); err != nil {
			return nil, fmt.Errorf("cannot update dispense progress: %w", err)
		}
		order.DispensingStatus = report.Status
		order.DispensingProgress = progress
		return order, nil
	}
}

// applyItemResults flags successfully dispensed items and adjusts stock.
// MarkItemDispensed is a once-only flip, so replayed reports skip the stock
// mutations; stock moves by atomic decrements only, never overwrites.
func (c *Coordinator) applyItemResults(ctx context.Context, order *Order, results []DispensedItem) {
	now := time.Now()

	for _, result := range results {
		if !result.Success {
			continue
		}

		item := order.ItemBySlot(result.SlotPosition)
		if item == nil {
			c.logger.Info("dispense report for unknown slot", "order_id", order.ID.String(), "slot", result.SlotPosition)
			continue
		}

		first, err := c.orders.MarkItemDispensed(ctx, order.ID, result.SlotPosition, now)
		if err != nil {
			c.logger.Error("cannot mark item dispensed", "order_id", order.ID.String(), "slot", result.SlotPosition, "error", err)
			continue
		}
		if !first {
			continue
		}

		item.Dispensed = true
		item.DispensedAt = &now

		if err := c.products.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			// The unit physically left the machine; a stock floor here means
			// the catalog count had already drifted.
			c.logger.Error("cannot decrement product stock", "product_id", item.ProductID.String(), "error", err)
		}

		if err := c.machines.RecordSlotDispense(ctx, order.MachineID, result.SlotPosition, item.Quantity, now); err != nil {
			c.logger.Error("cannot record slot dispense", "machine_id", order.MachineID, "slot", result.SlotPosition, "error", err)
		}
	}
}

func (c *Coordinator) finalizeDispense(ctx context.Context, order *Order) (*Order, error) {
	now := time.Now()
	completed := DispensingCompleted
	progress := 100
	patch := StatusPatch{
		DispensingStatus:   &completed,
		DispensingProgress: &progress,
		CompletedAt:        &now,
	}

	err := c.transition(ctx, order.ID, StatusDispensing, StatusCompleted, patch)
	if errors.Is(err, ErrStaleStatus) {
		// Replayed final report; the first delivery already finalized and
		// bumped the machine counters.
		return c.GetOrder(ctx, order.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot complete order: %w", err)
	}

	if err := c.machines.RecordDispense(ctx, order.MachineID, order.Total); err != nil {
		c.logger.Error("cannot update machine counters", "machine_id", order.MachineID, "error", err)
	}

	order.Status = StatusCompleted
	order.DispensingStatus = DispensingCompleted
	order.DispensingProgress = 100
	order.CompletedAt = &now

	c.publishOrderEvent(ctx, event.EventOrderCompleted, order, "")
	return order, nil
}

func (c *Coordinator) failDispense(ctx context.Context, order *Order, reason string) (*Order, error) {
	if reason == "" {
		reason = "Dispensing failed"
	}
	failed := DispensingFailed
	patch := StatusPatch{
		DispensingStatus: &failed,
		FailureReason:    &reason,
	}

	err := c.transition(ctx, order.ID, StatusDispensing, StatusFailed, patch)
	if errors.Is(err, ErrStaleStatus) {
		// Either a replay or the failure arrived before the trigger landed;
		// a paid order that never started dispensing can still fail.
		err = c.transition(ctx, order.ID, StatusPaid, StatusFailed, patch)
		if errors.Is(err, ErrStaleStatus) {
			return c.GetOrder(ctx, order.ID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("cannot fail order: %w", err)
	}

	order.Status = StatusFailed
	order.DispensingStatus = DispensingFailed
	order.FailureReason = reason

	c.publishOrderEvent(ctx, event.EventOrderFailed, order, reason)
	return order, nil
}

// PendingOrders is the dispense work-queue view hardware polls: paid or
// dispensing orders for one machine whose payment has settled.
func (c *Coordinator) PendingOrders(ctx context.Context, machineID string) ([]*Order, error) {
	if machineID == "" {
		return nil, Invalid("machine id is required")
	}
	return c.orders.FindByMachineAndStatus(ctx, machineID, []Status{StatusPaid, StatusDispensing})
}

// HealthReportRequest is an out-of-band machine-state report from hardware.
type HealthReportRequest struct {
	MachineID   string             `json:"machine_id" validate:"required"`
	Status      MachineStatus      `json:"status" validate:"omitempty,oneof=online offline maintenance error"`
	Temperature *float64           `json:"temperature"`
	Errors      []HardwareFault    `json:"errors" validate:"omitempty,dive"`
	Inventory   []SlotStockReading `json:"inventory" validate:"omitempty,dive"`
}

type HardwareFault struct {
	Code    string `json:"code" validate:"required"`
	Message string `json:"message"`
}

type SlotStockReading struct {
	SlotPosition string `json:"slot_position" validate:"required"`
	Stock        int    `json:"stock" validate:"min=0"`
}

// ReportHealth applies a hardware health report: operational status,
// heartbeat, temperature, new fault-log entries, and authoritative slot
// stock counts. It touches no order state.
func (c *Coordinator) ReportHealth(ctx context.Context, req HealthReportRequest) (*Machine, error) {
	now := time.Now()

	report := HealthReport{
		Status:      req.Status,
		Temperature: req.Temperature,
		ReportedAt:  now,
	}
	for _, fault := range req.Errors {
		report.Faults = append(report.Faults, MachineFault{
			Code:      fault.Code,
			Message:   fault.Message,
			Timestamp: now,
		})
	}
	if len(req.Inventory) > 0 {
		report.SlotStock = make(map[string]int, len(req.Inventory))
		for _, reading := range req.Inventory {
			report.SlotStock[reading.SlotPosition] = reading.Stock
		}
	}

	machine, err := c.machines.ApplyHealth(ctx, req.MachineID, report)
	if err != nil {
		return nil, err
	}
	if machine == nil {
		return nil, NotFound("machine not found: %s", req.MachineID)
	}

	if c.machineStates != nil {
		c.machineStates.Set(machine.MachineID, machine.Status, machine.IsOperational)
	}
	c.publishMachineEvent(ctx, machine)
	return machine, nil
}

// MachineStatus reads one machine's current operational state.
func (c *Coordinator) MachineStatus(ctx context.Context, machineID string) (*Machine, error) {
	if machineID == "" {
		return nil, Invalid("machine id is required")
	}

	machine, err := c.machines.FindByMachineID(ctx, machineID)
	if err != nil {
		return nil, err
	}
	if machine == nil {
		return nil, NotFound("machine not found: %s", machineID)
	}
	return machine, nil
}

// RestockRequest updates slot contents after a physical restock.
type RestockRequest struct {
	MachineID string             `json:"machine_id" validate:"required"`
	Slots     []RestockSlotInput `json:"slots" validate:"required,min=1,dive"`
}

type RestockSlotInput struct {
	Position    string     `json:"position" validate:"required"`
	ProductID   *uuid.UUID `json:"product_id"`
	Stock       int        `json:"stock" validate:"min=0"`
	MaxCapacity int        `json:"max_capacity" validate:"omitempty,min=1"`
}

// ApplyRestock records restocked slots on the machine and realigns catalog
// stock with what is physically loaded. Restock is the one flow allowed to
// overwrite stock: the technician's count is authoritative.
func (c *Coordinator) ApplyRestock(ctx context.Context, req RestockRequest) (*Machine, error) {
	now := time.Now()

	slots := make([]RestockSlot, 0, len(req.Slots))
	for _, s := range req.Slots {
		slots = append(slots, RestockSlot{
			Position:    s.Position,
			ProductID:   s.ProductID,
			Stock:       s.Stock,
			MaxCapacity: s.MaxCapacity,
		})
	}

	machine, err := c.machines.Restock(ctx, req.MachineID, slots, now)
	if err != nil {
		return nil, err
	}
	if machine == nil {
		return nil, NotFound("machine not found: %s", req.MachineID)
	}

	for _, s := range req.Slots {
		if s.ProductID == nil {
			continue
		}
		if err := c.products.SetStock(ctx, *s.ProductID, s.Stock, s.Position, req.MachineID); err != nil {
			c.logger.Error("cannot realign product stock", "product_id", s.ProductID.String(), "error", err)
		}
	}

	return machine, nil
}
