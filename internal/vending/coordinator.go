package vending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/google/uuid"

	"github.com/smartvend/smartvend/pkg"
	"github.com/smartvend/smartvend/pkg/event"
)

// Coordinator owns the order lifecycle: creation, pickup-code issuance,
// payment settlement, and reconciliation of hardware dispense reports. It
// holds no in-process locks around order state; every transition is a
// conditional update at the storage layer, so any number of service instances
// can run concurrently.
type Coordinator struct {
	orders        OrderRepo
	products      ProductRepo
	machines      MachineRepo
	payments      PaymentRepo
	carts         CartRepo
	counters      CounterRepo
	gateway       PaymentGateway
	machineStates *MachineStateCache
	publisher     events.Publisher
	logger        apt.Logger
}

// CoordinatorDeps bundles the coordinator's collaborators.
type CoordinatorDeps struct {
	Orders        OrderRepo
	Products      ProductRepo
	Machines      MachineRepo
	Payments      PaymentRepo
	Carts         CartRepo
	Counters      CounterRepo
	Gateway       PaymentGateway
	MachineStates *MachineStateCache
	Publisher     events.Publisher
}

func NewCoordinator(deps CoordinatorDeps, logger apt.Logger) *Coordinator {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Coordinator{
		orders:        deps.Orders,
		products:      deps.Products,
		machines:      deps.Machines,
		payments:      deps.Payments,
		carts:         deps.Carts,
		counters:      deps.Counters,
		gateway:       deps.Gateway,
		machineStates: deps.MachineStates,
		publisher:     deps.Publisher,
		logger:        logger,
	}
}

// CreateOrderRequest is the inbound shape for order creation. Items are
// optional; when absent the session cart supplies them.
type CreateOrderRequest struct {
	SessionID     string            `json:"session_id" validate:"required"`
	MachineID     string            `json:"machine_id" validate:"required"`
	PaymentMethod string            `json:"payment_method" validate:"required,oneof=card wallet qr_code"`
	Items         []CreateOrderItem `json:"items" validate:"omitempty,dive"`
	CustomerEmail string            `json:"customer_email" validate:"omitempty,email"`
	CustomerPhone string            `json:"customer_phone"`
}

type CreateOrderItem struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1,max=10"`
}

// CreateOrder snapshots the requested items, computes totals, allocates an
// order number and a unique pickup code, and persists the order in pending.
// Stock is checked here but only decremented when hardware confirms a
// dispense.
func (c *Coordinator) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if req.MachineID == "" {
		return nil, Invalid("machine id is required")
	}
	if req.PaymentMethod == "" {
		return nil, Invalid("payment method is required")
	}
	if req.SessionID == "" {
		return nil, Invalid("session id is required")
	}

	available, err := c.machineStates.Ensure(ctx, req.MachineID)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, Unavailable("machine %s is not operational", req.MachineID)
	}

	items, subtotal, err := c.buildOrderItems(ctx, req)
	if err != nil {
		return nil, err
	}

	// Tax rate is frozen at zero for this deployment; totals are computed
	// once here and never recomputed.
	var tax int64
	total := subtotal + tax

	seq, err := c.counters.Next(ctx, "orders")
	if err != nil {
		return nil, fmt.Errorf("cannot allocate order number: %w", err)
	}

	order := NewOrder()
	order.OrderNumber = FormatOrderNumber(seq)
	order.SessionID = req.SessionID
	order.MachineID = req.MachineID
	order.PaymentMethod = req.PaymentMethod
	order.CustomerEmail = req.CustomerEmail
	order.CustomerPhone = req.CustomerPhone
	order.Items = items
	order.Subtotal = subtotal
	order.Tax = tax
	order.Total = total
	order.BeforeCreate()

	err = retryOnDuplicateCode(pickupCodeAttempts, func() error {
		code, allocErr := allocatePickupCode(ctx, c.orders, uuid.Nil)
		if allocErr != nil {
			return allocErr
		}
		expiresAt := order.CreatedAt.Add(PickupCodeTTL)
		order.PickupCode = code
		order.PickupCodeExpiresAt = &expiresAt
		return c.orders.Insert(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	c.publishOrderEvent(ctx, event.EventOrderCreated, order, "")
	return order, nil
}

func (c *Coordinator) buildOrderItems(ctx context.Context, req CreateOrderRequest) ([]OrderItem, int64, error) {
	if len(req.Items) > 0 {
		return c.itemsFromRequest(ctx, req.Items)
	}
	return c.itemsFromCart(ctx, req.SessionID)
}

func (c *Coordinator) itemsFromRequest(ctx context.Context, reqItems []CreateOrderItem) ([]OrderItem, int64, error) {
	var items []OrderItem
	var subtotal int64

	for _, line := range reqItems {
		if line.Quantity < 1 {
			return nil, 0, Invalid("quantity must be at least 1")
		}
		product, err := c.products.FindByID(ctx, line.ProductID)
		if err != nil {
			return nil, 0, fmt.Errorf("cannot load product: %w", err)
		}
		if product == nil {
			return nil, 0, NotFound("product not found: %s", line.ProductID)
		}
		if !product.InStock() {
			return nil, 0, Conflict("product out of stock: %s", product.Name)
		}
		if product.Stock < line.Quantity {
			return nil, 0, Conflict("insufficient stock for %s: only %d available", product.Name, product.Stock)
		}

		itemSubtotal := product.Price * int64(line.Quantity)
		subtotal += itemSubtotal

		items = append(items, OrderItem{
			ProductID:    product.ID,
			ProductName:  product.Name,
			ProductImage: product.Image,
			Quantity:     line.Quantity,
			UnitPrice:    product.Price,
			Subtotal:     itemSubtotal,
			SlotPosition: product.SlotPosition,
		})
	}

	return items, subtotal, nil
}

func (c *Coordinator) itemsFromCart(ctx context.Context, sessionID string) ([]OrderItem, int64, error) {
	cart, err := c.carts.FindBySession(ctx, sessionID)
	if err != nil {
		return nil, 0, fmt.Errorf("cannot load cart: %w", err)
	}
	if cart == nil || len(cart.Items) == 0 {
		return nil, 0, Invalid("cart is empty")
	}

	var items []OrderItem
	var subtotal int64

	for _, line := range cart.Items {
		product, err := c.products.FindByID(ctx, line.ProductID)
		if err != nil {
			return nil, 0, fmt.Errorf("cannot load product: %w", err)
		}
		if product == nil {
			return nil, 0, NotFound("product not found: %s", line.ProductID)
		}
		if !product.InStock() {
			return nil, 0, Conflict("product out of stock: %s", product.Name)
		}
		if product.Stock < line.Quantity {
			return nil, 0, Conflict("insufficient stock for %s", product.Name)
		}

		// Cart lines pin the price seen at add time.
		itemSubtotal := line.PriceAtAdd * int64(line.Quantity)
		subtotal += itemSubtotal

		items = append(items, OrderItem{
			ProductID:    product.ID,
			ProductName:  product.Name,
			ProductImage: product.Image,
			Quantity:     line.Quantity,
			UnitPrice:    line.PriceAtAdd,
			Subtotal:     itemSubtotal,
			SlotPosition: product.SlotPosition,
		})
	}

	return items, subtotal, nil
}

func (c *Coordinator) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	order, err := c.orders.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cannot load order: %w", err)
	}
	if order == nil {
		return nil, NotFound("order not found")
	}
	return order, nil
}

func (c *Coordinator) GetOrderByNumber(ctx context.Context, number string) (*Order, error) {
	order, err := c.orders.FindByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("cannot load order: %w", err)
	}
	if order == nil {
		return nil, NotFound("order not found")
	}
	return order, nil
}

func (c *Coordinator) OrdersBySession(ctx context.Context, sessionID string) ([]*Order, error) {
	if sessionID == "" {
		return nil, Invalid("session id is required")
	}
	return c.orders.ListBySession(ctx, sessionID)
}

// maxBatchLookup caps POST /orders/multiple to keep abusive payloads cheap.
const maxBatchLookup = 50

func (c *Coordinator) OrdersByIDs(ctx context.Context, ids []uuid.UUID) ([]*Order, error) {
	if len(ids) == 0 {
		return nil, Invalid("order ids are required")
	}
	if len(ids) > maxBatchLookup {
		ids = ids[:maxBatchLookup]
	}
	return c.orders.FindByIDs(ctx, ids)
}

// OrderStatusResponse is the persisted status payload. The pickup code fields
// appear only once payment has settled.
type OrderStatusResponse struct {
	OrderID             uuid.UUID        `json:"order_id"`
	OrderNumber         string           `json:"order_number"`
	Status              Status           `json:"status"`
	PaymentStatus       PaymentStatus    `json:"payment_status"`
	DispensingStatus    DispensingStatus `json:"dispensing_status"`
	DispensingProgress  int              `json:"dispensing_progress"`
	Message             string           `json:"message"`
	PickupCode          string           `json:"pickup_code,omitempty"`
	PickupCodeExpiresAt *time.Time       `json:"pickup_code_expires_at,omitempty"`
}

func (c *Coordinator) OrderStatus(ctx context.Context, id uuid.UUID) (*OrderStatusResponse, error) {
	order, err := c.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := &OrderStatusResponse{
		OrderID:            order.ID,
		OrderNumber:        order.OrderNumber,
		Status:             order.Status,
		PaymentStatus:      order.PaymentStatus,
		DispensingStatus:   order.DispensingStatus,
		DispensingProgress: order.DispensingProgress,
		Message:            StatusMessage(order.Status),
	}

	if order.PaymentStatus == PaymentPaid {
		resp.PickupCode = order.PickupCode
		resp.PickupCodeExpiresAt = order.PickupCodeExpiresAt
	}

	return resp, nil
}

// CancelOrder cancels a pending order. This is the only backward exit in the
// lifecycle; once payment succeeds the refund path applies instead.
func (c *Coordinator) CancelOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	order, err := c.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	err = c.transition(ctx, id, StatusPending, StatusCancelled, StatusPatch{})
	if errors.Is(err, ErrStaleStatus) {
		return nil, Conflict("cannot cancel order in current status")
	}
	if err != nil {
		return nil, fmt.Errorf("cannot cancel order: %w", err)
	}

	order.Status = StatusCancelled
	c.publishOrderEvent(ctx, event.EventOrderCancelled, order, "")
	return order, nil
}

// RegeneratePickupCode replaces the code on a paid, not-yet-dispensed order
// and re-arms the 24-hour expiry window. The old code stops verifying as soon
// as the write lands.
func (c *Coordinator) RegeneratePickupCode(ctx context.Context, id uuid.UUID) (*Order, error) {
	order, err := c.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if order.PaymentStatus != PaymentPaid {
		return nil, Conflict("order must be paid to regenerate code")
	}
	if order.DispensingStatus == DispensingCompleted || order.Status == StatusCompleted {
		return nil, Conflict("order has already been dispensed")
	}

	var code string
	var expiresAt time.Time
	err = retryOnDuplicateCode(pickupCodeAttempts, func() error {
		var allocErr error
		code, allocErr = allocatePickupCode(ctx, c.orders, order.ID)
		if allocErr != nil {
			return allocErr
		}
		expiresAt = time.Now().Add(PickupCodeTTL)
		return c.orders.SetPickupCode(ctx, order.ID, code, expiresAt)
	})
	if err != nil {
		return nil, err
	}

	order.PickupCode = code
	order.PickupCodeExpiresAt = &expiresAt
	return order, nil
}

// transition is the single gate for order status mutations. It consults the
// lifecycle graph before issuing the conditional update, so an edge missing
// from allowedTransitions can never reach storage.
func (c *Coordinator) transition(ctx context.Context, id uuid.UUID, from, to Status, patch StatusPatch) error {
	if !CanTransition(from, to) {
		return Conflict("order cannot move from %s to %s", from, to)
	}
	return c.orders.ConditionalUpdateStatus(ctx, id, from, to, patch)
}

func (c *Coordinator) publishOrderEvent(ctx context.Context, eventType string, o *Order, reason string) {
	if c.publisher == nil {
		return
	}

	payload, err := json.Marshal(event.OrderLifecycleEvent{
		EventType:   eventType,
		OccurredAt:  time.Now(),
		OrderID:     o.ID.String(),
		OrderNumber: o.OrderNumber,
		MachineID:   o.MachineID,
		SessionID:   o.SessionID,
		Status:      string(o.Status),
		Total:       o.Total,
		Reason:      reason,
	})
	if err != nil {
		c.logger.Errorf("cannot marshal order event: %v", err)
		return
	}

	// Best effort: lifecycle events never fail the originating request.
	if err := c.publisher.Publish(ctx, event.OrderLifecycleTopic, payload); err != nil {
		c.logger.Error("cannot publish order event", "event", eventType, "order_id", o.ID.String(), "error", err)
	}
}

func (c *Coordinator) publishMachineEvent(ctx context.Context, m *Machine) {
	if c.publisher == nil {
		return
	}

	payload, err := json.Marshal(pkg.MachineStatusEvent{
		EventType:     pkg.EventMachineHealth,
		MachineID:     m.MachineID,
		Status:        string(m.Status),
		IsOperational: m.IsOperational,
		Temperature:   m.Temperature.Current,
		ErrorCount:    len(m.ActiveFaults()),
		Source:        "hardware",
		OccurredAt:    time.Now(),
	})
	if err != nil {
		c.logger.Errorf("cannot marshal machine event: %v", err)
		return
	}

	if err := c.publisher.Publish(ctx, pkg.MachineStatusTopic, payload); err != nil {
		c.logger.Error("cannot publish machine event", "machine_id", m.MachineID, "error", err)
	}
}
