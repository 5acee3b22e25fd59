package vending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smartvend/smartvend/pkg/event"
)

// ProcessPaymentRequest confirms a capture initiated by the client right
// after intent creation.
type ProcessPaymentRequest struct {
	OrderID         uuid.UUID `json:"order_id" validate:"required"`
	PaymentIntentID string    `json:"payment_intent_id"`
	PaymentMethod   string    `json:"payment_method" validate:"omitempty,oneof=card wallet qr_code"`
}

// PaymentReceipt is what both payment paths hand back to the client.
type PaymentReceipt struct {
	OrderID             uuid.UUID  `json:"order_id"`
	OrderNumber         string     `json:"order_number"`
	PaymentStatus       string     `json:"payment_status"`
	TransactionID       string     `json:"transaction_id"`
	Amount              int64      `json:"amount"`
	PaidAt              *time.Time `json:"paid_at,omitempty"`
	PickupCode          string     `json:"pickup_code,omitempty"`
	PickupCodeExpiresAt *time.Time `json:"pickup_code_expires_at,omitempty"`
}

// CreatePaymentIntent asks the gateway for a capture handle on an unpaid
// order.
func (c *Coordinator) CreatePaymentIntent(ctx context.Context, orderID uuid.UUID) (*Intent, error) {
	order, err := c.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == PaymentPaid {
		return nil, Conflict("order already paid")
	}

	intent, err := c.gateway.CreateIntent(ctx, order.ID, order.Total, "usd")
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// ProcessPayment settles an order from the synchronous client path. The
// pending->paid conditional update is the idempotence gate: whichever of this
// call and the gateway webhook lands first wins; the loser sees a conflict
// and mutates nothing, so there is never a second payment record, stock
// decrement, or cart clear.
func (c *Coordinator) ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (*PaymentReceipt, error) {
	order, err := c.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == PaymentPaid {
		return nil, Conflict("order already paid")
	}

	method := req.PaymentMethod
	if method == "" {
		method = order.PaymentMethod
	}

	now := time.Now()
	payment := NewPayment(order.ID, order.Total, "USD", method)
	payment.PaymentIntentID = req.PaymentIntentID
	payment.MarkSucceeded(newTransactionID(), now)
	payment.BeforeCreate()

	if err := c.settleOrder(ctx, order, payment, now); err != nil {
		return nil, err
	}

	return &PaymentReceipt{
		OrderID:             order.ID,
		OrderNumber:         order.OrderNumber,
		PaymentStatus:       string(PaymentPaid),
		TransactionID:       payment.TransactionID,
		Amount:              payment.Amount,
		PaidAt:              payment.PaidAt,
		PickupCode:          order.PickupCode,
		PickupCodeExpiresAt: order.PickupCodeExpiresAt,
	}, nil
}

// settleOrder flips order to paid (CAS gate), persists the payment record,
// and clears the session cart. Cart clearing is a side effect of payment
// success, never of order creation, so a failed payment leaves the cart
// intact for retry.
func (c *Coordinator) settleOrder(ctx context.Context, order *Order, payment *Payment, now time.Time) error {
	paid := PaymentPaid
	patch := StatusPatch{
		PaymentStatus: &paid,
		PaymentID:     &payment.ID,
	}
	if order.PickupCodeExpiresAt == nil {
		expiresAt := now.Add(PickupCodeTTL)
		patch.PickupCodeExpiresAt = &expiresAt
	}

	err := c.transition(ctx, order.ID, StatusPending, StatusPaid, patch)
	if errors.Is(err, ErrStaleStatus) {
		return Conflict("order already paid")
	}
	if err != nil {
		return fmt.Errorf("cannot mark order paid: %w", err)
	}

	order.Status = StatusPaid
	order.PaymentStatus = PaymentPaid
	order.PaymentID = &payment.ID
	if patch.PickupCodeExpiresAt != nil {
		order.PickupCodeExpiresAt = patch.PickupCodeExpiresAt
	}

	if err := c.payments.Create(ctx, payment); err != nil {
		// The order is already paid; a missing record is an audit gap, not a
		// reason to fail the customer.
		c.logger.Error("cannot persist payment record", "order_id", order.ID.String(), "error", err)
	}

	if err := c.carts.DeleteBySession(ctx, order.SessionID); err != nil {
		c.logger.Error("cannot clear cart after payment", "session_id", order.SessionID, "error", err)
	}

	c.publishOrderEvent(ctx, event.EventOrderPaid, order, "")
	return nil
}

// HandleGatewayEvent applies a webhook callback. Deliveries are at-least-once
// and unordered; every outcome funnels through the same conditional update
// the synchronous path uses, so duplicates and races resolve to no-ops.
func (c *Coordinator) HandleGatewayEvent(ctx context.Context, payload []byte, signature string) error {
	evt, err := c.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		return err
	}

	switch evt.Type {
	case WebhookPaymentSucceeded:
		return c.applyGatewaySuccess(ctx, evt)
	case WebhookPaymentFailed:
		return c.applyGatewayFailure(ctx, evt)
	default:
		c.logger.Info("unhandled gateway event type", "type", evt.Type)
		return nil
	}
}

func (c *Coordinator) applyGatewaySuccess(ctx context.Context, evt *WebhookEvent) error {
	orderID, err := uuid.Parse(evt.OrderID)
	if err != nil {
		c.logger.Info("gateway event without valid order id", "intent_id", evt.IntentID)
		return nil
	}

	order, err := c.orders.FindByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("cannot load order for gateway event: %w", err)
	}
	if order == nil {
		c.logger.Info("gateway event for unknown order", "order_id", evt.OrderID)
		return nil
	}

	now := time.Now()
	payment := NewPayment(order.ID, order.Total, "USD", order.PaymentMethod)
	payment.PaymentIntentID = evt.IntentID
	transactionID := evt.TransactionID
	if transactionID == "" {
		transactionID = newTransactionID()
	}
	payment.MarkSucceeded(transactionID, now)
	payment.BeforeCreate()

	err = c.settleOrder(ctx, order, payment, now)
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		// Duplicate delivery or the synchronous path won; already settled.
		return nil
	}
	return err
}

func (c *Coordinator) applyGatewayFailure(ctx context.Context, evt *WebhookEvent) error {
	orderID, err := uuid.Parse(evt.OrderID)
	if err != nil {
		c.logger.Info("gateway event without valid order id", "intent_id", evt.IntentID)
		return nil
	}

	order, err := c.orders.FindByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("cannot load order for gateway event: %w", err)
	}
	if order == nil {
		return nil
	}

	failed := PaymentFailed
	reason := evt.FailureMessage
	if reason == "" {
		reason = "payment failed"
	}
	patch := StatusPatch{
		PaymentStatus: &failed,
		FailureReason: &reason,
	}

	err = c.transition(ctx, order.ID, StatusPending, StatusFailed, patch)
	if errors.Is(err, ErrStaleStatus) {
		// Order already settled or failed; nothing to undo.
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot mark order failed: %w", err)
	}

	if evt.IntentID != "" {
		if err := c.payments.MarkOutcome(ctx, evt.IntentID, PaymentRecordFailed, evt.FailureCode, evt.FailureMessage, nil); err != nil {
			c.logger.Error("cannot record payment failure", "intent_id", evt.IntentID, "error", err)
		}
	}

	order.Status = StatusFailed
	order.PaymentStatus = PaymentFailed
	order.FailureReason = reason
	c.publishOrderEvent(ctx, event.EventOrderPaymentFailed, order, reason)
	return nil
}

// PaymentStatusInfo is the payment-status query payload.
type PaymentStatusInfo struct {
	OrderID       uuid.UUID  `json:"order_id"`
	PaymentStatus string     `json:"payment_status"`
	TransactionID string     `json:"transaction_id,omitempty"`
	Amount        int64      `json:"amount"`
	Method        string     `json:"method,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

func (c *Coordinator) PaymentStatus(ctx context.Context, orderID uuid.UUID) (*PaymentStatusInfo, error) {
	order, err := c.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	payment, err := c.payments.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("cannot load payment: %w", err)
	}

	info := &PaymentStatusInfo{
		OrderID:       orderID,
		PaymentStatus: string(order.PaymentStatus),
		Amount:        order.Total,
		Method:        order.PaymentMethod,
	}
	if payment != nil {
		info.PaymentStatus = string(payment.Status)
		info.TransactionID = payment.TransactionID
		info.Amount = payment.Amount
		info.Method = payment.Method
		info.PaidAt = payment.PaidAt
	}
	return info, nil
}

// Refund reverses a settled, not-yet-dispensed order. It requires a payment
// record that actually succeeded; the paid->refunded conditional update
// rejects orders that have started dispensing.
func (c *Coordinator) Refund(ctx context.Context, orderID uuid.UUID, reason string) (*Order, error) {
	order, err := c.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	payment, err := c.payments.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("cannot load payment: %w", err)
	}
	if payment == nil || payment.Status != PaymentRecordSucceeded {
		return nil, Conflict("no successful payment found for this order")
	}

	refunded := PaymentRefunded
	patch := StatusPatch{PaymentStatus: &refunded}

	err = c.transition(ctx, orderID, StatusPaid, StatusRefunded, patch)
	if errors.Is(err, ErrStaleStatus) {
		return nil, Conflict("order cannot be refunded in current status")
	}
	if err != nil {
		return nil, fmt.Errorf("cannot refund order: %w", err)
	}

	now := time.Now()
	if err := c.payments.MarkRefunded(ctx, payment.ID, payment.Amount, reason, now); err != nil {
		c.logger.Error("cannot mark payment refunded", "payment_id", payment.ID.String(), "error", err)
	}

	order.Status = StatusRefunded
	order.PaymentStatus = PaymentRefunded
	c.publishOrderEvent(ctx, event.EventOrderRefunded, order, reason)
	return order, nil
}

func newTransactionID() string {
	return fmt.Sprintf("txn_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
