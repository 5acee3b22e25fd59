package event

import "time"

const (
	OrderLifecycleTopic = "orders.lifecycle"

	EventOrderCreated       = "order.created"
	EventOrderPaid          = "order.paid"
	EventOrderPaymentFailed = "order.payment_failed"
	EventOrderCancelled     = "order.cancelled"
	EventOrderDispensing    = "order.dispensing"
	EventOrderCompleted     = "order.completed"
	EventOrderFailed        = "order.failed"
	EventOrderRefunded      = "order.refunded"
)

// OrderLifecycleEvent is published on every order status transition. Consumers
// (receipts, notifications, reporting) treat delivery as at-least-once.
type OrderLifecycleEvent struct {
	EventType   string    `json:"event_type"`
	OccurredAt  time.Time `json:"occurred_at"`
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	MachineID   string    `json:"machine_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Status      string    `json:"status"`
	Total       int64     `json:"total"`
	Reason      string    `json:"reason,omitempty"`
}
