package vending

import (
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
)

// PaymentState is the state of a payment record, which evolves independently
// of the order it settles.
type PaymentState string

const (
	PaymentRecordPending    PaymentState = "pending"
	PaymentRecordProcessing PaymentState = "processing"
	PaymentRecordSucceeded  PaymentState = "succeeded"
	PaymentRecordFailed     PaymentState = "failed"
	PaymentRecordRefunded   PaymentState = "refunded"
	PaymentRecordCancelled  PaymentState = "cancelled"
)

// Payment is the capture record attached to an order when a payment path
// succeeds. At most one payment per order ever reaches succeeded; the
// pending->paid conditional update on the order is the gate.
type Payment struct {
	ID              uuid.UUID    `json:"id" bson:"_id"`
	OrderID         uuid.UUID    `json:"order_id" bson:"order_id"`
	TransactionID   string       `json:"transaction_id,omitempty" bson:"transaction_id,omitempty"`
	PaymentIntentID string       `json:"payment_intent_id,omitempty" bson:"payment_intent_id,omitempty"`
	Amount          int64        `json:"amount" bson:"amount"`
	Currency        string       `json:"currency" bson:"currency"`
	Method          string       `json:"method" bson:"method"`
	Status          PaymentState `json:"status" bson:"status"`

	FailureCode    string `json:"failure_code,omitempty" bson:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty" bson:"failure_message,omitempty"`

	RefundedAmount int64      `json:"refunded_amount" bson:"refunded_amount"`
	RefundReason   string     `json:"refund_reason,omitempty" bson:"refund_reason,omitempty"`
	RefundedAt     *time.Time `json:"refunded_at,omitempty" bson:"refunded_at,omitempty"`

	PaidAt    *time.Time `json:"paid_at,omitempty" bson:"paid_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at"`
}

func (p *Payment) GetID() uuid.UUID {
	return p.ID
}

func (p *Payment) ResourceType() string {
	return "payment"
}

func (p *Payment) SetID(id uuid.UUID) {
	p.ID = id
}

func NewPayment(orderID uuid.UUID, amount int64, currency, method string) *Payment {
	return &Payment{
		ID:       apt.GenerateNewID(),
		OrderID:  orderID,
		Amount:   amount,
		Currency: currency,
		Method:   method,
		Status:   PaymentRecordPending,
	}
}

func (p *Payment) BeforeCreate() {
	if p.ID == uuid.Nil {
		p.ID = apt.GenerateNewID()
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
}

func (p *Payment) MarkSucceeded(transactionID string, at time.Time) {
	p.TransactionID = transactionID
	p.Status = PaymentRecordSucceeded
	p.PaidAt = &at
	p.UpdatedAt = at
}
