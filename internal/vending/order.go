package vending

import (
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
)

// PickupCodeTTL is how long a pickup code stays valid after allocation or
// regeneration.
const PickupCodeTTL = 24 * time.Hour

// OrderNumberBase offsets the sequential counter so customer-facing order
// numbers never look like row counts.
const OrderNumberBase = 80000

// OrderItem is an immutable snapshot of a product at order-creation time.
// Later catalog price or name edits never change what the customer bought.
type OrderItem struct {
	ProductID    uuid.UUID  `json:"product_id" bson:"product_id"`
	ProductName  string     `json:"product_name" bson:"product_name"`
	ProductImage string     `json:"product_image,omitempty" bson:"product_image,omitempty"`
	Quantity     int        `json:"quantity" bson:"quantity"`
	UnitPrice    int64      `json:"unit_price" bson:"unit_price"`
	Subtotal     int64      `json:"subtotal" bson:"subtotal"`
	SlotPosition string     `json:"slot_position" bson:"slot_position"`
	Dispensed    bool       `json:"dispensed" bson:"dispensed"`
	DispensedAt  *time.Time `json:"dispensed_at,omitempty" bson:"dispensed_at,omitempty"`
}

// Order is the central entity of the coordinator. Orders are never deleted;
// they only move forward along the lifecycle graph into a terminal state.
// All monetary amounts are integer cents.
type Order struct {
	ID          uuid.UUID `json:"id" bson:"_id"`
	OrderNumber string    `json:"order_number" bson:"order_number"`

	PickupCode          string     `json:"pickup_code,omitempty" bson:"pickup_code,omitempty"`
	PickupCodeExpiresAt *time.Time `json:"pickup_code_expires_at,omitempty" bson:"pickup_code_expires_at,omitempty"`

	SessionID string `json:"session_id" bson:"session_id"`
	MachineID string `json:"machine_id" bson:"machine_id"`

	Items []OrderItem `json:"items" bson:"items"`

	Subtotal int64   `json:"subtotal" bson:"subtotal"`
	TaxRate  float64 `json:"tax_rate" bson:"tax_rate"`
	Tax      int64   `json:"tax" bson:"tax"`
	Total    int64   `json:"total" bson:"total"`

	Status        Status        `json:"status" bson:"status"`
	PaymentStatus PaymentStatus `json:"payment_status" bson:"payment_status"`
	PaymentMethod string        `json:"payment_method" bson:"payment_method"`
	PaymentID     *uuid.UUID    `json:"payment_id,omitempty" bson:"payment_id,omitempty"`

	DispensingStatus   DispensingStatus `json:"dispensing_status" bson:"dispensing_status"`
	DispensingProgress int              `json:"dispensing_progress" bson:"dispensing_progress"`
	DispensingID       string           `json:"dispensing_id,omitempty" bson:"dispensing_id,omitempty"`

	CompletedAt   *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty" bson:"failure_reason,omitempty"`

	CustomerEmail string `json:"customer_email,omitempty" bson:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty" bson:"customer_phone,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

func (o *Order) GetID() uuid.UUID {
	return o.ID
}

func (o *Order) ResourceType() string {
	return "order"
}

func (o *Order) SetID(id uuid.UUID) {
	o.ID = id
}

func NewOrder() *Order {
	return &Order{
		ID:               apt.GenerateNewID(),
		Status:           StatusPending,
		PaymentStatus:    PaymentPending,
		DispensingStatus: DispensingPending,
	}
}

func (o *Order) EnsureID() {
	if o.ID == uuid.Nil {
		o.ID = apt.GenerateNewID()
	}
}

func (o *Order) BeforeCreate() {
	o.EnsureID()
	o.CreatedAt = time.Now()
	o.UpdatedAt = time.Now()
}

// ItemBySlot finds the item occupying a slot position, the key hardware
// dispense reports use to address items.
func (o *Order) ItemBySlot(slot string) *OrderItem {
	for i := range o.Items {
		if o.Items[i].SlotPosition == slot {
			return &o.Items[i]
		}
	}
	return nil
}

// TotalQuantity is the number of physical units the machine must release.
func (o *Order) TotalQuantity() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}

// PickupCodeValidAt reports whether the pickup code can authorize dispensing
// at the given instant.
func (o *Order) PickupCodeValidAt(t time.Time) bool {
	if o.PickupCode == "" || o.PickupCodeExpiresAt == nil {
		return false
	}
	return t.Before(*o.PickupCodeExpiresAt)
}
