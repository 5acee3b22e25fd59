package vending

import (
	"time"

	"github.com/google/uuid"
)

// CartItem is one line of a session cart. PriceAtAdd pins the price the
// customer saw, in case the catalog changes before checkout.
type CartItem struct {
	ProductID  uuid.UUID `json:"product_id" bson:"product_id"`
	Quantity   int       `json:"quantity" bson:"quantity"`
	PriceAtAdd int64     `json:"price_at_add" bson:"price_at_add"`
}

// Cart is the session cart the ordering flow consumes. It is cleared as a
// side effect of payment success, never of order creation, so a failed
// payment leaves the customer free to retry.
type Cart struct {
	ID        uuid.UUID  `json:"id" bson:"_id"`
	SessionID string     `json:"session_id" bson:"session_id"`
	MachineID string     `json:"machine_id" bson:"machine_id"`
	Items     []CartItem `json:"items" bson:"items"`
	ExpiresAt time.Time  `json:"expires_at" bson:"expires_at"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}
