package vending

import (
	"time"

	"github.com/google/uuid"
)

// Product is the catalog-store view the coordinator consumes: enough to
// snapshot an order item and to adjust stock after a dispense. Catalog CRUD
// lives elsewhere.
type Product struct {
	ID           uuid.UUID `json:"id" bson:"_id"`
	Name         string    `json:"name" bson:"name"`
	Image        string    `json:"image,omitempty" bson:"image,omitempty"`
	Price        int64     `json:"price" bson:"price"`
	Stock        int       `json:"stock" bson:"stock"`
	SlotPosition string    `json:"slot_position" bson:"slot_position"`
	MachineID    string    `json:"machine_id" bson:"machine_id"`
	IsAvailable  bool      `json:"is_available" bson:"is_available"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// InStock reports whether the product can currently be sold at all.
func (p *Product) InStock() bool {
	return p.IsAvailable && p.Stock > 0
}
