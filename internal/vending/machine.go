package vending

import (
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
)

// MachineStatus is the operational state a machine last reported.
type MachineStatus string

const (
	MachineOnline      MachineStatus = "online"
	MachineOffline     MachineStatus = "offline"
	MachineMaintenance MachineStatus = "maintenance"
	MachineError       MachineStatus = "error"
)

// Slot is one physical compartment of a machine, mapped to a product.
type Slot struct {
	Position       string     `json:"position" bson:"position"`
	ProductID      *uuid.UUID `json:"product_id,omitempty" bson:"product_id,omitempty"`
	Stock          int        `json:"stock" bson:"stock"`
	MaxCapacity    int        `json:"max_capacity" bson:"max_capacity"`
	IsOperational  bool       `json:"is_operational" bson:"is_operational"`
	LastDispenseAt *time.Time `json:"last_dispense_at,omitempty" bson:"last_dispense_at,omitempty"`
	ErrorCount     int        `json:"error_count" bson:"error_count"`
}

// MachineFault is an append-only entry in the machine's error log. Entries
// are never removed, only flagged resolved.
type MachineFault struct {
	Code      string    `json:"code" bson:"code"`
	Message   string    `json:"message" bson:"message"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Resolved  bool      `json:"resolved" bson:"resolved"`
}

// Temperature is the machine's reported cabinet temperature and its allowed
// band.
type Temperature struct {
	Current *float64 `json:"current,omitempty" bson:"current,omitempty"`
	Min     float64  `json:"min" bson:"min"`
	Max     float64  `json:"max" bson:"max"`
	Unit    string   `json:"unit" bson:"unit"`
}

// Machine is the operational record of one vending machine. Order flow only
// ever adjusts its counters and slot stock with atomic increments; absolute
// overwrites are reserved for hardware health/restock reports, which are the
// authoritative source for slot contents.
type Machine struct {
	ID        uuid.UUID `json:"id" bson:"_id"`
	MachineID string    `json:"machine_id" bson:"machine_id"`
	Name      string    `json:"name" bson:"name"`

	Status        MachineStatus `json:"status" bson:"status"`
	IsOperational bool          `json:"is_operational" bson:"is_operational"`

	Slots       []Slot      `json:"slots" bson:"slots"`
	Temperature Temperature `json:"temperature" bson:"temperature"`

	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty" bson:"last_heartbeat,omitempty"`
	LastRestocked *time.Time `json:"last_restocked,omitempty" bson:"last_restocked,omitempty"`

	Faults []MachineFault `json:"errors" bson:"errors"`

	TotalDispenses int64 `json:"total_dispenses" bson:"total_dispenses"`
	TotalRevenue   int64 `json:"total_revenue" bson:"total_revenue"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

func (m *Machine) GetID() uuid.UUID {
	return m.ID
}

func (m *Machine) ResourceType() string {
	return "machine"
}

func (m *Machine) SetID(id uuid.UUID) {
	m.ID = id
}

func NewMachine(machineID string) *Machine {
	return &Machine{
		ID:            apt.GenerateNewID(),
		MachineID:     machineID,
		Name:          "SmartVend Machine",
		Status:        MachineOffline,
		IsOperational: true,
		Temperature:   Temperature{Min: 2, Max: 8, Unit: "celsius"},
	}
}

// IsAvailable reports whether the machine can take new orders.
func (m *Machine) IsAvailable() bool {
	return m.Status == MachineOnline && m.IsOperational
}

// ActiveFaults returns the unresolved entries of the error log.
func (m *Machine) ActiveFaults() []MachineFault {
	var active []MachineFault
	for _, f := range m.Faults {
		if !f.Resolved {
			active = append(active, f)
		}
	}
	return active
}
