package vending

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrStaleStatus is returned by OrderRepo.ConditionalUpdateStatus when the
// order exists but its current status no longer matches the expectation. The
// coordinator translates it into a ConflictError; it is never retried, since
// a retry could duplicate side effects.
var ErrStaleStatus = errors.New("order status precondition failed")

// ErrDuplicatePickupCode is returned by OrderRepo.Insert and SetPickupCode
// when the storage-layer uniqueness guard rejects the code. Allocation retries
// with a fresh code.
var ErrDuplicatePickupCode = errors.New("pickup code already in use")

// StatusPatch carries the field mutations applied atomically alongside a
// status transition. Nil fields are left untouched.
type StatusPatch struct {
	PaymentStatus       *PaymentStatus
	PaymentID           *uuid.UUID
	PickupCodeExpiresAt *time.Time
	DispensingStatus    *DispensingStatus
	DispensingID        *string
	DispensingProgress  *int
	CompletedAt         *time.Time
	FailureReason       *string
}

// OrderRepo is the durable store of orders. Status mutations go through
// ConditionalUpdateStatus, a compare-and-swap on the status field, so that
// concurrent payment confirmations, webhooks, hardware reports, and
// cancellations serialize at the storage layer without in-process locks.
type OrderRepo interface {
	Insert(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)
	FindByNumber(ctx context.Context, number string) (*Order, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Order, error)
	ListBySession(ctx context.Context, sessionID string) ([]*Order, error)

	// FindByPickupCode looks up the order currently holding code, ignoring
	// orders in any of the excluded statuses and, when exclude is nonzero,
	// the order with that id (used during regeneration).
	FindByPickupCode(ctx context.Context, code string, excludeStatuses []Status, exclude uuid.UUID) (*Order, error)

	// FindActivePickup resolves a code typed at a machine: the paid,
	// payment-settled order for that machine holding the code.
	FindActivePickup(ctx context.Context, machineID, code string) (*Order, error)

	FindByMachineAndStatus(ctx context.Context, machineID string, statuses []Status) ([]*Order, error)

	// ConditionalUpdateStatus transitions id from expected to next and applies
	// patch in the same write. Returns ErrStaleStatus if the order is not
	// currently in expected, or a NotFoundError if it does not exist.
	ConditionalUpdateStatus(ctx context.Context, id uuid.UUID, expected, next Status, patch StatusPatch) error

	SetPickupCode(ctx context.Context, id uuid.UUID, code string, expiresAt time.Time) error

	// MarkItemDispensed flags the item in the given slot as dispensed, once.
	// Returns false when the item was already flagged or the slot is unknown,
	// so at-least-once hardware reports cannot double-apply stock mutations.
	MarkItemDispensed(ctx context.Context, id uuid.UUID, slot string, at time.Time) (bool, error)

	// UpdateDispensing records hardware progress on the dispensing sub-state
	// without touching the primary status.
	UpdateDispensing(ctx context.Context, id uuid.UUID, status DispensingStatus, progress int) error
}

// ProductRepo is the catalog-store surface the coordinator consumes.
type ProductRepo interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Product, error)

	// DecrementStock atomically subtracts qty, failing with a ConflictError
	// when remaining stock is insufficient.
	DecrementStock(ctx context.Context, id uuid.UUID, qty int) error

	// SetStock overwrites stock and slot placement after a physical restock,
	// the one flow where an absolute count is authoritative.
	SetStock(ctx context.Context, id uuid.UUID, stock int, slot, machineID string) error
}

// MachineRepo persists machine operational state. Counter adjustments are
// atomic increments; only health and restock reports overwrite slot stock.
type MachineRepo interface {
	FindByMachineID(ctx context.Context, machineID string) (*Machine, error)
	List(ctx context.Context) ([]*Machine, error)

	// RecordDispense bumps the machine's lifetime counters after an order
	// completes: dispenses+1, revenue+=amount.
	RecordDispense(ctx context.Context, machineID string, revenue int64) error

	// RecordSlotDispense decrements one slot's stock and stamps its last
	// dispense time.
	RecordSlotDispense(ctx context.Context, machineID, slot string, qty int, at time.Time) error

	ApplyHealth(ctx context.Context, machineID string, report HealthReport) (*Machine, error)
	Restock(ctx context.Context, machineID string, slots []RestockSlot, at time.Time) (*Machine, error)
}

// HealthReport is an out-of-band machine-state update from hardware,
// unrelated to any single order.
type HealthReport struct {
	Status      MachineStatus
	Temperature *float64
	Faults      []MachineFault
	SlotStock   map[string]int
	ReportedAt  time.Time
}

// RestockSlot describes one slot's contents after a physical restock.
type RestockSlot struct {
	Position    string
	ProductID   *uuid.UUID
	Stock       int
	MaxCapacity int
}

// PaymentRepo is the durable store of payment records.
type PaymentRepo interface {
	Create(ctx context.Context, p *Payment) error
	FindByOrder(ctx context.Context, orderID uuid.UUID) (*Payment, error)
	FindByIntent(ctx context.Context, intentID string) (*Payment, error)
	MarkOutcome(ctx context.Context, intentID string, status PaymentState, failureCode, failureMessage string, paidAt *time.Time) error
	MarkRefunded(ctx context.Context, id uuid.UUID, amount int64, reason string, at time.Time) error
}

// CartRepo exposes the two cart operations payment settlement needs.
type CartRepo interface {
	FindBySession(ctx context.Context, sessionID string) (*Cart, error)
	DeleteBySession(ctx context.Context, sessionID string) error
}

// CounterRepo hands out monotonic sequence values. Order numbers come from a
// dedicated counter document updated with an atomic increment, not from
// counting rows, so concurrent creations cannot mint the same number.
type CounterRepo interface {
	Next(ctx context.Context, name string) (int64, error)
}
