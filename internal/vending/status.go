package vending

// Status is the primary order lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusDispensing Status = "dispensing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
	StatusCancelled  Status = "cancelled"
)

// PaymentStatus tracks payment independently of dispensing.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentPaid       PaymentStatus = "paid"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

// DispensingStatus is the hardware-reported sub-state of a paid order.
type DispensingStatus string

const (
	DispensingPending    DispensingStatus = "pending"
	DispensingInProgress DispensingStatus = "in_progress"
	DispensingCompleted  DispensingStatus = "completed"
	DispensingFailed     DispensingStatus = "failed"
	DispensingPartial    DispensingStatus = "partial"
)

// TerminalStatuses are the states no transition leaves. Pickup-code uniqueness
// is scoped to orders outside this set, so codes can be reused once an order
// is terminal.
var TerminalStatuses = []Status{
	StatusCompleted,
	StatusCancelled,
	StatusRefunded,
	StatusFailed,
}

// IsTerminal reports whether s permits no further transition.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

// allowedTransitions is the full order lifecycle graph. The coordinator's
// transition method checks this table before issuing the conditional update
// keyed on the expected current status, so it is the single authority on what
// may follow what.
var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusPaid, StatusFailed, StatusCancelled},
	StatusPaid:       {StatusDispensing, StatusFailed, StatusRefunded},
	StatusDispensing: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatusMessage maps an order status to the human-readable line shown on the
// order status screen.
func StatusMessage(s Status) string {
	switch s {
	case StatusPending:
		return "Awaiting payment..."
	case StatusPaid:
		return "Payment successful! Use your pickup code on the machine."
	case StatusDispensing:
		return "Dispensing your items..."
	case StatusCompleted:
		return "Order completed. Please collect your items!"
	case StatusFailed:
		return "Order failed. Please contact support."
	default:
		return "Processing..."
	}
}
