package pkg

import "time"

const (
	// MachineStatusTopic delivers authoritative operational-state changes for machines.
	MachineStatusTopic = "machines.status"

	// EventMachineHealth identifies a machine health report payload.
	EventMachineHealth = "machine.health"
)

// MachineStatusEvent captures the minimal information the ordering side needs
// to reason about a machine's availability.
type MachineStatusEvent struct {
	EventType     string    `json:"event_type"`
	MachineID     string    `json:"machine_id"`
	Status        string    `json:"status"`
	IsOperational bool      `json:"is_operational"`
	Temperature   *float64  `json:"temperature,omitempty"`
	ErrorCount    int       `json:"error_count,omitempty"`
	Source        string    `json:"source,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}
