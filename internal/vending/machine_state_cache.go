package vending

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/appetiteclub/apt"
)

type machineState struct {
	status        MachineStatus
	isOperational bool
}

// MachineStateCache answers "can this machine take orders right now" without
// a database read on the order-creation hot path. It is warmed from the
// machine repository on startup and kept current by the machine status
// subscriber; on a miss it falls back to the repository.
type MachineStateCache struct {
	mu       sync.RWMutex
	state    map[string]machineState
	machines MachineRepo
	logger   apt.Logger
}

func NewMachineStateCache(machines MachineRepo, logger apt.Logger) *MachineStateCache {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &MachineStateCache{
		state:    make(map[string]machineState),
		machines: machines,
		logger:   logger,
	}
}

func (c *MachineStateCache) Warm(ctx context.Context) error {
	if c.machines == nil {
		return nil
	}
	all, err := c.machines.List(ctx)
	if err != nil {
		return err
	}
	for _, m := range all {
		c.Set(m.MachineID, m.Status, m.IsOperational)
	}
	return nil
}

// Ensure returns the machine's availability, refreshing from the repository
// when the machine is not cached. Unknown machines surface a NotFoundError.
func (c *MachineStateCache) Ensure(ctx context.Context, machineID string) (bool, error) {
	if machineID == "" {
		return false, Invalid("machine id is required")
	}

	c.mu.RLock()
	st, ok := c.state[machineID]
	c.mu.RUnlock()
	if ok {
		return st.status == MachineOnline && st.isOperational, nil
	}

	if c.machines == nil {
		// No repository wired (tests); fail open so ordering still works.
		return true, nil
	}

	m, err := c.machines.FindByMachineID(ctx, machineID)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, NotFound("machine not found: %s", machineID)
	}

	c.Set(m.MachineID, m.Status, m.IsOperational)
	return m.IsAvailable(), nil
}

func (c *MachineStateCache) Set(machineID string, status MachineStatus, isOperational bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[machineID] = machineState{status: status, isOperational: isOperational}
}

func rehydrate(data interface{}, out interface{}) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, out)
}
