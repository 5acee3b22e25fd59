package vending

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"

	"github.com/smartvend/smartvend/pkg"
)

// MachineStatusSubscriber keeps the machine state cache current from the
// machines.status feed, so fleet-wide health reports reach every service
// instance without each one polling the database.
type MachineStatusSubscriber struct {
	subscriber events.Subscriber
	cache      *MachineStateCache
	logger     apt.Logger
}

func NewMachineStatusSubscriber(sub events.Subscriber, cache *MachineStateCache, logger apt.Logger) *MachineStatusSubscriber {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &MachineStatusSubscriber{
		subscriber: sub,
		cache:      cache,
		logger:     logger,
	}
}

func (s *MachineStatusSubscriber) Start(ctx context.Context) error {
	s.logger.Info("starting machine status subscriber", "topic", pkg.MachineStatusTopic)
	if s.cache != nil {
		if err := s.cache.Warm(ctx); err != nil {
			s.logger.Info("machine cache warmup failed", "error", err)
		}
	}
	if s.subscriber == nil {
		return fmt.Errorf("machine status subscriber not configured")
	}
	return s.subscriber.Subscribe(ctx, pkg.MachineStatusTopic, s.handleEvent)
}

func (s *MachineStatusSubscriber) handleEvent(ctx context.Context, msg []byte) error {
	var event pkg.MachineStatusEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		s.logger.Info("invalid machine status event", "error", err)
		return nil
	}

	if event.MachineID == "" {
		s.logger.Info("machine status event without machine id")
		return nil
	}

	s.cache.Set(event.MachineID, MachineStatus(event.Status), event.IsOperational)
	s.logger.Debug("machine status updated", "machine_id", event.MachineID, "status", event.Status)
	return nil
}
