package vending

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/appetiteclub/apt/events"

	"github.com/smartvend/smartvend/pkg"
)

func TestMachineStatusSubscriberUpdatesCache(t *testing.T) {
	ctx := context.Background()

	cache := NewMachineStateCache(nil, nil)
	cache.Set("VM-1", MachineOnline, true)

	var handler events.HandlerFunc
	sub := NewMockSubscriber()
	sub.SubscribeFunc = func(ctx context.Context, topic string, h events.HandlerFunc) error {
		if topic != pkg.MachineStatusTopic {
			t.Errorf("subscribed to %q, want %q", topic, pkg.MachineStatusTopic)
		}
		handler = h
		return nil
	}

	s := NewMachineStatusSubscriber(sub, cache, nil)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if handler == nil {
		t.Fatal("subscriber did not register a handler")
	}

	msg, _ := json.Marshal(pkg.MachineStatusEvent{
		EventType:     pkg.EventMachineHealth,
		MachineID:     "VM-1",
		Status:        "error",
		IsOperational: false,
		OccurredAt:    time.Now(),
	})
	if err := handler(ctx, msg); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	available, err := cache.Ensure(ctx, "VM-1")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if available {
		t.Error("cache still reports VM-1 available after error event")
	}
}

func TestMachineStatusSubscriberIgnoresBadEvents(t *testing.T) {
	ctx := context.Background()

	cache := NewMachineStateCache(nil, nil)

	var handler events.HandlerFunc
	sub := NewMockSubscriber()
	sub.SubscribeFunc = func(ctx context.Context, topic string, h events.HandlerFunc) error {
		handler = h
		return nil
	}

	s := NewMachineStatusSubscriber(sub, cache, nil)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Malformed payloads and missing ids are dropped, never redelivered.
	if err := handler(ctx, []byte("{broken")); err != nil {
		t.Errorf("malformed payload error = %v, want nil", err)
	}

	msg, _ := json.Marshal(pkg.MachineStatusEvent{Status: "online"})
	if err := handler(ctx, msg); err != nil {
		t.Errorf("missing machine id error = %v, want nil", err)
	}
}
