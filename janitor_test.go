package server

import (
	"context"
	"testing"
	"time"
)

func TestRunJanitorEvictsOnTick(t *testing.T) {
	clock := newFakeClock()
	hub, _ := newTestHub(t, func(cfg *HubConfig) {
		cfg.IdleTTL = time.Minute
		cfg.Clock = clock.Now
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := hub.CreateRoom(ctx, "STALE"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	clock.Advance(5 * time.Minute)

	done := make(chan error, 1)
	go func() { done <- hub.RunJanitor(ctx, 5*time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(hub.RoomCodes()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected janitor to evict STALE, rooms %v", hub.RoomCodes())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean janitor exit, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("janitor did not stop after cancel")
	}
}

func TestRunJanitorDisabledWaitsForCancel(t *testing.T) {
	hub, _ := newTestHub(t, func(cfg *HubConfig) {
		cfg.IdleTTL = 0
	})
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := hub.CreateRoom(ctx, "KEEP"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- hub.RunJanitor(ctx, time.Millisecond) }()
	time.Sleep(20 * time.Millisecond)
	if codes := hub.RoomCodes(); len(codes) != 1 {
		t.Fatalf("expected room kept with eviction disabled, got %v", codes)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("janitor did not stop after cancel")
	}
}
