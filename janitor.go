package server

import (
	"context"
	"time"

	"dragons-keep/server/internal/telemetry"
	"dragons-keep/server/logging/lifecycle"
)

type evictedRoom struct {
	code  string
	round uint64
	idle  time.Duration
}

// EvictIdle prunes rooms that have no players, no subscribers, and no
// mutation for at least IdleTTL. It returns the evicted codes. A zero TTL
// disables eviction.
func (h *Hub) EvictIdle(ctx context.Context) []string {
	ttl := h.cfg.IdleTTL
	if ttl <= 0 {
		return nil
	}
	now := h.now()

	var evicted []evictedRoom
	h.mu.Lock()
	for code, entry := range h.rooms {
		entry.mu.Lock()
		idle := now.Sub(entry.room.LastActive())
		if len(entry.members) == 0 && entry.room.Len() == 0 && idle >= ttl {
			entry.evicted = true
			delete(h.rooms, code)
			evicted = append(evicted, evictedRoom{code: code, round: entry.room.Snapshot().Round, idle: idle})
		}
		entry.mu.Unlock()
	}
	remaining := len(h.rooms)
	h.mu.Unlock()

	if len(evicted) == 0 {
		return nil
	}
	h.metrics.Add(telemetry.MetricRoomsEvicted, uint64(len(evicted)))
	h.metrics.Store(telemetry.MetricRoomsActive, uint64(remaining))
	codes := make([]string, 0, len(evicted))
	for _, room := range evicted {
		codes = append(codes, room.code)
		lifecycle.RoomEvicted(ctx, h.publisher, room.code, room.round, lifecycle.RoomEvictedPayload{IdleMillis: room.idle.Milliseconds()}, nil)
	}
	return codes
}

// RunJanitor evicts idle rooms every interval until ctx is done.
func (h *Hub) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 || h.cfg.IdleTTL <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if codes := h.EvictIdle(ctx); len(codes) > 0 {
				h.logger.Printf("evicted %d idle rooms", len(codes))
			}
		}
	}
}
