package server

import "sort"

// RoomDiagnostics summarises one room for the diagnostics endpoint.
type RoomDiagnostics struct {
	Code         string `json:"code"`
	Round        uint64 `json:"round"`
	Seq          uint64 `json:"seq"`
	Players      int    `json:"players"`
	Subscribers  int    `json:"subscribers"`
	GameMasterID string `json:"gameMasterId,omitempty"`
	LastActive   int64  `json:"lastActive"`
}

// SubscriberDiagnostics summarises one connection's queue.
type SubscriberDiagnostics struct {
	ID      string   `json:"id"`
	Rooms   []string `json:"rooms"`
	Queued  uint64   `json:"queued"`
	Dropped uint64   `json:"dropped"`
	Backlog int      `json:"backlog"`
}

// Diagnostics is the registry view exposed over HTTP.
type Diagnostics struct {
	Rooms       []RoomDiagnostics       `json:"rooms"`
	Subscribers []SubscriberDiagnostics `json:"subscribers"`
}

// Diagnostics captures room and subscriber counters.
func (h *Hub) Diagnostics() Diagnostics {
	h.mu.Lock()
	entries := make([]*roomEntry, 0, len(h.rooms))
	for _, entry := range h.rooms {
		entries = append(entries, entry)
	}
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	diag := Diagnostics{
		Rooms:       make([]RoomDiagnostics, 0, len(entries)),
		Subscribers: make([]SubscriberDiagnostics, 0, len(subs)),
	}
	for _, entry := range entries {
		entry.mu.Lock()
		members := len(entry.members)
		entry.mu.Unlock()
		snap := entry.room.Snapshot()
		diag.Rooms = append(diag.Rooms, RoomDiagnostics{
			Code:         snap.Code,
			Round:        snap.Round,
			Seq:          snap.Seq,
			Players:      len(snap.Players),
			Subscribers:  members,
			GameMasterID: snap.GameMasterID,
			LastActive:   entry.room.LastActive().UnixMilli(),
		})
	}
	for _, sub := range subs {
		queued, dropped := sub.Stats()
		diag.Subscribers = append(diag.Subscribers, SubscriberDiagnostics{
			ID:      sub.ID(),
			Rooms:   sub.Rooms(),
			Queued:  queued,
			Dropped: dropped,
			Backlog: len(sub.send),
		})
	}
	sort.Slice(diag.Rooms, func(i, j int) bool { return diag.Rooms[i].Code < diag.Rooms[j].Code })
	sort.Slice(diag.Subscribers, func(i, j int) bool { return diag.Subscribers[i].ID < diag.Subscribers[j].ID })
	return diag
}
