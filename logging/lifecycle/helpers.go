package lifecycle

import (
	"context"

	"dragons-keep/server/logging"
)

const (
	// EventPlayerJoined is emitted when a participant joins a room.
	EventPlayerJoined logging.EventType = "lifecycle.player_joined"
	// EventPlayerLeft is emitted when a participant leaves or disconnects.
	EventPlayerLeft logging.EventType = "lifecycle.player_left"
	// EventPlayerHealed is emitted when an operation referenced an unknown
	// player and a default entry was created for it.
	EventPlayerHealed logging.EventType = "lifecycle.player_healed"
	// EventRoomCreated is emitted when the registry creates a room.
	EventRoomCreated logging.EventType = "lifecycle.room_created"
	// EventRoomEvicted is emitted when an idle room is pruned.
	EventRoomEvicted logging.EventType = "lifecycle.room_evicted"
)

// PlayerJoinedPayload captures join metadata.
type PlayerJoinedPayload struct {
	DisplayName string `json:"displayName"`
	Rejoin      bool   `json:"rejoin,omitempty"`
}

// PlayerLeftPayload captures the reason a player left.
type PlayerLeftPayload struct {
	Reason string `json:"reason"`
}

// PlayerHealedPayload names the operation that referenced the missing player.
type PlayerHealedPayload struct {
	Operation string `json:"operation"`
}

// RoomCreatedPayload records how the room came to exist.
type RoomCreatedPayload struct {
	Explicit bool `json:"explicit"`
}

// RoomEvictedPayload records how long the room sat idle.
type RoomEvictedPayload struct {
	IdleMillis int64 `json:"idleMillis"`
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	event.Category = logging.CategoryLifecycle
	pub.Publish(ctx, event)
}

// PlayerJoined publishes a player join event.
func PlayerJoined(ctx context.Context, pub logging.Publisher, room string, round uint64, actor logging.EntityRef, payload PlayerJoinedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventPlayerJoined,
		Room:     room,
		Round:    round,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Payload:  payload,
		Extra:    extra,
	})
}

// PlayerLeft publishes a player departure event.
func PlayerLeft(ctx context.Context, pub logging.Publisher, room string, round uint64, actor logging.EntityRef, payload PlayerLeftPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventPlayerLeft,
		Room:     room,
		Round:    round,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Payload:  payload,
		Extra:    extra,
	})
}

// PlayerHealed publishes a warning that a default player entry was created.
func PlayerHealed(ctx context.Context, pub logging.Publisher, room string, round uint64, actor logging.EntityRef, payload PlayerHealedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventPlayerHealed,
		Room:     room,
		Round:    round,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Payload:  payload,
		Extra:    extra,
	})
}

// RoomCreated publishes a room creation event.
func RoomCreated(ctx context.Context, pub logging.Publisher, room string, payload RoomCreatedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventRoomCreated,
		Room:     room,
		Round:    1,
		Actor:    logging.RoomRef(room),
		Severity: logging.SeverityInfo,
		Payload:  payload,
		Extra:    extra,
	})
}

// RoomEvicted publishes an idle eviction event.
func RoomEvicted(ctx context.Context, pub logging.Publisher, room string, round uint64, payload RoomEvictedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventRoomEvicted,
		Room:     room,
		Round:    round,
		Actor:    logging.RoomRef(room),
		Severity: logging.SeverityInfo,
		Payload:  payload,
		Extra:    extra,
	})
}
