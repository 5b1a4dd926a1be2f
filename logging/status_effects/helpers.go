package status_effects

import (
	"context"

	"dragons-keep/server/logging"
)

const (
	// EventChanged is emitted when a player's status effects are patched.
	EventChanged logging.EventType = "status_effects.changed"
)

// ChangedPayload captures the resulting status and the additive bleed delta.
type ChangedPayload struct {
	Blinded    bool `json:"blinded"`
	Flashed    bool `json:"flashed"`
	BleedLevel int  `json:"bleedLevel"`
	BleedDelta int  `json:"bleedDelta,omitempty"`
}

// Changed publishes a status change event.
func Changed(ctx context.Context, pub logging.Publisher, room string, round uint64, actor logging.EntityRef, target logging.EntityRef, payload ChangedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventChanged,
		Room:     room,
		Round:    round,
		Actor:    actor,
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryStatusEffects,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
