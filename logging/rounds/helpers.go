package rounds

import (
	"context"

	"dragons-keep/server/logging"
)

const (
	// EventStarted is emitted when a room advances to a new round.
	EventStarted logging.EventType = "rounds.started"
	// EventGameMasterClaimed is emitted when a connection claims the DM role.
	EventGameMasterClaimed logging.EventType = "rounds.game_master_claimed"
	// EventAnnounced is emitted for DM announcements and private commands.
	EventAnnounced logging.EventType = "rounds.announced"
)

// StartedPayload carries the budget every player received.
type StartedPayload struct {
	DefaultSpeed float64 `json:"defaultSpeed"`
	Players      int     `json:"players"`
}

// GameMasterClaimedPayload records the replaced holder, if any.
type GameMasterClaimedPayload struct {
	Previous string `json:"previous,omitempty"`
}

// AnnouncedPayload describes a DM message.
type AnnouncedPayload struct {
	Text      string `json:"text,omitempty"`
	Action    string `json:"action,omitempty"`
	Private   bool   `json:"private,omitempty"`
	Delivered bool   `json:"delivered"`
}

// Started publishes a round transition.
func Started(ctx context.Context, pub logging.Publisher, room string, round uint64, actor logging.EntityRef, payload StartedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventStarted,
		Room:     room,
		Round:    round,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryRounds,
		Payload:  payload,
		Extra:    extra,
	})
}

// GameMasterClaimed publishes a DM claim.
func GameMasterClaimed(ctx context.Context, pub logging.Publisher, room string, round uint64, actor logging.EntityRef, payload GameMasterClaimedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventGameMasterClaimed,
		Room:     room,
		Round:    round,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryRounds,
		Payload:  payload,
		Extra:    extra,
	})
}

// Announced publishes a DM announcement or private command. Private
// commands name their target.
func Announced(ctx context.Context, pub logging.Publisher, room string, round uint64, actor logging.EntityRef, targets []logging.EntityRef, payload AnnouncedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventAnnounced,
		Room:     room,
		Round:    round,
		Actor:    actor,
		Targets:  targets,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryRounds,
		Payload:  payload,
		Extra:    extra,
	})
}
