package network

import (
	"context"

	"dragons-keep/server/logging"
)

const (
	// EventMalformedMessage is emitted when an inbound frame cannot be decoded
	// or lacks required fields. The connection stays open.
	EventMalformedMessage logging.EventType = "network.malformed_message"
	// EventUnknownMessage is emitted for a well-formed frame of an unknown type.
	EventUnknownMessage logging.EventType = "network.unknown_message"
	// EventDeliveryDropped is emitted when an outbound frame could not be
	// queued for a subscriber.
	EventDeliveryDropped logging.EventType = "network.delivery_dropped"
	// EventUnauthorized is emitted when a privileged message is refused.
	EventUnauthorized logging.EventType = "network.unauthorized"
)

// MessagePayload describes the offending inbound frame.
type MessagePayload struct {
	MessageType string `json:"messageType,omitempty"`
	Reason      string `json:"reason"`
	Bytes       int    `json:"bytes,omitempty"`
}

// DeliveryPayload describes an outbound frame that was dropped.
type DeliveryPayload struct {
	MessageType string `json:"messageType"`
	Reason      string `json:"reason"`
}

// MalformedMessage publishes a warning about an undecodable frame.
func MalformedMessage(ctx context.Context, pub logging.Publisher, room string, actor logging.EntityRef, payload MessagePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventMalformedMessage,
		Room:     room,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// UnknownMessage publishes a debug event for an unhandled message type.
func UnknownMessage(ctx context.Context, pub logging.Publisher, room string, actor logging.EntityRef, payload MessagePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventUnknownMessage,
		Room:     room,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// DeliveryDropped publishes a debug event for a skipped outbound frame.
func DeliveryDropped(ctx context.Context, pub logging.Publisher, room string, target logging.EntityRef, payload DeliveryPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDeliveryDropped,
		Room:     room,
		Actor:    logging.RoomRef(room),
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// Unauthorized publishes a warning about a refused privileged message.
func Unauthorized(ctx context.Context, pub logging.Publisher, room string, actor logging.EntityRef, payload MessagePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventUnauthorized,
		Room:     room,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}
