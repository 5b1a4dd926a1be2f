package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"dragons-keep/server/internal/campaign"
	"dragons-keep/server/internal/geometry"
	"dragons-keep/server/internal/visibility"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1
)

// Client message type identifiers.
const (
	TypeJoin         = "join"
	TypeUpdate       = "update"
	TypeMove         = "move"
	TypeStatus       = "status"
	TypeLeave        = "leave"
	TypeDMCreate     = "dm_create"
	TypeDMBroadcast  = "dm_broadcast"
	TypeDMPrivate    = "dm_private"
	TypeDMReveal     = "dm_reveal"
	TypeRoundReset   = "round_reset"
	TypeFog          = "fog"
	TypeSpeed        = "speed"
	TypeMarker       = "marker"
	TypeMarkerRemove = "marker_remove"
	TypeHeartbeat    = "heartbeat"
)

// Server message type identifiers. dm_private and heartbeat reuse the client
// identifiers.
const (
	TypeState    = "state"
	TypeAnnounce = "announce"
	TypeJoined   = "joined"
)

var (
	// ErrMalformedMessage reports a frame that cannot be decoded or lacks the
	// fields its type requires.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnknownType reports a well-formed frame with an unrecognised type.
	ErrUnknownType = errors.New("unknown message type")
)

// StatusFields is the wire form of a status patch. bright and bleeding are
// accepted for older clients.
type StatusFields struct {
	Blinded    *bool    `json:"blinded,omitempty"`
	Flashed    *bool    `json:"flashed,omitempty"`
	Bright     *bool    `json:"bright,omitempty"`
	BleedLevel *float64 `json:"bleedLevel,omitempty"`
	Bleeding   *float64 `json:"bleeding,omitempty"`
	BleedDelta *float64 `json:"bleedDelta,omitempty"`
}

// AreaFields is the wire form of a revealed circle.
type AreaFields struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	R float64 `json:"r"`
}

// MarkerFields is the wire form of a map marker.
type MarkerFields struct {
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"color,omitempty"`
}

// ClientMessage captures an inbound websocket message from the client. One
// struct covers every message type; fields a type does not use are ignored.
type ClientMessage struct {
	Ver      int    `json:"ver,omitempty"`
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	RoomCode string `json:"roomCode,omitempty"`

	DisplayName    *string        `json:"displayName,omitempty"`
	Position       *geometry.Vec2 `json:"position,omitempty"`
	MovementBudget *float64       `json:"movementBudget,omitempty"`
	Status         *StatusFields  `json:"status,omitempty"`

	DX         float64  `json:"dx,omitempty"`
	DY         float64  `json:"dy,omitempty"`
	Blinded    *bool    `json:"blinded,omitempty"`
	Flashed    *bool    `json:"flashed,omitempty"`
	BleedDelta *float64 `json:"bleedDelta,omitempty"`

	Text     string   `json:"text,omitempty"`
	TargetID string   `json:"targetId,omitempty"`
	Action   string   `json:"action,omitempty"`
	Amount   *float64 `json:"amount,omitempty"`

	Area         *AreaFields   `json:"area,omitempty"`
	Enabled      *bool         `json:"enabled,omitempty"`
	SightRadius  *float64      `json:"sightRadius,omitempty"`
	DefaultSpeed *float64      `json:"defaultSpeed,omitempty"`
	Marker       *MarkerFields `json:"marker,omitempty"`
	MarkerID     string        `json:"markerId,omitempty"`

	SentAt int64 `json:"sentAt,omitempty"`

	CampaignID string         `json:"campaignId,omitempty"`
	Name       *string        `json:"name,omitempty"`
	Pos        *geometry.Vec2 `json:"pos,omitempty"`
	Remaining  *float64       `json:"remaining,omitempty"`
	To         string         `json:"to,omitempty"`
}

// DecodeClientMessage converts a raw websocket payload into a structured
// message with aliases folded into their canonical fields and the room code
// normalised. Required fields are checked separately by Validate, once the
// relay has filled session defaults.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("%w: unsupported client protocol version %d", ErrMalformedMessage, msg.Ver)
	}
	msg.Type = strings.TrimSpace(msg.Type)
	if msg.Type == "" {
		return msg, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	msg.mergeAliases()
	msg.ID = strings.TrimSpace(msg.ID)
	msg.TargetID = strings.TrimSpace(msg.TargetID)
	msg.RoomCode = campaign.NormalizeCode(msg.RoomCode)
	return msg, nil
}

func (m *ClientMessage) mergeAliases() {
	if m.RoomCode == "" {
		m.RoomCode = m.CampaignID
	}
	if m.DisplayName == nil {
		m.DisplayName = m.Name
	}
	if m.Position == nil {
		m.Position = m.Pos
	}
	if m.MovementBudget == nil {
		m.MovementBudget = m.Remaining
	}
	if m.TargetID == "" {
		m.TargetID = m.To
	}
	if m.Status != nil {
		if m.Status.Flashed == nil {
			m.Status.Flashed = m.Status.Bright
		}
		if m.Status.BleedLevel == nil {
			m.Status.BleedLevel = m.Status.Bleeding
		}
	}
	m.CampaignID, m.Name, m.Pos, m.Remaining, m.To = "", nil, nil, nil, ""
}

// Validate checks that the fields the message type requires are present.
func (m ClientMessage) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s requires %s", ErrMalformedMessage, m.Type, field)
	}
	switch m.Type {
	case TypeHeartbeat, TypeDMCreate:
		return nil
	case TypeJoin, TypeUpdate, TypeMove, TypeStatus:
		if m.RoomCode == "" {
			return missing("roomCode")
		}
		if m.ID == "" {
			return missing("id")
		}
	case TypeLeave, TypeRoundReset:
		if m.RoomCode == "" {
			return missing("roomCode")
		}
	case TypeDMBroadcast:
		if m.RoomCode == "" {
			return missing("roomCode")
		}
		if strings.TrimSpace(m.Text) == "" {
			return missing("text")
		}
	case TypeDMPrivate:
		if m.TargetID == "" {
			return missing("targetId")
		}
		if m.Action == "" {
			return missing("action")
		}
	case TypeDMReveal:
		if m.RoomCode == "" {
			return missing("roomCode")
		}
		if m.Area == nil || !(m.Area.R > 0) {
			return missing("area")
		}
	case TypeFog:
		if m.RoomCode == "" {
			return missing("roomCode")
		}
		if m.Enabled == nil {
			return missing("enabled")
		}
	case TypeSpeed:
		if m.RoomCode == "" {
			return missing("roomCode")
		}
		if m.DefaultSpeed == nil {
			return missing("defaultSpeed")
		}
	case TypeMarker:
		if m.RoomCode == "" {
			return missing("roomCode")
		}
		if m.Marker == nil || strings.TrimSpace(m.Marker.ID) == "" {
			return missing("marker.id")
		}
	case TypeMarkerRemove:
		if m.RoomCode == "" {
			return missing("roomCode")
		}
		if m.MarkerID == "" {
			return missing("markerId")
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownType, m.Type)
	}
	return nil
}

// IsRoomScoped reports whether the message acts on a campaign room.
func (m ClientMessage) IsRoomScoped() bool {
	switch m.Type {
	case TypeHeartbeat, TypeDMPrivate:
		return false
	default:
		return true
	}
}

// PlayerPatch converts an update message into a player patch.
func (m ClientMessage) PlayerPatch() campaign.PlayerPatch {
	patch := campaign.PlayerPatch{
		DisplayName:    m.DisplayName,
		Position:       m.Position,
		MovementBudget: m.MovementBudget,
	}
	if m.Status != nil {
		status := m.Status.patch()
		patch.Status = &status
	}
	return patch
}

// StatusPatch converts a status message into a status patch. Top-level flags
// take precedence over a nested status object.
func (m ClientMessage) StatusPatch() campaign.StatusPatch {
	var patch campaign.StatusPatch
	if m.Status != nil {
		patch = m.Status.patch()
	}
	if m.Blinded != nil {
		patch.Blinded = m.Blinded
	}
	if m.Flashed != nil {
		patch.Flashed = m.Flashed
	}
	if m.BleedDelta != nil {
		patch.BleedDelta = roundBleed(*m.BleedDelta)
	}
	return patch
}

func (s StatusFields) patch() campaign.StatusPatch {
	patch := campaign.StatusPatch{Blinded: s.Blinded, Flashed: s.Flashed}
	if s.BleedLevel != nil {
		level := roundBleed(*s.BleedLevel)
		patch.BleedLevel = &level
	}
	if s.BleedDelta != nil {
		patch.BleedDelta = roundBleed(*s.BleedDelta)
	}
	return patch
}

// roundBleed rounds a JSON number to an int, saturating far outside the
// bleed range so the clamp downstream sees the right sign.
func roundBleed(v float64) int {
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt32:
		return math.MaxInt32
	case v < math.MinInt32:
		return math.MinInt32
	default:
		return int(math.Round(v))
	}
}

// Displacement returns the requested movement vector.
func (m ClientMessage) Displacement() geometry.Vec2 {
	return geometry.Vec2{X: m.DX, Y: m.DY}
}

// RevealArea converts the area field.
func (m ClientMessage) RevealArea() visibility.Area {
	if m.Area == nil {
		return visibility.Area{}
	}
	return visibility.Area{Center: geometry.Vec2{X: m.Area.X, Y: m.Area.Y}, Radius: m.Area.R}
}

// MarkerValue converts the marker field.
func (m ClientMessage) MarkerValue() visibility.Marker {
	if m.Marker == nil {
		return visibility.Marker{}
	}
	return visibility.Marker{
		ID:       strings.TrimSpace(m.Marker.ID),
		Position: geometry.Vec2{X: m.Marker.X, Y: m.Marker.Y},
		Color:    m.Marker.Color,
	}
}
