package proto

import (
	"encoding/json"
	"time"

	"dragons-keep/server/internal/campaign"
	"dragons-keep/server/internal/visibility"
)

// PlayerView is the wire form of a player inside a state payload.
type PlayerView struct {
	ID             string          `json:"id"`
	DisplayName    string          `json:"displayName"`
	Position       PointView       `json:"position"`
	MovementBudget float64         `json:"movementBudget"`
	Status         campaign.Status `json:"status"`
}

// PointView is a wire coordinate pair.
type PointView struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FogView is the wire form of a room's fog settings.
type FogView struct {
	Enabled     bool         `json:"enabled"`
	SightRadius float64      `json:"sightRadius"`
	Revealed    []AreaFields `json:"revealed"`
}

// State is the authoritative room view sent after every mutation.
type State struct {
	Ver          int                   `json:"ver"`
	Type         string                `json:"type"`
	RoomCode     string                `json:"roomCode"`
	Seq          uint64                `json:"seq"`
	Round        uint64                `json:"round"`
	DefaultSpeed float64               `json:"defaultSpeed"`
	GameMasterID string                `json:"gameMasterId,omitempty"`
	Players      map[string]PlayerView `json:"players"`
	Fog          FogView               `json:"fog"`
	Markers      []MarkerFields        `json:"markers"`
	RoundReset   bool                  `json:"roundReset,omitempty"`
	ServerTime   int64                 `json:"serverTime"`
}

// NewState renders a snapshot with the given, already fog-filtered, markers.
func NewState(snap campaign.Snapshot, markers []visibility.Marker, roundReset bool, now time.Time) State {
	players := make(map[string]PlayerView, len(snap.Players))
	for id, p := range snap.Players {
		players[id] = PlayerView{
			ID:             p.ID,
			DisplayName:    p.DisplayName,
			Position:       PointView{X: p.Position.X, Y: p.Position.Y},
			MovementBudget: p.MovementBudget,
			Status:         p.Status,
		}
	}
	revealed := make([]AreaFields, 0, len(snap.Fog.Revealed))
	for _, area := range snap.Fog.Revealed {
		revealed = append(revealed, AreaFields{X: area.Center.X, Y: area.Center.Y, R: area.Radius})
	}
	wireMarkers := make([]MarkerFields, 0, len(markers))
	for _, marker := range markers {
		wireMarkers = append(wireMarkers, MarkerFields{ID: marker.ID, X: marker.Position.X, Y: marker.Position.Y, Color: marker.Color})
	}
	return State{
		Ver:          Version,
		Type:         TypeState,
		RoomCode:     snap.Code,
		Seq:          snap.Seq,
		Round:        snap.Round,
		DefaultSpeed: snap.DefaultSpeed,
		GameMasterID: snap.GameMasterID,
		Players:      players,
		Fog:          FogView{Enabled: snap.Fog.Enabled, SightRadius: snap.Fog.SightRadius, Revealed: revealed},
		Markers:      wireMarkers,
		RoundReset:   roundReset,
		ServerTime:   now.UnixMilli(),
	}
}

// EncodeState renders a state payload.
func EncodeState(msg State) ([]byte, error) {
	msg.Ver = Version
	if msg.Type == "" {
		msg.Type = TypeState
	}
	return json.Marshal(msg)
}

// Announce is an informational banner fanned out to a room.
type Announce struct {
	RoomCode string
	Text     string
}

// EncodeAnnounce renders an announcement payload.
func EncodeAnnounce(msg Announce) ([]byte, error) {
	frame := struct {
		Ver      int    `json:"ver"`
		Type     string `json:"type"`
		RoomCode string `json:"roomCode,omitempty"`
		Text     string `json:"text"`
	}{
		Ver:      Version,
		Type:     TypeAnnounce,
		RoomCode: msg.RoomCode,
		Text:     msg.Text,
	}
	return json.Marshal(frame)
}

// Private is a game-master command delivered to exactly one connection.
type Private struct {
	RoomCode string
	From     string
	TargetID string
	Action   string
	Amount   *float64
}

// EncodePrivate renders a point-to-point command payload.
func EncodePrivate(msg Private) ([]byte, error) {
	frame := struct {
		Ver      int      `json:"ver"`
		Type     string   `json:"type"`
		RoomCode string   `json:"roomCode,omitempty"`
		From     string   `json:"from,omitempty"`
		TargetID string   `json:"targetId"`
		Action   string   `json:"action"`
		Amount   *float64 `json:"amount,omitempty"`
	}{
		Ver:      Version,
		Type:     TypeDMPrivate,
		RoomCode: msg.RoomCode,
		From:     msg.From,
		TargetID: msg.TargetID,
		Action:   msg.Action,
		Amount:   msg.Amount,
	}
	return json.Marshal(frame)
}

// Heartbeat echoes timing metadata back to the client.
type Heartbeat struct {
	ServerTime int64
	ClientTime int64
	RTTMillis  int64
}

// EncodeHeartbeat renders a heartbeat acknowledgement payload.
func EncodeHeartbeat(msg Heartbeat) ([]byte, error) {
	frame := struct {
		Ver        int    `json:"ver"`
		Type       string `json:"type"`
		ServerTime int64  `json:"serverTime"`
		ClientTime int64  `json:"clientTime"`
		RTTMillis  int64  `json:"rtt"`
	}{
		Ver:        Version,
		Type:       TypeHeartbeat,
		ServerTime: msg.ServerTime,
		ClientTime: msg.ClientTime,
		RTTMillis:  msg.RTTMillis,
	}
	return json.Marshal(frame)
}

// Joined tells a connection which room and player id it is bound to.
type Joined struct {
	RoomCode     string
	PlayerID     string
	ConnectionID string
}

// EncodeJoined renders a join acknowledgement payload.
func EncodeJoined(msg Joined) ([]byte, error) {
	frame := struct {
		Ver          int    `json:"ver"`
		Type         string `json:"type"`
		RoomCode     string `json:"roomCode"`
		ID           string `json:"id"`
		ConnectionID string `json:"connectionId"`
	}{
		Ver:          Version,
		Type:         TypeJoined,
		RoomCode:     msg.RoomCode,
		ID:           msg.PlayerID,
		ConnectionID: msg.ConnectionID,
	}
	return json.Marshal(frame)
}
