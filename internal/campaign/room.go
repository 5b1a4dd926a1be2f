package campaign

import (
	"math"
	"sort"
	"sync"
	"time"

	"dragons-keep/server/internal/geometry"
	"dragons-keep/server/internal/movement"
	"dragons-keep/server/internal/visibility"
)

// DefaultSpeed is the per-round movement budget when a room does not set one.
const DefaultSpeed = 30.0

// RoomConfig seeds a new room.
type RoomConfig struct {
	DefaultSpeed float64
	SightRadius  float64
	Clock        func() time.Time
}

// Snapshot is a read-only, point-in-time view of a room. Seq increases with
// every mutation so consumers can discard stale views.
type Snapshot struct {
	Code         string              `json:"code"`
	Seq          uint64              `json:"seq"`
	Round        uint64              `json:"round"`
	DefaultSpeed float64             `json:"defaultSpeed"`
	GameMasterID string              `json:"gameMasterId,omitempty"`
	Players      map[string]Player   `json:"players"`
	Fog          visibility.Field    `json:"fog"`
	Markers      []visibility.Marker `json:"markers"`
}

// Player returns the snapshot entry for id.
func (s Snapshot) Player(id string) (Player, bool) {
	p, ok := s.Players[id]
	return p, ok
}

// MarkersFor applies fog for a viewer. The game master and viewers without a
// player entry see every marker.
func (s Snapshot) MarkersFor(viewerID string) []visibility.Marker {
	player, ok := s.Players[viewerID]
	if !ok || viewerID == s.GameMasterID {
		return append([]visibility.Marker(nil), s.Markers...)
	}
	return s.Fog.Visible(player.Position, s.Markers)
}

// Outcome is the result of a player mutation.
type Outcome struct {
	Player   Player
	Snapshot Snapshot
	// Healed is set when the player did not exist and was created with
	// defaults to satisfy the operation.
	Healed bool
	// Rejoined is set when Join found the player already present.
	Rejoined bool
}

// Room is one campaign session. All methods are safe for concurrent use and
// every mutation is applied atomically under the room lock.
type Room struct {
	mu           sync.Mutex
	code         string
	players      map[string]*Player
	gameMasterID string
	round        uint64
	defaultSpeed float64
	fog          visibility.Field
	markers      map[string]visibility.Marker
	seq          uint64
	now          func() time.Time
	createdAt    time.Time
	lastActive   time.Time
}

// NewRoom constructs an empty room at round 1.
func NewRoom(code string, cfg RoomConfig) *Room {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	speed := cfg.DefaultSpeed
	if math.IsNaN(speed) || speed < 0 {
		speed = DefaultSpeed
	}
	sight := cfg.SightRadius
	if math.IsNaN(sight) || sight <= 0 {
		sight = visibility.DefaultSightRadius
	}
	created := now()
	return &Room{
		code:         code,
		players:      make(map[string]*Player),
		round:        1,
		defaultSpeed: speed,
		fog:          visibility.Field{SightRadius: sight},
		markers:      make(map[string]visibility.Marker),
		now:          now,
		createdAt:    created,
		lastActive:   created,
	}
}

// Code returns the room's primary key.
func (r *Room) Code() string {
	return r.code
}

// CreatedAt returns when the room was constructed.
func (r *Room) CreatedAt() time.Time {
	return r.createdAt
}

// Join inserts a player or re-activates an existing one. Re-joining only
// refreshes the display name; position, budget, and status are preserved.
func (r *Room) Join(id, displayName string) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := NormalizeDisplayName(displayName)
	player, ok := r.players[id]
	if !ok {
		if name == "" {
			name = DefaultDisplayName
		}
		player = r.newPlayerLocked(id, name)
	} else if name != "" {
		player.DisplayName = name
	}
	r.touchLocked()
	return Outcome{Player: *player, Snapshot: r.snapshotLocked(), Rejoined: ok}
}

// ApplyMovement spends the player's budget on displacement and moves the
// player by the applied part of it.
func (r *Room) ApplyMovement(id string, displacement geometry.Vec2) (Outcome, movement.Step) {
	r.mu.Lock()
	defer r.mu.Unlock()

	player, healed := r.ensurePlayerLocked(id)
	step := movement.Apply(player.MovementBudget, displacement)
	player.Position = player.Position.Add(step.Applied)
	player.MovementBudget = step.Remaining
	r.touchLocked()
	return Outcome{Player: *player, Snapshot: r.snapshotLocked(), Healed: healed}, step
}

// SetStatus merges a status patch. Bleed changes are additive and clamped.
func (r *Room) SetStatus(id string, patch StatusPatch) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	player, healed := r.ensurePlayerLocked(id)
	player.Status = player.Status.Apply(patch)
	r.touchLocked()
	return Outcome{Player: *player, Snapshot: r.snapshotLocked(), Healed: healed}
}

// Update merges client-reported fields into a player, creating it if needed.
func (r *Room) Update(id string, patch PlayerPatch) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	player, healed := r.ensurePlayerLocked(id)
	player.apply(patch)
	r.touchLocked()
	return Outcome{Player: *player, Snapshot: r.snapshotLocked(), Healed: healed}
}

// StartNewRound advances the round and restores every budget to the default
// speed. Positions and status are untouched.
func (r *Room) StartNewRound() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.round++
	budget := movement.ResetForNewRound(r.defaultSpeed)
	for _, player := range r.players {
		player.MovementBudget = budget
	}
	r.touchLocked()
	return r.snapshotLocked()
}

// ClaimGameMaster makes id the game master. The last claim wins. It returns
// the previous holder, if any.
func (r *Room) ClaimGameMaster(id string) (previous string, snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous = r.gameMasterID
	r.gameMasterID = id
	r.touchLocked()
	return previous, r.snapshotLocked()
}

// ReleaseGameMaster clears the game master if it is id.
func (r *Room) ReleaseGameMaster(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" || r.gameMasterID != id {
		return r.snapshotLocked(), false
	}
	r.gameMasterID = ""
	r.touchLocked()
	return r.snapshotLocked(), true
}

// GameMaster returns the current game master id, or "".
func (r *Room) GameMaster() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gameMasterID
}

// Remove deletes a player. Removing the game master also clears the role.
func (r *Room) Remove(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.players[id]
	if ok {
		delete(r.players, id)
	}
	cleared := id != "" && r.gameMasterID == id
	if cleared {
		r.gameMasterID = ""
	}
	if ok || cleared {
		r.touchLocked()
	}
	return r.snapshotLocked(), ok
}

// SetDefaultSpeed changes the budget granted at the next round start.
func (r *Room) SetDefaultSpeed(speed float64) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.defaultSpeed = movement.ResetForNewRound(speed)
	r.touchLocked()
	return r.snapshotLocked()
}

// SetFog toggles fog of war. A nil or non-positive radius keeps the current one.
func (r *Room) SetFog(enabled bool, sightRadius *float64) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fog.Enabled = enabled
	if sightRadius != nil && *sightRadius > 0 && !math.IsInf(*sightRadius, 0) {
		r.fog.SightRadius = *sightRadius
	}
	r.touchLocked()
	return r.snapshotLocked()
}

// Reveal records an area that stays visible through the fog.
func (r *Room) Reveal(area visibility.Area) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if area.Center.Finite() && area.Radius > 0 && !math.IsInf(area.Radius, 0) {
		r.fog.Revealed = append(r.fog.Revealed, area)
	}
	r.touchLocked()
	return r.snapshotLocked()
}

// PlaceMarker inserts or moves a marker.
func (r *Room) PlaceMarker(marker visibility.Marker) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if marker.ID != "" && marker.Position.Finite() {
		r.markers[marker.ID] = marker
	}
	r.touchLocked()
	return r.snapshotLocked()
}

// RemoveMarker deletes a marker by id.
func (r *Room) RemoveMarker(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.markers[id]
	if ok {
		delete(r.markers, id)
		r.touchLocked()
	}
	return r.snapshotLocked(), ok
}

// Snapshot returns the current view without mutating the room.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Len returns the number of players.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// LastActive returns the time of the latest mutation.
func (r *Room) LastActive() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActive
}

func (r *Room) newPlayerLocked(id, name string) *Player {
	player := &Player{
		ID:             id,
		DisplayName:    name,
		MovementBudget: movement.ResetForNewRound(r.defaultSpeed),
	}
	r.players[id] = player
	return player
}

func (r *Room) ensurePlayerLocked(id string) (*Player, bool) {
	if player, ok := r.players[id]; ok {
		return player, false
	}
	return r.newPlayerLocked(id, DefaultDisplayName), true
}

func (r *Room) touchLocked() {
	r.seq++
	r.lastActive = r.now()
}

func (r *Room) snapshotLocked() Snapshot {
	players := make(map[string]Player, len(r.players))
	for id, player := range r.players {
		players[id] = *player
	}
	markers := make([]visibility.Marker, 0, len(r.markers))
	for _, marker := range r.markers {
		markers = append(markers, marker)
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i].ID < markers[j].ID })
	fog := r.fog
	fog.Revealed = append([]visibility.Area(nil), r.fog.Revealed...)
	return Snapshot{
		Code:         r.code,
		Seq:          r.seq,
		Round:        r.round,
		DefaultSpeed: r.defaultSpeed,
		GameMasterID: r.gameMasterID,
		Players:      players,
		Fog:          fog,
		Markers:      markers,
	}
}
