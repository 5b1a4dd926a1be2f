package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"dragons-keep/server/internal/campaign"
	"dragons-keep/server/internal/geometry"
	"dragons-keep/server/internal/movement"
	"dragons-keep/server/internal/net/proto"
	"dragons-keep/server/internal/telemetry"
	"dragons-keep/server/internal/visibility"
	"dragons-keep/server/logging"
	"dragons-keep/server/logging/lifecycle"
	"dragons-keep/server/logging/network"
	"dragons-keep/server/logging/rounds"
	"dragons-keep/server/logging/status_effects"
)

// ErrNotGameMaster reports a privileged message from a connection that does
// not hold the room's game-master role. Only returned when enforcement is on.
var ErrNotGameMaster = errors.New("sender is not the game master")

const tracerName = "dragons-keep/server"

// HubConfig captures the tunable parameters for the session registry.
type HubConfig struct {
	DefaultSpeed      float64
	SightRadius       float64
	CodePrefix        string
	IdleTTL           time.Duration
	SendBuffer        int
	EnforceGameMaster bool

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Clock   func() time.Time

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// DefaultHubConfig returns the registry defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		DefaultSpeed: campaign.DefaultSpeed,
		SightRadius:  visibility.DefaultSightRadius,
		CodePrefix:   campaign.DefaultCodePrefix,
		IdleTTL:      10 * time.Minute,
		SendBuffer:   64,
	}
}

// Hub owns every campaign room and the subscribers attached to them.
type Hub struct {
	cfg       HubConfig
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher
	tracer    trace.Tracer
	now       func() time.Time

	mu          sync.Mutex
	rooms       map[string]*roomEntry
	subscribers map[string]*Subscriber
}

type roomEntry struct {
	room *campaign.Room

	mu      sync.Mutex
	members map[string]*Subscriber
	lastSeq uint64
	// lastRound is the round of the newest state frame sent to members.
	lastRound uint64
	evicted   bool
}

// NewHub constructs an empty registry. A nil publisher discards events.
func NewHub(cfg HubConfig, publisher logging.Publisher) *Hub {
	defaults := DefaultHubConfig()
	if cfg.CodePrefix == "" {
		cfg.CodePrefix = defaults.CodePrefix
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if cfg.SightRadius <= 0 {
		cfg.SightRadius = defaults.SightRadius
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	provider := cfg.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Hub{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		publisher:   publisher,
		tracer:      provider.Tracer(tracerName),
		now:         now,
		rooms:       make(map[string]*roomEntry),
		subscribers: make(map[string]*Subscriber),
	}
}

func (h *Hub) startSpan(ctx context.Context, name, code string) (context.Context, trace.Span) {
	return h.tracer.Start(ctx, "hub."+name, trace.WithAttributes(attribute.String("room.code", code)))
}

// Register creates the subscriber for a new connection.
func (h *Hub) Register(ctx context.Context, connID string) *Subscriber {
	sub := NewSubscriber(connID, h.cfg.SendBuffer)
	h.mu.Lock()
	if existing, ok := h.subscribers[connID]; ok {
		existing.Close()
	}
	h.subscribers[connID] = sub
	count := len(h.subscribers)
	h.mu.Unlock()
	h.metrics.Store(telemetry.MetricSubscribersActive, uint64(count))
	return sub
}

// resolveCode normalises a caller-supplied room code.
func resolveCode(raw string) (string, error) {
	code := campaign.NormalizeCode(raw)
	if code == "" {
		code = campaign.LobbyCode
	}
	if err := campaign.ValidateCode(code); err != nil {
		return "", fmt.Errorf("room %q: %w", raw, err)
	}
	return code, nil
}

// attach returns the live entry for code, creating the room if needed, and
// adds sub to its members. Entries evicted concurrently are never returned.
func (h *Hub) attach(ctx context.Context, code string, sub *Subscriber, explicit bool) (*roomEntry, bool) {
	for {
		h.mu.Lock()
		entry, ok := h.rooms[code]
		created := false
		if !ok {
			room := campaign.NewRoom(code, campaign.RoomConfig{
				DefaultSpeed: h.cfg.DefaultSpeed,
				SightRadius:  h.cfg.SightRadius,
				Clock:        h.now,
			})
			entry = &roomEntry{
				room:      room,
				members:   make(map[string]*Subscriber),
				lastRound: room.Snapshot().Round,
			}
			h.rooms[code] = entry
			created = true
		}
		count := len(h.rooms)
		h.mu.Unlock()

		entry.mu.Lock()
		if entry.evicted {
			entry.mu.Unlock()
			continue
		}
		if sub != nil {
			entry.members[sub.ID()] = sub
			sub.member(code)
		}
		entry.mu.Unlock()

		if created {
			h.metrics.Add(telemetry.MetricRoomsCreated, 1)
			h.metrics.Store(telemetry.MetricRoomsActive, uint64(count))
			lifecycle.RoomCreated(ctx, h.publisher, code, lifecycle.RoomCreatedPayload{Explicit: explicit}, nil)
		}
		return entry, created
	}
}

func (h *Hub) lookup(code string) (*roomEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.rooms[code]
	return entry, ok
}

// Join binds sub to playerID inside the room, creating the room on first use.
// An empty playerID falls back to the connection id. Rebinding a connection
// to a different id removes its previous player from the room.
func (h *Hub) Join(ctx context.Context, sub *Subscriber, roomCode, playerID, displayName string) (campaign.Outcome, error) {
	code, err := resolveCode(roomCode)
	if err != nil {
		return campaign.Outcome{}, err
	}
	ctx, span := h.startSpan(ctx, "Join", code)
	defer span.End()

	if playerID == "" {
		playerID = sub.ID()
	}
	entry, _ := h.attach(ctx, code, sub, false)

	entry.mu.Lock()
	if previous := sub.bind(code, playerID); previous != "" && previous != playerID {
		h.removeUnboundLocked(entry, previous)
	}
	entry.mu.Unlock()

	out := entry.room.Join(playerID, displayName)
	if frame, err := proto.EncodeJoined(proto.Joined{RoomCode: code, PlayerID: playerID, ConnectionID: sub.ID()}); err == nil {
		h.deliver(ctx, code, sub, proto.TypeJoined, frame)
	}
	lifecycle.PlayerJoined(ctx, h.publisher, code, out.Snapshot.Round, logging.PlayerRef(playerID), lifecycle.PlayerJoinedPayload{DisplayName: out.Player.DisplayName, Rejoin: out.Rejoined}, map[string]any{"conn": sub.ID()})
	h.broadcastState(ctx, entry, out.Snapshot)
	return out, nil
}

// bindImplicit binds sub to playerID when the connection has not joined the
// room yet, so updates before a join are accepted.
func (h *Hub) bindImplicit(entry *roomEntry, code string, sub *Subscriber, playerID string) string {
	if playerID == "" {
		if bound := sub.PlayerID(code); bound != "" {
			return bound
		}
		playerID = sub.ID()
	}
	entry.mu.Lock()
	if sub.PlayerID(code) == "" {
		sub.bind(code, playerID)
	}
	entry.mu.Unlock()
	return playerID
}

func (h *Hub) reportHealed(ctx context.Context, code string, out campaign.Outcome, operation string) {
	if !out.Healed {
		return
	}
	h.metrics.Add(telemetry.MetricPlayersHealed, 1)
	h.logger.Printf("room %s: %s for unknown player %s created a default entry", code, operation, out.Player.ID)
	lifecycle.PlayerHealed(ctx, h.publisher, code, out.Snapshot.Round, logging.PlayerRef(out.Player.ID), lifecycle.PlayerHealedPayload{Operation: operation}, nil)
}

// Update merges client-reported player fields. Absent fields are unchanged.
func (h *Hub) Update(ctx context.Context, sub *Subscriber, roomCode, playerID string, patch campaign.PlayerPatch) (campaign.Outcome, error) {
	code, err := resolveCode(roomCode)
	if err != nil {
		return campaign.Outcome{}, err
	}
	ctx, span := h.startSpan(ctx, "Update", code)
	defer span.End()

	entry, _ := h.attach(ctx, code, sub, false)
	playerID = h.bindImplicit(entry, code, sub, playerID)
	out := entry.room.Update(playerID, patch)
	h.reportHealed(ctx, code, out, "update")
	if patch.Status != nil && !patch.Status.Empty() {
		h.publishStatus(ctx, sub, out, *patch.Status)
	}
	h.broadcastState(ctx, entry, out.Snapshot)
	return out, nil
}

// Move spends the player's movement budget on a displacement.
func (h *Hub) Move(ctx context.Context, sub *Subscriber, roomCode, playerID string, displacement geometry.Vec2) (campaign.Outcome, movement.Step, error) {
	code, err := resolveCode(roomCode)
	if err != nil {
		return campaign.Outcome{}, movement.Step{}, err
	}
	ctx, span := h.startSpan(ctx, "Move", code)
	defer span.End()

	entry, _ := h.attach(ctx, code, sub, false)
	playerID = h.bindImplicit(entry, code, sub, playerID)
	out, step := entry.room.ApplyMovement(playerID, displacement)
	span.SetAttributes(attribute.Float64("move.fraction", step.Fraction), attribute.Float64("move.remaining", step.Remaining))
	h.reportHealed(ctx, code, out, "move")
	h.broadcastState(ctx, entry, out.Snapshot)
	return out, step, nil
}

// SetStatus merges a status patch into the player.
func (h *Hub) SetStatus(ctx context.Context, sub *Subscriber, roomCode, playerID string, patch campaign.StatusPatch) (campaign.Outcome, error) {
	code, err := resolveCode(roomCode)
	if err != nil {
		return campaign.Outcome{}, err
	}
	ctx, span := h.startSpan(ctx, "SetStatus", code)
	defer span.End()

	entry, _ := h.attach(ctx, code, sub, false)
	playerID = h.bindImplicit(entry, code, sub, playerID)
	out := entry.room.SetStatus(playerID, patch)
	h.reportHealed(ctx, code, out, "status")
	h.publishStatus(ctx, sub, out, patch)
	h.broadcastState(ctx, entry, out.Snapshot)
	return out, nil
}

func (h *Hub) publishStatus(ctx context.Context, sub *Subscriber, out campaign.Outcome, patch campaign.StatusPatch) {
	status := out.Player.Status
	status_effects.Changed(ctx, h.publisher, out.Snapshot.Code, out.Snapshot.Round, logging.ConnectionRef(sub.ID()), logging.PlayerRef(out.Player.ID), status_effects.ChangedPayload{
		Blinded:    status.Blinded,
		Flashed:    status.Flashed,
		BleedLevel: status.BleedLevel,
		BleedDelta: patch.BleedDelta,
	}, nil)
}

// ClaimGameMaster makes the sender the room's game master and announces it.
// An empty room code creates a room with a generated code. The role is held
// by the sender's bound player id, or its connection id when unbound.
func (h *Hub) ClaimGameMaster(ctx context.Context, sub *Subscriber, roomCode string) (string, error) {
	code := campaign.NormalizeCode(roomCode)
	if code == "" {
		code = h.generateCode()
	} else if err := campaign.ValidateCode(code); err != nil {
		return "", fmt.Errorf("room %q: %w", roomCode, err)
	}
	ctx, span := h.startSpan(ctx, "ClaimGameMaster", code)
	defer span.End()

	entry, _ := h.attach(ctx, code, sub, true)
	holder := sub.PlayerID(code)
	if holder == "" {
		holder = sub.ID()
	}
	previous, snap := entry.room.ClaimGameMaster(holder)
	rounds.GameMasterClaimed(ctx, h.publisher, code, snap.Round, logging.EntityRef{ID: holder, Kind: logging.EntityKindGameMaster}, rounds.GameMasterClaimedPayload{Previous: previous}, nil)
	h.broadcastAnnounce(ctx, entry, code, fmt.Sprintf("DM has started campaign %s", code))
	h.broadcastState(ctx, entry, snap)
	return code, nil
}

// authorize enforces the game-master role when configured.
func (h *Hub) authorize(ctx context.Context, entry *roomEntry, code string, sub *Subscriber, messageType string) error {
	if !h.cfg.EnforceGameMaster {
		return nil
	}
	holder := ""
	if entry != nil {
		holder = entry.room.GameMaster()
	}
	if holder != "" && (holder == sub.ID() || holder == sub.PlayerID(code)) {
		return nil
	}
	h.metrics.Add(telemetry.MetricUnauthorized, 1)
	h.logger.Printf("room %s: dropping %s from %s: not the game master", code, messageType, sub.ID())
	network.Unauthorized(ctx, h.publisher, code, logging.ConnectionRef(sub.ID()), network.MessagePayload{MessageType: messageType, Reason: "not game master"}, nil)
	return ErrNotGameMaster
}

// privileged attaches sub to the room of a game-master message and checks
// the role. code must already be resolved.
func (h *Hub) privileged(ctx context.Context, sub *Subscriber, code, messageType string) (*roomEntry, error) {
	entry, _ := h.attach(ctx, code, sub, false)
	if err := h.authorize(ctx, entry, code, sub, messageType); err != nil {
		return nil, err
	}
	return entry, nil
}

// Announce fans a text banner out to the room without changing state.
func (h *Hub) Announce(ctx context.Context, sub *Subscriber, roomCode, text string) error {
	code, err := resolveCode(roomCode)
	if err != nil {
		return err
	}
	ctx, span := h.startSpan(ctx, "Announce", code)
	defer span.End()

	entry, err := h.privileged(ctx, sub, code, proto.TypeDMBroadcast)
	if err != nil {
		return err
	}
	h.broadcastAnnounce(ctx, entry, code, text)
	rounds.Announced(ctx, h.publisher, code, entry.room.Snapshot().Round, logging.ConnectionRef(sub.ID()), nil, rounds.AnnouncedPayload{Text: text, Delivered: true}, nil)
	return nil
}

// SendPrivate delivers a command to exactly one connection: the member of
// the sender's room bound to targetID, or else the connection with that id.
// A missing target is not an error; it reports false.
func (h *Hub) SendPrivate(ctx context.Context, sub *Subscriber, roomCode, targetID, action string, amount *float64) (bool, error) {
	code := campaign.NormalizeCode(roomCode)
	ctx, span := h.startSpan(ctx, "SendPrivate", code)
	defer span.End()

	var round uint64
	entry, _ := h.lookup(code)
	if err := h.authorize(ctx, entry, code, sub, proto.TypeDMPrivate); err != nil {
		return false, err
	}
	if entry != nil {
		round = entry.room.Snapshot().Round
	}

	frame, err := proto.EncodePrivate(proto.Private{RoomCode: code, From: sub.ID(), TargetID: targetID, Action: action, Amount: amount})
	if err != nil {
		return false, fmt.Errorf("encode private command: %w", err)
	}

	target := h.findTarget(entry, code, targetID)
	delivered := false
	if target != nil {
		delivered = h.deliver(ctx, code, target, proto.TypeDMPrivate, frame)
	}
	span.SetAttributes(attribute.Bool("private.delivered", delivered))
	rounds.Announced(ctx, h.publisher, code, round, logging.ConnectionRef(sub.ID()), []logging.EntityRef{{ID: targetID, Kind: logging.EntityKindPlayer}}, rounds.AnnouncedPayload{Action: action, Private: true, Delivered: delivered}, nil)
	return delivered, nil
}

func (h *Hub) findTarget(entry *roomEntry, code, targetID string) *Subscriber {
	if entry != nil {
		entry.mu.Lock()
		for _, member := range entry.members {
			if member.PlayerID(code) == targetID {
				entry.mu.Unlock()
				return member
			}
		}
		entry.mu.Unlock()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribers[targetID]
}

// ResetRound advances the room to a new round and broadcasts the reset.
func (h *Hub) ResetRound(ctx context.Context, sub *Subscriber, roomCode string) (campaign.Snapshot, error) {
	code, err := resolveCode(roomCode)
	if err != nil {
		return campaign.Snapshot{}, err
	}
	ctx, span := h.startSpan(ctx, "ResetRound", code)
	defer span.End()

	entry, err := h.privileged(ctx, sub, code, proto.TypeRoundReset)
	if err != nil {
		return campaign.Snapshot{}, err
	}
	snap := entry.room.StartNewRound()
	span.SetAttributes(attribute.Int64("room.round", int64(snap.Round)))
	rounds.Started(ctx, h.publisher, code, snap.Round, logging.ConnectionRef(sub.ID()), rounds.StartedPayload{DefaultSpeed: snap.DefaultSpeed, Players: len(snap.Players)}, nil)
	h.broadcastState(ctx, entry, snap)
	return snap, nil
}

// Reveal records an area that stays visible through the fog.
func (h *Hub) Reveal(ctx context.Context, sub *Subscriber, roomCode string, area visibility.Area) (campaign.Snapshot, error) {
	return h.roomSetting(ctx, sub, roomCode, proto.TypeDMReveal, func(room *campaign.Room) campaign.Snapshot {
		return room.Reveal(area)
	})
}

// SetFog toggles fog of war and optionally changes the sight radius.
func (h *Hub) SetFog(ctx context.Context, sub *Subscriber, roomCode string, enabled bool, sightRadius *float64) (campaign.Snapshot, error) {
	return h.roomSetting(ctx, sub, roomCode, proto.TypeFog, func(room *campaign.Room) campaign.Snapshot {
		return room.SetFog(enabled, sightRadius)
	})
}

// SetSpeed changes the budget granted from the next round on.
func (h *Hub) SetSpeed(ctx context.Context, sub *Subscriber, roomCode string, speed float64) (campaign.Snapshot, error) {
	return h.roomSetting(ctx, sub, roomCode, proto.TypeSpeed, func(room *campaign.Room) campaign.Snapshot {
		return room.SetDefaultSpeed(speed)
	})
}

// PlaceMarker inserts or moves a map marker.
func (h *Hub) PlaceMarker(ctx context.Context, sub *Subscriber, roomCode string, marker visibility.Marker) (campaign.Snapshot, error) {
	return h.roomSetting(ctx, sub, roomCode, proto.TypeMarker, func(room *campaign.Room) campaign.Snapshot {
		return room.PlaceMarker(marker)
	})
}

// RemoveMarker deletes a map marker.
func (h *Hub) RemoveMarker(ctx context.Context, sub *Subscriber, roomCode, markerID string) (campaign.Snapshot, error) {
	return h.roomSetting(ctx, sub, roomCode, proto.TypeMarkerRemove, func(room *campaign.Room) campaign.Snapshot {
		snap, _ := room.RemoveMarker(markerID)
		return snap
	})
}

func (h *Hub) roomSetting(ctx context.Context, sub *Subscriber, roomCode, messageType string, apply func(*campaign.Room) campaign.Snapshot) (campaign.Snapshot, error) {
	code, err := resolveCode(roomCode)
	if err != nil {
		return campaign.Snapshot{}, err
	}
	ctx, span := h.startSpan(ctx, messageType, code)
	defer span.End()

	entry, err := h.privileged(ctx, sub, code, messageType)
	if err != nil {
		return campaign.Snapshot{}, err
	}
	snap := apply(entry.room)
	h.broadcastState(ctx, entry, snap)
	return snap, nil
}

// Leave removes the sender from a room without closing its connection.
func (h *Hub) Leave(ctx context.Context, sub *Subscriber, roomCode string) {
	code := campaign.NormalizeCode(roomCode)
	ctx, span := h.startSpan(ctx, "Leave", code)
	defer span.End()
	h.leave(ctx, sub, code, "leave")
}

// Disconnect removes the connection from every room it joined, broadcasts
// the departures, and closes the subscriber.
func (h *Hub) Disconnect(ctx context.Context, sub *Subscriber) {
	if sub == nil {
		return
	}
	ctx, span := h.tracer.Start(ctx, "hub.Disconnect", trace.WithAttributes(attribute.String("conn.id", sub.ID())))
	defer span.End()

	for _, code := range sub.Rooms() {
		h.leave(ctx, sub, code, "disconnect")
	}
	sub.Close()

	h.mu.Lock()
	if current, ok := h.subscribers[sub.ID()]; ok && current == sub {
		delete(h.subscribers, sub.ID())
	}
	count := len(h.subscribers)
	h.mu.Unlock()
	h.metrics.Store(telemetry.MetricSubscribersActive, uint64(count))
}

func (h *Hub) leave(ctx context.Context, sub *Subscriber, code, reason string) {
	entry, ok := h.lookup(code)
	if !ok {
		sub.leave(code)
		return
	}

	entry.mu.Lock()
	delete(entry.members, sub.ID())
	playerID, _ := sub.leave(code)
	removed := false
	if playerID != "" {
		removed = h.removeUnboundLocked(entry, playerID)
	}
	entry.mu.Unlock()

	snap, released := entry.room.ReleaseGameMaster(sub.ID())
	if !removed && !released {
		return
	}
	if removed {
		lifecycle.PlayerLeft(ctx, h.publisher, code, snap.Round, logging.PlayerRef(playerID), lifecycle.PlayerLeftPayload{Reason: reason}, map[string]any{"conn": sub.ID()})
	}
	h.broadcastState(ctx, entry, entry.room.Snapshot())
}

// removeUnboundLocked removes playerID from the room unless another member
// is still bound to it. Callers hold entry.mu.
func (h *Hub) removeUnboundLocked(entry *roomEntry, playerID string) bool {
	code := entry.room.Code()
	for _, member := range entry.members {
		if member.PlayerID(code) == playerID {
			return false
		}
	}
	_, removed := entry.room.Remove(playerID)
	return removed
}

// CreateRoom registers a room ahead of any join. An empty code generates a
// fresh one. Creating an existing room is not an error.
func (h *Hub) CreateRoom(ctx context.Context, roomCode string) (string, error) {
	code := campaign.NormalizeCode(roomCode)
	if code == "" {
		code = h.generateCode()
	} else if err := campaign.ValidateCode(code); err != nil {
		return "", fmt.Errorf("room %q: %w", roomCode, err)
	}
	ctx, span := h.startSpan(ctx, "CreateRoom", code)
	defer span.End()
	h.attach(ctx, code, nil, true)
	return code, nil
}

func (h *Hub) generateCode() string {
	for {
		code := campaign.GenerateCode(h.cfg.CodePrefix)
		if _, exists := h.lookup(code); !exists {
			return code
		}
	}
}

// RoomCodes lists the codes currently held by the registry.
func (h *Hub) RoomCodes() []string {
	h.mu.Lock()
	codes := make([]string, 0, len(h.rooms))
	for code := range h.rooms {
		codes = append(codes, code)
	}
	h.mu.Unlock()
	sort.Strings(codes)
	return codes
}

// Snapshot returns the current view of a room without creating it.
func (h *Hub) Snapshot(roomCode string) (campaign.Snapshot, bool) {
	entry, ok := h.lookup(campaign.NormalizeCode(roomCode))
	if !ok {
		return campaign.Snapshot{}, false
	}
	return entry.room.Snapshot(), true
}

// broadcastState queues the snapshot for every member of the room. Stale
// snapshots, whose seq a member has already received, are skipped. The first
// frame sent in a newer round carries the round reset flag, whichever
// mutation produced it. With fog enabled each member bound to a player
// receives only the markers that player can see.
func (h *Hub) broadcastState(ctx context.Context, entry *roomEntry, snap campaign.Snapshot) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if snap.Seq <= entry.lastSeq {
		h.metrics.Add(telemetry.MetricFramesStale, 1)
		return
	}
	entry.lastSeq = snap.Seq
	roundReset := snap.Round > entry.lastRound
	entry.lastRound = snap.Round

	now := h.now()
	var shared []byte
	for _, sub := range entry.members {
		var frame []byte
		viewer := sub.PlayerID(snap.Code)
		if snap.Fog.Enabled && viewer != "" && sub.ID() != snap.GameMasterID {
			data, err := proto.EncodeState(proto.NewState(snap, snap.MarkersFor(viewer), roundReset, now))
			if err != nil {
				h.logger.Printf("room %s: failed to marshal state for %s: %v", snap.Code, sub.ID(), err)
				continue
			}
			frame = data
		} else {
			if shared == nil {
				data, err := proto.EncodeState(proto.NewState(snap, snap.Markers, roundReset, now))
				if err != nil {
					h.logger.Printf("room %s: failed to marshal state: %v", snap.Code, err)
					return
				}
				shared = data
			}
			frame = shared
		}
		h.deliver(ctx, snap.Code, sub, proto.TypeState, frame)
	}
	h.metrics.Add(telemetry.MetricBroadcasts, 1)
}

func (h *Hub) broadcastAnnounce(ctx context.Context, entry *roomEntry, code, text string) {
	frame, err := proto.EncodeAnnounce(proto.Announce{RoomCode: code, Text: text})
	if err != nil {
		h.logger.Printf("room %s: failed to marshal announcement: %v", code, err)
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	for _, sub := range entry.members {
		h.deliver(ctx, code, sub, proto.TypeAnnounce, frame)
	}
}

// deliver queues one frame. Failures are counted and never propagate.
func (h *Hub) deliver(ctx context.Context, code string, sub *Subscriber, messageType string, frame []byte) bool {
	if err := sub.Enqueue(frame); err != nil {
		h.metrics.Add(telemetry.MetricFramesDropped, 1)
		network.DeliveryDropped(ctx, h.publisher, code, logging.ConnectionRef(sub.ID()), network.DeliveryPayload{MessageType: messageType, Reason: err.Error()}, nil)
		return false
	}
	h.metrics.Add(telemetry.MetricFramesQueued, 1)
	return true
}
