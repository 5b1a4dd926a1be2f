package ws

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"dragons-keep/server"
	"dragons-keep/server/internal/campaign"
	"dragons-keep/server/internal/net/proto"
	"dragons-keep/server/internal/telemetry"
	"dragons-keep/server/logging"
	"dragons-keep/server/logging/network"
)

// State is the lifecycle stage of one relay connection.
type State int

const (
	StateConnecting State = iota
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// session tracks one connection. Only the read loop touches its fields.
type session struct {
	h     *Handler
	conn  *websocket.Conn
	sub   *server.Subscriber
	state State
	// room is the last room joined; messages without a room code use it.
	room string
}

func newSession(h *Handler, conn *websocket.Conn, sub *server.Subscriber) *session {
	return &session{h: h, conn: conn, sub: sub, state: StateConnecting}
}

func (s *session) run(ctx context.Context) {
	defer s.close(ctx)

	s.conn.SetReadLimit(maxMessageBytes)
	s.conn.SetReadDeadline(s.h.now().Add(s.h.pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(s.h.now().Add(s.h.pongWait))
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) && !s.sub.Closed() {
				s.h.logger.Printf("read from %s ended: %v", s.sub.ID(), err)
			}
			return
		}
		s.conn.SetReadDeadline(s.h.now().Add(s.h.pongWait))
		s.h.metrics.Add(telemetry.MetricMessagesReceived, 1)

		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			s.malformed(ctx, msg, len(payload), err)
			continue
		}
		s.applyDefaults(&msg)
		if err := msg.Validate(); err != nil {
			s.malformed(ctx, msg, len(payload), err)
			continue
		}
		if err := s.dispatch(ctx, msg); err != nil {
			s.h.logger.Printf("%s from %s in room %s rejected: %v", msg.Type, s.sub.ID(), msg.RoomCode, err)
		}
	}
}

func (s *session) close(ctx context.Context) {
	s.h.hub.Disconnect(ctx, s.sub)
	s.state = StateDisconnected
}

// applyDefaults fills the room code and player id a message left out from
// the session, so clients only need to name them once.
func (s *session) applyDefaults(msg *proto.ClientMessage) {
	if !msg.IsRoomScoped() {
		return
	}
	if msg.RoomCode == "" && msg.Type != proto.TypeDMCreate {
		msg.RoomCode = s.room
		if msg.RoomCode == "" && msg.Type == proto.TypeJoin {
			msg.RoomCode = campaign.LobbyCode
		}
	}
	switch msg.Type {
	case proto.TypeJoin, proto.TypeUpdate, proto.TypeMove, proto.TypeStatus:
		if msg.ID == "" {
			msg.ID = s.sub.PlayerID(msg.RoomCode)
		}
		if msg.ID == "" {
			msg.ID = s.sub.ID()
		}
	}
}

func (s *session) malformed(ctx context.Context, msg proto.ClientMessage, size int, err error) {
	actor := logging.ConnectionRef(s.sub.ID())
	payload := network.MessagePayload{MessageType: msg.Type, Reason: err.Error(), Bytes: size}
	if errors.Is(err, proto.ErrUnknownType) {
		s.h.logger.Printf("unknown message type %q from %s", msg.Type, s.sub.ID())
		network.UnknownMessage(ctx, s.h.publisher, msg.RoomCode, actor, payload, nil)
		return
	}
	s.h.metrics.Add(telemetry.MetricMessagesMalformed, 1)
	s.h.logger.Printf("discarding malformed message from %s: %v", s.sub.ID(), err)
	network.MalformedMessage(ctx, s.h.publisher, msg.RoomCode, actor, payload, nil)
}

func (s *session) dispatch(ctx context.Context, msg proto.ClientMessage) error {
	hub := s.h.hub
	switch msg.Type {
	case proto.TypeJoin:
		name := ""
		if msg.DisplayName != nil {
			name = *msg.DisplayName
		}
		out, err := hub.Join(ctx, s.sub, msg.RoomCode, msg.ID, name)
		if err != nil {
			return err
		}
		s.joined(out.Snapshot.Code)
	case proto.TypeUpdate:
		out, err := hub.Update(ctx, s.sub, msg.RoomCode, msg.ID, msg.PlayerPatch())
		if err != nil {
			return err
		}
		s.joined(out.Snapshot.Code)
	case proto.TypeMove:
		out, _, err := hub.Move(ctx, s.sub, msg.RoomCode, msg.ID, msg.Displacement())
		if err != nil {
			return err
		}
		s.joined(out.Snapshot.Code)
	case proto.TypeStatus:
		out, err := hub.SetStatus(ctx, s.sub, msg.RoomCode, msg.ID, msg.StatusPatch())
		if err != nil {
			return err
		}
		s.joined(out.Snapshot.Code)
	case proto.TypeLeave:
		hub.Leave(ctx, s.sub, msg.RoomCode)
		if msg.RoomCode == s.room {
			s.room = ""
			s.state = StateConnecting
		}
	case proto.TypeDMCreate:
		code, err := hub.ClaimGameMaster(ctx, s.sub, msg.RoomCode)
		if err != nil {
			return err
		}
		if s.room == "" {
			s.room = code
		}
	case proto.TypeDMBroadcast:
		return hub.Announce(ctx, s.sub, msg.RoomCode, msg.Text)
	case proto.TypeDMPrivate:
		room := msg.RoomCode
		if room == "" {
			room = s.room
		}
		delivered, err := hub.SendPrivate(ctx, s.sub, room, msg.TargetID, msg.Action, msg.Amount)
		if err != nil {
			return err
		}
		if !delivered {
			s.h.logger.Printf("private %s from %s: no connection for %s", msg.Action, s.sub.ID(), msg.TargetID)
		}
	case proto.TypeDMReveal:
		_, err := hub.Reveal(ctx, s.sub, msg.RoomCode, msg.RevealArea())
		return err
	case proto.TypeRoundReset:
		_, err := hub.ResetRound(ctx, s.sub, msg.RoomCode)
		return err
	case proto.TypeFog:
		_, err := hub.SetFog(ctx, s.sub, msg.RoomCode, *msg.Enabled, msg.SightRadius)
		return err
	case proto.TypeSpeed:
		_, err := hub.SetSpeed(ctx, s.sub, msg.RoomCode, *msg.DefaultSpeed)
		return err
	case proto.TypeMarker:
		_, err := hub.PlaceMarker(ctx, s.sub, msg.RoomCode, msg.MarkerValue())
		return err
	case proto.TypeMarkerRemove:
		_, err := hub.RemoveMarker(ctx, s.sub, msg.RoomCode, msg.MarkerID)
		return err
	case proto.TypeHeartbeat:
		return s.heartbeat(msg.SentAt)
	}
	return nil
}

func (s *session) joined(code string) {
	if s.state != StateJoined {
		s.h.logger.Printf("connection %s %s -> %s in room %s", s.sub.ID(), s.state, StateJoined, code)
	}
	s.state = StateJoined
	s.room = code
}

func (s *session) heartbeat(sentAt int64) error {
	now := s.h.now()
	var rtt int64
	if sentAt > 0 {
		if delta := now.UnixMilli() - sentAt; delta > 0 {
			rtt = delta
		}
	}
	frame, err := proto.EncodeHeartbeat(proto.Heartbeat{ServerTime: now.UnixMilli(), ClientTime: sentAt, RTTMillis: rtt})
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}
	return s.sub.Enqueue(frame)
}
