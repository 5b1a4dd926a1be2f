package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"dragons-keep/server"
	"dragons-keep/server/internal/net/proto"
	"dragons-keep/server/logging"
	"dragons-keep/server/logging/network"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []logging.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event logging.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) count(eventType logging.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, event := range p.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

func newRelay(t *testing.T) (*server.Hub, *recordingPublisher, *httptest.Server) {
	t.Helper()
	pub := &recordingPublisher{}
	hub := server.NewHub(server.DefaultHubConfig(), pub)
	handler := NewHandler(hub, HandlerConfig{Publisher: pub})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)
	return hub, pub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, srv.URL), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
		if resp != nil {
			resp.Body.Close()
		}
	})
	return conn
}

func send(t *testing.T, conn *websocket.Conn, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal message: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}
}

// readType reads frames until one of the given type arrives.
func readType(t *testing.T, conn *websocket.Conn, messageType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("failed waiting for %s frame: %v", messageType, err)
		}
		var frame map[string]any
		if err := json.Unmarshal(payload, &frame); err != nil {
			t.Fatalf("failed to decode frame %s: %v", payload, err)
		}
		if frame["type"] == messageType {
			return frame
		}
	}
}

// readStateWith reads state frames until check accepts one.
func readStateWith(t *testing.T, conn *websocket.Conn, check func(map[string]any) bool) map[string]any {
	t.Helper()
	for {
		state := readType(t, conn, proto.TypeState)
		if check(state) {
			return state
		}
	}
}

func playerCount(state map[string]any) int {
	players, _ := state["players"].(map[string]any)
	return len(players)
}

func TestRelayJoinBroadcastsToRoom(t *testing.T) {
	_, _, srv := newRelay(t)
	first := dial(t, srv)
	second := dial(t, srv)

	send(t, first, map[string]any{"type": "join", "roomCode": "drgn-abcd", "id": "p1", "displayName": "Aria"})
	joined := readType(t, first, proto.TypeJoined)
	if joined["roomCode"] != "DRGN-ABCD" || joined["id"] != "p1" {
		t.Fatalf("unexpected joined frame: %v", joined)
	}
	readStateWith(t, first, func(s map[string]any) bool { return playerCount(s) == 1 })

	send(t, second, map[string]any{"type": "join", "campaignId": "DRGN-ABCD", "id": "p2", "name": "Bram"})
	state := readStateWith(t, first, func(s map[string]any) bool { return playerCount(s) == 2 })
	p2 := state["players"].(map[string]any)["p2"].(map[string]any)
	if p2["displayName"] != "Bram" {
		t.Fatalf("expected aliased name to be applied, got %v", p2["displayName"])
	}
}

func TestRelayMoveUsesSessionDefaults(t *testing.T) {
	_, _, srv := newRelay(t)
	conn := dial(t, srv)

	send(t, conn, map[string]any{"type": "join", "id": "p1"})
	joined := readType(t, conn, proto.TypeJoined)
	if joined["roomCode"] != "LOBBY" {
		t.Fatalf("expected lobby default, got %v", joined["roomCode"])
	}

	send(t, conn, map[string]any{"type": "move", "dx": 40, "dy": 0})
	state := readStateWith(t, conn, func(s map[string]any) bool {
		p1, _ := s["players"].(map[string]any)["p1"].(map[string]any)
		return p1 != nil && p1["movementBudget"] == float64(0)
	})
	p1 := state["players"].(map[string]any)["p1"].(map[string]any)
	position := p1["position"].(map[string]any)
	if position["x"] != float64(30) {
		t.Fatalf("expected movement truncated at x=30, got %v", position["x"])
	}
}

func TestRelayMalformedMessageKeepsConnectionOpen(t *testing.T) {
	_, pub, srv := newRelay(t)
	conn := dial(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("failed to send malformed payload: %v", err)
	}
	send(t, conn, map[string]any{"type": "dm_broadcast", "roomCode": "DRGN-ABCD"})
	send(t, conn, map[string]any{"type": "teleport"})
	send(t, conn, map[string]any{"type": "heartbeat", "sentAt": time.Now().UnixMilli()})

	ack := readType(t, conn, proto.TypeHeartbeat)
	if ack["serverTime"] == nil || ack["clientTime"] == nil {
		t.Fatalf("expected heartbeat timing fields, got %v", ack)
	}
	if got := pub.count(network.EventMalformedMessage); got != 2 {
		t.Fatalf("expected two malformed events, got %d", got)
	}
	if got := pub.count(network.EventUnknownMessage); got != 1 {
		t.Fatalf("expected one unknown message event, got %d", got)
	}
}

func TestRelayPrivateCommandReachesOnlyTarget(t *testing.T) {
	_, _, srv := newRelay(t)
	dm := dial(t, srv)
	target := dial(t, srv)
	bystander := dial(t, srv)

	send(t, dm, map[string]any{"type": "dm_create", "roomCode": "DRGN-PRIV"})
	announce := readType(t, dm, proto.TypeAnnounce)
	if announce["text"] != "DM has started campaign DRGN-PRIV" {
		t.Fatalf("unexpected announcement: %v", announce)
	}
	send(t, target, map[string]any{"type": "join", "roomCode": "DRGN-PRIV", "id": "p1"})
	readType(t, target, proto.TypeJoined)
	send(t, bystander, map[string]any{"type": "join", "roomCode": "DRGN-PRIV", "id": "p2"})
	readType(t, bystander, proto.TypeJoined)

	send(t, dm, map[string]any{"type": "dm_private", "roomCode": "DRGN-PRIV", "to": "p1", "action": "blind"})
	send(t, dm, map[string]any{"type": "dm_broadcast", "roomCode": "DRGN-PRIV", "text": "after"})

	private := readType(t, target, proto.TypeDMPrivate)
	if private["action"] != "blind" || private["targetId"] != "p1" {
		t.Fatalf("unexpected private frame: %v", private)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		bystander.SetReadDeadline(deadline)
		_, payload, err := bystander.ReadMessage()
		if err != nil {
			t.Fatalf("failed waiting for announcement: %v", err)
		}
		var frame map[string]any
		if err := json.Unmarshal(payload, &frame); err != nil {
			t.Fatalf("failed to decode frame: %v", err)
		}
		if frame["type"] == proto.TypeDMPrivate {
			t.Fatalf("bystander received a private command: %v", frame)
		}
		if frame["type"] == proto.TypeAnnounce && frame["text"] == "after" {
			break
		}
	}
}

func TestRelayDisconnectBroadcastsDeparture(t *testing.T) {
	hub, _, srv := newRelay(t)
	stay := dial(t, srv)
	leave := dial(t, srv)

	send(t, stay, map[string]any{"type": "join", "roomCode": "DRGN-GONE", "id": "p1"})
	readType(t, stay, proto.TypeJoined)
	send(t, leave, map[string]any{"type": "join", "roomCode": "DRGN-GONE", "id": "p2"})
	readStateWith(t, stay, func(s map[string]any) bool { return playerCount(s) == 2 })

	leave.Close()

	readStateWith(t, stay, func(s map[string]any) bool { return playerCount(s) == 1 })
	snap, ok := hub.Snapshot("DRGN-GONE")
	if !ok {
		t.Fatalf("expected room to remain")
	}
	if _, present := snap.Player("p2"); present {
		t.Fatalf("expected p2 removed after disconnect")
	}
}

func TestRelayRoundResetFlag(t *testing.T) {
	_, _, srv := newRelay(t)
	conn := dial(t, srv)

	send(t, conn, map[string]any{"type": "join", "roomCode": "DRGN-RND", "id": "p1"})
	readType(t, conn, proto.TypeJoined)
	send(t, conn, map[string]any{"type": "round_reset"})

	state := readStateWith(t, conn, func(s map[string]any) bool { return s["roundReset"] == true })
	if state["round"] != float64(2) {
		t.Fatalf("expected round 2, got %v", state["round"])
	}
}

func TestStateString(t *testing.T) {
	if StateJoined.String() != "joined" || State(9).String() != "state(9)" {
		t.Fatalf("unexpected state names: %s %s", StateJoined, State(9))
	}
}

func websocketURL(t *testing.T, baseURL string) string {
	t.Helper()

	parsed, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("failed to parse test server url: %v", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	}
	return parsed.String()
}
