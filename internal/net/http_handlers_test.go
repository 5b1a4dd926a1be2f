package net

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"dragons-keep/server"
	"dragons-keep/server/internal/net/proto"
	"dragons-keep/server/logging"
)

type stubRouter struct{ stats logging.RouterStats }

func (s stubRouter) Stats() logging.RouterStats { return s.stats }

func newTestHandler(t *testing.T) (*server.Hub, http.Handler) {
	t.Helper()
	hub := server.NewHub(server.DefaultHubConfig(), nil)
	return hub, NewHTTPHandler(hub, HTTPHandlerConfig{})
}

func serve(handler http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestHTTPCreateCampaignGeneratesCode(t *testing.T) {
	hub, handler := newTestHandler(t)

	resp := serve(handler, http.MethodPost, "/create-campaign", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d: %s", resp.Code, resp.Body.String())
	}
	var payload createCampaignResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !payload.OK || payload.CampaignID == "" {
		t.Fatalf("expected generated campaign id, got %+v", payload)
	}
	if codes := hub.RoomCodes(); len(codes) != 1 || codes[0] != payload.CampaignID {
		t.Fatalf("expected registry to hold %s, got %v", payload.CampaignID, codes)
	}
}

func TestHTTPCreateCampaignHonorsCallerCode(t *testing.T) {
	_, handler := newTestHandler(t)

	resp := serve(handler, http.MethodPost, "/create-campaign", []byte(`{"campaignId":"drgn-mine"}`))
	var payload createCampaignResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.CampaignID != "DRGN-MINE" {
		t.Fatalf("expected normalised caller code, got %+v", payload)
	}

	resp = serve(handler, http.MethodPost, "/create-campaign", []byte(`{"code":"two words"}`))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid code, got %d", resp.Code)
	}
	resp = serve(handler, http.MethodPost, "/create-campaign", []byte(`{`))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid payload, got %d", resp.Code)
	}
	resp = serve(handler, http.MethodGet, "/create-campaign", nil)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.Code)
	}
}

func TestHTTPCampaignsListsRoomCodes(t *testing.T) {
	hub, handler := newTestHandler(t)
	ctx := context.Background()
	hub.CreateRoom(ctx, "BETA")
	hub.CreateRoom(ctx, "ALPHA")

	resp := serve(handler, http.MethodGet, "/campaigns", nil)
	var codes []string
	if err := json.Unmarshal(resp.Body.Bytes(), &codes); err != nil {
		t.Fatalf("failed to decode codes: %v", err)
	}
	if len(codes) != 2 || codes[0] != "ALPHA" || codes[1] != "BETA" {
		t.Fatalf("expected sorted codes, got %v", codes)
	}
}

func TestHTTPCampaignSnapshot(t *testing.T) {
	hub, handler := newTestHandler(t)
	sub := hub.Register(context.Background(), "conn-1")
	if _, err := hub.Join(context.Background(), sub, "DRGN-SNAP", "p1", "Aria"); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	resp := serve(handler, http.MethodGet, "/campaigns/drgn-snap", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	var state proto.State
	if err := json.Unmarshal(resp.Body.Bytes(), &state); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	if state.Type != proto.TypeState || state.RoomCode != "DRGN-SNAP" || state.Players["p1"].DisplayName != "Aria" {
		t.Fatalf("unexpected snapshot: %+v", state)
	}

	if resp := serve(handler, http.MethodGet, "/campaigns/NOPE", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown room, got %d", resp.Code)
	}
}

func TestHTTPDiagnosticsIncludesCounters(t *testing.T) {
	hub := server.NewHub(server.DefaultHubConfig(), nil)
	metrics := &logging.Metrics{}
	metrics.TelemetryAdd("frames_queued", 3)
	handler := NewHTTPHandler(hub, HTTPHandlerConfig{
		Router:   stubRouter{stats: logging.RouterStats{EventsTotal: 7}},
		Counters: metrics,
	})

	resp := serve(handler, http.MethodGet, "/diagnostics", nil)
	var payload map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode diagnostics: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", payload["status"])
	}
	router, ok := payload["router"].(map[string]any)
	if !ok || router["eventsTotal"] != float64(7) {
		t.Fatalf("expected router stats, got %v", payload["router"])
	}
	telemetry, ok := payload["telemetry"].(map[string]any)
	if !ok || telemetry["frames_queued"] != float64(3) {
		t.Fatalf("expected telemetry counters, got %v", payload["telemetry"])
	}
}

func TestHTTPCORSPreflight(t *testing.T) {
	_, handler := newTestHandler(t)

	resp := serve(handler, http.MethodOptions, "/create-campaign", nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", resp.Code)
	}
	if origin := resp.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("expected permissive origin, got %q", origin)
	}
}

func TestHTTPServesClientDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>keep</h1>"), 0o644); err != nil {
		t.Fatalf("failed to write client file: %v", err)
	}
	hub := server.NewHub(server.DefaultHubConfig(), nil)
	handler := NewHTTPHandler(hub, HTTPHandlerConfig{ClientDir: dir})

	resp := serve(handler, http.MethodGet, "/", nil)
	if resp.Code != http.StatusOK || !bytes.Contains(resp.Body.Bytes(), []byte("keep")) {
		t.Fatalf("expected client index, got %d %q", resp.Code, resp.Body.String())
	}
	if resp := serve(handler, http.MethodGet, "/health", nil); resp.Body.String() != "ok" {
		t.Fatalf("expected health ok, got %q", resp.Body.String())
	}
}
