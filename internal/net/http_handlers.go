package net

import (
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"strings"
	"time"

	"dragons-keep/server"
	"dragons-keep/server/internal/campaign"
	"dragons-keep/server/internal/net/proto"
	"dragons-keep/server/internal/telemetry"
	"dragons-keep/server/logging"
)

// RouterStatsSource exposes event router counters.
type RouterStatsSource interface {
	Stats() logging.RouterStats
}

// CounterSource exposes free-form telemetry counters.
type CounterSource interface {
	Snapshot() map[string]uint64
}

type HTTPHandlerConfig struct {
	ClientDir string
	Logger    telemetry.Logger
	// Relay serves /ws. Nil leaves the route unregistered.
	Relay    nethttp.Handler
	Router   RouterStatsSource
	Counters CounterSource
	Clock    func() time.Time
}

type createCampaignRequest struct {
	Code       string `json:"code"`
	CampaignID string `json:"campaignId"`
}

type createCampaignResponse struct {
	OK         bool   `json:"ok"`
	CampaignID string `json:"campaignId,omitempty"`
	Error      string `json:"error,omitempty"`
}

func NewHTTPHandler(hub *server.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/campaigns", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, logger, nethttp.StatusOK, hub.RoomCodes())
	})

	mux.HandleFunc("/campaigns/", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		code := strings.TrimPrefix(r.URL.Path, "/campaigns/")
		snap, ok := hub.Snapshot(code)
		if !ok {
			httpError(w, "campaign not found", nethttp.StatusNotFound)
			return
		}
		writeJSON(w, logger, nethttp.StatusOK, proto.NewState(snap, snap.Markers, false, now()))
	})

	mux.HandleFunc("/create-campaign", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}

		var req createCampaignRequest
		if r.Body != nil {
			defer r.Body.Close()
			decoder := json.NewDecoder(r.Body)
			if err := decoder.Decode(&req); err != nil && err != io.EOF {
				writeJSON(w, logger, nethttp.StatusBadRequest, createCampaignResponse{Error: "invalid payload"})
				return
			}
		}
		code := req.Code
		if code == "" {
			code = req.CampaignID
		}

		created, err := hub.CreateRoom(r.Context(), code)
		if err != nil {
			status := nethttp.StatusInternalServerError
			if errors.Is(err, campaign.ErrInvalidCode) {
				status = nethttp.StatusBadRequest
			}
			writeJSON(w, logger, status, createCampaignResponse{Error: err.Error()})
			return
		}
		writeJSON(w, logger, nethttp.StatusOK, createCampaignResponse{OK: true, CampaignID: created})
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string               `json:"status"`
			ServerTime int64                `json:"serverTime"`
			Hub        server.Diagnostics   `json:"hub"`
			Router     *logging.RouterStats `json:"router,omitempty"`
			Telemetry  map[string]uint64    `json:"telemetry,omitempty"`
		}{
			Status:     "ok",
			ServerTime: now().UnixMilli(),
			Hub:        hub.Diagnostics(),
		}
		if cfg.Router != nil {
			stats := cfg.Router.Stats()
			payload.Router = &stats
		}
		if cfg.Counters != nil {
			payload.Telemetry = cfg.Counters.Snapshot()
		}
		writeJSON(w, logger, nethttp.StatusOK, payload)
	})

	if cfg.Relay != nil {
		mux.Handle("/ws", cfg.Relay)
	}

	if cfg.ClientDir != "" {
		fs := nethttp.FileServer(nethttp.Dir(cfg.ClientDir))
		mux.Handle("/", fs)
	}

	return withCORS(mux)
}

// withCORS allows browser clients served from another origin.
func withCORS(next nethttp.Handler) nethttp.Handler {
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == nethttp.MethodOptions {
			w.WriteHeader(nethttp.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w nethttp.ResponseWriter, logger telemetry.Logger, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("failed to encode response: %v", err)
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
