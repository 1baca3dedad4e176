// Package server exposes the stream management API and the live WebSocket
// feed. It owns no stream state itself: workers live in the registry, stream
// outputs live in the state store.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/crowdsight/crowd-density-server/internal/alerts"
	"github.com/crowdsight/crowd-density-server/internal/config"
	"github.com/crowdsight/crowd-density-server/internal/ingest"
	"github.com/crowdsight/crowd-density-server/internal/logger"
	"github.com/crowdsight/crowd-density-server/internal/metrics"
	"github.com/crowdsight/crowd-density-server/internal/state"
	"github.com/crowdsight/crowd-density-server/internal/worker"
	"github.com/crowdsight/crowd-density-server/internal/zones"
)

// Server wires the HTTP surface to the worker registry and state store.
type Server struct {
	cfg      *config.Config
	log      *logger.Logger
	store    state.Store
	registry *worker.Registry
	caps     worker.Capabilities
	sink     alerts.Sink
	mets     *metrics.Metrics
	backend  string // state backend name reported by /health

	upgrader websocket.Upgrader
}

// New returns a configured API server.
func New(cfg *config.Config, log *logger.Logger, store state.Store, registry *worker.Registry, caps worker.Capabilities, sink alerts.Sink, mets *metrics.Metrics, backend string) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		store:    store,
		registry: registry,
		caps:     caps,
		sink:     sink,
		mets:     mets,
		backend:  backend,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Browser dashboards connect cross-origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /streams", s.handleCreateStream)
	mux.HandleFunc("GET /streams", s.handleListStreams)
	mux.HandleFunc("GET /streams/{id}/stats", s.handleStreamStats)
	mux.HandleFunc("DELETE /streams/{id}", s.handleDeleteStream)
	mux.HandleFunc("GET /models", s.handleModels)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws/streams/{id}/live", s.handleLive)

	return withCORS(mux)
}

// withCORS allows any origin; the API fronts browser dashboards on other
// hosts and carries no credentials.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type createStreamRequest struct {
	Name      string                 `json:"name"`
	Source    ingest.Config          `json:"source"`
	Inference worker.InferenceConfig `json:"inference"`
	Zones     []zones.Zone           `json:"zones"`
	Output    worker.OutputConfig    `json:"output"`
}

func (s *Server) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	var req createStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid stream definition"}, http.StatusBadRequest)
		return
	}
	if req.Source.Kind == "" {
		writeJSONWithStatus(w, map[string]any{"error": "source.kind is required"}, http.StatusBadRequest)
		return
	}
	for _, z := range req.Zones {
		if len(z.Polygon) < 3 {
			writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("zone %s: polygon needs at least 3 points", z.ID)}, http.StatusBadRequest)
			return
		}
	}

	cfg := worker.StreamConfig{
		ID:        worker.NewStreamID(),
		Name:      req.Name,
		Source:    req.Source,
		Inference: req.Inference,
		Zones:     req.Zones,
		Output:    req.Output,
	}

	wk, err := worker.New(cfg, s.cfg, s.caps, s.store, s.sink, s.mets, s.log)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	if err := wk.Start(r.Context()); err != nil {
		s.log.Warn("Server", "stream %s failed to start: %v", cfg.ID, err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadGateway)
		return
	}
	if err := s.registry.Add(wk); err != nil {
		_ = wk.Stop(r.Context())
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusConflict)
		return
	}

	writeJSONWithStatus(w, map[string]any{"id": cfg.ID, "status": wk.Status()}, http.StatusCreated)
}

func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	workers := s.registry.List()
	streams := make([]map[string]any, 0, len(workers))
	for _, wk := range workers {
		streams = append(streams, map[string]any{
			"id":     wk.Config().ID,
			"name":   wk.Config().Name,
			"status": wk.Status(),
		})
	}
	writeJSON(w, map[string]any{"streams": streams, "total": len(streams)})
}

func (s *Server) handleStreamStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.registry.Get(id); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "stream not found"}, http.StatusNotFound)
		return
	}

	snap, err := s.store.GetStats(r.Context(), id)
	if errors.Is(err, state.ErrNotFound) {
		// Known stream, no frames yet: zero-valued snapshot.
		snap = &state.Snapshot{StreamID: id, Zones: []zones.Stat{}, UpdatedAt: time.Time{}}
	} else if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "state backend unavailable"}, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleDeleteStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.registry.Remove(r.Context(), id)
	if errors.Is(err, worker.ErrNotFound) {
		writeJSONWithStatus(w, map[string]any{"error": "stream not found"}, http.StatusNotFound)
		return
	}
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models := []map[string]any{}
	if s.caps.Detector != nil {
		models = append(models, map[string]any{
			"name": "detector", "type": "bounding-box",
			"description": "per-person boxes, best for sparse scenes",
		})
	}
	if s.caps.Density != nil {
		models = append(models, map[string]any{
			"name": "density", "type": "density-map",
			"description": "crowd density surface, best for dense scenes",
		})
	}
	if s.caps.Detector != nil && s.caps.Density != nil {
		models = append(models, map[string]any{
			"name": "hybrid", "type": "auto",
			"description": "per-frame selection by scene complexity",
		})
	}
	writeJSON(w, map[string]any{"models": models})
}

// handleLogin is a placeholder: it accepts any credentials and mints an
// opaque token. Real authentication sits in front of this service.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username == "" {
		writeJSONWithStatus(w, map[string]any{"error": "username required"}, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"access_token": uuid.NewString(),
		"token_type":   "bearer",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "ok",
		"active_streams": s.registry.Len(),
		"state_backend":  s.backend,
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
