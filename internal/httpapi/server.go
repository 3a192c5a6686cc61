package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/jobnova/interviewd/internal/config"
	"github.com/jobnova/interviewd/internal/interview"
	"github.com/jobnova/interviewd/internal/observability"
	"github.com/jobnova/interviewd/internal/policy"
	"github.com/jobnova/interviewd/internal/transcript"
)

// Server exposes the interview controller over HTTP and websocket.
type Server struct {
	cfg      config.Config
	store    transcript.Store
	orch     *interview.Orchestrator
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, store transcript.Store, orch *interview.Orchestrator, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		store:   store,
		orch:    orch,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browser connections must come from the same origin unless
				// explicitly opened up; non-browser clients omit Origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/turns", s.handlePerfTurns)

	r.Post("/api/interview/sessions", s.handleCreateSession)
	r.Get("/api/interview/sessions/{id}/messages", s.handleListMessages)
	r.Get("/api/interview/sessions/{id}/ws", s.handleSessionWS)
	r.Post("/api/interview/engine/next_turn", s.handleEngineNextTurn)
	r.Post("/api/interview/ui/next_turn", s.handleUINextTurn)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handlePerfTurns(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SnapshotTurns())
}

type createSessionRequest struct {
	CandidateName string `json:"candidate_name"`
	Role          string `json:"role"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	candidate := strings.TrimSpace(req.CandidateName)
	if candidate == "" {
		candidate = "Candidate"
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = "AI Algorithm Engineer Intern"
	}

	sess, err := s.store.CreateSession(r.Context(), newRoomName(), candidate, role)
	if err != nil {
		if errors.Is(err, transcript.ErrRoomActive) {
			respondError(w, http.StatusConflict, "room_active", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}
	s.metrics.SessionEvents.WithLabelValues("created").Inc()
	s.metrics.ActiveSessions.Inc()

	respondJSON(w, http.StatusCreated, map[string]any{
		"session_id":     sess.ID,
		"room_name":      sess.RoomName,
		"candidate_name": sess.CandidateName,
		"role":           sess.Role,
		"status":         sess.Status,
		"stage":          sess.Stage,
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", "Unknown session_id")
		return
	}
	msgs, err := s.store.ListMessages(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":       sess.ID,
		"status":           sess.Status,
		"stage":            sess.Stage,
		"stage_started_at": sess.StageStartedAt,
		"last_turn_at":     sess.LastTurnAt,
		"messages":         msgs,
	})
}

type nextTurnRequest struct {
	SessionID string `json:"session_id"`
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	UserText  string `json:"user_text"`
}

// handleEngineNextTurn is the protected ingestion path used by the speech
// bridge. A bad or missing secret fails before any side effect.
func (s *Server) handleEngineNextTurn(w http.ResponseWriter, r *http.Request) {
	if !policy.VerifyIngestSecret(s.cfg.IngestSecret, r.Header.Get("X-Ingest-Secret")) {
		respondError(w, http.StatusForbidden, "bad_ingest_secret", "Bad ingest secret")
		return
	}
	s.handleNextTurn(w, r)
}

// handleUINextTurn serves browser debug clients and only exists when the
// debug UI flag is on.
func (s *Server) handleUINextTurn(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.DebugUI {
		respondError(w, http.StatusForbidden, "ui_disabled", "UI endpoint disabled")
		return
	}
	s.handleNextTurn(w, r)
}

func (s *Server) handleNextTurn(w http.ResponseWriter, r *http.Request) {
	var req nextTurnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}
	if strings.TrimSpace(req.EventType) == "" {
		req.EventType = interview.EventUserTurn
	}

	res, err := s.orch.NextTurn(r.Context(), interview.TurnEvent{
		SessionID: req.SessionID,
		EventID:   strings.TrimSpace(req.EventID),
		Type:      req.EventType,
		UserText:  strings.TrimSpace(req.UserText),
	})
	if err != nil {
		switch {
		case errors.Is(err, transcript.ErrSessionNotFound):
			respondError(w, http.StatusNotFound, "session_not_found", "Unknown session_id")
		case errors.Is(err, interview.ErrInvalidEvent):
			respondError(w, http.StatusBadRequest, "invalid_event", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "turn_failed", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// newRoomName mints the opaque room identifier shared with the audio layer.
func newRoomName() string {
	buf := make([]byte, 5)
	_, _ = rand.Read(buf)
	return "interview-" + hex.EncodeToString(buf)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
