package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jobnova/interviewd/internal/config"
	"github.com/jobnova/interviewd/internal/engine"
	"github.com/jobnova/interviewd/internal/interview"
	"github.com/jobnova/interviewd/internal/observability"
	"github.com/jobnova/interviewd/internal/transcript"
)

func newTestServer(t *testing.T, cfg config.Config) (*Server, transcript.Store) {
	t.Helper()
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))
	store := transcript.NewInMemoryStore()
	gen := engine.NewMockGenerator(3)
	orch := interview.NewOrchestrator(store, gen, metrics, interview.Options{})
	return New(cfg, store, orch, metrics), store
}

func TestCreateSessionDefaults(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/interview/sessions", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["candidate_name"] != "Candidate" {
		t.Fatalf("candidate_name = %v", body["candidate_name"])
	}
	if body["role"] != "AI Algorithm Engineer Intern" {
		t.Fatalf("role = %v", body["role"])
	}
	room, _ := body["room_name"].(string)
	if !strings.HasPrefix(room, "interview-") || len(room) != len("interview-")+10 {
		t.Fatalf("room_name = %q, want interview-<10 hex>", room)
	}
	if body["stage"] != "intro" || body["status"] != "created" {
		t.Fatalf("new session state = %v/%v", body["stage"], body["status"])
	}
}

func TestEngineNextTurnRequiresSecret(t *testing.T) {
	srv, store := newTestServer(t, config.Config{IngestSecret: "s3cret"})
	sess, err := store.CreateSession(context.Background(), "interview-auth", "Candidate", "role")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	payload := fmt.Sprintf(`{"session_id":%q,"event_type":"start","event_id":"evt-1"}`, sess.ID)

	// Missing secret: rejected with no side effects.
	req := httptest.NewRequest(http.MethodPost, "/api/interview/engine/next_turn", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status without secret = %d, want 403", rec.Code)
	}
	msgs, _ := store.ListMessages(context.Background(), sess.ID)
	if len(msgs) != 1 {
		t.Fatalf("rejected request wrote %d messages", len(msgs)-1)
	}

	// Wrong secret.
	req = httptest.NewRequest(http.MethodPost, "/api/interview/engine/next_turn", strings.NewReader(payload))
	req.Header.Set("X-Ingest-Secret", "wrong")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status with wrong secret = %d, want 403", rec.Code)
	}

	// Correct secret runs the turn.
	req = httptest.NewRequest(http.MethodPost, "/api/interview/engine/next_turn", strings.NewReader(payload))
	req.Header.Set("X-Ingest-Secret", "s3cret")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with secret = %d: %s", rec.Code, rec.Body.String())
	}
	var res interview.TurnResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if strings.TrimSpace(res.AssistantText) == "" || res.Stage != transcript.StageIntro {
		t.Fatalf("turn result = %+v", res)
	}
}

func TestEngineNextTurnRejectedWhenNoSecretConfigured(t *testing.T) {
	srv, store := newTestServer(t, config.Config{})
	sess, _ := store.CreateSession(context.Background(), "interview-nosecret", "Candidate", "role")

	payload := fmt.Sprintf(`{"session_id":%q,"event_type":"start"}`, sess.ID)
	req := httptest.NewRequest(http.MethodPost, "/api/interview/engine/next_turn", strings.NewReader(payload))
	req.Header.Set("X-Ingest-Secret", "")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 when no secret is configured", rec.Code)
	}
}

func TestUINextTurnDebugGate(t *testing.T) {
	srv, store := newTestServer(t, config.Config{})
	sess, _ := store.CreateSession(context.Background(), "interview-ui", "Candidate", "role")
	payload := fmt.Sprintf(`{"session_id":%q,"event_type":"start"}`, sess.ID)

	req := httptest.NewRequest(http.MethodPost, "/api/interview/ui/next_turn", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status with DebugUI off = %d, want 403", rec.Code)
	}

	srvDebug, storeDebug := newTestServer(t, config.Config{DebugUI: true})
	sess2, _ := storeDebug.CreateSession(context.Background(), "interview-ui2", "Candidate", "role")
	payload = fmt.Sprintf(`{"session_id":%q,"event_type":"start"}`, sess2.ID)
	req = httptest.NewRequest(http.MethodPost, "/api/interview/ui/next_turn", strings.NewReader(payload))
	rec = httptest.NewRecorder()
	srvDebug.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with DebugUI on = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNextTurnErrors(t *testing.T) {
	srv, store := newTestServer(t, config.Config{DebugUI: true})
	sess, _ := store.CreateSession(context.Background(), "interview-errors", "Candidate", "role")

	post := func(body string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/api/interview/ui/next_turn", strings.NewReader(body))
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		return rec
	}

	if rec := post(`{"session_id":"unknown","event_type":"start"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", rec.Code)
	}
	if rec := post(`{"event_type":"start"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing session_id status = %d, want 400", rec.Code)
	}
	if rec := post(fmt.Sprintf(`{"session_id":%q,"event_type":"user_turn"}`, sess.ID)); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty user_text status = %d, want 400", rec.Code)
	}
	if rec := post("{"); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid JSON status = %d, want 400", rec.Code)
	}
}

func TestListMessages(t *testing.T) {
	srv, store := newTestServer(t, config.Config{})
	sess, _ := store.CreateSession(context.Background(), "interview-list", "Candidate", "role")

	req := httptest.NewRequest(http.MethodGet, "/api/interview/sessions/"+sess.ID+"/messages", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		SessionID string               `json:"session_id"`
		Stage     string               `json:"stage"`
		Messages  []transcript.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.SessionID != sess.ID || body.Stage != "intro" {
		t.Fatalf("summary = %+v", body)
	}
	if len(body.Messages) != 1 || body.Messages[0].Text != "Session created." {
		t.Fatalf("messages = %+v", body.Messages)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/interview/sessions/nope/messages", nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", rec.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})
	for _, path := range []string{"/healthz", "/readyz", "/v1/perf/turns"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
	}
}

func TestSessionWebSocket(t *testing.T) {
	srv, store := newTestServer(t, config.Config{AllowAnyOrigin: true})
	sess, _ := store.CreateSession(context.Background(), "interview-ws", "Candidate", "role")

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/interview/sessions/" + sess.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var state map[string]any
	if err := conn.ReadJSON(&state); err != nil {
		t.Fatalf("read session_state: %v", err)
	}
	if state["type"] != "session_state" || state["stage"] != "intro" {
		t.Fatalf("session_state = %+v", state)
	}

	if err := conn.WriteJSON(map[string]any{
		"type": "turn_event", "event_type": "start", "event_id": "evt-ws-1",
	}); err != nil {
		t.Fatalf("write turn_event: %v", err)
	}

	var reply map[string]any
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read assistant_turn: %v", err)
	}
	if reply["type"] != "assistant_turn" {
		t.Fatalf("reply type = %v", reply["type"])
	}
	if text, _ := reply["assistant_text"].(string); strings.TrimSpace(text) == "" {
		t.Fatalf("assistant_text empty: %+v", reply)
	}

	// Malformed frames answer with an error event, not a disconnect.
	if err := conn.WriteJSON(map[string]any{"type": "turn_event", "event_type": "pause"}); err != nil {
		t.Fatalf("write bad frame: %v", err)
	}
	var errEvent map[string]any
	if err := conn.ReadJSON(&errEvent); err != nil {
		t.Fatalf("read error_event: %v", err)
	}
	if errEvent["type"] != "error_event" {
		t.Fatalf("error frame = %+v", errEvent)
	}

	buf, _ := json.Marshal(errEvent)
	if bytes.Contains(buf, []byte("assistant_text")) {
		t.Fatalf("error event should not carry a reply: %s", buf)
	}
}
