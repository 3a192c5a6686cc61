package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/jobnova/interviewd/internal/interview"
	"github.com/jobnova/interviewd/internal/protocol"
)

// handleSessionWS runs the live turn feed for one session: the client sends
// turn_event frames and receives assistant_turn frames. Writes stay on the
// read-loop goroutine, so no write lock is needed.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
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

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	defer s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()

	msgs, _ := s.store.ListMessages(r.Context(), id)
	s.writeWS(conn, protocol.SessionState{
		Type:      protocol.TypeSessionState,
		SessionID: sess.ID,
		Stage:     string(sess.Stage),
		Status:    string(sess.Status),
		Messages:  len(msgs),
	})

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.writeWS(conn, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: id,
				Code:      "invalid_client_message",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		ev, ok := parsed.(protocol.TurnEvent)
		if !ok {
			continue
		}
		s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeTurnEvent)).Inc()

		res, err := s.orch.NextTurn(r.Context(), interview.TurnEvent{
			SessionID: id,
			EventID:   ev.EventID,
			Type:      ev.EventType,
			UserText:  ev.UserText,
		})
		if err != nil {
			s.writeWS(conn, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: id,
				Code:      "turn_failed",
				Retryable: true,
				Detail:    err.Error(),
			})
			continue
		}

		s.writeWS(conn, protocol.AssistantTurn{
			Type:          protocol.TypeAssistantTurn,
			SessionID:     id,
			AssistantText: res.AssistantText,
			Stage:         string(res.Stage),
			Status:        string(res.Status),
			Done:          res.Done,
			Replayed:      res.Replayed,
		})
	}
}

func (s *Server) writeWS(conn *websocket.Conn, msg any) {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		return
	}
	switch m := msg.(type) {
	case protocol.AssistantTurn:
		s.metrics.WSMessages.WithLabelValues("outbound", string(m.Type)).Inc()
	case protocol.SessionState:
		s.metrics.WSMessages.WithLabelValues("outbound", string(m.Type)).Inc()
	case protocol.ErrorEvent:
		s.metrics.WSMessages.WithLabelValues("outbound", string(m.Type)).Inc()
	}
}
