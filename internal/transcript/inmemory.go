package transcript

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a mutex-guarded store for local/dev use and tests. It
// provides the same (session_id, event_id) uniqueness guarantee as the
// database-backed stores, just under a process-local lock.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	messages map[string][]Message
	byEvent  map[string]map[string]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*Session),
		messages: make(map[string][]Message),
		byEvent:  make(map[string]map[string]int),
	}
}

func (s *InMemoryStore) CreateSession(_ context.Context, roomName, candidateName, role string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.RoomName == roomName && !sess.Status.Terminal() {
			return Session{}, fmt.Errorf("room %q: %w", roomName, ErrRoomActive)
		}
	}

	now := time.Now().UTC()
	sess := Session{
		ID:             uuid.NewString(),
		RoomName:       roomName,
		CandidateName:  candidateName,
		Role:           role,
		Status:         StatusCreated,
		Stage:          StageIntro,
		StageStartedAt: now,
		LastTurnAt:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.sessions[sess.ID] = &sess
	s.appendLocked(Message{
		SessionID: sess.ID,
		Role:      RoleSystem,
		Stage:     sess.Stage,
		Text:      "Session created.",
		IsFinal:   true,
	})
	return sess, nil
}

func (s *InMemoryStore) GetSession(_ context.Context, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *sess, nil
}

func (s *InMemoryStore) AppendMessage(_ context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[msg.SessionID]; !ok {
		return Message{}, ErrSessionNotFound
	}
	if eventID := msg.EventID(); eventID != "" {
		if idx, ok := s.byEvent[msg.SessionID][eventID]; ok {
			return s.messages[msg.SessionID][idx], ErrDuplicateEvent
		}
	}
	return s.appendLocked(msg), nil
}

func (s *InMemoryStore) appendLocked(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	if eventID := msg.EventID(); eventID != "" {
		if s.byEvent[msg.SessionID] == nil {
			s.byEvent[msg.SessionID] = make(map[string]int)
		}
		s.byEvent[msg.SessionID][eventID] = len(s.messages[msg.SessionID]) - 1
	}
	return msg
}

func (s *InMemoryStore) ListMessages(_ context.Context, sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	out := make([]Message, len(s.messages[sessionID]))
	copy(out, s.messages[sessionID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) FindMessageByEvent(_ context.Context, sessionID, eventID string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byEvent[sessionID][eventID]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	return s.messages[sessionID][idx], nil
}

func (s *InMemoryStore) FindAgentReply(_ context.Context, sessionID, eventID string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != RoleAgent || msgs[i].Meta == nil {
			continue
		}
		if v, _ := msgs[i].Meta[MetaReplyTo].(string); v == eventID {
			return msgs[i], nil
		}
	}
	return Message{}, ErrMessageNotFound
}

func (s *InMemoryStore) LastAgentMessage(_ context.Context, sessionID string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAgent {
			return msgs[i], nil
		}
	}
	return Message{}, ErrMessageNotFound
}

func (s *InMemoryStore) CountAgentMessages(_ context.Context, sessionID string, stage Stage) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages[sessionID] {
		if m.Role == RoleAgent && m.Stage == stage {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) UpdateSessionStage(_ context.Context, sessionID string, newStage Stage, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if !ValidStageTransition(sess.Stage, newStage) {
		return fmt.Errorf("stage %s -> %s: %w", sess.Stage, newStage, ErrInvalidTransition)
	}
	if sess.Stage != newStage {
		sess.Stage = newStage
		sess.StageStartedAt = now
	}
	sess.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) UpdateSessionStatus(_ context.Context, sessionID string, newStatus Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if !ValidStatusTransition(sess.Status, newStatus) {
		return fmt.Errorf("status %s -> %s: %w", sess.Status, newStatus, ErrInvalidTransition)
	}
	sess.Status = newStatus
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) TouchLastTurn(_ context.Context, sessionID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	sess.LastTurnAt = now
	sess.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) MarkEnded(_ context.Context, sessionID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if !ValidStatusTransition(sess.Status, StatusEnded) {
		return fmt.Errorf("status %s -> %s: %w", sess.Status, StatusEnded, ErrInvalidTransition)
	}
	sess.Status = StatusEnded
	ended := now
	sess.EndedAt = &ended
	sess.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) CountActiveSessions(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.sessions {
		if !sess.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
