package transcript

import (
	"context"
	"errors"
	"time"
)

// Stage is one phase of the fixed linear interview sequence.
type Stage string

const (
	StageIntro      Stage = "intro"
	StageExperience Stage = "experience"
	StageDone       Stage = "done"
)

var stageOrder = []Stage{StageIntro, StageExperience, StageDone}

// Index returns the position of the stage in the fixed ordering, or -1.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) Valid() bool { return s.Index() >= 0 }

// Next returns the forward-adjacent stage. done has no successor.
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(stageOrder) {
		return "", false
	}
	return stageOrder[i+1], true
}

func (s Stage) Terminal() bool { return s == StageDone }

type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusEnded   Status = "ended"
	StatusError   Status = "error"
)

func (s Status) Terminal() bool { return s == StatusEnded || s == StatusError }

// ValidStatusTransition enforces the monotonic created -> running -> {ended|error} lifecycle.
func ValidStatusTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusCreated:
		return to == StatusRunning || to == StatusEnded || to == StatusError
	case StatusRunning:
		return to == StatusEnded || to == StatusError
	default:
		return false
	}
}

// ValidStageTransition allows staying in place or moving exactly one stage forward.
func ValidStageTransition(from, to Stage) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	next, ok := from.Next()
	return ok && next == to
}

type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Session is one interview instance. Mutated only through the store's
// validated transition methods; callers always work on copies.
type Session struct {
	ID             string     `json:"session_id"`
	RoomName       string     `json:"room_name"`
	CandidateName  string     `json:"candidate_name"`
	Role           string     `json:"role"`
	Status         Status     `json:"status"`
	Stage          Stage      `json:"stage"`
	StageStartedAt time.Time  `json:"stage_started_at"`
	LastTurnAt     time.Time  `json:"last_turn_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Meta keys used on transcript messages.
const (
	MetaEventID         = "event_id"
	MetaReplyTo         = "reply_to"
	MetaTurnsInStage    = "turns_in_stage"
	MetaEngineEventType = "engine_event_type"
	MetaPIIRedacted     = "pii_redacted"
)

// Message is one append-only transcript entry.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Stage     Stage          `json:"stage"`
	Text      string         `json:"text"`
	IsFinal   bool           `json:"is_final"`
	CreatedAt time.Time      `json:"created_at"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// EventID returns the idempotency key recorded on the message, if any.
func (m Message) EventID() string {
	if m.Meta == nil {
		return ""
	}
	v, _ := m.Meta[MetaEventID].(string)
	return v
}

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrRoomActive        = errors.New("room already bound to an active session")
	ErrDuplicateEvent    = errors.New("duplicate event")
	ErrInvalidTransition = errors.New("invalid transition")
)

// Store owns sessions and their transcripts. AppendMessage must enforce the
// (session_id, event_id) uniqueness constraint at the storage layer; it is the
// single concurrency-control primitive for duplicate or racing turn delivery.
type Store interface {
	CreateSession(ctx context.Context, roomName, candidateName, role string) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)

	// AppendMessage persists one transcript entry. When the message carries an
	// event_id that was already recorded for the session it returns the
	// existing message wrapped in ErrDuplicateEvent and writes nothing.
	AppendMessage(ctx context.Context, msg Message) (Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	FindMessageByEvent(ctx context.Context, sessionID, eventID string) (Message, error)
	FindAgentReply(ctx context.Context, sessionID, eventID string) (Message, error)
	LastAgentMessage(ctx context.Context, sessionID string) (Message, error)
	CountAgentMessages(ctx context.Context, sessionID string, stage Stage) (int, error)

	UpdateSessionStage(ctx context.Context, sessionID string, newStage Stage, now time.Time) error
	UpdateSessionStatus(ctx context.Context, sessionID string, newStatus Status) error
	TouchLastTurn(ctx context.Context, sessionID string, now time.Time) error
	MarkEnded(ctx context.Context, sessionID string, now time.Time) error

	CountActiveSessions(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}
