package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants on the live turn feed.
type MessageType string

const (
	TypeTurnEvent     MessageType = "turn_event"
	TypeAssistantTurn MessageType = "assistant_turn"
	TypeSessionState  MessageType = "session_state"
	TypeErrorEvent    MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// TurnEvent is a client-sent turn delivery: the text side of the speech
// bridge, or a browser debug client.
type TurnEvent struct {
	Type      MessageType `json:"type"`
	EventType string      `json:"event_type"`
	EventID   string      `json:"event_id,omitempty"`
	UserText  string      `json:"user_text,omitempty"`
}

// AssistantTurn carries the interviewer reply for one processed turn.
type AssistantTurn struct {
	Type          MessageType `json:"type"`
	SessionID     string      `json:"session_id"`
	AssistantText string      `json:"assistant_text"`
	Stage         string      `json:"stage"`
	Status        string      `json:"status"`
	Done          bool        `json:"done"`
	Replayed      bool        `json:"replayed,omitempty"`
}

// SessionState is pushed on connect so the client can render the transcript
// position it is joining at.
type SessionState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Stage     string      `json:"stage"`
	Status    string      `json:"status"`
	Messages  int         `json:"messages"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates one client-sent frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeTurnEvent:
		var msg TurnEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.EventType {
		case "start", "user_turn", "timeout":
		default:
			return nil, fmt.Errorf("invalid turn_event: bad event_type %q", msg.EventType)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}
