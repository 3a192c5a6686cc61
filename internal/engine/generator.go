package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Turn is one prior exchange in the prompt history. Role is "user" or
// "model"; entries alternate strictly and the last one is always the user
// message for the current turn.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Request is the normalized generation request for one interview turn.
type Request struct {
	SessionID string `json:"session_id"`
	Stage     string `json:"stage"`
	EventType string `json:"event_type"`
	System    string `json:"system"`
	History   []Turn `json:"history"`
}

// Generator produces the raw interviewer reply, signal token included.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ErrUnavailable marks transient upstream failures worth retrying.
var ErrUnavailable = errors.New("generation engine unavailable")

// Config controls generator construction.
type Config struct {
	Mode    string
	HTTPURL string
	// MockMoveAfter is the number of exchanges per stage before the mock
	// interviewer proposes moving on.
	MockMoveAfter int
}

func New(cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPGenerator(cfg.HTTPURL), nil
		}
		return NewMockGenerator(cfg.MockMoveAfter), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("engine HTTP url is required for http mode")
		}
		return NewHTTPGenerator(cfg.HTTPURL), nil
	case "mock":
		return NewMockGenerator(cfg.MockMoveAfter), nil
	default:
		return nil, fmt.Errorf("unsupported engine mode %q", cfg.Mode)
	}
}
