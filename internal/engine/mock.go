package engine

import (
	"context"
	"fmt"
	"strings"
)

// MockGenerator is a deterministic scripted interviewer for development and
// tests. It asks canned questions and proposes moving on after a fixed
// number of exchanges in the current stage, emitting proper signal tokens.
type MockGenerator struct {
	moveAfter int
}

func NewMockGenerator(moveAfter int) *MockGenerator {
	if moveAfter <= 0 {
		moveAfter = 3
	}
	return &MockGenerator{moveAfter: moveAfter}
}

func (g *MockGenerator) Generate(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	exchanges := 0
	for _, t := range req.History {
		if t.Role == "model" {
			exchanges++
		}
	}

	switch req.Stage {
	case "intro":
		if req.EventType == "start" || exchanges == 0 {
			return "Hi! Great to meet you. To kick things off, could you tell me a bit about yourself? <<<STAY>>>", nil
		}
		if exchanges+1 >= g.moveAfter {
			return "Great intro! Let's dive into your past experience now. What project are you most proud of? <<<MOVE_TO_EXPERIENCE>>>", nil
		}
		return "Got it. And what drew you to this role in the first place? <<<STAY>>>", nil
	case "experience":
		if exchanges+1 >= g.moveAfter {
			return "Thanks, that gives me a clear picture. Let's wrap up here. <<<MOVE_TO_DONE>>>", nil
		}
		last := lastUserText(req.History)
		if last == "" {
			last = "that project"
		}
		return fmt.Sprintf("Interesting. What was the hardest technical decision in %s? <<<STAY>>>", last), nil
	default:
		return "Thanks for a great conversation!\n" +
			"• Strength: clear, structured answers.\n" +
			"• Gap: quantify your impact more.\n" +
			"• Next step: practice telling one project story end to end.\n" +
			"<<<MOVE_TO_DONE>>>", nil
	}
}

func lastUserText(history []Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			text := strings.TrimSpace(history[i].Text)
			if runes := []rune(text); len(runes) > 60 {
				text = string(runes[:60])
			}
			return text
		}
	}
	return ""
}
