package interview

import (
	"fmt"
	"strings"

	"github.com/jobnova/interviewd/internal/engine"
	"github.com/jobnova/interviewd/internal/transcript"
)

// Persona describes the interviewer character rendered into the system
// prompt. Zero values fall back to the stock persona.
type Persona struct {
	Name  string
	Style string
	// FocusHints holds optional per-stage guidance appended to the stage
	// instructions, keyed by stage.
	FocusHints map[transcript.Stage]string
}

func (p Persona) name() string {
	if strings.TrimSpace(p.Name) == "" {
		return "Taylor"
	}
	return p.Name
}

func (p Persona) style() string {
	if strings.TrimSpace(p.Style) == "" {
		return "warm, sharp, and professional"
	}
	return p.Style
}

// SystemPrompt renders the interviewer instructions for the current stage,
// including the signal contract the extractor depends on.
func SystemPrompt(p Persona, candidateName, role string, stage transcript.Stage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a senior technical interviewer. You are %s.\n\n", p.name(), p.style())
	fmt.Fprintf(&b, "CANDIDATE: %s\nTARGET ROLE: %s\nCURRENT STAGE: %s\n\n", candidateName, role, stage)
	b.WriteString(`PERSONALITY RULES:
- Sound like a real human interviewer, not a chatbot.
- Keep every reply SHORT: 1-3 sentences max.
- Ask exactly ONE question per reply.
- Briefly acknowledge the candidate's last answer before asking the next question.
- Never repeat a question you already asked.
- Never mention AI, prompts, systems, LLMs, stages, or internal tooling.
- Reference specific details from the candidate's answers to show you are listening.

STAGE INSTRUCTIONS:

If stage is "intro":
 - Greet the candidate warmly.
 - Ask about: who they are, education/background, why this role, key skills, what excites them.
 - Typically 4-6 exchanges total. Then naturally transition to experience.
 - When transitioning, say something like "Great intro! Let's dive into your past experience now."

If stage is "experience":
`)
	fmt.Fprintf(&b, " - Ask about their most recent or most relevant experience for %s.\n", role)
	fmt.Fprintf(&b, " - If they mention MULTIPLE experiences, rank them by relevance to %s and start with the most relevant.\n", role)
	b.WriteString(` - For each experience drill deep: problem/goal, their role, technical decisions, challenges, impact/metrics.
 - After covering one experience sufficiently, ask about the next one.
 - After enough depth (6-10 exchanges), wrap up naturally.

If stage is "done":
 - Provide exactly 3 bullets: Strength, Gap, Next step — referencing their actual answers.
 - Thank them warmly.
`)
	if hint := strings.TrimSpace(p.FocusHints[stage]); hint != "" {
		fmt.Fprintf(&b, "\nSTAGE FOCUS: %s\n", hint)
	}
	b.WriteString(`
SIGNAL (required):
End every reply with exactly one signal on its own line:
<<<STAY>>>                 — remain in current stage
<<<MOVE_TO_EXPERIENCE>>>   — transition from intro to experience
<<<MOVE_TO_DONE>>>         — transition from experience to done (wrap-up)

You MUST include exactly one signal at the end of every reply.`)
	return b.String()
}

// BuildHistory converts stored transcript messages into the alternating
// user/model turn list the generation engine expects. System rows are
// dropped, leftover signal tokens are stripped from model text, and
// consecutive same-role entries are merged.
func BuildHistory(msgs []transcript.Message) []engine.Turn {
	var merged []engine.Turn
	for _, m := range msgs {
		if m.Role == transcript.RoleSystem {
			continue
		}
		role := "user"
		text := strings.TrimSpace(m.Text)
		if m.Role == transcript.RoleAgent {
			role = "model"
			text, _, _ = ExtractSignal(text)
		}
		if text == "" {
			continue
		}
		if n := len(merged); n > 0 && merged[n-1].Role == role {
			merged[n-1].Text += "\n" + text
			continue
		}
		merged = append(merged, engine.Turn{Role: role, Text: text})
	}
	return merged
}

// AppendUserTurn adds the current turn's user message, merging with a
// trailing user entry and guaranteeing the history starts with a user turn.
func AppendUserTurn(history []engine.Turn, userText string) []engine.Turn {
	if len(history) > 0 && history[0].Role == "model" {
		history = append([]engine.Turn{{Role: "user", Text: "[Interview begins]"}}, history...)
	}
	if n := len(history); n > 0 && history[n-1].Role == "user" {
		history[n-1].Text += "\n" + userText
		return history
	}
	return append(history, engine.Turn{Role: "user", Text: userText})
}

// TurnUserText selects the synthetic or literal user message for the event.
func TurnUserText(eventType, userText string) string {
	switch eventType {
	case "start":
		return "[The interview is starting. Greet the candidate and ask your first intro question.]"
	default:
		if strings.TrimSpace(userText) != "" {
			return userText
		}
		return "[Continue the interview.]"
	}
}
