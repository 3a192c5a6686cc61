package interview

import (
	"time"

	"github.com/jobnova/interviewd/internal/transcript"
)

// Verdict is the guardrail outcome for one turn.
type Verdict int

const (
	VerdictOK Verdict = iota
	VerdictForceAdvance
)

func (v Verdict) String() string {
	if v == VerdictForceAdvance {
		return "force_advance"
	}
	return "ok"
}

// Limits caps how long a session can sit in each non-terminal stage, by agent
// turn count and by wall clock. The done stage is unlimited.
type Limits struct {
	IntroMaxTurns      int
	ExperienceMaxTurns int
	IntroTimeout       time.Duration
	ExperienceTimeout  time.Duration
}

// DefaultLimits mirrors the production guardrail envelope.
func DefaultLimits() Limits {
	return Limits{
		IntroMaxTurns:      7,
		ExperienceMaxTurns: 14,
		IntroTimeout:       420 * time.Second,
		ExperienceTimeout:  900 * time.Second,
	}
}

func (l Limits) MaxTurns(stage transcript.Stage) int {
	switch stage {
	case transcript.StageIntro:
		return l.IntroMaxTurns
	case transcript.StageExperience:
		return l.ExperienceMaxTurns
	default:
		return 0
	}
}

func (l Limits) Timeout(stage transcript.Stage) time.Duration {
	switch stage {
	case transcript.StageIntro:
		return l.IntroTimeout
	case transcript.StageExperience:
		return l.ExperienceTimeout
	default:
		return 0
	}
}

// EvaluateGuardrail decides whether the stage budget is exhausted.
// turnsInStage counts agent messages in the current stage, including the
// reply being produced for this turn. Elapsed time is compared in whole
// seconds against the stage timeout.
func EvaluateGuardrail(stage transcript.Stage, turnsInStage int, elapsed time.Duration, limits Limits) Verdict {
	if stage.Terminal() {
		return VerdictOK
	}
	if max := limits.MaxTurns(stage); max > 0 && turnsInStage >= max {
		return VerdictForceAdvance
	}
	if timeout := limits.Timeout(stage); timeout > 0 && int(elapsed.Seconds()) >= int(timeout.Seconds()) {
		return VerdictForceAdvance
	}
	return VerdictOK
}
