package interview

import "github.com/jobnova/interviewd/internal/transcript"

// Trigger records what caused a stage change, for logs and metrics.
type Trigger string

const (
	TriggerNone      Trigger = "none"
	TriggerSignal    Trigger = "signal"
	TriggerGuardrail Trigger = "guardrail"
	TriggerTimeout   Trigger = "timeout"
	TriggerFallback  Trigger = "fallback"
)

// Decision is the resolved stage outcome for one turn.
type Decision struct {
	Next      transcript.Stage
	Advanced  bool
	Trigger   Trigger
	Anomalous bool
}

// Decide resolves the next stage from the extracted signal and the guardrail
// verdict. The guardrail dominates: when it fires the session advances one
// stage regardless of what the signal asked for. A move signal whose target
// is not the forward-adjacent stage is treated as STAY and flagged.
func Decide(stage transcript.Stage, sig Signal, verdict Verdict) Decision {
	if stage.Terminal() {
		return Decision{Next: stage, Trigger: TriggerNone}
	}

	next, _ := stage.Next()

	if verdict == VerdictForceAdvance {
		return Decision{Next: next, Advanced: true, Trigger: TriggerGuardrail}
	}

	target, wantsMove := sig.Target()
	if !wantsMove {
		return Decision{Next: stage, Trigger: TriggerNone}
	}
	if target != next {
		return Decision{Next: stage, Trigger: TriggerNone, Anomalous: true}
	}
	return Decision{Next: next, Advanced: true, Trigger: TriggerSignal}
}
