package interview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jobnova/interviewd/internal/engine"
	"github.com/jobnova/interviewd/internal/observability"
	"github.com/jobnova/interviewd/internal/policy"
	"github.com/jobnova/interviewd/internal/reliability"
	"github.com/jobnova/interviewd/internal/transcript"
)

// Turn event types accepted by the orchestrator.
const (
	EventStart    = "start"
	EventUserTurn = "user_turn"
	EventTimeout  = "timeout"
)

// ErrInvalidEvent reports a malformed turn event (unknown type, missing
// user text).
var ErrInvalidEvent = errors.New("invalid turn event")

const completedText = "This session is already complete. Please create a new session."

// TurnEvent is one inbound turn delivery from the speech bridge or the UI.
type TurnEvent struct {
	SessionID string
	EventID   string
	Type      string
	UserText  string
}

// TurnResult is the orchestrator's answer for one turn.
type TurnResult struct {
	AssistantText string            `json:"assistant_text"`
	Stage         transcript.Stage  `json:"stage"`
	Status        transcript.Status `json:"status"`
	Done          bool              `json:"done"`
	Replayed      bool              `json:"replayed,omitempty"`
}

// Options tunes the orchestrator; zero values get sensible defaults.
type Options struct {
	Limits      Limits
	Persona     Persona
	MaxRetries  int
	CallTimeout time.Duration
	RedactPII   bool
}

// Orchestrator drives one interview turn end to end: duplicate detection,
// generation, signal extraction, guardrails, transition, persistence. It
// holds no per-session state; every invocation re-reads the store, and the
// store's (session_id, event_id) constraint is the only concurrency control.
type Orchestrator struct {
	store       transcript.Store
	gen         engine.Generator
	limits      Limits
	persona     Persona
	maxRetries  int
	callTimeout time.Duration
	redactPII   bool
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewOrchestrator(store transcript.Store, gen engine.Generator, metrics *observability.Metrics, opts Options) *Orchestrator {
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	return &Orchestrator{
		store:       store,
		gen:         gen,
		limits:      opts.Limits,
		persona:     opts.Persona,
		maxRetries:  opts.MaxRetries,
		callTimeout: opts.CallTimeout,
		redactPII:   opts.RedactPII,
		metrics:     metrics,
		now:         time.Now,
	}
}

// NextTurn processes one turn event and returns the assistant utterance plus
// the resulting session state. Duplicate deliveries replay the original
// reply without generating or mutating anything.
func (o *Orchestrator) NextTurn(ctx context.Context, ev TurnEvent) (TurnResult, error) {
	started := o.now()

	switch ev.Type {
	case EventStart, EventUserTurn, EventTimeout:
	default:
		return TurnResult{}, fmt.Errorf("event_type %q: %w", ev.Type, ErrInvalidEvent)
	}
	if ev.Type == EventUserTurn && strings.TrimSpace(ev.UserText) == "" {
		return TurnResult{}, fmt.Errorf("user_text required for user_turn: %w", ErrInvalidEvent)
	}

	sess, err := o.store.GetSession(ctx, ev.SessionID)
	if err != nil {
		return TurnResult{}, err
	}

	// Completed sessions answer with a fixed notice and change nothing.
	if sess.Status.Terminal() || sess.Stage.Terminal() {
		o.countTurn(ev.Type, "already_complete")
		return TurnResult{
			AssistantText: completedText,
			Stage:         sess.Stage,
			Status:        sess.Status,
			Done:          true,
		}, nil
	}

	// Fast replay path for redelivered events.
	if ev.EventID != "" {
		if res, ok := o.replayDuplicate(ctx, sess, ev); ok {
			o.countTurn(ev.Type, "duplicate")
			return res, nil
		}
	}

	if sess.Status == transcript.StatusCreated {
		if err := o.store.UpdateSessionStatus(ctx, sess.ID, transcript.StatusRunning); err != nil {
			return TurnResult{}, fmt.Errorf("mark running: %w", err)
		}
		sess.Status = transcript.StatusRunning
		o.sessionEvent("running")
	}

	now := o.now()

	// Persist the candidate's answer first: the unique (session_id,
	// event_id) constraint decides which of two racing deliveries owns the
	// turn.
	if ev.Type == EventUserTurn {
		text := ev.UserText
		redacted := false
		if o.redactPII {
			text, redacted = policy.RedactPII(text)
		}
		meta := map[string]any{}
		if ev.EventID != "" {
			meta[transcript.MetaEventID] = ev.EventID
		}
		if redacted {
			meta[transcript.MetaPIIRedacted] = true
		}
		_, err := o.store.AppendMessage(ctx, transcript.Message{
			SessionID: sess.ID,
			Role:      transcript.RoleUser,
			Stage:     sess.Stage,
			Text:      text,
			IsFinal:   true,
			Meta:      meta,
		})
		if errors.Is(err, transcript.ErrDuplicateEvent) {
			o.countTurn(ev.Type, "duplicate")
			return o.replayReply(ctx, sess, ev.EventID), nil
		}
		if err != nil {
			return TurnResult{}, fmt.Errorf("append user turn: %w", err)
		}
		if err := o.store.TouchLastTurn(ctx, sess.ID, now); err != nil {
			log.Printf("[interview] touch last turn: session=%s err=%v", sess.ID, err)
		}
	}

	// The turn runs to completion once the inbound event is on record, even
	// if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	// Inactivity forces a timeout turn regardless of what the bridge sent.
	eventType := ev.Type
	if eventType != EventTimeout {
		if timeout := o.limits.Timeout(sess.Stage); timeout > 0 && now.Sub(sess.StageStartedAt) >= timeout {
			eventType = EventTimeout
		}
	}

	if eventType == EventTimeout {
		return o.timeoutTurn(ctx, sess, ev, started)
	}
	return o.generatedTurn(ctx, sess, ev, eventType, started)
}

// timeoutTurn advances the session one stage with a canned utterance and no
// generation call.
func (o *Orchestrator) timeoutTurn(ctx context.Context, sess transcript.Session, ev TurnEvent, started time.Time) (TurnResult, error) {
	next, _ := sess.Stage.Next()
	text := timeoutText(next)

	res, err := o.finishTurn(ctx, sess, ev, EventTimeout, text, Decision{
		Next:     next,
		Advanced: true,
		Trigger:  TriggerTimeout,
	})
	if err != nil {
		return TurnResult{}, err
	}
	o.countTurn(ev.Type, "timeout_advance")
	o.observeTurn(sess.Stage, started)
	return res, nil
}

// generatedTurn runs the full generate/extract/guardrail/decide pipeline.
func (o *Orchestrator) generatedTurn(ctx context.Context, sess transcript.Session, ev TurnEvent, eventType string, started time.Time) (TurnResult, error) {
	msgs, err := o.store.ListMessages(ctx, sess.ID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load history: %w", err)
	}

	history := AppendUserTurn(BuildHistory(msgs), TurnUserText(eventType, ev.UserText))
	raw, genErr := o.generate(ctx, engine.Request{
		SessionID: sess.ID,
		Stage:     string(sess.Stage),
		EventType: eventType,
		System:    SystemPrompt(o.persona, sess.CandidateName, sess.Role, sess.Stage),
		History:   history,
	})

	turnsInStage, err := o.store.CountAgentMessages(ctx, sess.ID, sess.Stage)
	if err != nil {
		return TurnResult{}, fmt.Errorf("count stage turns: %w", err)
	}
	// The reply being produced counts against the stage budget.
	turnsInStage++

	verdict := EvaluateGuardrail(sess.Stage, turnsInStage, o.now().Sub(sess.StageStartedAt), o.limits)

	var decision Decision
	var visible string
	outcome := "ok"

	if genErr != nil {
		// Retries exhausted: answer with the stage fallback and move the
		// session forward so it cannot stall on a dead engine.
		log.Printf("[interview] generation failed: session=%s stage=%s err=%v", sess.ID, sess.Stage, genErr)
		if o.metrics != nil {
			o.metrics.EngineFailures.Inc()
		}
		visible, _, _ = ExtractSignal(fallbackText(sess.Stage, sess.CandidateName, sess.Role))
		decision = Decide(sess.Stage, SignalStay, VerdictForceAdvance)
		decision.Trigger = TriggerFallback
		outcome = "fallback"
	} else {
		var sig Signal
		var missing bool
		visible, sig, missing = ExtractSignal(raw)
		if missing {
			o.signalAnomaly("missing", sess, sig)
		}
		decision = Decide(sess.Stage, sig, verdict)
		if decision.Anomalous {
			o.signalAnomaly("mismatched", sess, sig)
		}
	}

	visible = EnsureVisible(visible, sess.Stage)

	res, err := o.finishTurn(ctx, sess, ev, eventType, visible, decision)
	if err != nil {
		return TurnResult{}, err
	}
	o.countTurn(ev.Type, outcome)
	o.observeTurn(sess.Stage, started)
	return res, nil
}

// finishTurn persists the agent reply and applies the decided stage/status
// transitions. Transition validation failures are logged and suppressed; by
// then the reply is already part of the transcript and the candidate gets it
// either way.
func (o *Orchestrator) finishTurn(ctx context.Context, sess transcript.Session, ev TurnEvent, engineEventType, text string, decision Decision) (TurnResult, error) {
	now := o.now()

	turns, err := o.store.CountAgentMessages(ctx, sess.ID, sess.Stage)
	if err != nil {
		log.Printf("[interview] count stage turns: session=%s stage=%s err=%v", sess.ID, sess.Stage, err)
		turns = 0
	}
	meta := map[string]any{
		transcript.MetaTurnsInStage:    turns + 1,
		transcript.MetaEngineEventType: engineEventType,
	}
	if ev.EventID != "" {
		if ev.Type == EventUserTurn {
			meta[transcript.MetaReplyTo] = ev.EventID
		} else {
			// start/timeout events have no user row; the reply itself
			// carries the event id so redeliveries dedupe on it.
			meta[transcript.MetaEventID] = ev.EventID
		}
	}

	reply, err := o.store.AppendMessage(ctx, transcript.Message{
		SessionID: sess.ID,
		Role:      transcript.RoleAgent,
		Stage:     sess.Stage,
		Text:      text,
		IsFinal:   true,
		Meta:      meta,
	})
	if errors.Is(err, transcript.ErrDuplicateEvent) {
		// A racing delivery of the same start/timeout event won the append.
		cur, gerr := o.store.GetSession(ctx, sess.ID)
		if gerr != nil {
			cur = sess
		}
		return TurnResult{
			AssistantText: reply.Text,
			Stage:         cur.Stage,
			Status:        cur.Status,
			Done:          cur.Stage.Terminal(),
			Replayed:      true,
		}, nil
	}
	if err != nil {
		return TurnResult{}, fmt.Errorf("append agent reply: %w", err)
	}

	status := sess.Status
	stage := sess.Stage
	if decision.Advanced {
		if err := o.store.UpdateSessionStage(ctx, sess.ID, decision.Next, now); err != nil {
			log.Printf("[interview] stage transition rejected: session=%s %s->%s err=%v",
				sess.ID, sess.Stage, decision.Next, err)
			o.signalAnomaly("transition_rejected", sess, SignalStay)
		} else {
			o.stageTransition(sess.Stage, decision.Next, decision.Trigger)
			stage = decision.Next
		}
	}

	if stage.Terminal() {
		if err := o.store.MarkEnded(ctx, sess.ID, now); err != nil {
			log.Printf("[interview] mark ended: session=%s err=%v", sess.ID, err)
		} else {
			status = transcript.StatusEnded
			o.sessionEvent("ended")
			if o.metrics != nil {
				o.metrics.ActiveSessions.Dec()
			}
		}
	}

	return TurnResult{
		AssistantText: text,
		Stage:         stage,
		Status:        status,
		Done:          stage.Terminal(),
	}, nil
}

// generate calls the engine with bounded retries and capped backoff.
func (o *Orchestrator) generate(ctx context.Context, req engine.Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		raw, err := o.gen.Generate(callCtx, req)
		cancel()
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		retryable := errors.Is(err, engine.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
		if !retryable || attempt == o.maxRetries {
			break
		}
		if o.metrics != nil {
			o.metrics.EngineRetries.Inc()
		}
		backoff := reliability.ExponentialBackoff(attempt, 250*time.Millisecond, 2*time.Second)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// replayDuplicate checks whether the event was already processed and, if so,
// reconstructs the original answer.
func (o *Orchestrator) replayDuplicate(ctx context.Context, sess transcript.Session, ev TurnEvent) (TurnResult, bool) {
	existing, err := o.store.FindMessageByEvent(ctx, sess.ID, ev.EventID)
	if err != nil {
		return TurnResult{}, false
	}
	if existing.Role == transcript.RoleAgent {
		return TurnResult{
			AssistantText: existing.Text,
			Stage:         sess.Stage,
			Status:        sess.Status,
			Done:          sess.Stage.Terminal(),
			Replayed:      true,
		}, true
	}
	return o.replayReply(ctx, sess, ev.EventID), true
}

// replayReply returns the agent reply recorded for an inbound event id. A
// duplicate can land while the original turn is still generating, so the
// lookup waits out the generation window; both callers then hand back the
// same text. The latest agent message covers replies that predate tagging.
func (o *Orchestrator) replayReply(ctx context.Context, sess transcript.Session, eventID string) TurnResult {
	text, ok := o.awaitReply(ctx, sess.ID, eventID)
	if !ok {
		if last, err := o.store.LastAgentMessage(ctx, sess.ID); err == nil {
			text = last.Text
		}
	}
	// Re-read: the original turn may have advanced the stage since.
	if cur, err := o.store.GetSession(ctx, sess.ID); err == nil {
		sess = cur
	}
	return TurnResult{
		AssistantText: text,
		Stage:         sess.Stage,
		Status:        sess.Status,
		Done:          sess.Stage.Terminal(),
		Replayed:      true,
	}
}

// awaitReply polls for the agent reply tied to an inbound event id, bounded
// by the engine call timeout.
func (o *Orchestrator) awaitReply(ctx context.Context, sessionID, eventID string) (string, bool) {
	deadline := time.NewTimer(o.callTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		if reply, err := o.store.FindAgentReply(ctx, sessionID, eventID); err == nil {
			return reply.Text, true
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return "", false
		case <-ctx.Done():
			return "", false
		}
	}
}

func timeoutText(next transcript.Stage) string {
	if next == transcript.StageDone {
		return "Thanks for a great conversation!\n\n" +
			"• Strength: You communicated your ideas clearly.\n" +
			"• Gap: Try to include more concrete metrics and impact.\n" +
			"• Next step: Practice the STAR method for telling project stories.\n\n" +
			"Best of luck — you've got this!"
	}
	return "Let's keep things moving — I'd love to hear about a project you've " +
		"worked on recently. What was the problem you were solving, and what was your role?"
}

func fallbackText(stage transcript.Stage, candidateName, role string) string {
	switch stage {
	case transcript.StageIntro:
		return fmt.Sprintf(
			"Hi %s! Welcome — I'm excited to chat with you about the %s position. "+
				"Could you kick things off by telling me a bit about yourself? <<<STAY>>>",
			candidateName, role)
	case transcript.StageExperience:
		return "I'd love to hear about a project you've worked on recently. " +
			"What was the problem you were solving, and what was your role? <<<STAY>>>"
	default:
		return "Thanks for a great conversation!\n\n" +
			"• Strength: You communicated your ideas clearly.\n" +
			"• Gap: Try to include more concrete metrics and impact.\n" +
			"• Next step: Practice the STAR method for telling project stories.\n\n" +
			"Best of luck — you've got this! <<<MOVE_TO_DONE>>>"
	}
}

func (o *Orchestrator) countTurn(eventType, outcome string) {
	if o.metrics != nil {
		o.metrics.TurnEvents.WithLabelValues(eventType, outcome).Inc()
	}
}

func (o *Orchestrator) sessionEvent(event string) {
	if o.metrics != nil {
		o.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func (o *Orchestrator) observeTurn(stage transcript.Stage, started time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveTurn(string(stage), o.now().Sub(started))
	}
}

func (o *Orchestrator) stageTransition(from, to transcript.Stage, trigger Trigger) {
	if o.metrics != nil {
		o.metrics.StageTransitions.WithLabelValues(string(from), string(to), string(trigger)).Inc()
	}
}

func (o *Orchestrator) signalAnomaly(kind string, sess transcript.Session, sig Signal) {
	log.Printf("[interview] signal anomaly: session=%s stage=%s signal=%s kind=%s", sess.ID, sess.Stage, sig, kind)
	if o.metrics != nil {
		o.metrics.SignalAnomalies.WithLabelValues(kind).Inc()
	}
}
