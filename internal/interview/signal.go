package interview

import (
	"regexp"
	"strings"

	"github.com/jobnova/interviewd/internal/transcript"
)

// Signal is the stage directive embedded at the end of interviewer replies.
type Signal string

const (
	SignalStay             Signal = "STAY"
	SignalMoveToExperience Signal = "MOVE_TO_EXPERIENCE"
	SignalMoveToDone       Signal = "MOVE_TO_DONE"
)

// Target returns the stage the signal points at, or false for STAY.
func (s Signal) Target() (transcript.Stage, bool) {
	switch s {
	case SignalMoveToExperience:
		return transcript.StageExperience, true
	case SignalMoveToDone:
		return transcript.StageDone, true
	default:
		return "", false
	}
}

var (
	signalRe    = regexp.MustCompile(`<<<(STAY|MOVE_TO_EXPERIENCE|MOVE_TO_DONE)>>>`)
	boldNameRe  = regexp.MustCompile(`^\*\*Taylor:\*\*\s*`)
	plainNameRe = regexp.MustCompile(`^Taylor:\s*`)
)

// ExtractSignal splits a raw interviewer reply into the candidate-visible text
// and the stage signal. Every token occurrence is stripped from the visible
// text; when more than one token appears the last one is the directive. A
// reply with no token yields STAY and anomalous=true so the caller can log
// and count it.
func ExtractSignal(raw string) (visible string, sig Signal, anomalous bool) {
	matches := signalRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		sig = SignalStay
		anomalous = true
	} else {
		sig = Signal(matches[len(matches)-1][1])
	}

	visible = strings.TrimSpace(signalRe.ReplaceAllString(raw, ""))
	visible = boldNameRe.ReplaceAllString(visible, "")
	visible = plainNameRe.ReplaceAllString(visible, "")
	visible = strings.TrimSpace(visible)
	return visible, sig, anomalous
}

// ContinuationText is the stand-in utterance used when a reply is empty or
// too short to show a candidate.
func ContinuationText(stage transcript.Stage) string {
	if stage == transcript.StageExperience {
		return "Could you tell me more about that?"
	}
	return "Please go on."
}

// EnsureVisible substitutes a continuation prompt for replies under three
// runes, which the generation layer occasionally produces.
func EnsureVisible(text string, stage transcript.Stage) string {
	if len([]rune(strings.TrimSpace(text))) < 3 {
		return ContinuationText(stage)
	}
	return text
}
