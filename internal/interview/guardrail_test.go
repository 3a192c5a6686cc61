package interview

import (
	"testing"
	"time"

	"github.com/jobnova/interviewd/internal/transcript"
)

func TestEvaluateGuardrail(t *testing.T) {
	limits := DefaultLimits()

	cases := []struct {
		name    string
		stage   transcript.Stage
		turns   int
		elapsed time.Duration
		want    Verdict
	}{
		{"intro under budget", transcript.StageIntro, 3, time.Minute, VerdictOK},
		{"intro at turn cap", transcript.StageIntro, 7, time.Minute, VerdictForceAdvance},
		{"intro over turn cap", transcript.StageIntro, 9, time.Minute, VerdictForceAdvance},
		{"intro at timeout", transcript.StageIntro, 1, 420 * time.Second, VerdictForceAdvance},
		{"intro just under timeout", transcript.StageIntro, 1, 419*time.Second + 900*time.Millisecond, VerdictOK},
		{"experience under budget", transcript.StageExperience, 13, 899 * time.Second, VerdictOK},
		{"experience at turn cap", transcript.StageExperience, 14, time.Minute, VerdictForceAdvance},
		{"experience at timeout", transcript.StageExperience, 1, 900 * time.Second, VerdictForceAdvance},
		{"done is unlimited", transcript.StageDone, 1000, 24 * time.Hour, VerdictOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EvaluateGuardrail(tc.stage, tc.turns, tc.elapsed, limits); got != tc.want {
				t.Errorf("EvaluateGuardrail() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLimitsLookup(t *testing.T) {
	limits := Limits{
		IntroMaxTurns:      4,
		ExperienceMaxTurns: 9,
		IntroTimeout:       2 * time.Minute,
		ExperienceTimeout:  5 * time.Minute,
	}
	if limits.MaxTurns(transcript.StageIntro) != 4 || limits.MaxTurns(transcript.StageExperience) != 9 {
		t.Fatal("MaxTurns lookup mismatch")
	}
	if limits.MaxTurns(transcript.StageDone) != 0 || limits.Timeout(transcript.StageDone) != 0 {
		t.Fatal("done stage must be unlimited")
	}
	if limits.Timeout(transcript.StageIntro) != 2*time.Minute {
		t.Fatal("Timeout lookup mismatch")
	}
}
