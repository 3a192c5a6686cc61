package interview

import (
	"testing"

	"github.com/jobnova/interviewd/internal/transcript"
)

func TestExtractSignal(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		visible   string
		sig       Signal
		anomalous bool
	}{
		{
			name:    "stay token",
			raw:     "Nice! What drew you to this role? <<<STAY>>>",
			visible: "Nice! What drew you to this role?",
			sig:     SignalStay,
		},
		{
			name:    "move token",
			raw:     "Great intro! Let's dive into your past experience now. <<<MOVE_TO_EXPERIENCE>>>",
			visible: "Great intro! Let's dive into your past experience now.",
			sig:     SignalMoveToExperience,
		},
		{
			name:    "token on its own line",
			raw:     "Thanks for sharing that.\n<<<MOVE_TO_DONE>>>\n",
			visible: "Thanks for sharing that.",
			sig:     SignalMoveToDone,
		},
		{
			name:    "last of multiple tokens wins",
			raw:     "<<<STAY>>> Good answer. <<<MOVE_TO_EXPERIENCE>>>",
			visible: "Good answer.",
			sig:     SignalMoveToExperience,
		},
		{
			name:      "missing token is stay plus anomaly",
			raw:       "Tell me more about the migration.",
			visible:   "Tell me more about the migration.",
			sig:       SignalStay,
			anomalous: true,
		},
		{
			name:      "malformed token ignored",
			raw:       "Sounds good. <<<MOVE_TO_INTRO>>>",
			visible:   "Sounds good. <<<MOVE_TO_INTRO>>>",
			sig:       SignalStay,
			anomalous: true,
		},
		{
			name:    "name prefix stripped",
			raw:     "Taylor: Welcome aboard! <<<STAY>>>",
			visible: "Welcome aboard!",
			sig:     SignalStay,
		},
		{
			name:    "bold name prefix stripped",
			raw:     "**Taylor:** Welcome aboard! <<<STAY>>>",
			visible: "Welcome aboard!",
			sig:     SignalStay,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			visible, sig, anomalous := ExtractSignal(tc.raw)
			if visible != tc.visible {
				t.Errorf("visible = %q, want %q", visible, tc.visible)
			}
			if sig != tc.sig {
				t.Errorf("signal = %q, want %q", sig, tc.sig)
			}
			if anomalous != tc.anomalous {
				t.Errorf("anomalous = %v, want %v", anomalous, tc.anomalous)
			}
		})
	}
}

func TestEnsureVisible(t *testing.T) {
	if got := EnsureVisible("", transcript.StageIntro); got != "Please go on." {
		t.Fatalf("empty intro reply = %q", got)
	}
	if got := EnsureVisible("ok", transcript.StageExperience); got != "Could you tell me more about that?" {
		t.Fatalf("short experience reply = %q", got)
	}
	if got := EnsureVisible("Sounds great!", transcript.StageIntro); got != "Sounds great!" {
		t.Fatalf("normal reply = %q", got)
	}
}

func TestSignalTarget(t *testing.T) {
	if _, ok := SignalStay.Target(); ok {
		t.Fatal("STAY should have no target")
	}
	if target, ok := SignalMoveToExperience.Target(); !ok || target != transcript.StageExperience {
		t.Fatalf("MOVE_TO_EXPERIENCE target = %q, %v", target, ok)
	}
	if target, ok := SignalMoveToDone.Target(); !ok || target != transcript.StageDone {
		t.Fatalf("MOVE_TO_DONE target = %q, %v", target, ok)
	}
}
