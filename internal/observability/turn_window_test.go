package observability

import "testing"

func TestTurnWindowSnapshot(t *testing.T) {
	w := newTurnWindow(8)
	w.Observe("intro", 500)
	w.Observe("intro", 700)
	w.Observe("intro", 900)
	w.ObserveIndicator("engine_fallback")
	w.ObserveIndicator("engine_fallback")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "intro" {
		t.Fatalf("Stage = %q, want %q", s.Stage, "intro")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.AvgMS != 700 {
		t.Fatalf("AvgMS = %.2f, want 700", s.AvgMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if len(snap.Indicators) != 1 {
		t.Fatalf("len(Indicators) = %d, want 1", len(snap.Indicators))
	}
	if snap.Indicators[0].Name != "engine_fallback" {
		t.Fatalf("Indicators[0].Name = %q", snap.Indicators[0].Name)
	}
	if snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators[0].Count = %d, want 2", snap.Indicators[0].Count)
	}
}

func TestTurnWindowWrapsRing(t *testing.T) {
	w := newTurnWindow(4)
	for i := 1; i <= 6; i++ {
		w.Observe("experience", float64(i*100))
	}

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Samples != 4 {
		t.Fatalf("Samples = %d, want 4 after wrap", s.Samples)
	}
	if s.LastMS != 600 {
		t.Fatalf("LastMS = %.2f, want 600", s.LastMS)
	}
	// Oldest two observations (100, 200) were evicted.
	if s.AvgMS != 450 {
		t.Fatalf("AvgMS = %.2f, want 450", s.AvgMS)
	}
}

func TestTurnWindowIgnoresBadInput(t *testing.T) {
	w := newTurnWindow(4)
	w.Observe("", 100)
	w.Observe("intro", -5)
	w.ObserveIndicator("   ")

	snap := w.Snapshot()
	if len(snap.Stages) != 0 || len(snap.Indicators) != 0 {
		t.Fatalf("snapshot not empty: %+v", snap)
	}
}
