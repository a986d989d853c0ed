package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe(StageFirstFragment, 500*time.Millisecond)
	w.Observe(StageFirstFragment, 700*time.Millisecond)
	w.Observe(StageFirstFragment, 900*time.Millisecond)

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageFirstFragment {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageFirstFragment)
	}
	if s.Samples != 3 || s.LastMS != 900 || s.P50MS != 700 || s.MaxMS != 900 {
		t.Fatalf("stats = %+v, want samples=3 last=900 p50=700 max=900", s)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
}

func TestLatencyWindowWrapsAround(t *testing.T) {
	w := newLatencyWindow(2)
	w.Observe(StageTotal, time.Second)
	w.Observe(StageTotal, 2*time.Second)
	w.Observe(StageTotal, 3*time.Second)

	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 2500 {
		t.Fatalf("AvgMS = %.2f, want 2500", s.AvgMS)
	}
}

func TestLatencyWindowIgnoresNegative(t *testing.T) {
	w := newLatencyWindow(4)
	w.Observe(StageQueueWait, -time.Second)
	if got := len(w.Snapshot().Stages); got != 0 {
		t.Fatalf("len(Stages) = %d, want 0", got)
	}
}
