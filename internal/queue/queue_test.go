package queue

import (
	"errors"
	"fmt"
	"testing"
)

func TestQueueEnqueueAssignsArrivalPositions(t *testing.T) {
	q := New()
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(fmt.Sprintf("r%d", i), Payload{Prompt: "hi"}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	snap := q.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot len = %d, want 3", len(snap))
	}
	for i, e := range snap {
		if e.ID != fmt.Sprintf("r%d", i) {
			t.Fatalf("snap[%d].ID = %q, want arrival order", i, e.ID)
		}
		if e.Position != i {
			t.Fatalf("snap[%d].Position = %d, want %d", i, e.Position, i)
		}
		if e.State != StateWaiting {
			t.Fatalf("snap[%d].State = %q, want %q", i, e.State, StateWaiting)
		}
	}
}

func TestQueueEnqueueDuplicateID(t *testing.T) {
	q := New()
	if err := q.Enqueue("r1", Payload{}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	err := q.Enqueue("r1", Payload{})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("Enqueue() duplicate error = %v, want ErrDuplicateID", err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
}

func TestQueueEnqueueBlankID(t *testing.T) {
	q := New()
	if err := q.Enqueue("  ", Payload{}); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("Enqueue() error = %v, want ErrInvalidID", err)
	}
}

func TestQueueRetireUnknownID(t *testing.T) {
	q := New()
	if _, err := q.Retire("missing"); !errors.Is(err, ErrUnknownID) {
		t.Fatalf("Retire() error = %v, want ErrUnknownID", err)
	}
}

func TestQueueRetireKeepsPositionsContiguous(t *testing.T) {
	q := New()
	for i := 0; i < 6; i++ {
		if err := q.Enqueue(fmt.Sprintf("r%d", i), Payload{}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	for _, id := range []string{"r2", "r0", "r5", "r3"} {
		retired, err := q.Retire(id)
		if err != nil {
			t.Fatalf("Retire(%s) error = %v", id, err)
		}
		if retired.State != StateDone {
			t.Fatalf("retired.State = %q, want %q", retired.State, StateDone)
		}
		assertContiguous(t, q.Snapshot())
		if _, err := q.Get(id); !errors.Is(err, ErrUnknownID) {
			t.Fatalf("Get(%s) after retire error = %v, want ErrUnknownID", id, err)
		}
	}
}

func TestQueueRetireWaitingLeavesProcessingUntouched(t *testing.T) {
	q := New()
	for i := 0; i < 5; i++ {
		_ = q.Enqueue(fmt.Sprintf("r%d", i), Payload{})
	}
	for _, id := range []string{"r0", "r1"} {
		if _, err := q.Admit(id); err != nil {
			t.Fatalf("Admit(%s) error = %v", id, err)
		}
	}

	if _, err := q.Retire("r2"); err != nil {
		t.Fatalf("Retire() error = %v", err)
	}

	snap := q.Snapshot()
	want := map[string]struct {
		pos   int
		state State
	}{
		"r0": {0, StateProcessing},
		"r1": {1, StateProcessing},
		"r3": {2, StateWaiting},
		"r4": {3, StateWaiting},
	}
	if len(snap) != len(want) {
		t.Fatalf("snapshot len = %d, want %d", len(snap), len(want))
	}
	for _, e := range snap {
		w, ok := want[e.ID]
		if !ok {
			t.Fatalf("unexpected entry %q", e.ID)
		}
		if e.Position != w.pos || e.State != w.state {
			t.Fatalf("%s = (%d, %s), want (%d, %s)", e.ID, e.Position, e.State, w.pos, w.state)
		}
	}
}

func TestQueueAdmitOnlyFromWaiting(t *testing.T) {
	q := New()
	_ = q.Enqueue("r1", Payload{})
	if _, err := q.Admit("r1"); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if _, err := q.Admit("r1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second Admit() error = %v, want ErrInvalidState", err)
	}
	if q.CountProcessing() != 1 {
		t.Fatalf("CountProcessing() = %d, want 1", q.CountProcessing())
	}
}

func TestQueueHooksFireOnEmptyTransitions(t *testing.T) {
	q := New()
	wakes, idles := 0, 0
	q.SetHooks(func() { wakes++ }, func() { idles++ })

	_ = q.Enqueue("r1", Payload{})
	_ = q.Enqueue("r2", Payload{})
	if wakes != 1 {
		t.Fatalf("wakes = %d, want 1", wakes)
	}
	_, _ = q.Retire("r1")
	if idles != 0 {
		t.Fatalf("idles = %d, want 0 while non-empty", idles)
	}
	_, _ = q.Retire("r2")
	if idles != 1 {
		t.Fatalf("idles = %d, want 1", idles)
	}
	_ = q.Enqueue("r3", Payload{})
	if wakes != 2 {
		t.Fatalf("wakes = %d, want 2 after refill", wakes)
	}
}

func TestQueueAssignSurface(t *testing.T) {
	q := New()
	_ = q.Enqueue("r1", Payload{})
	if err := q.AssignSurface("r1", "surface-1"); err != nil {
		t.Fatalf("AssignSurface() error = %v", err)
	}
	got, err := q.Get("r1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Surface != "surface-1" {
		t.Fatalf("Surface = %q, want %q", got.Surface, "surface-1")
	}
	if err := q.AssignSurface("missing", "x"); !errors.Is(err, ErrUnknownID) {
		t.Fatalf("AssignSurface() missing error = %v, want ErrUnknownID", err)
	}
}

func assertContiguous(t *testing.T, snap []Entry) {
	t.Helper()
	seen := make(map[int]bool, len(snap))
	for _, e := range snap {
		if e.Position < 0 || e.Position >= len(snap) || seen[e.Position] {
			t.Fatalf("positions not contiguous: %+v", snap)
		}
		seen[e.Position] = true
	}
	for i := 1; i < len(snap); i++ {
		if snap[i].Position <= snap[i-1].Position {
			t.Fatalf("positions out of arrival order: %+v", snap)
		}
	}
}

func TestQueueEnqueueHookRunsBeforeWake(t *testing.T) {
	q := New()
	var order []string
	q.SetHooks(func() { order = append(order, "wake") }, nil)
	q.SetEnqueueHook(func(e Entry) {
		if e.State != StateWaiting {
			t.Fatalf("hook entry state = %s, want waiting", e.State)
		}
		order = append(order, fmt.Sprintf("%s@%d", e.ID, e.Position))
	})

	_ = q.Enqueue("r1", Payload{})
	_ = q.Enqueue("r2", Payload{})
	if err := q.Enqueue("r1", Payload{}); err == nil {
		t.Fatalf("duplicate Enqueue() expected error")
	}

	want := []string{"r1@0", "wake", "r2@1"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}
