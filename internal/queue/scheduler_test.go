package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ent0n29/promptqueue/internal/observability"
)

type recordingRunner struct {
	mu      sync.Mutex
	started []string
	queue   *Queue
	retire  bool
}

func (r *recordingRunner) Run(_ context.Context, entry Entry) {
	r.mu.Lock()
	r.started = append(r.started, entry.ID)
	r.mu.Unlock()
	if r.retire {
		_, _ = r.queue.Retire(entry.ID)
	}
}

func (r *recordingRunner) Started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

type positionNote struct {
	id    string
	ahead int
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []positionNote
}

func (n *recordingNotifier) UpdatePosition(_ context.Context, requestID string, ahead int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, positionNote{id: requestID, ahead: ahead})
	return nil
}

func (n *recordingNotifier) Notes() []positionNote {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]positionNote(nil), n.notes...)
}

func newTestScheduler(limit int) (*Queue, *Scheduler, *recordingRunner, *recordingNotifier) {
	q := New()
	runner := &recordingRunner{queue: q}
	notifier := &recordingNotifier{}
	s := NewScheduler(q, runner, notifier, SchedulerConfig{ConcurrencyLimit: limit, TickInterval: time.Hour}, nil)
	return q, s, runner, notifier
}

func enqueueN(t *testing.T, q *Queue, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := q.Enqueue(fmt.Sprintf("r%d", i), Payload{Prompt: "p"}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
}

func TestSchedulerTickAdmitsUpToLimit(t *testing.T) {
	q, s, runner, notifier := newTestScheduler(3)
	enqueueN(t, q, 5)

	s.Tick(context.Background())
	s.runners.Wait()

	if got := q.CountProcessing(); got != 3 {
		t.Fatalf("CountProcessing() = %d, want 3", got)
	}
	assertStarted(t, runner.Started(), "r0", "r1", "r2")

	snap := q.Snapshot()
	waiting := map[string]int{}
	for _, e := range snap {
		if e.State == StateWaiting {
			waiting[e.ID] = e.Position
		}
	}
	if waiting["r3"] != 3 || waiting["r4"] != 4 || len(waiting) != 2 {
		t.Fatalf("waiting positions = %v, want r3:3 r4:4", waiting)
	}

	notes := notifier.Notes()
	if len(notes) != 2 {
		t.Fatalf("notes = %+v, want 2", notes)
	}
	if notes[0] != (positionNote{id: "r3", ahead: 0}) || notes[1] != (positionNote{id: "r4", ahead: 1}) {
		t.Fatalf("notes = %+v, want r3:0 r4:1", notes)
	}
}

func TestSchedulerPositionNoticesAreRateLimited(t *testing.T) {
	q, s, _, notifier := newTestScheduler(1)
	enqueueN(t, q, 3)

	s.Tick(context.Background())
	s.Tick(context.Background())
	s.runners.Wait()

	if got := len(notifier.Notes()); got != 2 {
		t.Fatalf("notes after two idle ticks = %d, want 2", got)
	}

	if _, err := q.Retire("r1"); err != nil {
		t.Fatalf("Retire() error = %v", err)
	}
	s.Tick(context.Background())

	notes := notifier.Notes()
	last := notes[len(notes)-1]
	if last != (positionNote{id: "r2", ahead: 0}) {
		t.Fatalf("last note = %+v, want r2 moved to 0 ahead", last)
	}
}

func TestSchedulerAdmitsFIFOWhenSlotFrees(t *testing.T) {
	q, s, runner, _ := newTestScheduler(2)
	enqueueN(t, q, 4)
	s.Tick(context.Background())

	if _, err := q.Retire("r1"); err != nil {
		t.Fatalf("Retire() error = %v", err)
	}
	s.Tick(context.Background())
	s.runners.Wait()

	assertStarted(t, runner.Started(), "r0", "r1", "r2")
	got, _ := q.Get("r3")
	if got.State != StateWaiting {
		t.Fatalf("r3 state = %q, want waiting", got.State)
	}
}

func TestSchedulerLoweredLimitDoesNotPreempt(t *testing.T) {
	q, s, _, _ := newTestScheduler(3)
	enqueueN(t, q, 5)
	s.Tick(context.Background())

	s.SetConcurrencyLimit(1)
	if _, err := q.Retire("r0"); err != nil {
		t.Fatalf("Retire() error = %v", err)
	}
	s.Tick(context.Background())
	s.runners.Wait()

	if got := q.CountProcessing(); got != 2 {
		t.Fatalf("CountProcessing() = %d, want 2 (no preemption, no new admission)", got)
	}
	for _, id := range []string{"r1", "r2"} {
		e, _ := q.Get(id)
		if e.State != StateProcessing {
			t.Fatalf("%s state = %q, want processing", id, e.State)
		}
	}
}

func TestSchedulerNeverExceedsLimit(t *testing.T) {
	q, s, _, _ := newTestScheduler(2)
	enqueueN(t, q, 10)
	for i := 0; i < 10; i++ {
		s.Tick(context.Background())
		if got := q.CountProcessing(); got > 2 {
			t.Fatalf("CountProcessing() = %d after tick %d, want <= 2", got, i)
		}
		snap := q.Snapshot()
		for _, e := range snap {
			if e.State == StateProcessing {
				_, _ = q.Retire(e.ID)
				break
			}
		}
	}
	s.runners.Wait()
}

func TestSchedulerLoopStopsWhenDrainedAndRestartsOnEnqueue(t *testing.T) {
	q := New()
	runner := &recordingRunner{queue: q, retire: true}
	s := NewScheduler(q, runner, nil, SchedulerConfig{ConcurrencyLimit: 2, TickInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	enqueueN(t, q, 3)
	waitFor(t, func() bool { return q.IsEmpty() && !s.Running() })

	if err := q.Enqueue("again", Payload{}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	waitFor(t, func() bool { return q.IsEmpty() && !s.Running() })

	if got := len(runner.Started()); got != 4 {
		t.Fatalf("runs = %d, want 4", got)
	}
	cancel()
	s.Wait()
}

func TestSchedulerResetsQueueGaugesWhenDrained(t *testing.T) {
	metrics := observability.NewMetrics("test_queue_drain_" + time.Now().Format("150405000000000"))
	q := New()
	runner := &recordingRunner{queue: q}
	s := NewScheduler(q, runner, nil, SchedulerConfig{ConcurrencyLimit: 2, TickInterval: 10 * time.Millisecond}, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.Wait()
	}()
	s.Start(ctx)

	enqueueN(t, q, 1)
	waitFor(t, func() bool { return q.CountProcessing() == 1 })
	waitFor(t, func() bool { return testutil.ToFloat64(metrics.QueueProcessing) == 1 })
	if got := testutil.ToFloat64(metrics.QueueDepth); got != 1 {
		t.Fatalf("queue_depth = %v, want 1 while processing", got)
	}

	if _, err := q.Retire("r0"); err != nil {
		t.Fatalf("Retire() error = %v", err)
	}
	waitFor(t, func() bool { return q.IsEmpty() && !s.Running() })

	if got := testutil.ToFloat64(metrics.QueueDepth); got != 0 {
		t.Fatalf("queue_depth = %v, want 0 after drain", got)
	}
	if got := testutil.ToFloat64(metrics.QueueProcessing); got != 0 {
		t.Fatalf("queue_processing = %v, want 0 after drain", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func assertStarted(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("started = %v, want %v", got, want)
	}
	set := make(map[string]bool, len(got))
	for _, id := range got {
		set[id] = true
	}
	for _, id := range want {
		if !set[id] {
			t.Fatalf("started = %v, want %v", got, want)
		}
	}
}
