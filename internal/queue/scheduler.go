package queue

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ent0n29/promptqueue/internal/observability"
)

// Runner processes one admitted request to completion. It must retire the
// entry on every terminal path; the scheduler never does.
type Runner interface {
	Run(ctx context.Context, entry Entry)
}

// Notifier tells a waiting requester how many requests are ahead of them.
type Notifier interface {
	UpdatePosition(ctx context.Context, requestID string, ahead int) error
}

type SchedulerConfig struct {
	ConcurrencyLimit int
	TickInterval     time.Duration
}

// Scheduler admits waiting entries in arrival order up to the concurrency
// limit. Its loop only exists while the queue is non-empty: an enqueue into an
// empty queue starts it, and the first tick that finds the queue empty ends it.
type Scheduler struct {
	queue    *Queue
	runner   Runner
	notifier Notifier
	metrics  *observability.Metrics

	limit    atomic.Int64
	interval time.Duration

	mu      sync.Mutex
	baseCtx context.Context
	running bool
	idleCh  chan struct{}

	tickMu     sync.Mutex
	lastNotice map[string]int

	loops   sync.WaitGroup
	runners sync.WaitGroup
}

func NewScheduler(q *Queue, runner Runner, notifier Notifier, cfg SchedulerConfig, metrics *observability.Metrics) *Scheduler {
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 3
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 3 * time.Second
	}
	s := &Scheduler{
		queue:      q,
		runner:     runner,
		notifier:   notifier,
		metrics:    metrics,
		interval:   cfg.TickInterval,
		lastNotice: make(map[string]int),
	}
	s.limit.Store(int64(cfg.ConcurrencyLimit))
	q.SetHooks(s.ensureRunning, s.signalIdle)
	return s
}

// Start enables the loop for the lifetime of ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	if !s.queue.IsEmpty() {
		s.ensureRunning()
	}
}

// Wait blocks until the loop and every runner started by it have returned.
func (s *Scheduler) Wait() {
	s.loops.Wait()
	s.runners.Wait()
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) ConcurrencyLimit() int {
	return int(s.limit.Load())
}

// SetConcurrencyLimit only constrains future admissions; entries already
// processing are never preempted.
func (s *Scheduler) SetConcurrencyLimit(n int) {
	if n <= 0 {
		n = 1
	}
	s.limit.Store(int64(n))
	log.Printf("scheduler: concurrency limit set to %d", n)
}

func (s *Scheduler) ensureRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.baseCtx == nil || s.baseCtx.Err() != nil {
		return
	}
	s.running = true
	s.idleCh = make(chan struct{}, 1)
	s.loops.Add(1)
	log.Printf("scheduler: starting queue processor")
	go s.loop(s.baseCtx, s.idleCh)
}

func (s *Scheduler) signalIdle() {
	s.mu.Lock()
	ch := s.idleCh
	s.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context, idle <-chan struct{}) {
	defer s.loops.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if s.stopIfEmpty() {
			log.Printf("scheduler: queue drained, stopping queue processor")
			return
		}
		s.Tick(ctx)

		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.idleCh = nil
			s.mu.Unlock()
			return
		case <-ticker.C:
		case <-idle:
		}
	}
}

// stopIfEmpty holds s.mu across the emptiness check so a concurrent wake
// either sees the loop still running or starts a fresh one.
func (s *Scheduler) stopIfEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.queue.IsEmpty() {
		return false
	}
	s.running = false
	s.idleCh = nil
	if s.metrics != nil {
		s.metrics.SetQueueGauges(0, 0)
	}
	return true
}

// Tick runs one admission pass. Ticks never overlap.
func (s *Scheduler) Tick(ctx context.Context) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	entries := s.queue.Snapshot()
	limit := s.ConcurrencyLimit()

	processing := 0
	for _, e := range entries {
		if e.State == StateProcessing {
			processing++
		}
	}

	admitted := 0
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.ID] = struct{}{}
		if e.State != StateWaiting {
			continue
		}
		if processing+admitted < limit {
			entry, err := s.queue.Admit(e.ID)
			if err != nil {
				log.Printf("scheduler: admit %s failed: %v", e.ID, err)
				continue
			}
			admitted++
			delete(s.lastNotice, e.ID)
			if s.metrics != nil {
				s.metrics.ObserveAdmission(entry.AdmittedAt.Sub(entry.EnqueuedAt))
			}
			log.Printf("scheduler: processing request %s", entry.ID)

			s.runners.Add(1)
			go func(entry Entry) {
				defer s.runners.Done()
				s.runner.Run(ctx, entry)
			}(entry)
			continue
		}
		s.notifyPosition(ctx, e, limit)
	}

	for id := range s.lastNotice {
		if _, ok := seen[id]; !ok {
			delete(s.lastNotice, id)
		}
	}
	if s.metrics != nil {
		s.metrics.SetQueueGauges(len(entries), processing+admitted)
	}
}

func (s *Scheduler) notifyPosition(ctx context.Context, e Entry, limit int) {
	if s.notifier == nil {
		return
	}
	ahead := e.Position - limit
	if ahead < 0 {
		ahead = 0
	}
	if last, ok := s.lastNotice[e.ID]; ok && last == ahead {
		return
	}
	if err := s.notifier.UpdatePosition(ctx, e.ID, ahead); err != nil {
		log.Printf("scheduler: position update for %s failed: %v", e.ID, err)
		return
	}
	s.lastNotice[e.ID] = ahead
	if s.metrics != nil {
		s.metrics.PositionNotices.Inc()
	}
}
