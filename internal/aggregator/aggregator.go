package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/ent0n29/promptqueue/internal/inference"
	"github.com/ent0n29/promptqueue/internal/notify"
	"github.com/ent0n29/promptqueue/internal/observability"
	"github.com/ent0n29/promptqueue/internal/policy"
	"github.com/ent0n29/promptqueue/internal/queue"
	"github.com/ent0n29/promptqueue/internal/transcript"
)

const (
	FailureMessage = "An error occurred. Please try again later."
	SurfaceWarning = "WARNING: Sending messages in the same thread as the bot while processing may break the response."

	titleMaxRunes  = 100
	notifyTimeout  = 5 * time.Second
	logPromptRunes = 80
)

// Queue is the slice of the queue the aggregator writes to.
type Queue interface {
	AssignSurface(id, surface string) error
	Retire(id string) (queue.Entry, error)
}

type Config struct {
	PageSize      int
	SplitMode     SplitMode
	FlushInterval time.Duration
	FinalGrace    time.Duration
}

// Aggregator runs one admitted request end to end: it streams the inference
// response into pages, keeps the sink in sync, and always retires the entry.
type Aggregator struct {
	queue   Queue
	client  inference.Client
	sink    notify.Sink
	store   transcript.Store
	metrics *observability.Metrics
	cfg     Config
}

func New(q Queue, client inference.Client, sink notify.Sink, store transcript.Store, metrics *observability.Metrics, cfg Config) *Aggregator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1800
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.FinalGrace < 0 {
		cfg.FinalGrace = 0
	}
	return &Aggregator{
		queue:   q,
		client:  client,
		sink:    sink,
		store:   store,
		metrics: metrics,
		cfg:     cfg,
	}
}

// Run implements queue.Runner.
func (a *Aggregator) Run(ctx context.Context, entry queue.Entry) {
	started := time.Now()
	r := newRun(a, entry)
	var runErr error

	defer func() {
		outcome := transcript.OutcomeCompleted
		if runErr != nil {
			outcome = transcript.OutcomeFailed
		}
		a.saveTranscript(ctx, r, outcome, runErr)
		if _, err := a.queue.Retire(entry.ID); err != nil {
			log.Printf("aggregator: retire %s failed: %v", entry.ID, err)
		}
		if a.metrics != nil {
			a.metrics.ObserveRetirement(string(outcome), time.Since(started))
		}
		log.Printf("aggregator: request %s %s after %s (%d pages)", entry.ID, outcome, time.Since(started).Round(time.Millisecond), r.pageCount())
	}()

	if runErr = a.stream(ctx, r, started); runErr != nil {
		a.fail(ctx, r, runErr)
	}
}

func (a *Aggregator) stream(ctx context.Context, r *run, started time.Time) error {
	surface, err := a.sink.CreateSurface(ctx, r.entry.ID, SurfaceTitle(r.entry.Payload))
	if err != nil {
		return fmt.Errorf("create surface: %w", err)
	}
	r.setSurface(surface)
	if err := a.queue.AssignSurface(r.entry.ID, surface); err != nil {
		log.Printf("aggregator: assign surface for %s failed: %v", r.entry.ID, err)
	}

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	log.Printf("aggregator: request %s streaming prompt=%q", r.entry.ID, policy.LogSafe(r.entry.Payload.Prompt, logPromptRunes))
	stream, err := a.client.Stream(streamCtx, inference.Request{
		ID:     r.entry.ID,
		Prompt: r.entry.Payload.Prompt,
		UserID: r.entry.Payload.UserID,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	flushCtx, stopFlush := context.WithCancel(streamCtx)
	flusherDone := make(chan struct{})
	go r.flushLoop(flushCtx, a.cfg.FlushInterval, cancelStream, flusherDone)
	stopFlusher := func() {
		stopFlush()
		<-flusherDone
	}

	first := true
	for {
		frag, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			stopFlusher()
			if flushErr := r.flushFailure(); flushErr != nil {
				return flushErr
			}
			return err
		}
		if frag == "" {
			continue
		}
		if first {
			first = false
			if a.metrics != nil {
				a.metrics.ObserveFirstFragment(time.Since(started))
			}
		}
		if a.metrics != nil {
			a.metrics.Fragments.Inc()
		}
		r.append(frag)
	}

	if err := sleepCtx(ctx, a.cfg.FinalGrace); err != nil {
		stopFlusher()
		return err
	}
	stopFlusher()
	if err := r.flushFailure(); err != nil {
		return err
	}

	r.setPhase(PhaseFlushing)
	if err := r.Flush(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	r.setPhase(PhaseClosed)
	if err := a.sink.CloseWorkingIndicator(ctx, r.entry.ID); err != nil {
		return fmt.Errorf("close working indicator: %w", err)
	}
	return nil
}

// fail reports a terminal error. Reports use a detached context so a
// shutdown still lets the requester know.
func (a *Aggregator) fail(ctx context.Context, r *run, err error) {
	log.Printf("aggregator: request %s failed: %v", r.entry.ID, err)
	if a.metrics != nil && errors.Is(err, inference.ErrBackendStream) {
		a.metrics.BackendErrors.WithLabelValues(a.client.Name()).Inc()
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if !errors.Is(err, notify.ErrSurfaceUnavailable) {
		reportErr := a.sink.ReportFailure(nctx, notify.Target{RequestID: r.entry.ID, Surface: r.surfaceID()}, FailureMessage)
		if reportErr == nil {
			return
		}
		log.Printf("aggregator: failure notice for %s failed: %v", r.entry.ID, reportErr)
		if !errors.Is(reportErr, notify.ErrSurfaceUnavailable) {
			return
		}
	}
	if warnErr := a.sink.ReportFailure(nctx, notify.Target{RequestID: r.entry.ID}, SurfaceWarning); warnErr != nil {
		log.Printf("aggregator: surface warning for %s failed: %v", r.entry.ID, warnErr)
	}
}

func (a *Aggregator) saveTranscript(ctx context.Context, r *run, outcome transcript.Outcome, runErr error) {
	if a.store == nil {
		return
	}
	prompt, changed := policy.RedactPII(r.entry.Payload.Prompt)
	t := transcript.Transcript{
		RequestID:   r.entry.ID,
		UserID:      r.entry.Payload.UserID,
		DisplayName: r.entry.Payload.DisplayName,
		Prompt:      prompt,
		Response:    r.text(),
		Pages:       r.pageCount(),
		Outcome:     outcome,
		PIIRedacted: changed,
		EnqueuedAt:  r.entry.EnqueuedAt,
		CompletedAt: time.Now().UTC(),
	}
	if runErr != nil {
		t.Error = runErr.Error()
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := a.store.Save(sctx, t); err != nil {
		log.Printf("aggregator: save transcript %s failed: %v", r.entry.ID, err)
	}
}

// SurfaceTitle names the output surface after the requester and prompt.
func SurfaceTitle(p queue.Payload) string {
	name := p.DisplayName
	if name == "" {
		name = p.UserID
	}
	title := fmt.Sprintf("[%s] - Prompt: %s", name, p.Prompt)
	head, rest := cutRunes(title, titleMaxRunes)
	if rest != "" {
		return head
	}
	return title
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Phase is the per-request sub-state while the entry is processing.
type Phase string

const (
	PhaseStreaming Phase = "streaming"
	PhaseFlushing  Phase = "flushing"
	PhaseClosed    Phase = "closed"
)

// run holds one request's pages and what the sink has already seen of them.
// Flushes are serialized by flushMu; the pager is guarded by mu.
type run struct {
	a     *Aggregator
	entry queue.Entry

	mu       sync.Mutex
	pager    *Pager
	surface  string
	phase    Phase
	flushErr error

	flushMu   sync.Mutex
	units     []string
	published []string
}

func newRun(a *Aggregator, entry queue.Entry) *run {
	return &run{
		a:     a,
		entry: entry,
		pager: NewPager(a.cfg.PageSize, a.cfg.SplitMode),
		phase: PhaseStreaming,
	}
}

func (r *run) setSurface(s string) {
	r.mu.Lock()
	r.surface = s
	r.mu.Unlock()
}

func (r *run) surfaceID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.surface
}

func (r *run) append(frag string) {
	r.mu.Lock()
	r.pager.Append(frag)
	r.mu.Unlock()
}

func (r *run) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pager.Text()
}

func (r *run) pageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pager.Len()
}

// setPhase only moves forward; a closed run stays closed.
func (r *run) setPhase(p Phase) {
	r.mu.Lock()
	if r.phase != PhaseClosed {
		r.phase = p
	}
	r.mu.Unlock()
}

func (r *run) flushFailure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushErr
}

// flushLoop syncs pages on every interval. A flush error ends the loop and
// cancels the stream so the request fails fast.
func (r *run) flushLoop(ctx context.Context, interval time.Duration, cancelStream context.CancelFunc, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.mu.Lock()
				r.flushErr = err
				r.mu.Unlock()
				cancelStream()
				return
			}
		}
	}
}

// Flush publishes pages the sink has not seen and updates pages whose text
// changed since they were published. With no new text it does nothing.
func (r *run) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	if r.phase == PhaseClosed {
		r.mu.Unlock()
		return nil
	}
	pages := r.pager.Pages()
	surface := r.surface
	r.mu.Unlock()

	for i, text := range pages {
		if i < len(r.units) {
			if r.published[i] == text {
				continue
			}
			if err := r.a.sink.UpdatePage(ctx, r.units[i], text); err != nil {
				return fmt.Errorf("update page %d: %w", i, err)
			}
			r.published[i] = text
			r.a.observePageOp("update")
			continue
		}
		unit, err := r.a.sink.PublishPage(ctx, surface, i, text)
		if err != nil {
			return fmt.Errorf("publish page %d: %w", i, err)
		}
		r.units = append(r.units, unit)
		r.published = append(r.published, text)
		r.a.observePageOp("publish")
	}
	return nil
}

func (a *Aggregator) observePageOp(op string) {
	if a.metrics != nil {
		a.metrics.PageOps.WithLabelValues(op).Inc()
	}
}
