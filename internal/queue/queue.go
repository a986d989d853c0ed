package queue

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Queue is the ordered registry of waiting and processing requests.
// Entries leave the queue on Retire; a done entry is never kept around.
type Queue struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*Entry

	onWake    func()
	onIdle    func()
	onEnqueue func(Entry)
}

func New() *Queue {
	return &Queue{
		entries: make(map[string]*Entry),
	}
}

// SetHooks registers the scheduler start (wake) and stop (idle) signals.
// Hooks run outside the queue lock.
func (q *Queue) SetHooks(onWake, onIdle func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onWake = onWake
	q.onIdle = onIdle
}

// SetEnqueueHook registers fn to observe every new entry. fn runs under the
// queue lock, so it happens before the entry can be admitted; it must not
// call back into the queue.
func (q *Queue) SetEnqueueHook(fn func(Entry)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onEnqueue = fn
}

func (q *Queue) Enqueue(id string, payload Payload) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidID
	}

	q.mu.Lock()
	if _, exists := q.entries[id]; exists {
		q.mu.Unlock()
		return fmt.Errorf("enqueue %s: %w", id, ErrDuplicateID)
	}
	wasEmpty := len(q.order) == 0
	e := &Entry{
		ID:         id,
		Payload:    payload,
		Position:   len(q.order),
		State:      StateWaiting,
		EnqueuedAt: time.Now().UTC(),
	}
	q.entries[id] = e
	q.order = append(q.order, id)
	if q.onEnqueue != nil {
		q.onEnqueue(e.Clone())
	}
	wake := q.onWake
	q.mu.Unlock()

	if wasEmpty && wake != nil {
		wake()
	}
	return nil
}

// Retire removes the entry and shifts every later position down by one.
func (q *Queue) Retire(id string) (Entry, error) {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return Entry{}, fmt.Errorf("retire %s: %w", id, ErrUnknownID)
	}
	delete(q.entries, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	for _, other := range q.entries {
		if other.Position > e.Position {
			other.Position--
		}
	}
	e.State = StateDone
	out := e.Clone()
	empty := len(q.order) == 0
	idle := q.onIdle
	q.mu.Unlock()

	if empty && idle != nil {
		idle()
	}
	return out, nil
}

// Admit moves a waiting entry to processing.
func (q *Queue) Admit(id string) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("admit %s: %w", id, ErrUnknownID)
	}
	if e.State != StateWaiting {
		return Entry{}, fmt.Errorf("admit %s in state %s: %w", id, e.State, ErrInvalidState)
	}
	now := time.Now().UTC()
	e.State = StateProcessing
	e.AdmittedAt = &now
	return e.Clone(), nil
}

func (q *Queue) AssignSurface(id, surface string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("assign surface %s: %w", id, ErrUnknownID)
	}
	e.Surface = surface
	return nil
}

func (q *Queue) Get(id string) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return Entry{}, ErrUnknownID
	}
	return e.Clone(), nil
}

// Snapshot returns copies of all entries in arrival order.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.entries[id].Clone())
	}
	return out
}

func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

func (q *Queue) CountProcessing() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if e.State == StateProcessing {
			n++
		}
	}
	return n
}
