// Package router implements the Event Router (spec.md §4.3): matches
// published events against hat subscriptions, maintains per-hat ready
// queues, and enforces backpressure and coalescing.
package router

import (
	"bytes"
	"sync"

	"github.com/ralph-run/ralph/internal/diag"
	"github.com/ralph-run/ralph/internal/hat"
	"github.com/ralph-run/ralph/internal/journal"
)

// DefaultQueueCapacity is the per-hat ready queue bound (spec.md §4.3
// "design default: 64").
const DefaultQueueCapacity = 64

// Activation is a (hat, triggering-event) pair queued for the Loop
// Controller to dequeue.
type Activation struct {
	Hat   *hat.Hat
	Event journal.Event
}

// Router owns the journal, the hat registry, and per-hat FIFOs.
type Router struct {
	mu       sync.Mutex
	j        Journal
	registry *hat.Registry
	queues   map[string][]Activation // keyed by hat name
	capacity int
}

// Journal is the subset of *journal.Journal the router needs, seamed for
// tests.
type Journal interface {
	Append(journal.Event) error
}

// New constructs a Router over an already-open journal and hat registry.
func New(j Journal, registry *hat.Registry, capacity int) *Router {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Router{
		j:        j,
		registry: registry,
		queues:   make(map[string][]Activation),
		capacity: capacity,
	}
}

// Publish appends the event to the journal, then fans it out to every
// matching hat's ready queue (spec.md §4.3).
//
// Coalescing policy (spec.md §9 Open Question, resolved in DESIGN.md):
// coalesce only when an entry for the same topic AND byte-identical
// payload is already queued for that hat; distinct payloads always get
// distinct entries.
func (r *Router) Publish(e journal.Event) error {
	if err := r.j.Append(e); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	matches := r.registry.Match(e.Topic)
	for _, h := range matches {
		q := r.queues[h.Name]

		coalesced := false
		for _, existing := range q {
			if existing.Event.Topic == e.Topic && bytes.Equal(existing.Event.Payload, e.Payload) {
				coalesced = true
				break
			}
		}
		if coalesced {
			continue
		}

		if len(q) >= r.capacity {
			diag.Warn("router: backpressure on hat %q, dropping topic %q", h.Name, e.Topic)
			bp, err := journal.NewEvent("router.backpressure", map[string]string{
				"hat":   h.Name,
				"topic": e.Topic,
			})
			if err == nil {
				_ = r.j.Append(bp) // best-effort; publish itself must not fail the caller
			}
			continue
		}

		r.queues[h.Name] = append(q, Activation{Hat: h, Event: e})
	}
	return nil
}

// Next pops the oldest activation for the given hat name, or returns
// ok=false if its queue is empty.
func (r *Router) Next(hatName string) (Activation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q := r.queues[hatName]
	if len(q) == 0 {
		return Activation{}, false
	}
	a := q[0]
	r.queues[hatName] = q[1:]
	return a, true
}

// NextAny pops the head of the first non-empty hat queue, visiting hats
// in registry insertion order (the Loop Controller's "ask the router for
// the next ready hat", spec.md §4.5 Priming/Iterating). It does not
// compare enqueue times across hats: an earlier hat's newer activation
// is returned before a later hat's older one.
func (r *Router) NextAny() (Activation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.registry.Order() {
		q := r.queues[h.Name]
		if len(q) > 0 {
			a := q[0]
			r.queues[h.Name] = q[1:]
			return a, true
		}
	}
	return Activation{}, false
}

// Pending reports whether any hat has a non-empty ready queue.
func (r *Router) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.queues {
		if len(q) > 0 {
			return true
		}
	}
	return false
}
