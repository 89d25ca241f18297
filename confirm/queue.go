// Package confirm resolves identifiers the cache does not know yet. A single
// worker performs one detail lookup at a time and sleeps a fixed delay after
// each one, whatever the outcome. Confirmed identifiers are added to the
// cache and fanned out to every element on file for them.
//
// Each identifier moves through
//
//	unseen -> enqueued -> in-flight -> confirmed | not-confirmed | failed
//
// and is never enqueued again in the same session, failures included.
package confirm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultDelay is the pause after every lookup.
const DefaultDelay = 800 * time.Millisecond

// State is the per-identifier position in the queue lifecycle.
type State string

const (
	StateUnseen       State = ""
	StateEnqueued     State = "enqueued"
	StateInFlight     State = "in_flight"
	StateConfirmed    State = "confirmed"
	StateNotConfirmed State = "not_confirmed"
	StateFailed       State = "failed"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateNotConfirmed || s == StateFailed
}

// Cache is the subset of the identifier cache the queue needs.
type Cache interface {
	Has(id string) bool
	Add(ctx context.Context, id string) error
}

// Fanout applies the marker to every element associated with id.
type Fanout interface {
	ApplyMarkerTo(ctx context.Context, id string)
}

// Classifier decides whether a fetched detail page confirms the attribute.
type Classifier func(status int, body []byte) bool

// Config configures a Queue.
type Config struct {
	Delay      time.Duration // Pause after each lookup. Default: DefaultDelay.
	Classifier Classifier    // Default: PhraseClassifier(DefaultMarkerPhrase).
	Journal    Journal       // Optional outcome journal.
	Logger     *slog.Logger
}

func (c *Config) defaults() {
	if c.Delay <= 0 {
		c.Delay = DefaultDelay
	}
	if c.Classifier == nil {
		c.Classifier = PhraseClassifier(DefaultMarkerPhrase)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Enqueued     int  `json:"enqueued"`
	Lookups      int  `json:"lookups"`
	Confirmed    int  `json:"confirmed"`
	NotConfirmed int  `json:"not_confirmed"`
	Failed       int  `json:"failed"`
	Pending      int  `json:"pending"`
	Running      bool `json:"running"`
}

// Queue is the sequential confirmation worker.
type Queue struct {
	lookup Lookup
	cache  Cache
	fanout Fanout
	config Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending []string
	states  map[string]State
	running bool
	idle    chan struct{} // closed when the current run ends
	stats   Stats
}

// New creates a Queue. The worker is not started until the first Enqueue.
func New(lookup Lookup, cache Cache, fanout Fanout, cfg Config) *Queue {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		lookup: lookup,
		cache:  cache,
		fanout: fanout,
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
		states: make(map[string]State),
	}
}

// Enqueue schedules id for confirmation. It is a no-op, returning false, when
// id is empty, already known to the cache, or was seen before this session.
func (q *Queue) Enqueue(id string) bool {
	if id == "" || q.cache.Has(id) {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ctx.Err() != nil {
		return false
	}
	if _, seen := q.states[id]; seen {
		return false
	}
	q.states[id] = StateEnqueued
	q.pending = append(q.pending, id)
	q.stats.Enqueued++

	if !q.running {
		q.running = true
		q.idle = make(chan struct{})
		q.wg.Add(1)
		go q.run(q.idle)
	}
	return true
}

func (q *Queue) run(idle chan struct{}) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.ctx.Err() != nil {
			q.running = false
			close(idle)
			q.mu.Unlock()
			return
		}
		id := q.pending[0]
		q.pending = q.pending[1:]
		q.states[id] = StateInFlight
		q.mu.Unlock()

		q.resolve(id)

		timer := time.NewTimer(q.config.Delay)
		select {
		case <-timer.C:
		case <-q.ctx.Done():
			timer.Stop()
		}
	}
}

// resolve performs one lookup. In-flight lookups are not cancelled by Stop.
func (q *Queue) resolve(id string) {
	ctx := context.WithoutCancel(q.ctx)
	log := q.config.Logger

	start := time.Now()
	page, err := q.lookup.Fetch(ctx, id)
	elapsed := time.Since(start)
	if err == nil && page == nil {
		err = fmt.Errorf("%w: %s: empty page", ErrLookup, id)
	}

	entry := Entry{Identifier: id, Elapsed: elapsed, At: start}
	var state State
	switch {
	case err != nil:
		state = StateFailed
		entry.Error = err.Error()
		log.Warn("confirm: lookup failed", "id", id, "elapsed", elapsed, "error", err)
	case q.config.Classifier(page.StatusCode, page.Body):
		state = StateConfirmed
		entry.Status = page.StatusCode
		log.Info("confirm: confirmed", "id", id, "elapsed", elapsed)
	default:
		state = StateNotConfirmed
		entry.Status = page.StatusCode
		log.Debug("confirm: not confirmed", "id", id, "status", page.StatusCode, "elapsed", elapsed)
	}
	entry.Outcome = state

	if state == StateConfirmed {
		if err := q.cache.Add(ctx, id); err != nil {
			log.Warn("confirm: persist confirmed id", "id", id, "error", err)
		}
	}

	q.mu.Lock()
	q.states[id] = state
	q.stats.Lookups++
	switch state {
	case StateConfirmed:
		q.stats.Confirmed++
	case StateNotConfirmed:
		q.stats.NotConfirmed++
	case StateFailed:
		q.stats.Failed++
	}
	q.mu.Unlock()

	if state == StateConfirmed && q.fanout != nil {
		q.fanout.ApplyMarkerTo(ctx, id)
	}
	if q.config.Journal != nil {
		if err := q.config.Journal.Record(ctx, entry); err != nil {
			log.Warn("confirm: journal", "id", id, "error", err)
		}
	}
}

// State returns the lifecycle state of id in this session.
func (q *Queue) State(id string) State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.states[id]
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	s.Running = q.running
	return s
}

// Wait blocks until the worker is idle or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops the worker after the lookup in flight, if any, completes.
// Pending identifiers stay enqueued and further Enqueue calls are ignored.
func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()
}

// FanoutFunc adapts a function to Fanout.
type FanoutFunc func(ctx context.Context, id string)

func (f FanoutFunc) ApplyMarkerTo(ctx context.Context, id string) { f(ctx, id) }
