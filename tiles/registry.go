// Package tiles maps page elements to identifiers and applies the marker to
// every element of a confirmed identifier, including elements that show up
// after the confirmation was requested.
//
// Element handles are opaque, comparable values owned by the host document.
// The registry keeps non-owning associations only and forgets them on Reset,
// which the host calls when the document is torn down.
package tiles

import (
	"context"
	"log/slog"
	"sync"
)

// Marker applies the visual marker to one element.
type Marker[E comparable] interface {
	Mark(ctx context.Context, el E, id string) error
}

// MarkerFunc adapts a function to Marker.
type MarkerFunc[E comparable] func(ctx context.Context, el E, id string) error

func (f MarkerFunc[E]) Mark(ctx context.Context, el E, id string) error { return f(ctx, el, id) }

// Known reports identifiers already confirmed.
type Known interface {
	Has(id string) bool
}

// Enqueuer schedules unknown identifiers for confirmation.
type Enqueuer interface {
	Enqueue(id string) bool
}

// Stats is a snapshot of registry counters.
type Stats struct {
	Elements    int `json:"elements"`
	Identifiers int `json:"identifiers"`
	Marked      int `json:"marked"`
	MarkErrors  int `json:"mark_errors"`
}

// Registry is the element/identifier registry. Safe for concurrent use.
type Registry[E comparable] struct {
	marker Marker[E]
	known  Known
	queue  Enqueuer
	logger *slog.Logger

	mu         sync.Mutex
	processed  map[E]string // every element seen, "" when it had no identifier
	byID       map[string][]E
	marked     map[E]bool
	markErrors int
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates a Registry. queue may be nil, in which case unknown
// identifiers are only recorded.
func New[E comparable](marker Marker[E], known Known, queue Enqueuer, opts ...Option) *Registry[E] {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Registry[E]{
		marker:    marker,
		known:     known,
		queue:     queue,
		logger:    o.logger,
		processed: make(map[E]string),
		byID:      make(map[string][]E),
		marked:    make(map[E]bool),
	}
}

// Associate records that el carries id. An element is processed once: later
// calls for the same element are no-ops and return false. A known id is
// marked at once; an unknown one is handed to the queue. An element with
// no identifier is recorded as processed and otherwise ignored.
func (r *Registry[E]) Associate(ctx context.Context, el E, id string) bool {
	r.mu.Lock()
	if _, seen := r.processed[el]; seen {
		r.mu.Unlock()
		return false
	}
	r.processed[el] = id
	if id == "" {
		r.mu.Unlock()
		return true
	}
	r.byID[id] = append(r.byID[id], el)
	// Checked under the lock so a concurrent ApplyMarkerTo either sees el
	// or happened after the id became known.
	known := r.known.Has(id)
	r.mu.Unlock()

	if known {
		r.mark(ctx, el, id)
	} else if r.queue != nil {
		r.queue.Enqueue(id)
	}
	return true
}

// ApplyMarkerTo marks every element on file for id, skipping those already
// marked.
func (r *Registry[E]) ApplyMarkerTo(ctx context.Context, id string) {
	r.mu.Lock()
	els := append([]E(nil), r.byID[id]...)
	r.mu.Unlock()

	for _, el := range els {
		r.mark(ctx, el, id)
	}
}

func (r *Registry[E]) mark(ctx context.Context, el E, id string) {
	r.mu.Lock()
	if r.marked[el] {
		r.mu.Unlock()
		return
	}
	r.marked[el] = true
	r.mu.Unlock()

	if err := r.marker.Mark(ctx, el, id); err != nil {
		// Unclaim so a later ApplyMarkerTo can retry this element.
		r.mu.Lock()
		delete(r.marked, el)
		r.markErrors++
		r.mu.Unlock()
		r.logger.Warn("tiles: mark element", "id", id, "error", err)
	}
}

// Elements returns the elements on file for id.
func (r *Registry[E]) Elements(id string) []E {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]E(nil), r.byID[id]...)
}

// IdentifierOf returns the identifier recorded for el.
func (r *Registry[E]) IdentifierOf(el E) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.processed[el]
	return id, ok
}

// Marked reports whether el carries the marker.
func (r *Registry[E]) Marked(el E) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.marked[el]
}

// Stats returns a snapshot of registry counters.
func (r *Registry[E]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Elements:    len(r.processed),
		Identifiers: len(r.byID),
		Marked:      len(r.marked),
		MarkErrors:  r.markErrors,
	}
}

// Reset forgets every association. Called when the host document goes away.
func (r *Registry[E]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = make(map[E]string)
	r.byID = make(map[string][]E)
	r.marked = make(map[E]bool)
}
