// Package aibadge marks storefront tiles whose application is known to carry
// an AI-generated content disclosure, and shows a banner on detail views that
// disclose it.
//
// The Engine wires the identifier cache, the confirmation queue, the tile
// registry, the change detector and the disclosure presenter around a Host,
// the page being decorated. Without a Host the engine still answers lookups
// (Check, Status, Match), which is what the MCP tools and one-shot commands use.
package aibadge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/aibadge/confirm"
	"github.com/hazyhaar/aibadge/detect"
	"github.com/hazyhaar/aibadge/disclosure"
	"github.com/hazyhaar/aibadge/idcache"
	"github.com/hazyhaar/aibadge/tiles"
)

// Host is the page the engine decorates. Elements are opaque string keys.
type Host interface {
	detect.Scanner[string]
	tiles.Marker[string]
	disclosure.Banner
	disclosure.Document
}

// OutcomeCounter reports journalled lookup outcomes across sessions.
type OutcomeCounter interface {
	OutcomeCounts(ctx context.Context) (map[string]int, error)
}

// Config configures an Engine. Source and Lookup are required.
type Config struct {
	Store      idcache.Store  // Default: in-memory.
	Source     idcache.Source // Remote identifier list.
	Lookup     confirm.Lookup // Detail page lookup.
	Classifier confirm.Classifier
	Journal    confirm.Journal
	Outcomes   OutcomeCounter
	Rules      *disclosure.Rules // Default: disclosure.DefaultRules().
	TTL        time.Duration
	Delay      time.Duration
	Detector   detect.Config
	Host       Host // Optional.
	Logger     *slog.Logger
}

// Engine is the process-wide state of one marking session.
type Engine struct {
	cache     *idcache.Cache
	queue     *confirm.Queue
	registry  *tiles.Registry[string]
	eval      *disclosure.Evaluator
	detector  *detect.Detector[string] // nil without a Host
	presenter *disclosure.Presenter    // nil without a Host
	outcomes  OutcomeCounter
	logger    *slog.Logger
}

// New builds an Engine. Nothing runs until Load or Run.
func New(cfg Config) (*Engine, error) {
	if cfg.Source == nil {
		return nil, errors.New("aibadge: source is required")
	}
	if cfg.Lookup == nil {
		return nil, errors.New("aibadge: lookup is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := cfg.Store
	if store == nil {
		store = idcache.NewMemoryStore()
	}

	opts := []idcache.Option{idcache.WithLogger(logger)}
	if cfg.TTL > 0 {
		opts = append(opts, idcache.WithTTL(cfg.TTL))
	}

	rules := disclosure.DefaultRules()
	if cfg.Rules != nil {
		rules = *cfg.Rules
	}

	e := &Engine{
		cache:    idcache.New(store, cfg.Source, opts...),
		eval:     disclosure.NewEvaluator(disclosure.NewMatcher(rules)),
		outcomes: cfg.Outcomes,
		logger:   logger,
	}

	var marker tiles.Marker[string] = tiles.MarkerFunc[string](func(context.Context, string, string) error { return nil })
	if cfg.Host != nil {
		marker = cfg.Host
	}

	e.queue = confirm.New(cfg.Lookup, e.cache, confirm.FanoutFunc(e.applyMarker), confirm.Config{
		Delay:      cfg.Delay,
		Classifier: cfg.Classifier,
		Journal:    cfg.Journal,
		Logger:     logger,
	})
	e.registry = tiles.New[string](marker, e.cache, e.queue, tiles.WithLogger(logger))

	if cfg.Host != nil {
		e.presenter = disclosure.NewPresenter(e.eval, cfg.Host, cfg.Host, logger)
		dcfg := cfg.Detector
		if dcfg.Logger == nil {
			dcfg.Logger = logger
		}
		after := dcfg.AfterScan
		dcfg.AfterScan = func(ctx context.Context) {
			e.presenter.Check(ctx)
			if after != nil {
				after(ctx)
			}
		}
		e.detector = detect.New[string](cfg.Host, e.registry, dcfg)
	}
	return e, nil
}

func (e *Engine) applyMarker(ctx context.Context, id string) {
	e.registry.ApplyMarkerTo(ctx, id)
}

// Load loads the identifier set. It never fails; see idcache.Cache.Load.
func (e *Engine) Load(ctx context.Context) *idcache.Set {
	set := e.cache.Load(ctx)
	e.logger.Info("aibadge: identifier set loaded",
		"count", set.Len(), "origin", set.Origin, "fetched_at", set.FetchedAt)
	return set
}

// Run loads the identifier set, then drives the change detector until ctx is
// done. Without a Host it only loads and waits.
func (e *Engine) Run(ctx context.Context) error {
	e.Load(ctx)
	if e.detector == nil {
		<-ctx.Done()
		return nil
	}
	return e.detector.Run(ctx)
}

// Stop stops the confirmation worker. A lookup in flight completes.
func (e *Engine) Stop() {
	e.queue.Stop()
}

// Notify reports a structural change of the host document.
func (e *Engine) Notify() {
	if e.detector != nil {
		e.detector.Notify()
	}
}

// Navigated reports a history navigation within the same document.
func (e *Engine) Navigated(url string) {
	e.logger.Debug("aibadge: navigated", "url", url)
	if e.detector != nil {
		e.detector.Rescan()
	}
}

// DocumentReset reports that the host loaded a new document: element keys
// from the previous document are forgotten.
func (e *Engine) DocumentReset(url string) {
	e.logger.Debug("aibadge: document reset", "url", url)
	e.registry.Reset()
	if e.detector != nil {
		e.detector.Rescan()
	}
}

// IDStatus is what the engine knows about one identifier.
type IDStatus struct {
	ID       string        `json:"id"`
	Known    bool          `json:"known"`
	State    confirm.State `json:"state,omitempty"`
	Elements int           `json:"elements"`
}

// Status reports id without scheduling anything.
func (e *Engine) Status(id string) IDStatus {
	return IDStatus{
		ID:       id,
		Known:    e.cache.Has(id),
		State:    e.queue.State(id),
		Elements: len(e.registry.Elements(id)),
	}
}

// Check schedules every unknown id for confirmation and waits until the
// queue is idle, honouring the delay between lookups.
func (e *Engine) Check(ctx context.Context, ids []string) ([]IDStatus, error) {
	for _, id := range ids {
		e.queue.Enqueue(id)
	}
	if err := e.queue.Wait(ctx); err != nil {
		return nil, fmt.Errorf("aibadge: check: %w", err)
	}
	out := make([]IDStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.Status(id))
	}
	return out, nil
}

// Refresh reloads the identifier set from the remote list, ignoring the TTL.
func (e *Engine) Refresh(ctx context.Context) (*idcache.Set, error) {
	return e.cache.Refresh(ctx)
}

// Match evaluates a detail page.
func (e *Engine) Match(page []byte) disclosure.Result {
	return e.eval.Evaluate(page)
}

// MatchText evaluates a bare descriptor heading.
func (e *Engine) MatchText(text string) disclosure.Result {
	return e.eval.EvaluateText(text)
}

// CacheStats describes the identifier set.
type CacheStats struct {
	Size      int       `json:"size"`
	FetchedAt time.Time `json:"fetched_at"`
}

// BannerStats counts banner updates.
type BannerStats struct {
	Shows    int  `json:"shows"`
	Retracts int  `json:"retracts"`
	Present  bool `json:"present"`
}

// Stats is a snapshot of every counter.
type Stats struct {
	Cache    CacheStats     `json:"cache"`
	Queue    confirm.Stats  `json:"queue"`
	Registry tiles.Stats    `json:"registry"`
	Detector *detect.Stats  `json:"detector,omitempty"`
	Banner   *BannerStats   `json:"banner,omitempty"`
	Outcomes map[string]int `json:"outcomes,omitempty"`
}

// Stats returns the current counters. Journal errors are logged and leave
// Outcomes empty.
func (e *Engine) Stats(ctx context.Context) Stats {
	s := Stats{
		Cache:    CacheStats{Size: e.cache.Len(), FetchedAt: e.cache.FetchedAt()},
		Queue:    e.queue.Stats(),
		Registry: e.registry.Stats(),
	}
	if e.detector != nil {
		ds := e.detector.Stats()
		s.Detector = &ds
	}
	if e.presenter != nil {
		shows, retracts := e.presenter.Counts()
		s.Banner = &BannerStats{Shows: shows, Retracts: retracts, Present: e.presenter.Last().Present}
	}
	if e.outcomes != nil {
		counts, err := e.outcomes.OutcomeCounts(ctx)
		if err != nil {
			e.logger.Warn("aibadge: outcome counts", "error", err)
		} else {
			s.Outcomes = counts
		}
	}
	return s
}
