// Package idcache holds the set of identifiers already known to carry the
// disclosed attribute. The set is loaded from persisted state when younger
// than the TTL, refreshed from the remote list otherwise, and falls back to
// the stale persisted copy when the refresh fails.
//
// Identifiers confirmed during a session are added one at a time with Add;
// they are visible immediately and persisted for the next session without
// touching the fetch timestamp. A later Load or Refresh keeps them, so the
// set only grows within a session.
package idcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is the age after which the persisted set is refreshed.
const DefaultTTL = 24 * time.Hour

// ErrCacheLoad wraps failures reading persisted state. The cache treats
// them as an empty cache and fetches.
var ErrCacheLoad = errors.New("idcache: load persisted state")

// ErrRemoteList wraps failures fetching or parsing the remote list. The
// cache falls back to the persisted set.
var ErrRemoteList = errors.New("idcache: remote list")

// Origin tells where the set returned by Load came from.
type Origin string

const (
	OriginPersisted Origin = "persisted" // fresh persisted copy, no network
	OriginRemote    Origin = "remote"    // fetched and persisted
	OriginStale     Origin = "stale"     // refresh failed, previous copy kept
)

// Set is a point-in-time copy of the cached identifiers.
type Set struct {
	IDs       map[string]struct{}
	FetchedAt time.Time // zero when the list was never fetched
	Origin    Origin
}

// Has reports whether id is in the set.
func (s *Set) Has(id string) bool {
	_, ok := s.IDs[id]
	return ok
}

// Len returns the number of identifiers.
func (s *Set) Len() int { return len(s.IDs) }

// Source fetches the canonical identifier list.
type Source interface {
	FetchIDs(ctx context.Context) ([]string, error)
}

// Cache is the identifier cache. Safe for concurrent use.
type Cache struct {
	store  Store
	source Source
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu        sync.RWMutex
	ids       map[string]struct{}
	added     map[string]struct{} // confirmed this session via Add
	fetchedAt time.Time

	persistMu sync.Mutex
	group     singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the freshness window. Default: DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Cache over the given persisted store and remote source.
// Call Load before relying on Has.
func New(store Store, source Source, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		source: source,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default(),
		ids:    make(map[string]struct{}),
		added:  make(map[string]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Load returns the identifier set, refreshing it from the remote list when
// the persisted copy is missing or older than the TTL. It never fails:
// storage and network errors degrade to the best data available.
// Concurrent calls share a single refresh.
func (c *Cache) Load(ctx context.Context) *Set {
	v, _, _ := c.group.Do("load", func() (any, error) {
		return c.load(ctx, false), nil
	})
	return v.(*Set)
}

// Refresh fetches the remote list regardless of the TTL. On failure the
// previous set is kept and the error is returned.
func (c *Cache) Refresh(ctx context.Context) (*Set, error) {
	set := c.load(ctx, true)
	if set.Origin == OriginStale {
		return set, fmt.Errorf("%w: refresh failed, kept %d stale identifiers", ErrRemoteList, set.Len())
	}
	return set, nil
}

func (c *Cache) load(ctx context.Context, force bool) *Set {
	ids, fetchedAt, err := c.readPersisted(ctx)
	readOK := err == nil
	if err != nil {
		c.logger.Warn("idcache: persisted state unreadable, fetching", "error", err)
		ids, fetchedAt = nil, time.Time{}
	}

	if !force && readOK && !fetchedAt.IsZero() && c.now().Sub(fetchedAt) < c.ttl {
		c.replace(ids, fetchedAt)
		c.logger.Debug("idcache: persisted set is fresh",
			"count", len(ids), "age", c.now().Sub(fetchedAt))
		return c.snapshot(OriginPersisted)
	}

	fresh, err := c.source.FetchIDs(ctx)
	if err != nil {
		c.logger.Warn("idcache: remote refresh failed, using persisted set",
			"count", len(ids), "error", err)
		if readOK {
			c.replace(ids, fetchedAt)
		}
		return c.snapshot(OriginStale)
	}

	now := c.now()
	if err := c.writePersisted(ctx, c.withAdded(fresh), now); err != nil {
		c.logger.Warn("idcache: persist refreshed set", "error", err)
	}
	c.replace(fresh, now)
	c.logger.Info("idcache: refreshed from remote", "count", len(fresh))
	return c.snapshot(OriginRemote)
}

// Add records one confirmed identifier. It is visible to Has immediately;
// the persisted set is updated without changing the fetch timestamp. A
// persistence error is returned but the in-memory addition stands.
func (c *Cache) Add(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	c.mu.Lock()
	_, had := c.ids[id]
	c.ids[id] = struct{}{}
	c.added[id] = struct{}{}
	c.mu.Unlock()
	if had {
		return nil
	}
	return c.appendPersisted(ctx, id)
}

// Has reports whether id is known.
func (c *Cache) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ids[id]
	return ok
}

// Len returns the number of known identifiers.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// FetchedAt returns the timestamp of the last successful remote fetch
// currently in effect, zero if none.
func (c *Cache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

// IDs returns the known identifiers, sorted.
func (c *Cache) IDs() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.ids))
	for id := range c.ids {
		out = append(out, id)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// replace swaps in a loaded set. Identifiers added this session survive.
func (c *Cache) replace(ids []string, fetchedAt time.Time) {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			m[id] = struct{}{}
		}
	}
	c.mu.Lock()
	for id := range c.added {
		m[id] = struct{}{}
	}
	c.ids = m
	c.fetchedAt = fetchedAt
	c.mu.Unlock()
}

// withAdded returns ids followed by the session additions it lacks.
func (c *Cache) withAdded(ids []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.added) == 0 {
		return ids
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	out := append([]string(nil), ids...)
	extra := make([]string, 0, len(c.added))
	for id := range c.added {
		if _, ok := seen[id]; !ok {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func (c *Cache) snapshot(origin Origin) *Set {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := make(map[string]struct{}, len(c.ids))
	for id := range c.ids {
		m[id] = struct{}{}
	}
	return &Set{IDs: m, FetchedAt: c.fetchedAt, Origin: origin}
}
