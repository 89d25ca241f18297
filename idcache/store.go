package idcache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Persisted keys. The identifier set and its fetch timestamp are two
// independent entries so that Add can rewrite the first without the second.
const (
	KeyIDs       = "ai_app_ids"
	KeyFetchedAt = "ai_app_ids_cache_time"
)

// Store is the key/value persistence the cache reads before any network
// access. A missing key is reported with ok=false, not an error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte) error
}

func (c *Cache) readPersisted(ctx context.Context) ([]string, time.Time, error) {
	var fetchedAt time.Time
	raw, ok, err := c.store.Get(ctx, KeyFetchedAt)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %s: %v", ErrCacheLoad, KeyFetchedAt, err)
	}
	if ok {
		ms, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("%w: %s: %v", ErrCacheLoad, KeyFetchedAt, err)
		}
		fetchedAt = time.UnixMilli(ms)
	}

	raw, ok, err = c.store.Get(ctx, KeyIDs)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %s: %v", ErrCacheLoad, KeyIDs, err)
	}
	if !ok {
		return nil, fetchedAt, nil
	}
	ids, err := ParseIDs(raw)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %s: %v", ErrCacheLoad, KeyIDs, err)
	}
	return ids, fetchedAt, nil
}

// writePersisted stores ids first and the timestamp last, so a failure in
// between leaves an old timestamp and the next load retries.
func (c *Cache) writePersisted(ctx context.Context, ids []string, fetchedAt time.Time) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, KeyIDs, data); err != nil {
		return fmt.Errorf("idcache: put %s: %w", KeyIDs, err)
	}
	ts := strconv.FormatInt(fetchedAt.UnixMilli(), 10)
	if err := c.store.Put(ctx, KeyFetchedAt, []byte(ts)); err != nil {
		return fmt.Errorf("idcache: put %s: %w", KeyFetchedAt, err)
	}
	return nil
}

func (c *Cache) appendPersisted(ctx context.Context, id string) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	var ids []string
	raw, ok, err := c.store.Get(ctx, KeyIDs)
	if err != nil {
		return fmt.Errorf("idcache: get %s: %w", KeyIDs, err)
	}
	if ok {
		if ids, err = ParseIDs(raw); err != nil {
			// Unreadable entry: rewrite it from what this session knows.
			ids = c.IDs()
		}
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)

	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, KeyIDs, data); err != nil {
		return fmt.Errorf("idcache: put %s: %w", KeyIDs, err)
	}
	return nil
}

// MemoryStore is an in-process Store. It persists nothing across
// processes; used in tests and when no database is configured.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}
