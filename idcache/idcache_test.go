package idcache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/aibadge/internal/fetch"
)

type fakeSource struct {
	ids   []string
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (f *fakeSource) FetchIDs(ctx context.Context) ([]string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.ids, f.err
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("disk on fire")
}

func (failingStore) Put(context.Context, string, []byte) error { return nil }

func seed(t *testing.T, s Store, ids string, fetchedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := s.Put(ctx, KeyIDs, []byte(ids)); err != nil {
		t.Fatal(err)
	}
	ts := strconv.FormatInt(fetchedAt.UnixMilli(), 10)
	if err := s.Put(ctx, KeyFetchedAt, []byte(ts)); err != nil {
		t.Fatal(err)
	}
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

func TestLoad_FreshPersistedSkipsNetwork(t *testing.T) {
	// WHAT: fetchedAt = now - TTL + 1ms is still fresh.
	// WHY: The persisted set is authoritative inside the TTL window.
	now := time.UnixMilli(1_700_000_000_000)
	store := NewMemoryStore()
	seed(t, store, `["10","20"]`, now.Add(-DefaultTTL+time.Millisecond))
	src := &fakeSource{ids: []string{"99"}}

	c := New(store, src, WithClock(fixedClock(now)))
	set := c.Load(context.Background())

	if src.calls.Load() != 0 {
		t.Fatalf("remote fetched %d times, want 0", src.calls.Load())
	}
	if set.Origin != OriginPersisted {
		t.Errorf("origin = %s", set.Origin)
	}
	if !set.Has("10") || !set.Has("20") || set.Has("99") {
		t.Errorf("ids = %v", set.IDs)
	}
}

func TestLoad_ExpiredRefreshes(t *testing.T) {
	// WHAT: fetchedAt = now - TTL - 1ms triggers a refresh and persists it.
	// WHY: The TTL boundary decides when the remote list is consulted.
	now := time.UnixMilli(1_700_000_000_000)
	store := NewMemoryStore()
	seed(t, store, `["10"]`, now.Add(-DefaultTTL-time.Millisecond))
	src := &fakeSource{ids: []string{"30", "40"}}

	c := New(store, src, WithClock(fixedClock(now)))
	set := c.Load(context.Background())

	if src.calls.Load() != 1 {
		t.Fatalf("remote fetched %d times, want 1", src.calls.Load())
	}
	if set.Origin != OriginRemote {
		t.Errorf("origin = %s", set.Origin)
	}
	if set.Has("10") || !set.Has("30") || !set.Has("40") {
		t.Errorf("ids = %v", set.IDs)
	}
	if !set.FetchedAt.Equal(now) {
		t.Errorf("fetchedAt = %v, want %v", set.FetchedAt, now)
	}

	raw, _, _ := store.Get(context.Background(), KeyFetchedAt)
	if string(raw) != strconv.FormatInt(now.UnixMilli(), 10) {
		t.Errorf("persisted fetchedAt = %s", raw)
	}
}

func TestLoad_FirstRunFetches(t *testing.T) {
	src := &fakeSource{ids: []string{"1"}}
	c := New(NewMemoryStore(), src)
	set := c.Load(context.Background())
	if src.calls.Load() != 1 || !set.Has("1") {
		t.Fatalf("calls=%d ids=%v", src.calls.Load(), set.IDs)
	}
}

func TestLoad_RemoteFailureKeepsStaleSet(t *testing.T) {
	// WHAT: A failed refresh returns the previous set and keeps fetchedAt.
	// WHY: The next check must retry at once, not after another full TTL.
	now := time.UnixMilli(1_700_000_000_000)
	old := now.Add(-48 * time.Hour)
	store := NewMemoryStore()
	seed(t, store, `["10","20"]`, old)
	src := &fakeSource{err: ErrRemoteList}

	c := New(store, src, WithClock(fixedClock(now)))
	set := c.Load(context.Background())

	if set.Origin != OriginStale {
		t.Errorf("origin = %s", set.Origin)
	}
	if set.Len() != 2 || !set.Has("10") {
		t.Errorf("ids = %v", set.IDs)
	}
	if !set.FetchedAt.Equal(old) {
		t.Errorf("fetchedAt moved: %v", set.FetchedAt)
	}

	c.Load(context.Background())
	if src.calls.Load() != 2 {
		t.Errorf("second load should retry, calls = %d", src.calls.Load())
	}
}

func TestLoad_StoreFailureTreatedAsEmpty(t *testing.T) {
	// WHAT: An unreadable store does not stop the cache from fetching.
	// WHY: A storage read failure degrades to an empty cache.
	src := &fakeSource{ids: []string{"7"}}
	c := New(failingStore{}, src)
	set := c.Load(context.Background())
	if src.calls.Load() != 1 || !set.Has("7") {
		t.Fatalf("calls=%d ids=%v", src.calls.Load(), set.IDs)
	}
}

func TestLoad_MalformedPersistedFetches(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	store := NewMemoryStore()
	seed(t, store, `{"not":"a list"}`, now)
	src := &fakeSource{ids: []string{"5"}}

	c := New(store, src, WithClock(fixedClock(now)))
	set := c.Load(context.Background())
	if src.calls.Load() != 1 || !set.Has("5") {
		t.Fatalf("calls=%d ids=%v", src.calls.Load(), set.IDs)
	}
}

func TestLoad_ConcurrentCallsShareOneFetch(t *testing.T) {
	src := &fakeSource{ids: []string{"1"}, delay: 50 * time.Millisecond}
	c := New(NewMemoryStore(), src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Load(context.Background())
		}()
	}
	wg.Wait()
	if n := src.calls.Load(); n != 1 {
		t.Errorf("remote fetched %d times, want 1", n)
	}
}

func TestRefresh_IgnoresTTL(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	store := NewMemoryStore()
	seed(t, store, `["10"]`, now)
	src := &fakeSource{ids: []string{"11"}}

	c := New(store, src, WithClock(fixedClock(now)))
	set, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !set.Has("11") || set.Has("10") {
		t.Errorf("ids = %v", set.IDs)
	}

	src.err = errors.New("offline")
	set, err = c.Refresh(context.Background())
	if !errors.Is(err, ErrRemoteList) {
		t.Errorf("err = %v, want ErrRemoteList", err)
	}
	if !set.Has("11") {
		t.Errorf("stale set lost: %v", set.IDs)
	}
}

func TestAdd_PersistsWithoutTouchingTimestamp(t *testing.T) {
	// WHAT: Add is visible at once and lands in the store, fetchedAt unchanged.
	// WHY: A later session benefits, but the TTL window is not extended.
	now := time.UnixMilli(1_700_000_000_000)
	fetched := now.Add(-time.Hour)
	store := NewMemoryStore()
	seed(t, store, `["10"]`, fetched)

	c := New(store, &fakeSource{}, WithClock(fixedClock(now)))
	c.Load(context.Background())

	if err := c.Add(context.Background(), "42"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !c.Has("42") {
		t.Error("Has(42) = false after Add")
	}

	raw, _, _ := store.Get(context.Background(), KeyIDs)
	ids, err := ParseIDs(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[1] != "42" {
		t.Errorf("persisted ids = %v", ids)
	}
	raw, _, _ = store.Get(context.Background(), KeyFetchedAt)
	if string(raw) != strconv.FormatInt(fetched.UnixMilli(), 10) {
		t.Errorf("fetchedAt changed: %s", raw)
	}

	// A new session sees the added identifier without fetching.
	src := &fakeSource{}
	next := New(store, src, WithClock(fixedClock(now)))
	if set := next.Load(context.Background()); !set.Has("42") || src.calls.Load() != 0 {
		t.Errorf("next session: ids=%v calls=%d", set.IDs, src.calls.Load())
	}
}

func TestAdd_Duplicate(t *testing.T) {
	store := NewMemoryStore()
	c := New(store, &fakeSource{})
	c.Add(context.Background(), "1")
	c.Add(context.Background(), "1")
	c.Add(context.Background(), "")

	raw, _, _ := store.Get(context.Background(), KeyIDs)
	if string(raw) != `["1"]` {
		t.Errorf("persisted = %s", raw)
	}
	if c.Len() != 1 {
		t.Errorf("len = %d", c.Len())
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := ParseIDs([]byte(`[570, "730", " 440 ", "", null, true, [1], {"a":1}, 1.0, 2.5]`))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"570", "730", "440", "1", "2.5"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}

	for _, bad := range []string{`{"ids":[1]}`, `"570"`, `null`, `not json`} {
		if _, err := ParseIDs([]byte(bad)); err == nil {
			t.Errorf("ParseIDs(%s): expected error", bad)
		}
	}
}

func TestRemoteList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`[1, "2"]`))
	}))
	defer srv.Close()

	client := fetch.New(fetch.Config{URLValidator: fetch.AllowAll})

	ids, err := NewRemoteList(srv.URL+"/appids.json", client).FetchIDs(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(ids) != 2 || ids[0] != "1" || ids[1] != "2" {
		t.Errorf("ids = %v", ids)
	}

	_, err = NewRemoteList(srv.URL+"/missing", client).FetchIDs(context.Background())
	if !errors.Is(err, ErrRemoteList) {
		t.Errorf("404: err = %v, want ErrRemoteList", err)
	}
}

type blockingSource struct {
	ids     []string
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) FetchIDs(ctx context.Context) ([]string, error) {
	close(b.entered)
	<-b.release
	return b.ids, nil
}

func TestLoad_KeepsIdentifiersAddedDuringFetch(t *testing.T) {
	// WHAT: An id added while the remote fetch is in flight survives the swap.
	// WHY: The confirmed set only grows within a session; losing an id leaves its tiles unmarked.
	store := NewMemoryStore()
	src := &blockingSource{ids: []string{"10"}, entered: make(chan struct{}), release: make(chan struct{})}
	c := New(store, src)

	done := make(chan *Set)
	go func() { done <- c.Load(context.Background()) }()
	<-src.entered

	if err := c.Add(context.Background(), "42"); err != nil {
		t.Fatalf("add: %v", err)
	}
	close(src.release)
	set := <-done

	if !c.Has("42") || !c.Has("10") {
		t.Errorf("ids = %v", c.IDs())
	}
	if !set.Has("42") {
		t.Errorf("loaded set = %v", set.IDs)
	}
	raw, _, _ := store.Get(context.Background(), KeyIDs)
	ids, err := ParseIDs(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "10" || ids[1] != "42" {
		t.Errorf("persisted ids = %v", ids)
	}
}

func TestRefresh_KeepsSessionAdditions(t *testing.T) {
	// WHAT: A forced refresh that no longer lists an added id still keeps it.
	// WHY: The remote list lags behind confirmations made this session.
	store := NewMemoryStore()
	src := &fakeSource{ids: []string{"10"}}
	c := New(store, src)
	c.Load(context.Background())
	c.Add(context.Background(), "42")

	src.ids = []string{"11"}
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !c.Has("42") || !c.Has("11") || c.Has("10") {
		t.Errorf("ids = %v", c.IDs())
	}
}
