package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/aibadge/confirm"
	"github.com/hazyhaar/aibadge/idcache"
	"github.com/hazyhaar/aibadge/internal/dbopen"
	"github.com/hazyhaar/aibadge/internal/idgen"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return &Store{DB: dbopen.OpenMemory(t, dbopen.WithSchema(Schema))}
}

func TestKV(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	if err := s.Put(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v2" {
		t.Errorf("get: %q ok=%v err=%v", v, ok, err)
	}
}

func TestKV_BacksIdentifierCache(t *testing.T) {
	// WHAT: The identifier cache persists through the SQLite store across
	// reopen.
	// WHY: A later session must find the list without fetching it.
	path := filepath.Join(t.TempDir(), "sub", "aibadge.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	src := sourceFunc(func(context.Context) ([]string, error) { return []string{"570", "730"}, nil })
	c := idcache.New(s, src)
	if set := c.Load(ctx); set.Origin != idcache.OriginRemote {
		t.Fatalf("origin = %s", set.Origin)
	}
	if err := c.Add(ctx, "440"); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	offline := sourceFunc(func(context.Context) ([]string, error) {
		t.Error("fetched despite fresh persisted set")
		return nil, nil
	})
	set := idcache.New(s, offline).Load(ctx)
	if set.Origin != idcache.OriginPersisted || set.Len() != 3 || !set.Has("440") {
		t.Errorf("origin=%s ids=%v", set.Origin, set.IDs)
	}
}

type sourceFunc func(context.Context) ([]string, error)

func (f sourceFunc) FetchIDs(ctx context.Context) ([]string, error) { return f(ctx) }

func TestJournal(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	j := s.Journal("ses_test")
	base := time.UnixMilli(1_700_000_000_000)

	entries := []confirm.Entry{
		{Identifier: "1", Outcome: confirm.StateConfirmed, Status: 200, Elapsed: 120 * time.Millisecond, At: base},
		{Identifier: "2", Outcome: confirm.StateNotConfirmed, Status: 404, At: base.Add(time.Second)},
		{Identifier: "3", Outcome: confirm.StateFailed, Error: "connection refused", At: base.Add(2 * time.Second)},
		{Identifier: "1", Outcome: confirm.StateNotConfirmed, Status: 200, At: base.Add(3 * time.Second)},
	}
	for _, e := range entries {
		if err := j.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	recent, err := s.RecentLookups(ctx, "", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Identifier != "1" || recent[1].Identifier != "3" {
		t.Fatalf("recent = %+v", recent)
	}
	if recent[1].Error != "connection refused" || recent[1].SessionID != "ses_test" {
		t.Errorf("row = %+v", recent[1])
	}
	if !strings.HasPrefix(recent[0].ID, "lkp_") {
		t.Errorf("row id = %q", recent[0].ID)
	}
	if _, err := idgen.Parse(recent[0].ID); err != nil {
		t.Errorf("row id: %v", err)
	}

	byID, err := s.RecentLookups(ctx, "1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byID) != 2 || byID[1].ElapsedMS != 120 || byID[1].Outcome != "confirmed" {
		t.Errorf("by id = %+v", byID)
	}

	counts, err := s.OutcomeCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["confirmed"] != 1 || counts["not_confirmed"] != 2 || counts["failed"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
