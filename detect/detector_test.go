package detect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingScanner struct {
	scans atomic.Int32
	cands []Candidate[string]
	err   error
}

func (s *countingScanner) Scan(context.Context) ([]Candidate[string], error) {
	s.scans.Add(1)
	return s.cands, s.err
}

type setAssociator struct {
	mu   sync.Mutex
	seen map[string]string
}

func (a *setAssociator) Associate(_ context.Context, el, id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seen == nil {
		a.seen = make(map[string]string)
	}
	if _, ok := a.seen[el]; ok {
		return false
	}
	a.seen[el] = id
	return true
}

func startDetector(t *testing.T, d *Detector[string]) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDetector_BurstCoalesced(t *testing.T) {
	// WHAT: A burst of notifications inside the window yields one scan.
	// WHY: Rescan frequency stays bounded under mutation churn.
	sc := &countingScanner{}
	d := New[string](sc, &setAssociator{}, Config{
		Window:        60 * time.Millisecond,
		StartupRescan: time.Hour,
	})
	startDetector(t, d)
	waitFor(t, "initial scan", func() bool { return sc.scans.Load() == 1 })

	for i := 0; i < 20; i++ {
		d.Notify()
		time.Sleep(2 * time.Millisecond)
	}
	waitFor(t, "debounced scan", func() bool { return sc.scans.Load() == 2 })

	time.Sleep(150 * time.Millisecond)
	if n := sc.scans.Load(); n != 2 {
		t.Errorf("scans = %d, want 2", n)
	}
	if st := d.Stats(); st.Notifications != 20 {
		t.Errorf("notifications = %d", st.Notifications)
	}
}

func TestDetector_WindowResets(t *testing.T) {
	// WHAT: Each notification restarts the window instead of scheduling
	// another scan.
	// WHY: Notifications spaced below the window must not trigger scans.
	sc := &countingScanner{}
	d := New[string](sc, &setAssociator{}, Config{
		Window:        80 * time.Millisecond,
		StartupRescan: time.Hour,
	})
	startDetector(t, d)
	waitFor(t, "initial scan", func() bool { return sc.scans.Load() == 1 })

	start := time.Now()
	for i := 0; i < 5; i++ {
		d.Notify()
		time.Sleep(40 * time.Millisecond)
	}
	if n := sc.scans.Load(); n != 1 {
		t.Errorf("scanned during burst: scans = %d", n)
	}
	waitFor(t, "scan after burst", func() bool { return sc.scans.Load() == 2 })
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("scan came too early: %v", elapsed)
	}
}

func TestDetector_StartupRescan(t *testing.T) {
	sc := &countingScanner{}
	d := New[string](sc, &setAssociator{}, Config{
		Window:        time.Hour,
		StartupRescan: 30 * time.Millisecond,
	})
	startDetector(t, d)
	waitFor(t, "startup rescan", func() bool { return sc.scans.Load() == 2 })

	time.Sleep(100 * time.Millisecond)
	if n := sc.scans.Load(); n != 2 {
		t.Errorf("startup rescan repeated: scans = %d", n)
	}
}

func TestDetector_AssociatesCandidates(t *testing.T) {
	sc := &countingScanner{cands: []Candidate[string]{
		{Element: "k1", ID: "10"},
		{Element: "k2", ID: "10"},
		{Element: "k3", ID: ""},
	}}
	assoc := &setAssociator{}
	var after atomic.Int32
	d := New[string](sc, assoc, Config{
		StartupRescan: 20 * time.Millisecond,
		AfterScan:     func(context.Context) { after.Add(1) },
	})
	startDetector(t, d)
	waitFor(t, "two scans", func() bool { return sc.scans.Load() == 2 })
	waitFor(t, "after-scan hooks", func() bool { return after.Load() == 2 })

	st := d.Stats()
	if st.Candidates != 6 || st.Associated != 3 {
		t.Errorf("stats = %+v", st)
	}
}

func TestDetector_ScanErrorContained(t *testing.T) {
	sc := &countingScanner{err: errors.New("target closed")}
	d := New[string](sc, &setAssociator{}, Config{StartupRescan: 10 * time.Millisecond})
	startDetector(t, d)
	waitFor(t, "scan errors", func() bool { return d.Stats().ScanErrors == 2 })

	d.Rescan()
	waitFor(t, "rescan after error", func() bool { return d.Stats().ScanErrors == 3 })
}

func TestDetector_InitDelay(t *testing.T) {
	sc := &countingScanner{}
	d := New[string](sc, &setAssociator{}, Config{
		InitDelay:     80 * time.Millisecond,
		StartupRescan: time.Hour,
	})
	start := time.Now()
	startDetector(t, d)
	waitFor(t, "initial scan", func() bool { return sc.scans.Load() == 1 })
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("initial scan after %v, want >= 80ms", elapsed)
	}
}

func TestDebouncer_MaxPending(t *testing.T) {
	deb := newDebouncer(time.Hour, 3)
	if deb.touch() || deb.touch() {
		t.Fatal("flushed before max")
	}
	if deb.timerC() == nil {
		t.Error("timer not armed")
	}
	if !deb.touch() {
		t.Error("third touch should force a scan")
	}
	if deb.timerC() != nil {
		t.Error("timer still armed after reset")
	}
}
