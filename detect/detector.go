// Package detect re-scans the page when its structure changes and feeds the
// discovered elements to the registry. Change notifications arriving within
// the debounce window collapse into a single scan. One extra scan runs a
// short delay after startup to catch content loaded before the detector
// attached.
package detect

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Candidate is an element found by a scan, with its extracted identifier
// ("" when the element has none).
type Candidate[E comparable] struct {
	Element E
	ID      string
}

// Scanner lists candidate elements in the current document.
type Scanner[E comparable] interface {
	Scan(ctx context.Context) ([]Candidate[E], error)
}

// ScannerFunc adapts a function to Scanner.
type ScannerFunc[E comparable] func(ctx context.Context) ([]Candidate[E], error)

func (f ScannerFunc[E]) Scan(ctx context.Context) ([]Candidate[E], error) { return f(ctx) }

// Associator receives every candidate of a scan.
type Associator[E comparable] interface {
	Associate(ctx context.Context, el E, id string) bool
}

// Config configures a Detector.
type Config struct {
	// Window is the debounce window. Default: 300ms.
	Window time.Duration
	// MaxPending forces a scan after this many coalesced notifications.
	// Default: 1000.
	MaxPending int
	// StartupRescan is the delay of the one-off rescan after the initial
	// scan. Default: 500ms.
	StartupRescan time.Duration
	// InitDelay is waited before the initial scan. Zero means none.
	InitDelay time.Duration
	// AfterScan, when set, runs after every scan (page-level checks such as
	// the disclosure banner).
	AfterScan func(ctx context.Context)
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = 300 * time.Millisecond
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 1000
	}
	if c.StartupRescan <= 0 {
		c.StartupRescan = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats is a snapshot of detector counters.
type Stats struct {
	Notifications int `json:"notifications"`
	Scans         int `json:"scans"`
	ScanErrors    int `json:"scan_errors"`
	Candidates    int `json:"candidates"`
	Associated    int `json:"associated"`
}

// Detector drives scans from change notifications.
type Detector[E comparable] struct {
	scanner Scanner[E]
	assoc   Associator[E]
	cfg     Config

	notifyCh chan struct{}
	rescanCh chan struct{}

	mu    sync.Mutex
	stats Stats
}

// New creates a Detector. Call Run to start it.
func New[E comparable](scanner Scanner[E], assoc Associator[E], cfg Config) *Detector[E] {
	cfg.defaults()
	return &Detector[E]{
		scanner:  scanner,
		assoc:    assoc,
		cfg:      cfg,
		notifyCh: make(chan struct{}, 1),
		rescanCh: make(chan struct{}, 1),
	}
}

// Notify signals a structural change. It never blocks; notifications sent
// while one is already waiting are folded into it.
func (d *Detector[E]) Notify() {
	d.mu.Lock()
	d.stats.Notifications++
	d.mu.Unlock()
	select {
	case d.notifyCh <- struct{}{}:
	default:
	}
}

// Rescan requests a scan without waiting for the debounce window, used
// after history navigation.
func (d *Detector[E]) Rescan() {
	select {
	case d.rescanCh <- struct{}{}:
	default:
	}
}

// Run performs the initial scan and then serves notifications until ctx is
// done. It always returns nil.
func (d *Detector[E]) Run(ctx context.Context) error {
	if d.cfg.InitDelay > 0 {
		t := time.NewTimer(d.cfg.InitDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}

	d.scan(ctx)

	startup := time.NewTimer(d.cfg.StartupRescan)
	defer startup.Stop()
	startupC := startup.C

	deb := newDebouncer(d.cfg.Window, d.cfg.MaxPending)
	defer deb.reset()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-d.notifyCh:
			if deb.touch() {
				d.scan(ctx)
			}

		case <-deb.timerC():
			deb.reset()
			d.scan(ctx)

		case <-startupC:
			startupC = nil
			d.scan(ctx)

		case <-d.rescanCh:
			deb.reset()
			d.scan(ctx)
		}
	}
}

func (d *Detector[E]) scan(ctx context.Context) {
	cands, err := d.scanner.Scan(ctx)
	if err != nil {
		d.mu.Lock()
		d.stats.Scans++
		d.stats.ScanErrors++
		d.mu.Unlock()
		d.cfg.Logger.Warn("detect: scan failed", "error", err)
		return
	}

	associated := 0
	for _, c := range cands {
		if d.assoc.Associate(ctx, c.Element, c.ID) {
			associated++
		}
	}

	d.mu.Lock()
	d.stats.Scans++
	d.stats.Candidates += len(cands)
	d.stats.Associated += associated
	d.mu.Unlock()

	if associated > 0 {
		d.cfg.Logger.Debug("detect: scan", "candidates", len(cands), "new", associated)
	}
	if d.cfg.AfterScan != nil {
		d.cfg.AfterScan(ctx)
	}
}

// Stats returns a snapshot of detector counters.
func (d *Detector[E]) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
