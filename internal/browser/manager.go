// Package browser drives a Chrome instance through go-rod and exposes a
// storefront page to the engine: tile scanning, badge and banner injection,
// and change notifications from an injected MutationObserver.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// ErrClosed is returned once the manager has been closed.
var ErrClosed = errors.New("browser: manager is closed")

// Mode selects headless or headful Chrome.
type Mode string

const (
	ModeHeadless Mode = "headless"
	ModeHeadful  Mode = "headful" // under Xvfb
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome.
	// Empty launches a local one.
	RemoteURL string

	// MemoryLimit is the storefront tab's JS heap, in bytes, above which the
	// session is restarted. Default: 1GB.
	MemoryLimit int64

	// RecycleInterval is the longest a storefront session may run before
	// Chrome is restarted. Default: 4h.
	RecycleInterval time.Duration

	// ResourceBlocking lists request types the storefront tab never loads:
	// images, fonts, media, stylesheets, or any CDP resource type.
	ResourceBlocking []string

	// Mode defaults to ModeHeadless.
	Mode Mode

	// Stealth opens tabs through go-rod/stealth.
	Stealth bool

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Mode == "" {
		c.Mode = ModeHeadless
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// checkEvery is how often the session is checked for age and heap size.
const checkEvery = 30 * time.Second

// Manager owns the Chrome process behind one storefront session and
// restarts it when the session grows too old or too large.
type Manager struct {
	cfg Config

	mu        sync.RWMutex
	browser   *rod.Browser
	lnch      *launcher.Launcher
	display   *exec.Cmd
	sessionAt time.Time
	closed    bool
	onRecycle func(*rod.Browser)
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// OnRecycle registers fn to reopen the storefront on the new browser after
// a restart. Tabs of the old browser are gone when fn runs.
func (m *Manager) OnRecycle(fn func(*rod.Browser)) {
	m.mu.Lock()
	m.onRecycle = fn
	m.mu.Unlock()
}

// Start launches or connects to Chrome and watches the session until ctx
// is done.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	b, err := m.connect()
	if err != nil {
		return nil, err
	}
	m.browser, m.sessionAt = b, time.Now()

	go m.watchSession(ctx)
	return b, nil
}

// Browser returns the current browser handle.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Recycle restarts Chrome and hands the new browser to the OnRecycle
// function.
func (m *Manager) Recycle(ctx context.Context, reason string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	age := time.Since(m.sessionAt)
	m.teardown()
	b, err := m.connect()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("browser: restart session: %w", err)
	}
	m.browser, m.sessionAt = b, time.Now()
	fn := m.onRecycle
	m.mu.Unlock()

	if fn != nil {
		fn(b)
	}
	m.cfg.Logger.Info("browser: storefront session restarted", "reason", reason, "session_age", age)
	return nil
}

// Close stops Chrome and the virtual display.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.teardown()
	return nil
}

func (m *Manager) connect() (*rod.Browser, error) {
	wsURL := m.cfg.RemoteURL
	if wsURL == "" {
		u, err := m.launchLocal()
		if err != nil {
			return nil, err
		}
		wsURL = u
	} else {
		m.cfg.Logger.Info("browser: attaching to remote chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) launchLocal() (string, error) {
	l := launcher.New().Set("disable-blink-features", "AutomationControlled")
	if m.cfg.Mode == ModeHeadful {
		if err := m.startDisplay(); err != nil {
			return "", fmt.Errorf("browser: xvfb: %w", err)
		}
		l = l.Headless(false).Env("DISPLAY", m.cfg.XvfbDisplay)
	} else {
		l = l.Headless(true)
	}

	u, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("browser: launch: %w", err)
	}
	m.lnch = l
	m.cfg.Logger.Info("browser: chrome launched for storefront", "mode", m.cfg.Mode)
	return u, nil
}

// teardown releases Chrome and the display. Callers hold m.mu.
func (m *Manager) teardown() {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopDisplay()
}

func (m *Manager) watchSession(ctx context.Context) {
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		b, sessionAt, closed := m.browser, m.sessionAt, m.closed
		m.mu.RUnlock()
		if closed || b == nil {
			return
		}

		heap, err := storefrontHeap(b)
		if err != nil {
			m.cfg.Logger.Debug("browser: storefront heap unavailable", "error", err)
			heap = 0
		}
		reason := recycleReason(time.Since(sessionAt), heap, m.cfg)
		if reason == "" {
			continue
		}
		if err := m.Recycle(ctx, reason); err != nil {
			m.cfg.Logger.Error("browser: storefront session restart failed", "reason", reason, "error", err)
		}
	}
}

// recycleReason names why a session of the given age and heap size must be
// restarted, or returns "".
func recycleReason(age time.Duration, heap int64, cfg Config) string {
	switch {
	case age > cfg.RecycleInterval:
		return "max_age"
	case heap > cfg.MemoryLimit:
		return "heap_limit"
	}
	return ""
}

// storefrontHeap reads the JS heap of the storefront tab.
func storefrontHeap(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil {
		return 0, err
	}
	if len(pages) == 0 {
		return 0, errors.New("no storefront tab")
	}
	res, err := pages[0].Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
	if err != nil {
		return 0, err
	}
	return int64(res.Value.Int()), nil
}
