package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/aibadge/detect"
)

//go:embed js/observe.js
var observeJS string

//go:embed js/scan.js
var scanJS string

//go:embed js/mark.js
var markJS string

//go:embed js/banner.js
var bannerJS string

const bindingName = "__aibadge_binding"

// ErrDetached is returned by Mark when the tile is no longer in the document.
var ErrDetached = errors.New("browser: tile no longer in document")

// Handlers receive page events. Any of them may be nil.
type Handlers struct {
	// OnMutation is called for every batch of structural DOM changes.
	OnMutation func()
	// OnNavigate is called on history navigation within the document.
	OnNavigate func(url string)
	// OnDocument is called when a new document starts observing.
	OnDocument func(url string)
}

// Storefront is a storefront page seen through a Tab.
type Storefront struct {
	handlers Handlers
	logger   *slog.Logger

	mu     sync.RWMutex
	tab    *Tab
	cancel context.CancelFunc
}

// NewStorefront wraps tab. Call Attach to start receiving events.
func NewStorefront(tab *Tab, h Handlers, logger *slog.Logger) *Storefront {
	if logger == nil {
		logger = slog.Default()
	}
	return &Storefront{tab: tab, handlers: h, logger: logger}
}

// Attach installs the page binding and the observer script, for the current
// document and every future one.
func (s *Storefront) Attach(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page := s.tab.Page

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		s.logger.Warn("browser: addBinding failed (may already exist)", "error", err)
	}

	lctx, cancel := context.WithCancel(ctx)
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	go s.listen(lctx, page)

	if _, err := page.EvalOnNewDocument("(" + observeJS + ")()"); err != nil {
		return fmt.Errorf("browser: install observer: %w", err)
	}
	if _, err := page.Context(ctx).Eval(observeJS); err != nil {
		return fmt.Errorf("browser: inject observer: %w", err)
	}
	s.logger.Debug("browser: storefront attached")
	return nil
}

// Reattach switches to a new tab, after a browser recycle, and attaches it.
func (s *Storefront) Reattach(ctx context.Context, tab *Tab) error {
	s.mu.Lock()
	s.tab = tab
	s.mu.Unlock()
	return s.Attach(ctx)
}

// Detach stops event delivery.
func (s *Storefront) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Storefront) page() *rod.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tab.Page
}

// listen receives calls from the injected observer via Runtime.bindingCalled.
func (s *Storefront) listen(ctx context.Context, page *rod.Page) {
	page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		msg, err := parseBinding(e.Payload)
		if err != nil {
			s.logger.Warn("browser: parse binding payload", "error", err)
			return
		}
		switch msg.Op {
		case "mutation":
			if s.handlers.OnMutation != nil {
				s.handlers.OnMutation()
			}
		case "navigate":
			s.logger.Debug("browser: history navigation", "url", msg.URL)
			if s.handlers.OnNavigate != nil {
				s.handlers.OnNavigate(msg.URL)
			}
		case "document":
			s.logger.Info("browser: new document", "url", msg.URL)
			if s.handlers.OnDocument != nil {
				s.handlers.OnDocument(msg.URL)
			}
		}
	})()
}

type bindingMsg struct {
	Op  string `json:"op"`
	URL string `json:"url,omitempty"`
}

func parseBinding(payload string) (bindingMsg, error) {
	var msg bindingMsg
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return msg, err
	}
	if msg.Op == "" {
		return msg, fmt.Errorf("missing op")
	}
	return msg, nil
}

// Navigate loads url in the storefront tab.
func (s *Storefront) Navigate(ctx context.Context, url string) error {
	s.mu.RLock()
	tab := s.tab
	s.mu.RUnlock()
	return tab.Navigate(ctx, url)
}

// Scan lists the tiles of the current document. Each tile is keyed by a
// data-aibadge-key attribute stamped on first sight.
func (s *Storefront) Scan(ctx context.Context) ([]detect.Candidate[string], error) {
	res, err := s.page().Context(ctx).Eval(scanJS)
	if err != nil {
		return nil, fmt.Errorf("browser: scan: %w", err)
	}
	return parseCandidates(res.Value.Str())
}

type scannedTile struct {
	Key string `json:"key"`
	ID  string `json:"id"`
}

func parseCandidates(raw string) ([]detect.Candidate[string], error) {
	var tiles []scannedTile
	if err := json.Unmarshal([]byte(raw), &tiles); err != nil {
		return nil, fmt.Errorf("browser: parse scan: %w", err)
	}
	out := make([]detect.Candidate[string], 0, len(tiles))
	for _, t := range tiles {
		if t.Key == "" {
			continue
		}
		out = append(out, detect.Candidate[string]{Element: t.Key, ID: t.ID})
	}
	return out, nil
}

// Mark places a badge on the tile with the given key.
func (s *Storefront) Mark(ctx context.Context, key, id string) error {
	res, err := s.page().Context(ctx).Eval(markJS, key)
	if err != nil {
		return fmt.Errorf("browser: mark %s: %w", id, err)
	}
	switch placement := res.Value.Str(); placement {
	case "missing":
		return ErrDetached
	case "none":
		s.logger.Debug("browser: no badge placement for tile", "id", id, "key", key)
	default:
		s.logger.Debug("browser: badge placed", "id", id, "placement", placement)
	}
	return nil
}

// Show places the disclosure banner before the app title. A banner already
// in the document is left as is.
func (s *Storefront) Show(ctx context.Context, heading, description string) error {
	if _, err := s.page().Context(ctx).Eval(bannerJS, heading, description); err != nil {
		return fmt.Errorf("browser: show banner: %w", err)
	}
	return nil
}

// Retract removes the disclosure banner, if any.
func (s *Storefront) Retract(ctx context.Context) error {
	_, err := s.page().Context(ctx).Eval(`() => { const b = document.getElementById('aibadge-banner'); if (b) b.remove(); }`)
	if err != nil {
		return fmt.Errorf("browser: retract banner: %w", err)
	}
	return nil
}

// HTML returns the current document markup.
func (s *Storefront) HTML(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	tab := s.tab
	s.mu.RUnlock()
	return tab.GetFullDOM(ctx)
}
