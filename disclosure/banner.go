package disclosure

import (
	"context"
	"log/slog"
	"sync"
)

// Banner is the page-level indicator on a detail view.
type Banner interface {
	Show(ctx context.Context, heading, description string) error
	Retract(ctx context.Context) error
}

// Document supplies the current detail view markup.
type Document interface {
	HTML(ctx context.Context) ([]byte, error)
}

// Presenter keeps the banner in line with the current document: shown when
// the descriptor section discloses, retracted otherwise.
type Presenter struct {
	eval   *Evaluator
	doc    Document
	banner Banner
	logger *slog.Logger

	mu       sync.Mutex
	last     Result
	shows    int
	retracts int
}

// NewPresenter creates a Presenter.
func NewPresenter(eval *Evaluator, doc Document, banner Banner, logger *slog.Logger) *Presenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presenter{eval: eval, doc: doc, banner: banner, logger: logger}
}

// Check evaluates the current document and shows or retracts the banner.
// A document that cannot be read counts as absent.
func (p *Presenter) Check(ctx context.Context) Result {
	page, err := p.doc.HTML(ctx)
	var res Result
	if err != nil {
		p.logger.Debug("disclosure: read document", "error", err)
		res = absent(ErrNoSection, "")
	} else {
		res = p.eval.Evaluate(page)
	}
	p.Apply(ctx, res)
	return res
}

// Apply shows or retracts the banner for res. Show leaves an existing banner
// alone, so a banner for different content is retracted first.
func (p *Presenter) Apply(ctx context.Context, res Result) {
	p.mu.Lock()
	prev := p.last
	p.mu.Unlock()

	var err error
	if res.Present {
		if prev.Present && (prev.Heading != res.Heading || prev.Description != res.Description) {
			err = p.banner.Retract(ctx)
		}
		if err == nil {
			err = p.banner.Show(ctx, res.Heading, res.Description)
		}
	} else {
		err = p.banner.Retract(ctx)
	}
	if err != nil {
		p.logger.Warn("disclosure: update banner", "present", res.Present, "error", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if res.Present != p.last.Present || res.Description != p.last.Description {
		p.logger.Debug("disclosure: banner state", "present", res.Present, "reason", res.Reason)
	}
	p.last = res
	if res.Present {
		p.shows++
	} else {
		p.retracts++
	}
}

// Last returns the most recent evaluation.
func (p *Presenter) Last() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Counts returns how many times the banner was shown and retracted.
func (p *Presenter) Counts() (shows, retracts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shows, p.retracts
}
