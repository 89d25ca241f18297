package confirm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hazyhaar/aibadge/internal/fetch"
)

// Defaults for the storefront detail lookup.
const (
	DefaultDetailURL    = "https://store.steampowered.com/app/%s/"
	DefaultMarkerPhrase = "AI Generated Content Disclosure"
)

// ErrLookup wraps transport failures of a detail lookup. An identifier whose
// lookup fails is resolved without confirmation for the session.
var ErrLookup = errors.New("confirm: lookup")

// Page is a fetched detail page. Any HTTP status is a page.
type Page struct {
	StatusCode int
	Body       []byte
}

// Lookup fetches the detail content of one identifier.
type Lookup interface {
	Fetch(ctx context.Context, id string) (*Page, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, id string) (*Page, error)

func (f LookupFunc) Fetch(ctx context.Context, id string) (*Page, error) { return f(ctx, id) }

// DetailLookup fetches a detail page built from a URL template holding one %s.
type DetailLookup struct {
	Template string
	Client   *fetch.Client
}

// NewDetailLookup creates a DetailLookup. An empty template selects
// DefaultDetailURL.
func NewDetailLookup(template string, client *fetch.Client) *DetailLookup {
	if template == "" {
		template = DefaultDetailURL
	}
	return &DetailLookup{Template: template, Client: client}
}

// URL returns the detail URL of id.
func (d *DetailLookup) URL(id string) string {
	return fmt.Sprintf(d.Template, url.PathEscape(id))
}

// Fetch implements Lookup.
func (d *DetailLookup) Fetch(ctx context.Context, id string) (*Page, error) {
	res, err := d.Client.Get(ctx, d.URL(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLookup, id, err)
	}
	return &Page{StatusCode: res.StatusCode, Body: res.Body}, nil
}

// PhraseClassifier confirms a page with status 200 whose body contains phrase,
// ignoring case. Any other status is not-confirmed.
func PhraseClassifier(phrase string) Classifier {
	needle := []byte(strings.ToLower(phrase))
	return func(status int, body []byte) bool {
		if status != http.StatusOK {
			return false
		}
		return bytes.Contains(bytes.ToLower(body), needle)
	}
}
