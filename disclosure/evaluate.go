package disclosure

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// SectionID is the id of the detail page's content descriptor section.
const SectionID = "game_area_content_descriptors"

// Reasons a detail page is evaluated as absent. Evaluation never fails;
// these are reported in Result.Err.
var (
	ErrNoSection = errors.New("disclosure: descriptor section missing")
	ErrNoHeading = errors.New("disclosure: descriptor section has no heading")
	ErrNoMatch   = errors.New("disclosure: heading does not match rules")
)

// Result is the evaluation of one detail page.
type Result struct {
	Present bool   `json:"present"`
	Heading string `json:"heading,omitempty"`
	// Description is the section's paragraphs as plain text, joined by
	// blank lines.
	Description string `json:"description,omitempty"`
	// Markdown is the sanitized paragraph markup rendered as markdown.
	Markdown string `json:"markdown,omitempty"`
	Match    Match  `json:"match"`
	Err      error  `json:"-"`
	Reason   string `json:"reason,omitempty"`
}

func absent(err error, heading string) Result {
	return Result{Heading: heading, Err: err, Reason: err.Error()}
}

// Evaluator runs the matcher against detail page markup.
type Evaluator struct {
	matcher *Matcher
	policy  *bluemonday.Policy
	md      *converter.Converter
}

// NewEvaluator creates an Evaluator. A nil matcher uses DefaultRules.
func NewEvaluator(m *Matcher) *Evaluator {
	if m == nil {
		m = NewMatcher(DefaultRules())
	}
	return &Evaluator{
		matcher: m,
		policy:  bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

// Matcher returns the evaluator's matcher.
func (e *Evaluator) Matcher() *Matcher { return e.matcher }

// Evaluate locates the descriptor section in page, tests its heading and,
// when present, extracts the explanatory paragraphs. Malformed or
// incomplete markup evaluates as absent.
func (e *Evaluator) Evaluate(page []byte) Result {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return absent(fmt.Errorf("%w: %v", ErrNoSection, err), "")
	}
	section := findByID(doc, SectionID)
	if section == nil {
		return absent(ErrNoSection, "")
	}
	h2 := findFirst(section, atom.H2)
	if h2 == nil {
		return absent(ErrNoHeading, "")
	}
	heading := strings.TrimSpace(collectText(h2))
	match := e.matcher.Match(heading)
	if !match.Present {
		return absent(ErrNoMatch, heading)
	}

	var texts, markup []string
	for _, p := range findAll(section, atom.P) {
		t := strings.TrimSpace(collectText(p))
		if t == "" {
			continue
		}
		texts = append(texts, t)
		markup = append(markup, renderNode(p))
	}

	res := Result{
		Present:     true,
		Heading:     heading,
		Description: strings.Join(texts, "\n\n"),
		Match:       match,
	}
	if len(markup) > 0 {
		res.Markdown = e.markdown(strings.Join(markup, "\n"))
	}
	return res
}

// EvaluateText runs the matcher alone on a heading or free text.
func (e *Evaluator) EvaluateText(text string) Result {
	text = strings.TrimSpace(text)
	match := e.matcher.Match(text)
	if !match.Present {
		return absent(ErrNoMatch, text)
	}
	return Result{Present: true, Heading: text, Match: match}
}

func (e *Evaluator) markdown(fragment string) string {
	clean := e.policy.Sanitize(fragment)
	md, err := e.md.ConvertString(clean)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(md)
}

// PageClassifier confirms a fetched detail page when its status is 200 and
// its descriptor section evaluates as present.
func (e *Evaluator) PageClassifier() func(status int, body []byte) bool {
	return func(status int, body []byte) bool {
		return status == 200 && e.Evaluate(body).Present
	}
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && getAttr(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == a {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func renderNode(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}
