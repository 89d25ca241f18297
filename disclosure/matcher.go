package disclosure

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Match reports which rule class matched a text.
type Match struct {
	Present bool   `json:"present"`
	Rule    string `json:"rule,omitempty"` // "acronym" or "stem"
	Term    string `json:"term,omitempty"` // the rule entry that matched
}

type acronym struct {
	term string
	re   *regexp.Regexp
}

// Matcher evaluates text against a compiled rule set. Safe for concurrent use.
type Matcher struct {
	rules    Rules
	acronyms []acronym
	stems    []string // folded
}

// NewMatcher compiles rules.
func NewMatcher(rules Rules) *Matcher {
	m := &Matcher{rules: rules}
	for _, a := range rules.Acronyms {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		// Whole word: no letter, digit or underscore on either side. Go's \b
		// is ASCII-only, so the boundary is spelled out.
		re := regexp.MustCompile(`(?i)(?:^|[^\pL\pN_])` + regexp.QuoteMeta(a) + `(?:[^\pL\pN_]|$)`)
		m.acronyms = append(m.acronyms, acronym{term: a, re: re})
	}
	for _, s := range rules.Stems {
		if f := fold(strings.TrimSpace(s)); f != "" {
			m.stems = append(m.stems, f)
		}
	}
	return m
}

// Rules returns the rule set the matcher was built from.
func (m *Matcher) Rules() Rules { return m.rules }

// Match tests text. Either rule class is sufficient.
func (m *Matcher) Match(text string) Match {
	for _, a := range m.acronyms {
		if a.re.MatchString(text) {
			return Match{Present: true, Rule: "acronym", Term: a.term}
		}
	}
	folded := fold(text)
	for _, s := range m.stems {
		if strings.Contains(folded, s) {
			return Match{Present: true, Rule: "stem", Term: s}
		}
	}
	return Match{}
}

// MatchString is Match(text).Present.
func (m *Matcher) MatchString(text string) bool { return m.Match(text).Present }

// fold lowercases with Unicode case folding and strips combining marks, so
// "Généré" and "GENERE" compare equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return cases.Fold().String(stripped)
}
