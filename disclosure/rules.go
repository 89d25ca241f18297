package disclosure

// Rules is the locale rule set. Acronyms match as whole words only; stems
// match as substrings after case folding and diacritic stripping. Adding a
// locale is a matter of adding entries.
type Rules struct {
	Acronyms []string `yaml:"acronyms" json:"acronyms"`
	Stems    []string `yaml:"stems" json:"stems"`
}

// DefaultRules covers the storefront's shipped locales.
func DefaultRules() Rules {
	return Rules{
		Acronyms: []string{
			"ai", // en
			"ia", // fr, es, it, pt
			"ki", // de
		},
		Stems: []string{
			"generated",
			"generat",
			"génér", // folded to "gener" before comparison
			"generiert",
			"generado",
			"gerado",
			"generato",
			"生成",
			"生成され",
			"生成的",
		},
	}
}

// Merge returns r with the entries of other appended, duplicates removed.
func (r Rules) Merge(other Rules) Rules {
	return Rules{
		Acronyms: mergeUnique(r.Acronyms, other.Acronyms),
		Stems:    mergeUnique(r.Stems, other.Stems),
	}
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
