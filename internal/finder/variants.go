package finder

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxVariants bounds the number of search calls a single resolution makes.
const MaxVariants = 6

var legalSuffixes = map[string]struct{}{
	"ltda":   {},
	"s.a.":   {},
	"s.a":    {},
	"s/a":    {},
	"sa":     {},
	"me":     {},
	"eireli": {},
	"epp":    {},
	"inc":    {},
	"inc.":   {},
	"ltd":    {},
	"ltd.":   {},
	"cia":    {},
}

func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// stripLegalSuffix drops trailing company type markers, a name is never
// reduced to nothing.
func stripLegalSuffix(s string) string {
	tokens := strings.Fields(s)
	for len(tokens) > 1 {
		last := strings.Trim(strings.ToLower(tokens[len(tokens)-1]), ",-")
		if _, ok := legalSuffixes[last]; !ok {
			break
		}
		tokens = tokens[:len(tokens)-1]
	}
	return strings.TrimRight(strings.Join(tokens, " "), ",-")
}

// GenerateVariants returns the trimmed name followed by its normalized
// forms, deduplicated in order and capped at MaxVariants.
func GenerateVariants(raw string) []string {
	original := collapseSpaces(raw)
	if original == "" {
		return nil
	}

	folded := strings.ToLower(original)
	plain := stripDiacritics(folded)
	bare := stripLegalSuffix(plain)
	ampersand := collapseSpaces(strings.ReplaceAll(bare, "&", " e "))

	candidates := []string{original, folded, plain, bare, ampersand}
	if tokens := strings.Fields(bare); len(tokens) > 1 {
		candidates = append(candidates, tokens[0])
	}

	var out []string
	seen := map[string]struct{}{}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
		if len(out) == MaxVariants {
			break
		}
	}
	return out
}
