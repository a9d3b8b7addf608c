package finder

import (
	"math"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// normalizeName folds case, accents, punctuation and legal suffixes so that
// names can be compared.
func normalizeName(s string) string {
	s = stripDiacritics(strings.ToLower(s))
	s = strings.ReplaceAll(s, "&", " e ")
	s = stripLegalSuffix(collapseSpaces(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return collapseSpaces(s)
}

// connectives carry no identity, "&" itself normalizes to "e".
var connectives = map[string]struct{}{
	"e": {}, "de": {}, "do": {}, "da": {}, "dos": {}, "das": {},
}

func nameTokens(s string) map[string]struct{} {
	tokens := map[string]struct{}{}
	for _, t := range strings.Fields(s) {
		if _, skip := connectives[t]; skip {
			continue
		}
		tokens[t] = struct{}{}
	}
	return tokens
}

// tokenContainment returns the Jaccard index of the two token sets when every
// token of the smaller set appears in the larger one, and 0 otherwise.
func tokenContainment(a, b string) float64 {
	left, right := nameTokens(a), nameTokens(b)
	if len(left) == 0 || len(right) == 0 {
		return 0
	}
	if len(left) > len(right) {
		left, right = right, left
	}
	for t := range left {
		if _, ok := right[t]; !ok {
			return 0
		}
	}
	return float64(len(left)) / float64(len(right))
}

// Similarity scores how well candidate matches query in [0, 1]:
//
//   - 1 for names equal once normalized
//   - 0.70 to 0.95 when all the tokens of one name appear in the other
//   - below 0.70, the squared Jaro-Winkler similarity scaled by 0.7, otherwise
//
// A single shared word is not enough to reach the upper tier.
func Similarity(query, candidate string) float64 {
	q := normalizeName(query)
	c := normalizeName(candidate)
	if q == "" || c == "" {
		return 0
	}
	if q == c {
		return 1
	}

	if share := tokenContainment(q, c); share > 0 {
		return math.Min(0.70+0.25*share, 0.95)
	}

	jw := matchr.JaroWinkler(q, c, false)
	return math.Min(jw*jw*0.7, 0.69)
}
