package problems

import (
	"regexp"
	"strings"

	"github.com/timeprofiler/internal/allocation"
)

var tokenPattern = regexp.MustCompile(`\w+`)

// TokenSet is a set of normalized words.
type TokenSet map[string]struct{}

// Tokenize lower-cases text, extracts word tokens and strips simple plural
// suffixes. Duplicates collapse; tokens that normalize to "" are dropped.
func Tokenize(text string) TokenSet {
	set := make(TokenSet)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		tok = allocation.Depluralize(tok)
		if tok == "" {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// Similarity is the overlap of a and b divided by the size of the smaller
// set. It is 0 when either set is empty.
func Similarity(a, b TokenSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	shared := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}
