// Package classifier maps raw message text to a message category using
// fixed keyword sets checked in priority order.
package classifier

import (
	"strings"

	"github.com/timeprofiler/pkg/models"
)

// Default keyword sets.
var (
	DefaultTimeAllocationKeywords = []string{"spent", "hours", "time", "allocation", "working on", "% on"}
	DefaultProblemKeywords        = []string{"problem", "issue", "frustrating", "difficult", "broken", "bug"}
	DefaultSuccessKeywords        = []string{"success", "achievement", "completed", "good", "well", "productive"}
)

// Keywords holds the keyword set for each non-general category.
type Keywords struct {
	TimeAllocation []string
	ProblemReport  []string
	SuccessStory   []string
}

// Classifier is safe for concurrent use; it is never mutated after construction.
type Classifier struct {
	rules []rule
}

type rule struct {
	category models.Category
	words    []string
}

// New builds a classifier. Empty keyword sets fall back to the defaults.
func New(kw Keywords) *Classifier {
	return &Classifier{rules: []rule{
		{models.CategoryTimeAllocation, normalize(kw.TimeAllocation, DefaultTimeAllocationKeywords)},
		{models.CategoryProblemReport, normalize(kw.ProblemReport, DefaultProblemKeywords)},
		{models.CategorySuccessStory, normalize(kw.SuccessStory, DefaultSuccessKeywords)},
	}}
}

// Default returns a classifier using the built-in keyword sets.
func Default() *Classifier {
	return New(Keywords{})
}

// Classify returns the first category whose keywords occur in text,
// or CategoryGeneral when none do.
func (c *Classifier) Classify(text string) models.Category {
	lower := strings.ToLower(text)
	for _, r := range c.rules {
		for _, w := range r.words {
			if strings.Contains(lower, w) {
				return r.category
			}
		}
	}
	return models.CategoryGeneral
}

func normalize(words, fallback []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}
