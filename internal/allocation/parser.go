// Package allocation extracts activity/quantity pairs such as
// "60% meetings, 40% research" or "3 hours code review" from free text.
package allocation

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/timeprofiler/pkg/models"
)

var (
	quantityPattern  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(%|hours?\b|hrs?\b|h\b)`)
	delimiterPattern = regexp.MustCompile(`(?i)[,;.!?\n]|\band\b|\bplus\b`)
	wordPattern      = regexp.MustCompile(`[a-z][a-z'\-]*`)
)

var fillers = map[string]bool{
	"on": true, "in": true, "of": true, "for": true, "doing": true, "with": true, "to": true, "at": true,
}

// Activity is a canonical activity with the words that map onto it.
type Activity struct {
	Category string   `koanf:"category"`
	Synonyms []string `koanf:"synonyms"`
}

// Parser maps free text to activity quantities. It is safe for concurrent use.
type Parser struct {
	lookup map[string]string
}

// NewParser builds a parser. With no activities, normalized phrases are kept as-is.
func NewParser(activities []Activity) *Parser {
	p := &Parser{}
	if len(activities) == 0 {
		return p
	}
	p.lookup = make(map[string]string)
	for _, a := range activities {
		canonical := strings.TrimSpace(a.Category)
		if canonical == "" {
			continue
		}
		p.lookup[strings.ToLower(canonical)] = canonical
		for _, s := range a.Synonyms {
			s = strings.ToLower(strings.TrimSpace(s))
			if s != "" {
				p.lookup[s] = canonical
			}
		}
	}
	return p
}

// Parse returns the activities found in text and the unit they are expressed in.
// An empty map means nothing could be parsed.
func (p *Parser) Parse(text string) (map[string]float64, models.AllocationUnit) {
	matches := quantityPattern.FindAllStringSubmatchIndex(text, -1)
	out := make(map[string]float64)
	var unit models.AllocationUnit

	for i, m := range matches {
		value, err := strconv.ParseFloat(text[m[2]:m[3]], 64)
		if err != nil {
			continue
		}
		u := unitFor(text[m[4]:m[5]])

		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		phrase := activityPhrase(text[m[1]:end])
		if phrase == "" {
			continue
		}
		name, ok := p.resolve(phrase)
		if !ok {
			continue
		}
		if unit == "" {
			unit = u
		}
		if u != unit {
			continue
		}
		out[name] += value
	}
	if len(out) == 0 {
		return out, ""
	}
	return out, unit
}

func (p *Parser) resolve(phrase string) (string, bool) {
	if p.lookup == nil {
		return phrase, true
	}
	candidates := []string{phrase, Depluralize(phrase)}
	if first, _, found := strings.Cut(phrase, " "); found {
		candidates = append(candidates, first, Depluralize(first))
	}
	for _, c := range candidates {
		if name, ok := p.lookup[c]; ok {
			return name, true
		}
	}
	return "", false
}

func activityPhrase(segment string) string {
	if loc := delimiterPattern.FindStringIndex(segment); loc != nil {
		segment = segment[:loc[0]]
	}
	words := wordPattern.FindAllString(strings.ToLower(segment), -1)
	for len(words) > 0 && fillers[words[0]] {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

func unitFor(raw string) models.AllocationUnit {
	if raw == "%" {
		return models.UnitPercent
	}
	return models.UnitHours
}

// Depluralize strips a trailing "es", else a trailing "s".
func Depluralize(word string) string {
	switch {
	case strings.HasSuffix(word, "es"):
		return strings.TrimSuffix(word, "es")
	case strings.HasSuffix(word, "s"):
		return strings.TrimSuffix(word, "s")
	}
	return word
}
