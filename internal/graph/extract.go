package graph

import (
	"regexp"
	"strings"
)

// EntityExtractor pulls entity mentions out of chunk text. It is a
// pluggable step in the database-fallback graph build so a real NER
// model can replace the default heuristic without touching the build
// orchestration.
type EntityExtractor interface {
	Extract(text string) []string
}

// CapitalizedPhraseExtractor finds runs of capitalized words. It is a
// crude stand-in for named-entity recognition: "New York City" matches,
// but so does any sentence-initial word, and lowercase entities are
// missed entirely.
type CapitalizedPhraseExtractor struct {
	minLength int
}

// capitalizedPhrase matches one or more consecutive capitalized words.
var capitalizedPhrase = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)

// NewCapitalizedPhraseExtractor returns the default extractor.
// Phrases shorter than three characters are dropped as noise.
func NewCapitalizedPhraseExtractor() *CapitalizedPhraseExtractor {
	return &CapitalizedPhraseExtractor{minLength: 3}
}

// Extract returns distinct capitalized phrases in order of first
// appearance.
func (e *CapitalizedPhraseExtractor) Extract(text string) []string {
	matches := capitalizedPhrase.FindAllString(text, -1)

	seen := make(map[string]struct{}, len(matches))
	entities := make([]string, 0, len(matches))
	for _, m := range matches {
		phrase := strings.TrimSpace(m)
		if len(phrase) < e.minLength {
			continue
		}
		if _, dup := seen[phrase]; dup {
			continue
		}
		seen[phrase] = struct{}{}
		entities = append(entities, phrase)
	}
	return entities
}
