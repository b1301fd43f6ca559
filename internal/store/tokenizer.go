package store

import (
	"strings"
)

// punctReplacer maps indexing punctuation to spaces before splitting.
var punctReplacer = strings.NewReplacer(
	",", " ", ".", " ", "!", " ", "?", " ", ";", " ", ":", " ",
	"(", " ", ")", " ", "[", " ", "]", " ", "{", " ", "}", " ",
	`"`, " ", "'", " ", "\\", " ", "/", " ",
)

// Tokenize splits text into lowercase terms.
// Punctuation is replaced with spaces, the result is whitespace-split,
// and empty tokens are dropped. Deterministic and pure.
func Tokenize(text string) []string {
	lowered := strings.ToLower(text)
	cleaned := punctReplacer.Replace(lowered)

	fields := strings.Fields(cleaned)
	if len(fields) == 0 {
		// Empty slice, not nil, for consistent API behavior.
		return []string{}
	}
	return fields
}
