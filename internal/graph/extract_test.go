package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapitalizedPhraseExtractor(t *testing.T) {
	e := NewCapitalizedPhraseExtractor()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "multi word phrase",
			input: "She moved to New York City last year",
			want:  []string{"She", "New York City"},
		},
		{
			name:  "deduplicates preserving first occurrence order",
			input: "Paris is lovely. Paris in spring, then Rome.",
			want:  []string{"Paris", "Rome"},
		},
		{
			name:  "no capitalized words",
			input: "all lowercase text here",
			want:  []string{},
		},
		{
			name:  "short phrases dropped",
			input: "Mr Go and Io are short",
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Extract(tt.input)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
