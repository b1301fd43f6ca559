package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "lowercases and splits",
			input: "The Quick Brown Fox",
			want:  []string{"the", "quick", "brown", "fox"},
		},
		{
			name:  "strips punctuation",
			input: `Hello, world! (it's "fine"; really?)`,
			want:  []string{"hello", "world", "it", "s", "fine", "really"},
		},
		{
			name:  "collapses whitespace",
			input: "  a \t b \n c  ",
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "slashes and backslashes split",
			input: `path/to\thing`,
			want:  []string{"path", "to", "thing"},
		},
		{
			name:  "empty input",
			input: "",
			want:  []string{},
		},
		{
			name:  "punctuation only",
			input: "?!.,;:",
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.input))
		})
	}
}

func TestTokenize_Deterministic(t *testing.T) {
	input := "Graphs, vectors, and BM25!"
	first := Tokenize(input)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Tokenize(input))
	}
}
