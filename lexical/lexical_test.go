package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"Simple", "Hello World", []string{"hello", "world"}},
		{"Punctuation", "it's a test, really!", []string{"it", "s", "a", "test", "really"}},
		{"Digits", "top10 results in 2024", []string{"top10", "results", "in", "2024"}},
		{"Unicode", "Grüße aus Köln", []string{"grüße", "aus", "köln"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}

	t.Run("EmptyDropped", func(t *testing.T) {
		assert.Empty(t, Tokenize("  --  "))
		assert.Empty(t, Tokenize(""))
	})
}
