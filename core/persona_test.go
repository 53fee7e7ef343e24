package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairKey(t *testing.T) {
	assert.Equal(t, PairKey("a", "b"), PairKey("b", "a"))
	assert.NotEqual(t, PairKey("x-y", "z"), PairKey("x", "y-z"))
	assert.NotEqual(t, PairKey("a", "b"), PairKey("a", "c"))
}

func TestFirstName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full name", "Rhea Okafor", "Rhea"},
		{"padded", "  Tomas   Vidal ", "Tomas"},
		{"empty", "   ", "Agent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FirstName(tt.in))
		})
	}
}
