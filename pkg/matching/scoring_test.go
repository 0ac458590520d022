package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScorer_JaroWinkler(t *testing.T) {
	scorer := NewScorer()

	tests := []struct {
		name     string
		a        string
		b        string
		expected float64
	}{
		{"exact match", "martha", "martha", 1.0},
		{"transposed pair", "martha", "marhta", 0.9611},
		{"longer variant", "dixon", "dicksonx", 0.8133},
		{"no similarity", "abc", "xyz", 0.0},
		{"empty left", "", "martha", 0.0},
		{"empty right", "martha", "", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, scorer.JaroWinkler(tt.a, tt.b), 0.001)
		})
	}
}

func TestScorer_JaroWinkler_ThresholdBoundary(t *testing.T) {
	scorer := NewScorer()

	// The fuzzy pass accepts 0.88 and above
	assert.Greater(t, scorer.JaroWinkler("martha", "marhta"), fuzzyNameThreshold)
	assert.Less(t, scorer.JaroWinkler("dixon", "dicksonx"), fuzzyNameThreshold)
}

func TestScorer_PhoneDistance(t *testing.T) {
	scorer := NewScorer()

	tests := []struct {
		name     string
		a        string
		b        string
		expected int
	}{
		{"identical", "5551234567", "5551234567", 0},
		{"one digit off", "5551234567", "5551234568", 1},
		{"two digits off", "5551234567", "5551234599", 2},
		{"unequal length", "5551234567", "15551234567", -1},
		{"both empty", "", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, scorer.PhoneDistance(tt.a, tt.b))
		})
	}
}

func TestScorer_ContainsEither(t *testing.T) {
	scorer := NewScorer()

	assert.True(t, scorer.ContainsEither("austin, tx", "austin"))
	assert.True(t, scorer.ContainsEither("austin", "austin, tx"))
	assert.True(t, scorer.ContainsEither("springfield", "springfield"))
	assert.False(t, scorer.ContainsEither("austin", "dallas"))
	assert.False(t, scorer.ContainsEither("", "austin"))
	assert.False(t, scorer.ContainsEither("austin", ""))
}
