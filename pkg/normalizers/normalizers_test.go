package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"formatted us number", "(555) 123-4567", "5551234567"},
		{"with country code", "+1 555 123 4567", "15551234567"},
		{"dots", "555.123.4567", "5551234567"},
		{"already clean", "5551234567", "5551234567"},
		{"empty", "", ""},
		{"no digits", "ext.", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePhone(tt.input))
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "jane@example.com", NormalizeEmail("  Jane@Example.COM  "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"suffix stripped", "John Smith Jr.", "john smith"},
		{"punctuation removed", "O'Brien, Mary", "obrien mary"},
		{"whitespace collapsed", "Ann    Lee", "ann lee"},
		{"roman numeral suffix", "Robert Banks III", "robert banks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestNormalizeLocation(t *testing.T) {
	assert.Equal(t, "austin, tx", NormalizeLocation("  Austin,   TX "))
	assert.Equal(t, "springfield", NormalizeLocation("Springfield"))
}

func TestApplyChain(t *testing.T) {
	// Unknown normalizers pass the value through untouched
	assert.Equal(t, "abc", Apply("abc", "does_not_exist"))
	assert.Equal(t, "5551234", ApplyChain(" (555) 1234 ", "trim", "nphone"))
}
