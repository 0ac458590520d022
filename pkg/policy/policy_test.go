package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDoc = `
name: spring-campaign
attribution_mode: paid_last
windows:
  phone_exact: 30
  email_exact: 21
  click_chain: 14
  fuzzy_match: 7
weights:
  phone_exact: 100
  email_exact: 90
  click_chain: 70
  fuzzy_match: 50
tie_breakers:
  - call_over_form
  - latest_event_time
confidence_rules:
  two_deterministic: 0.99
  one_deterministic: 0.92
  click_only: 0.75
  fuzzy_only: 0.6
`

func TestParse_ValidDocument(t *testing.T) {
	cfg, err := Parse([]byte(validDoc))
	require.NoError(t, err)

	assert.Equal(t, "spring-campaign", cfg.Name)
	assert.Equal(t, AttributionPaidLast, cfg.AttributionMode)
	assert.Equal(t, 30, cfg.Windows.PhoneExact)
	assert.Equal(t, 7, cfg.Windows.FuzzyMatch)
	assert.Equal(t, 100.0, cfg.Weights.PhoneExact)
	assert.Equal(t, []TieBreaker{TieBreakCallOverForm, TieBreakLatestEventTime}, cfg.TieBreakers)
	assert.Equal(t, 0.99, cfg.ConfidenceRules.TwoDeterministic)
	assert.Equal(t, 0.6, cfg.ConfidenceRules.FuzzyOnly)
}

func TestParse_UnknownKeysIgnored(t *testing.T) {
	doc := `
name: forward-compatible
attribution_mode: last_touch
windows:
  phone_exact: 10
weights:
  phone_exact: 50
future_section:
  something: true
experimental: 42
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "forward-compatible", cfg.Name)
	assert.Equal(t, 10, cfg.Windows.PhoneExact)
	// Unspecified window keys default to zero
	assert.Equal(t, 0, cfg.Windows.EmailExact)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		reason string
	}{
		{
			name: "missing name",
			doc: `
attribution_mode: last_touch
windows: {phone_exact: 1}
weights: {phone_exact: 1}
`,
			reason: "name",
		},
		{
			name: "missing attribution mode",
			doc: `
name: test
windows: {phone_exact: 1}
weights: {phone_exact: 1}
`,
			reason: "attribution_mode",
		},
		{
			name: "unrecognized attribution mode",
			doc: `
name: test
attribution_mode: time_decay
windows: {phone_exact: 1}
weights: {phone_exact: 1}
`,
			reason: "attribution_mode",
		},
		{
			name: "missing windows",
			doc: `
name: test
attribution_mode: first_touch
weights: {phone_exact: 1}
`,
			reason: "windows",
		},
		{
			name: "missing weights",
			doc: `
name: test
attribution_mode: first_touch
windows: {phone_exact: 1}
`,
			reason: "weights",
		},
		{
			name:   "not yaml",
			doc:    "{{{{",
			reason: "malformed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.doc))
			assert.Nil(t, cfg)
			require.Error(t, err)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Contains(t, vErr.Error(), tt.reason)
		})
	}
}

func TestParse_AllAttributionModes(t *testing.T) {
	for _, mode := range []AttributionMode{
		AttributionFirstTouch,
		AttributionLastTouch,
		AttributionPaidLast,
		AttributionCallFirst,
		AttributionEqualWeight,
	} {
		t.Run(string(mode), func(t *testing.T) {
			doc := `
name: mode-check
attribution_mode: ` + string(mode) + `
windows: {phone_exact: 1}
weights: {phone_exact: 1}
`
			cfg, err := Parse([]byte(doc))
			require.NoError(t, err)
			assert.Equal(t, mode, cfg.AttributionMode)
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)
	assert.True(t, cfg.AttributionMode.Valid())
	assert.Equal(t, 30, cfg.Windows.PhoneExact)
	assert.Equal(t, 100.0, cfg.Weights.PhoneExact)
	assert.Len(t, cfg.TieBreakers, 5)
	assert.Greater(t, cfg.ConfidenceRules.TwoDeterministic, cfg.ConfidenceRules.OneDeterministic)
	assert.Greater(t, cfg.ConfidenceRules.OneDeterministic, cfg.ConfidenceRules.ClickOnly)
	assert.Greater(t, cfg.ConfidenceRules.ClickOnly, cfg.ConfidenceRules.FuzzyOnly)
}
