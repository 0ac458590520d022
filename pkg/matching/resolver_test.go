package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/policy"
)

func TestResolver_Resolve(t *testing.T) {
	resolver := NewResolver()
	cfg := policy.Default()

	t.Run("no candidates returns nil", func(t *testing.T) {
		event := &models.NormalizedEvent{SourceType: models.SourceTypeForms}
		assert.Nil(t, resolver.Resolve(event, nil, cfg))
		assert.Nil(t, resolver.Resolve(event, []Candidate{}, cfg))
	})

	t.Run("single candidate wins", func(t *testing.T) {
		event := &models.NormalizedEvent{SourceType: models.SourceTypeForms}
		candidates := []Candidate{{
			LeadID: "lead-1",
			Pass:   models.MatchPassClickChain,
			Weight: cfg.Weights.ClickChain,
		}}

		winner := resolver.Resolve(event, candidates, cfg)
		require.NotNil(t, winner)
		assert.Equal(t, "lead-1", winner.LeadID)
	})

	t.Run("strictly highest weight wins", func(t *testing.T) {
		event := &models.NormalizedEvent{SourceType: models.SourceTypeForms}
		candidates := []Candidate{
			{LeadID: "lead-email", Pass: models.MatchPassEmailExact, Weight: cfg.Weights.EmailExact},
			{LeadID: "lead-phone", Pass: models.MatchPassPhoneExact, Weight: cfg.Weights.PhoneExact},
		}

		winner := resolver.Resolve(event, candidates, cfg)
		require.NotNil(t, winner)
		assert.Equal(t, "lead-phone", winner.LeadID)
		assert.Equal(t, models.MatchPassPhoneExact, winner.Pass)
	})

	t.Run("resolution is deterministic", func(t *testing.T) {
		event := &models.NormalizedEvent{SourceType: models.SourceTypeChats}
		candidates := []Candidate{
			{LeadID: "lead-1", Pass: models.MatchPassFuzzy, Weight: cfg.Weights.FuzzyMatch},
			{LeadID: "lead-2", Pass: models.MatchPassFuzzy, Weight: cfg.Weights.FuzzyMatch},
			{LeadID: "lead-3", Pass: models.MatchPassFuzzy, Weight: cfg.Weights.FuzzyMatch},
		}

		first := resolver.Resolve(event, candidates, cfg)
		require.NotNil(t, first)
		for i := 0; i < 5; i++ {
			again := resolver.Resolve(event, candidates, cfg)
			require.NotNil(t, again)
			assert.Equal(t, first.LeadID, again.LeadID)
		}
	})
}

func TestResolver_TieBreakers(t *testing.T) {
	resolver := NewResolver()

	t.Run("call_over_form resolves ties for call events", func(t *testing.T) {
		cfg := policy.Default()
		cfg.TieBreakers = []policy.TieBreaker{policy.TieBreakCallOverForm}
		event := &models.NormalizedEvent{SourceType: models.SourceTypeCalls}
		candidates := []Candidate{
			{LeadID: "lead-1", Pass: models.MatchPassFuzzy, Weight: cfg.Weights.FuzzyMatch},
			{LeadID: "lead-2", Pass: models.MatchPassFuzzy, Weight: cfg.Weights.FuzzyMatch},
		}

		winner := resolver.Resolve(event, candidates, cfg)
		require.NotNil(t, winner)
		assert.Equal(t, "lead-1", winner.LeadID)
	})

	t.Run("call_over_form does not apply to form events", func(t *testing.T) {
		cfg := policy.Default()
		cfg.TieBreakers = []policy.TieBreaker{policy.TieBreakCallOverForm, policy.TieBreakLatestEventTime}
		event := &models.NormalizedEvent{SourceType: models.SourceTypeForms}
		older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		newer := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
		candidates := []Candidate{
			{
				LeadID: "lead-1",
				Lead:   &models.Lead{ID: "lead-1", LastEventAt: &older},
				Pass:   models.MatchPassFuzzy,
				Weight: cfg.Weights.FuzzyMatch,
			},
			{
				LeadID: "lead-2",
				Lead:   &models.Lead{ID: "lead-2", LastEventAt: &newer},
				Pass:   models.MatchPassFuzzy,
				Weight: cfg.Weights.FuzzyMatch,
			},
		}

		// call_over_form is skipped, latest_event_time picks the lead with
		// the most recent activity
		winner := resolver.Resolve(event, candidates, cfg)
		require.NotNil(t, winner)
		assert.Equal(t, "lead-2", winner.LeadID)
	})

	t.Run("latest_event_time requires a unique maximum", func(t *testing.T) {
		cfg := policy.Default()
		cfg.TieBreakers = []policy.TieBreaker{policy.TieBreakLatestEventTime, policy.TieBreakHigherRevenue}
		event := &models.NormalizedEvent{SourceType: models.SourceTypeChats}
		shared := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
		candidates := []Candidate{
			{
				LeadID: "lead-1",
				Lead:   &models.Lead{ID: "lead-1", LastEventAt: &shared, Revenue: 100},
				Pass:   models.MatchPassFuzzy,
				Weight: cfg.Weights.FuzzyMatch,
			},
			{
				LeadID: "lead-2",
				Lead:   &models.Lead{ID: "lead-2", LastEventAt: &shared, Revenue: 900},
				Pass:   models.MatchPassFuzzy,
				Weight: cfg.Weights.FuzzyMatch,
			},
		}

		// Shared timestamp cannot discriminate, so higher_revenue decides
		winner := resolver.Resolve(event, candidates, cfg)
		require.NotNil(t, winner)
		assert.Equal(t, "lead-2", winner.LeadID)
	})

	t.Run("longer_call_duration picks the strict maximum", func(t *testing.T) {
		cfg := policy.Default()
		cfg.TieBreakers = []policy.TieBreaker{policy.TieBreakLongerCallDuration}
		event := &models.NormalizedEvent{SourceType: models.SourceTypeChats}
		candidates := []Candidate{
			{
				LeadID: "lead-1",
				Lead:   &models.Lead{ID: "lead-1", TotalCallSeconds: 30},
				Pass:   models.MatchPassFuzzy,
				Weight: cfg.Weights.FuzzyMatch,
			},
			{
				LeadID: "lead-2",
				Lead:   &models.Lead{ID: "lead-2", TotalCallSeconds: 600},
				Pass:   models.MatchPassFuzzy,
				Weight: cfg.Weights.FuzzyMatch,
			},
		}

		winner := resolver.Resolve(event, candidates, cfg)
		require.NotNil(t, winner)
		assert.Equal(t, "lead-2", winner.LeadID)
	})

	t.Run("exhausted rules fall back to first sorted candidate", func(t *testing.T) {
		cfg := policy.Default()
		cfg.TieBreakers = []policy.TieBreaker{policy.TieBreakLatestEventTime}
		event := &models.NormalizedEvent{SourceType: models.SourceTypeChats}
		shared := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
		candidates := []Candidate{
			{
				LeadID: "lead-1",
				Lead:   &models.Lead{ID: "lead-1", LastEventAt: &shared},
				Pass:   models.MatchPassFuzzy,
				Weight: cfg.Weights.FuzzyMatch,
			},
			{
				LeadID: "lead-2",
				Lead:   &models.Lead{ID: "lead-2", LastEventAt: &shared},
				Pass:   models.MatchPassFuzzy,
				Weight: cfg.Weights.FuzzyMatch,
			},
		}

		winner := resolver.Resolve(event, candidates, cfg)
		require.NotNil(t, winner)
		assert.Equal(t, "lead-1", winner.LeadID)
	})

	t.Run("unknown rule names are skipped", func(t *testing.T) {
		cfg := policy.Default()
		cfg.TieBreakers = []policy.TieBreaker{"coin_flip", policy.TieBreakHigherRevenue}
		event := &models.NormalizedEvent{SourceType: models.SourceTypeChats}
		candidates := []Candidate{
			{
				LeadID: "lead-1",
				Lead:   &models.Lead{ID: "lead-1", Revenue: 50},
				Pass:   models.MatchPassFuzzy,
				Weight: cfg.Weights.FuzzyMatch,
			},
			{
				LeadID: "lead-2",
				Lead:   &models.Lead{ID: "lead-2", Revenue: 500},
				Pass:   models.MatchPassFuzzy,
				Weight: cfg.Weights.FuzzyMatch,
			},
		}

		winner := resolver.Resolve(event, candidates, cfg)
		require.NotNil(t, winner)
		assert.Equal(t, "lead-2", winner.LeadID)
	})
}

func TestResolver_TwoDeterministicUpgrade(t *testing.T) {
	resolver := NewResolver()
	cfg := policy.Default()

	t.Run("phone and email agreement raises confidence", func(t *testing.T) {
		event := &models.NormalizedEvent{SourceType: models.SourceTypeForms}
		candidates := []Candidate{
			{
				LeadID:      "lead-1",
				Pass:        models.MatchPassPhoneExact,
				Weight:      cfg.Weights.PhoneExact,
				MatchedKeys: []string{"phone"},
				Reason:      "exact phone match within 30d window",
				Confidence:  cfg.ConfidenceRules.OneDeterministic,
			},
			{
				LeadID:      "lead-1",
				Pass:        models.MatchPassEmailExact,
				Weight:      cfg.Weights.EmailExact,
				MatchedKeys: []string{"email"},
				Reason:      "exact email match within 30d window",
				Confidence:  cfg.ConfidenceRules.OneDeterministic,
			},
		}

		winner := resolver.Resolve(event, candidates, cfg)
		require.NotNil(t, winner)
		assert.Equal(t, "lead-1", winner.LeadID)
		assert.Equal(t, models.MatchPassPhoneExact, winner.Pass)
		assert.Equal(t, cfg.ConfidenceRules.TwoDeterministic, winner.Confidence)
		assert.Equal(t, []string{"phone", "email"}, winner.MatchedKeys)
		assert.Contains(t, winner.Reason, "phone and email agree")
	})

	t.Run("different leads do not upgrade", func(t *testing.T) {
		event := &models.NormalizedEvent{SourceType: models.SourceTypeForms}
		candidates := []Candidate{
			{
				LeadID:      "lead-1",
				Pass:        models.MatchPassPhoneExact,
				Weight:      cfg.Weights.PhoneExact,
				MatchedKeys: []string{"phone"},
				Confidence:  cfg.ConfidenceRules.OneDeterministic,
			},
			{
				LeadID:      "lead-2",
				Pass:        models.MatchPassEmailExact,
				Weight:      cfg.Weights.EmailExact,
				MatchedKeys: []string{"email"},
				Confidence:  cfg.ConfidenceRules.OneDeterministic,
			},
		}

		winner := resolver.Resolve(event, candidates, cfg)
		require.NotNil(t, winner)
		assert.Equal(t, "lead-1", winner.LeadID)
		assert.Equal(t, cfg.ConfidenceRules.OneDeterministic, winner.Confidence)
		assert.Equal(t, []string{"phone"}, winner.MatchedKeys)
	})

	t.Run("click chain winner is never upgraded", func(t *testing.T) {
		event := &models.NormalizedEvent{SourceType: models.SourceTypeForms}
		candidates := []Candidate{
			{
				LeadID:      "lead-1",
				Pass:        models.MatchPassClickChain,
				Weight:      cfg.Weights.ClickChain,
				MatchedKeys: []string{"ad_click_id"},
				Confidence:  cfg.ConfidenceRules.ClickOnly,
			},
		}

		winner := resolver.Resolve(event, candidates, cfg)
		require.NotNil(t, winner)
		assert.Equal(t, cfg.ConfidenceRules.ClickOnly, winner.Confidence)
	})
}
