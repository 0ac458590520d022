package matching

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/normalizers"
	"github.com/Ramsey-B/yarrow/pkg/policy"
)

func ptr[T any](v T) *T {
	return &v
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func baseTime() time.Time {
	return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
}

type fakeLeadSource struct {
	leads []models.Lead
}

func (f *fakeLeadSource) GetByID(_ context.Context, accountID, leadID string) (*models.Lead, error) {
	for i := range f.leads {
		if f.leads[i].AccountID == accountID && f.leads[i].ID == leadID {
			lead := f.leads[i]
			return &lead, nil
		}
	}
	return nil, nil
}

func (f *fakeLeadSource) FindByPhone(_ context.Context, accountID, phone string) ([]models.Lead, error) {
	var out []models.Lead
	for _, lead := range f.leads {
		if lead.AccountID != accountID || lead.Phone == nil {
			continue
		}
		if normalizers.NormalizePhone(*lead.Phone) == phone {
			out = append(out, lead)
		}
	}
	return out, nil
}

func (f *fakeLeadSource) FindByEmail(_ context.Context, accountID, email string) ([]models.Lead, error) {
	var out []models.Lead
	for _, lead := range f.leads {
		if lead.AccountID != accountID || lead.Email == nil {
			continue
		}
		if normalizers.NormalizeEmail(*lead.Email) == email {
			out = append(out, lead)
		}
	}
	return out, nil
}

func (f *fakeLeadSource) FindWithNameAndLocation(_ context.Context, accountID string) ([]models.Lead, error) {
	var out []models.Lead
	for _, lead := range f.leads {
		if lead.AccountID != accountID {
			continue
		}
		if lead.DisplayName != nil && lead.Location != nil {
			out = append(out, lead)
		}
	}
	return out, nil
}

type fakeClickSource struct {
	linked []models.LinkedEvent
}

func (f *fakeClickSource) FindLinkedByClickID(_ context.Context, accountID, clickID string) ([]models.LinkedEvent, error) {
	var out []models.LinkedEvent
	for _, le := range f.linked {
		if le.Event.AccountID != accountID {
			continue
		}
		adClick := le.Event.AdClickID != nil && *le.Event.AdClickID == clickID
		client := le.Event.ClientID != nil && *le.Event.ClientID == clickID
		if adClick || client {
			out = append(out, le)
		}
	}
	return out, nil
}

func newTestEngine(leads *fakeLeadSource, clicks *fakeClickSource) *Engine {
	if leads == nil {
		leads = &fakeLeadSource{}
	}
	if clicks == nil {
		clicks = &fakeClickSource{}
	}
	return NewEngine(leads, clicks, testLogger())
}

func TestEngine_PhoneExact(t *testing.T) {
	cfg := policy.Default()
	lead := models.Lead{
		ID:           "lead-1",
		AccountID:    "acct-1",
		LeadKey:      "L-0001",
		Phone:        ptr("5551234567"),
		FirstEventAt: ptr(baseTime()),
	}
	engine := newTestEngine(&fakeLeadSource{leads: []models.Lead{lead}}, nil)

	t.Run("formatted phone matches within window", func(t *testing.T) {
		event := &models.NormalizedEvent{
			ID:         "evt-1",
			AccountID:  "acct-1",
			SourceType: models.SourceTypeCalls,
			OccurredAt: baseTime().AddDate(0, 0, 5),
			Phone:      ptr("(555) 123-4567"),
		}

		candidates, err := engine.Generate(context.Background(), event, cfg)
		require.NoError(t, err)
		require.Len(t, candidates, 1)

		assert.Equal(t, "lead-1", candidates[0].LeadID)
		assert.Equal(t, models.MatchPassPhoneExact, candidates[0].Pass)
		assert.Equal(t, cfg.Weights.PhoneExact, candidates[0].Weight)
		assert.Equal(t, cfg.ConfidenceRules.OneDeterministic, candidates[0].Confidence)
		assert.Equal(t, []string{"phone"}, candidates[0].MatchedKeys)
	})

	t.Run("outside window produces no candidate", func(t *testing.T) {
		event := &models.NormalizedEvent{
			ID:         "evt-2",
			AccountID:  "acct-1",
			SourceType: models.SourceTypeCalls,
			OccurredAt: baseTime().AddDate(0, 0, 31),
			Phone:      ptr("5551234567"),
		}

		candidates, err := engine.Generate(context.Background(), event, cfg)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("window boundary is inclusive", func(t *testing.T) {
		event := &models.NormalizedEvent{
			ID:         "evt-3",
			AccountID:  "acct-1",
			SourceType: models.SourceTypeCalls,
			OccurredAt: baseTime().AddDate(0, 0, 30),
			Phone:      ptr("5551234567"),
		}

		candidates, err := engine.Generate(context.Background(), event, cfg)
		require.NoError(t, err)
		assert.Len(t, candidates, 1)
	})

	t.Run("other account does not match", func(t *testing.T) {
		event := &models.NormalizedEvent{
			ID:         "evt-4",
			AccountID:  "acct-2",
			SourceType: models.SourceTypeCalls,
			OccurredAt: baseTime().AddDate(0, 0, 5),
			Phone:      ptr("5551234567"),
		}

		candidates, err := engine.Generate(context.Background(), event, cfg)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})
}

func TestEngine_EmailExact(t *testing.T) {
	cfg := policy.Default()
	lead := models.Lead{
		ID:           "lead-1",
		AccountID:    "acct-1",
		Email:        ptr("jane@example.com"),
		FirstEventAt: ptr(baseTime()),
	}
	engine := newTestEngine(&fakeLeadSource{leads: []models.Lead{lead}}, nil)

	t.Run("case and whitespace insensitive", func(t *testing.T) {
		event := &models.NormalizedEvent{
			ID:         "evt-1",
			AccountID:  "acct-1",
			SourceType: models.SourceTypeForms,
			OccurredAt: baseTime().AddDate(0, 0, 3),
			Email:      ptr("  Jane@Example.COM "),
		}

		candidates, err := engine.Generate(context.Background(), event, cfg)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, models.MatchPassEmailExact, candidates[0].Pass)
		assert.Equal(t, []string{"email"}, candidates[0].MatchedKeys)
	})
}

func TestEngine_MultiplePassesAccumulate(t *testing.T) {
	cfg := policy.Default()
	leads := []models.Lead{
		{
			ID:           "lead-1",
			AccountID:    "acct-1",
			Phone:        ptr("5551234567"),
			FirstEventAt: ptr(baseTime()),
		},
		{
			ID:           "lead-2",
			AccountID:    "acct-1",
			Email:        ptr("jane@example.com"),
			FirstEventAt: ptr(baseTime()),
		},
	}
	engine := newTestEngine(&fakeLeadSource{leads: leads}, nil)

	event := &models.NormalizedEvent{
		ID:         "evt-1",
		AccountID:  "acct-1",
		SourceType: models.SourceTypeForms,
		OccurredAt: baseTime().AddDate(0, 0, 1),
		Phone:      ptr("5551234567"),
		Email:      ptr("jane@example.com"),
	}

	candidates, err := engine.Generate(context.Background(), event, cfg)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	// Pass order is preserved
	assert.Equal(t, models.MatchPassPhoneExact, candidates[0].Pass)
	assert.Equal(t, "lead-1", candidates[0].LeadID)
	assert.Equal(t, models.MatchPassEmailExact, candidates[1].Pass)
	assert.Equal(t, "lead-2", candidates[1].LeadID)
}

func TestEngine_ClickChain(t *testing.T) {
	cfg := policy.Default()
	lead := models.Lead{ID: "lead-1", AccountID: "acct-1", FirstEventAt: ptr(baseTime())}

	t.Run("shared ad click id within window", func(t *testing.T) {
		clicks := &fakeClickSource{linked: []models.LinkedEvent{{
			Event: models.NormalizedEvent{
				ID:         "evt-0",
				AccountID:  "acct-1",
				AdClickID:  ptr("gclid-abc"),
				OccurredAt: baseTime(),
			},
			LeadID: "lead-1",
		}}}
		engine := newTestEngine(&fakeLeadSource{leads: []models.Lead{lead}}, clicks)

		event := &models.NormalizedEvent{
			ID:         "evt-1",
			AccountID:  "acct-1",
			SourceType: models.SourceTypeForms,
			OccurredAt: baseTime().AddDate(0, 0, 2),
			AdClickID:  ptr("gclid-abc"),
		}

		candidates, err := engine.Generate(context.Background(), event, cfg)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, models.MatchPassClickChain, candidates[0].Pass)
		assert.Equal(t, "lead-1", candidates[0].LeadID)
		assert.Equal(t, []string{"ad_click_id"}, candidates[0].MatchedKeys)
		assert.Equal(t, cfg.ConfidenceRules.ClickOnly, candidates[0].Confidence)
	})

	t.Run("ad click id takes priority over client id", func(t *testing.T) {
		clicks := &fakeClickSource{linked: []models.LinkedEvent{
			{
				Event: models.NormalizedEvent{
					ID:         "evt-0",
					AccountID:  "acct-1",
					AdClickID:  ptr("gclid-abc"),
					OccurredAt: baseTime(),
				},
				LeadID: "lead-1",
			},
			{
				Event: models.NormalizedEvent{
					ID:         "evt-9",
					AccountID:  "acct-1",
					ClientID:   ptr("ga-999"),
					OccurredAt: baseTime(),
				},
				LeadID: "lead-2",
			},
		}}
		engine := newTestEngine(&fakeLeadSource{leads: []models.Lead{lead}}, clicks)

		event := &models.NormalizedEvent{
			ID:         "evt-1",
			AccountID:  "acct-1",
			SourceType: models.SourceTypeForms,
			OccurredAt: baseTime().AddDate(0, 0, 1),
			AdClickID:  ptr("gclid-abc"),
			ClientID:   ptr("ga-999"),
		}

		candidates, err := engine.Generate(context.Background(), event, cfg)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, "lead-1", candidates[0].LeadID)
		assert.Equal(t, []string{"ad_click_id"}, candidates[0].MatchedKeys)
	})

	t.Run("later linked event is not a prior", func(t *testing.T) {
		clicks := &fakeClickSource{linked: []models.LinkedEvent{{
			Event: models.NormalizedEvent{
				ID:         "evt-0",
				AccountID:  "acct-1",
				AdClickID:  ptr("gclid-abc"),
				OccurredAt: baseTime().AddDate(0, 0, 5),
			},
			LeadID: "lead-1",
		}}}
		engine := newTestEngine(&fakeLeadSource{leads: []models.Lead{lead}}, clicks)

		event := &models.NormalizedEvent{
			ID:         "evt-1",
			AccountID:  "acct-1",
			SourceType: models.SourceTypeForms,
			OccurredAt: baseTime(),
			AdClickID:  ptr("gclid-abc"),
		}

		candidates, err := engine.Generate(context.Background(), event, cfg)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("outside window produces no candidate", func(t *testing.T) {
		clicks := &fakeClickSource{linked: []models.LinkedEvent{{
			Event: models.NormalizedEvent{
				ID:         "evt-0",
				AccountID:  "acct-1",
				AdClickID:  ptr("gclid-abc"),
				OccurredAt: baseTime(),
			},
			LeadID: "lead-1",
		}}}
		engine := newTestEngine(&fakeLeadSource{leads: []models.Lead{lead}}, clicks)

		event := &models.NormalizedEvent{
			ID:         "evt-1",
			AccountID:  "acct-1",
			SourceType: models.SourceTypeForms,
			OccurredAt: baseTime().AddDate(0, 0, 31),
			AdClickID:  ptr("gclid-abc"),
		}

		candidates, err := engine.Generate(context.Background(), event, cfg)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("one candidate per distinct lead", func(t *testing.T) {
		clicks := &fakeClickSource{linked: []models.LinkedEvent{
			{
				Event: models.NormalizedEvent{
					ID:         "evt-0",
					AccountID:  "acct-1",
					AdClickID:  ptr("gclid-abc"),
					OccurredAt: baseTime(),
				},
				LeadID: "lead-1",
			},
			{
				Event: models.NormalizedEvent{
					ID:         "evt-2",
					AccountID:  "acct-1",
					AdClickID:  ptr("gclid-abc"),
					OccurredAt: baseTime().AddDate(0, 0, 1),
				},
				LeadID: "lead-1",
			},
		}}
		engine := newTestEngine(&fakeLeadSource{leads: []models.Lead{lead}}, clicks)

		event := &models.NormalizedEvent{
			ID:         "evt-1",
			AccountID:  "acct-1",
			SourceType: models.SourceTypeForms,
			OccurredAt: baseTime().AddDate(0, 0, 2),
			AdClickID:  ptr("gclid-abc"),
		}

		candidates, err := engine.Generate(context.Background(), event, cfg)
		require.NoError(t, err)
		assert.Len(t, candidates, 1)
	})
}

func TestEngine_Fuzzy(t *testing.T) {
	cfg := policy.Default()

	t.Run("similar name with overlapping location", func(t *testing.T) {
		lead := models.Lead{
			ID:           "lead-1",
			AccountID:    "acct-1",
			DisplayName:  ptr("Marhta"),
			Location:     ptr("Austin"),
			FirstEventAt: ptr(baseTime()),
		}
		engine := newTestEngine(&fakeLeadSource{leads: []models.Lead{lead}}, nil)

		event := &models.NormalizedEvent{
			ID:          "evt-1",
			AccountID:   "acct-1",
			SourceType:  models.SourceTypeForms,
			OccurredAt:  baseTime().AddDate(0, 0, 2),
			ContactName: ptr("Martha"),
			Location:    ptr("Austin, TX"),
		}

		candidates, err := engine.Generate(context.Background(), event, cfg)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, models.MatchPassFuzzy, candidates[0].Pass)
		assert.Equal(t, []string{"name", "location"}, candidates[0].MatchedKeys)
		assert.Equal(t, cfg.ConfidenceRules.FuzzyOnly, candidates[0].Confidence)
	})

	t.Run("below similarity threshold never matches", func(t *testing.T) {
		// Name similarity 0.81 is rejected even though location and phone
		// agree exactly
		lead := models.Lead{
			ID:           "lead-1",
			AccountID:    "acct-1",
			DisplayName:  ptr("Dicksonx"),
			Location:     ptr("Austin"),
			Phone:        ptr("5551234567"),
			FirstEventAt: ptr(baseTime()),
		}
		engine := newTestEngine(&fakeLeadSource{leads: []models.Lead{lead}}, nil)

		event := &models.NormalizedEvent{
			ID:          "evt-1",
			AccountID:   "acct-1",
			SourceType:  models.SourceTypeForms,
			OccurredAt:  baseTime().AddDate(0, 0, 2),
			ContactName: ptr("Dixon"),
			Location:    ptr("Austin"),
			Phone:       ptr("5551234567"),
		}

		candidates, err := engine.Generate(context.Background(), event, cfg)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("location mismatch never matches", func(t *testing.T) {
		lead := models.Lead{
			ID:           "lead-1",
			AccountID:    "acct-1",
			DisplayName:  ptr("Marhta"),
			Location:     ptr("Dallas"),
			FirstEventAt: ptr(baseTime()),
		}
		engine := newTestEngine(&fakeLeadSource{leads: []models.Lead{lead}}, nil)

		event := &models.NormalizedEvent{
			ID:          "evt-1",
			AccountID:   "acct-1",
			SourceType:  models.SourceTypeForms,
			OccurredAt:  baseTime().AddDate(0, 0, 2),
			ContactName: ptr("Martha"),
			Location:    ptr("Austin"),
		}

		candidates, err := engine.Generate(context.Background(), event, cfg)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("phone length mismatch fails the pass", func(t *testing.T) {
		lead := models.Lead{
			ID:           "lead-1",
			AccountID:    "acct-1",
			DisplayName:  ptr("Marhta"),
			Location:     ptr("Austin"),
			Phone:        ptr("15551234567"),
			FirstEventAt: ptr(baseTime()),
		}
		engine := newTestEngine(&fakeLeadSource{leads: []models.Lead{lead}}, nil)

		event := &models.NormalizedEvent{
			ID:          "evt-1",
			AccountID:   "acct-1",
			SourceType:  models.SourceTypeForms,
			OccurredAt:  baseTime().AddDate(0, 0, 2),
			ContactName: ptr("Martha"),
			Location:    ptr("Austin"),
			Phone:       ptr("5551234567"),
		}

		candidates, err := engine.Generate(context.Background(), event, cfg)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("phone within hamming distance matches", func(t *testing.T) {
		lead := models.Lead{
			ID:           "lead-1",
			AccountID:    "acct-1",
			DisplayName:  ptr("Marhta"),
			Location:     ptr("Austin"),
			Phone:        ptr("5551234568"),
			FirstEventAt: ptr(baseTime()),
		}
		engine := newTestEngine(&fakeLeadSource{leads: []models.Lead{lead}}, nil)

		event := &models.NormalizedEvent{
			ID:          "evt-1",
			AccountID:   "acct-1",
			SourceType:  models.SourceTypeForms,
			OccurredAt:  baseTime().AddDate(0, 0, 2),
			ContactName: ptr("Martha"),
			Location:    ptr("Austin"),
			Phone:       ptr("5551234567"),
		}

		candidates, err := engine.Generate(context.Background(), event, cfg)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, []string{"name", "location", "phone"}, candidates[0].MatchedKeys)
	})

	t.Run("phone two digits off fails the pass", func(t *testing.T) {
		lead := models.Lead{
			ID:           "lead-1",
			AccountID:    "acct-1",
			DisplayName:  ptr("Marhta"),
			Location:     ptr("Austin"),
			Phone:        ptr("5551234599"),
			FirstEventAt: ptr(baseTime()),
		}
		engine := newTestEngine(&fakeLeadSource{leads: []models.Lead{lead}}, nil)

		event := &models.NormalizedEvent{
			ID:          "evt-1",
			AccountID:   "acct-1",
			SourceType:  models.SourceTypeForms,
			OccurredAt:  baseTime().AddDate(0, 0, 2),
			ContactName: ptr("Martha"),
			Location:    ptr("Austin"),
			Phone:       ptr("5551234567"),
		}

		candidates, err := engine.Generate(context.Background(), event, cfg)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("outside fuzzy window produces no candidate", func(t *testing.T) {
		lead := models.Lead{
			ID:           "lead-1",
			AccountID:    "acct-1",
			DisplayName:  ptr("Marhta"),
			Location:     ptr("Austin"),
			FirstEventAt: ptr(baseTime()),
		}
		engine := newTestEngine(&fakeLeadSource{leads: []models.Lead{lead}}, nil)

		event := &models.NormalizedEvent{
			ID:          "evt-1",
			AccountID:   "acct-1",
			SourceType:  models.SourceTypeForms,
			OccurredAt:  baseTime().AddDate(0, 0, 8),
			ContactName: ptr("Martha"),
			Location:    ptr("Austin"),
		}

		candidates, err := engine.Generate(context.Background(), event, cfg)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})
}

func TestEngine_NoMatchableKeys(t *testing.T) {
	cfg := policy.Default()
	leads := []models.Lead{{
		ID:           "lead-1",
		AccountID:    "acct-1",
		Phone:        ptr("5551234567"),
		Email:        ptr("jane@example.com"),
		DisplayName:  ptr("Jane Doe"),
		Location:     ptr("Austin"),
		FirstEventAt: ptr(baseTime()),
	}}
	engine := newTestEngine(&fakeLeadSource{leads: leads}, nil)

	event := &models.NormalizedEvent{
		ID:         "evt-1",
		AccountID:  "acct-1",
		SourceType: models.SourceTypeChats,
		OccurredAt: baseTime(),
	}

	candidates, err := engine.Generate(context.Background(), event, cfg)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
