package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/yarrow/pkg/models"
)

func ptr[T any](v T) *T {
	return &v
}

func TestSeedLead(t *testing.T) {
	occurred := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("contact fields are normalized for lookup", func(t *testing.T) {
		evt := &models.NormalizedEvent{
			ID:          "evt-1",
			AccountID:   "acct-1",
			SourceType:  models.SourceTypeForms,
			OccurredAt:  occurred,
			ContactName: ptr("Jane Doe"),
			Phone:       ptr("(555) 123-4567"),
			Email:       ptr("  Jane@Example.COM "),
			Location:    ptr("Austin, TX"),
		}

		founded := seedLead(evt, 42)

		assert.Equal(t, "acct-1", founded.AccountID)
		assert.Equal(t, int64(42), founded.LeadNumber)
		assert.Equal(t, "L-000042", founded.LeadKey)
		require.NotNil(t, founded.Phone)
		assert.Equal(t, "5551234567", *founded.Phone)
		require.NotNil(t, founded.Email)
		assert.Equal(t, "jane@example.com", *founded.Email)
		assert.Equal(t, ptr("Jane Doe"), founded.DisplayName)
		assert.Equal(t, ptr("Austin, TX"), founded.Location)
	})

	t.Run("event time seeds both range endpoints", func(t *testing.T) {
		evt := &models.NormalizedEvent{
			ID:         "evt-1",
			AccountID:  "acct-1",
			SourceType: models.SourceTypeForms,
			OccurredAt: occurred,
		}

		founded := seedLead(evt, 1)

		require.NotNil(t, founded.FirstEventAt)
		require.NotNil(t, founded.LastEventAt)
		assert.Equal(t, occurred, *founded.FirstEventAt)
		assert.Equal(t, occurred, *founded.LastEventAt)
		assert.Equal(t, newLeadConfidence, founded.Confidence)
	})

	t.Run("call duration seeds total call seconds", func(t *testing.T) {
		evt := &models.NormalizedEvent{
			ID:              "evt-1",
			AccountID:       "acct-1",
			SourceType:      models.SourceTypeCalls,
			OccurredAt:      occurred,
			DurationSeconds: ptr(95),
		}

		founded := seedLead(evt, 1)
		assert.Equal(t, 95, founded.TotalCallSeconds)
	})

	t.Run("non-call duration is ignored", func(t *testing.T) {
		evt := &models.NormalizedEvent{
			ID:              "evt-1",
			AccountID:       "acct-1",
			SourceType:      models.SourceTypeChats,
			OccurredAt:      occurred,
			DurationSeconds: ptr(95),
		}

		founded := seedLead(evt, 1)
		assert.Equal(t, 0, founded.TotalCallSeconds)
	})
}

func TestRefreshEvidence(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("missing fields fill in, present fields keep first evidence", func(t *testing.T) {
		matched := &models.Lead{
			ID:           "lead-1",
			AccountID:    "acct-1",
			DisplayName:  ptr("Jane Doe"),
			FirstEventAt: ptr(base),
			LastEventAt:  ptr(base),
			Confidence:   1.0,
		}
		evt := &models.NormalizedEvent{
			SourceType:  models.SourceTypeForms,
			OccurredAt:  base.AddDate(0, 0, 1),
			ContactName: ptr("J. Doe"),
			Phone:       ptr("555-123-4567"),
			Email:       ptr("jane@example.com"),
		}

		refreshEvidence(matched, evt, 0.90)

		assert.Equal(t, ptr("Jane Doe"), matched.DisplayName)
		require.NotNil(t, matched.Phone)
		assert.Equal(t, "5551234567", *matched.Phone)
		require.NotNil(t, matched.Email)
		assert.Equal(t, "jane@example.com", *matched.Email)
	})

	t.Run("event time range widens in both directions", func(t *testing.T) {
		matched := &models.Lead{
			FirstEventAt: ptr(base),
			LastEventAt:  ptr(base),
			Confidence:   1.0,
		}

		earlier := &models.NormalizedEvent{SourceType: models.SourceTypeForms, OccurredAt: base.AddDate(0, 0, -3)}
		refreshEvidence(matched, earlier, 0.90)
		assert.Equal(t, earlier.OccurredAt, *matched.FirstEventAt)
		assert.Equal(t, base, *matched.LastEventAt)

		later := &models.NormalizedEvent{SourceType: models.SourceTypeForms, OccurredAt: base.AddDate(0, 0, 5)}
		refreshEvidence(matched, later, 0.90)
		assert.Equal(t, earlier.OccurredAt, *matched.FirstEventAt)
		assert.Equal(t, later.OccurredAt, *matched.LastEventAt)
	})

	t.Run("call seconds accumulate across calls", func(t *testing.T) {
		matched := &models.Lead{TotalCallSeconds: 60, Confidence: 1.0}

		call := &models.NormalizedEvent{
			SourceType:      models.SourceTypeCalls,
			OccurredAt:      base,
			DurationSeconds: ptr(30),
		}
		refreshEvidence(matched, call, 0.90)
		assert.Equal(t, 90, matched.TotalCallSeconds)

		form := &models.NormalizedEvent{
			SourceType:      models.SourceTypeForms,
			OccurredAt:      base,
			DurationSeconds: ptr(30),
		}
		refreshEvidence(matched, form, 0.90)
		assert.Equal(t, 90, matched.TotalCallSeconds)
	})

	t.Run("confidence tracks the weakest link", func(t *testing.T) {
		matched := &models.Lead{Confidence: 1.0}

		refreshEvidence(matched, &models.NormalizedEvent{SourceType: models.SourceTypeForms, OccurredAt: base}, 0.90)
		assert.Equal(t, 0.90, matched.Confidence)

		refreshEvidence(matched, &models.NormalizedEvent{SourceType: models.SourceTypeForms, OccurredAt: base}, 0.98)
		assert.Equal(t, 0.90, matched.Confidence)

		refreshEvidence(matched, &models.NormalizedEvent{SourceType: models.SourceTypeForms, OccurredAt: base}, 0.60)
		assert.Equal(t, 0.60, matched.Confidence)
	})

	t.Run("empty contact values never fill in", func(t *testing.T) {
		matched := &models.Lead{Confidence: 1.0}
		evt := &models.NormalizedEvent{
			SourceType:  models.SourceTypeForms,
			OccurredAt:  base,
			ContactName: ptr(""),
			Phone:       ptr("ext. only"),
			Email:       ptr(""),
			Location:    ptr(""),
		}

		refreshEvidence(matched, evt, 0.90)

		assert.Nil(t, matched.DisplayName)
		assert.Nil(t, matched.Phone)
		assert.Nil(t, matched.Email)
		assert.Nil(t, matched.Location)
	})
}
