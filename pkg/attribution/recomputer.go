package attribution

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/yarrow/internal/repositories/lead"
	"github.com/Ramsey-B/yarrow/internal/repositories/link"
	"github.com/Ramsey-B/yarrow/pkg/metrics"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/policy"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

const recomputePageSize = 500

// Recomputer recomputes and persists attribution summaries for leads
type Recomputer struct {
	logger   ectologger.Logger
	linkRepo *link.Repository
	leadRepo *lead.Repository
}

// NewRecomputer creates a new attribution recomputer
func NewRecomputer(logger ectologger.Logger, linkRepo *link.Repository, leadRepo *lead.Repository) *Recomputer {
	return &Recomputer{
		logger:   logger,
		linkRepo: linkRepo,
		leadRepo: leadRepo,
	}
}

// Recompute rebuilds one lead's attribution summary from its linked events
// and persists it in a single update. A lead with no linked events is left
// untouched and returns nil.
func (r *Recomputer) Recompute(ctx context.Context, accountID, leadID string, mode policy.AttributionMode) (*models.AttributionSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "attribution.Recomputer.Recompute")
	defer span.End()

	events, err := r.linkRepo.ListEventsByLead(ctx, accountID, leadID)
	if err != nil {
		metrics.RecordAttributionRecompute(string(mode), "error")
		return nil, err
	}
	if len(events) == 0 {
		metrics.RecordAttributionRecompute(string(mode), "skipped")
		return nil, nil
	}

	summary := Summarize(events, mode)
	if err := r.leadRepo.UpdateAttribution(ctx, accountID, leadID, summary); err != nil {
		metrics.RecordAttributionRecompute(string(mode), "error")
		return nil, err
	}

	metrics.RecordAttributionRecompute(string(mode), "success")
	return &summary, nil
}

// RecomputeAccount recomputes attribution for every lead in the account,
// paging in lead-number order. Per-lead failures are logged and skipped so
// one bad lead does not stall a policy rollout. Returns the number of leads
// whose summary was updated.
func (r *Recomputer) RecomputeAccount(ctx context.Context, accountID string, mode policy.AttributionMode) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "attribution.Recomputer.RecomputeAccount")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"account_id": accountID,
		"mode":       string(mode),
	})

	updated := 0
	offset := 0
	for {
		ids, err := r.leadRepo.ListIDs(ctx, accountID, recomputePageSize, offset)
		if err != nil {
			return updated, err
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			summary, err := r.Recompute(ctx, accountID, id, mode)
			if err != nil {
				log.WithError(err).WithFields(map[string]any{"lead_id": id}).Error("Failed to recompute attribution for lead")
				continue
			}
			if summary != nil {
				updated++
			}
		}

		if len(ids) < recomputePageSize {
			break
		}
		offset += recomputePageSize
	}

	log.WithFields(map[string]any{"updated": updated}).Info("Recomputed account attribution")
	return updated, nil
}
