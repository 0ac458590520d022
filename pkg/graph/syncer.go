package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/yarrow/internal/repositories/lead"
	"github.com/Ramsey-B/yarrow/internal/repositories/link"
	"github.com/Ramsey-B/yarrow/pkg/metrics"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// Syncer projects leads and their linked events into the graph as
// (:Event)-[:LINKED_TO]->(:Lead) so journeys and cross-lead click overlap
// can be walked with Cypher. The projection is derived state: Postgres
// stays the source of truth and a lead can always be re-projected.
type Syncer struct {
	client   *Client
	logger   ectologger.Logger
	leadRepo *lead.Repository
	linkRepo *link.Repository
}

// NewSyncer creates a new journey projection syncer
func NewSyncer(client *Client, logger ectologger.Logger, leadRepo *lead.Repository, linkRepo *link.Repository) *Syncer {
	return &Syncer{
		client:   client,
		logger:   logger,
		leadRepo: leadRepo,
		linkRepo: linkRepo,
	}
}

// SyncLead re-projects one lead: the Lead node, an Event node per linked
// event, and a LINKED_TO edge carrying the match pass and confidence.
// MERGE keys on (id, account_id) so repeated syncs converge.
func (s *Syncer) SyncLead(ctx context.Context, accountID, leadID string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Syncer.SyncLead")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"account_id": accountID,
		"lead_id":    leadID,
	})

	ld, err := s.leadRepo.GetByID(ctx, accountID, leadID)
	if err != nil {
		metrics.RecordGraphSync("error")
		return err
	}
	if ld == nil {
		return nil
	}

	links, err := s.linkRepo.ListByLead(ctx, accountID, leadID)
	if err != nil {
		metrics.RecordGraphSync("error")
		return err
	}
	events, err := s.linkRepo.ListEventsByLead(ctx, accountID, leadID)
	if err != nil {
		metrics.RecordGraphSync("error")
		return err
	}

	linksByEvent := make(map[string]*models.Link, len(links))
	for i := range links {
		linksByEvent[links[i].EventID] = &links[i]
	}

	batch := make([]map[string]any, 0, len(events))
	for i := range events {
		lnk := linksByEvent[events[i].ID]
		if lnk == nil {
			continue
		}
		batch = append(batch, map[string]any{
			"props": eventProps(&events[i]),
			"link":  linkProps(lnk),
		})
	}

	cypher := `
		MERGE (l:Lead {id: $lead_id, account_id: $account_id})
		SET l = $lead_props
		WITH l
		UNWIND $events AS evt
		MERGE (e:Event {id: evt.props.id, account_id: $account_id})
		SET e = evt.props
		MERGE (e)-[r:LINKED_TO]->(l)
		SET r += evt.link
	`

	_, err = s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"lead_id":    ld.ID,
			"account_id": accountID,
			"lead_props": leadProps(ld),
			"events":     batch,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		metrics.RecordGraphSync("error")
		log.WithError(err).Error("Failed to project lead journey")
		return fmt.Errorf("failed to project lead journey: %w", err)
	}

	metrics.RecordGraphSync("success")
	log.WithFields(map[string]any{"event_count": len(batch)}).Debug("Projected lead journey")
	return nil
}

func leadProps(ld *models.Lead) map[string]any {
	props := map[string]any{
		"id":                 ld.ID,
		"account_id":         ld.AccountID,
		"lead_number":        ld.LeadNumber,
		"lead_key":           ld.LeadKey,
		"total_call_seconds": ld.TotalCallSeconds,
		"revenue":            ld.Revenue,
		"confidence":         ld.Confidence,
		"final_channel":      ld.FinalChannel,
		"final_source":       ld.FinalSource,
		"first_touch_source": ld.FirstTouchSource,
		"last_touch_source":  ld.LastTouchSource,
		"created_at":         formatGraphTime(ld.CreatedAt),
		"updated_at":         formatGraphTime(ld.UpdatedAt),
	}
	setOptional(props, "display_name", ld.DisplayName)
	setOptional(props, "phone", ld.Phone)
	setOptional(props, "email", ld.Email)
	setOptional(props, "location", ld.Location)
	if ld.FirstEventAt != nil {
		props["first_event_at"] = formatGraphTime(*ld.FirstEventAt)
	}
	if ld.LastEventAt != nil {
		props["last_event_at"] = formatGraphTime(*ld.LastEventAt)
	}
	return props
}

func eventProps(evt *models.NormalizedEvent) map[string]any {
	props := map[string]any{
		"id":          evt.ID,
		"account_id":  evt.AccountID,
		"source_type": string(evt.SourceType),
		"occurred_at": formatGraphTime(evt.OccurredAt),
	}
	setOptional(props, "phone", evt.Phone)
	setOptional(props, "email", evt.Email)
	setOptional(props, "ad_click_id", evt.AdClickID)
	setOptional(props, "client_id", evt.ClientID)
	setOptional(props, "utm_source", evt.UTMSource)
	setOptional(props, "utm_medium", evt.UTMMedium)
	setOptional(props, "utm_campaign", evt.UTMCampaign)
	if evt.Amount != nil {
		props["amount"] = *evt.Amount
	}
	return props
}

func linkProps(lnk *models.Link) map[string]any {
	return map[string]any{
		"pass":         string(lnk.Pass),
		"confidence":   lnk.Confidence,
		"matched_keys": strings.Join(lnk.MatchedKeys, ","),
		"linked_at":    formatGraphTime(lnk.CreatedAt),
	}
}

func setOptional(props map[string]any, key string, val *string) {
	if val != nil && *val != "" {
		props[key] = *val
	}
}

func formatGraphTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
