package link

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/yarrow/pkg/database"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

const linkColumns = "id, account_id, event_id, lead_id, pass, matched_keys, reason, confidence, created_at"

// Repository handles link persistence. Links are immutable; an event links
// to at most one lead (unique on event_id, enforced by the schema).
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new link repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a link. Joins the caller's transaction so the link commits
// atomically with the lead and audit entry.
func (r *Repository) Create(ctx context.Context, link *models.Link) error {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":     "Create",
		"account_id": link.AccountID,
		"event_id":   link.EventID,
		"lead_id":    link.LeadID,
		"pass":       link.Pass,
	})

	if link.ID == "" {
		link.ID = uuid.New().String()
	}
	link.CreatedAt = time.Now().UTC()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("links")
	sb.Cols("id", "account_id", "event_id", "lead_id", "pass", "matched_keys", "reason", "confidence", "created_at")
	sb.Values(link.ID, link.AccountID, link.EventID, link.LeadID, link.Pass, link.MatchedKeys, link.Reason, link.Confidence, link.CreatedAt)

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to create link")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create link")
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}

	log.Debug("Created link")
	return nil
}

// GetByEventID retrieves the link for an event, or nil when the event is
// not linked yet
func (r *Repository) GetByEventID(ctx context.Context, accountID, eventID string) (*models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.GetByEventID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(linkColumns)
	sb.From("links")
	sb.Where(
		sb.Equal("account_id", accountID),
		sb.Equal("event_id", eventID),
	)

	query, args := sb.Build()
	var link models.Link
	if err := r.db.GetContext(ctx, &link, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get link by event")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get link")
	}

	return &link, nil
}

// ListByLead retrieves all links for a lead in creation order
func (r *Repository) ListByLead(ctx context.Context, accountID, leadID string) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.ListByLead")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(linkColumns)
	sb.From("links")
	sb.Where(
		sb.Equal("account_id", accountID),
		sb.Equal("lead_id", leadID),
	)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var links []models.Link
	if err := r.db.SelectContext(ctx, &links, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list links by lead")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list links")
	}

	return links, nil
}

type linkedEventRow struct {
	models.NormalizedEvent
	LeadID string `db:"lead_id"`
}

// FindLinkedByClickID retrieves linked events sharing a click identifier,
// matching either the ad click id or the client id column. Feeds the
// click-chain pass.
func (r *Repository) FindLinkedByClickID(ctx context.Context, accountID, clickID string) ([]models.LinkedEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.FindLinkedByClickID")
	defer span.End()

	query := `
		SELECT events.*, links.lead_id
		FROM events
		JOIN links ON links.event_id = events.id
		WHERE events.account_id = $1
		  AND (events.ad_click_id = $2 OR events.client_id = $2)
		ORDER BY events.occurred_at ASC`

	var rows []linkedEventRow
	if err := r.db.SelectContext(ctx, &rows, query, accountID, clickID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find linked events by click id")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find linked events")
	}

	linked := make([]models.LinkedEvent, 0, len(rows))
	for _, row := range rows {
		linked = append(linked, models.LinkedEvent{Event: row.NormalizedEvent, LeadID: row.LeadID})
	}
	return linked, nil
}

// ListEventsByLead retrieves a lead's linked events in ascending occurrence
// order, the input shape for attribution and the journey view
func (r *Repository) ListEventsByLead(ctx context.Context, accountID, leadID string) ([]models.NormalizedEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.ListEventsByLead")
	defer span.End()

	query := `
		SELECT events.*
		FROM events
		JOIN links ON links.event_id = events.id
		WHERE links.account_id = $1
		  AND links.lead_id = $2
		ORDER BY events.occurred_at ASC, events.id ASC`

	var events []models.NormalizedEvent
	if err := r.db.SelectContext(ctx, &events, query, accountID, leadID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list events by lead")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list events by lead")
	}

	return events, nil
}

// CountByLead counts the links attached to a lead
func (r *Repository) CountByLead(ctx context.Context, accountID, leadID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.CountByLead")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("links")
	sb.Where(
		sb.Equal("account_id", accountID),
		sb.Equal("lead_id", leadID),
	)

	query, args := sb.Build()
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count links")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count links")
	}

	return count, nil
}
