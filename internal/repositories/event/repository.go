package event

import (
	"context"
	"fmt"
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

const eventColumns = "id, account_id, import_id, source_type, occurred_at, contact_name, phone, email, location, duration_seconds, amount, external_id, ad_click_id, client_id, utm_source, utm_medium, utm_campaign, source_file, source_row, raw_payload, matched, created_at, updated_at"

// Repository handles normalized event persistence. Events are staged by the
// ingestion consumer and consumed read-only by the match engine; only the
// matched flag is ever updated.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new event repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Stage inserts a normalized event. Staging is idempotent: an event whose
// (account_id, external_id) pair is already present is skipped, and the
// returned bool reports whether a row was written.
func (r *Repository) Stage(ctx context.Context, event *models.NormalizedEvent) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.Stage")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":      "Stage",
		"account_id":  event.AccountID,
		"source_type": event.SourceType,
	})

	now := time.Now().UTC()
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.CreatedAt = now
	event.UpdatedAt = now

	sb := database.NewInsertBuilder()
	sb.InsertInto("events")
	sb.Cols("id", "account_id", "import_id", "source_type", "occurred_at",
		"contact_name", "phone", "email", "location", "duration_seconds", "amount", "external_id",
		"ad_click_id", "client_id", "utm_source", "utm_medium", "utm_campaign",
		"source_file", "source_row", "raw_payload", "matched", "created_at", "updated_at")
	sb.Values(event.ID, event.AccountID, event.ImportID, event.SourceType, event.OccurredAt,
		event.ContactName, event.Phone, event.Email, event.Location, event.DurationSeconds, event.Amount, event.ExternalID,
		event.AdClickID, event.ClientID, event.UTMSource, event.UTMMedium, event.UTMCampaign,
		event.SourceFile, event.SourceRow, event.RawPayload, false, event.CreatedAt, event.UpdatedAt)
	sb.OnConflictDoNothing()

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.WithError(err).Error("Failed to stage event")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to stage event")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		log.WithFields(map[string]any{"external_id": event.ExternalID}).Debug("Event already staged, skipping")
		return false, nil
	}

	return true, nil
}

// Get retrieves an event by ID
func (r *Repository) Get(ctx context.Context, accountID, id string) (*models.NormalizedEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(eventColumns)
	sb.From("events")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("account_id", accountID),
	)

	query, args := sb.Build()
	var event models.NormalizedEvent
	if err := r.db.GetContext(ctx, &event, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("event %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get event")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get event")
	}

	return &event, nil
}

// ListUnmatched retrieves not-yet-matched events for an account in ascending
// occurred_at order. When importID is set only that import's events are
// returned. Paged by limit/offset so the orchestrator can walk large
// backlogs batch by batch without losing global event-time order.
func (r *Repository) ListUnmatched(ctx context.Context, accountID string, importID *string, limit, offset int) ([]models.NormalizedEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.ListUnmatched")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(eventColumns)
	sb.From("events")
	where := []string{
		sb.Equal("account_id", accountID),
		sb.Equal("matched", false),
	}
	if importID != nil {
		where = append(where, sb.Equal("import_id", *importID))
	}
	sb.Where(where...)
	sb.OrderBy("occurred_at ASC", "id ASC")
	sb.Limit(limit).Offset(offset)

	query, args := sb.Build()
	var events []models.NormalizedEvent
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list unmatched events")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list unmatched events")
	}

	return events, nil
}

// CountUnmatched counts not-yet-matched events for an account
func (r *Repository) CountUnmatched(ctx context.Context, accountID string, importID *string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.CountUnmatched")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("events")
	where := []string{
		sb.Equal("account_id", accountID),
		sb.Equal("matched", false),
	}
	if importID != nil {
		where = append(where, sb.Equal("import_id", *importID))
	}
	sb.Where(where...)

	query, args := sb.Build()
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count unmatched events")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count unmatched events")
	}

	return count, nil
}

// MarkMatched flags an event as consumed by the match engine. Joins the
// caller's transaction so the flag commits atomically with the link.
func (r *Repository) MarkMatched(ctx context.Context, accountID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.MarkMatched")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("events")
	sb.Set(
		sb.Assign("matched", true),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("account_id", accountID),
	)

	query, args := sb.Build()
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to mark event matched")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark event matched")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("event %s not found", id))
	}

	return tx.Commit(ctx)
}
