package lead

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/yarrow/pkg/database"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

const leadColumns = "id, account_id, lead_number, lead_key, display_name, phone, email, location, first_event_at, last_event_at, total_call_seconds, revenue, confidence, final_channel, final_source, final_medium, final_campaign, first_touch_source, last_touch_source, paid_last_source, created_at, updated_at"

// Repository handles lead persistence. Contact columns (phone, email) are
// stored normalized so the exact-match lookups are plain equality.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new lead repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying database so callers can scope a transaction
// across repositories
func (r *Repository) DB() database.DB {
	return r.db
}

// NextLeadNumber allocates the next value of the global lead sequence.
// Joins the caller's transaction so an aborted lead creation burns the
// number but never reuses it.
func (r *Repository) NextLeadNumber(ctx context.Context) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.NextLeadNumber")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	var number int64
	if err := tx.GetContext(ctx, &number, "SELECT nextval('lead_numbers')"); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to allocate lead number")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to allocate lead number")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}
	return number, nil
}

// Create inserts a new lead. The caller supplies the full row, including the
// identifiers allocated via NextLeadNumber. Joins the caller's transaction.
func (r *Repository) Create(ctx context.Context, lead *models.Lead) error {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":     "Create",
		"account_id": lead.AccountID,
		"lead_key":   lead.LeadKey,
	})

	now := time.Now().UTC()
	lead.CreatedAt = now
	lead.UpdatedAt = now

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("leads")
	sb.Cols("id", "account_id", "lead_number", "lead_key",
		"display_name", "phone", "email", "location",
		"first_event_at", "last_event_at", "total_call_seconds", "revenue", "confidence",
		"final_channel", "final_source", "final_medium", "final_campaign",
		"first_touch_source", "last_touch_source", "paid_last_source",
		"created_at", "updated_at")
	sb.Values(lead.ID, lead.AccountID, lead.LeadNumber, lead.LeadKey,
		lead.DisplayName, lead.Phone, lead.Email, lead.Location,
		lead.FirstEventAt, lead.LastEventAt, lead.TotalCallSeconds, lead.Revenue, lead.Confidence,
		lead.FinalChannel, lead.FinalSource, lead.FinalMedium, lead.FinalCampaign,
		lead.FirstTouchSource, lead.LastTouchSource, lead.PaidLastSource,
		lead.CreatedAt, lead.UpdatedAt)

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to create lead")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create lead")
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}

	log.WithFields(map[string]any{"id": lead.ID}).Info("Created lead")
	return nil
}

// Get retrieves a lead by ID
func (r *Repository) Get(ctx context.Context, accountID, id string) (*models.Lead, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(leadColumns)
	sb.From("leads")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("account_id", accountID),
	)

	query, args := sb.Build()
	var lead models.Lead
	if err := r.db.GetContext(ctx, &lead, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("lead %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get lead")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get lead")
	}

	return &lead, nil
}

// GetByKey retrieves a lead by its externally visible key
func (r *Repository) GetByKey(ctx context.Context, accountID, leadKey string) (*models.Lead, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.GetByKey")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(leadColumns)
	sb.From("leads")
	sb.Where(
		sb.Equal("lead_key", leadKey),
		sb.Equal("account_id", accountID),
	)

	query, args := sb.Build()
	var lead models.Lead
	if err := r.db.GetContext(ctx, &lead, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("lead %s not found", leadKey))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get lead by key")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get lead")
	}

	return &lead, nil
}

// GetByID retrieves a lead by ID, returning nil when it does not exist
func (r *Repository) GetByID(ctx context.Context, accountID, id string) (*models.Lead, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(leadColumns)
	sb.From("leads")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("account_id", accountID),
	)

	query, args := sb.Build()
	var lead models.Lead
	if err := r.db.GetContext(ctx, &lead, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get lead")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get lead")
	}

	return &lead, nil
}

// FindByPhone retrieves leads whose stored phone equals the normalized value
func (r *Repository) FindByPhone(ctx context.Context, accountID, phone string) ([]models.Lead, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.FindByPhone")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(leadColumns)
	sb.From("leads")
	sb.Where(
		sb.Equal("account_id", accountID),
		sb.Equal("phone", phone),
	)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var leads []models.Lead
	if err := r.db.SelectContext(ctx, &leads, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find leads by phone")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find leads by phone")
	}

	return leads, nil
}

// FindByEmail retrieves leads whose stored email equals the normalized value
func (r *Repository) FindByEmail(ctx context.Context, accountID, email string) ([]models.Lead, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.FindByEmail")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(leadColumns)
	sb.From("leads")
	sb.Where(
		sb.Equal("account_id", accountID),
		sb.Equal("email", email),
	)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var leads []models.Lead
	if err := r.db.SelectContext(ctx, &leads, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find leads by email")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find leads by email")
	}

	return leads, nil
}

// FindWithNameAndLocation retrieves leads carrying both a display name and a
// location, the candidate pool for the fuzzy pass
func (r *Repository) FindWithNameAndLocation(ctx context.Context, accountID string) ([]models.Lead, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.FindWithNameAndLocation")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(leadColumns)
	sb.From("leads")
	sb.Where(
		sb.Equal("account_id", accountID),
		sb.IsNotNull("display_name"),
		sb.IsNotNull("location"),
	)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var leads []models.Lead
	if err := r.db.SelectContext(ctx, &leads, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find fuzzy candidates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find fuzzy candidates")
	}

	return leads, nil
}

// List retrieves all leads for an account
func (r *Repository) List(ctx context.Context, accountID string, page, pageSize int) ([]models.Lead, int, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("leads")
	countSb.Where(countSb.Equal("account_id", accountID))

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count leads")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count leads")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(leadColumns)
	sb.From("leads")
	sb.Where(sb.Equal("account_id", accountID))
	sb.OrderBy("lead_number DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var leads []models.Lead
	if err := r.db.SelectContext(ctx, &leads, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list leads")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list leads")
	}

	return leads, totalCount, nil
}

// ListIDs retrieves lead IDs for an account, paged in creation order. Used
// by full-account attribution recomputes.
func (r *Repository) ListIDs(ctx context.Context, accountID string, limit, offset int) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.ListIDs")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id")
	sb.From("leads")
	sb.Where(sb.Equal("account_id", accountID))
	sb.OrderBy("lead_number ASC")
	sb.Limit(limit).Offset(offset)

	query, args := sb.Build()
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list lead ids")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list lead ids")
	}

	return ids, nil
}

// UpdateEvidence refreshes a lead's denormalized evidence columns after an
// event attaches. Joins the caller's transaction.
func (r *Repository) UpdateEvidence(ctx context.Context, lead *models.Lead) error {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.UpdateEvidence")
	defer span.End()

	lead.UpdatedAt = time.Now().UTC()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("leads")
	sb.Set(
		sb.Assign("display_name", lead.DisplayName),
		sb.Assign("phone", lead.Phone),
		sb.Assign("email", lead.Email),
		sb.Assign("location", lead.Location),
		sb.Assign("first_event_at", lead.FirstEventAt),
		sb.Assign("last_event_at", lead.LastEventAt),
		sb.Assign("total_call_seconds", lead.TotalCallSeconds),
		sb.Assign("confidence", lead.Confidence),
		sb.Assign("updated_at", lead.UpdatedAt),
	)
	sb.Where(
		sb.Equal("id", lead.ID),
		sb.Equal("account_id", lead.AccountID),
	)

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update lead evidence")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update lead evidence")
	}

	return tx.Commit(ctx)
}

// UpdateAttribution persists a recomputed attribution summary in a single
// update
func (r *Repository) UpdateAttribution(ctx context.Context, accountID, leadID string, summary models.AttributionSummary) error {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.UpdateAttribution")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("leads")
	sb.Set(
		sb.Assign("final_channel", summary.FinalChannel),
		sb.Assign("final_source", summary.FinalSource),
		sb.Assign("final_medium", summary.FinalMedium),
		sb.Assign("final_campaign", summary.FinalCampaign),
		sb.Assign("first_touch_source", summary.FirstTouchSource),
		sb.Assign("last_touch_source", summary.LastTouchSource),
		sb.Assign("paid_last_source", summary.PaidLastSource),
		sb.Assign("revenue", summary.Revenue),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(
		sb.Equal("id", leadID),
		sb.Equal("account_id", accountID),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update lead attribution")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update lead attribution")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("lead %s not found", leadID))
	}

	return nil
}
