package matchjob

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

const jobColumns = "id, account_id, policy_id, import_id, status, event_count, new_lead_count, link_count, errors, failure_reason, started_at, finished_at, created_at, updated_at"

// Repository handles match job persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new match job repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new match job in the queued state
func (r *Repository) Create(ctx context.Context, accountID string, req models.CreateMatchJobRequest) (*models.MatchJob, error) {
	ctx, span := tracing.StartSpan(ctx, "matchjob.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":     "Create",
		"account_id": accountID,
	})

	now := time.Now().UTC()
	job := &models.MatchJob{
		ID:        uuid.New().String(),
		AccountID: accountID,
		PolicyID:  req.PolicyID,
		ImportID:  req.ImportID,
		Status:    models.JobStatusQueued,
		Errors:    models.JobErrors{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("match_jobs")
	sb.Cols("id", "account_id", "policy_id", "import_id", "status", "event_count", "new_lead_count", "link_count", "errors", "created_at", "updated_at")
	sb.Values(job.ID, job.AccountID, job.PolicyID, job.ImportID, job.Status, 0, 0, 0, job.Errors, job.CreatedAt, job.UpdatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to create match job")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create match job")
	}

	log.WithFields(map[string]any{"id": job.ID}).Info("Created match job")
	return job, nil
}

// Get retrieves a match job by ID
func (r *Repository) Get(ctx context.Context, accountID, id string) (*models.MatchJob, error) {
	ctx, span := tracing.StartSpan(ctx, "matchjob.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(jobColumns)
	sb.From("match_jobs")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("account_id", accountID),
	)

	query, args := sb.Build()
	var job models.MatchJob
	if err := r.db.GetContext(ctx, &job, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("match job %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get match job")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match job")
	}

	return &job, nil
}

// List retrieves all match jobs for an account, newest first
func (r *Repository) List(ctx context.Context, accountID string, page, pageSize int) ([]models.MatchJob, int, error) {
	ctx, span := tracing.StartSpan(ctx, "matchjob.Repository.List")
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
	countSb.From("match_jobs")
	countSb.Where(countSb.Equal("account_id", accountID))

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count match jobs")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count match jobs")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(jobColumns)
	sb.From("match_jobs")
	sb.Where(sb.Equal("account_id", accountID))
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var jobs []models.MatchJob
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list match jobs")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list match jobs")
	}

	return jobs, totalCount, nil
}

// MarkRunning transitions a job to running and stamps its start time
func (r *Repository) MarkRunning(ctx context.Context, accountID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "matchjob.Repository.MarkRunning")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("match_jobs")
	sb.Set(
		sb.Assign("status", models.JobStatusRunning),
		sb.Assign("started_at", now),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("account_id", accountID),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to mark match job running")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark match job running")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("match job %s not found", id))
	}

	return nil
}

// Complete transitions a job to completed and records its summary. A job
// with per-event errors but a finished loop still lands here; failed is
// reserved for jobs that could not start.
func (r *Repository) Complete(ctx context.Context, accountID, id string, eventCount int, summary models.JobSummary) error {
	ctx, span := tracing.StartSpan(ctx, "matchjob.Repository.Complete")
	defer span.End()

	now := time.Now().UTC()
	errs := summary.Errors
	if errs == nil {
		errs = models.JobErrors{}
	}

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("match_jobs")
	sb.Set(
		sb.Assign("status", models.JobStatusCompleted),
		sb.Assign("event_count", eventCount),
		sb.Assign("new_lead_count", summary.NewLeadCount),
		sb.Assign("link_count", summary.LinkCount),
		sb.Assign("errors", errs),
		sb.Assign("finished_at", now),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("account_id", accountID),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to complete match job")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to complete match job")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("match job %s not found", id))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":             id,
		"new_lead_count": summary.NewLeadCount,
		"link_count":     summary.LinkCount,
		"error_count":    len(errs),
	}).Info("Completed match job")
	return nil
}

// Fail transitions a job to failed with the fatal reason
func (r *Repository) Fail(ctx context.Context, accountID, id, reason string) error {
	ctx, span := tracing.StartSpan(ctx, "matchjob.Repository.Fail")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("match_jobs")
	sb.Set(
		sb.Assign("status", models.JobStatusFailed),
		sb.Assign("failure_reason", reason),
		sb.Assign("finished_at", now),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("account_id", accountID),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to fail match job")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to fail match job")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("match job %s not found", id))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":     id,
		"reason": reason,
	}).Info("Failed match job")
	return nil
}
