package usage

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

const usageColumns = "id, account_id, period_start, period_end, leads_created, plan_limit, created_at, updated_at"

// Repository handles usage counter persistence. The quota gate is a single
// conditional update, never a read-then-write, so concurrent lead creation
// cannot overshoot the plan limit.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new usage counter repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetOrCreate returns the counter for the billing period containing at,
// creating it with the given plan limit when it does not exist yet. Joins
// the caller's transaction.
func (r *Repository) GetOrCreate(ctx context.Context, accountID string, at time.Time, planLimit int) (*models.UsageCounter, error) {
	ctx, span := tracing.StartSpan(ctx, "usage.Repository.GetOrCreate")
	defer span.End()

	periodStart, periodEnd := models.BillingPeriod(at)
	now := time.Now().UTC()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	ib := database.NewInsertBuilder()
	ib.InsertInto("usage_counters")
	ib.Cols("id", "account_id", "period_start", "period_end", "leads_created", "plan_limit", "created_at", "updated_at")
	ib.Values(uuid.New().String(), accountID, periodStart, periodEnd, 0, planLimit, now, now)
	ib.OnConflictDoNothing()

	query, args := ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create usage counter")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create usage counter")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(usageColumns)
	sb.From("usage_counters")
	sb.Where(
		sb.Equal("account_id", accountID),
		sb.Equal("period_start", periodStart),
	)

	query, args = sb.Build()
	var counter models.UsageCounter
	if err := tx.GetContext(ctx, &counter, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get usage counter")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get usage counter")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}
	return &counter, nil
}

// TryIncrement consumes one unit of the period's quota. Returns false when
// the counter is already at its plan limit. The check and the increment are
// one conditional update; joins the caller's transaction so a failed lead
// creation rolls the consumed unit back.
func (r *Repository) TryIncrement(ctx context.Context, accountID string, at time.Time) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "usage.Repository.TryIncrement")
	defer span.End()

	periodStart, _ := models.BillingPeriod(at)

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE usage_counters
		SET leads_created = leads_created + 1, updated_at = NOW()
		WHERE account_id = $1 AND period_start = $2 AND leads_created < plan_limit`

	result, err := tx.ExecContext(ctx, query, accountID, periodStart)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to increment usage counter")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to increment usage counter")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to increment usage counter")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to increment usage counter")
	}

	if err := tx.Commit(ctx); err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}
	return rows == 1, nil
}

// Current returns the counter for the billing period containing at, or nil
// when the account has not created any leads this period
func (r *Repository) Current(ctx context.Context, accountID string, at time.Time) (*models.UsageCounter, error) {
	ctx, span := tracing.StartSpan(ctx, "usage.Repository.Current")
	defer span.End()

	periodStart, _ := models.BillingPeriod(at)

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(usageColumns)
	sb.From("usage_counters")
	sb.Where(
		sb.Equal("account_id", accountID),
		sb.Equal("period_start", periodStart),
	)

	query, args := sb.Build()
	var counter models.UsageCounter
	if err := r.db.GetContext(ctx, &counter, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get usage counter")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get usage counter")
	}

	return &counter, nil
}
