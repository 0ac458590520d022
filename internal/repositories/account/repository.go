package account

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

// Repository handles account persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new account repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new account
func (r *Repository) Create(ctx context.Context, req models.CreateAccountRequest) (*models.Account, error) {
	ctx, span := tracing.StartSpan(ctx, "account.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method": "Create",
		"name":   req.Name,
	})

	now := time.Now().UTC()
	account := &models.Account{
		ID:            uuid.New().String(),
		Name:          req.Name,
		PlanLeadLimit: req.PlanLeadLimit,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("accounts")
	sb.Cols("id", "name", "plan_lead_limit", "active", "created_at", "updated_at")
	sb.Values(account.ID, account.Name, account.PlanLeadLimit, account.Active, account.CreatedAt, account.UpdatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to create account")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create account")
	}

	log.WithFields(map[string]any{"id": account.ID}).Info("Created account")
	return account, nil
}

// Get retrieves an account by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.Account, error) {
	ctx, span := tracing.StartSpan(ctx, "account.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "name", "plan_lead_limit", "active", "created_at", "updated_at")
	sb.From("accounts")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("account %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get account")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get account")
	}

	return &account, nil
}

// GetByID retrieves an account by ID, returning nil when it does not exist
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	ctx, span := tracing.StartSpan(ctx, "account.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "name", "plan_lead_limit", "active", "created_at", "updated_at")
	sb.From("accounts")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get account")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get account")
	}

	return &account, nil
}

// List retrieves all accounts
func (r *Repository) List(ctx context.Context, page, pageSize int) ([]models.Account, int, error) {
	ctx, span := tracing.StartSpan(ctx, "account.Repository.List")
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
	countSb.From("accounts")

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count accounts")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count accounts")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "name", "plan_lead_limit", "active", "created_at", "updated_at")
	sb.From("accounts")
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var accounts []models.Account
	if err := r.db.SelectContext(ctx, &accounts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list accounts")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list accounts")
	}

	return accounts, totalCount, nil
}

// Update applies the provided fields to an account
func (r *Repository) Update(ctx context.Context, id string, req models.UpdateAccountRequest) (*models.Account, error) {
	ctx, span := tracing.StartSpan(ctx, "account.Repository.Update")
	defer span.End()

	existing, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}
	if req.PlanLeadLimit != nil {
		existing.PlanLeadLimit = *req.PlanLeadLimit
	}
	if req.Active != nil {
		existing.Active = *req.Active
	}
	existing.UpdatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("accounts")
	sb.Set(
		sb.Assign("name", existing.Name),
		sb.Assign("plan_lead_limit", existing.PlanLeadLimit),
		sb.Assign("active", existing.Active),
		sb.Assign("updated_at", existing.UpdatedAt),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update account")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update account")
	}

	return existing, nil
}
