package policy

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

const policyColumns = "id, account_id, name, document, active, created_at, updated_at, deleted_at"

// Repository handles policy document persistence. At most one policy per
// account is active; activating a policy deactivates the others in the same
// transaction.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new policy repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new policy
func (r *Repository) Create(ctx context.Context, accountID string, req models.CreatePolicyRequest) (*models.Policy, error) {
	ctx, span := tracing.StartSpan(ctx, "policy.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":     "Create",
		"account_id": accountID,
		"name":       req.Name,
	})

	now := time.Now().UTC()
	policy := &models.Policy{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Name:      req.Name,
		Document:  req.Document,
		Active:    req.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	if policy.Active {
		if err := r.deactivateAll(ctx, tx, accountID); err != nil {
			return nil, err
		}
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("policies")
	sb.Cols("id", "account_id", "name", "document", "active", "created_at", "updated_at")
	sb.Values(policy.ID, policy.AccountID, policy.Name, policy.Document, policy.Active, policy.CreatedAt, policy.UpdatedAt)

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to create policy")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create policy")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}

	log.WithFields(map[string]any{"id": policy.ID}).Info("Created policy")
	return policy, nil
}

// Get retrieves a policy by ID
func (r *Repository) Get(ctx context.Context, accountID, id string) (*models.Policy, error) {
	ctx, span := tracing.StartSpan(ctx, "policy.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(policyColumns)
	sb.From("policies")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("account_id", accountID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var policy models.Policy
	if err := r.db.GetContext(ctx, &policy, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("policy %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get policy")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get policy")
	}

	return &policy, nil
}

// GetActive retrieves the account's active policy, or nil when none is set
func (r *Repository) GetActive(ctx context.Context, accountID string) (*models.Policy, error) {
	ctx, span := tracing.StartSpan(ctx, "policy.Repository.GetActive")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(policyColumns)
	sb.From("policies")
	sb.Where(
		sb.Equal("account_id", accountID),
		sb.Equal("active", true),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("updated_at DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var policy models.Policy
	if err := r.db.GetContext(ctx, &policy, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get active policy")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get active policy")
	}

	return &policy, nil
}

// List retrieves all policies for an account
func (r *Repository) List(ctx context.Context, accountID string, page, pageSize int) ([]models.Policy, int, error) {
	ctx, span := tracing.StartSpan(ctx, "policy.Repository.List")
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
	countSb.From("policies")
	countSb.Where(
		countSb.Equal("account_id", accountID),
		countSb.IsNull("deleted_at"),
	)

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count policies")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count policies")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(policyColumns)
	sb.From("policies")
	sb.Where(
		sb.Equal("account_id", accountID),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var policies []models.Policy
	if err := r.db.SelectContext(ctx, &policies, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list policies")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list policies")
	}

	return policies, totalCount, nil
}

// Update updates a policy
func (r *Repository) Update(ctx context.Context, accountID, id string, req models.UpdatePolicyRequest) (*models.Policy, error) {
	ctx, span := tracing.StartSpan(ctx, "policy.Repository.Update")
	defer span.End()

	existing, err := r.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}
	if req.Document != nil {
		existing.Document = *req.Document
	}
	if req.Active != nil {
		existing.Active = *req.Active
	}
	existing.UpdatedAt = time.Now().UTC()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	if req.Active != nil && *req.Active {
		if err := r.deactivateAll(ctx, tx, accountID); err != nil {
			return nil, err
		}
	}

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("policies")
	sb.Set(
		sb.Assign("name", existing.Name),
		sb.Assign("document", existing.Document),
		sb.Assign("active", existing.Active),
		sb.Assign("updated_at", existing.UpdatedAt),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("account_id", accountID),
	)

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update policy")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update policy")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}

	return existing, nil
}

// Delete soft deletes a policy
func (r *Repository) Delete(ctx context.Context, accountID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "policy.Repository.Delete")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("policies")
	sb.Set(
		sb.Assign("deleted_at", now),
		sb.Assign("active", false),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("account_id", accountID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete policy")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete policy")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("policy %s not found", id))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Deleted policy")
	return nil
}

func (r *Repository) deactivateAll(ctx context.Context, tx database.Tx, accountID string) error {
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("policies")
	sb.Set(sb.Assign("active", false))
	sb.Where(
		sb.Equal("account_id", accountID),
		sb.Equal("active", true),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to deactivate policies")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to deactivate policies")
	}
	return nil
}
