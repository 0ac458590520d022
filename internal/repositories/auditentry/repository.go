package auditentry

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

const auditColumns = "id, account_id, lead_key, event_id, pass, matched_keys, reason, confidence, source_file, source_row, created_at"

// Repository handles audit entry persistence. Entries mirror links 1:1 but
// carry their own provenance so compliance exports survive lead cleanup.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new audit entry repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts an audit entry. Joins the caller's transaction so the entry
// commits atomically with its link.
func (r *Repository) Create(ctx context.Context, entry *models.AuditEntry) error {
	ctx, span := tracing.StartSpan(ctx, "auditentry.Repository.Create")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("audit_entries")
	sb.Cols("id", "account_id", "lead_key", "event_id", "pass", "matched_keys", "reason", "confidence", "source_file", "source_row", "created_at")
	sb.Values(entry.ID, entry.AccountID, entry.LeadKey, entry.EventID, entry.Pass, entry.MatchedKeys, entry.Reason, entry.Confidence, entry.SourceFile, entry.SourceRow, entry.CreatedAt)

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"account_id": entry.AccountID,
			"event_id":   entry.EventID,
		}).Error("Failed to create audit entry")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create audit entry")
	}

	return tx.Commit(ctx)
}

// List retrieves audit entries for an account in chronological order, the
// export shape. When leadKey is set only that lead's entries are returned.
func (r *Repository) List(ctx context.Context, accountID string, leadKey *string, page, pageSize int) ([]models.AuditEntry, int, error) {
	ctx, span := tracing.StartSpan(ctx, "auditentry.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("audit_entries")
	countWhere := []string{countSb.Equal("account_id", accountID)}
	if leadKey != nil {
		countWhere = append(countWhere, countSb.Equal("lead_key", *leadKey))
	}
	countSb.Where(countWhere...)

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count audit entries")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count audit entries")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(auditColumns)
	sb.From("audit_entries")
	where := []string{sb.Equal("account_id", accountID)}
	if leadKey != nil {
		where = append(where, sb.Equal("lead_key", *leadKey))
	}
	sb.Where(where...)
	sb.OrderBy("created_at ASC", "id ASC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var entries []models.AuditEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list audit entries")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list audit entries")
	}

	return entries, totalCount, nil
}
