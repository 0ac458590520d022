package audit

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	auditrepo "github.com/Ramsey-B/yarrow/internal/repositories/auditentry"
	"github.com/Ramsey-B/yarrow/pkg/context"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// Register registers audit routes
func Register(g *echo.Group) {
	g.GET("", ListAuditEntries)
}

// ListAuditEntries lists match decisions for an account, optionally
// filtered to one lead key. This is the export surface for compliance
// review of why each event landed where it did.
func ListAuditEntries(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "audit.ListAuditEntries")
	defer span.End()

	accountID := context.GetAccountID(ctx)

	ctx, repo, err := ectoinject.GetContext[*auditrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	var leadKey *string
	if lk := c.QueryParam("lead_key"); lk != "" {
		leadKey = &lk
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	items, total, err := repo.List(ctx, accountID, leadKey, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.AuditEntryListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}
