package account

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	accountrepo "github.com/Ramsey-B/yarrow/internal/repositories/account"
	"github.com/Ramsey-B/yarrow/pkg/database"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

var validate = validator.New()

// Register registers account routes
func Register(g *echo.Group) {
	g.POST("", CreateAccount)
	g.GET("", ListAccounts)
	g.GET("/:id", GetAccount)
	g.PUT("/:id", UpdateAccount)
	g.DELETE("/:id/data", DeleteAccountData)
}

// CreateAccount creates a new account
func CreateAccount(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "account.CreateAccount")
	defer span.End()

	var req models.CreateAccountRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, repo, err := ectoinject.GetContext[*accountrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	account, err := repo.Create(ctx, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, account)
}

// ListAccounts lists accounts
func ListAccounts(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "account.ListAccounts")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[*accountrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	items, total, err := repo.List(ctx, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.AccountListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}

// GetAccount gets an account by ID
func GetAccount(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "account.GetAccount")
	defer span.End()

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*accountrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	account, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, account)
}

// UpdateAccount updates an account's name, plan limit, or active flag
func UpdateAccount(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "account.UpdateAccount")
	defer span.End()

	id := c.Param("id")

	var req models.UpdateAccountRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, repo, err := ectoinject.GetContext[*accountrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	account, err := repo.Update(ctx, id, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, account)
}

// DeleteAccountData deletes all engine data for an account, keeping the
// account row itself. Intended for cleaning up test accounts.
func DeleteAccountData(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "account.DeleteAccountData")
	defer span.End()

	accountID := c.Param("id")
	if accountID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "account id is required")
	}

	ctx, db, err := ectoinject.GetContext[database.DB](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
	if logger != nil {
		logger.WithContext(ctx).WithFields(map[string]any{"account_id": accountID}).Info("Deleting all data for account")
	}

	counts := make(map[string]int64)

	// Delete in order respecting foreign key constraints:
	// links reference both events and leads.
	tables := []string{
		"links",
		"audit_entries",
		"match_jobs",
		"events",
		"leads",
		"usage_counters",
		"policies",
	}
	for _, table := range tables {
		result, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE account_id = $1", accountID)
		if err == nil {
			counts[table], _ = result.RowsAffected()
		}
	}

	if logger != nil {
		fields := map[string]any{"account_id": accountID}
		for k, v := range counts {
			fields[k] = v
		}
		logger.WithContext(ctx).WithFields(fields).Info("Account data deleted")
	}

	response := map[string]interface{}{
		"message":    "account data deleted",
		"account_id": accountID,
	}
	for k, v := range counts {
		response[k] = v
	}

	return c.JSON(http.StatusOK, response)
}
