package policy

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/yarrow/config"
	policyrepo "github.com/Ramsey-B/yarrow/internal/repositories/policy"
	appctx "github.com/Ramsey-B/yarrow/pkg/context"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/policy"
	"github.com/Ramsey-B/yarrow/pkg/processor"
	"github.com/Ramsey-B/yarrow/pkg/redis"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// Register registers policy routes
func Register(g *echo.Group) {
	g.GET("", ListPolicies)
	g.GET("/:id", GetPolicy)
	g.POST("", CreatePolicy)
	g.PUT("/:id", UpdatePolicy)
	g.DELETE("/:id", DeletePolicy)
	g.POST("/validate", ValidatePolicy)
}

// ListPolicies lists policies for an account
func ListPolicies(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "policy.ListPolicies")
	defer span.End()

	accountID := appctx.GetAccountID(ctx)

	ctx, repo, err := ectoinject.GetContext[*policyrepo.Repository](ctx)
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

	items, total, err := repo.List(ctx, accountID, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.PolicyListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}

// GetPolicy gets a policy by ID
func GetPolicy(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "policy.GetPolicy")
	defer span.End()

	accountID := appctx.GetAccountID(ctx)
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*policyrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	stored, err := repo.Get(ctx, accountID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, stored)
}

// CreatePolicy creates a new policy. The document is validated before it
// is stored; creating it active enqueues an account-wide attribution
// recompute under its mode.
func CreatePolicy(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "policy.CreatePolicy")
	defer span.End()

	accountID := appctx.GetAccountID(ctx)

	var req models.CreatePolicyRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Name == "" || req.Document == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "name and document are required")
	}

	cfg, err := policy.Parse([]byte(req.Document))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, repo, err := ectoinject.GetContext[*policyrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	created, err := repo.Create(ctx, accountID, req)
	if err != nil {
		return err
	}

	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
	if logger != nil {
		logger.WithContext(ctx).WithFields(map[string]any{
			"id":     created.ID,
			"active": created.Active,
		}).Info("Created policy")
	}

	if created.Active {
		enqueueRecompute(ctx, accountID, string(cfg.AttributionMode), logger)
	}

	return c.JSON(http.StatusCreated, created)
}

// UpdatePolicy updates a policy. A changed document is re-validated; a
// policy that ends up active enqueues a recompute under its current mode.
func UpdatePolicy(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "policy.UpdatePolicy")
	defer span.End()

	accountID := appctx.GetAccountID(ctx)
	id := c.Param("id")

	var req models.UpdatePolicyRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Document != nil {
		if _, err := policy.Parse([]byte(*req.Document)); err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	ctx, repo, err := ectoinject.GetContext[*policyrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	updated, err := repo.Update(ctx, accountID, id, req)
	if err != nil {
		return err
	}

	if updated.Active {
		if cfg, err := policy.Parse([]byte(updated.Document)); err == nil {
			ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
			enqueueRecompute(ctx, accountID, string(cfg.AttributionMode), logger)
		}
	}

	return c.JSON(http.StatusOK, updated)
}

// DeletePolicy soft-deletes a policy
func DeletePolicy(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "policy.DeletePolicy")
	defer span.End()

	accountID := appctx.GetAccountID(ctx)
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*policyrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := repo.Delete(ctx, accountID, id); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// ValidateRequest is the request body for validating a policy document
type ValidateRequest struct {
	Document string `json:"document" validate:"required"`
}

// ValidateResponse is the validation outcome for a policy document
type ValidateResponse struct {
	Valid  bool           `json:"valid"`
	Errors []string       `json:"errors,omitempty"`
	Policy *policy.Config `json:"policy,omitempty"`
}

// ValidatePolicy validates a policy document without storing it. A
// malformed document is a 200 with valid=false; only a bad request shape
// is an error.
func ValidatePolicy(c echo.Context) error {
	_, span := tracing.StartSpan(c.Request().Context(), "policy.ValidatePolicy")
	defer span.End()

	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Document == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "document is required")
	}

	cfg, err := policy.Parse([]byte(req.Document))
	if err != nil {
		return c.JSON(http.StatusOK, ValidateResponse{
			Valid:  false,
			Errors: []string{err.Error()},
		})
	}

	return c.JSON(http.StatusOK, ValidateResponse{
		Valid:  true,
		Policy: cfg,
	})
}

// enqueueRecompute publishes an account-wide attribution recompute.
// Best-effort: a publish failure leaves stored attribution stale until the
// next match job, which is recoverable, so the policy write still succeeds.
func enqueueRecompute(ctx context.Context, accountID, mode string, logger ectologger.Logger) {
	ctx, streams, err := ectoinject.GetContext[*redis.Streams](ctx)
	if err != nil {
		return
	}
	ctx, cfg, err := ectoinject.GetContext[config.Config](ctx)
	if err != nil {
		return
	}

	if _, err := processor.EnqueueRecompute(ctx, streams, cfg.JobStream, accountID, mode); err != nil && logger != nil {
		logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"account_id": accountID,
			"mode":       mode,
		}).Warn("Failed to enqueue attribution recompute")
	}
}
