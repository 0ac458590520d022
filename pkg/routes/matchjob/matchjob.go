package matchjob

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/yarrow/config"
	matchjobrepo "github.com/Ramsey-B/yarrow/internal/repositories/matchjob"
	policyrepo "github.com/Ramsey-B/yarrow/internal/repositories/policy"
	"github.com/Ramsey-B/yarrow/pkg/context"
	"github.com/Ramsey-B/yarrow/pkg/metrics"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/processor"
	"github.com/Ramsey-B/yarrow/pkg/redis"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// Register registers match job routes
func Register(g *echo.Group) {
	g.GET("", ListMatchJobs)
	g.GET("/:id", GetMatchJob)
	g.POST("", TriggerMatchJob)
}

// ListMatchJobs lists match jobs for an account
func ListMatchJobs(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "matchjob.ListMatchJobs")
	defer span.End()

	accountID := context.GetAccountID(ctx)

	ctx, repo, err := ectoinject.GetContext[*matchjobrepo.Repository](ctx)
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

	return c.JSON(http.StatusOK, models.MatchJobListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}

// GetMatchJob gets a match job with its summary counts and errors
func GetMatchJob(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "matchjob.GetMatchJob")
	defer span.End()

	accountID := context.GetAccountID(ctx)
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*matchjobrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	job, err := repo.Get(ctx, accountID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, job)
}

// TriggerMatchJob creates a match job over the account's unmatched backlog
// and enqueues it for the worker. Responds 202 with the queued job; the
// result lands on the job row. Triggers are rate limited per account.
func TriggerMatchJob(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "matchjob.TriggerMatchJob")
	defer span.End()

	accountID := context.GetAccountID(ctx)
	if accountID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "account_id is required")
	}

	var req models.CreateMatchJobRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx, cfg, err := ectoinject.GetContext[config.Config](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)

	// Rate limit fails open: a limiter outage should not stop job triggers
	ctx, limiter, err := ectoinject.GetContext[*redis.RateLimiter](ctx)
	if err == nil && limiter != nil {
		result, limitErr := limiter.Allow(ctx, "trigger:"+accountID, cfg.TriggerRateLimit, cfg.TriggerRateInterval)
		if limitErr != nil {
			if logger != nil {
				logger.WithContext(ctx).WithError(limitErr).Warn("Rate limiter unavailable, allowing trigger")
			}
		} else if !result.Allowed {
			metrics.RecordRateLimitHit(accountID, "trigger")
			c.Response().Header().Set("Retry-After", strconv.Itoa(int(result.RetryIn.Seconds())+1))
			return httperror.NewHTTPError(http.StatusTooManyRequests, "trigger rate limit exceeded")
		}
	}

	// A pinned policy must exist before we queue work against it
	if req.PolicyID != nil {
		ctx2, policies, err := ectoinject.GetContext[*policyrepo.Repository](ctx)
		if err != nil {
			return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
		}
		ctx = ctx2
		if _, err := policies.Get(ctx, accountID, *req.PolicyID); err != nil {
			return err
		}
	}

	ctx, repo, err := ectoinject.GetContext[*matchjobrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	job, err := repo.Create(ctx, accountID, req)
	if err != nil {
		return err
	}

	ctx, streams, err := ectoinject.GetContext[*redis.Streams](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if _, err := processor.EnqueueMatchJob(ctx, streams, cfg.JobStream, accountID, job.ID); err != nil {
		if logger != nil {
			logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"job_id": job.ID}).Error("Failed to enqueue match job")
		}
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to enqueue match job")
	}

	if logger != nil {
		logger.WithContext(ctx).WithFields(map[string]any{"job_id": job.ID}).Info("Match job triggered")
	}

	return c.JSON(http.StatusAccepted, job)
}
