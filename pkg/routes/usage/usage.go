package usage

import (
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	accountrepo "github.com/Ramsey-B/yarrow/internal/repositories/account"
	usagerepo "github.com/Ramsey-B/yarrow/internal/repositories/usage"
	"github.com/Ramsey-B/yarrow/pkg/context"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// Register registers usage routes
func Register(g *echo.Group) {
	g.GET("", GetCurrentUsage)
}

// UsageResponse is the current billing-period usage for an account
type UsageResponse struct {
	AccountID    string    `json:"account_id"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
	LeadsCreated int       `json:"leads_created"`
	PlanLimit    int       `json:"plan_limit"`
	Remaining    int       `json:"remaining"`
}

// GetCurrentUsage returns the account's lead usage for the current billing
// period. An account with no counter yet simply has not created a lead
// this period, so the response is synthesized rather than written.
func GetCurrentUsage(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "usage.GetCurrentUsage")
	defer span.End()

	accountID := context.GetAccountID(ctx)
	if accountID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "account_id is required")
	}

	ctx, usages, err := ectoinject.GetContext[*usagerepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	now := time.Now().UTC()
	counter, err := usages.Current(ctx, accountID, now)
	if err != nil {
		return err
	}

	if counter != nil {
		return c.JSON(http.StatusOK, UsageResponse{
			AccountID:    counter.AccountID,
			PeriodStart:  counter.PeriodStart,
			PeriodEnd:    counter.PeriodEnd,
			LeadsCreated: counter.LeadsCreated,
			PlanLimit:    counter.PlanLimit,
			Remaining:    counter.Remaining(),
		})
	}

	ctx, accounts, err := ectoinject.GetContext[*accountrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	acct, err := accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if acct == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "account not found")
	}

	periodStart, periodEnd := models.BillingPeriod(now)
	return c.JSON(http.StatusOK, UsageResponse{
		AccountID:    accountID,
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		LeadsCreated: 0,
		PlanLimit:    acct.PlanLeadLimit,
		Remaining:    acct.PlanLeadLimit,
	})
}
