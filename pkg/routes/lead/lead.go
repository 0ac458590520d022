package lead

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	leadrepo "github.com/Ramsey-B/yarrow/internal/repositories/lead"
	linkrepo "github.com/Ramsey-B/yarrow/internal/repositories/link"
	"github.com/Ramsey-B/yarrow/pkg/context"
	"github.com/Ramsey-B/yarrow/pkg/graph"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// Register registers lead routes
func Register(g *echo.Group) {
	g.GET("", ListLeads)
	g.GET("/:key", GetLead)
	g.GET("/:key/journey", GetLeadJourney)
	g.GET("/:key/related", GetRelatedLeads)
}

// ListLeads lists leads for an account
func ListLeads(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "lead.ListLeads")
	defer span.End()

	accountID := context.GetAccountID(ctx)

	ctx, repo, err := ectoinject.GetContext[*leadrepo.Repository](ctx)
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

	return c.JSON(http.StatusOK, models.LeadListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}

// GetLead gets a lead by its lead key
func GetLead(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "lead.GetLead")
	defer span.End()

	accountID := context.GetAccountID(ctx)
	key := c.Param("key")

	ctx, repo, err := ectoinject.GetContext[*leadrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	lead, err := repo.GetByKey(ctx, accountID, key)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, lead)
}

// JourneyResponse is a lead with its linked events in occurrence order
type JourneyResponse struct {
	Lead   *models.Lead             `json:"lead"`
	Events []models.NormalizedEvent `json:"events"`
	Links  []models.Link            `json:"links"`
}

// GetLeadJourney returns the lead's full journey: every linked event in
// ascending occurrence order plus the links that attached them
func GetLeadJourney(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "lead.GetLeadJourney")
	defer span.End()

	accountID := context.GetAccountID(ctx)
	key := c.Param("key")

	ctx, leads, err := ectoinject.GetContext[*leadrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	lead, err := leads.GetByKey(ctx, accountID, key)
	if err != nil {
		return err
	}

	ctx, links, err := ectoinject.GetContext[*linkrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	events, err := links.ListEventsByLead(ctx, accountID, lead.ID)
	if err != nil {
		return err
	}

	linkRows, err := links.ListByLead(ctx, accountID, lead.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, JourneyResponse{
		Lead:   lead,
		Events: events,
		Links:  linkRows,
	})
}

// GetRelatedLeads returns other leads whose events share a click
// identifier with this lead, answered from the journey graph
func GetRelatedLeads(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "lead.GetRelatedLeads")
	defer span.End()

	accountID := context.GetAccountID(ctx)
	key := c.Param("key")

	ctx, queries, err := ectoinject.GetContext[*graph.QueryService](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "graph queries not available")
	}

	result, err := queries.RelatedLeads(ctx, accountID, key)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}
