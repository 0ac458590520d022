package graph

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/yarrow/pkg/context"
	graphpkg "github.com/Ramsey-B/yarrow/pkg/graph"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// Register registers graph exploration routes
func Register(g *echo.Group) {
	g.GET("/journey/:key", GetProjectedJourney)
}

// GetProjectedJourney returns a lead's journey as stored in the graph
// projection. Postgres remains the source of truth; this endpoint reads
// the Memgraph copy, so it doubles as a way to spot projection drift.
// @Summary Get projected lead journey
// @Description Read a lead's journey from the graph projection
// @Tags Graph
// @Produce json
// @Param key path string true "Lead key"
// @Success 200 {object} graphpkg.QueryResult
// @Failure 503 {object} httperror.HTTPError
// @Router /api/v1/graph/journey/{key} [get]
func GetProjectedJourney(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "graph.GetProjectedJourney")
	defer span.End()

	accountID := context.GetAccountID(ctx)
	key := c.Param("key")

	ctx, queries, err := ectoinject.GetContext[*graphpkg.QueryService](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "graph queries not available")
	}

	result, err := queries.LeadJourney(ctx, accountID, key)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}
