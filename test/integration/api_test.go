package integration

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/yarrow/pkg/context"
	"github.com/Ramsey-B/yarrow/pkg/middleware"
	"github.com/Ramsey-B/yarrow/pkg/policy"
	policyroutes "github.com/Ramsey-B/yarrow/pkg/routes/policy"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// TestAPIHelpers wires a real echo instance with yarrow's request context
// and error middleware, so handlers under test see production plumbing.
type TestAPIHelpers struct {
	t         *testing.T
	e         *echo.Echo
	accountID string
}

func NewTestAPIHelpers(t *testing.T) *TestAPIHelpers {
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(testLogger())
	e.Use(middleware.Context())

	return &TestAPIHelpers{
		t:         t,
		e:         e,
		accountID: "a1b2c3d4-0000-0000-0000-000000000001",
	}
}

func (h *TestAPIHelpers) MakeRequest(method, path string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderAccountID, h.accountID)

	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

func (h *TestAPIHelpers) Decode(rec *httptest.ResponseRecorder, into any) {
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), into))
}

func TestRequestContextMiddleware(t *testing.T) {
	h := NewTestAPIHelpers(t)

	h.e.GET("/whoami", func(c echo.Context) error {
		ctx := c.Request().Context()
		return c.JSON(http.StatusOK, map[string]string{
			"account_id": context.GetAccountID(ctx),
			"request_id": context.GetRequestID(ctx),
		})
	})

	t.Run("AccountHeaderPropagates", func(t *testing.T) {
		rec := h.MakeRequest(http.MethodGet, "/whoami", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		h.Decode(rec, &body)
		assert.Equal(t, h.accountID, body["account_id"])
		assert.NotEmpty(t, body["request_id"], "request id should be generated when absent")
	})

	t.Run("RequestIDHeaderHonored", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(echo.HeaderXRequestID, "req-42")
		rec := httptest.NewRecorder()
		h.e.ServeHTTP(rec, req)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "req-42", body["request_id"])
	})
}

func TestErrorHandlerMapping(t *testing.T) {
	h := NewTestAPIHelpers(t)

	h.e.GET("/missing", func(c echo.Context) error {
		return httperror.NewHTTPError(http.StatusNotFound, "lead L-000042 not found")
	})
	h.e.GET("/broken", func(c echo.Context) error {
		return errors.New("database exploded")
	})

	t.Run("HTTPErrorStatusAndMessage", func(t *testing.T) {
		rec := h.MakeRequest(http.MethodGet, "/missing", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)

		var body middleware.ErrorResponse
		h.Decode(rec, &body)
		assert.Equal(t, "lead L-000042 not found", body.Message)
		assert.NotEmpty(t, body.RequestID)
	})

	t.Run("PlainErrorHiddenBehind500", func(t *testing.T) {
		rec := h.MakeRequest(http.MethodGet, "/broken", nil)
		require.Equal(t, http.StatusInternalServerError, rec.Code)

		var body middleware.ErrorResponse
		h.Decode(rec, &body)
		assert.Equal(t, "Internal Server Error", body.Message)
		assert.NotContains(t, rec.Body.String(), "database exploded")
	})
}

const validPolicyDocument = `
name: integration
attribution_mode: paid_last
windows:
  phone_exact: 30
  email_exact: 30
  click_chain: 30
  fuzzy_match: 7
weights:
  phone_exact: 100
  email_exact: 90
  click_chain: 70
  fuzzy_match: 50
tie_breakers:
  - call_over_form
  - latest_event_time
`

func TestPolicyValidateEndpoint(t *testing.T) {
	h := NewTestAPIHelpers(t)
	h.e.POST("/api/v1/policies/validate", policyroutes.ValidatePolicy)

	t.Run("ValidDocument", func(t *testing.T) {
		rec := h.MakeRequest(http.MethodPost, "/api/v1/policies/validate", policyroutes.ValidateRequest{
			Document: validPolicyDocument,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var body policyroutes.ValidateResponse
		h.Decode(rec, &body)
		assert.True(t, body.Valid)
		assert.Empty(t, body.Errors)
		require.NotNil(t, body.Policy)
		assert.Equal(t, "integration", body.Policy.Name)
		assert.Equal(t, policy.AttributionPaidLast, body.Policy.AttributionMode)
		assert.Equal(t, 30, body.Policy.Windows.PhoneExact)
	})

	t.Run("InvalidDocumentIsStill200", func(t *testing.T) {
		rec := h.MakeRequest(http.MethodPost, "/api/v1/policies/validate", policyroutes.ValidateRequest{
			Document: "name: broken\nattribution_mode: last_touch\nwindows:\n  phone_exact: 30\n",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var body policyroutes.ValidateResponse
		h.Decode(rec, &body)
		assert.False(t, body.Valid)
		require.NotEmpty(t, body.Errors)
		assert.Contains(t, body.Errors[0], "weights is required")
		assert.Nil(t, body.Policy)
	})

	t.Run("UnknownAttributionMode", func(t *testing.T) {
		rec := h.MakeRequest(http.MethodPost, "/api/v1/policies/validate", policyroutes.ValidateRequest{
			Document: "name: broken\nattribution_mode: biggest_spend\n",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var body policyroutes.ValidateResponse
		h.Decode(rec, &body)
		assert.False(t, body.Valid)
		require.NotEmpty(t, body.Errors)
		assert.Contains(t, body.Errors[0], "biggest_spend")
	})

	t.Run("MissingDocumentIs400", func(t *testing.T) {
		rec := h.MakeRequest(http.MethodPost, "/api/v1/policies/validate", policyroutes.ValidateRequest{})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var body middleware.ErrorResponse
		h.Decode(rec, &body)
		assert.Equal(t, "document is required", body.Message)
	})
}

// TestFullMatchLifecycle exercises the whole flow against live backends.
func TestFullMatchLifecycle(t *testing.T) {
	t.Skip("Requires running Postgres, Redis, and Memgraph")

	// 1. Create an account with a plan limit
	// 2. Store and activate a policy
	// 3. Stage normalized events for an import
	// 4. Trigger a match job and wait for completion
	// 5. Assert leads, links, and audit entries
	// 6. Assert usage counter incremented and limit enforced
	// 7. Query the lead journey from Postgres and the graph projection
}

func BenchmarkPolicyParse(b *testing.B) {
	doc := []byte(validPolicyDocument)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := policy.Parse(doc); err != nil {
			b.Fatal(err)
		}
	}
}
