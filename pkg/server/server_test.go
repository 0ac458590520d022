package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/yarrow/config"
	"github.com/Ramsey-B/yarrow/pkg/database"
	"github.com/Ramsey-B/yarrow/pkg/routes/health"
)

func testConfig() *config.Config {
	return &config.Config{
		AppName:       "yarrow-test",
		LogLevel:      "info",
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE"},
		TLSMinVersion: "TLS_1_2",
		TLSMaxVersion: "TLS_1_3",
	}
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// fakeDB embeds the interface so only PingContext needs an implementation.
type fakeDB struct {
	database.DB
}

func (f *fakeDB) PingContext(ctx context.Context) error { return nil }

type fakeRedis struct{}

func (f *fakeRedis) Ping(ctx context.Context) error { return nil }

const serverTestPolicy = `
name: server-test
attribution_mode: last_touch
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
`

func routeSet(e *echo.Echo) map[string]bool {
	paths := make(map[string]bool)
	for _, r := range e.Routes() {
		paths[r.Method+" "+r.Path] = true
	}
	return paths
}

func TestNew_RegistersRoutes(t *testing.T) {
	s := New(testConfig(), testLogger(), nil)
	paths := routeSet(s.Echo())

	assert.True(t, paths["POST /api/v1/accounts"])
	assert.True(t, paths["DELETE /api/v1/accounts/:id/data"])
	assert.True(t, paths["GET /api/v1/audit"])
	assert.True(t, paths["GET /api/v1/graph/journey/:key"])
	assert.True(t, paths["GET /api/v1/leads/:key/journey"])
	assert.True(t, paths["POST /api/v1/jobs"])
	assert.True(t, paths["POST /api/v1/policies/validate"])
	assert.True(t, paths["GET /api/v1/usage"])

	// Health endpoints only exist when a checker is wired in.
	assert.False(t, paths["GET /api/v1/health"])
}

func TestNew_MountsHealthChecker(t *testing.T) {
	checker := health.NewChecker(&fakeDB{}, &fakeRedis{}, nil, nil, "test")
	s := New(testConfig(), testLogger(), checker)

	paths := routeSet(s.Echo())
	assert.True(t, paths["GET /api/v1/health"])
	assert.True(t, paths["GET /api/v1/health/live"])
	assert.True(t, paths["GET /api/v1/health/ready"])

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/live", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RequestFlowsThroughMiddleware(t *testing.T) {
	s := New(testConfig(), testLogger(), nil)

	t.Run("DIFreeHandlerServes", func(t *testing.T) {
		body, err := json.Marshal(map[string]string{"document": serverTestPolicy})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/policies/validate", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		s.Echo().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"valid":true`)
	})

	t.Run("ErrorsRenderThroughHandler", func(t *testing.T) {
		// No DI container is attached, so the repository lookup fails and
		// the error handler should render the 500 envelope.
		req := httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
		rec := httptest.NewRecorder()

		s.Echo().ServeHTTP(rec, req)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "service unavailable")
		assert.Contains(t, rec.Body.String(), "request_id")
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/leads", nil)
		req.Header.Set(echo.HeaderOrigin, "http://example.com")
		req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodGet)
		rec := httptest.NewRecorder()

		s.Echo().ServeHTTP(rec, req)

		assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	})
}

func TestServer_LifecycleMetadata(t *testing.T) {
	s := New(testConfig(), testLogger(), nil, "database", "redis")

	assert.Equal(t, "http", s.GetName())
	assert.Equal(t, []string{"database", "redis"}, s.DependsOn())

	require.NoError(t, s.Stop(context.Background()))
}

func TestNewLogger(t *testing.T) {
	t.Run("ProductionLogger", func(t *testing.T) {
		logger, err := NewLogger(testConfig())
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("PrettyLogger", func(t *testing.T) {
		cfg := testConfig()
		cfg.PrettyLogs = true
		cfg.LogLevel = "debug"

		logger, err := NewLogger(cfg)
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		cfg := testConfig()
		cfg.LogLevel = "shout"

		_, err := NewLogger(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})
}
