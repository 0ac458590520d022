// Package server assembles the HTTP application: the echo instance, its
// middleware chain, and every route group under /api/v1. It implements
// startup.StartupDependency so the deployment harness can sequence the
// listener after the backends it serves from.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/Ramsey-B/yarrow/config"
	"github.com/Ramsey-B/yarrow/pkg/middleware"
	accountroutes "github.com/Ramsey-B/yarrow/pkg/routes/account"
	auditroutes "github.com/Ramsey-B/yarrow/pkg/routes/audit"
	graphroutes "github.com/Ramsey-B/yarrow/pkg/routes/graph"
	"github.com/Ramsey-B/yarrow/pkg/routes/health"
	leadroutes "github.com/Ramsey-B/yarrow/pkg/routes/lead"
	matchjobroutes "github.com/Ramsey-B/yarrow/pkg/routes/matchjob"
	policyroutes "github.com/Ramsey-B/yarrow/pkg/routes/policy"
	usageroutes "github.com/Ramsey-B/yarrow/pkg/routes/usage"
)

// NewLogger builds the application logger from config. Pretty logs use zap's
// development encoder; everything else gets production JSON.
func NewLogger(cfg *config.Config) (ectologger.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level '%s': %w", cfg.LogLevel, err)
	}
	zcfg.Level = level

	zapLogger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

// Server wraps the assembled echo application with a start/stop lifecycle.
type Server struct {
	echo      *echo.Echo
	cfg       *config.Config
	logger    ectologger.Logger
	checker   *health.Checker
	dependsOn []string
}

// New builds the echo application. The health checker may be nil; its
// endpoints are only mounted when one is provided. dependsOn names the
// startup dependencies the listener waits on.
func New(cfg *config.Config, logger ectologger.Logger, checker *health.Checker, dependsOn ...string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Context())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes
	e.Server.TLSConfig = &tls.Config{
		MinVersion: tlsVersion(cfg.TLSMinVersion),
		MaxVersion: tlsVersion(cfg.TLSMaxVersion),
	}

	if checker != nil {
		checker.RegisterRoutes(e)
	}

	api := e.Group("/api/v1")
	accountroutes.Register(api.Group("/accounts"))
	auditroutes.Register(api.Group("/audit"))
	graphroutes.Register(api.Group("/graph"))
	leadroutes.Register(api.Group("/leads"))
	matchjobroutes.Register(api.Group("/jobs"))
	policyroutes.Register(api.Group("/policies"))
	usageroutes.Register(api.Group("/usage"))

	return &Server{
		echo:      e,
		cfg:       cfg,
		logger:    logger,
		checker:   checker,
		dependsOn: dependsOn,
	}
}

// Echo exposes the underlying echo instance for handler tests and for
// harnesses that mount extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) GetName() string {
	return "http"
}

func (s *Server) DependsOn() []string {
	return s.dependsOn
}

// Start begins serving in the background and flips the health checker to
// ready. Listen errors after a clean shutdown are expected and dropped.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithContext(ctx).WithError(err).Error("HTTP server stopped unexpectedly")
		}
	}()

	if s.checker != nil {
		s.checker.SetReady(true)
	}

	return nil
}

// Stop marks the service not ready, then drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	if s.checker != nil {
		s.checker.SetReady(false)
	}

	return s.echo.Shutdown(ctx)
}

func tlsVersion(name string) uint16 {
	switch name {
	case "TLS_1_3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
