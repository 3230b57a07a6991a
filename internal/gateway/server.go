// Package gateway provides the HTTP ingestion surface for gated.
//
// Inbound webhooks are verified, classified, and admitted here; the run
// itself proceeds asynchronously so external callers are never blocked on
// the full pipeline.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/classify"
	"github.com/fyrsmithlabs/gated/internal/config"
	"github.com/fyrsmithlabs/gated/internal/logging"
	"github.com/fyrsmithlabs/gated/internal/pipeline"
	"github.com/fyrsmithlabs/gated/internal/registry"
	"github.com/fyrsmithlabs/gated/internal/signature"
)

// Signature headers consulted, in order.
var signatureHeaders = []string{
	"X-Webhook-Signature",
	"X-Hub-Signature-256",
	"X-Gitea-Signature",
}

// Server is the webhook gateway.
type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	sched  *pipeline.Scheduler
	reg    *registry.Registry
	logger *logging.Logger

	limiter  *ipLimiter
	requests *prometheus.CounterVec
	gatherer prometheus.Gatherer
}

// NewServer creates a gateway server.
func NewServer(cfg *config.Config, sched *pipeline.Scheduler, reg *registry.Registry, promReg *prometheus.Registry, logger *logging.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if sched == nil {
		return nil, fmt.Errorf("scheduler cannot be nil")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry is required for run queries")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// A wrong method on a known path answers the same 404 as an unknown
	// path; callers learn nothing about the route table.
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if he, ok := err.(*echo.HTTPError); ok && he.Code == http.StatusMethodNotAllowed {
			err = echo.ErrNotFound
		}
		e.DefaultHTTPErrorHandler(err, c)
	}

	s := &Server{
		echo:    e,
		cfg:     cfg,
		sched:   sched,
		reg:     reg,
		logger:  logger.Named("gateway"),
		limiter: newIPLimiter(),
	}

	if promReg != nil {
		s.gatherer = promReg
		s.requests = promauto.With(promReg).NewCounterVec(prometheus.CounterOpts{
			Name: "gated_webhook_requests_total",
			Help: "Gateway HTTP requests by endpoint and status.",
		}, []string{"endpoint", "status"})
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(strconv.FormatInt(cfg.Server.MaxBodyBytes, 10)))
	e.Use(s.requestLogger)

	s.registerRoutes()

	return s, nil
}

// requestLogger logs every request and feeds the request counter.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()

		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(c.Request().Context(), requestID)
		c.SetRequest(c.Request().WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		status := c.Response().Status
		s.logger.Info(ctx, "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		)

		if s.requests != nil {
			s.requests.WithLabelValues(c.Path(), strconv.Itoa(status)).Inc()
		}

		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.POST("/webhook/validation", s.handleWebhook)
	s.echo.POST("/webhook/netlify", s.handleWebhook)

	s.echo.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/runs", s.handleRuns)
	v1.GET("/runs/:id", s.handleRun)
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AdmittedResponse is the body returned on successful webhook admission.
type AdmittedResponse struct {
	RunID   string           `json:"run_id"`
	Trigger classify.Trigger `json:"trigger"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	ActiveRuns int    `json:"active_runs"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:     "ok",
		ActiveRuns: s.reg.ActiveCount(),
	})
}

// handleWebhook is the verification, classification, and admission path.
// The response acknowledges admission only; the run outcome is delivered
// via notifications and the runs API.
func (s *Server) handleWebhook(c echo.Context) error {
	ctx := c.Request().Context()

	if !s.limiter.allow(c.RealIP()) {
		s.logger.Warn(ctx, "rate limit exceeded", zap.String("ip", c.RealIP()))
		return c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read body"})
	}

	if !s.verifySignature(c, body) {
		s.logger.Warn(ctx, "webhook signature rejected", zap.String("ip", c.RealIP()))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid signature"})
	}

	trigger, cctx, err := classify.Classify(c.Request().Header, body)
	if err != nil {
		s.logger.Warn(ctx, "unclassifiable payload", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid payload"})
	}

	runID, err := s.sched.Start(trigger, cctx, s.cfg.Stages, nil)
	if err != nil {
		if errors.Is(err, registry.ErrBusy) {
			return c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "orchestrator busy, retry later"})
		}
		s.logger.Error(ctx, "failed to start run", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}

	s.logger.Info(ctx, "run admitted",
		zap.String("run_id", runID),
		zap.String("trigger", string(trigger)),
	)

	return c.JSON(http.StatusOK, AdmittedResponse{RunID: runID, Trigger: trigger})
}

// verifySignature applies the configured signature policy. Strict mode
// (the default) rejects unsigned requests; permissive mode lets them
// through for local development.
func (s *Server) verifySignature(c echo.Context, body []byte) bool {
	var provided string
	for _, header := range signatureHeaders {
		if v := c.Request().Header.Get(header); v != "" {
			provided = v
			break
		}
	}

	if provided == "" {
		return s.cfg.Server.AllowUnsigned
	}

	return signature.Verify(body, provided, s.cfg.Server.WebhookSecret.Value())
}

func (s *Server) handleRuns(c echo.Context) error {
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
		}
		limit = n
	}

	return c.JSON(http.StatusOK, s.reg.Recent(limit))
}

func (s *Server) handleRun(c echo.Context) error {
	report, ok := s.reg.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found"})
	}
	return c.JSON(http.StatusOK, report)
}

// ServeHTTP makes the server usable with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting gateway", zap.String("addr", s.cfg.Server.ListenAddr))
	return s.echo.Start(s.cfg.Server.ListenAddr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down gateway")
	return s.echo.Shutdown(ctx)
}
