// Package api is the HTTP surface: webhook ingress, async review submission
// and status, review listings, SSE chunk streams, and manual publication.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/reviewpilot/internal/dispatch"
	"github.com/reviewpilot/internal/providers"
	"github.com/reviewpilot/internal/review"
	"github.com/reviewpilot/internal/scan"
	"github.com/reviewpilot/internal/store"
)

// ServerConfig is the subset of application config the HTTP layer needs.
type ServerConfig struct {
	Host string
	Port int

	// APIKeys guards POST /webhooks. Entries starting with "$2" are bcrypt
	// hashes, anything else compares as a plain key.
	APIKeys         []string
	WebhooksEnabled bool

	// JobTimeout bounds the synchronous stream endpoints.
	JobTimeout time.Duration
}

// Dependencies are the collaborators the handlers call into.
type Dependencies struct {
	Producer    dispatch.Producer
	Status      store.StatusStore
	Idempotency store.IdempotencyStore
	Archive     store.ReviewArchive
	Providers   providers.Registry
	Reviews     *review.Service
	Scanner     scan.Scanner
}

// Server wires the handlers to their collaborators.
type Server struct {
	echo *echo.Echo
	cfg  ServerConfig
	deps Dependencies
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo: e,
		cfg:  cfg,
		deps: deps,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	s.echo.POST("/webhooks", s.handleWebhook, s.requireAPIKey)

	v1 := s.echo.Group("/api/v1")

	v1.POST("/async-reviews/:provider/:repoId/change-requests/:n", s.submitAsyncReview)
	v1.GET("/async-reviews/:requestId/status", s.getReviewStatus)
	v1.GET("/async-reviews/:requestId", s.getReviewByID)

	v1.GET("/reviews/issues/:issueId", s.getIssue)
	v1.GET("/reviews/:provider/repositories", s.listRepositories)
	v1.GET("/reviews/:provider/:repoId/change-requests", s.listChangeRequests)
	v1.GET("/reviews/:provider/:repoId/change-requests/:n/stream", s.streamReview)
	v1.GET("/reviews/:provider/:repoId/change-requests/:n/stream-and-publish", s.streamAndPublishReview)
	v1.POST("/reviews/:provider/:repoId/change-requests/:n/review", s.publishReview)
}

// Handler exposes the echo instance for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// errorEnvelope is the JSON shape for non-validation errors.
func errorEnvelope(c echo.Context, status int, kind, message string) error {
	return c.JSON(status, map[string]interface{}{
		"error":   kind,
		"message": message,
	})
}
