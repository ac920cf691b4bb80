// Package api provides the HTTP API server for Portside. It uses the
// Echo framework to serve the panel's REST endpoints: instance lifecycle
// operations, node and image administration, and authentication.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/portside/portside/internal/audit"
	"github.com/portside/portside/internal/auth"
	"github.com/portside/portside/internal/config"
	"github.com/portside/portside/internal/reconciler"
	"github.com/portside/portside/internal/store"
)

// Server represents the Portside API server.
type Server struct {
	echo       *echo.Echo
	store      *store.Store
	reconciler *reconciler.Reconciler
	audit      *audit.Logger
	config     *config.Config
	jwtService *auth.JWTService
	authMiddle *auth.Middleware
	access     *auth.Checker
}

// RequestValidator adapts go-playground/validator to Echo's Validator
// interface.
type RequestValidator struct {
	validate *validator.Validate
}

// Validate implements echo.Validator.
func (v *RequestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return BadRequestError("Validation failed", err.Error())
	}
	return nil
}

// debugLog logs a message only if debug mode is enabled in config
func (s *Server) debugLog(format string, args ...interface{}) {
	if s.config.Server.Debug {
		log.Printf(format, args...)
	}
}

// New creates a new API server instance. All collaborators are injected
// by the composition root in the server command.
func New(cfg *config.Config, st *store.Store, rec *reconciler.Reconciler, auditLog *audit.Logger) *Server {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Server.Debug
	e.HTTPErrorHandler = HTTPErrorHandler
	e.Validator = &RequestValidator{validate: validator.New()}

	server := &Server{
		echo:       e,
		store:      st,
		reconciler: rec,
		audit:      auditLog,
		config:     cfg,
		jwtService: auth.NewJWTService(cfg),
		authMiddle: auth.NewMiddleware(cfg),
		access:     auth.NewChecker(st),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))

	s.echo.Use(middleware.Recover())

	s.echo.Use(SecurityHeaders)

	if len(s.config.Security.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.Security.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	s.echo.Use(middleware.RequestID())

	if s.config.Security.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(s.config.Security.RateLimit),
		)))
	}

	s.echo.Use(ValidateContentType)
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	// Health check
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/", s.healthCheck)

	v1 := s.echo.Group("/api/v1")

	// Authentication
	v1.POST("/auth/login", s.login)
	v1.GET("/auth/me", s.me, s.authMiddle.RequireAuth)

	// Instance routes
	instances := v1.Group("/instances", s.authMiddle.RequireAuth)
	instances.GET("", s.listInstances)
	instances.GET("/:id", s.getInstance)
	instances.POST("/:id/reinstall", s.reinstallInstance)
	instances.PUT("/:id", s.editInstance, s.authMiddle.RequireAdmin)
	instances.GET("/:id/startup", s.instanceStartup)
	instances.POST("/:id/startup/variable", s.changeInstanceVariable)
	instances.POST("/:id/name", s.renameInstance)
	instances.POST("/:id/image", s.changeInstanceImage)

	// Node administration
	nodes := v1.Group("/nodes", s.authMiddle.RequireAuth, s.authMiddle.RequireAdmin)
	nodes.GET("", s.listNodes)
	nodes.POST("", s.createNode)
	nodes.GET("/:id", s.getNode)
	nodes.DELETE("/:id", s.deleteNode)

	// Image catalog
	v1.GET("/images", s.listImages, s.authMiddle.RequireAuth)
	v1.PUT("/images", s.updateImages, s.authMiddle.RequireAuth, s.authMiddle.RequireAdmin)

	// Users and audit trail
	v1.POST("/users", s.createUser, s.authMiddle.RequireAuth, s.authMiddle.RequireAdmin)
	v1.GET("/audit", s.listAudit, s.authMiddle.RequireAuth, s.authMiddle.RequireAdmin)
}

// healthCheck handles GET /health
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "portside",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.echo.Server.ReadTimeout = s.config.Server.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.Server.WriteTimeout

	if s.config.Server.TLSEnabled {
		return s.echo.StartTLS(addr, s.config.Server.TLSCert, s.config.Server.TLSKey)
	}
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
