// Package v1 provides HTTP API version 1.
package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ledgerbridge/internal/domain/auth"
	"ledgerbridge/internal/domain/posting"
	"ledgerbridge/internal/infrastructure/http/v1/handlers"
	"ledgerbridge/internal/infrastructure/http/v1/middleware"
	"ledgerbridge/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	// AuthService for the token endpoint
	AuthService *auth.Service

	// Posting is usually the *posting.Engine
	Posting handlers.PostingService
	Claims  *posting.ClaimRegistry
	Breaker *posting.Breaker

	Flags handlers.FlagStore

	// Audit is optional; without it invoice lookups omit raw documents.
	Audit handlers.AuditHistory

	// HealthChecks are pinged by /health/ready.
	HealthChecks map[string]handlers.Pinger

	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace(cfg.Logger))
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.HealthChecks, cfg.Breaker)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	base := handlers.NewBaseHandler()

	v1 := router.Group("/api/v1")
	{
		authHandler := handlers.NewAuthHandler(base, cfg.AuthService)
		v1.POST("/auth/token", authHandler.Token)

		protected := v1.Group("")
		protected.Use(middleware.Auth(cfg.JWTValidator))
		protected.Use(middleware.RequireRole(auth.RoleOperator))

		registerInvoiceRoutes(protected, base, cfg)
		registerOperationsRoutes(protected, base, cfg)
	}

	return router
}

func registerInvoiceRoutes(r *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	h := handlers.NewInvoiceHandler(base, cfg.Posting, cfg.Claims, cfg.Audit)

	invoices := r.Group("/invoices")
	invoices.POST("", h.Post)
	invoices.POST("/validate", h.Validate)
	invoices.POST("/exists", h.Exists)
	invoices.GET("/:prefix/:number", h.Get)
}

func registerOperationsRoutes(r *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	h := handlers.NewOperationsHandler(base, cfg.Claims, cfg.Breaker, cfg.Flags)

	r.GET("/claims", h.Claims)
	r.GET("/breaker", h.Breaker)
	r.POST("/breaker/reset", h.ResetBreaker)
	r.GET("/flags", h.Flags)
	r.PUT("/flags/:name", h.SetFlag)
}
