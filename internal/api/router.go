package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/app"
	iauth "github.com/oakhurst/backoffice/internal/auth"
	"github.com/oakhurst/backoffice/internal/handlers"
	"github.com/oakhurst/backoffice/internal/middleware"
	"github.com/oakhurst/backoffice/internal/notifications"
	"github.com/oakhurst/backoffice/internal/permissions"
)

// NewRouter builds the Gin engine, wires middleware, and registers the
// permission engine routes. The hub is optional; without it the websocket
// notification route is not mounted.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, hub *notifications.Hub) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	resolver, err := permissions.NewResolver(db, permissions.DefaultCatalog())
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	// Health endpoint (public)
	r.GET("/health", handlers.Health(db))

	// Protected routes
	api := r.Group("/api")
	api.Use(middleware.Auth(jwt))
	api.GET("/health", handlers.Health(db))

	if err := registerPermissionRoutes(api, db, resolver); err != nil {
		return nil, err
	}
	if err := registerOrganizationRoutes(api, db, resolver); err != nil {
		return nil, err
	}
	if err := registerConditionRoutes(api, db, resolver); err != nil {
		return nil, err
	}
	if err := registerDelegationRoutes(api, db, resolver); err != nil {
		return nil, err
	}
	if err := registerRequestRoutes(api, db, resolver); err != nil {
		return nil, err
	}
	if err := registerTemplateRoutes(api, db, resolver); err != nil {
		return nil, err
	}
	if err := registerUsageRoutes(api, db, resolver); err != nil {
		return nil, err
	}
	if err := registerAuditRoutes(api, db, resolver); err != nil {
		return nil, err
	}
	registerNotificationRoutes(api, hub)

	// Metrics endpoint
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
