// Package routes registers all HTTP routes for the API.
// Routes are organized by domain for maintainability.
package routes

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	infrahttp "github.com/haulcrm/integrations/internal/infra/http"
	"github.com/haulcrm/integrations/internal/infra/http/handler"
)

// Middleware is an alias to the http package's Middleware type.
type Middleware = infrahttp.Middleware

// Router is an alias to the http package's Router interface.
type Router = infrahttp.Router

// Handlers holds all HTTP handlers for route registration.
type Handlers struct {
	Health            *handler.HealthHandler
	Template          *handler.TemplateHandler
	Integration       *handler.IntegrationHandler
	Sync              *handler.SyncHandler
	IntegrationHealth *handler.IntegrationHealthHandler
	Webhook           *handler.WebhookHandler
}

// Register registers all application routes.
// This keeps route definitions in the infrastructure layer, not in main.
func Register(router Router, h Handlers) {
	registerHealthRoutes(router, h.Health)
	registerTemplateRoutes(router, h.Template)
	registerIntegrationRoutes(router, h.Integration, h.Sync, h.IntegrationHealth)
	registerWebhookRoutes(router, h.Webhook)

	if h.IntegrationHealth != nil {
		router.GET("/api/v1/health/integrations", h.IntegrationHealth.List)
	}
}

// registerHealthRoutes registers health check endpoints.
func registerHealthRoutes(router Router, h *handler.HealthHandler) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
}

// registerTemplateRoutes registers the read-only template catalog.
func registerTemplateRoutes(router Router, h *handler.TemplateHandler) {
	if h == nil {
		return
	}

	router.Group("/api/v1/templates", func(r Router) {
		r.GET("/", h.List)
		r.GET("/{id}", h.Get)
	})
}

// registerIntegrationRoutes registers integration lifecycle, sync and
// health endpoints.
func registerIntegrationRoutes(
	router Router,
	h *handler.IntegrationHandler,
	sync *handler.SyncHandler,
	health *handler.IntegrationHealthHandler,
) {
	if h == nil {
		return
	}

	router.Group("/api/v1/integrations", func(r Router) {
		r.GET("/", h.List)
		r.POST("/", h.Create)
		r.GET("/{id}", h.Get)
		r.PATCH("/{id}", h.Update)
		r.DELETE("/{id}", h.Delete)

		if sync != nil {
			r.POST("/{id}/test", sync.TestConnection)
			r.POST("/{id}/sync", sync.Sync)
			r.GET("/{id}/sync-results", sync.ListSyncResults)
			r.POST("/{id}/operations/{operation}", sync.ExecuteOperation)
		}

		if health != nil {
			r.GET("/{id}/health", health.Get)
			r.POST("/{id}/health/check", health.Check)
		}
	})
}

// registerWebhookRoutes registers webhook management, delivery history
// and stats endpoints.
func registerWebhookRoutes(router Router, h *handler.WebhookHandler) {
	if h == nil {
		return
	}

	router.Group("/api/v1/webhooks", func(r Router) {
		r.GET("/", h.List)
		r.POST("/", h.Create)

		r.POST("/secret", h.GenerateSecret)
		r.POST("/verify-signature", h.VerifySignature)
		r.GET("/{id}", h.Get)
		r.PATCH("/{id}", h.Update)
		r.DELETE("/{id}", h.Delete)

		r.POST("/{id}/trigger", h.Trigger)
		r.POST("/{id}/test", h.Test)
		r.POST("/{id}/retry-failed", h.RetryFailed)

		r.GET("/{id}/events", h.ListEvents)
		r.GET("/{id}/deliveries", h.ListDeliveries)
		r.GET("/{id}/stats", h.Stats)
	})

	router.GET("/api/v1/webhook-events/{id}/deliveries", h.ListEventDeliveries)
}
