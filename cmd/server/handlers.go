package main

import (
	"github.com/haulcrm/integrations/internal/infra/http/handler"
	"github.com/haulcrm/integrations/internal/infra/http/routes"
	"github.com/haulcrm/integrations/internal/infra/postgres"
	"github.com/haulcrm/integrations/internal/infra/redis"
	"github.com/haulcrm/integrations/pkg/logger"
	"github.com/haulcrm/integrations/pkg/validator"
)

// HandlerDeps contains dependencies needed to create handlers.
type HandlerDeps struct {
	Log         *logger.Logger
	Validator   *validator.Validator
	DB          *postgres.DB
	RedisClient *redis.Client
	Services    *Services
}

// NewHandlers creates all HTTP handlers.
func NewHandlers(deps *HandlerDeps) routes.Handlers {
	log := deps.Log
	v := deps.Validator
	svc := deps.Services

	return routes.Handlers{
		Health: handler.NewHealthHandler(
			handler.WithDatabase(deps.DB),
			handler.WithRedis(deps.RedisClient),
		),

		Template:          handler.NewTemplateHandler(svc.Integration, log),
		Integration:       handler.NewIntegrationHandler(svc.Integration, v, log),
		Sync:              handler.NewSyncHandler(svc.Sync, v, log),
		IntegrationHealth: handler.NewIntegrationHealthHandler(svc.Health, log),
		Webhook:           handler.NewWebhookHandler(svc.Webhook, v, log),
	}
}
