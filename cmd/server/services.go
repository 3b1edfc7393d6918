package main

import (
	"time"

	"github.com/haulcrm/integrations/internal/app"
	"github.com/haulcrm/integrations/internal/config"
	"github.com/haulcrm/integrations/internal/infra/redis"
	"github.com/haulcrm/integrations/internal/infra/transport"
	"github.com/haulcrm/integrations/pkg/domain/integration"
	"github.com/haulcrm/integrations/pkg/domain/webhook"
	"github.com/haulcrm/integrations/pkg/logger"
	"github.com/haulcrm/integrations/pkg/validator"
)

// Services holds all service instances.
type Services struct {
	Integration *app.IntegrationService
	Sync        *app.SyncService
	Health      *app.HealthService
	Webhook     *app.WebhookService

	// Dispatcher owns in-flight webhook deliveries and retry timers.
	// Kept here so shutdown can drain it before the server stops.
	Dispatcher *app.Dispatcher
}

// ServiceDeps contains dependencies needed to create services.
type ServiceDeps struct {
	Config      *config.Config
	Log         *logger.Logger
	Repos       *Repositories
	RedisClient *redis.Client
}

// NewServices initializes all services.
func NewServices(deps *ServiceDeps) (*Services, error) {
	cfg := deps.Config
	log := deps.Log
	repos := deps.Repos

	catalog, err := integration.DefaultCatalog()
	if err != nil {
		return nil, err
	}

	tokens, err := redis.NewTokenStore(deps.RedisClient, log)
	if err != nil {
		return nil, err
	}

	adapters := newAdapterRegistry(cfg.Health.ProbeTimeout, tokens)
	clock := app.NewClock()
	sender := transport.NewHTTPSender(cfg.Delivery.AttemptTimeout)

	dispatcher := app.NewDispatcher(
		repos.Webhook,
		repos.Event,
		repos.Delivery,
		sender,
		clock,
		cfg.Delivery,
		log,
	)

	// Per-integration sync throttling. The per-key limit comes from each
	// integration's configured requests-per-minute; 60 is the fallback.
	syncLimiter, err := redis.NewRateLimiter(deps.RedisClient, "sync", 60, time.Minute, log)
	if err != nil {
		return nil, err
	}

	endpoints := validator.NewEndpointValidator(
		validator.WithAllowLocalhost(cfg.Delivery.AllowLocalEndpoints),
		validator.WithAllowInternalIPs(cfg.Delivery.AllowLocalEndpoints),
	)

	statsCache, err := redis.NewCache[webhook.Stats](deps.RedisClient, "webhook_stats", 30*time.Second)
	if err != nil {
		return nil, err
	}

	webhookSvc := app.NewWebhookService(
		repos.Webhook,
		repos.Event,
		repos.Delivery,
		repos.Integration,
		dispatcher,
		sender,
		endpoints,
		clock,
		log,
	)
	webhookSvc.SetStatsCache(statsCache)

	return &Services{
		Integration: app.NewIntegrationService(catalog, repos.Integration, adapters, dispatcher, log),
		Sync:        app.NewSyncService(repos.Integration, repos.SyncResult, adapters, syncLimiter, cfg.Health, log),
		Health:      app.NewHealthService(repos.Integration, repos.Health, adapters, cfg.Health, log),
		Webhook:    webhookSvc,
		Dispatcher: dispatcher,
	}, nil
}

// newAdapterRegistry wires a REST adapter per catalog template. Templates
// without a dedicated adapter fall back to the stub, which answers probes
// but refuses sync operations. OAuth providers read refreshed tokens from
// the store before falling back to the static config credential.
func newAdapterRegistry(timeout time.Duration, tokens transport.TokenSource) *transport.Registry {
	registry := transport.NewRegistry(transport.NewStubAdapter())

	registry.Register("quickbooks-online", transport.NewRESTAdapter(
		"https://quickbooks.api.intuit.com", timeout,
		transport.WithCredentialKey("access_token"),
		transport.WithTokenSource(tokens),
	))
	registry.Register("stripe", transport.NewRESTAdapter(
		"https://api.stripe.com", timeout,
		transport.WithCredentialKey("api_key"),
	))
	registry.Register("xero", transport.NewRESTAdapter(
		"https://api.xero.com", timeout,
		transport.WithCredentialKey("access_token"),
		transport.WithTokenSource(tokens),
	))
	registry.Register("kixie", transport.NewRESTAdapter(
		"https://apig.kixie.com", timeout,
		transport.WithCredentialKey("api_key"),
	))
	registry.Register("google-cloud", transport.NewRESTAdapter(
		"https://www.googleapis.com", timeout,
		transport.WithCredentialKey("access_token"),
		transport.WithTokenSource(tokens),
	))
	registry.Register("openai", transport.NewRESTAdapter(
		"https://api.openai.com", timeout,
		transport.WithCredentialKey("api_key"),
	))
	registry.Register("anthropic", transport.NewRESTAdapter(
		"https://api.anthropic.com", timeout,
		transport.WithCredentialKey("api_key"),
		transport.WithAuthHeader("x-api-key"),
	))

	return registry
}
