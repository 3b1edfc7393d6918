// Package redis provides Redis-backed infrastructure for the integrations
// service.
//
// It exposes four components:
//   - Client: connection management with TLS, pooling, and retry logic
//   - Cache[T]: type-safe generic caching with TTL support
//   - TokenStore: provider OAuth token storage keyed by integration
//   - RateLimiter: distributed per-integration rate limiting using a
//     sliding window algorithm
//
// Initialize the client once at startup and share it between components:
//
//	client, err := redis.New(cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	limiter := redis.MustNewRateLimiter(client, "ratelimit:provider", 60, time.Minute, logger)
//	tokens := redis.MustNewTokenStore(client, logger)
//
// All operations are safe for concurrent use. Multi-step updates run in
// Lua scripts or MULTI/EXEC pipelines so concurrent instances of the
// service never observe partial state.
package redis
