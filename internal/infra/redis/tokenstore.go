package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haulcrm/integrations/pkg/logger"
)

const prefixProviderToken = "provider_token"

// TokenStore keeps provider OAuth tokens for integrations. Tokens live
// in Redis with a TTL derived from the provider's expiry so a crashed
// refresh never leaves a stale token behind.
type TokenStore struct {
	client *Client
	logger *logger.Logger
}

// NewTokenStore creates a new token store.
func NewTokenStore(client *Client, log *logger.Logger) (*TokenStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	return &TokenStore{
		client: client,
		logger: log,
	}, nil
}

// MustNewTokenStore creates a token store or panics on error.
func MustNewTokenStore(client *Client, log *logger.Logger) *TokenStore {
	ts, err := NewTokenStore(client, log)
	if err != nil {
		panic(fmt.Sprintf("failed to create token store: %v", err))
	}
	return ts
}

func providerTokenKey(integrationID string) string {
	return fmt.Sprintf("%s:%s", prefixProviderToken, integrationID)
}

// StoreToken stores an integration's provider tokens atomically.
func (ts *TokenStore) StoreToken(ctx context.Context, integrationID, accessToken, refreshToken string, ttl time.Duration) error {
	if integrationID == "" {
		return errors.New("integrationID is required")
	}
	if accessToken == "" {
		return errors.New("accessToken is required")
	}
	if ttl <= 0 {
		return errors.New("TTL must be positive")
	}

	key := providerTokenKey(integrationID)

	// Atomic transaction - all or nothing
	pipe := ts.client.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]string{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store provider token: %w", err)
	}

	ts.logger.Debug("provider token stored", "integration_id", integrationID, "ttl", ttl)
	return nil
}

// GetToken retrieves an integration's provider tokens. Returns
// ErrKeyNotFound if the token expired or was never stored.
func (ts *TokenStore) GetToken(ctx context.Context, integrationID string) (accessToken, refreshToken string, err error) {
	if integrationID == "" {
		return "", "", errors.New("integrationID is required")
	}

	data, err := ts.client.client.HGetAll(ctx, providerTokenKey(integrationID)).Result()
	if err != nil {
		return "", "", fmt.Errorf("get provider token: %w", err)
	}
	if len(data) == 0 {
		return "", "", ErrKeyNotFound
	}

	return data["access_token"], data["refresh_token"], nil
}

// RotateToken atomically replaces the stored tokens after a refresh.
func (ts *TokenStore) RotateToken(ctx context.Context, integrationID, accessToken, refreshToken string, ttl time.Duration) error {
	if integrationID == "" {
		return errors.New("integrationID is required")
	}
	if accessToken == "" {
		return errors.New("accessToken is required")
	}
	if ttl <= 0 {
		return errors.New("TTL must be positive")
	}

	key := providerTokenKey(integrationID)

	// Atomic transaction - old token never coexists with the new one
	pipe := ts.client.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]string{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotate provider token: %w", err)
	}

	ts.logger.Debug("provider token rotated", "integration_id", integrationID)
	return nil
}

// DeleteToken removes an integration's provider tokens, for example when
// the integration is disconnected or deleted.
func (ts *TokenStore) DeleteToken(ctx context.Context, integrationID string) error {
	if integrationID == "" {
		return errors.New("integrationID is required")
	}

	if err := ts.client.client.Del(ctx, providerTokenKey(integrationID)).Err(); err != nil {
		return fmt.Errorf("delete provider token: %w", err)
	}

	ts.logger.Debug("provider token deleted", "integration_id", integrationID)
	return nil
}

// HasToken checks whether a live token exists for the integration.
func (ts *TokenStore) HasToken(ctx context.Context, integrationID string) (bool, error) {
	if integrationID == "" {
		return false, errors.New("integrationID is required")
	}

	exists, err := ts.client.client.Exists(ctx, providerTokenKey(integrationID)).Result()
	if err != nil {
		return false, fmt.Errorf("check provider token: %w", err)
	}
	return exists > 0, nil
}
