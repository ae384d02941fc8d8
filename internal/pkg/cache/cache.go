// Package cache provides Redis-backed ephemeral state for the ledger:
// cached bankroll view invalidation and the staging bet-slip store.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Client wraps a Redis client with ledger-specific helpers.
type Client struct {
	rdb               *redis.Client
	invalidateChannel string
}

// Connect opens and pings a Redis connection.
func Connect(ctx context.Context, addr, invalidateChannel string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info().Str("addr", addr).Msg("Connected to Redis")

	return &Client{rdb: rdb, invalidateChannel: invalidateChannel}, nil
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// HealthCheck pings Redis.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// bankrollKey is the cache key for a user's bankroll view.
func bankrollKey(userID, leagueID string, week int) string {
	return fmt.Sprintf("bankroll:%s:%s:%d", userID, leagueID, week)
}

// InvalidateBankroll drops the cached bankroll view and notifies subscribers
// (the out-of-scope caching layer) on the invalidation channel. Failures are
// logged, never propagated: the database remains the source of truth.
func (c *Client) InvalidateBankroll(ctx context.Context, userID, leagueID string, week int) {
	key := bankrollKey(userID, leagueID, week)

	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to drop cached bankroll")
	}
	if err := c.rdb.Publish(ctx, c.invalidateChannel, key).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to publish bankroll invalidation")
	}
}

// slipKey is the staging bet-slip key for a user within a league.
func slipKey(userID, leagueID string) string {
	return fmt.Sprintf("slip:%s:%s", userID, leagueID)
}

// SetSlip stores the serialized staging slip with a TTL. Staging slips carry
// no financial weight, so losing one to expiry is acceptable.
func (c *Client) SetSlip(ctx context.Context, userID, leagueID string, payload []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, slipKey(userID, leagueID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store staging slip: %w", err)
	}
	return nil
}

// GetSlip returns the serialized staging slip, or nil if none exists.
func (c *Client) GetSlip(ctx context.Context, userID, leagueID string) ([]byte, error) {
	payload, err := c.rdb.Get(ctx, slipKey(userID, leagueID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load staging slip: %w", err)
	}
	return payload, nil
}

// DeleteSlip removes the staging slip.
func (c *Client) DeleteSlip(ctx context.Context, userID, leagueID string) error {
	if err := c.rdb.Del(ctx, slipKey(userID, leagueID)).Err(); err != nil {
		return fmt.Errorf("failed to delete staging slip: %w", err)
	}
	return nil
}
