// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ticketstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bureau-foundation/wsaa/lib/clock"
	"github.com/bureau-foundation/wsaa/lib/wsaa"
)

// DefaultKeyPrefix is prepended to every Redis key.
const DefaultKeyPrefix = "wsaa:ticket"

// RedisConfig configures a Redis store.
type RedisConfig struct {
	// Client is the connection. Required. The store does not close it.
	Client redis.UniversalClient

	// KeyPrefix defaults to DefaultKeyPrefix.
	KeyPrefix string

	Sealing Sealing

	// Clock computes key TTLs. Defaults to clock.Real().
	Clock clock.Clock
}

// Redis stores tickets as Redis strings that expire with the ticket.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	sealing Sealing
	clock   clock.Clock
}

var _ wsaa.Persister = (*Redis)(nil)

// NewRedis returns a store using config.Client.
func NewRedis(config RedisConfig) (*Redis, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("ticketstore: redis client is required")
	}
	if err := config.Sealing.Validate(); err != nil {
		return nil, err
	}
	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Redis{client: config.Client, prefix: prefix, sealing: config.Sealing, clock: clk}, nil
}

// Key returns the Redis key for environment and serviceID.
func (store *Redis) Key(environment wsaa.Environment, serviceID string) string {
	return store.prefix + ":" + string(environment) + ":" + serviceID
}

// Load reads the stored ticket. A missing key is (nil, nil).
func (store *Redis) Load(ctx context.Context, environment wsaa.Environment, serviceID string) (*wsaa.AccessTicket, error) {
	key := store.Key(environment, serviceID)
	data, err := store.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("ticketstore: GET %s: %w", key, err)
	}
	ticket, err := store.sealing.decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w (key %s)", err, key)
	}
	return ticket, nil
}

// Save stores ticket with a TTL of its remaining validity. An already
// expired ticket removes the key instead.
func (store *Redis) Save(ctx context.Context, ticket *wsaa.AccessTicket) error {
	key := store.Key(ticket.Environment, ticket.ServiceID)
	ttl := ticket.Remaining(store.clock.Now())
	if ttl <= 0 {
		if err := store.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("ticketstore: DEL %s: %w", key, err)
		}
		return nil
	}
	data, err := store.sealing.encode(ticket)
	if err != nil {
		return err
	}
	if err := store.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("ticketstore: SET %s: %w", key, err)
	}
	return nil
}

// Delete removes the stored ticket.
func (store *Redis) Delete(ctx context.Context, environment wsaa.Environment, serviceID string) error {
	key := store.Key(environment, serviceID)
	if err := store.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("ticketstore: DEL %s: %w", key, err)
	}
	return nil
}
