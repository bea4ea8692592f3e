// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ticketstore_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bureau-foundation/wsaa/lib/clock"
	"github.com/bureau-foundation/wsaa/lib/ticketstore"
	"github.com/bureau-foundation/wsaa/lib/wsaa"
)

// newRedisStore connects to the server named by WSAA_TEST_REDIS_ADDR
// and returns a store under a per-test key prefix.
func newRedisStore(t *testing.T, sealing ticketstore.Sealing) (*ticketstore.Redis, *redis.Client) {
	t.Helper()
	address := os.Getenv("WSAA_TEST_REDIS_ADDR")
	if address == "" {
		t.Skip("WSAA_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: address})
	t.Cleanup(func() { client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis at %s unavailable: %v", address, err)
	}

	store, err := ticketstore.NewRedis(ticketstore.RedisConfig{
		Client:    client,
		KeyPrefix: fmt.Sprintf("wsaa-test:%s:%d", t.Name(), time.Now().UnixNano()),
		Sealing:   sealing,
		Clock:     clock.Fake(testNow),
	})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	return store, client
}

func TestRedisRoundTrip(t *testing.T) {
	store, client := newRedisStore(t, ticketstore.Sealing{})
	ctx := context.Background()
	ticket := testTicket("wslsp", wsaa.Testing, 12*time.Hour)

	if err := store.Save(ctx, ticket); err != nil {
		t.Fatalf("Save: %v", err)
	}
	t.Cleanup(func() { store.Delete(ctx, wsaa.Testing, "wslsp") })

	loaded, err := store.Load(ctx, wsaa.Testing, "wslsp")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	requireSameTicket(t, loaded, ticket)

	ttl, err := client.TTL(ctx, store.Key(wsaa.Testing, "wslsp")).Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 11*time.Hour || ttl > 12*time.Hour {
		t.Errorf("TTL = %v, want about 12h", ttl)
	}
}

func TestRedisMissingAndExpired(t *testing.T) {
	store, _ := newRedisStore(t, ticketstore.Sealing{})
	ctx := context.Background()

	ticket, err := store.Load(ctx, wsaa.Production, "mtxca")
	if err != nil || ticket != nil {
		t.Fatalf("Load of a missing key = %v, %v", ticket, err)
	}

	if err := store.Save(ctx, testTicket("mtxca", wsaa.Production, time.Hour)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	expired := testTicket("mtxca", wsaa.Production, -time.Minute)
	if err := store.Save(ctx, expired); err != nil {
		t.Fatalf("Save of expired ticket: %v", err)
	}
	ticket, err = store.Load(ctx, wsaa.Production, "mtxca")
	if err != nil || ticket != nil {
		t.Errorf("Load after saving an expired ticket = %v, %v", ticket, err)
	}
}

func TestRedisSealed(t *testing.T) {
	keypair := newKeypair(t)
	store, client := newRedisStore(t, ticketstore.Sealing{
		Recipients: []string{keypair.PublicKey},
		Identity:   keypair.PrivateKey,
	})
	ctx := context.Background()
	ticket := testTicket("wsfe", wsaa.Testing, time.Hour)
	if err := store.Save(ctx, ticket); err != nil {
		t.Fatalf("Save: %v", err)
	}
	t.Cleanup(func() { store.Delete(ctx, wsaa.Testing, "wsfe") })

	raw, err := client.Get(ctx, store.Key(wsaa.Testing, "wsfe")).Bytes()
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if string(raw[:len("age-encryption.org/v1")]) != "age-encryption.org/v1" {
		t.Error("stored value is not an age file")
	}
	loaded, err := store.Load(ctx, wsaa.Testing, "wsfe")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	requireSameTicket(t, loaded, ticket)
}

func TestRedisKeyAndConfig(t *testing.T) {
	if _, err := ticketstore.NewRedis(ticketstore.RedisConfig{}); err == nil {
		t.Error("NewRedis accepted a nil client")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	store, err := ticketstore.NewRedis(ticketstore.RedisConfig{Client: client})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	if key := store.Key(wsaa.Production, "wslsp"); key != "wsaa:ticket:production:wslsp" {
		t.Errorf("Key = %q", key)
	}
}
