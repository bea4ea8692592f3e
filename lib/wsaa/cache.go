// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsaa

import (
	"context"
	"sort"
	"sync"

	"github.com/bureau-foundation/wsaa/lib/clock"
)

// Cache holds at most one ticket per service, in memory. Lookups of
// expired tickets miss. Safe for concurrent use; the lock is never held
// across network calls.
type Cache struct {
	clock clock.Clock

	mu      sync.RWMutex
	tickets map[string]*AccessTicket
}

// NewCache returns an empty cache, judging expiry with clk.
func NewCache(clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.Real()
	}
	return &Cache{clock: clk, tickets: make(map[string]*AccessTicket)}
}

// Get returns the cached ticket for serviceID, or KindNoValidTicket when
// there is none or it has expired. The returned ticket must not be
// modified.
func (cache *Cache) Get(serviceID string) (*AccessTicket, error) {
	cache.mu.RLock()
	ticket := cache.tickets[serviceID]
	cache.mu.RUnlock()

	if ticket == nil {
		return nil, newError(KindNoValidTicket, "no ticket cached for %q", serviceID)
	}
	if now := cache.clock.Now(); !ticket.Valid(now) {
		return nil, newError(KindNoValidTicket, "cached ticket for %q expired at %s", serviceID, ticket.ExpirationTime)
	}
	return ticket, nil
}

// Put stores ticket under its ServiceID, replacing any previous entry.
func (cache *Cache) Put(ticket *AccessTicket) {
	cache.mu.Lock()
	cache.tickets[ticket.ServiceID] = ticket
	cache.mu.Unlock()
}

// Delete removes the entry for serviceID.
func (cache *Cache) Delete(serviceID string) {
	cache.mu.Lock()
	delete(cache.tickets, serviceID)
	cache.mu.Unlock()
}

// Snapshot returns every still-valid ticket, ordered by service id.
func (cache *Cache) Snapshot() []*AccessTicket {
	now := cache.clock.Now()
	cache.mu.RLock()
	tickets := make([]*AccessTicket, 0, len(cache.tickets))
	for _, ticket := range cache.tickets {
		if ticket.Valid(now) {
			tickets = append(tickets, ticket)
		}
	}
	cache.mu.RUnlock()
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].ServiceID < tickets[j].ServiceID })
	return tickets
}

// Persister stores tickets outside the process so they survive
// restarts or are shared between processes. Implementations are in
// lib/ticketstore.
type Persister interface {
	// Load returns the stored ticket, or (nil, nil) when there is none.
	Load(ctx context.Context, environment Environment, serviceID string) (*AccessTicket, error)

	// Save stores ticket, replacing any previous one for the same
	// environment and service.
	Save(ctx context.Context, ticket *AccessTicket) error
}
