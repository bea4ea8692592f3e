// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsaatest

import (
	"context"
	"sync"

	"github.com/bureau-foundation/wsaa/lib/wsaa"
)

// StaticSource is a wsaa.TicketSource that serves fixed tickets.
type StaticSource struct {
	mu      sync.Mutex
	tickets map[string]*wsaa.AccessTicket
	calls   map[string]int
}

// NewStaticSource returns a source serving tickets by their ServiceID.
func NewStaticSource(tickets ...*wsaa.AccessTicket) *StaticSource {
	source := &StaticSource{
		tickets: make(map[string]*wsaa.AccessTicket),
		calls:   make(map[string]int),
	}
	for _, ticket := range tickets {
		source.tickets[ticket.ServiceID] = ticket
	}
	return source
}

// Ticket returns the ticket for serviceID or KindNoValidTicket.
func (source *StaticSource) Ticket(_ context.Context, serviceID string) (*wsaa.AccessTicket, error) {
	source.mu.Lock()
	defer source.mu.Unlock()
	source.calls[serviceID]++
	ticket, ok := source.tickets[serviceID]
	if !ok {
		return nil, &wsaa.Error{Kind: wsaa.KindNoValidTicket, Message: "no static ticket for " + serviceID}
	}
	return ticket, nil
}

// Set adds or replaces a ticket.
func (source *StaticSource) Set(ticket *wsaa.AccessTicket) {
	source.mu.Lock()
	source.tickets[ticket.ServiceID] = ticket
	source.mu.Unlock()
}

// Calls returns how many times Ticket was called for serviceID.
func (source *StaticSource) Calls(serviceID string) int {
	source.mu.Lock()
	defer source.mu.Unlock()
	return source.calls[serviceID]
}

var _ wsaa.TicketSource = (*StaticSource)(nil)
