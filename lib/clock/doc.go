// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by the ticket
// client.
//
// Ticket validation is entirely clock-driven: a ticket whose generation
// time lies in the future, or whose expiration time has passed, is
// rejected against the local clock. Production code takes a [Clock]
// and is wired with [Real]; tests wire [Fake] and move time explicitly
// with [FakeClock.Advance] or [FakeClock.Set], so expiry and retry
// delays are exercised without sleeping.
package clock
