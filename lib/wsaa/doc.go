// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wsaa obtains Tickets of Access (TA) from the AFIP
// authentication and authorization service (WSAA, LoginCms).
//
// Acquiring a ticket is a five-step pipeline, each step a separate
// type so it can be tested in isolation:
//
//   - [BuildRequest] produces the loginTicketRequest (TRA) for a service:
//     source and destination DNs, a 32-bit uniqueId, and a validity
//     window clamped to 24 hours.
//   - [Signer] wraps the TRA in a CMS SignedData envelope with the
//     signer certificate attached, using SHA-1 as the authority requires.
//   - [Transport] posts the base64 envelope to LoginCms inside a SOAP 1.2
//     request with a hard deadline.
//   - [ValidateResponse] extracts either a SOAP fault or the
//     loginTicketResponse, and fails closed on anything missing,
//     unparsable, expired, or generated in the future.
//   - [Classify] maps authority fault codes to a retry verdict.
//
// [Client] ties the pipeline together. [Client.ObtainTicket] always
// performs a fresh login; [Client.Ticket] serves a still-valid ticket
// from the [Cache] (or an optional [Persister]) and logs in only when
// none is available. Concurrent requests for the same service share one
// login, because the authority rejects a second login for a service
// whose ticket is still valid (coe.alreadyAuthenticated). Requests for
// different services proceed independently.
//
// The client never retries on its own. Every failure is an [*Error]
// carrying a [Kind], and authority faults carry the original code,
// description, and the advisory retry delay. Callers decide whether to
// wait and call again.
package wsaa
