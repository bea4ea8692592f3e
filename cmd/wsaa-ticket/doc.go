// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// wsaa-ticket obtains Tickets of Access from the AFIP authentication
// service (WSAA) and prints them for use by billing and lookup clients.
//
// Configuration comes from --config or WSAA_CONFIG (see lib/config).
// Tickets are kept in the configured store between runs, so invoking
// the command from cron reuses a valid ticket instead of logging in
// again and tripping coe.alreadyAuthenticated.
package main
