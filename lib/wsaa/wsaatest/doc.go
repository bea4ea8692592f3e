// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wsaatest provides test doubles for code built on lib/wsaa:
// throwaway signing certificates, an in-process LoginCms authority
// served over TLS, builders for authority response documents, and a
// static TicketSource.
package wsaatest
