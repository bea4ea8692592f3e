// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern used when a test waits on a goroutine, so individual tests do
// not call time.After directly. They are the only place tests use
// wall-clock timeouts; everything else runs on clock.Fake.
//
// Helpers call t.Fatalf on failure rather than returning errors.
package testutil
