// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations the ticket client depends on.
// Production code injects Real(); tests inject Fake().
//
// Code that calls time.Now or time.After directly cannot be tested for
// expiry behavior without real waiting. Accept a Clock instead.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. If d <= 0, the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time
}
