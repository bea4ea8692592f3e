// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); got != "wsaa-client/"+Version {
		t.Errorf("UserAgent() = %q", got)
	}
}

func TestInfoContainsVersion(t *testing.T) {
	if !strings.HasPrefix(Info(), Version+" (") {
		t.Errorf("Info() = %q, want prefix %q", Info(), Version)
	}
}
