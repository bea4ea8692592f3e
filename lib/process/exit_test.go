// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"testing"
)

func TestReport(t *testing.T) {
	var output bytes.Buffer
	report(&output, errors.New("wsaa: certificate not found"))
	if got := output.String(); got != "error: wsaa: certificate not found\n" {
		t.Errorf("report wrote %q", got)
	}
}
