// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP response reading for the
// authority client.
//
// SOAP responses from the authority are a few kilobytes. Reads are
// capped at MaxResponseSize. A body larger than the cap is an error,
// never a truncation.
package netutil

import (
	"fmt"
	"io"
)

// MaxResponseSize is the bound on response body reads: 4 MB.
const MaxResponseSize int64 = 4 << 20

// ReadResponse reads an HTTP response body up to MaxResponseSize bytes.
// Returns an error if the body is larger.
func ReadResponse(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > MaxResponseSize {
		return nil, fmt.Errorf("response body exceeds %d bytes", MaxResponseSize)
	}
	return data, nil
}
