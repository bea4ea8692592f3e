// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"strings"
	"testing"
)

func TestReadResponse(t *testing.T) {
	data, err := ReadResponse(strings.NewReader("<soap:Envelope/>"))
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if string(data) != "<soap:Envelope/>" {
		t.Errorf("ReadResponse = %q", data)
	}
}

func TestReadResponse_TooLarge(t *testing.T) {
	body := bytes.NewReader(make([]byte, MaxResponseSize+1))
	if _, err := ReadResponse(body); err == nil {
		t.Fatal("ReadResponse accepted an oversized body")
	}
}

func TestReadResponse_ExactLimit(t *testing.T) {
	body := bytes.NewReader(make([]byte, MaxResponseSize))
	data, err := ReadResponse(body)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if int64(len(data)) != MaxResponseSize {
		t.Errorf("len = %d, want %d", len(data), MaxResponseSize)
	}
}
