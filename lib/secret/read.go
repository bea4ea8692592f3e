// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"fmt"
	"io"
	"os"
)

// MaxFileSize bounds ReadFile. Certificates, keys, and sealed ticket
// files are a few kilobytes.
const MaxFileSize = 1 << 20

// ReadFile reads the file at path into a protected buffer. The heap
// read buffer is zeroed before returning. Errors from os.Open are
// wrapped, so errors.Is(err, fs.ErrNotExist) works for callers that
// distinguish a missing file.
func ReadFile(path string) (*Buffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxFileSize+1))
	if err != nil {
		Zero(data)
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) > MaxFileSize {
		Zero(data)
		return nil, fmt.Errorf("%s exceeds %d bytes", path, MaxFileSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return NewFromBytes(data)
}
