// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds sensitive bytes (private key PEM, the plaintext
// ticket request being signed, decrypted ticket files) outside the Go
// heap.
//
// [Buffer] memory comes from an anonymous mmap region that is locked
// against swap and excluded from core dumps. Close zeroes and unmaps
// it; after Close any access panics. [ReadFile] moves a file's
// contents straight into a Buffer and zeroes the heap read buffer.
//
// Depends on golang.org/x/sys/unix only.
package secret
