// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ticketstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/wsaa/lib/secret"
	"github.com/bureau-foundation/wsaa/lib/wsaa"
)

// File stores tickets as files in one directory.
type File struct {
	directory string
	sealing   Sealing
}

var _ wsaa.Persister = (*File)(nil)

// NewFile creates directory (mode 0700) if needed and returns a store
// writing into it.
func NewFile(directory string, sealing Sealing) (*File, error) {
	if directory == "" {
		return nil, fmt.Errorf("ticketstore: directory is required")
	}
	if err := sealing.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, fmt.Errorf("ticketstore: creating %s: %w", directory, err)
	}
	return &File{directory: directory, sealing: sealing}, nil
}

// Path returns the file holding the ticket for environment and
// serviceID.
func (store *File) Path(environment wsaa.Environment, serviceID string) (string, error) {
	if err := wsaa.ValidateServiceID(serviceID); err != nil {
		return "", err
	}
	if _, err := wsaa.ParseEnvironment(string(environment)); err != nil {
		return "", err
	}
	return filepath.Join(store.directory, fmt.Sprintf("ticket_%s_%s.cbor", serviceID, environment)), nil
}

// Load reads the stored ticket. A missing file is (nil, nil).
func (store *File) Load(_ context.Context, environment wsaa.Environment, serviceID string) (*wsaa.AccessTicket, error) {
	path, err := store.Path(environment, serviceID)
	if err != nil {
		return nil, err
	}
	data, err := secret.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ticketstore: %w", err)
	}
	defer data.Close()
	ticket, err := store.sealing.decode(data.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return ticket, nil
}

// Save writes ticket atomically: a temporary file in the same
// directory is synced and renamed over the previous one.
func (store *File) Save(_ context.Context, ticket *wsaa.AccessTicket) error {
	path, err := store.Path(ticket.Environment, ticket.ServiceID)
	if err != nil {
		return err
	}
	data, err := store.sealing.encode(ticket)
	if err != nil {
		return err
	}
	defer secret.Zero(data)

	temporary, err := os.CreateTemp(store.directory, ".ticket-*.tmp")
	if err != nil {
		return fmt.Errorf("ticketstore: creating temporary file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.Remove(temporary.Name())
		}
	}()

	if err := temporary.Chmod(0o600); err != nil {
		temporary.Close()
		return fmt.Errorf("ticketstore: %w", err)
	}
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("ticketstore: writing %s: %w", temporary.Name(), err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		return fmt.Errorf("ticketstore: syncing %s: %w", temporary.Name(), err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("ticketstore: closing %s: %w", temporary.Name(), err)
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		return fmt.Errorf("ticketstore: replacing %s: %w", path, err)
	}
	committed = true
	return nil
}

// Delete removes the stored ticket. Deleting a missing ticket is not an
// error.
func (store *File) Delete(environment wsaa.Environment, serviceID string) error {
	path, err := store.Path(environment, serviceID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ticketstore: %w", err)
	}
	return nil
}
