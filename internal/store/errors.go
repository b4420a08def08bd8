// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package store

import (
	"errors"
	"fmt"
)

// ErrOutOfOrder is returned when an appended sample does not strictly
// advance its station's timestamp high-water mark. The sample is
// discarded; no record is written.
var ErrOutOfOrder = errors.New("sample timestamp out of order")

// ErrStoreFull is returned when an append would push an entity table
// past the configured soft capacity threshold.
var ErrStoreFull = errors.New("store soft capacity reached")

// ErrNotFound is returned by mutations targeting an id that does not exist.
var ErrNotFound = errors.New("record not found")

// StorageError wraps an underlying I/O or driver failure. Callers must
// treat it as transient and retry per the scheduler's policy.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// storageErr wraps err as a *StorageError unless it is nil or already a
// domain error that must pass through unchanged.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOutOfOrder) || errors.Is(err, ErrStoreFull) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
