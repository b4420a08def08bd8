// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package ingest

import "fmt"

// IngestError marks a transient source failure. The scheduler retries
// the tick with backoff when it sees one.
type IngestError struct {
	Op  string
	Err error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Op, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

func ingestErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IngestError{Op: op, Err: err}
}
