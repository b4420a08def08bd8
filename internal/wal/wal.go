// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

// Package wal is the durable write-ahead log in front of publishing.
// Outbound messages are persisted to BadgerDB before the broker sees
// them; entries are confirmed after a successful publish and swept by
// compaction. Unconfirmed entries survive a crash and are republished
// on recovery.
package wal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/logging"
	"github.com/jcortesq/agromet/internal/metrics"
)

// ErrEntryNotFound is returned when the entry ID has no pending record.
var ErrEntryNotFound = errors.New("wal: entry not found")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("wal: closed")

const (
	prefixPending   = "pending:"
	prefixConfirmed = "confirmed:"

	compactionInterval = 5 * time.Minute
	valueLogGCRatio    = 0.5
)

// Entry is one logged outbound message.
type Entry struct {
	ID            string          `json:"id"`
	Topic         string          `json:"topic"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt time.Time       `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

// UnmarshalPayload deserializes the payload into v.
func (e *Entry) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Stats is a point-in-time snapshot for the monitoring surface.
type Stats struct {
	Pending       int64 `json:"pending"`
	Confirmed     int64 `json:"confirmed"`
	TotalWrites   int64 `json:"total_writes"`
	TotalConfirms int64 `json:"total_confirms"`
	LSMSizeBytes  int64 `json:"lsm_size_bytes"`
	VLogSizeBytes int64 `json:"vlog_size_bytes"`
}

// Log is the badger-backed write-ahead log.
type Log struct {
	db  *badger.DB
	cfg config.WALConfig

	pending       atomic.Int64
	totalWrites   atomic.Int64
	totalConfirms atomic.Int64

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// Open creates or reopens the log at the configured path and primes the
// pending count from disk. A background compactor sweeps confirmed
// entries and runs value-log GC.
func Open(cfg config.WALConfig) (*Log, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = true
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open wal at %s: %w", cfg.Path, err)
	}

	l := &Log{
		db:   db,
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	n, err := l.countPrefix(prefixPending)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	l.pending.Store(n)
	metrics.WALPending.Set(float64(n))

	go l.compactLoop()

	logging.Info().
		Str("path", cfg.Path).
		Int64("pending", n).
		Msg("Publish WAL opened")
	return l, nil
}

// Write persists the payload under a fresh entry ID before any publish
// attempt. The write is fsynced before Write returns.
func (l *Log) Write(ctx context.Context, topic string, payload any) (string, error) {
	if err := l.checkOpen(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("wal: marshal payload: %w", err)
	}
	e := &Entry{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.putEntry(prefixPending, e); err != nil {
		return "", err
	}
	l.pending.Add(1)
	l.totalWrites.Add(1)
	metrics.WALWrites.Inc()
	metrics.WALPending.Set(float64(l.pending.Load()))
	return e.ID, nil
}

// Confirm marks an entry as published: the pending record is replaced
// by a confirmed one, which compaction removes later.
func (l *Log) Confirm(ctx context.Context, entryID string) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	err := l.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixPending + entryID)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixConfirmed+entryID), raw); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}
	l.pending.Add(-1)
	l.totalConfirms.Add(1)
	metrics.WALPending.Set(float64(l.pending.Load()))
	return nil
}

// MarkAttempt records a failed publish attempt on a pending entry.
func (l *Log) MarkAttempt(ctx context.Context, entryID string, attemptErr error) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	return l.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixPending + entryID)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return err
		}
		var e Entry
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &e) }); err != nil {
			return err
		}
		e.Attempts++
		e.LastAttemptAt = time.Now().UTC()
		if attemptErr != nil {
			e.LastError = attemptErr.Error()
		}
		raw, err := json.Marshal(&e)
		if err != nil {
			return err
		}
		return txn.Set(key, raw)
	})
}

// Pending returns all unconfirmed entries oldest-first. Used on startup
// recovery and by the republish loop.
func (l *Log) Pending(ctx context.Context) ([]*Entry, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	var out []*Entry
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixPending)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var e Entry
			err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &e) })
			if err != nil {
				return err
			}
			out = append(out, &e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Compact deletes confirmed entries and runs value-log GC. Called
// periodically by the background loop; exposed for tests and shutdown.
func (l *Log) Compact(ctx context.Context) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	var keys [][]byte
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixConfirmed)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	wb := l.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return err
	}

	// Badger reports ErrNoRewrite when there is nothing to collect.
	if err := l.db.RunValueLogGC(valueLogGCRatio); err != nil &&
		!errors.Is(err, badger.ErrNoRewrite) {
		return err
	}
	if len(keys) > 0 {
		logging.Debug().Int("swept", len(keys)).Msg("WAL compaction")
	}
	return nil
}

// Stats returns a snapshot of the log's counters and on-disk size.
func (l *Log) Stats() Stats {
	if err := l.checkOpen(); err != nil {
		return Stats{}
	}
	lsm, vlog := l.db.Size()
	confirmed, _ := l.countPrefix(prefixConfirmed)
	return Stats{
		Pending:       l.pending.Load(),
		Confirmed:     confirmed,
		TotalWrites:   l.totalWrites.Load(),
		TotalConfirms: l.totalConfirms.Load(),
		LSMSizeBytes:  lsm,
		VLogSizeBytes: vlog,
	}
}

// Close stops the compactor and closes the database.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.stop)
	<-l.done
	return l.db.Close()
}

func (l *Log) checkOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return nil
}

func (l *Log) putEntry(prefix string, e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefix+e.ID), raw)
	})
}

func (l *Log) countPrefix(prefix string) (int64, error) {
	var n int64
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (l *Log) compactLoop() {
	defer close(l.done)
	ticker := time.NewTicker(compactionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if err := l.Compact(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
				logging.Error().Err(err).Msg("WAL compaction failed")
			}
		}
	}
}
