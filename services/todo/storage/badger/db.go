// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger implements storage.Store on an embedded BadgerDB.
//
// This backend suits single-node installs that want no external database
// and no cgo. db.go opens the database and runs value log GC; store.go
// maps the todo table onto keys.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config describes where the todo database lives and how it is kept tidy.
type Config struct {
	Path     string // database directory, unused when InMemory
	InMemory bool

	// SyncWrites fsyncs every commit so an acknowledged todo survives a
	// crash.
	SyncWrites bool

	// Logger receives badger's own logs. Nil silences them.
	Logger *slog.Logger

	// GCInterval between value log GC passes. 0 disables GC.
	GCInterval time.Duration
	// GCDiscardRatio is passed to RunValueLogGC.
	GCDiscardRatio float64
}

// DefaultConfig returns the settings used by `todo serve` for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a throwaway in-memory database config.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// slogAdapter routes BadgerDB's printf-style logs to slog. Badger ends
// most messages with a newline, which is trimmed.
type slogAdapter struct {
	logger *slog.Logger
}

func newSlogAdapter(logger *slog.Logger) *slogAdapter {
	return &slogAdapter{logger: logger.With("component", "badger")}
}

func (a *slogAdapter) log(level slog.Level, format string, args []interface{}) {
	a.logger.Log(context.Background(), level, strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (a *slogAdapter) Errorf(format string, args ...interface{}) {
	a.log(slog.LevelError, format, args)
}

func (a *slogAdapter) Warningf(format string, args ...interface{}) {
	a.log(slog.LevelWarn, format, args)
}

func (a *slogAdapter) Infof(format string, args ...interface{}) {
	a.log(slog.LevelInfo, format, args)
}

func (a *slogAdapter) Debugf(format string, args ...interface{}) {
	a.log(slog.LevelDebug, format, args)
}

// openDB opens the database files (or memory) for cfg.
func openDB(cfg Config) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path == "":
		return nil, errors.New("badger: a path is required unless InMemory is set")
	default:
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badger: create %s: %w", cfg.Path, err)
		}
	}

	// One version per key: rows are overwritten in place on toggle.
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1).WithLogger(nil)
	if cfg.Logger != nil {
		opts = opts.WithLogger(newSlogAdapter(cfg.Logger))
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	return db, nil
}

// startGC runs value log GC every interval until the returned stop
// function is called. stop blocks until the loop has exited.
func startGC(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (stop func(), err error) {
	if interval <= 0 {
		return nil, fmt.Errorf("badger: GC interval must be positive, got %s", interval)
	}
	if ratio <= 0 || ratio >= 1 {
		return nil, fmt.Errorf("badger: GC discard ratio must be in (0, 1), got %v", ratio)
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collectGarbage(db, ratio, logger)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func collectGarbage(db *badger.DB, ratio float64, logger *slog.Logger) {
	switch err := db.RunValueLogGC(ratio); {
	case err == nil:
		logger.Debug("badger value log rewritten")
	case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
	default:
		logger.Warn("badger value log GC failed", "error", err)
	}
}

// update runs fn in a read-write transaction unless ctx is already done.
func update(ctx context.Context, db *badger.DB, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.Update(fn)
}

// view runs fn in a read-only transaction unless ctx is already done.
func view(ctx context.Context, db *badger.DB, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.View(fn)
}
