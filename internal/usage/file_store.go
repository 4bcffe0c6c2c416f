// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/jeranaias/deepresearch/internal/util"
)

// DefaultFileName is the ledger file name inside the config directory.
const DefaultFileName = "usage_stats.json"

// lockRetryDelay is how often a blocked caller retries the file lock.
const lockRetryDelay = 20 * time.Millisecond

// FileStore persists records as a JSON document:
//
//	{"tavily": {"day": "2025-01-15", "month": "2025-01", "daily_count": 3, "monthly_count": 41}}
//
// Writers hold an exclusive lock on a sibling ".lock" file so separate
// processes sharing the ledger are serialized too.
type FileStore struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// NewFileStore creates a store at path, creating the parent directory.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("usage: empty ledger path")
	}
	if err := os.MkdirAll(filepath.Dir(path), util.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("create usage directory: %w", err)
	}
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Path returns the ledger path.
func (s *FileStore) Path() string { return s.path }

// load reads the ledger. A missing or corrupt file yields empty records;
// any other read failure is returned.
func (s *FileStore) load() (Records, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(Records), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read usage ledger: %w", err)
	}
	return decodeRecords(data), nil
}

// View implements Store.
func (s *FileStore) View(ctx context.Context, fn func(Records) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock usage ledger: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock usage ledger: %w", ctx.Err())
	}
	recs, err := s.load()
	_ = s.lock.Unlock()
	if err != nil {
		return err
	}
	return fn(recs)
}

// Transact implements Store.
func (s *FileStore) Transact(ctx context.Context, fn func(Records) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock usage ledger: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock usage ledger: %w", ctx.Err())
	}
	defer func() { _ = s.lock.Unlock() }()

	recs, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(recs); err != nil {
		return err
	}

	data, err := encodeRecords(recs)
	if err != nil {
		return fmt.Errorf("encode usage ledger: %w", err)
	}
	// RELIABILITY: temp file + rename so a crash never leaves a torn ledger
	if err := util.AtomicWriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write usage ledger: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	if err := s.lock.Close(); err != nil && !errors.Is(err, fs.ErrClosed) {
		return err
	}
	return nil
}
