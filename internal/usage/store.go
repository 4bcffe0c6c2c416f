// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"context"
	"encoding/json"
	"sync"
)

// Store persists usage records.
//
// Transact runs fn against the current records and persists the mutated
// records only when fn returns nil. The whole load-fn-save sequence is
// exclusive with every other Transact on the same ledger. An error from fn
// is returned unchanged; a persistence failure is returned wrapped.
//
// View runs fn against a snapshot; changes are discarded.
type Store interface {
	View(ctx context.Context, fn func(Records) error) error
	Transact(ctx context.Context, fn func(Records) error) error
	Close() error
}

// decodeRecords parses a ledger document. Unreadable documents and null
// entries yield empty records.
func decodeRecords(data []byte) Records {
	recs := make(Records)
	if len(data) == 0 {
		return recs
	}
	if err := json.Unmarshal(data, &recs); err != nil {
		return make(Records)
	}
	for k, v := range recs {
		if v == nil {
			delete(recs, k)
		}
	}
	return recs
}

func encodeRecords(recs Records) ([]byte, error) {
	return json.MarshalIndent(recs, "", "  ")
}

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	recs Records
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(Records)}
}

// View implements Store.
func (m *MemoryStore) View(ctx context.Context, fn func(Records) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	snapshot := m.recs.Clone()
	m.mu.Unlock()
	return fn(snapshot)
}

// Transact implements Store.
func (m *MemoryStore) Transact(ctx context.Context, fn func(Records) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.recs.Clone()
	if err := fn(working); err != nil {
		return err
	}
	m.recs = working
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
