// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/deepresearch/internal/util"
)

// DefaultSQLiteFileName is the ledger database name inside the config directory.
const DefaultSQLiteFileName = "usage.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS usage (
    provider      TEXT PRIMARY KEY,
    day           TEXT NOT NULL,
    month         TEXT NOT NULL,
    daily_count   INTEGER NOT NULL DEFAULT 0,
    monthly_count INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore persists records in a single SQLite table. Transactions use
// BEGIN IMMEDIATE so the write lock is taken before the records are read.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the ledger database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("usage: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), util.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("create usage directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	// SQLite allows one writer; a single connection keeps BEGIN IMMEDIATE
	// and the statements that follow on the same handle.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init usage schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string { return s.path }

func loadRows(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}) (Records, error) {
	rows, err := q.QueryContext(ctx, `SELECT provider, day, month, daily_count, monthly_count FROM usage`)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	recs := make(Records)
	for rows.Next() {
		var provider string
		rec := &Record{}
		if err := rows.Scan(&provider, &rec.Day, &rec.Month, &rec.DailyCount, &rec.MonthlyCount); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		recs[provider] = rec
	}
	return recs, rows.Err()
}

// View implements Store.
func (s *SQLiteStore) View(ctx context.Context, fn func(Records) error) error {
	recs, err := loadRows(ctx, s.db)
	if err != nil {
		return err
	}
	return fn(recs)
}

// Transact implements Store.
func (s *SQLiteStore) Transact(ctx context.Context, fn func(Records) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire usage connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin usage transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			// Background context: the rollback must run even if ctx is done
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	recs, err := loadRows(ctx, conn)
	if err != nil {
		return err
	}
	if err := fn(recs); err != nil {
		return err
	}

	for provider, rec := range recs {
		if rec == nil {
			continue
		}
		_, err := conn.ExecContext(ctx, `
			INSERT INTO usage (provider, day, month, daily_count, monthly_count)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(provider) DO UPDATE SET
				day = excluded.day,
				month = excluded.month,
				daily_count = excluded.daily_count,
				monthly_count = excluded.monthly_count`,
			provider, rec.Day, rec.Month, rec.DailyCount, rec.MonthlyCount)
		if err != nil {
			return fmt.Errorf("write usage: %w", err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit usage: %w", err)
	}
	committed = true
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
