// AutomatedAVScanner
// Copyright (c) 2026 The AutomatedAVScanner Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of AutomatedAVScanner.
//
// AutomatedAVScanner is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// AutomatedAVScanner is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with AutomatedAVScanner.  If not, see <http://www.gnu.org/licenses/>.

// Package historydb persists completed scan transactions to sqlite.
package historydb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNullSQL = errors.New("history database is not connected")

const sqliteConnParams = "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000"

type HistoryDB struct {
	sql    *sql.DB
	dbPath string
}

// Open opens (creating if necessary) the history database at dbPath and runs
// migrations.
func Open(ctx context.Context, dbPath string) (*HistoryDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create directory for database: %w", err)
	}

	sqlInstance, err := sql.Open("sqlite3", dbPath+sqliteConnParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &HistoryDB{sql: sqlInstance, dbPath: dbPath}
	if err := db.MigrateUp(); err != nil {
		_ = sqlInstance.Close()
		return nil, err
	}

	if err := sqlInstance.PingContext(ctx); err != nil {
		_ = sqlInstance.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// OpenWithDB wraps an existing database handle; used by tests.
func OpenWithDB(sqlDB *sql.DB) *HistoryDB {
	return &HistoryDB{sql: sqlDB}
}

func (db *HistoryDB) Path() string {
	return db.dbPath
}

func (db *HistoryDB) MigrateUp() error {
	if db.sql == nil {
		return ErrNullSQL
	}
	return sqlMigrateUp(db.sql)
}

// Add persists one completed scan transaction.
func (db *HistoryDB) Add(ctx context.Context, tx ScanTransaction) error {
	if db.sql == nil {
		return ErrNullSQL
	}
	return sqlAddTransaction(ctx, db.sql, &tx)
}

// ListRecent returns the n most recent transactions, newest first.
func (db *HistoryDB) ListRecent(ctx context.Context, n int) ([]ScanTransaction, error) {
	if db.sql == nil {
		return nil, ErrNullSQL
	}
	return sqlListRecent(ctx, db.sql, n)
}

// Exists reports whether a transaction is already recorded for the given
// volume identity and scan start time.
func (db *HistoryDB) Exists(ctx context.Context, volumeID, volumeLabel string, startedAt time.Time) (bool, error) {
	if db.sql == nil {
		return false, ErrNullSQL
	}
	return sqlExists(ctx, db.sql, volumeID, volumeLabel, startedAt)
}

// UpdatePrintedAt stamps the most recent transaction for a volume identity
// with its print time.
func (db *HistoryDB) UpdatePrintedAt(ctx context.Context, volumeID, volumeLabel string, printedAt time.Time) error {
	if db.sql == nil {
		return ErrNullSQL
	}
	return sqlUpdatePrintedAt(ctx, db.sql, volumeID, volumeLabel, printedAt)
}

// ClearAll removes every stored transaction.
func (db *HistoryDB) ClearAll(ctx context.Context) error {
	if db.sql == nil {
		return ErrNullSQL
	}
	return sqlClearAll(ctx, db.sql)
}

func (db *HistoryDB) Vacuum(ctx context.Context) error {
	if db.sql == nil {
		return ErrNullSQL
	}
	return sqlVacuum(ctx, db.sql)
}

func (db *HistoryDB) Close() error {
	if db.sql == nil {
		return nil
	}
	if err := db.sql.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.sql = nil
	return nil
}
