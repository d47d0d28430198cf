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

package historydb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thokzz/AutomatedAVScanner/pkg/database"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Infected path lists are stored newline-joined; volume paths cannot contain
// newlines.
const pathSeparator = "\n"

func sqlMigrateUp(db *sql.DB) error {
	if err := database.MigrateUp(db, migrationFiles, "migrations"); err != nil {
		return fmt.Errorf("failed to run history database migrations: %w", err)
	}
	return nil
}

func closeStmt(stmt *sql.Stmt) {
	if err := stmt.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close sql statement")
	}
}

func sqlAddTransaction(ctx context.Context, db *sql.DB, tx *ScanTransaction) error {
	stmt, err := db.PrepareContext(ctx, `
		insert into ScanTransactions(
			TransactionID, VolumeID, VolumeLabel, StartedAt, EndedAt,
			ScannedFiles, SkippedFiles, Infected, InfectedPaths,
			FilesPerSecond, PrintedAt
		) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare transaction insert statement: %w", err)
	}
	defer closeStmt(stmt)

	var printedAt any
	if tx.PrintedAt != nil {
		printedAt = tx.PrintedAt.Unix()
	}

	_, err = stmt.ExecContext(ctx,
		tx.ID,
		tx.VolumeID,
		tx.VolumeLabel,
		tx.StartedAt.Unix(),
		tx.EndedAt.Unix(),
		tx.ScannedFiles,
		tx.SkippedFiles,
		tx.Infected,
		strings.Join(tx.InfectedPaths, pathSeparator),
		tx.FilesPerSecond,
		printedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to execute transaction insert: %w", err)
	}
	return nil
}

func sqlListRecent(ctx context.Context, db *sql.DB, n int) ([]ScanTransaction, error) {
	if n <= 0 {
		n = 25
	}

	q, err := db.PrepareContext(ctx, `
		select
		TransactionID, VolumeID, VolumeLabel, StartedAt, EndedAt,
		ScannedFiles, SkippedFiles, Infected, InfectedPaths,
		FilesPerSecond, PrintedAt
		from ScanTransactions
		order by DBID desc
		limit ?;
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare history query statement: %w", err)
	}
	defer closeStmt(q)

	rows, err := q.QueryContext(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("failed to close sql rows")
		}
	}()

	list := make([]ScanTransaction, 0, n)
	for rows.Next() {
		var tx ScanTransaction
		var startedAt, endedAt int64
		var printedAt sql.NullInt64
		var paths string

		err = rows.Scan(
			&tx.ID,
			&tx.VolumeID,
			&tx.VolumeLabel,
			&startedAt,
			&endedAt,
			&tx.ScannedFiles,
			&tx.SkippedFiles,
			&tx.Infected,
			&paths,
			&tx.FilesPerSecond,
			&printedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		tx.StartedAt = time.Unix(startedAt, 0)
		tx.EndedAt = time.Unix(endedAt, 0)
		if printedAt.Valid {
			t := time.Unix(printedAt.Int64, 0)
			tx.PrintedAt = &t
		}
		if paths != "" {
			tx.InfectedPaths = strings.Split(paths, pathSeparator)
		}

		list = append(list, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading history rows: %w", err)
	}

	return list, nil
}

func sqlExists(ctx context.Context, db *sql.DB, volumeID, volumeLabel string, startedAt time.Time) (bool, error) {
	stmt, err := db.PrepareContext(ctx, `
		select count(*) from ScanTransactions
		where VolumeID = ? and VolumeLabel = ? and StartedAt = ?;
	`)
	if err != nil {
		return false, fmt.Errorf("failed to prepare existence query: %w", err)
	}
	defer closeStmt(stmt)

	var count int
	err = stmt.QueryRowContext(ctx, volumeID, volumeLabel, startedAt.Unix()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query transaction existence: %w", err)
	}
	return count > 0, nil
}

func sqlUpdatePrintedAt(ctx context.Context, db *sql.DB, volumeID, volumeLabel string, printedAt time.Time) error {
	stmt, err := db.PrepareContext(ctx, `
		update ScanTransactions
		set PrintedAt = ?
		where DBID = (
			select DBID from ScanTransactions
			where VolumeID = ? and VolumeLabel = ?
			order by DBID desc
			limit 1
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare print timestamp update: %w", err)
	}
	defer closeStmt(stmt)

	_, err = stmt.ExecContext(ctx, printedAt.Unix(), volumeID, volumeLabel)
	if err != nil {
		return fmt.Errorf("failed to update print timestamp: %w", err)
	}
	return nil
}

//goland:noinspection SqlWithoutWhere
func sqlClearAll(ctx context.Context, db *sql.DB) error {
	sqlStmt := `
	delete from ScanTransactions;
	vacuum;
	`
	_, err := db.ExecContext(ctx, sqlStmt)
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

func sqlVacuum(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "vacuum;")
	if err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}
