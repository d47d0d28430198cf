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
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingVolumeID  = errors.New("scan transaction requires a volume identifier")
	ErrMissingTimestamp = errors.New("scan transaction requires start and end timestamps")
	ErrTimestampOrder   = errors.New("scan transaction end time precedes start time")
)

// ScanTransaction is an immutable historical record of one completed scan
// pass. Only PrintedAt is ever updated after creation.
type ScanTransaction struct {
	StartedAt      time.Time
	EndedAt        time.Time
	PrintedAt      *time.Time
	ID             string
	VolumeID       string
	VolumeLabel    string
	InfectedPaths  []string
	ScannedFiles   int64
	SkippedFiles   int64
	FilesPerSecond float64
	Infected       bool
}

// NewScanTransaction builds a transaction from a completed scan. It fails on
// missing identity or timestamps rather than synthesizing defaults: an
// incomplete scan has no business in the history store.
func NewScanTransaction(
	volumeID, volumeLabel string,
	startedAt, endedAt time.Time,
	scannedFiles, skippedFiles int64,
	infectedPaths []string,
) (ScanTransaction, error) {
	if volumeID == "" {
		return ScanTransaction{}, ErrMissingVolumeID
	}
	if startedAt.IsZero() || endedAt.IsZero() {
		return ScanTransaction{}, ErrMissingTimestamp
	}
	if endedAt.Before(startedAt) {
		return ScanTransaction{}, ErrTimestampOrder
	}

	paths := make([]string, len(infectedPaths))
	copy(paths, infectedPaths)

	duration := endedAt.Sub(startedAt).Seconds()
	throughput := 0.0
	if duration > 0 && scannedFiles > 0 {
		throughput = float64(scannedFiles) / duration
	}

	return ScanTransaction{
		ID:             uuid.NewString(),
		VolumeID:       volumeID,
		VolumeLabel:    volumeLabel,
		StartedAt:      startedAt,
		EndedAt:        endedAt,
		ScannedFiles:   scannedFiles,
		SkippedFiles:   skippedFiles,
		Infected:       len(paths) > 0,
		InfectedPaths:  paths,
		FilesPerSecond: throughput,
	}, nil
}
