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

package scanner

import "context"

// Progress is one streamed update from the scan engine.
type Progress struct {
	CurrentFile   string
	InfectedPaths []string
	Scanned       int64
}

// Result is the engine's final tally for one partition.
type Result struct {
	InfectedPaths []string
	Processed     int64
}

// Engine is the external virus-scanning collaborator. Implementations wrap a
// subprocess that emits a stream of per-file events.
type Engine interface {
	// Available reports whether the scanning engine can run at all.
	// Returns ErrEngineUnavailable when the engine binary is missing.
	Available() error

	// Scan scans every eligible file under root, streaming progress
	// callbacks as files are processed. Failure modes: ErrEngineUnavailable,
	// context cancellation, ErrVolumeRemoved, or *ScanFailedError.
	Scan(ctx context.Context, root string, filters Filters, onProgress func(Progress)) (Result, error)
}
