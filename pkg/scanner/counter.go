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

import (
	"context"
	"fmt"
	"io/fs"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"
)

// countProgressEvery controls how often the running total is streamed to the
// caller. The total is only used for progress-bar scaling, so coarse updates
// are fine.
const countProgressEvery = 100

// CountResult is the outcome of a file count pass.
type CountResult struct {
	// Eligible is the approximate number of files the scan engine will
	// process. Approximate: the engine's own filtered enumeration can
	// diverge by a few percent.
	Eligible int64
	// Skipped is the number of regular files excluded by the filters.
	Skipped int64
}

// FileCounter enumerates files eligible for scanning under a partition's
// mount path, producing the approximate total used for progress scaling.
type FileCounter interface {
	// Count walks root applying the filters, calling onProgress with the
	// running total as it goes, and returns the final tallies. Cancellable
	// through ctx.
	Count(ctx context.Context, root string, filters Filters, onProgress func(running int64)) (CountResult, error)
}

// WalkCounter counts files with a parallel directory walk.
type WalkCounter struct {
	// Workers overrides the walk parallelism; zero means the library default.
	Workers int
}

func NewWalkCounter() *WalkCounter {
	return &WalkCounter{}
}

func (c *WalkCounter) Count(
	ctx context.Context,
	root string,
	filters Filters,
	onProgress func(running int64),
) (CountResult, error) {
	var total atomic.Int64
	var skipped atomic.Int64

	conf := fastwalk.Config{NumWorkers: c.Workers}
	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal: removable media
			// routinely contain broken directories.
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !d.Type().IsRegular() {
			return nil
		}

		size := int64(-1)
		if info, infoErr := d.Info(); infoErr == nil {
			size = info.Size()
		}
		if filters.Excludes(path, size) {
			skipped.Add(1)
			return nil
		}

		n := total.Add(1)
		if onProgress != nil && n%countProgressEvery == 0 {
			onProgress(n)
		}
		return nil
	})
	result := CountResult{Eligible: total.Load(), Skipped: skipped.Load()}
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, fmt.Errorf("file count walk failed: %w", err)
	}

	if onProgress != nil {
		onProgress(result.Eligible)
	}
	return result, nil
}
