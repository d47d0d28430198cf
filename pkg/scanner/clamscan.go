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
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thokzz/AutomatedAVScanner/pkg/helpers/command"
)

const clamscanBinary = "clamscan"

// clamscan exit codes: 0 = no virus, 1 = virus found, 2+ = error.
const clamscanExitInfected = 1

// ClamScan wraps the clamscan command-line engine, streaming its verbose
// per-file output into progress callbacks.
type ClamScan struct {
	exec   command.Executor
	binary string
}

func NewClamScan(executor command.Executor) *ClamScan {
	if executor == nil {
		executor = &command.RealExecutor{}
	}
	return &ClamScan{exec: executor, binary: clamscanBinary}
}

func (c *ClamScan) Available() error {
	if _, err := c.exec.LookPath(c.binary); err != nil {
		return fmt.Errorf("%w: %s not found in PATH", ErrEngineUnavailable, c.binary)
	}
	return nil
}

func (c *ClamScan) Scan(
	ctx context.Context,
	root string,
	filters Filters,
	onProgress func(Progress),
) (Result, error) {
	if err := c.Available(); err != nil {
		return Result{}, err
	}
	if _, err := os.Stat(root); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrVolumeRemoved, root)
	}

	args := c.buildArgs(root, filters)

	var scanned int64
	var infected []string

	// Stream invokes onLine from a single goroutine, so no locking is
	// needed around the running tallies.
	onLine := func(line string) {
		switch {
		case strings.HasPrefix(line, "Scanning "):
			scanned++
			file := strings.TrimPrefix(line, "Scanning ")
			if onProgress != nil {
				onProgress(Progress{
					Scanned:       scanned,
					CurrentFile:   file,
					InfectedPaths: infected,
				})
			}
		case strings.HasSuffix(line, " FOUND"):
			idx := strings.LastIndex(line, ": ")
			if idx <= 0 {
				return
			}
			path := line[:idx]
			infected = append(infected, path)
			log.Warn().Str("path", path).Msg("infected file detected")
			if onProgress != nil {
				onProgress(Progress{
					Scanned:       scanned,
					CurrentFile:   path,
					InfectedPaths: infected,
				})
			}
		}
	}

	err := c.exec.Stream(ctx, onLine, c.binary, args...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == clamscanExitInfected {
			// Virus found is a successful scan, not a failure.
			return Result{Processed: scanned, InfectedPaths: infected}, nil
		}
		if ctx.Err() != nil {
			return Result{Processed: scanned, InfectedPaths: infected}, ctx.Err()
		}
		if _, statErr := os.Stat(root); statErr != nil {
			return Result{Processed: scanned, InfectedPaths: infected},
				fmt.Errorf("%w: %s", ErrVolumeRemoved, root)
		}
		return Result{Processed: scanned, InfectedPaths: infected},
			&ScanFailedError{Message: err.Error()}
	}

	return Result{Processed: scanned, InfectedPaths: infected}, nil
}

// buildArgs maps the shared filter configuration onto clamscan flags so the
// engine's enumeration matches the counter's.
func (c *ClamScan) buildArgs(root string, filters Filters) []string {
	args := []string{"-r", "-v", "--stdout"}

	if filters.SkipExtensionsEnabled {
		for _, ext := range filters.ExtensionsToSkip {
			args = append(args, fmt.Sprintf(`--exclude=\.%s$`, ext))
		}
	}
	if filters.FileSizeLimitMB > 0 {
		args = append(args, fmt.Sprintf("--max-filesize=%dM", filters.FileSizeLimitMB))
	}

	return append(args, root)
}
