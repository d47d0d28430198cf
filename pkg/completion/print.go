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

package completion

import (
	"context"
	"fmt"
	"os"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/thokzz/AutomatedAVScanner/pkg/helpers/command"
)

// Printer sends one rendered report to the physical printer.
type Printer interface {
	Print(ctx context.Context, report string) error
}

// LPPrinter prints through the CUPS lp command. An empty printer name uses
// the system default destination.
type LPPrinter struct {
	exec        command.Executor
	printerName string
}

func NewLPPrinter(exec command.Executor, printerName string) *LPPrinter {
	if exec == nil {
		exec = &command.RealExecutor{}
	}
	return &LPPrinter{exec: exec, printerName: printerName}
}

// Print spools the report to a temp file and submits it with lp. lp queues
// asynchronously, so success here means accepted by the spooler, not paper
// out of the printer.
func (p *LPPrinter) Print(ctx context.Context, report string) error {
	tmp, err := os.CreateTemp("", "avscanner-report-*.txt")
	if err != nil {
		return fmt.Errorf("failed to create report spool file: %w", err)
	}
	name := tmp.Name()
	defer func() {
		if rmErr := os.Remove(name); rmErr != nil {
			log.Warn().Err(rmErr).Str("path", name).Msg("failed to remove spool file")
		}
	}()

	if _, err := tmp.WriteString(report); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write report spool file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close report spool file: %w", err)
	}

	args := make([]string, 0, 3)
	if p.printerName != "" {
		args = append(args, "-d", p.printerName)
	}
	args = append(args, name)

	if err := p.exec.Run(ctx, "lp", args...); err != nil {
		return fmt.Errorf("lp failed: %w", err)
	}
	return nil
}

// PrintCoordinator runs bounded, per-volume print attempt sequences. Attempts
// for the same volume never overlap, and a volume whose budget ran out stays
// abandoned until Reset.
type PrintCoordinator struct {
	printer Printer
	guard   *keyGuard
}

func NewPrintCoordinator(printer Printer) *PrintCoordinator {
	return &PrintCoordinator{printer: printer, guard: newKeyGuard()}
}

// Attempt prints the report for one volume, retrying with exponential backoff
// up to budget tries. Returns ErrAbandoned or ErrOperationInFlight without
// printing when the guard rejects the key.
func (c *PrintCoordinator) Attempt(ctx context.Context, volumeID, report string, budget int) error {
	if err := c.guard.acquire(volumeID); err != nil {
		return err
	}
	defer c.guard.release(volumeID)

	if budget < 1 {
		budget = 1
	}

	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		err := c.printer.Print(ctx, report)
		if err != nil {
			log.Warn().Err(err).
				Str("volume_id", volumeID).
				Int("attempt", attempt).
				Msg("print attempt failed")
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(budget)),
	)
	if err != nil {
		c.guard.abandon(volumeID)
		return fmt.Errorf("print failed after %d attempts: %w", budget, err)
	}
	return nil
}

// Reset clears the abandoned flag for a volume so a rescan can print again.
func (c *PrintCoordinator) Reset(volumeID string) {
	c.guard.reset(volumeID)
}
