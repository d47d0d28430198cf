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
	"path/filepath"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/thokzz/AutomatedAVScanner/pkg/helpers/command"
	"github.com/thokzz/AutomatedAVScanner/pkg/volumes"
)

// Ejector detaches one whole physical drive from the system.
type Ejector interface {
	Eject(ctx context.Context, device string) error
}

// CommandEjector shells out to the eject utility, which unmounts all
// partitions of the device and powers it down.
type CommandEjector struct {
	exec command.Executor
}

func NewCommandEjector(exec command.Executor) *CommandEjector {
	if exec == nil {
		exec = &command.RealExecutor{}
	}
	return &CommandEjector{exec: exec}
}

func (e *CommandEjector) Eject(ctx context.Context, device string) error {
	if err := e.exec.Run(ctx, "eject", device); err != nil {
		return fmt.Errorf("eject %s failed: %w", device, err)
	}
	return nil
}

// DeviceForDrive derives the whole-disk device node from one of the drive's
// partitions: /dev/sdb1 with drive key sdb ejects /dev/sdb. Falls back to the
// partition node, then the mount path, when the key cannot be joined.
func DeviceForDrive(part volumes.Partition, driveKey string) string {
	if part.DeviceNode != "" && driveKey != "" {
		return filepath.Join(filepath.Dir(part.DeviceNode), driveKey)
	}
	if part.DeviceNode != "" {
		return part.DeviceNode
	}
	return part.MountPath
}

// EjectCoordinator runs bounded, per-drive eject attempt sequences with the
// same guard semantics as printing: no overlapping attempts per drive, and
// an exhausted drive stays abandoned until Reset.
type EjectCoordinator struct {
	ejector Ejector
	guard   *keyGuard
}

func NewEjectCoordinator(ejector Ejector) *EjectCoordinator {
	return &EjectCoordinator{ejector: ejector, guard: newKeyGuard()}
}

// Attempt ejects the device for one drive key, retrying with exponential
// backoff up to budget tries.
func (c *EjectCoordinator) Attempt(ctx context.Context, driveKey, device string, budget int) error {
	if err := c.guard.acquire(driveKey); err != nil {
		return err
	}
	defer c.guard.release(driveKey)

	if budget < 1 {
		budget = 1
	}

	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		err := c.ejector.Eject(ctx, device)
		if err != nil {
			log.Warn().Err(err).
				Str("drive_key", driveKey).
				Str("device", device).
				Int("attempt", attempt).
				Msg("eject attempt failed")
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(budget)),
	)
	if err != nil {
		c.guard.abandon(driveKey)
		return fmt.Errorf("eject failed after %d attempts: %w", budget, err)
	}
	return nil
}

// Reset clears the abandoned flag for a drive key.
func (c *EjectCoordinator) Reset(driveKey string) {
	c.guard.reset(driveKey)
}
