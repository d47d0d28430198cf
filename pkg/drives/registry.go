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

// Package drives is the single source of truth for drive-level scan
// aggregation: which partitions belong to which physical drive, and how many
// of them are scanning or done.
package drives

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/thokzz/AutomatedAVScanner/pkg/helpers/syncutil"
)

// phase tracks where one partition is in its scan pass. The phase map is what
// guards the drive counters against double increments and double decrements:
// counter adjustments only happen on a real phase edge.
type phase int

const (
	phaseIdle phase = iota
	phaseScanning
	phaseCompleted
)

type driveState struct {
	key        string
	partitions []string // insertion order
	phases     map[string]phase
	scanning   int
	completed  int
	infected   bool
}

// Snapshot is a read-only copy of one drive's aggregation state.
type Snapshot struct {
	Key        string
	Partitions []string
	Scanning   int
	Completed  int
	Infected   bool
}

// Registry groups partitions under their physical-drive key and tracks
// per-drive scan counters. All methods are safe for concurrent use; every
// mutation goes through one mutex so concurrent scans never race on a
// drive's counters.
type Registry struct {
	drives      map[string]*driveState
	partToDrive map[string]string
	mu          syncutil.Mutex
}

func NewRegistry() *Registry {
	return &Registry{
		drives:      make(map[string]*driveState),
		partToDrive: make(map[string]string),
	}
}

// AddPartition registers a partition under a drive key, creating the drive
// lazily on first sight. Idempotent: re-adding a known partition is a no-op.
func (r *Registry) AddPartition(partitionID, driveKey string) {
	if partitionID == "" || driveKey == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.partToDrive[partitionID]; ok {
		return
	}

	d, ok := r.drives[driveKey]
	if !ok {
		d = &driveState{
			key:    driveKey,
			phases: make(map[string]phase),
		}
		r.drives[driveKey] = d
	}

	d.partitions = append(d.partitions, partitionID)
	d.phases[partitionID] = phaseIdle
	r.partToDrive[partitionID] = driveKey

	log.Debug().
		Str("drive_key", driveKey).
		Str("volume_id", partitionID).
		Int("partitions", len(d.partitions)).
		Msg("partition added to drive")
}

// MarkScanStarted records that a partition's scan began. Starting an
// already-scanning partition is a no-op; restarting a completed one moves it
// back out of the completed count (rescan).
func (r *Registry) MarkScanStarted(partitionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.driveOfLocked(partitionID)
	if !ok {
		return
	}

	switch d.phases[partitionID] {
	case phaseScanning:
		return
	case phaseCompleted:
		d.completed--
	case phaseIdle:
	}
	d.phases[partitionID] = phaseScanning
	d.scanning++
}

// MarkScanCompleted records a successful scan result for a partition.
func (r *Registry) MarkScanCompleted(partitionID string, infected bool) {
	r.markCompleted(partitionID, infected)
}

// MarkScanCompletedWithError records a failed scan. The partition still
// counts as completed so the drive can finalize; the drive's infected flag is
// untouched.
func (r *Registry) MarkScanCompletedWithError(partitionID string) {
	r.markCompleted(partitionID, false)
}

func (r *Registry) markCompleted(partitionID string, infected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.driveOfLocked(partitionID)
	if !ok {
		return
	}

	// Only a scanning partition can complete: a duplicate completion (or a
	// completion after cancel) must not decrement scanning below zero.
	if d.phases[partitionID] != phaseScanning {
		log.Debug().
			Str("volume_id", partitionID).
			Msg("ignoring completion for partition not scanning")
		return
	}

	d.phases[partitionID] = phaseCompleted
	d.scanning--
	d.completed++
	if infected {
		d.infected = true
	}
}

// MarkScanCancelled returns a partition to idle without counting it as
// completed, decrementing the scanning counter exactly once.
func (r *Registry) MarkScanCancelled(partitionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.driveOfLocked(partitionID)
	if !ok {
		return
	}
	if d.phases[partitionID] != phaseScanning {
		return
	}
	d.phases[partitionID] = phaseIdle
	d.scanning--
}

// IsFullyScanned evaluates the drive invariant for the drive owning the given
// partition: every partition completed, none scanning, at least one present.
func (r *Registry) IsFullyScanned(partitionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.driveOfLocked(partitionID)
	if !ok {
		return false
	}
	return fullyScannedLocked(d)
}

// IsDriveFullyScanned is IsFullyScanned keyed by drive instead of partition.
func (r *Registry) IsDriveFullyScanned(driveKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.drives[driveKey]
	if !ok {
		return false
	}
	return fullyScannedLocked(d)
}

func fullyScannedLocked(d *driveState) bool {
	return len(d.partitions) > 0 && d.completed == len(d.partitions) && d.scanning == 0
}

// ResetDriveState zeroes a drive's counters without removing its partitions.
// Used before a rescan.
func (r *Registry) ResetDriveState(driveKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.drives[driveKey]
	if !ok {
		return
	}
	d.scanning = 0
	d.completed = 0
	d.infected = false
	for id := range d.phases {
		d.phases[id] = phaseIdle
	}
}

// RemoveDrive tears down all tracking for a drive. Call only after the
// completion pipeline finished or permanently failed.
func (r *Registry) RemoveDrive(driveKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.drives[driveKey]
	if !ok {
		return
	}
	for _, id := range d.partitions {
		delete(r.partToDrive, id)
	}
	delete(r.drives, driveKey)
	log.Debug().Str("drive_key", driveKey).Msg("drive removed from tracking")
}

// RemovePartition drops one partition from its drive, adjusting counters if
// the partition was mid-scan or already completed. Empty drives are removed.
func (r *Registry) RemovePartition(partitionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.driveOfLocked(partitionID)
	if !ok {
		return
	}

	switch d.phases[partitionID] {
	case phaseScanning:
		d.scanning--
	case phaseCompleted:
		d.completed--
	case phaseIdle:
	}
	delete(d.phases, partitionID)
	delete(r.partToDrive, partitionID)
	for i, id := range d.partitions {
		if id == partitionID {
			d.partitions = append(d.partitions[:i], d.partitions[i+1:]...)
			break
		}
	}
	if len(d.partitions) == 0 {
		delete(r.drives, d.key)
	}
}

// DriveKeyFor returns the drive key owning a partition.
func (r *Registry) DriveKeyFor(partitionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.partToDrive[partitionID]
	return key, ok
}

// PartitionsOf returns the partition IDs of a drive in insertion order.
func (r *Registry) PartitionsOf(driveKey string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.drives[driveKey]
	if !ok {
		return nil
	}
	out := make([]string, len(d.partitions))
	copy(out, d.partitions)
	return out
}

// SiblingCount returns how many partitions share the drive with the given
// partition (including itself); zero when unknown.
func (r *Registry) SiblingCount(partitionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.driveOfLocked(partitionID)
	if !ok {
		return 0
	}
	return len(d.partitions)
}

// Snapshot returns a copy of a drive's aggregation state.
func (r *Registry) Snapshot(driveKey string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.drives[driveKey]
	if !ok {
		return Snapshot{}, false
	}
	parts := make([]string, len(d.partitions))
	copy(parts, d.partitions)
	return Snapshot{
		Key:        d.key,
		Partitions: parts,
		Scanning:   d.scanning,
		Completed:  d.completed,
		Infected:   d.infected,
	}, true
}

// Keys returns all tracked drive keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.drives))
	for k := range r.drives {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) driveOfLocked(partitionID string) (*driveState, bool) {
	key, ok := r.partToDrive[partitionID]
	if !ok {
		return nil, false
	}
	d, ok := r.drives[key]
	return d, ok
}
