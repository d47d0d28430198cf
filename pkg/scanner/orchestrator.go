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

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/thokzz/AutomatedAVScanner/pkg/config"
	"github.com/thokzz/AutomatedAVScanner/pkg/database/historydb"
	"github.com/thokzz/AutomatedAVScanner/pkg/drives"
	"github.com/thokzz/AutomatedAVScanner/pkg/notifications"
	"github.com/thokzz/AutomatedAVScanner/pkg/volumes"
)

// TransactionStore is the slice of the history database the orchestrator
// needs.
type TransactionStore interface {
	Add(ctx context.Context, tx historydb.ScanTransaction) error
}

// Orchestrator runs one partition's full scan pass: counting, scanning,
// result classification, history persistence and drive-completion signaling.
// One ScanPartition call per partition runs at a time per volume; calls for
// different partitions may run concurrently.
type Orchestrator struct {
	cfg         *config.Instance
	volumes     *volumes.Registry
	drives      *drives.Registry
	counter     FileCounter
	engine      Engine
	store       TransactionStore
	clock       clockwork.Clock
	ns          chan<- notifications.Notification
	completions chan<- string
}

// NewOrchestrator wires the orchestrator to its collaborators. completions
// receives a drive key whenever a scan pass leaves that drive fully scanned;
// the completion pipeline consumes it. store may be nil when history is
// disabled.
func NewOrchestrator(
	cfg *config.Instance,
	volReg *volumes.Registry,
	driveReg *drives.Registry,
	counter FileCounter,
	engine Engine,
	store TransactionStore,
	clock clockwork.Clock,
	ns chan<- notifications.Notification,
	completions chan<- string,
) *Orchestrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		cfg:         cfg,
		volumes:     volReg,
		drives:      driveReg,
		counter:     counter,
		engine:      engine,
		store:       store,
		clock:       clock,
		ns:          ns,
		completions: completions,
	}
}

// ScanPartition executes the scan lifecycle for one partition, driving st
// through its states. The partition is pinned in the volume registry for the
// duration so an unmount mid-scan defers removal instead of yanking state out
// from under the pass.
func (o *Orchestrator) ScanPartition(ctx context.Context, part volumes.Partition, st *ScanState) error {
	st.Reset()
	o.drives.AddPartition(part.ID, part.DriveKey)
	st.SetSiblings(o.drives.SiblingCount(part.ID))

	if !o.volumes.Pin(part.ID) {
		log.Warn().Str("volume_id", part.ID).Msg("partition vanished before scan start")
		return ErrVolumeRemoved
	}
	defer o.volumes.Unpin(part.ID)

	o.drives.MarkScanStarted(part.ID)
	notifications.ScanStarted(o.ns, notifications.PartitionParams{
		VolumeID:  part.ID,
		Label:     part.Label,
		MountPath: part.MountPath,
		DriveKey:  part.DriveKey,
	})

	if err := o.engine.Available(); err != nil {
		return o.failScan(ctx, part, st, err)
	}

	if err := st.BeginCounting(o.clock.Now()); err != nil {
		return o.failScan(ctx, part, st, err)
	}

	filters := FiltersFromConfig(o.cfg)
	count, err := o.counter.Count(ctx, part.MountPath, filters, func(running int64) {
		st.SetTotal(running)
	})
	if err != nil {
		if ctxDone(ctx, err) {
			return o.cancelScan(part, st, err)
		}
		return o.failScan(ctx, part, st, err)
	}
	st.SetTotal(count.Eligible)
	st.AddSkipped(count.Skipped)
	log.Info().
		Str("volume_id", part.ID).
		Int64("eligible", count.Eligible).
		Int64("skipped", count.Skipped).
		Msg("file count finished")

	if err := st.BeginScanning(); err != nil {
		return o.failScan(ctx, part, st, err)
	}

	res, err := o.engine.Scan(ctx, part.MountPath, filters, func(p Progress) {
		st.UpdateProgress(p.Scanned, p.CurrentFile)
		if len(p.InfectedPaths) > 0 {
			st.SetInfected(p.InfectedPaths)
		}
	})
	if err != nil {
		if ctxDone(ctx, err) {
			return o.cancelScan(part, st, err)
		}
		return o.failScan(ctx, part, st, err)
	}

	st.UpdateProgress(res.Processed, "")
	st.SetInfected(res.InfectedPaths)

	if st.Snapshot().MultiPartition() {
		// Siblings may still be scanning; the completion coordinator
		// finalizes and persists once the whole drive is done.
		if err := st.MarkWaiting(); err != nil {
			return o.failScan(ctx, part, st, err)
		}
	} else {
		status, err := st.Finalize(o.clock.Now())
		if err != nil {
			return o.failScan(ctx, part, st, err)
		}
		o.persistTransaction(ctx, part, st.Snapshot())
		log.Info().
			Str("volume_id", part.ID).
			Str("status", string(status)).
			Int64("scanned", res.Processed).
			Msg("scan finished")
	}

	o.drives.MarkScanCompleted(part.ID, len(res.InfectedPaths) > 0)
	o.notifyCompleted(part, st.Snapshot())
	o.signalIfDriveComplete(ctx, part.ID)
	return nil
}

// failScan forces the partition to its best terminal status, records the
// completion with the drive registry so siblings are never blocked forever,
// and still evaluates drive completion.
func (o *Orchestrator) failScan(ctx context.Context, part volumes.Partition, st *ScanState, cause error) error {
	status := st.Fail(o.clock.Now())
	log.Error().
		Err(cause).
		Str("volume_id", part.ID).
		Str("status", string(status)).
		Msg("scan pass failed")

	if status != StatusError {
		// Partial results are still worth recording.
		o.persistTransaction(ctx, part, st.Snapshot())
	}

	o.drives.MarkScanCompletedWithError(part.ID)
	o.notifyCompleted(part, st.Snapshot())
	o.signalIfDriveComplete(ctx, part.ID)
	return cause
}

// cancelScan unwinds a pass aborted by shutdown or unmount: the partition
// returns to Queued and the drive counters forget the attempt. No transaction
// is recorded and no completion signal fires.
func (o *Orchestrator) cancelScan(part volumes.Partition, st *ScanState, cause error) error {
	log.Info().Str("volume_id", part.ID).Msg("scan cancelled")
	o.drives.MarkScanCancelled(part.ID)
	st.Reset()
	return cause
}

func (o *Orchestrator) persistTransaction(ctx context.Context, part volumes.Partition, snap StateSnapshot) {
	if o.store == nil {
		return
	}

	tx, err := historydb.NewScanTransaction(
		part.ID, part.Label,
		snap.StartedAt, snap.EndedAt,
		snap.ScannedFiles, snap.SkippedFiles,
		snap.InfectedPaths,
	)
	if err != nil {
		log.Error().Err(err).Str("volume_id", part.ID).
			Msg("cannot build scan transaction")
		return
	}

	if err := o.store.Add(ctx, tx); err != nil {
		// History is advisory; a failed write never fails the scan.
		log.Error().Err(err).Str("volume_id", part.ID).
			Msg("failed to record scan transaction")
		return
	}
	notifications.HistoryAdded(o.ns, tx.ID)
}

func (o *Orchestrator) notifyCompleted(part volumes.Partition, snap StateSnapshot) {
	notifications.ScanCompleted(o.ns, notifications.ScanCompletedParams{
		VolumeID:     part.ID,
		Label:        part.Label,
		Status:       string(snap.Status),
		ScannedFiles: snap.ScannedFiles,
		Infected:     snap.InfectedPaths,
	})
}

// signalIfDriveComplete emits the drive key on the completions channel when
// every partition of the owning drive has completed. The signal is delayed by
// the configured settle time so a near-simultaneous sibling finish has its
// state fully written before the completion pipeline snapshots it. Duplicate
// signals are expected; the consumer deduplicates.
func (o *Orchestrator) signalIfDriveComplete(ctx context.Context, partitionID string) {
	if !o.drives.IsFullyScanned(partitionID) {
		return
	}
	key, ok := o.drives.DriveKeyFor(partitionID)
	if !ok {
		return
	}

	delay := o.cfg.SettleDelay()
	go func() {
		if delay > 0 {
			select {
			case <-o.clock.After(delay):
			case <-ctx.Done():
				return
			}
		}
		// The drive may have been yanked or rescanned during the delay.
		if !o.drives.IsDriveFullyScanned(key) {
			return
		}
		select {
		case o.completions <- key:
		case <-ctx.Done():
		}
	}()
}

func ctxDone(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
