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

// Package completion drives the end-of-scan pipeline for a physical drive:
// finalizing parked partitions, printing reports, ejecting the hardware and
// tearing down tracking state.
package completion

import (
	"context"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/thokzz/AutomatedAVScanner/pkg/config"
	"github.com/thokzz/AutomatedAVScanner/pkg/database/historydb"
	"github.com/thokzz/AutomatedAVScanner/pkg/drives"
	"github.com/thokzz/AutomatedAVScanner/pkg/notifications"
	"github.com/thokzz/AutomatedAVScanner/pkg/scanner"
	"github.com/thokzz/AutomatedAVScanner/pkg/volumes"
)

// TransactionStore is the slice of the history database the coordinator
// needs: backfilling records for partitions finalized here and stamping print
// times.
type TransactionStore interface {
	Add(ctx context.Context, tx historydb.ScanTransaction) error
	Exists(ctx context.Context, volumeID, volumeLabel string, startedAt time.Time) (bool, error)
	UpdatePrintedAt(ctx context.Context, volumeID, volumeLabel string, printedAt time.Time) error
}

// StateFunc resolves a volume ID to its live scan state. Owned by the
// service layer, which holds the state map.
type StateFunc func(volumeID string) (*scanner.ScanState, bool)

// Coordinator consumes drive-completion signals and runs the pipeline for
// each. All marker bookkeeping happens on the single Run goroutine, so a
// duplicate signal can never race its original past the dedupe check.
type Coordinator struct {
	cfg      *config.Instance
	volumes  *volumes.Registry
	drives   *drives.Registry
	stateFor StateFunc
	printCo  *PrintCoordinator
	ejectCo  *EjectCoordinator
	store    TransactionStore
	clock    clockwork.Clock
	ns       chan<- notifications.Notification
	signals  <-chan string
	releases chan string
	markers  map[string]struct{}
}

// NewCoordinator wires the pipeline. signals carries drive keys from the scan
// orchestrator; store may be nil when history is disabled.
func NewCoordinator(
	cfg *config.Instance,
	volReg *volumes.Registry,
	driveReg *drives.Registry,
	stateFor StateFunc,
	printCo *PrintCoordinator,
	ejectCo *EjectCoordinator,
	store TransactionStore,
	clock clockwork.Clock,
	ns chan<- notifications.Notification,
	signals <-chan string,
) *Coordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Coordinator{
		cfg:      cfg,
		volumes:  volReg,
		drives:   driveReg,
		stateFor: stateFor,
		printCo:  printCo,
		ejectCo:  ejectCo,
		store:    store,
		clock:    clock,
		ns:       ns,
		signals:  signals,
		releases: make(chan string, 8),
		markers:  make(map[string]struct{}),
	}
}

// Run processes completion signals until ctx is cancelled. Pipelines run
// sequentially; a drive finishing while another is mid-pipeline waits its
// turn in the signal channel.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case key := <-c.releases:
			delete(c.markers, key)
			log.Debug().Str("drive_key", key).Msg("completion marker released")
		case key := <-c.signals:
			c.handleSignal(ctx, key)
		}
	}
}

func (c *Coordinator) handleSignal(ctx context.Context, key string) {
	if _, dup := c.markers[key]; dup {
		log.Debug().Str("drive_key", key).Msg("duplicate completion signal ignored")
		return
	}
	c.markers[key] = struct{}{}

	// The signal was delayed by the settle window; the drive may have been
	// yanked or put back to work since. A stale signal frees its marker
	// immediately so a later real completion is not swallowed.
	if !c.drives.IsDriveFullyScanned(key) {
		log.Debug().Str("drive_key", key).Msg("stale completion signal, drive not fully scanned")
		delete(c.markers, key)
		return
	}

	c.runPipeline(ctx, key)
	c.scheduleRelease(ctx, key)
}

type pipelineItem struct {
	part volumes.Partition
	st   *scanner.ScanState
}

func (c *Coordinator) runPipeline(ctx context.Context, key string) {
	log.Info().Str("drive_key", key).Msg("drive completion pipeline started")

	items := c.collect(key)
	if len(items) == 0 {
		log.Warn().Str("drive_key", key).Msg("no tracked partitions for completed drive")
		c.drives.RemoveDrive(key)
		return
	}

	// Partitions stay pinned for the whole pipeline so a mid-pipeline yank
	// defers registry removal instead of pulling state away from the
	// printer.
	for _, it := range items {
		c.volumes.Pin(it.part.ID)
	}
	defer func() {
		for _, it := range items {
			c.volumes.Unpin(it.part.ID)
		}
	}()

	c.finalizeWaiting(ctx, items)
	allPrinted := c.printReports(ctx, items)
	c.eject(ctx, key, items, allPrinted)

	// Teardown happens on success and on failure alike: a drive that could
	// not be ejected still must not block a future insertion of the same
	// hardware.
	c.drives.RemoveDrive(key)
	log.Info().Str("drive_key", key).Msg("drive completion pipeline finished")
}

// collect snapshots the drive's partitions and their scan states. Partitions
// no longer tracked by the volume registry are dropped here.
func (c *Coordinator) collect(key string) []pipelineItem {
	ids := c.drives.PartitionsOf(key)
	items := make([]pipelineItem, 0, len(ids))
	for _, id := range ids {
		part, ok := c.volumes.Get(id)
		if !ok {
			log.Debug().Str("volume_id", id).Msg("partition vanished before completion")
			continue
		}
		st, ok := c.stateFor(id)
		if !ok {
			log.Warn().Str("volume_id", id).Msg("no scan state for completed partition")
			continue
		}
		items = append(items, pipelineItem{part: part, st: st})
	}
	return items
}

// finalizeWaiting forces every parked partition to its terminal status and
// backfills history records the orchestrator deferred for multi-partition
// drives.
func (c *Coordinator) finalizeWaiting(ctx context.Context, items []pipelineItem) {
	for _, it := range items {
		if it.st.Status() == scanner.StatusWaiting {
			status, err := it.st.Finalize(c.clock.Now())
			if err != nil {
				log.Error().Err(err).Str("volume_id", it.part.ID).
					Msg("failed to finalize parked partition")
				continue
			}
			log.Info().
				Str("volume_id", it.part.ID).
				Str("status", string(status)).
				Msg("parked partition finalized")
			notifications.ScanCompleted(c.ns, notifications.ScanCompletedParams{
				VolumeID:     it.part.ID,
				Label:        it.part.Label,
				Status:       string(status),
				ScannedFiles: it.st.Snapshot().ScannedFiles,
				Infected:     it.st.Snapshot().InfectedPaths,
			})
		}
		c.persistIfMissing(ctx, it)
	}
}

func (c *Coordinator) persistIfMissing(ctx context.Context, it pipelineItem) {
	if c.store == nil {
		return
	}
	snap := it.st.Snapshot()
	if !snap.Status.Terminal() || snap.StartedAt.IsZero() || snap.EndedAt.IsZero() {
		return
	}

	exists, err := c.store.Exists(ctx, it.part.ID, it.part.Label, snap.StartedAt)
	if err != nil {
		log.Error().Err(err).Str("volume_id", it.part.ID).
			Msg("failed to check transaction existence")
		return
	}
	if exists {
		return
	}

	tx, err := historydb.NewScanTransaction(
		it.part.ID, it.part.Label,
		snap.StartedAt, snap.EndedAt,
		snap.ScannedFiles, snap.SkippedFiles,
		snap.InfectedPaths,
	)
	if err != nil {
		log.Error().Err(err).Str("volume_id", it.part.ID).
			Msg("cannot build scan transaction")
		return
	}
	if err := c.store.Add(ctx, tx); err != nil {
		log.Error().Err(err).Str("volume_id", it.part.ID).
			Msg("failed to record scan transaction")
		return
	}
	notifications.HistoryAdded(c.ns, tx.ID)
}

// printReports prints one report per partition, infected partitions first so
// the most urgent page comes out of the printer on top. Returns whether every
// partition is considered printed.
func (c *Coordinator) printReports(ctx context.Context, items []pipelineItem) bool {
	if !c.cfg.AutoPrintEnabled() {
		// Printing disabled counts as printed so ejection is never held
		// hostage by a feature toggle.
		for _, it := range items {
			it.st.MarkPrinted()
		}
		return true
	}

	queue := make([]pipelineItem, 0, len(items))
	for _, it := range items {
		if !c.volumes.MountPathExists(it.part.ID) {
			log.Debug().Str("volume_id", it.part.ID).
				Msg("mount path gone, skipping report print")
			continue
		}
		queue = append(queue, it)
	}

	sort.SliceStable(queue, func(i, j int) bool {
		li := len(queue[i].st.Snapshot().InfectedPaths) > 0
		lj := len(queue[j].st.Snapshot().InfectedPaths) > 0
		if li != lj {
			return li
		}
		return queue[i].part.Label < queue[j].part.Label
	})

	allPrinted := true
	for _, it := range queue {
		if !c.printOne(ctx, it) {
			allPrinted = false
		}
	}
	return allPrinted
}

func (c *Coordinator) printOne(ctx context.Context, it pipelineItem) bool {
	snap := it.st.Snapshot()
	infected := len(snap.InfectedPaths) > 0

	budget := c.cfg.PrintAttempts()
	if infected {
		budget = c.cfg.PrintAttemptsInfected()
	}

	report := BuildReport(it.part, snap, c.clock.Now())
	err := c.printCo.Attempt(ctx, it.part.ID, report, budget)
	if err == nil {
		it.st.MarkPrinted()
		c.stampPrinted(ctx, it)
		return true
	}

	if infected {
		// An unprinted infected report is an operator-visible failure; the
		// partition stays unprinted so the UI keeps flagging it.
		log.Error().Err(err).Str("volume_id", it.part.ID).
			Msg("infected report could not be printed")
		notifications.PrintFailed(c.ns, notifications.PipelineFailureParams{
			DriveKey: it.part.DriveKey,
			VolumeID: it.part.ID,
			Label:    it.part.Label,
			Reason:   err.Error(),
			Infected: true,
		})
		return false
	}

	// A clean report that will not print is not worth holding the drive
	// for. Treat it as printed and move on.
	log.Warn().Err(err).Str("volume_id", it.part.ID).
		Msg("clean report could not be printed, continuing without it")
	it.st.MarkPrinted()
	return true
}

func (c *Coordinator) stampPrinted(ctx context.Context, it pipelineItem) {
	if c.store == nil {
		return
	}
	err := c.store.UpdatePrintedAt(ctx, it.part.ID, it.part.Label, c.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("volume_id", it.part.ID).
			Msg("failed to stamp print time")
	}
}

// eject detaches the physical drive. Ejection always runs, printed or not: a
// drive stuck in the slot because its receipt jammed helps nobody.
func (c *Coordinator) eject(ctx context.Context, key string, items []pipelineItem, allPrinted bool) {
	device := ""
	for _, it := range items {
		if d := DeviceForDrive(it.part, key); d != "" {
			device = d
			break
		}
	}
	if device == "" {
		log.Warn().Str("drive_key", key).Msg("no device node known, skipping eject")
		return
	}

	if !allPrinted {
		log.Warn().Str("drive_key", key).
			Msg("ejecting drive with unprinted reports")
	}

	err := c.ejectCo.Attempt(ctx, key, device, c.cfg.EjectAttempts())
	if err != nil {
		log.Error().Err(err).Str("drive_key", key).Msg("drive eject failed")
		notifications.EjectFailed(c.ns, notifications.PipelineFailureParams{
			DriveKey: key,
			Reason:   err.Error(),
		})
		return
	}

	log.Info().Str("drive_key", key).Str("device", device).Msg("drive ejected")
	notifications.DriveEjected(c.ns, key)
}

// scheduleRelease frees the dedupe marker after the teardown grace window.
// Signals arriving inside the window are duplicates from the settle delay and
// are meant to be absorbed.
func (c *Coordinator) scheduleRelease(ctx context.Context, key string) {
	grace := c.cfg.TeardownGrace()
	if grace <= 0 {
		// Still route through the channel so marker mutation stays on the
		// Run goroutine.
		grace = time.Millisecond
	}
	go func() {
		select {
		case <-c.clock.After(grace):
		case <-ctx.Done():
			return
		}
		select {
		case c.releases <- key:
		case <-ctx.Done():
		}
	}()
}
