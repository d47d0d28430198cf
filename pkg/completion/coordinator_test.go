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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thokzz/AutomatedAVScanner/pkg/config"
	"github.com/thokzz/AutomatedAVScanner/pkg/database/historydb"
	"github.com/thokzz/AutomatedAVScanner/pkg/drives"
	"github.com/thokzz/AutomatedAVScanner/pkg/notifications"
	"github.com/thokzz/AutomatedAVScanner/pkg/scanner"
	"github.com/thokzz/AutomatedAVScanner/pkg/volumes"
)

type fakeHistStore struct {
	mu        sync.Mutex
	added     []historydb.ScanTransaction
	printedAt map[string]time.Time
	exists    bool
}

func newFakeHistStore() *fakeHistStore {
	return &fakeHistStore{printedAt: make(map[string]time.Time)}
}

func (f *fakeHistStore) Add(_ context.Context, tx historydb.ScanTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, tx)
	return nil
}

func (f *fakeHistStore) Exists(_ context.Context, _, _ string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, nil
}

func (f *fakeHistStore) UpdatePrintedAt(_ context.Context, volumeID, _ string, printedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.printedAt[volumeID] = printedAt
	return nil
}

func (f *fakeHistStore) addedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added)
}

func (f *fakeHistStore) printedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.printedAt)
}

func coordTestConfig(t *testing.T) *config.Instance {
	t.Helper()
	dir := t.TempDir()
	content := `
config_schema = 1

[completion]
print_attempts = 2
print_attempts_infected = 2
eject_attempts = 1
settle_delay_ms = 0
teardown_grace_ms = 300
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.CfgFile), []byte(content), 0o600))
	t.Setenv(config.CfgEnv, "")
	cfg, err := config.NewConfig(dir, config.BaseDefaults)
	require.NoError(t, err)
	return cfg
}

type coordHarness struct {
	cfg     *config.Instance
	fs      afero.Fs
	vols    *volumes.Registry
	drv     *drives.Registry
	printer *fakePrinter
	ejector *fakeEjector
	store   *fakeHistStore
	ns      chan notifications.Notification
	signals chan string

	states   map[string]*scanner.ScanState
	statesMu sync.Mutex
}

func newCoordHarness(t *testing.T) *coordHarness {
	t.Helper()

	fs := afero.NewMemMapFs()
	h := &coordHarness{
		cfg:     coordTestConfig(t),
		fs:      fs,
		vols:    volumes.NewRegistry(fs),
		drv:     drives.NewRegistry(),
		printer: &fakePrinter{},
		ejector: &fakeEjector{},
		store:   newFakeHistStore(),
		ns:      make(chan notifications.Notification, 64),
		signals: make(chan string, 8),
		states:  make(map[string]*scanner.ScanState),
	}

	coord := NewCoordinator(
		h.cfg, h.vols, h.drv,
		h.stateFor,
		NewPrintCoordinator(h.printer),
		NewEjectCoordinator(h.ejector),
		h.store, nil, h.ns, h.signals,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		coord.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return h
}

func (h *coordHarness) stateFor(volumeID string) (*scanner.ScanState, bool) {
	h.statesMu.Lock()
	defer h.statesMu.Unlock()
	st, ok := h.states[volumeID]
	return st, ok
}

// addScanned mounts a partition, registers it with its drive and walks its
// scan state to the end of a pass. Multi-partition drives park in Waiting;
// single-partition drives finalize directly.
func (h *coordHarness) addScanned(t *testing.T, id, node, path, label string, infected []string, park bool) {
	t.Helper()
	require.NoError(t, h.fs.MkdirAll(path, 0o755))

	part := h.vols.OnMount(volumes.MountEvent{
		DeviceID: id, DeviceNode: node, MountPath: path, VolumeLabel: label,
	})
	select {
	case <-h.vols.Events():
	default:
	}

	h.drv.AddPartition(part.ID, part.DriveKey)
	h.drv.MarkScanStarted(part.ID)

	st := scanner.NewScanState()
	require.NoError(t, st.BeginCounting(time.Now().Add(-time.Minute)))
	st.SetTotal(10)
	require.NoError(t, st.BeginScanning())
	st.UpdateProgress(10, path+"/file")
	if len(infected) > 0 {
		st.SetInfected(infected)
	}
	if park {
		require.NoError(t, st.MarkWaiting())
	} else {
		_, err := st.Finalize(time.Now())
		require.NoError(t, err)
	}

	h.statesMu.Lock()
	h.states[part.ID] = st
	h.statesMu.Unlock()

	h.drv.MarkScanCompleted(part.ID, len(infected) > 0)
}

func (h *coordHarness) methods() []string {
	var out []string
	for {
		select {
		case n := <-h.ns:
			out = append(out, n.Method)
		default:
			return out
		}
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond, msg)
}

// Scenario: a two-partition drive completes; the infected partition's report
// prints first, both records are stamped, and the drive ejects once.
func TestCoordinatorMultiPartitionDrive(t *testing.T) {
	h := newCoordHarness(t)

	h.addScanned(t, "u1", "/dev/sdb1", "/media/apples", "APPLES", nil, true)
	h.addScanned(t, "u2", "/dev/sdb2", "/media/zebra", "ZEBRA",
		[]string{"/media/zebra/evil.exe"}, true)
	require.True(t, h.drv.IsDriveFullyScanned("sdb"))

	h.signals <- "sdb"

	waitFor(t, func() bool { return len(h.drv.Keys()) == 0 }, "drive should be torn down")

	st1, _ := h.stateFor("u1")
	st2, _ := h.stateFor("u2")
	assert.Equal(t, scanner.StatusClean, st1.Status(), "parked clean partition finalized")
	assert.Equal(t, scanner.StatusInfected, st2.Status(), "parked infected partition finalized")
	assert.True(t, st1.Snapshot().Printed)
	assert.True(t, st2.Snapshot().Printed)

	reports := h.printer.printed()
	require.Len(t, reports, 2)
	assert.Contains(t, reports[0], "ZEBRA", "infected report prints first")
	assert.Contains(t, reports[1], "APPLES")

	assert.Equal(t, []string{"/dev/sdb"}, h.ejector.ejected())
	assert.Equal(t, 2, h.store.addedCount(), "parked partitions persisted at completion")
	assert.Equal(t, 2, h.store.printedCount())
	assert.Contains(t, h.methods(), notifications.MethodDriveEjected)
}

// Scenario: a single-partition drive was finalized by the scan itself; the
// pipeline only prints, stamps and ejects.
func TestCoordinatorSinglePartitionDrive(t *testing.T) {
	h := newCoordHarness(t)
	h.store.exists = true // the scan pass already recorded the transaction

	h.addScanned(t, "u1", "/dev/sdc1", "/media/solo", "SOLO", nil, false)
	h.signals <- "sdc"

	waitFor(t, func() bool { return len(h.drv.Keys()) == 0 }, "drive should be torn down")

	st, _ := h.stateFor("u1")
	assert.Equal(t, scanner.StatusClean, st.Status())
	assert.True(t, st.Snapshot().Printed)

	assert.Zero(t, h.store.addedCount(), "existing transaction is not duplicated")
	assert.Equal(t, 1, h.store.printedCount())
	assert.Equal(t, []string{"/dev/sdc"}, h.ejector.ejected())
}

// Scenario: the printer never recovers; an infected report failure is
// surfaced, but the drive ejects regardless.
func TestCoordinatorPrinterExhaustedStillEjects(t *testing.T) {
	h := newCoordHarness(t)
	h.printer.failures = 100

	h.addScanned(t, "u1", "/dev/sdd1", "/media/bad", "BAD",
		[]string{"/media/bad/evil.exe"}, false)
	h.signals <- "sdd"

	waitFor(t, func() bool { return len(h.ejector.ejected()) == 1 }, "drive should still eject")
	waitFor(t, func() bool { return len(h.drv.Keys()) == 0 }, "drive should be torn down")

	st, _ := h.stateFor("u1")
	assert.False(t, st.Snapshot().Printed, "failed infected report stays unprinted")
	assert.Contains(t, h.methods(), notifications.MethodPrintFailed)
	assert.Equal(t, 2, h.printer.callCount(), "infected budget bounds the attempts")
}

// Scenario: a clean report that cannot print does not hold the drive.
func TestCoordinatorCleanPrintFailureTreatedAsPrinted(t *testing.T) {
	h := newCoordHarness(t)
	h.printer.failures = 100

	h.addScanned(t, "u1", "/dev/sde1", "/media/ok", "OK", nil, false)
	h.signals <- "sde"

	waitFor(t, func() bool { return len(h.drv.Keys()) == 0 }, "drive should be torn down")

	st, _ := h.stateFor("u1")
	assert.True(t, st.Snapshot().Printed, "clean report failure counts as printed")
	assert.NotContains(t, h.methods(), notifications.MethodPrintFailed)
	assert.Equal(t, []string{"/dev/sde"}, h.ejector.ejected())
}

// Scenario: duplicate completion signals inside the teardown grace window
// run the pipeline exactly once.
func TestCoordinatorDeduplicatesSignals(t *testing.T) {
	h := newCoordHarness(t)

	h.addScanned(t, "u1", "/dev/sdf1", "/media/dup", "DUP", nil, false)

	h.signals <- "sdf"
	h.signals <- "sdf"
	h.signals <- "sdf"

	waitFor(t, func() bool { return len(h.ejector.ejected()) >= 1 }, "pipeline should run")
	// Give the duplicates time to be consumed and ignored.
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, []string{"/dev/sdf"}, h.ejector.ejected(), "exactly one eject")
	assert.Len(t, h.printer.printed(), 1, "exactly one print")
}

// Scenario: a stale signal for a drive that is no longer fully scanned is
// dropped, and does not block a later legitimate completion.
func TestCoordinatorStaleSignalIgnored(t *testing.T) {
	h := newCoordHarness(t)

	h.addScanned(t, "u1", "/dev/sdg1", "/media/stale", "STALE", nil, false)
	// A rescan started after the signal was emitted.
	h.drv.MarkScanStarted("u1")

	h.signals <- "sdg"
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, h.ejector.ejected(), "stale signal must not eject")

	// The scan finishes again; the fresh signal must get through.
	st, _ := h.stateFor("u1")
	st.Reset()
	require.NoError(t, st.BeginCounting(time.Now()))
	require.NoError(t, st.BeginScanning())
	st.UpdateProgress(10, "/f")
	_, err := st.Finalize(time.Now())
	require.NoError(t, err)
	h.drv.MarkScanCompleted("u1", false)

	h.signals <- "sdg"
	waitFor(t, func() bool { return len(h.ejector.ejected()) == 1 }, "fresh signal should eject")
}

// Scenario: partitions whose mount path vanished are skipped by the print
// queue but the drive still ejects.
func TestCoordinatorVanishedMountSkipsPrint(t *testing.T) {
	h := newCoordHarness(t)

	h.addScanned(t, "u1", "/dev/sdh1", "/media/ghost", "GHOST", nil, false)
	require.NoError(t, h.fs.RemoveAll("/media/ghost"))

	h.signals <- "sdh"
	waitFor(t, func() bool { return len(h.ejector.ejected()) == 1 }, "drive should eject")

	assert.Empty(t, h.printer.printed(), "vanished mount path prints nothing")
}

// Scenario: auto-print disabled bypasses the printer entirely.
func TestCoordinatorAutoPrintDisabled(t *testing.T) {
	h := newCoordHarness(t)
	h.cfg.SetAutoPrintEnabled(false)

	h.addScanned(t, "u1", "/dev/sdi1", "/media/quiet", "QUIET", nil, false)
	h.signals <- "sdi"

	waitFor(t, func() bool { return len(h.ejector.ejected()) == 1 }, "drive should eject")

	st, _ := h.stateFor("u1")
	assert.True(t, st.Snapshot().Printed, "partitions count as printed")
	assert.Zero(t, h.printer.callCount())
}

// Scenario: eject failure notifies and still tears down tracking.
func TestCoordinatorEjectFailure(t *testing.T) {
	h := newCoordHarness(t)
	h.ejector.err = assert.AnError

	h.addScanned(t, "u1", "/dev/sdj1", "/media/stuck", "STUCK", nil, false)
	h.signals <- "sdj"

	waitFor(t, func() bool { return len(h.drv.Keys()) == 0 },
		"failed eject still tears down the drive")
	assert.Contains(t, h.methods(), notifications.MethodEjectFailed)
	assert.NotContains(t, h.methods(), notifications.MethodDriveEjected)
}
