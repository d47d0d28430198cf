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

package service

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
	"go.uber.org/goleak"

	"github.com/thokzz/AutomatedAVScanner/pkg/config"
	"github.com/thokzz/AutomatedAVScanner/pkg/notifications"
	"github.com/thokzz/AutomatedAVScanner/pkg/scanner"
	"github.com/thokzz/AutomatedAVScanner/pkg/volumes"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeDetector struct {
	events   chan volumes.MountEvent
	unmounts chan string
	stopOnce sync.Once
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{
		events:   make(chan volumes.MountEvent, 8),
		unmounts: make(chan string, 8),
	}
}

func (d *fakeDetector) Events() <-chan volumes.MountEvent { return d.events }
func (d *fakeDetector) Unmounts() <-chan string           { return d.unmounts }
func (d *fakeDetector) Start() error                      { return nil }
func (d *fakeDetector) Forget(string)                     {}

func (d *fakeDetector) Stop() {
	d.stopOnce.Do(func() {
		close(d.events)
		close(d.unmounts)
	})
}

type stubCounter struct{}

func (stubCounter) Count(_ context.Context, _ string, _ scanner.Filters, _ func(int64)) (scanner.CountResult, error) {
	return scanner.CountResult{Eligible: 3}, nil
}

type stubEngine struct {
	infected []string
}

func (stubEngine) Available() error { return nil }

func (e stubEngine) Scan(_ context.Context, _ string, _ scanner.Filters, onProgress func(scanner.Progress)) (scanner.Result, error) {
	if onProgress != nil {
		onProgress(scanner.Progress{Scanned: 3, InfectedPaths: e.infected})
	}
	return scanner.Result{Processed: 3, InfectedPaths: e.infected}, nil
}

type recordingPrinter struct {
	mu      sync.Mutex
	reports []string
}

func (p *recordingPrinter) Print(_ context.Context, report string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, report)
	return nil
}

func (p *recordingPrinter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reports)
}

type recordingEjector struct {
	mu      sync.Mutex
	devices []string
}

func (e *recordingEjector) Eject(_ context.Context, device string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.devices = append(e.devices, device)
	return nil
}

func (e *recordingEjector) ejected() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.devices))
	copy(out, e.devices)
	return out
}

func serviceTestConfig(t *testing.T) *config.Instance {
	t.Helper()
	dir := t.TempDir()
	content := `
config_schema = 1

[completion]
settle_delay_ms = 0
teardown_grace_ms = 50
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.CfgFile), []byte(content), 0o600))
	t.Setenv(config.CfgEnv, "")
	cfg, err := config.NewConfig(dir, config.BaseDefaults)
	require.NoError(t, err)
	return cfg
}

func TestServiceEndToEndMountScanEject(t *testing.T) {
	cfg := serviceTestConfig(t)
	detector := newFakeDetector()
	printer := &recordingPrinter{}
	ejector := &recordingEjector{}
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/media/stick", 0o755))

	svc := New(Options{
		Config:   cfg,
		Detector: detector,
		Engine:   stubEngine{},
		Counter:  stubCounter{},
		Printer:  printer,
		Ejector:  ejector,
		FS:       fs,
	})

	events := make(chan notifications.Notification, 64)
	svc.Subscribe(events)

	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	detector.events <- volumes.MountEvent{
		DeviceID:    "u1",
		DeviceNode:  "/dev/sdk1",
		MountPath:   "/media/stick",
		VolumeLabel: "STICK",
	}

	require.Eventually(t, func() bool {
		return len(ejector.ejected()) == 1
	}, 5*time.Second, 10*time.Millisecond, "mount should scan, print and eject")

	assert.Equal(t, []string{"/dev/sdk"}, ejector.ejected())
	assert.Equal(t, 1, printer.count())

	st, ok := svc.StateFor("u1")
	require.True(t, ok)
	assert.Equal(t, scanner.StatusClean, st.Status())
	assert.True(t, st.Snapshot().Printed)

	assert.Empty(t, svc.Drives().Keys(), "drive tracking torn down after eject")

	var methods []string
	deadline := time.After(time.Second)
collect:
	for {
		select {
		case n := <-events:
			methods = append(methods, n.Method)
			if n.Method == notifications.MethodDriveEjected {
				break collect
			}
		case <-deadline:
			break collect
		}
	}
	assert.Contains(t, methods, notifications.MethodPartitionAdded)
	assert.Contains(t, methods, notifications.MethodScanStarted)
	assert.Contains(t, methods, notifications.MethodScanCompleted)
	assert.Contains(t, methods, notifications.MethodDriveEjected)
}

func TestServiceAutoScanDisabled(t *testing.T) {
	cfg := serviceTestConfig(t)
	cfg.SetAutoScanEnabled(false)
	detector := newFakeDetector()
	ejector := &recordingEjector{}
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/media/idle", 0o755))

	svc := New(Options{
		Config:   cfg,
		Detector: detector,
		Engine:   stubEngine{},
		Counter:  stubCounter{},
		Printer:  &recordingPrinter{},
		Ejector:  ejector,
		FS:       fs,
	})
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	detector.events <- volumes.MountEvent{
		DeviceID: "u1", DeviceNode: "/dev/sdl1", MountPath: "/media/idle",
	}

	require.Eventually(t, func() bool {
		_, ok := svc.Volumes().Get("u1")
		return ok
	}, 2*time.Second, 10*time.Millisecond, "partition should be tracked")

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, ejector.ejected(), "no automatic scan, no eject")
	_, ok := svc.StateFor("u1")
	assert.False(t, ok, "no scan state without a scan")

	// A manual scan still works.
	require.NoError(t, svc.ScanVolume(context.Background(), "u1"))
	require.Eventually(t, func() bool {
		return len(ejector.ejected()) == 1
	}, 5*time.Second, 10*time.Millisecond, "manual scan should complete the drive")
}

func TestServiceUnmountRemovesTracking(t *testing.T) {
	cfg := serviceTestConfig(t)
	detector := newFakeDetector()
	fs := afero.NewMemMapFs()
	cfg.SetAutoScanEnabled(false)

	svc := New(Options{
		Config:   cfg,
		Detector: detector,
		Engine:   stubEngine{},
		Counter:  stubCounter{},
		Printer:  &recordingPrinter{},
		Ejector:  &recordingEjector{},
		FS:       fs,
	})
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	detector.events <- volumes.MountEvent{
		DeviceID: "u1", DeviceNode: "/dev/sdm1", MountPath: "/media/gone",
	}
	require.Eventually(t, func() bool {
		_, ok := svc.Volumes().Get("u1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	detector.unmounts <- "u1"
	require.Eventually(t, func() bool {
		_, ok := svc.Volumes().Get("u1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "unmount should remove tracking")
	assert.Empty(t, svc.Drives().Keys())
}

func TestServiceScanUnknownVolume(t *testing.T) {
	cfg := serviceTestConfig(t)
	svc := New(Options{Config: cfg, Engine: stubEngine{}, Counter: stubCounter{},
		Printer: &recordingPrinter{}, Ejector: &recordingEjector{}, FS: afero.NewMemMapFs()})
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	err := svc.ScanVolume(context.Background(), "missing")
	require.ErrorIs(t, err, scanner.ErrVolumeRemoved)
}
