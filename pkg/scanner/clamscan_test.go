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
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockExecutor scripts the Stream output of a subprocess.
type mockExecutor struct {
	lines     []string
	streamErr error
	lookErr   error
	gotName   string
	gotArgs   []string
}

func (m *mockExecutor) Run(_ context.Context, _ string, _ ...string) error { return nil }

func (m *mockExecutor) Output(_ context.Context, _ string, _ ...string) ([]byte, error) {
	return nil, nil
}

func (m *mockExecutor) Stream(_ context.Context, onLine func(string), name string, args ...string) error {
	m.gotName = name
	m.gotArgs = args
	for _, l := range m.lines {
		onLine(l)
	}
	return m.streamErr
}

func (m *mockExecutor) LookPath(name string) (string, error) {
	if m.lookErr != nil {
		return "", m.lookErr
	}
	return "/usr/bin/" + name, nil
}

// exitCodeOne produces a genuine *exec.ExitError with code 1, the way the
// real clamscan reports infections.
func exitCodeOne(t *testing.T) error {
	t.Helper()
	err := exec.Command("sh", "-c", "exit 1").Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 1, exitErr.ExitCode())
	return err
}

func TestClamScanAvailable(t *testing.T) {
	t.Parallel()

	cs := NewClamScan(&mockExecutor{})
	require.NoError(t, cs.Available())

	cs = NewClamScan(&mockExecutor{lookErr: exec.ErrNotFound})
	err := cs.Available()
	require.ErrorIs(t, err, ErrEngineUnavailable)
}

func TestClamScanCleanRun(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	m := &mockExecutor{lines: []string{
		"Scanning " + root + "/a.txt",
		"Scanning " + root + "/b.txt",
		"----------- SCAN SUMMARY -----------",
		"Infected files: 0",
	}}

	var updates []Progress
	cs := NewClamScan(m)
	res, err := cs.Scan(context.Background(), root, Filters{}, func(p Progress) {
		updates = append(updates, p)
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Processed)
	assert.Empty(t, res.InfectedPaths)
	require.Len(t, updates, 2)
	assert.Equal(t, root+"/a.txt", updates[0].CurrentFile)
	assert.Equal(t, int64(2), updates[1].Scanned)
}

func TestClamScanInfectedExitCodeIsSuccess(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	m := &mockExecutor{
		lines: []string{
			"Scanning " + root + "/ok.txt",
			"Scanning " + root + "/evil.exe",
			root + "/evil.exe: Win.Test.EICAR_HDB-1 FOUND",
		},
		streamErr: exitCodeOne(t),
	}

	cs := NewClamScan(m)
	res, err := cs.Scan(context.Background(), root, Filters{}, nil)
	require.NoError(t, err, "exit code 1 means virus found, not failure")

	assert.Equal(t, int64(2), res.Processed)
	assert.Equal(t, []string{root + "/evil.exe"}, res.InfectedPaths)
}

func TestClamScanArgs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	m := &mockExecutor{}
	cs := NewClamScan(m)

	filters := Filters{
		SkipExtensionsEnabled: true,
		ExtensionsToSkip:      []string{"iso", "mp4"},
		FileSizeLimitMB:       100,
	}
	_, err := cs.Scan(context.Background(), root, filters, nil)
	require.NoError(t, err)

	assert.Equal(t, "clamscan", m.gotName)
	assert.Equal(t, []string{
		"-r", "-v", "--stdout",
		`--exclude=\.iso$`, `--exclude=\.mp4$`,
		"--max-filesize=100M",
		root,
	}, m.gotArgs)
}

func TestClamScanMissingRoot(t *testing.T) {
	t.Parallel()

	cs := NewClamScan(&mockExecutor{})
	_, err := cs.Scan(context.Background(), "/nonexistent/path/zz", Filters{}, nil)
	require.ErrorIs(t, err, ErrVolumeRemoved)
}

func TestClamScanVolumeYankedMidScan(t *testing.T) {
	t.Parallel()

	// Root exists at Scan start; the executor then fails and the root is
	// gone at the post-failure check. Simulated by deleting inside Stream.
	root := t.TempDir()
	m := &yankingExecutor{root: root, err: errors.New("clamscan: /media/usb0: No such file or directory")}

	cs := NewClamScan(m)
	_, err := cs.Scan(context.Background(), root, Filters{}, nil)
	require.ErrorIs(t, err, ErrVolumeRemoved)
}

type yankingExecutor struct {
	mockExecutor
	root string
	err  error
}

func (y *yankingExecutor) Stream(_ context.Context, _ func(string), _ string, _ ...string) error {
	if err := os.RemoveAll(y.root); err != nil {
		return err
	}
	return y.err
}

func TestClamScanGenericFailure(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	m := &mockExecutor{streamErr: errors.New("clamscan: database outdated")}

	cs := NewClamScan(m)
	_, err := cs.Scan(context.Background(), root, Filters{}, nil)

	var failed *ScanFailedError
	require.ErrorAs(t, err, &failed)
	assert.Contains(t, failed.Message, "database outdated")
}

func TestClamScanContextCancelled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	m := &cancellingExecutor{cancel: cancel}

	cs := NewClamScan(m)
	_, err := cs.Scan(ctx, root, Filters{}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

type cancellingExecutor struct {
	mockExecutor
	cancel context.CancelFunc
}

func (c *cancellingExecutor) Stream(_ context.Context, _ func(string), _ string, _ ...string) error {
	c.cancel()
	return errors.New("signal: killed")
}
