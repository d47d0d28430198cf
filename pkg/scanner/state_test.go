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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

func TestScanStateHappyPathSinglePartition(t *testing.T) {
	t.Parallel()

	st := NewScanState()
	assert.Equal(t, StatusQueued, st.Status())

	require.NoError(t, st.BeginCounting(testTime))
	st.SetTotal(100)
	require.NoError(t, st.BeginScanning())

	st.UpdateProgress(50, "/media/usb0/a.txt")
	snap := st.Snapshot()
	assert.InDelta(t, 0.5, snap.Progress, 0.001)
	assert.Equal(t, "/media/usb0/a.txt", snap.LastFile)

	st.UpdateProgress(100, "/media/usb0/b.txt")
	status, err := st.Finalize(testTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusClean, status)
	assert.True(t, status.Terminal())

	snap = st.Snapshot()
	assert.Equal(t, testTime, snap.StartedAt)
	assert.Equal(t, testTime.Add(time.Minute), snap.EndedAt)
	assert.InDelta(t, 1.0, snap.Progress, 0.001)
}

func TestScanStateInfectedOutranksClean(t *testing.T) {
	t.Parallel()

	st := NewScanState()
	require.NoError(t, st.BeginCounting(testTime))
	require.NoError(t, st.BeginScanning())

	st.SetInfected([]string{"/media/usb0/evil.exe"})
	status, err := st.Finalize(testTime)
	require.NoError(t, err)
	assert.Equal(t, StatusInfected, status)
}

func TestScanStateWaitingThenFinalize(t *testing.T) {
	t.Parallel()

	st := NewScanState()
	st.SetSiblings(2)
	require.NoError(t, st.BeginCounting(testTime))
	require.NoError(t, st.BeginScanning())
	require.NoError(t, st.MarkWaiting())

	assert.Equal(t, StatusWaiting, st.Status())
	assert.True(t, st.Snapshot().MultiPartition())
	assert.InDelta(t, 1.0, st.Snapshot().Progress, 0.001)

	status, err := st.Finalize(testTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusClean, status)
}

func TestScanStateInvalidTransitions(t *testing.T) {
	t.Parallel()

	st := NewScanState()

	// Cannot start scanning before counting.
	require.Error(t, st.BeginScanning())

	// Cannot park a queued partition.
	require.Error(t, st.MarkWaiting())

	// Terminal states accept no forward transition.
	require.NoError(t, st.BeginCounting(testTime))
	require.NoError(t, st.BeginScanning())
	_, err := st.Finalize(testTime)
	require.NoError(t, err)

	require.Error(t, st.BeginCounting(testTime))
	require.Error(t, st.BeginScanning())
	require.Error(t, st.MarkWaiting())
	_, err = st.Finalize(testTime)
	require.Error(t, err)
}

func TestScanStateResetFromAnyStatus(t *testing.T) {
	t.Parallel()

	st := NewScanState()
	require.NoError(t, st.BeginCounting(testTime))
	st.SetTotal(10)
	require.NoError(t, st.BeginScanning())
	st.UpdateProgress(5, "/f")
	st.SetInfected([]string{"/f"})
	st.MarkPrinted()
	_, err := st.Finalize(testTime)
	require.NoError(t, err)

	st.Reset()
	snap := st.Snapshot()
	assert.Equal(t, StatusQueued, snap.Status)
	assert.Zero(t, snap.ScannedFiles)
	assert.Zero(t, snap.TotalFiles)
	assert.Empty(t, snap.InfectedPaths)
	assert.False(t, snap.Printed)
	assert.True(t, snap.StartedAt.IsZero())
}

func TestScanStateFailBestResultWins(t *testing.T) {
	t.Parallel()

	t.Run("no files processed means error", func(t *testing.T) {
		t.Parallel()
		st := NewScanState()
		require.NoError(t, st.BeginCounting(testTime))
		assert.Equal(t, StatusError, st.Fail(testTime))
	})

	t.Run("partial clean scan reports clean", func(t *testing.T) {
		t.Parallel()
		st := NewScanState()
		require.NoError(t, st.BeginCounting(testTime))
		st.SetTotal(100)
		require.NoError(t, st.BeginScanning())
		st.UpdateProgress(42, "/f")
		assert.Equal(t, StatusClean, st.Fail(testTime))
	})

	t.Run("infections found always report infected", func(t *testing.T) {
		t.Parallel()
		st := NewScanState()
		require.NoError(t, st.BeginCounting(testTime))
		require.NoError(t, st.BeginScanning())
		st.UpdateProgress(42, "/f")
		st.SetInfected([]string{"/media/usb0/evil.exe"})
		assert.Equal(t, StatusInfected, st.Fail(testTime))
	})
}

func TestScanStateProgressClamped(t *testing.T) {
	t.Parallel()

	st := NewScanState()
	require.NoError(t, st.BeginCounting(testTime))
	st.SetTotal(10)
	require.NoError(t, st.BeginScanning())

	// Engine enumerated more files than the counter estimated.
	st.UpdateProgress(15, "/f")
	assert.InDelta(t, 1.0, st.Snapshot().Progress, 0.001)
	assert.Equal(t, int64(15), st.Snapshot().ScannedFiles)
}

func TestScanStateNegativeTotalTreatedAsUnknown(t *testing.T) {
	t.Parallel()

	st := NewScanState()
	require.NoError(t, st.BeginCounting(testTime))
	st.SetTotal(-5)
	require.NoError(t, st.BeginScanning())
	st.UpdateProgress(3, "/f")
	assert.Zero(t, st.Snapshot().Progress, "no ratio without a total")
}
