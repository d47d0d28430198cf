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
	"fmt"
	"time"

	"github.com/thokzz/AutomatedAVScanner/pkg/helpers/syncutil"
)

// Status is a partition's position in its scan lifecycle.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusCounting Status = "counting"
	StatusScanning Status = "scanning"
	StatusWaiting  Status = "waiting"
	StatusClean    Status = "clean"
	StatusInfected Status = "infected"
	StatusError    Status = "error"
)

// Terminal reports whether a status requires no further automatic transition.
func (s Status) Terminal() bool {
	return s == StatusClean || s == StatusInfected || s == StatusError
}

// validNext defines the allowed forward edges of the state machine. Reset is
// the only backwards edge and is handled separately.
var validNext = map[Status][]Status{
	StatusQueued:   {StatusCounting},
	StatusCounting: {StatusScanning, StatusClean, StatusError},
	StatusScanning: {StatusWaiting, StatusClean, StatusInfected, StatusError},
	StatusWaiting:  {StatusClean, StatusInfected},
}

// ScanState is the per-partition mutable scan state. It is owned by the
// orchestrator; the rendering layer reads it only through Snapshot.
type ScanState struct {
	startedAt    time.Time
	endedAt      time.Time
	status       Status
	lastFile     string
	infected     []string
	progress     float64
	scannedFiles int64
	skippedFiles int64
	totalFiles   int64
	siblingCount int
	printed      bool
	mu           syncutil.RWMutex
}

// StateSnapshot is a read-only copy of a ScanState at one point in time.
type StateSnapshot struct {
	StartedAt    time.Time
	EndedAt      time.Time
	Status       Status
	LastFile     string
	InfectedPaths []string
	Progress     float64
	ScannedFiles int64
	SkippedFiles int64
	TotalFiles   int64
	SiblingCount int
	Printed      bool
}

// MultiPartition reports whether the partition shares its drive with siblings.
func (s StateSnapshot) MultiPartition() bool {
	return s.SiblingCount > 1
}

func NewScanState() *ScanState {
	return &ScanState{status: StatusQueued}
}

// Reset returns the state to Queued with all counts zeroed, regardless of
// prior status. Used on every (re)scan request.
func (s *ScanState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusQueued
	s.progress = 0
	s.scannedFiles = 0
	s.skippedFiles = 0
	s.totalFiles = 0
	s.lastFile = ""
	s.infected = nil
	s.startedAt = time.Time{}
	s.endedAt = time.Time{}
	s.printed = false
}

func (s *ScanState) transitionLocked(to Status) error {
	for _, next := range validNext[s.status] {
		if next == to {
			s.status = to
			return nil
		}
	}
	return fmt.Errorf("invalid scan state transition %s -> %s", s.status, to)
}

// SetSiblings records the partition's drive-sibling metadata.
func (s *ScanState) SetSiblings(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.siblingCount = count
}

// BeginCounting transitions Queued -> Counting and stamps the start time.
func (s *ScanState) BeginCounting(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(StatusCounting); err != nil {
		return err
	}
	s.startedAt = now
	return nil
}

// SetTotal records the approximate file total used for progress scaling.
func (s *ScanState) SetTotal(total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if total < 0 {
		total = 0
	}
	s.totalFiles = total
}

// BeginScanning transitions Counting -> Scanning.
func (s *ScanState) BeginScanning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(StatusScanning)
}

// UpdateProgress records streamed per-file progress. The total is only an
// approximation, so the ratio is clamped: the scan engine's own filtered
// enumeration can exceed the counted total by a few percent.
func (s *ScanState) UpdateProgress(scanned int64, lastFile string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scannedFiles = scanned
	if lastFile != "" {
		s.lastFile = lastFile
	}
	if s.totalFiles > 0 {
		s.progress = float64(scanned) / float64(s.totalFiles)
		if s.progress > 1 {
			s.progress = 1
		}
	}
}

// SetInfected replaces the infected path list with the engine's running list.
func (s *ScanState) SetInfected(paths []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infected = append(s.infected[:0], paths...)
}

// AddSkipped accumulates files excluded by the filter configuration.
func (s *ScanState) AddSkipped(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skippedFiles += n
}

// MarkWaiting parks a fully scanned partition until its drive siblings catch
// up; the completion coordinator finalizes it later.
func (s *ScanState) MarkWaiting() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(StatusWaiting); err != nil {
		return err
	}
	s.progress = 1
	return nil
}

// Finalize decides the terminal status from the infected list: Clean iff the
// list is empty. Valid from Scanning or Waiting.
func (s *ScanState) Finalize(now time.Time) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := StatusClean
	if len(s.infected) > 0 {
		target = StatusInfected
	}
	if err := s.transitionLocked(target); err != nil {
		return s.status, err
	}
	s.progress = 1
	s.endedAt = now
	return s.status, nil
}

// Fail forces a terminal status after an unrecoverable error. A partial scan
// that already processed files without finding infections is reported as
// Clean rather than Error, so otherwise-successful scans do not surface
// spurious failures.
func (s *ScanState) Fail(now time.Time) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := StatusError
	if s.scannedFiles > 0 && len(s.infected) == 0 {
		target = StatusClean
	} else if len(s.infected) > 0 {
		target = StatusInfected
	}
	s.status = target
	s.endedAt = now
	return s.status
}

// MarkPrinted flags the partition's report as printed.
func (s *ScanState) MarkPrinted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.printed = true
}

// Status returns the current lifecycle status.
func (s *ScanState) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Snapshot returns a read-only copy of the full state.
func (s *ScanState) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infected := make([]string, len(s.infected))
	copy(infected, s.infected)

	return StateSnapshot{
		StartedAt:     s.startedAt,
		EndedAt:       s.endedAt,
		Status:        s.status,
		LastFile:      s.lastFile,
		InfectedPaths: infected,
		Progress:      s.progress,
		ScannedFiles:  s.scannedFiles,
		SkippedFiles:  s.skippedFiles,
		TotalFiles:    s.totalFiles,
		SiblingCount:  s.siblingCount,
		Printed:       s.printed,
	}
}
