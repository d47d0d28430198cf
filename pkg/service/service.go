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

// Package service assembles the daemon: mount detection, volume and drive
// registries, the scan orchestrator and the completion pipeline, plus the
// goroutines that connect them.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/thokzz/AutomatedAVScanner/pkg/completion"
	"github.com/thokzz/AutomatedAVScanner/pkg/config"
	"github.com/thokzz/AutomatedAVScanner/pkg/database/historydb"
	"github.com/thokzz/AutomatedAVScanner/pkg/drives"
	"github.com/thokzz/AutomatedAVScanner/pkg/notifications"
	"github.com/thokzz/AutomatedAVScanner/pkg/scanner"
	"github.com/thokzz/AutomatedAVScanner/pkg/volumes"
)

const (
	notificationBuffer = 64
	completionBuffer   = 8
	refreshInterval    = 30 * time.Second
)

// Options carries the service's collaborators. Nil fields get production
// defaults; tests inject fakes.
type Options struct {
	Config   *config.Instance
	Detector volumes.MountDetector
	DB       *historydb.HistoryDB
	Engine   scanner.Engine
	Counter  scanner.FileCounter
	Printer  completion.Printer
	Ejector  completion.Ejector
	Clock    clockwork.Clock
	FS       afero.Fs
}

// Service owns the daemon's moving parts and their lifecycle.
type Service struct {
	cfg      *config.Instance
	detector volumes.MountDetector
	volumes  *volumes.Registry
	drives   *drives.Registry
	orch     *scanner.Orchestrator
	coord    *completion.Coordinator
	printCo  *completion.PrintCoordinator
	ejectCo  *completion.EjectCoordinator
	db       *historydb.HistoryDB
	clock    clockwork.Clock

	ns          chan notifications.Notification
	completions chan string
	subscribers []chan<- notifications.Notification

	states   map[string]*scanner.ScanState
	statesMu sync.RWMutex
	subsMu   sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a stopped service. Call Start to bring it up.
func New(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Engine == nil {
		opts.Engine = scanner.NewClamScan(nil)
	}
	if opts.Counter == nil {
		opts.Counter = scanner.NewWalkCounter()
	}
	if opts.Printer == nil {
		opts.Printer = completion.NewLPPrinter(nil, "")
	}
	if opts.Ejector == nil {
		opts.Ejector = completion.NewCommandEjector(nil)
	}

	s := &Service{
		cfg:         opts.Config,
		detector:    opts.Detector,
		volumes:     volumes.NewRegistry(opts.FS),
		drives:      drives.NewRegistry(),
		db:          opts.DB,
		clock:       opts.Clock,
		ns:          make(chan notifications.Notification, notificationBuffer),
		completions: make(chan string, completionBuffer),
		states:      make(map[string]*scanner.ScanState),
	}
	s.volumes.SetIDResolver(volumes.DefaultIDResolver())

	var orchStore scanner.TransactionStore
	var coordStore completion.TransactionStore
	if s.db != nil {
		orchStore = s.db
		coordStore = s.db
	}

	s.orch = scanner.NewOrchestrator(
		s.cfg, s.volumes, s.drives,
		opts.Counter, opts.Engine, orchStore,
		s.clock, s.ns, s.completions,
	)

	s.printCo = completion.NewPrintCoordinator(opts.Printer)
	s.ejectCo = completion.NewEjectCoordinator(opts.Ejector)
	s.coord = completion.NewCoordinator(
		s.cfg, s.volumes, s.drives,
		s.StateFor,
		s.printCo, s.ejectCo,
		coordStore, s.clock, s.ns, s.completions,
	)

	return s
}

// Start brings up the event loops and, when a detector is configured, mount
// monitoring. Returns after startup; the service runs on its own goroutines
// until Stop.
func (s *Service) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	s.spawn(func() { s.coord.Run(ctx) })
	s.spawn(func() { s.consumeNotifications(ctx) })
	s.spawn(func() { s.consumeNewPartitions(ctx) })
	s.spawn(func() { s.refreshLoop(ctx) })

	if s.detector != nil {
		if err := s.detector.Start(); err != nil {
			cancel()
			return err
		}
		s.spawn(func() { s.consumeMounts(ctx) })
		s.spawn(func() { s.consumeUnmounts(ctx) })
	}

	// Pick up anything already inserted before the daemon started.
	if _, err := s.volumes.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial volume refresh failed")
	}

	log.Info().Msg("service started")
	return nil
}

// Stop tears the service down and waits for every loop to exit.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.detector != nil {
		s.detector.Stop()
	}
	s.wg.Wait()
	log.Info().Msg("service stopped")
}

func (s *Service) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Subscribe registers a channel that receives a copy of every notification.
// Slow subscribers drop notifications rather than stalling the daemon.
func (s *Service) Subscribe(ch chan<- notifications.Notification) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subscribers = append(s.subscribers, ch)
}

// StateFor returns the live scan state for a volume.
func (s *Service) StateFor(volumeID string) (*scanner.ScanState, bool) {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	st, ok := s.states[volumeID]
	return st, ok
}

func (s *Service) ensureState(volumeID string) *scanner.ScanState {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	st, ok := s.states[volumeID]
	if !ok {
		st = scanner.NewScanState()
		s.states[volumeID] = st
	}
	return st
}

// Volumes exposes the volume registry for status rendering.
func (s *Service) Volumes() *volumes.Registry { return s.volumes }

// Drives exposes the drive registry for status rendering.
func (s *Service) Drives() *drives.Registry { return s.drives }

// History exposes the scan transaction store; nil when history is disabled.
func (s *Service) History() *historydb.HistoryDB { return s.db }

// ScanVolume triggers a scan pass for one tracked volume, regardless of the
// auto-scan setting.
func (s *Service) ScanVolume(ctx context.Context, volumeID string) error {
	part, ok := s.volumes.Get(volumeID)
	if !ok {
		return scanner.ErrVolumeRemoved
	}
	st := s.ensureState(part.ID)
	return s.orch.ScanPartition(ctx, part, st)
}

// RescanDrive clears a drive's aggregation counters and retry abandonment,
// then rescans every partition still mounted on it.
func (s *Service) RescanDrive(ctx context.Context, driveKey string) {
	ids := s.drives.PartitionsOf(driveKey)
	s.drives.ResetDriveState(driveKey)
	s.ejectCo.Reset(driveKey)
	for _, id := range ids {
		s.printCo.Reset(id)
		part, ok := s.volumes.Get(id)
		if !ok {
			continue
		}
		go func(p volumes.Partition) {
			st := s.ensureState(p.ID)
			if err := s.orch.ScanPartition(ctx, p, st); err != nil {
				log.Error().Err(err).Str("volume_id", p.ID).Msg("rescan failed")
			}
		}(part)
	}
}

func (s *Service) consumeMounts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.detector.Events():
			if !ok {
				return
			}
			s.volumes.OnMount(ev)
		}
	}
}

func (s *Service) consumeUnmounts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-s.detector.Unmounts():
			if !ok {
				return
			}
			if s.volumes.OnUnmount(id) {
				s.drives.RemovePartition(id)
				s.dropState(id)
				notifications.PartitionRemoved(s.ns, id)
			}
		}
	}
}

// consumeNewPartitions turns registry mount events into scan passes when
// auto-scan is on.
func (s *Service) consumeNewPartitions(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case part := <-s.volumes.Events():
			notifications.PartitionAdded(s.ns, notifications.PartitionParams{
				VolumeID:  part.ID,
				Label:     part.Label,
				MountPath: part.MountPath,
				DriveKey:  part.DriveKey,
			})
			if !s.cfg.AutoScanEnabled() {
				log.Info().Str("volume_id", part.ID).
					Msg("auto scan disabled, partition waiting for manual scan")
				continue
			}
			s.spawn(func() {
				st := s.ensureState(part.ID)
				if err := s.orch.ScanPartition(ctx, part, st); err != nil {
					log.Error().Err(err).Str("volume_id", part.ID).Msg("scan failed")
				}
			})
		}
	}
}

// refreshLoop periodically reconciles the volume registry against the OS
// mount table, catching events the detector missed, and prunes scan states
// for volumes that are gone.
func (s *Service) refreshLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := s.volumes.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("volume refresh failed")
			}
			s.pruneStates()
		}
	}
}

func (s *Service) pruneStates() {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	for id := range s.states {
		if _, ok := s.volumes.Get(id); !ok {
			delete(s.states, id)
		}
	}
}

func (s *Service) dropState(volumeID string) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	delete(s.states, volumeID)
}

// consumeNotifications logs the event stream and fans it out to subscribers.
func (s *Service) consumeNotifications(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.ns:
			log.Debug().Str("method", n.Method).Interface("params", n.Params).
				Msg("notification")
			s.subsMu.Lock()
			for _, sub := range s.subscribers {
				select {
				case sub <- n:
				default:
				}
			}
			s.subsMu.Unlock()
		}
	}
}
