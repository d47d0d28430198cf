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

//go:build linux

package volumes

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/thokzz/AutomatedAVScanner/pkg/helpers/syncutil"
)

// fallbackRescanInterval is the maximum time between mount rescans. This
// ensures mounts are detected even when poll() doesn't fire events on some
// minimal Linux systems.
const fallbackRescanInterval = 1 * time.Second

// linuxMountDetector implements MountDetector for Linux by polling
// /proc/mounts, with fsnotify watches on the removable mount roots to trigger
// prompt rescans when a mount directory appears or disappears.
type linuxMountDetector struct {
	lastScan    time.Time
	mountsFile  *os.File
	watcher     *fsnotify.Watcher
	events      chan MountEvent
	unmounts    chan string
	stopChan    chan struct{}
	rescanChan  chan struct{}
	mountedDevs map[string]MountEvent
	wg          sync.WaitGroup
	mu          syncutil.RWMutex
	stopOnce    sync.Once
}

// NewMountDetector creates a new Linux mount detector.
func NewMountDetector() (MountDetector, error) {
	return &linuxMountDetector{
		events:      make(chan MountEvent, 10),
		unmounts:    make(chan string, 10),
		stopChan:    make(chan struct{}),
		rescanChan:  make(chan struct{}, 1),
		mountedDevs: make(map[string]MountEvent),
	}, nil
}

func (d *linuxMountDetector) Events() <-chan MountEvent {
	return d.events
}

func (d *linuxMountDetector) Unmounts() <-chan string {
	return d.unmounts
}

func (d *linuxMountDetector) Start() error {
	file, err := os.Open("/proc/mounts")
	if err != nil {
		return fmt.Errorf("failed to open /proc/mounts: %w", err)
	}
	d.mountsFile = file

	// Watch removable mount roots so a new mount directory triggers an
	// immediate rescan instead of waiting for the next poll interval.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("fsnotify unavailable, relying on poll only")
	} else {
		d.watcher = watcher
		for _, root := range removableRoots {
			if _, statErr := os.Stat(root); statErr != nil {
				continue
			}
			if addErr := watcher.Add(root); addErr != nil {
				log.Debug().Err(addErr).Str("root", root).Msg("failed to watch mount root")
			}
		}
		d.wg.Add(1)
		go d.watchMountRoots()
	}

	log.Debug().Msg("watching /proc/mounts for mount events via poll()")

	d.wg.Add(1)
	go d.pollMountChanges()

	return nil
}

func (d *linuxMountDetector) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopChan)
		d.wg.Wait()
		if d.watcher != nil {
			_ = d.watcher.Close()
		}
		if d.mountsFile != nil {
			_ = d.mountsFile.Close()
		}
		close(d.events)
		close(d.unmounts)
	})
}

func (d *linuxMountDetector) Forget(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.mountedDevs, deviceID)
	log.Debug().Str("device_id", deviceID).Msg("forgot stale mount from tracking")
}

func (d *linuxMountDetector) watchMountRoots() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopChan:
			return
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			// Coalesce bursts: the rescan channel holds at most one
			// pending request.
			select {
			case d.rescanChan <- struct{}{}:
			default:
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			log.Debug().Err(err).Msg("fsnotify error on mount root watch")
		}
	}
}

func (d *linuxMountDetector) pollMountChanges() {
	defer d.wg.Done()

	d.scanMounts()
	d.mu.Lock()
	d.lastScan = time.Now()
	d.mu.Unlock()

	pollFds := []unix.PollFd{
		{
			Fd:     int32(d.mountsFile.Fd()),
			Events: unix.POLLPRI | unix.POLLERR,
		},
	}

	for {
		select {
		case <-d.stopChan:
			return
		case <-d.rescanChan:
			d.rescan("mount root change")
			continue
		default:
		}

		// Poll with 1 second timeout to check stopChan periodically.
		n, err := unix.Poll(pollFds, 1000)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.Warn().Err(err).Msg("poll() on /proc/mounts failed")
			return
		}

		select {
		case <-d.stopChan:
			return
		default:
		}

		if n > 0 && pollFds[0].Revents&(unix.POLLPRI|unix.POLLERR) != 0 {
			d.rescan("poll event")
			continue
		}

		d.mu.RLock()
		elapsed := time.Since(d.lastScan)
		d.mu.RUnlock()
		if elapsed >= fallbackRescanInterval {
			d.rescan("periodic interval")
		}
	}
}

func (d *linuxMountDetector) rescan(reason string) {
	if _, err := d.mountsFile.Seek(0, io.SeekStart); err != nil {
		log.Warn().Err(err).Msg("failed to seek /proc/mounts")
		return
	}
	log.Debug().Str("reason", reason).Msg("rescanning mounts")
	d.scanMounts()
	d.mu.Lock()
	d.lastScan = time.Now()
	d.mu.Unlock()
}

func (d *linuxMountDetector) scanMounts() {
	currentMounts := make(map[string]MountEvent)

	scanner := bufio.NewScanner(d.mountsFile)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}

		device := fields[0]
		mountPath := fields[1]
		fstype := fields[2]

		if !inScope(device, mountPath, fstype) {
			continue
		}

		deviceID := resolveDeviceUUID(device)
		if deviceID == "" {
			deviceID = device
		}

		currentMounts[deviceID] = MountEvent{
			DeviceID:    deviceID,
			DeviceNode:  device,
			MountPath:   mountPath,
			VolumeLabel: filepath.Base(mountPath),
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for deviceID, event := range currentMounts {
		if _, exists := d.mountedDevs[deviceID]; !exists {
			d.mountedDevs[deviceID] = event

			select {
			case d.events <- event:
				log.Debug().
					Str("device_id", deviceID).
					Str("mount_path", event.MountPath).
					Str("label", event.VolumeLabel).
					Msg("mount detected")
			case <-d.stopChan:
				return
			}
		}
	}

	for deviceID, event := range d.mountedDevs {
		if _, exists := currentMounts[deviceID]; !exists {
			delete(d.mountedDevs, deviceID)

			select {
			case d.unmounts <- deviceID:
				log.Debug().
					Str("device_id", deviceID).
					Str("mount_path", event.MountPath).
					Msg("unmount detected")
			case <-d.stopChan:
				return
			}
		}
	}
}

// DefaultIDResolver returns the platform hook mapping a block device node to
// its filesystem UUID, for use with Registry.SetIDResolver.
func DefaultIDResolver() func(deviceNode string) string {
	return resolveDeviceUUID
}

// resolveDeviceUUID attempts to find the filesystem UUID for a device by
// checking /dev/disk/by-uuid/.
func resolveDeviceUUID(device string) string {
	byUUIDPath := "/dev/disk/by-uuid"
	entries, err := os.ReadDir(byUUIDPath)
	if err != nil {
		return ""
	}

	for _, e := range entries {
		linkPath := filepath.Join(byUUIDPath, e.Name())
		target, err := filepath.EvalSymlinks(linkPath)
		if err != nil {
			continue
		}
		if target == device {
			return e.Name()
		}
	}

	return ""
}
