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

package volumes

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/spf13/afero"

	"github.com/thokzz/AutomatedAVScanner/pkg/helpers"
	"github.com/thokzz/AutomatedAVScanner/pkg/helpers/syncutil"
)

const eventBuffer = 16

// removableRoots are the mount point prefixes considered user-visible
// removable media locations.
var removableRoots = []string{"/media", "/run/media", "/Volumes", "/mnt"}

// networkFSTypes are filesystem protocols excluded from scanning. A network
// share is not a removable drive even when mounted under a removable root.
var networkFSTypes = []string{
	"nfs", "nfs4", "cifs", "smbfs", "smb2", "sshfs", "fuse.sshfs",
	"afpfs", "webdav", "davfs", "9p", "fuse.rclone", "ftp", "curlftpfs",
}

type entry struct {
	part            Partition
	pins            int
	removalDeferred bool
}

// Registry maintains the live set of mounted partitions. All mutation goes
// through its single mutex; callbacks from detector goroutines and periodic
// Refresh calls never race on the partition map.
type Registry struct {
	fs      afero.Fs
	parts   map[string]*entry
	resolve func(deviceNode string) string
	events  chan Partition
	mu      syncutil.RWMutex
}

// NewRegistry creates a volume registry. The afero filesystem is used for
// mount path existence checks so tests can run against an in-memory fs.
func NewRegistry(fsys afero.Fs) *Registry {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Registry{
		fs:      fsys,
		parts:   make(map[string]*entry),
		resolve: func(string) string { return "" },
		events:  make(chan Partition, eventBuffer),
	}
}

// SetIDResolver installs a platform hook that maps a block device node to a
// stable volume identifier (e.g. a filesystem UUID). Must be called before
// the registry starts receiving events.
func (r *Registry) SetIDResolver(resolve func(deviceNode string) string) {
	if resolve != nil {
		r.resolve = resolve
	}
}

// Events returns the channel of newly observed partitions, consumed by the
// scan trigger.
func (r *Registry) Events() <-chan Partition {
	return r.events
}

// OnMount records a mounted partition and emits a new-partition event if it
// was not already tracked. Safe to call from any goroutine.
func (r *Registry) OnMount(event MountEvent) Partition {
	r.mu.Lock()

	id := event.DeviceID
	if id == "" {
		id = r.resolve(event.DeviceNode)
	}
	if id == "" {
		id = event.DeviceNode
	}
	if id == "" {
		// No identifier at all: synthesize one. The partition is still
		// tracked, but cannot be re-associated after an unmount.
		id = uuid.NewString()
	}

	label := event.VolumeLabel
	if label == "" {
		label = filepath.Base(event.MountPath)
	}

	driveKey := DriveKeyFromDevice(event.DeviceNode)
	if driveKey == "" {
		// Device identifier unavailable: treat as a single-partition drive.
		driveKey = id
	}

	if e, ok := r.parts[id]; ok {
		e.part.MountPath = event.MountPath
		e.part.Label = label
		e.part.DeviceNode = event.DeviceNode
		e.part.DriveKey = driveKey
		e.removalDeferred = false
		part := e.part
		r.mu.Unlock()
		log.Debug().Str("volume_id", id).Str("mount_path", event.MountPath).
			Msg("known partition remounted")
		return part
	}

	part := Partition{
		ID:         id,
		Label:      label,
		MountPath:  event.MountPath,
		DeviceNode: event.DeviceNode,
		DriveKey:   driveKey,
	}
	r.parts[id] = &entry{part: part}
	r.mu.Unlock()

	log.Info().
		Str("volume_id", id).
		Str("label", label).
		Str("mount_path", event.MountPath).
		Str("drive_key", driveKey).
		Msg("partition mounted")

	r.emit(part)
	return part
}

// OnUnmount removes a partition from tracking. Removal is deferred while the
// partition, or any sibling on the same drive, is pinned by an in-flight
// scan, print or eject. Returns true if the partition was removed now.
func (r *Registry) OnUnmount(volumeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.parts[volumeID]
	if !ok {
		return false
	}

	if e.pins > 0 || r.anyPinnedLocked(e.part.DriveKey) {
		e.removalDeferred = true
		log.Debug().Str("volume_id", volumeID).Msg("partition pinned, deferring removal")
		return false
	}

	delete(r.parts, volumeID)
	log.Info().Str("volume_id", volumeID).Msg("partition unmounted")
	return true
}

// Pin prevents a partition from being removed while an operation is in
// flight. Pins nest.
func (r *Registry) Pin(volumeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.parts[volumeID]
	if !ok {
		return false
	}
	e.pins++
	return true
}

// Unpin releases a pin and executes any removal deferred while the drive was
// busy.
func (r *Registry) Unpin(volumeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.parts[volumeID]
	if !ok {
		return
	}
	if e.pins > 0 {
		e.pins--
	}

	if e.pins > 0 {
		return
	}

	// Deferred removals on this drive become eligible once nothing on the
	// drive holds a pin.
	driveKey := e.part.DriveKey
	if r.anyPinnedLocked(driveKey) {
		return
	}
	for id, other := range r.parts {
		if other.part.DriveKey == driveKey && other.removalDeferred {
			delete(r.parts, id)
			log.Info().Str("volume_id", id).Msg("deferred partition removal executed")
		}
	}
}

func (r *Registry) anyPinnedLocked(driveKey string) bool {
	for _, e := range r.parts {
		if e.part.DriveKey == driveKey && e.pins > 0 {
			return true
		}
	}
	return false
}

// Get returns the tracked partition for a volume ID.
func (r *Registry) Get(volumeID string) (Partition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.parts[volumeID]
	if !ok {
		return Partition{}, false
	}
	return e.part, true
}

// List returns all tracked partitions sorted by label.
func (r *Registry) List() []Partition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	parts := make([]Partition, 0, len(r.parts))
	for _, e := range r.parts {
		parts = append(parts, e.part)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Label < parts[j].Label })
	return parts
}

// MountPathExists reports whether a partition's mount path is still present
// on disk. Used by the print queue to skip vanished partitions.
func (r *Registry) MountPathExists(volumeID string) bool {
	part, ok := r.Get(volumeID)
	if !ok || part.MountPath == "" {
		return false
	}
	exists, err := afero.Exists(r.fs, part.MountPath)
	if err != nil {
		return false
	}
	return exists
}

// Refresh re-enumerates all mounted filesystems and reconciles them with the
// tracked set, returning the current in-scope partitions. Idempotent and safe
// to call concurrently with mount-event callbacks.
func (r *Registry) Refresh(ctx context.Context) ([]Partition, error) {
	stats, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate mounted filesystems: %w", err)
	}

	seen := make(map[string]struct{})
	for i := range stats {
		st := stats[i]
		if !inScope(st.Device, st.Mountpoint, st.Fstype) {
			continue
		}
		part := r.OnMount(MountEvent{
			DeviceNode: st.Device,
			MountPath:  st.Mountpoint,
		})
		seen[part.ID] = struct{}{}
	}

	// Anything tracked but no longer mounted is unmounted (or deferred).
	r.mu.RLock()
	stale := make([]string, 0)
	for id := range r.parts {
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()
	for _, id := range stale {
		r.OnUnmount(id)
	}

	return r.List(), nil
}

// inScope classifies a mounted filesystem as a scannable removable partition.
func inScope(device, mountpoint, fstype string) bool {
	if !strings.HasPrefix(device, "/dev/") {
		return false
	}

	ft := strings.ToLower(fstype)
	for _, net := range networkFSTypes {
		if ft == net || strings.HasPrefix(ft, net+".") {
			return false
		}
	}

	for _, root := range removableRoots {
		if mountpoint != root && helpers.HasPathPrefix(mountpoint, root) {
			return true
		}
	}
	return false
}

func (r *Registry) emit(part Partition) {
	select {
	case r.events <- part:
	default:
		log.Warn().Str("volume_id", part.ID).Msg("partition event dropped, consumer too slow")
	}
}
