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

// Package volumes tracks the live set of mounted removable partitions and
// groups them under their physical drive via a derived drive key.
package volumes

// Partition is one mounted logical volume exposed by the OS.
type Partition struct {
	// ID is a stable volume identifier (filesystem UUID when available,
	// otherwise a generated fallback). Stable across a mount/unmount cycle
	// only when the OS exposes a real identifier.
	ID string

	// Label is the user-facing volume label, falling back to the mount
	// point's base name.
	Label string

	// MountPath is where the filesystem is mounted, e.g. "/media/usb0".
	MountPath string

	// DeviceNode is the block device path, e.g. "/dev/sdb1". May be empty
	// when the OS query failed; such partitions are treated as
	// single-partition drives.
	DeviceNode string

	// DriveKey identifies the physical drive this partition belongs to.
	// Derived from DeviceNode; equals ID when no device node is known.
	DriveKey string
}

// MountEvent represents a filesystem mount event for a removable storage device.
type MountEvent struct {
	// DeviceID is a unique and stable identifier for the device, such as a
	// volume UUID. Used to track the device across mount/unmount cycles.
	DeviceID string

	// DeviceNode is the block device path (e.g. "/dev/sda1"). May be empty
	// if unavailable.
	DeviceNode string

	// MountPath is the filesystem path where the volume is mounted.
	MountPath string

	// VolumeLabel is the user-facing volume label for the device.
	VolumeLabel string
}

// MountDetector provides platform-specific mount event detection for
// removable storage devices. Implementations should filter for removable
// devices only, excluding internal drives and system partitions.
type MountDetector interface {
	// Events returns a channel that emits MountEvent when a removable
	// device is mounted. The channel is closed when Stop() is called.
	Events() <-chan MountEvent

	// Unmounts returns a channel that emits the DeviceID when a removable
	// device is unmounted. The channel is closed when Stop() is called.
	Unmounts() <-chan string

	// Start begins monitoring for mount/unmount events.
	Start() error

	// Stop terminates the mount detector and releases all resources.
	Stop()

	// Forget removes a device from internal tracking, allowing it to be
	// re-detected on the next scan. Used when a mount is detected as stale.
	Forget(deviceID string)
}
