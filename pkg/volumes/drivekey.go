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
	"path/filepath"
	"regexp"
	"strings"
)

// Device naming schemes whose partition suffix can be stripped to recover the
// whole-drive name. The derivation must stay pure and deterministic: registry
// lookups key on its output.
var (
	// BSD-style: disk2s1 -> disk2
	bsdDiskRe = regexp.MustCompile(`^(disk\d+)(s\d+)?$`)
	// Numbered controllers with a "p" partition suffix:
	// mmcblk0p1 -> mmcblk0, nvme0n1p2 -> nvme0n1, loop3p1 -> loop3
	pSuffixRe = regexp.MustCompile(`^((?:mmcblk|nvme|loop)\d+(?:n\d+)?)(p\d+)?$`)
	// Lettered disks with a bare numeric suffix: sdb1 -> sdb, xvdf2 -> xvdf
	letterDiskRe = regexp.MustCompile(`^([a-z]+)\d*$`)
)

// DriveKeyFromDevice derives the physical-drive key from a block device
// identifier by stripping the partition suffix, e.g. "/dev/disk2s1" ->
// "disk2" and "/dev/sdb1" -> "sdb". Returns "" when no device is known, in
// which case the caller treats the partition as its own single-partition
// drive.
func DriveKeyFromDevice(device string) string {
	name := strings.ToLower(filepath.Base(strings.TrimSpace(device)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return ""
	}

	if m := bsdDiskRe.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	if m := pSuffixRe.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	if m := letterDiskRe.FindStringSubmatch(name); m != nil {
		return m[1]
	}

	// Unrecognized scheme: the full name is its own key.
	return name
}
