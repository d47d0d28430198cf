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

//go:build !linux

package volumes

import "errors"

// ErrUnsupportedPlatform is returned when no mount detector exists for the
// current OS.
var ErrUnsupportedPlatform = errors.New("mount detection not supported on this platform")

// NewMountDetector creates a mount detector for the current platform.
func NewMountDetector() (MountDetector, error) {
	return nil, ErrUnsupportedPlatform
}

// DefaultIDResolver returns a no-op volume ID resolver.
func DefaultIDResolver() func(deviceNode string) string {
	return func(string) string { return "" }
}
