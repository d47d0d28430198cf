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

import "errors"

var (
	// ErrEngineUnavailable means the scanning engine binary is missing or
	// cannot be executed. Fatal for the scan, reported to the user, never
	// retried.
	ErrEngineUnavailable = errors.New("scanning engine unavailable")

	// ErrVolumeRemoved means the partition disappeared mid-operation.
	// The operation is abandoned, not retried.
	ErrVolumeRemoved = errors.New("volume removed during scan")
)

// ScanFailedError carries the engine's failure message for scans that
// started but did not complete normally.
type ScanFailedError struct {
	Message string
}

func (e *ScanFailedError) Error() string {
	return "scan failed: " + e.Message
}
