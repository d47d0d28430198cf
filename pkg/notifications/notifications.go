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

// Package notifications defines the typed event stream consumed by the
// rendering layer. The daemon only produces notifications; how they are
// displayed (or voiced) is an external concern.
package notifications

const (
	MethodPartitionAdded   = "partition.added"
	MethodPartitionRemoved = "partition.removed"
	MethodScanStarted      = "scan.started"
	MethodScanCompleted    = "scan.completed"
	MethodPrintFailed      = "print.failed"
	MethodEjectFailed      = "eject.failed"
	MethodDriveEjected     = "drive.ejected"
	MethodHistoryAdded     = "history.added"
)

type Notification struct {
	Params any    `json:"params,omitempty"`
	Method string `json:"method"`
}

// PartitionParams identifies one partition in notification payloads.
type PartitionParams struct {
	VolumeID  string `json:"volumeId"`
	Label     string `json:"label"`
	MountPath string `json:"mountPath"`
	DriveKey  string `json:"driveKey"`
}

// ScanCompletedParams reports the terminal result of one partition scan.
type ScanCompletedParams struct {
	VolumeID     string   `json:"volumeId"`
	Label        string   `json:"label"`
	Status       string   `json:"status"`
	ScannedFiles int64    `json:"scannedFiles"`
	Infected     []string `json:"infected,omitempty"`
}

// PipelineFailureParams reports a print or eject failure after all retry
// attempts were exhausted.
type PipelineFailureParams struct {
	DriveKey string `json:"driveKey"`
	VolumeID string `json:"volumeId,omitempty"`
	Label    string `json:"label,omitempty"`
	Reason   string `json:"reason"`
	Infected bool   `json:"infected,omitempty"`
}

func PartitionAdded(ns chan<- Notification, payload PartitionParams) {
	ns <- Notification{Method: MethodPartitionAdded, Params: payload}
}

func PartitionRemoved(ns chan<- Notification, volumeID string) {
	ns <- Notification{Method: MethodPartitionRemoved, Params: volumeID}
}

func ScanStarted(ns chan<- Notification, payload PartitionParams) {
	ns <- Notification{Method: MethodScanStarted, Params: payload}
}

func ScanCompleted(ns chan<- Notification, payload ScanCompletedParams) {
	ns <- Notification{Method: MethodScanCompleted, Params: payload}
}

func PrintFailed(ns chan<- Notification, payload PipelineFailureParams) {
	ns <- Notification{Method: MethodPrintFailed, Params: payload}
}

func EjectFailed(ns chan<- Notification, payload PipelineFailureParams) {
	ns <- Notification{Method: MethodEjectFailed, Params: payload}
}

func DriveEjected(ns chan<- Notification, driveKey string) {
	ns <- Notification{Method: MethodDriveEjected, Params: driveKey}
}

func HistoryAdded(ns chan<- Notification, transactionID string) {
	ns <- Notification{Method: MethodHistoryAdded, Params: transactionID}
}
