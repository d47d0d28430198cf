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

package completion

import (
	"fmt"
	"strings"
	"time"

	"github.com/thokzz/AutomatedAVScanner/pkg/scanner"
	"github.com/thokzz/AutomatedAVScanner/pkg/volumes"
)

const reportTimeFormat = "2006-01-02 15:04:05"

// BuildReport renders the plain-text scan receipt for one partition. The
// receipt goes to a line printer, so the format is fixed-width text with no
// markup.
func BuildReport(part volumes.Partition, snap scanner.StateSnapshot, now time.Time) string {
	var b strings.Builder

	rule := strings.Repeat("=", 48)
	b.WriteString(rule + "\n")
	b.WriteString("          VIRUS SCAN REPORT\n")
	b.WriteString(rule + "\n\n")

	fmt.Fprintf(&b, "Volume:        %s\n", part.Label)
	fmt.Fprintf(&b, "Volume ID:     %s\n", part.ID)
	fmt.Fprintf(&b, "Drive:         %s\n", part.DriveKey)
	fmt.Fprintf(&b, "Printed:       %s\n\n", now.Format(reportTimeFormat))

	fmt.Fprintf(&b, "Result:        %s\n", strings.ToUpper(string(snap.Status)))
	fmt.Fprintf(&b, "Files scanned: %d\n", snap.ScannedFiles)
	fmt.Fprintf(&b, "Files skipped: %d\n", snap.SkippedFiles)

	if !snap.StartedAt.IsZero() && !snap.EndedAt.IsZero() {
		dur := snap.EndedAt.Sub(snap.StartedAt).Round(time.Second)
		fmt.Fprintf(&b, "Started:       %s\n", snap.StartedAt.Format(reportTimeFormat))
		fmt.Fprintf(&b, "Duration:      %s\n", dur)
		if secs := snap.EndedAt.Sub(snap.StartedAt).Seconds(); secs > 0 && snap.ScannedFiles > 0 {
			fmt.Fprintf(&b, "Throughput:    %.1f files/sec\n", float64(snap.ScannedFiles)/secs)
		}
	}

	if len(snap.InfectedPaths) > 0 {
		b.WriteString("\n" + strings.Repeat("-", 48) + "\n")
		fmt.Fprintf(&b, "INFECTED FILES (%d):\n", len(snap.InfectedPaths))
		for _, p := range snap.InfectedPaths {
			fmt.Fprintf(&b, "  %s\n", p)
		}
		b.WriteString("\nDO NOT USE THIS VOLUME UNTIL CLEANED.\n")
	} else if snap.Status == scanner.StatusClean {
		b.WriteString("\nNo infections found.\n")
	} else if snap.Status == scanner.StatusError {
		b.WriteString("\nScan did not complete. Result is not trustworthy.\n")
	}

	b.WriteString("\n" + rule + "\n")
	return b.String()
}
