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

package config

import "strings"

func (c *Instance) SkipExtensionsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Scanning.SkipExtensionsEnabled
}

// ExtensionsToSkip returns the normalized skip list. Entries are lowercased
// with any leading dot removed, so config values like ".ISO" match files
// ending in ".iso".
func (c *Instance) ExtensionsToSkip() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	exts := make([]string, 0, len(c.vals.Scanning.ExtensionsToSkip))
	for _, ext := range c.vals.Scanning.ExtensionsToSkip {
		norm := strings.ToLower(strings.TrimPrefix(ext, "."))
		if norm == "" {
			continue
		}
		exts = append(exts, norm)
	}
	return exts
}

func (c *Instance) FileSizeLimitMB() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Scanning.FileSizeLimitMB < 0 {
		return 0
	}
	return c.vals.Scanning.FileSizeLimitMB
}

func (c *Instance) AutoScanEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Scanning.AutoScanEnabled
}

func (c *Instance) AutoPrintEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Scanning.AutoPrintEnabled
}

func (c *Instance) SetAutoScanEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Scanning.AutoScanEnabled = enabled
}

func (c *Instance) SetAutoPrintEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Scanning.AutoPrintEnabled = enabled
}
