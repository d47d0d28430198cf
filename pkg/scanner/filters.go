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

import (
	"path/filepath"

	"github.com/thokzz/AutomatedAVScanner/pkg/config"
	"github.com/thokzz/AutomatedAVScanner/pkg/helpers"
)

// Filters is the shared exclusion configuration applied by both the file
// counter and the scan engine, so their enumerations stay in step.
type Filters struct {
	ExtensionsToSkip      []string
	FileSizeLimitMB       int
	SkipExtensionsEnabled bool
}

// FiltersFromConfig snapshots the current filter settings.
func FiltersFromConfig(cfg *config.Instance) Filters {
	return Filters{
		SkipExtensionsEnabled: cfg.SkipExtensionsEnabled(),
		ExtensionsToSkip:      cfg.ExtensionsToSkip(),
		FileSizeLimitMB:       cfg.FileSizeLimitMB(),
	}
}

// Excludes reports whether a regular file is excluded from scanning by
// extension or size. A size of -1 means unknown and never triggers the size
// limit.
func (f Filters) Excludes(path string, size int64) bool {
	if f.SkipExtensionsEnabled && len(f.ExtensionsToSkip) > 0 {
		ext := helpers.NormalizeExtension(filepath.Ext(path))
		if ext != "" && helpers.Contains(f.ExtensionsToSkip, ext) {
			return true
		}
	}
	if f.FileSizeLimitMB > 0 && size >= 0 {
		if size > int64(f.FileSizeLimitMB)*1024*1024 {
			return true
		}
	}
	return false
}
