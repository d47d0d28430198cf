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

package helpers

import "strings"

// Contains returns true if slice xs contains value x.
func Contains[T comparable](xs []T, x T) bool {
	for i := range xs {
		if xs[i] == x {
			return true
		}
	}
	return false
}

// NormalizeExtension lowercases an extension and strips a leading dot, so
// "ISO", ".iso" and "iso" all compare equal in filter lists.
func NormalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// HasPathPrefix reports whether path is equal to or nested under root,
// comparing whole path elements so "/media/usb2" is not a child of "/media/usb".
func HasPathPrefix(path, root string) bool {
	if path == root {
		return true
	}
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return strings.HasPrefix(path, root)
}
