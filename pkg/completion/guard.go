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
	"errors"

	"github.com/thokzz/AutomatedAVScanner/pkg/helpers/syncutil"
)

var (
	// ErrOperationInFlight means another attempt for the same key is still
	// running.
	ErrOperationInFlight = errors.New("operation already in flight for key")

	// ErrAbandoned means the retry budget for this key was exhausted earlier
	// and no further attempts will be made until Reset.
	ErrAbandoned = errors.New("operation abandoned after exhausting attempts")
)

// keyGuard serializes print and eject attempts per key and remembers keys
// whose retry budget ran out. Without the in-flight check, a duplicate
// completion signal arriving while a print is still spooling would start a
// second print of the same report.
type keyGuard struct {
	inFlight  map[string]struct{}
	abandoned map[string]struct{}
	mu        syncutil.Mutex
}

func newKeyGuard() *keyGuard {
	return &keyGuard{
		inFlight:  make(map[string]struct{}),
		abandoned: make(map[string]struct{}),
	}
}

// acquire claims the key for one attempt sequence. The caller must release
// unless acquire returned an error.
func (g *keyGuard) acquire(key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.abandoned[key]; ok {
		return ErrAbandoned
	}
	if _, ok := g.inFlight[key]; ok {
		return ErrOperationInFlight
	}
	g.inFlight[key] = struct{}{}
	return nil
}

func (g *keyGuard) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, key)
}

// abandon marks the key as permanently failed until Reset.
func (g *keyGuard) abandon(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.abandoned[key] = struct{}{}
}

// reset clears the abandoned flag so a manual rescan can retry the key.
func (g *keyGuard) reset(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.abandoned, key)
}
