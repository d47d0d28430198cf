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

import "time"

// Retry budgets are clamped to at least one attempt so a broken config can
// never disable printing or ejection entirely.
func clampAttempts(n, fallback int) int {
	if n < 1 {
		return fallback
	}
	return n
}

func (c *Instance) PrintAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return clampAttempts(c.vals.Completion.PrintAttempts, BaseDefaults.Completion.PrintAttempts)
}

func (c *Instance) PrintAttemptsInfected() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return clampAttempts(c.vals.Completion.PrintAttemptsInfected,
		BaseDefaults.Completion.PrintAttemptsInfected)
}

func (c *Instance) EjectAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return clampAttempts(c.vals.Completion.EjectAttempts, BaseDefaults.Completion.EjectAttempts)
}

// SettleDelay is the bounded delay between a drive reaching its fully-scanned
// condition and the completion signal being trusted, letting last-writer
// state settle.
func (c *Instance) SettleDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ms := c.vals.Completion.SettleDelayMs
	if ms < 0 {
		ms = BaseDefaults.Completion.SettleDelayMs
	}
	return time.Duration(ms) * time.Millisecond
}

// TeardownGrace is how long a drive's completion marker is retained after the
// pipeline finishes, absorbing still-in-flight duplicate signals.
func (c *Instance) TeardownGrace() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ms := c.vals.Completion.TeardownGraceMs
	if ms < 0 {
		ms = BaseDefaults.Completion.TeardownGraceMs
	}
	return time.Duration(ms) * time.Millisecond
}
