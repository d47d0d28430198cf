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

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"

	"github.com/thokzz/AutomatedAVScanner/pkg/helpers/syncutil"
)

const (
	SchemaVersion = 1
	CfgEnv        = "AVSCANNER_CFG"
)

type Values struct {
	Scanning     Scanning   `toml:"scanning,omitempty"`
	Completion   Completion `toml:"completion,omitempty"`
	ConfigSchema int        `toml:"config_schema"`
	DebugLogging bool       `toml:"debug_logging"`
}

// Scanning holds the user-facing scan behavior options.
type Scanning struct {
	ExtensionsToSkip      []string `toml:"extensions_to_skip,omitempty,multiline"`
	FileSizeLimitMB       int      `toml:"file_size_limit_mb"`
	SkipExtensionsEnabled bool     `toml:"skip_extensions_enabled"`
	AutoScanEnabled       bool     `toml:"auto_scan_enabled"`
	AutoPrintEnabled      bool     `toml:"auto_print_enabled"`
}

// Completion holds retry budgets and timing for the print/eject pipeline.
type Completion struct {
	PrintAttempts         int `toml:"print_attempts"`
	PrintAttemptsInfected int `toml:"print_attempts_infected"`
	EjectAttempts         int `toml:"eject_attempts"`
	SettleDelayMs         int `toml:"settle_delay_ms"`
	TeardownGraceMs       int `toml:"teardown_grace_ms"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Scanning: Scanning{
		AutoScanEnabled:  true,
		AutoPrintEnabled: true,
	},
	Completion: Completion{
		PrintAttempts:         3,
		PrintAttemptsInfected: 5,
		EjectAttempts:         3,
		SettleDelayMs:         250,
		TeardownGraceMs:       2000,
	},
}

type Instance struct {
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

//nolint:gocritic // config struct copied for immutability
func NewConfig(configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := Instance{
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		log.Info().Msg("saving new default config to disk")

		err := os.MkdirAll(filepath.Dir(cfgPath), 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		err = cfg.Save()
		if err != nil {
			return nil, err
		}
	}

	err := cfg.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return ErrNoConfigPath
	}

	if _, err := os.Stat(c.cfgPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	data, err := os.ReadFile(c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	newVals := c.defaults
	err = toml.Unmarshal(data, &newVals)
	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Warn().
			Int("file_schema", newVals.ConfigSchema).
			Int("app_schema", SchemaVersion).
			Msg("config schema mismatch")
	}

	c.vals = newVals
	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *Instance) saveLocked() error {
	if c.cfgPath == "" {
		return ErrNoConfigPath
	}

	c.vals.ConfigSchema = SchemaVersion

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(c.cfgPath, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (c *Instance) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfgPath
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
}
