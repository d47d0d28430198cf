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

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thokzz/AutomatedAVScanner/pkg/completion"
	"github.com/thokzz/AutomatedAVScanner/pkg/config"
	"github.com/thokzz/AutomatedAVScanner/pkg/database/historydb"
	"github.com/thokzz/AutomatedAVScanner/pkg/helpers"
	"github.com/thokzz/AutomatedAVScanner/pkg/service"
	"github.com/thokzz/AutomatedAVScanner/pkg/volumes"
)

func main() {
	versionFlag := flag.Bool("version", false, "print version and exit")
	debugFlag := flag.Bool("debug", false, "force debug logging")
	consoleFlag := flag.Bool("console", false, "also log to stderr")
	printerFlag := flag.String("printer", "", "printer destination for lp (default: system default)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", config.AppName, config.AppVersion)
		os.Exit(0)
	}

	if err := run(*debugFlag, *consoleFlag, *printerFlag); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", config.AppName, err)
		os.Exit(1)
	}
}

func run(debug, console bool, printerName string) error {
	configDir := filepath.Join(xdg.ConfigHome, config.AppName)
	dataDir := filepath.Join(xdg.DataHome, config.AppName)

	cfg, err := config.NewConfig(configDir, config.BaseDefaults)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var writers []io.Writer
	if console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if err := helpers.InitLogging(dataDir, writers); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug || cfg.DebugLogging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", config.AppVersion).
		Str("config", cfg.Path()).
		Msg("starting")

	pidPath := filepath.Join(dataDir, config.PidFile)
	if err := writePidFile(pidPath); err != nil {
		log.Warn().Err(err).Msg("failed to write pid file")
	}
	defer removePidFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := historydb.Open(ctx, filepath.Join(dataDir, config.HistoryDbFile))
	if err != nil {
		// The daemon still scans without history; it just cannot remember.
		log.Error().Err(err).Msg("history database unavailable")
		db = nil
	} else {
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				log.Warn().Err(closeErr).Msg("failed to close history database")
			}
		}()
	}

	detector, err := volumes.NewMountDetector()
	if err != nil {
		return fmt.Errorf("failed to create mount detector: %w", err)
	}

	svc := service.New(service.Options{
		Config:   cfg,
		Detector: detector,
		DB:       db,
		Printer:  completion.NewLPPrinter(nil, printerName),
	})

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	svc.Stop()
	return nil
}

func writePidFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid), 0o644); err != nil { //nolint:gosec // pid files are world readable
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

func removePidFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to remove pid file")
	}
}
