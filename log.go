// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/izzyproject/izzyd/blockchain"
)

// logWriter implements an io.Writer that outputs to both standard output
// and the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem.  A single backend logger is created and all
// subsystem loggers created from it will write to it with their own
// prefixes.  The backend must not be used before the log rotator has been
// initialized, or data races and/or nil pointer dereferences will occur.
var (
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs.  It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	izzdLog = backendLog.Logger("IZZY")
	chanLog = backendLog.Logger("CHAN")
)

// Initialize package-global logger variables.
func init() {
	blockchain.UseLogger(chanLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"IZZY": izzdLog,
	"CHAN": chanLog,
}

// initLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory.  It must be called before
// the package-global log rotator variables are used.
func initLogRotator(logFile string) {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}

	logRotator = r
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.  An unrecognized level string is applied as the level that
// btclog.LevelFromString returns for it.
func setLogLevels(logLevel string) {
	level, _ := btclog.LevelFromString(logLevel)
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}
