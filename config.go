// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"

	"github.com/izzyproject/izzyd/chaincfg"
)

const (
	defaultConfigFilename = "izzyd.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "izzyd.log"
	defaultDbCache        = 64 // MiB per database
	defaultLogLevel       = "info"
)

// config defines the configuration options for izzyd.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	DbCache     int    `long:"dbcache" description:"Database cache size in MiB"`
	TestNet     bool   `long:"testnet" description:"Use the test network"`
	RegTest     bool   `long:"regtest" description:"Use the regression test network"`
	UnitTest    bool   `long:"unittest" description:"Use the unit test network"`
	BetaTest    bool   `long:"betatest" description:"Use the beta network"`
	AddrIndex   bool   `long:"addrindex" description:"Maintain a full address-based transaction index"`
	SpentIndex  bool   `long:"spentindex" description:"Maintain a full spent-output index"`
	TxIndex     bool   `long:"txindex" description:"Maintain a full hash-based transaction index"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
}

// defaultDataDir returns the default data directory for izzyd.
func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(homeDir, ".izzyd")
}

// netParamsFromFlags maps the mutually exclusive network selection flags to
// the chain parameters.  Specifying more than one network is an error per
// the startup contract.
func netParamsFromFlags(cfg *config) (*chaincfg.Params, error) {
	numNets := 0
	params := &chaincfg.MainNetParams
	if cfg.TestNet {
		numNets++
		params = &chaincfg.TestNetParams
	}
	if cfg.RegTest {
		numNets++
		params = &chaincfg.RegressionNetParams
	}
	if cfg.UnitTest {
		numNets++
		params = &chaincfg.UnitTestNetParams
	}
	if cfg.BetaTest {
		numNets++
		params = &chaincfg.BetaNetParams
	}
	if numNets > 1 {
		return nil, fmt.Errorf("%w: the testnet, regtest, unittest "+
			"and betatest flags are mutually exclusive",
			chaincfg.ErrInvalidNetworkCombination)
	}
	return params, nil
}

// loadConfig initializes and parses the config using command line options.
func loadConfig() (*config, []string, error) {
	cfg := config{
		DataDir:    defaultDataDir(),
		DbCache:    defaultDbCache,
		DebugLevel: defaultLogLevel,
	}

	parser := flags.NewParser(&cfg, flags.Default)
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, nil, err
	}

	// Select the active network parameters early so the failure mode for
	// conflicting flags is a descriptive startup error.
	params, err := netParamsFromFlags(&cfg)
	if err != nil {
		return nil, nil, err
	}
	activeNetParams = params

	// Append the network name to the data directory so data for different
	// networks does not mix.
	cfg.DataDir = filepath.Join(cfg.DataDir, params.Name)
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.DataDir, defaultLogDirname)
	}

	if !validLogLevel(cfg.DebugLevel) {
		return nil, nil, fmt.Errorf("the specified debug level [%v] "+
			"is invalid", cfg.DebugLevel)
	}

	return &cfg, remainingArgs, nil
}
