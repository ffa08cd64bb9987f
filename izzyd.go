// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/btcsuite/btcd/txscript"

	"github.com/izzyproject/izzyd/blockchain"
	"github.com/izzyproject/izzyd/blockfile"
	"github.com/izzyproject/izzyd/database"
)

// winServiceMain is only invoked on Windows.  It detects when izzyd is
// running as a service and reacts accordingly.
var winServiceMain func() (bool, error)

// izzdMain is the real main function for izzyd.  It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is
// called.
func izzdMain() error {
	// Load configuration and parse command line, then initialize logging
	// and configure it accordingly.
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()
	setLogLevels(cfg.DebugLevel)

	// Get a channel that will be closed when a shutdown signal has been
	// triggered either from an OS signal such as SIGINT (Ctrl+C) or from
	// another subsystem such as the chain manager aborting.
	interrupt := interruptListener()
	defer izzdLog.Info("Shutdown complete")

	izzdLog.Infof("Version %s (Go version %s)", version(), runtime.Version())
	izzdLog.Infof("Active network: %s", activeNetParams.Name)

	// Open the two chain state stores: the block-tree database and the
	// coin database.
	blocksDir := filepath.Join(cfg.DataDir, "blocks")
	if err := os.MkdirAll(blocksDir, 0700); err != nil {
		return err
	}
	treeDB, err := database.Open(filepath.Join(blocksDir, "index"),
		cfg.DbCache<<20)
	if err != nil {
		return err
	}
	defer treeDB.Close()
	coinsDB, err := database.Open(filepath.Join(cfg.DataDir, "chainstate"),
		cfg.DbCache<<20)
	if err != nil {
		return err
	}
	defer coinsDB.Close()

	// The flat-file block store resumes appending to the last file
	// recorded in the block-tree database.
	tree := blockchain.NewBlockTreeDB(treeDB)
	lastFile, err := tree.ReadLastBlockFile()
	if err != nil {
		return err
	}
	lastFileInfo, err := tree.ReadBlockFileInfo(lastFile)
	if err != nil {
		return err
	}
	if lastFileInfo == nil {
		lastFileInfo = &blockfile.FileInfo{}
	}
	var magic [4]byte
	magic[0] = byte(activeNetParams.Net)
	magic[1] = byte(activeNetParams.Net >> 8)
	magic[2] = byte(activeNetParams.Net >> 16)
	magic[3] = byte(activeNetParams.Net >> 24)
	blockStore := blockfile.NewStore(blocksDir, magic, lastFile, *lastFileInfo)

	// Create the chain instance.  This loads the block index, re-links
	// it, rebuilds the stake-seen set and catches the coin database up to
	// the block tree when needed.
	chain, err := blockchain.New(&blockchain.Config{
		TreeDB:         treeDB,
		CoinsDB:        coinsDB,
		BlockStore:     blockStore,
		Interrupt:      interrupt,
		ChainParams:    activeNetParams,
		TimeSource:     blockchain.NewMedianTime(),
		SigCache:       txscript.NewSigCache(100000),
		IndexAddresses: cfg.AddrIndex,
		IndexSpent:     cfg.SpentIndex,
		IndexTxs:       cfg.TxIndex,
	})
	if err != nil {
		return err
	}

	best := chain.BestSnapshot()
	izzdLog.Infof("Chain loaded (height %d, hash %v, supply %d)",
		best.Height, best.Hash, best.MoneySupply)

	// Optionally verify the coin database commitment at startup.
	if activeNetParams.DefaultConsistencyChecks {
		stats, err := chain.Stats()
		if err != nil {
			return err
		}
		izzdLog.Infof("Coin database: %d transactions, %d outputs, "+
			"total %d, commitment %v", stats.Transactions,
			stats.TransactionOutputs, stats.TotalAmount,
			stats.HashSerialized)
	}

	// Wait until the interrupt signal is received from an OS signal or
	// shutdown is requested through one of the subsystems.
	<-interrupt

	izzdLog.Info("Gracefully shutting down the chain state...")
	if err := chain.FlushStateToDisk(); err != nil {
		izzdLog.Errorf("Failed to flush chain state: %v", err)
	}
	return nil
}

// version returns the application version as a properly formed string.
func version() string {
	return fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
}

const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0
)

func main() {
	// Call serviceMain on Windows to handle running as a service.  When
	// the return isService flag is true, exit now since we ran as a
	// service.  Otherwise, just fall through to normal operation.
	if runtime.GOOS == "windows" && winServiceMain != nil {
		isService, err := winServiceMain()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if isService {
			os.Exit(0)
		}
	}

	// Work around defer not working after os.Exit()
	if err := izzdMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
