// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/izzyproject/izzyd/blockfile"
	"github.com/izzyproject/izzyd/database"
)

// TestGenesisBoot ensures a chain created over empty stores initializes to
// the genesis block: the index contains exactly the genesis entry, the tip
// is the genesis block and the coin database best block marker matches.
func TestGenesisBoot(t *testing.T) {
	h := newTestHarness(t)

	best := h.chain.BestSnapshot()
	if best.Height != 0 {
		t.Fatalf("fresh chain height: got %d, want 0", best.Height)
	}
	if best.Hash != *h.params.GenesisHash {
		t.Fatalf("fresh chain tip: got %v, want %v", best.Hash,
			h.params.GenesisHash)
	}

	h.chain.index.RLock()
	numEntries := len(h.chain.index.index)
	h.chain.index.RUnlock()
	if numEntries != 1 {
		t.Fatalf("fresh index entries: got %d, want 1", numEntries)
	}

	coinsBest, err := h.chain.coinsDB.BestBlock()
	if err != nil {
		t.Fatalf("coins best block: %v", err)
	}
	if coinsBest != *h.params.GenesisHash {
		t.Fatalf("coins best block: got %v, want %v", coinsBest,
			h.params.GenesisHash)
	}

	if !h.chain.MainChainHasBlock(h.params.GenesisHash) {
		t.Fatal("main chain does not contain genesis")
	}
}

// TestChainExtensionAndSupply extends the chain with blocks that also carry
// regular spending transactions and verifies the UTXO set and money supply
// bookkeeping.
func TestChainExtensionAndSupply(t *testing.T) {
	h := newTestHarness(t)

	// Build enough blocks for the first coinbases to mature, then spend
	// one.
	tip, outs := h.extendChain(h.genesisBlock(), 25)

	spendBlock := h.buildBlock(blockSpec{
		parent: tip,
		spends: []spendableOut{outs[0]},
	})
	h.acceptBlock(spendBlock)

	best := h.chain.BestSnapshot()
	if best.Height != 26 {
		t.Fatalf("height: got %d, want 26", best.Height)
	}

	// The spent coinbase must be gone from the view and the new output
	// present.
	spentHash := outs[0].prevOut.Hash
	have, err := h.chain.coinsTip.HaveCoins(&spentHash)
	if err != nil {
		t.Fatalf("HaveCoins: %v", err)
	}
	if have {
		t.Fatal("spent coinbase still present in the utxo view")
	}

	newTxHash := spendBlock.MsgBlock().Transactions[1].TxHash()
	have, err = h.chain.coinsTip.HaveCoins(&newTxHash)
	if err != nil {
		t.Fatalf("HaveCoins: %v", err)
	}
	if !have {
		t.Fatal("spend transaction output missing from the utxo view")
	}

	// The sum of all unspent outputs must equal the money supply recorded
	// on the tip.
	if err := h.chain.FlushStateToDisk(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	stats, err := h.chain.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalAmount != best.MoneySupply {
		t.Fatalf("supply invariant violated: utxo total %d, money "+
			"supply %d", stats.TotalAmount, best.MoneySupply)
	}
	if stats.BestBlock != best.Hash {
		t.Fatalf("stats best block: got %v, want %v", stats.BestBlock,
			best.Hash)
	}
}

// TestImmatureSpendRejected ensures spending a coinbase before it matures is
// rejected as a consensus violation.
func TestImmatureSpendRejected(t *testing.T) {
	h := newTestHarness(t)

	tip, outs := h.extendChain(h.genesisBlock(), 5)

	// The freshest coinbase has a depth far below the maturity of 20.
	block := h.buildBlock(blockSpec{
		parent: tip,
		spends: []spendableOut{outs[len(outs)-1]},
	})
	_, err := h.chain.ProcessBlock(block, BFNone)
	rerr, ok := err.(RuleError)
	if !ok {
		t.Fatalf("expected rule error, got %v", err)
	}
	if rerr.ErrorCode != ErrImmatureSpend {
		t.Fatalf("got %v, want %v", rerr.ErrorCode, ErrImmatureSpend)
	}

	// The failure must not have moved the tip.
	if best := h.chain.BestSnapshot(); best.Height != 5 {
		t.Fatalf("tip moved after rejected block: height %d", best.Height)
	}
}

// TestReorganization feeds a competing branch with more cumulative work and
// verifies the chain reorganizes onto it: the old blocks remain in the index
// with their data but are no longer part of the active chain, and the UTXO
// state reflects only the new branch.
func TestReorganization(t *testing.T) {
	h := newTestHarness(t)

	// Main chain to height 30.
	forkBlock, _ := h.extendChain(h.genesisBlock(), 25)
	mainTip := forkBlock
	var oldBranch []*blockNode
	for i := 0; i < 5; i++ {
		block := h.buildBlock(blockSpec{parent: mainTip})
		h.acceptBlock(block)
		mainTip = block
		node := h.chain.index.LookupNode(block.Hash())
		oldBranch = append(oldBranch, node)
	}
	if best := h.chain.BestSnapshot(); best.Height != 30 {
		t.Fatalf("setup: height %d, want 30", best.Height)
	}

	// Competing branch from height 25 with seven blocks.  The first five
	// only tie the old tip height, so the reorganization triggers on the
	// sixth.
	sideTip := forkBlock
	for i := 0; i < 7; i++ {
		block := h.buildBlock(blockSpec{
			parent:     sideTip,
			extraNonce: 0xbeef,
		})
		if block.Height() <= 30 {
			h.acceptSideBlock(block)
		} else {
			h.acceptBlock(block)
		}
		sideTip = block
	}

	best := h.chain.BestSnapshot()
	if best.Height != 32 {
		t.Fatalf("post-reorg height: got %d, want 32", best.Height)
	}
	if best.Hash != *sideTip.Hash() {
		t.Fatalf("post-reorg tip: got %v, want %v", best.Hash,
			sideTip.Hash())
	}

	// The disconnected blocks remain known, header-valid and stored, but
	// are no longer on the active chain.
	for _, node := range oldBranch {
		status := h.chain.index.NodeStatus(node)
		if !status.HeaderValid() || !status.HaveData() {
			t.Errorf("disconnected block %v lost its flags: %v",
				node.hash, status)
		}
		if status.KnownInvalid() {
			t.Errorf("disconnected block %v marked invalid", node.hash)
		}
		if h.chain.bestChain.Contains(node) {
			t.Errorf("disconnected block %v still on active chain",
				node.hash)
		}
	}

	// The UTXO view tracks the new branch only: the old tip's coinbase is
	// gone, the new tip's coinbase is present and the best block marker
	// moved.
	oldCoinbase := mainTip.MsgBlock().Transactions[0].TxHash()
	have, err := h.chain.coinsTip.HaveCoins(&oldCoinbase)
	if err != nil {
		t.Fatalf("HaveCoins: %v", err)
	}
	if have {
		t.Fatal("old branch coinbase still present after reorg")
	}

	newCoinbase := sideTip.MsgBlock().Transactions[0].TxHash()
	have, err = h.chain.coinsTip.HaveCoins(&newCoinbase)
	if err != nil {
		t.Fatalf("HaveCoins: %v", err)
	}
	if !have {
		t.Fatal("new branch coinbase missing after reorg")
	}

	viewBest, err := h.chain.coinsTip.BestBlock()
	if err != nil {
		t.Fatalf("BestBlock: %v", err)
	}
	if viewBest != *sideTip.Hash() {
		t.Fatalf("view best block: got %v, want %v", viewBest,
			sideTip.Hash())
	}
}

// TestConnectDisconnectRoundTrip verifies the round-trip law: connecting a
// sequence of blocks and then invalidating the first of them restores the
// prior UTXO state, tip and best block marker.
func TestConnectDisconnectRoundTrip(t *testing.T) {
	h := newTestHarness(t)

	tip, _ := h.extendChain(h.genesisBlock(), 25)

	if err := h.chain.FlushStateToDisk(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	statsBefore, err := h.chain.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	tipBefore := h.chain.BestSnapshot().Hash

	// Connect five more blocks, then invalidate the first of them which
	// disconnects all five in reverse order.
	first := h.buildBlock(blockSpec{parent: tip})
	h.acceptBlock(first)
	next := first
	for i := 0; i < 4; i++ {
		next = h.buildBlock(blockSpec{parent: next})
		h.acceptBlock(next)
	}

	if err := h.chain.InvalidateBlock(first.Hash()); err != nil {
		t.Fatalf("InvalidateBlock: %v", err)
	}

	best := h.chain.BestSnapshot()
	if best.Hash != tipBefore {
		t.Fatalf("tip after rollback: got %v, want %v", best.Hash,
			tipBefore)
	}

	if err := h.chain.FlushStateToDisk(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	statsAfter, err := h.chain.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if statsAfter.HashSerialized != statsBefore.HashSerialized {
		t.Fatalf("utxo commitment changed across connect/disconnect "+
			"round trip: %v != %v", statsAfter.HashSerialized,
			statsBefore.HashSerialized)
	}

	// Reconsidering the invalidated block re-adopts the branch.
	if err := h.chain.ReconsiderBlock(first.Hash()); err != nil {
		t.Fatalf("ReconsiderBlock: %v", err)
	}
	if best := h.chain.BestSnapshot(); best.Height != 30 {
		t.Fatalf("height after reconsider: got %d, want 30", best.Height)
	}
}

// TestCrashRecovery simulates a process kill between batches: blocks are
// connected without flushing the utxo cache, the stores are reopened and the
// coin database must catch back up to the block tree on startup.
func TestCrashRecovery(t *testing.T) {
	params := regTestParams()
	dir := t.TempDir()
	blocksDir := filepath.Join(dir, "blocks")

	openStores := func() (*database.DB, *database.DB, *blockfile.Store) {
		treeDB, err := database.Open(filepath.Join(blocksDir, "index"),
			1<<20)
		if err != nil {
			t.Fatalf("open tree db: %v", err)
		}
		coinsDB, err := database.Open(filepath.Join(dir, "chainstate"),
			1<<20)
		if err != nil {
			t.Fatalf("open coins db: %v", err)
		}
		tree := NewBlockTreeDB(treeDB)
		lastFile, err := tree.ReadLastBlockFile()
		if err != nil {
			t.Fatalf("read last block file: %v", err)
		}
		info, err := tree.ReadBlockFileInfo(lastFile)
		if err != nil {
			t.Fatalf("read block file info: %v", err)
		}
		if info == nil {
			info = &blockfile.FileInfo{}
		}
		store := blockfile.NewStore(blocksDir,
			[4]byte{0xa1, 0xcf, 0x7e, 0xac}, lastFile, *info)
		return treeDB, coinsDB, store
	}

	if err := os.MkdirAll(blocksDir, 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	treeDB, coinsDB, store := openStores()
	h := newTestHarnessWithStores(t, params, treeDB, coinsDB, store)
	tip, _ := h.extendChain(h.genesisBlock(), 10)

	// The utxo cache was never flushed, so the coin database still points
	// at the genesis block while the block tree has all ten headers.
	coinsBest, err := h.chain.coinsDB.BestBlock()
	if err != nil {
		t.Fatalf("coins best block: %v", err)
	}
	if coinsBest != *params.GenesisHash {
		t.Fatalf("coin db flushed unexpectedly: best %v", coinsBest)
	}

	// Simulated kill: drop the chain without flushing.
	treeDB.Close()
	coinsDB.Close()

	// Restart.  Loading must resume activation and catch the coin
	// database up to the block tree.
	treeDB, coinsDB, store = openStores()
	defer treeDB.Close()
	defer coinsDB.Close()
	h2 := newTestHarnessWithStores(t, params, treeDB, coinsDB, store)

	best := h2.chain.BestSnapshot()
	if best.Height != 10 {
		t.Fatalf("post-restart height: got %d, want 10", best.Height)
	}
	if best.Hash != *tip.Hash() {
		t.Fatalf("post-restart tip: got %v, want %v", best.Hash, tip.Hash())
	}

	if err := h2.chain.FlushStateToDisk(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	coinsBest, err = h2.chain.coinsDB.BestBlock()
	if err != nil {
		t.Fatalf("coins best block: %v", err)
	}
	if coinsBest != *tip.Hash() {
		t.Fatalf("post-restart coins best: got %v, want %v", coinsBest,
			tip.Hash())
	}
}
