// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/izzyproject/izzyd/blockfile"
	"github.com/izzyproject/izzyd/chaincfg"
	"github.com/izzyproject/izzyd/database"
	"github.com/izzyproject/izzyd/izzyutil"
	"github.com/izzyproject/izzyd/wire"
)

// memBlockStore is an in-memory implementation of the BlockStore interface
// used to avoid touching the filesystem in tests that don't exercise
// persistence.
type memBlockStore struct {
	blocks [][]byte
	undos  map[blockfile.BlockPos][]byte
	info   blockfile.FileInfo
}

func newMemBlockStore() *memBlockStore {
	return &memBlockStore{undos: make(map[blockfile.BlockPos][]byte)}
}

func (s *memBlockStore) WriteBlock(serialized []byte, height int32, timestamp uint32) (blockfile.BlockPos, error) {
	data := make([]byte, len(serialized))
	copy(data, serialized)
	s.blocks = append(s.blocks, data)
	s.info.AddBlock(height, timestamp)
	s.info.Size += uint32(len(serialized))
	return blockfile.BlockPos{File: 0, Offset: uint32(len(s.blocks) - 1)}, nil
}

func (s *memBlockStore) ReadBlock(pos blockfile.BlockPos) ([]byte, error) {
	if pos.IsNull() || int(pos.Offset) >= len(s.blocks) {
		return nil, fmt.Errorf("no block stored at %v", pos)
	}
	return s.blocks[pos.Offset], nil
}

func (s *memBlockStore) WriteUndo(serialized []byte, blockPos blockfile.BlockPos) (blockfile.BlockPos, error) {
	data := make([]byte, len(serialized))
	copy(data, serialized)
	pos := blockfile.BlockPos{File: 0, Offset: uint32(len(s.undos))}
	// Key undo records by their own position, not the block position.
	s.undos[pos] = data
	return pos, nil
}

func (s *memBlockStore) ReadUndo(pos blockfile.BlockPos) ([]byte, error) {
	data, ok := s.undos[pos]
	if !ok {
		return nil, fmt.Errorf("no undo data stored at %v", pos)
	}
	return data, nil
}

func (s *memBlockStore) LastFile() (int32, blockfile.FileInfo) {
	return 0, s.info
}

// regTestParams returns a fresh copy of the regression test parameters so
// tests can tweak them without affecting each other.
func regTestParams() *chaincfg.Params {
	params := chaincfg.RegressionNetParams
	return &params
}

// opTrueScript is the anyone-can-spend script the test harness pays to so
// outputs can be spent with an empty signature script.
var opTrueScript = []byte{txscript.OP_TRUE}

// spendableOut tracks an output created by the test harness that can be
// spent by a later block.
type spendableOut struct {
	prevOut wire.OutPoint
	value   int64
	height  int32
}

// testHarness bundles a chain instance with everything needed to build
// valid blocks on top of it.
type testHarness struct {
	t      *testing.T
	chain  *BlockChain
	params *chaincfg.Params
	store  *memBlockStore

	stakeKey *btcec.PrivateKey

	// tipBlock tracks the block at every generated height so side chains
	// can fork from arbitrary points.
	blocksByHash map[chainhash.Hash]*izzyutil.Block
}

// newTestHarness creates a chain instance over in-memory stores using the
// regression test parameters.
func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	params := regTestParams()
	return newTestHarnessWithParams(t, params)
}

// newTestHarnessWithParams creates a chain instance over in-memory stores
// using the provided parameters.
func newTestHarnessWithParams(t *testing.T, params *chaincfg.Params) *testHarness {
	t.Helper()

	treeDB, err := database.OpenMem()
	if err != nil {
		t.Fatalf("failed to open tree db: %v", err)
	}
	coinsDB, err := database.OpenMem()
	if err != nil {
		t.Fatalf("failed to open coins db: %v", err)
	}
	t.Cleanup(func() {
		treeDB.Close()
		coinsDB.Close()
	})

	return newTestHarnessWithStores(t, params, treeDB, coinsDB,
		newMemBlockStore())
}

// newTestHarnessWithStores creates a chain instance over the provided
// stores, which allows persistence tests to close and reopen them.
func newTestHarnessWithStores(t *testing.T, params *chaincfg.Params, treeDB, coinsDB *database.DB, store BlockStore) *testHarness {
	t.Helper()

	chain, err := New(&Config{
		TreeDB:      treeDB,
		CoinsDB:     coinsDB,
		BlockStore:  store,
		ChainParams: params,
		TimeSource:  NewMedianTime(),
		SigCache:    txscript.NewSigCache(1000),
	})
	if err != nil {
		t.Fatalf("failed to create chain: %v", err)
	}

	stakeKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("failed to generate stake key: %v", err)
	}

	memStore, _ := store.(*memBlockStore)
	return &testHarness{
		t:            t,
		chain:        chain,
		params:       params,
		store:        memStore,
		stakeKey:     stakeKey,
		blocksByHash: make(map[chainhash.Hash]*izzyutil.Block),
	}
}

// coinbaseScript returns a coinbase signature script paying attention to the
// serialized height rule plus an extra nonce so sibling coinbases at the
// same height can be made distinct.
func coinbaseScript(t *testing.T, height int32, extraNonce uint64) []byte {
	t.Helper()
	script, err := txscript.NewScriptBuilder().AddInt64(int64(height)).
		AddInt64(int64(extraNonce)).Script()
	if err != nil {
		t.Fatalf("failed to build coinbase script: %v", err)
	}
	return script
}

// payToStakeKeyScript returns the bare pay-to-pubkey script of the harness
// staking key.
func (h *testHarness) payToStakeKeyScript() []byte {
	script, err := txscript.NewScriptBuilder().
		AddData(h.stakeKey.PubKey().SerializeCompressed()).
		AddOp(txscript.OP_CHECKSIG).Script()
	if err != nil {
		h.t.Fatalf("failed to build stake script: %v", err)
	}
	return script
}

// blockSpec describes how buildBlock should assemble a block.
type blockSpec struct {
	parent     *izzyutil.Block
	extraNonce uint64

	// spends lists regular transactions to include: each entry spends
	// the given output entirely to an OP_TRUE output minus a small fee.
	spends []spendableOut

	// stake marks the block proof of stake, consuming the provided
	// output as its stake input.
	stake *spendableOut

	// timeOffset shifts the block timestamp from its default of parent
	// time plus one minute.
	timeOffset time.Duration
}

// buildBlock assembles and mines a block per the provided spec.  The block
// satisfies every consensus rule the chain instance enforces on the
// regression test network: serialized height, payout schedule, merkle root,
// difficulty bits and, for proof-of-work blocks, the header hash.
func (h *testHarness) buildBlock(spec blockSpec) *izzyutil.Block {
	t := h.t
	t.Helper()

	parent := spec.parent
	height := parent.Height() + 1
	parentHeader := &parent.MsgBlock().Header
	parentHash := parent.Hash()

	timestamp := parentHeader.Timestamp.Add(time.Minute + spec.timeOffset)
	proofOfStake := spec.stake != nil

	// Regular spending transactions, each paying a 10000 satoshi fee.
	const txFee = 10000
	var fees int64
	var txns []*wire.MsgTx
	for _, out := range spec.spends {
		tx := wire.NewMsgTx(wire.TxVersion)
		tx.AddTxIn(wire.NewTxIn(&out.prevOut, nil))
		tx.AddTxOut(wire.NewTxOut(out.value-txFee, opTrueScript))
		txns = append(txns, tx)
		fees += txFee
	}

	// The total amount the block mints: producer subsidy plus fees plus
	// every payment scheduled at this height.
	subsidy := CalcBlockSubsidy(h.params, height)
	if height == 1 {
		subsidy = h.params.PremineAmount
	}
	treasury := TreasuryPayment(h.params, height)
	lottery := LotteryPayment(h.params, height)
	masternode := MasternodePayment(h.params, height)

	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&chainhash.Hash{},
			^uint32(0)),
		SignatureScript: coinbaseScript(t, height, spec.extraNonce),
		Sequence:        wire.MaxTxInSequenceNum,
	})

	var coinstake *wire.MsgTx
	if proofOfStake {
		// Empty-output coinbase followed by the coinstake that
		// re-emits the stake plus the rewards.
		coinbase.AddTxOut(wire.NewTxOut(0, nil))

		coinstake = wire.NewMsgTx(wire.TxVersion)
		coinstake.AddTxIn(wire.NewTxIn(&spec.stake.prevOut, nil))
		coinstake.AddTxOut(wire.NewTxOut(0, nil))
		coinstake.AddTxOut(wire.NewTxOut(spec.stake.value+subsidy+fees,
			h.payToStakeKeyScript()))
		if treasury > 0 {
			coinstake.AddTxOut(wire.NewTxOut(treasury, opTrueScript))
		}
		if lottery > 0 {
			coinstake.AddTxOut(wire.NewTxOut(lottery, opTrueScript))
		}
		if masternode > 0 {
			coinstake.AddTxOut(wire.NewTxOut(masternode, opTrueScript))
		}
	} else {
		coinbase.AddTxOut(wire.NewTxOut(subsidy+fees, opTrueScript))
		if treasury > 0 {
			coinbase.AddTxOut(wire.NewTxOut(treasury, opTrueScript))
		}
		if lottery > 0 {
			coinbase.AddTxOut(wire.NewTxOut(lottery, opTrueScript))
		}
		if masternode > 0 {
			coinbase.AddTxOut(wire.NewTxOut(masternode, opTrueScript))
		}
	}

	msgBlock := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:   vbTopBits,
			PrevBlock: *parentHash,
			Timestamp: timestamp,
			Bits:      h.params.PowLimitBits,
		},
	}
	msgBlock.AddTransaction(coinbase)
	if coinstake != nil {
		msgBlock.AddTransaction(coinstake)
	}
	for _, tx := range txns {
		msgBlock.AddTransaction(tx)
	}

	block := izzyutil.NewBlock(msgBlock)
	merkleRoot := CalcMerkleRoot(block.Transactions())
	msgBlock.Header.MerkleRoot = merkleRoot

	if proofOfStake {
		// Sign the block with the staking key.
		blockHash := msgBlock.BlockHash()
		sig := ecdsa.Sign(h.stakeKey, blockHash[:])
		msgBlock.BlockSig = sig.Serialize()
	} else {
		// Solve the proof of work.  The regression test difficulty is
		// trivial so this only takes a couple of attempts.
		target := CompactToBig(msgBlock.Header.Bits)
		for {
			hash := msgBlock.Header.BlockHash()
			if HashToBig(&hash).Cmp(target) <= 0 {
				break
			}
			msgBlock.Header.Nonce++
		}
	}

	block = izzyutil.NewBlock(msgBlock)
	block.SetHeight(height)
	h.blocksByHash[*block.Hash()] = block
	return block
}

// rebuildBlock recomputes the merkle root, block signature and proof of
// work of a block whose transactions were modified by a test and returns a
// fresh wrapper for it.
func (h *testHarness) rebuildBlock(block *izzyutil.Block) *izzyutil.Block {
	h.t.Helper()

	msgBlock := block.MsgBlock()
	height := block.Height()

	rebuilt := izzyutil.NewBlock(msgBlock)
	rebuilt.SetHeight(height)
	msgBlock.Header.MerkleRoot = CalcMerkleRoot(rebuilt.Transactions())

	if IsProofOfStake(rebuilt) {
		blockHash := msgBlock.BlockHash()
		sig := ecdsa.Sign(h.stakeKey, blockHash[:])
		msgBlock.BlockSig = sig.Serialize()
	} else {
		target := CompactToBig(msgBlock.Header.Bits)
		for {
			hash := msgBlock.Header.BlockHash()
			if HashToBig(&hash).Cmp(target) <= 0 {
				break
			}
			msgBlock.Header.Nonce++
		}
	}

	rebuilt = izzyutil.NewBlock(msgBlock)
	rebuilt.SetHeight(height)
	h.blocksByHash[*rebuilt.Hash()] = rebuilt
	return rebuilt
}

// coinbaseOut returns the spendable harness output of the provided block's
// producer payout.
func coinbaseOut(block *izzyutil.Block) spendableOut {
	coinbase := block.MsgBlock().Transactions[0]
	return spendableOut{
		prevOut: wire.OutPoint{Hash: coinbase.TxHash(), Index: 0},
		value:   coinbase.TxOut[0].Value,
		height:  block.Height(),
	}
}

// acceptBlock processes the provided block and requires it to end up on the
// main chain.
func (h *testHarness) acceptBlock(block *izzyutil.Block) {
	h.t.Helper()
	isMainChain, err := h.chain.ProcessBlock(block, BFNone)
	if err != nil {
		h.t.Fatalf("ProcessBlock(%v) at height %d: unexpected error %v",
			block.Hash(), block.Height(), err)
	}
	if !isMainChain {
		h.t.Fatalf("ProcessBlock(%v) at height %d: not on main chain",
			block.Hash(), block.Height())
	}
}

// acceptSideBlock processes the provided block and requires it to be
// accepted without becoming the main chain.
func (h *testHarness) acceptSideBlock(block *izzyutil.Block) {
	h.t.Helper()
	isMainChain, err := h.chain.ProcessBlock(block, BFNone)
	if err != nil {
		h.t.Fatalf("ProcessBlock(%v): unexpected error %v", block.Hash(), err)
	}
	if isMainChain {
		h.t.Fatalf("ProcessBlock(%v): unexpectedly became the main chain",
			block.Hash())
	}
}

// genesisBlock returns the genesis block wrapped for the harness chain.
func (h *testHarness) genesisBlock() *izzyutil.Block {
	block := izzyutil.NewBlock(h.params.GenesisBlock)
	block.SetHeight(0)
	return block
}

// extendChain builds and accepts numBlocks empty blocks on top of the
// provided parent and returns the new tip block along with the spendable
// coinbase outputs it created.
func (h *testHarness) extendChain(parent *izzyutil.Block, numBlocks int) (*izzyutil.Block, []spendableOut) {
	h.t.Helper()

	var outs []spendableOut
	tip := parent
	for i := 0; i < numBlocks; i++ {
		block := h.buildBlock(blockSpec{parent: tip})
		h.acceptBlock(block)
		outs = append(outs, coinbaseOut(block))
		tip = block
	}
	return tip, outs
}
