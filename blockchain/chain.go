// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/lru"

	"github.com/izzyproject/izzyd/blockfile"
	"github.com/izzyproject/izzyd/chaincfg"
	"github.com/izzyproject/izzyd/database"
	"github.com/izzyproject/izzyd/izzyutil"
)

// FlushMode is used to indicate the different urgency types for a flush of
// the chain state to disk.
type FlushMode int

const (
	// FlushIfNeeded will only flush when the utxo cache exceeds its
	// memory budget.
	FlushIfNeeded FlushMode = iota

	// FlushPeriodic will flush when the cache exceeds its memory budget
	// or enough time has passed since the last flush.
	FlushPeriodic

	// FlushAlways will flush unconditionally.
	FlushAlways
)

// flushInterval is how often the periodic flush mode writes the chain state
// regardless of cache pressure.
const flushInterval = time.Hour

// defaultUtxoCacheSize is the memory budget of the utxo cache when the
// config does not provide one.
const defaultUtxoCacheSize = 100 * 1024 * 1024

// rejectedBlockCacheSize bounds the cache of recently rejected block hashes
// so repeat offenders are refused without revalidation.
const rejectedBlockCacheSize = 512

// BlockStore abstracts the external flat-file writer the consensus core
// consumes (file, offset) positions from.
type BlockStore interface {
	WriteBlock(serialized []byte, height int32, timestamp uint32) (blockfile.BlockPos, error)
	ReadBlock(pos blockfile.BlockPos) ([]byte, error)
	WriteUndo(serialized []byte, blockPos blockfile.BlockPos) (blockfile.BlockPos, error)
	ReadUndo(pos blockfile.BlockPos) ([]byte, error)
	LastFile() (int32, blockfile.FileInfo)
}

// Ensure the flat-file store satisfies the interface.
var _ BlockStore = (*blockfile.Store)(nil)

// BestState houses information about the current best block and other info
// related to the state of the main chain as it exists from the point of view
// of the current best block.
//
// The BestSnapshot method can be used to obtain access to this information
// in a concurrent safe manner and the data will not be changed out from
// under the caller when chain state changes occur as the function name
// implies.  However, the returned snapshot must be treated as immutable
// since it is shared by all callers.
type BestState struct {
	Hash        chainhash.Hash // The hash of the block.
	Height      int32          // The height of the block.
	Bits        uint32         // The difficulty bits of the block.
	BlockSize   uint64         // The size of the block.
	NumTxns     uint64         // The number of txns in the block.
	TotalTxns   uint64         // The total number of txns in the chain.
	MedianTime  time.Time      // Median time as per CalcPastMedianTime.
	MoneySupply int64          // Cumulative coins in existence.
}

// newBestState returns a new best stats instance for the given parameters.
func newBestState(node *blockNode, blockSize, numTxns, totalTxns uint64, medianTime time.Time) *BestState {
	return &BestState{
		Hash:        node.hash,
		Height:      node.height,
		Bits:        node.bits,
		BlockSize:   blockSize,
		NumTxns:     numTxns,
		TotalTxns:   totalTxns,
		MedianTime:  medianTime,
		MoneySupply: node.moneySupply,
	}
}

// Config is a descriptor which specifies the blockchain instance
// configuration.
type Config struct {
	// TreeDB and CoinsDB are the two backing key-value stores: the
	// block-tree database and the coin database.
	TreeDB  *database.DB
	CoinsDB *database.DB

	// BlockStore is the external flat-file writer block bodies and undo
	// records are stored through.
	BlockStore BlockStore

	// Interrupt specifies a channel the caller can close to signal that
	// long running operations, such as loading the block index or
	// iterating the coin database, should be interrupted.
	Interrupt <-chan struct{}

	// ChainParams identifies which chain parameters the chain is
	// associated with.
	ChainParams *chaincfg.Params

	// TimeSource defines the median time source to use for things such
	// as block processing and determining whether or not the chain is
	// current.
	TimeSource MedianTimeSource

	// SigCache defines a signature cache to use when validating
	// signatures.  A nil cache disables script validation entirely,
	// which is only acceptable for tests.
	SigCache *txscript.SigCache

	// IndexAddresses, IndexSpent and IndexTxs enable maintenance of the
	// respective optional indexes in the block-tree database.
	IndexAddresses bool
	IndexSpent     bool
	IndexTxs       bool

	// UtxoCacheSize is the memory budget, in bytes, of the utxo cache.
	UtxoCacheSize uint64
}

// BlockChain provides functions for working with the izzy block chain.  It
// includes functionality such as rejecting duplicate blocks, ensuring blocks
// follow all rules, orphan handling and best chain selection with
// reorganization.
type BlockChain struct {
	// The following fields are set when the instance is created and can't
	// be changed afterwards, so there is no need to protect them with a
	// separate mutex.
	checkpoints         []chaincfg.Checkpoint
	checkpointsByHeight map[int32]*chaincfg.Checkpoint
	treeDB              *BlockTreeDB
	coinsDB             *CoinsViewDB
	blockStore          BlockStore
	chainParams         *chaincfg.Params
	timeSource          MedianTimeSource
	sigCache            *txscript.SigCache
	interrupt           <-chan struct{}
	indexAddresses      bool
	indexSpent          bool
	indexTxs            bool
	utxoCacheSize       uint64

	// chainLock protects concurrent access to the vast majority of the
	// fields in this struct below this point.
	chainLock sync.RWMutex

	// These fields are related to the memory block index.  They both
	// have their own locks, however they are often also protected by the
	// chain lock to help prevent logic races when blocks are being
	// processed.
	index     *blockIndex
	bestChain *chainView

	// coinsTip is the top in-memory layer of the UTXO view stack, backed
	// by the coin database.  Overlays for speculative validation are
	// stacked on top of it and discarded on failure.
	coinsTip *CoinsViewCache

	// stakeSeen is the set of (outpoint, stake time) pairs consumed by
	// proof-of-stake blocks on the active chain.
	stakeSeen map[stakeSeenKey]struct{}

	// deploymentCaches caches the threshold states of each defined
	// deployment; vbLock guards them so they can be populated lazily on
	// read paths that only hold the chain lock in shared mode.
	vbLock           sync.Mutex
	deploymentCaches []thresholdStateCache

	// checkpointNode caches the most recently found checkpoint node.
	checkpointNode *blockNode

	// rejectedBlocks caches hashes of recently rejected blocks so peers
	// replaying them are refused without revalidation.
	rejectedBlocks lru.Cache

	// These fields are related to the current best chain state.
	stateLock     sync.RWMutex
	stateSnapshot *BestState

	// lastFlushTime tracks when the periodic flush mode last wrote the
	// state.
	lastFlushTime time.Time

	// shutdownRequested is set by abortNode when a fatal local error
	// leaves continuing unsafe.
	shutdownRequested atomic.Bool

	// The notification related fields.
	notificationsLock sync.RWMutex
	notifications     []NotificationCallback
}

// New returns a BlockChain instance using the provided configuration
// details.
func New(config *Config) (*BlockChain, error) {
	// Enforce required config fields.
	if config.TreeDB == nil || config.CoinsDB == nil {
		return nil, AssertError("blockchain.New: both databases are required")
	}
	if config.BlockStore == nil {
		return nil, AssertError("blockchain.New: block store is required")
	}
	if config.ChainParams == nil {
		return nil, AssertError("blockchain.New: chain parameters are required")
	}
	if config.TimeSource == nil {
		return nil, AssertError("blockchain.New: time source is required")
	}

	params := config.ChainParams
	var checkpointsByHeight map[int32]*chaincfg.Checkpoint
	checkpoints := params.CheckpointData.Checkpoints
	if len(checkpoints) > 0 {
		checkpointsByHeight = make(map[int32]*chaincfg.Checkpoint)
		for i := range checkpoints {
			checkpoint := &checkpoints[i]
			checkpointsByHeight[checkpoint.Height] = checkpoint
		}
	}

	cacheSize := config.UtxoCacheSize
	if cacheSize == 0 {
		cacheSize = defaultUtxoCacheSize
	}

	coinsDB := NewCoinsViewDB(config.CoinsDB)
	b := BlockChain{
		checkpoints:         checkpoints,
		checkpointsByHeight: checkpointsByHeight,
		treeDB:              NewBlockTreeDB(config.TreeDB),
		coinsDB:             coinsDB,
		blockStore:          config.BlockStore,
		chainParams:         params,
		timeSource:          config.TimeSource,
		sigCache:            config.SigCache,
		interrupt:           config.Interrupt,
		indexAddresses:      config.IndexAddresses,
		indexSpent:          config.IndexSpent,
		indexTxs:            config.IndexTxs,
		utxoCacheSize:       cacheSize,
		index:               newBlockIndex(params),
		bestChain:           newChainView(nil),
		coinsTip:            NewCoinsViewCache(coinsDB),
		stakeSeen:           make(map[stakeSeenKey]struct{}),
		deploymentCaches:    newThresholdCaches(chaincfg.DefinedDeployments),
		rejectedBlocks:      lru.NewCache(rejectedBlockCacheSize),
		lastFlushTime:       time.Now(),
	}

	// Initialize the chain state from the passed database.  When the db
	// does not yet contain any chain state, both it and the chain state
	// are initialized to the genesis block.
	if err := b.initChainState(); err != nil {
		return nil, err
	}

	bestNode := b.bestChain.Tip()
	log.Infof("Chain state (height %d, hash %v, totaltx %d, work %v)",
		bestNode.height, bestNode.hash, b.stateSnapshot.TotalTxns,
		bestNode.workSum)

	return &b, nil
}

// checkIndexFlags reconciles the optional index configuration with the
// flags recorded in the block-tree database.  Enabling an index over an
// existing chain state would leave it incomplete, so that transition
// requires a reindex.
func (b *BlockChain) checkIndexFlags(freshDB bool) error {
	flags := []struct {
		name    string
		enabled bool
	}{
		{"addressindex", b.indexAddresses},
		{"spentindex", b.indexSpent},
		{"txindex", b.indexTxs},
	}
	for _, flag := range flags {
		stored, exists, err := b.treeDB.ReadFlag(flag.name)
		if err != nil {
			return err
		}
		if exists && !stored && flag.enabled && !freshDB {
			return fatalError("the %s index cannot be enabled on "+
				"an existing chain state; reindex required",
				flag.name)
		}
		if err := b.treeDB.WriteFlag(flag.name, flag.enabled); err != nil {
			return err
		}
	}
	return nil
}

// initChainState attempts to load and initialize the chain state from the
// database.  When the db does not yet contain any chain state, both it and
// the chain state are initialized to the genesis block.
func (b *BlockChain) initChainState() error {
	// Determine whether the block tree contains the genesis block yet.
	hasGenesis, err := b.treeDB.db.Has(blockIndexKey(b.chainParams.GenesisHash))
	if err != nil {
		return err
	}
	if err := b.checkIndexFlags(!hasGenesis); err != nil {
		return err
	}
	if !hasGenesis {
		return b.createChainState()
	}

	// Load every block index record, create the nodes in height order so
	// parents always resolve, and rebuild the stake-seen set.  Order of
	// arrival from the database is irrelevant since linking happens in a
	// second pass.
	var rows []*diskBlockIndexRow
	err = b.treeDB.LoadBlockIndexGuts(b.interrupt, func(row *diskBlockIndexRow) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].height < rows[j].height
	})

	var totalTxns uint64
	for _, row := range rows {
		var parent *blockNode
		if row.height > 0 {
			parent = b.index.LookupNode(&row.header.PrevBlock)
			if parent == nil {
				return AssertError(fmt.Sprintf("block index "+
					"entry %v references unknown parent %v",
					row.hash, row.header.PrevBlock))
			}
		}

		node := newBlockNode(&row.header, parent)
		node.status = row.status
		node.numTx = row.numTx
		node.dataPos = row.dataPos
		node.undoPos = row.undoPos
		node.isProofOfStake = row.isProofOfStake
		node.prevoutStake = row.prevoutStake
		node.stakeTime = row.stakeTime
		node.stakeModifier = row.stakeModifier
		node.hashProofOfStake = row.hashProofOfStake
		node.mint = row.mint
		node.moneySupply = row.moneySupply
		node.lotteryWinners = row.lotteryWinners

		// Re-verify the proof of work of every entry in the
		// proof-of-work phase of the chain; corruption here means the
		// database can't be trusted at all.
		if node.height <= b.chainParams.LastPoWBlock && !node.isProofOfStake {
			err := CheckProofOfWork(&node.hash, node.bits, b.chainParams)
			if err != nil {
				return fatalError("block index entry %v failed "+
					"proof of work re-check: %v", node.hash, err)
			}
		}

		// Rebuild the stake-seen set from the proof-of-stake entries.
		if node.isProofOfStake {
			key := stakeSeenKey{
				prevout:   node.prevoutStake,
				stakeTime: node.stakeTime,
			}
			b.stakeSeen[key] = struct{}{}
		}

		b.index.addNode(node)
		totalTxns += uint64(node.numTx)
	}

	// Set the best chain to the block the coin database state corresponds
	// to.  When the coin database lags behind the block tree, for example
	// after a crash between batches, activateBestChain catches the coin
	// state up again below.
	bestHash, err := b.coinsDB.BestBlock()
	if err != nil {
		return err
	}
	tip := b.index.LookupNode(&bestHash)
	if tip == nil {
		if bestHash != zeroHash {
			return AssertError(fmt.Sprintf("coin database best "+
				"block %v is not in the block index", bestHash))
		}
		tip = b.index.LookupNode(b.chainParams.GenesisHash)
	}
	b.bestChain.SetTip(tip)
	b.coinsTip.SetBestBlock(&tip.hash)

	tipBlock, err := b.fetchBlockByNode(tip)
	if err != nil {
		return err
	}
	blockSize := uint64(tipBlock.MsgBlock().SerializeSize())
	numTxns := uint64(tip.numTx)
	b.stateSnapshot = newBestState(tip, blockSize, numTxns, totalTxns,
		tip.CalcPastMedianTime())

	log.Debugf("Loaded %d block index entries", len(rows))

	// Catch the coin database up to the best known block.
	b.chainLock.Lock()
	defer b.chainLock.Unlock()
	return b.activateBestChain()
}

// createChainState initializes both the database and the chain state to the
// genesis block.  This includes creating the necessary index entries and
// writing the genesis body through the block store.
func (b *BlockChain) createChainState() error {
	// Create a new node from the genesis block and set it as the best
	// node.
	genesisBlock := izzyutil.NewBlock(b.chainParams.GenesisBlock)
	genesisBlock.SetHeight(0)
	header := &genesisBlock.MsgBlock().Header
	node := newBlockNode(header, nil)
	node.status = statusHeaderValid | statusDataStored | statusValid
	node.numTx = uint32(len(genesisBlock.MsgBlock().Transactions))
	node.moneySupply = 0

	// The genesis hash and merkle root are asserted against the chain
	// parameters; a mismatch means the binary is corrupt.
	if node.hash != *b.chainParams.GenesisHash {
		return fatalError("genesis block hash %v does not match "+
			"expected %v", node.hash, b.chainParams.GenesisHash)
	}
	merkleRoot := CalcMerkleRoot(genesisBlock.Transactions())
	if header.MerkleRoot != merkleRoot {
		return fatalError("genesis merkle root %v does not match "+
			"computed %v", header.MerkleRoot, merkleRoot)
	}

	// Store the genesis body through the external block writer.
	serialized, err := genesisBlock.Bytes()
	if err != nil {
		return err
	}
	pos, err := b.blockStore.WriteBlock(serialized, 0,
		uint32(header.Timestamp.Unix()))
	if err != nil {
		return fatalError("failed to store genesis block: %v", err)
	}
	node.dataPos = pos

	b.index.AddNode(node)
	b.bestChain.SetTip(node)

	// Persist the index entry, the file statistics and the coin database
	// best block marker.
	if err := b.index.flushToDB(b.treeDB); err != nil {
		return err
	}
	lastFile, fileInfo := b.blockStore.LastFile()
	if err := b.treeDB.WriteBlockFileInfo(lastFile, &fileInfo); err != nil {
		return err
	}
	if err := b.treeDB.WriteLastBlockFile(lastFile); err != nil {
		return err
	}
	b.coinsTip.SetBestBlock(&node.hash)
	if err := b.coinsTip.Flush(); err != nil {
		return err
	}

	numTxns := uint64(node.numTx)
	b.stateSnapshot = newBestState(node, uint64(len(serialized)), numTxns,
		numTxns, node.CalcPastMedianTime())
	return nil
}

// BestSnapshot returns information about the current best chain block and
// related state as of the current point in time.  The returned instance must
// be treated as immutable since it is shared by all callers.
//
// This function is safe for concurrent access.
func (b *BlockChain) BestSnapshot() *BestState {
	b.stateLock.RLock()
	snapshot := b.stateSnapshot
	b.stateLock.RUnlock()
	return snapshot
}

// HaveBlock returns whether or not the chain instance has the block
// represented by the passed hash.  This includes checking the various places
// a block can be like part of the main chain or on a side chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) HaveBlock(hash *chainhash.Hash) bool {
	node := b.index.LookupNode(hash)
	return node != nil && b.index.NodeStatus(node).HaveData()
}

// MainChainHasBlock returns whether or not the block with the given hash is
// in the main chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) MainChainHasBlock(hash *chainhash.Hash) bool {
	node := b.index.LookupNode(hash)
	return node != nil && b.bestChain.Contains(node)
}

// BlockHeightByHash returns the height of the block with the given hash in
// the main chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) BlockHeightByHash(hash *chainhash.Hash) (int32, error) {
	node := b.index.LookupNode(hash)
	if node == nil || !b.bestChain.Contains(node) {
		str := fmt.Sprintf("block %s is not in the main chain", hash)
		return 0, errNotInMainChain(str)
	}

	return node.height, nil
}

// BlockHashByHeight returns the hash of the block at the given height in the
// main chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) BlockHashByHeight(blockHeight int32) (*chainhash.Hash, error) {
	node := b.bestChain.NodeByHeight(blockHeight)
	if node == nil {
		str := fmt.Sprintf("no block at height %d exists", blockHeight)
		return nil, errNotInMainChain(str)
	}

	return &node.hash, nil
}

// errNotInMainChain signifies that a block hash or height that is not in the
// main chain was requested.
type errNotInMainChain string

// Error implements the error interface.
func (e errNotInMainChain) Error() string {
	return string(e)
}

// fetchBlockByNode loads the block body for the provided node from the
// block store.
func (b *BlockChain) fetchBlockByNode(node *blockNode) (*izzyutil.Block, error) {
	serialized, err := b.blockStore.ReadBlock(node.dataPos)
	if err != nil {
		return nil, fatalError("failed to read block %v from disk: %v",
			node.hash, err)
	}
	block, err := izzyutil.NewBlockFromBytes(serialized)
	if err != nil {
		return nil, fatalError("failed to deserialize block %v: %v",
			node.hash, err)
	}
	block.SetHeight(node.height)
	return block, nil
}

// BlockByHash returns the block from the main chain with the given hash.
//
// This function is safe for concurrent access.
func (b *BlockChain) BlockByHash(hash *chainhash.Hash) (*izzyutil.Block, error) {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()

	node := b.index.LookupNode(hash)
	if node == nil || !b.index.NodeStatus(node).HaveData() {
		str := fmt.Sprintf("block %s is not known", hash)
		return nil, errNotInMainChain(str)
	}
	return b.fetchBlockByNode(node)
}

// connectTip handles connecting the passed node/block to the end of the main
// (best) chain.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) connectTip(node *blockNode, block *izzyutil.Block, flags BehaviorFlags) error {
	// Make sure it's extending the end of the best chain.
	parentHash := &block.MsgBlock().Header.PrevBlock
	tip := b.bestChain.Tip()
	if *parentHash != tip.hash {
		return AssertError("connectTip must be called with a block " +
			"that extends the main chain")
	}

	// Speculatively apply the block to an overlay view so a validation
	// failure can never dirty the main cache.
	view := NewCoinsViewCache(b.coinsTip)
	view.SetBestBlock(&tip.hash)
	stxos := make([]spentTxOut, 0, countSpentOutputs(block.MsgBlock().Transactions))
	err := b.checkConnectBlock(node, block, view, &stxos)
	if err != nil {
		// Any rule violation during connection proves the block can
		// never be part of a valid chain, including missing inputs:
		// at this point every ancestor has been connected, so the
		// inputs can not arrive later.
		if IsRuleError(err) {
			b.index.SetStatusFlags(node, statusValidateFailed)
			b.markDescendantsInvalid(node)
		}
		return err
	}
	b.index.SetStatusFlags(node, statusValid)

	// Write the undo record through the external writer so the block can
	// be disconnected again later.
	undoData := serializeSpendJournalEntry(stxos)
	undoPos, err := b.blockStore.WriteUndo(undoData, node.dataPos)
	if err != nil {
		return fatalError("failed to store undo data for %v: %v",
			node.hash, err)
	}
	node.undoPos = undoPos
	b.index.MarkDirty(node)

	// Atomically merge the overlay into the main cache.  The overlay
	// carries the new best block hash, so from this moment every observer
	// of the main cache sees the post-connect state.
	if err := view.Flush(); err != nil {
		return b.abortNode("failed to merge connected block view", err)
	}

	// Update the optional indexes in the block-tree database.
	if b.indexAddresses || b.indexSpent || b.indexTxs {
		updates := b.collectIndexUpdates(block, node, stxos)
		if err := b.applyIndexUpdates(updates); err != nil {
			return b.abortNode("failed to update indexes", err)
		}
	}

	// Register the stake use of a proof-of-stake block.
	if node.isProofOfStake {
		key := stakeSeenKey{
			prevout:   node.prevoutStake,
			stakeTime: node.stakeTime,
		}
		b.stakeSeen[key] = struct{}{}
	}

	// This node is now the end of the best chain.
	b.bestChain.SetTip(node)

	// Update the state snapshot for the new tip.
	blockSize := uint64(block.MsgBlock().SerializeSize())
	numTxns := uint64(len(block.MsgBlock().Transactions))
	prevSnapshot := b.stateSnapshot
	state := newBestState(node, blockSize, numTxns,
		prevSnapshot.TotalTxns+numTxns, node.CalcPastMedianTime())
	b.stateLock.Lock()
	b.stateSnapshot = state
	b.stateLock.Unlock()

	// Notify the caller that the block was connected to the main chain.
	b.sendNotification(NTBlockConnected, block)

	// Flush the state per the requested mode.
	mode := FlushIfNeeded
	if flags&BFFlushAlways == BFFlushAlways {
		mode = FlushAlways
	}
	return b.flushState(mode)
}

// disconnectTip handles disconnecting the current tip of the main (best)
// chain, reverting its UTXO effects using the undo record written when it
// was connected.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) disconnectTip() error {
	node := b.bestChain.Tip()
	if node.parent == nil {
		return AssertError("disconnectTip called with genesis as tip")
	}

	block, err := b.fetchBlockByNode(node)
	if err != nil {
		return err
	}
	parentBlock, err := b.fetchBlockByNode(node.parent)
	if err != nil {
		return err
	}

	undoData, err := b.blockStore.ReadUndo(node.undoPos)
	if err != nil {
		return fatalError("failed to read undo data for %v: %v",
			node.hash, err)
	}
	stxos, err := deserializeSpendJournalEntry(undoData)
	if err != nil {
		return fatalError("failed to deserialize undo data for %v: %v",
			node.hash, err)
	}

	// Revert the block effects on an overlay and merge the result down.
	view := NewCoinsViewCache(b.coinsTip)
	view.SetBestBlock(&node.hash)
	if err := view.disconnectTransactions(block, stxos); err != nil {
		return err
	}
	if err := view.Flush(); err != nil {
		return b.abortNode("failed to merge disconnected block view", err)
	}

	if b.indexAddresses || b.indexSpent || b.indexTxs {
		updates := b.collectDisconnectIndexUpdates(block, node, stxos)
		if err := b.applyDisconnectIndexUpdates(updates); err != nil {
			return b.abortNode("failed to revert indexes", err)
		}
	}

	// A disconnected proof-of-stake block releases its stake use.
	if node.isProofOfStake {
		key := stakeSeenKey{
			prevout:   node.prevoutStake,
			stakeTime: node.stakeTime,
		}
		delete(b.stakeSeen, key)
	}

	// This node's parent is now the end of the best chain.
	parent := node.parent
	b.bestChain.SetTip(parent)

	blockSize := uint64(parentBlock.MsgBlock().SerializeSize())
	numTxns := uint64(len(block.MsgBlock().Transactions))
	prevSnapshot := b.stateSnapshot
	state := newBestState(parent, blockSize, uint64(parent.numTx),
		prevSnapshot.TotalTxns-numTxns, parent.CalcPastMedianTime())
	b.stateLock.Lock()
	b.stateSnapshot = state
	b.stateLock.Unlock()

	b.sendNotification(NTBlockDisconnected, block)

	return b.flushState(FlushIfNeeded)
}

// markDescendantsInvalid marks every known descendant of the provided node
// with the invalid-ancestor status so they are never considered candidates
// without re-checking.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) markDescendantsInvalid(node *blockNode) {
	b.index.RLock()
	var descendants []*blockNode
	for _, candidate := range b.index.index {
		if candidate.height > node.height &&
			candidate.Ancestor(node.height) == node {

			descendants = append(descendants, candidate)
		}
	}
	b.index.RUnlock()

	for _, descendant := range descendants {
		b.index.SetStatusFlags(descendant, statusInvalidAncestor)
	}
}

// chainIsViable returns whether every block from the provided node down to
// the active chain fork point has its data available and none of them are
// known invalid, i.e. whether the node could actually be activated.
//
// This function MUST be called with the chain state lock held (for reads).
func (b *BlockChain) chainIsViable(node *blockNode) bool {
	for n := node; n != nil && !b.bestChain.Contains(n); n = n.parent {
		status := b.index.NodeStatus(n)
		if status.KnownInvalid() || !status.HaveData() {
			return false
		}
	}
	return true
}

// findMostWorkCandidate returns the viable chain tip with the most
// cumulative work, which may be the current tip itself.
//
// This function MUST be called with the chain state lock held (for reads).
func (b *BlockChain) findMostWorkCandidate() *blockNode {
	best := b.bestChain.Tip()

	b.index.RLock()
	var candidates []*blockNode
	for _, node := range b.index.index {
		if node.workSum.Cmp(best.workSum) > 0 {
			candidates = append(candidates, node)
		}
	}
	b.index.RUnlock()

	// Prefer the candidate with the most work; break ties by lowest hash
	// so selection is deterministic.
	sort.Slice(candidates, func(i, j int) bool {
		cmp := candidates[i].workSum.Cmp(candidates[j].workSum)
		if cmp != 0 {
			return cmp > 0
		}
		return candidates[i].hash.String() < candidates[j].hash.String()
	})
	for _, candidate := range candidates {
		if b.chainIsViable(candidate) {
			return candidate
		}
	}
	return best
}

// activateBestChain reorganizes the active chain to the viable candidate
// with the most cumulative work.  It repeats until the candidate and the tip
// agree: a connection failure along the way marks the offending block and
// its descendants invalid, rolls back to the last good block and the loop
// then resumes with the next best remaining candidate.  The first rule
// violation encountered is returned once the chain has converged so callers
// learn why their block did not activate.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) activateBestChain() error {
	var firstRuleErr error
	for {
		if interruptRequested(b.interrupt) {
			return errInterruptRequested
		}

		target := b.findMostWorkCandidate()
		tip := b.bestChain.Tip()
		if target == tip {
			return firstRuleErr
		}

		// Find the fork point and disconnect back to it.
		fork := b.bestChain.FindFork(target)
		for b.bestChain.Tip() != fork {
			if err := b.disconnectTip(); err != nil {
				return err
			}
		}

		// Connect along the branch from the fork to the target.
		attach := make([]*blockNode, 0, target.height-fork.height)
		for n := target; n != fork; n = n.parent {
			attach = append(attach, n)
		}
		for i := len(attach) - 1; i >= 0; i-- {
			node := attach[i]
			block, err := b.fetchBlockByNode(node)
			if err != nil {
				return err
			}
			err = b.connectTip(node, block, BFNone)
			if err != nil {
				if IsFatalErr(err) {
					return err
				}
				if IsRuleError(err) {
					// The offending block and its
					// descendants were marked; resume with
					// the next best candidate.
					log.Warnf("Block %v failed connection "+
						"during reorganize: %v",
						node.hash, err)
					if firstRuleErr == nil {
						firstRuleErr = err
					}
					break
				}
				return err
			}
		}
	}
}

// flushState writes the chain state to disk according to the provided mode.
// Dirty block index entries and block file statistics are always written;
// the utxo cache is flushed when the mode (or cache pressure) demands it.
// The best-block marker is committed atomically with the coin deltas by the
// backing view.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) flushState(mode FlushMode) error {
	if err := b.index.flushToDB(b.treeDB); err != nil {
		return b.abortNode("failed to flush block index", err)
	}
	lastFile, fileInfo := b.blockStore.LastFile()
	if err := b.treeDB.WriteBlockFileInfo(lastFile, &fileInfo); err != nil {
		return b.abortNode("failed to flush block file info", err)
	}
	if err := b.treeDB.WriteLastBlockFile(lastFile); err != nil {
		return b.abortNode("failed to flush last block file", err)
	}

	flushCoins := false
	switch mode {
	case FlushAlways:
		flushCoins = true
	case FlushPeriodic:
		if time.Since(b.lastFlushTime) > flushInterval {
			flushCoins = true
		}
		fallthrough
	case FlushIfNeeded:
		if b.coinsTip.DynamicMemoryUsage() > b.utxoCacheSize {
			flushCoins = true
		}
	}
	if !flushCoins {
		return nil
	}

	if err := b.coinsTip.Flush(); err != nil {
		return b.abortNode("failed to flush utxo cache", err)
	}
	b.lastFlushTime = time.Now()
	return nil
}

// FlushStateToDisk flushes the complete chain state unconditionally.
//
// This function is safe for concurrent access.
func (b *BlockChain) FlushStateToDisk() error {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()
	return b.flushState(FlushAlways)
}

// abortNode handles fatal local failures: it logs the failure, flips the
// shutdown flag and returns the failure as a FatalError.  It does not flush
// any state itself.  It is safe to call with the chain state lock held.
func (b *BlockChain) abortNode(msg string, err error) error {
	log.Criticalf("%s: %v -- aborting node", msg, err)
	b.shutdownRequested.Store(true)
	return fatalError("%s: %v", msg, err)
}

// ShutdownRequested returns whether a fatal local error has requested the
// node to shut down.
//
// This function is safe for concurrent access.
func (b *BlockChain) ShutdownRequested() bool {
	return b.shutdownRequested.Load()
}

// InvalidateBlock marks the block associated with the provided hash and all
// of its descendants invalid and moves the active chain to the best
// remaining candidate.
//
// This function is safe for concurrent access.
func (b *BlockChain) InvalidateBlock(hash *chainhash.Hash) error {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	node := b.index.LookupNode(hash)
	if node == nil {
		return errNotInMainChain(fmt.Sprintf("block %s is "+
			"not known", hash))
	}
	if node.parent == nil {
		return AssertError("the genesis block cannot be invalidated")
	}

	b.index.SetStatusFlags(node, statusValidateFailed)
	b.index.UnsetStatusFlags(node, statusValid)
	b.markDescendantsInvalid(node)

	// Disconnect back past the invalidated block if it is on the active
	// chain.
	for b.bestChain.Contains(node) {
		if err := b.disconnectTip(); err != nil {
			return err
		}
	}

	if err := b.activateBestChain(); err != nil {
		return err
	}
	return b.flushState(FlushAlways)
}

// ReconsiderBlock removes the invalid status of the block associated with
// the provided hash and all of its descendants and re-activates the best
// chain, which may adopt the reconsidered branch again.
//
// This function is safe for concurrent access.
func (b *BlockChain) ReconsiderBlock(hash *chainhash.Hash) error {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	node := b.index.LookupNode(hash)
	if node == nil {
		return errNotInMainChain(fmt.Sprintf("block %s is "+
			"not known", hash))
	}

	b.index.UnsetStatusFlags(node, statusValidateFailed|statusInvalidAncestor)

	b.index.RLock()
	var descendants []*blockNode
	for _, candidate := range b.index.index {
		if candidate.height > node.height &&
			candidate.Ancestor(node.height) == node {

			descendants = append(descendants, candidate)
		}
	}
	b.index.RUnlock()
	for _, descendant := range descendants {
		b.index.UnsetStatusFlags(descendant,
			statusValidateFailed|statusInvalidAncestor)
	}

	return b.activateBestChain()
}

// IsCurrent returns whether or not the chain believes it is current.
// Several factors are used to guess, but the key factors that allow the
// chain to believe it is current are:
//   - Latest block height is after the latest checkpoint (if enabled)
//   - Latest block has a timestamp newer than 24 hours ago
//
// This function is safe for concurrent access.
func (b *BlockChain) IsCurrent() bool {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()

	// Not current if the latest main (best) chain height is before the
	// latest known good checkpoint.
	checkpoint := b.LatestCheckpoint()
	tip := b.bestChain.Tip()
	if checkpoint != nil && tip.height < checkpoint.Height {
		return false
	}

	// Not current if the latest best block has a timestamp before 24
	// hours ago.
	//
	// The chain appears to be current if none of the checks reported
	// otherwise.
	minus24Hours := b.timeSource.AdjustedTime().Add(-24 * time.Hour).Unix()
	return tip.timestamp >= minus24Hours
}

// Stats reduces the coin database to its deterministic commitment.  When the
// chain parameters request default consistency checks, it is also run at
// startup.
//
// This function is safe for concurrent access.
func (b *BlockChain) Stats() (*CoinsStats, error) {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	return b.coinsDB.Stats(b.interrupt)
}

