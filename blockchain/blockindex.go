// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/izzyproject/izzyd/blockfile"
	"github.com/izzyproject/izzyd/chaincfg"
	"github.com/izzyproject/izzyd/wire"
)

// blockStatus is a bit field representing the validation state of the block.
type blockStatus byte

// The following constants specify possible status bit flags for a block.
//
// NOTE: This section specifically does not use iota since the block status
// is serialized and must be stable for long-term storage.
const (
	// statusNone indicates that the block has no validation state flags
	// set.
	statusNone blockStatus = 0

	// statusHeaderValid indicates that the block header has passed all of
	// its validation checks.
	statusHeaderValid blockStatus = 1 << 0

	// statusDataStored indicates that the block's payload is stored on
	// disk.
	statusDataStored blockStatus = 1 << 1

	// statusValid indicates that the block has been fully validated,
	// which implies its UTXO effects were applied at some point.
	statusValid blockStatus = 1 << 2

	// statusValidateFailed indicates that the block has failed
	// validation.
	statusValidateFailed blockStatus = 1 << 3

	// statusInvalidAncestor indicates that one of the ancestors of the
	// block has failed validation, thus the block is also invalid.
	statusInvalidAncestor blockStatus = 1 << 4
)

// HeaderValid returns whether the block header has been validated.
func (status blockStatus) HeaderValid() bool {
	return status&statusHeaderValid != 0
}

// HaveData returns whether the full block data is stored in the database.
// This will return false for a block node where only the header is
// downloaded or stored.
func (status blockStatus) HaveData() bool {
	return status&statusDataStored != 0
}

// KnownValid returns whether the block is known to be valid.  This will
// return false for a valid block that has not been fully validated yet.
func (status blockStatus) KnownValid() bool {
	return status&statusValid != 0
}

// KnownInvalid returns whether the block is known to be invalid.  This may
// be because the block itself failed validation or any of its ancestors is
// known to be invalid.  This will return false for invalid blocks that have
// not been proven invalid yet.
func (status blockStatus) KnownInvalid() bool {
	return status&(statusValidateFailed|statusInvalidAncestor) != 0
}

// blockNode represents a block within the block chain and is primarily used
// to aid in selecting the best chain to be the main chain.  The main chain
// is stored into the block database.
type blockNode struct {
	// NOTE: Additions, deletions, or modifications to the order of the
	// definitions in this struct should not be changed without
	// considering how it affects alignment on 64-bit platforms.  The
	// current order is specifically crafted to result in minimal padding.
	// There will be hundreds of thousands of these in memory, so a few
	// extra bytes of padding adds up.

	// parent is the parent block for this node.
	parent *blockNode

	// skip is the ancestor at height equal to this node's height minus
	// the largest power of two not exceeding it.  Following skip pointers
	// makes ancestor lookups logarithmic instead of linear.
	skip *blockNode

	// hash is the hash of the block this node represents.
	hash chainhash.Hash

	// workSum is the total amount of work in the chain up to and
	// including this node.
	workSum *big.Int

	// Some fields from block headers to aid in best chain selection and
	// reconstructing headers from memory.  These must be treated as
	// immutable and are intentionally ordered to avoid padding on 64-bit
	// platforms.
	height     int32
	version    int32
	bits       uint32
	nonce      uint32
	timestamp  int64
	merkleRoot chainhash.Hash

	// dataPos and undoPos locate the block body and its undo record in
	// the flat files.  They are null until the respective record is
	// written.
	dataPos blockfile.BlockPos
	undoPos blockfile.BlockPos

	// numTx is the number of transactions in the block.
	numTx uint32

	// Proof-of-stake related fields.  They are zero for proof-of-work
	// blocks.
	isProofOfStake   bool
	prevoutStake     wire.OutPoint
	stakeTime        uint32
	stakeModifier    uint64
	hashProofOfStake chainhash.Hash

	// mint is the amount of new coins created by this block and
	// moneySupply the cumulative amount in existence up to and including
	// it.
	mint        int64
	moneySupply int64

	// lotteryWinners is the list of coinstake hashes currently winning
	// the lottery cycle this block belongs to.
	lotteryWinners []chainhash.Hash

	// status is a bitfield representing the validation state of the
	// block.  The status field, unlike the other fields, may be written
	// to and so should only be accessed using the concurrent-safe
	// NodeStatus method on blockIndex once the node has been added to the
	// global index.
	status blockStatus
}

// initBlockNode initializes a block node from the given header and parent
// node, calculating the height and workSum from the respective fields on the
// parent.  This function is NOT safe for concurrent access.  It must only be
// called when initially creating a node.
func initBlockNode(node *blockNode, blockHeader *wire.BlockHeader, parent *blockNode) {
	*node = blockNode{
		hash:       blockHeader.BlockHash(),
		workSum:    CalcWork(blockHeader.Bits),
		version:    blockHeader.Version,
		bits:       blockHeader.Bits,
		nonce:      blockHeader.Nonce,
		timestamp:  blockHeader.Timestamp.Unix(),
		merkleRoot: blockHeader.MerkleRoot,
		dataPos:    blockfile.NullBlockPos,
		undoPos:    blockfile.NullBlockPos,
	}
	if parent != nil {
		node.parent = parent
		node.height = parent.height + 1
		node.skip = parent.Ancestor(skipHeight(node.height))
		node.workSum = node.workSum.Add(parent.workSum, node.workSum)
	}
}

// newBlockNode returns a new block node for the given block header and
// parent node, calculating the height and workSum from the respective fields
// on the parent.  This function is NOT safe for concurrent access.
func newBlockNode(blockHeader *wire.BlockHeader, parent *blockNode) *blockNode {
	var node blockNode
	initBlockNode(&node, blockHeader, parent)
	return &node
}

// Header constructs a block header from the node and returns it.
//
// This function is safe for concurrent access.
func (node *blockNode) Header() wire.BlockHeader {
	// No lock is needed because all accessed fields are immutable.
	prevHash := &zeroHash
	if node.parent != nil {
		prevHash = &node.parent.hash
	}
	return wire.BlockHeader{
		Version:    node.version,
		PrevBlock:  *prevHash,
		MerkleRoot: node.merkleRoot,
		Timestamp:  time.Unix(node.timestamp, 0),
		Bits:       node.bits,
		Nonce:      node.nonce,
	}
}

// skipHeight returns the height of the skip-pointer ancestor for a node at
// the provided height: the height minus the largest power of two that does
// not exceed it.
func skipHeight(height int32) int32 {
	if height < 2 {
		return 0
	}

	pow2 := int32(1)
	for pow2*2 <= height {
		pow2 *= 2
	}
	return height - pow2
}

// Ancestor returns the ancestor block node at the provided height by
// following the chain backwards from this node, using the skip pointers to
// avoid walking every intermediate node.  The returned block will be nil
// when a height is requested that is after the height of the passed node or
// is less than zero.
//
// This function is safe for concurrent access.
func (node *blockNode) Ancestor(height int32) *blockNode {
	if height < 0 || height > node.height {
		return nil
	}

	n := node
	for n != nil && n.height != height {
		if n.skip != nil && n.skip.height >= height {
			n = n.skip
		} else {
			n = n.parent
		}
	}

	return n
}

// RelativeAncestor returns the ancestor block node a relative 'distance'
// blocks before this node.  This is equivalent to calling Ancestor with the
// node's height minus provided distance.
//
// This function is safe for concurrent access.
func (node *blockNode) RelativeAncestor(distance int32) *blockNode {
	return node.Ancestor(node.height - distance)
}

// CalcPastMedianTime calculates the median time of the previous few blocks
// prior to, and including, the block node.
//
// This function is safe for concurrent access.
func (node *blockNode) CalcPastMedianTime() time.Time {
	// Create a slice of the previous few block timestamps used to
	// calculate the median per the number defined by the constant
	// medianTimeBlocks.
	timestamps := make([]int64, medianTimeBlocks)
	numNodes := 0
	iterNode := node
	for i := 0; i < medianTimeBlocks && iterNode != nil; i++ {
		timestamps[i] = iterNode.timestamp
		numNodes++

		iterNode = iterNode.parent
	}

	// Prune the slice to the actual number of available timestamps which
	// will be fewer than desired near the beginning of the block chain
	// and sort them.
	timestamps = timestamps[:numNodes]
	sort.Sort(timeSorter(timestamps))

	// NOTE: The consensus rules incorrectly calculate the median for even
	// numbers of blocks.  A true median averages the middle two elements
	// for a set with an even number of elements in it.  Since the
	// constant for the previous number of blocks to be used is odd, this
	// is only an issue for a few blocks near the beginning of the chain.
	// This code follows suit to ensure the same rules are used.
	medianTimestamp := timestamps[numNodes/2]
	return time.Unix(medianTimestamp, 0)
}

// blockIndex provides facilities for keeping track of an in-memory index of
// the block chain.  Although the name block chain suggests a single chain of
// blocks, it is actually a tree-shaped structure where any node can have
// multiple children.  However, there can only be one active branch which
// does indeed form a chain from the tip all the way back to the genesis
// block.
type blockIndex struct {
	// The following fields are set when the instance is created and can't
	// be changed afterwards, so there is no need to protect them with a
	// separate mutex.
	chainParams *chaincfg.Params

	sync.RWMutex
	index map[chainhash.Hash]*blockNode
	dirty map[*blockNode]struct{}
}

// newBlockIndex returns a new empty instance of a block index.  The index
// will be dynamically populated as block nodes are loaded from the database
// and manually added.
func newBlockIndex(chainParams *chaincfg.Params) *blockIndex {
	return &blockIndex{
		chainParams: chainParams,
		index:       make(map[chainhash.Hash]*blockNode),
		dirty:       make(map[*blockNode]struct{}),
	}
}

// HaveBlock returns whether or not the block index contains the provided
// hash.
//
// This function is safe for concurrent access.
func (bi *blockIndex) HaveBlock(hash *chainhash.Hash) bool {
	bi.RLock()
	_, hasBlock := bi.index[*hash]
	bi.RUnlock()
	return hasBlock
}

// LookupNode returns the block node identified by the provided hash.  It
// will return nil if there is no entry for the hash.
//
// This function is safe for concurrent access.
func (bi *blockIndex) LookupNode(hash *chainhash.Hash) *blockNode {
	bi.RLock()
	node := bi.index[*hash]
	bi.RUnlock()
	return node
}

// AddNode adds the provided node to the block index and marks it as dirty.
// Duplicate entries are not checked so it is up to caller to avoid adding
// them.
//
// This function is safe for concurrent access.
func (bi *blockIndex) AddNode(node *blockNode) {
	bi.Lock()
	bi.addNode(node)
	bi.dirty[node] = struct{}{}
	bi.Unlock()
}

// addNode adds the provided node to the block index, but does not mark it as
// dirty.  This can be used while initializing the block index.
//
// This function is NOT safe for concurrent access.
func (bi *blockIndex) addNode(node *blockNode) {
	bi.index[node.hash] = node
}

// NodeStatus provides concurrent-safe access to the status field of a node.
//
// This function is safe for concurrent access.
func (bi *blockIndex) NodeStatus(node *blockNode) blockStatus {
	bi.RLock()
	status := node.status
	bi.RUnlock()
	return status
}

// SetStatusFlags flips the provided status flags on the block node to on,
// regardless of whether they were on or off previously.  This does not unset
// any flags currently on.
//
// This function is safe for concurrent access.
func (bi *blockIndex) SetStatusFlags(node *blockNode, flags blockStatus) {
	bi.Lock()
	node.status |= flags
	bi.dirty[node] = struct{}{}
	bi.Unlock()
}

// UnsetStatusFlags flips the provided status flags on the block node to off,
// regardless of whether they were on or off previously.
//
// This function is safe for concurrent access.
func (bi *blockIndex) UnsetStatusFlags(node *blockNode, flags blockStatus) {
	bi.Lock()
	node.status &^= flags
	bi.dirty[node] = struct{}{}
	bi.Unlock()
}

// MarkDirty schedules the provided node to be written to the block-tree
// database on the next index flush.  It is used when a mutable non-status
// field, such as the undo position, changes.
//
// This function is safe for concurrent access.
func (bi *blockIndex) MarkDirty(node *blockNode) {
	bi.Lock()
	bi.dirty[node] = struct{}{}
	bi.Unlock()
}

// flushToDB writes all dirty block nodes to the provided block-tree database
// batch.  If all writes succeed, this clears the dirty set.
func (bi *blockIndex) flushToDB(treeDB *BlockTreeDB) error {
	bi.Lock()
	if len(bi.dirty) == 0 {
		bi.Unlock()
		return nil
	}

	batch := treeDB.db.NewBatch()
	for node := range bi.dirty {
		putBatchBlockIndex(batch, node)
	}
	err := treeDB.db.Write(batch)

	// If write was successful, replace the dirty set with a new empty
	// one.
	if err == nil {
		bi.dirty = make(map[*blockNode]struct{})
	}
	bi.Unlock()
	return err
}

// zeroHash is the zero value for a chainhash.Hash and is defined as a
// package level variable to avoid the need to create a new instance every
// time a check is needed.
var zeroHash chainhash.Hash
