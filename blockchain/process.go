// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/izzyproject/izzyd/izzyutil"
)

// BehaviorFlags is a bitmask defining tweaks to the normal behavior when
// performing chain processing and consensus rules checks.
type BehaviorFlags uint32

const (
	// BFFastAdd may be set to indicate that several checks on a block
	// which builds directly on a part of the chain already known to be
	// valid can be avoided.  This is primarily used for headers-first
	// mode and when loading trusted blocks from disk.
	BFFastAdd BehaviorFlags = 1 << iota

	// BFNoPoWCheck may be set to indicate the proof of work check which
	// ensures a block hashes to a value less than the required target
	// will not be performed.
	BFNoPoWCheck

	// BFFlushAlways may be set to force a full state flush after every
	// connected block rather than deferring to the cache memory budget.
	BFFlushAlways

	// BFNone is a convenience value to specifically indicate no flags.
	BFNone BehaviorFlags = 0
)

// ProcessBlock is the main workhorse for handling insertion of new blocks
// into the block chain.  It includes functionality such as rejecting
// duplicate blocks, ensuring blocks follow all rules, and insertion into the
// block chain along with best chain selection and reorganization.
//
// When no errors occurred during processing, the first return value
// indicates whether or not the block is on the main chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) ProcessBlock(block *izzyutil.Block, flags BehaviorFlags) (bool, error) {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	blockHash := block.Hash()
	log.Tracef("Processing block %v", blockHash)

	// Blocks that recently failed validation are refused outright so a
	// misbehaving peer cannot force repeated revalidation.
	if b.rejectedBlocks.Contains(*blockHash) {
		str := fmt.Sprintf("block %v was recently rejected", blockHash)
		return false, ruleError(ErrDuplicateBlock, str)
	}

	// The block must not already exist in the main chain or side chains.
	node := b.index.LookupNode(blockHash)
	if node != nil && b.index.NodeStatus(node).HaveData() {
		str := fmt.Sprintf("already have block %v", blockHash)
		return false, ruleError(ErrDuplicateBlock, str)
	}

	// Perform preliminary sanity checks on the block and its
	// transactions.
	err := checkBlockSanity(block, b.chainParams, b.timeSource, flags)
	if err != nil {
		b.rejectedBlocks.Add(*blockHash)
		return false, err
	}

	// Accept the block into the chain; this also handles activating the
	// best chain and therefore any necessary reorganization.  Transient
	// failures, such as a missing parent, are returned to the caller
	// without adding the block to the rejected-blocks cache: the block may
	// become valid once the missing data arrives.
	isMainChain, err := b.maybeAcceptBlock(block, flags)
	if err != nil {
		if IsRuleError(err) && !IsTransient(err) {
			b.rejectedBlocks.Add(*blockHash)
		}
		return false, err
	}

	log.Debugf("Accepted block %v", blockHash)
	return isMainChain, nil
}
