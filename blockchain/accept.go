// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/izzyproject/izzyd/izzyutil"
)

// maybeAcceptBlock potentially accepts a block into the block chain and, if
// accepted, returns whether or not it is on the main chain.  It performs
// several validation checks which depend on its position within the block
// chain before adding it.  The block is expected to have already gone
// through ProcessBlock before calling this function with it.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) maybeAcceptBlock(block *izzyutil.Block, flags BehaviorFlags) (bool, error) {
	// The height of this block is one more than the referenced previous
	// block.
	prevHash := &block.MsgBlock().Header.PrevBlock
	prevNode := b.index.LookupNode(prevHash)
	if prevNode == nil {
		str := fmt.Sprintf("previous block %s is unknown", prevHash)
		return false, ruleError(ErrMissingParent, str)
	}
	if b.index.NodeStatus(prevNode).KnownInvalid() {
		str := fmt.Sprintf("previous block %s is known to be invalid",
			prevHash)
		return false, ruleError(ErrInvalidAncestorBlock, str)
	}

	blockHeight := prevNode.height + 1
	block.SetHeight(blockHeight)

	// The block must pass all of the validation rules which depend on the
	// position of the block within the block chain.
	err := b.checkBlockContext(block, prevNode, flags)
	if err != nil {
		return false, err
	}

	// Create a new block node for the block and link it into the block
	// index.  The header is known valid at this point, and the body is
	// stored below.
	header := &block.MsgBlock().Header
	newNode := newBlockNode(header, prevNode)
	newNode.numTx = uint32(len(block.MsgBlock().Transactions))
	if IsProofOfStake(block) {
		coinstake := block.MsgBlock().Transactions[1]
		newNode.isProofOfStake = true
		newNode.prevoutStake = coinstake.TxIn[0].PreviousOutPoint
		newNode.stakeTime = uint32(header.Timestamp.Unix())
		newNode.stakeModifier = calcStakeModifier(prevNode, &newNode.hash)
		newNode.hashProofOfStake = calcProofOfStakeHash(prevNode,
			newNode.stakeTime, newNode.prevoutStake)
	}
	newNode.status = statusHeaderValid

	// Insert the block into the database through the external block
	// writer if it is not already there.  Even if the block ultimately
	// gets connected to the main chain, it starts out on a side chain.
	serialized, err := block.Bytes()
	if err != nil {
		return false, err
	}
	pos, err := b.blockStore.WriteBlock(serialized, blockHeight,
		uint32(header.Timestamp.Unix()))
	if err != nil {
		return false, b.abortNode("failed to store block", err)
	}
	newNode.dataPos = pos
	newNode.status |= statusDataStored

	b.index.AddNode(newNode)
	if err := b.index.flushToDB(b.treeDB); err != nil {
		return false, b.abortNode("failed to flush block index", err)
	}

	// Notify the caller that the new block was accepted into the block
	// chain.  The caller would typically want to react by relaying the
	// inventory to other peers.
	b.sendNotification(NTBlockAccepted, block)

	// Connect the passed block to the chain while respecting proper chain
	// selection according to the chain with the most proof of work.
	err = b.activateBestChain()
	if err != nil {
		return false, err
	}

	return b.bestChain.Contains(newNode), nil
}
