// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"encoding/binary"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/izzyproject/izzyd/izzyutil"
	"github.com/izzyproject/izzyd/wire"
)

// IsCoinBaseTx determines whether or not a transaction is a coinbase.  A
// coinbase is a special transaction created by miners that has no inputs.
// This is represented in the block chain by a transaction with a single
// input that has a previous output transaction index set to the maximum
// value along with a zero hash.
func IsCoinBaseTx(msgTx *wire.MsgTx) bool {
	// A coin base must only have one transaction input.
	if len(msgTx.TxIn) != 1 {
		return false
	}

	// The previous output of a coin base must have a max value index and
	// a zero hash.
	prevOut := &msgTx.TxIn[0].PreviousOutPoint
	if prevOut.Index != ^uint32(0) || prevOut.Hash != zeroHash {
		return false
	}

	return true
}

// IsCoinBase determines whether or not a transaction is a coinbase.  This is
// a convenience wrapper around IsCoinBaseTx.
func IsCoinBase(tx *btcutil.Tx) bool {
	return IsCoinBaseTx(tx.MsgTx())
}

// isEmptyTxOut returns whether the provided output carries no value and no
// script.  The first output of a coinstake is empty by definition.
func isEmptyTxOut(txOut *wire.TxOut) bool {
	return txOut.Value == 0 && len(txOut.PkScript) == 0
}

// IsCoinStakeTx determines whether or not a transaction is a coinstake: a
// transaction that consumes a stake and re-emits it with the stake reward.
// A coinstake has at least one real input and at least two outputs, the
// first of which is empty.
func IsCoinStakeTx(msgTx *wire.MsgTx) bool {
	if len(msgTx.TxIn) == 0 || len(msgTx.TxOut) < 2 {
		return false
	}

	prevOut := &msgTx.TxIn[0].PreviousOutPoint
	if prevOut.Index == ^uint32(0) && prevOut.Hash == zeroHash {
		return false
	}

	return isEmptyTxOut(msgTx.TxOut[0])
}

// IsCoinStake determines whether or not a transaction is a coinstake.  This
// is a convenience wrapper around IsCoinStakeTx.
func IsCoinStake(tx *btcutil.Tx) bool {
	return IsCoinStakeTx(tx.MsgTx())
}

// IsProofOfStake returns whether the provided block is proof of stake: its
// second transaction is a coinstake.
func IsProofOfStake(block *izzyutil.Block) bool {
	transactions := block.MsgBlock().Transactions
	return len(transactions) > 1 && IsCoinStakeTx(transactions[1])
}

// stakeSeenKey is the identity of a stake use: the consumed outpoint
// together with the stake time.  Accepted proof-of-stake blocks insert their
// key into the stake-seen set and duplicates are rejected outright.
type stakeSeenKey struct {
	prevout   wire.OutPoint
	stakeTime uint32
}

// stakeInput returns the outpoint consumed by the coinstake of the provided
// proof-of-stake block.
func stakeInput(block *izzyutil.Block) wire.OutPoint {
	return block.MsgBlock().Transactions[1].TxIn[0].PreviousOutPoint
}

// calcStakeModifier derives the stake modifier for a block from its parent's
// modifier and its own hash.  The modifier seeds the kernel hash of child
// blocks so a staker cannot grind future kernels ahead of time.
func calcStakeModifier(parent *blockNode, blockHash *chainhash.Hash) uint64 {
	var buf [8 + chainhash.HashSize]byte
	if parent != nil {
		binary.LittleEndian.PutUint64(buf[0:8], parent.stakeModifier)
	}
	copy(buf[8:], blockHash[:])

	hash := chainhash.DoubleHashH(buf[:])
	return binary.LittleEndian.Uint64(hash[:8])
}

// calcProofOfStakeHash computes the kernel hash that a proof-of-stake block
// commits to: a hash over the parent's stake modifier, the stake time and
// the consumed outpoint.
func calcProofOfStakeHash(parent *blockNode, stakeTime uint32, prevout wire.OutPoint) chainhash.Hash {
	var buf [8 + 4 + chainhash.HashSize + 4]byte
	if parent != nil {
		binary.LittleEndian.PutUint64(buf[0:8], parent.stakeModifier)
	}
	binary.LittleEndian.PutUint32(buf[8:12], stakeTime)
	copy(buf[12:12+chainhash.HashSize], prevout.Hash[:])
	binary.LittleEndian.PutUint32(buf[12+chainhash.HashSize:], prevout.Index)

	return chainhash.DoubleHashH(buf[:])
}

// checkStakeKernelHash verifies the provided kernel hash satisfies the stake
// target for the block's compact difficulty, weighted by the value of the
// consumed stake.  Larger stakes are proportionally more likely to find a
// valid kernel.
func checkStakeKernelHash(bits uint32, stakeValue int64, kernelHash *chainhash.Hash) bool {
	weight := stakeValue / izzyutil.SatoshiPerCoin
	if weight < 1 {
		weight = 1
	}

	target := CompactToBig(bits)
	target.Mul(target, big.NewInt(weight))
	return HashToBig(kernelHash).Cmp(target) <= 0
}
