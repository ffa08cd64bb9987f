// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"

	"github.com/izzyproject/izzyd/izzyutil"
)

// CheckBlockSignature verifies the signature appended to a proof-of-stake
// block.  The signature covers the block hash and must verify against the
// public key the coinstake pays back to, which ties block production to
// ownership of the stake.  Proof-of-work blocks must not carry a signature.
func CheckBlockSignature(block *izzyutil.Block) error {
	msgBlock := block.MsgBlock()

	if !IsProofOfStake(block) {
		if len(msgBlock.BlockSig) != 0 {
			return ruleError(ErrBadBlockSignature, "proof-of-work "+
				"block carries a block signature")
		}
		return nil
	}

	if len(msgBlock.BlockSig) == 0 {
		return ruleError(ErrBadBlockSignature, "proof-of-stake block "+
			"is missing its block signature")
	}

	// The staker's key is taken from the first paying output of the
	// coinstake, which re-emits the stake to its owner as a bare
	// pay-to-pubkey output.
	coinstake := msgBlock.Transactions[1]
	payoutScript := coinstake.TxOut[1].PkScript
	if txscript.GetScriptClass(payoutScript) != txscript.PubKeyTy {
		str := "coinstake payout script is not pay-to-pubkey"
		return ruleError(ErrBadBlockSignature, str)
	}

	pushed, err := txscript.PushedData(payoutScript)
	if err != nil || len(pushed) != 1 {
		str := "unable to extract staking key from coinstake"
		return ruleError(ErrBadBlockSignature, str)
	}

	pubKey, err := btcec.ParsePubKey(pushed[0])
	if err != nil {
		str := fmt.Sprintf("invalid staking key: %v", err)
		return ruleError(ErrBadBlockSignature, str)
	}

	sig, err := ecdsa.ParseDERSignature(msgBlock.BlockSig)
	if err != nil {
		str := fmt.Sprintf("malformed block signature: %v", err)
		return ruleError(ErrBadBlockSignature, str)
	}

	blockHash := block.Hash()
	if !sig.Verify(blockHash[:], pubKey) {
		return ruleError(ErrBadBlockSignature, "block signature "+
			"verification failed")
	}
	return nil
}
