// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"

	"github.com/izzyproject/izzyd/wire"
)

const (
	// maxStandardTxSize is the maximum size allowed for transactions that
	// are considered standard and will therefore be relayed and
	// considered for mining.
	maxStandardTxSize = 100000

	// maxStandardSigScriptSize is the maximum size allowed for a
	// transaction input signature script to be considered standard.
	maxStandardSigScriptSize = 1650
)

// checkInputsStandard performs a series of checks on a transaction's inputs
// to ensure they are "standard".  A standard transaction input is one whose
// signature script consists only of pushed data.
func checkInputsStandard(tx *btcutil.Tx) error {
	for i, txIn := range tx.MsgTx().TxIn {
		if len(txIn.SignatureScript) > maxStandardSigScriptSize {
			str := fmt.Sprintf("transaction input %d: signature "+
				"script size of %d bytes is large than max "+
				"allowed size of %d bytes", i,
				len(txIn.SignatureScript), maxStandardSigScriptSize)
			return ruleError(ErrScriptMalformed, str)
		}
		if !txscript.IsPushOnlyScript(txIn.SignatureScript) {
			str := fmt.Sprintf("transaction input %d: signature "+
				"script is not push only", i)
			return ruleError(ErrScriptMalformed, str)
		}
	}
	return nil
}

// CheckTransactionStandard performs a series of policy checks on a
// transaction to determine whether it should be relayed and considered for
// inclusion in blocks.  Unlike the consensus checks these rules only bind
// the memory pool: a block containing a non-standard transaction is still
// valid.
func CheckTransactionStandard(tx *btcutil.Tx) error {
	// The transaction must be a currently supported version.
	msgTx := tx.MsgTx()
	if msgTx.Version > wire.TxVersion || msgTx.Version < 1 {
		str := fmt.Sprintf("transaction version %d is not in the "+
			"valid range of %d-%d", msgTx.Version, 1, wire.TxVersion)
		return ruleError(ErrScriptMalformed, str)
	}

	// Since extremely large transactions with a lot of inputs can cost
	// almost as much to process as the sender fees, limit the maximum
	// size of a transaction.
	serializedLen := msgTx.SerializeSize()
	if serializedLen > maxStandardTxSize {
		str := fmt.Sprintf("transaction size of %v is larger than max "+
			"allowed size of %v", serializedLen, maxStandardTxSize)
		return ruleError(ErrTxTooBig, str)
	}

	// All input scripts must be push only.
	if err := checkInputsStandard(tx); err != nil {
		return err
	}

	// All output scripts must use one of the standard templates.
	for i, txOut := range msgTx.TxOut {
		scriptClass := txscript.GetScriptClass(txOut.PkScript)
		if scriptClass == txscript.NonStandardTy {
			str := fmt.Sprintf("transaction output %d: non-standard "+
				"script form", i)
			return ruleError(ErrScriptMalformed, str)
		}
	}

	return nil
}
