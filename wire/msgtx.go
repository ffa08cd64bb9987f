// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
)

// Transactions are byte-for-byte compatible with the bitcoin serialization,
// so the types are aliases of the btcsuite wire types.  Code in this module
// and the btcsuite txscript engine therefore operate on the same values
// without conversion.
type (
	// MsgTx is a transaction message.
	MsgTx = btcwire.MsgTx

	// TxIn is a transaction input.
	TxIn = btcwire.TxIn

	// TxOut is a transaction output.
	TxOut = btcwire.TxOut

	// OutPoint defines the specific output of a previous transaction that
	// a transaction input references.
	OutPoint = btcwire.OutPoint
)

const (
	// TxVersion is the current transaction version.
	TxVersion = 1

	// MaxTxInSequenceNum is the maximum sequence number an input can carry.
	MaxTxInSequenceNum uint32 = 0xffffffff
)

// NewMsgTx returns a transaction message with the provided version and no
// inputs or outputs.
func NewMsgTx(version int32) *MsgTx {
	return btcwire.NewMsgTx(version)
}

// NewTxIn returns a transaction input for the provided previous outpoint and
// signature script with the max sequence number.
func NewTxIn(prevOut *OutPoint, signatureScript []byte) *TxIn {
	return btcwire.NewTxIn(prevOut, signatureScript, nil)
}

// NewTxOut returns a transaction output with the provided value and script.
func NewTxOut(value int64, pkScript []byte) *TxOut {
	return btcwire.NewTxOut(value, pkScript)
}

// NewOutPoint returns an outpoint for the provided hash and index.
func NewOutPoint(hash *chainhash.Hash, index uint32) *OutPoint {
	return btcwire.NewOutPoint(hash, index)
}
