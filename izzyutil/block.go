// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package izzyutil

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/izzyproject/izzyd/wire"
)

// OutOfRangeError describes an error due to accessing an element that is out
// of range.
type OutOfRangeError string

// Error satisfies the error interface and prints human-readable errors.
func (e OutOfRangeError) Error() string {
	return string(e)
}

// BlockHeightUnknown is the value returned for a block height that is not
// known.  This is typically because the block has not been inserted into the
// main chain yet.
const BlockHeightUnknown = int32(-1)

// Block defines an izzy block that provides easier and more efficient
// manipulation of raw blocks.  It also memoizes hashes for the block and its
// transactions on their first access so subsequent accesses don't have to
// repeat the relatively expensive hashing operations.
type Block struct {
	msgBlock        *wire.MsgBlock // Underlying MsgBlock
	serializedBlock []byte         // Serialized bytes for the block
	blockHash       *chainhash.Hash
	blockHeight     int32
	transactions    []*btcutil.Tx // Transactions
	txnsGenerated   bool          // ALL wrapped transactions generated
}

// MsgBlock returns the underlying wire.MsgBlock for the Block.
func (b *Block) MsgBlock() *wire.MsgBlock {
	return b.msgBlock
}

// Bytes returns the serialized bytes for the Block.  This is equivalent to
// calling Serialize on the underlying wire.MsgBlock, however it caches the
// result so subsequent calls are more efficient.
func (b *Block) Bytes() ([]byte, error) {
	if len(b.serializedBlock) != 0 {
		return b.serializedBlock, nil
	}

	w := bytes.NewBuffer(make([]byte, 0, b.msgBlock.SerializeSize()))
	if err := b.msgBlock.Serialize(w); err != nil {
		return nil, err
	}

	b.serializedBlock = w.Bytes()
	return b.serializedBlock, nil
}

// Hash returns the block identifier hash for the Block.  This is equivalent
// to calling BlockHash on the underlying wire.MsgBlock, however it caches
// the result so subsequent calls are more efficient.
func (b *Block) Hash() *chainhash.Hash {
	if b.blockHash != nil {
		return b.blockHash
	}

	hash := b.msgBlock.BlockHash()
	b.blockHash = &hash
	return &hash
}

// Tx returns a wrapped transaction (btcutil.Tx) for the transaction at the
// specified index in the Block.  The supplied index is 0 based.
func (b *Block) Tx(txNum int) (*btcutil.Tx, error) {
	numTx := len(b.msgBlock.Transactions)
	if txNum < 0 || txNum >= numTx {
		str := fmt.Sprintf("transaction index %d is out of range - max %d",
			txNum, numTx-1)
		return nil, OutOfRangeError(str)
	}

	if len(b.transactions) == 0 {
		b.transactions = make([]*btcutil.Tx, numTx)
	}

	if b.transactions[txNum] != nil {
		return b.transactions[txNum], nil
	}

	newTx := btcutil.NewTx(b.msgBlock.Transactions[txNum])
	newTx.SetIndex(txNum)
	b.transactions[txNum] = newTx
	return newTx, nil
}

// Transactions returns a slice of wrapped transactions for all transactions
// in the Block.  Transaction wrappers are generated lazily.
func (b *Block) Transactions() []*btcutil.Tx {
	if b.txnsGenerated {
		return b.transactions
	}

	if len(b.transactions) == 0 {
		b.transactions = make([]*btcutil.Tx, len(b.msgBlock.Transactions))
	}

	for i, tx := range b.transactions {
		if tx == nil {
			newTx := btcutil.NewTx(b.msgBlock.Transactions[i])
			newTx.SetIndex(i)
			b.transactions[i] = newTx
		}
	}

	b.txnsGenerated = true
	return b.transactions
}

// Height returns the saved height of the block in the block chain.  This
// value will be BlockHeightUnknown if it hasn't already explicitly been set.
func (b *Block) Height() int32 {
	return b.blockHeight
}

// SetHeight sets the height of the block in the block chain.
func (b *Block) SetHeight(height int32) {
	b.blockHeight = height
}

// NewBlock returns a new instance of an izzy block given an underlying
// wire.MsgBlock.
func NewBlock(msgBlock *wire.MsgBlock) *Block {
	return &Block{
		msgBlock:    msgBlock,
		blockHeight: BlockHeightUnknown,
	}
}

// NewBlockFromBytes returns a new instance of an izzy block given the
// serialized bytes.
func NewBlockFromBytes(serializedBlock []byte) (*Block, error) {
	br := bytes.NewReader(serializedBlock)
	b, err := NewBlockFromReader(br)
	if err != nil {
		return nil, err
	}
	b.serializedBlock = serializedBlock
	return b, nil
}

// NewBlockFromReader returns a new instance of an izzy block given a Reader
// to deserialize the block.
func NewBlockFromReader(r io.Reader) (*Block, error) {
	var msgBlock wire.MsgBlock
	if err := msgBlock.Deserialize(r); err != nil {
		return nil, err
	}

	return &Block{
		msgBlock:    &msgBlock,
		blockHeight: BlockHeightUnknown,
	}, nil
}
