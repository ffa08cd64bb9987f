// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
)

const (
	// MaxBlockPayload is the maximum number of bytes a serialized block
	// message can be.
	MaxBlockPayload = 2000000

	// MaxBlockSigPayload is the maximum number of bytes the appended
	// proof-of-stake block signature can be.  It bounds the signature to a
	// DER-encoded ECDSA signature.
	MaxBlockSigPayload = 72

	// maxTxPerBlock is the maximum number of transactions that could
	// possibly fit into a block.
	maxTxPerBlock = (MaxBlockPayload / minTxPayload) + 1

	// minTxPayload is the minimum payload size for a transaction: version
	// 4 bytes + varint number of inputs 1 byte + varint number of outputs
	// 1 byte + lock time 4 bytes + a transaction which consists of one
	// input with a previous output and one empty output.
	minTxPayload = 10 + 41 + 9
)

// MsgBlock represents an izzy block message.  In addition to the header and transactions, proof-of-stake
// blocks carry a signature made with the key that signs the coinstake.
type MsgBlock struct {
	Header       BlockHeader
	Transactions []*MsgTx
	BlockSig     []byte
}

// AddTransaction adds a transaction to the message.
func (msg *MsgBlock) AddTransaction(tx *MsgTx) {
	msg.Transactions = append(msg.Transactions, tx)
}

// ClearTransactions removes all transactions from the message.
func (msg *MsgBlock) ClearTransactions() {
	msg.Transactions = make([]*MsgTx, 0, 2)
}

// Deserialize decodes a block from r into the receiver.
func (msg *MsgBlock) Deserialize(r io.Reader) error {
	if err := readBlockHeader(r, &msg.Header); err != nil {
		return err
	}

	txCount, err := btcwire.ReadVarInt(r, 0)
	if err != nil {
		return err
	}

	// Prevent more transactions than could possibly fit into a block so a
	// malformed message does not cause a huge allocation.
	if txCount > maxTxPerBlock {
		return fmt.Errorf("too many transactions to fit into a block "+
			"[count %d, max %d]", txCount, maxTxPerBlock)
	}

	msg.Transactions = make([]*MsgTx, 0, txCount)
	for i := uint64(0); i < txCount; i++ {
		tx := MsgTx{}
		if err := tx.BtcDecode(r, 0, btcwire.BaseEncoding); err != nil {
			return err
		}
		msg.Transactions = append(msg.Transactions, &tx)
	}

	sigLen, err := btcwire.ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	if sigLen > MaxBlockSigPayload {
		return fmt.Errorf("block signature too large [len %d, max %d]",
			sigLen, MaxBlockSigPayload)
	}
	msg.BlockSig = make([]byte, sigLen)
	if sigLen > 0 {
		if _, err := io.ReadFull(r, msg.BlockSig); err != nil {
			return err
		}
	}

	return nil
}

// Serialize encodes the block to w.
func (msg *MsgBlock) Serialize(w io.Writer) error {
	if err := writeBlockHeader(w, &msg.Header); err != nil {
		return err
	}

	err := btcwire.WriteVarInt(w, 0, uint64(len(msg.Transactions)))
	if err != nil {
		return err
	}

	for _, tx := range msg.Transactions {
		if err := tx.BtcEncode(w, 0, btcwire.BaseEncoding); err != nil {
			return err
		}
	}

	err = btcwire.WriteVarInt(w, 0, uint64(len(msg.BlockSig)))
	if err != nil {
		return err
	}
	if len(msg.BlockSig) > 0 {
		if _, err := w.Write(msg.BlockSig); err != nil {
			return err
		}
	}

	return nil
}

// SerializeSize returns the number of bytes it would take to serialize the
// block.
func (msg *MsgBlock) SerializeSize() int {
	// Block header bytes + serialized varint size for the number of
	// transactions + serialized varint size for the block signature.
	n := blockHeaderLen +
		btcwire.VarIntSerializeSize(uint64(len(msg.Transactions))) +
		btcwire.VarIntSerializeSize(uint64(len(msg.BlockSig))) +
		len(msg.BlockSig)

	for _, tx := range msg.Transactions {
		n += tx.SerializeSize()
	}

	return n
}

// Bytes returns the serialized block.
func (msg *MsgBlock) Bytes() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, msg.SerializeSize()))
	if err := msg.Serialize(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BlockHash computes the block identifier hash for this block.
func (msg *MsgBlock) BlockHash() chainhash.Hash {
	return msg.Header.BlockHash()
}

// TxHashes returns a slice of hashes of all of transactions in this block.
func (msg *MsgBlock) TxHashes() []chainhash.Hash {
	hashList := make([]chainhash.Hash, 0, len(msg.Transactions))
	for _, tx := range msg.Transactions {
		hashList = append(hashList, tx.TxHash())
	}
	return hashList
}

// NewMsgBlock returns a new izzy block message using the provided block
// header.
func NewMsgBlock(blockHeader *BlockHeader) *MsgBlock {
	return &MsgBlock{
		Header:       *blockHeader,
		Transactions: make([]*MsgTx, 0, 2),
	}
}
