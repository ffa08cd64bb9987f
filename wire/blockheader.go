// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/izzyproject/izzyd/quark"
)

// MaxBlockHeaderPayload is the maximum number of bytes a block header can be.
// Version 4 bytes + PrevBlock and MerkleRoot hashes + Timestamp 4 bytes +
// Bits 4 bytes + Nonce 4 bytes.
const MaxBlockHeaderPayload = 16 + (chainhash.HashSize * 2)

// BlockHeader defines information about a block and is used in the izzy
// block (MsgBlock) message.
type BlockHeader struct {
	// Version of the block.  This is not the same as the protocol version.
	Version int32

	// Hash of the previous block header in the block chain.
	PrevBlock chainhash.Hash

	// Merkle tree reference to hash of all transactions for the block.
	MerkleRoot chainhash.Hash

	// Time the block was created.  This is, unfortunately, encoded as a
	// uint32 on the wire and therefore is limited to 2106.
	Timestamp time.Time

	// Difficulty target for the block.
	Bits uint32

	// Nonce used to generate the block.
	Nonce uint32
}

// blockHeaderLen is a constant that represents the number of bytes for a
// block header.
const blockHeaderLen = 80

// BlockHash computes the block identifier hash for the given block header.
// Izzy block hashes are the quark hash of the serialized header, which also
// serves as the proof-of-work hash.
func (h *BlockHeader) BlockHash() chainhash.Hash {
	// Encode the header and quark-hash everything.  Ignore the error
	// returns since there is no way the encode could fail except being out
	// of memory which would cause a run-time panic.
	buf := bytes.NewBuffer(make([]byte, 0, MaxBlockHeaderPayload))
	_ = writeBlockHeader(buf, h)

	return quark.Sum256(buf.Bytes())
}

// Deserialize decodes a block header from r into the receiver using the
// izzy wire encoding.
func (h *BlockHeader) Deserialize(r io.Reader) error {
	return readBlockHeader(r, h)
}

// Serialize encodes a block header from the receiver to w using the izzy
// wire encoding.
func (h *BlockHeader) Serialize(w io.Writer) error {
	return writeBlockHeader(w, h)
}

// NewBlockHeader returns a new BlockHeader using the provided values and the
// current time for the timestamp.
func NewBlockHeader(version int32, prevHash, merkleRootHash *chainhash.Hash,
	bits uint32, nonce uint32) *BlockHeader {

	// Limit the timestamp to one second precision since the protocol
	// doesn't support better.
	return &BlockHeader{
		Version:    version,
		PrevBlock:  *prevHash,
		MerkleRoot: *merkleRootHash,
		Timestamp:  time.Unix(time.Now().Unix(), 0),
		Bits:       bits,
		Nonce:      nonce,
	}
}

// readBlockHeader reads an izzy block header from r.
func readBlockHeader(r io.Reader, bh *BlockHeader) error {
	var buf [blockHeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}

	bh.Version = int32(binary.LittleEndian.Uint32(buf[0:4]))
	copy(bh.PrevBlock[:], buf[4:36])
	copy(bh.MerkleRoot[:], buf[36:68])
	bh.Timestamp = time.Unix(int64(binary.LittleEndian.Uint32(buf[68:72])), 0)
	bh.Bits = binary.LittleEndian.Uint32(buf[72:76])
	bh.Nonce = binary.LittleEndian.Uint32(buf[76:80])
	return nil
}

// writeBlockHeader writes an izzy block header to w.
func writeBlockHeader(w io.Writer, bh *BlockHeader) error {
	var buf [blockHeaderLen]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(bh.Version))
	copy(buf[4:36], bh.PrevBlock[:])
	copy(buf[36:68], bh.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], uint32(bh.Timestamp.Unix()))
	binary.LittleEndian.PutUint32(buf[72:76], bh.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], bh.Nonce)

	_, err := w.Write(buf[:])
	return err
}
