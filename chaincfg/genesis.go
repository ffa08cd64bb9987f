// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/izzyproject/izzyd/wire"
)

// genesisCoinbaseTx is the coinbase transaction for the genesis blocks for
// the main network, test network and regression test network.  The signature
// script pushes the difficulty bits, the number four and the timestamp
// "Bosnia and Herzegovina Is Preparing a Draft Bill to Regulate
// Cryptocurrencies"; the single output pays 50 coins to a bare public key.
var genesisCoinbaseTx = wire.MsgTx{
	Version: 1,
	TxIn: []*wire.TxIn{
		{
			PreviousOutPoint: wire.OutPoint{
				Hash:  chainhash.Hash{},
				Index: 0xffffffff,
			},
			SignatureScript: []byte{
				0x04, 0xff, 0xff, 0x00, 0x1d, 0x01, 0x04, 0x4c,
				0x4d, 0x42, 0x6f, 0x73, 0x6e, 0x69, 0x61, 0x20,
				0x61, 0x6e, 0x64, 0x20, 0x48, 0x65, 0x72, 0x7a,
				0x65, 0x67, 0x6f, 0x76, 0x69, 0x6e, 0x61, 0x20,
				0x49, 0x73, 0x20, 0x50, 0x72, 0x65, 0x70, 0x61,
				0x72, 0x69, 0x6e, 0x67, 0x20, 0x61, 0x20, 0x44,
				0x72, 0x61, 0x66, 0x74, 0x20, 0x42, 0x69, 0x6c,
				0x6c, 0x20, 0x74, 0x6f, 0x20, 0x52, 0x65, 0x67,
				0x75, 0x6c, 0x61, 0x74, 0x65, 0x20, 0x43, 0x72,
				0x79, 0x70, 0x74, 0x6f, 0x63, 0x75, 0x72, 0x72,
				0x65, 0x6e, 0x63, 0x69, 0x65, 0x73,
			},
			Sequence: 0xffffffff,
		},
	},
	TxOut: []*wire.TxOut{
		{
			Value:    50 * coin,
			PkScript: genesisPayoutScript,
		},
	},
	LockTime: 0,
}

// genesisPayoutScript is the pay-to-pubkey script the genesis coinbase
// outputs pay to on every network.
var genesisPayoutScript = []byte{
	0x41, 0x04, 0x91, 0x3c, 0x14, 0xd2, 0xd5, 0x88,
	0x11, 0x4b, 0x69, 0x73, 0xb0, 0xab, 0x05, 0x7c,
	0xf2, 0xcb, 0xab, 0x9c, 0xfe, 0x9b, 0x80, 0xc1,
	0x82, 0xba, 0xd0, 0x04, 0xde, 0x31, 0xf5, 0x96,
	0x8f, 0xbb, 0x4a, 0x5a, 0xe4, 0x5b, 0xfb, 0x33,
	0xf9, 0x71, 0xe1, 0x70, 0xad, 0x9a, 0xd8, 0x3f,
	0x58, 0xe0, 0x8d, 0xe3, 0x45, 0xf0, 0x6f, 0xbd,
	0xd5, 0x0e, 0xdd, 0xe8, 0xd8, 0xdc, 0x4c, 0x79,
	0x2b, 0x80, 0xac,
}

// genesisHash is the hash of the first block in the block chain for the main
// network (genesis block).
var genesisHash = newHashFromStr("000005ef45294f1265a15badef10d014c9b69c074d02a67dd93f8d6e87b80e07")

// genesisMerkleRoot is the hash of the first transaction in the genesis
// block for the main network.
var genesisMerkleRoot = newHashFromStr("4ee5d3d6c524152ea90feb8d14a815befe2870fc933b95995f1de0a802a7cc21")

// genesisBlock defines the genesis block of the block chain which serves as
// the public transaction ledger for the main network.
var genesisBlock = wire.MsgBlock{
	Header: wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: *genesisMerkleRoot,
		Timestamp:  time.Unix(1621007898, 0),
		Bits:       0x1e0ffff0,
		Nonce:      110471,
	},
	Transactions: []*wire.MsgTx{&genesisCoinbaseTx},
}

// testNetGenesisHash is the hash of the first block in the block chain for
// the test network.
var testNetGenesisHash = newHashFromStr("00000b6fc8086cdb1afc1e5123ece5f0213aa35349a1e09b2341609a357ab0e4")

// testNetGenesisBlock defines the genesis block of the block chain which
// serves as the public transaction ledger for the test network.  It shares
// the coinbase transaction, and therefore the merkle root, with the main
// network and differs only in its timestamp and nonce.
var testNetGenesisBlock = wire.MsgBlock{
	Header: wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: *genesisMerkleRoot,
		Timestamp:  time.Unix(1591798387, 0),
		Bits:       0x1e0ffff0,
		Nonce:      2282642,
	},
	Transactions: []*wire.MsgTx{&genesisCoinbaseTx},
}

// regTestGenesisHash is the hash of the first block in the block chain for
// the regression test network.
var regTestGenesisHash = newHashFromStr("00000c4d0687728e0f261f2c446c68e67e55ce19c1c4fff521c471e0266c13dd")

// regTestGenesisBlock defines the genesis block for the regression test
// network.  Note that it is mined against the relaxed regression test proof
// of work limit.
var regTestGenesisBlock = wire.MsgBlock{
	Header: wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: *genesisMerkleRoot,
		Timestamp:  time.Unix(1537971708, 0),
		Bits:       0x207fffff,
		Nonce:      1974712,
	},
	Transactions: []*wire.MsgTx{&genesisCoinbaseTx},
}

// betaNetGenesisCoinbaseTx is the coinbase transaction for the beta network
// genesis block, which used a different timestamp string and payout value
// while the chain was being stood up.
var betaNetGenesisCoinbaseTx = wire.MsgTx{
	Version: 1,
	TxIn: []*wire.TxIn{
		{
			PreviousOutPoint: wire.OutPoint{
				Hash:  chainhash.Hash{},
				Index: 0xffffffff,
			},
			SignatureScript: []byte{
				0x04, 0xff, 0xff, 0x00, 0x1d, 0x01, 0x04, 0x48,
				0x4d, 0x61, 0x72, 0x63, 0x68, 0x20, 0x32, 0x2c,
				0x20, 0x32, 0x30, 0x31, 0x38, 0x20, 0x2d, 0x20,
				0x45, 0x61, 0x73, 0x74, 0x20, 0x41, 0x6e, 0x64,
				0x20, 0x57, 0x65, 0x73, 0x74, 0x2c, 0x20, 0x42,
				0x6f, 0x74, 0x68, 0x20, 0x43, 0x6f, 0x61, 0x73,
				0x74, 0x73, 0x20, 0x42, 0x72, 0x61, 0x63, 0x65,
				0x20, 0x46, 0x6f, 0x72, 0x20, 0x4d, 0x61, 0x6a,
				0x6f, 0x72, 0x20, 0x57, 0x69, 0x6e, 0x74, 0x65,
				0x72, 0x20, 0x53, 0x74, 0x6f, 0x72, 0x6d, 0x73,
			},
			Sequence: 0xffffffff,
		},
	},
	TxOut: []*wire.TxOut{
		{
			Value:    8000250 * coin,
			PkScript: genesisPayoutScript,
		},
	},
	LockTime: 0,
}

// betaNetGenesisHash is the hash of the first block in the block chain for
// the beta network.
var betaNetGenesisHash = newHashFromStr("000001b6db82e9f95f2d7c45d56d27d7e576894fd5fb2378456b7e35ff0c54b4")

// betaNetGenesisMerkleRoot is the hash of the first transaction in the
// genesis block for the beta network.
var betaNetGenesisMerkleRoot = newHashFromStr("e50485528ac63bdf59722eaf8547f71f544f57ea35f704359868a7cb5ed7bb67")

// betaNetGenesisBlock defines the genesis block for the beta network.
var betaNetGenesisBlock = wire.MsgBlock{
	Header: wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: *betaNetGenesisMerkleRoot,
		Timestamp:  time.Unix(1537971708, 0),
		Bits:       0x1e0ffff0,
		Nonce:      419110337,
	},
	Transactions: []*wire.MsgTx{&betaNetGenesisCoinbaseTx},
}
