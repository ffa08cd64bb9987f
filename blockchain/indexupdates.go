// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/izzyproject/izzyd/izzyutil"
)

// indexUpdates collects the optional index deltas produced by connecting or
// disconnecting a single block.  All deltas for a block are applied to the
// block-tree database together.
type indexUpdates struct {
	txIndex          []TxIndexEntry
	addressIndex     []AddressIndexEntry
	addressUnspent   []AddressUnspentEntry
	spentIndex       []SpentIndexEntry
	eraseAddress     []AddressIndexEntry
	eraseSpentKeys   []SpentIndexEntry
	eraseUnspentKeys []AddressUnspentEntry
}

// bareTxID computes the transaction hash with all signature scripts blanked,
// which is stable under script malleation.
func bareTxID(tx *btcutil.Tx) chainhash.Hash {
	msgTx := tx.MsgTx()
	stripped := msgTx.Copy()
	for _, txIn := range stripped.TxIn {
		txIn.SignatureScript = nil
	}
	return stripped.TxHash()
}

// addressKeyFromScript extracts the (type, hash160) pair used as the address
// index identity from a public key script.  Scripts that do not pay to a
// recognizable address are not indexed.
func addressKeyFromScript(pkScript []byte) (uint8, [20]byte, bool) {
	var addrHash [20]byte

	switch txscript.GetScriptClass(pkScript) {
	case txscript.PubKeyHashTy:
		// OP_DUP OP_HASH160 <20 bytes> OP_EQUALVERIFY OP_CHECKSIG
		copy(addrHash[:], pkScript[3:23])
		return addrIndexTypePubKeyHash, addrHash, true

	case txscript.ScriptHashTy:
		// OP_HASH160 <20 bytes> OP_EQUAL
		copy(addrHash[:], pkScript[2:22])
		return addrIndexTypeScriptHash, addrHash, true

	case txscript.PubKeyTy:
		pushed, err := txscript.PushedData(pkScript)
		if err != nil || len(pushed) != 1 {
			return 0, addrHash, false
		}
		copy(addrHash[:], btcutil.Hash160(pushed[0]))
		return addrIndexTypePubKeyHash, addrHash, true
	}

	return 0, addrHash, false
}

// Address index entry types.
const (
	addrIndexTypePubKeyHash = 1
	addrIndexTypeScriptHash = 2
)

// collectIndexUpdates builds the index deltas for connecting the provided
// block.  The stxos describe what the block spent, in spend order, so the
// debit entries can reference the consumed output values and scripts.
func (b *BlockChain) collectIndexUpdates(block *izzyutil.Block, node *blockNode, stxos []spentTxOut) *indexUpdates {
	updates := &indexUpdates{}
	stxoIdx := 0

	for txIdx, tx := range block.Transactions() {
		if b.indexTxs {
			updates.txIndex = append(updates.txIndex, TxIndexEntry{
				TxID:     *tx.Hash(),
				BareTxID: bareTxID(tx),
				DiskPos:  node.dataPos,
			})
		}

		// Debits.
		if !IsCoinBase(tx) {
			for txInIdx, txIn := range tx.MsgTx().TxIn {
				stxo := &stxos[stxoIdx]
				stxoIdx++

				addrType, addrHash, ok := addressKeyFromScript(stxo.pkScript)
				if b.indexAddresses && ok {
					updates.addressIndex = append(updates.addressIndex,
						AddressIndexEntry{
							Key: AddressIndexKey{
								Type:     addrType,
								Hash:     addrHash,
								Height:   node.height,
								TxIndex:  uint32(txIdx),
								TxID:     *tx.Hash(),
								OutIndex: uint32(txInIdx),
								Spending: true,
							},
							Amount: -stxo.amount,
						})
					updates.addressUnspent = append(updates.addressUnspent,
						AddressUnspentEntry{
							Key: AddressUnspentKey{
								Type:     addrType,
								Hash:     addrHash,
								TxID:     txIn.PreviousOutPoint.Hash,
								OutIndex: txIn.PreviousOutPoint.Index,
							},
							// Null value deletes the record.
							Value: AddressUnspentValue{},
						})
				}

				if b.indexSpent {
					updates.spentIndex = append(updates.spentIndex,
						SpentIndexEntry{
							Key: SpentIndexKey{
								TxID:     txIn.PreviousOutPoint.Hash,
								OutIndex: txIn.PreviousOutPoint.Index,
							},
							Value: SpentIndexValue{
								TxID:     *tx.Hash(),
								InIndex:  uint32(txInIdx),
								Height:   node.height,
								Amount:   stxo.amount,
								AddrType: addrType,
								AddrHash: addrHash,
							},
						})
				}
			}
		}

		// Credits.
		if b.indexAddresses {
			for outIdx, txOut := range tx.MsgTx().TxOut {
				addrType, addrHash, ok := addressKeyFromScript(txOut.PkScript)
				if !ok {
					continue
				}
				updates.addressIndex = append(updates.addressIndex,
					AddressIndexEntry{
						Key: AddressIndexKey{
							Type:     addrType,
							Hash:     addrHash,
							Height:   node.height,
							TxIndex:  uint32(txIdx),
							TxID:     *tx.Hash(),
							OutIndex: uint32(outIdx),
							Spending: false,
						},
						Amount: txOut.Value,
					})
				updates.addressUnspent = append(updates.addressUnspent,
					AddressUnspentEntry{
						Key: AddressUnspentKey{
							Type:     addrType,
							Hash:     addrHash,
							TxID:     *tx.Hash(),
							OutIndex: uint32(outIdx),
						},
						Value: AddressUnspentValue{
							Amount:   txOut.Value,
							PkScript: txOut.PkScript,
							Height:   node.height,
						},
					})
			}
		}
	}

	return updates
}

// applyIndexUpdates writes the collected deltas to the block-tree database.
func (b *BlockChain) applyIndexUpdates(updates *indexUpdates) error {
	if len(updates.txIndex) > 0 {
		if err := b.treeDB.WriteTxIndexEntries(updates.txIndex); err != nil {
			return err
		}
	}
	if len(updates.addressIndex) > 0 {
		if err := b.treeDB.WriteAddressIndex(updates.addressIndex); err != nil {
			return err
		}
	}
	if len(updates.addressUnspent) > 0 {
		if err := b.treeDB.UpdateAddressUnspentIndex(updates.addressUnspent); err != nil {
			return err
		}
	}
	if len(updates.spentIndex) > 0 {
		if err := b.treeDB.UpdateSpentIndex(updates.spentIndex); err != nil {
			return err
		}
	}
	return nil
}

// collectDisconnectIndexUpdates builds the index deltas for disconnecting
// the provided block: credited entries are erased, spent-index records
// removed and the unspent records for everything the block spent restored.
func (b *BlockChain) collectDisconnectIndexUpdates(block *izzyutil.Block, node *blockNode, stxos []spentTxOut) *indexUpdates {
	connect := b.collectIndexUpdates(block, node, stxos)

	updates := &indexUpdates{}
	updates.eraseAddress = connect.addressIndex

	// Undo spent-index records by writing null values.
	for i := range connect.spentIndex {
		entry := connect.spentIndex[i]
		entry.Value = SpentIndexValue{}
		updates.eraseSpentKeys = append(updates.eraseSpentKeys, entry)
	}

	// Restore the unspent records for the spent outputs and remove the
	// ones the block created.
	if b.indexAddresses {
		stxoIdx := 0
		for _, tx := range block.Transactions() {
			if IsCoinBase(tx) {
				continue
			}
			for _, txIn := range tx.MsgTx().TxIn {
				stxo := &stxos[stxoIdx]
				stxoIdx++

				addrType, addrHash, ok := addressKeyFromScript(stxo.pkScript)
				if !ok {
					continue
				}
				updates.addressUnspent = append(updates.addressUnspent,
					AddressUnspentEntry{
						Key: AddressUnspentKey{
							Type:     addrType,
							Hash:     addrHash,
							TxID:     txIn.PreviousOutPoint.Hash,
							OutIndex: txIn.PreviousOutPoint.Index,
						},
						Value: AddressUnspentValue{
							Amount:   stxo.amount,
							PkScript: stxo.pkScript,
							// The containing height is only
							// known for final spends; zero
							// otherwise.
							Height: stxo.height,
						},
					})
			}
		}
		for _, tx := range block.Transactions() {
			for outIdx, txOut := range tx.MsgTx().TxOut {
				addrType, addrHash, ok := addressKeyFromScript(txOut.PkScript)
				if !ok {
					continue
				}
				updates.eraseUnspentKeys = append(updates.eraseUnspentKeys,
					AddressUnspentEntry{
						Key: AddressUnspentKey{
							Type:     addrType,
							Hash:     addrHash,
							TxID:     *tx.Hash(),
							OutIndex: uint32(outIdx),
						},
						Value: AddressUnspentValue{},
					})
			}
		}
	}

	return updates
}

// applyDisconnectIndexUpdates writes the disconnect deltas to the
// block-tree database.
func (b *BlockChain) applyDisconnectIndexUpdates(updates *indexUpdates) error {
	if len(updates.eraseAddress) > 0 {
		if err := b.treeDB.EraseAddressIndex(updates.eraseAddress); err != nil {
			return err
		}
	}
	if len(updates.eraseSpentKeys) > 0 {
		if err := b.treeDB.UpdateSpentIndex(updates.eraseSpentKeys); err != nil {
			return err
		}
	}
	if len(updates.addressUnspent) > 0 {
		if err := b.treeDB.UpdateAddressUnspentIndex(updates.addressUnspent); err != nil {
			return err
		}
	}
	if len(updates.eraseUnspentKeys) > 0 {
		if err := b.treeDB.UpdateAddressUnspentIndex(updates.eraseUnspentKeys); err != nil {
			return err
		}
	}
	return nil
}
