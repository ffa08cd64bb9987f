// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/izzyproject/izzyd/database"
)

// CoinsViewDB is the persistent bottom layer of the UTXO view stack.  Coins
// are stored one record per transaction under 'c' || txid and the hash of
// the block the state corresponds to under 'B'.  All mutations are applied
// through batches so a crash can never leave a partially applied block.
type CoinsViewDB struct {
	db *database.DB
}

// NewCoinsViewDB returns a persistent coins view using the provided backing
// store.
func NewCoinsViewDB(db *database.DB) *CoinsViewDB {
	return &CoinsViewDB{db: db}
}

// GetCoins returns the unspent coins for the provided transaction id, or nil
// when the database has none.
func (v *CoinsViewDB) GetCoins(txid *chainhash.Hash) (*Coins, error) {
	serialized, err := v.db.Get(coinsKey(txid))
	if err == database.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return deserializeCoins(serialized)
}

// HaveCoins returns whether unspent coins exist for the provided transaction
// id.
func (v *CoinsViewDB) HaveCoins(txid *chainhash.Hash) (bool, error) {
	return v.db.Has(coinsKey(txid))
}

// BestBlock returns the hash of the block the database state corresponds to,
// or the zero hash for a freshly created database.
func (v *CoinsViewDB) BestBlock() (chainhash.Hash, error) {
	var best chainhash.Hash
	serialized, err := v.db.Get([]byte{bestBlockKey})
	if err == database.ErrNotFound {
		return best, nil
	}
	if err != nil {
		return best, err
	}
	if len(serialized) != chainhash.HashSize {
		return best, errDeserialize("malformed best block record")
	}
	copy(best[:], serialized)
	return best, nil
}

// BatchWrite applies every dirty entry of the provided map together with the
// best block marker in a single atomic batch.  Pruned entries are deleted;
// a fully-pruned record must never exist in the store.
func (v *CoinsViewDB) BatchWrite(coins CoinsMap, bestBlock *chainhash.Hash) error {
	batch := v.db.NewBatch()
	count := 0
	changed := 0
	for txid, entry := range coins {
		count++
		if entry.Flags&coinsDirty == 0 {
			continue
		}
		changed++
		if entry.Coins.IsPruned() {
			batch.Delete(coinsKey(&txid))
		} else {
			batch.Put(coinsKey(&txid), serializeCoins(entry.Coins))
		}
	}
	if *bestBlock != zeroHash {
		batch.Put([]byte{bestBlockKey}, bestBlock[:])
	}

	log.Debugf("Committing %d changed transactions (out of %d) to coin "+
		"database", changed, count)
	return v.db.Write(batch)
}

// CoinsStats holds the deterministic commitment over the entire coin
// database along with aggregate statistics.  It is used by tests and the
// optional startup consistency check.
type CoinsStats struct {
	Height             int32
	BestBlock          chainhash.Hash
	Transactions       int64
	TransactionOutputs int64
	SerializedSize     int64
	HashSerialized     chainhash.Hash
	TotalAmount        int64
}

// Stats iterates the entire coin database in key order and reduces it to a
// single hash commitment plus aggregate statistics.  The interrupt channel
// is polled between records so a shutdown request aborts the iteration
// cleanly.
func (v *CoinsViewDB) Stats(interrupt <-chan struct{}) (*CoinsStats, error) {
	var stats CoinsStats

	best, err := v.BestBlock()
	if err != nil {
		return nil, err
	}
	stats.BestBlock = best

	var commitment bytes.Buffer
	commitment.Write(best[:])

	err = v.db.Iterate([]byte{coinsKeyPrefix}, func(key, value []byte) error {
		if interruptRequested(interrupt) {
			return errInterruptRequested
		}

		coins, err := deserializeCoins(value)
		if err != nil {
			return err
		}

		var txid chainhash.Hash
		copy(txid[:], key[1:])

		var w vlqWriter
		w.putBytes(txid[:])
		w.putVLQ(uint64(coins.Version))
		if coins.CoinBase {
			w.putByte('c')
		} else {
			w.putByte('n')
		}
		w.putVLQ(uint64(coins.Height))
		stats.Transactions++
		for i, out := range coins.Outputs {
			if out == nil {
				continue
			}
			stats.TransactionOutputs++
			w.putVLQ(uint64(i + 1))
			w.putVLQ(compressTxOutAmount(uint64(out.Value)))
			w.putBytes(out.PkScript)
			stats.TotalAmount += out.Value
		}
		w.putVLQ(0)

		commitment.Write(w.bytes())
		stats.SerializedSize += int64(chainhash.HashSize + len(value))
		return nil
	})
	if err != nil {
		return nil, err
	}

	stats.HashSerialized = chainhash.DoubleHashH(commitment.Bytes())
	return &stats, nil
}
