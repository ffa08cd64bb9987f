// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/izzyproject/izzyd/wire"
)

// spentTxOut contains a spent transaction output and potentially additional
// contextual information such as whether or not it was contained in a
// coinbase or coinstake transaction, the version of the transaction it was
// contained in, and which block height the containing transaction was
// included in.  The additional contextual information is only valid when this spent txout represents the
// final spent output of the containing transaction.
type spentTxOut struct {
	amount    int64
	pkScript  []byte
	version   int32
	height    int32
	coinBase  bool
	coinStake bool
}

const (
	stxoFlagCoinBase  = 1 << 0
	stxoFlagCoinStake = 1 << 1
	stxoFlagLastSpend = 1 << 2
)

// serializeSpendJournalEntry serializes all of the spent txouts for the
// provided slice into a single byte slice.  The undo record for a block is
// the serialized journal entry of everything its transactions spent, in
// spend order.
func serializeSpendJournalEntry(stxos []spentTxOut) []byte {
	var w vlqWriter
	w.putVLQ(uint64(len(stxos)))
	for i := range stxos {
		stxo := &stxos[i]

		var flags byte
		if stxo.coinBase {
			flags |= stxoFlagCoinBase
		}
		if stxo.coinStake {
			flags |= stxoFlagCoinStake
		}
		if stxo.height != 0 {
			flags |= stxoFlagLastSpend
		}
		w.putByte(flags)

		if stxo.height != 0 {
			w.putVLQ(uint64(stxo.version))
			w.putVLQ(uint64(stxo.height))
		}
		w.putVLQ(compressTxOutAmount(uint64(stxo.amount)))
		w.putVLQ(uint64(len(stxo.pkScript)))
		w.putBytes(stxo.pkScript)
	}
	return w.bytes()
}

// deserializeSpendJournalEntry decodes the passed serialized byte slice into
// a slice of spent txouts.
func deserializeSpendJournalEntry(serialized []byte) ([]spentTxOut, error) {
	r := vlqReader{data: serialized}

	count, err := r.vlq()
	if err != nil {
		return nil, err
	}

	stxos := make([]spentTxOut, count)
	for i := uint64(0); i < count; i++ {
		stxo := &stxos[i]

		flags, err := r.byte()
		if err != nil {
			return nil, err
		}
		stxo.coinBase = flags&stxoFlagCoinBase != 0
		stxo.coinStake = flags&stxoFlagCoinStake != 0

		if flags&stxoFlagLastSpend != 0 {
			version, err := r.vlq()
			if err != nil {
				return nil, err
			}
			stxo.version = int32(version)
			height, err := r.vlq()
			if err != nil {
				return nil, err
			}
			stxo.height = int32(height)
		}

		amount, err := r.vlq()
		if err != nil {
			return nil, err
		}
		stxo.amount = int64(decompressTxOutAmount(amount))

		scriptLen, err := r.vlq()
		if err != nil {
			return nil, err
		}
		script, err := r.readBytes(int(scriptLen))
		if err != nil {
			return nil, err
		}
		stxo.pkScript = make([]byte, scriptLen)
		copy(stxo.pkScript, script)
	}

	return stxos, nil
}

// countSpentOutputs returns the number of utxos the passed transactions
// spend.
func countSpentOutputs(transactions []*wire.MsgTx) int {
	var numSpent int
	for _, tx := range transactions {
		if IsCoinBaseTx(tx) {
			continue
		}
		numSpent += len(tx.TxIn)
	}
	return numSpent
}
