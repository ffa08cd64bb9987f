// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/izzyproject/izzyd/blockfile"
	"github.com/izzyproject/izzyd/database"
)

// TxIndexEntry associates both ids of a transaction with its on-disk
// position.  The bare txid hashes the transaction without its signature
// scripts so it is stable under malleation.
type TxIndexEntry struct {
	TxID     chainhash.Hash
	BareTxID chainhash.Hash
	DiskPos  blockfile.BlockPos
}

// serializeDiskPos serializes a flat-file position record.
func serializeDiskPos(pos blockfile.BlockPos) []byte {
	var w vlqWriter
	w.putBlockPos(pos)
	return w.bytes()
}

// deserializeDiskPos decodes a flat-file position record.
func deserializeDiskPos(serialized []byte) (blockfile.BlockPos, error) {
	r := vlqReader{data: serialized}
	return r.blockPos()
}

// WriteTxIndexEntries writes the transaction index records for the provided
// entries in one batch.  Both the txid and the bare txid are indexed.
func (t *BlockTreeDB) WriteTxIndexEntries(entries []TxIndexEntry) error {
	batch := t.db.NewBatch()
	for i := range entries {
		entry := &entries[i]
		serialized := serializeDiskPos(entry.DiskPos)

		key := make([]byte, 1+chainhash.HashSize)
		key[0] = txIndexKeyPrefix
		copy(key[1:], entry.TxID[:])
		batch.Put(key, serialized)

		bareKey := make([]byte, 1+chainhash.HashSize)
		bareKey[0] = bareTxIndexKeyPrefix
		copy(bareKey[1:], entry.BareTxID[:])
		batch.Put(bareKey, serialized)
	}
	return t.db.Write(batch)
}

// ReadTxIndex looks up the on-disk position of a transaction by txid or bare
// txid.  Both are tried; except for a hash collision only one can succeed.
func (t *BlockTreeDB) ReadTxIndex(txid *chainhash.Hash) (blockfile.BlockPos, bool, error) {
	for _, prefix := range []byte{txIndexKeyPrefix, bareTxIndexKeyPrefix} {
		key := make([]byte, 1+chainhash.HashSize)
		key[0] = prefix
		copy(key[1:], txid[:])

		serialized, err := t.db.Get(key)
		if err == database.ErrNotFound {
			continue
		}
		if err != nil {
			return blockfile.NullBlockPos, false, err
		}
		pos, err := deserializeDiskPos(serialized)
		if err != nil {
			return blockfile.NullBlockPos, false, err
		}
		return pos, true, nil
	}
	return blockfile.NullBlockPos, false, nil
}

// AddressIndexKey identifies a single historical credit or debit of an
// address.  The key layout sorts all records of an address together ordered
// by block height, so both full and height-bounded scans are prefix walks.
type AddressIndexKey struct {
	Type     uint8
	Hash     [20]byte
	Height   int32
	TxIndex  uint32
	TxID     chainhash.Hash
	OutIndex uint32
	Spending bool
}

// addressIndexKeyPrefix returns the serialized key prefix that covers every
// record for the provided address.
func addressIndexKeyPrefix(addrType uint8, addrHash [20]byte) []byte {
	key := make([]byte, 2+len(addrHash))
	key[0] = addrIndexKeyPrefix
	key[1] = addrType
	copy(key[2:], addrHash[:])
	return key
}

// serializeAddressIndexKey serializes the address index key.  Heights and
// indexes are big-endian so lexicographic ordering matches numeric ordering.
func serializeAddressIndexKey(k *AddressIndexKey) []byte {
	key := make([]byte, 0, 2+20+4+4+chainhash.HashSize+4+1)
	key = append(key, addrIndexKeyPrefix, k.Type)
	key = append(key, k.Hash[:]...)
	key = binary.BigEndian.AppendUint32(key, uint32(k.Height))
	key = binary.BigEndian.AppendUint32(key, k.TxIndex)
	key = append(key, k.TxID[:]...)
	key = binary.BigEndian.AppendUint32(key, k.OutIndex)
	if k.Spending {
		key = append(key, 1)
	} else {
		key = append(key, 0)
	}
	return key
}

// deserializeAddressIndexKey decodes an address index key.
func deserializeAddressIndexKey(serialized []byte) (*AddressIndexKey, error) {
	if len(serialized) != 2+20+4+4+chainhash.HashSize+4+1 {
		return nil, errDeserialize("malformed address index key")
	}
	k := &AddressIndexKey{Type: serialized[1]}
	offset := 2
	copy(k.Hash[:], serialized[offset:offset+20])
	offset += 20
	k.Height = int32(binary.BigEndian.Uint32(serialized[offset:]))
	offset += 4
	k.TxIndex = binary.BigEndian.Uint32(serialized[offset:])
	offset += 4
	copy(k.TxID[:], serialized[offset:offset+chainhash.HashSize])
	offset += chainhash.HashSize
	k.OutIndex = binary.BigEndian.Uint32(serialized[offset:])
	offset += 4
	k.Spending = serialized[offset] == 1
	return k, nil
}

// AddressIndexEntry pairs an address index key with the amount credited
// (positive) or debited (negative).
type AddressIndexEntry struct {
	Key    AddressIndexKey
	Amount int64
}

// WriteAddressIndex writes the provided address index records in one batch.
func (t *BlockTreeDB) WriteAddressIndex(entries []AddressIndexEntry) error {
	batch := t.db.NewBatch()
	for i := range entries {
		var value [8]byte
		binary.LittleEndian.PutUint64(value[:], uint64(entries[i].Amount))
		batch.Put(serializeAddressIndexKey(&entries[i].Key), value[:])
	}
	return t.db.Write(batch)
}

// EraseAddressIndex deletes the provided address index records in one batch.
func (t *BlockTreeDB) EraseAddressIndex(entries []AddressIndexEntry) error {
	batch := t.db.NewBatch()
	for i := range entries {
		batch.Delete(serializeAddressIndexKey(&entries[i].Key))
	}
	return t.db.Write(batch)
}

// ReadAddressIndex returns the address index records for the provided
// address, optionally bounded to the [start, end] height range.  A zero end
// height means unbounded.
func (t *BlockTreeDB) ReadAddressIndex(addrType uint8, addrHash [20]byte, start, end int32, interrupt <-chan struct{}) ([]AddressIndexEntry, error) {
	var entries []AddressIndexEntry
	prefix := addressIndexKeyPrefix(addrType, addrHash)
	err := t.db.Iterate(prefix, func(key, value []byte) error {
		if interruptRequested(interrupt) {
			return errInterruptRequested
		}

		k, err := deserializeAddressIndexKey(key)
		if err != nil {
			return err
		}
		if start > 0 && k.Height < start {
			return nil
		}
		if end > 0 && k.Height > end {
			return nil
		}
		if len(value) != 8 {
			return errDeserialize("malformed address index value")
		}
		entries = append(entries, AddressIndexEntry{
			Key:    *k,
			Amount: int64(binary.LittleEndian.Uint64(value)),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// AddressUnspentKey identifies one currently unspent output of an address.
type AddressUnspentKey struct {
	Type     uint8
	Hash     [20]byte
	TxID     chainhash.Hash
	OutIndex uint32
}

// serializeAddressUnspentKey serializes the address unspent index key.
func serializeAddressUnspentKey(k *AddressUnspentKey) []byte {
	key := make([]byte, 0, 2+20+chainhash.HashSize+4)
	key = append(key, addrUnspentKeyPrefix, k.Type)
	key = append(key, k.Hash[:]...)
	key = append(key, k.TxID[:]...)
	key = binary.BigEndian.AppendUint32(key, k.OutIndex)
	return key
}

// deserializeAddressUnspentKey decodes an address unspent index key.
func deserializeAddressUnspentKey(serialized []byte) (*AddressUnspentKey, error) {
	if len(serialized) != 2+20+chainhash.HashSize+4 {
		return nil, errDeserialize("malformed address unspent key")
	}
	k := &AddressUnspentKey{Type: serialized[1]}
	offset := 2
	copy(k.Hash[:], serialized[offset:offset+20])
	offset += 20
	copy(k.TxID[:], serialized[offset:offset+chainhash.HashSize])
	offset += chainhash.HashSize
	k.OutIndex = binary.BigEndian.Uint32(serialized[offset:])
	return k, nil
}

// AddressUnspentValue describes an unspent output indexed by address.  A nil
// script marks the record as deleted when batched.
type AddressUnspentValue struct {
	Amount   int64
	PkScript []byte
	Height   int32
}

// IsNull returns whether the value marks a deletion.
func (v *AddressUnspentValue) IsNull() bool {
	return v.PkScript == nil
}

// serializeAddressUnspentValue serializes an address unspent index value.
func serializeAddressUnspentValue(v *AddressUnspentValue) []byte {
	var w vlqWriter
	w.putVLQ(compressTxOutAmount(uint64(v.Amount)))
	w.putVLQ(uint64(v.Height))
	w.putVLQ(uint64(len(v.PkScript)))
	w.putBytes(v.PkScript)
	return w.bytes()
}

// deserializeAddressUnspentValue decodes an address unspent index value.
func deserializeAddressUnspentValue(serialized []byte) (*AddressUnspentValue, error) {
	r := vlqReader{data: serialized}
	amount, err := r.vlq()
	if err != nil {
		return nil, err
	}
	height, err := r.vlq()
	if err != nil {
		return nil, err
	}
	scriptLen, err := r.vlq()
	if err != nil {
		return nil, err
	}
	script, err := r.readBytes(int(scriptLen))
	if err != nil {
		return nil, err
	}
	pkScript := make([]byte, scriptLen)
	copy(pkScript, script)
	return &AddressUnspentValue{
		Amount:   int64(decompressTxOutAmount(amount)),
		Height:   int32(height),
		PkScript: pkScript,
	}, nil
}

// AddressUnspentEntry pairs an address unspent key with its value.
type AddressUnspentEntry struct {
	Key   AddressUnspentKey
	Value AddressUnspentValue
}

// UpdateAddressUnspentIndex applies the provided unspent index updates in
// one batch.  Entries with a null value are deleted.
func (t *BlockTreeDB) UpdateAddressUnspentIndex(entries []AddressUnspentEntry) error {
	batch := t.db.NewBatch()
	for i := range entries {
		key := serializeAddressUnspentKey(&entries[i].Key)
		if entries[i].Value.IsNull() {
			batch.Delete(key)
		} else {
			batch.Put(key, serializeAddressUnspentValue(&entries[i].Value))
		}
	}
	return t.db.Write(batch)
}

// ReadAddressUnspentIndex returns every unspent output currently indexed for
// the provided address.
func (t *BlockTreeDB) ReadAddressUnspentIndex(addrType uint8, addrHash [20]byte, interrupt <-chan struct{}) ([]AddressUnspentEntry, error) {
	var entries []AddressUnspentEntry
	prefix := make([]byte, 2+len(addrHash))
	prefix[0] = addrUnspentKeyPrefix
	prefix[1] = addrType
	copy(prefix[2:], addrHash[:])

	err := t.db.Iterate(prefix, func(key, value []byte) error {
		if interruptRequested(interrupt) {
			return errInterruptRequested
		}

		k, err := deserializeAddressUnspentKey(key)
		if err != nil {
			return err
		}
		v, err := deserializeAddressUnspentValue(value)
		if err != nil {
			return err
		}
		entries = append(entries, AddressUnspentEntry{Key: *k, Value: *v})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// SpentIndexKey identifies a spent output.
type SpentIndexKey struct {
	TxID     chainhash.Hash
	OutIndex uint32
}

// serializeSpentIndexKey serializes a spent index key.
func serializeSpentIndexKey(k *SpentIndexKey) []byte {
	key := make([]byte, 0, 1+chainhash.HashSize+4)
	key = append(key, spentIndexKeyPrefix)
	key = append(key, k.TxID[:]...)
	key = binary.BigEndian.AppendUint32(key, k.OutIndex)
	return key
}

// SpentIndexValue describes where an output was spent.  A zero spending txid
// marks the record as deleted when batched.
type SpentIndexValue struct {
	TxID     chainhash.Hash
	InIndex  uint32
	Height   int32
	Amount   int64
	AddrType uint8
	AddrHash [20]byte
}

// IsNull returns whether the value marks a deletion.
func (v *SpentIndexValue) IsNull() bool {
	return v.TxID == zeroHash
}

// serializeSpentIndexValue serializes a spent index value.
func serializeSpentIndexValue(v *SpentIndexValue) []byte {
	var w vlqWriter
	w.putBytes(v.TxID[:])
	w.putVLQ(uint64(v.InIndex))
	w.putVLQ(uint64(v.Height))
	w.putVLQ(compressTxOutAmount(uint64(v.Amount)))
	w.putByte(v.AddrType)
	w.putBytes(v.AddrHash[:])
	return w.bytes()
}

// deserializeSpentIndexValue decodes a spent index value.
func deserializeSpentIndexValue(serialized []byte) (*SpentIndexValue, error) {
	r := vlqReader{data: serialized}
	v := &SpentIndexValue{}
	var err error
	if v.TxID, err = r.hash(); err != nil {
		return nil, err
	}
	inIndex, err := r.vlq()
	if err != nil {
		return nil, err
	}
	v.InIndex = uint32(inIndex)
	height, err := r.vlq()
	if err != nil {
		return nil, err
	}
	v.Height = int32(height)
	amount, err := r.vlq()
	if err != nil {
		return nil, err
	}
	v.Amount = int64(decompressTxOutAmount(amount))
	if v.AddrType, err = r.byte(); err != nil {
		return nil, err
	}
	addrHash, err := r.readBytes(20)
	if err != nil {
		return nil, err
	}
	copy(v.AddrHash[:], addrHash)
	return v, nil
}

// SpentIndexEntry pairs a spent index key with its value.
type SpentIndexEntry struct {
	Key   SpentIndexKey
	Value SpentIndexValue
}

// UpdateSpentIndex applies the provided spent index updates in one batch.
// Entries with a null value are deleted.
func (t *BlockTreeDB) UpdateSpentIndex(entries []SpentIndexEntry) error {
	batch := t.db.NewBatch()
	for i := range entries {
		key := serializeSpentIndexKey(&entries[i].Key)
		if entries[i].Value.IsNull() {
			batch.Delete(key)
		} else {
			batch.Put(key, serializeSpentIndexValue(&entries[i].Value))
		}
	}
	return t.db.Write(batch)
}

// ReadSpentIndex returns where the provided output was spent, or false when
// the index has no record of it.
func (t *BlockTreeDB) ReadSpentIndex(key *SpentIndexKey) (*SpentIndexValue, bool, error) {
	serialized, err := t.db.Get(serializeSpentIndexKey(key))
	if err == database.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	value, err := deserializeSpentIndexValue(serialized)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}
