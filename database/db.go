// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package database provides the thin key-value layer the chain state is
// persisted through.  It wraps goleveldb with the small surface the rest of
// the node needs: point reads and writes, atomic batches and deterministic
// prefix iteration.  Batches are the unit of atomicity; any multi-record
// mutation must go through one.
package database

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = leveldb.ErrNotFound

// DB wraps a single goleveldb database.
type DB struct {
	ldb *leveldb.DB
}

// options returns the goleveldb options for the given cache budget in bytes.
func options(cacheSize int) *opt.Options {
	if cacheSize < 1<<20 {
		cacheSize = 1 << 20
	}
	return &opt.Options{
		OpenFilesCacheCapacity: 64,
		BlockCacheCapacity:     cacheSize / 2,
		WriteBuffer:            cacheSize / 4,
		Filter:                 filter.NewBloomFilter(10),
	}
}

// Open opens (creating if necessary) the database at the provided path with
// the provided cache budget in bytes.
func Open(path string, cacheSize int) (*DB, error) {
	ldb, err := leveldb.OpenFile(path, options(cacheSize))
	if errors.IsCorrupted(err) {
		ldb, err = leveldb.RecoverFile(path, options(cacheSize))
	}
	if err != nil {
		return nil, err
	}
	return &DB{ldb: ldb}, nil
}

// OpenMem opens a memory-backed database.  It is primarily used by tests
// and offers the same semantics as a file-backed one minus persistence.
func OpenMem() (*DB, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &DB{ldb: ldb}, nil
}

// Close closes the underlying database.
func (db *DB) Close() error {
	return db.ldb.Close()
}

// Get returns the value for the provided key, or ErrNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	return db.ldb.Get(key, nil)
}

// Has returns whether the provided key exists.
func (db *DB) Has(key []byte) (bool, error) {
	return db.ldb.Has(key, nil)
}

// Put stores the provided key/value pair.
func (db *DB) Put(key, value []byte) error {
	return db.ldb.Put(key, value, nil)
}

// Delete removes the provided key.  Deleting a non-existent key is not an
// error.
func (db *DB) Delete(key []byte) error {
	return db.ldb.Delete(key, nil)
}

// Batch is a set of writes and deletes that are applied atomically.
type Batch struct {
	batch leveldb.Batch
}

// NewBatch returns an empty batch.
func (db *DB) NewBatch() *Batch {
	return &Batch{}
}

// Put queues the provided key/value pair in the batch.
func (b *Batch) Put(key, value []byte) {
	b.batch.Put(key, value)
}

// Delete queues removal of the provided key in the batch.
func (b *Batch) Delete(key []byte) {
	b.batch.Delete(key)
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	return b.batch.Len()
}

// Reset empties the batch for reuse.
func (b *Batch) Reset() {
	b.batch.Reset()
}

// Write applies the batch atomically and synchronously.  A batch that fails
// to apply leaves the store unchanged.
func (db *DB) Write(b *Batch) error {
	return db.ldb.Write(&b.batch, &opt.WriteOptions{Sync: true})
}

// Iterate walks all keys that begin with the provided prefix in ascending
// key order, invoking fn for each record.  Iteration stops early and
// returns the error when fn fails.  The key and value slices passed to fn
// are only valid for the duration of the call.
func (db *DB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	var rng *util.Range
	if len(prefix) > 0 {
		rng = util.BytesPrefix(prefix)
	}
	iter := db.ldb.NewIterator(rng, nil)
	defer iter.Release()

	for iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
