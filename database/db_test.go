// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBasicOperations exercises point reads and writes against a
// memory-backed store.
func TestBasicOperations(t *testing.T) {
	db, err := OpenMem()
	require.NoError(t, err)
	defer db.Close()

	key := []byte("ckey")
	value := []byte("value")

	_, err = db.Get(key)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put(key, value))
	got, err := db.Get(key)
	require.NoError(t, err)
	require.Equal(t, value, got)

	has, err := db.Has(key)
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, db.Delete(key))
	has, err = db.Has(key)
	require.NoError(t, err)
	require.False(t, has)

	// Deleting a missing key is not an error.
	require.NoError(t, db.Delete(key))
}

// TestBatchAtomicity ensures every operation of a batch is applied together.
func TestBatchAtomicity(t *testing.T) {
	db, err := OpenMem()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("stale"), []byte("x")))

	batch := db.NewBatch()
	batch.Put([]byte("a"), []byte("1"))
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("stale"))
	require.Equal(t, 3, batch.Len())
	require.NoError(t, db.Write(batch))

	for key, want := range map[string]string{"a": "1", "b": "2"} {
		got, err := db.Get([]byte(key))
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}
	has, err := db.Has([]byte("stale"))
	require.NoError(t, err)
	require.False(t, has)
}

// TestIterateOrderAndPrefix ensures iteration is in ascending key order and
// honours the requested prefix.
func TestIterateOrderAndPrefix(t *testing.T) {
	db, err := OpenMem()
	require.NoError(t, err)
	defer db.Close()

	// Insert interleaved records of two key spaces.
	for i := 0; i < 10; i++ {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("c%02d", 9-i)),
			[]byte{byte(9 - i)}))
		require.NoError(t, db.Put([]byte(fmt.Sprintf("b%02d", i)),
			[]byte{byte(i)}))
	}

	var keys [][]byte
	err = db.Iterate([]byte("c"), func(key, value []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, keys, 10)
	for i := 1; i < len(keys); i++ {
		require.Negative(t, bytes.Compare(keys[i-1], keys[i]),
			"iteration must be in ascending key order")
	}
	for _, key := range keys {
		require.Equal(t, byte('c'), key[0])
	}

	// Early termination propagates the error.
	wantErr := fmt.Errorf("stop")
	err = db.Iterate([]byte("c"), func(key, value []byte) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

// TestFilePersistence ensures records written through a file-backed store
// survive a close and reopen.
func TestFilePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	db, err := Open(path, 1<<20)
	require.NoError(t, err)

	batch := db.NewBatch()
	batch.Put([]byte("B"), []byte("besthash"))
	batch.Put([]byte("c1"), []byte("coins"))
	require.NoError(t, db.Write(batch))
	require.NoError(t, db.Close())

	db, err = Open(path, 1<<20)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.Get([]byte("B"))
	require.NoError(t, err)
	require.Equal(t, []byte("besthash"), got)
}
