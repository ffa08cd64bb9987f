// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockfile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

var testMagic = [4]byte{0x2b, 0x1c, 0x1e, 0x46}

// TestWriteReadBlock ensures blocks round-trip through the flat files and
// that positions refer to stable offsets.
func TestWriteReadBlock(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, testMagic, 0, FileInfo{})

	blocks := [][]byte{
		bytes.Repeat([]byte{0x01}, 100),
		bytes.Repeat([]byte{0x02}, 250),
		bytes.Repeat([]byte{0x03}, 10),
	}
	var positions []BlockPos
	for i, block := range blocks {
		pos, err := store.WriteBlock(block, int32(i), uint32(1000+i))
		if err != nil {
			t.Fatalf("WriteBlock %d: %v", i, err)
		}
		positions = append(positions, pos)
	}

	// Read back out of order.
	for _, i := range []int{2, 0, 1} {
		got, err := store.ReadBlock(positions[i])
		if err != nil {
			t.Fatalf("ReadBlock %d: %v", i, err)
		}
		if !bytes.Equal(got, blocks[i]) {
			t.Fatalf("block %d mismatch", i)
		}
	}

	// The file statistics track every stored block.
	fileNum, info := store.LastFile()
	if fileNum != 0 {
		t.Fatalf("file number: got %d, want 0", fileNum)
	}
	if info.Blocks != 3 || info.HeightFirst != 0 || info.HeightLast != 2 {
		t.Fatalf("file info mismatch: %+v", info)
	}
	if info.TimeFirst != 1000 || info.TimeLast != 1002 {
		t.Fatalf("file time range mismatch: %+v", info)
	}
}

// TestWriteReadUndo ensures undo records are written next to their blocks
// in the mirrored rev file.
func TestWriteReadUndo(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, testMagic, 0, FileInfo{})

	blockPos, err := store.WriteBlock([]byte("block"), 1, 1000)
	if err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	undo := []byte("undo data")
	undoPos, err := store.WriteUndo(undo, blockPos)
	if err != nil {
		t.Fatalf("WriteUndo: %v", err)
	}
	if undoPos.File != blockPos.File {
		t.Fatalf("undo file: got %d, want %d", undoPos.File, blockPos.File)
	}

	got, err := store.ReadUndo(undoPos)
	if err != nil {
		t.Fatalf("ReadUndo: %v", err)
	}
	if !bytes.Equal(got, undo) {
		t.Fatalf("undo mismatch: got %x, want %x", got, undo)
	}

	if _, err := os.Stat(filepath.Join(dir, "rev00000.dat")); err != nil {
		t.Fatalf("rev file missing: %v", err)
	}
}

// TestBadMagicRejected ensures a record read with the wrong magic fails
// rather than returning corrupt data.
func TestBadMagicRejected(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, testMagic, 0, FileInfo{})

	pos, err := store.WriteBlock([]byte("block"), 1, 1000)
	if err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	otherStore := NewStore(dir, [4]byte{0xde, 0xad, 0xbe, 0xef}, 0, FileInfo{})
	if _, err := otherStore.ReadBlock(pos); err == nil {
		t.Fatal("expected magic mismatch error")
	}
}

// TestNullPositions ensures the null position sentinel never reads.
func TestNullPositions(t *testing.T) {
	store := NewStore(t.TempDir(), testMagic, 0, FileInfo{})
	if !NullBlockPos.IsNull() {
		t.Fatal("null position must report IsNull")
	}
	if _, err := store.ReadBlock(NullBlockPos); err == nil {
		t.Fatal("expected error reading the null position")
	}
	if _, err := store.ReadUndo(NullBlockPos); err == nil {
		t.Fatal("expected error reading the null undo position")
	}
}
