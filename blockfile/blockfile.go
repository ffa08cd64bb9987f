// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package blockfile implements the append-only flat-file store for block
// bodies and their undo records.  Blocks live in blkNNNNN.dat files and the
// undo data that reverses their UTXO effects in matching revNNNNN.dat
// files.  Every record is framed as magic(4) || length(4) || body so files
// can be rescanned after a crash.  The consensus core only ever consumes
// (file, offset) positions produced here.
package blockfile

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// MaxBlockFileSize is the maximum size a single block file is allowed to
// grow to before the store rolls over to the next file number.
const MaxBlockFileSize = 128 * 1024 * 1024

// recordHeaderLen is the length of the framing prepended to every record:
// four bytes of network magic followed by a four byte little-endian length.
const recordHeaderLen = 8

// BlockPos identifies the location of a serialized block (or undo record)
// within the flat files.
type BlockPos struct {
	File   int32
	Offset uint32
}

// IsNull returns whether the position does not point at a stored record.
func (p BlockPos) IsNull() bool {
	return p.File < 0
}

// NullBlockPos is the zero position used for blocks whose bodies are not
// stored.
var NullBlockPos = BlockPos{File: -1}

// String returns the position in human-readable form.
func (p BlockPos) String() string {
	return fmt.Sprintf("(file %d, offset %d)", p.File, p.Offset)
}

// FileInfo describes the contents of a single block file.  It mirrors the
// per-file record persisted in the block-tree database.
type FileInfo struct {
	Blocks      uint32 // number of blocks stored in the file
	Size        uint32 // number of used bytes of block file
	UndoSize    uint32 // number of used bytes in the undo file
	HeightFirst int32  // lowest height of block in file
	HeightLast  int32  // highest height of block in file
	TimeFirst   uint32 // earliest time of block in file
	TimeLast    uint32 // latest time of block in file
}

// AddBlock updates the statistics for a newly stored block.
func (fi *FileInfo) AddBlock(height int32, timestamp uint32) {
	if fi.Blocks == 0 || height < fi.HeightFirst {
		fi.HeightFirst = height
	}
	if fi.Blocks == 0 || timestamp < fi.TimeFirst {
		fi.TimeFirst = timestamp
	}
	fi.Blocks++
	if height > fi.HeightLast {
		fi.HeightLast = height
	}
	if timestamp > fi.TimeLast {
		fi.TimeLast = timestamp
	}
}

// Store writes and reads blocks and undo records in the flat files under a
// single directory.
type Store struct {
	mtx sync.Mutex

	dir         string
	magic       [4]byte
	maxFileSize uint32

	fileNum  int32
	fileInfo FileInfo
}

// NewStore returns a store rooted at the provided directory which must
// already exist.  The magic bytes are written in front of every record and
// checked on every read.  lastFile and its file info come from the
// block-tree database so the store resumes appending where it left off.
func NewStore(dir string, magic [4]byte, lastFile int32, info FileInfo) *Store {
	return &Store{
		dir:         dir,
		magic:       magic,
		maxFileSize: MaxBlockFileSize,
		fileNum:     lastFile,
		fileInfo:    info,
	}
}

// LastFile returns the current file number and its statistics.
func (s *Store) LastFile() (int32, FileInfo) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.fileNum, s.fileInfo
}

// blockFilePath returns the path of the numbered block file.
func (s *Store) blockFilePath(fileNum int32) string {
	return filepath.Join(s.dir, fmt.Sprintf("blk%05d.dat", fileNum))
}

// undoFilePath returns the path of the numbered undo file.
func (s *Store) undoFilePath(fileNum int32) string {
	return filepath.Join(s.dir, fmt.Sprintf("rev%05d.dat", fileNum))
}

// appendRecord appends a framed record to the named file and returns the
// offset the frame starts at.
func (s *Store) appendRecord(path string, data []byte) (uint32, error) {
	fi, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return 0, err
	}
	defer fi.Close()

	stat, err := fi.Stat()
	if err != nil {
		return 0, err
	}
	offset := uint32(stat.Size())

	var hdr [recordHeaderLen]byte
	copy(hdr[0:4], s.magic[:])
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(data)))
	if _, err := fi.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := fi.Write(data); err != nil {
		return 0, err
	}
	return offset, fi.Sync()
}

// readRecord reads a framed record starting at the given offset of the
// named file.
func (s *Store) readRecord(path string, offset uint32) ([]byte, error) {
	fi, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fi.Close()

	var hdr [recordHeaderLen]byte
	if _, err := fi.ReadAt(hdr[:], int64(offset)); err != nil {
		return nil, err
	}
	if [4]byte(hdr[0:4]) != s.magic {
		return nil, fmt.Errorf("bad record magic %x at %s offset %d",
			hdr[0:4], path, offset)
	}

	dataLen := binary.LittleEndian.Uint32(hdr[4:8])
	data := make([]byte, dataLen)
	if _, err := fi.ReadAt(data, int64(offset)+recordHeaderLen); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteBlock appends a serialized block, rolling over to the next file
// number when the current file is full, and returns where it was stored.
func (s *Store) WriteBlock(serialized []byte, height int32, timestamp uint32) (BlockPos, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	recordLen := uint32(len(serialized)) + recordHeaderLen
	if s.fileInfo.Size > 0 && s.fileInfo.Size+recordLen > s.maxFileSize {
		s.fileNum++
		s.fileInfo = FileInfo{}
	}

	offset, err := s.appendRecord(s.blockFilePath(s.fileNum), serialized)
	if err != nil {
		return NullBlockPos, err
	}

	s.fileInfo.AddBlock(height, timestamp)
	s.fileInfo.Size += recordLen
	return BlockPos{File: s.fileNum, Offset: offset}, nil
}

// ReadBlock returns the serialized block stored at the provided position.
func (s *Store) ReadBlock(pos BlockPos) ([]byte, error) {
	if pos.IsNull() {
		return nil, fmt.Errorf("no block stored at %v", pos)
	}
	return s.readRecord(s.blockFilePath(pos.File), pos.Offset)
}

// WriteUndo appends a serialized undo record to the undo file that mirrors
// the block file the owning block lives in.
func (s *Store) WriteUndo(serialized []byte, blockPos BlockPos) (BlockPos, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	offset, err := s.appendRecord(s.undoFilePath(blockPos.File), serialized)
	if err != nil {
		return NullBlockPos, err
	}
	if blockPos.File == s.fileNum {
		s.fileInfo.UndoSize += uint32(len(serialized)) + recordHeaderLen
	}
	return BlockPos{File: blockPos.File, Offset: offset}, nil
}

// ReadUndo returns the serialized undo record stored at the provided
// position.
func (s *Store) ReadUndo(pos BlockPos) ([]byte, error) {
	if pos.IsNull() {
		return nil, fmt.Errorf("no undo data stored at %v", pos)
	}
	return s.readRecord(s.undoFilePath(pos.File), pos.Offset)
}
