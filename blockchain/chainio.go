// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/izzyproject/izzyd/blockfile"
	"github.com/izzyproject/izzyd/database"
	"github.com/izzyproject/izzyd/wire"
)

// The block-tree database keyspace.  Every record type is distinguished by a
// single leading type byte.
const (
	// blockIndexKeyPrefix || block hash -> disk block index record.
	blockIndexKeyPrefix = 'b'

	// fileInfoKeyPrefix || file number -> block file info record.
	fileInfoKeyPrefix = 'f'

	// lastFileKey -> number of the block file currently being appended.
	lastFileKey = 'l'

	// reindexKey -> present while a reindex is in progress.
	reindexKey = 'R'

	// flagKeyPrefix || name -> '0' or '1'.
	flagKeyPrefix = 'F'

	// intKeyPrefix || name -> little-endian int32.
	intKeyPrefix = 'I'

	// txIndexKeyPrefix || txid -> disk tx position.
	txIndexKeyPrefix = 't'

	// bareTxIndexKeyPrefix || bare txid -> disk tx position.
	bareTxIndexKeyPrefix = 'T'

	// addrIndexKeyPrefix || address index key -> amount.
	addrIndexKeyPrefix = 'a'

	// addrUnspentKeyPrefix || address unspent key -> unspent value.
	addrUnspentKeyPrefix = 'u'

	// spentIndexKeyPrefix || spent index key -> spent value.
	spentIndexKeyPrefix = 'p'
)

// The coin database keyspace.
const (
	// coinsKeyPrefix || txid -> serialized coins.
	coinsKeyPrefix = 'c'

	// bestBlockKey -> hash of the block the coin database state
	// corresponds to.
	bestBlockKey = 'B'
)

// errDeserialize signifies that a problem was encountered when deserializing
// data.
type errDeserialize string

// Error implements the error interface.
func (e errDeserialize) Error() string {
	return string(e)
}

// isDeserializeErr returns whether or not the passed error is an
// errDeserialize error.
func isDeserializeErr(err error) bool {
	_, ok := err.(errDeserialize)
	return ok
}

// -----------------------------------------------------------------------------
// A variable length quantity (VLQ) is an encoding that uses an arbitrary
// number of binary octets to represent an arbitrarily large integer.  The
// scheme employs a most significant byte (MSB) base-128 encoding where the
// high bit in each byte indicates whether or not the byte is the final one.
// In addition, to ensure there are no redundant encodings, an offset is
// subtracted every time a group of 7 bits is shifted out.  Therefore each
// integer can be represented in exactly one way, and each representation
// stands for exactly one integer.
//
// Another nice property of this encoding is that it provides a compact
// representation of values that are typically used to indicate sizes.  For
// example, the values 0 - 127 are represented with a single byte, 128 - 16511
// with two bytes, and 16512 - 2113663 with three bytes.
// -----------------------------------------------------------------------------

// serializeSizeVLQ returns the number of bytes it would take to serialize
// the passed number as a variable-length quantity according to the format
// described above.
func serializeSizeVLQ(n uint64) int {
	size := 1
	for ; n > 0x7f; n = (n >> 7) - 1 {
		size++
	}

	return size
}

// putVLQ serializes the provided number to a variable-length quantity
// according to the format described above and returns the number of bytes
// of the encoded value.  The result is placed directly into the passed byte
// slice which must be at least large enough to handle the number of bytes
// returned by the serializeSizeVLQ function or it will panic.
func putVLQ(target []byte, n uint64) int {
	offset := 0
	for ; ; offset++ {
		// The high bit is set when another byte follows.
		highBitMask := byte(0x80)
		if offset == 0 {
			highBitMask = 0x00
		}

		target[offset] = byte(n&0x7f) | highBitMask
		if n <= 0x7f {
			break
		}
		n = (n >> 7) - 1
	}

	// Reverse the bytes so it is MSB-encoded.
	for i, j := 0, offset; i < j; i, j = i+1, j-1 {
		target[i], target[j] = target[j], target[i]
	}

	return offset + 1
}

// deserializeVLQ deserializes the provided variable-length quantity
// according to the format described above.  It also returns the number of
// bytes deserialized.
func deserializeVLQ(serialized []byte) (uint64, int) {
	var n uint64
	var size int
	for _, val := range serialized {
		size++
		n = (n << 7) | uint64(val&0x7f)
		if val&0x80 != 0x80 {
			break
		}
		n++
	}

	return n, size
}

// vlqWriter accumulates VLQ and raw writes into a buffer.  It keeps the
// serialization call sites compact.
type vlqWriter struct {
	buf bytes.Buffer
}

func (w *vlqWriter) putVLQ(n uint64) {
	var scratch [9]byte
	size := putVLQ(scratch[:], n)
	w.buf.Write(scratch[:size])
}

func (w *vlqWriter) putBytes(b []byte) {
	w.buf.Write(b)
}

func (w *vlqWriter) putByte(b byte) {
	w.buf.WriteByte(b)
}

func (w *vlqWriter) putUint32(n uint32) {
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], n)
	w.buf.Write(scratch[:])
}

func (w *vlqWriter) putUint64(n uint64) {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], n)
	w.buf.Write(scratch[:])
}

func (w *vlqWriter) bytes() []byte {
	return w.buf.Bytes()
}

// vlqReader consumes VLQ and raw reads from a byte slice.
type vlqReader struct {
	data   []byte
	offset int
}

func (r *vlqReader) vlq() (uint64, error) {
	n, size := deserializeVLQ(r.data[r.offset:])
	if size == 0 || r.offset+size > len(r.data) {
		return 0, errDeserialize("unexpected end of data while reading VLQ")
	}
	r.offset += size
	return n, nil
}

func (r *vlqReader) readBytes(n int) ([]byte, error) {
	if r.offset+n > len(r.data) {
		return nil, errDeserialize("unexpected end of data")
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

func (r *vlqReader) byte() (byte, error) {
	b, err := r.readBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *vlqReader) uint32() (uint32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *vlqReader) uint64() (uint64, error) {
	b, err := r.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *vlqReader) hash() (chainhash.Hash, error) {
	var hash chainhash.Hash
	b, err := r.readBytes(chainhash.HashSize)
	if err != nil {
		return hash, err
	}
	copy(hash[:], b)
	return hash, nil
}

// -----------------------------------------------------------------------------
// The serialized format of the unspent coins of a transaction is:
//
//   <version><flags><height><numOutputs><bitmap><outputs...>
//
//   Field        Type       Size
//   version      VLQ        variable
//   flags        byte       1 (bit 0: coinbase, bit 1: coinstake)
//   height       VLQ        variable
//   numOutputs   VLQ        variable
//   bitmap       []byte     ceil(numOutputs / 8), bit set = output unspent
//   outputs      []txout    variable
//
// Each unspent output is serialized as:
//
//   Field            Type   Size
//   compressed amt   VLQ    variable
//   script length    VLQ    variable
//   script           []byte variable
//
// Fully pruned coins must never be serialized; callers delete the record
// instead.
// -----------------------------------------------------------------------------

const (
	coinsFlagCoinBase  = 1 << 0
	coinsFlagCoinStake = 1 << 1
)

// serializeCoins serializes the provided coins to a byte slice according to
// the format described above.
func serializeCoins(coins *Coins) []byte {
	var w vlqWriter
	w.putVLQ(uint64(coins.Version))

	var flags byte
	if coins.CoinBase {
		flags |= coinsFlagCoinBase
	}
	if coins.CoinStake {
		flags |= coinsFlagCoinStake
	}
	w.putByte(flags)
	w.putVLQ(uint64(coins.Height))

	numOutputs := len(coins.Outputs)
	w.putVLQ(uint64(numOutputs))
	bitmap := make([]byte, (numOutputs+7)/8)
	for i, out := range coins.Outputs {
		if out != nil {
			bitmap[i/8] |= 1 << uint(i%8)
		}
	}
	w.putBytes(bitmap)

	for _, out := range coins.Outputs {
		if out == nil {
			continue
		}
		w.putVLQ(compressTxOutAmount(uint64(out.Value)))
		w.putVLQ(uint64(len(out.PkScript)))
		w.putBytes(out.PkScript)
	}

	return w.bytes()
}

// deserializeCoins decodes coins from the passed serialized byte slice
// according to the format described above.
func deserializeCoins(serialized []byte) (*Coins, error) {
	r := vlqReader{data: serialized}

	version, err := r.vlq()
	if err != nil {
		return nil, err
	}
	flags, err := r.byte()
	if err != nil {
		return nil, err
	}
	height, err := r.vlq()
	if err != nil {
		return nil, err
	}
	numOutputs, err := r.vlq()
	if err != nil {
		return nil, err
	}
	bitmap, err := r.readBytes(int(numOutputs+7) / 8)
	if err != nil {
		return nil, err
	}

	coins := &Coins{
		Version:   int32(version),
		CoinBase:  flags&coinsFlagCoinBase != 0,
		CoinStake: flags&coinsFlagCoinStake != 0,
		Height:    int32(height),
		Outputs:   make([]*wire.TxOut, numOutputs),
	}
	for i := uint64(0); i < numOutputs; i++ {
		if bitmap[i/8]&(1<<uint(i%8)) == 0 {
			continue
		}
		compressedAmt, err := r.vlq()
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
		coins.Outputs[i] = &wire.TxOut{
			Value:    int64(decompressTxOutAmount(compressedAmt)),
			PkScript: pkScript,
		}
	}

	return coins, nil
}

// -----------------------------------------------------------------------------
// The serialized format of a disk block index record is:
//
//   <header><height><status><numTx><dataPos><undoPos><nextHash>
//   <stake fields><mint><moneySupply><lotteryWinners>
//
// The header is stored in its wire encoding so the hash can be recomputed
// directly from the record.  The parent link is stored as the header's
// previous block hash and re-resolved against the in-memory index when
// loading, so the order the records arrive in does not matter.  The next hash
// field is kept in the format but is not used when loading.
// -----------------------------------------------------------------------------

const (
	diskIndexFlagProofOfStake = 1 << 0
)

// diskBlockIndexRow is the decoded form of a single 'b' record.  Link fields
// are hashes rather than pointers; the loader resolves them in a second
// pass.
type diskBlockIndexRow struct {
	header   wire.BlockHeader
	hash     chainhash.Hash
	nextHash chainhash.Hash

	height  int32
	status  blockStatus
	numTx   uint32
	dataPos blockfile.BlockPos
	undoPos blockfile.BlockPos

	isProofOfStake   bool
	prevoutStake     wire.OutPoint
	stakeTime        uint32
	stakeModifier    uint64
	hashProofOfStake chainhash.Hash

	mint           int64
	moneySupply    int64
	lotteryWinners []chainhash.Hash
}

// putBlockPos appends the provided flat-file position.  The file number is
// shifted by one so the null position encodes as zero.
func (w *vlqWriter) putBlockPos(pos blockfile.BlockPos) {
	w.putVLQ(uint64(pos.File + 1))
	w.putVLQ(uint64(pos.Offset))
}

func (r *vlqReader) blockPos() (blockfile.BlockPos, error) {
	file, err := r.vlq()
	if err != nil {
		return blockfile.NullBlockPos, err
	}
	offset, err := r.vlq()
	if err != nil {
		return blockfile.NullBlockPos, err
	}
	return blockfile.BlockPos{
		File:   int32(file) - 1,
		Offset: uint32(offset),
	}, nil
}

// serializeBlockIndexEntry serializes the provided block node, together with
// the hash of its successor on the active chain (or the zero hash), into a
// disk block index record.
func serializeBlockIndexEntry(node *blockNode, nextHash *chainhash.Hash) []byte {
	var w vlqWriter

	header := node.Header()
	_ = header.Serialize(&w.buf)

	w.putVLQ(uint64(node.height))
	w.putByte(byte(node.status))
	w.putVLQ(uint64(node.numTx))
	w.putBlockPos(node.dataPos)
	w.putBlockPos(node.undoPos)
	w.putBytes(nextHash[:])

	var flags byte
	if node.isProofOfStake {
		flags |= diskIndexFlagProofOfStake
	}
	w.putByte(flags)
	if node.isProofOfStake {
		w.putBytes(node.prevoutStake.Hash[:])
		w.putUint32(node.prevoutStake.Index)
		w.putUint32(node.stakeTime)
		w.putUint64(node.stakeModifier)
		w.putBytes(node.hashProofOfStake[:])
	}

	w.putVLQ(uint64(node.mint))
	w.putVLQ(uint64(node.moneySupply))

	w.putVLQ(uint64(len(node.lotteryWinners)))
	for i := range node.lotteryWinners {
		w.putBytes(node.lotteryWinners[i][:])
	}

	return w.bytes()
}

// deserializeBlockIndexEntry decodes a disk block index record.
func deserializeBlockIndexEntry(serialized []byte) (*diskBlockIndexRow, error) {
	row := &diskBlockIndexRow{}

	hr := bytes.NewReader(serialized)
	if err := row.header.Deserialize(hr); err != nil {
		return nil, errDeserialize(fmt.Sprintf("malformed header: %v", err))
	}
	row.hash = row.header.BlockHash()

	r := vlqReader{data: serialized, offset: len(serialized) - hr.Len()}

	height, err := r.vlq()
	if err != nil {
		return nil, err
	}
	row.height = int32(height)

	status, err := r.byte()
	if err != nil {
		return nil, err
	}
	row.status = blockStatus(status)

	numTx, err := r.vlq()
	if err != nil {
		return nil, err
	}
	row.numTx = uint32(numTx)

	if row.dataPos, err = r.blockPos(); err != nil {
		return nil, err
	}
	if row.undoPos, err = r.blockPos(); err != nil {
		return nil, err
	}
	if row.nextHash, err = r.hash(); err != nil {
		return nil, err
	}

	flags, err := r.byte()
	if err != nil {
		return nil, err
	}
	if flags&diskIndexFlagProofOfStake != 0 {
		row.isProofOfStake = true
		if row.prevoutStake.Hash, err = r.hash(); err != nil {
			return nil, err
		}
		if row.prevoutStake.Index, err = r.uint32(); err != nil {
			return nil, err
		}
		if row.stakeTime, err = r.uint32(); err != nil {
			return nil, err
		}
		if row.stakeModifier, err = r.uint64(); err != nil {
			return nil, err
		}
		if row.hashProofOfStake, err = r.hash(); err != nil {
			return nil, err
		}
	}

	mint, err := r.vlq()
	if err != nil {
		return nil, err
	}
	row.mint = int64(mint)

	moneySupply, err := r.vlq()
	if err != nil {
		return nil, err
	}
	row.moneySupply = int64(moneySupply)

	numWinners, err := r.vlq()
	if err != nil {
		return nil, err
	}
	row.lotteryWinners = make([]chainhash.Hash, numWinners)
	for i := uint64(0); i < numWinners; i++ {
		if row.lotteryWinners[i], err = r.hash(); err != nil {
			return nil, err
		}
	}

	return row, nil
}

// serializeBlockFileInfo serializes the statistics for a single block file.
func serializeBlockFileInfo(info *blockfile.FileInfo) []byte {
	var w vlqWriter
	w.putVLQ(uint64(info.Blocks))
	w.putVLQ(uint64(info.Size))
	w.putVLQ(uint64(info.UndoSize))
	w.putVLQ(uint64(info.HeightFirst))
	w.putVLQ(uint64(info.HeightLast))
	w.putVLQ(uint64(info.TimeFirst))
	w.putVLQ(uint64(info.TimeLast))
	return w.bytes()
}

// deserializeBlockFileInfo decodes the statistics for a single block file.
func deserializeBlockFileInfo(serialized []byte) (*blockfile.FileInfo, error) {
	r := vlqReader{data: serialized}
	var info blockfile.FileInfo

	blocks, err := r.vlq()
	if err != nil {
		return nil, err
	}
	size, err := r.vlq()
	if err != nil {
		return nil, err
	}
	undoSize, err := r.vlq()
	if err != nil {
		return nil, err
	}
	heightFirst, err := r.vlq()
	if err != nil {
		return nil, err
	}
	heightLast, err := r.vlq()
	if err != nil {
		return nil, err
	}
	timeFirst, err := r.vlq()
	if err != nil {
		return nil, err
	}
	timeLast, err := r.vlq()
	if err != nil {
		return nil, err
	}

	info.Blocks = uint32(blocks)
	info.Size = uint32(size)
	info.UndoSize = uint32(undoSize)
	info.HeightFirst = int32(heightFirst)
	info.HeightLast = int32(heightLast)
	info.TimeFirst = uint32(timeFirst)
	info.TimeLast = uint32(timeLast)
	return &info, nil
}

// blockIndexKey returns the block-tree database key for a block index
// record.
func blockIndexKey(hash *chainhash.Hash) []byte {
	key := make([]byte, 1+chainhash.HashSize)
	key[0] = blockIndexKeyPrefix
	copy(key[1:], hash[:])
	return key
}

// coinsKey returns the coin database key for the coins of a transaction.
func coinsKey(txid *chainhash.Hash) []byte {
	key := make([]byte, 1+chainhash.HashSize)
	key[0] = coinsKeyPrefix
	copy(key[1:], txid[:])
	return key
}

// namedKey returns a key formed by a type byte followed by a name.
func namedKey(prefix byte, name string) []byte {
	key := make([]byte, 1+len(name))
	key[0] = prefix
	copy(key[1:], name)
	return key
}

// putBatchBlockIndex adds the write for the provided block node to the
// provided tree database batch.
func putBatchBlockIndex(batch *database.Batch, node *blockNode) {
	// The loader does not use the next hash and rebuilds the active chain
	// from the coin database best block, so the zero hash is written for
	// every node.
	nextHash := zeroHash
	batch.Put(blockIndexKey(&node.hash),
		serializeBlockIndexEntry(node, &nextHash))
}

// BlockTreeDB provides access to the block-tree database: the block index
// records, block file statistics, the optional transaction/address/spent
// indexes and named flags.
type BlockTreeDB struct {
	db *database.DB
}

// NewBlockTreeDB returns a block-tree database using the provided backing
// store.
func NewBlockTreeDB(db *database.DB) *BlockTreeDB {
	return &BlockTreeDB{db: db}
}

// WriteBlockIndexEntry writes a single block index record.
func (t *BlockTreeDB) WriteBlockIndexEntry(node *blockNode, nextHash *chainhash.Hash) error {
	return t.db.Put(blockIndexKey(&node.hash),
		serializeBlockIndexEntry(node, nextHash))
}

// WriteBlockFileInfo writes the statistics record for the provided block
// file number.
func (t *BlockTreeDB) WriteBlockFileInfo(fileNum int32, info *blockfile.FileInfo) error {
	var w vlqWriter
	w.putByte(fileInfoKeyPrefix)
	w.putVLQ(uint64(fileNum))
	return t.db.Put(w.bytes(), serializeBlockFileInfo(info))
}

// ReadBlockFileInfo returns the statistics record for the provided block
// file number, or nil when there is none.
func (t *BlockTreeDB) ReadBlockFileInfo(fileNum int32) (*blockfile.FileInfo, error) {
	var w vlqWriter
	w.putByte(fileInfoKeyPrefix)
	w.putVLQ(uint64(fileNum))
	serialized, err := t.db.Get(w.bytes())
	if err == database.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return deserializeBlockFileInfo(serialized)
}

// WriteLastBlockFile records the number of the block file currently being
// appended to.
func (t *BlockTreeDB) WriteLastBlockFile(fileNum int32) error {
	var w vlqWriter
	w.putVLQ(uint64(fileNum))
	return t.db.Put([]byte{lastFileKey}, w.bytes())
}

// ReadLastBlockFile returns the number of the block file currently being
// appended to.  It returns 0 when the record does not exist yet.
func (t *BlockTreeDB) ReadLastBlockFile() (int32, error) {
	serialized, err := t.db.Get([]byte{lastFileKey})
	if err == database.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, _ := deserializeVLQ(serialized)
	return int32(n), nil
}

// WriteReindexing sets or clears the reindex-in-progress marker.
func (t *BlockTreeDB) WriteReindexing(reindexing bool) error {
	if reindexing {
		return t.db.Put([]byte{reindexKey}, []byte{'1'})
	}
	return t.db.Delete([]byte{reindexKey})
}

// ReadReindexing returns whether the reindex-in-progress marker is set.
func (t *BlockTreeDB) ReadReindexing() (bool, error) {
	return t.db.Has([]byte{reindexKey})
}

// WriteFlag writes a named boolean flag.
func (t *BlockTreeDB) WriteFlag(name string, value bool) error {
	b := byte('0')
	if value {
		b = '1'
	}
	return t.db.Put(namedKey(flagKeyPrefix, name), []byte{b})
}

// ReadFlag returns the value of a named boolean flag and whether it exists.
func (t *BlockTreeDB) ReadFlag(name string) (bool, bool, error) {
	serialized, err := t.db.Get(namedKey(flagKeyPrefix, name))
	if err == database.ErrNotFound {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return len(serialized) == 1 && serialized[0] == '1', true, nil
}

// WriteInt writes a named integer.
func (t *BlockTreeDB) WriteInt(name string, value int32) error {
	var serialized [4]byte
	binary.LittleEndian.PutUint32(serialized[:], uint32(value))
	return t.db.Put(namedKey(intKeyPrefix, name), serialized[:])
}

// ReadInt returns the value of a named integer and whether it exists.
func (t *BlockTreeDB) ReadInt(name string) (int32, bool, error) {
	serialized, err := t.db.Get(namedKey(intKeyPrefix, name))
	if err == database.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(serialized) != 4 {
		return 0, false, errDeserialize("malformed int record")
	}
	return int32(binary.LittleEndian.Uint32(serialized)), true, nil
}

// LoadBlockIndexGuts iterates every block index record in the block-tree
// database, invoking the provided callback for each decoded row.  The
// interrupt channel is polled between records so a shutdown request aborts
// the load cleanly.
func (t *BlockTreeDB) LoadBlockIndexGuts(interrupt <-chan struct{}, fn func(*diskBlockIndexRow) error) error {
	return t.db.Iterate([]byte{blockIndexKeyPrefix}, func(key, value []byte) error {
		if interruptRequested(interrupt) {
			return errInterruptRequested
		}

		row, err := deserializeBlockIndexEntry(value)
		if err != nil {
			return err
		}
		return fn(row)
	})
}

// interruptRequested returns whether the provided channel has been closed,
// signalling a shutdown request.
func interruptRequested(interrupt <-chan struct{}) bool {
	if interrupt == nil {
		return false
	}
	select {
	case <-interrupt:
		return true
	default:
	}
	return false
}

// errInterruptRequested indicates a long-running operation was aborted due
// to a shutdown request.
var errInterruptRequested = fatalError("interrupt requested")
