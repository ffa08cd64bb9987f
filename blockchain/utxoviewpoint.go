// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/izzyproject/izzyd/wire"
)

// Coins holds the unspent outputs of a single transaction together with
// contextual information: which block it was found in and whether it is a
// coinbase or coinstake, both of which are subject to maturity rules.
//
// Spent outputs are nil entries in the Outputs slice; trailing nil entries
// are trimmed.  A Coins value with no remaining outputs is pruned and must
// never be written to persistent storage.
type Coins struct {
	// Version is the version of the transaction the coins represent.
	Version int32

	// CoinBase and CoinStake denote how the transaction created its
	// outputs.  Both kinds are spendable only after maturity.
	CoinBase  bool
	CoinStake bool

	// Height is the height of the block containing the transaction.
	Height int32

	// Outputs is a sparse vector of unspent outputs; spent outputs are
	// nil.
	Outputs []*wire.TxOut
}

// IsAvailable returns whether the output at the provided index exists and is
// unspent.
func (c *Coins) IsAvailable(index uint32) bool {
	return index < uint32(len(c.Outputs)) && c.Outputs[index] != nil
}

// Out returns the output at the provided index or nil when it is spent or
// out of range.
func (c *Coins) Out(index uint32) *wire.TxOut {
	if index >= uint32(len(c.Outputs)) {
		return nil
	}
	return c.Outputs[index]
}

// Spend marks the output at the provided index as spent and reports whether
// it was previously unspent.  Trailing spent outputs are trimmed so a fully
// spent value reports IsPruned.
func (c *Coins) Spend(index uint32) bool {
	if !c.IsAvailable(index) {
		return false
	}
	c.Outputs[index] = nil
	c.cleanup()
	return true
}

// cleanup trims trailing spent outputs.
func (c *Coins) cleanup() {
	numOutputs := len(c.Outputs)
	for numOutputs > 0 && c.Outputs[numOutputs-1] == nil {
		numOutputs--
	}
	c.Outputs = c.Outputs[:numOutputs]
}

// IsPruned returns whether all outputs of the transaction are spent.
func (c *Coins) IsPruned() bool {
	for _, out := range c.Outputs {
		if out != nil {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the coins.
func (c *Coins) Clone() *Coins {
	if c == nil {
		return nil
	}
	clone := &Coins{
		Version:   c.Version,
		CoinBase:  c.CoinBase,
		CoinStake: c.CoinStake,
		Height:    c.Height,
		Outputs:   make([]*wire.TxOut, len(c.Outputs)),
	}
	for i, out := range c.Outputs {
		if out == nil {
			continue
		}
		script := make([]byte, len(out.PkScript))
		copy(script, out.PkScript)
		clone.Outputs[i] = &wire.TxOut{Value: out.Value, PkScript: script}
	}
	return clone
}

// memoryUsage returns an estimate of the in-memory footprint of the coins.
func (c *Coins) memoryUsage() uint64 {
	size := uint64(32)
	for _, out := range c.Outputs {
		if out != nil {
			size += 32 + uint64(len(out.PkScript))
		}
	}
	return size
}

// NewCoinsFromTx creates coins for every non-unspendable output of the
// provided transaction at the provided block height.
func NewCoinsFromTx(tx *btcutil.Tx, height int32) *Coins {
	msgTx := tx.MsgTx()
	coins := &Coins{
		Version:   msgTx.Version,
		CoinBase:  IsCoinBaseTx(msgTx),
		CoinStake: IsCoinStakeTx(msgTx),
		Height:    height,
		Outputs:   make([]*wire.TxOut, len(msgTx.TxOut)),
	}
	for i, txOut := range msgTx.TxOut {
		if txscript.IsUnspendable(txOut.PkScript) {
			continue
		}
		coins.Outputs[i] = txOut
	}
	coins.cleanup()
	return coins
}

// coinsCacheFlags describes the relationship of a cached entry to the view
// below it.
type coinsCacheFlags uint8

const (
	// coinsDirty indicates the cached coins differ from the version in
	// the view below and must be pushed down on flush.
	coinsDirty coinsCacheFlags = 1 << 0

	// coinsFresh indicates the view below does not have these coins, so a
	// pruned dirty fresh entry can simply be dropped without propagating
	// the deletion.
	coinsFresh coinsCacheFlags = 1 << 1
)

// CoinsCacheEntry is a single cache slot: the coins plus their flags.
type CoinsCacheEntry struct {
	Coins *Coins
	Flags coinsCacheFlags
}

// CoinsMap maps transaction ids to cached coins.
type CoinsMap map[chainhash.Hash]*CoinsCacheEntry

// CoinsView is the contract every layer of the UTXO view stack satisfies:
// the persistent backing store, the main memory cache and any transient
// overlays used for speculative block connection.
type CoinsView interface {
	// GetCoins returns the unspent coins for the provided transaction id,
	// or nil when the view has none.
	GetCoins(txid *chainhash.Hash) (*Coins, error)

	// HaveCoins returns whether the view has unspent coins for the
	// provided transaction id.
	HaveCoins(txid *chainhash.Hash) (bool, error)

	// BestBlock returns the hash of the block the view state corresponds
	// to.
	BestBlock() (chainhash.Hash, error)

	// BatchWrite atomically replaces the coins for every entry of the
	// provided map and moves the view to the provided best block.  The
	// map is consumed: entries become owned by the callee.
	BatchWrite(coins CoinsMap, bestBlock *chainhash.Hash) error
}

// CoinsViewCache is an in-memory cache stacked on top of another view.  All
// mutation happens against cache entries whose DIRTY and FRESH flags track
// their relationship to the layer below, allowing a flush to push down the
// minimal batch.
type CoinsViewCache struct {
	base CoinsView

	cache      CoinsMap
	bestBlock  chainhash.Hash
	haveBest   bool
	cachedSize uint64
}

// NewCoinsViewCache returns an empty cache view backed by the provided view.
// Stacking a cache on top of another cache creates an overlay suitable for
// speculative application of a block.
func NewCoinsViewCache(base CoinsView) *CoinsViewCache {
	return &CoinsViewCache{
		base:  base,
		cache: make(CoinsMap),
	}
}

// fetchCoins fetches the coins for the provided txid into the cache and
// returns the cache entry, or nil when neither the cache nor the base have
// them.
func (view *CoinsViewCache) fetchCoins(txid *chainhash.Hash) (*CoinsCacheEntry, error) {
	if entry, ok := view.cache[*txid]; ok {
		return entry, nil
	}

	coins, err := view.base.GetCoins(txid)
	if err != nil {
		return nil, err
	}
	if coins == nil {
		return nil, nil
	}

	entry := &CoinsCacheEntry{Coins: coins}
	view.cache[*txid] = entry
	view.cachedSize += coins.memoryUsage()
	return entry, nil
}

// GetCoins returns a copy of the unspent coins for the provided transaction
// id, or nil when there are none.
func (view *CoinsViewCache) GetCoins(txid *chainhash.Hash) (*Coins, error) {
	entry, err := view.fetchCoins(txid)
	if err != nil || entry == nil {
		return nil, err
	}
	return entry.Coins.Clone(), nil
}

// AccessCoins returns the cached coins for the provided transaction id
// without copying.  The returned value MUST NOT be mutated; use ModifyCoins
// for that.  It returns nil when there are none.
func (view *CoinsViewCache) AccessCoins(txid *chainhash.Hash) (*Coins, error) {
	entry, err := view.fetchCoins(txid)
	if err != nil || entry == nil {
		return nil, err
	}
	return entry.Coins, nil
}

// ModifyCoins returns the cached coins for the provided transaction id for
// mutation, marking the entry dirty.  It returns nil when the view has no
// coins for the id.
func (view *CoinsViewCache) ModifyCoins(txid *chainhash.Hash) (*Coins, error) {
	entry, err := view.fetchCoins(txid)
	if err != nil || entry == nil {
		return nil, err
	}
	entry.Flags |= coinsDirty
	return entry.Coins, nil
}

// SetCoins replaces the coins for the provided transaction id, marking the
// entry dirty.  Entries whose transaction is unknown to the layer below are
// additionally marked fresh so that a later prune can drop them without
// propagation.
func (view *CoinsViewCache) SetCoins(txid *chainhash.Hash, coins *Coins) error {
	if coins == nil {
		return AssertError("SetCoins called with nil coins")
	}

	entry, ok := view.cache[*txid]
	if !ok {
		entry = &CoinsCacheEntry{}
		have, err := view.base.HaveCoins(txid)
		if err != nil {
			return err
		}
		if !have {
			entry.Flags |= coinsFresh
		}
		view.cache[*txid] = entry
	} else if entry.Coins != nil {
		view.cachedSize -= entry.Coins.memoryUsage()
	}

	entry.Coins = coins
	entry.Flags |= coinsDirty
	view.cachedSize += coins.memoryUsage()
	return nil
}

// HaveCoins returns whether unspent coins exist for the provided transaction
// id in this view.
func (view *CoinsViewCache) HaveCoins(txid *chainhash.Hash) (bool, error) {
	entry, err := view.fetchCoins(txid)
	if err != nil {
		return false, err
	}
	return entry != nil && !entry.Coins.IsPruned(), nil
}

// BestBlock returns the hash of the block this view's state corresponds to.
func (view *CoinsViewCache) BestBlock() (chainhash.Hash, error) {
	if !view.haveBest {
		best, err := view.base.BestBlock()
		if err != nil {
			return chainhash.Hash{}, err
		}
		view.bestBlock = best
		view.haveBest = true
	}
	return view.bestBlock, nil
}

// SetBestBlock moves the view to the provided best block.
func (view *CoinsViewCache) SetBestBlock(hash *chainhash.Hash) {
	view.bestBlock = *hash
	view.haveBest = true
}

// BatchWrite merges the provided map, which must come from a view stacked
// directly on top of this one, into the cache.  A pruned incoming entry
// whose local counterpart is fresh (or absent below) is dropped entirely
// since the layer below has never seen it.
func (view *CoinsViewCache) BatchWrite(coins CoinsMap, bestBlock *chainhash.Hash) error {
	for txid, incoming := range coins {
		// Ignore entries that are not dirty; they are identical to
		// this layer or below by definition.
		if incoming.Flags&coinsDirty == 0 {
			continue
		}

		local, ok := view.cache[txid]
		if !ok {
			if incoming.Flags&coinsFresh != 0 && incoming.Coins.IsPruned() {
				continue
			}
			entry := &CoinsCacheEntry{
				Coins: incoming.Coins,
				Flags: coinsDirty | (incoming.Flags & coinsFresh),
			}
			view.cache[txid] = entry
			view.cachedSize += entry.Coins.memoryUsage()
			continue
		}

		view.cachedSize -= local.Coins.memoryUsage()
		if local.Flags&coinsFresh != 0 && incoming.Coins.IsPruned() {
			delete(view.cache, txid)
			continue
		}
		local.Coins = incoming.Coins
		local.Flags |= coinsDirty
		view.cachedSize += local.Coins.memoryUsage()
	}

	view.SetBestBlock(bestBlock)
	return nil
}

// Flush pushes every dirty entry down into the base view in one batch along
// with the best block marker and empties the cache.
func (view *CoinsViewCache) Flush() error {
	best, err := view.BestBlock()
	if err != nil {
		return err
	}

	err = view.base.BatchWrite(view.cache, &best)
	if err != nil {
		return err
	}

	view.cache = make(CoinsMap)
	view.cachedSize = 0
	return nil
}

// DynamicMemoryUsage returns an estimate of the memory held by the cache.
func (view *CoinsViewCache) DynamicMemoryUsage() uint64 {
	return view.cachedSize
}

// CacheSize returns the number of entries currently cached.
func (view *CoinsViewCache) CacheSize() int {
	return len(view.cache)
}

// GetOutput returns the referenced unspent output or nil when it does not
// exist in the view or is already spent.
func (view *CoinsViewCache) GetOutput(outpoint wire.OutPoint) (*wire.TxOut, error) {
	coins, err := view.AccessCoins(&outpoint.Hash)
	if err != nil || coins == nil {
		return nil, err
	}
	return coins.Out(outpoint.Index), nil
}
