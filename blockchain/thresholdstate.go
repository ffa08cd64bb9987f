// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/izzyproject/izzyd/chaincfg"
)

// ThresholdState define the various threshold states used when voting on
// consensus changes.
type ThresholdState byte

// These constants are used to identify specific threshold states.
//
// NOTE: This section specifically does not use iota for the individual
// states since these values are serialized and must be stable for long-term
// storage.
const (
	// ThresholdDefined is the first state for each deployment and is the
	// state for the genesis block by definition for all deployments.
	ThresholdDefined ThresholdState = 0

	// ThresholdStarted is the state for a deployment once its start time
	// has been reached.
	ThresholdStarted ThresholdState = 1

	// ThresholdLockedIn is the state for a deployment during the retarget
	// period which is after the ThresholdStarted state period and the
	// number of blocks that have voted for the deployment equal or exceed
	// the required number of votes for the deployment.
	ThresholdLockedIn ThresholdState = 2

	// ThresholdActive is the state for a deployment for all blocks after
	// a retarget period in which the deployment was in the
	// ThresholdLockedIn state.
	ThresholdActive ThresholdState = 3

	// ThresholdFailed is the state for a deployment once its expiration
	// time has been reached and it did not reach the ThresholdLockedIn
	// state.
	ThresholdFailed ThresholdState = 4
)

// thresholdStateStrings is a map of ThresholdState values back to their
// constant names for pretty printing.
var thresholdStateStrings = map[ThresholdState]string{
	ThresholdDefined:  "ThresholdDefined",
	ThresholdStarted:  "ThresholdStarted",
	ThresholdLockedIn: "ThresholdLockedIn",
	ThresholdActive:   "ThresholdActive",
	ThresholdFailed:   "ThresholdFailed",
}

// String returns the ThresholdState as a human-readable name.
func (t ThresholdState) String() string {
	if s := thresholdStateStrings[t]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ThresholdState (%d)", int(t))
}

// thresholdConditionChecker provides a generic interface that is invoked to
// determine when a consensus rule change threshold should be changed.
type thresholdConditionChecker interface {
	// BeginTime returns the unix timestamp for the median block time
	// after which voting on a rule change starts (at the next window),
	// or chaincfg.AlwaysActiveStartTime for a deployment that skips
	// signalling.
	BeginTime() int64

	// EndTime returns the unix timestamp for the median block time after
	// which an attempted rule change fails if it has not already been
	// locked in or activated.
	EndTime() int64

	// Period returns the number of blocks in each threshold state
	// retarget window.
	Period() int32

	// Threshold returns the number of blocks for which the condition
	// must be true in order to lock in a rule change.
	Threshold() int32

	// Condition returns whether or not the rule change activation
	// condition has been met for the provided block node.
	Condition(*blockNode) bool
}

// thresholdStateCache provides a type to cache the threshold states of each
// threshold window for a set of IDs.  The cache is keyed by the hash of the
// last block of the window prior to the one the state applies to; the state
// of the window containing the genesis block is keyed by the zero hash.
type thresholdStateCache struct {
	entries map[chainhash.Hash]ThresholdState
}

// Lookup returns the threshold state associated with the given hash along
// with a boolean that indicates whether or not it is valid.
func (c *thresholdStateCache) Lookup(hash *chainhash.Hash) (ThresholdState, bool) {
	state, ok := c.entries[*hash]
	return state, ok
}

// Update updates the cache to contain the provided hash to threshold state
// mapping.
func (c *thresholdStateCache) Update(hash *chainhash.Hash, state ThresholdState) {
	c.entries[*hash] = state
}

// newThresholdCaches returns a new array of caches to be used when
// calculating threshold states.
func newThresholdCaches(numCaches uint32) []thresholdStateCache {
	caches := make([]thresholdStateCache, numCaches)
	for i := 0; i < len(caches); i++ {
		caches[i] = thresholdStateCache{
			entries: make(map[chainhash.Hash]ThresholdState),
		}
	}
	return caches
}

// cacheKey returns the cache key for the provided node, which may be nil to
// represent the parent of the genesis block.
func cacheKey(node *blockNode) *chainhash.Hash {
	if node == nil {
		return &zeroHash
	}
	return &node.hash
}

// thresholdState returns the current rule change threshold state for the
// block AFTER the given node and deployment.  The cache is used to ensure
// the threshold states for previous windows are only calculated once.
//
// This function MUST be called with the threshold state lock held.
func (b *BlockChain) thresholdState(prevNode *blockNode, checker thresholdConditionChecker, cache *thresholdStateCache) ThresholdState {
	// A deployment marked always active short-circuits the signalling
	// process entirely.
	if checker.BeginTime() == chaincfg.AlwaysActiveStartTime {
		return ThresholdActive
	}

	period := checker.Period()

	// A block's state is always the same as that of the first of its
	// period, so it is computed based on a prevNode whose height is a
	// multiple of the period minus one.
	if prevNode != nil {
		prevNode = prevNode.Ancestor(prevNode.height -
			(prevNode.height+1)%period)
	}

	// Walk backwards in period-sized strides to find a node whose state
	// is known.  The genesis window is defined by definition, and any
	// window whose median time is before the deployment start time is
	// defined without further recursion.
	var neededStates []*blockNode
	for {
		if _, ok := cache.Lookup(cacheKey(prevNode)); ok {
			break
		}
		if prevNode == nil {
			cache.Update(cacheKey(prevNode), ThresholdDefined)
			break
		}
		if prevNode.CalcPastMedianTime().Unix() < checker.BeginTime() {
			cache.Update(cacheKey(prevNode), ThresholdDefined)
			break
		}
		neededStates = append(neededStates, prevNode)
		prevNode = prevNode.Ancestor(prevNode.height - period)
	}

	// At this point the state of prevNode is known.
	state, ok := cache.Lookup(cacheKey(prevNode))
	if !ok {
		panic(AssertError("thresholdState: cache lookup failed after " +
			"populating pass"))
	}

	// Now walk forward and compute the state of each descendant window.
	for neededNum := len(neededStates) - 1; neededNum >= 0; neededNum-- {
		prevNode = neededStates[neededNum]
		medianTime := prevNode.CalcPastMedianTime().Unix()

		switch state {
		case ThresholdDefined:
			if medianTime >= checker.EndTime() {
				state = ThresholdFailed
				break
			}
			if medianTime >= checker.BeginTime() {
				state = ThresholdStarted
			}

		case ThresholdStarted:
			if medianTime >= checker.EndTime() {
				state = ThresholdFailed
				break
			}

			// Count how many blocks in the window signalled for
			// the deployment.
			var count int32
			countNode := prevNode
			for i := int32(0); i < period; i++ {
				if checker.Condition(countNode) {
					count++
				}
				countNode = countNode.parent
			}
			if count >= checker.Threshold() {
				state = ThresholdLockedIn
			}

		case ThresholdLockedIn:
			// Always progresses into active.
			state = ThresholdActive

		case ThresholdActive, ThresholdFailed:
			// Terminal states.
		}

		cache.Update(cacheKey(prevNode), state)
	}

	return state
}

// ThresholdStats holds the progress of a deployment within the window that
// contains the queried block.
type ThresholdStats struct {
	// Period and Threshold echo the deployment descriptor.
	Period    int32
	Threshold int32

	// Elapsed is the number of blocks elapsed since the start of the
	// window up to and including the queried block, and Count how many of
	// them signalled.
	Elapsed int32
	Count   int32

	// Possible is false once so many non-signalling blocks have elapsed
	// that the threshold can no longer be reached within the window.
	Possible bool
}

// thresholdStateStats returns the signalling statistics for the window
// containing the provided node.
func thresholdStateStats(node *blockNode, checker thresholdConditionChecker) ThresholdStats {
	stats := ThresholdStats{
		Period:    checker.Period(),
		Threshold: checker.Threshold(),
	}
	if node == nil {
		stats.Possible = true
		return stats
	}

	// Find the last block of the previous period.
	endOfPrevPeriod := node.Ancestor(node.height -
		(node.height+1)%stats.Period)
	stats.Elapsed = node.height - endOfPrevPeriod.height

	// Count signalling blocks from the queried block back to the start of
	// its period.
	var count int32
	currentNode := node
	for currentNode.height != endOfPrevPeriod.height {
		if checker.Condition(currentNode) {
			count++
		}
		currentNode = currentNode.parent
	}

	stats.Count = count
	stats.Possible = (stats.Period - stats.Threshold) >=
		(stats.Elapsed - count)
	return stats
}

// thresholdStateSinceHeight returns the height at which the current
// threshold state for the block AFTER the given node first began.
//
// This function MUST be called with the threshold state lock held.
func (b *BlockChain) thresholdStateSinceHeight(prevNode *blockNode, checker thresholdConditionChecker, cache *thresholdStateCache) int32 {
	if checker.BeginTime() == chaincfg.AlwaysActiveStartTime {
		return 0
	}

	initialState := b.thresholdState(prevNode, checker, cache)

	// The genesis block is by definition defined for each deployment.
	if initialState == ThresholdDefined {
		return 0
	}

	period := checker.Period()

	// A block's state is always the same as that of the first of its
	// period, so walk backwards in period strides while the state stays
	// unchanged.
	prevNode = prevNode.Ancestor(prevNode.height -
		(prevNode.height+1)%period)
	previousPeriodParent := prevNode.Ancestor(prevNode.height - period)
	for previousPeriodParent != nil &&
		b.thresholdState(previousPeriodParent, checker, cache) == initialState {

		prevNode = previousPeriodParent
		previousPeriodParent = prevNode.Ancestor(prevNode.height - period)
	}

	// Adjust the result because prevNode points at the parent of the
	// first block with the state.
	return prevNode.height + 1
}
