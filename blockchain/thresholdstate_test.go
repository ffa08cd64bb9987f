// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math"
	"testing"
	"time"

	"github.com/izzyproject/izzyd/chaincfg"
	"github.com/izzyproject/izzyd/wire"
)

// thresholdBatch describes one run of nodes for buildThresholdChain, which
// builds a synthetic chain for threshold state tests.  Each entry of the
// batches slice appends the given number of nodes with the
// provided timestamp base and signalling count: the first `signalling` nodes
// of a batch carry the deployment bit.
type thresholdBatch struct {
	numNodes   int32
	timeBase   int64
	signalling int32
}

func buildThresholdChain(t *testing.T, bit uint8, batches []thresholdBatch) *blockNode {
	t.Helper()

	var tip *blockNode
	for _, batch := range batches {
		for i := int32(0); i < batch.numNodes; i++ {
			version := int32(vbTopBits)
			if i < batch.signalling {
				version |= int32(1) << bit
			}
			header := &wire.BlockHeader{
				Version:   version,
				Timestamp: time.Unix(batch.timeBase+int64(i), 0),
				Bits:      0x207fffff,
			}
			if tip != nil {
				header.PrevBlock = tip.hash
			}
			tip = newBlockNode(header, tip)
		}
	}
	return tip
}

// TestThresholdStateLifecycle walks a deployment through every state:
// DEFINED before the start time, STARTED once the median time reaches it,
// LOCKED_IN when enough blocks in a window signal, ACTIVE one window later
// and ACTIVE forever after.
func TestThresholdStateLifecycle(t *testing.T) {
	const startTime = int64(1600000000)
	deployment := &chaincfg.ConsensusDeployment{
		BitNumber:  1,
		StartTime:  startTime,
		ExpireTime: startTime + 1000000,
		Period:     144,
		Threshold:  108,
	}
	checker := deploymentChecker{deployment: deployment}
	b := &BlockChain{chainParams: regTestParams()}
	caches := newThresholdCaches(1)
	cache := &caches[0]

	// Window 1: median time before the start time.
	tip := buildThresholdChain(t, 1, []thresholdBatch{
		{numNodes: 144, timeBase: startTime - 10000},
	})
	if state := b.thresholdState(tip, checker, cache); state != ThresholdDefined {
		t.Fatalf("after window 1: got %v, want %v", state, ThresholdDefined)
	}

	// Window 2: median time past the start with insufficient signalling.
	tip = buildThresholdChain(t, 1, []thresholdBatch{
		{numNodes: 144, timeBase: startTime - 10000},
		{numNodes: 144, timeBase: startTime + 1000, signalling: 80},
	})
	cache = &newThresholdCaches(1)[0]
	if state := b.thresholdState(tip, checker, cache); state != ThresholdStarted {
		t.Fatalf("after window 2: got %v, want %v", state, ThresholdStarted)
	}

	// Window 3: 110 of 144 blocks signal, which meets the threshold.
	tip = buildThresholdChain(t, 1, []thresholdBatch{
		{numNodes: 144, timeBase: startTime - 10000},
		{numNodes: 144, timeBase: startTime + 1000, signalling: 80},
		{numNodes: 144, timeBase: startTime + 2000, signalling: 110},
	})
	cache = &newThresholdCaches(1)[0]
	if state := b.thresholdState(tip, checker, cache); state != ThresholdLockedIn {
		t.Fatalf("after window 3: got %v, want %v", state, ThresholdLockedIn)
	}

	// Window 4: locked in unconditionally becomes active.
	tip = buildThresholdChain(t, 1, []thresholdBatch{
		{numNodes: 144, timeBase: startTime - 10000},
		{numNodes: 144, timeBase: startTime + 1000, signalling: 80},
		{numNodes: 144, timeBase: startTime + 2000, signalling: 110},
		{numNodes: 144, timeBase: startTime + 3000},
	})
	cache = &newThresholdCaches(1)[0]
	if state := b.thresholdState(tip, checker, cache); state != ThresholdActive {
		t.Fatalf("after window 4: got %v, want %v", state, ThresholdActive)
	}

	// Subsequent windows remain active; this also exercises the cache
	// since the earlier windows are already memoized.
	tip = buildThresholdChain(t, 1, []thresholdBatch{
		{numNodes: 144, timeBase: startTime - 10000},
		{numNodes: 144, timeBase: startTime + 1000, signalling: 80},
		{numNodes: 144, timeBase: startTime + 2000, signalling: 110},
		{numNodes: 144, timeBase: startTime + 3000},
		{numNodes: 288, timeBase: startTime + 4000},
	})
	cache = &newThresholdCaches(1)[0]
	if state := b.thresholdState(tip, checker, cache); state != ThresholdActive {
		t.Fatalf("after window 6: got %v, want %v", state, ThresholdActive)
	}

	// The state of every block equals the state at the first block of its
	// period: querying from the middle of a window must agree with the
	// window start.
	midWindow := tip.Ancestor(tip.height - 100)
	if state := b.thresholdState(midWindow, checker, cache); state != ThresholdActive {
		t.Fatalf("mid-window state: got %v, want %v", state, ThresholdActive)
	}
}

// TestThresholdStateTimeout ensures a deployment that never reaches the
// threshold fails once the median time passes the timeout.
func TestThresholdStateTimeout(t *testing.T) {
	const startTime = int64(1600000000)
	deployment := &chaincfg.ConsensusDeployment{
		BitNumber:  1,
		StartTime:  startTime,
		ExpireTime: startTime + 2000,
		Period:     144,
		Threshold:  108,
	}
	checker := deploymentChecker{deployment: deployment}
	b := &BlockChain{chainParams: regTestParams()}
	cache := &newThresholdCaches(1)[0]

	tip := buildThresholdChain(t, 1, []thresholdBatch{
		{numNodes: 144, timeBase: startTime + 100, signalling: 50},
		{numNodes: 144, timeBase: startTime + 5000, signalling: 50},
	})
	if state := b.thresholdState(tip, checker, cache); state != ThresholdFailed {
		t.Fatalf("after timeout: got %v, want %v", state, ThresholdFailed)
	}
}

// TestThresholdStateAlwaysActive ensures the always-active sentinel skips
// the signalling process entirely.
func TestThresholdStateAlwaysActive(t *testing.T) {
	deployment := &chaincfg.ConsensusDeployment{
		BitNumber:  1,
		StartTime:  chaincfg.AlwaysActiveStartTime,
		ExpireTime: math.MaxInt64,
		Period:     144,
		Threshold:  108,
	}
	checker := deploymentChecker{deployment: deployment}
	b := &BlockChain{chainParams: regTestParams()}
	cache := &newThresholdCaches(1)[0]

	if state := b.thresholdState(nil, checker, cache); state != ThresholdActive {
		t.Fatalf("always active: got %v, want %v", state, ThresholdActive)
	}
}

// TestThresholdStats ensures signalling statistics report the window
// progress and whether the threshold is still reachable.
func TestThresholdStats(t *testing.T) {
	const startTime = int64(1600000000)
	deployment := &chaincfg.ConsensusDeployment{
		BitNumber:  1,
		StartTime:  startTime,
		ExpireTime: startTime + 1000000,
		Period:     144,
		Threshold:  108,
	}
	checker := deploymentChecker{deployment: deployment}

	// A full window plus 44 blocks of the next, 30 of them signalling.
	tip := buildThresholdChain(t, 1, []thresholdBatch{
		{numNodes: 144, timeBase: startTime + 100},
		{numNodes: 44, timeBase: startTime + 1000, signalling: 30},
	})

	stats := thresholdStateStats(tip, checker)
	if stats.Period != 144 || stats.Threshold != 108 {
		t.Fatalf("stats descriptor mismatch: %+v", stats)
	}
	if stats.Elapsed != 44 {
		t.Fatalf("elapsed: got %d, want 44", stats.Elapsed)
	}
	if stats.Count != 30 {
		t.Fatalf("count: got %d, want 30", stats.Count)
	}
	wantPossible := (stats.Period - stats.Threshold) >= (stats.Elapsed - stats.Count)
	if stats.Possible != wantPossible {
		t.Fatalf("possible: got %v, want %v", stats.Possible, wantPossible)
	}
}

// TestThresholdStateSinceHeight ensures the reported starting height is the
// first block of the first window with the current state.
func TestThresholdStateSinceHeight(t *testing.T) {
	const startTime = int64(1600000000)
	deployment := &chaincfg.ConsensusDeployment{
		BitNumber:  1,
		StartTime:  startTime,
		ExpireTime: startTime + 1000000,
		Period:     144,
		Threshold:  108,
	}
	checker := deploymentChecker{deployment: deployment}
	b := &BlockChain{chainParams: regTestParams()}
	cache := &newThresholdCaches(1)[0]

	tip := buildThresholdChain(t, 1, []thresholdBatch{
		{numNodes: 144, timeBase: startTime - 10000},
		{numNodes: 144, timeBase: startTime + 1000},
		{numNodes: 144, timeBase: startTime + 2000, signalling: 110},
		{numNodes: 144, timeBase: startTime + 3000},
	})

	// Windows: DEFINED, STARTED, LOCKED_IN, and the deployment is ACTIVE
	// for every block from height 576 on.
	if state := b.thresholdState(tip, checker, cache); state != ThresholdActive {
		t.Fatalf("state: got %v, want %v", state, ThresholdActive)
	}
	if got := b.thresholdStateSinceHeight(tip, checker, cache); got != 576 {
		t.Fatalf("since height: got %d, want 576", got)
	}
}
