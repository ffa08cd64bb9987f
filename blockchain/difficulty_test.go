// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math/big"
	"testing"
	"time"

	"github.com/izzyproject/izzyd/chaincfg"
	"github.com/izzyproject/izzyd/wire"
)

// TestBigToCompact ensures BigToCompact converts big integers to the
// expected compact representation.
func TestBigToCompact(t *testing.T) {
	tests := []struct {
		in  int64
		out uint32
	}{
		{0, 0},
		{-1, 25231360},
		{1, 0x1010000},
		{65536, 0x3010000},
	}

	for x, test := range tests {
		n := big.NewInt(test.in)
		r := BigToCompact(n)
		if r != test.out {
			t.Errorf("TestBigToCompact test #%d failed: got %d "+
				"want %d", x, r, test.out)
			return
		}
	}
}

// TestCompactToBig ensures CompactToBig converts numbers using the compact
// representation to the expected big integers.
func TestCompactToBig(t *testing.T) {
	tests := []struct {
		in  uint32
		out int64
	}{
		{10000000, 0},
		{0x1010000, 1},
		{0x3010000, 65536},
	}

	for x, test := range tests {
		n := CompactToBig(test.in)
		want := big.NewInt(test.out)
		if n.Cmp(want) != 0 {
			t.Errorf("TestCompactToBig test #%d failed: got %d "+
				"want %d", x, n, want)
			return
		}
	}
}

// TestCompactRoundTrip ensures values survive a conversion to and from the
// compact representation.
func TestCompactRoundTrip(t *testing.T) {
	values := []uint32{0x1e0ffff0, 0x207fffff, 0x1d00ffff, 0x1b0404cb}
	for _, bits := range values {
		if got := BigToCompact(CompactToBig(bits)); got != bits {
			t.Errorf("compact round trip failed for %08x: got %08x",
				bits, got)
		}
	}
}

// TestCalcWork ensures CalcWork produces larger values for harder targets.
func TestCalcWork(t *testing.T) {
	easy := CalcWork(0x207fffff)
	hard := CalcWork(0x1e0ffff0)
	if hard.Cmp(easy) <= 0 {
		t.Fatalf("CalcWork: harder target must yield more work "+
			"(easy %v, hard %v)", easy, hard)
	}
	if CalcWork(0).Sign() != 0 {
		t.Fatalf("CalcWork(0) must be zero")
	}
}

// diffChainSetup returns a bare chain whose difficulty functions can be
// exercised against a synthetic chain of nodes with the provided spacing.
func diffChainSetup(params *chaincfg.Params, numNodes int, spacing time.Duration) (*BlockChain, *blockNode) {
	b := &BlockChain{chainParams: params}

	var tip *blockNode
	timestamp := time.Unix(1537971708, 0)
	for i := 0; i < numNodes; i++ {
		header := &wire.BlockHeader{
			Version:   vbTopBits,
			Timestamp: timestamp,
			Bits:      params.PowLimitBits,
			Nonce:     uint32(i),
		}
		if tip != nil {
			header.PrevBlock = tip.hash
		}
		tip = newBlockNode(header, tip)
		timestamp = timestamp.Add(spacing)
	}
	return b, tip
}

// TestCalcNextRequiredDifficultyNoRetargeting ensures networks without
// difficulty retargeting always require the proof of work limit.
func TestCalcNextRequiredDifficultyNoRetargeting(t *testing.T) {
	params := regTestParams()
	b, tip := diffChainSetup(params, 50, time.Minute)

	bits, err := b.calcNextRequiredDifficulty(tip,
		time.Unix(tip.timestamp+60, 0))
	if err != nil {
		t.Fatalf("calcNextRequiredDifficulty: unexpected error %v", err)
	}
	if bits != params.PowLimitBits {
		t.Fatalf("got %08x, want the proof of work limit %08x", bits,
			params.PowLimitBits)
	}
}

// TestCalcNextRequiredDifficultyClamp ensures a single retarget cannot
// adjust the difficulty by more than the adjustment factor in either
// direction.
func TestCalcNextRequiredDifficultyClamp(t *testing.T) {
	// The unit test parameters retarget with the main network schedule:
	// a window of TargetTimespan / TargetSpacing blocks.
	params := chaincfg.UnitTestNetParams
	params.AllowMinDifficultyBlocks = false
	blocksPerRetarget := int(params.TargetTimespan / params.TargetSpacing)

	// Blocks arriving instantly: the target must shrink, but by no more
	// than the adjustment factor.
	b, tip := diffChainSetup(&params, blocksPerRetarget, time.Second*0)
	if (tip.height+1)%int32(blocksPerRetarget) != 0 {
		t.Fatalf("test setup error: retarget height mismatch (tip %d, "+
			"window %d)", tip.height, blocksPerRetarget)
	}
	bits, err := b.calcNextRequiredDifficulty(tip,
		time.Unix(tip.timestamp+1, 0))
	if err != nil {
		t.Fatalf("calcNextRequiredDifficulty: unexpected error %v", err)
	}
	oldTarget := CompactToBig(params.PowLimitBits)
	wantTarget := new(big.Int).Div(oldTarget,
		big.NewInt(params.RetargetAdjustmentFactor))
	if CompactToBig(bits).Cmp(wantTarget) > 0 {
		t.Fatalf("fast blocks: target %064x exceeds clamped %064x",
			CompactToBig(bits), wantTarget)
	}

	// Blocks arriving very slowly: the target wants to grow but is capped
	// at the proof of work limit.
	b, tip = diffChainSetup(&params, blocksPerRetarget, time.Hour*24)
	bits, err = b.calcNextRequiredDifficulty(tip,
		time.Unix(tip.timestamp+60, 0))
	if err != nil {
		t.Fatalf("calcNextRequiredDifficulty: unexpected error %v", err)
	}
	if CompactToBig(bits).Cmp(params.PowLimit) > 0 {
		t.Fatalf("slow blocks: target %064x exceeds the proof of work "+
			"limit", CompactToBig(bits))
	}
}

// TestCalcNextRequiredDifficultyMidWindow ensures the difficulty carries
// over unchanged between retarget boundaries.
func TestCalcNextRequiredDifficultyMidWindow(t *testing.T) {
	params := chaincfg.UnitTestNetParams
	params.AllowMinDifficultyBlocks = false

	b, tip := diffChainSetup(&params, 5, time.Minute)
	bits, err := b.calcNextRequiredDifficulty(tip,
		time.Unix(tip.timestamp+60, 0))
	if err != nil {
		t.Fatalf("calcNextRequiredDifficulty: unexpected error %v", err)
	}
	if bits != tip.bits {
		t.Fatalf("mid-window difficulty changed: got %08x, want %08x",
			bits, tip.bits)
	}
}
