// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"testing"
	"time"

	"github.com/izzyproject/izzyd/wire"
)

// buildNodeChain creates a linear chain of the provided length with one
// minute spacing and returns every node.
func buildNodeChain(t *testing.T, numNodes int) []*blockNode {
	t.Helper()

	nodes := make([]*blockNode, 0, numNodes)
	var parent *blockNode
	timestamp := time.Unix(1537971708, 0)
	for i := 0; i < numNodes; i++ {
		header := &wire.BlockHeader{
			Version:   1,
			Timestamp: timestamp,
			Bits:      0x207fffff,
			Nonce:     uint32(i),
		}
		if parent != nil {
			header.PrevBlock = parent.hash
		}
		node := newBlockNode(header, parent)
		nodes = append(nodes, node)
		parent = node
		timestamp = timestamp.Add(time.Minute)
	}
	return nodes
}

// TestAncestorSkipList ensures the skip-pointer ancestor lookup agrees with
// a plain parent walk for every (node, height) combination of a moderately
// sized chain.
func TestAncestorSkipList(t *testing.T) {
	nodes := buildNodeChain(t, 500)

	linearAncestor := func(node *blockNode, height int32) *blockNode {
		n := node
		for n != nil && n.height != height {
			n = n.parent
		}
		return n
	}

	tip := nodes[len(nodes)-1]
	for height := int32(-1); height <= tip.height+1; height++ {
		want := linearAncestor(tip, height)
		if height < 0 || height > tip.height {
			want = nil
		}
		if got := tip.Ancestor(height); got != want {
			t.Fatalf("Ancestor(%d): got %v, want %v", height, got,
				want)
		}
	}

	// Spot check interior nodes as well.
	for _, idx := range []int{1, 7, 63, 64, 65, 255, 256, 499} {
		node := nodes[idx]
		for _, height := range []int32{0, 1, node.height / 2, node.height} {
			if got := node.Ancestor(height); got != nodes[height] {
				t.Fatalf("Ancestor(%d) of node %d: got %v, "+
					"want %v", height, idx, got, nodes[height])
			}
		}
	}
}

// TestSkipHeight ensures the skip heights follow the documented power of two
// schedule.
func TestSkipHeight(t *testing.T) {
	tests := []struct {
		height int32
		want   int32
	}{
		{0, 0},
		{1, 0},
		{2, 0},
		{3, 1},
		{4, 0},
		{5, 1},
		{8, 0},
		{9, 1},
		{100, 36},
		{1000, 488},
	}
	for _, test := range tests {
		if got := skipHeight(test.height); got != test.want {
			t.Errorf("skipHeight(%d): got %d, want %d", test.height,
				got, test.want)
		}
	}
}

// TestCalcPastMedianTime ensures the median of the previous eleven block
// timestamps is computed per the consensus rules.
func TestCalcPastMedianTime(t *testing.T) {
	nodes := buildNodeChain(t, 50)

	// With one minute spacing, the median of the 11 blocks ending at
	// height h is the timestamp at height h-5.
	tip := nodes[len(nodes)-1]
	want := time.Unix(nodes[tip.height-5].timestamp, 0)
	if got := tip.CalcPastMedianTime(); !got.Equal(want) {
		t.Fatalf("CalcPastMedianTime: got %v, want %v", got, want)
	}

	// Near the beginning of the chain the median uses however many blocks
	// exist.
	if got := nodes[0].CalcPastMedianTime(); !got.Equal(time.Unix(nodes[0].timestamp, 0)) {
		t.Fatalf("CalcPastMedianTime(genesis): got %v, want %v", got,
			time.Unix(nodes[0].timestamp, 0))
	}
}

// TestBlockIndexStatusFlags exercises concurrent-safe status manipulation
// through the block index.
func TestBlockIndexStatusFlags(t *testing.T) {
	params := regTestParams()
	index := newBlockIndex(params)
	nodes := buildNodeChain(t, 3)
	for _, node := range nodes {
		index.AddNode(node)
	}

	node := nodes[1]
	if index.NodeStatus(node) != statusNone {
		t.Fatalf("fresh node should have no status flags")
	}

	index.SetStatusFlags(node, statusDataStored|statusHeaderValid)
	status := index.NodeStatus(node)
	if !status.HaveData() || !status.HeaderValid() {
		t.Fatalf("expected data stored and header valid, got %v", status)
	}
	if status.KnownValid() || status.KnownInvalid() {
		t.Fatalf("unexpected validity flags: %v", status)
	}

	index.SetStatusFlags(node, statusValidateFailed)
	if !index.NodeStatus(node).KnownInvalid() {
		t.Fatalf("expected known invalid after validate failed")
	}

	index.UnsetStatusFlags(node, statusValidateFailed)
	if index.NodeStatus(node).KnownInvalid() {
		t.Fatalf("expected valid again after clearing failure flag")
	}

	if !index.HaveBlock(&node.hash) {
		t.Fatalf("index does not have added block %v", node.hash)
	}
	if index.LookupNode(&nodes[2].hash) != nodes[2] {
		t.Fatalf("lookup returned wrong node")
	}
}
