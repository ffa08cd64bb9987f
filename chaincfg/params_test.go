// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TestGenesisMerkleRoots ensures the hard-coded genesis merkle roots match
// the hash of the genesis coinbase transactions.
func TestGenesisMerkleRoots(t *testing.T) {
	tests := []struct {
		name   string
		params *Params
	}{
		{"mainnet", &MainNetParams},
		{"betanet", &BetaNetParams},
		{"testnet", &TestNetParams},
		{"regtest", &RegressionNetParams},
		{"unittest", &UnitTestNetParams},
	}

	for _, test := range tests {
		genesis := test.params.GenesisBlock
		if len(genesis.Transactions) != 1 {
			t.Errorf("%s: genesis block must contain exactly the "+
				"coinbase", test.name)
			continue
		}
		// With a single transaction the merkle root is simply its
		// hash.
		merkleRoot := genesis.Transactions[0].TxHash()
		if merkleRoot != genesis.Header.MerkleRoot {
			t.Errorf("%s: computed merkle root %v does not match "+
				"the header value %v", test.name, merkleRoot,
				genesis.Header.MerkleRoot)
		}
	}
}

// TestGenesisHashes ensures the genesis blocks hash to the asserted
// constants.  A mismatch here means consensus-critical serialization or the
// block hash function changed.
func TestGenesisHashes(t *testing.T) {
	tests := []struct {
		name   string
		params *Params
	}{
		{"mainnet", &MainNetParams},
		{"betanet", &BetaNetParams},
		{"testnet", &TestNetParams},
		{"regtest", &RegressionNetParams},
		{"unittest", &UnitTestNetParams},
	}

	for _, test := range tests {
		hash := test.params.GenesisBlock.BlockHash()
		if hash != *test.params.GenesisHash {
			t.Errorf("%s: genesis hash %v does not match asserted "+
				"%v", test.name, hash, test.params.GenesisHash)
		}
	}
}

// TestGenesisHashConstants spot checks the published genesis constants so a
// typo in the tables cannot go unnoticed.
func TestGenesisHashConstants(t *testing.T) {
	mainHash, _ := chainhash.NewHashFromStr("000005ef45294f1265a15badef10d014c9b69c074d02a67dd93f8d6e87b80e07")
	if *MainNetParams.GenesisHash != *mainHash {
		t.Errorf("mainnet genesis constant mismatch: %v",
			MainNetParams.GenesisHash)
	}
	mainMerkle, _ := chainhash.NewHashFromStr("4ee5d3d6c524152ea90feb8d14a815befe2870fc933b95995f1de0a802a7cc21")
	if MainNetParams.GenesisBlock.Header.MerkleRoot != *mainMerkle {
		t.Errorf("mainnet genesis merkle constant mismatch: %v",
			MainNetParams.GenesisBlock.Header.MerkleRoot)
	}
}

// TestNetworkMagics ensures the network magics are unique except for the
// unit test network, which deliberately shares the main network magic.
func TestNetworkMagics(t *testing.T) {
	if UnitTestNetParams.Net != MainNetParams.Net {
		t.Errorf("unit test network must share the main network magic")
	}

	magics := map[Net]string{}
	for _, params := range []*Params{&MainNetParams, &BetaNetParams,
		&TestNetParams, &RegressionNetParams} {
		if existing, ok := magics[params.Net]; ok {
			t.Errorf("networks %s and %s share magic %08x",
				existing, params.Name, uint32(params.Net))
		}
		magics[params.Net] = params.Name
	}
}

// TestModifiableParams ensures the test-only setters apply to the unit test
// network and panic for every other network.
func TestModifiableParams(t *testing.T) {
	modifiable := Modifiable(&UnitTestNetParams)

	original := UnitTestNetParams.SubsidyHalvingInterval
	modifiable.SetSubsidyHalvingInterval(77)
	if UnitTestNetParams.SubsidyHalvingInterval != 77 {
		t.Errorf("setter did not apply")
	}
	modifiable.SetSubsidyHalvingInterval(original)

	modifiable.SetDefaultConsistencyChecks(false)
	if UnitTestNetParams.DefaultConsistencyChecks {
		t.Errorf("consistency check setter did not apply")
	}
	modifiable.SetDefaultConsistencyChecks(true)

	modifiable.SetAllowMinDifficultyBlocks(true)
	if !UnitTestNetParams.AllowMinDifficultyBlocks {
		t.Errorf("min difficulty setter did not apply")
	}
	modifiable.SetAllowMinDifficultyBlocks(false)

	defer func() {
		if recover() == nil {
			t.Errorf("Modifiable must panic for the main network")
		}
	}()
	Modifiable(&MainNetParams)
}

// TestMasternodeTierStrings ensures the tier names render for diagnostics.
func TestMasternodeTierStrings(t *testing.T) {
	want := []string{"COPPER", "SILVER", "GOLD", "PLATINUM", "DIAMOND"}
	for i, name := range want {
		if got := MasternodeTier(i).String(); got != name {
			t.Errorf("tier %d: got %s, want %s", i, got, name)
		}
	}
	if got := MasternodeTier(99).String(); got != "UNKNOWN" {
		t.Errorf("unknown tier: got %s", got)
	}
}
