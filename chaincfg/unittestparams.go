// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import "math"

// UnitTestNetParams defines the network parameters for the unit test
// network.  It is derived from the main network parameters with the seeds
// removed, mine-on-demand behaviour enabled and short signalling windows so
// tests run in a reasonable amount of time.
var UnitTestNetParams = makeUnitTestNetParams()

func makeUnitTestNetParams() Params {
	p := MainNetParams
	p.Name = "unittest"
	p.DefaultPort = "31478"
	p.DNSSeeds = []DNSSeed{}

	p.MiningRequiresPeers = false
	p.DefaultConsistencyChecks = true
	p.AllowMinDifficultyBlocks = false
	p.DifficultyRetargeting = true
	p.MineBlocksOnDemand = true

	p.Deployments = [DefinedDeployments]ConsensusDeployment{
		DeploymentTestDummy: {
			BitNumber:  28,
			StartTime:  0,
			ExpireTime: math.MaxInt64,
			Period:     144,
			Threshold:  108,
		},
		DeploymentCSV: {
			BitNumber:  0,
			StartTime:  AlwaysActiveStartTime,
			ExpireTime: math.MaxInt64,
			Period:     144,
			Threshold:  108,
		},
	}

	return p
}

// ModifiableParams provides published setters that allow changing a small
// number of parameter values from unit test cases.
type ModifiableParams struct {
	params *Params
}

// Modifiable returns the modifiable view of the provided parameters.  It
// panics unless the parameters are the unit test network ones; setters must
// not be reachable for production networks.
func Modifiable(params *Params) *ModifiableParams {
	if params != &UnitTestNetParams {
		panic("chaincfg: modifiable parameters requested for network " +
			params.Name)
	}
	return &ModifiableParams{params: params}
}

// SetSubsidyHalvingInterval overrides the subsidy halving interval.
func (m *ModifiableParams) SetSubsidyHalvingInterval(interval int32) {
	m.params.SubsidyHalvingInterval = interval
}

// SetDefaultConsistencyChecks overrides whether expensive consistency checks
// run by default.
func (m *ModifiableParams) SetDefaultConsistencyChecks(enabled bool) {
	m.params.DefaultConsistencyChecks = enabled
}

// SetAllowMinDifficultyBlocks overrides whether blocks may drop to the
// minimum difficulty after the target spacing has long passed.
func (m *ModifiableParams) SetAllowMinDifficultyBlocks(allowed bool) {
	m.params.AllowMinDifficultyBlocks = allowed
}
