// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/izzyproject/izzyd/chaincfg"
)

const (
	// vbTopBits defines the bits to set in the version to signal that the
	// version bits scheme is being used.
	vbTopBits = 0x20000000

	// vbTopMask is the bitmask to use to determine whether or not the
	// version bits scheme is in use.
	vbTopMask = 0xe0000000

	// vbNumBits is the total number of bits available for use with the
	// version bits scheme.
	vbNumBits = 29
)

// deploymentChecker provides a thresholdConditionChecker which can be used
// to test a specific deployment rule.  This is required for properly
// detecting and activating consensus rule changes.
type deploymentChecker struct {
	deployment *chaincfg.ConsensusDeployment
}

// Ensure the deploymentChecker type implements the
// thresholdConditionChecker interface.
var _ thresholdConditionChecker = deploymentChecker{}

// BeginTime returns the unix timestamp for the median block time after which
// voting on a rule change starts (at the next window).
//
// This implementation simply returns the value defined by the specific
// deployment the checker is associated with.
//
// This is part of the thresholdConditionChecker interface implementation.
func (c deploymentChecker) BeginTime() int64 {
	return c.deployment.StartTime
}

// EndTime returns the unix timestamp for the median block time after which
// an attempted rule change fails if it has not already been locked in or
// activated.
//
// This is part of the thresholdConditionChecker interface implementation.
func (c deploymentChecker) EndTime() int64 {
	return c.deployment.ExpireTime
}

// Period returns the number of blocks in each threshold state retarget
// window.
//
// This is part of the thresholdConditionChecker interface implementation.
func (c deploymentChecker) Period() int32 {
	return c.deployment.Period
}

// Threshold returns the number of blocks for which the condition must be
// true in order to lock in a rule change.
//
// This is part of the thresholdConditionChecker interface implementation.
func (c deploymentChecker) Threshold() int32 {
	return c.deployment.Threshold
}

// Mask returns the version bit the deployment signals on.
func (c deploymentChecker) Mask() uint32 {
	return uint32(1) << c.deployment.BitNumber
}

// Condition returns whether the provided block signals support for the
// deployment: the top bits of the version carry the reserved pattern and
// the deployment's bit is set.
//
// This is part of the thresholdConditionChecker interface implementation.
func (c deploymentChecker) Condition(node *blockNode) bool {
	version := uint32(node.version)
	return (version&vbTopMask == vbTopBits) && (version&c.Mask() != 0)
}

// deploymentState returns the current rule change threshold for a given
// deployment ID.  The threshold is evaluated from the point of view of the
// block node passed in as the first argument to this method.
//
// It is important to note that, as the variable name indicates, this
// function expects the block node prior to the block for which the
// deployment state is desired.  In other words, the returned deployment
// state is for the block AFTER the passed node.
func (b *BlockChain) deploymentState(prevNode *blockNode, deploymentID uint32) (ThresholdState, error) {
	if deploymentID >= uint32(len(b.chainParams.Deployments)) {
		return ThresholdFailed, DeploymentError(deploymentID)
	}

	deployment := &b.chainParams.Deployments[deploymentID]
	checker := deploymentChecker{deployment: deployment}

	b.vbLock.Lock()
	state := b.thresholdState(prevNode, checker, &b.deploymentCaches[deploymentID])
	b.vbLock.Unlock()
	return state, nil
}

// ThresholdState returns the current rule change threshold state of the
// given deployment ID for the block AFTER the end of the current best chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) ThresholdState(deploymentID uint32) (ThresholdState, error) {
	b.chainLock.RLock()
	state, err := b.deploymentState(b.bestChain.Tip(), deploymentID)
	b.chainLock.RUnlock()

	return state, err
}

// IsDeploymentActive returns true if the target deploymentID is active, and
// false otherwise.
//
// This function is safe for concurrent access.
func (b *BlockChain) IsDeploymentActive(deploymentID uint32) (bool, error) {
	state, err := b.ThresholdState(deploymentID)
	if err != nil {
		return false, err
	}

	return state == ThresholdActive, nil
}

// DeploymentStats returns the signalling statistics of the given deployment
// for the window containing the current best tip.
//
// This function is safe for concurrent access.
func (b *BlockChain) DeploymentStats(deploymentID uint32) (ThresholdStats, error) {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()

	if deploymentID >= uint32(len(b.chainParams.Deployments)) {
		return ThresholdStats{}, DeploymentError(deploymentID)
	}

	deployment := &b.chainParams.Deployments[deploymentID]
	checker := deploymentChecker{deployment: deployment}
	return thresholdStateStats(b.bestChain.Tip(), checker), nil
}

// DeploymentStateSinceHeight returns the height at which the current state
// of the given deployment for the block after the current best tip first
// began.
//
// This function is safe for concurrent access.
func (b *BlockChain) DeploymentStateSinceHeight(deploymentID uint32) (int32, error) {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()

	if deploymentID >= uint32(len(b.chainParams.Deployments)) {
		return 0, DeploymentError(deploymentID)
	}

	deployment := &b.chainParams.Deployments[deploymentID]
	checker := deploymentChecker{deployment: deployment}

	b.vbLock.Lock()
	height := b.thresholdStateSinceHeight(b.bestChain.Tip(), checker,
		&b.deploymentCaches[deploymentID])
	b.vbLock.Unlock()
	return height, nil
}

// DeploymentError identifies an error that indicates a deployment ID was
// specified that does not exist.
type DeploymentError uint32

// Error returns the assertion error as a human-readable string and satisfies
// the error interface.
func (e DeploymentError) Error() string {
	return fmt.Sprintf("deployment ID %d does not exist", uint32(e))
}

// calcNextBlockVersion calculates the expected version of the block after
// the passed previous block node based on the state of started and locked in
// rule change deployments.
//
// This function differs from the exported CalcNextBlockVersion in that the
// exported version uses the current best chain as the previous block node
// while this function accepts any block node.
func (b *BlockChain) calcNextBlockVersion(prevNode *blockNode) (int32, error) {
	// Set the appropriate bits for each actively defined rule deployment
	// that is either in the process of being voted on, or locked in for
	// the activation at the next threshold window change.
	expectedVersion := uint32(vbTopBits)
	for id := 0; id < len(b.chainParams.Deployments); id++ {
		deployment := &b.chainParams.Deployments[id]
		state, err := b.deploymentState(prevNode, uint32(id))
		if err != nil {
			return 0, err
		}
		if state == ThresholdStarted || state == ThresholdLockedIn {
			expectedVersion |= uint32(1) << deployment.BitNumber
		}
	}
	return int32(expectedVersion), nil
}

// CalcNextBlockVersion calculates the expected version of the block after
// the end of the current best chain based on the state of started and locked
// in rule change deployments.
//
// This function is safe for concurrent access.
func (b *BlockChain) CalcNextBlockVersion() (int32, error) {
	b.chainLock.RLock()
	version, err := b.calcNextBlockVersion(b.bestChain.Tip())
	b.chainLock.RUnlock()
	return version, err
}
