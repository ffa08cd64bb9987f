// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
)

// AssertError identifies an error that indicates an internal code
// consistency issue and should be treated as a critical and unrecoverable
// error.
type AssertError string

// Error returns the assertion error as a human-readable string and satisfies
// the error interface.
func (e AssertError) Error() string {
	return "assertion failed: " + string(e)
}

// FatalError identifies a local, non-consensus failure such as a database
// write error.  It never marks a block invalid.  Failures reported through
// abortNode also set the shutdown flag; no state is flushed on that path.
type FatalError string

// Error satisfies the error interface and prints human-readable errors.
func (e FatalError) Error() string {
	return string(e)
}

// fatalError wraps the underlying error text into a FatalError.
func fatalError(format string, args ...interface{}) FatalError {
	return FatalError(fmt.Sprintf(format, args...))
}

// IsFatalErr returns whether err is a FatalError.
func IsFatalErr(err error) bool {
	_, ok := err.(FatalError)
	return ok
}

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific RuleError.
const (
	// ErrDuplicateBlock indicates a block with the same hash already
	// exists.
	ErrDuplicateBlock ErrorCode = iota

	// ErrMissingParent indicates the previous block referenced by a block
	// is not known.  This is a transient condition: the block may become
	// valid once its parent arrives.
	ErrMissingParent

	// ErrMissingTxOut indicates a transaction references an output that
	// does not exist in the utxo set.  Like ErrMissingParent this is
	// transient from the caller's point of view.
	ErrMissingTxOut

	// ErrBlockTooBig indicates the serialized block size exceeds the
	// maximum allowed size.
	ErrBlockTooBig

	// ErrNoTransactions indicates the block does not have at least one
	// transaction.  A valid block must have at least the coinbase.
	ErrNoTransactions

	// ErrInvalidTime indicates the time in the passed block has a
	// precision that is more than one second.
	ErrInvalidTime

	// ErrTimeTooOld indicates the time is either before the median time
	// of the last several blocks per the chain consensus rules or prior
	// to the most recent checkpoint.
	ErrTimeTooOld

	// ErrTimeTooNew indicates the time is too far in the future as
	// compared to the current time.
	ErrTimeTooNew

	// ErrBlockVersionTooOld indicates the block version does not conform
	// to the scheme required by the active deployments.
	ErrBlockVersionTooOld

	// ErrDifficultyTooLow indicates the difficulty for the block is lower
	// than the difficulty required by the most recent checkpoint.
	ErrDifficultyTooLow

	// ErrUnexpectedDifficulty indicates specified bits do not align with
	// the expected value either because it doesn't match the calculated
	// value based on difficulty retarget rules or it is out of the valid
	// range.
	ErrUnexpectedDifficulty

	// ErrHighHash indicates the block does not hash to a value which is
	// lower than the required target difficulty.
	ErrHighHash

	// ErrBadMerkleRoot indicates the calculated merkle root does not
	// match the expected value.
	ErrBadMerkleRoot

	// ErrBadCheckpoint indicates a block that is expected to be at a
	// checkpoint height does not match the expected one.
	ErrBadCheckpoint

	// ErrForkTooOld indicates a block is attempting to fork the block
	// chain before the most recent checkpoint.
	ErrForkTooOld

	// ErrInvalidAncestorBlock indicates an ancestor of this block has
	// already failed validation.
	ErrInvalidAncestorBlock

	// ErrNoTxInputs indicates a transaction does not have any inputs.
	ErrNoTxInputs

	// ErrNoTxOutputs indicates a transaction does not have any outputs.
	ErrNoTxOutputs

	// ErrTxTooBig indicates a transaction exceeds the maximum allowed
	// size when serialized.
	ErrTxTooBig

	// ErrBadTxOutValue indicates an output value for a transaction is
	// invalid in some way such as being out of range.
	ErrBadTxOutValue

	// ErrDuplicateTxInputs indicates a transaction references the same
	// input more than once.
	ErrDuplicateTxInputs

	// ErrBadTxInput indicates a transaction input is invalid in some way
	// such as referencing a previous transaction outpoint which is out of
	// range or not referencing one at all.
	ErrBadTxInput

	// ErrDoubleSpend indicates a transaction tried to spend coins that
	// have already been spent.
	ErrDoubleSpend

	// ErrImmatureSpend indicates a transaction is attempting to spend a
	// coinbase or coinstake that has not yet reached the required
	// maturity.
	ErrImmatureSpend

	// ErrSpendTooHigh indicates a transaction is attempting to spend more
	// value than the sum of all of its inputs.
	ErrSpendTooHigh

	// ErrBadFees indicates the total fees for a block are invalid due to
	// exceeding the maximum possible value.
	ErrBadFees

	// ErrUnfinalizedTx indicates a transaction has not been finalized.
	ErrUnfinalizedTx

	// ErrDuplicateTx indicates a block contains an identical transaction
	// to a previous transaction that has not been fully spent.
	ErrDuplicateTx

	// ErrFirstTxNotCoinbase indicates the first transaction in a block is
	// not a coinbase transaction.
	ErrFirstTxNotCoinbase

	// ErrMultipleCoinbases indicates a block contains more than one
	// coinbase transaction.
	ErrMultipleCoinbases

	// ErrBadCoinbaseScriptLen indicates the length of the signature
	// script for a coinbase transaction is not within the valid range.
	ErrBadCoinbaseScriptLen

	// ErrBadCoinbaseValue indicates the amount of a coinbase value does
	// not match the expected value of the subsidy plus the sum of all
	// fees and scheduled payments.
	ErrBadCoinbaseValue

	// ErrMissingCoinbaseHeight indicates the coinbase transaction for a
	// block does not start with the serialized block height as required
	// once the rule is active.
	ErrMissingCoinbaseHeight

	// ErrBadCoinbaseHeight indicates the serialized block height in the
	// coinbase transaction signature script does not match the expected
	// height.
	ErrBadCoinbaseHeight

	// ErrScriptMalformed indicates a transaction script is malformed in
	// some way.
	ErrScriptMalformed

	// ErrScriptValidation indicates the result of executing a transaction
	// script failed.
	ErrScriptValidation

	// ErrBadStakeStructure indicates a proof-of-stake block does not have
	// an empty coinbase followed by a coinstake as its first two
	// transactions.
	ErrBadStakeStructure

	// ErrBadStakeKernel indicates the proof-of-stake hash for the block
	// does not meet the required stake target.
	ErrBadStakeKernel

	// ErrStakeTooYoung indicates the stake input of a proof-of-stake
	// block does not satisfy the minimum coin age.
	ErrStakeTooYoung

	// ErrDuplicateStake indicates the (outpoint, stake time) pair of a
	// proof-of-stake block has already been used by an accepted block.
	ErrDuplicateStake

	// ErrBadBlockSignature indicates the signature appended to a
	// proof-of-stake block does not verify against the staking key.
	ErrBadBlockSignature

	// ErrBadTreasuryPayment indicates a block at a treasury cycle height
	// does not pay the scheduled treasury amount.
	ErrBadTreasuryPayment

	// ErrBadLotteryPayment indicates a block at a lottery cycle height
	// does not pay the scheduled lottery amount.
	ErrBadLotteryPayment

	// ErrBadMasternodePayment indicates a block at a masternode payout
	// height does not pay the collateral of the scheduled tier.
	ErrBadMasternodePayment

	// ErrBadPremine indicates the block at the premine height does not
	// create exactly the premine amount.
	ErrBadPremine
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDuplicateBlock:        "ErrDuplicateBlock",
	ErrMissingParent:         "ErrMissingParent",
	ErrMissingTxOut:          "ErrMissingTxOut",
	ErrBlockTooBig:           "ErrBlockTooBig",
	ErrNoTransactions:        "ErrNoTransactions",
	ErrInvalidTime:           "ErrInvalidTime",
	ErrTimeTooOld:            "ErrTimeTooOld",
	ErrTimeTooNew:            "ErrTimeTooNew",
	ErrBlockVersionTooOld:    "ErrBlockVersionTooOld",
	ErrDifficultyTooLow:      "ErrDifficultyTooLow",
	ErrUnexpectedDifficulty:  "ErrUnexpectedDifficulty",
	ErrHighHash:              "ErrHighHash",
	ErrBadMerkleRoot:         "ErrBadMerkleRoot",
	ErrBadCheckpoint:         "ErrBadCheckpoint",
	ErrForkTooOld:            "ErrForkTooOld",
	ErrInvalidAncestorBlock:  "ErrInvalidAncestorBlock",
	ErrNoTxInputs:            "ErrNoTxInputs",
	ErrNoTxOutputs:           "ErrNoTxOutputs",
	ErrTxTooBig:              "ErrTxTooBig",
	ErrBadTxOutValue:         "ErrBadTxOutValue",
	ErrDuplicateTxInputs:     "ErrDuplicateTxInputs",
	ErrBadTxInput:            "ErrBadTxInput",
	ErrDoubleSpend:           "ErrDoubleSpend",
	ErrImmatureSpend:         "ErrImmatureSpend",
	ErrSpendTooHigh:          "ErrSpendTooHigh",
	ErrBadFees:               "ErrBadFees",
	ErrUnfinalizedTx:         "ErrUnfinalizedTx",
	ErrDuplicateTx:           "ErrDuplicateTx",
	ErrFirstTxNotCoinbase:    "ErrFirstTxNotCoinbase",
	ErrMultipleCoinbases:     "ErrMultipleCoinbases",
	ErrBadCoinbaseScriptLen:  "ErrBadCoinbaseScriptLen",
	ErrBadCoinbaseValue:      "ErrBadCoinbaseValue",
	ErrMissingCoinbaseHeight: "ErrMissingCoinbaseHeight",
	ErrBadCoinbaseHeight:     "ErrBadCoinbaseHeight",
	ErrScriptMalformed:       "ErrScriptMalformed",
	ErrScriptValidation:      "ErrScriptValidation",
	ErrBadStakeStructure:     "ErrBadStakeStructure",
	ErrBadStakeKernel:        "ErrBadStakeKernel",
	ErrStakeTooYoung:         "ErrStakeTooYoung",
	ErrDuplicateStake:        "ErrDuplicateStake",
	ErrBadBlockSignature:     "ErrBadBlockSignature",
	ErrBadTreasuryPayment:    "ErrBadTreasuryPayment",
	ErrBadLotteryPayment:     "ErrBadLotteryPayment",
	ErrBadMasternodePayment:  "ErrBadMasternodePayment",
	ErrBadPremine:            "ErrBadPremine",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError identifies a rule violation.  It is used to indicate that
// processing of a block or transaction failed due to one of the many
// validation rules.  The caller can use type assertions to determine if a
// failure was specifically due to a rule violation and access the ErrorCode
// field to ascertain the specific reason for the rule violation.
type RuleError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human-readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc}
}

// transientErrorCodes is the set of rule errors which do not prove the block
// permanently invalid: the same block could become valid later once the
// missing data arrives.  ProcessBlock does not add blocks failing with these
// codes to its rejected-blocks cache.  connectTip still marks a block failed
// in the index when its inputs are missing, since all of its ancestors are
// connected at that point.
var transientErrorCodes = map[ErrorCode]struct{}{
	ErrMissingParent: {},
	ErrMissingTxOut:  {},
}

// IsTransient returns whether err is a rule error whose condition could
// resolve itself later, such as a missing parent block.
func IsTransient(err error) bool {
	rerr, ok := err.(RuleError)
	if !ok {
		return false
	}
	_, transient := transientErrorCodes[rerr.ErrorCode]
	return transient
}

// IsRuleError returns whether err is a RuleError.
func IsRuleError(err error) bool {
	_, ok := err.(RuleError)
	return ok
}
