// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/izzyproject/izzyd/chaincfg"
	"github.com/izzyproject/izzyd/izzyutil"
)

const (
	// baseBlockSubsidy is the gross amount created by every block after
	// the premine, before the treasury and lottery accruals are carved
	// out and before any halvings apply.
	baseBlockSubsidy = 1250 * izzyutil.SatoshiPerCoin

	// treasurySharePercent is the percentage of the gross subsidy accrued
	// for the treasury during the proof-of-stake phase.
	treasurySharePercent = 16

	// lotterySharePercent is the percentage of the gross subsidy accrued
	// for the lottery pool during the proof-of-stake phase.
	lotterySharePercent = 4
)

// GrossBlockSubsidy returns the total amount of new coins a block at the
// provided height brings into existence, before the treasury and lottery
// accruals are deducted from the producer's share.  The premine block is the
// only block whose gross amount does not follow the halving schedule.
func GrossBlockSubsidy(params *chaincfg.Params, height int32) int64 {
	if height == 0 {
		return 0
	}
	if height == 1 {
		return params.PremineAmount
	}

	if params.SubsidyHalvingInterval == 0 {
		return baseBlockSubsidy
	}

	// The flat proof-of-work subsidy is not subject to halving; the
	// proof-of-stake schedule halves from the start of the chain.
	if height <= params.LastPoWBlock {
		return baseBlockSubsidy
	}
	return baseBlockSubsidy >> uint(height/params.SubsidyHalvingInterval)
}

// TreasuryPerBlock returns the treasury accrual carved out of the gross
// subsidy of a block at the provided height.
func TreasuryPerBlock(params *chaincfg.Params, height int32) int64 {
	if height <= params.LastPoWBlock {
		return 0
	}
	return GrossBlockSubsidy(params, height) * treasurySharePercent / 100
}

// LotteryPerBlock returns the lottery accrual carved out of the gross
// subsidy of a block at the provided height.
func LotteryPerBlock(params *chaincfg.Params, height int32) int64 {
	if height <= params.LastPoWBlock {
		return 0
	}
	return GrossBlockSubsidy(params, height) * lotterySharePercent / 100
}

// CalcBlockSubsidy returns the block producer's subsidy for the block at the
// provided height, i.e. the gross subsidy with the treasury and lottery
// accruals removed.
func CalcBlockSubsidy(params *chaincfg.Params, height int32) int64 {
	gross := GrossBlockSubsidy(params, height)
	if height <= params.LastPoWBlock {
		return gross
	}
	return gross - TreasuryPerBlock(params, height) -
		LotteryPerBlock(params, height)
}

// IsTreasuryBlock returns whether the block at the provided height pays the
// accumulated treasury pool.
func IsTreasuryBlock(params *chaincfg.Params, height int32) bool {
	if height < params.TreasuryPaymentsStartBlock {
		return false
	}
	return (height-params.TreasuryPaymentsStartBlock)%
		params.TreasuryPaymentsCycle == 0
}

// IsLotteryBlock returns whether the block at the provided height pays the
// accumulated lottery pool.
func IsLotteryBlock(params *chaincfg.Params, height int32) bool {
	if height < params.LotteryBlockStartBlock {
		return false
	}
	return (height-params.LotteryBlockStartBlock)%
		params.LotteryBlockCycle == 0
}

// IsMasternodePaymentBlock returns whether the block at the provided height
// owes a masternode collateral-tier payout.
func IsMasternodePaymentBlock(params *chaincfg.Params, height int32) bool {
	if height < params.MasternodePaymentStartBlock {
		return false
	}
	return (height-params.MasternodePaymentStartBlock)%
		params.MasternodePaymentCycle == 0
}

// TreasuryPayment returns the lump treasury payment due at the provided
// height, or 0 when the height is not a treasury block.  The lump is the
// per-block accrual at the paying height multiplied by the cycle length.
func TreasuryPayment(params *chaincfg.Params, height int32) int64 {
	if !IsTreasuryBlock(params, height) {
		return 0
	}
	return TreasuryPerBlock(params, height) *
		int64(params.TreasuryPaymentsCycle)
}

// LotteryPayment returns the lump lottery payment due at the provided
// height, or 0 when the height is not a lottery block.
func LotteryPayment(params *chaincfg.Params, height int32) int64 {
	if !IsLotteryBlock(params, height) {
		return 0
	}
	return LotteryPerBlock(params, height) * int64(params.LotteryBlockCycle)
}

// MasternodeTierForHeight returns the masternode tier whose payout is
// scheduled at the provided height.  Payout heights rotate through the tiers
// in collateral order.
func MasternodeTierForHeight(params *chaincfg.Params, height int32) chaincfg.MasternodeTier {
	cycleIndex := (height - params.MasternodePaymentStartBlock) /
		params.MasternodePaymentCycle
	return chaincfg.MasternodeTier(cycleIndex % int32(chaincfg.NumMasternodeTiers))
}

// MasternodePayment returns the masternode payout due at the provided
// height, or 0 when the height owes none.  The payout equals the collateral
// of the scheduled tier.
func MasternodePayment(params *chaincfg.Params, height int32) int64 {
	if !IsMasternodePaymentBlock(params, height) {
		return 0
	}
	return params.Collateral(MasternodeTierForHeight(params, height))
}

// ScheduledPayments returns the total of all mandatory split payments due at
// the provided height on top of the producer subsidy and fees.
func ScheduledPayments(params *chaincfg.Params, height int32) int64 {
	return TreasuryPayment(params, height) +
		LotteryPayment(params, height) +
		MasternodePayment(params, height)
}
