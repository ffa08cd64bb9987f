// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/izzyproject/izzyd/chaincfg"
	"github.com/izzyproject/izzyd/izzyutil"
	"github.com/izzyproject/izzyd/wire"
)

const (
	// MaxTimeOffsetSeconds is the maximum number of seconds a block time
	// is allowed to be ahead of the current time.
	MaxTimeOffsetSeconds = 2 * 60 * 60

	// MinCoinbaseScriptLen is the minimum length a coinbase script can
	// be.
	MinCoinbaseScriptLen = 2

	// MaxCoinbaseScriptLen is the maximum length a coinbase script can
	// be.
	MaxCoinbaseScriptLen = 100

	// medianTimeBlocks is the number of previous blocks which should be
	// used to calculate the median time used to validate block
	// timestamps.
	medianTimeBlocks = 11

	// LockTimeThreshold is the number below which a lock time is
	// interpreted to be a block number.  At the 15 second target spacing
	// of the main network, this allows blocks for about 237 years.
	LockTimeThreshold = 5e8
)

// IsFinalizedTransaction determines whether or not a transaction is
// finalized.
func IsFinalizedTransaction(tx *btcutil.Tx, blockHeight int32, blockTime time.Time) bool {
	msgTx := tx.MsgTx()

	// Lock time of zero means the transaction is finalized.
	lockTime := msgTx.LockTime
	if lockTime == 0 {
		return true
	}

	// The lock time field of a transaction is either a block height at
	// which the transaction is finalized or a timestamp depending on if
	// the value is before the LockTimeThreshold.  When it is
	// under the threshold it is a block height.
	var blockTimeOrHeight int64
	if lockTime < LockTimeThreshold {
		blockTimeOrHeight = int64(blockHeight)
	} else {
		blockTimeOrHeight = blockTime.Unix()
	}
	if int64(lockTime) < blockTimeOrHeight {
		return true
	}

	// At this point, the transaction's lock time hasn't occurred yet, but
	// the transaction might still be finalized if the sequence number for
	// all transaction inputs is maxed out.
	for _, txIn := range msgTx.TxIn {
		if txIn.Sequence != math.MaxUint32 {
			return false
		}
	}
	return true
}

// CheckTransactionSanity performs some preliminary checks on a transaction
// to ensure it is sane.  These checks are context free.
func CheckTransactionSanity(tx *btcutil.Tx, params *chaincfg.Params) error {
	// A transaction must have at least one input.
	msgTx := tx.MsgTx()
	if len(msgTx.TxIn) == 0 {
		return ruleError(ErrNoTxInputs, "transaction has no inputs")
	}

	// A transaction must have at least one output.
	if len(msgTx.TxOut) == 0 {
		return ruleError(ErrNoTxOutputs, "transaction has no outputs")
	}

	// A transaction must not exceed the maximum allowed block payload
	// when serialized.
	serializedTxSize := msgTx.SerializeSize()
	if serializedTxSize > wire.MaxBlockPayload {
		str := fmt.Sprintf("serialized transaction is too big - got "+
			"%d, max %d", serializedTxSize, wire.MaxBlockPayload)
		return ruleError(ErrTxTooBig, str)
	}

	// Ensure the transaction amounts are in range.  Each transaction
	// output must not be negative or more than the max allowed per
	// transaction.  Also, the total of all outputs must abide by the same
	// restrictions.  All amounts in a transaction are in a unit value
	// known as a satoshi.
	var totalSatoshi int64
	for _, txOut := range msgTx.TxOut {
		satoshi := txOut.Value
		if satoshi < 0 {
			str := fmt.Sprintf("transaction output has negative "+
				"value of %v", satoshi)
			return ruleError(ErrBadTxOutValue, str)
		}
		if satoshi > params.MaxMoneyOut {
			str := fmt.Sprintf("transaction output value of %v is "+
				"higher than max allowed value of %v", satoshi,
				params.MaxMoneyOut)
			return ruleError(ErrBadTxOutValue, str)
		}

		// Two's complement int64 overflow guarantees that any overflow
		// is detected and reported.
		totalSatoshi += satoshi
		if totalSatoshi < 0 {
			str := fmt.Sprintf("total value of all transaction "+
				"outputs exceeds max allowed value of %v",
				params.MaxMoneyOut)
			return ruleError(ErrBadTxOutValue, str)
		}
		if totalSatoshi > params.MaxMoneyOut {
			str := fmt.Sprintf("total value of all transaction "+
				"outputs is %v which is higher than max "+
				"allowed value of %v", totalSatoshi,
				params.MaxMoneyOut)
			return ruleError(ErrBadTxOutValue, str)
		}
	}

	// Check for duplicate transaction inputs.
	existingTxOut := make(map[wire.OutPoint]struct{})
	for _, txIn := range msgTx.TxIn {
		if _, exists := existingTxOut[txIn.PreviousOutPoint]; exists {
			return ruleError(ErrDuplicateTxInputs, "transaction "+
				"contains duplicate inputs")
		}
		existingTxOut[txIn.PreviousOutPoint] = struct{}{}
	}

	// Coinbase script length must be between min and max length.
	if IsCoinBase(tx) {
		slen := len(msgTx.TxIn[0].SignatureScript)
		if slen < MinCoinbaseScriptLen || slen > MaxCoinbaseScriptLen {
			str := fmt.Sprintf("coinbase transaction script length "+
				"of %d is out of range (min: %d, max: %d)",
				slen, MinCoinbaseScriptLen, MaxCoinbaseScriptLen)
			return ruleError(ErrBadCoinbaseScriptLen, str)
		}
	} else {
		// Previous transaction outputs referenced by the inputs to
		// this transaction must not be null.
		for _, txIn := range msgTx.TxIn {
			prevOut := &txIn.PreviousOutPoint
			if prevOut.Index == math.MaxUint32 && prevOut.Hash == zeroHash {
				return ruleError(ErrBadTxInput, "transaction "+
					"input refers to previous output that "+
					"is null")
			}
		}
	}

	return nil
}

// checkProofOfWork ensures the block header bits which indicate the target
// difficulty is in min/max range and that the block hash is less than the
// target difficulty as claimed.
//
// The flags modify the behavior of this function as follows:
//   - BFNoPoWCheck: The check to ensure the block hash is less than the
//     target difficulty is not performed.
func checkProofOfWork(header *wire.BlockHeader, params *chaincfg.Params, flags BehaviorFlags) error {
	// The target difficulty must be larger than zero.
	target := CompactToBig(header.Bits)
	if target.Sign() <= 0 {
		str := fmt.Sprintf("block target difficulty of %064x is too "+
			"low", target)
		return ruleError(ErrUnexpectedDifficulty, str)
	}

	// The target difficulty must be less than the maximum allowed.
	if target.Cmp(params.PowLimit) > 0 {
		str := fmt.Sprintf("block target difficulty of %064x is "+
			"higher than max of %064x", target, params.PowLimit)
		return ruleError(ErrUnexpectedDifficulty, str)
	}

	// The block hash must be less than the claimed target unless the flag
	// to avoid proof of work checks is set.
	if flags&BFNoPoWCheck != BFNoPoWCheck {
		hash := header.BlockHash()
		hashNum := HashToBig(&hash)
		if hashNum.Cmp(target) > 0 {
			str := fmt.Sprintf("block hash of %064x is higher than "+
				"expected max of %064x", hashNum, target)
			return ruleError(ErrHighHash, str)
		}
	}

	return nil
}

// CheckProofOfWork ensures the provided block hash satisfies the target
// difficulty encoded in bits, with the target bounded by the provided proof
// of work limit.  It is used both by header validation and when re-checking
// index entries on load.
func CheckProofOfWork(hash *chainhash.Hash, bits uint32, params *chaincfg.Params) error {
	target := CompactToBig(bits)
	if target.Sign() <= 0 || target.Cmp(params.PowLimit) > 0 {
		str := fmt.Sprintf("block target difficulty of %08x is out of "+
			"range", bits)
		return ruleError(ErrUnexpectedDifficulty, str)
	}
	if HashToBig(hash).Cmp(target) > 0 {
		str := fmt.Sprintf("block hash of %v is higher than the "+
			"target difficulty", hash)
		return ruleError(ErrHighHash, str)
	}
	return nil
}

// checkBlockHeaderSanity performs some preliminary checks on a block header
// to ensure it is sane before continuing with processing.  These checks are
// context free.
func checkBlockHeaderSanity(header *wire.BlockHeader, params *chaincfg.Params, timeSource MedianTimeSource, flags BehaviorFlags, proofOfStake bool) error {
	// Proof-of-stake blocks prove their right to extend the chain with a
	// stake kernel rather than a conforming header hash, so the header
	// hash check only applies to proof of work.
	if !proofOfStake {
		err := checkProofOfWork(header, params, flags)
		if err != nil {
			return err
		}
	}

	// A block timestamp must not have a greater precision than one
	// second.
	if !header.Timestamp.Equal(time.Unix(header.Timestamp.Unix(), 0)) {
		str := fmt.Sprintf("block timestamp of %v has a higher "+
			"precision than one second", header.Timestamp)
		return ruleError(ErrInvalidTime, str)
	}

	// Ensure the block time is not too far in the future.
	maxTimestamp := timeSource.AdjustedTime().Add(time.Second *
		MaxTimeOffsetSeconds)
	if header.Timestamp.After(maxTimestamp) {
		str := fmt.Sprintf("block timestamp of %v is too far in the "+
			"future", header.Timestamp)
		return ruleError(ErrTimeTooNew, str)
	}

	return nil
}

// CheckBlockSanity performs some preliminary checks on a block to ensure it
// is sane before continuing with block processing.  These checks are context
// free.
func CheckBlockSanity(block *izzyutil.Block, params *chaincfg.Params, timeSource MedianTimeSource) error {
	return checkBlockSanity(block, params, timeSource, BFNone)
}

// checkBlockSanity performs some preliminary checks on a block to ensure it
// is sane before continuing with block processing.  These checks are context
// free.
func checkBlockSanity(block *izzyutil.Block, params *chaincfg.Params, timeSource MedianTimeSource, flags BehaviorFlags) error {
	msgBlock := block.MsgBlock()
	header := &msgBlock.Header
	proofOfStake := IsProofOfStake(block)

	err := checkBlockHeaderSanity(header, params, timeSource, flags,
		proofOfStake)
	if err != nil {
		return err
	}

	// A block must have at least one transaction.
	numTx := len(msgBlock.Transactions)
	if numTx == 0 {
		return ruleError(ErrNoTransactions, "block does not contain "+
			"any transactions")
	}

	// A block must not exceed the maximum allowed block payload when
	// serialized.
	serializedSize := msgBlock.SerializeSize()
	if serializedSize > wire.MaxBlockPayload {
		str := fmt.Sprintf("serialized block is too big - got %d, "+
			"max %d", serializedSize, wire.MaxBlockPayload)
		return ruleError(ErrBlockTooBig, str)
	}

	// The first transaction in a block must be a coinbase.
	transactions := block.Transactions()
	if !IsCoinBase(transactions[0]) {
		return ruleError(ErrFirstTxNotCoinbase, "first transaction in "+
			"block is not the coinbase")
	}

	// A block must not have more than one coinbase.
	for i, tx := range transactions[1:] {
		if IsCoinBase(tx) {
			str := fmt.Sprintf("block contains second coinbase at "+
				"index %d", i+1)
			return ruleError(ErrMultipleCoinbases, str)
		}
	}

	// A proof-of-stake block must have an empty-output coinbase followed
	// by the coinstake, and the coinstake must not appear anywhere else.
	if proofOfStake {
		for _, txOut := range transactions[0].MsgTx().TxOut {
			if !isEmptyTxOut(txOut) {
				str := "coinbase of proof-of-stake block pays " +
					"a non-empty output"
				return ruleError(ErrBadStakeStructure, str)
			}
		}
		for i, tx := range transactions[2:] {
			if IsCoinStake(tx) {
				str := fmt.Sprintf("block contains extra "+
					"coinstake at index %d", i+2)
				return ruleError(ErrBadStakeStructure, str)
			}
		}
	}

	// Do some preliminary checks on each transaction to ensure they are
	// sane before continuing.
	for _, tx := range transactions {
		err := CheckTransactionSanity(tx, params)
		if err != nil {
			return err
		}
	}

	// Build merkle tree and ensure the calculated merkle root matches the
	// entry in the block header.  This also has the effect of caching all
	// of the transaction hashes in the block to speed up future hash
	// checks.
	calculatedMerkleRoot := CalcMerkleRoot(transactions)
	if !header.MerkleRoot.IsEqual(&calculatedMerkleRoot) {
		str := fmt.Sprintf("block merkle root is invalid - block "+
			"header indicates %v, but calculated value is %v",
			header.MerkleRoot, calculatedMerkleRoot)
		return ruleError(ErrBadMerkleRoot, str)
	}

	// Check for duplicate transactions.  This check will be fairly quick
	// since the transaction hashes are already cached due to building the
	// merkle tree above.
	existingTxHashes := make(map[chainhash.Hash]struct{})
	for _, tx := range transactions {
		hash := tx.Hash()
		if _, exists := existingTxHashes[*hash]; exists {
			str := fmt.Sprintf("block contains duplicate "+
				"transaction %v", hash)
			return ruleError(ErrDuplicateTx, str)
		}
		existingTxHashes[*hash] = struct{}{}
	}

	// The proof-of-stake block signature is verified here since it only
	// depends on the block contents.
	return CheckBlockSignature(block)
}

// ExtractCoinbaseHeight attempts to extract the height of the block from the
// scriptSig of a coinbase transaction.  Coinbase heights are only present in
// blocks from after the activation height defined by the chain parameters.
func ExtractCoinbaseHeight(coinbaseTx *btcutil.Tx) (int32, error) {
	sigScript := coinbaseTx.MsgTx().TxIn[0].SignatureScript
	if len(sigScript) < 1 {
		str := "the coinbase signature script must start with the " +
			"serialized block height"
		return 0, ruleError(ErrMissingCoinbaseHeight, str)
	}

	// Detect the case when the block height is a small integer encoded
	// with an opcode.
	opcode := int(sigScript[0])
	if opcode == txscript.OP_0 {
		return 0, nil
	}
	if opcode >= txscript.OP_1 && opcode <= txscript.OP_16 {
		return int32(opcode - (txscript.OP_1 - 1)), nil
	}

	// Otherwise, the opcode is the length of the following bytes which
	// encode in the block height.
	serializedLen := int(sigScript[0])
	if len(sigScript[1:]) < serializedLen || serializedLen > 8 {
		str := "the coinbase signature script must start with the " +
			"serialized block height"
		return 0, ruleError(ErrMissingCoinbaseHeight, str)
	}

	serializedHeightBytes := make([]byte, 8)
	copy(serializedHeightBytes, sigScript[1:serializedLen+1])
	serializedHeight := binary.LittleEndian.Uint64(serializedHeightBytes)

	return int32(serializedHeight), nil
}

// checkSerializedHeight checks if the signature script in the passed
// transaction starts with the serialized block height of wantHeight.
func checkSerializedHeight(coinbaseTx *btcutil.Tx, wantHeight int32) error {
	serializedHeight, err := ExtractCoinbaseHeight(coinbaseTx)
	if err != nil {
		return err
	}

	if serializedHeight != wantHeight {
		str := fmt.Sprintf("the coinbase signature script serialized "+
			"block height is %d when %d was expected",
			serializedHeight, wantHeight)
		return ruleError(ErrBadCoinbaseHeight, str)
	}
	return nil
}

// checkBlockHeaderContext performs several validation checks on the block
// header which depend on its position within the block chain.
//
// The flags modify the behavior of this function as follows:
//   - BFFastAdd: All checks except those involving comparing the header
//     against the checkpoints are not performed.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) checkBlockHeaderContext(header *wire.BlockHeader, prevNode *blockNode, flags BehaviorFlags) error {
	fastAdd := flags&BFFastAdd == BFFastAdd
	if !fastAdd {
		// Ensure the difficulty specified in the block header matches
		// the calculated difficulty based on the previous block and
		// difficulty retarget rules.
		expectedDifficulty, err := b.calcNextRequiredDifficulty(prevNode,
			header.Timestamp)
		if err != nil {
			return err
		}
		blockDifficulty := header.Bits
		if blockDifficulty != expectedDifficulty {
			str := fmt.Sprintf("block difficulty of %08x is not "+
				"the expected value of %08x", blockDifficulty,
				expectedDifficulty)
			return ruleError(ErrUnexpectedDifficulty, str)
		}

		// Ensure the timestamp for the block header is after the
		// median time of the last several blocks (medianTimeBlocks).
		medianTime := prevNode.CalcPastMedianTime()
		if !header.Timestamp.After(medianTime) {
			str := fmt.Sprintf("block timestamp of %v is not "+
				"after expected %v", header.Timestamp,
				medianTime)
			return ruleError(ErrTimeTooOld, str)
		}

		// Once the version bits scheme has been settled by the CSV
		// deployment becoming active, block versions must carry the
		// reserved top bits.
		csvState, err := b.deploymentState(prevNode, chaincfg.DeploymentCSV)
		if err != nil {
			return err
		}
		if csvState == ThresholdActive &&
			uint32(header.Version)&vbTopMask != vbTopBits {

			str := fmt.Sprintf("block version %08x does not "+
				"conform to the version bits scheme",
				header.Version)
			return ruleError(ErrBlockVersionTooOld, str)
		}
	}

	// The height of this block is one more than the referenced previous
	// block.
	blockHeight := prevNode.height + 1

	// Ensure chain matches up to predetermined checkpoints.
	blockHash := header.BlockHash()
	if !b.verifyCheckpoint(blockHeight, &blockHash) {
		str := fmt.Sprintf("block at height %d does not match "+
			"checkpoint hash", blockHeight)
		return ruleError(ErrBadCheckpoint, str)
	}

	// Find the previous checkpoint and prevent blocks which fork the main
	// chain before it.  This prevents storage of new, otherwise valid,
	// blocks which build off of old blocks that are likely at a much
	// easier difficulty and therefore could be used to waste cache and
	// disk space.
	checkpointNode, err := b.findPreviousCheckpoint()
	if err != nil {
		return err
	}
	if checkpointNode != nil && blockHeight < checkpointNode.height {
		str := fmt.Sprintf("block at height %d forks the main chain "+
			"before the previous checkpoint at height %d",
			blockHeight, checkpointNode.height)
		return ruleError(ErrForkTooOld, str)
	}

	return nil
}

// checkBlockContext performs several validation checks on the block which
// depend on its position within the block chain.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) checkBlockContext(block *izzyutil.Block, prevNode *blockNode, flags BehaviorFlags) error {
	// Perform all block header related validation checks.
	header := &block.MsgBlock().Header
	err := b.checkBlockHeaderContext(header, prevNode, flags)
	if err != nil {
		return err
	}

	fastAdd := flags&BFFastAdd == BFFastAdd
	if fastAdd {
		return nil
	}

	blockHeight := prevNode.height + 1

	// Blocks after the last proof-of-work height must be proof of stake,
	// and blocks before it proof of work.
	proofOfStake := IsProofOfStake(block)
	if blockHeight > b.chainParams.LastPoWBlock && !proofOfStake {
		str := fmt.Sprintf("block at height %d must be proof of stake",
			blockHeight)
		return ruleError(ErrBadStakeStructure, str)
	}
	if blockHeight <= b.chainParams.LastPoWBlock && proofOfStake {
		str := fmt.Sprintf("block at height %d must be proof of work",
			blockHeight)
		return ruleError(ErrBadStakeStructure, str)
	}

	// The BIP113 median-time-past rule applies once the CSV deployment is
	// active; otherwise the block timestamp is used for lock time
	// evaluation.
	blockTime := header.Timestamp
	csvState, err := b.deploymentState(prevNode, chaincfg.DeploymentCSV)
	if err != nil {
		return err
	}
	if csvState == ThresholdActive {
		blockTime = prevNode.CalcPastMedianTime()
	}

	// Ensure all transactions in the block are finalized.
	for _, tx := range block.Transactions() {
		if !IsFinalizedTransaction(tx, blockHeight, blockTime) {
			str := fmt.Sprintf("block contains unfinalized "+
				"transaction %v", tx.Hash())
			return ruleError(ErrUnfinalizedTx, str)
		}
	}

	// The coinbase for blocks past the activation height must start with
	// the serialized block height.
	if blockHeight >= b.chainParams.CoinbaseBlockHeightActivationHeight {
		coinbaseTx := block.Transactions()[0]
		err := checkSerializedHeight(coinbaseTx, blockHeight)
		if err != nil {
			return err
		}
	}

	// A proof-of-stake block must not reuse a stake that an accepted
	// block has already consumed.
	if proofOfStake {
		coinstake := block.MsgBlock().Transactions[1]
		key := stakeSeenKey{
			prevout:   coinstake.TxIn[0].PreviousOutPoint,
			stakeTime: uint32(header.Timestamp.Unix()),
		}
		if _, exists := b.stakeSeen[key]; exists {
			str := fmt.Sprintf("stake %v at time %d has already "+
				"been used", key.prevout, key.stakeTime)
			return ruleError(ErrDuplicateStake, str)
		}
	}

	// Enforce the scheduled treasury, lottery and masternode payouts and
	// the premine.
	return b.checkBlockPayments(block, blockHeight)
}

// blockPayoutOutputs returns the outputs of the block that carry its minted
// value: the coinbase outputs plus, for proof-of-stake blocks, the
// coinstake outputs.
func blockPayoutOutputs(block *izzyutil.Block) []*wire.TxOut {
	transactions := block.MsgBlock().Transactions
	outputs := transactions[0].TxOut
	if len(transactions) > 1 && IsCoinStakeTx(transactions[1]) {
		outputs = append(outputs[:len(outputs):len(outputs)],
			transactions[1].TxOut...)
	}
	return outputs
}

// hasPayoutOfValue returns whether any single output carries exactly the
// provided value.
func hasPayoutOfValue(outputs []*wire.TxOut, value int64) bool {
	for _, out := range outputs {
		if out.Value == value {
			return true
		}
	}
	return false
}

// checkBlockPayments enforces the payment schedule: the premine at its fixed
// height, the treasury and lottery lump payments at their cycle heights and
// the masternode collateral-tier payout at tier-eligible heights.
func (b *BlockChain) checkBlockPayments(block *izzyutil.Block, blockHeight int32) error {
	params := b.chainParams
	outputs := blockPayoutOutputs(block)

	// The premine is enforced only at its fixed height.
	if blockHeight == 1 {
		var total int64
		for _, out := range outputs {
			total += out.Value
		}
		if total != params.PremineAmount {
			str := fmt.Sprintf("premine block pays %d which is "+
				"not the premine amount of %d", total,
				params.PremineAmount)
			return ruleError(ErrBadPremine, str)
		}
		return nil
	}

	if amount := TreasuryPayment(params, blockHeight); amount > 0 {
		if !hasPayoutOfValue(outputs, amount) {
			str := fmt.Sprintf("block at height %d is missing the "+
				"treasury payment of %d", blockHeight, amount)
			return ruleError(ErrBadTreasuryPayment, str)
		}
	}

	if amount := LotteryPayment(params, blockHeight); amount > 0 {
		if !hasPayoutOfValue(outputs, amount) {
			str := fmt.Sprintf("block at height %d is missing the "+
				"lottery payment of %d", blockHeight, amount)
			return ruleError(ErrBadLotteryPayment, str)
		}
	}

	if amount := MasternodePayment(params, blockHeight); amount > 0 {
		if !hasPayoutOfValue(outputs, amount) {
			tier := MasternodeTierForHeight(params, blockHeight)
			str := fmt.Sprintf("block at height %d is missing the "+
				"%v masternode payment of %d", blockHeight,
				tier, amount)
			return ruleError(ErrBadMasternodePayment, str)
		}
	}

	return nil
}

// checkStakeContext validates the proof-of-stake claims of a block against
// the utxo view: the stake input must exist, satisfy the minimum coin age
// and depth, and the kernel hash derived from it must meet the stake target.
func (b *BlockChain) checkStakeContext(block *izzyutil.Block, node *blockNode, view *CoinsViewCache) error {
	coinstake := block.MsgBlock().Transactions[1]
	stakePrevOut := coinstake.TxIn[0].PreviousOutPoint

	stakeCoins, err := view.AccessCoins(&stakePrevOut.Hash)
	if err != nil {
		return err
	}
	if stakeCoins == nil || !stakeCoins.IsAvailable(stakePrevOut.Index) {
		str := fmt.Sprintf("stake input %v is missing or already "+
			"spent", stakePrevOut)
		return ruleError(ErrMissingTxOut, str)
	}

	// The block that created the stake must be deep and old enough.
	stakeNode := node.Ancestor(stakeCoins.Height)
	if stakeNode == nil {
		str := fmt.Sprintf("stake input %v comes from an unknown "+
			"block", stakePrevOut)
		return ruleError(ErrBadStakeKernel, str)
	}
	minAge := int64(b.chainParams.MinCoinAge / time.Second)
	if node.timestamp-stakeNode.timestamp < minAge {
		str := fmt.Sprintf("stake input %v is %d seconds old which "+
			"is less than the minimum coin age of %d",
			stakePrevOut, node.timestamp-stakeNode.timestamp,
			minAge)
		return ruleError(ErrStakeTooYoung, str)
	}
	if node.height-stakeCoins.Height < b.chainParams.MinStakeDepth {
		str := fmt.Sprintf("stake input %v has depth %d which is "+
			"less than the minimum stake depth of %d", stakePrevOut,
			node.height-stakeCoins.Height, b.chainParams.MinStakeDepth)
		return ruleError(ErrStakeTooYoung, str)
	}

	// The kernel hash must satisfy the stake target weighted by the value
	// of the consumed stake.
	stakeValue := stakeCoins.Out(stakePrevOut.Index).Value
	kernel := calcProofOfStakeHash(node.parent, node.stakeTime, stakePrevOut)
	if !checkStakeKernelHash(node.bits, stakeValue, &kernel) {
		str := fmt.Sprintf("proof-of-stake hash %v does not meet the "+
			"stake target", kernel)
		return ruleError(ErrBadStakeKernel, str)
	}

	return nil
}

// checkConnectBlock performs several checks to confirm connecting the passed
// block to the chain represented by the passed view does not violate any
// rules.  In addition, the passed view is updated to spend all of the
// referenced outputs and add all of the new utxos created by block.  Thus,
// the view will represent the state of the chain as if the block were
// actually connected and consequently the best hash for the view is also
// updated to passed block.
//
// An example of some of the checks performed are ensuring connecting the
// block would not cause any double spends, all referenced inputs exist,
// coinbases and coinstakes are spent only after maturity, and block payouts
// equal the expected subsidy, fees and scheduled payments.
//
// The spent txouts appended to stxos record everything the block spent in
// spend order; they are the undo data required to disconnect the block
// again.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) checkConnectBlock(node *blockNode, block *izzyutil.Block, view *CoinsViewCache, stxos *[]spentTxOut) error {
	// Side chain blocks are written to the block store only after
	// ProcessBlock has run checkBlockSanity on them, so the sanity checks
	// are not repeated here.

	// The coinbase for the genesis block is not spendable, so just return
	// an error now.
	if node.hash == *b.chainParams.GenesisHash {
		str := "the coinbase for the genesis block is not spendable"
		return ruleError(ErrMissingTxOut, str)
	}

	// Ensure the view is for the node being checked.
	parentHash := &block.MsgBlock().Header.PrevBlock
	viewBest, err := view.BestBlock()
	if err != nil {
		return err
	}
	if viewBest != *parentHash {
		return AssertError(fmt.Sprintf("inconsistent view when "+
			"checking block connection: best hash is %v instead "+
			"of expected %v", viewBest, parentHash))
	}

	// Transactions whose hash collides with unspent coins of an older
	// transaction would overwrite them and are rejected.
	for _, tx := range block.Transactions() {
		have, err := view.HaveCoins(tx.Hash())
		if err != nil {
			return err
		}
		if have {
			str := fmt.Sprintf("tried to overwrite transaction %v "+
				"that is not fully spent", tx.Hash())
			return ruleError(ErrDuplicateTx, str)
		}
	}

	proofOfStake := IsProofOfStake(block)
	if proofOfStake {
		if err := b.checkStakeContext(block, node, view); err != nil {
			return err
		}
	}

	transactions := block.Transactions()
	maturity := int32(b.chainParams.CoinbaseMaturity)
	var totalFees int64
	var mintedValue int64
	for txIdx, tx := range transactions {
		msgTx := tx.MsgTx()
		isCoinStakeTx := proofOfStake && txIdx == 1

		if IsCoinBase(tx) {
			for _, txOut := range msgTx.TxOut {
				mintedValue += txOut.Value
			}
			continue
		}

		var totalSatoshiIn int64
		for _, txIn := range msgTx.TxIn {
			prevOut := txIn.PreviousOutPoint
			coins, err := view.AccessCoins(&prevOut.Hash)
			if err != nil {
				return err
			}
			if coins == nil || !coins.IsAvailable(prevOut.Index) {
				str := fmt.Sprintf("output %v referenced from "+
					"transaction %s:%d either does not "+
					"exist or has already been spent",
					prevOut, tx.Hash(), txIdx)
				return ruleError(ErrMissingTxOut, str)
			}

			// Ensure the transaction is not spending coins which
			// have not yet reached the required coinbase maturity.
			if coins.CoinBase || coins.CoinStake {
				originHeight := coins.Height
				blocksSincePrev := node.height - originHeight
				if blocksSincePrev < maturity {
					str := fmt.Sprintf("tried to spend "+
						"%s output %v from height %v "+
						"at height %v before required "+
						"maturity of %v blocks",
						mintKind(coins), prevOut,
						originHeight, node.height,
						maturity)
					return ruleError(ErrImmatureSpend, str)
				}
			}

			originOut := coins.Out(prevOut.Index)
			totalSatoshiIn += originOut.Value
			if totalSatoshiIn > b.chainParams.MaxMoneyOut {
				str := fmt.Sprintf("total value of all "+
					"transaction inputs is %v which is "+
					"higher than max allowed value of %v",
					totalSatoshiIn, b.chainParams.MaxMoneyOut)
				return ruleError(ErrBadTxOutValue, str)
			}
		}

		var totalSatoshiOut int64
		for _, txOut := range msgTx.TxOut {
			totalSatoshiOut += txOut.Value
		}

		if isCoinStakeTx {
			// The coinstake re-emits its stake plus the block
			// reward, so its output total exceeding its input
			// total is the minted value.
			mintedValue += totalSatoshiOut - totalSatoshiIn
			continue
		}

		// Ensure the transaction does not spend more than its inputs.
		if totalSatoshiIn < totalSatoshiOut {
			str := fmt.Sprintf("total value of all transaction "+
				"inputs for transaction %v is %v which is "+
				"less than the amount spent of %v", tx.Hash(),
				totalSatoshiIn, totalSatoshiOut)
			return ruleError(ErrSpendTooHigh, str)
		}

		txFee := totalSatoshiIn - totalSatoshiOut
		totalFees += txFee
		if totalFees < 0 || totalFees > b.chainParams.MaxMoneyOut {
			return ruleError(ErrBadFees, "total fees for block "+
				"overflows accumulator")
		}
	}

	// The total minted value must equal the block subsidy plus the fees
	// plus every payment scheduled at this height.
	expectedMinted := CalcBlockSubsidy(b.chainParams, node.height) +
		totalFees + ScheduledPayments(b.chainParams, node.height)
	if node.height == 1 {
		expectedMinted = b.chainParams.PremineAmount + totalFees
	}
	if mintedValue != expectedMinted {
		str := fmt.Sprintf("block pays %v which is not the expected "+
			"value of %v (subsidy + fees + scheduled payments)",
			mintedValue, expectedMinted)
		return ruleError(ErrBadCoinbaseValue, str)
	}

	// Enforce all relative and absolute script checks using the script
	// validation worker pool.  This is intentionally done last since it
	// is the most expensive check.
	runScripts := b.sigCache != nil
	if runScripts {
		err := checkBlockScripts(block, view, txscript.ScriptBip16,
			b.sigCache)
		if err != nil {
			return err
		}
	}

	// Connect the transactions: spend all of the referenced utxos, add
	// the newly created ones and move the best hash of the view forward.
	err = view.connectTransactions(block, stxos)
	if err != nil {
		return err
	}

	// Record the minted amount and running money supply on the node so
	// the supply invariant can be audited from the index alone.
	node.mint = mintedValue - totalFees
	if node.parent != nil {
		node.moneySupply = node.parent.moneySupply + node.mint
	} else {
		node.moneySupply = node.mint
	}

	return nil
}

// mintKind returns a human readable word for the kind of minting
// transaction the coins came from.
func mintKind(coins *Coins) string {
	if coins.CoinStake {
		return "coinstake"
	}
	return "coinbase"
}

// connectTransactions updates the view by spending all of the inputs of the
// block's transactions, adding all of their created outputs, and moving the
// best hash of the view to the connected block.  When the stxos argument is
// not nil, an entry is appended for each spent output in spend order.
func (view *CoinsViewCache) connectTransactions(block *izzyutil.Block, stxos *[]spentTxOut) error {
	for _, tx := range block.Transactions() {
		err := view.connectTransaction(tx, block.Height(), stxos)
		if err != nil {
			return err
		}
	}

	blockHash := block.Hash()
	view.SetBestBlock(blockHash)
	return nil
}

// connectTransaction spends the referenced utxos of the passed transaction
// and adds its outputs as new utxos.
func (view *CoinsViewCache) connectTransaction(tx *btcutil.Tx, blockHeight int32, stxos *[]spentTxOut) error {
	// Coinbase transactions only add outputs.
	if !IsCoinBase(tx) {
		for _, txIn := range tx.MsgTx().TxIn {
			prevOut := txIn.PreviousOutPoint
			coins, err := view.ModifyCoins(&prevOut.Hash)
			if err != nil {
				return err
			}
			if coins == nil || !coins.IsAvailable(prevOut.Index) {
				return AssertError(fmt.Sprintf("view missing "+
					"input %v", prevOut))
			}

			if stxos != nil {
				out := coins.Out(prevOut.Index)
				stxo := spentTxOut{
					amount:   out.Value,
					pkScript: out.PkScript,
					version:  coins.Version,
				}
				coins.Spend(prevOut.Index)
				if coins.IsPruned() {
					stxo.height = coins.Height
					stxo.coinBase = coins.CoinBase
					stxo.coinStake = coins.CoinStake
				}
				*stxos = append(*stxos, stxo)
			} else {
				coins.Spend(prevOut.Index)
			}
		}
	}

	// Add the transaction's outputs as available utxos.
	return view.SetCoins(tx.Hash(), NewCoinsFromTx(tx, blockHeight))
}

// disconnectTransactions updates the view by removing all of the
// transactions created by the passed block, restoring all utxos the
// transactions spent by using the provided spent txo information, and
// setting the best hash for the view to the block before the passed block.
func (view *CoinsViewCache) disconnectTransactions(block *izzyutil.Block, stxos []spentTxOut) error {
	// Sanity check the correct number of stxos are provided.
	if len(stxos) != countSpentOutputs(block.MsgBlock().Transactions) {
		return AssertError("disconnectTransactions called with bad " +
			"spent transaction out information")
	}

	// Loop backwards through all transactions so everything is unspent in
	// reverse order.  This is necessary since transactions later in a
	// block can spend from previous ones.
	stxoIdx := len(stxos) - 1
	transactions := block.Transactions()
	for txIdx := len(transactions) - 1; txIdx > -1; txIdx-- {
		tx := transactions[txIdx]

		// Remove the outputs the transaction created.  Marking every
		// output spent prunes the entry, which translates into a
		// deletion when the change reaches the backing store.
		coins, err := view.ModifyCoins(tx.Hash())
		if err != nil {
			return err
		}
		if coins != nil {
			coins.Outputs = nil
		}

		// Loop backwards through all of the transaction inputs
		// (except for the coinbase which has no inputs) and unspend
		// the referenced txos.  This is necessary to match the order
		// of the spent txout entries.
		if IsCoinBase(tx) {
			continue
		}
		for txInIdx := len(tx.MsgTx().TxIn) - 1; txInIdx > -1; txInIdx-- {
			stxo := &stxos[stxoIdx]
			stxoIdx--

			txIn := tx.MsgTx().TxIn[txInIdx]
			originHash := &txIn.PreviousOutPoint.Hash
			originIndex := txIn.PreviousOutPoint.Index
			coins, err := view.ModifyCoins(originHash)
			if err != nil {
				return err
			}
			if coins == nil {
				// The entry was fully spent; resurrect it
				// using the metadata recorded with its final
				// spend.
				resurrected := &Coins{
					Version:   stxo.version,
					CoinBase:  stxo.coinBase,
					CoinStake: stxo.coinStake,
					Height:    stxo.height,
				}
				err := view.SetCoins(originHash, resurrected)
				if err != nil {
					return err
				}
				coins, err = view.ModifyCoins(originHash)
				if err != nil {
					return err
				}
			}

			for uint32(len(coins.Outputs)) <= originIndex {
				coins.Outputs = append(coins.Outputs, nil)
			}
			coins.Outputs[originIndex] = &wire.TxOut{
				Value:    stxo.amount,
				PkScript: stxo.pkScript,
			}
		}
	}

	// Update the best hash for view to the previous block since all of
	// the transactions for the current block have been disconnected.
	view.SetBestBlock(&block.MsgBlock().Header.PrevBlock)
	return nil
}
