// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/izzyproject/izzyd/wire"
)

// Net represents which izzy network a message belongs to.  The value is the
// network message magic serialized on the wire.
type Net uint32

// Constants used to indicate the message izzy network.  Note that the
// unit test network deliberately reuses the main network magic; networks are
// therefore identified by their Params.Name, not by their magic alone.
const (
	// MainNet represents the main izzy network.
	MainNet Net = 0x461e1c2b

	// BetaNet represents the beta network that was run while the chain
	// was stood up.  It shared the main network identifier in the
	// original deployment but answers to its own magic and genesis.
	BetaNet Net = 0x8a8da0df

	// TestNet represents the test network.
	TestNet Net = 0x788da0df

	// RegressionNet represents the regression test network.
	RegressionNet Net = 0xac7ecfa1
)

// coin is the number of base units in one coin.
const coin = int64(100000000)

var (
	// bigOne is 1 represented as a big.Int.  It is defined here to avoid
	// the overhead of creating it multiple times.
	bigOne = big.NewInt(1)

	// mainPowLimit is the highest proof of work value an izzy block can
	// have for the main network.  It is the value 2^236 - 1, i.e. a
	// starting difficulty of 1 / 2^12.
	mainPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 236), bigOne)

	// regressionPowLimit is the highest proof of work value an izzy block
	// can have for the regression test network.  It is the value
	// 2^255 - 1.
	regressionPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 255), bigOne)
)

// Checkpoint identifies a known good point in the block chain.  Using
// checkpoints allows a few optimizations for old blocks during initial
// download and also prevents forks from old blocks.
type Checkpoint struct {
	Height int32
	Hash   *chainhash.Hash
}

// CheckpointData bundles the checkpoint table for a network with statistics
// about the last checkpoint that are used to estimate whether the node is
// still in initial block download.
type CheckpointData struct {
	// Checkpoints ordered from oldest to newest.
	Checkpoints []Checkpoint

	// TimeLastCheckpoint is the UNIX timestamp of the last checkpoint
	// block.
	TimeLastCheckpoint int64

	// TransactionsLastCheckpoint is the total number of transactions
	// between the genesis block and the last checkpoint.
	TransactionsLastCheckpoint int64

	// TransactionsPerDay is the estimated number of transactions per day
	// after the last checkpoint.
	TransactionsPerDay float64
}

// DNSSeed identifies a DNS seed.
type DNSSeed struct {
	// Host defines the hostname of the seed.
	Host string

	// HasFiltering defines whether the seed supports filtering by service
	// flags.
	HasFiltering bool
}

// String returns the hostname of the DNS seed in human-readable form.
func (d DNSSeed) String() string {
	return d.Host
}

// MasternodeTier identifies one of the masternode collateral tiers.
type MasternodeTier int

// The masternode tiers in increasing collateral order.
const (
	MasternodeTierCopper MasternodeTier = iota
	MasternodeTierSilver
	MasternodeTierGold
	MasternodeTierPlatinum
	MasternodeTierDiamond

	// NumMasternodeTiers is the number of defined tiers.
	NumMasternodeTiers
)

// masternodeTierStrings is a map of tiers back to their constant name for
// pretty printing.
var masternodeTierStrings = map[MasternodeTier]string{
	MasternodeTierCopper:   "COPPER",
	MasternodeTierSilver:   "SILVER",
	MasternodeTierGold:     "GOLD",
	MasternodeTierPlatinum: "PLATINUM",
	MasternodeTierDiamond:  "DIAMOND",
}

// String returns the masternode tier as a human-readable name.
func (t MasternodeTier) String() string {
	if s, ok := masternodeTierStrings[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// mainMasternodeCollaterals is the tier to collateral mapping for the main
// network (and the networks that inherit from it).
var mainMasternodeCollaterals = map[MasternodeTier]int64{
	MasternodeTierCopper:   1000000 * coin,
	MasternodeTierSilver:   3000000 * coin,
	MasternodeTierGold:     10000000 * coin,
	MasternodeTierPlatinum: 30000000 * coin,
	MasternodeTierDiamond:  100000000 * coin,
}

// regTestMasternodeCollaterals is the tier to collateral mapping for the
// regression test network.  Collaterals are significantly cheaper so tests
// can fund masternodes without mining hundreds of blocks.
var regTestMasternodeCollaterals = map[MasternodeTier]int64{
	MasternodeTierCopper:   100 * coin,
	MasternodeTierSilver:   300 * coin,
	MasternodeTierGold:     1000 * coin,
	MasternodeTierPlatinum: 3000 * coin,
	MasternodeTierDiamond:  10000 * coin,
}

// AlwaysActiveStartTime is a sentinel deployment start time which indicates
// the deployment skips the signalling process and is active from genesis.
const AlwaysActiveStartTime = int64(-1)

// ConsensusDeployment defines details related to a specific consensus rule
// change that is voted in through version-bits signalling.
type ConsensusDeployment struct {
	// BitNumber defines the specific bit number within the block version
	// the miners use to signal support for the rule change.
	BitNumber uint8

	// StartTime is the median block time after which voting on the
	// deployment starts, or AlwaysActiveStartTime.
	StartTime int64

	// ExpireTime is the median block time after which an attempted
	// deployment fails if it has not locked in.
	ExpireTime int64

	// Period is the number of blocks in each signalling window.
	Period int32

	// Threshold is the number of signalling blocks within a window
	// required to lock the deployment in.
	Threshold int32
}

// Constants that define the deployment offset in the deployments field of
// the parameters for each deployment.
const (
	// DeploymentTestDummy defines the rule change deployment ID for
	// testing purposes.
	DeploymentTestDummy = iota

	// DeploymentCSV defines the rule change deployment ID for the CSV
	// soft-fork package (BIP68, BIP112 and the BIP113 median-past lock
	// time rule).
	DeploymentCSV

	// DefinedDeployments is the number of currently defined deployments.
	DefinedDeployments
)

// Params defines an izzy network by its parameters.  These parameters may be
// used by izzy applications to differentiate networks as well as addresses
// and keys for one network from those intended for use on another network.
type Params struct {
	// Name defines a human-readable identifier for the network.  Unlike
	// the network magic it is unique across all supported networks.
	Name string

	// Net defines the magic bytes used to identify the network.
	Net Net

	// DefaultPort defines the default peer-to-peer port for the network.
	DefaultPort string

	// DNSSeeds defines a list of DNS seeds for the network that are used
	// as one method to discover peers.
	DNSSeeds []DNSSeed

	// GenesisBlock defines the first block of the chain.
	GenesisBlock *wire.MsgBlock

	// GenesisHash is the starting block hash.
	GenesisHash *chainhash.Hash

	// PowLimit defines the highest allowed proof of work value for a
	// block as a uint256.
	PowLimit *big.Int

	// PowLimitBits defines the highest allowed proof of work value for a
	// block in compact form.
	PowLimitBits uint32

	// PremineAmount is the amount created by the coinbase of the block at
	// height one.
	PremineAmount int64

	// MaxMoneyOut is the maximum amount of coins that may exist.
	MaxMoneyOut int64

	// SubsidyHalvingInterval is the interval, in blocks, at which the
	// proof-of-stake block subsidy halves.
	SubsidyHalvingInterval int32

	// MaxReorganizationDepth is the deepest reorganization the node will
	// accept.
	MaxReorganizationDepth int32

	// CoinbaseMaturity is the number of blocks required before newly
	// minted coins (coinbase or coinstake) can be spent.
	CoinbaseMaturity uint16

	// TargetTimespan and TargetSpacing define the desired retarget window
	// and block interval during the proof-of-work phase.
	TargetTimespan time.Duration
	TargetSpacing  time.Duration

	// TargetTimespanPoS and TargetSpacingPoS define the desired retarget
	// window and block interval once the chain is pure proof-of-stake.
	TargetTimespanPoS time.Duration
	TargetSpacingPoS  time.Duration

	// RetargetAdjustmentFactor is the clamp applied to a single
	// difficulty retarget.
	RetargetAdjustmentFactor int64

	// LastPoWBlock is the final block height mined by proof of work; all
	// later blocks must be proof of stake.
	LastPoWBlock int32

	// MinCoinAge is the minimum age of a stake input before it may be
	// used in a proof-of-stake block.
	MinCoinAge time.Duration

	// MinStakeDepth is the minimum confirmation depth of a stake input.
	MinStakeDepth int32

	// LotteryBlockStartBlock and LotteryBlockCycle define the lottery
	// payment schedule: starting at the start block, every cycle-th block
	// pays out the accumulated lottery pool.
	LotteryBlockStartBlock int32
	LotteryBlockCycle      int32

	// TreasuryPaymentsStartBlock and TreasuryPaymentsCycle define the
	// treasury payment schedule.
	TreasuryPaymentsStartBlock int32
	TreasuryPaymentsCycle      int32

	// MasternodePaymentStartBlock and MasternodePaymentCycle define the
	// heights at which masternode collateral-tier payouts are due.
	MasternodePaymentStartBlock int32
	MasternodePaymentCycle      int32

	// MasternodeCollaterals maps each tier to its collateral, which is
	// also the payout amount enforced on tier payout heights.
	MasternodeCollaterals map[MasternodeTier]int64

	// MasternodeCountDrift is the tolerated difference in masternode
	// counts between peers.
	MasternodeCountDrift int

	// These fields are behaviour flags for the network.
	MiningRequiresPeers       bool
	AllowMinDifficultyBlocks  bool
	DefaultConsistencyChecks  bool
	DifficultyRetargeting     bool
	MineBlocksOnDemand        bool
	HeadersFirstSyncingActive bool

	// CheckpointData holds the checkpoint table and last-checkpoint
	// statistics.
	CheckpointData CheckpointData

	// Deployments define the specific consensus rule changes to be voted
	// on.
	Deployments [DefinedDeployments]ConsensusDeployment

	// CoinbaseBlockHeightActivationHeight is the height starting at which
	// the coinbase signature script must begin with the serialized block
	// height.
	CoinbaseBlockHeightActivationHeight int32

	// Address encoding magics.
	PubKeyHashAddrID byte // First byte of a P2PKH address
	ScriptHashAddrID byte // First byte of a P2SH address
	PrivateKeyID     byte // First byte of a WIF private key

	// BIP32 hierarchical deterministic extended key magics.
	HDPrivateKeyID [4]byte
	HDPublicKeyID  [4]byte

	// BIP44 coin type used in the hierarchical deterministic path for
	// address generation.
	HDCoinType uint32
}

// Collateral returns the collateral (and scheduled payout) for the provided
// masternode tier, or 0 for an unknown tier.
func (p *Params) Collateral(tier MasternodeTier) int64 {
	return p.MasternodeCollaterals[tier]
}

// MainNetParams defines the network parameters for the main izzy network.
var MainNetParams = Params{
	Name:        "mainnet",
	Net:         MainNet,
	DefaultPort: "31472",
	DNSSeeds: []DNSSeed{
		{"seeds1.izzyproject.org", false},
		{"149.28.151.245", false},
		{"45.77.252.245", false},
		{"207.148.76.164", false},
		{"139.180.129.56", false},
	},

	GenesisBlock: &genesisBlock,
	GenesisHash:  genesisHash,
	PowLimit:     mainPowLimit,
	PowLimitBits: 0x1e0ffff0,

	PremineAmount:          2000000000 * coin,
	MaxMoneyOut:            2534320700 * coin,
	SubsidyHalvingInterval: 60 * 24 * 365,
	MaxReorganizationDepth: 100,
	CoinbaseMaturity:       20,

	TargetTimespan:           time.Minute * 10,
	TargetSpacing:            time.Second * 15,
	TargetTimespanPoS:        time.Minute * 40,
	TargetSpacingPoS:         time.Second * 15,
	RetargetAdjustmentFactor: 4,

	LastPoWBlock:  1000,
	MinCoinAge:    time.Minute,
	MinStakeDepth: 20,

	LotteryBlockStartBlock:      1001,
	LotteryBlockCycle:           60 * 24 * 7,
	TreasuryPaymentsStartBlock:  1001,
	TreasuryPaymentsCycle:       60*24*7 + 1,
	MasternodePaymentStartBlock: 1001,
	MasternodePaymentCycle:      25,
	MasternodeCollaterals:       mainMasternodeCollaterals,
	MasternodeCountDrift:        20,

	MiningRequiresPeers:       false,
	AllowMinDifficultyBlocks:  false,
	DefaultConsistencyChecks:  false,
	DifficultyRetargeting:     true,
	MineBlocksOnDemand:        false,
	HeadersFirstSyncingActive: false,

	CheckpointData: CheckpointData{
		Checkpoints: []Checkpoint{
			{0, genesisHash},
		},
		TimeLastCheckpoint:         1538069980,
		TransactionsLastCheckpoint: 100,
		TransactionsPerDay:         2000,
	},

	Deployments: [DefinedDeployments]ConsensusDeployment{
		DeploymentTestDummy: {
			BitNumber:  28,
			StartTime:  1199145601, // January 1, 2008 UTC
			ExpireTime: 1230767999, // December 31, 2008 UTC
			Period:     2016,
			Threshold:  1916,
		},
		DeploymentCSV: {
			BitNumber:  0,
			StartTime:  1621007898, // Genesis time
			ExpireTime: math.MaxInt64,
			Period:     2016,
			Threshold:  1916,
		},
	},

	CoinbaseBlockHeightActivationHeight: 1,

	PubKeyHashAddrID: 43,
	ScriptHashAddrID: 48,
	PrivateKeyID:     63,
	HDPrivateKeyID:   [4]byte{0x02, 0x21, 0x31, 0x2b},
	HDPublicKeyID:    [4]byte{0x02, 0x2d, 0x25, 0x33},
	HDCoinType:       301,
}

// BetaNetParams defines the network parameters for the beta izzy network.
// It reused the main network identifier while the chain was being stood up
// but answers to its own magic and genesis block.
var BetaNetParams = Params{
	Name:        "betanet",
	Net:         BetaNet,
	DefaultPort: "31472",
	DNSSeeds:    []DNSSeed{},

	GenesisBlock: &betaNetGenesisBlock,
	GenesisHash:  betaNetGenesisHash,
	PowLimit:     mainPowLimit,
	PowLimitBits: 0x1e0ffff0,

	PremineAmount:          2534320700,
	MaxMoneyOut:            2535000000 * coin,
	SubsidyHalvingInterval: 1000,
	MaxReorganizationDepth: 100,
	CoinbaseMaturity:       1,

	TargetTimespan:           time.Minute,
	TargetSpacing:            time.Minute,
	TargetTimespanPoS:        time.Minute * 40,
	TargetSpacingPoS:         time.Second * 15,
	RetargetAdjustmentFactor: 4,

	LastPoWBlock:  56700,
	MinCoinAge:    time.Minute,
	MinStakeDepth: 20,

	LotteryBlockStartBlock:      100,
	LotteryBlockCycle:           60 * 24 * 7,
	TreasuryPaymentsStartBlock:  100,
	TreasuryPaymentsCycle:       50,
	MasternodePaymentStartBlock: 100,
	MasternodePaymentCycle:      25,
	MasternodeCollaterals:       mainMasternodeCollaterals,
	MasternodeCountDrift:        20,

	MiningRequiresPeers:       true,
	AllowMinDifficultyBlocks:  false,
	DefaultConsistencyChecks:  false,
	DifficultyRetargeting:     true,
	MineBlocksOnDemand:        false,
	HeadersFirstSyncingActive: false,

	CheckpointData: CheckpointData{
		Checkpoints: []Checkpoint{
			{0, betaNetGenesisHash},
		},
		TimeLastCheckpoint:         1537971708,
		TransactionsLastCheckpoint: 0,
		TransactionsPerDay:         250,
	},

	Deployments: [DefinedDeployments]ConsensusDeployment{
		DeploymentTestDummy: {
			BitNumber:  28,
			StartTime:  1199145601,
			ExpireTime: 1230767999,
			Period:     2016,
			Threshold:  1916,
		},
		DeploymentCSV: {
			BitNumber:  0,
			StartTime:  1537971708,
			ExpireTime: math.MaxInt64,
			Period:     2016,
			Threshold:  1916,
		},
	},

	CoinbaseBlockHeightActivationHeight: 1,

	PubKeyHashAddrID: 30,
	ScriptHashAddrID: 13,
	PrivateKeyID:     212,
	HDPrivateKeyID:   [4]byte{0x02, 0x21, 0x31, 0x2b},
	HDPublicKeyID:    [4]byte{0x02, 0x2d, 0x25, 0x33},
	HDCoinType:       1,
}

// TestNetParams defines the network parameters for the test izzy network.
var TestNetParams = Params{
	Name:        "testnet",
	Net:         TestNet,
	DefaultPort: "31474",
	DNSSeeds: []DNSSeed{
		{"autoseeds.tiviseed.izzyproject.org", false},
	},

	GenesisBlock: &testNetGenesisBlock,
	GenesisHash:  testNetGenesisHash,
	PowLimit:     mainPowLimit,
	PowLimitBits: 0x1e0ffff0,

	PremineAmount:          617222416 * coin,
	MaxMoneyOut:            2535000000 * coin,
	SubsidyHalvingInterval: 1000,
	MaxReorganizationDepth: 100,
	CoinbaseMaturity:       1,

	TargetTimespan:           time.Minute,
	TargetSpacing:            time.Minute,
	TargetTimespanPoS:        time.Minute * 40,
	TargetSpacingPoS:         time.Second * 15,
	RetargetAdjustmentFactor: 4,

	LastPoWBlock:  100,
	MinCoinAge:    time.Minute,
	MinStakeDepth: 20,

	LotteryBlockStartBlock:      101,
	LotteryBlockCycle:           200,
	TreasuryPaymentsStartBlock:  102,
	TreasuryPaymentsCycle:       201,
	MasternodePaymentStartBlock: 101,
	MasternodePaymentCycle:      25,
	MasternodeCollaterals:       mainMasternodeCollaterals,
	MasternodeCountDrift:        20,

	MiningRequiresPeers:       true,
	AllowMinDifficultyBlocks:  true,
	DefaultConsistencyChecks:  false,
	DifficultyRetargeting:     true,
	MineBlocksOnDemand:        false,
	HeadersFirstSyncingActive: false,

	CheckpointData: CheckpointData{
		Checkpoints: []Checkpoint{
			{0, testNetGenesisHash},
		},
		TimeLastCheckpoint:         1537971708,
		TransactionsLastCheckpoint: 0,
		TransactionsPerDay:         250,
	},

	Deployments: [DefinedDeployments]ConsensusDeployment{
		DeploymentTestDummy: {
			BitNumber:  28,
			StartTime:  1199145601,
			ExpireTime: 1230767999,
			Period:     2016,
			Threshold:  1512,
		},
		DeploymentCSV: {
			BitNumber:  0,
			StartTime:  1591798387,
			ExpireTime: math.MaxInt64,
			Period:     2016,
			Threshold:  1512,
		},
	},

	CoinbaseBlockHeightActivationHeight: 1,

	PubKeyHashAddrID: 139,
	ScriptHashAddrID: 19,
	PrivateKeyID:     239,
	HDPrivateKeyID:   [4]byte{0x3a, 0x80, 0x58, 0x37},
	HDPublicKeyID:    [4]byte{0x3a, 0x80, 0x61, 0xa0},
	HDCoinType:       1,
}

// RegressionNetParams defines the network parameters for the regression test
// izzy network.  Not to be confused with the test network, this network is
// sometimes simply called "regtest".
var RegressionNetParams = Params{
	Name:        "regtest",
	Net:         RegressionNet,
	DefaultPort: "31476",
	DNSSeeds:    []DNSSeed{},

	GenesisBlock: &regTestGenesisBlock,
	GenesisHash:  regTestGenesisHash,
	PowLimit:     regressionPowLimit,
	PowLimitBits: 0x207fffff,

	// There is no special premine on regtest; it is easiest to keep the
	// generated coins predictable in tests.
	PremineAmount:          1250 * coin,
	MaxMoneyOut:            2535000000 * coin,
	SubsidyHalvingInterval: 100,
	MaxReorganizationDepth: 100,
	CoinbaseMaturity:       20,

	TargetTimespan:           time.Hour * 24,
	TargetSpacing:            time.Minute,
	TargetTimespanPoS:        time.Minute * 40,
	TargetSpacingPoS:         time.Second * 15,
	RetargetAdjustmentFactor: 4,

	LastPoWBlock: 100,

	// No minimum coin age on regtest so proof-of-stake blocks can be
	// generated on demand without mocktime games.
	MinCoinAge:    0,
	MinStakeDepth: 0,

	LotteryBlockStartBlock:      101,
	LotteryBlockCycle:           10,
	TreasuryPaymentsStartBlock:  102,
	TreasuryPaymentsCycle:       50,
	MasternodePaymentStartBlock: 101,
	MasternodePaymentCycle:      10,
	MasternodeCollaterals:       regTestMasternodeCollaterals,
	MasternodeCountDrift:        20,

	MiningRequiresPeers:       false,
	AllowMinDifficultyBlocks:  true,
	DefaultConsistencyChecks:  true,
	DifficultyRetargeting:     false,
	MineBlocksOnDemand:        true,
	HeadersFirstSyncingActive: false,

	CheckpointData: CheckpointData{
		Checkpoints: []Checkpoint{
			{0, regTestGenesisHash},
		},
		TimeLastCheckpoint:         1518723178,
		TransactionsLastCheckpoint: 0,
		TransactionsPerDay:         100,
	},

	Deployments: [DefinedDeployments]ConsensusDeployment{
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
	},

	CoinbaseBlockHeightActivationHeight: 1,

	PubKeyHashAddrID: 139,
	ScriptHashAddrID: 19,
	PrivateKeyID:     239,
	HDPrivateKeyID:   [4]byte{0x3a, 0x80, 0x58, 0x37},
	HDPublicKeyID:    [4]byte{0x3a, 0x80, 0x61, 0xa0},
	HDCoinType:       1,
}

// newHashFromStr converts the passed big-endian hex string into a
// chainhash.Hash.  It only differs from the one available in chainhash in
// that it panics on an error since it will only (and must only) be called
// with hard-coded, and therefore known good, hashes.
func newHashFromStr(hexStr string) *chainhash.Hash {
	hash, err := chainhash.NewHashFromStr(hexStr)
	if err != nil {
		panic(err)
	}
	return hash
}

// ErrInvalidNetworkCombination describes an error in which the flags
// selecting the active network conflict with each other.
var ErrInvalidNetworkCombination = errors.New("invalid combination of " +
	"network selection flags")
