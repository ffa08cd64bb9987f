// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package izzyutil

import (
	"github.com/btcsuite/btcd/btcutil"
)

// SatoshiPerCoin is the number of satoshi in one izzy coin.
const SatoshiPerCoin = int64(100000000)

// Amount represents the atomic unit in a transaction output.  It is aliased
// to the btcutil amount type so the formatting helpers there apply.
type Amount = btcutil.Amount
