// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package chaincfg defines chain configuration parameters.

In addition to the main izzy network, which is intended for the transfer of
monetary value, there also exists the following standard networks:

  - betanet (the network that was run while the chain was stood up)
  - testnet
  - regtest
  - unittest

These networks are incompatible with each other (each apart from unittest,
which reuses the main network genesis block, sports its own genesis block) and applications almost certainly want to use a single one of
them at a time.  Rather than relying on a global, callers pass the Params
value for the selected network to the subsystems that need it, which makes it
possible to run multiple networks in a single process for testing.
*/
package chaincfg
