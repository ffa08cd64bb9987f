// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package blockchain implements izzy block handling and chain selection rules.

The izzy block handling and chain selection rules are an integral, and quite
likely the most important, part of izzy.  At its core, izzy is a
distributed consensus of which blocks are valid and which ones will comprise
the main block chain (public ledger) that ultimately determines accepted
transactions, so it is extremely important that fully validating nodes agree
on all rules.

At a high level, this package provides support for inserting new blocks into
the block chain according to the aforementioned rules.  It includes
functionality such as rejecting duplicate blocks, ensuring blocks and
transactions follow all rules, both the proof-of-work bootstrap phase and
the long-term proof-of-stake phase, the treasury, lottery and masternode
payment schedules, and best chain selection along with reorganization.

Since this package does not deal with other izzy specifics such as network
communication or wallets, it provides a strong foundation for anyone wishing
to build on the chain state.

# Errors

Errors returned by this package are either the raw errors provided by
underlying calls, a RuleError for violations of consensus rules, or a
FatalError for local failures such as a database write error after which the
node cannot safely continue.  RuleErrors whose condition could resolve
itself later, such as a missing parent block, report true from IsTransient
and are not remembered as rejected by ProcessBlock.  A block whose inputs are
missing when it is connected to the main chain is still marked failed in the
index, since all of its ancestors are connected at that point.
*/
package blockchain
