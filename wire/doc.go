// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package wire implements the izzy wire-level block types.

Transactions use the canonical bitcoin serialization, so the transaction
types are shared with the btcsuite wire package rather than redeclared.  That
keeps every tool that operates on raw transactions, most importantly the
script engine, directly usable.  The block types differ from bitcoin: a block
carries an appended signature made by the staker's key when it is
proof-of-stake, and block hashes use the quark chained hash rather than
double SHA-256.
*/
package wire
