// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package quark implements the quark chained hash used for block hashes and
// the proof-of-work check.  It is a fixed sequence of nine 512-bit sphlib
// primitives (blake, bmw, groestl, jh, keccak, skein) where three of the
// rounds are selected by a bit of the previous digest, truncated to 256 bits.
package quark

import (
	"github.com/bitbandi/go-x11/blake"
	"github.com/bitbandi/go-x11/bmw"
	"github.com/bitbandi/go-x11/groestl"
	"github.com/bitbandi/go-x11/hash"
	"github.com/bitbandi/go-x11/jh"
	"github.com/bitbandi/go-x11/keccak"
	"github.com/bitbandi/go-x11/skein"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// round runs a single primitive over in and writes the 64-byte digest to out.
func round(d hash.Digest, in, out []byte) {
	d.Write(in)
	d.Close(out, 0, 0)
}

// branchBit reports whether the branching bit (bit 3 of the little-endian
// 512-bit digest) is set, which selects between the two candidate primitives
// for the conditional rounds.
func branchBit(digest []byte) bool {
	return digest[0]&8 != 0
}

// Sum256 computes the quark hash of the provided data and returns it
// truncated to the low 256 bits.
func Sum256(data []byte) chainhash.Hash {
	var ping, pong [64]byte

	round(blake.New(), data, ping[:])
	round(bmw.New(), ping[:], pong[:])
	if branchBit(pong[:]) {
		round(groestl.New(), pong[:], ping[:])
	} else {
		round(skein.New(), pong[:], ping[:])
	}
	round(groestl.New(), ping[:], pong[:])
	round(jh.New(), pong[:], ping[:])
	if branchBit(ping[:]) {
		round(blake.New(), ping[:], pong[:])
	} else {
		round(bmw.New(), ping[:], pong[:])
	}
	round(keccak.New(), pong[:], ping[:])
	round(skein.New(), ping[:], pong[:])
	if branchBit(pong[:]) {
		round(keccak.New(), pong[:], ping[:])
	} else {
		round(jh.New(), pong[:], ping[:])
	}

	var result chainhash.Hash
	copy(result[:], ping[:chainhash.HashSize])
	return result
}
