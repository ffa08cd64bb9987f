// Copyright (c) 2021-2024 The izzyd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"github.com/izzyproject/izzyd/chaincfg"
)

// activeNetParams is a pointer to the parameters specific to the currently
// active izzy network.  It is set once during configuration load and not
// changed afterwards.
var activeNetParams = &chaincfg.MainNetParams
