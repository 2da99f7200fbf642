// Copyright 2024 The openmina Authors
// This file is part of the openmina library.
//
// The openmina library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The openmina library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the openmina library. If not, see <http://www.gnu.org/licenses/>.

package node

import (
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"

	"github.com/lambdaclass/openmina/ledger"
	"github.com/lambdaclass/openmina/p2p"
)

// Config collects the node-level tunables.
type Config struct {
	P2p p2p.Config

	// GenesisTime anchors the slot clock.
	GenesisTime mclock.AbsTime

	// ProducerKey enables block production when set.
	ProducerKey ledger.AccountPublicKey

	// LedgerReadCostBudget caps concurrent ledger read cost; zero selects
	// the default.
	LedgerReadCostBudget int

	// CheckTimeoutsInterval paces the periodic timeout sweep.
	CheckTimeoutsInterval time.Duration
}

// DefaultConfig holds the values used when a field is left zero.
var DefaultConfig = Config{
	LedgerReadCostBudget:  ledger.DefaultReadCostBudget,
	CheckTimeoutsInterval: time.Second,
}

func (c Config) withDefaults() Config {
	if c.LedgerReadCostBudget == 0 {
		c.LedgerReadCostBudget = DefaultConfig.LedgerReadCostBudget
	}
	if c.CheckTimeoutsInterval == 0 {
		c.CheckTimeoutsInterval = DefaultConfig.CheckTimeoutsInterval
	}
	return c
}
