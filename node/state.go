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

// Package node ties the sub-state machines together under one
// action-dispatch loop: every state change in the process flows through
// Store.Dispatch as an action, is gated by its enabling condition, reduced,
// and followed by its effects. The loop is single-threaded by construction;
// services re-enter through the event queue.
package node

import (
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"

	"github.com/lambdaclass/openmina/blockproducer"
	"github.com/lambdaclass/openmina/blockproducer/vrfevaluator"
	"github.com/lambdaclass/openmina/ledger"
	"github.com/lambdaclass/openmina/p2p"
)

// SlotDuration is the protocol's block slot length.
const SlotDuration = 3 * time.Minute

// ActionMeta is the envelope attached to every dispatched action.
type ActionMeta struct {
	Time mclock.AbsTime
	ID   uint64
}

// ConsensusState tracks the best tip according to the consensus rule, as
// observed from gossip and rpc, before the transition frontier catches up.
type ConsensusState struct {
	BestTipHash  string
	BestTipSlot  uint32
	BestTipEpoch uint32

	EpochData     vrfevaluator.EpochSeedData
	NextEpochData vrfevaluator.EpochSeedData
}

// TransitionFrontierState tracks the locally applied chain and the sync
// target.
type TransitionFrontierState struct {
	BestTipHash     string
	SyncBestTipHash string
}

// SnarkPoolState is the pool of completed snark work offered to block
// production.
type SnarkPoolState struct {
	// Commitments maps job ids to the fee committed for them.
	Commitments map[string]uint64
}

// RpcState tracks locally served rpc subscriptions.
type RpcState struct {
	// NextID numbers local rpc server requests.
	NextID uint64
}

// WatchedAccountsState tracks accounts whose transactions the node observes
// on every applied block.
type WatchedAccountsState struct {
	Accounts map[ledger.AccountPublicKey]struct{}
}

// ExternalSnarkWorkerState mirrors the lifecycle of the helper process that
// produces snark work.
type ExternalSnarkWorkerState struct {
	Running    bool
	WorkingJob string
}

// State is the root state tree. It is owned by the store; reducers mutate
// only their own sub-state, cross-component updates travel as actions.
type State struct {
	Config Config

	P2p                 *p2p.State
	Ledger              *ledger.State
	SnarkPool           SnarkPoolState
	Consensus           ConsensusState
	TransitionFrontier  TransitionFrontierState
	BlockProducer       *blockproducer.State
	ExternalSnarkWorker ExternalSnarkWorkerState
	Rpc                 RpcState
	WatchedAccounts     WatchedAccountsState

	LastAction          ActionMeta
	AppliedActionsCount uint64
}

// NewState builds the initial state tree for a configuration.
func NewState(cfg Config) *State {
	return &State{
		Config:        cfg,
		P2p:           p2p.NewState(cfg.P2p),
		Ledger:        ledger.NewState(cfg.LedgerReadCostBudget),
		SnarkPool:     SnarkPoolState{Commitments: make(map[string]uint64)},
		BlockProducer: blockproducer.NewState(cfg.ProducerKey),
		WatchedAccounts: WatchedAccountsState{
			Accounts: make(map[ledger.AccountPublicKey]struct{}),
		},
	}
}

// Time returns the timestamp of the last applied action, the state's notion
// of "now".
func (s *State) Time() mclock.AbsTime { return s.LastAction.Time }

// GlobalSlot converts a wall-clock instant into the protocol slot number.
func (s *State) GlobalSlot(now mclock.AbsTime) uint32 {
	genesis := s.Config.GenesisTime
	if now < genesis {
		return 0
	}
	return uint32(time.Duration(now-genesis) / SlotDuration)
}

func (s *State) actionApplied(meta ActionMeta) {
	s.LastAction = meta
	s.AppliedActionsCount++
}
