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
	"github.com/lambdaclass/openmina/blockproducer"
	"github.com/lambdaclass/openmina/blockproducer/vrfevaluator"
	"github.com/lambdaclass/openmina/ledger"
	"github.com/lambdaclass/openmina/p2p"
)

// Action is a global state transition event. Sub-component actions are
// wrapped so their enabling conditions run against the matching sub-state.
type Action interface {
	IsEnabled(s *State) bool
}

// P2pAction wraps a p2p-layer action.
type P2pAction struct {
	A p2p.Action
}

func (a P2pAction) IsEnabled(s *State) bool { return a.A.IsEnabled(s.P2p) }

// LedgerAction wraps a ledger-scheduler action.
type LedgerAction struct {
	A ledger.Action
}

func (a LedgerAction) IsEnabled(s *State) bool { return a.A.IsEnabled(s.Ledger) }

// VrfEvaluatorAction wraps a vrf evaluator action.
type VrfEvaluatorAction struct {
	A vrfevaluator.Action
}

func (a VrfEvaluatorAction) IsEnabled(s *State) bool {
	return s.BlockProducer.Enabled && a.A.IsEnabled(s.BlockProducer.VrfEvaluator)
}

// BlockProducerAction wraps a producer-shell action.
type BlockProducerAction struct {
	A blockproducer.Action
}

func (a BlockProducerAction) IsEnabled(s *State) bool { return a.A.IsEnabled(s.BlockProducer) }

// CheckTimeoutsAction is the periodic sweep driving reconnects, rpc
// deadlines, handshake deadlines, sync rpcs and due block production.
type CheckTimeoutsAction struct{}

func (CheckTimeoutsAction) IsEnabled(s *State) bool { return true }

// BestTipUpdateAction records a new consensus best tip and, on an epoch
// change, restarts the vrf evaluator.
type BestTipUpdateAction struct {
	Hash          string
	GlobalSlot    uint32
	Epoch         uint32
	EpochData     vrfevaluator.EpochSeedData
	NextEpochData vrfevaluator.EpochSeedData
}

func (a BestTipUpdateAction) IsEnabled(s *State) bool {
	return a.Hash != "" && a.Hash != s.Consensus.BestTipHash
}

func (a BestTipUpdateAction) reduce(s *State) {
	s.Consensus.BestTipHash = a.Hash
	s.Consensus.BestTipSlot = a.GlobalSlot
	s.Consensus.BestTipEpoch = a.Epoch
	s.Consensus.EpochData = a.EpochData
	s.Consensus.NextEpochData = a.NextEpochData
}

// TransitionFrontierSyncedAction marks the local frontier as caught up with
// a tip.
type TransitionFrontierSyncedAction struct {
	Hash string
}

func (a TransitionFrontierSyncedAction) IsEnabled(s *State) bool {
	return a.Hash != "" && s.TransitionFrontier.BestTipHash != a.Hash
}

func (a TransitionFrontierSyncedAction) reduce(s *State) {
	s.TransitionFrontier.BestTipHash = a.Hash
	if s.TransitionFrontier.SyncBestTipHash == a.Hash {
		s.TransitionFrontier.SyncBestTipHash = ""
	}
}

// TransitionFrontierSyncInitAction starts syncing towards a tip.
type TransitionFrontierSyncInitAction struct {
	Hash string
}

func (a TransitionFrontierSyncInitAction) IsEnabled(s *State) bool {
	return a.Hash != "" &&
		a.Hash != s.TransitionFrontier.BestTipHash &&
		a.Hash != s.TransitionFrontier.SyncBestTipHash
}

func (a TransitionFrontierSyncInitAction) reduce(s *State) {
	s.TransitionFrontier.SyncBestTipHash = a.Hash
}
