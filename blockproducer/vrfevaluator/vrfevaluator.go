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

// Package vrfevaluator decides, slot by slot, whether this node is eligible
// to produce a block. It walks the slots of the current and next epoch
// relative to the best tip, feeding the external VRF service and recording
// the outcomes.
package vrfevaluator

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/lambdaclass/openmina/ledger"
)

// SlotsPerEpoch is the protocol's fixed epoch length in slots.
const SlotsPerEpoch = 7140

// StatusKind enumerates the evaluator's phases.
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusEpochChanged
	StatusDataPending
	StatusDataSuccess
	StatusSlotsRequested
	StatusSlotsReceived
	StatusDone
)

func (k StatusKind) String() string {
	switch k {
	case StatusIdle:
		return "idle"
	case StatusEpochChanged:
		return "epoch-changed"
	case StatusDataPending:
		return "data-pending"
	case StatusDataSuccess:
		return "data-success"
	case StatusSlotsRequested:
		return "slots-requested"
	case StatusSlotsReceived:
		return "slots-received"
	case StatusDone:
		return "done"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Status is the evaluator phase with its phase-specific data.
type Status struct {
	Kind       StatusKind
	Epoch      uint32
	LedgerHash ledger.Hash
	Slot       uint32
}

// matchesRequestedSlot gates evaluation results: only the exact
// (slot, ledger hash) pair asked for may come back.
func (st Status) matchesRequestedSlot(slot uint32, hash ledger.Hash) bool {
	return st.Kind == StatusSlotsRequested && st.Slot == slot && st.LedgerHash == hash
}

// EpochData is the per-epoch staking context: the VRF seed, the epoch
// ledger and the resolved delegator table (nil until looked up).
type EpochData struct {
	Seed          string
	LedgerHash    ledger.Hash
	TotalCurrency uint64
	Delegators    *ledger.DelegatorTable
}

// Input is one VRF evaluation request handed to the service.
type Input struct {
	Seed          string
	Delegators    *ledger.DelegatorTable
	GlobalSlot    uint32
	TotalCurrency uint64
	LedgerHash    ledger.Hash
}

// Result is the service's verdict for one slot.
type Result struct {
	GlobalSlot     uint32
	Won            bool
	DelegatorIndex uint64
	Output         [32]byte
}

// Service runs the actual VRF cryptography on a worker thread. Both calls
// are fire-and-forget; completions come back as actions.
type Service interface {
	// Evaluate computes the VRF for one slot; completion arrives as an
	// EvaluationSuccessAction.
	Evaluate(input Input)
	// RequestDelegatorTables resolves the producer's delegator tables for
	// both epoch ledgers; completion arrives as an
	// UpdateProducerAndDelegatesSuccessAction.
	RequestDelegatorTables(current, next ledger.Hash, producer ledger.AccountPublicKey)
}

// Store gives evaluator effects access to state and dispatch.
type Store interface {
	VrfEvaluator() *State
	// GlobalSlot is the wall-clock slot derived from genesis time.
	GlobalSlot() uint32
	Service() Service
	Dispatch(a Action) bool
}

// Action is an evaluator state transition.
type Action interface {
	IsEnabled(s *State) bool
	Effects(store Store)
}

// State is the evaluator's sub-state.
type State struct {
	Status Status

	Producer ledger.AccountPublicKey

	HasEpoch     bool
	CurrentEpoch uint32

	CurrentEpochData *EpochData
	NextEpochData    *EpochData

	LatestEvaluatedSlot uint32
	CurrentBestTipSlot  uint32

	// WonSlots are the slots this producer may propose in, in evaluation
	// order.
	WonSlots []Result

	log log.Logger
}

// NewState builds an idle evaluator for the producer key.
func NewState(producer ledger.AccountPublicKey) *State {
	return &State{
		Producer: producer,
		Status:   Status{Kind: StatusIdle},
		log:      log.New("mod", "vrf"),
	}
}

// CurrentEpochEnd is the last global slot of the current epoch.
func (s *State) CurrentEpochEnd() uint32 {
	return s.CurrentEpoch*SlotsPerEpoch + SlotsPerEpoch - 1
}

// NextEpochEnd is the last global slot of the next epoch, the horizon the
// evaluator may look ahead to.
func (s *State) NextEpochEnd() uint32 {
	return (s.CurrentEpoch+1)*SlotsPerEpoch + SlotsPerEpoch - 1
}

// epochDataForSlot picks the table matching the epoch bracket holding the
// slot; brackets are never mixed.
func (s *State) epochDataForSlot(slot uint32) *EpochData {
	if slot <= s.CurrentEpochEnd() {
		return s.CurrentEpochData
	}
	if slot <= s.NextEpochEnd() {
		return s.NextEpochData
	}
	return nil
}

// Reduce applies one enabled evaluator action.
func (s *State) Reduce(a Action) {
	switch a := a.(type) {
	case EpochDataUpdateAction:
		a.reduce(s)
	case UpdateProducerAndDelegatesAction:
		a.reduce(s)
	case UpdateProducerAndDelegatesSuccessAction:
		a.reduce(s)
	case EvaluateVrfAction:
		a.reduce(s)
	case EvaluationSuccessAction:
		a.reduce(s)
	case FinishAction:
		a.reduce(s)
	}
}
