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

// Package blockproducer is the thin shell around block production: it owns
// the vrf evaluator and turns won slots into production pipeline runs. The
// pipeline itself (staged ledger diff creation, proving, injection) runs
// behind the Service boundary.
package blockproducer

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/lambdaclass/openmina/blockproducer/vrfevaluator"
	"github.com/lambdaclass/openmina/ledger"
)

// Service triggers the external production pipeline.
type Service interface {
	// ProduceBlock starts building a block for a won slot;
	// fire-and-forget.
	ProduceBlock(slot uint32, vrfOutput [32]byte)
}

// Store gives producer effects access to state and dispatch.
type Store interface {
	BlockProducer() *State
	Service() Service
	Dispatch(a Action) bool
}

// Action is a block-producer state transition.
type Action interface {
	IsEnabled(s *State) bool
	Effects(store Store)
}

// State is the producer shell's sub-state.
type State struct {
	Enabled      bool
	Producer     ledger.AccountPublicKey
	VrfEvaluator *vrfevaluator.State

	// PendingSlots are won slots waiting for their turn, ascending.
	PendingSlots []vrfevaluator.Result
	// ProducingSlot is set while the pipeline runs.
	ProducingSlot *vrfevaluator.Result

	log log.Logger
}

// NewState builds the producer shell; an empty producer key disables it.
func NewState(producer ledger.AccountPublicKey) *State {
	return &State{
		Enabled:      producer != "",
		Producer:     producer,
		VrfEvaluator: vrfevaluator.NewState(producer),
		log:          log.New("mod", "producer"),
	}
}

// WonSlotAction enqueues a slot the vrf evaluator marked as ours.
type WonSlotAction struct {
	Result vrfevaluator.Result
}

func (a WonSlotAction) IsEnabled(s *State) bool {
	if !s.Enabled {
		return false
	}
	for _, r := range s.PendingSlots {
		if r.GlobalSlot == a.Result.GlobalSlot {
			return false
		}
	}
	return true
}

func (a WonSlotAction) reduce(s *State) {
	// Keep ascending slot order; wins arrive mostly in order already.
	pos := len(s.PendingSlots)
	for i, r := range s.PendingSlots {
		if r.GlobalSlot > a.Result.GlobalSlot {
			pos = i
			break
		}
	}
	s.PendingSlots = append(s.PendingSlots, vrfevaluator.Result{})
	copy(s.PendingSlots[pos+1:], s.PendingSlots[pos:])
	s.PendingSlots[pos] = a.Result
	s.log.Info("Scheduled block production", "slot", a.Result.GlobalSlot)
}

func (a WonSlotAction) Effects(store Store) {}

// ProduceInitAction starts the pipeline for the earliest due won slot.
type ProduceInitAction struct {
	GlobalSlot uint32
}

func (a ProduceInitAction) IsEnabled(s *State) bool {
	if !s.Enabled || s.ProducingSlot != nil || len(s.PendingSlots) == 0 {
		return false
	}
	return s.PendingSlots[0].GlobalSlot == a.GlobalSlot
}

func (a ProduceInitAction) reduce(s *State) {
	won := s.PendingSlots[0]
	s.PendingSlots = s.PendingSlots[1:]
	s.ProducingSlot = &won
}

func (a ProduceInitAction) Effects(store Store) {
	s := store.BlockProducer()
	if s.ProducingSlot == nil {
		return
	}
	store.Service().ProduceBlock(s.ProducingSlot.GlobalSlot, s.ProducingSlot.Output)
}

// ProduceDoneAction reports the pipeline finished (block injected or
// discarded); the shell becomes available for the next won slot.
type ProduceDoneAction struct {
	GlobalSlot uint32
}

func (a ProduceDoneAction) IsEnabled(s *State) bool {
	return s.ProducingSlot != nil && s.ProducingSlot.GlobalSlot == a.GlobalSlot
}

func (a ProduceDoneAction) reduce(s *State) {
	s.ProducingSlot = nil
}

func (a ProduceDoneAction) Effects(store Store) {}

// DiscardStaleSlotsAction drops pending wins at or below the best tip
// slot; the chance to produce for them has passed.
type DiscardStaleSlotsAction struct {
	BestTipSlot uint32
}

func (a DiscardStaleSlotsAction) IsEnabled(s *State) bool {
	return len(s.PendingSlots) > 0 && s.PendingSlots[0].GlobalSlot <= a.BestTipSlot
}

func (a DiscardStaleSlotsAction) reduce(s *State) {
	kept := s.PendingSlots[:0]
	for _, r := range s.PendingSlots {
		if r.GlobalSlot > a.BestTipSlot {
			kept = append(kept, r)
		}
	}
	s.PendingSlots = kept
}

func (DiscardStaleSlotsAction) Effects(store Store) {}

// Reduce applies one enabled producer action.
func (s *State) Reduce(a Action) {
	switch a := a.(type) {
	case WonSlotAction:
		a.reduce(s)
	case ProduceInitAction:
		a.reduce(s)
	case ProduceDoneAction:
		a.reduce(s)
	case DiscardStaleSlotsAction:
		a.reduce(s)
	}
}
