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

package vrfevaluator

import (
	"github.com/lambdaclass/openmina/ledger"
)

// EpochSeedData is the epoch context carried by a best-tip update, before
// the delegator table is resolved.
type EpochSeedData struct {
	Seed          string
	LedgerHash    ledger.Hash
	TotalCurrency uint64
}

// EpochDataUpdateAction restarts the evaluator for a new epoch observed on
// the best tip.
type EpochDataUpdateAction struct {
	Epoch          uint32
	EpochData      EpochSeedData
	NextEpochData  EpochSeedData
	BestTipSlot    uint32
}

func (EpochDataUpdateAction) IsEnabled(s *State) bool { return true }

func (a EpochDataUpdateAction) reduce(s *State) {
	s.HasEpoch = true
	s.CurrentEpoch = a.Epoch
	s.CurrentBestTipSlot = a.BestTipSlot
	s.CurrentEpochData = &EpochData{
		Seed:          a.EpochData.Seed,
		LedgerHash:    a.EpochData.LedgerHash,
		TotalCurrency: a.EpochData.TotalCurrency,
	}
	s.NextEpochData = &EpochData{
		Seed:          a.NextEpochData.Seed,
		LedgerHash:    a.NextEpochData.LedgerHash,
		TotalCurrency: a.NextEpochData.TotalCurrency,
	}
	s.Status = Status{Kind: StatusEpochChanged, Epoch: a.Epoch}
}

func (a EpochDataUpdateAction) Effects(store Store) {
	s := store.VrfEvaluator()
	store.Dispatch(UpdateProducerAndDelegatesAction{
		CurrentEpochLedgerHash: a.EpochData.LedgerHash,
		NextEpochLedgerHash:    a.NextEpochData.LedgerHash,
		Producer:               s.Producer,
	})
}

// UpdateProducerAndDelegatesAction kicks off the delegator table lookups
// for both epoch ledgers.
type UpdateProducerAndDelegatesAction struct {
	CurrentEpochLedgerHash ledger.Hash
	NextEpochLedgerHash    ledger.Hash
	Producer               ledger.AccountPublicKey
}

func (UpdateProducerAndDelegatesAction) IsEnabled(s *State) bool {
	return s.Status.Kind == StatusEpochChanged
}

func (a UpdateProducerAndDelegatesAction) reduce(s *State) {
	s.Status = Status{Kind: StatusDataPending, LedgerHash: a.CurrentEpochLedgerHash}
}

func (a UpdateProducerAndDelegatesAction) Effects(store Store) {
	store.Service().RequestDelegatorTables(a.CurrentEpochLedgerHash, a.NextEpochLedgerHash, a.Producer)
}

// UpdateProducerAndDelegatesSuccessAction delivers the resolved tables. A
// nil table means the epoch ledger was missing; evaluation proceeds and
// treats every slot of that bracket as lost.
type UpdateProducerAndDelegatesSuccessAction struct {
	CurrentEpochDelegators *ledger.DelegatorTable
	NextEpochDelegators    *ledger.DelegatorTable
	StakingLedgerHash      ledger.Hash
}

func (a UpdateProducerAndDelegatesSuccessAction) IsEnabled(s *State) bool {
	return s.Status.Kind == StatusDataPending &&
		s.CurrentEpochData != nil &&
		s.CurrentEpochData.LedgerHash == a.StakingLedgerHash
}

func (a UpdateProducerAndDelegatesSuccessAction) reduce(s *State) {
	s.CurrentEpochData.Delegators = a.CurrentEpochDelegators
	s.NextEpochData.Delegators = a.NextEpochDelegators
	s.Status = Status{Kind: StatusDataSuccess, LedgerHash: a.StakingLedgerHash}
}

func (a UpdateProducerAndDelegatesSuccessAction) Effects(store Store) {
	s := store.VrfEvaluator()
	slot := s.CurrentBestTipSlot + 1
	data := s.epochDataForSlot(slot)
	if data == nil {
		return
	}
	store.Dispatch(EvaluateVrfAction{Input: Input{
		Seed:          data.Seed,
		Delegators:    data.Delegators,
		GlobalSlot:    slot,
		TotalCurrency: data.TotalCurrency,
		LedgerHash:    data.LedgerHash,
	}})
}

// EvaluateVrfAction requests the VRF verdict for one slot.
type EvaluateVrfAction struct {
	Input Input
}

func (EvaluateVrfAction) IsEnabled(s *State) bool {
	return s.Status.Kind == StatusDataSuccess || s.Status.Kind == StatusSlotsReceived
}

func (a EvaluateVrfAction) reduce(s *State) {
	s.Status = Status{
		Kind:       StatusSlotsRequested,
		Slot:       a.Input.GlobalSlot,
		LedgerHash: a.Input.LedgerHash,
	}
}

func (a EvaluateVrfAction) Effects(store Store) {
	if a.Input.Delegators.Len() == 0 {
		// No table for this bracket: not eligible, but keep walking the
		// slots so the evaluator cannot stall.
		store.Dispatch(EvaluationSuccessAction{
			Result:            Result{GlobalSlot: a.Input.GlobalSlot},
			StakingLedgerHash: a.Input.LedgerHash,
		})
		return
	}
	store.Service().Evaluate(a.Input)
}

// EvaluationSuccessAction records the verdict for the requested slot and
// advances to the next one.
type EvaluationSuccessAction struct {
	Result            Result
	StakingLedgerHash ledger.Hash
}

func (a EvaluationSuccessAction) IsEnabled(s *State) bool {
	return s.Status.matchesRequestedSlot(a.Result.GlobalSlot, a.StakingLedgerHash)
}

func (a EvaluationSuccessAction) reduce(s *State) {
	s.Status = Status{
		Kind:       StatusSlotsReceived,
		Slot:       a.Result.GlobalSlot,
		LedgerHash: a.StakingLedgerHash,
	}
	if a.Result.GlobalSlot > s.LatestEvaluatedSlot {
		s.LatestEvaluatedSlot = a.Result.GlobalSlot
	}
	if a.Result.Won {
		s.WonSlots = append(s.WonSlots, a.Result)
		s.log.Info("Won slot", "slot", a.Result.GlobalSlot, "delegator", a.Result.DelegatorIndex)
	}
}

func (a EvaluationSuccessAction) Effects(store Store) {
	s := store.VrfEvaluator()
	if !s.HasEpoch || s.CurrentEpochData == nil || s.NextEpochData == nil {
		return
	}
	nextSlot := s.LatestEvaluatedSlot + 1
	if cur := store.GlobalSlot(); cur > nextSlot {
		nextSlot = cur
	}
	data := s.epochDataForSlot(nextSlot)
	if data == nil {
		// Past the evaluation horizon; park until the next epoch update.
		store.Dispatch(FinishAction{LatestSlot: s.LatestEvaluatedSlot})
		return
	}
	store.Dispatch(EvaluateVrfAction{Input: Input{
		Seed:          data.Seed,
		Delegators:    data.Delegators,
		GlobalSlot:    nextSlot,
		TotalCurrency: data.TotalCurrency,
		LedgerHash:    data.LedgerHash,
	}})
}

// FinishAction parks the evaluator once both epoch brackets are evaluated.
type FinishAction struct {
	LatestSlot uint32
}

func (FinishAction) IsEnabled(s *State) bool {
	return s.Status.Kind == StatusSlotsReceived
}

func (a FinishAction) reduce(s *State) {
	s.Status = Status{Kind: StatusDone, Slot: a.LatestSlot}
}

func (FinishAction) Effects(store Store) {}
