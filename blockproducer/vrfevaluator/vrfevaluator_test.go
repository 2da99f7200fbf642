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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lambdaclass/openmina/ledger"
)

type testStore struct {
	tt         *testing.T
	state      *State
	globalSlot uint32

	evaluated []Input
	tableReqs [][2]ledger.Hash
}

func newTestStore() *testStore {
	return &testStore{state: NewState("producer-key")}
}

func (ts *testStore) VrfEvaluator() *State { return ts.state }
func (ts *testStore) GlobalSlot() uint32   { return ts.globalSlot }
func (ts *testStore) Service() Service     { return ts }

func (ts *testStore) Evaluate(input Input) {
	ts.evaluated = append(ts.evaluated, input)
}

func (ts *testStore) RequestDelegatorTables(current, next ledger.Hash, _ ledger.AccountPublicKey) {
	ts.tableReqs = append(ts.tableReqs, [2]ledger.Hash{current, next})
}

func (ts *testStore) Dispatch(a Action) bool {
	if !a.IsEnabled(ts.state) {
		return false
	}
	ts.state.Reduce(a)
	a.Effects(ts)
	return true
}

func table() *ledger.DelegatorTable {
	return ledger.NewDelegatorTable(map[uint64]ledger.DelegatorEntry{
		0: {PubKey: "producer-key", Balance: 1000},
	})
}

func epochUpdate(epoch, bestTipSlot uint32) EpochDataUpdateAction {
	return EpochDataUpdateAction{
		Epoch:         epoch,
		EpochData:     EpochSeedData{Seed: "seed-cur", LedgerHash: "staking-cur", TotalCurrency: 10_000},
		NextEpochData: EpochSeedData{Seed: "seed-next", LedgerHash: "staking-next", TotalCurrency: 10_000},
		BestTipSlot:   bestTipSlot,
	}
}

func TestEpochChangeFlow(t *testing.T) {
	ts := newTestStore()
	ts.tt = t
	ts.globalSlot = 100

	require.True(t, ts.Dispatch(epochUpdate(0, 99)))

	// The epoch update chains through delegate resolution into the first
	// evaluation request for best tip slot + 1.
	require.Len(t, ts.tableReqs, 1)
	require.Equal(t, [2]ledger.Hash{"staking-cur", "staking-next"}, ts.tableReqs[0])
	require.Equal(t, StatusDataPending, ts.state.Status.Kind)

	require.True(t, ts.Dispatch(UpdateProducerAndDelegatesSuccessAction{
		CurrentEpochDelegators: table(),
		NextEpochDelegators:    table(),
		StakingLedgerHash:      "staking-cur",
	}))
	require.Equal(t, StatusSlotsRequested, ts.state.Status.Kind)
	require.Len(t, ts.evaluated, 1)
	require.Equal(t, uint32(100), ts.evaluated[0].GlobalSlot)
	require.Equal(t, ledger.Hash("staking-cur"), ts.evaluated[0].LedgerHash)
}

func TestMismatchedLedgerHashDropped(t *testing.T) {
	ts := newTestStore()
	ts.tt = t
	require.True(t, ts.Dispatch(epochUpdate(0, 10)))

	ok := ts.Dispatch(UpdateProducerAndDelegatesSuccessAction{
		CurrentEpochDelegators: table(),
		NextEpochDelegators:    table(),
		StakingLedgerHash:      "some-other-ledger",
	})
	require.False(t, ok)
	require.Equal(t, StatusDataPending, ts.state.Status.Kind)
}

func TestSlotAdvancementAcrossEpochBoundary(t *testing.T) {
	ts := newTestStore()
	ts.tt = t
	ts.globalSlot = 7139

	require.True(t, ts.Dispatch(epochUpdate(0, 7137)))
	require.True(t, ts.Dispatch(UpdateProducerAndDelegatesSuccessAction{
		CurrentEpochDelegators: table(),
		NextEpochDelegators:    table(),
		StakingLedgerHash:      "staking-cur",
	}))

	// First request targets best tip + 1 = 7138 in the current epoch.
	require.Equal(t, uint32(7138), ts.state.Status.Slot)
	require.True(t, ts.Dispatch(EvaluationSuccessAction{
		Result:            Result{GlobalSlot: 7138},
		StakingLedgerHash: "staking-cur",
	}))

	// 7139 is the last slot of epoch 0: still the current epoch ledger.
	require.Equal(t, uint32(7139), ts.state.Status.Slot)
	require.Equal(t, ledger.Hash("staking-cur"), ts.state.Status.LedgerHash)
	require.True(t, ts.Dispatch(EvaluationSuccessAction{
		Result:            Result{GlobalSlot: 7139},
		StakingLedgerHash: "staking-cur",
	}))

	// 7140 crosses the boundary: the next epoch's table takes over and
	// the two are never mixed.
	require.Equal(t, uint32(7140), ts.state.Status.Slot)
	require.Equal(t, ledger.Hash("staking-next"), ts.state.Status.LedgerHash)
	require.Equal(t, uint32(7139), ts.state.LatestEvaluatedSlot)
}

func TestEvaluationHorizon(t *testing.T) {
	ts := newTestStore()
	ts.tt = t
	ts.globalSlot = 14279 // last slot of epoch 1

	require.True(t, ts.Dispatch(epochUpdate(0, 14278)))
	require.True(t, ts.Dispatch(UpdateProducerAndDelegatesSuccessAction{
		CurrentEpochDelegators: table(),
		NextEpochDelegators:    table(),
		StakingLedgerHash:      "staking-cur",
	}))
	require.Equal(t, uint32(14279), ts.state.Status.Slot)
	require.True(t, ts.Dispatch(EvaluationSuccessAction{
		Result:            Result{GlobalSlot: 14279},
		StakingLedgerHash: "staking-next",
	}))

	// 14280 is two epochs out: the evaluator parks until the next epoch
	// data update instead of requesting it.
	require.Equal(t, StatusDone, ts.state.Status.Kind)
	for _, in := range ts.evaluated {
		require.Less(t, in.GlobalSlot, uint32(2*SlotsPerEpoch))
	}
}

func TestLatestEvaluatedSlotMonotonic(t *testing.T) {
	ts := newTestStore()
	ts.tt = t
	ts.globalSlot = 5

	require.True(t, ts.Dispatch(epochUpdate(0, 4)))
	require.True(t, ts.Dispatch(UpdateProducerAndDelegatesSuccessAction{
		CurrentEpochDelegators: table(),
		NextEpochDelegators:    table(),
		StakingLedgerHash:      "staking-cur",
	}))

	last := ts.state.LatestEvaluatedSlot
	for i := 0; i < 50; i++ {
		slot := ts.state.Status.Slot
		require.True(t, ts.Dispatch(EvaluationSuccessAction{
			Result:            Result{GlobalSlot: slot, Won: i%7 == 0},
			StakingLedgerHash: ts.state.Status.LedgerHash,
		}))
		require.GreaterOrEqual(t, ts.state.LatestEvaluatedSlot, last)
		last = ts.state.LatestEvaluatedSlot
	}
	require.NotEmpty(t, ts.state.WonSlots)
}

func TestStaleEvaluationDropped(t *testing.T) {
	ts := newTestStore()
	ts.tt = t
	ts.globalSlot = 10

	require.True(t, ts.Dispatch(epochUpdate(0, 9)))
	require.True(t, ts.Dispatch(UpdateProducerAndDelegatesSuccessAction{
		CurrentEpochDelegators: table(),
		NextEpochDelegators:    table(),
		StakingLedgerHash:      "staking-cur",
	}))
	requested := ts.state.Status.Slot

	// Wrong slot and wrong ledger hash must both be gated off.
	require.False(t, ts.Dispatch(EvaluationSuccessAction{
		Result:            Result{GlobalSlot: requested + 1},
		StakingLedgerHash: "staking-cur",
	}))
	require.False(t, ts.Dispatch(EvaluationSuccessAction{
		Result:            Result{GlobalSlot: requested},
		StakingLedgerHash: "staking-next",
	}))
	require.Equal(t, StatusSlotsRequested, ts.state.Status.Kind)
}

func TestMissingDelegatorTableStillAdvances(t *testing.T) {
	ts := newTestStore()
	ts.tt = t
	ts.globalSlot = 3

	require.True(t, ts.Dispatch(epochUpdate(0, 2)))
	require.True(t, ts.Dispatch(UpdateProducerAndDelegatesSuccessAction{
		CurrentEpochDelegators: nil, // epoch ledger unknown
		NextEpochDelegators:    nil,
		StakingLedgerHash:      "staking-cur",
	}))

	// Without a table the service is never consulted, yet slots keep
	// being marked evaluated (as lost) without stalling.
	require.Empty(t, ts.evaluated)
	require.Greater(t, ts.state.LatestEvaluatedSlot, uint32(100))
	require.Empty(t, ts.state.WonSlots)
}
