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

package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testStore is a minimal store that applies the reduce/effects contract and
// records what reaches the service.
type testStore struct {
	state  *State
	issued []RequestID
	reqs   map[RequestID]ReadRequest
}

func newTestStore(budget int) *testStore {
	return &testStore{state: NewState(budget), reqs: make(map[RequestID]ReadRequest)}
}

func (ts *testStore) Ledger() *State    { return ts.state }
func (ts *testStore) Service() Service  { return ts }
func (ts *testStore) Read(id RequestID, req ReadRequest) {
	ts.issued = append(ts.issued, id)
	ts.reqs[id] = req
}

func (ts *testStore) Dispatch(a Action) bool {
	if !a.IsEnabled(ts.state) {
		return false
	}
	ts.state.Reduce(a)
	a.Effects(ts)
	return true
}

func TestReadCostCap(t *testing.T) {
	ts := newTestStore(DefaultReadCostBudget)

	// Root-level child-account reads cost 2^20/4 each, far beyond the
	// budget; the scheduler must run them strictly one at a time.
	req := GetChildAccountsAtAddrRequest{LedgerHash: "lh1"}
	require.Equal(t, (1<<Depth)/4, req.Cost())

	for i := 0; i < 10; i++ {
		require.True(t, ts.Dispatch(ReadInitAction{Request: req}))
	}
	require.Len(t, ts.issued, 1, "only the first oversized read may run")
	require.Equal(t, 9, ts.state.QueueLen())

	for i := 0; i < 10; i++ {
		require.Equal(t, 1, ts.state.InFlightCount())
		id := ts.issued[len(ts.issued)-1]
		require.True(t, ts.Dispatch(ReadSuccessAction{
			ID:       id,
			Response: ChildAccountsResponse{},
		}))
	}
	require.Len(t, ts.issued, 10, "every read completed exactly once")
	require.Equal(t, 0, ts.state.InFlightCount())
	require.Equal(t, 0, ts.state.QueueLen())

	// Completion order follows admission order: the 10th read ran last.
	for i := 1; i < len(ts.issued); i++ {
		require.Greater(t, ts.issued[i], ts.issued[i-1])
	}
}

func TestCheapReadsShareBudget(t *testing.T) {
	ts := newTestStore(DefaultReadCostBudget)
	for i := 0; i < 150; i++ {
		ts.Dispatch(ReadInitAction{Request: GetNumAccountsRequest{LedgerHash: "lh"}})
	}
	// Cost 1 each: all fit inside the budget at once.
	require.Len(t, ts.issued, 150)
	require.Equal(t, 0, ts.state.QueueLen())
}

func TestMixedKindsFIFOWithinKind(t *testing.T) {
	ts := newTestStore(DefaultReadCostBudget)

	ts.Dispatch(ReadInitAction{Request: DelegatorTableRequest{LedgerHash: "a", Producer: "p"}})
	ts.Dispatch(ReadInitAction{Request: ScanStateSummaryRequest{LedgerHash: "b"}})
	ts.Dispatch(ReadInitAction{Request: DelegatorTableRequest{LedgerHash: "c", Producer: "p"}})

	// 100 + 100 fill the budget; the third is deferred.
	require.Len(t, ts.issued, 2)
	require.Equal(t, 1, ts.state.QueueLen())

	ts.Dispatch(ReadSuccessAction{ID: ts.issued[0], Response: DelegatorTableResponse{LedgerHash: "a"}})
	require.Len(t, ts.issued, 3)

	third := ts.reqs[ts.issued[2]]
	require.Equal(t, ReadDelegatorTable, third.Kind())
	require.Equal(t, Hash("c"), third.(DelegatorTableRequest).LedgerHash)
}

func TestMismatchedResponseKindDropped(t *testing.T) {
	ts := newTestStore(DefaultReadCostBudget)
	ts.Dispatch(ReadInitAction{Request: GetNumAccountsRequest{LedgerHash: "lh"}})
	require.Len(t, ts.issued, 1)

	ok := ts.Dispatch(ReadSuccessAction{ID: ts.issued[0], Response: ChildAccountsResponse{}})
	require.False(t, ok, "mismatched kind must be gated off")
	require.Equal(t, 1, ts.state.InFlightCount())

	require.True(t, ts.Dispatch(ReadSuccessAction{ID: ts.issued[0], Response: NumAccountsResponse{}}))
	require.Equal(t, 0, ts.state.InFlightCount())
}

func TestMissingDataIsNotAnError(t *testing.T) {
	ts := newTestStore(DefaultReadCostBudget)
	ts.Dispatch(ReadInitAction{Request: DelegatorTableRequest{LedgerHash: "unknown", Producer: "p"}})
	require.True(t, ts.Dispatch(ReadSuccessAction{
		ID:       ts.issued[0],
		Response: DelegatorTableResponse{LedgerHash: "unknown", Table: nil},
	}))
	require.Equal(t, 0, ts.state.InFlightCount())
}

func TestDelegatorTableCopyOnWrite(t *testing.T) {
	orig := NewDelegatorTable(map[uint64]DelegatorEntry{
		1: {PubKey: "a", Balance: 100},
		2: {PubKey: "b", Balance: 50},
	})
	mod := orig.WithEntry(2, DelegatorEntry{PubKey: "b", Balance: 75})

	require.Equal(t, uint64(150), orig.TotalStake())
	require.Equal(t, uint64(175), mod.TotalStake())
	require.Equal(t, 2, orig.Len())
}
