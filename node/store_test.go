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
	"crypto/rand"
	"io"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/stretchr/testify/require"

	"github.com/lambdaclass/openmina/blockproducer/vrfevaluator"
	"github.com/lambdaclass/openmina/ledger"
	"github.com/lambdaclass/openmina/p2p"
	"github.com/lambdaclass/openmina/p2p/identity"
)

// fakeServices records Dial, Send, Read, Evaluate and ProduceBlock calls
// without doing any work; Close and Rand record nothing.
type fakeServices struct {
	sent       []p2p.ConnAddr
	dialed     []p2p.ConnAddr
	reads      []ledger.RequestID
	readReqs   map[ledger.RequestID]ledger.ReadRequest
	vrfInputs  []vrfevaluator.Input
	produced   []uint32
}

func newFakeServices() *fakeServices {
	return &fakeServices{readReqs: make(map[ledger.RequestID]ledger.ReadRequest)}
}

func (f *fakeServices) services() Services {
	return Services{P2p: f, Ledger: f, Vrf: f, Producer: f}
}

func (f *fakeServices) Dial(addr p2p.ConnAddr)          { f.dialed = append(f.dialed, addr) }
func (f *fakeServices) Send(addr p2p.ConnAddr, _ []byte) { f.sent = append(f.sent, addr) }
func (f *fakeServices) Close(addr p2p.ConnAddr)         {}
func (f *fakeServices) Rand() io.Reader                 { return rand.Reader }

func (f *fakeServices) Read(id ledger.RequestID, req ledger.ReadRequest) {
	f.reads = append(f.reads, id)
	f.readReqs[id] = req
}

func (f *fakeServices) Evaluate(input vrfevaluator.Input) {
	f.vrfInputs = append(f.vrfInputs, input)
}

func (f *fakeServices) ProduceBlock(slot uint32, _ [32]byte) {
	f.produced = append(f.produced, slot)
}

func testConfig(t *testing.T, producer ledger.AccountPublicKey) Config {
	t.Helper()
	key, err := identity.GenerateSecretKey()
	require.NoError(t, err)
	return Config{
		P2p:         p2p.Config{ChainID: "testchain", SecretKey: key, RPCTimeout: 5 * time.Second},
		ProducerKey: producer,
	}
}

func readyPeer(t *testing.T, st *State) identity.PeerID {
	t.Helper()
	key, err := identity.GenerateSecretKey()
	require.NoError(t, err)
	id := key.PublicKey().PeerID()
	st.P2p.Peers[id] = &p2p.PeerState{
		Status:   p2p.PeerReady,
		ConnAddr: "10.0.0.7:8302",
		Channels: &p2p.ChannelsState{
			Rpc: p2p.RpcChannelState{PendingLocal: make(map[uint64]*p2p.PendingRpc)},
		},
	}
	return id
}

func TestRpcTimeoutSweep(t *testing.T) {
	clock := new(mclock.Simulated)
	svc := newFakeServices()
	store := NewStore(testConfig(t, ""), svc.services(), clock)
	peer := readyPeer(t, store.State())

	require.True(t, store.Dispatch(P2pAction{A: p2p.ChannelsRpcRequestSendAction{
		PeerID:  peer,
		ID:      1,
		Request: p2p.RpcRequest{Kind: p2p.RpcKindBestTipWithProof},
	}}))
	require.Len(t, store.State().P2p.Peers[peer].Channels.Rpc.PendingLocal, 1)

	// Before the deadline the sweep must not expire anything.
	clock.Run(4 * time.Second)
	store.Dispatch(CheckTimeoutsAction{})
	require.Zero(t, store.Stats()["p2p.ChannelsRpcTimeoutAction"])

	// One second past the deadline: exactly one timeout fires, and a
	// repeated sweep finds nothing left.
	clock.Run(2 * time.Second)
	store.Dispatch(CheckTimeoutsAction{})
	require.Equal(t, uint64(1), store.Stats()["p2p.ChannelsRpcTimeoutAction"])
	require.Empty(t, store.State().P2p.Peers[peer].Channels.Rpc.PendingLocal)

	store.Dispatch(CheckTimeoutsAction{})
	require.Equal(t, uint64(1), store.Stats()["p2p.ChannelsRpcTimeoutAction"])
}

func TestDisabledActionLeavesStateUnchanged(t *testing.T) {
	clock := new(mclock.Simulated)
	store := NewStore(testConfig(t, "producer"), newFakeServices().services(), clock)

	before := store.State().AppliedActionsCount
	vrfBefore := store.State().BlockProducer.VrfEvaluator.Status

	// EvaluateVrf is gated on DataSuccess/SlotsReceived; in Idle it must
	// be dropped without any state change.
	ok := store.Dispatch(VrfEvaluatorAction{A: vrfevaluator.EvaluateVrfAction{
		Input: vrfevaluator.Input{GlobalSlot: 1, LedgerHash: "lh"},
	}})
	require.False(t, ok)
	require.Equal(t, before, store.State().AppliedActionsCount)
	require.Equal(t, vrfBefore, store.State().BlockProducer.VrfEvaluator.Status)
}

// TestBestTipDrivesVrfThroughLedger exercises the seam between the three
// machines: a best tip on a new epoch triggers delegate resolution through
// the read scheduler, whose responses restart slot evaluation.
func TestBestTipDrivesVrfThroughLedger(t *testing.T) {
	clock := new(mclock.Simulated)
	svc := newFakeServices()
	store := NewStore(testConfig(t, "producer-key"), svc.services(), clock)

	require.True(t, store.Dispatch(BestTipUpdateAction{
		Hash:          "tip-1",
		GlobalSlot:    42,
		Epoch:         0,
		EpochData:     vrfevaluator.EpochSeedData{Seed: "s0", LedgerHash: "staking-0", TotalCurrency: 1000},
		NextEpochData: vrfevaluator.EpochSeedData{Seed: "s1", LedgerHash: "staking-1", TotalCurrency: 1000},
	}))

	// Both epoch ledgers got a delegator table read scheduled.
	require.Len(t, svc.reads, 2)
	require.Equal(t, vrfevaluator.StatusDataPending, store.State().BlockProducer.VrfEvaluator.Status.Kind)

	tbl := ledger.NewDelegatorTable(map[uint64]ledger.DelegatorEntry{
		3: {PubKey: "producer-key", Balance: 500},
	})
	for _, id := range svc.reads {
		req := svc.readReqs[id].(ledger.DelegatorTableRequest)
		require.True(t, store.Dispatch(LedgerAction{A: ledger.ReadSuccessAction{
			ID:       id,
			Response: ledger.DelegatorTableResponse{LedgerHash: req.LedgerHash, Table: tbl},
		}}))
	}

	vrf := store.State().BlockProducer.VrfEvaluator
	require.Equal(t, vrfevaluator.StatusSlotsRequested, vrf.Status.Kind)
	require.Equal(t, uint32(43), vrf.Status.Slot)
	require.Len(t, svc.vrfInputs, 1)
	require.Equal(t, ledger.Hash("staking-0"), svc.vrfInputs[0].LedgerHash)

	// A win wakes the producer shell.
	require.True(t, store.Dispatch(VrfEvaluatorAction{A: vrfevaluator.EvaluationSuccessAction{
		Result:            vrfevaluator.Result{GlobalSlot: 43, Won: true, DelegatorIndex: 3},
		StakingLedgerHash: "staking-0",
	}}))
	require.Len(t, store.State().BlockProducer.PendingSlots, 1)

	// Once the slot is due, the sweep starts production.
	clock.Run(44 * SlotDuration)
	store.Dispatch(CheckTimeoutsAction{})
	require.Equal(t, []uint32{43}, svc.produced)
}

// TestDeterministicReplay dispatches the same action stream against two
// fresh stores and requires identical observable state.
func TestDeterministicReplay(t *testing.T) {
	cfg := testConfig(t, "producer-key")

	run := func() *Store {
		clock := new(mclock.Simulated)
		svc := newFakeServices()
		store := NewStore(cfg, svc.services(), clock)
		peer := readyPeer(t, store.State())

		store.Dispatch(BestTipUpdateAction{
			Hash:       "tip-9",
			GlobalSlot: 7,
			Epoch:      0,
			EpochData:  vrfevaluator.EpochSeedData{Seed: "s", LedgerHash: "lh", TotalCurrency: 5},
		})
		store.Dispatch(P2pAction{A: p2p.ChannelsRpcRequestSendAction{
			PeerID:  peer,
			ID:      1,
			Request: p2p.RpcRequest{Kind: p2p.RpcKindLedgerQuery},
		}})
		clock.Run(time.Minute)
		store.Dispatch(CheckTimeoutsAction{})
		return store
	}

	a, b := run(), run()
	require.Equal(t, a.State().AppliedActionsCount, b.State().AppliedActionsCount)
	require.Equal(t, a.Stats(), b.Stats())
	require.Equal(t, a.State().Consensus, b.State().Consensus)
	require.Equal(t, a.State().BlockProducer.VrfEvaluator.Status, b.State().BlockProducer.VrfEvaluator.Status)
	require.Equal(t, a.State().LastAction.ID, b.State().LastAction.ID)
}

func TestBestTipSyncRequestDeterministicPeerChoice(t *testing.T) {
	clock := new(mclock.Simulated)
	svc := newFakeServices()
	store := NewStore(testConfig(t, ""), svc.services(), clock)
	st := store.State()

	var ids []identity.PeerID
	for i := 0; i < 3; i++ {
		id := readyPeer(t, st)
		st.P2p.Peers[id].ConnAddr = p2p.ConnAddr("10.0.0.7:8302")
		// Give each peer an outgoing rpc substream so it qualifies.
		st.P2p.RpcOutgoingStreams[id] = map[uint32]*p2p.RpcStreamState{
			1: {StreamID: 1, PeerID: id},
		}
		ids = append(ids, id)
	}

	store.Dispatch(BestTipUpdateAction{Hash: "remote-tip", GlobalSlot: 3})
	store.Dispatch(CheckTimeoutsAction{})

	want := st.P2p.ReadyRpcPeerIDs()
	last := want[len(want)-1]
	pending := st.P2p.Peers[last].Channels.Rpc.PendingLocal
	require.Len(t, pending, 1, "the last ready rpc peer must carry the request")
	for _, p := range pending {
		require.Equal(t, p2p.RpcKindBestTipWithProof, p.Kind)
	}
	// Nobody else got one, and a second sweep does not duplicate it.
	for _, id := range ids {
		if id != last {
			require.Empty(t, st.P2p.Peers[id].Channels.Rpc.PendingLocal)
		}
	}
	store.Dispatch(CheckTimeoutsAction{})
	require.Len(t, pending, 1)
}
