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
	"github.com/lambdaclass/openmina/p2p/identity"
)

// effects runs the action's own effects and the node-level routing that
// stitches the sub-machines together.
func (s *Store) effects(a Action, meta ActionMeta) {
	switch a := a.(type) {
	case P2pAction:
		a.A.Effects(p2pStore{s})
		s.p2pHooks(a.A)
	case LedgerAction:
		a.A.Effects(ledgerStore{s})
		s.ledgerHooks(a.A)
	case VrfEvaluatorAction:
		a.A.Effects(vrfStore{s})
		s.vrfHooks(a.A)
	case BlockProducerAction:
		a.A.Effects(producerStore{s})
		s.producerHooks(a.A)
	case BestTipUpdateAction:
		s.bestTipEffects(a)
	case CheckTimeoutsAction:
		s.checkTimeouts(meta)
	}
}

// p2pHooks reacts to p2p actions that other components care about.
func (s *Store) p2pHooks(a p2p.Action) {
	switch a := a.(type) {
	case p2p.PeerReadyAction:
		s.feed.Send(Event{Type: EventPeerReady, PeerID: a.PeerID})

	case p2p.ChannelsRpcRequestReceivedAction:
		s.serveRpcRequest(a)

	case p2p.ChannelsRpcResponseReceivedAction:
		if a.Kind == p2p.RpcKindBestTipWithProof && len(a.Payload) > 0 {
			// The proof body is checked by the external verifier; the
			// core records the sync target.
			s.Dispatch(TransitionFrontierSyncInitAction{Hash: string(a.Payload)})
		}
	}
}

// serveRpcRequest answers the remote procedures the core can serve itself.
func (s *Store) serveRpcRequest(a p2p.ChannelsRpcRequestReceivedAction) {
	switch a.Kind {
	case p2p.RpcKindInitialPeers:
		target := a.PeerID
		if id, err := identity.PeerIDFromBytes(a.Payload); err == nil {
			target = id
		}
		s.Dispatch(P2pAction{A: p2p.KadFindNodeRequestAction{
			From:     a.PeerID,
			StreamID: a.StreamID,
			RpcID:    a.ID,
			Target:   target,
		}})

	case p2p.RpcKindBestTipWithProof:
		s.Dispatch(P2pAction{A: p2p.RpcOutgoingResponseAction{
			PeerID:   a.PeerID,
			StreamID: a.StreamID,
			ID:       a.ID,
			Kind:     a.Kind,
			Payload:  []byte(s.state.TransitionFrontier.BestTipHash),
		}})

	default:
		s.log.Debug("Unserved rpc request", "kind", a.Kind, "peer", a.PeerID.TerminalString())
	}
}

// ledgerHooks routes completed reads to their consumers.
func (s *Store) ledgerHooks(a ledger.Action) {
	success, ok := a.(ledger.ReadSuccessAction)
	if !ok {
		return
	}
	resp, ok := success.Response.(ledger.DelegatorTableResponse)
	if !ok || s.dl == nil {
		return
	}
	dl := s.dl
	if resp.LedgerHash == dl.current {
		dl.curTable, dl.gotCurrent = resp.Table, true
	}
	if resp.LedgerHash == dl.next {
		dl.nextTable, dl.gotNext = resp.Table, true
	}
	if !dl.gotCurrent || !dl.gotNext {
		return
	}
	s.dl = nil
	s.Dispatch(VrfEvaluatorAction{A: vrfevaluator.UpdateProducerAndDelegatesSuccessAction{
		CurrentEpochDelegators: dl.curTable,
		NextEpochDelegators:    dl.nextTable,
		StakingLedgerHash:      dl.current,
	}})
}

// vrfHooks wakes the producer shell on won slots.
func (s *Store) vrfHooks(a vrfevaluator.Action) {
	success, ok := a.(vrfevaluator.EvaluationSuccessAction)
	if !ok || !success.Result.Won {
		return
	}
	s.feed.Send(Event{Type: EventSlotWon, Slot: success.Result.GlobalSlot})
	s.Dispatch(BlockProducerAction{A: blockproducer.WonSlotAction{Result: success.Result}})
}

func (s *Store) producerHooks(a blockproducer.Action) {
	if done, ok := a.(blockproducer.ProduceDoneAction); ok {
		s.feed.Send(Event{Type: EventBlockProduced, Slot: done.GlobalSlot})
	}
}

// bestTipEffects restarts the vrf evaluator when the best tip crossed an
// epoch boundary.
func (s *Store) bestTipEffects(a BestTipUpdateAction) {
	if !s.state.BlockProducer.Enabled {
		return
	}
	s.Dispatch(BlockProducerAction{A: blockproducer.DiscardStaleSlotsAction{BestTipSlot: a.GlobalSlot}})
	vrf := s.state.BlockProducer.VrfEvaluator
	if vrf.HasEpoch && vrf.CurrentEpoch == a.Epoch {
		return
	}
	s.Dispatch(VrfEvaluatorAction{A: vrfevaluator.EpochDataUpdateAction{
		Epoch:         a.Epoch,
		EpochData:     a.EpochData,
		NextEpochData: a.NextEpochData,
		BestTipSlot:   a.GlobalSlot,
	}})
}

// checkTimeouts is the periodic sweep: fresh outbound dial, reconnects,
// handshake and rpc deadlines, best-tip sync rpc and due block production.
func (s *Store) checkTimeouts(meta ActionMeta) {
	now := meta.Time
	st := s.state

	s.Dispatch(P2pAction{A: p2p.OutgoingRandomInitAction{}})

	for _, id := range st.P2p.SortedPeerIDs() {
		p := st.P2p.Peers[id]
		if p.Status == p2p.PeerDisconnected && p.DialOpts != nil {
			s.Dispatch(P2pAction{A: p2p.OutgoingReconnectAction{Opts: *p.DialOpts}})
		}
	}

	for _, addr := range st.P2p.HandshakeTimeouts(now) {
		s.Dispatch(P2pAction{A: p2p.PnetTimeoutAction{Addr: addr}})
	}

	for _, pr := range st.P2p.RpcTimeouts(now) {
		s.Dispatch(P2pAction{A: p2p.ChannelsRpcTimeoutAction{PeerID: pr.PeerID, ID: pr.ID}})
	}

	s.maybeRequestBestTip()

	bp := st.BlockProducer
	if bp.Enabled && bp.ProducingSlot == nil && len(bp.PendingSlots) > 0 {
		due := bp.PendingSlots[0].GlobalSlot
		if st.GlobalSlot(now) >= due {
			s.Dispatch(BlockProducerAction{A: blockproducer.ProduceInitAction{GlobalSlot: due}})
		}
	}
}

// maybeRequestBestTip asks one peer for the best tip with its proof when
// the consensus tip differs from both the applied and the syncing tip and
// no such rpc is already outstanding.
func (s *Store) maybeRequestBestTip() {
	st := s.state
	tip := st.Consensus.BestTipHash
	if tip == "" || tip == st.TransitionFrontier.BestTipHash || tip == st.TransitionFrontier.SyncBestTipHash {
		return
	}
	for _, id := range st.P2p.ReadyPeerIDs() {
		ch := st.P2p.Peers[id].Channels
		if ch == nil {
			continue
		}
		for _, kind := range ch.Rpc.PendingKinds() {
			if kind == p2p.RpcKindBestTipWithProof {
				return
			}
		}
	}
	peers := st.P2p.ReadyRpcPeerIDs()
	if len(peers) == 0 {
		return
	}
	// Deterministic choice: the last ready rpc peer in canonical order.
	peerID := peers[len(peers)-1]
	rpcID := st.P2p.Peers[peerID].Channels.Rpc.NextLocalID
	s.Dispatch(P2pAction{A: p2p.ChannelsRpcRequestSendAction{
		PeerID:  peerID,
		ID:      rpcID,
		Request: p2p.RpcRequest{Kind: p2p.RpcKindBestTipWithProof},
	}})
}
