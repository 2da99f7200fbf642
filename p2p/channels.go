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

package p2p

import (
	"github.com/ethereum/go-ethereum/common/mclock"

	"github.com/lambdaclass/openmina/p2p/identity"
)

// ChannelsRpcRequestSendAction issues a local rpc to a ready peer, arming
// its deadline.
type ChannelsRpcRequestSendAction struct {
	PeerID  identity.PeerID
	ID      uint64
	Request RpcRequest
}

func (a ChannelsRpcRequestSendAction) IsEnabled(s *State) bool {
	p, ok := s.Peers[a.PeerID]
	if !ok || p.Status != PeerReady || p.Channels == nil {
		return false
	}
	_, pending := p.Channels.Rpc.PendingLocal[a.ID]
	return !pending
}

func (a ChannelsRpcRequestSendAction) reduce(s *State, now mclock.AbsTime) {
	rpc := &s.Peers[a.PeerID].Channels.Rpc
	rpc.PendingLocal[a.ID] = &PendingRpc{
		Kind:     a.Request.Kind,
		SentAt:   now,
		Deadline: now.Add(s.Config.RPCTimeout),
	}
	if a.ID >= rpc.NextLocalID {
		rpc.NextLocalID = a.ID + 1
	}
}

func (a ChannelsRpcRequestSendAction) Effects(store Store) {
	store.Dispatch(RpcOutgoingQueryAction{
		PeerID:  a.PeerID,
		ID:      a.ID,
		Kind:    a.Request.Kind,
		Payload: a.Request.Payload,
	})
}

// ChannelsRpcTimeoutAction expires one pending local rpc.
type ChannelsRpcTimeoutAction struct {
	PeerID identity.PeerID
	ID     uint64
}

func (a ChannelsRpcTimeoutAction) IsEnabled(s *State) bool {
	p, ok := s.Peers[a.PeerID]
	if !ok || p.Channels == nil {
		return false
	}
	_, pending := p.Channels.Rpc.PendingLocal[a.ID]
	return pending
}

func (a ChannelsRpcTimeoutAction) reduce(s *State) {
	p := s.Peers[a.PeerID]
	pending := p.Channels.Rpc.PendingLocal[a.ID]
	delete(p.Channels.Rpc.PendingLocal, a.ID)
	s.log.Warn("Rpc timed out", "peer", a.PeerID.TerminalString(), "id", a.ID, "kind", pending.Kind)
}

func (a ChannelsRpcTimeoutAction) Effects(store Store) {}

// ChannelsRpcResponseReceivedAction settles a pending local rpc. The
// response kind must match the request's; a mismatch is a protocol error
// and leaves the rpc pending until it times out.
type ChannelsRpcResponseReceivedAction struct {
	PeerID  identity.PeerID
	ID      uint64
	Kind    RpcKind
	Payload []byte
}

func (a ChannelsRpcResponseReceivedAction) IsEnabled(s *State) bool {
	p, ok := s.Peers[a.PeerID]
	if !ok || p.Channels == nil {
		return false
	}
	pending, ok := p.Channels.Rpc.PendingLocal[a.ID]
	return ok && pending.Kind == a.Kind
}

func (a ChannelsRpcResponseReceivedAction) reduce(s *State, now mclock.AbsTime) {
	p := s.Peers[a.PeerID]
	delete(p.Channels.Rpc.PendingLocal, a.ID)
	p.LastSeen = now
}

func (a ChannelsRpcResponseReceivedAction) Effects(store Store) {}

// ChannelsRpcRequestReceivedAction surfaces a remote query; the node layer
// routes it to whatever can answer.
type ChannelsRpcRequestReceivedAction struct {
	PeerID   identity.PeerID
	StreamID uint32
	ID       uint64
	Kind     RpcKind
	Payload  []byte
}

func (a ChannelsRpcRequestReceivedAction) IsEnabled(s *State) bool {
	p, ok := s.Peers[a.PeerID]
	return ok && p.Status == PeerReady
}

func (a ChannelsRpcRequestReceivedAction) reduce(s *State, now mclock.AbsTime) {
	s.Peers[a.PeerID].LastSeen = now
}

func (a ChannelsRpcRequestReceivedAction) Effects(store Store) {}
