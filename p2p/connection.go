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
	"github.com/lambdaclass/openmina/p2p/kad"
)

// Action is a p2p state transition event. Reducers run via State.Reduce;
// Effects may dispatch follow-up actions and talk to the transport service.
type Action interface {
	IsEnabled(s *State) bool
	Effects(store Store)
}

// OutgoingRandomInitAction asks for one fresh outbound connection attempt,
// dispatched on every timeout tick.
type OutgoingRandomInitAction struct{}

func (OutgoingRandomInitAction) IsEnabled(s *State) bool {
	ready := 0
	for _, p := range s.Peers {
		if p.Status == PeerReady {
			ready++
		}
	}
	return ready < s.Config.MaxPeers
}

func (OutgoingRandomInitAction) Effects(store Store) {
	s := store.P2p()
	iter := s.Kad.ClosestPeers(kad.KeyFromPeerID(s.ThisPeerID))
	for {
		e, ok := iter.Next()
		if !ok {
			return
		}
		if _, known := s.Peers[e.PeerID]; known || len(e.Addrs) == 0 {
			continue
		}
		store.Dispatch(OutgoingInitAction{Opts: DialOpts{
			PeerID: e.PeerID,
			Addr:   ConnAddr(multiaddrToDial(e.Addrs[0])),
		}})
		return
	}
}

// OutgoingInitAction starts an outbound connection.
type OutgoingInitAction struct {
	Opts DialOpts
}

func (a OutgoingInitAction) IsEnabled(s *State) bool {
	if a.Opts.Addr == "" {
		return false
	}
	if p, ok := s.Peers[a.Opts.PeerID]; ok && p.Status != PeerDisconnected {
		return false
	}
	_, dialing := s.Connections[a.Opts.Addr]
	return !dialing
}

func (a OutgoingInitAction) reduce(s *State, now mclock.AbsTime) {
	opts := a.Opts
	p := s.peer(opts.PeerID)
	p.Status = PeerConnecting
	p.DisconnectReason = DisconnectReasonNone
	p.DialOpts = &opts
	p.ConnAddr = opts.Addr
	s.Connections[opts.Addr] = &ConnectionState{
		Addr:      opts.Addr,
		PeerID:    opts.PeerID,
		StartedAt: now,
		Streams:   make(map[uint32]*StreamState),
	}
}

func (a OutgoingInitAction) Effects(store Store) {
	s := store.P2p()
	if a.Opts.PeerID == s.ThisPeerID {
		// Dialing ourselves can never produce a usable session; fail the
		// attempt before the reactor wastes a socket on it.
		store.Dispatch(DisconnectAction{Addr: a.Opts.Addr, Reason: DisconnectReasonSelfConnection})
		return
	}
	store.Service().Dial(a.Opts.Addr)
}

// OutgoingReconnectAction retries a disconnected peer using its stored dial
// options.
type OutgoingReconnectAction struct {
	Opts DialOpts
}

func (a OutgoingReconnectAction) IsEnabled(s *State) bool {
	p, ok := s.Peers[a.Opts.PeerID]
	return ok && p.Status == PeerDisconnected && p.DialOpts != nil
}

func (a OutgoingReconnectAction) Effects(store Store) {
	store.Dispatch(OutgoingInitAction{Opts: a.Opts})
}

// OutgoingDidConnectAction reports that the reactor completed the TCP dial.
type OutgoingDidConnectAction struct {
	Addr ConnAddr
}

func (a OutgoingDidConnectAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	return ok && !cn.Incoming
}

func (a OutgoingDidConnectAction) reduce(s *State) {
	cn := s.Connections[a.Addr]
	if p, ok := s.Peers[cn.PeerID]; ok {
		p.Status = PeerHandshaking
	}
}

func (a OutgoingDidConnectAction) Effects(store Store) {
	store.Dispatch(PnetSetupNonceAction{
		Addr:     a.Addr,
		Nonce:    randomNonce(store.Service()),
		Incoming: false,
	})
}

// IncomingDidAcceptAction reports a fresh inbound connection.
type IncomingDidAcceptAction struct {
	Addr ConnAddr
}

func (a IncomingDidAcceptAction) IsEnabled(s *State) bool {
	_, exists := s.Connections[a.Addr]
	return a.Addr != "" && !exists
}

func (a IncomingDidAcceptAction) reduce(s *State, now mclock.AbsTime) {
	s.Connections[a.Addr] = &ConnectionState{
		Addr:      a.Addr,
		Incoming:  true,
		StartedAt: now,
		Streams:   make(map[uint32]*StreamState),
	}
}

func (a IncomingDidAcceptAction) Effects(store Store) {
	store.Dispatch(PnetSetupNonceAction{
		Addr:     a.Addr,
		Nonce:    randomNonce(store.Service()),
		Incoming: true,
	})
}

// PeerReadyAction promotes a peer whose full session stack is established.
type PeerReadyAction struct {
	PeerID identity.PeerID
	Addr   ConnAddr
}

func (a PeerReadyAction) IsEnabled(s *State) bool {
	_, ok := s.Connections[a.Addr]
	return ok && a.PeerID != ""
}

func (a PeerReadyAction) reduce(s *State, now mclock.AbsTime) {
	p := s.peer(a.PeerID)
	p.Status = PeerReady
	p.ConnAddr = a.Addr
	p.LastSeen = now
	if p.Channels == nil {
		p.Channels = newChannelsState()
	}
	if p.DialOpts == nil {
		// Incoming peers become dial-able through their observed address.
		p.DialOpts = &DialOpts{PeerID: a.PeerID, Addr: a.Addr}
	}
	entry := kad.NewEntry(a.PeerID, nil)
	entry.Connection = kad.Connected
	s.Kad.Insert(entry)
	s.log.Debug("Peer ready", "peer", a.PeerID.TerminalString(), "addr", a.Addr)
}

func (a PeerReadyAction) Effects(store Store) {}

// DisconnectAction tears down a connection and everything layered on it.
type DisconnectAction struct {
	Addr   ConnAddr
	Reason DisconnectReason
}

func (a DisconnectAction) IsEnabled(s *State) bool {
	_, ok := s.Connections[a.Addr]
	return ok
}

func (a DisconnectAction) reduce(s *State) {
	cn := s.Connections[a.Addr]
	delete(s.Connections, a.Addr)

	peerID := cn.PeerID
	if peerID == "" {
		return
	}
	delete(s.RpcIncomingStreams, peerID)
	delete(s.RpcOutgoingStreams, peerID)

	p, ok := s.Peers[peerID]
	if !ok {
		return
	}
	p.Status = PeerDisconnected
	p.DisconnectReason = a.Reason
	if p.Channels != nil {
		// Pending local RPCs on this peer can never complete now.
		for id, pending := range p.Channels.Rpc.PendingLocal {
			s.log.Debug("Rpc failed on disconnect", "peer", peerID.TerminalString(), "id", id, "kind", pending.Kind)
		}
		p.Channels = nil
	}
	if a.Reason.IsError() {
		s.log.Debug("Peer disconnected with error", "peer", peerID.TerminalString(), "reason", a.Reason)
	}
}

func (a DisconnectAction) Effects(store Store) {
	store.Service().Close(a.Addr)
}
