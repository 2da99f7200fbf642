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
	"sort"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"

	"github.com/lambdaclass/openmina/p2p/identity"
	"github.com/lambdaclass/openmina/p2p/kad"
)

// ConnectionState is the wire-session state of one transport connection,
// the stack of protocol machines layered over the socket.
type ConnectionState struct {
	Addr     ConnAddr
	Incoming bool
	// PeerID is known up front for outgoing dials and learned from the
	// noise handshake for incoming ones.
	PeerID    identity.PeerID
	StartedAt mclock.AbsTime

	Pnet       PnetState
	SelectAuth SelectState
	SelectMux  SelectState
	Auth       *NoiseState
	Mux        *YamuxState

	Streams map[uint32]*StreamState
}

// StreamState is the per-yamux-stream protocol stack.
type StreamState struct {
	Select SelectState
	Rpc    *RpcStreamState
}

// State is the root of the p2p sub-state. It is owned by the dispatcher and
// mutated only from reducers.
type State struct {
	Config     Config
	ThisPeerID identity.PeerID
	PnetSecret [32]byte

	Peers       map[identity.PeerID]*PeerState
	Connections map[ConnAddr]*ConnectionState

	// RPC substream registries, keyed peer then stream id. Lookups with
	// AnyIncoming/AnyOutgoing take the lowest-keyed stream.
	RpcIncomingStreams map[identity.PeerID]map[uint32]*RpcStreamState
	RpcOutgoingStreams map[identity.PeerID]map[uint32]*RpcStreamState

	Kad    *kad.RoutingTable
	Gossip *GossipState

	log log.Logger
}

// NewState builds the p2p state for the given configuration.
func NewState(cfg Config) *State {
	cfg = cfg.withDefaults()
	thisID := cfg.SecretKey.PublicKey().PeerID()
	return &State{
		Config:             cfg,
		ThisPeerID:         thisID,
		PnetSecret:         PnetKey(cfg.ChainID),
		Peers:              make(map[identity.PeerID]*PeerState),
		Connections:        make(map[ConnAddr]*ConnectionState),
		RpcIncomingStreams: make(map[identity.PeerID]map[uint32]*RpcStreamState),
		RpcOutgoingStreams: make(map[identity.PeerID]map[uint32]*RpcStreamState),
		Kad:                kad.NewRoutingTable(kad.NewEntry(thisID, nil)),
		Gossip:             newGossipState(cfg),
		log:                log.New("self", thisID.TerminalString()),
	}
}

func (s *State) peer(id identity.PeerID) *PeerState {
	p, ok := s.Peers[id]
	if !ok {
		p = &PeerState{Status: PeerConnecting}
		s.Peers[id] = p
	}
	return p
}

// SortedPeerIDs returns all peer ids in canonical order. Every iteration
// the protocol exposes is done in this order to keep dispatch deterministic.
func (s *State) SortedPeerIDs() []identity.PeerID {
	ids := make([]identity.PeerID, 0, len(s.Peers))
	for id := range s.Peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// ReadyPeerIDs returns the ids of all Ready peers in canonical order.
func (s *State) ReadyPeerIDs() []identity.PeerID {
	var ids []identity.PeerID
	for _, id := range s.SortedPeerIDs() {
		if s.Peers[id].Status == PeerReady {
			ids = append(ids, id)
		}
	}
	return ids
}

// ReadyRpcPeerIDs returns ready peers that have an outgoing rpc stream
// open, in canonical order.
func (s *State) ReadyRpcPeerIDs() []identity.PeerID {
	var ids []identity.PeerID
	for _, id := range s.ReadyPeerIDs() {
		if len(s.RpcOutgoingStreams[id]) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// PeerRpcID names one outstanding local rpc.
type PeerRpcID struct {
	PeerID identity.PeerID
	ID     uint64
}

// RpcTimeouts lists every pending local rpc whose deadline has passed.
func (s *State) RpcTimeouts(now mclock.AbsTime) []PeerRpcID {
	var out []PeerRpcID
	for _, id := range s.SortedPeerIDs() {
		p := s.Peers[id]
		if p.Status != PeerReady || p.Channels == nil {
			continue
		}
		rpcIDs := make([]uint64, 0, len(p.Channels.Rpc.PendingLocal))
		for rpcID := range p.Channels.Rpc.PendingLocal {
			rpcIDs = append(rpcIDs, rpcID)
		}
		sort.Slice(rpcIDs, func(i, j int) bool { return rpcIDs[i] < rpcIDs[j] })
		for _, rpcID := range rpcIDs {
			if now > p.Channels.Rpc.PendingLocal[rpcID].Deadline {
				out = append(out, PeerRpcID{PeerID: id, ID: rpcID})
			}
		}
	}
	return out
}

// HandshakeTimeouts lists connections that have not become ready within the
// handshake deadline.
func (s *State) HandshakeTimeouts(now mclock.AbsTime) []ConnAddr {
	var out []ConnAddr
	addrs := make([]ConnAddr, 0, len(s.Connections))
	for addr := range s.Connections {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for _, addr := range addrs {
		cn := s.Connections[addr]
		if cn.Mux != nil {
			continue // session established
		}
		if now > cn.StartedAt.Add(s.Config.HandshakeTimeout) {
			out = append(out, addr)
		}
	}
	return out
}

// RpcStreamLookup selects an rpc substream of a peer.
type RpcStreamLookup struct {
	kind     rpcLookupKind
	streamID uint32
}

type rpcLookupKind int

const (
	rpcLookupExact rpcLookupKind = iota
	rpcLookupAnyIncoming
	rpcLookupAnyOutgoing
)

// ExactStream selects the stream with the given id.
func ExactStream(id uint32) RpcStreamLookup {
	return RpcStreamLookup{kind: rpcLookupExact, streamID: id}
}

// AnyIncomingStream selects the lowest-keyed incoming rpc stream.
func AnyIncomingStream() RpcStreamLookup { return RpcStreamLookup{kind: rpcLookupAnyIncoming} }

// AnyOutgoingStream selects the lowest-keyed outgoing rpc stream.
func AnyOutgoingStream() RpcStreamLookup { return RpcStreamLookup{kind: rpcLookupAnyOutgoing} }

// FindRpcStream resolves a stream lookup against the per-peer registries.
func (s *State) FindRpcStream(peer identity.PeerID, lookup RpcStreamLookup) *RpcStreamState {
	switch lookup.kind {
	case rpcLookupExact:
		if st, ok := s.RpcIncomingStreams[peer][lookup.streamID]; ok {
			return st
		}
		return s.RpcOutgoingStreams[peer][lookup.streamID]
	case rpcLookupAnyIncoming:
		return lowestStream(s.RpcIncomingStreams[peer])
	case rpcLookupAnyOutgoing:
		return lowestStream(s.RpcOutgoingStreams[peer])
	default:
		return nil
	}
}

func lowestStream(streams map[uint32]*RpcStreamState) *RpcStreamState {
	var (
		best   *RpcStreamState
		bestID uint32
	)
	for id, st := range streams {
		if best == nil || id < bestID {
			best, bestID = st, id
		}
	}
	return best
}
