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
	"github.com/lambdaclass/openmina/p2p/identity"
	"github.com/lambdaclass/openmina/p2p/kad"
)

// KadMessageReceivedAction lifts a FIND_NODE peer list from a peer into the
// routing table. Invalid records reject the whole message.
type KadMessageReceivedAction struct {
	From identity.PeerID
	Raw  []kad.RawPeer
}

func (a KadMessageReceivedAction) IsEnabled(s *State) bool {
	p, ok := s.Peers[a.From]
	return ok && p.Status == PeerReady
}

func (a KadMessageReceivedAction) reduce(s *State) {
	msg, err := kad.ParseMessage(a.Raw)
	if err != nil {
		// Offending message is dropped whole; the peer stays connected.
		s.log.Debug("Dropping kad message", "peer", a.From.TerminalString(), "err", err)
		return
	}
	for _, entry := range msg.Peers {
		if entry.PeerID == s.ThisPeerID {
			continue
		}
		s.Kad.Insert(entry)
	}
}

func (a KadMessageReceivedAction) Effects(store Store) {}

// KadFindNodeRequestAction answers a peer's FIND_NODE query from the local
// routing table.
type KadFindNodeRequestAction struct {
	From     identity.PeerID
	StreamID uint32
	RpcID    uint64
	Target   identity.PeerID
}

func (a KadFindNodeRequestAction) IsEnabled(s *State) bool {
	p, ok := s.Peers[a.From]
	return ok && p.Status == PeerReady
}

func (a KadFindNodeRequestAction) Effects(store Store) {
	s := store.P2p()
	found := s.Kad.FindNode(kad.KeyFromPeerID(a.Target))
	raw := kad.EncodeMessage(&kad.Message{Peers: found})
	store.Dispatch(RpcOutgoingResponseAction{
		PeerID:   a.From,
		StreamID: a.StreamID,
		ID:       a.RpcID,
		Kind:     RpcKindInitialPeers,
		Payload:  encodeKadPayload(raw),
	})
}

// encodeKadPayload is a stand-in for the external wire codec: the core only
// guarantees the record structure, not its bit layout.
func encodeKadPayload(raw []kad.RawPeer) []byte {
	var out []byte
	for _, p := range raw {
		out = append(out, byte(len(p.ID)))
		out = append(out, p.ID...)
		out = append(out, byte(len(p.Addrs)))
		for _, addr := range p.Addrs {
			out = append(out, byte(len(addr)))
			out = append(out, addr...)
		}
		out = append(out, byte(p.Connection))
	}
	return out
}
