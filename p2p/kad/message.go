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

package kad

import (
	"errors"
	"fmt"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/lambdaclass/openmina/p2p/identity"
)

var (
	ErrBadPeerID    = errors.New("kad message: invalid peer id")
	ErrBadMultiaddr = errors.New("kad message: invalid multiaddr")
)

// RawPeer is a FIND_NODE peer record as it appears on the wire, before
// validation. The payload codec producing it is external to the core.
type RawPeer struct {
	ID         []byte
	Addrs      [][]byte
	Connection ConnectionState
}

// Message is the payload of a FIND_NODE response: the closest known peers.
type Message struct {
	Peers []*Entry
}

// ParseMessage validates every peer record. A single invalid peer id or
// address rejects the whole message, per the protocol error policy.
func ParseMessage(raw []RawPeer) (*Message, error) {
	msg := &Message{Peers: make([]*Entry, 0, len(raw))}
	for i, p := range raw {
		entry, err := parsePeer(p)
		if err != nil {
			return nil, fmt.Errorf("peer %d: %w", i, err)
		}
		msg.Peers = append(msg.Peers, entry)
	}
	return msg, nil
}

func parsePeer(p RawPeer) (*Entry, error) {
	peerID, err := identity.PeerIDFromBytes(p.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPeerID, err)
	}
	addrs := make([]ma.Multiaddr, 0, len(p.Addrs))
	for _, b := range p.Addrs {
		addr, err := ma.NewMultiaddrBytes(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadMultiaddr, err)
		}
		addrs = append(addrs, addr)
	}
	entry := NewEntry(peerID, addrs)
	entry.Connection = p.Connection
	return entry, nil
}

// EncodeMessage flattens entries back into raw records for the wire codec.
func EncodeMessage(msg *Message) []RawPeer {
	raw := make([]RawPeer, 0, len(msg.Peers))
	for _, e := range msg.Peers {
		p := RawPeer{ID: e.PeerID.Bytes(), Connection: e.Connection}
		for _, addr := range e.Addrs {
			p.Addrs = append(p.Addrs, addr.Bytes())
		}
		raw = append(raw, p)
	}
	return raw
}
