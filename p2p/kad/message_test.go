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
	"testing"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"
)

func TestParseMessageRoundTrip(t *testing.T) {
	addr := ma.StringCast("/ip4/192.168.1.5/tcp/8302")
	entry := NewEntry(randPeerID(t), []ma.Multiaddr{addr})
	entry.Connection = CanConnect

	raw := EncodeMessage(&Message{Peers: []*Entry{entry}})
	msg, err := ParseMessage(raw)
	require.NoError(t, err)
	require.Len(t, msg.Peers, 1)

	got := msg.Peers[0]
	require.Equal(t, entry.PeerID, got.PeerID)
	require.True(t, got.Key.Equal(entry.Key))
	require.Len(t, got.Addrs, 1)
	require.True(t, got.Addrs[0].Equal(addr))
	require.Equal(t, CanConnect, got.Connection)
}

func TestParseMessageRejectsBadPeerID(t *testing.T) {
	raw := []RawPeer{{ID: []byte{0xff, 0xff, 0xff}}}
	_, err := ParseMessage(raw)
	require.ErrorIs(t, err, ErrBadPeerID)
}

func TestParseMessageRejectsBadMultiaddr(t *testing.T) {
	raw := []RawPeer{{
		ID:    randPeerID(t).Bytes(),
		Addrs: [][]byte{{0x07}},
	}}
	_, err := ParseMessage(raw)
	require.ErrorIs(t, err, ErrBadMultiaddr)
}

func TestParseMessageOneBadPeerRejectsAll(t *testing.T) {
	good := NewEntry(randPeerID(t), nil)
	raw := append(EncodeMessage(&Message{Peers: []*Entry{good}}), RawPeer{ID: []byte{1}})
	_, err := ParseMessage(raw)
	require.Error(t, err)
}
