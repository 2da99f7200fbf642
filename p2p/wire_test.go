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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPnetKeyDerivation(t *testing.T) {
	// Distinct chains must derive distinct stream keys, stably.
	a1 := PnetKey("mainnet")
	a2 := PnetKey("mainnet")
	b := PnetKey("devnet")
	require.Equal(t, a1, a2)
	require.NotEqual(t, a1, b)
}

func TestSelectTokenCodec(t *testing.T) {
	wire := encodeToken(protoNoise)
	token, rest, ok, malformed := nextToken(wire)
	require.True(t, ok)
	require.False(t, malformed)
	require.Empty(t, rest)
	require.Equal(t, protoNoise, token)

	// Partial input asks for more bytes without failing.
	_, _, ok, malformed = nextToken(wire[:3])
	require.False(t, ok)
	require.False(t, malformed)

	// A token missing its newline is malformed.
	bad := append([]byte{2}, 'h', 'i')
	_, _, _, malformed = nextToken(bad)
	require.True(t, malformed)
}

func TestSelectNegotiation(t *testing.T) {
	var dialer, listener SelectState
	dialer.reduceInit(SelectAuth, false)
	listener.reduceInit(SelectAuth, true)

	dialer.drainTokens()
	listener.drainTokens()

	// Listener consumes the dialer's handshake and proposal.
	listener.reduceIncoming(dialer.OutBytes)
	require.Equal(t, protoNoise, listener.Negotiated)
	require.True(t, listener.JustNegotiated)
	require.Equal(t, []string{protoNoise}, listener.TokensToSend)

	// Dialer consumes the echo; the listener's second drain holds only it.
	listener.drainTokens()
	dialer.reduceIncoming(listener.OutBytes)
	require.Equal(t, protoNoise, dialer.Negotiated)

	// Once negotiated, payload passes through untouched.
	payload := []byte("after-negotiation")
	dialer.reduceIncoming(payload)
	require.Equal(t, payload, dialer.ToForward)
}

func TestSelectRejectsUnknownProtocol(t *testing.T) {
	var listener SelectState
	listener.reduceInit(SelectAuth, true)
	listener.drainTokens()

	wire := append(encodeToken(protoMultistream), encodeToken("/tls/1.0.0")...)
	listener.reduceIncoming(wire)
	require.True(t, listener.Failed)
	require.Contains(t, listener.TokensToSend, tokenNa)
}

func TestYamuxFrameCodec(t *testing.T) {
	var st YamuxState
	st.Streams = make(map[uint32]*YamuxStreamState)

	in := dataFrame(7, []byte("hello"))
	in.Flags = yamuxFlagSYN
	st.buf = in.encode()
	st.parseFrames()
	require.Len(t, st.PendingFrames, 1)

	got := st.PendingFrames[0]
	require.Equal(t, uint8(yamuxTypeData), got.Type)
	require.Equal(t, yamuxFlagSYN, got.Flags)
	require.Equal(t, uint32(7), got.StreamID)
	require.True(t, bytes.Equal([]byte("hello"), got.Data))
}

func TestYamuxPartialFrameWaits(t *testing.T) {
	var st YamuxState
	wire := dataFrame(1, []byte("abcdef")).encode()
	st.buf = wire[:len(wire)-3]
	st.parseFrames()
	require.Empty(t, st.PendingFrames)
	require.False(t, st.Failed)

	st.buf = append(st.buf, wire[len(wire)-3:]...)
	st.parseFrames()
	require.Len(t, st.PendingFrames, 1)
}

func TestYamuxBadVersionFails(t *testing.T) {
	var st YamuxState
	f := dataFrame(1, nil)
	f.Version = 9
	st.buf = f.encode()
	st.parseFrames()
	require.True(t, st.Failed)
	require.Equal(t, DisconnectReasonYamuxFraming, st.FailReason)
}

func TestRpcMessageFraming(t *testing.T) {
	msg := RpcMessage{IsResponse: true, ID: 42, Kind: RpcKindBestTipWithProof, Payload: []byte("tip")}
	wire := encodeRpcMessage(msg)

	var st RpcStreamState
	st.buf = wire
	body, ok := st.popMessage()
	require.True(t, ok)

	got, err := parseRpcMessage(body)
	require.NoError(t, err)
	require.Equal(t, msg, got)

	// Trailing garbage with an oversized length prefix poisons the stream.
	st.buf = []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}
	_, ok = st.popMessage()
	require.False(t, ok)
	require.True(t, st.Failed)
}

func TestGossipDedupAndFanout(t *testing.T) {
	n := newTestNode(t, "testchain")
	g := n.state.Gossip

	g.record("msg-1", "peer-a")
	require.True(t, g.JustFresh)
	g.record("msg-1", "peer-b")
	require.False(t, g.JustFresh)

	holders := g.holdersOf("msg-1")
	require.True(t, holders.Contains("peer-a"))
	require.True(t, holders.Contains("peer-b"))
	require.False(t, holders.Contains("peer-c"))
}
