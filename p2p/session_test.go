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
	"crypto/rand"
	"fmt"
	"io"
	"testing"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/stretchr/testify/require"

	"github.com/lambdaclass/openmina/p2p/identity"
)

// testNode drives one State through the Store contract and records
// everything handed to the transport.
type testNode struct {
	t     *testing.T
	state *State
	clock *mclock.Simulated

	// sent collects (addr, data) pairs queued for the wire.
	sent []sentChunk
	// dispatched records action type names in dispatch order.
	dispatched []string

	dialed []ConnAddr
	closed []ConnAddr
}

type sentChunk struct {
	addr ConnAddr
	data []byte
}

func newTestNode(t *testing.T, chainID string) *testNode {
	t.Helper()
	key, err := identity.GenerateSecretKey()
	require.NoError(t, err)
	return &testNode{
		t:     t,
		clock: new(mclock.Simulated),
		state: NewState(Config{ChainID: chainID, SecretKey: key}),
	}
}

func (n *testNode) P2p() *State     { return n.state }
func (n *testNode) Service() Service { return n }

func (n *testNode) Dispatch(a Action) bool {
	if !a.IsEnabled(n.state) {
		return false
	}
	n.dispatched = append(n.dispatched, fmt.Sprintf("%T", a))
	n.state.Reduce(a, n.clock.Now())
	a.Effects(n)
	return true
}

func (n *testNode) Dial(addr ConnAddr)  { n.dialed = append(n.dialed, addr) }
func (n *testNode) Close(addr ConnAddr) { n.closed = append(n.closed, addr) }
func (n *testNode) Rand() io.Reader     { return rand.Reader }

func (n *testNode) Send(addr ConnAddr, data []byte) {
	n.sent = append(n.sent, sentChunk{addr: addr, data: append([]byte(nil), data...)})
}

// takeSent drains the outgoing queue.
func (n *testNode) takeSent() []sentChunk {
	out := n.sent
	n.sent = nil
	return out
}

// pump shuttles queued bytes between the two nodes until neither produces
// more output.
func pump(a, b *testNode, aConnAddr, bConnAddr ConnAddr) {
	for i := 0; i < 1000; i++ {
		moved := false
		for _, chunk := range a.takeSent() {
			moved = true
			b.Dispatch(PnetIncomingDataAction{Addr: bConnAddr, Data: chunk.data})
		}
		for _, chunk := range b.takeSent() {
			moved = true
			a.Dispatch(PnetIncomingDataAction{Addr: aConnAddr, Data: chunk.data})
		}
		if !moved {
			return
		}
	}
	a.t.Fatal("session did not settle")
}

func indexOf(list []string, name string) int {
	for i, v := range list {
		if v == name {
			return i
		}
	}
	return -1
}

// TestAcceptIncomingConnection drives a full session establishment between
// a listener and a dialer: pnet nonces, multistream negotiation, noise XX,
// yamux and the rpc substream, ending with both peers Ready.
func TestAcceptIncomingConnection(t *testing.T) {
	listener := newTestNode(t, "testchain")
	dialer := newTestNode(t, "testchain")

	const (
		dialerSeenAddr   = ConnAddr("10.0.0.2:51123") // listener's view of the dialer
		listenerSeenAddr = ConnAddr("10.0.0.1:8302")  // dialer's view of the listener
	)

	require.True(t, listener.Dispatch(IncomingDidAcceptAction{Addr: dialerSeenAddr}))
	require.True(t, dialer.Dispatch(OutgoingInitAction{Opts: DialOpts{
		PeerID: listener.state.ThisPeerID,
		Addr:   listenerSeenAddr,
	}}))
	require.Equal(t, []ConnAddr{listenerSeenAddr}, dialer.dialed)
	require.True(t, dialer.Dispatch(OutgoingDidConnectAction{Addr: listenerSeenAddr}))

	pump(listener, dialer, dialerSeenAddr, listenerSeenAddr)

	// Both ends bind the right identity and reach Ready.
	lp := listener.state.Peers[dialer.state.ThisPeerID]
	require.NotNil(t, lp, "listener never identified the dialer")
	require.Equal(t, PeerReady, lp.Status)
	require.NotNil(t, lp.Channels)

	dp := dialer.state.Peers[listener.state.ThisPeerID]
	require.NotNil(t, dp)
	require.Equal(t, PeerReady, dp.Status)

	// Observable dispatch order on the listener: noise handshake
	// completion, then the remote-opened substream, then rpc init.
	seq := listener.dispatched
	hs := indexOf(seq, "p2p.NoiseHandshakeDoneAction")
	frame := indexOf(seq, "p2p.YamuxIncomingFrameAction")
	rpcInit := indexOf(seq, "p2p.RpcInitAction")
	ready := indexOf(seq, "p2p.PeerReadyAction")
	require.True(t, hs >= 0 && frame > hs && rpcInit > frame && ready > rpcInit,
		"unexpected order: %v", seq)

	// The rpc substream registries agree about stream 1.
	require.NotNil(t, listener.state.FindRpcStream(dialer.state.ThisPeerID, AnyIncomingStream()))
	require.NotNil(t, dialer.state.FindRpcStream(listener.state.ThisPeerID, AnyOutgoingStream()))
}

// TestChainIDMismatchNeverCompletes checks that nodes keyed to different
// chains cannot get past the obfuscation layer.
func TestChainIDMismatchNeverCompletes(t *testing.T) {
	listener := newTestNode(t, "mainnet")
	dialer := newTestNode(t, "testnet")

	const (
		dialerSeenAddr   = ConnAddr("10.0.0.2:51123")
		listenerSeenAddr = ConnAddr("10.0.0.1:8302")
	)

	require.True(t, listener.Dispatch(IncomingDidAcceptAction{Addr: dialerSeenAddr}))
	require.True(t, dialer.Dispatch(OutgoingInitAction{Opts: DialOpts{
		PeerID: listener.state.ThisPeerID,
		Addr:   listenerSeenAddr,
	}}))
	dialer.Dispatch(OutgoingDidConnectAction{Addr: listenerSeenAddr})

	pump(listener, dialer, dialerSeenAddr, listenerSeenAddr)

	// Garbled streams may or may not trigger an explicit disconnect, but a
	// session must never come up.
	for _, p := range listener.state.Peers {
		require.NotEqual(t, PeerReady, p.Status)
	}
	for _, p := range dialer.state.Peers {
		require.NotEqual(t, PeerReady, p.Status)
	}
}

// TestRejectSelfDial covers dialing the node's own peer id: the attempt
// fails immediately with the peer marked as errored.
func TestRejectSelfDial(t *testing.T) {
	n := newTestNode(t, "testchain")

	require.True(t, n.Dispatch(OutgoingInitAction{Opts: DialOpts{
		PeerID: n.state.ThisPeerID,
		Addr:   "127.0.0.1:8302",
	}}))

	p := n.state.Peers[n.state.ThisPeerID]
	require.NotNil(t, p)
	require.Equal(t, PeerDisconnected, p.Status)
	require.Equal(t, DisconnectReasonSelfConnection, p.DisconnectReason)
	require.True(t, p.DisconnectReason.IsError())
	require.Empty(t, n.state.Connections)
	require.Equal(t, []ConnAddr{"127.0.0.1:8302"}, n.closed)
	require.Contains(t, n.dispatched, "p2p.DisconnectAction")
}

// TestHandshakeTimeout lists a stalled connection for expiry and checks
// the timeout path tears it down dial-able.
func TestHandshakeTimeout(t *testing.T) {
	n := newTestNode(t, "testchain")
	other, err := identity.GenerateSecretKey()
	require.NoError(t, err)
	otherID := other.PublicKey().PeerID()

	require.True(t, n.Dispatch(OutgoingInitAction{Opts: DialOpts{
		PeerID: otherID,
		Addr:   "10.9.9.9:8302",
	}}))
	require.True(t, n.Dispatch(OutgoingDidConnectAction{Addr: "10.9.9.9:8302"}))

	require.Empty(t, n.state.HandshakeTimeouts(n.clock.Now()))
	n.clock.Run(n.state.Config.HandshakeTimeout + 1)
	expired := n.state.HandshakeTimeouts(n.clock.Now())
	require.Equal(t, []ConnAddr{"10.9.9.9:8302"}, expired)

	require.True(t, n.Dispatch(PnetTimeoutAction{Addr: expired[0]}))
	p := n.state.Peers[otherID]
	require.Equal(t, PeerDisconnected, p.Status)
	require.Equal(t, DisconnectReasonTimeout, p.DisconnectReason)
	require.NotNil(t, p.DialOpts, "timed out peer must stay dial-able")
}
