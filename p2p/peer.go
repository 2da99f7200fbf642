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
	"fmt"

	"github.com/ethereum/go-ethereum/common/mclock"

	"github.com/lambdaclass/openmina/p2p/identity"
)

// PeerStatus tracks where a peer is in its lifecycle.
type PeerStatus int

const (
	PeerConnecting PeerStatus = iota
	PeerHandshaking
	PeerReady
	PeerDisconnected
)

func (s PeerStatus) String() string {
	switch s {
	case PeerConnecting:
		return "connecting"
	case PeerHandshaking:
		return "handshaking"
	case PeerReady:
		return "ready"
	case PeerDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// DisconnectReason explains why a peer left the Ready set.
type DisconnectReason int

const (
	DisconnectReasonNone DisconnectReason = iota
	DisconnectReasonTimeout
	DisconnectReasonSelfConnection
	DisconnectReasonNoiseHandshake
	DisconnectReasonPeerIDMismatch
	DisconnectReasonUnknownProtocol
	DisconnectReasonYamuxFraming
	DisconnectReasonRPCDecode
	DisconnectReasonRemoteClosed
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectReasonNone:
		return "none"
	case DisconnectReasonTimeout:
		return "timeout"
	case DisconnectReasonSelfConnection:
		return "self connection"
	case DisconnectReasonNoiseHandshake:
		return "noise handshake failed"
	case DisconnectReasonPeerIDMismatch:
		return "peer id mismatch"
	case DisconnectReasonUnknownProtocol:
		return "unknown protocol"
	case DisconnectReasonYamuxFraming:
		return "yamux framing error"
	case DisconnectReasonRPCDecode:
		return "rpc decode error"
	case DisconnectReasonRemoteClosed:
		return "remote closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// IsError reports whether the reason marks the peer as faulty rather than
// merely gone.
func (r DisconnectReason) IsError() bool {
	switch r {
	case DisconnectReasonNone, DisconnectReasonRemoteClosed:
		return false
	default:
		return true
	}
}

// DialOpts is everything needed to (re)establish an outgoing connection.
type DialOpts struct {
	PeerID identity.PeerID
	Addr   ConnAddr
}

// PeerState is the per-peer record. A disconnected peer keeps its dial
// options so it remains dial-able.
type PeerState struct {
	Status           PeerStatus
	DisconnectReason DisconnectReason
	DialOpts         *DialOpts
	ConnAddr         ConnAddr
	LastSeen         mclock.AbsTime

	// Channels is present exactly while the peer is Ready.
	Channels *ChannelsState
}

// ChannelsState groups the logical channels multiplexed over a ready peer.
type ChannelsState struct {
	Rpc RpcChannelState
}

// RpcKind names the remote procedures the node issues.
type RpcKind int

const (
	RpcKindBestTipWithProof RpcKind = iota + 1
	RpcKindLedgerQuery
	RpcKindStagedLedgerAuxAndPendingCoinbases
	RpcKindInitialPeers
)

func (k RpcKind) String() string {
	switch k {
	case RpcKindBestTipWithProof:
		return "best-tip-with-proof"
	case RpcKindLedgerQuery:
		return "ledger-query"
	case RpcKindStagedLedgerAuxAndPendingCoinbases:
		return "staged-ledger-aux"
	case RpcKindInitialPeers:
		return "initial-peers"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// RpcRequest is a locally initiated RPC. The payload encoding is produced
// by the external codec; the core only routes it.
type RpcRequest struct {
	Kind    RpcKind
	Payload []byte
}

// PendingRpc tracks one outstanding local RPC on a peer.
type PendingRpc struct {
	Kind     RpcKind
	SentAt   mclock.AbsTime
	Deadline mclock.AbsTime
}

// RpcChannelState carries the rpc bookkeeping of a ready peer.
type RpcChannelState struct {
	NextLocalID  uint64
	PendingLocal map[uint64]*PendingRpc
}

func newChannelsState() *ChannelsState {
	return &ChannelsState{
		Rpc: RpcChannelState{PendingLocal: make(map[uint64]*PendingRpc)},
	}
}

// PendingKinds lists the kinds of all outstanding local RPCs.
func (c *RpcChannelState) PendingKinds() []RpcKind {
	kinds := make([]RpcKind, 0, len(c.PendingLocal))
	for _, p := range c.PendingLocal {
		kinds = append(kinds, p.Kind)
	}
	return kinds
}
