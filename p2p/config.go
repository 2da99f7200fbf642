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

// Package p2p implements the peer-to-peer layer of the node: the encrypted
// multiplexed wire session, per-peer state, gossip and the Kademlia
// discovery overlay. The whole package is a set of action-driven state
// machines; no code in here performs I/O, bytes enter and leave through the
// transport service.
package p2p

import (
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/lambdaclass/openmina/p2p/identity"
)

// pnetPrefix is mixed into the pre-shared key derivation together with the
// chain id.
const pnetPrefix = "/coda/0.0.1/"

// Config collects the tunables of the p2p layer.
type Config struct {
	// ChainID selects the network; it keys the pnet pre-shared secret so
	// nodes of different chains cannot even complete the first handshake.
	ChainID string

	// SecretKey is the node's identity key.
	SecretKey *identity.SecretKey

	// MaxPeers bounds the number of concurrently connected peers.
	MaxPeers int

	// RPCTimeout is the deadline applied to locally initiated RPCs.
	RPCTimeout time.Duration

	// HandshakeTimeout bounds the pnet/noise handshake sequence.
	HandshakeTimeout time.Duration

	// GossipSeenSize bounds the duplicate-suppression cache.
	GossipSeenSize int

	// GossipFanout is the number of peers a fresh gossip message is
	// relayed to.
	GossipFanout int
}

// DefaultConfig holds the values used when a field is left zero.
var DefaultConfig = Config{
	MaxPeers:         100,
	RPCTimeout:       10 * time.Second,
	HandshakeTimeout: 15 * time.Second,
	GossipSeenSize:   4096,
	GossipFanout:     8,
}

func (c Config) withDefaults() Config {
	d := DefaultConfig
	if c.MaxPeers == 0 {
		c.MaxPeers = d.MaxPeers
	}
	if c.RPCTimeout == 0 {
		c.RPCTimeout = d.RPCTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.GossipSeenSize == 0 {
		c.GossipSeenSize = d.GossipSeenSize
	}
	if c.GossipFanout == 0 {
		c.GossipFanout = d.GossipFanout
	}
	return c
}

// PnetKey derives the pre-shared stream key from the chain id.
func PnetKey(chainID string) [32]byte {
	return blake2b.Sum256(append([]byte(pnetPrefix), chainID...))
}
