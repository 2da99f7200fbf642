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

	mapset "github.com/deckarep/golang-set/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lambdaclass/openmina/p2p/identity"
)

// GossipTopic distinguishes the three pubsub message families.
type GossipTopic int

const (
	GossipNewState GossipTopic = iota
	GossipSnarkPoolDiff
	GossipTransactionPoolDiff
)

func (t GossipTopic) String() string {
	switch t {
	case GossipNewState:
		return "new-state"
	case GossipSnarkPoolDiff:
		return "snark-pool-diff"
	case GossipTransactionPoolDiff:
		return "transaction-pool-diff"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// GossipMessage is one pubsub message; the payload encoding is external.
type GossipMessage struct {
	Topic GossipTopic
	// MsgID is the content-derived identifier used for deduplication.
	MsgID   string
	Payload []byte
}

// GossipState suppresses duplicates and tracks which peers already hold a
// message so rebroadcast fanout skips them.
type GossipState struct {
	seen    *lru.Cache[string, mapset.Set[identity.PeerID]]
	fanout  int
	// JustFresh marks, per reduce, whether the last recorded message was
	// new; the effect stage reads it to decide on rebroadcast.
	JustFresh bool
	// Targets holds the relay peers chosen by the last broadcast reduce.
	Targets []identity.PeerID
}

func newGossipState(cfg Config) *GossipState {
	seen, err := lru.New[string, mapset.Set[identity.PeerID]](cfg.GossipSeenSize)
	if err != nil {
		panic(err) // only fails for non-positive sizes
	}
	return &GossipState{seen: seen, fanout: cfg.GossipFanout}
}

// record notes the message and, when given, the peer holding it. It sets
// JustFresh when the id was not seen before.
func (g *GossipState) record(msgID string, holder identity.PeerID) {
	holders, ok := g.seen.Get(msgID)
	g.JustFresh = !ok
	if !ok {
		holders = mapset.NewThreadUnsafeSet[identity.PeerID]()
		g.seen.Add(msgID, holders)
	}
	if holder != "" {
		holders.Add(holder)
	}
}

// holdersOf returns the peers known to already hold the message.
func (g *GossipState) holdersOf(msgID string) mapset.Set[identity.PeerID] {
	holders, _ := g.seen.Get(msgID)
	return holders
}

// GossipReceivedAction lifts a pubsub message arriving from a peer.
type GossipReceivedAction struct {
	From    identity.PeerID
	Message GossipMessage
}

func (a GossipReceivedAction) IsEnabled(s *State) bool {
	p, ok := s.Peers[a.From]
	return ok && p.Status == PeerReady && a.Message.MsgID != ""
}

func (a GossipReceivedAction) reduce(s *State) {
	s.Gossip.record(a.Message.MsgID, a.From)
}

func (a GossipReceivedAction) Effects(store Store) {
	s := store.P2p()
	if !s.Gossip.JustFresh {
		return
	}
	store.Dispatch(GossipBroadcastAction{Message: a.Message, Origin: a.From})
}

// GossipBroadcastAction relays a message to ready peers that are not known
// to hold it yet, up to the configured fanout, in canonical peer order.
type GossipBroadcastAction struct {
	Message GossipMessage
	// Origin is empty for locally produced messages.
	Origin identity.PeerID
}

func (a GossipBroadcastAction) IsEnabled(s *State) bool {
	return a.Message.MsgID != ""
}

func (a GossipBroadcastAction) reduce(s *State) {
	g := s.Gossip
	g.record(a.Message.MsgID, a.Origin)
	// Pick the relay targets here so the effect stage stays read-only:
	// ready peers not known to hold the message, canonical order, capped
	// at the fanout.
	g.Targets = nil
	holders := g.holdersOf(a.Message.MsgID)
	for _, id := range s.ReadyPeerIDs() {
		if id == a.Origin || holders.Contains(id) {
			continue
		}
		if s.FindRpcStream(id, AnyOutgoingStream()) == nil {
			continue
		}
		holders.Add(id)
		g.Targets = append(g.Targets, id)
		if len(g.Targets) >= g.fanout {
			break
		}
	}
}

func (a GossipBroadcastAction) Effects(store Store) {
	s := store.P2p()
	for _, id := range s.Gossip.Targets {
		p, ok := s.Peers[id]
		stream := s.FindRpcStream(id, AnyOutgoingStream())
		if !ok || stream == nil {
			continue
		}
		store.Dispatch(YamuxOutgoingFrameAction{
			Addr:  p.ConnAddr,
			Frame: dataFrame(stream.StreamID, encodeGossipFrame(a.Message)),
		})
	}
}

// encodeGossipFrame wraps a gossip message for the wire. The inner payload
// encoding stays external; only the envelope is framed here.
func encodeGossipFrame(m GossipMessage) []byte {
	body := append([]byte{byte(m.Topic)}, m.Payload...)
	return encodeRpcMessage(RpcMessage{ID: 0, Kind: RpcKind(0), Payload: body})
}
