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
	"errors"

	"github.com/multiformats/go-varint"

	"github.com/lambdaclass/openmina/p2p/identity"
)

// maxRpcMessage bounds one framed rpc message.
const maxRpcMessage = 32 * 1024 * 1024

var errRpcDecode = errors.New("rpc message decode")

// RpcStreamState is one rpc substream. Messages are varint length prefixed;
// the header tags direction, the local id and the procedure kind, the rest
// of the payload is opaque to the core.
type RpcStreamState struct {
	StreamID uint32
	PeerID   identity.PeerID
	Incoming bool

	buf    []byte
	Failed bool

	// Messages staged by the last incoming-data reduce.
	Messages [][]byte
}

// RpcMessage is the decoded framing header of one rpc message.
type RpcMessage struct {
	IsResponse bool
	ID         uint64
	Kind       RpcKind
	Payload    []byte
}

func encodeRpcMessage(m RpcMessage) []byte {
	var body []byte
	if m.IsResponse {
		body = append(body, 1)
	} else {
		body = append(body, 0)
	}
	body = append(body, varint.ToUvarint(m.ID)...)
	body = append(body, varint.ToUvarint(uint64(m.Kind))...)
	body = append(body, m.Payload...)
	out := varint.ToUvarint(uint64(len(body)))
	return append(out, body...)
}

func parseRpcMessage(body []byte) (RpcMessage, error) {
	if len(body) < 1 || body[0] > 1 {
		return RpcMessage{}, errRpcDecode
	}
	m := RpcMessage{IsResponse: body[0] == 1}
	rest := body[1:]
	id, n, err := varint.FromUvarint(rest)
	if err != nil {
		return RpcMessage{}, errRpcDecode
	}
	rest = rest[n:]
	kind, n, err := varint.FromUvarint(rest)
	if err != nil {
		return RpcMessage{}, errRpcDecode
	}
	m.ID = id
	m.Kind = RpcKind(kind)
	m.Payload = rest[n:]
	return m, nil
}

// popMessage extracts one complete framed message body from the buffer.
func (st *RpcStreamState) popMessage() ([]byte, bool) {
	size, n, err := varint.FromUvarint(st.buf)
	if err != nil {
		if err != varint.ErrUnderflow {
			st.Failed = true
		}
		return nil, false
	}
	if size > maxRpcMessage {
		st.Failed = true
		return nil, false
	}
	if uint64(len(st.buf)-n) < size {
		return nil, false
	}
	body := st.buf[n : n+int(size)]
	st.buf = st.buf[n+int(size):]
	return body, true
}

// RpcInitAction registers a negotiated rpc substream.
type RpcInitAction struct {
	Addr     ConnAddr
	PeerID   identity.PeerID
	StreamID uint32
	Incoming bool
}

func (a RpcInitAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	if !ok || a.PeerID == "" {
		return false
	}
	_, exists := cn.Streams[a.StreamID]
	return exists
}

func (a RpcInitAction) reduce(s *State) {
	cn := s.Connections[a.Addr]
	st := &RpcStreamState{StreamID: a.StreamID, PeerID: a.PeerID, Incoming: a.Incoming}
	cn.Streams[a.StreamID].Rpc = st

	registry := s.RpcOutgoingStreams
	if a.Incoming {
		registry = s.RpcIncomingStreams
	}
	if registry[a.PeerID] == nil {
		registry[a.PeerID] = make(map[uint32]*RpcStreamState)
	}
	registry[a.PeerID][a.StreamID] = st
}

func (a RpcInitAction) Effects(store Store) {
	// The session stack is complete once the rpc substream is up.
	store.Dispatch(PeerReadyAction{PeerID: a.PeerID, Addr: a.Addr})
}

// RpcIncomingDataAction reassembles framed messages on a substream.
type RpcIncomingDataAction struct {
	Addr     ConnAddr
	PeerID   identity.PeerID
	StreamID uint32
	Data     []byte
}

func (a RpcIncomingDataAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	if !ok {
		return false
	}
	stream, ok := cn.Streams[a.StreamID]
	return ok && stream.Rpc != nil && !stream.Rpc.Failed
}

func (a RpcIncomingDataAction) reduce(s *State) {
	st := s.Connections[a.Addr].Streams[a.StreamID].Rpc
	st.Messages = nil
	st.buf = append(st.buf, a.Data...)
	for !st.Failed {
		body, ok := st.popMessage()
		if !ok {
			return
		}
		st.Messages = append(st.Messages, body)
	}
}

func (a RpcIncomingDataAction) Effects(store Store) {
	cn, ok := store.P2p().Connections[a.Addr]
	if !ok {
		return
	}
	stream, ok := cn.Streams[a.StreamID]
	if !ok || stream.Rpc == nil {
		return
	}
	if stream.Rpc.Failed {
		store.Dispatch(DisconnectAction{Addr: a.Addr, Reason: DisconnectReasonRPCDecode})
		return
	}
	for _, body := range stream.Rpc.Messages {
		store.Dispatch(RpcIncomingMessageAction{
			Addr:     a.Addr,
			PeerID:   a.PeerID,
			StreamID: a.StreamID,
			Body:     body,
		})
	}
}

// RpcIncomingMessageAction carries one complete framed message.
type RpcIncomingMessageAction struct {
	Addr     ConnAddr
	PeerID   identity.PeerID
	StreamID uint32
	Body     []byte
}

func (a RpcIncomingMessageAction) IsEnabled(s *State) bool {
	_, ok := s.Connections[a.Addr]
	return ok
}

func (a RpcIncomingMessageAction) Effects(store Store) {
	m, err := parseRpcMessage(a.Body)
	if err != nil {
		store.Dispatch(DisconnectAction{Addr: a.Addr, Reason: DisconnectReasonRPCDecode})
		return
	}
	if m.IsResponse {
		store.Dispatch(ChannelsRpcResponseReceivedAction{
			PeerID:  a.PeerID,
			ID:      m.ID,
			Kind:    m.Kind,
			Payload: m.Payload,
		})
		return
	}
	store.Dispatch(ChannelsRpcRequestReceivedAction{
		PeerID:   a.PeerID,
		StreamID: a.StreamID,
		ID:       m.ID,
		Kind:     m.Kind,
		Payload:  m.Payload,
	})
}

// RpcOutgoingQueryAction frames a local query onto an outgoing substream.
type RpcOutgoingQueryAction struct {
	PeerID  identity.PeerID
	ID      uint64
	Kind    RpcKind
	Payload []byte
}

func (a RpcOutgoingQueryAction) IsEnabled(s *State) bool {
	return s.FindRpcStream(a.PeerID, AnyOutgoingStream()) != nil
}

func (a RpcOutgoingQueryAction) Effects(store Store) {
	s := store.P2p()
	st := s.FindRpcStream(a.PeerID, AnyOutgoingStream())
	p, ok := s.Peers[a.PeerID]
	if st == nil || !ok {
		return
	}
	body := encodeRpcMessage(RpcMessage{ID: a.ID, Kind: a.Kind, Payload: a.Payload})
	store.Dispatch(YamuxOutgoingFrameAction{
		Addr:  p.ConnAddr,
		Frame: dataFrame(st.StreamID, body),
	})
}

// RpcOutgoingResponseAction frames a response back on the exact substream
// the query arrived on.
type RpcOutgoingResponseAction struct {
	PeerID   identity.PeerID
	StreamID uint32
	ID       uint64
	Kind     RpcKind
	Payload  []byte
}

func (a RpcOutgoingResponseAction) IsEnabled(s *State) bool {
	return s.FindRpcStream(a.PeerID, ExactStream(a.StreamID)) != nil
}

func (a RpcOutgoingResponseAction) Effects(store Store) {
	s := store.P2p()
	p, ok := s.Peers[a.PeerID]
	if !ok {
		return
	}
	body := encodeRpcMessage(RpcMessage{IsResponse: true, ID: a.ID, Kind: a.Kind, Payload: a.Payload})
	store.Dispatch(YamuxOutgoingFrameAction{
		Addr:  p.ConnAddr,
		Frame: dataFrame(a.StreamID, body),
	})
}
