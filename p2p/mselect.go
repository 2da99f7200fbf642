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
	"github.com/multiformats/go-varint"
)

// Protocol identifiers negotiated by multistream-select. The negotiation
// runs three times per connection: after pnet (authentication), after noise
// (muxer) and once per opened substream.
const (
	protoMultistream = "/multistream/1.0.0"
	protoNoise       = "/noise"
	protoYamux       = "/coda/yamux/1.0.0"
	protoRpc         = "coda/rpcs/0.0.1"
	tokenNa          = "na"
)

// maxSelectToken bounds a single negotiation token on the wire.
const maxSelectToken = 1024

// SelectKind tells which negotiation context a select machine serves.
type SelectKind int

const (
	SelectAuth SelectKind = iota
	SelectMux
	SelectStream
)

func (k SelectKind) String() string {
	switch k {
	case SelectAuth:
		return "auth"
	case SelectMux:
		return "mux"
	case SelectStream:
		return "stream"
	default:
		return "unknown"
	}
}

// supportedProto returns the single protocol this node runs in the context.
func (k SelectKind) supportedProto() string {
	switch k {
	case SelectAuth:
		return protoNoise
	case SelectMux:
		return protoYamux
	default:
		return protoRpc
	}
}

// SelectState is one multistream-select negotiation. Once Negotiated is
// set, the machine becomes a pass-through for payload bytes.
type SelectState struct {
	Kind     SelectKind
	Incoming bool

	recvBuf           []byte
	handshakeReceived bool

	Proposed       string
	Negotiated     string
	JustNegotiated bool
	Failed         bool

	TokensToSend []string
	// OutBytes is the encoded token batch staged by the last
	// SelectOutgoingTokens reduce, read by its effect.
	OutBytes  []byte
	ToForward []byte
}

func encodeToken(token string) []byte {
	line := token + "\n"
	out := varint.ToUvarint(uint64(len(line)))
	return append(out, line...)
}

// nextToken extracts one complete token line from buf, returning the token
// and the remaining buffer. ok is false when more bytes are needed.
func nextToken(buf []byte) (token string, rest []byte, ok bool, malformed bool) {
	size, n, err := varint.FromUvarint(buf)
	if err != nil {
		// ErrUnderflow means incomplete; anything else is garbage.
		if err == varint.ErrUnderflow {
			return "", buf, false, false
		}
		return "", buf, false, true
	}
	if size == 0 || size > maxSelectToken {
		return "", buf, false, true
	}
	if uint64(len(buf)-n) < size {
		return "", buf, false, false
	}
	line := buf[n : n+int(size)]
	if line[len(line)-1] != '\n' {
		return "", buf, false, true
	}
	return string(line[:len(line)-1]), buf[n+int(size):], true, false
}

// reduceInit arms the machine and queues the tokens it must emit.
func (st *SelectState) reduceInit(kind SelectKind, incoming bool) {
	st.Kind = kind
	st.Incoming = incoming
	st.TokensToSend = append(st.TokensToSend, protoMultistream)
	if !incoming {
		st.Proposed = kind.supportedProto()
		st.TokensToSend = append(st.TokensToSend, st.Proposed)
	}
}

// reduceIncoming consumes wire bytes, advancing the negotiation and
// buffering any post-negotiation payload in ToForward.
func (st *SelectState) reduceIncoming(data []byte) {
	st.JustNegotiated = false
	st.ToForward = nil
	if st.Failed {
		return
	}
	if st.Negotiated != "" {
		st.ToForward = data
		return
	}
	st.recvBuf = append(st.recvBuf, data...)
	for st.Negotiated == "" && !st.Failed {
		token, rest, ok, malformed := nextToken(st.recvBuf)
		if malformed {
			st.Failed = true
			return
		}
		if !ok {
			return
		}
		st.recvBuf = rest
		st.consumeToken(token)
	}
	if st.Negotiated != "" && len(st.recvBuf) > 0 {
		st.ToForward = st.recvBuf
		st.recvBuf = nil
	}
}

func (st *SelectState) consumeToken(token string) {
	switch {
	case token == protoMultistream:
		st.handshakeReceived = true
	case token == tokenNa:
		st.Failed = true
	case st.Incoming:
		if token == st.Kind.supportedProto() {
			st.Negotiated = token
			st.JustNegotiated = true
			st.TokensToSend = append(st.TokensToSend, token)
		} else {
			st.TokensToSend = append(st.TokensToSend, tokenNa)
			st.Failed = true
		}
	default:
		if token == st.Proposed {
			st.Negotiated = token
			st.JustNegotiated = true
		} else {
			st.Failed = true
		}
	}
}

// drainTokens encodes and clears the queued outgoing tokens, staging the
// wire bytes for the effect stage.
func (st *SelectState) drainTokens() {
	st.OutBytes = nil
	for _, t := range st.TokensToSend {
		st.OutBytes = append(st.OutBytes, encodeToken(t)...)
	}
	st.TokensToSend = nil
}

// selectState picks the machine for the negotiation context.
func (cn *ConnectionState) selectState(kind SelectKind, streamID uint32) *SelectState {
	switch kind {
	case SelectAuth:
		return &cn.SelectAuth
	case SelectMux:
		return &cn.SelectMux
	default:
		if stream, ok := cn.Streams[streamID]; ok {
			return &stream.Select
		}
		return nil
	}
}

// SelectInitAction starts a negotiation for the given context.
type SelectInitAction struct {
	Addr     ConnAddr
	Kind     SelectKind
	StreamID uint32
	Incoming bool
}

func (a SelectInitAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	if !ok {
		return false
	}
	st := cn.selectState(a.Kind, a.StreamID)
	return st != nil && st.Negotiated == "" && !st.Failed
}

func (a SelectInitAction) reduce(s *State) {
	cn := s.Connections[a.Addr]
	cn.selectState(a.Kind, a.StreamID).reduceInit(a.Kind, a.Incoming)
}

func (a SelectInitAction) Effects(store Store) {
	store.Dispatch(SelectOutgoingTokensAction{Addr: a.Addr, Kind: a.Kind, StreamID: a.StreamID})
}

// SelectOutgoingTokensAction flushes queued negotiation tokens downward.
type SelectOutgoingTokensAction struct {
	Addr     ConnAddr
	Kind     SelectKind
	StreamID uint32
}

func (a SelectOutgoingTokensAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	if !ok {
		return false
	}
	st := cn.selectState(a.Kind, a.StreamID)
	return st != nil && len(st.TokensToSend) > 0
}

func (a SelectOutgoingTokensAction) reduce(s *State) {
	cn := s.Connections[a.Addr]
	cn.selectState(a.Kind, a.StreamID).drainTokens()
}

func (a SelectOutgoingTokensAction) Effects(store Store) {
	cn, ok := store.P2p().Connections[a.Addr]
	if !ok {
		return
	}
	st := cn.selectState(a.Kind, a.StreamID)
	if out := st.OutBytes; len(out) > 0 {
		sendBelowSelect(store, a.Addr, a.Kind, a.StreamID, out)
	}
}

// sendBelowSelect routes bytes to the layer underneath a negotiation
// context: the pnet stream for auth, the noise transport for mux, a yamux
// data frame for substreams.
func sendBelowSelect(store Store, addr ConnAddr, kind SelectKind, streamID uint32, data []byte) {
	switch kind {
	case SelectAuth:
		store.Dispatch(PnetOutgoingDataAction{Addr: addr, Data: data})
	case SelectMux:
		store.Dispatch(NoiseOutgoingDataAction{Addr: addr, Data: data})
	default:
		store.Dispatch(YamuxOutgoingFrameAction{Addr: addr, Frame: dataFrame(streamID, data)})
	}
}

// SelectIncomingDataAction feeds bytes surfaced by the layer below into the
// negotiation, or past it once a protocol is agreed.
type SelectIncomingDataAction struct {
	Addr     ConnAddr
	Kind     SelectKind
	StreamID uint32
	Data     []byte
}

func (a SelectIncomingDataAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	return ok && cn.selectState(a.Kind, a.StreamID) != nil
}

func (a SelectIncomingDataAction) reduce(s *State) {
	cn := s.Connections[a.Addr]
	cn.selectState(a.Kind, a.StreamID).reduceIncoming(a.Data)
}

func (a SelectIncomingDataAction) Effects(store Store) {
	s := store.P2p()
	cn, ok := s.Connections[a.Addr]
	if !ok {
		return
	}
	st := cn.selectState(a.Kind, a.StreamID)
	if st == nil {
		return
	}
	if len(st.TokensToSend) > 0 {
		store.Dispatch(SelectOutgoingTokensAction{Addr: a.Addr, Kind: a.Kind, StreamID: a.StreamID})
	}
	if st.Failed {
		store.Dispatch(DisconnectAction{Addr: a.Addr, Reason: DisconnectReasonUnknownProtocol})
		return
	}
	if st.JustNegotiated {
		switch a.Kind {
		case SelectAuth:
			static, eph, err := newNoiseKeys(store.Service())
			if err != nil {
				store.Dispatch(DisconnectAction{Addr: a.Addr, Reason: DisconnectReasonNoiseHandshake})
				return
			}
			store.Dispatch(NoiseInitAction{Addr: a.Addr, Incoming: st.Incoming, Static: static, Ephemeral: eph})
		case SelectMux:
			store.Dispatch(YamuxInitAction{Addr: a.Addr, Incoming: st.Incoming})
		default:
			store.Dispatch(RpcInitAction{
				Addr:     a.Addr,
				PeerID:   cn.PeerID,
				StreamID: a.StreamID,
				Incoming: st.Incoming,
			})
		}
	}
	if forward := st.ToForward; len(forward) > 0 {
		switch a.Kind {
		case SelectAuth:
			store.Dispatch(NoiseIncomingDataAction{Addr: a.Addr, Data: forward})
		case SelectMux:
			store.Dispatch(YamuxIncomingDataAction{Addr: a.Addr, Data: forward})
		default:
			store.Dispatch(RpcIncomingDataAction{
				Addr:     a.Addr,
				PeerID:   cn.PeerID,
				StreamID: a.StreamID,
				Data:     forward,
			})
		}
	}
}
