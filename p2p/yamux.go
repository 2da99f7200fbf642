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
	"encoding/binary"
)

// Yamux frame layout: version, type, flags, stream id, length; big endian,
// 12 bytes, optionally followed by a data payload.
const yamuxHeaderSize = 12

const (
	yamuxTypeData uint8 = iota
	yamuxTypeWindowUpdate
	yamuxTypePing
	yamuxTypeGoAway
)

const (
	yamuxFlagSYN uint16 = 1 << iota
	yamuxFlagACK
	yamuxFlagFIN
	yamuxFlagRST
)

// yamuxInitialWindow is the per-stream flow-control window.
const yamuxInitialWindow = 256 * 1024

// yamuxMaxFrame bounds a single data frame payload.
const yamuxMaxFrame = 64 * 1024

// Frame is one yamux frame.
type Frame struct {
	Version  uint8
	Type     uint8
	Flags    uint16
	StreamID uint32
	Length   uint32
	Data     []byte
}

func dataFrame(streamID uint32, data []byte) Frame {
	return Frame{Type: yamuxTypeData, StreamID: streamID, Length: uint32(len(data)), Data: data}
}

func (f Frame) encode() []byte {
	out := make([]byte, yamuxHeaderSize+len(f.Data))
	out[0] = f.Version
	out[1] = f.Type
	binary.BigEndian.PutUint16(out[2:4], f.Flags)
	binary.BigEndian.PutUint32(out[4:8], f.StreamID)
	binary.BigEndian.PutUint32(out[8:12], f.Length)
	copy(out[yamuxHeaderSize:], f.Data)
	return out
}

// YamuxStreamState is the per-substream bookkeeping.
type YamuxStreamState struct {
	ID          uint32
	Incoming    bool
	SendWindow  uint32
	RecvWindow  uint32
	Established bool
	ReadClosed  bool
	WriteClosed bool
}

// YamuxState multiplexes the noise-protected byte stream into substreams.
type YamuxState struct {
	Incoming bool

	buf []byte
	// NextStreamID follows the yamux parity rule: the connection
	// initiator allocates odd ids, the acceptor even ones.
	NextStreamID uint32

	Streams map[uint32]*YamuxStreamState

	Failed     bool
	FailReason DisconnectReason

	// Staging read by the effect of the action that filled it.
	PendingFrames []Frame
	Out           []byte
}

func (st *YamuxState) clearStaging() {
	st.PendingFrames = nil
	st.Out = nil
}

func (st *YamuxState) stageFrame(f Frame) {
	st.Out = append(st.Out, f.encode()...)
}

// parseFrames pops complete frames off the reassembly buffer.
func (st *YamuxState) parseFrames() {
	for {
		if len(st.buf) < yamuxHeaderSize {
			return
		}
		f := Frame{
			Version:  st.buf[0],
			Type:     st.buf[1],
			Flags:    binary.BigEndian.Uint16(st.buf[2:4]),
			StreamID: binary.BigEndian.Uint32(st.buf[4:8]),
			Length:   binary.BigEndian.Uint32(st.buf[8:12]),
		}
		if f.Version != 0 || f.Type > yamuxTypeGoAway {
			st.Failed = true
			st.FailReason = DisconnectReasonYamuxFraming
			return
		}
		size := 0
		if f.Type == yamuxTypeData {
			if f.Length > yamuxMaxFrame {
				st.Failed = true
				st.FailReason = DisconnectReasonYamuxFraming
				return
			}
			size = int(f.Length)
		}
		if len(st.buf) < yamuxHeaderSize+size {
			return
		}
		f.Data = st.buf[yamuxHeaderSize : yamuxHeaderSize+size]
		st.buf = st.buf[yamuxHeaderSize+size:]
		st.PendingFrames = append(st.PendingFrames, f)
	}
}

func (st *YamuxState) stream(id uint32) *YamuxStreamState {
	return st.Streams[id]
}

func (st *YamuxState) openStream(id uint32, incoming bool) *YamuxStreamState {
	stream := &YamuxStreamState{
		ID:         id,
		Incoming:   incoming,
		SendWindow: yamuxInitialWindow,
		RecvWindow: yamuxInitialWindow,
	}
	st.Streams[id] = stream
	return stream
}

// YamuxInitAction installs the muxer after the mux negotiation agreed on
// yamux.
type YamuxInitAction struct {
	Addr     ConnAddr
	Incoming bool
}

func (a YamuxInitAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	return ok && cn.Mux == nil && cn.Auth != nil && cn.Auth.HandshakeDone
}

func (a YamuxInitAction) reduce(s *State) {
	cn := s.Connections[a.Addr]
	next := uint32(1)
	if a.Incoming {
		next = 2
	}
	cn.Mux = &YamuxState{
		Incoming:     a.Incoming,
		NextStreamID: next,
		Streams:      make(map[uint32]*YamuxStreamState),
	}
}

func (a YamuxInitAction) Effects(store Store) {
	if a.Incoming {
		// The dialer opens the rpc substream; the acceptor waits for it.
		return
	}
	cn, ok := store.P2p().Connections[a.Addr]
	if !ok || cn.Mux == nil {
		return
	}
	store.Dispatch(YamuxOpenStreamAction{Addr: a.Addr, StreamID: cn.Mux.NextStreamID})
}

// YamuxOpenStreamAction opens a local substream and starts its protocol
// negotiation.
type YamuxOpenStreamAction struct {
	Addr     ConnAddr
	StreamID uint32
}

func (a YamuxOpenStreamAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	if !ok || cn.Mux == nil || cn.Mux.Failed {
		return false
	}
	return a.StreamID == cn.Mux.NextStreamID
}

func (a YamuxOpenStreamAction) reduce(s *State) {
	cn := s.Connections[a.Addr]
	mux := cn.Mux
	mux.clearStaging()
	mux.openStream(a.StreamID, false)
	mux.NextStreamID += 2
	cn.Streams[a.StreamID] = &StreamState{}
	mux.stageFrame(Frame{Type: yamuxTypeWindowUpdate, Flags: yamuxFlagSYN, StreamID: a.StreamID})
}

func (a YamuxOpenStreamAction) Effects(store Store) {
	yamuxFlush(store, a.Addr)
	store.Dispatch(SelectInitAction{
		Addr:     a.Addr,
		Kind:     SelectStream,
		StreamID: a.StreamID,
		Incoming: false,
	})
}

// YamuxIncomingDataAction reassembles decrypted bytes into frames.
type YamuxIncomingDataAction struct {
	Addr ConnAddr
	Data []byte
}

func (a YamuxIncomingDataAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	return ok && cn.Mux != nil && !cn.Mux.Failed
}

func (a YamuxIncomingDataAction) reduce(s *State) {
	mux := s.Connections[a.Addr].Mux
	mux.clearStaging()
	mux.buf = append(mux.buf, a.Data...)
	mux.parseFrames()
}

func (a YamuxIncomingDataAction) Effects(store Store) {
	s := store.P2p()
	cn, ok := s.Connections[a.Addr]
	if !ok || cn.Mux == nil {
		return
	}
	if cn.Mux.Failed {
		store.Dispatch(DisconnectAction{Addr: a.Addr, Reason: cn.Mux.FailReason})
		return
	}
	for _, f := range cn.Mux.PendingFrames {
		store.Dispatch(YamuxIncomingFrameAction{Addr: a.Addr, Frame: f})
	}
}

// YamuxIncomingFrameAction applies one parsed frame.
type YamuxIncomingFrameAction struct {
	Addr  ConnAddr
	Frame Frame
}

func (a YamuxIncomingFrameAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	return ok && cn.Mux != nil && !cn.Mux.Failed
}

func (a YamuxIncomingFrameAction) reduce(s *State) {
	cn := s.Connections[a.Addr]
	mux := cn.Mux
	mux.Out = nil
	f := a.Frame

	switch f.Type {
	case yamuxTypeGoAway:
		mux.Failed = true
		mux.FailReason = DisconnectReasonRemoteClosed
		return
	case yamuxTypePing:
		if f.Flags&yamuxFlagSYN != 0 {
			mux.stageFrame(Frame{Type: yamuxTypePing, Flags: yamuxFlagACK, Length: f.Length})
		}
		return
	}

	stream := mux.stream(f.StreamID)
	if f.Flags&yamuxFlagSYN != 0 && stream == nil {
		stream = mux.openStream(f.StreamID, true)
		cn.Streams[f.StreamID] = &StreamState{}
	}
	if stream == nil {
		// Frame on an unknown stream: protocol violation, drop it.
		s.log.Debug("Yamux frame on unknown stream", "addr", a.Addr, "stream", f.StreamID)
		return
	}
	if f.Flags&yamuxFlagACK != 0 {
		stream.Established = true
	}
	if f.Flags&yamuxFlagRST != 0 {
		delete(mux.Streams, f.StreamID)
		delete(cn.Streams, f.StreamID)
		return
	}
	switch f.Type {
	case yamuxTypeWindowUpdate:
		stream.SendWindow += f.Length
	case yamuxTypeData:
		if uint32(len(f.Data)) > stream.RecvWindow {
			mux.Failed = true
			mux.FailReason = DisconnectReasonYamuxFraming
			return
		}
		stream.RecvWindow -= uint32(len(f.Data))
		// Replenish eagerly once half the window is consumed.
		if stream.RecvWindow < yamuxInitialWindow/2 {
			grant := yamuxInitialWindow - stream.RecvWindow
			stream.RecvWindow += grant
			mux.stageFrame(Frame{Type: yamuxTypeWindowUpdate, StreamID: f.StreamID, Length: grant})
		}
	}
	if f.Flags&yamuxFlagFIN != 0 {
		stream.ReadClosed = true
	}
}

func (a YamuxIncomingFrameAction) Effects(store Store) {
	s := store.P2p()
	cn, ok := s.Connections[a.Addr]
	if !ok || cn.Mux == nil {
		return
	}
	mux := cn.Mux
	if mux.Failed {
		store.Dispatch(DisconnectAction{Addr: a.Addr, Reason: mux.FailReason})
		return
	}
	yamuxFlush(store, a.Addr)

	f := a.Frame
	if stream := mux.stream(f.StreamID); stream != nil && stream.Incoming && f.Flags&yamuxFlagSYN != 0 {
		store.Dispatch(SelectInitAction{
			Addr:     a.Addr,
			Kind:     SelectStream,
			StreamID: f.StreamID,
			Incoming: true,
		})
	}
	if f.Type == yamuxTypeData && len(f.Data) > 0 {
		store.Dispatch(SelectIncomingDataAction{
			Addr:     a.Addr,
			Kind:     SelectStream,
			StreamID: f.StreamID,
			Data:     f.Data,
		})
	}
}

// YamuxOutgoingFrameAction encodes one frame and hands it to the noise
// transport.
type YamuxOutgoingFrameAction struct {
	Addr  ConnAddr
	Frame Frame
}

func (a YamuxOutgoingFrameAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	return ok && cn.Mux != nil && !cn.Mux.Failed
}

func (a YamuxOutgoingFrameAction) reduce(s *State) {
	mux := s.Connections[a.Addr].Mux
	mux.Out = nil
	f := a.Frame
	if f.Type == yamuxTypeData {
		if stream := mux.stream(f.StreamID); stream != nil {
			if n := uint32(len(f.Data)); n <= stream.SendWindow {
				stream.SendWindow -= n
			} else {
				stream.SendWindow = 0
			}
		}
	}
	mux.stageFrame(f)
}

func (a YamuxOutgoingFrameAction) Effects(store Store) {
	yamuxFlush(store, a.Addr)
}

// YamuxPingStreamAction emits a keepalive ping.
type YamuxPingStreamAction struct {
	Addr   ConnAddr
	Opaque uint32
}

func (a YamuxPingStreamAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	return ok && cn.Mux != nil && !cn.Mux.Failed
}

func (a YamuxPingStreamAction) reduce(s *State) {
	mux := s.Connections[a.Addr].Mux
	mux.Out = nil
	mux.stageFrame(Frame{Type: yamuxTypePing, Flags: yamuxFlagSYN, Length: a.Opaque})
}

func (a YamuxPingStreamAction) Effects(store Store) {
	yamuxFlush(store, a.Addr)
}

// yamuxFlush pushes staged frames into the encrypted transport.
func yamuxFlush(store Store, addr ConnAddr) {
	cn, ok := store.P2p().Connections[addr]
	if !ok || cn.Mux == nil {
		return
	}
	if out := cn.Mux.Out; len(out) > 0 {
		store.Dispatch(NoiseOutgoingDataAction{Addr: addr, Data: out})
	}
}
