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

	"github.com/flynn/noise"

	"github.com/lambdaclass/openmina/p2p/identity"
)

// noiseMaxChunk bounds the plaintext fed into one noise transport message,
// leaving room for the 16-byte tag within the 65535-byte message limit.
const noiseMaxChunk = 65519

var noiseCipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// newNoiseKeys draws the static and ephemeral keypairs for one handshake
// from the service entropy source. They ride inside NoiseInitAction so the
// reducer itself never consumes randomness.
func newNoiseKeys(svc Service) (static, ephemeral noise.DHKey, err error) {
	static, err = noiseCipherSuite.GenerateKeypair(svc.Rand())
	if err != nil {
		return noise.DHKey{}, noise.DHKey{}, err
	}
	ephemeral, err = noiseCipherSuite.GenerateKeypair(svc.Rand())
	if err != nil {
		return noise.DHKey{}, noise.DHKey{}, err
	}
	return static, ephemeral, nil
}

// NoiseState runs the XX handshake and, once complete, the transport
// ciphers. All wire chunks carry a 2-byte big-endian length prefix.
//
// The handshake payload of the static-carrying message is the sender's
// identity public key; the derived peer id must match the dialed peer on
// outgoing connections.
type NoiseState struct {
	Incoming bool

	hs         *noise.HandshakeState
	send, recv *noise.CipherState
	buf        []byte

	RemotePeerID  identity.PeerID
	HandshakeDone bool
	JustDone      bool
	Failed        bool
	FailReason    DisconnectReason

	// Staging read by the effect that caused the reduce.
	OutChunks []byte
	Decrypted []byte
}

func (st *NoiseState) clearStaging() {
	st.OutChunks = nil
	st.Decrypted = nil
	st.JustDone = false
}

func (st *NoiseState) fail(reason DisconnectReason) {
	st.Failed = true
	st.FailReason = reason
}

func (st *NoiseState) stageChunk(msg []byte) {
	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(msg)))
	st.OutChunks = append(st.OutChunks, prefix[:]...)
	st.OutChunks = append(st.OutChunks, msg...)
}

// nextChunk pops one complete length-prefixed chunk off the reassembly
// buffer.
func (st *NoiseState) nextChunk() ([]byte, bool) {
	if len(st.buf) < 2 {
		return nil, false
	}
	size := int(binary.BigEndian.Uint16(st.buf))
	if len(st.buf) < 2+size {
		return nil, false
	}
	chunk := st.buf[2 : 2+size]
	st.buf = st.buf[2+size:]
	return chunk, true
}

// NoiseInitAction arms the handshake machine. The keypairs are generated by
// the dispatching effect so the reducer stays deterministic.
type NoiseInitAction struct {
	Addr      ConnAddr
	Incoming  bool
	Static    noise.DHKey
	Ephemeral noise.DHKey
}

func (a NoiseInitAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	return ok && cn.Auth == nil
}

func (a NoiseInitAction) reduce(s *State) {
	cn := s.Connections[a.Addr]
	st := &NoiseState{Incoming: a.Incoming}
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:      noiseCipherSuite,
		Pattern:          noise.HandshakeXX,
		Initiator:        !a.Incoming,
		StaticKeypair:    a.Static,
		EphemeralKeypair: a.Ephemeral,
	})
	if err != nil {
		st.fail(DisconnectReasonNoiseHandshake)
		cn.Auth = st
		return
	}
	st.hs = hs
	if !a.Incoming {
		// -> e
		msg, _, _, err := hs.WriteMessage(nil, nil)
		if err != nil {
			st.fail(DisconnectReasonNoiseHandshake)
		} else {
			st.stageChunk(msg)
		}
	}
	cn.Auth = st
}

func (a NoiseInitAction) Effects(store Store) {
	noiseFlush(store, a.Addr)
}

// NoiseIncomingDataAction feeds decrypted-pnet bytes into the noise
// machine: handshake messages first, transport chunks after.
type NoiseIncomingDataAction struct {
	Addr ConnAddr
	Data []byte
}

func (a NoiseIncomingDataAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	return ok && cn.Auth != nil && !cn.Auth.Failed
}

func (a NoiseIncomingDataAction) reduce(s *State) {
	cn := s.Connections[a.Addr]
	st := cn.Auth
	st.clearStaging()
	st.buf = append(st.buf, a.Data...)
	for !st.Failed {
		chunk, ok := st.nextChunk()
		if !ok {
			return
		}
		if st.HandshakeDone {
			plain, err := st.recv.Decrypt(nil, nil, chunk)
			if err != nil {
				st.fail(DisconnectReasonNoiseHandshake)
				return
			}
			st.Decrypted = append(st.Decrypted, plain...)
			continue
		}
		st.reduceHandshakeChunk(s, cn, chunk)
	}
}

func (st *NoiseState) reduceHandshakeChunk(s *State, cn *ConnectionState, chunk []byte) {
	payload, cs0, cs1, err := st.hs.ReadMessage(nil, chunk)
	if err != nil {
		st.fail(DisconnectReasonNoiseHandshake)
		return
	}
	switch {
	case st.Incoming && cs0 == nil:
		// <- e received; respond with e,ee,s,es carrying our identity.
		msg, _, _, werr := st.hs.WriteMessage(nil, s.Config.SecretKey.PublicKey().Bytes())
		if werr != nil {
			st.fail(DisconnectReasonNoiseHandshake)
			return
		}
		st.stageChunk(msg)
	case st.Incoming:
		// s,se read: handshake complete on the responder.
		if !st.bindRemoteIdentity(s, cn, payload) {
			return
		}
		st.send, st.recv = cs1, cs0
		st.finish()
	case cs0 != nil:
		// Unexpected: the initiator completes on write, not read.
		st.fail(DisconnectReasonNoiseHandshake)
	default:
		// e,ee,s,es read; answer with s,se and our identity.
		if !st.bindRemoteIdentity(s, cn, payload) {
			return
		}
		msg, csA, csB, werr := st.hs.WriteMessage(nil, s.Config.SecretKey.PublicKey().Bytes())
		if werr != nil || csA == nil {
			st.fail(DisconnectReasonNoiseHandshake)
			return
		}
		st.stageChunk(msg)
		st.send, st.recv = csA, csB
		st.finish()
	}
}

// bindRemoteIdentity derives the remote peer id from the handshake payload
// and checks it against what the connection expects.
func (st *NoiseState) bindRemoteIdentity(s *State, cn *ConnectionState, payload []byte) bool {
	pub, err := identity.PublicKeyFromBytes(payload)
	if err != nil {
		st.fail(DisconnectReasonNoiseHandshake)
		return false
	}
	peerID := pub.PeerID()
	if peerID == s.ThisPeerID {
		st.fail(DisconnectReasonSelfConnection)
		return false
	}
	if !cn.Incoming && cn.PeerID != "" && cn.PeerID != peerID {
		st.fail(DisconnectReasonPeerIDMismatch)
		return false
	}
	st.RemotePeerID = peerID
	return true
}

func (st *NoiseState) finish() {
	st.HandshakeDone = true
	st.JustDone = true
}

func (a NoiseIncomingDataAction) Effects(store Store) {
	s := store.P2p()
	cn, ok := s.Connections[a.Addr]
	if !ok || cn.Auth == nil {
		return
	}
	st := cn.Auth
	noiseFlush(store, a.Addr)
	if st.Failed {
		store.Dispatch(DisconnectAction{Addr: a.Addr, Reason: st.FailReason})
		return
	}
	if st.JustDone {
		store.Dispatch(NoiseHandshakeDoneAction{
			Addr:     a.Addr,
			PeerID:   st.RemotePeerID,
			Incoming: st.Incoming,
		})
	}
	if len(st.Decrypted) > 0 {
		store.Dispatch(SelectIncomingDataAction{
			Addr: a.Addr,
			Kind: SelectMux,
			Data: st.Decrypted,
		})
	}
}

// NoiseHandshakeDoneAction records the confirmed peer identity and starts
// the muxer negotiation.
type NoiseHandshakeDoneAction struct {
	Addr     ConnAddr
	PeerID   identity.PeerID
	Incoming bool
}

func (a NoiseHandshakeDoneAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	return ok && cn.Auth != nil && cn.Auth.HandshakeDone
}

func (a NoiseHandshakeDoneAction) reduce(s *State) {
	cn := s.Connections[a.Addr]
	if cn.PeerID == "" {
		cn.PeerID = a.PeerID
	}
	p := s.peer(a.PeerID)
	if p.Status != PeerReady {
		p.Status = PeerHandshaking
		p.ConnAddr = a.Addr
	}
}

func (a NoiseHandshakeDoneAction) Effects(store Store) {
	store.Dispatch(SelectInitAction{Addr: a.Addr, Kind: SelectMux, Incoming: a.Incoming})
}

// NoiseOutgoingDataAction encrypts plaintext from the muxer into transport
// chunks.
type NoiseOutgoingDataAction struct {
	Addr ConnAddr
	Data []byte
}

func (a NoiseOutgoingDataAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	return ok && cn.Auth != nil && cn.Auth.HandshakeDone && !cn.Auth.Failed
}

func (a NoiseOutgoingDataAction) reduce(s *State) {
	cn := s.Connections[a.Addr]
	st := cn.Auth
	st.clearStaging()
	data := a.Data
	for len(data) > 0 {
		n := len(data)
		if n > noiseMaxChunk {
			n = noiseMaxChunk
		}
		msg, err := st.send.Encrypt(nil, nil, data[:n])
		if err != nil {
			st.fail(DisconnectReasonNoiseHandshake)
			return
		}
		st.stageChunk(msg)
		data = data[n:]
	}
}

func (a NoiseOutgoingDataAction) Effects(store Store) {
	s := store.P2p()
	cn, ok := s.Connections[a.Addr]
	if !ok || cn.Auth == nil {
		return
	}
	noiseFlush(store, a.Addr)
	if cn.Auth.Failed {
		store.Dispatch(DisconnectAction{Addr: a.Addr, Reason: cn.Auth.FailReason})
	}
}

// noiseFlush pushes staged noise wire chunks down to the pnet layer.
func noiseFlush(store Store, addr ConnAddr) {
	cn, ok := store.P2p().Connections[addr]
	if !ok || cn.Auth == nil {
		return
	}
	if out := cn.Auth.OutChunks; len(out) > 0 {
		store.Dispatch(PnetOutgoingDataAction{Addr: addr, Data: out})
	}
}
