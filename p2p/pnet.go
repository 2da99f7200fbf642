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
	"golang.org/x/crypto/chacha20"
)

// PnetState obfuscates the raw byte stream with a pre-shared-key stream
// cipher. Each direction starts with a cleartext 24-byte nonce; everything
// after it is XORed with the keystream derived from the chain key and that
// nonce. The handshake proves nothing, it only keeps foreign-chain nodes
// from progressing to the real handshake.
type PnetState struct {
	Incoming pnetHalf
	Outgoing pnetHalf
}

type pnetHalf struct {
	nonce  []byte
	cipher *chacha20.Cipher
	// ToSend holds this half's output since the last reduce: plaintext
	// for the incoming half, ciphertext for the outgoing one.
	ToSend []byte
}

// Done reports whether the half has its nonce and cipher set up.
func (h *pnetHalf) Done() bool { return h.cipher != nil }

func (h *pnetHalf) setup(secret [32]byte, nonce []byte) error {
	c, err := chacha20.NewUnauthenticatedCipher(secret[:], nonce)
	if err != nil {
		return err
	}
	h.nonce = append([]byte(nil), nonce...)
	h.cipher = c
	return nil
}

// process runs data through the stream cipher, accumulating into ToSend.
func (h *pnetHalf) process(data []byte) {
	out := make([]byte, len(data))
	h.cipher.XORKeyStream(out, data)
	h.ToSend = append(h.ToSend, out...)
}

// PnetSetupNonceAction installs the locally generated nonce for the
// outgoing half and ships it to the remote in the clear.
type PnetSetupNonceAction struct {
	Addr     ConnAddr
	Nonce    [24]byte
	Incoming bool
}

func (a PnetSetupNonceAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	return ok && !cn.Pnet.Outgoing.Done()
}

func (a PnetSetupNonceAction) reduce(s *State) {
	cn := s.Connections[a.Addr]
	if err := cn.Pnet.Outgoing.setup(s.PnetSecret, a.Nonce[:]); err != nil {
		s.log.Error("Pnet cipher setup failed", "addr", a.Addr, "err", err)
	}
}

func (a PnetSetupNonceAction) Effects(store Store) {
	store.Service().Send(a.Addr, a.Nonce[:])
	store.Dispatch(SelectInitAction{
		Addr:     a.Addr,
		Kind:     SelectAuth,
		Incoming: a.Incoming,
	})
}

// PnetIncomingDataAction feeds raw socket bytes into the incoming half.
type PnetIncomingDataAction struct {
	Addr ConnAddr
	Data []byte
}

func (a PnetIncomingDataAction) IsEnabled(s *State) bool {
	_, ok := s.Connections[a.Addr]
	return ok
}

func (a PnetIncomingDataAction) reduce(s *State) {
	cn := s.Connections[a.Addr]
	half := &cn.Pnet.Incoming
	half.ToSend = nil

	data := a.Data
	if !half.Done() {
		// Collect the remote nonce first; data may trail it.
		need := 24 - len(half.nonce)
		if need > len(data) {
			half.nonce = append(half.nonce, data...)
			return
		}
		nonce := append(half.nonce, data[:need]...)
		half.nonce = nil
		if err := half.setup(s.PnetSecret, nonce); err != nil {
			s.log.Error("Pnet cipher setup failed", "addr", a.Addr, "err", err)
			return
		}
		data = data[need:]
	}
	if len(data) > 0 {
		half.process(data)
	}
}

func (a PnetIncomingDataAction) Effects(store Store) {
	cn, ok := store.P2p().Connections[a.Addr]
	if !ok {
		return
	}
	if out := cn.Pnet.Incoming.ToSend; len(out) > 0 {
		store.Dispatch(SelectIncomingDataAction{
			Addr: a.Addr,
			Kind: SelectAuth,
			Data: out,
		})
	}
}

// PnetOutgoingDataAction encrypts bytes produced by the layers above and
// pushes the ciphertext to the socket.
type PnetOutgoingDataAction struct {
	Addr ConnAddr
	Data []byte
}

func (a PnetOutgoingDataAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	return ok && cn.Pnet.Outgoing.Done()
}

func (a PnetOutgoingDataAction) reduce(s *State) {
	cn := s.Connections[a.Addr]
	cn.Pnet.Outgoing.ToSend = nil
	cn.Pnet.Outgoing.process(a.Data)
}

func (a PnetOutgoingDataAction) Effects(store Store) {
	cn, ok := store.P2p().Connections[a.Addr]
	if !ok {
		return
	}
	if out := cn.Pnet.Outgoing.ToSend; len(out) > 0 {
		store.Service().Send(a.Addr, out)
	}
}

// PnetTimeoutAction fires when the session stack is not up within the
// handshake deadline.
type PnetTimeoutAction struct {
	Addr ConnAddr
}

func (a PnetTimeoutAction) IsEnabled(s *State) bool {
	cn, ok := s.Connections[a.Addr]
	return ok && cn.Mux == nil
}

func (a PnetTimeoutAction) Effects(store Store) {
	store.Dispatch(DisconnectAction{Addr: a.Addr, Reason: DisconnectReasonTimeout})
}
