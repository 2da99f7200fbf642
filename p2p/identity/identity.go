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

// Package identity holds the node key material and the derived peer id.
package identity

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/mr-tron/base58"
	mh "github.com/multiformats/go-multihash"
)

var errInvalidPeerID = errors.New("invalid peer id")

// SecretKey is the node's long-term secp256k1 key.
type SecretKey struct {
	priv *btcec.PrivateKey
}

// GenerateSecretKey creates a fresh random node key.
func GenerateSecretKey() (*SecretKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating node key: %w", err)
	}
	return &SecretKey{priv: priv}, nil
}

// SecretKeyFromBytes restores a key from its 32-byte scalar form.
func SecretKeyFromBytes(b []byte) (*SecretKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, got %d", len(b))
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return &SecretKey{priv: priv}, nil
}

// Bytes returns the 32-byte scalar form.
func (k *SecretKey) Bytes() []byte {
	return k.priv.Serialize()
}

func (k *SecretKey) PublicKey() PublicKey {
	return PublicKey{pub: k.priv.PubKey()}
}

// Static returns the raw scalar for use as a noise static key.
func (k *SecretKey) Static() []byte {
	return k.priv.Serialize()
}

// PublicKey is the public half of a node key. Immutable once constructed.
type PublicKey struct {
	pub *btcec.PublicKey
}

// PublicKeyFromBytes parses a 33-byte compressed public key.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return PublicKey{}, fmt.Errorf("parsing public key: %w", err)
	}
	return PublicKey{pub: pub}, nil
}

// Bytes returns the compressed SEC1 encoding.
func (p PublicKey) Bytes() []byte {
	return p.pub.SerializeCompressed()
}

// PeerID derives the content-addressed identifier of this key, a
// sha2-256 multihash over the compressed public key bytes.
func (p PublicKey) PeerID() PeerID {
	sum, err := mh.Sum(p.Bytes(), mh.SHA2_256, -1)
	if err != nil {
		// mh.Sum over sha2-256 cannot fail for non-empty input.
		panic(err)
	}
	return PeerID(sum)
}

// PeerID is the multihash identifier of a peer's public key. The underlying
// string holds raw multihash bytes, making PeerID usable as a map key.
type PeerID string

// PeerIDFromBytes validates b as a multihash and returns it as a PeerID.
func PeerIDFromBytes(b []byte) (PeerID, error) {
	if _, err := mh.Decode(b); err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidPeerID, err)
	}
	return PeerID(b), nil
}

// PeerIDFromString parses the base58 text form.
func PeerIDFromString(s string) (PeerID, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidPeerID, err)
	}
	return PeerIDFromBytes(b)
}

// Bytes returns the canonical byte form used for hashing and wire encoding.
func (id PeerID) Bytes() []byte { return []byte(id) }

// Less orders peer ids by their canonical byte form. Maps keyed by peer id
// are iterated in this order wherever the protocol requires determinism.
func (id PeerID) Less(other PeerID) bool {
	return id < other
}

func (id PeerID) String() string {
	return base58.Encode([]byte(id))
}

// TerminalString returns a shortened form for log output.
func (id PeerID) TerminalString() string {
	s := id.String()
	if len(s) <= 8 {
		return s
	}
	return s[len(s)-8:]
}
