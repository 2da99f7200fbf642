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

// Package kad implements the Kademlia routing table used for peer discovery.
package kad

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/holiman/uint256"
	"github.com/lambdaclass/openmina/p2p/identity"
)

// Key is the Kademlia key of a node, the sha256 of its peer id bytes
// interpreted as a 256-bit big-endian integer.
type Key struct {
	v uint256.Int
}

// KeyFromPeerID hashes the canonical peer id bytes into a Key.
func KeyFromPeerID(id identity.PeerID) Key {
	sum := sha256.Sum256(id.Bytes())
	return KeyFromBytes(sum)
}

// KeyFromBytes builds a key from a big-endian 32-byte value.
func KeyFromBytes(b [32]byte) Key {
	var k Key
	k.v.SetBytes32(b[:])
	return k
}

func (k Key) Equal(other Key) bool {
	return k.v.Eq(&other.v)
}

// Cmp orders keys by numeric value.
func (k Key) Cmp(other Key) int {
	return k.v.Cmp(&other.v)
}

func (k Key) Bytes() [32]byte {
	return k.v.Bytes32()
}

func (k Key) String() string {
	b := k.v.Bytes32()
	return hex.EncodeToString(b[:])
}

// Dist returns the XOR distance between two keys.
func (k Key) Dist(other Key) Dist {
	var d Dist
	d.v.Xor(&k.v, &other.v)
	return d
}

// Dist is the XOR distance between two keys, a 256-bit integer.
type Dist struct {
	v uint256.Int
}

// Index returns the bucket index for this distance: 256 minus the bit
// length, i.e. the length of the common key prefix.
func (d Dist) Index() int {
	return 256 - d.v.BitLen()
}

// DistFromIndex is the upper distance bound of bucket i, `2^(256-i) - 1`.
// Any node sharing at least i leading key bits is within this distance.
func DistFromIndex(i int) Dist {
	var d Dist
	d.v.SetAllOne()
	d.v.Rsh(&d.v, uint(i))
	return d
}

func (d Dist) Cmp(other Dist) int {
	return d.v.Cmp(&other.v)
}

func (d Dist) IsZero() bool {
	return d.v.IsZero()
}

func (d Dist) String() string {
	b := d.v.Bytes32()
	return hex.EncodeToString(b[:])
}
