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

package kad

import "testing"

func TestDistIndex(t *testing.T) {
	zero := zeroKey()
	tests := []struct {
		pow   int
		index int
	}{
		{255, 0},
		{254, 1},
		{128, 127},
		{1, 254},
		{0, 255},
	}
	for _, tt := range tests {
		d := zero.Dist(keyPow2(tt.pow))
		if got := d.Index(); got != tt.index {
			t.Errorf("index of 2^%d: got %d, want %d", tt.pow, got, tt.index)
		}
	}
	if got := zero.Dist(zero).Index(); got != 256 {
		t.Errorf("index of zero distance: got %d, want 256", got)
	}
}

func TestDistFromIndexBounds(t *testing.T) {
	// Bucket i admits exactly the distances in (fromIndex(i+1), fromIndex(i)].
	for _, pow := range []int{255, 200, 77, 1, 0} {
		d := zeroKey().Dist(keyPow2(pow))
		i := d.Index()
		if d.Cmp(DistFromIndex(i)) > 0 {
			t.Errorf("2^%d exceeds bound of its own bucket %d", pow, i)
		}
		if d.Cmp(DistFromIndex(i+1)) <= 0 {
			t.Errorf("2^%d within bound of deeper bucket %d", pow, i+1)
		}
	}
}

func TestDistSymmetric(t *testing.T) {
	a, b := randKey(t), randKey(t)
	if a.Dist(b).Cmp(b.Dist(a)) != 0 {
		t.Fatal("xor distance is not symmetric")
	}
	if !a.Dist(a).IsZero() {
		t.Fatal("distance to self is not zero")
	}
}

func TestKeyFromPeerIDStable(t *testing.T) {
	id := randPeerID(t)
	if !KeyFromPeerID(id).Equal(KeyFromPeerID(id)) {
		t.Fatal("key derivation is not deterministic")
	}
	if KeyFromPeerID(id).Equal(KeyFromPeerID(randPeerID(t))) {
		t.Fatal("distinct peers map to the same key")
	}
}
