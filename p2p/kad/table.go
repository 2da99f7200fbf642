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

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/lambdaclass/openmina/p2p/identity"
)

// BucketSize is the K parameter, the maximum number of entries per bucket.
const BucketSize = 20

// ConnectionState records what is known about reachability of an entry.
type ConnectionState int

const (
	NotConnected ConnectionState = iota
	Connected
	CanConnect
	CannotConnect
)

func (c ConnectionState) String() string {
	switch c {
	case NotConnected:
		return "not-connected"
	case Connected:
		return "connected"
	case CanConnect:
		return "can-connect"
	case CannotConnect:
		return "cannot-connect"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// Entry is a single routing table record.
type Entry struct {
	Key        Key
	PeerID     identity.PeerID
	Addrs      []ma.Multiaddr
	Connection ConnectionState
}

// NewEntry derives the key from the peer id.
func NewEntry(peerID identity.PeerID, addrs []ma.Multiaddr) *Entry {
	return &Entry{
		Key:        KeyFromPeerID(peerID),
		PeerID:     peerID,
		Addrs:      addrs,
		Connection: NotConnected,
	}
}

// Dist returns the XOR distance between the keys of two entries.
func (e *Entry) Dist(other *Entry) Dist {
	return e.Key.Dist(other.Key)
}

// addAddrs appends addresses not already present, preserving order.
func (e *Entry) addAddrs(addrs []ma.Multiaddr) {
	for _, addr := range addrs {
		known := false
		for _, have := range e.Addrs {
			if have.Equal(addr) {
				known = true
				break
			}
		}
		if !known {
			e.Addrs = append(e.Addrs, addr)
		}
	}
}

// InsertResult reports what Insert did with an entry.
type InsertResult int

const (
	// InsertAddedNew means the entry was stored in a free slot.
	InsertAddedNew InsertResult = iota
	// InsertUpdated means an entry with the same key existed and its
	// address list was extended.
	InsertUpdated
	// InsertFull means the target bucket is full and cannot be split.
	InsertFull
)

type bucket struct {
	entries []*Entry
}

func (b *bucket) len() int { return len(b.entries) }

func (b *bucket) find(key Key) *Entry {
	for _, e := range b.entries {
		if e.Key.Equal(key) {
			return e
		}
	}
	return nil
}

// canInsert reports whether the entry fits: either a slot is free or an
// entry with the same key is already present and only needs updating.
func (b *bucket) canInsert(entry *Entry) bool {
	return b.len() < BucketSize || b.find(entry.Key) != nil
}

func (b *bucket) insert(entry *Entry) InsertResult {
	if have := b.find(entry.Key); have != nil {
		have.addAddrs(entry.Addrs)
		return InsertUpdated
	}
	if b.len() >= BucketSize {
		return InsertFull
	}
	b.entries = append(b.entries, entry)
	return InsertAddedNew
}

// split partitions the bucket. Entries for which keep returns true go to the
// first result, the rest to the second. Stored order is preserved.
func (b *bucket) split(keep func(*Entry) bool) (*bucket, *bucket) {
	far, near := new(bucket), new(bucket)
	for _, e := range b.entries {
		if keep(e) {
			far.entries = append(far.entries, e)
		} else {
			near.entries = append(near.entries, e)
		}
	}
	return far, near
}

// RoutingTable is the Kademlia K-bucket table. Bucket i holds entries whose
// distance to thisKey is at most 2^(256-i)-1; if bucket i+1 exists, the
// distance is also strictly greater than 2^(256-i-1)-1. The last bucket
// holds the closest entries, including the node's own, and is the only one
// that may be split.
//
// The table is not safe for concurrent use; it is owned by the dispatcher.
type RoutingTable struct {
	thisKey Key
	buckets []*bucket
	log     log.Logger
}

// NewRoutingTable creates a table seeded with the node's own entry.
func NewRoutingTable(thisEntry *Entry) *RoutingTable {
	return &RoutingTable{
		thisKey: thisEntry.Key,
		buckets: []*bucket{{entries: []*Entry{thisEntry}}},
		log:     log.New("tbl", thisEntry.PeerID.TerminalString()),
	}
}

// ThisKey returns the key of the local node.
func (t *RoutingTable) ThisKey() Key { return t.thisKey }

// NumBuckets returns the current number of buckets.
func (t *RoutingTable) NumBuckets() int { return len(t.buckets) }

// Len returns the total number of entries, the node's own included.
func (t *RoutingTable) Len() int {
	n := 0
	for _, b := range t.buckets {
		n += b.len()
	}
	return n
}

// Lookup returns the stored entry for key, or nil.
func (t *RoutingTable) Lookup(key Key) *Entry {
	i := t.thisKey.Dist(key).Index()
	if last := len(t.buckets) - 1; i > last {
		i = last
	}
	return t.buckets[i].find(key)
}

// Insert places the entry in its distance bucket. A full non-last bucket
// refuses the entry; a full last bucket is split once and the insert
// retried on the matching half.
func (t *RoutingTable) Insert(entry *Entry) InsertResult {
	dist := t.thisKey.Dist(entry.Key)
	index := dist.Index()

	last := len(t.buckets) - 1
	if index < last {
		// The target bucket is fixed and may never be split.
		if !t.buckets[index].canInsert(entry) {
			t.log.Debug("Routing table bucket full", "bucket", index, "peer", entry.PeerID.TerminalString())
			return InsertFull
		}
		return t.buckets[index].insert(entry)
	}
	if t.buckets[last].canInsert(entry) {
		return t.buckets[last].insert(entry)
	}

	// The last bucket is full: split it into a new penultimate bucket
	// holding the farther half and a new last bucket with the rest.
	splitDist := DistFromIndex(last + 1)
	far, near := t.buckets[last].split(func(e *Entry) bool {
		return t.thisKey.Dist(e.Key).Cmp(splitDist) > 0
	})
	t.buckets = append(t.buckets[:last], far, near)

	target := near
	if index == last {
		target = far
	}
	res := target.insert(entry)
	if res == InsertFull {
		t.log.Warn("Routing table bucket overflow after split", "bucket", index)
	}
	return res
}

// FindNode returns up to 20 entries in (approximate) increasing distance
// from key, excluding the exact key and the node's own entry.
func (t *RoutingTable) FindNode(key Key) []*Entry {
	iter := t.ClosestPeers(key)
	out := make([]*Entry, 0, 20)
	for len(out) < 20 {
		e, ok := iter.Next()
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out
}

// ClosestPeers returns a lazy iterator over entries ordered by the outward
// bucket walk from the key's bucket. Entries matching key or the node's own
// key are skipped.
func (t *RoutingTable) ClosestPeers(key Key) *ClosestPeers {
	start := t.thisKey.Dist(key).Index()
	if last := len(t.buckets) - 1; start > last {
		start = last
	}
	return &ClosestPeers{
		table:       t,
		key:         key,
		startIndex:  start,
		bucketIndex: start,
	}
}

// ClosestPeers walks buckets starting at the target bucket, first towards
// higher indices, then downward. Within a bucket entries are yielded in
// stored order, which gives correct top-20 results without sorting.
type ClosestPeers struct {
	table       *RoutingTable
	key         Key
	startIndex  int
	bucketIndex int
	pos         int
	done        bool
}

// Next yields the next entry, or false when the walk is exhausted.
func (it *ClosestPeers) Next() (*Entry, bool) {
	for !it.done {
		b := it.table.buckets[it.bucketIndex]
		for it.pos < b.len() {
			e := b.entries[it.pos]
			it.pos++
			if e.Key.Equal(it.key) || e.Key.Equal(it.table.thisKey) {
				continue
			}
			return e, true
		}
		it.advanceBucket()
	}
	return nil, false
}

func (it *ClosestPeers) advanceBucket() {
	it.pos = 0
	if it.bucketIndex >= it.startIndex {
		if it.bucketIndex+1 >= len(it.table.buckets) {
			if it.startIndex > 0 {
				it.bucketIndex = it.startIndex - 1
			} else {
				it.done = true
			}
		} else {
			it.bucketIndex++
		}
	} else if it.bucketIndex > 0 {
		it.bucketIndex--
	} else {
		it.done = true
	}
}

// CheckInvariants verifies the bucket structure. Used by tests; Insert does
// not call it.
func (t *RoutingTable) CheckInvariants() error {
	var prev *Dist
	for i := len(t.buckets) - 1; i >= 0; i-- {
		b := t.buckets[i]
		if b.len() > BucketSize {
			return fmt.Errorf("bucket %d holds %d entries, max %d", i, b.len(), BucketSize)
		}
		bound := DistFromIndex(i)
		seen := make(map[identity.PeerID]struct{}, b.len())
		for _, e := range b.entries {
			if _, dup := seen[e.PeerID]; dup {
				return fmt.Errorf("bucket %d holds peer %s twice", i, e.PeerID)
			}
			seen[e.PeerID] = struct{}{}
			d := t.thisKey.Dist(e.Key)
			if d.Cmp(bound) > 0 {
				return fmt.Errorf("bucket %d entry %s out of range: dist %s > %s", i, e.PeerID, d, bound)
			}
			if prev != nil && d.Cmp(*prev) <= 0 && !e.Key.Equal(t.thisKey) {
				return fmt.Errorf("bucket %d entry %s too close: dist %s within bucket %d bound", i, e.PeerID, d, i+1)
			}
		}
		prev = &bound
	}
	return nil
}
