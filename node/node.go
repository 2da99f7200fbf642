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

package node

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/lambdaclass/openmina/p2p/identity"
)

// EventType tags node notifications.
type EventType int

const (
	EventPeerReady EventType = iota
	EventSlotWon
	EventBlockProduced
)

// Event is a node-level notification published to subscribers.
type Event struct {
	Type   EventType
	PeerID identity.PeerID
	Slot   uint32
}

// Node runs the store's dispatch loop: external inputs (network bytes,
// service completions, timer ticks) are funneled through one queue so the
// core stays single-threaded.
type Node struct {
	store *Store
	clock mclock.Clock
	log   log.Logger

	events chan Action

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	done      chan struct{}
}

var errQueueFull = errors.New("node event queue overflow")

// New wires a node around the given services. Pass mclock.System{} outside
// of tests.
func New(cfg Config, services Services, clock mclock.Clock) *Node {
	return &Node{
		store:  NewStore(cfg, services, clock),
		clock:  clock,
		log:    log.New("mod", "node"),
		events: make(chan Action, 4096),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Store exposes the dispatch loop for tests and tooling.
func (n *Node) Store() *Store { return n.store }

// Inject queues an externally produced action for dispatch. Safe for
// concurrent use; this is how services deliver their completions.
func (n *Node) Inject(a Action) error {
	select {
	case n.events <- a:
		return nil
	case <-n.quit:
		return errors.New("node stopped")
	default:
		return errQueueFull
	}
}

// SubscribeEvents delivers node notifications until unsubscribed.
func (n *Node) SubscribeEvents(ch chan<- Event) event.Subscription {
	return n.store.feed.Subscribe(ch)
}

// Start launches the dispatch loop.
func (n *Node) Start() {
	n.startOnce.Do(func() { go n.run() })
}

// Stop terminates the dispatch loop and waits for it.
func (n *Node) Stop() {
	n.stopOnce.Do(func() { close(n.quit) })
	<-n.done
}

func (n *Node) run() {
	defer close(n.done)

	interval := n.store.state.Config.CheckTimeoutsInterval
	timer := n.clock.NewTimer(interval)
	defer timer.Stop()

	n.log.Info("Node started", "peer", n.store.state.P2p.ThisPeerID.TerminalString())
	for {
		select {
		case a := <-n.events:
			n.store.Dispatch(a)
		case <-timer.C():
			n.store.Dispatch(CheckTimeoutsAction{})
			timer.Reset(interval)
		case <-n.quit:
			n.log.Info("Node stopped", "actions", n.store.state.AppliedActionsCount)
			return
		}
	}
}
