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
	"fmt"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/lambdaclass/openmina/blockproducer"
	"github.com/lambdaclass/openmina/blockproducer/vrfevaluator"
	"github.com/lambdaclass/openmina/ledger"
	"github.com/lambdaclass/openmina/p2p"
)

// Services are the external collaborators the effects talk to. All calls
// are fire-and-forget; completions come back through the event queue as
// actions.
type Services struct {
	P2p      p2p.Service
	Ledger   ledger.Service
	Vrf      VrfWorker
	Producer blockproducer.Service
}

// VrfWorker runs VRF cryptography off the dispatch loop.
type VrfWorker interface {
	Evaluate(input vrfevaluator.Input)
}

// Store owns the state tree and runs the dispatch loop contract: gate,
// reduce, effects. It must only be used from one goroutine; the node run
// loop funnels every external input through it.
type Store struct {
	state    *State
	services Services
	clock    mclock.Clock
	log      log.Logger

	lastActionID uint64
	stats        map[string]uint64

	// feed publishes Event values to external observers.
	feed event.Feed

	// delegator lookups in flight on behalf of the vrf evaluator,
	// correlated by epoch ledger hash.
	dl *delegatorLookup
}

type delegatorLookup struct {
	current, next       ledger.Hash
	gotCurrent, gotNext bool
	curTable, nextTable *ledger.DelegatorTable
}

// NewStore builds a store over fresh state.
func NewStore(cfg Config, services Services, clock mclock.Clock) *Store {
	cfg = cfg.withDefaults()
	return &Store{
		state:    NewState(cfg),
		services: services,
		clock:    clock,
		log:      log.New("mod", "node"),
		stats:    make(map[string]uint64),
	}
}

// State exposes the state tree for inspection. Callers outside the
// dispatch goroutine must treat it as read-only and racy.
func (s *Store) State() *State { return s.state }

// Stats returns a copy of the per-action-kind dispatch counters.
func (s *Store) Stats() map[string]uint64 {
	out := make(map[string]uint64, len(s.stats))
	for k, v := range s.stats {
		out[k] = v
	}
	return out
}

// Now returns the current wall-clock reading.
func (s *Store) Now() mclock.AbsTime { return s.clock.Now() }

// Dispatch runs one action through gate, reducer and effects. It returns
// false when the enabling condition rejected the action.
func (s *Store) Dispatch(a Action) bool {
	name := actionName(a)
	if !a.IsEnabled(s.state) {
		s.log.Debug("Dropping disabled action", "action", name)
		return false
	}
	s.lastActionID++
	meta := ActionMeta{Time: s.clock.Now(), ID: s.lastActionID}
	s.reduce(a, meta)
	s.state.actionApplied(meta)
	s.stats[name]++
	s.effects(a, meta)
	return true
}

// reduce routes the action to the owning sub-reducer. Nothing in here may
// touch services, time or randomness beyond what the action carries.
func (s *Store) reduce(a Action, meta ActionMeta) {
	switch a := a.(type) {
	case P2pAction:
		s.state.P2p.Reduce(a.A, meta.Time)
	case LedgerAction:
		s.state.Ledger.Reduce(a.A)
	case VrfEvaluatorAction:
		s.state.BlockProducer.VrfEvaluator.Reduce(a.A)
	case BlockProducerAction:
		s.state.BlockProducer.Reduce(a.A)
	case BestTipUpdateAction:
		a.reduce(s.state)
	case TransitionFrontierSyncedAction:
		a.reduce(s.state)
	case TransitionFrontierSyncInitAction:
		a.reduce(s.state)
	case CheckTimeoutsAction:
		// Pure sweep: all changes happen via the actions it dispatches.
	}
}

func actionName(a Action) string {
	switch a := a.(type) {
	case P2pAction:
		return fmt.Sprintf("%T", a.A)
	case LedgerAction:
		return fmt.Sprintf("%T", a.A)
	case VrfEvaluatorAction:
		return fmt.Sprintf("%T", a.A)
	case BlockProducerAction:
		return fmt.Sprintf("%T", a.A)
	default:
		return fmt.Sprintf("%T", a)
	}
}

// Sub-store adapters hand each component a view of the store in its own
// vocabulary.

type p2pStore struct{ s *Store }

func (ps p2pStore) P2p() *p2p.State            { return ps.s.state.P2p }
func (ps p2pStore) Service() p2p.Service       { return ps.s.services.P2p }
func (ps p2pStore) Dispatch(a p2p.Action) bool { return ps.s.Dispatch(P2pAction{A: a}) }

type ledgerStore struct{ s *Store }

func (ls ledgerStore) Ledger() *ledger.State         { return ls.s.state.Ledger }
func (ls ledgerStore) Service() ledger.Service       { return ls.s.services.Ledger }
func (ls ledgerStore) Dispatch(a ledger.Action) bool { return ls.s.Dispatch(LedgerAction{A: a}) }

type vrfStore struct{ s *Store }

func (vs vrfStore) VrfEvaluator() *vrfevaluator.State { return vs.s.state.BlockProducer.VrfEvaluator }
func (vs vrfStore) GlobalSlot() uint32                { return vs.s.state.GlobalSlot(vs.s.clock.Now()) }
func (vs vrfStore) Service() vrfevaluator.Service     { return vrfServiceBridge{s: vs.s} }
func (vs vrfStore) Dispatch(a vrfevaluator.Action) bool {
	return vs.s.Dispatch(VrfEvaluatorAction{A: a})
}

// vrfServiceBridge implements the evaluator's service surface: VRF work
// goes to the external worker, delegator lookups are routed through the
// ledger read scheduler and re-assembled in effect-side bookkeeping.
type vrfServiceBridge struct{ s *Store }

func (b vrfServiceBridge) Evaluate(input vrfevaluator.Input) {
	b.s.services.Vrf.Evaluate(input)
}

func (b vrfServiceBridge) RequestDelegatorTables(current, next ledger.Hash, producer ledger.AccountPublicKey) {
	b.s.dl = &delegatorLookup{current: current, next: next}
	b.s.Dispatch(LedgerAction{A: ledger.ReadInitAction{
		Request: ledger.DelegatorTableRequest{LedgerHash: current, Producer: producer},
	}})
	if next != current {
		b.s.Dispatch(LedgerAction{A: ledger.ReadInitAction{
			Request: ledger.DelegatorTableRequest{LedgerHash: next, Producer: producer},
		}})
	}
}

type producerStore struct{ s *Store }

func (bs producerStore) BlockProducer() *blockproducer.State { return bs.s.state.BlockProducer }
func (bs producerStore) Service() blockproducer.Service      { return bs.s.services.Producer }
func (bs producerStore) Dispatch(a blockproducer.Action) bool {
	return bs.s.Dispatch(BlockProducerAction{A: a})
}
