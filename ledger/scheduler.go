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

package ledger

import (
	"github.com/ethereum/go-ethereum/log"
)

// DefaultReadCostBudget caps the summed cost of in-flight reads.
const DefaultReadCostBudget = 200

// RequestID identifies one scheduled read.
type RequestID uint64

// Service is the boundary to the ledger backend. Read only enqueues; the
// completion re-enters as a ReadSuccessAction.
type Service interface {
	Read(id RequestID, req ReadRequest)
}

// Store gives ledger effects access to state and dispatch.
type Store interface {
	Ledger() *State
	Service() Service
	Dispatch(a Action) bool
}

// Action is a ledger-scheduler state transition.
type Action interface {
	IsEnabled(s *State) bool
	Effects(store Store)
}

type queuedRead struct {
	id  RequestID
	req ReadRequest
}

// State is the read scheduler: a FIFO of deferred requests and the
// in-flight set, bounded by the cost budget. A request heavier than the
// whole budget is admitted alone, so oversized reads cannot starve.
type State struct {
	Budget int

	nextID   RequestID
	queue    []queuedRead
	inFlight map[RequestID]ReadRequest
	cost     int

	// justAdmitted stages, per reduce, the requests the effect stage must
	// hand to the service.
	justAdmitted []queuedRead

	log log.Logger
}

// NewState builds a scheduler with the given budget; zero means the
// default.
func NewState(budget int) *State {
	if budget <= 0 {
		budget = DefaultReadCostBudget
	}
	return &State{
		Budget:   budget,
		nextID:   1,
		inFlight: make(map[RequestID]ReadRequest),
		log:      log.New("mod", "ledger"),
	}
}

// InFlightCost is the summed cost of running reads.
func (s *State) InFlightCost() int { return s.cost }

// InFlightCount is the number of running reads.
func (s *State) InFlightCount() int { return len(s.inFlight) }

// QueueLen is the number of deferred reads.
func (s *State) QueueLen() int { return len(s.queue) }

// Request returns the in-flight request for an id, or nil.
func (s *State) Request(id RequestID) ReadRequest {
	return s.inFlight[id]
}

// admit moves queued requests into the in-flight set while the budget
// allows, staging them for the effect stage.
func (s *State) admit() {
	for len(s.queue) > 0 {
		head := s.queue[0]
		cost := head.req.Cost()
		if len(s.inFlight) > 0 && s.cost+cost > s.Budget {
			return
		}
		s.queue = s.queue[1:]
		s.inFlight[head.id] = head.req
		s.cost += cost
		s.justAdmitted = append(s.justAdmitted, head)
	}
}

// ReadInitAction schedules one read. If the budget is exhausted the
// request is deferred, never rejected.
type ReadInitAction struct {
	Request ReadRequest
}

func (a ReadInitAction) IsEnabled(s *State) bool {
	return a.Request != nil
}

func (a ReadInitAction) reduce(s *State) {
	s.justAdmitted = nil
	id := s.nextID
	s.nextID++
	s.queue = append(s.queue, queuedRead{id: id, req: a.Request})
	s.admit()
	if len(s.justAdmitted) == 0 {
		s.log.Debug("Ledger read deferred", "kind", a.Request.Kind(), "cost", a.Request.Cost(), "inflight", s.cost)
	}
}

func (a ReadInitAction) Effects(store Store) {
	dispatchAdmitted(store)
}

// ReadSuccessAction completes an in-flight read. The response kind must
// match the request kind, anything else is dropped by the gate.
type ReadSuccessAction struct {
	ID       RequestID
	Response ReadResponse
}

func (a ReadSuccessAction) IsEnabled(s *State) bool {
	req, ok := s.inFlight[a.ID]
	return ok && a.Response != nil && req.Kind() == a.Response.Kind()
}

func (a ReadSuccessAction) reduce(s *State) {
	s.justAdmitted = nil
	req := s.inFlight[a.ID]
	delete(s.inFlight, a.ID)
	s.cost -= req.Cost()
	if s.cost < 0 {
		s.cost = 0
	}
	s.admit()
}

func (a ReadSuccessAction) Effects(store Store) {
	dispatchAdmitted(store)
}

func dispatchAdmitted(store Store) {
	s := store.Ledger()
	for _, q := range s.justAdmitted {
		store.Service().Read(q.id, q.req)
	}
}

// Reduce applies one enabled ledger action.
func (s *State) Reduce(a Action) {
	switch a := a.(type) {
	case ReadInitAction:
		a.reduce(s)
	case ReadSuccessAction:
		a.reduce(s)
	}
}
