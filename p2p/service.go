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

import "io"

// ConnAddr identifies one transport connection by its remote address in
// "host:port" form.
type ConnAddr string

// Service is the boundary to the transport reactor. Every method only
// enqueues work; completions re-enter the state machines as actions.
type Service interface {
	// Dial asks the reactor to open a TCP connection.
	Dial(addr ConnAddr)
	// Send hands fully pnet-encrypted bytes to the socket.
	Send(addr ConnAddr, data []byte)
	// Close tears the connection down.
	Close(addr ConnAddr)
	// Rand is the entropy source for handshake nonces and ephemeral keys.
	Rand() io.Reader
}

// Store gives effects access to the p2p state and the dispatch loop. The
// node's store implements it by unwrapping p2p actions from global ones.
type Store interface {
	P2p() *State
	Service() Service
	Dispatch(a Action) bool
}
