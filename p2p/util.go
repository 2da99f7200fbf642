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
	"io"
	"net"

	ma "github.com/multiformats/go-multiaddr"
)

// randomNonce draws a pnet nonce from the service entropy source.
func randomNonce(svc Service) [24]byte {
	var nonce [24]byte
	if _, err := io.ReadFull(svc.Rand(), nonce[:]); err != nil {
		panic(err) // entropy exhaustion is not recoverable
	}
	return nonce
}

// multiaddrToDial flattens an /ip4 (or /ip6) + /tcp multiaddr into the
// host:port form the transport reactor dials.
func multiaddrToDial(addr ma.Multiaddr) string {
	host, err := addr.ValueForProtocol(ma.P_IP4)
	if err != nil {
		if host, err = addr.ValueForProtocol(ma.P_IP6); err != nil {
			return ""
		}
	}
	port, err := addr.ValueForProtocol(ma.P_TCP)
	if err != nil {
		return ""
	}
	return net.JoinHostPort(host, port)
}
