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
	"github.com/ethereum/go-ethereum/common/mclock"
)

// Reduce applies one enabled action to the p2p state. It must stay pure:
// the only inputs are the current state, the action and the dispatch time.
func (s *State) Reduce(a Action, now mclock.AbsTime) {
	switch a := a.(type) {
	case OutgoingInitAction:
		a.reduce(s, now)
	case OutgoingDidConnectAction:
		a.reduce(s)
	case IncomingDidAcceptAction:
		a.reduce(s, now)
	case PeerReadyAction:
		a.reduce(s, now)
	case DisconnectAction:
		a.reduce(s)
	case PnetSetupNonceAction:
		a.reduce(s)
	case PnetIncomingDataAction:
		a.reduce(s)
	case PnetOutgoingDataAction:
		a.reduce(s)
	case SelectInitAction:
		a.reduce(s)
	case SelectOutgoingTokensAction:
		a.reduce(s)
	case SelectIncomingDataAction:
		a.reduce(s)
	case NoiseInitAction:
		a.reduce(s)
	case NoiseIncomingDataAction:
		a.reduce(s)
	case NoiseHandshakeDoneAction:
		a.reduce(s)
	case NoiseOutgoingDataAction:
		a.reduce(s)
	case YamuxInitAction:
		a.reduce(s)
	case YamuxOpenStreamAction:
		a.reduce(s)
	case YamuxIncomingDataAction:
		a.reduce(s)
	case YamuxIncomingFrameAction:
		a.reduce(s)
	case YamuxOutgoingFrameAction:
		a.reduce(s)
	case YamuxPingStreamAction:
		a.reduce(s)
	case RpcInitAction:
		a.reduce(s)
	case RpcIncomingDataAction:
		a.reduce(s)
	case ChannelsRpcRequestSendAction:
		a.reduce(s, now)
	case ChannelsRpcTimeoutAction:
		a.reduce(s)
	case ChannelsRpcResponseReceivedAction:
		a.reduce(s, now)
	case ChannelsRpcRequestReceivedAction:
		a.reduce(s, now)
	case GossipReceivedAction:
		a.reduce(s)
	case GossipBroadcastAction:
		a.reduce(s)
	case KadMessageReceivedAction:
		a.reduce(s)
	}
}
