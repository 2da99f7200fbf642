// Copyright 2024 The openmina Authors
// This file is part of openmina.
//
// openmina is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// openmina is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with openmina. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/crypto/blake2b"

	"github.com/lambdaclass/openmina/blockproducer"
	"github.com/lambdaclass/openmina/blockproducer/vrfevaluator"
	"github.com/lambdaclass/openmina/ledger"
	"github.com/lambdaclass/openmina/node"
	"github.com/lambdaclass/openmina/p2p"
)

// daemonServices are the process-local collaborators of the core: the TCP
// reactor, the (stub) ledger backend, the VRF worker and the production
// pipeline. They all report back by injecting actions.
type daemonServices struct {
	mu    sync.Mutex
	n     *node.Node
	conns map[p2p.ConnAddr]net.Conn
}

func services() *daemonServices {
	return &daemonServices{conns: make(map[p2p.ConnAddr]net.Conn)}
}

func (d *daemonServices) bind(n *node.Node) { d.n = n }

// listen accepts inbound connections and hands them to the session stack.
func (d *daemonServices) listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Info("Listening", "addr", addr)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				log.Warn("Accept failed", "err", err)
				return
			}
			remote := p2p.ConnAddr(conn.RemoteAddr().String())
			d.mu.Lock()
			d.conns[remote] = conn
			d.mu.Unlock()
			d.inject(node.P2pAction{A: p2p.IncomingDidAcceptAction{Addr: remote}})
			go d.readLoop(remote, conn)
		}
	}()
	return nil
}

func (d *daemonServices) inject(a node.Action) {
	if err := d.n.Inject(a); err != nil {
		log.Warn("Dropping event", "err", err)
	}
}

// Dial opens the TCP connection and pumps received bytes into the session
// state machines.
func (d *daemonServices) Dial(addr p2p.ConnAddr) {
	go func() {
		conn, err := net.Dial("tcp", string(addr))
		if err != nil {
			log.Debug("Dial failed", "addr", addr, "err", err)
			d.inject(node.P2pAction{A: p2p.DisconnectAction{
				Addr:   addr,
				Reason: p2p.DisconnectReasonRemoteClosed,
			}})
			return
		}
		d.mu.Lock()
		d.conns[addr] = conn
		d.mu.Unlock()
		d.inject(node.P2pAction{A: p2p.OutgoingDidConnectAction{Addr: addr}})
		d.readLoop(addr, conn)
	}()
}

func (d *daemonServices) readLoop(addr p2p.ConnAddr, conn net.Conn) {
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			d.inject(node.P2pAction{A: p2p.PnetIncomingDataAction{Addr: addr, Data: data}})
		}
		if err != nil {
			d.inject(node.P2pAction{A: p2p.DisconnectAction{
				Addr:   addr,
				Reason: p2p.DisconnectReasonRemoteClosed,
			}})
			return
		}
	}
}

func (d *daemonServices) Send(addr p2p.ConnAddr, data []byte) {
	d.mu.Lock()
	conn := d.conns[addr]
	d.mu.Unlock()
	if conn == nil {
		return
	}
	if _, err := conn.Write(data); err != nil {
		log.Debug("Write failed", "addr", addr, "err", err)
	}
}

func (d *daemonServices) Close(addr p2p.ConnAddr) {
	d.mu.Lock()
	conn := d.conns[addr]
	delete(d.conns, addr)
	d.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (d *daemonServices) Rand() io.Reader { return rand.Reader }

// Read answers ledger reads. The core carries no ledger storage; without a
// backing ledger process every read reports missing data.
func (d *daemonServices) Read(id ledger.RequestID, req ledger.ReadRequest) {
	go func() {
		var resp ledger.ReadResponse
		switch req.Kind() {
		case ledger.ReadDelegatorTable:
			resp = ledger.DelegatorTableResponse{
				LedgerHash: req.(ledger.DelegatorTableRequest).LedgerHash,
			}
		case ledger.ReadGetNumAccounts:
			resp = ledger.NumAccountsResponse{}
		case ledger.ReadGetChildHashesAtAddr:
			resp = ledger.ChildHashesResponse{}
		case ledger.ReadGetChildAccountsAtAddr:
			resp = ledger.ChildAccountsResponse{}
		case ledger.ReadGetStagedLedgerAuxAndPendingCoinbases:
			resp = ledger.StagedLedgerAuxAndPendingCoinbasesResponse{}
		case ledger.ReadScanStateSummary:
			resp = ledger.ScanStateSummaryResponse{}
		}
		d.inject(node.LedgerAction{A: ledger.ReadSuccessAction{ID: id, Response: resp}})
	}()
}

// Evaluate runs the VRF off the dispatch loop and reports the verdict. The
// stake-proportional threshold over a keyed hash stands in for the real
// VRF circuit, which lives in the prover process.
func (d *daemonServices) Evaluate(input vrfevaluator.Input) {
	go func() {
		total := input.TotalCurrency
		var won bool
		var winner uint64
		var out [32]byte
		if input.Delegators != nil && total > 0 {
			for index, entry := range input.Delegators.Entries {
				var msg [48]byte
				copy(msg[:], input.Seed)
				binary.BigEndian.PutUint32(msg[32:], input.GlobalSlot)
				binary.BigEndian.PutUint64(msg[36:], index)
				h := blake2b.Sum256(msg[:])
				sample := binary.BigEndian.Uint64(h[:8])
				threshold := uint64(float64(1<<63) * 2 * (float64(entry.Balance) / float64(total)))
				if sample < threshold {
					won, winner, out = true, index, h
					break
				}
			}
		}
		d.inject(node.VrfEvaluatorAction{A: vrfevaluator.EvaluationSuccessAction{
			Result: vrfevaluator.Result{
				GlobalSlot:     input.GlobalSlot,
				Won:            won,
				DelegatorIndex: winner,
				Output:         out,
			},
			StakingLedgerHash: input.LedgerHash,
		}})
	}()
}

// ProduceBlock stands in for the production pipeline; completion frees the
// producer shell for the next won slot.
func (d *daemonServices) ProduceBlock(slot uint32, _ [32]byte) {
	log.Info("Production pipeline started", "slot", slot)
	go d.inject(node.BlockProducerAction{A: blockproducer.ProduceDoneAction{GlobalSlot: slot}})
}
