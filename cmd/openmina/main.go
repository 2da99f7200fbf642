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

// openmina is the proof-of-stake node daemon.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/lambdaclass/openmina/ledger"
	"github.com/lambdaclass/openmina/node"
	"github.com/lambdaclass/openmina/p2p"
	"github.com/lambdaclass/openmina/p2p/identity"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	chainIDFlag = &cli.StringFlag{
		Name:  "chain-id",
		Usage: "Chain id selecting the network",
		Value: "mainnet",
	}
	nodeKeyFlag = &cli.StringFlag{
		Name:  "nodekey",
		Usage: "Hex-encoded node secret key (random if omitted)",
	}
	producerKeyFlag = &cli.StringFlag{
		Name:  "producer-key",
		Usage: "Block producer public key (disabled if omitted)",
	}
	maxPeersFlag = &cli.IntFlag{
		Name:  "maxpeers",
		Usage: "Maximum number of network peers",
		Value: p2p.DefaultConfig.MaxPeers,
	}
	ledgerBudgetFlag = &cli.IntFlag{
		Name:  "ledger-read-budget",
		Usage: "Cost budget for concurrent ledger reads",
		Value: ledger.DefaultReadCostBudget,
	}
	listenAddrFlag = &cli.StringFlag{
		Name:  "listen",
		Usage: "TCP listen address for inbound peers",
		Value: "0.0.0.0:8302",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
)

// fileConfig mirrors the TOML configuration file.
type fileConfig struct {
	ChainID          string
	NodeKey          string
	ProducerKey      string
	MaxPeers         int
	LedgerReadBudget int
	GenesisTimestamp string
}

func main() {
	app := &cli.App{
		Name:  "openmina",
		Usage: "proof-of-stake blockchain node",
		Flags: []cli.Flag{
			configFileFlag,
			chainIDFlag,
			nodeKeyFlag,
			producerKeyFlag,
			maxPeersFlag,
			ledgerBudgetFlag,
			listenAddrFlag,
			verbosityFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	handler := log.NewTerminalHandlerWithLevel(os.Stderr,
		log.FromLegacyLevel(ctx.Int(verbosityFlag.Name)), true)
	log.SetDefault(log.NewLogger(handler))

	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}

	svc := services()
	n := node.New(cfg, node.Services{P2p: svc, Ledger: svc, Vrf: svc, Producer: svc}, mclock.System{})
	svc.bind(n)
	n.Start()
	defer n.Stop()

	if addr := ctx.String(listenAddrFlag.Name); addr != "" {
		if err := svc.listen(addr); err != nil {
			return err
		}
	}

	events := make(chan node.Event, 64)
	sub := n.SubscribeEvents(events)
	defer sub.Unsubscribe()

	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case node.EventSlotWon:
				log.Info("Eligible to produce", "slot", ev.Slot)
			case node.EventBlockProduced:
				log.Info("Block produced", "slot", ev.Slot)
			}
		case err := <-sub.Err():
			return err
		}
	}
}

func makeConfig(ctx *cli.Context) (node.Config, error) {
	var fc fileConfig
	if path := ctx.String(configFileFlag.Name); path != "" {
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return node.Config{}, fmt.Errorf("loading config file: %w", err)
		}
	}
	chainID := fc.ChainID
	if ctx.IsSet(chainIDFlag.Name) || chainID == "" {
		chainID = ctx.String(chainIDFlag.Name)
	}

	keyHex := fc.NodeKey
	if ctx.IsSet(nodeKeyFlag.Name) {
		keyHex = ctx.String(nodeKeyFlag.Name)
	}
	var key *identity.SecretKey
	var err error
	if keyHex != "" {
		raw, derr := hex.DecodeString(keyHex)
		if derr != nil {
			return node.Config{}, fmt.Errorf("invalid node key: %w", derr)
		}
		if key, err = identity.SecretKeyFromBytes(raw); err != nil {
			return node.Config{}, err
		}
	} else if key, err = identity.GenerateSecretKey(); err != nil {
		return node.Config{}, err
	}

	producer := fc.ProducerKey
	if ctx.IsSet(producerKeyFlag.Name) {
		producer = ctx.String(producerKeyFlag.Name)
	}
	maxPeers := fc.MaxPeers
	if ctx.IsSet(maxPeersFlag.Name) || maxPeers == 0 {
		maxPeers = ctx.Int(maxPeersFlag.Name)
	}
	budget := fc.LedgerReadBudget
	if ctx.IsSet(ledgerBudgetFlag.Name) || budget == 0 {
		budget = ctx.Int(ledgerBudgetFlag.Name)
	}

	var genesis mclock.AbsTime
	if fc.GenesisTimestamp != "" {
		ts, perr := time.Parse(time.RFC3339, fc.GenesisTimestamp)
		if perr != nil {
			return node.Config{}, fmt.Errorf("invalid genesis timestamp: %w", perr)
		}
		genesis = mclock.AbsTime(ts.UnixNano())
	}

	return node.Config{
		P2p: p2p.Config{
			ChainID:   chainID,
			SecretKey: key,
			MaxPeers:  maxPeers,
		},
		GenesisTime:          genesis,
		ProducerKey:          ledger.AccountPublicKey(producer),
		LedgerReadCostBudget: budget,
	}, nil
}
