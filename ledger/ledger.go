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

// Package ledger exposes the read-only ledger surface the node core
// consumes: typed read requests matched to typed responses, scheduled under
// a bounded cost budget. The ledger itself lives behind the Service
// boundary and may be internally parallel.
package ledger

import "fmt"

// Depth is the height of the account merkle tree the read costs are
// derived from.
const Depth = 20

// Hash identifies a ledger (staking, staged or snarked) by its root hash in
// text form.
type Hash string

// Address is a path into the account tree, one character per bit. The empty
// address is the root.
type Address string

// Length returns the number of path bits.
func (a Address) Length() int { return len(a) }

// AccountPublicKey is the text form of an account owner key.
type AccountPublicKey string

// DelegatorEntry is one stake delegation towards the producer.
type DelegatorEntry struct {
	PubKey  AccountPublicKey
	Balance uint64
}

// DelegatorTable maps account indices to delegations. Tables are shared by
// pointer between the scheduler, the vrf evaluator and in-flight
// evaluations; treat a table as immutable once published.
type DelegatorTable struct {
	Entries map[uint64]DelegatorEntry
}

// NewDelegatorTable builds a table from its entries.
func NewDelegatorTable(entries map[uint64]DelegatorEntry) *DelegatorTable {
	return &DelegatorTable{Entries: entries}
}

// Len returns the number of delegators.
func (t *DelegatorTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Entries)
}

// TotalStake sums the delegated balances.
func (t *DelegatorTable) TotalStake() uint64 {
	if t == nil {
		return 0
	}
	var sum uint64
	for _, e := range t.Entries {
		sum += e.Balance
	}
	return sum
}

// WithEntry returns a copy of the table with one delegation replaced,
// leaving the original untouched for its other holders.
func (t *DelegatorTable) WithEntry(index uint64, entry DelegatorEntry) *DelegatorTable {
	entries := make(map[uint64]DelegatorEntry, len(t.Entries)+1)
	for k, v := range t.Entries {
		entries[k] = v
	}
	entries[index] = entry
	return &DelegatorTable{Entries: entries}
}

// ReadKind tags matched request/response pairs.
type ReadKind int

const (
	ReadDelegatorTable ReadKind = iota
	ReadGetNumAccounts
	ReadGetChildHashesAtAddr
	ReadGetChildAccountsAtAddr
	ReadGetStagedLedgerAuxAndPendingCoinbases
	ReadScanStateSummary
)

func (k ReadKind) String() string {
	switch k {
	case ReadDelegatorTable:
		return "delegator-table"
	case ReadGetNumAccounts:
		return "get-num-accounts"
	case ReadGetChildHashesAtAddr:
		return "get-child-hashes-at-addr"
	case ReadGetChildAccountsAtAddr:
		return "get-child-accounts-at-addr"
	case ReadGetStagedLedgerAuxAndPendingCoinbases:
		return "get-staged-ledger-aux-and-pending-coinbases"
	case ReadScanStateSummary:
		return "scan-state-summary"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ReadRequest is one ledger read. Cost scores how much work the ledger
// service spends answering it; the scheduler sums costs against its budget.
type ReadRequest interface {
	Kind() ReadKind
	Cost() int
}

// DelegatorTableRequest resolves the producer's delegations in the given
// epoch ledger. Requested by the vrf evaluator.
type DelegatorTableRequest struct {
	LedgerHash Hash
	Producer   AccountPublicKey
}

func (DelegatorTableRequest) Kind() ReadKind { return ReadDelegatorTable }
func (DelegatorTableRequest) Cost() int      { return 100 }

// GetNumAccountsRequest counts the accounts of a ledger.
type GetNumAccountsRequest struct {
	LedgerHash Hash
}

func (GetNumAccountsRequest) Kind() ReadKind { return ReadGetNumAccounts }
func (GetNumAccountsRequest) Cost() int      { return 1 }

// GetChildHashesAtAddrRequest fetches the two child hashes under a node.
type GetChildHashesAtAddrRequest struct {
	LedgerHash Hash
	Addr       Address
}

func (GetChildHashesAtAddrRequest) Kind() ReadKind { return ReadGetChildHashesAtAddr }
func (GetChildHashesAtAddrRequest) Cost() int      { return 1 }

// GetChildAccountsAtAddrRequest fetches every account below a node. Its
// cost scales with the subtree size.
type GetChildAccountsAtAddrRequest struct {
	LedgerHash Hash
	Addr       Address
}

func (GetChildAccountsAtAddrRequest) Kind() ReadKind { return ReadGetChildAccountsAtAddr }

func (r GetChildAccountsAtAddrRequest) Cost() int {
	height := Depth - r.Addr.Length()
	if height < 0 {
		height = 0
	}
	cost := (1 << uint(height)) / 4
	if cost < 1 {
		cost = 1
	}
	return cost
}

// GetStagedLedgerAuxAndPendingCoinbasesRequest fetches the staged ledger
// auxiliary data served over the p2p rpc channel.
type GetStagedLedgerAuxAndPendingCoinbasesRequest struct {
	LedgerHash Hash
}

func (GetStagedLedgerAuxAndPendingCoinbasesRequest) Kind() ReadKind {
	return ReadGetStagedLedgerAuxAndPendingCoinbases
}
func (GetStagedLedgerAuxAndPendingCoinbasesRequest) Cost() int { return 100 }

// ScanStateSummaryRequest renders the scan state job tree.
type ScanStateSummaryRequest struct {
	LedgerHash Hash
}

func (ScanStateSummaryRequest) Kind() ReadKind { return ReadScanStateSummary }
func (ScanStateSummaryRequest) Cost() int      { return 100 }

// ReadResponse carries the result of a read. Kind must equal the request's
// kind. Missing data is a nil/zero field, never an error.
type ReadResponse interface {
	Kind() ReadKind
}

// DelegatorTableResponse holds the resolved table, nil when the epoch
// ledger is unknown.
type DelegatorTableResponse struct {
	LedgerHash Hash
	Table      *DelegatorTable
}

func (DelegatorTableResponse) Kind() ReadKind { return ReadDelegatorTable }

// NumAccountsResponse is nil-Count-and-Hash when the ledger is unknown.
type NumAccountsResponse struct {
	Count      uint64
	LedgerHash Hash
}

func (NumAccountsResponse) Kind() ReadKind { return ReadGetNumAccounts }

// ChildHashesResponse carries the left and right child hashes.
type ChildHashesResponse struct {
	Left, Right Hash
}

func (ChildHashesResponse) Kind() ReadKind { return ReadGetChildHashesAtAddr }

// ChildAccountsResponse carries opaque encoded accounts.
type ChildAccountsResponse struct {
	Accounts [][]byte
}

func (ChildAccountsResponse) Kind() ReadKind { return ReadGetChildAccountsAtAddr }

// StagedLedgerAuxAndPendingCoinbasesResponse is an opaque blob shared by
// pointer with the rpc layer.
type StagedLedgerAuxAndPendingCoinbasesResponse struct {
	Data []byte
}

func (StagedLedgerAuxAndPendingCoinbasesResponse) Kind() ReadKind {
	return ReadGetStagedLedgerAuxAndPendingCoinbases
}

// ScanStateSummaryResponse is the job matrix of the scan state.
type ScanStateSummaryResponse struct {
	Jobs [][]string
}

func (ScanStateSummaryResponse) Kind() ReadKind { return ReadScanStateSummary }
