// Package wire defines the frame types exchanged between a node's
// Table Sync Engine and its peers (spec §6). These are plain Go
// structs, not generated protobuf code — the corpus's protobuf
// dependency (google.golang.org/protobuf, pulled in transitively by
// the teacher) has no concrete .proto source in this module to
// generate from, so wiring it here would mean hand-writing descriptor
// plumbing with nothing upstream driving it (see DESIGN.md). Transport
// serialization is left to the overlay layer behind syncengine.Peer;
// this package only fixes the frame shapes that layer carries.
package wire

import "github.com/cherry-wb/tablereplica/ledger"

// GetTable requests a ledger range for one table from a peer.
type GetTable struct {
	Account         ledger.AccountID
	TableName       string
	LedgerSeq       uint32
	LedgerHash      ledger.Hash256
	LedgerStopSeq   uint32
	LedgerCheckSeq  uint32
	LedgerCheckHash ledger.Hash256
	GetLost         bool
}

// TableData is one frame of a GetTable response: either a ledger that
// carries a matching table entry (TxNodes populated) or an end-of-
// range/end-of-block marker (TxNodes empty).
type TableData struct {
	Account         ledger.AccountID
	TableName       string
	LedgerSeq       uint32
	LedgerHash      ledger.Hash256
	LastLedgerSeq   uint32
	LastLedgerHash  ledger.Hash256
	LedgerCheckHash ledger.Hash256
	Seekstop        bool
	TxNodes         [][]byte // raw bytes of each tx in the entry's Txs list
}

// IsEndOfRange reports whether this frame carries no transactions —
// the operate-sql worker treats these as progress-only confirmations
// (spec §4.7).
func (t TableData) IsEndOfRange() bool { return len(t.TxNodes) == 0 }

// LedgerNodeType distinguishes what kind of ledger object GetLedger is
// asking for.
type LedgerNodeType uint8

const (
	LedgerNodeSkip LedgerNodeType = iota
)

// GetLedger requests a 256-ledger skip node.
type GetLedger struct {
	LedgerSeq  uint32
	LedgerHash ledger.Hash256
	Type       LedgerNodeType
	QueryDepth int
}

// LedgerData answers a GetLedger request.
type LedgerData struct {
	LedgerSeq uint32
	Nodes     [][]byte
}
