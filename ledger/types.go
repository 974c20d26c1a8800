// Package ledger defines the data types and named collaborator
// interfaces this subsystem consumes from the consensus/ledger core,
// the peer overlay, and the job queue. None of those systems are
// implemented here (spec §1 scope cut); this package exists so the
// translator, replay, and sync engines have a stable vocabulary to
// depend on.
package ledger

import (
	"context"
	"encoding/hex"

	"github.com/mr-tron/base58"
)

// Hash256 is a 32-byte ledger/transaction hash.
type Hash256 [32]byte

func (h Hash256) IsZero() bool { return h == Hash256{} }
func (h Hash256) String() string { return hex.EncodeToString(h[:]) }

// NameInDB is the 160-bit deterministic table identifier.
type NameInDB [20]byte

func (n NameInDB) IsZero() bool { return n == NameInDB{} }

// PhysicalTableName derives "t_<hex>" per spec §3.
func (n NameInDB) PhysicalTableName() string {
	return "t_" + hex.EncodeToString(n[:])
}

func (n NameInDB) String() string { return hex.EncodeToString(n[:]) }

// AccountID is a 20-byte ledger account identifier.
type AccountID [20]byte

func (a AccountID) IsZero() bool { return a == AccountID{} }

// Base58 encodes the account identifier the way the chain's address
// format does (grounded on AKJUS-bsc-erigon's mr-tron/base58 dependency).
func (a AccountID) Base58() string { return base58.Encode(a[:]) }

func ParseAccountBase58(s string) (AccountID, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return AccountID{}, err
	}
	var a AccountID
	if len(b) != len(a) {
		// Tolerate version-byte/checksum-wrapped addresses by taking
		// the last 20 bytes; no stricter length check is made here.
		if len(b) > len(a) {
			copy(a[:], b[len(b)-len(a):])
			return a, nil
		}
		return AccountID{}, ErrShortAddress
	}
	copy(a[:], b)
	return a, nil
}

// TxOpcode is the consensus transaction type this subsystem reacts to.
type TxOpcode uint16

const (
	OpcodeTableListSet TxOpcode = 1
	OpcodeSqlStatement TxOpcode = 2
)

// OpType is the table-lifecycle/row operation encoded inside a
// transaction's Raw payload, per the spec §4.3 dispatch table.
type OpType uint8

const (
	OpCreateTable  OpType = 1
	OpDropTable    OpType = 2
	OpRenameTable  OpType = 3
	OpGrant        OpType = 4
	OpRevoke       OpType = 5
	OpInsert       OpType = 6
	OpUpdate       OpType = 8
	OpDelete       OpType = 9
)

// TableRef is an entry of a transaction's Tables array.
type TableRef struct {
	NameInDB  NameInDB
	TableName string
}

// Tx is the subset of a committed ledger transaction the translator
// and replay items need.
type Tx struct {
	Hash          Hash256
	Opcode        TxOpcode
	OpType        OpType
	Account       AccountID
	Owner         AccountID
	Tables        []TableRef
	Raw           []byte // JSON array payload; nil for bare DropTable
	AutoFillField string
	LastLedgerSeq uint32
}

// ActingAccount resolves which account's role flags govern this
// transaction, per original_source/TableStorage.cpp: ttSQLSTATEMENT
// transactions act as their sfOwner; every other opcode acts as its
// sfAccount.
func (t Tx) ActingAccount() AccountID {
	if t.Opcode == OpcodeSqlStatement {
		return t.Owner
	}
	return t.Account
}

// RoleFlag is a bitfield of table-grant permissions, per spec §6.
type RoleFlag uint32

const (
	FlagSelect  RoleFlag = 0x00010000
	FlagInsert  RoleFlag = 0x00020000
	FlagUpdate  RoleFlag = 0x00040000
	FlagDelete  RoleFlag = 0x00080000
	FlagExecute RoleFlag = 0x00100000
)

// RoleFlagForOpType maps a row-operation OpType to the grant flag
// required to perform it.
func RoleFlagForOpType(op OpType) (RoleFlag, bool) {
	switch op {
	case OpInsert:
		return FlagInsert, true
	case OpUpdate:
		return FlagUpdate, true
	case OpDelete:
		return FlagDelete, true
	default:
		return 0, false
	}
}

// TableUser is one entry of a Table SLE's Users array.
type TableUser struct {
	User  AccountID
	Flags RoleFlag
}

// TableEntry is one element of a per-owner Table SLE's TableEntries
// array (spec §6).
type TableEntry struct {
	TableName         string
	NameInDB          NameInDB
	Deleted           bool
	TxnLgrSeq         uint32
	TxnLedgerHash     Hash256
	PreviousTxnLgrSeq uint32
	PrevTxnLedgerHash Hash256
	Txs               []Hash256
	Users             []TableUser
}

// HasFlag reports whether the given account carries the role flag.
func (e TableEntry) HasFlag(account AccountID, flag RoleFlag) bool {
	for _, u := range e.Users {
		if u.User == account {
			return u.Flags&flag != 0
		}
	}
	return false
}

// LedgerInfo is the minimal per-ledger metadata the replay and sync
// engines need.
type LedgerInfo struct {
	Seq  uint32
	Hash Hash256
}

// Source is the named collaborator interface onto the consensus/
// ledger core: validated-ledger queries, per-owner Table SLE reads,
// and transaction-master lookups. Concrete implementations live
// outside this module's scope (spec §1).
type Source interface {
	// ValidatedLedgerIndex returns the highest validated ledger
	// sequence this node knows about.
	ValidatedLedgerIndex(ctx context.Context) (uint32, error)

	// LedgerInfo returns the seq/hash for a specific validated ledger.
	LedgerInfo(ctx context.Context, seq uint32) (LedgerInfo, error)

	// TableEntry reads the Table SLE entry for (owner, nameInDB) as of
	// a specific validated ledger, or ok=false if absent.
	TableEntry(ctx context.Context, seq uint32, owner AccountID, name NameInDB) (TableEntry, bool, error)

	// TableEntryAt scans a single ledger's Table-affecting transaction
	// set for the entry matching (owner, nameInDB), used by the replay
	// "successive check" and the sync item's local-acquire scan.
	TableEntryAt(ctx context.Context, ledgerSeq uint32, owner AccountID, name NameInDB) (TableEntry, bool, error)

	// TableEntryAtByName is TableEntryAt keyed by (owner, tableName)
	// instead of nameInDB — the shape a peer's GetTable request arrives
	// in (spec §6 wire protocol carries tableName, not nameInDB).
	TableEntryAtByName(ctx context.Context, ledgerSeq uint32, owner AccountID, tableName string) (TableEntry, bool, error)

	// TableCreatesAt scans a single validated ledger for TableListSet
	// create transactions, used by the sync engine's auto_sync startup
	// scan (spec §4.8 step 3) to dynamically register newly created
	// tables.
	TableCreatesAt(ctx context.Context, ledgerSeq uint32) ([]TableCreate, error)
}

// TableCreate is one TableListSet create transaction found in a
// validated ledger, as returned by Source.TableCreatesAt — the shape
// the sync engine's auto_sync startup scan (spec §4.8 step 3) needs to
// register a dynamically discovered table.
type TableCreate struct {
	Owner     AccountID
	NameInDB  NameInDB
	TableName string
}

// TxMaster is the named collaborator for the "is this transaction
// known" existence check in spec §4.5 step 1.
type TxMaster interface {
	KnownTx(ctx context.Context, hash Hash256) (bool, error)
}

// JobQueue is the named collaborator for scheduling background work,
// grounded on the single-job-category-per-registry model in spec §5.
// No type in this module implements it: the registries run their
// single in-flight workers through workerpool.Single, which has no
// AddJob method.
type JobQueue interface {
	AddJob(ctx context.Context, category string, fn func(context.Context)) error
}
