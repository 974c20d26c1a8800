// Package replay implements the Storage Replay engine (spec §4.5,
// §4.6): a per-table item that buffers translated SQL inside an open
// DB transaction until the enclosing ledger is validated, and a
// registry that dispatches transactions to the right item and drives
// its commit/rollback checks.
package replay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cherry-wb/tablereplica/dbpool"
	"github.com/cherry-wb/tablereplica/errs"
	"github.com/cherry-wb/tablereplica/ledger"
	"github.com/cherry-wb/tablereplica/logging"
	"github.com/cherry-wb/tablereplica/sqlbuilder"
	"github.com/cherry-wb/tablereplica/statusstore"
	"github.com/cherry-wb/tablereplica/translate"
)

// MaxGapNow2Valid bounds how far behind the validated ledger a node
// may be and still resume an existing SyncTableState record directly,
// rather than re-deriving state from scratch (grounded on
// TableStorage.cpp's MAX_GAP_NOW2VALID).
const MaxGapNow2Valid = 5

// Decision is do_job's outcome for one ledger tick.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionCommit
	DecisionRollback
)

// pendingTx is one queued, not-yet-confirmed transaction (spec's TxInfo).
type pendingTx struct {
	hash          ledger.Hash256
	lastLedgerSeq uint32
	committed     bool
}

// Item is the per-table replay item (spec §4.5).
type Item struct {
	owner    ledger.AccountID
	nameInDB ledger.NameInDB
	physical string

	handle  *dbpool.Handle
	dialect sqlbuilder.Dialect
	store   *statusstore.Store
	source  ledger.Source
	txMaster ledger.TxMaster
	log     logging.Logger

	tx      *sql.Tx
	pending []pendingTx

	txnLedgerSeq  uint32
	txnLedgerHash ledger.Hash256
	ledgerSeq     uint32
	ledgerHash    ledger.Hash256
}

// NewItem constructs an item with zero watermarks, as for a brand-new
// table; Restore seeds txnLedgerSeq/txnLedgerHash/ledgerSeq/ledgerHash
// from a prior SyncTableState row.
func NewItem(owner ledger.AccountID, nameInDB ledger.NameInDB, handle *dbpool.Handle, dialect sqlbuilder.Dialect, store *statusstore.Store, source ledger.Source, txMaster ledger.TxMaster, log logging.Logger) *Item {
	return &Item{
		owner:    owner,
		nameInDB: nameInDB,
		physical: nameInDB.PhysicalTableName(),
		handle:   handle,
		dialect:  dialect,
		store:    store,
		source:   source,
		txMaster: txMaster,
		log:      log,
	}
}

// Restore seeds the item's watermarks from a previously persisted
// SyncTableState record. If txnUpdateHash is non-zero (a crash
// interrupted a partial batch), ledgerSeq is rewound by one so the
// successive check re-examines the ledger that was in flight (spec
// §4.6 init_item). The source repository decrements the hash alongside
// the sequence as if both were integers; spec §9's resolution treats
// that as a bug and re-reads the actual hash of the rewound ledger
// instead of leaving the persisted one stale.
func (it *Item) Restore(ctx context.Context, rec statusstore.Record) error {
	it.txnLedgerSeq = rec.TxnLedgerSeq
	it.txnLedgerHash = rec.TxnLedgerHash
	it.ledgerSeq = rec.LedgerSeq
	it.ledgerHash = rec.LedgerHash
	if !rec.TxnUpdateHash.IsZero() && it.ledgerSeq > 0 {
		it.ledgerSeq--
		info, err := it.source.LedgerInfo(ctx, it.ledgerSeq)
		if err != nil {
			return fmt.Errorf("replay: re-read ledger hash for rewound seq %d: %w", it.ledgerSeq, err)
		}
		it.ledgerHash = info.Hash
	}
	return nil
}

// beginIfNeeded opens the held transaction the first time a tx is
// offered.
func (it *Item) beginIfNeeded(ctx context.Context) error {
	if it.tx != nil {
		return nil
	}
	tx, err := it.handle.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("replay: begin tx for %s: %w", it.physical, err)
	}
	it.tx = tx
	return nil
}

// checkGrant enforces spec §7/§8 testable property 5: a row operation
// (Insert/Update/Delete) is rejected with errs.ErrBadTableFlags unless
// the acting account carries that opcode's role flag in the table's
// current Users array. Opcodes with no RoleFlagForOpType mapping
// (CreateTable, DropTable, RenameTable, Grant, Revoke) are ledger-level
// operations this check does not gate.
func (it *Item) checkGrant(ctx context.Context, t ledger.Tx, validatedLedgerIndex uint32) error {
	flag, needed := ledger.RoleFlagForOpType(t.OpType)
	if !needed {
		return nil
	}
	entry, ok, err := it.source.TableEntry(ctx, validatedLedgerIndex, it.owner, it.nameInDB)
	if err != nil {
		return fmt.Errorf("replay: TableEntry: %w", err)
	}
	if !ok || entry.Deleted || !entry.HasFlag(t.ActingAccount(), flag) {
		return errs.ErrBadTableFlags
	}
	return nil
}

// PutElem offers a freshly-accepted transaction against this table.
// Row operations are translated and applied inside the held
// transaction; Rename/Grant/Revoke are recorded only (they affect
// ledger-level metadata, not the replicated SQL table) but still join
// the pending queue so the successive check accounts for them.
func (it *Item) PutElem(ctx context.Context, t ledger.Tx, opts translate.Options, validatedLedgerIndex uint32) error {
	if err := it.checkGrant(ctx, t, validatedLedgerIndex); err != nil {
		return err
	}
	if err := it.beginIfNeeded(ctx); err != nil {
		return err
	}

	result, err := translate.Translate(ctx, it.dialect, t, opts)
	if err != nil && !errors.Is(err, translate.ErrHandledByCaller) {
		return fmt.Errorf("replay: translate %s: %w", t.Hash, err)
	}
	if err == nil {
		for _, stmt := range result.Statements {
			if _, err := stmt.Builder.ExecSQL(ctx, it.tx); err != nil {
				return fmt.Errorf("replay: exec %s: %w", it.physical, err)
			}
		}
	}

	it.pending = append(it.pending, pendingTx{hash: t.Hash, lastLedgerSeq: t.LastLedgerSeq})
	return nil
}

// DoJob runs the confirmation protocol after a newly validated ledger
// (spec §4.5 steps 1-3).
func (it *Item) DoJob(ctx context.Context, currentValidatedLedgerIndex uint32) (Decision, error) {
	if len(it.pending) == 0 {
		return DecisionNone, nil
	}

	// Step 1: existence check.
	for _, p := range it.pending {
		if p.committed || p.lastLedgerSeq > currentValidatedLedgerIndex {
			continue
		}
		known, err := it.txMaster.KnownTx(ctx, p.hash)
		if err != nil {
			return DecisionNone, fmt.Errorf("replay: KnownTx: %w", err)
		}
		if !known {
			return it.rollback(ctx)
		}
	}

	// Step 2: successive check.
	for seq := it.ledgerSeq + 1; seq <= currentValidatedLedgerIndex; seq++ {
		entry, ok, err := it.source.TableEntryAt(ctx, seq, it.owner, it.nameInDB)
		if err != nil {
			return DecisionNone, fmt.Errorf("replay: TableEntryAt(%d): %w", seq, err)
		}
		if !ok || entry.PreviousTxnLgrSeq != it.txnLedgerSeq {
			continue
		}

		known := make(map[ledger.Hash256]bool, len(it.pending))
		for _, p := range it.pending {
			known[p.hash] = true
		}
		for _, h := range entry.Txs {
			if !known[h] {
				return it.rollback(ctx)
			}
			for i := range it.pending {
				if it.pending[i].hash == h {
					it.pending[i].committed = true
				}
			}
		}

		if it.allCommitted() {
			it.txnLedgerSeq = entry.TxnLgrSeq
			it.txnLedgerHash = entry.TxnLedgerHash
			ledgerInfo, err := it.source.LedgerInfo(ctx, seq)
			if err != nil {
				return DecisionNone, fmt.Errorf("replay: LedgerInfo(%d): %w", seq, err)
			}
			it.ledgerSeq = ledgerInfo.Seq
			it.ledgerHash = ledgerInfo.Hash
			return it.commit(ctx)
		}
	}

	return DecisionNone, nil
}

func (it *Item) allCommitted() bool {
	for _, p := range it.pending {
		if !p.committed {
			return false
		}
	}
	return true
}

func (it *Item) commit(ctx context.Context) (Decision, error) {
	if err := it.store.UpdateConfirm(ctx, it.nameInDB, it.txnLedgerSeq, it.txnLedgerHash, it.ledgerSeq, it.ledgerHash); err != nil {
		return DecisionNone, fmt.Errorf("replay: persist sync record before commit: %w", err)
	}
	if err := it.tx.Commit(); err != nil {
		return DecisionNone, fmt.Errorf("replay: commit %s: %w", it.physical, err)
	}
	it.tx = nil
	it.pending = nil
	it.log.Printf("replay: committed %s through ledger %d", it.physical, it.ledgerSeq)
	return DecisionCommit, nil
}

func (it *Item) rollback(ctx context.Context) (Decision, error) {
	if it.tx != nil {
		if err := it.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return DecisionNone, fmt.Errorf("replay: rollback %s: %w", it.physical, err)
		}
	}
	it.tx = nil
	it.pending = nil
	it.log.Printf("replay: rolled back %s at ledger %d", it.physical, it.ledgerSeq)
	return DecisionRollback, nil
}

// PhysicalTable returns this item's table name.
func (it *Item) PhysicalTable() string { return it.physical }
