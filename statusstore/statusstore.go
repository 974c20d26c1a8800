// Package statusstore persists the per-table sync bookkeeping record
// (SyncTableState, spec §4.4) that both the replay and sync engines use
// as their sole crash-recovery anchor. Both drivers run the same SQL
// text; there are no per-dialect variants.
package statusstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cherry-wb/tablereplica/ledger"
)

// Record is one row of SyncTableState, keyed by (Owner, TableNameInDB).
type Record struct {
	TableName     string
	TableNameInDB ledger.NameInDB
	Owner         ledger.AccountID
	TxnLedgerSeq  uint32
	TxnLedgerHash ledger.Hash256
	LedgerSeq     uint32
	LedgerHash    ledger.Hash256
	TxnUpdateHash ledger.Hash256
	Deleted       bool
	AutoSync      bool
	PreviousCommit uint32
}

// AutoListEntry is one row returned by GetAutoListFromDB.
type AutoListEntry struct {
	Owner     ledger.AccountID
	TableName string
	AutoSync  bool
}

const createTableDDL = `CREATE TABLE IF NOT EXISTS SyncTableState (
	Owner TEXT NOT NULL,
	TableName TEXT NOT NULL,
	TableNameInDB TEXT NOT NULL,
	TxnLedgerHash TEXT NOT NULL,
	TxnLedgerSeq INTEGER NOT NULL,
	LedgerHash TEXT NOT NULL,
	LedgerSeq INTEGER NOT NULL,
	TxnUpdateHash TEXT NOT NULL,
	Deleted INTEGER NOT NULL,
	AutoSync INTEGER NOT NULL,
	PreviousCommit INTEGER NOT NULL,
	PRIMARY KEY (Owner, TableNameInDB)
)`

// Store wraps a *sql.DB with the SyncTableState operations. A Store
// holds no dialect: Bootstrap and every other operation run the same
// statement text on both drivers this subsystem targets, with no
// mysql-specific variant of the CREATE TABLE text.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

// Bootstrap creates SyncTableState if absent.
func (s *Store) Bootstrap(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, createTableDDL)
	return err
}

// ReadSyncDB reads the sync record for nameInDB. ok is false if absent.
func (s *Store) ReadSyncDB(ctx context.Context, nameInDB ledger.NameInDB) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT Owner, TableName, TableNameInDB, TxnLedgerHash, TxnLedgerSeq,
		LedgerHash, LedgerSeq, TxnUpdateHash, Deleted, AutoSync, PreviousCommit
		FROM SyncTableState WHERE TableNameInDB = ?`, nameInDB.String())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// InsertSyncDB inserts a fresh record. Fails on a (Owner, TableNameInDB)
// primary-key collision — insertion is the one non-idempotent operation
// in this package (spec §4.4).
func (s *Store) InsertSyncDB(ctx context.Context, tableName string, nameInDB ledger.NameInDB, owner ledger.AccountID, ledgerSeq uint32, ledgerHash ledger.Hash256, autoSync bool) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO SyncTableState
		(Owner, TableName, TableNameInDB, TxnLedgerHash, TxnLedgerSeq, LedgerHash, LedgerSeq, TxnUpdateHash, Deleted, AutoSync, PreviousCommit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		owner.Base58(), tableName, nameInDB.String(), ledger.Hash256{}.String(), 0,
		ledgerHash.String(), ledgerSeq, ledger.Hash256{}.String(), boolInt(false), boolInt(autoSync), 0)
	return err
}

// UpdateConfirm is the "full confirm" overload: advances both the
// txn-ledger and ledger watermarks together, the shape the replay item
// uses on commit (spec §4.5 step 2).
func (s *Store) UpdateConfirm(ctx context.Context, nameInDB ledger.NameInDB, txnSeq uint32, txnHash ledger.Hash256, ledgerSeq uint32, ledgerHash ledger.Hash256) error {
	_, err := s.db.ExecContext(ctx, `UPDATE SyncTableState SET TxnLedgerSeq=?, TxnLedgerHash=?, LedgerSeq=?, LedgerHash=?, TxnUpdateHash=?
		WHERE TableNameInDB=?`, txnSeq, txnHash.String(), ledgerSeq, ledgerHash.String(), ledger.Hash256{}.String(), nameInDB.String())
	return err
}

// UpdateProgress is the "progress-only" overload: an empty-range
// confirmation frame advances LedgerSeq/LedgerHash without a new txn
// watermark (spec §4.7 operate-sql worker, no-txs case).
func (s *Store) UpdateProgress(ctx context.Context, nameInDB ledger.NameInDB, ledgerSeq uint32, ledgerHash ledger.Hash256) error {
	_, err := s.db.ExecContext(ctx, `UPDATE SyncTableState SET LedgerSeq=?, LedgerHash=? WHERE TableNameInDB=?`,
		ledgerSeq, ledgerHash.String(), nameInDB.String())
	return err
}

// UpdateTxnUpdateHash is the "interim" overload: records the last
// successfully-applied tx hash mid-frame so a crash can resume exactly
// after it (spec §4.7, §8 property 3).
func (s *Store) UpdateTxnUpdateHash(ctx context.Context, nameInDB ledger.NameInDB, hash ledger.Hash256) error {
	_, err := s.db.ExecContext(ctx, `UPDATE SyncTableState SET TxnUpdateHash=? WHERE TableNameInDB=?`, hash.String(), nameInDB.String())
	return err
}

// UpdateDeleted is the "tombstone" overload.
func (s *Store) UpdateDeleted(ctx context.Context, nameInDB ledger.NameInDB, deleted bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE SyncTableState SET Deleted=? WHERE TableNameInDB=?`, boolInt(deleted), nameInDB.String())
	return err
}

func (s *Store) RenameRecord(ctx context.Context, nameInDB ledger.NameInDB, newTableName string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE SyncTableState SET TableName=? WHERE TableNameInDB=?`, newTableName, nameInDB.String())
	return err
}

func (s *Store) DeleteRecord(ctx context.Context, nameInDB ledger.NameInDB) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM SyncTableState WHERE TableNameInDB=?`, nameInDB.String())
	return err
}

func (s *Store) IsExist(ctx context.Context, owner ledger.AccountID, tableName string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM SyncTableState WHERE Owner=? AND TableName=?`,
		owner.Base58(), tableName).Scan(&n)
	return n > 0, err
}

func (s *Store) IsNameInDBExist(ctx context.Context, nameInDB ledger.NameInDB) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM SyncTableState WHERE TableNameInDB=?`, nameInDB.String()).Scan(&n)
	return n > 0, err
}

// GetMaxTxnInfo returns the most recent (TxnLedgerSeq, TxnLedgerHash)
// across every record for (tableName, owner) — used by the sync item's
// Init state to seed its starting LedgerSeq.
func (s *Store) GetMaxTxnInfo(ctx context.Context, tableName string, owner ledger.AccountID) (uint32, ledger.Hash256, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT TxnLedgerSeq, TxnLedgerHash FROM SyncTableState
		WHERE TableName=? AND Owner=? ORDER BY TxnLedgerSeq DESC LIMIT 1`, tableName, owner.Base58())
	var seq uint32
	var hashText string
	if err := row.Scan(&seq, &hashText); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ledger.Hash256{}, false, nil
		}
		return 0, ledger.Hash256{}, false, err
	}
	h, err := parseHash(hashText)
	return seq, h, true, err
}

// GetAutoListFromDB drives re-subscription at startup (spec §4.8 step 2).
func (s *Store) GetAutoListFromDB(ctx context.Context, autoSync bool) ([]AutoListEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT Owner, TableName, AutoSync FROM SyncTableState WHERE AutoSync=?`, boolInt(autoSync))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AutoListEntry
	for rows.Next() {
		var ownerText, tableName string
		var auto int
		if err := rows.Scan(&ownerText, &tableName, &auto); err != nil {
			return nil, err
		}
		owner, err := ledger.ParseAccountBase58(ownerText)
		if err != nil {
			return nil, fmt.Errorf("statusstore: bad owner %q: %w", ownerText, err)
		}
		out = append(out, AutoListEntry{Owner: owner, TableName: tableName, AutoSync: auto != 0})
	}
	return out, rows.Err()
}

// UpdateStateDB toggles AutoSync for (owner, table) — used when a
// conflicting manually-subscribed table demotes a previously
// auto-discovered record (spec §4.8 step 2).
func (s *Store) UpdateStateDB(ctx context.Context, owner ledger.AccountID, tableName string, autoSync bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE SyncTableState SET AutoSync=? WHERE Owner=? AND TableName=?`,
		boolInt(autoSync), owner.Base58(), tableName)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var rec Record
	var ownerText, nameInDBText, txnHashText, ledgerHashText, updateHashText string
	var deletedInt, autoSyncInt int
	err := row.Scan(&ownerText, &rec.TableName, &nameInDBText, &txnHashText, &rec.TxnLedgerSeq,
		&ledgerHashText, &rec.LedgerSeq, &updateHashText, &deletedInt, &autoSyncInt, &rec.PreviousCommit)
	if err != nil {
		return Record{}, err
	}
	rec.Owner, err = ledger.ParseAccountBase58(ownerText)
	if err != nil {
		return Record{}, fmt.Errorf("statusstore: bad owner %q: %w", ownerText, err)
	}
	if rec.TableNameInDB, err = parseNameInDB(nameInDBText); err != nil {
		return Record{}, err
	}
	if rec.TxnLedgerHash, err = parseHash(txnHashText); err != nil {
		return Record{}, err
	}
	if rec.LedgerHash, err = parseHash(ledgerHashText); err != nil {
		return Record{}, err
	}
	if rec.TxnUpdateHash, err = parseHash(updateHashText); err != nil {
		return Record{}, err
	}
	rec.Deleted = deletedInt != 0
	rec.AutoSync = autoSyncInt != 0
	return rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
