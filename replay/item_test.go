package replay

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	"github.com/cherry-wb/tablereplica/dbpool"
	"github.com/cherry-wb/tablereplica/errs"
	"github.com/cherry-wb/tablereplica/ledger"
	"github.com/cherry-wb/tablereplica/logging"
	"github.com/cherry-wb/tablereplica/sqlbuilder"
	"github.com/cherry-wb/tablereplica/statusstore"
	"github.com/cherry-wb/tablereplica/translate"
)

type fakeSource struct {
	entries map[uint32]ledger.TableEntry
	ledgers map[uint32]ledger.LedgerInfo
}

func (f *fakeSource) ValidatedLedgerIndex(ctx context.Context) (uint32, error) { return 0, nil }

func (f *fakeSource) LedgerInfo(ctx context.Context, seq uint32) (ledger.LedgerInfo, error) {
	return f.ledgers[seq], nil
}

func (f *fakeSource) TableEntry(ctx context.Context, seq uint32, owner ledger.AccountID, name ledger.NameInDB) (ledger.TableEntry, bool, error) {
	e, ok := f.entries[seq]
	return e, ok, nil
}

func (f *fakeSource) TableEntryAt(ctx context.Context, seq uint32, owner ledger.AccountID, name ledger.NameInDB) (ledger.TableEntry, bool, error) {
	e, ok := f.entries[seq]
	return e, ok, nil
}

func (f *fakeSource) TableEntryAtByName(ctx context.Context, seq uint32, owner ledger.AccountID, tableName string) (ledger.TableEntry, bool, error) {
	e, ok := f.entries[seq]
	return e, ok, nil
}

func (f *fakeSource) TableCreatesAt(ctx context.Context, seq uint32) ([]ledger.TableCreate, error) {
	return nil, nil
}

type fakeTxMaster struct{ known map[ledger.Hash256]bool }

func (f *fakeTxMaster) KnownTx(ctx context.Context, hash ledger.Hash256) (bool, error) {
	return f.known[hash], nil
}

func TestDoJobCommitsOnMatchingLedgerEntry(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	pool := dbpool.New()
	handle, err := pool.Checkout(dbpool.SQLite, "file:replaytest1?mode=memory&cache=shared")
	require.NoError(t, err)

	store := statusstore.New(handle.DB())
	require.NoError(t, store.Bootstrap(ctx))

	var owner ledger.AccountID
	copy(owner[:], []byte("ownerowner1111111111"))
	var nameInDB ledger.NameInDB
	nameInDB[0] = 0x42

	h1 := ledger.Hash256{}
	h1[0] = 1

	src := &fakeSource{
		entries: map[uint32]ledger.TableEntry{
			11: {
				PreviousTxnLgrSeq: 0,
				TxnLgrSeq:         11,
				TxnLedgerHash:     ledger.Hash256{5},
				Txs:               []ledger.Hash256{h1},
			},
		},
		ledgers: map[uint32]ledger.LedgerInfo{
			11: {Seq: 11, Hash: ledger.Hash256{9}},
		},
	}
	txm := &fakeTxMaster{known: map[ledger.Hash256]bool{h1: true}}

	item := NewItem(owner, nameInDB, handle, sqlbuilder.NewDialect(sqlbuilder.SQLite), store, src, txm, logging.NullLogger{})

	tx := ledger.Tx{
		Hash:          h1,
		Opcode:        ledger.OpcodeTableListSet,
		OpType:        ledger.OpCreateTable,
		Account:       owner,
		Tables:        []ledger.TableRef{{NameInDB: nameInDB}},
		Raw:           []byte(`[{"field":"id","type":"int","PK":true}]`),
		LastLedgerSeq: 11,
	}
	require.NoError(t, item.PutElem(ctx, tx, translate.Options{}, 11))

	decision, err := item.DoJob(ctx, 11)
	require.NoError(t, err)
	require.Equal(t, DecisionCommit, decision)

	rec, ok, err := store.ReadSyncDB(ctx, nameInDB)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(11), rec.LedgerSeq)
}

func TestDoJobRollsBackOnUnknownTx(t *testing.T) {
	ctx := context.Background()
	pool := dbpool.New()
	handle, err := pool.Checkout(dbpool.SQLite, "file:replaytest2?mode=memory&cache=shared")
	require.NoError(t, err)
	store := statusstore.New(handle.DB())
	require.NoError(t, store.Bootstrap(ctx))

	var owner ledger.AccountID
	var nameInDB ledger.NameInDB
	nameInDB[0] = 0x7

	h1 := ledger.Hash256{}
	h1[0] = 2

	src := &fakeSource{entries: map[uint32]ledger.TableEntry{}, ledgers: map[uint32]ledger.LedgerInfo{}}
	txm := &fakeTxMaster{known: map[ledger.Hash256]bool{}} // h1 unknown

	item := NewItem(owner, nameInDB, handle, sqlbuilder.NewDialect(sqlbuilder.SQLite), store, src, txm, logging.NullLogger{})
	tx := ledger.Tx{
		Hash:          h1,
		Opcode:        ledger.OpcodeTableListSet,
		OpType:        ledger.OpCreateTable,
		Account:       owner,
		Tables:        []ledger.TableRef{{NameInDB: nameInDB}},
		Raw:           []byte(`[{"field":"id","type":"int"}]`),
		LastLedgerSeq: 1,
	}
	require.NoError(t, item.PutElem(ctx, tx, translate.Options{}, 1))

	decision, err := item.DoJob(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, DecisionRollback, decision)
}

func TestPutElemRejectsRowOpWithoutRoleFlag(t *testing.T) {
	ctx := context.Background()
	pool := dbpool.New()
	handle, err := pool.Checkout(dbpool.SQLite, "file:replaytest4?mode=memory&cache=shared")
	require.NoError(t, err)
	store := statusstore.New(handle.DB())
	require.NoError(t, store.Bootstrap(ctx))

	var owner ledger.AccountID
	owner[0] = 0x1
	var nameInDB ledger.NameInDB
	nameInDB[0] = 0x55

	_, err = handle.DB().ExecContext(ctx, "CREATE TABLE "+nameInDB.PhysicalTableName()+" (id INTEGER)")
	require.NoError(t, err)

	src := &fakeSource{entries: map[uint32]ledger.TableEntry{
		5: {Users: []ledger.TableUser{{User: owner, Flags: ledger.FlagSelect}}},
	}}
	txm := &fakeTxMaster{known: map[ledger.Hash256]bool{}}
	item := NewItem(owner, nameInDB, handle, sqlbuilder.NewDialect(sqlbuilder.SQLite), store, src, txm, logging.NullLogger{})

	tx := ledger.Tx{
		Hash:    ledger.Hash256{3},
		Opcode:  ledger.OpcodeTableListSet,
		OpType:  ledger.OpInsert,
		Account: owner,
		Tables:  []ledger.TableRef{{NameInDB: nameInDB}},
		Raw:     []byte(`[{"id":1}]`),
	}
	err = item.PutElem(ctx, tx, translate.Options{}, 5)
	require.ErrorIs(t, err, errs.ErrBadTableFlags)
}

func TestPutElemAcceptsRowOpWithRoleFlag(t *testing.T) {
	ctx := context.Background()
	pool := dbpool.New()
	handle, err := pool.Checkout(dbpool.SQLite, "file:replaytest5?mode=memory&cache=shared")
	require.NoError(t, err)
	store := statusstore.New(handle.DB())
	require.NoError(t, store.Bootstrap(ctx))

	var owner ledger.AccountID
	owner[0] = 0x1
	var nameInDB ledger.NameInDB
	nameInDB[0] = 0x66

	_, err = handle.DB().ExecContext(ctx, "CREATE TABLE "+nameInDB.PhysicalTableName()+" (id INTEGER)")
	require.NoError(t, err)

	src := &fakeSource{entries: map[uint32]ledger.TableEntry{
		5: {Users: []ledger.TableUser{{User: owner, Flags: ledger.FlagInsert}}},
	}}
	txm := &fakeTxMaster{known: map[ledger.Hash256]bool{}}
	item := NewItem(owner, nameInDB, handle, sqlbuilder.NewDialect(sqlbuilder.SQLite), store, src, txm, logging.NullLogger{})

	tx := ledger.Tx{
		Hash:    ledger.Hash256{4},
		Opcode:  ledger.OpcodeTableListSet,
		OpType:  ledger.OpInsert,
		Account: owner,
		Tables:  []ledger.TableRef{{NameInDB: nameInDB}},
		Raw:     []byte(`[{"id":1}]`),
	}
	require.NoError(t, item.PutElem(ctx, tx, translate.Options{}, 5))
}
