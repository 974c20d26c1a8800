package statusstore

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	"github.com/cherry-wb/tablereplica/ledger"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := New(db)
	require.NoError(t, store.Bootstrap(ctx))

	var owner ledger.AccountID
	copy(owner[:], []byte("01234567890123456789"))
	var nameInDB ledger.NameInDB
	copy(nameInDB[:], []byte("abcdefghijklmnopqrs"))

	require.NoError(t, store.InsertSyncDB(ctx, "Orders", nameInDB, owner, 100, ledger.Hash256{}, true))

	rec, ok, err := store.ReadSyncDB(ctx, nameInDB)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Orders", rec.TableName)
	require.Equal(t, owner, rec.Owner)
	require.True(t, rec.AutoSync)
	require.False(t, rec.Deleted)
}

func TestUpdateOverloads(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := New(db)
	require.NoError(t, store.Bootstrap(ctx))

	var owner ledger.AccountID
	copy(owner[:], []byte("acctacctacctacctacct"))
	var nameInDB ledger.NameInDB
	copy(nameInDB[:], []byte("nameindbnameindbname"))
	require.NoError(t, store.InsertSyncDB(ctx, "Widgets", nameInDB, owner, 1, ledger.Hash256{}, false))

	var txnHash ledger.Hash256
	txnHash[0] = 0xAB
	require.NoError(t, store.UpdateConfirm(ctx, nameInDB, 10, txnHash, 12, txnHash))

	rec, ok, err := store.ReadSyncDB(ctx, nameInDB)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(10), rec.TxnLedgerSeq)
	require.Equal(t, uint32(12), rec.LedgerSeq)
	require.True(t, rec.TxnUpdateHash.IsZero(), "a full confirm clears the interim hash")

	require.NoError(t, store.UpdateTxnUpdateHash(ctx, nameInDB, txnHash))
	rec, _, err = store.ReadSyncDB(ctx, nameInDB)
	require.NoError(t, err)
	require.Equal(t, txnHash, rec.TxnUpdateHash)

	require.NoError(t, store.UpdateDeleted(ctx, nameInDB, true))
	rec, _, err = store.ReadSyncDB(ctx, nameInDB)
	require.NoError(t, err)
	require.True(t, rec.Deleted)
}

func TestGetAutoListFromDB(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := New(db)
	require.NoError(t, store.Bootstrap(ctx))

	var owner ledger.AccountID
	copy(owner[:], []byte("ownerownerownerownero"))
	var a, b ledger.NameInDB
	a[0], b[0] = 1, 2
	require.NoError(t, store.InsertSyncDB(ctx, "AutoA", a, owner, 1, ledger.Hash256{}, true))
	require.NoError(t, store.InsertSyncDB(ctx, "ManualB", b, owner, 1, ledger.Hash256{}, false))

	entries, err := store.GetAutoListFromDB(ctx, true)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "AutoA", entries[0].TableName)
}

func TestInsertDuplicatePrimaryKeyFails(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := New(db)
	require.NoError(t, store.Bootstrap(ctx))

	var owner ledger.AccountID
	var nameInDB ledger.NameInDB
	nameInDB[0] = 9

	require.NoError(t, store.InsertSyncDB(ctx, "Dup", nameInDB, owner, 1, ledger.Hash256{}, false))
	err := store.InsertSyncDB(ctx, "Dup", nameInDB, owner, 1, ledger.Hash256{}, false)
	require.Error(t, err, "(Owner, TableNameInDB) is the primary key; insertion is not idempotent")
}
