package translate

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cherry-wb/tablereplica/errs"
	"github.com/cherry-wb/tablereplica/ledger"
	"github.com/cherry-wb/tablereplica/sqlbuilder"
)

func tableRef() ledger.TableRef {
	var n ledger.NameInDB
	n[0] = 0xAB
	return ledger.TableRef{NameInDB: n, TableName: "Orders"}
}

func TestTranslateCreateTablePreservesColumnOrder(t *testing.T) {
	tx := ledger.Tx{
		Opcode: ledger.OpcodeTableListSet,
		OpType: ledger.OpCreateTable,
		Tables: []ledger.TableRef{tableRef()},
		Raw: []byte(`[
			{"field":"zeta","type":"int","PK":true},
			{"field":"alpha","type":"varchar","length":32},
			{"field":"mid","type":"decimal"}
		]`),
	}
	res, err := Translate(context.Background(), sqlbuilder.NewDialect(sqlbuilder.SQLite), tx, Options{})
	require.NoError(t, err)
	require.Len(t, res.Statements, 1)

	text, err := res.Statements[0].Builder.AsString()
	require.NoError(t, err)
	// Column order must survive JSON decoding (spec §3/§8): zeta, then
	// alpha, then mid, in that order, regardless of Go map iteration.
	iZeta := strings.Index(text, "zeta")
	iAlpha := strings.Index(text, "alpha")
	iMid := strings.Index(text, "mid")
	require.True(t, iZeta >= 0 && iAlpha > iZeta && iMid > iAlpha, "column order not preserved: %s", text)
	assert.Contains(t, text, "PRIMARY KEY")
}

func TestTranslateInsertConcatenatesRowsInOrder(t *testing.T) {
	tx := ledger.Tx{
		Opcode: ledger.OpcodeTableListSet,
		OpType: ledger.OpInsert,
		Tables: []ledger.TableRef{tableRef()},
		Raw:    []byte(`[{"id":1,"name":"a"},{"id":2,"name":"b"}]`),
	}
	res, err := Translate(context.Background(), sqlbuilder.NewDialect(sqlbuilder.SQLite), tx, Options{})
	require.NoError(t, err)
	require.Len(t, res.Statements, 2)

	text, err := res.ConcatenatedSQL()
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO t_ab00000000000000000000000000000000000000 (id,name) VALUES (1,"a");INSERT INTO t_ab00000000000000000000000000000000000000 (id,name) VALUES (2,"b")`, text)
}

func TestTranslateInsertAutoFillsMissingField(t *testing.T) {
	var hash ledger.Hash256
	hash[0] = 0x7

	tx := ledger.Tx{
		Opcode:        ledger.OpcodeTableListSet,
		OpType:        ledger.OpInsert,
		Tables:        []ledger.TableRef{tableRef()},
		Raw:           []byte(`[{"id":1}]`),
		Hash:          hash,
		AutoFillField: "txHash",
	}
	// sqlite has no InfoSchema existence check at all (mysql-only per
	// spec §4.3), so the missing column is simply auto-filled.
	res, err := Translate(context.Background(), sqlbuilder.NewDialect(sqlbuilder.SQLite), tx, Options{})
	require.NoError(t, err)
	text, err := res.Statements[0].Builder.AsString()
	require.NoError(t, err)
	assert.Contains(t, text, "txHash")
	assert.Contains(t, text, hash.String())
}

type stubInfoSchema struct {
	exists bool
	err    error
}

func (s stubInfoSchema) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	return s.exists, s.err
}

func TestTranslateInsertRejectsMissingAutoFillColumnOnMySQL(t *testing.T) {
	tx := ledger.Tx{
		Opcode:        ledger.OpcodeTableListSet,
		OpType:        ledger.OpInsert,
		Tables:        []ledger.TableRef{tableRef()},
		Raw:           []byte(`[{"id":1}]`),
		AutoFillField: "txHash",
	}
	_, err := Translate(context.Background(), sqlbuilder.NewDialect(sqlbuilder.MySQL), tx, Options{InfoSchema: stubInfoSchema{exists: false}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrMalformed)
}

func TestTranslateUpdateOrdersSetThenConditions(t *testing.T) {
	tx := ledger.Tx{
		Opcode: ledger.OpcodeTableListSet,
		OpType: ledger.OpUpdate,
		Tables: []ledger.TableRef{tableRef()},
		Raw:    []byte(`[{"status":"done"},{"id":7}]`),
	}
	res, err := Translate(context.Background(), sqlbuilder.NewDialect(sqlbuilder.SQLite), tx, Options{})
	require.NoError(t, err)
	text, err := res.Statements[0].Builder.AsString()
	require.NoError(t, err)
	assert.Equal(t, `UPDATE t_ab00000000000000000000000000000000000000 SET status="done" WHERE (id=7)`, text)
}

func TestTranslateDeleteOrsMultipleAndGroups(t *testing.T) {
	tx := ledger.Tx{
		Opcode: ledger.OpcodeTableListSet,
		OpType: ledger.OpDelete,
		Tables: []ledger.TableRef{tableRef()},
		Raw:    []byte(`[{"id":1},{"id":2}]`),
	}
	res, err := Translate(context.Background(), sqlbuilder.NewDialect(sqlbuilder.SQLite), tx, Options{})
	require.NoError(t, err)
	text, err := res.Statements[0].Builder.AsString()
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM t_ab00000000000000000000000000000000000000 WHERE (id=1) OR (id=2)", text)
}

func TestTranslateRenameGrantRevokeAreHandledByCaller(t *testing.T) {
	for _, op := range []ledger.OpType{ledger.OpRenameTable, ledger.OpGrant, ledger.OpRevoke} {
		tx := ledger.Tx{Opcode: ledger.OpcodeTableListSet, OpType: op, Tables: []ledger.TableRef{tableRef()}}
		res, err := Translate(context.Background(), sqlbuilder.NewDialect(sqlbuilder.SQLite), tx, Options{})
		assert.ErrorIs(t, err, ErrHandledByCaller)
		assert.Equal(t, "t_ab00000000000000000000000000000000000000", res.PhysicalTable)
	}
}

func TestTranslateDropTable(t *testing.T) {
	tx := ledger.Tx{Opcode: ledger.OpcodeTableListSet, OpType: ledger.OpDropTable, Tables: []ledger.TableRef{tableRef()}}
	res, err := Translate(context.Background(), sqlbuilder.NewDialect(sqlbuilder.SQLite), tx, Options{})
	require.NoError(t, err)
	text, err := res.Statements[0].Builder.AsString()
	require.NoError(t, err)
	assert.Equal(t, "DROP TABLE IF EXISTS t_ab00000000000000000000000000000000000000", text)
}

func TestTranslateRejectsEmptyTables(t *testing.T) {
	tx := ledger.Tx{Opcode: ledger.OpcodeTableListSet, OpType: ledger.OpCreateTable}
	_, err := Translate(context.Background(), sqlbuilder.NewDialect(sqlbuilder.SQLite), tx, Options{})
	assert.ErrorIs(t, err, errs.ErrMalformed)
}

func TestTranslateRejectsMalformedRawPayload(t *testing.T) {
	tx := ledger.Tx{
		Opcode: ledger.OpcodeTableListSet,
		OpType: ledger.OpInsert,
		Tables: []ledger.TableRef{tableRef()},
		Raw:    []byte(`not json`),
	}
	_, err := Translate(context.Background(), sqlbuilder.NewDialect(sqlbuilder.SQLite), tx, Options{})
	assert.ErrorIs(t, err, errs.ErrMalformed)
}

func TestTranslateRejectsUnknownOpcode(t *testing.T) {
	tx := ledger.Tx{Opcode: 99, Tables: []ledger.TableRef{tableRef()}}
	_, err := Translate(context.Background(), sqlbuilder.NewDialect(sqlbuilder.SQLite), tx, Options{})
	assert.ErrorIs(t, err, errs.ErrMalformed)
}
