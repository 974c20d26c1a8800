package dbpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenReusesConnectionForSameDSN(t *testing.T) {
	p := New()
	t.Cleanup(func() { p.Close() })

	dsn := "file:dbpooltest1?mode=memory&cache=shared"
	db1, err := p.Open(SQLite, dsn)
	require.NoError(t, err)
	db2, err := p.Open(SQLite, dsn)
	require.NoError(t, err)
	assert.Same(t, db1, db2)
}

func TestCheckoutHandleRunsQueries(t *testing.T) {
	p := New()
	t.Cleanup(func() { p.Close() })

	h, err := p.Checkout(SQLite, "file:dbpooltest2?mode=memory&cache=shared")
	require.NoError(t, err)
	assert.Equal(t, SQLite, h.Dialect())

	ctx := context.Background()
	_, err = h.DB().ExecContext(ctx, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)

	db, release, err := h.Session(ctx)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO t (id) VALUES (1)")
	release()
	require.NoError(t, err)

	var count int
	require.NoError(t, h.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestOpenRejectsInvalidMySQLDSN(t *testing.T) {
	p := New()
	t.Cleanup(func() { p.Close() })

	_, err := p.Open(MySQL, "not a valid dsn")
	assert.Error(t, err)
}

func TestBeginTxCommits(t *testing.T) {
	p := New()
	t.Cleanup(func() { p.Close() })

	h, err := p.Checkout(SQLite, "file:dbpooltest3?mode=memory&cache=shared")
	require.NoError(t, err)

	ctx := context.Background()
	_, err = h.DB().ExecContext(ctx, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)

	tx, err := h.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO t (id) VALUES (42)")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	var count int
	require.NoError(t, h.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 1, count)
}
