// Package dbpool owns database connections on behalf of Sync and
// Replay items. The source this subsystem replaces passed raw
// connection pointers into long-lived members; here one Pool owns
// every *sql.DB, each item checks out a Handle for its lifetime, and
// the Handle hands out short-lived locked Sessions that serialize
// access at the driver level (spec §9 "Connection ownership").
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	mysqldriver "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// DialectName mirrors sqlbuilder.DialectName without importing it, to
// keep this package usable by components that don't otherwise depend
// on sqlbuilder.
type DialectName int

const (
	SQLite DialectName = iota
	MySQL
)

// Pool owns one *sql.DB per dsn (the dialect is not part of the key)
// and hands out Handles.
// Items never dial their own connections.
type Pool struct {
	mu    sync.Mutex
	byDSN map[string]*sql.DB
}

func New() *Pool {
	return &Pool{byDSN: make(map[string]*sql.DB)}
}

// Open returns the shared *sql.DB for (dialect, dsn), opening it on
// first use. Subsequent calls with the same dsn return the same
// connection — items for the same physical database share a pool
// even though each item's Handle is its own checkout.
func (p *Pool) Open(dialect DialectName, dsn string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.byDSN[dsn]; ok {
		return db, nil
	}

	driver := "sqlite"
	if dialect == MySQL {
		driver = "mysql"
		if _, err := mysqldriver.ParseDSN(dsn); err != nil {
			return nil, fmt.Errorf("dbpool: invalid mysql dsn: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	p.byDSN[dsn] = db
	return db, nil
}

// Checkout hands a long-lived Handle to a caller (a sync or replay
// item), bound to the pool's shared *sql.DB for dsn.
func (p *Pool) Checkout(dialect DialectName, dsn string) (*Handle, error) {
	db, err := p.Open(dialect, dsn)
	if err != nil {
		return nil, err
	}
	return &Handle{db: db, dialect: dialect}, nil
}

// Close closes every connection the pool opened. Called once at
// process shutdown.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for dsn, db := range p.byDSN {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.byDSN, dsn)
	}
	return firstErr
}

// Handle is one item's checked-out connection. It is not itself
// concurrency-safe for overlapping transactions — items serialize
// their own access via the write-data lock described in spec §5 — but
// Session acquisition is.
type Handle struct {
	db      *sql.DB
	dialect DialectName
	mu      sync.Mutex
}

func (h *Handle) Dialect() DialectName { return h.dialect }
func (h *Handle) DB() *sql.DB          { return h.db }

// Session locks the handle and returns the *sql.DB to run statements
// against, plus a release func. The lock is released by calling the
// returned func, typically deferred.
func (h *Handle) Session(ctx context.Context) (*sql.DB, func(), error) {
	h.mu.Lock()
	return h.db, h.mu.Unlock, nil
}

// BeginTx starts a transaction under the handle's session lock. The
// caller must Commit or Rollback to release the underlying driver
// connection; the session lock itself is released immediately since
// *sql.Tx is independently safe for the caller's own serial use.
func (h *Handle) BeginTx(ctx context.Context) (*sql.Tx, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.db.BeginTx(ctx, nil)
}
