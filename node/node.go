// Package node performs the startup wiring spec §4.8 describes: turn a
// parsed config plus the ledger/overlay collaborators this module
// doesn't own into a running pair of registries (storage replay and
// table sync). It is the library entrypoint cmd/tablenode calls; the
// process embedding this module (the one that owns the consensus core,
// the peer overlay, and the job queue) supplies the Bridge.
package node

import (
	"context"
	"fmt"

	"github.com/cherry-wb/tablereplica/config"
	"github.com/cherry-wb/tablereplica/dbpool"
	"github.com/cherry-wb/tablereplica/ledger"
	"github.com/cherry-wb/tablereplica/logging"
	"github.com/cherry-wb/tablereplica/replay"
	"github.com/cherry-wb/tablereplica/sqlbuilder"
	"github.com/cherry-wb/tablereplica/statusstore"
	"github.com/cherry-wb/tablereplica/syncengine"
	"github.com/cherry-wb/tablereplica/translate"
)

// Bridge bundles the collaborators spec §1 puts out of scope: the
// ledger/consensus core, the transaction master, the transaction
// content lookup, and the connected peer set. The embedding process
// constructs these; this module only consumes them through the named
// interfaces it already declares.
type Bridge struct {
	Source    ledger.Source
	TxMaster  ledger.TxMaster
	TxFetcher syncengine.TxFetcher
	Peers     func() []syncengine.Peer
}

// Node owns the two registries and the shared status store once
// startup has run.
type Node struct {
	Replay  *replay.Registry
	Sync    *syncengine.Registry
	Store   *statusstore.Store
	Handle  *dbpool.Handle
	dialect sqlbuilder.Dialect
	bridge  Bridge
	log     logging.Logger
}

func dialectNames(cfgType string) (dbpool.DialectName, sqlbuilder.DialectName, error) {
	switch cfgType {
	case "mysql":
		return dbpool.MySQL, sqlbuilder.MySQL, nil
	case "sqlite":
		return dbpool.SQLite, sqlbuilder.SQLite, nil
	default:
		return 0, 0, fmt.Errorf("node: unknown [sync_db] type %q", cfgType)
	}
}

// replayApplier adapts replay.Registry.InitItem to the syncengine.Applier
// shape the sync item's local-acquire and drain paths call through, so
// a table caught up by the sync engine re-enters the same confirmation
// path a freshly-admitted transaction would (spec §3 "Ownership").
type replayApplier struct {
	registry *replay.Registry
	source   ledger.Source
}

func (a replayApplier) ApplyTx(ctx context.Context, t ledger.Tx, opts translate.Options) error {
	validated, err := a.source.ValidatedLedgerIndex(ctx)
	if err != nil {
		return fmt.Errorf("node: applier: read validated ledger index: %w", err)
	}
	return a.registry.InitItem(ctx, t, validated)
}

// Start runs the spec §4.8 startup sequence: open the configured
// database, bootstrap the status store, create both registries, then
// seed the sync registry from (1) the config's [sync_tables] entries,
// (2) every status-store row with AutoSync=1 (resumed tables from a
// prior run), and (3) when auto_sync is set, every TableListSet create
// found in the validated ledgers. The replay registry starts empty.
func Start(ctx context.Context, cfg config.Config, pool *dbpool.Pool, bridge Bridge, log logging.Logger) (*Node, error) {
	poolDialect, sqlDialectName, err := dialectNames(cfg.SyncDB.Type)
	if err != nil {
		return nil, err
	}

	handle, err := pool.Checkout(poolDialect, cfg.SyncDB.DB)
	if err != nil {
		return nil, fmt.Errorf("node: open [sync_db]: %w", err)
	}

	store := statusstore.New(handle.DB())
	if err := store.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("node: bootstrap status store: %w", err)
	}

	dialect := sqlbuilder.NewDialect(sqlDialectName)

	syncRegistry := syncengine.NewRegistry(bridge.Peers, bridge.Source, store, log)
	replayRegistry := replay.NewRegistry(handle, dialect, store, bridge.Source, bridge.TxMaster, syncRegistry, log, translate.Options{})

	n := &Node{
		Replay:  replayRegistry,
		Sync:    syncRegistry,
		Store:   store,
		Handle:  handle,
		dialect: dialect,
		bridge:  bridge,
		log:     log,
	}

	validated, err := bridge.Source.ValidatedLedgerIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("node: read validated ledger index: %w", err)
	}

	// [sync_tables]: explicitly configured tables (spec §4.8 step 1). A
	// manually configured table always wins a conflict with a persisted
	// AutoSync=1 row for the same (owner, tableName): demote the row
	// before seeding so the manual entry is the one driving sync.
	manual := make(map[string]bool, len(cfg.SyncTables))
	for _, st := range cfg.SyncTables {
		owner, err := ledger.ParseAccountBase58(st.Owner)
		if err != nil {
			return nil, fmt.Errorf("node: [sync_tables] entry %q: %w", st.Owner, err)
		}
		manual[st.Owner+"\x00"+st.TableName] = true
		if err := store.UpdateStateDB(ctx, owner, st.TableName, false); err != nil {
			return nil, fmt.Errorf("node: demote conflicting auto-sync row for %q: %w", st.TableName, err)
		}
		n.seedTable(ctx, owner, st.TableName, validated, false)
	}

	// Resume tables this node was already syncing (AutoSync=1 rows from
	// a prior run, spec §4.8 step 2), skipping any row step 1 just
	// demoted in favor of a manual entry.
	resumed, err := store.GetAutoListFromDB(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("node: read auto-sync list: %w", err)
	}
	for _, entry := range resumed {
		if manual[entry.Owner.Base58()+"\x00"+entry.TableName] {
			continue
		}
		n.seedTable(ctx, entry.Owner, entry.TableName, validated, true)
	}

	// If auto_sync is enabled, scan validated ledgers for TableListSet
	// create transactions and dynamically register any table not
	// already tracked (spec §4.8 step 3).
	if cfg.AutoSync {
		for seq := uint32(1); seq <= validated; seq++ {
			creates, err := bridge.Source.TableCreatesAt(ctx, seq)
			if err != nil {
				return nil, fmt.Errorf("node: scan ledger %d for table creates: %w", seq, err)
			}
			for _, c := range creates {
				if manual[c.Owner.Base58()+"\x00"+c.TableName] {
					continue
				}
				tracked, err := store.IsExist(ctx, c.Owner, c.TableName)
				if err != nil {
					return nil, fmt.Errorf("node: check auto-discovered table %q: %w", c.TableName, err)
				}
				if tracked {
					continue
				}
				n.seedTable(ctx, c.Owner, c.TableName, validated, true)
			}
		}
	}

	return n, nil
}

func (n *Node) seedTable(ctx context.Context, owner ledger.AccountID, tableName string, validated uint32, autoSync bool) {
	nameInDB := ledger.NameInDB{}
	if entry, ok, err := n.bridge.Source.TableEntryAtByName(ctx, validated, owner, tableName); err == nil && ok {
		nameInDB = entry.NameInDB
	}

	applier := replayApplier{registry: n.Replay, source: n.bridge.Source}
	item := syncengine.NewItem(owner, tableName, n.Store, n.bridge.Source, n.dialect, n.Sync, n.Sync, applier, n.bridge.TxFetcher, autoSync, n.log)
	n.Sync.Add(nameInDB, item)
}
