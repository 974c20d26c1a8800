package replay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cherry-wb/tablereplica/dbpool"
	"github.com/cherry-wb/tablereplica/ledger"
	"github.com/cherry-wb/tablereplica/logging"
	"github.com/cherry-wb/tablereplica/sqlbuilder"
	"github.com/cherry-wb/tablereplica/statusstore"
	"github.com/cherry-wb/tablereplica/translate"
	"github.com/cherry-wb/tablereplica/workerpool"
)

// SyncResumer is the Sync Engine's side of the hand-off described in
// spec §4.5: ReStartOneTable hands a table back to sync once the replay
// item has committed (commit=true) or rolled back (commit=false).
type SyncResumer interface {
	ReStartOneTable(nameInDB ledger.NameInDB, commit bool)
}

// Registry dispatches transactions to the right per-table replay item
// (spec §4.6), keyed by nameInDB.
type Registry struct {
	mu    sync.Mutex
	items map[ledger.NameInDB]*Item

	handle  *dbpool.Handle
	dialect sqlbuilder.Dialect
	store   *statusstore.Store
	source  ledger.Source
	txMaster ledger.TxMaster
	resumer SyncResumer
	log     logging.Logger
	opts    translate.Options

	worker           *workerpool.Single
	pendingValidated atomic.Uint32
}

func NewRegistry(handle *dbpool.Handle, dialect sqlbuilder.Dialect, store *statusstore.Store, source ledger.Source, txMaster ledger.TxMaster, resumer SyncResumer, log logging.Logger, opts translate.Options) *Registry {
	r := &Registry{
		items:    make(map[ledger.NameInDB]*Item),
		handle:   handle,
		dialect:  dialect,
		store:    store,
		source:   source,
		txMaster: txMaster,
		resumer:  resumer,
		log:      log,
		opts:     opts,
	}
	r.worker = workerpool.NewSingle(r.runTick)
	return r
}

// InitItem dispatches a freshly-accepted transaction (spec §4.6
// init_item): forward to an existing item, resume from a persisted
// record within MaxGapNow2Valid of the current validated ledger, or
// verify the table exists (and isn't deleted) before creating a fresh
// item.
func (r *Registry) InitItem(ctx context.Context, t ledger.Tx, validatedLedgerIndex uint32) error {
	if len(t.Tables) == 0 {
		return fmt.Errorf("replay: InitItem: transaction carries no Tables entry")
	}
	ref := t.Tables[0]

	r.mu.Lock()
	item, ok := r.items[ref.NameInDB]
	r.mu.Unlock()
	if ok {
		return item.PutElem(ctx, t, r.opts, validatedLedgerIndex)
	}

	rec, found, err := r.store.ReadSyncDB(ctx, ref.NameInDB)
	if err != nil {
		return fmt.Errorf("replay: ReadSyncDB: %w", err)
	}

	if found {
		if validatedLedgerIndex < rec.LedgerSeq || validatedLedgerIndex-rec.LedgerSeq > MaxGapNow2Valid {
			return fmt.Errorf("replay: table %s is more than %d ledgers behind validated; defer to sync", ref.NameInDB, MaxGapNow2Valid)
		}
		item = NewItem(t.ActingAccount(), ref.NameInDB, r.handle, r.dialect, r.store, r.source, r.txMaster, r.log)
		if err := item.Restore(ctx, rec); err != nil {
			return fmt.Errorf("replay: restore %s: %w", ref.NameInDB, err)
		}
	} else {
		entry, exists, err := r.source.TableEntry(ctx, validatedLedgerIndex, t.ActingAccount(), ref.NameInDB)
		if err != nil {
			return fmt.Errorf("replay: TableEntry: %w", err)
		}
		if !exists || entry.Deleted {
			return fmt.Errorf("replay: table %s does not exist or is deleted at ledger %d", ref.NameInDB, validatedLedgerIndex)
		}
		item = NewItem(t.ActingAccount(), ref.NameInDB, r.handle, r.dialect, r.store, r.source, r.txMaster, r.log)
	}

	r.mu.Lock()
	r.items[ref.NameInDB] = item
	r.mu.Unlock()

	return item.PutElem(ctx, t, r.opts, validatedLedgerIndex)
}

// Tick triggers a background pass of do_job across every active item,
// dropping the request if a pass is already in flight (spec §4.6
// "single-shot guarded by a boolean").
func (r *Registry) Tick(ctx context.Context, validatedLedgerIndex uint32) {
	r.pendingValidated.Store(validatedLedgerIndex)
	r.worker.Trigger(ctx)
}

func (r *Registry) runTick(ctx context.Context) {
	validatedLedgerIndex := r.pendingValidated.Load()

	r.mu.Lock()
	snapshot := make(map[ledger.NameInDB]*Item, len(r.items))
	for k, v := range r.items {
		snapshot[k] = v
	}
	r.mu.Unlock()

	for nameInDB, item := range snapshot {
		decision, err := item.DoJob(ctx, validatedLedgerIndex)
		if err != nil {
			r.log.Printf("replay: do_job %s: %v", item.PhysicalTable(), err)
			continue
		}
		switch decision {
		case DecisionCommit:
			r.remove(nameInDB)
			r.resumer.ReStartOneTable(nameInDB, true)
		case DecisionRollback:
			r.remove(nameInDB)
			r.resumer.ReStartOneTable(nameInDB, false)
		}
	}
}

func (r *Registry) remove(nameInDB ledger.NameInDB) {
	r.mu.Lock()
	delete(r.items, nameInDB)
	r.mu.Unlock()
}
