package syncengine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cherry-wb/tablereplica/ledger"
	"github.com/cherry-wb/tablereplica/logging"
	"github.com/cherry-wb/tablereplica/statusstore"
	"github.com/cherry-wb/tablereplica/wire"
	"github.com/cherry-wb/tablereplica/workerpool"
)

// ErrNoPeer is returned by RequestRange when no peer is connected; when
// every connected peer is blacklisted, the blacklist is cleared instead.
var ErrNoPeer = errors.New("syncengine: no eligible peer")

// skipCacheCapacity/skipCacheTTL ground the process-wide skip-node
// cache sizing from spec §5 ("capacity ~65k entries, ~450s expiry").
const (
	skipCacheCapacity = 65536
	skipCacheTTL      = 450 * time.Second
)

// Peer is the minimal capability the sync engine needs from a
// connected overlay peer: answer a GetTable range request and a
// GetLedger skip-node request. The overlay/transport itself is out of
// this subsystem's scope (spec §1); this is the named collaborator
// interface a concrete transport implements.
type Peer interface {
	ID() string
	SeekTableTxLedger(ctx context.Context, req wire.GetTable) ([]wire.TableData, error)
	GetLedgerSkipNode(ctx context.Context, req wire.GetLedger) (wire.LedgerData, error)
}

// Registry is the Sync Engine (spec §4.8): owns every per-table Item,
// answers peer GetTable requests against this node's own ledgers, and
// maintains the shared skip-node cache.
type Registry struct {
	mu       sync.Mutex
	items    map[ledger.NameInDB]*Item
	peers    func() []Peer
	blacklist map[ledger.NameInDB]map[string]time.Time

	source ledger.Source
	store  *statusstore.Store
	log    logging.Logger

	skipCache *lru.LRU[uint32, wire.LedgerData]
	worker    *workerpool.Single

	pendingValidated atomic.Uint32
}

func NewRegistry(peers func() []Peer, source ledger.Source, store *statusstore.Store, log logging.Logger) *Registry {
	r := &Registry{
		items:     make(map[ledger.NameInDB]*Item),
		peers:     peers,
		blacklist: make(map[ledger.NameInDB]map[string]time.Time),
		source:    source,
		store:     store,
		log:       log,
		skipCache: lru.NewLRU[uint32, wire.LedgerData](skipCacheCapacity, nil, skipCacheTTL),
	}
	r.worker = workerpool.NewSingle(r.tickAll)
	return r
}

// Add registers a new item (from config's [sync_tables], from an
// AutoSync=1 SyncTableState row, or from a dynamically discovered
// TableListSet create, per spec §4.8 startup steps 1-3).
func (r *Registry) Add(nameInDB ledger.NameInDB, item *Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[nameInDB] = item
}

// TryTableSync triggers one background pass over every item, dropping
// the request if a pass is already running (spec §4.8 "TryTableSync →
// TableSyncThread").
func (r *Registry) TryTableSync(ctx context.Context, validatedLedgerIndex uint32) {
	r.pendingValidated.Store(validatedLedgerIndex)
	r.worker.Trigger(ctx)
}

func (r *Registry) tickAll(ctx context.Context) {
	validatedLedgerIndex := r.pendingValidated.Load()

	r.mu.Lock()
	snapshot := make([]*Item, 0, len(r.items))
	for _, item := range r.items {
		snapshot = append(snapshot, item)
	}
	r.mu.Unlock()

	for _, item := range snapshot {
		if err := item.Tick(ctx, validatedLedgerIndex); err != nil {
			r.log.Printf("syncengine: tick %s: %v", item.tableName, err)
		}
	}
}

// pickPeer selects a random peer not on this item's blacklist,
// resetting the blacklist once every peer has been tried (spec §4.8
// "Peer selection").
func (r *Registry) pickPeer(nameInDB ledger.NameInDB) (Peer, error) {
	candidates := r.peers()
	if len(candidates) == 0 {
		return nil, ErrNoPeer
	}

	r.mu.Lock()
	blacked := r.blacklist[nameInDB]
	eligible := make([]Peer, 0, len(candidates))
	for _, p := range candidates {
		if blacked == nil || time.Now().After(blacked[p.ID()]) {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		delete(r.blacklist, nameInDB) // exhausted: reset and try again
		eligible = candidates
	}
	r.mu.Unlock()

	return eligible[rand.Intn(len(eligible))], nil
}

func (r *Registry) blacklistPeer(nameInDB ledger.NameInDB, peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blacklist[nameInDB] == nil {
		r.blacklist[nameInDB] = make(map[string]time.Time)
	}
	r.blacklist[nameInDB][peerID] = time.Now().Add(DataExpiry)
}

// RequestRange implements PeerDialer for Items: picks a peer, issues
// the range request, and feeds returned frames into the item.
func (r *Registry) RequestRange(ctx context.Context, nameInDB ledger.NameInDB, req wire.GetTable) error {
	peer, err := r.pickPeer(nameInDB)
	if err != nil {
		return err
	}

	frames, err := peer.SeekTableTxLedger(ctx, req)
	if err != nil {
		r.blacklistPeer(nameInDB, peer.ID())
		return fmt.Errorf("syncengine: SeekTableTxLedger via %s: %w", peer.ID(), err)
	}

	r.mu.Lock()
	item := r.items[nameInDB]
	r.mu.Unlock()
	if item == nil {
		return fmt.Errorf("syncengine: no item for %s", nameInDB)
	}
	// Deliver asynchronously: the calling item's Tick holds the item
	// lock while it issues this request, and Ingest takes that lock.
	go func() {
		for _, frame := range frames {
			item.Ingest(ctx, frame)
		}
	}()
	return nil
}

// SeekTableTxLedger is the peer service side (spec §4.8): answers a
// remote GetTable request by scanning this node's own ledgers.
func (r *Registry) SeekTableTxLedger(ctx context.Context, req wire.GetTable) ([]wire.TableData, error) {
	info, err := r.source.LedgerInfo(ctx, req.LedgerSeq)
	if err != nil {
		return nil, fmt.Errorf("syncengine: peer lacks start ledger %d: %w", req.LedgerSeq, err)
	}
	if info.Hash != req.LedgerHash {
		return nil, fmt.Errorf("syncengine: ledger %d hash mismatch", req.LedgerSeq)
	}

	var frames []wire.TableData
	lastTxChange := req.LedgerCheckSeq
	lastSent := req.LedgerSeq

	// Resolve owner from the caller-supplied account; nameInDB is not
	// part of GetTable on the wire (spec §6), so the table is located
	// by (account, tableName) via a per-ledger scan instead.
	for seq := req.LedgerSeq + 1; seq <= req.LedgerStopSeq; seq++ {
		if seq%SkipLedgerBoundary == 0 {
			// No fast skip: every ledger in the range is read one by
			// one; a boundary ledger with no matching entry gets its
			// end-of-block frame below.
		}
		entry, ok, err := r.source.TableEntryAtByName(ctx, seq, req.Account, req.TableName)
		if err != nil {
			return nil, fmt.Errorf("syncengine: TableEntryAt(%d): %w", seq, err)
		}
		if !ok || entry.PreviousTxnLgrSeq < lastTxChange {
			if seq%SkipLedgerBoundary == 0 {
				frames = append(frames, wire.TableData{
					Account: req.Account, TableName: req.TableName,
					LedgerSeq: seq, LastLedgerSeq: lastSent,
				})
				lastSent = seq
			}
			continue
		}

		ledgerInfo, err := r.source.LedgerInfo(ctx, seq)
		if err != nil {
			return nil, fmt.Errorf("syncengine: LedgerInfo(%d): %w", seq, err)
		}
		txNodes := make([][]byte, 0, len(entry.Txs))
		frames = append(frames, wire.TableData{
			Account:         req.Account,
			TableName:       req.TableName,
			LedgerSeq:       seq,
			LedgerHash:      ledgerInfo.Hash,
			LastLedgerSeq:   lastSent,
			LedgerCheckHash: entry.TxnLedgerHash,
			TxNodes:         txNodes,
			Seekstop:        seq == req.LedgerStopSeq,
		})
		lastSent = seq
		lastTxChange = entry.TxnLgrSeq
	}

	if len(frames) == 0 || !frames[len(frames)-1].Seekstop {
		frames = append(frames, wire.TableData{
			Account: req.Account, TableName: req.TableName,
			LedgerSeq: req.LedgerStopSeq, LastLedgerSeq: lastSent, Seekstop: true,
		})
	}
	return frames, nil
}

// SkipNode returns the cached 256-ledger skip node for seq, fetching
// it from a peer on a miss (spec §4.8 "256-ledger skip nodes").
func (r *Registry) SkipNode(ctx context.Context, seq uint32) (wire.LedgerData, error) {
	if data, ok := r.skipCache.Get(seq); ok {
		return data, nil
	}
	peer, err := r.pickPeer(ledger.NameInDB{})
	if err != nil {
		return wire.LedgerData{}, err
	}
	data, err := peer.GetLedgerSkipNode(ctx, wire.GetLedger{LedgerSeq: seq, Type: wire.LedgerNodeSkip})
	if err != nil {
		return wire.LedgerData{}, err
	}
	r.skipCache.Add(seq, data)
	return data, nil
}

// ReStartOneTable implements replay.SyncResumer: the storage replay
// registry calls this once a replay item reaches a verdict, handing
// control of the table back to the sync item (spec §4.5 commit/
// rollback hand-off).
func (r *Registry) ReStartOneTable(nameInDB ledger.NameInDB, commit bool) {
	r.mu.Lock()
	item := r.items[nameInDB]
	r.mu.Unlock()
	if item == nil {
		return
	}
	item.mu.Lock()
	item.state = StateReInit
	item.mu.Unlock()
	if !commit {
		r.log.Printf("syncengine: %s resuming sync after replay rollback", item.tableName)
	}
}

// StopOneTable releases sync control of a table while a replay item
// takes over (spec §3 "Ownership"): it stops the sync item and leaves
// it parked so ReStartOneTable can resume it later.
func (r *Registry) StopOneTable(ctx context.Context, nameInDB ledger.NameInDB) bool {
	r.mu.Lock()
	item := r.items[nameInDB]
	r.mu.Unlock()
	if item == nil {
		return true
	}
	return item.StopSync(ctx)
}
