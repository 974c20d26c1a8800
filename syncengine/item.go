// Package syncengine implements the Table Sync Engine (spec §4.7,
// §4.8): a per-table pull-based state machine that catches a table up
// from peers and from this node's own ledger history, validates
// deltas against 256-ledger skip-list checkpoints, and feeds them into
// the Storage Replay path.
package syncengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/cherry-wb/tablereplica/ledger"
	"github.com/cherry-wb/tablereplica/logging"
	"github.com/cherry-wb/tablereplica/sqlbuilder"
	"github.com/cherry-wb/tablereplica/statusstore"
	"github.com/cherry-wb/tablereplica/translate"
	"github.com/cherry-wb/tablereplica/wire"
	"github.com/cherry-wb/tablereplica/workerpool"
)

// State is the sync item's lifecycle state (spec §4.7).
type State int

const (
	StateInit State = iota
	StateReInit
	StateWaitData
	StateBlockStop
	StateWaitLocalAcquire
	StateLocalAcquiring
	StateDeleted
	StateStop
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateReInit:
		return "ReInit"
	case StateWaitData:
		return "WaitData"
	case StateBlockStop:
		return "BlockStop"
	case StateWaitLocalAcquire:
		return "WaitLocalAcquire"
	case StateLocalAcquiring:
		return "LocalAcquiring"
	case StateDeleted:
		return "Deleted"
	case StateStop:
		return "Stop"
	default:
		return "Unknown"
	}
}

// LedgerSyncState tracks whether the item holds a confirmed local
// ledger to branch its range requests from.
type LedgerSyncState int

const (
	LedgerNoLedger LedgerSyncState = iota
	LedgerWaitLedger
	LedgerGotLedger
)

// SkipLedgerBoundary is the block size 256-ledger checkpoints fall on.
const SkipLedgerBoundary = 256

// DataExpiry is the 30s window after which a stalled data-frame wait
// falls back to local acquisition; it is also how long a peer stays
// blacklisted after a failed range request (spec §5). A stalled wait
// does not itself blacklist a peer.
const DataExpiry = 30 * time.Second

// PeerDialer issues a GetTable request to a peer and reports success;
// actual frame delivery arrives later via Item.Ingest. Peer selection
// and blacklisting live in the Registry, which implements this for the
// item's benefit.
type PeerDialer interface {
	RequestRange(ctx context.Context, nameInDB ledger.NameInDB, req wire.GetTable) error
}

// Applier applies one translated ledger transaction inside a DB
// transaction. It does not touch the TxnUpdateHash watermark; the item
// records that itself after each ApplyTx returns.
type Applier interface {
	ApplyTx(ctx context.Context, t ledger.Tx, opts translate.Options) error
}

// TxFetcher resolves a transaction hash to its full content, for the
// local-acquire scan: a ledger entry's Txs field only holds hashes
// (spec §6), so building a TableData frame for local self-service
// needs this collaborator to pull the underlying transaction.
type TxFetcher interface {
	FetchTx(ctx context.Context, hash ledger.Hash256) (ledger.Tx, error)
}

// SkipNodeSource resolves the 256-ledger skip-list checkpoint node
// enclosing a ledger sequence (spec §4.7/§4.8 "256-ledger skip
// nodes"). Registry implements this via its shared skip-node cache.
type SkipNodeSource interface {
	SkipNode(ctx context.Context, seq uint32) (wire.LedgerData, error)
}

// Item is the per-table sync state machine.
type Item struct {
	mu sync.Mutex

	owner     ledger.AccountID
	tableName string
	nameInDB  ledger.NameInDB
	autoSync  bool

	store     *statusstore.Store
	source    ledger.Source
	dialect   sqlbuilder.Dialect
	peer      PeerDialer
	skipNodes SkipNodeSource
	applier   Applier
	txFetcher TxFetcher
	log       logging.Logger

	state           State
	ledgerSyncState LedgerSyncState

	u32SeqLedger    uint32
	lastLedgerHash  ledger.Hash256
	lastTxChange    uint32

	blockData  []wire.TableData // out-of-order, keyed by strictly-increasing LedgerSeq
	wholeData  []wire.TableData // contiguous, ready for operate_sql
	waitCheck  []wire.TableData // awaiting skip-node validation

	lastProgress time.Time
	operateSQL   *workerpool.Single
}

// NewItem constructs a sync item in Init state. autoSync records
// whether this item was seeded from a dynamically discovered
// TableListSet create (spec §4.8 step 3) rather than an explicit
// [sync_tables] entry, so its first InsertSyncDB persists the right
// AutoSync flag for future startup conflict checks.
func NewItem(owner ledger.AccountID, tableName string, store *statusstore.Store, source ledger.Source, dialect sqlbuilder.Dialect, peer PeerDialer, skipNodes SkipNodeSource, applier Applier, txFetcher TxFetcher, autoSync bool, log logging.Logger) *Item {
	it := &Item{
		owner:     owner,
		tableName: tableName,
		autoSync:  autoSync,
		store:     store,
		source:    source,
		dialect:   dialect,
		peer:      peer,
		skipNodes: skipNodes,
		applier:   applier,
		txFetcher: txFetcher,
		log:       log,
		state:     StateInit,
	}
	it.operateSQL = workerpool.NewSingle(it.drainWholeData)
	return it
}

func (it *Item) State() State {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.state
}

// Tick advances the state machine by one scheduler step (spec §4.7).
func (it *Item) Tick(ctx context.Context, validatedLedgerIndex uint32) error {
	it.mu.Lock()
	defer it.mu.Unlock()

	it.drainWaitCheck(ctx)

	switch it.state {
	case StateInit:
		return it.tickInit(ctx)
	case StateReInit:
		return it.tickReInit(ctx)
	case StateBlockStop:
		return it.tickBlockStop(ctx, validatedLedgerIndex)
	case StateWaitData:
		return it.tickWaitData(ctx)
	case StateWaitLocalAcquire:
		it.state = StateLocalAcquiring
		return nil
	case StateLocalAcquiring:
		return it.tickLocalAcquiring(ctx, validatedLedgerIndex)
	case StateDeleted, StateStop:
		return nil
	default:
		return fmt.Errorf("syncengine: unknown state %d", it.state)
	}
}

func (it *Item) tickInit(ctx context.Context) error {
	entry, exists, err := it.source.TableEntry(ctx, 0, it.owner, it.nameInDB)
	if err != nil {
		return fmt.Errorf("syncengine: TableEntry: %w", err)
	}
	if !exists {
		return nil // retry next tick; table not yet visible
	}
	if entry.Deleted {
		if err := it.store.UpdateDeleted(ctx, it.nameInDB, true); err != nil {
			return fmt.Errorf("syncengine: tombstone: %w", err)
		}
		it.state = StateDeleted
		return nil
	}

	maxSeq, _, found, err := it.store.GetMaxTxnInfo(ctx, it.tableName, it.owner)
	if err != nil {
		return fmt.Errorf("syncengine: GetMaxTxnInfo: %w", err)
	}
	startSeq := uint32(1)
	if found && maxSeq > 0 {
		startSeq = maxSeq - 1
	}
	if err := it.store.InsertSyncDB(ctx, it.tableName, it.nameInDB, it.owner, startSeq, ledger.Hash256{}, it.autoSync); err != nil {
		return fmt.Errorf("syncengine: InsertSyncDB: %w", err)
	}
	it.u32SeqLedger = startSeq
	it.state = StateBlockStop
	return nil
}

func (it *Item) tickReInit(ctx context.Context) error {
	it.blockData = nil
	it.wholeData = nil
	it.waitCheck = nil
	rec, ok, err := it.store.ReadSyncDB(ctx, it.nameInDB)
	if err != nil {
		return fmt.Errorf("syncengine: ReadSyncDB: %w", err)
	}
	if ok {
		it.u32SeqLedger = rec.LedgerSeq
		it.lastLedgerHash = rec.LedgerHash
		it.lastTxChange = rec.TxnLedgerSeq
	}
	it.state = StateBlockStop
	return nil
}

func (it *Item) tickBlockStop(ctx context.Context, validatedLedgerIndex uint32) error {
	if it.ledgerSyncState == LedgerGotLedger {
		it.state = StateWaitLocalAcquire
		return nil
	}

	nextBoundary := ((it.u32SeqLedger / SkipLedgerBoundary) + 1) * SkipLedgerBoundary
	stopSeq := nextBoundary
	if validatedLedgerIndex < stopSeq {
		stopSeq = validatedLedgerIndex
	}
	if stopSeq <= it.u32SeqLedger {
		return nil // nothing new yet
	}

	req := wire.GetTable{
		Account:         it.owner,
		TableName:       it.tableName,
		LedgerSeq:       it.u32SeqLedger,
		LedgerHash:      it.lastLedgerHash,
		LedgerCheckSeq:  it.u32SeqLedger,
		LedgerCheckHash: it.lastLedgerHash,
		LedgerStopSeq:   stopSeq,
		GetLost:         false,
	}
	if err := it.peer.RequestRange(ctx, it.nameInDB, req); err != nil {
		// No live peer: fall back to local acquisition.
		it.state = StateWaitLocalAcquire
		return nil
	}
	it.lastProgress = timeNow()
	it.state = StateWaitData
	return nil
}

func (it *Item) tickWaitData(ctx context.Context) error {
	if !it.lastProgress.IsZero() && timeNow().Sub(it.lastProgress) > DataExpiry {
		it.state = StateWaitLocalAcquire
		return fmt.Errorf("syncengine: data-frame expiry for %s; falling back to local acquisition", it.tableName)
	}
	return nil
}

func (it *Item) tickLocalAcquiring(ctx context.Context, validatedLedgerIndex uint32) error {
	seq := it.u32SeqLedger + 1
	produced := false
	for ; seq <= validatedLedgerIndex; seq++ {
		entry, ok, err := it.source.TableEntryAt(ctx, seq, it.owner, it.nameInDB)
		if err != nil {
			return fmt.Errorf("syncengine: TableEntryAt(%d): %w", seq, err)
		}
		if !ok || entry.PreviousTxnLgrSeq != it.lastTxChange {
			if seq%SkipLedgerBoundary == 0 {
				it.ingestLocked(ctx, wire.TableData{TableName: it.tableName, LedgerSeq: seq, LastLedgerSeq: it.u32SeqLedger})
				produced = true
			}
			continue
		}
		info, err := it.source.LedgerInfo(ctx, seq)
		if err != nil {
			return fmt.Errorf("syncengine: LedgerInfo(%d): %w", seq, err)
		}
		txNodes := make([][]byte, 0, len(entry.Txs))
		for _, h := range entry.Txs {
			t, err := it.txFetcher.FetchTx(ctx, h)
			if err != nil {
				return fmt.Errorf("syncengine: FetchTx(%s): %w", h, err)
			}
			node, err := encodeTxNode(t)
			if err != nil {
				return fmt.Errorf("syncengine: encode tx node: %w", err)
			}
			txNodes = append(txNodes, node)
		}
		it.ingestLocked(ctx, wire.TableData{
			Account:         it.owner,
			TableName:       it.tableName,
			LedgerSeq:       seq,
			LedgerHash:      info.Hash,
			LastLedgerSeq:   it.u32SeqLedger,
			LastLedgerHash:  it.lastLedgerHash,
			LedgerCheckHash: entry.TxnLedgerHash,
			TxNodes:         txNodes,
		})
		produced = true
		if seq%SkipLedgerBoundary == 0 {
			it.ingestLocked(ctx, wire.TableData{TableName: it.tableName, LedgerSeq: seq, LastLedgerSeq: seq})
		}
	}
	if produced || seq > validatedLedgerIndex {
		it.state = StateBlockStop
		it.ledgerSyncState = LedgerNoLedger
	}
	return nil
}

// Ingest accepts one TableData frame from a peer or the local-acquire
// scan and routes it into the block-data queue, promoting contiguous
// runs into the whole-data queue (spec §4.7 WaitData / §4.8 "local
// data self-service"). It locks internally so peer delivery and the
// local-acquire scan can both call it safely (the write-data lock from
// spec §5).
func (it *Item) Ingest(ctx context.Context, frame wire.TableData) {
	it.mu.Lock()
	it.ingestLocked(ctx, frame)
	it.mu.Unlock()
	it.operateSQL.Trigger(ctx)
}

func (it *Item) ingestLocked(ctx context.Context, frame wire.TableData) {
	it.lastProgress = timeNow()

	for _, existing := range it.blockData {
		if existing.LedgerSeq == frame.LedgerSeq {
			return // duplicate, discard
		}
	}
	it.blockData = append(it.blockData, frame)
	slices.SortFunc(it.blockData, func(a, b wire.TableData) bool { return a.LedgerSeq < b.LedgerSeq })

	it.promoteContiguous(ctx)
}

// checkpointResult is verifyCheckpoint's verdict on a frame's
// LastLedgerHash against its enclosing 256-ledger skip node.
type checkpointResult int

const (
	checkpointVerified checkpointResult = iota
	checkpointPending
	checkpointMismatch
)

// verifyCheckpoint validates frame.LastLedgerHash against the skip
// node enclosing frame.LastLedgerSeq (spec §4.7/§4.8 "256-ledger skip
// nodes"). A skip node not yet available is checkpointPending, not an
// error: the caller parks the frame in waitCheck and retries once the
// node arrives. A skip node with a different hash at that offset is
// checkpointMismatch.
func (it *Item) verifyCheckpoint(ctx context.Context, frame wire.TableData) (checkpointResult, error) {
	if it.skipNodes == nil || frame.LastLedgerSeq == 0 {
		return checkpointVerified, nil
	}
	boundary := ((frame.LastLedgerSeq / SkipLedgerBoundary) + 1) * SkipLedgerBoundary
	node, err := it.skipNodes.SkipNode(ctx, boundary)
	if err != nil {
		return checkpointPending, nil
	}
	idx := int(frame.LastLedgerSeq) - int(boundary) + SkipLedgerBoundary
	if idx < 0 || idx >= len(node.Nodes) {
		return checkpointPending, nil
	}
	raw := node.Nodes[idx]
	var want ledger.Hash256
	if len(raw) != len(want) {
		return checkpointMismatch, fmt.Errorf("malformed skip node entry for ledger %d", frame.LastLedgerSeq)
	}
	copy(want[:], raw)
	if want != frame.LastLedgerHash {
		return checkpointMismatch, nil
	}
	return checkpointVerified, nil
}

// promoteContiguous moves a contiguous prefix of block-data frames
// (each one's LastLedgerSeq matching the running watermark: the last
// frame already queued in wholeData, or u32SeqLedger when that queue is
// empty) into the whole-data queue, after validating each against its enclosing skip
// node rather than accepting it on sequence continuity alone. A frame
// whose skip node hasn't arrived yet moves to waitCheck; a hash
// mismatch forces the item back through ReInit.
func (it *Item) promoteContiguous(ctx context.Context) {
	watermark := it.u32SeqLedger
	if n := len(it.wholeData); n > 0 {
		watermark = it.wholeData[n-1].LedgerSeq
	}
	for len(it.blockData) > 0 {
		head := it.blockData[0]
		if head.LastLedgerSeq != watermark {
			break
		}

		switch result, err := it.verifyCheckpoint(ctx, head); result {
		case checkpointPending:
			it.blockData = it.blockData[1:]
			it.waitCheck = append(it.waitCheck, head)
			return
		case checkpointMismatch:
			it.log.Printf("syncengine: skip-node hash mismatch for %s at ledger %d (last %d): %v", it.tableName, head.LedgerSeq, head.LastLedgerSeq, err)
			it.blockData = nil
			it.state = StateReInit
			return
		}

		it.wholeData = append(it.wholeData, head)
		it.blockData = it.blockData[1:]
		watermark = head.LedgerSeq
		if head.Seekstop {
			break
		}
	}
}

// drainWaitCheck retries validation for frames parked pending their
// skip node's arrival, at the top of every Tick (spec §4.7 "wait-check
// queue"), so a skip node fetched on one table's behalf unblocks every
// frame waiting on it without a dedicated poll loop.
func (it *Item) drainWaitCheck(ctx context.Context) {
	if len(it.waitCheck) == 0 {
		return
	}
	pending := it.waitCheck
	it.waitCheck = nil
	for _, frame := range pending {
		switch result, err := it.verifyCheckpoint(ctx, frame); result {
		case checkpointVerified:
			it.blockData = append(it.blockData, frame)
		case checkpointMismatch:
			it.log.Printf("syncengine: skip-node hash mismatch for %s at ledger %d (last %d): %v", it.tableName, frame.LedgerSeq, frame.LastLedgerSeq, err)
			it.state = StateReInit
			it.waitCheck = nil
			return
		default:
			it.waitCheck = append(it.waitCheck, frame)
		}
	}
	if len(it.blockData) > 0 {
		slices.SortFunc(it.blockData, func(a, b wire.TableData) bool { return a.LedgerSeq < b.LedgerSeq })
		it.promoteContiguous(ctx)
	}
}

// GetRightRequestRange walks the block-data queue looking for the next
// hole to fill (spec §4.7). iBegin is the item's own watermark,
// u32SeqLedger.
func (it *Item) GetRightRequestRange(validatedLedgerIndex uint32) (start uint32, hash ledger.Hash256, stop uint32, lastTxChange uint32) {
	it.mu.Lock()
	defer it.mu.Unlock()

	iBegin := it.u32SeqLedger
	cursorHash := it.lastLedgerHash
	cursorTxChange := it.lastTxChange

	for _, frame := range it.blockData {
		if frame.LastLedgerSeq != iBegin {
			return iBegin, cursorHash, frame.LedgerSeq - 1, cursorTxChange
		}
		if frame.Seekstop {
			return iBegin, cursorHash, frame.LedgerSeq, cursorTxChange
		}
		iBegin = frame.LedgerSeq
		cursorHash = frame.LedgerHash
	}

	nextBoundary := ((iBegin / SkipLedgerBoundary) + 1) * SkipLedgerBoundary
	stop = nextBoundary
	if validatedLedgerIndex < stop {
		stop = validatedLedgerIndex
	}
	return iBegin, cursorHash, stop, cursorTxChange
}

// drainWholeData is the operate-SQL worker (spec §4.7): applies each
// whole-data frame's transactions inside one DB transaction per tx,
// recording TxnUpdateHash after each so a crash mid-frame resumes
// exactly after the last applied tx.
func (it *Item) drainWholeData(ctx context.Context) {
	for {
		it.mu.Lock()
		if len(it.wholeData) == 0 {
			it.mu.Unlock()
			return
		}
		frame := it.wholeData[0]
		it.wholeData = it.wholeData[1:]
		it.mu.Unlock()

		if err := it.applyFrame(ctx, frame); err != nil {
			it.log.Printf("syncengine: apply frame for %s: %v", it.tableName, err)
			return
		}
	}
}

func (it *Item) applyFrame(ctx context.Context, frame wire.TableData) error {
	if frame.IsEndOfRange() {
		it.mu.Lock()
		it.u32SeqLedger = frame.LedgerSeq
		it.lastLedgerHash = frame.LedgerHash
		it.mu.Unlock()
		return it.store.UpdateProgress(ctx, it.nameInDB, frame.LedgerSeq, frame.LedgerHash)
	}

	for _, raw := range frame.TxNodes {
		t, err := decodeTxNode(raw)
		if err != nil {
			return fmt.Errorf("syncengine: decode tx node: %w", err)
		}
		if err := it.applier.ApplyTx(ctx, t, translate.Options{}); err != nil {
			return err
		}
		if err := it.store.UpdateTxnUpdateHash(ctx, it.nameInDB, t.Hash); err != nil {
			return err
		}

		switch t.OpType {
		case ledger.OpDropTable:
			if err := it.store.UpdateDeleted(ctx, it.nameInDB, true); err != nil {
				return fmt.Errorf("syncengine: tombstone %s: %w", it.tableName, err)
			}
			it.mu.Lock()
			it.state = StateDeleted
			it.mu.Unlock()
		case ledger.OpRenameTable:
			if len(t.Tables) > 0 && t.Tables[0].TableName != "" {
				if err := it.store.RenameRecord(ctx, it.nameInDB, t.Tables[0].TableName); err != nil {
					return fmt.Errorf("syncengine: rename %s: %w", it.tableName, err)
				}
				it.mu.Lock()
				it.tableName = t.Tables[0].TableName
				it.mu.Unlock()
			}
		}
	}

	it.mu.Lock()
	it.u32SeqLedger = frame.LedgerSeq
	it.lastLedgerHash = frame.LedgerHash
	it.lastTxChange = frame.LedgerSeq
	it.mu.Unlock()
	return it.store.UpdateConfirm(ctx, it.nameInDB, frame.LedgerSeq, frame.LedgerCheckHash, frame.LedgerSeq, frame.LedgerHash)
}

// StopSync transitions the item to Stop, draining any remaining
// whole-data frames with one final operate_sql pass (spec §5).
func (it *Item) StopSync(ctx context.Context) bool {
	it.mu.Lock()
	it.state = StateStop
	it.mu.Unlock()

	it.operateSQL.Trigger(ctx)
	done := make(chan struct{})
	go func() {
		it.operateSQL.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

var timeNow = time.Now
