package syncengine

import (
	"context"
	"testing"

	"pgregory.net/rapid"

	"github.com/cherry-wb/tablereplica/wire"
)

// TestIngestReconstitutesRangeUnderAnyArrivalOrder is spec §8 property 4:
// a contiguous chain of frames promotes into wholeData in ledger order
// no matter what order they arrive in.
func TestIngestReconstitutesRangeUnderAnyArrivalOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "n")
		watermark := uint32(rapid.IntRange(0, 1000).Draw(t, "watermark"))

		chain := make([]wire.TableData, n)
		prev := watermark
		for i := 0; i < n; i++ {
			seq := prev + uint32(rapid.IntRange(1, 5).Draw(t, "gap"))
			chain[i] = wire.TableData{LastLedgerSeq: prev, LedgerSeq: seq}
			prev = seq
		}

		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		for i := n - 1; i > 0; i-- {
			j := rapid.IntRange(0, i).Draw(t, "swap")
			order[i], order[j] = order[j], order[i]
		}

		it := &Item{u32SeqLedger: watermark}
		ctx := context.Background()
		for _, idx := range order {
			it.ingestLocked(ctx, chain[idx])
		}

		if len(it.blockData) != 0 {
			t.Fatalf("blockData not fully drained: %d frames left", len(it.blockData))
		}
		if len(it.wholeData) != n {
			t.Fatalf("wholeData has %d frames, want %d", len(it.wholeData), n)
		}
		for i, frame := range it.wholeData {
			if frame.LedgerSeq != chain[i].LedgerSeq {
				t.Fatalf("wholeData[%d].LedgerSeq = %d, want %d (out of order)", i, frame.LedgerSeq, chain[i].LedgerSeq)
			}
		}
	})
}
