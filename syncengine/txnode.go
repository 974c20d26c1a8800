package syncengine

import (
	"encoding/json"
	"fmt"

	"github.com/cherry-wb/tablereplica/ledger"
)

// decodeTxNode decodes one TableData.TxNodes element back into a
// ledger.Tx. The consensus core's on-the-wire transaction blob format
// is out of this subsystem's scope (spec §1); this subsystem only
// needs the transaction's translator-relevant fields once decoded, so
// peer frames here carry them JSON-encoded rather than in the binary
// serialization format the real overlay would use.
func decodeTxNode(raw []byte) (ledger.Tx, error) {
	var t ledger.Tx
	if err := json.Unmarshal(raw, &t); err != nil {
		return ledger.Tx{}, fmt.Errorf("syncengine: malformed tx node: %w", err)
	}
	return t, nil
}

func encodeTxNode(t ledger.Tx) ([]byte, error) {
	return json.Marshal(t)
}
