package statusstore

import (
	"encoding/hex"
	"fmt"

	"github.com/cherry-wb/tablereplica/ledger"
)

func parseHash(s string) (ledger.Hash256, error) {
	var h ledger.Hash256
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("statusstore: bad hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("statusstore: hash %q has wrong length", s)
	}
	copy(h[:], b)
	return h, nil
}

func parseNameInDB(s string) (ledger.NameInDB, error) {
	var n ledger.NameInDB
	b, err := hex.DecodeString(s)
	if err != nil {
		return n, fmt.Errorf("statusstore: bad nameInDB %q: %w", s, err)
	}
	if len(b) != len(n) {
		return n, fmt.Errorf("statusstore: nameInDB %q has wrong length", s)
	}
	copy(n[:], b)
	return n, nil
}
