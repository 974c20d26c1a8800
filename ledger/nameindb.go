package ledger

import (
	"strconv"

	"golang.org/x/crypto/ripemd160" //lint:ignore SA1019 ripemd160 is the contractual hash for NameInDB derivation
)

// ComputeNameInDB derives a table's stable on-disk/on-chain identifier:
// RIPEMD160(ascii(creationLedgerSeq) || base58(owner) || tableName).
// Deterministic in (seq, owner, tableName) across dialects and runs
// (spec §8 property 6).
func ComputeNameInDB(creationLedgerSeq uint32, owner AccountID, tableName string) NameInDB {
	h := ripemd160.New()
	h.Write([]byte(strconv.FormatUint(uint64(creationLedgerSeq), 10)))
	h.Write([]byte(owner.Base58()))
	h.Write([]byte(tableName))

	var out NameInDB
	copy(out[:], h.Sum(nil))
	return out
}
