package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeNameInDBDeterministic(t *testing.T) {
	var owner AccountID
	copy(owner[:], []byte("01234567890123456789"))

	a := ComputeNameInDB(100, owner, "Orders")
	b := ComputeNameInDB(100, owner, "Orders")
	assert.Equal(t, a, b)

	c := ComputeNameInDB(101, owner, "Orders")
	assert.NotEqual(t, a, c, "different creation ledger seq must not collide")

	assert.Equal(t, "t_"+a.String(), a.PhysicalTableName())
}

func TestAccountBase58RoundTrip(t *testing.T) {
	var owner AccountID
	copy(owner[:], []byte("abcdefghijklmnopqrst"))

	encoded := owner.Base58()
	decoded, err := ParseAccountBase58(encoded)
	assert.NoError(t, err)
	assert.Equal(t, owner, decoded)
}

func TestRoleFlagForOpType(t *testing.T) {
	flag, ok := RoleFlagForOpType(OpInsert)
	assert.True(t, ok)
	assert.Equal(t, FlagInsert, flag)

	_, ok = RoleFlagForOpType(OpCreateTable)
	assert.False(t, ok, "CreateTable is not a row operation and has no role flag")
}
