package rpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cherry-wb/tablereplica/ledger"
)

func TestGDbNameDeterministic(t *testing.T) {
	var owner ledger.AccountID
	copy(owner[:], []byte("ownerownerownerowner"))

	a := GDbName(GDbNameParams{Owner: owner, TableName: "Orders", CreationLedgerSeq: 42})
	b := GDbName(GDbNameParams{Owner: owner, TableName: "Orders", CreationLedgerSeq: 42})
	assert.Equal(t, a, b)
}

type fakeRawReader struct{ data []byte }

func (f fakeRawReader) ReadRaw(ctx context.Context, path string) ([]byte, error) { return f.data, nil }

type fakeSubmitter struct {
	got  ledger.Tx
	hash ledger.Hash256
}

func (f *fakeSubmitter) Submit(ctx context.Context, t ledger.Tx) (ledger.Hash256, error) {
	f.got = t
	return f.hash, nil
}

func TestTCreateHexEncodesRawFileContents(t *testing.T) {
	var owner ledger.AccountID
	sub := &fakeSubmitter{hash: ledger.Hash256{1}}
	h := Handlers{
		Submitter: sub,
		RawReader: fakeRawReader{data: []byte(`[{"field":"id","type":"int"}]`)},
	}

	hash, err := TCreate(context.Background(), h, TCreateParams{Owner: owner, TableName: "Orders", RawFile: "orders.json"})
	require.NoError(t, err)
	assert.Equal(t, sub.hash, hash)
	assert.Equal(t, ledger.OpCreateTable, sub.got.OpType)
	assert.Equal(t, "5b7b226669656c64223a226964222c2274797065223a22696e74227d5d", string(sub.got.Raw))
}
