// Package rpc implements the three read/submit handlers spec §6 names
// as this subsystem's external RPC surface. The request-admission,
// signing, and transport machinery those handlers sit behind are out
// of scope (spec §1); this package only covers the table-specific
// handler bodies.
package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cherry-wb/tablereplica/field"
	"github.com/cherry-wb/tablereplica/ledger"
	"github.com/cherry-wb/tablereplica/sqlbuilder"
)

// TxSubmitter is the named collaborator that turns a constructed
// CreateTable transaction into a signed, admitted ledger submission —
// owned by the consensus/ledger core, not this subsystem.
type TxSubmitter interface {
	Submit(ctx context.Context, t ledger.Tx) (ledger.Hash256, error)
}

// RawReader loads the Raw payload bytes for t_create's CreateTable
// request from wherever the caller staged them (spec §6: "whose Raw
// payload is read from a file and hex-encoded").
type RawReader interface {
	ReadRaw(ctx context.Context, path string) ([]byte, error)
}

// Queryer runs a parameterized SELECT and marshals rows to the
// {lines: [row, ...]} shape r_get's response carries (spec §6).
type Queryer interface {
	Query(ctx context.Context, sqlText string, args []any, columns []string) (RGetResult, error)
}

// Handlers bundles the collaborators the three RPC bodies need.
type Handlers struct {
	Submitter TxSubmitter
	RawReader RawReader
	Queryer   Queryer
	Source    ledger.Source
}

// TCreateParams is t_create's request shape.
type TCreateParams struct {
	Owner      ledger.AccountID
	TableName  string
	RawFile    string
	AutoFill   string
}

// TCreate submits a CreateTable transaction whose Raw payload is read
// from a file and hex-encoded (spec §6).
func TCreate(ctx context.Context, h Handlers, p TCreateParams) (ledger.Hash256, error) {
	raw, err := h.RawReader.ReadRaw(ctx, p.RawFile)
	if err != nil {
		return ledger.Hash256{}, fmt.Errorf("rpc: t_create: read %s: %w", p.RawFile, err)
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return ledger.Hash256{}, fmt.Errorf("rpc: t_create: %s is not a JSON array: %w", p.RawFile, err)
	}

	t := ledger.Tx{
		Opcode:        ledger.OpcodeTableListSet,
		OpType:        ledger.OpCreateTable,
		Account:       p.Owner,
		Tables:        []ledger.TableRef{{TableName: p.TableName}},
		Raw:           []byte(hex.EncodeToString(raw)),
		AutoFillField: p.AutoFill,
	}
	return h.Submitter.Submit(ctx, t)
}

// RGetParams is r_get's request shape: {Owner, Tables:[{Table:
// {TableName}}], Raw: "[[col,…],{cond:val,…},…]"}.
type RGetParams struct {
	Owner     ledger.AccountID
	TableName string
	NameInDB  ledger.NameInDB
	Raw       string // JSON: [ [col,...], {cond:val,...}, ... ]
}

// RGetResult carries the matched rows, one JSON object per line.
type RGetResult struct {
	Lines []map[string]any
}

// RGet builds the SELECT directly with sqlbuilder (the translator has
// no SELECT mode) and runs it through the Queryer (spec §6, §2 "read
// path").
func RGet(ctx context.Context, dialect sqlbuilder.Dialect, h Handlers, p RGetParams) (RGetResult, error) {
	var parsed []json.RawMessage
	if err := json.Unmarshal([]byte(p.Raw), &parsed); err != nil {
		return RGetResult{}, fmt.Errorf("rpc: r_get: malformed Raw: %w", err)
	}
	if len(parsed) == 0 {
		return RGetResult{}, fmt.Errorf("rpc: r_get: Raw must name at least the projected columns")
	}

	var cols []string
	if err := json.Unmarshal(parsed[0], &cols); err != nil {
		return RGetResult{}, fmt.Errorf("rpc: r_get: first Raw element must be a column-name array: %w", err)
	}

	physical := p.NameInDB.PhysicalTableName()
	b := sqlbuilder.New(dialect, sqlbuilder.Select).AddTable(physical)
	for _, c := range cols {
		b.AddField(field.NewColumn(c, field.NewVarchar("")))
	}
	for _, rawGroup := range parsed[1:] {
		group, err := decodeAndGroup(rawGroup)
		if err != nil {
			return RGetResult{}, err
		}
		b.AddCondition(group)
	}

	text, args, err := b.ParamSQL()
	if err != nil {
		return RGetResult{}, fmt.Errorf("rpc: r_get: %w", err)
	}
	return h.Queryer.Query(ctx, text, args, cols)
}

// GDbNameParams is g_dbname's request shape.
type GDbNameParams struct {
	Owner             ledger.AccountID
	TableName         string
	CreationLedgerSeq uint32
}

// GDbName computes the nameInDB for (owner, tableName) from the
// creation ledger sequence (spec §6); it does not look up an existing
// table entry.
func GDbName(p GDbNameParams) ledger.NameInDB {
	return ledger.ComputeNameInDB(p.CreationLedgerSeq, p.Owner, p.TableName)
}

func decodeAndGroup(raw json.RawMessage) (sqlbuilder.AndGroup, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("rpc: r_get: condition element is not an object: %w", err)
	}
	// Condition ordering within one AND group matters for the emitted
	// SQL (spec §3). This decoder reads each element into a Go map, so
	// the columns of a multi-key condition object come out in map
	// iteration order, not source order; translate's Update/Delete
	// decoding keeps source order, this one does not.
	group := make(sqlbuilder.AndGroup, 0, len(obj))
	for k, v := range obj {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			group = append(group, field.NewColumn(k, field.NewVarchar(s)))
			continue
		}
		var i int64
		if err := json.Unmarshal(v, &i); err == nil {
			group = append(group, field.NewColumn(k, field.NewInt64(i)))
			continue
		}
		return nil, fmt.Errorf("rpc: r_get: unsupported condition value for %q", k)
	}
	return group, nil
}
