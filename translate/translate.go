// Package translate implements the deterministic mapping from a
// committed ledger transaction's opcode + raw JSON payload into one or
// more sqlbuilder.Builder invocations (spec §4.3).
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cherry-wb/tablereplica/errs"
	"github.com/cherry-wb/tablereplica/field"
	"github.com/cherry-wb/tablereplica/ledger"
	"github.com/cherry-wb/tablereplica/sqlbuilder"
)

// InfoSchemaChecker verifies a column exists before AutoFillField
// binds to it. Required only on the mysql path (spec §4.3); sqlite
// has no equivalent catalog query defined by the spec.
type InfoSchemaChecker interface {
	ColumnExists(ctx context.Context, table, column string) (bool, error)
}

// ErrHandledByCaller is returned for RenameTable/Grant/Revoke: these
// opcodes affect ledger-level table metadata, not the replicated SQL
// table, and the translator does not emit SQL for them (spec §4.3).
// The caller (replay item / sync item) is responsible for updating the
// status store directly.
var ErrHandledByCaller = fmt.Errorf("translate: opcode handled by caller, not the translator")

// Statement pairs a builder with its physical table target, useful for
// logging without re-deriving the table name.
type Statement struct {
	Builder *sqlbuilder.Builder
	Table   string
}

// Result is the translator's output: the physical table touched and
// the ordered statements to run inside the enclosing DB transaction.
type Result struct {
	PhysicalTable string
	Statements    []Statement
}

// ConcatenatedSQL renders every statement via AsString and joins them
// with ";" — the diagnostic form described in spec §4.3 ("Insert runs
// exec for each element in sequence and concatenates rendered SQL with
// ';' separators").
func (r Result) ConcatenatedSQL() (string, error) {
	parts := make([]string, 0, len(r.Statements))
	for _, s := range r.Statements {
		text, err := s.Builder.AsString()
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, ";"), nil
}

type Options struct {
	InfoSchema InfoSchemaChecker
}

// Translate is the translator's entry point (execute_sql in spec
// §4.3).
func Translate(ctx context.Context, dialect sqlbuilder.Dialect, tx ledger.Tx, opts Options) (Result, error) {
	if tx.Opcode != ledger.OpcodeTableListSet && tx.Opcode != ledger.OpcodeSqlStatement {
		return Result{}, errs.ErrMalformed
	}
	if len(tx.Tables) == 0 {
		return Result{}, fmt.Errorf("%w: empty Tables array", errs.ErrMalformed)
	}
	nameInDB := tx.Tables[0].NameInDB
	if nameInDB.IsZero() {
		return Result{}, fmt.Errorf("%w: zero NameInDB", errs.ErrMalformed)
	}
	physical := nameInDB.PhysicalTableName()

	switch tx.OpType {
	case ledger.OpRenameTable, ledger.OpGrant, ledger.OpRevoke:
		return Result{PhysicalTable: physical}, ErrHandledByCaller
	case ledger.OpDropTable:
		b := sqlbuilder.New(dialect, sqlbuilder.DropTable).AddTable(physical)
		return Result{PhysicalTable: physical, Statements: []Statement{{Builder: b, Table: physical}}}, nil
	case ledger.OpCreateTable:
		return translateCreateTable(dialect, physical, tx)
	case ledger.OpInsert:
		return translateInsert(ctx, dialect, physical, tx, opts)
	case ledger.OpUpdate:
		return translateUpdate(dialect, physical, tx)
	case ledger.OpDelete:
		return translateDelete(dialect, physical, tx)
	default:
		return Result{}, fmt.Errorf("%w: unknown OpType %d", errs.ErrMalformed, tx.OpType)
	}
}

// rawField is one key/value pair of a Raw JSON object, in source order.
// Determinism (spec §8 property 1, 6) and the "ordering within an AND
// group is preserved" invariant (spec §3) both require that column
// order survive JSON decoding — Go's map[string]T does not preserve
// insertion order, so raw objects are walked token-by-token instead.
type rawField struct {
	Key string
	Raw json.RawMessage
}

type rawObject []rawField

func (o rawObject) lookup(key string) (json.RawMessage, bool) {
	for _, f := range o {
		if f.Key == key {
			return f.Raw, true
		}
	}
	return nil, false
}

func decodeOrderedObject(raw json.RawMessage) (rawObject, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return nil, fmt.Errorf("not a JSON object")
	}
	var out rawObject
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("non-string object key")
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, err
		}
		out = append(out, rawField{Key: key, Raw: val})
	}
	if _, err := dec.Token(); err != nil { // consume closing '}'
		return nil, err
	}
	return out, nil
}

func decodeRawArray(raw []byte) ([]rawObject, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty Raw payload", errs.ErrMalformed)
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("%w: Raw is not a JSON array: %v", errs.ErrMalformed, err)
	}
	out := make([]rawObject, 0, len(elems))
	for _, e := range elems {
		obj, err := decodeOrderedObject(e)
		if err != nil {
			return nil, fmt.Errorf("%w: Raw element is not a JSON object: %v", errs.ErrMalformed, err)
		}
		out = append(out, obj)
	}
	return out, nil
}

func translateCreateTable(dialect sqlbuilder.Dialect, physical string, tx ledger.Tx) (Result, error) {
	rows, err := decodeRawArray(tx.Raw)
	if err != nil {
		return Result{}, err
	}
	b := sqlbuilder.New(dialect, sqlbuilder.CreateTable).AddTable(physical)
	for _, row := range rows {
		col, err := decodeCreateColumn(row)
		if err != nil {
			return Result{}, err
		}
		b.AddField(col)
	}
	return Result{PhysicalTable: physical, Statements: []Statement{{Builder: b, Table: physical}}}, nil
}

func decodeCreateColumn(row rawObject) (field.Column, error) {
	var name, typeName string
	if raw, ok := row.lookup("field"); ok {
		if err := json.Unmarshal(raw, &name); err != nil {
			return field.Column{}, fmt.Errorf("%w: field name: %v", errs.ErrMalformed, err)
		}
	}
	if name == "" {
		return field.Column{}, fmt.Errorf("%w: CreateTable column missing 'field'", errs.ErrMalformed)
	}
	if raw, ok := row.lookup("type"); ok {
		if err := json.Unmarshal(raw, &typeName); err != nil {
			return field.Column{}, fmt.Errorf("%w: type: %v", errs.ErrMalformed, err)
		}
	}
	kind, ok := field.ParseKind(typeName)
	if !ok {
		return field.Column{}, fmt.Errorf("%w: unknown column type %q", errs.ErrMalformed, typeName)
	}

	col := field.NewColumn(name, zeroValueForKind(kind))
	if _, ok := row.lookup("PK"); ok {
		col = col.WithFlag(field.FlagPK)
	}
	if _, ok := row.lookup("NN"); ok {
		col = col.WithFlag(field.FlagNotNull)
	}
	if _, ok := row.lookup("UQ"); ok {
		col = col.WithFlag(field.FlagUnique)
	}
	if _, ok := row.lookup("AI"); ok {
		col = col.WithFlag(field.FlagAutoIncrement)
	}
	if _, ok := row.lookup("index"); ok {
		col = col.WithFlag(field.FlagIndex)
	}
	if raw, ok := row.lookup("length"); ok {
		var length int
		if err := json.Unmarshal(raw, &length); err == nil {
			col = col.WithLength(length)
		}
	}
	if raw, ok := row.lookup("default"); ok {
		var lit string
		// The default value may be present as a JSON string or a bare
		// scalar; either way its source-text form is what gets
		// inlined into DEFAULT <v>.
		if err := json.Unmarshal(raw, &lit); err != nil {
			lit = strings.Trim(string(raw), `"`)
		}
		col = col.WithDefault(lit)
	}
	return col, nil
}

func zeroValueForKind(k field.Kind) field.Value {
	switch k {
	case field.KindInt32:
		return field.NewInt32(0)
	case field.KindInt64:
		return field.NewInt64(0)
	case field.KindFloat32:
		return field.NewFloat32(0)
	case field.KindFloat64:
		return field.NewFloat64(0)
	case field.KindDecimal:
		return field.NewDecimal(field.ZeroDecimal(), 0)
	case field.KindVarchar:
		return field.NewVarchar("")
	case field.KindText:
		return field.NewText("")
	case field.KindString:
		return field.NewString("")
	case field.KindBlob:
		return field.NewBlob(nil)
	case field.KindDatetime:
		return field.NewDatetime(0)
	default:
		return field.NewString("")
	}
}

// decodeScalar sniffs a JSON scalar's native type into a field.Value:
// numbers without a fractional/exponent part become int64, other
// numbers become float64, strings become varchar.
func decodeScalar(raw json.RawMessage) (field.Value, error) {
	trimmed := strings.TrimSpace(string(raw))
	if len(trimmed) == 0 {
		return field.Value{}, fmt.Errorf("%w: empty value", errs.ErrMalformed)
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return field.Value{}, fmt.Errorf("%w: %v", errs.ErrMalformed, err)
		}
		return field.NewVarchar(s), nil
	}
	if trimmed == "null" {
		return field.NewVarchar(""), nil
	}
	if !strings.ContainsAny(trimmed, ".eE") {
		var i int64
		if err := json.Unmarshal(raw, &i); err == nil {
			return field.NewInt64(i), nil
		}
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return field.Value{}, fmt.Errorf("%w: unsupported JSON value %s", errs.ErrMalformed, trimmed)
	}
	return field.NewFloat64(f), nil
}

func translateInsert(ctx context.Context, dialect sqlbuilder.Dialect, physical string, tx ledger.Tx, opts Options) (Result, error) {
	rows, err := decodeRawArray(tx.Raw)
	if err != nil {
		return Result{}, err
	}
	if tx.AutoFillField != "" && dialect.Name() == sqlbuilder.MySQL && opts.InfoSchema != nil {
		exists, err := opts.InfoSchema.ColumnExists(ctx, physical, tx.AutoFillField)
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", errs.CodeDialect, err)
		}
		if !exists {
			return Result{}, fmt.Errorf("%w: AutoFillField %q not present on %s", errs.ErrMalformed, tx.AutoFillField, physical)
		}
	}

	var statements []Statement
	for _, row := range rows {
		b := sqlbuilder.New(dialect, sqlbuilder.Insert).AddTable(physical)
		hasAutoFill := false
		for _, f := range row {
			v, err := decodeScalar(f.Raw)
			if err != nil {
				return Result{}, err
			}
			b.AddField(field.NewColumn(f.Key, v))
			if f.Key == tx.AutoFillField {
				hasAutoFill = true
			}
		}
		if tx.AutoFillField != "" && !hasAutoFill {
			b.AddField(field.NewColumn(tx.AutoFillField, field.NewVarchar(tx.Hash.String())))
		}
		statements = append(statements, Statement{Builder: b, Table: physical})
	}
	return Result{PhysicalTable: physical, Statements: statements}, nil
}

func translateUpdate(dialect sqlbuilder.Dialect, physical string, tx ledger.Tx) (Result, error) {
	rows, err := decodeRawArray(tx.Raw)
	if err != nil {
		return Result{}, err
	}
	if len(rows) == 0 {
		return Result{}, fmt.Errorf("%w: Update requires a SET element", errs.ErrMalformed)
	}
	b := sqlbuilder.New(dialect, sqlbuilder.Update).AddTable(physical)
	for _, f := range rows[0] {
		v, err := decodeScalar(f.Raw)
		if err != nil {
			return Result{}, err
		}
		b.AddField(field.NewColumn(f.Key, v))
	}
	for _, andRow := range rows[1:] {
		group := make(sqlbuilder.AndGroup, 0, len(andRow))
		for _, f := range andRow {
			v, err := decodeScalar(f.Raw)
			if err != nil {
				return Result{}, err
			}
			group = append(group, field.NewColumn(f.Key, v))
		}
		b.AddCondition(group)
	}
	return Result{PhysicalTable: physical, Statements: []Statement{{Builder: b, Table: physical}}}, nil
}

func translateDelete(dialect sqlbuilder.Dialect, physical string, tx ledger.Tx) (Result, error) {
	rows, err := decodeRawArray(tx.Raw)
	if err != nil {
		return Result{}, err
	}
	b := sqlbuilder.New(dialect, sqlbuilder.Delete).AddTable(physical)
	for _, andRow := range rows {
		group := make(sqlbuilder.AndGroup, 0, len(andRow))
		for _, f := range andRow {
			v, err := decodeScalar(f.Raw)
			if err != nil {
				return Result{}, err
			}
			group = append(group, field.NewColumn(f.Key, v))
		}
		b.AddCondition(group)
	}
	return Result{PhysicalTable: physical, Statements: []Statement{{Builder: b, Table: physical}}}, nil
}
