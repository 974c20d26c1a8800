package sqlbuilder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cherry-wb/tablereplica/field"
)

var (
	// ErrNoTable is returned when a statement that requires a table
	// target has none registered.
	ErrNoTable = errors.New("sqlbuilder: no table registered")
	// ErrNoFields is returned for INSERT/CREATE statements with no
	// registered columns.
	ErrNoFields = errors.New("sqlbuilder: no fields registered")
)

// Builder accumulates a single statement's table, fields, and
// condition, then renders it for one of two audiences: AsString (no
// parameters, values inlined — logging and the RPC read path only)
// or ParamSQL/ExecSQL (parameterized, values bound positionally).
type Builder struct {
	dialect Dialect
	kind    Kind
	tables  []string
	fields  []field.Column
	cond    Condition
}

func New(dialect Dialect, kind Kind) *Builder {
	return &Builder{dialect: dialect, kind: kind}
}

func (b *Builder) AddTable(name string) *Builder {
	b.tables = append(b.tables, name)
	return b
}

func (b *Builder) AddField(col field.Column) *Builder {
	b.fields = append(b.fields, col)
	return b
}

func (b *Builder) AddCondition(group AndGroup) *Builder {
	b.cond = append(b.cond, group)
	return b
}

func (b *Builder) Clear() {
	b.tables = nil
	b.fields = nil
	b.cond = nil
}

func (b *Builder) Kind() Kind { return b.kind }

func (b *Builder) table() (string, error) {
	if len(b.tables) == 0 {
		return "", ErrNoTable
	}
	return b.tables[0], nil
}

// renderCondition renders "(a=x AND b=y) OR (c=z)" inlining literal
// values; used by AsString and by the diagnostic placeholder variant.
func renderCondition(cond Condition) string {
	if len(cond) == 0 {
		return ""
	}
	groups := make([]string, 0, len(cond))
	for _, and := range cond {
		parts := make([]string, 0, len(and))
		for _, col := range and {
			parts = append(parts, col.Name+"="+literal(col.Value))
		}
		groups = append(groups, "("+strings.Join(parts, " AND ")+")")
	}
	return strings.Join(groups, " OR ")
}

// placeholderText renders the contractual ":i" positional placeholder
// text (spec §4.2 INSERT rule). This is a diagnostic/documentation
// form; for driver execution ParamSQL emits the "?" token directly.
func placeholderText(i int) string {
	return ":" + strconv.Itoa(i)
}

// AsString renders the statement with values inlined — no parameters.
// Intended for logging and the RPC read path only: string values are
// inlined without escaping, so the text is open to SQL injection for
// untrusted input.
func (b *Builder) AsString() (string, error) {
	table, err := b.table()
	if err != nil && b.kind != RenameTable {
		return "", err
	}

	switch b.kind {
	case CreateTable:
		return b.renderCreateTable(table)
	case DropTable:
		return fmt.Sprintf("DROP TABLE IF EXISTS %s", table), nil
	case RenameTable:
		if len(b.tables) < 2 {
			return "", fmt.Errorf("sqlbuilder: RENAME TABLE requires two table names")
		}
		return fmt.Sprintf("RENAME TABLE %s TO %s", b.tables[0], b.tables[1]), nil
	case Insert:
		return b.renderInsert(table)
	case Update:
		return b.renderUpdate(table)
	case Delete:
		return b.renderDelete(table)
	case Select:
		return b.renderSelect(table)
	case Grant, Revoke:
		return "", nil
	default:
		return "", fmt.Errorf("sqlbuilder: unknown statement kind %d", b.kind)
	}
}

func (b *Builder) renderCreateTable(table string) (string, error) {
	if len(b.fields) == 0 {
		return "", ErrNoFields
	}
	defs := make([]string, 0, len(b.fields))
	for _, col := range b.fields {
		defs = append(defs, columnDef(b.dialect, col))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", ")), nil
}

func (b *Builder) renderInsert(table string) (string, error) {
	if len(b.fields) == 0 {
		return "", ErrNoFields
	}
	cols := make([]string, 0, len(b.fields))
	vals := make([]string, 0, len(b.fields))
	for _, col := range b.fields {
		cols = append(cols, col.Name)
		vals = append(vals, literal(col.Value))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ","), strings.Join(vals, ",")), nil
}

func (b *Builder) renderUpdate(table string) (string, error) {
	if len(b.fields) == 0 {
		return "", ErrNoFields
	}
	sets := make([]string, 0, len(b.fields))
	for _, col := range b.fields {
		sets = append(sets, col.Name+"="+literal(col.Value))
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s", table, strings.Join(sets, ", "))
	if cond := renderCondition(b.cond); cond != "" {
		stmt += " WHERE " + cond
	}
	return stmt, nil
}

func (b *Builder) renderDelete(table string) (string, error) {
	stmt := fmt.Sprintf("DELETE FROM %s", table)
	if cond := renderCondition(b.cond); cond != "" {
		stmt += " WHERE " + cond
	}
	return stmt, nil
}

func (b *Builder) renderSelect(table string) (string, error) {
	cols := "*"
	if len(b.fields) > 0 {
		names := make([]string, 0, len(b.fields))
		for _, col := range b.fields {
			names = append(names, col.Name)
		}
		cols = strings.Join(names, ",")
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s", cols, table)
	if cond := renderCondition(b.cond); cond != "" {
		stmt += " WHERE " + cond
	}
	return stmt, nil
}

// ParamSQL renders the statement for parameterized execution: the
// returned text uses the driver's native "?" placeholder (both sqlite
// and mysql Go drivers expect "?"), and args holds the bind values in
// the same order.
func (b *Builder) ParamSQL() (string, []any, error) {
	table, err := b.table()
	if err != nil && b.kind != RenameTable {
		return "", nil, err
	}

	switch b.kind {
	case CreateTable, DropTable, RenameTable, Grant, Revoke:
		// No user values to bind; these reduce to the inlined form.
		text, err := b.AsString()
		return text, nil, err
	case Insert:
		return b.paramInsert(table)
	case Update:
		return b.paramUpdate(table)
	case Delete:
		return b.paramDelete(table)
	case Select:
		return b.paramSelect(table)
	default:
		return "", nil, fmt.Errorf("sqlbuilder: unknown statement kind %d", b.kind)
	}
}

func (b *Builder) paramInsert(table string) (string, []any, error) {
	if len(b.fields) == 0 {
		return "", nil, ErrNoFields
	}
	cols := make([]string, 0, len(b.fields))
	marks := make([]string, 0, len(b.fields))
	args := make([]any, 0, len(b.fields))
	for _, col := range b.fields {
		cols = append(cols, col.Name)
		marks = append(marks, "?")
		args = append(args, col.Value.Interface())
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ","), strings.Join(marks, ","))
	return stmt, args, nil
}

func (b *Builder) paramUpdate(table string) (string, []any, error) {
	if len(b.fields) == 0 {
		return "", nil, ErrNoFields
	}
	sets := make([]string, 0, len(b.fields))
	args := make([]any, 0, len(b.fields)+len(b.cond))
	for _, col := range b.fields {
		sets = append(sets, col.Name+"=?")
		args = append(args, col.Value.Interface())
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s", table, strings.Join(sets, ", "))
	if condText, condArgs := paramCondition(b.cond); condText != "" {
		stmt += " WHERE " + condText
		for _, c := range condArgs {
			args = append(args, c.Value.Interface())
		}
	}
	return stmt, args, nil
}

func (b *Builder) paramDelete(table string) (string, []any, error) {
	stmt := fmt.Sprintf("DELETE FROM %s", table)
	var args []any
	if condText, condArgs := paramCondition(b.cond); condText != "" {
		stmt += " WHERE " + condText
		for _, c := range condArgs {
			args = append(args, c.Value.Interface())
		}
	}
	return stmt, args, nil
}

func (b *Builder) paramSelect(table string) (string, []any, error) {
	cols := "*"
	if len(b.fields) > 0 {
		names := make([]string, 0, len(b.fields))
		for _, col := range b.fields {
			names = append(names, col.Name)
		}
		cols = strings.Join(names, ",")
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s", cols, table)
	var args []any
	if condText, condArgs := paramCondition(b.cond); condText != "" {
		stmt += " WHERE " + condText
		for _, c := range condArgs {
			args = append(args, c.Value.Interface())
		}
	}
	return stmt, args, nil
}

func paramCondition(cond Condition) (string, []field.Column) {
	if len(cond) == 0 {
		return "", nil
	}
	var args []field.Column
	groups := make([]string, 0, len(cond))
	for _, and := range cond {
		parts := make([]string, 0, len(and))
		for _, col := range and {
			parts = append(parts, col.Name+"=?")
			args = append(args, col)
		}
		groups = append(groups, "("+strings.Join(parts, " AND ")+")")
	}
	return strings.Join(groups, " OR "), args
}

// DiagnosticSQL renders the statement with the contractual ":i"
// positional placeholder text from spec §4.2 ("column i binds to
// positional placeholder :i"). It is never executed directly — actual
// driver execution goes through ParamSQL/ExecSQL, which emit the
// driver-native "?" token.
func (b *Builder) DiagnosticSQL() (string, error) {
	table, err := b.table()
	if err != nil && b.kind != RenameTable {
		return "", err
	}
	if b.kind != Insert {
		return b.AsString()
	}
	if len(b.fields) == 0 {
		return "", ErrNoFields
	}
	cols := make([]string, 0, len(b.fields))
	marks := make([]string, 0, len(b.fields))
	for i, col := range b.fields {
		cols = append(cols, col.Name)
		marks = append(marks, placeholderText(i+1))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ","), strings.Join(marks, ",")), nil
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ExecSQL renders the statement in parameterized form and executes it
// against the given connection/transaction.
func (b *Builder) ExecSQL(ctx context.Context, ex Execer) (sql.Result, error) {
	text, args, err := b.ParamSQL()
	if err != nil {
		return nil, err
	}
	return ex.ExecContext(ctx, text, args...)
}
