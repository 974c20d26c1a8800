package sqlbuilder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cherry-wb/tablereplica/field"
)

// Dialect is the capability set each concrete SQL dialect must
// implement. sqliteDialect and mysqlDialect below are the two
// implementations; no other component in this subsystem touches string type names
// directly.
type Dialect interface {
	Name() DialectName

	// ColumnType renders the SQL type for a column, honoring its
	// declared Length where the dialect supports a width suffix.
	ColumnType(col field.Column) string

	// AutoIncrementKeyword is "AUTOINCREMENT" (sqlite) or
	// "AUTO_INCREMENT" (mysql).
	AutoIncrementKeyword() string

	// SupportsIndexSuffix reports whether the dialect emits a
	// trailing INDEX flag suffix in CREATE TABLE (mysql only).
	SupportsIndexSuffix() bool
}

type sqliteDialect struct{}
type mysqlDialect struct{}

func NewDialect(name DialectName) Dialect {
	if name == MySQL {
		return mysqlDialect{}
	}
	return sqliteDialect{}
}

func (sqliteDialect) Name() DialectName { return SQLite }
func (mysqlDialect) Name() DialectName  { return MySQL }

func (sqliteDialect) AutoIncrementKeyword() string { return "AUTOINCREMENT" }
func (mysqlDialect) AutoIncrementKeyword() string   { return "AUTO_INCREMENT" }

func (sqliteDialect) SupportsIndexSuffix() bool { return false }
func (mysqlDialect) SupportsIndexSuffix() bool  { return true }

func (sqliteDialect) ColumnType(col field.Column) string {
	switch col.Value.Kind() {
	case field.KindInt32, field.KindInt64:
		return "INTEGER"
	case field.KindFloat32, field.KindFloat64, field.KindDecimal:
		return "REAL"
	case field.KindString, field.KindVarchar, field.KindText:
		return "TEXT"
	case field.KindBlob:
		return "BLOB"
	case field.KindDatetime:
		return "NUMERIC"
	default:
		return "TEXT"
	}
}

func (mysqlDialect) ColumnType(col field.Column) string {
	length := col.Length
	switch col.Value.Kind() {
	case field.KindInt32, field.KindInt64:
		if length > 0 {
			return fmt.Sprintf("INT(%d)", length)
		}
		return "INT"
	case field.KindFloat32:
		return "FLOAT"
	case field.KindFloat64:
		return "DOUBLE"
	case field.KindDecimal:
		if length > 0 {
			return fmt.Sprintf("DECIMAL(%d)", length)
		}
		return "DECIMAL"
	case field.KindVarchar:
		if length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", length)
		}
		return "VARCHAR(255)"
	case field.KindString, field.KindText:
		if length > 0 {
			return fmt.Sprintf("TEXT(%d)", length)
		}
		return "TEXT"
	case field.KindBlob:
		return "BLOB"
	case field.KindDatetime:
		return "datetime"
	default:
		return "TEXT"
	}
}

// literal renders a value as inlined SQL text per spec §4.2: strings
// and blobs are double-quoted with no escaping (diagnostics only —
// the inlined text is open to SQL injection); numeric variants render in
// C-locale; int64/datetime render as raw integers.
func literal(v field.Value) string {
	switch v.Kind() {
	case field.KindInt32:
		i, _ := v.Int32()
		return strconv.FormatInt(int64(i), 10)
	case field.KindInt64:
		i, _ := v.Int64()
		return strconv.FormatInt(i, 10)
	case field.KindFloat32:
		f, _ := v.Float32()
		return strconv.FormatFloat(float64(f), 'g', -1, 32)
	case field.KindFloat64:
		f, _ := v.Float64()
		return strconv.FormatFloat(f, 'g', -1, 64)
	case field.KindDecimal:
		d, _, _ := v.Decimal()
		return d.String()
	case field.KindString, field.KindVarchar, field.KindText:
		s, _ := v.String()
		return `"` + s + `"`
	case field.KindBlob:
		b, _ := v.Blob()
		return `"` + string(b) + `"`
	case field.KindDatetime:
		dt, _ := v.Datetime()
		return strconv.FormatInt(dt, 10)
	default:
		return "NULL"
	}
}

// defaultLiteral renders a column's DEFAULT suffix, collapsing the
// sentinel strings "null"/"nil"/"" (case-insensitive) to DEFAULT NULL.
func defaultLiteral(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "null", "nil", "":
		return "DEFAULT NULL"
	default:
		return "DEFAULT " + raw
	}
}

// flagSuffixes renders the CREATE TABLE column flag suffixes in
// contractual order: PRIMARY KEY, NOT NULL, UNIQUE,
// AUTOINCREMENT/AUTO_INCREMENT, INDEX (mysql only), DEFAULT <v>.
func flagSuffixes(d Dialect, col field.Column) []string {
	var suffixes []string
	if col.Has(field.FlagPK) {
		suffixes = append(suffixes, "PRIMARY KEY")
	}
	if col.Has(field.FlagNotNull) {
		suffixes = append(suffixes, "NOT NULL")
	}
	if col.Has(field.FlagUnique) {
		suffixes = append(suffixes, "UNIQUE")
	}
	if col.Has(field.FlagAutoIncrement) {
		suffixes = append(suffixes, d.AutoIncrementKeyword())
	}
	if col.Has(field.FlagIndex) && d.SupportsIndexSuffix() {
		suffixes = append(suffixes, "INDEX")
	}
	if col.Has(field.FlagHasDefault) {
		suffixes = append(suffixes, defaultLiteral(col.Default))
	}
	return suffixes
}

// columnDef renders "<name> <type> <suffix> <suffix> ..." with a
// trailing space, matching the teacher-observed on-the-wire format
// (spec §8 scenario a).
func columnDef(d Dialect, col field.Column) string {
	var b strings.Builder
	b.WriteString(col.Name)
	b.WriteByte(' ')
	b.WriteString(d.ColumnType(col))
	for _, s := range flagSuffixes(d, col) {
		b.WriteByte(' ')
		b.WriteString(s)
	}
	b.WriteByte(' ')
	return b.String()
}
