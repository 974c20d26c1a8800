// Package field implements the tagged value model shared by the SQL
// builder, translator, and status store. It is the only package that
// knows the concrete variant of a column's value; every other package
// manipulates field.Value and field.Column by Kind, never by string.
package field

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind identifies a FieldValue variant.
type Kind int

const (
	KindInt32 Kind = iota
	KindInt64
	KindFloat32
	KindFloat64
	KindDecimal
	KindString
	KindVarchar
	KindText
	KindBlob
	KindDatetime
)

func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	case KindVarchar:
		return "varchar"
	case KindText:
		return "text"
	case KindBlob:
		return "blob"
	case KindDatetime:
		return "datetime"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the column value variants this
// subsystem understands. The zero Value is not meaningful; always
// construct through one of the New* functions.
type Value struct {
	kind Kind

	i32 int32
	i64 int64
	f32 float32
	f64 float64
	dec decimal.Decimal

	// decPrec is the declared precision for the decimal variant; zero
	// means "use the dialect default".
	decPrec int

	str  string
	blob []byte

	// datetime holds a 64-bit epoch value, reused for KindDatetime.
	datetime int64
}

func NewInt32(v int32) Value         { return Value{kind: KindInt32, i32: v} }
func NewInt64(v int64) Value         { return Value{kind: KindInt64, i64: v} }
func NewFloat32(v float32) Value     { return Value{kind: KindFloat32, f32: v} }
func NewFloat64(v float64) Value     { return Value{kind: KindFloat64, f64: v} }
func NewString(v string) Value       { return Value{kind: KindString, str: v} }
func NewVarchar(v string) Value      { return Value{kind: KindVarchar, str: v} }
func NewText(v string) Value         { return Value{kind: KindText, str: v} }
func NewBlob(v []byte) Value         { return Value{kind: KindBlob, blob: append([]byte(nil), v...)} }
func NewDatetime(epoch int64) Value  { return Value{kind: KindDatetime, datetime: epoch} }

// NewDecimal constructs a decimal variant with optional declared
// precision (0 means dialect default).
func NewDecimal(v decimal.Decimal, precision int) Value {
	return Value{kind: KindDecimal, dec: v, decPrec: precision}
}

// ZeroDecimal is the additive identity, used as the placeholder payload
// when a CreateTable column declaration carries no literal value.
func ZeroDecimal() decimal.Decimal { return decimal.Zero }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNumeric() bool {
	switch v.kind {
	case KindInt32, KindInt64, KindFloat32, KindFloat64, KindDecimal:
		return true
	default:
		return false
	}
}

func (v Value) IsString() bool {
	switch v.kind {
	case KindString, KindVarchar, KindText:
		return true
	default:
		return false
	}
}

func (v Value) IsBlob() bool     { return v.kind == KindBlob }
func (v Value) IsDatetime() bool { return v.kind == KindDatetime }

// Int32 returns the int32 payload and whether the variant matched.
func (v Value) Int32() (int32, bool) {
	if v.kind != KindInt32 {
		return 0, false
	}
	return v.i32, true
}

func (v Value) Int64() (int64, bool) {
	if v.kind != KindInt64 {
		return 0, false
	}
	return v.i64, true
}

func (v Value) Float32() (float32, bool) {
	if v.kind != KindFloat32 {
		return 0, false
	}
	return v.f32, true
}

func (v Value) Float64() (float64, bool) {
	if v.kind != KindFloat64 {
		return 0, false
	}
	return v.f64, true
}

func (v Value) Decimal() (decimal.Decimal, int, bool) {
	if v.kind != KindDecimal {
		return decimal.Decimal{}, 0, false
	}
	return v.dec, v.decPrec, true
}

// String returns the textual payload for the string/varchar/text
// variants.
func (v Value) String() (string, bool) {
	if !v.IsString() {
		return "", false
	}
	return v.str, true
}

func (v Value) Blob() ([]byte, bool) {
	if v.kind != KindBlob {
		return nil, false
	}
	return v.blob, true
}

func (v Value) Datetime() (int64, bool) {
	if v.kind != KindDatetime {
		return 0, false
	}
	return v.datetime, true
}

// Interface returns the Go value backing this variant, suitable for
// passing to database/sql as a bind parameter.
func (v Value) Interface() any {
	switch v.kind {
	case KindInt32:
		return v.i32
	case KindInt64:
		return v.i64
	case KindFloat32:
		return v.f32
	case KindFloat64:
		return v.f64
	case KindDecimal:
		return v.dec.String()
	case KindString, KindVarchar, KindText:
		return v.str
	case KindBlob:
		return v.blob
	case KindDatetime:
		return v.datetime
	default:
		return nil
	}
}

// Equal reports whether two values carry the same variant and payload.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindInt32:
		return v.i32 == other.i32
	case KindInt64:
		return v.i64 == other.i64
	case KindFloat32:
		return v.f32 == other.f32
	case KindFloat64:
		return v.f64 == other.f64
	case KindDecimal:
		return v.dec.Equal(other.dec)
	case KindString, KindVarchar, KindText:
		return v.str == other.str
	case KindBlob:
		return string(v.blob) == string(other.blob)
	case KindDatetime:
		return v.datetime == other.datetime
	default:
		return false
	}
}

func (v Value) GoString() string {
	return fmt.Sprintf("field.Value{kind:%s, val:%v}", v.kind, v.Interface())
}

// ParseKind maps a CreateTable payload's case-insensitive type string
// to a Kind, per the fixed opcode type vocabulary in spec §4.3.
func ParseKind(typeName string) (Kind, bool) {
	switch normalizeTypeName(typeName) {
	case "int":
		return KindInt32, true
	case "int64":
		return KindInt64, true
	case "float":
		return KindFloat32, true
	case "double":
		return KindFloat64, true
	case "decimal":
		return KindDecimal, true
	case "text":
		return KindText, true
	case "varchar":
		return KindVarchar, true
	case "blob":
		return KindBlob, true
	case "datetime":
		return KindDatetime, true
	case "string":
		return KindString, true
	default:
		return 0, false
	}
}

func normalizeTypeName(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
