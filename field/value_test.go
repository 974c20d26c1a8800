package field

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValueVariantAccessors(t *testing.T) {
	v := NewInt32(42)
	assert.True(t, v.IsNumeric())
	assert.False(t, v.IsString())
	i, ok := v.Int32()
	assert.True(t, ok)
	assert.Equal(t, int32(42), i)

	_, ok = v.Int64()
	assert.False(t, ok)
}

func TestValueEqualPreservesVariant(t *testing.T) {
	a := NewString("x")
	b := NewVarchar("x")
	assert.False(t, a.Equal(b), "equal payload but different variant must not compare equal")

	c := NewDecimal(decimal.NewFromInt(10), 2)
	d := NewDecimal(decimal.NewFromInt(10), 0)
	assert.True(t, c.Equal(d), "declared precision does not participate in equality")
}

func TestParseKindCaseInsensitive(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Kind
	}{
		{"INT", KindInt32},
		{"Float", KindFloat32},
		{"DOUBLE", KindFloat64},
		{"varchar", KindVarchar},
		{"Blob", KindBlob},
		{"DateTime", KindDatetime},
		{"decimal", KindDecimal},
		{"text", KindText},
	} {
		got, ok := ParseKind(tc.in)
		assert.True(t, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, ok := ParseKind("bogus")
	assert.False(t, ok)
}
