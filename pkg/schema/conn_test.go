package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLiteralStyle_Literal(t *testing.T) {
	style := LiteralStyle{
		QuoteString: QuoteStandardString,
		QuoteBytes:  func(b []byte) string { return "X'" + string(b) + "'" },
		True:        "1",
		False:       "0",
	}

	assert.Equal(t, "NULL", style.Literal(nil))
	assert.Equal(t, "'O''Brien'", style.Literal("O'Brien"))
	assert.Equal(t, "1", style.Literal(true))
	assert.Equal(t, "0", style.Literal(false))
	assert.Equal(t, "42", style.Literal(42))
	assert.Equal(t, "-7", style.Literal(int64(-7)))
	assert.Equal(t, "3.5", style.Literal(3.5))
	assert.Equal(t, "X'ab'", style.Literal([]byte("ab")))
	assert.Equal(t, "'2024-01-02 03:04:05'", style.Literal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

	noBytes := LiteralStyle{QuoteString: QuoteStandardString}
	assert.Equal(t, "'ab'", noBytes.Literal([]byte("ab")))
}

func TestCatalogValueHelpers(t *testing.T) {
	assert.Equal(t, "", StringValue(nil))
	assert.Equal(t, "abc", StringValue([]byte("abc")))
	assert.Equal(t, "12", StringValue(int64(12)))

	assert.Nil(t, NullableString(nil))
	if s := NullableString("x"); assert.NotNil(t, s) {
		assert.Equal(t, "x", *s)
	}

	assert.True(t, BoolValue(true))
	assert.True(t, BoolValue(int64(1)))
	assert.True(t, BoolValue("YES"))
	assert.True(t, BoolValue([]byte("t")))
	assert.False(t, BoolValue("NO"))
	assert.False(t, BoolValue(nil))

	assert.Equal(t, int64(5), Int64Value(int32(5)))
	assert.Equal(t, int64(9), Int64Value([]byte("9")))
	assert.Equal(t, int64(0), Int64Value("nope"))
}

func TestStringListValue(t *testing.T) {
	assert.Nil(t, StringListValue(nil, ","))
	assert.Nil(t, StringListValue("", ","))
	assert.Equal(t, []string{"a", "b"}, StringListValue("a,b", ","))
	assert.Equal(t, []string{"a", "b"}, StringListValue([]any{"a", []byte("b")}, ","))
	assert.Equal(t, []string{"x"}, StringListValue([]string{"x"}, ","))
}
