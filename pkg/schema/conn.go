package schema

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Conn is the engine connection the schema layer issues SQL through.
// Implementations live in the per-engine packages; transport, pooling and
// driver-level quoting are theirs.
type Conn interface {
	Quoter

	// EngineName returns the product name the connection reports, e.g.
	// "PostgreSQL", "MySQL" or "SQLite". Used for capability detection.
	EngineName() string

	// Execute runs a statement without modification.
	Execute(ctx context.Context, sql string) (*Result, error)

	// Query runs a catalog query with dialect-specific placeholders.
	Query(ctx context.Context, sql string, args ...any) (*Result, error)

	// Quote renders value as a SQL literal. column may be nil; when set the
	// engine may use its type to pick a rendering.
	Quote(value any, column *Column) string

	// Close releases the connection.
	Close() error
}

// Pinger is implemented by connections that can check their liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Result holds rows returned by Execute or Query.
type Result struct {
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	RowsAffected int64            `json:"rows_affected"`
}

// StringValue converts a scanned catalog value to a string.
// nil becomes "" and []byte is decoded as text.
func StringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// NullableString returns nil for a NULL value, otherwise a pointer to its text.
func NullableString(v any) *string {
	if v == nil {
		return nil
	}
	s := StringValue(v)
	return &s
}

// StringListValue converts a scanned array value to a string slice. Text
// values are split on sep; an empty text value yields nil.
func StringListValue(v any, sep string) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), t...)
	case []any:
		result := make([]string, 0, len(t))
		for _, item := range t {
			result = append(result, StringValue(item))
		}
		return result
	default:
		s := StringValue(v)
		if s == "" {
			return nil
		}
		return strings.Split(s, sep)
	}
}

// BoolValue converts a scanned catalog value to a bool.
// Integers are true when non-zero; "YES", "t", "true" and "1" are true.
func BoolValue(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int32:
		return t != 0
	case int:
		return t != 0
	case nil:
		return false
	default:
		switch strings.ToLower(StringValue(v)) {
		case "1", "t", "true", "yes", "y":
			return true
		}
		return false
	}
}

// Int64Value converts a scanned catalog value to an int64, or 0.
func Int64Value(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int16:
		return int64(t)
	case int:
		return int64(t)
	case uint64:
		return int64(t)
	case float64:
		return int64(t)
	default:
		n, err := strconv.ParseInt(strings.TrimSpace(StringValue(v)), 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
}

// LiteralStyle renders Go values as SQL literals for one dialect.
// Strings go through QuoteString; the boolean spellings differ by engine.
type LiteralStyle struct {
	QuoteString func(s string) string
	QuoteBytes  func(b []byte) string
	True        string
	False       string
	TimeLayout  string
}

// Literal renders value. Unknown types are formatted with fmt and quoted
// as strings.
func (s LiteralStyle) Literal(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case string:
		return s.QuoteString(v)
	case []byte:
		if s.QuoteBytes != nil {
			return s.QuoteBytes(v)
		}
		return s.QuoteString(string(v))
	case bool:
		if v {
			return s.True
		}
		return s.False
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		layout := s.TimeLayout
		if layout == "" {
			layout = "2006-01-02 15:04:05.999999"
		}
		return s.QuoteString(v.Format(layout))
	case fmt.Stringer:
		return s.QuoteString(v.String())
	default:
		return s.QuoteString(fmt.Sprint(v))
	}
}

// QuoteStandardString quotes s as a standard SQL string literal, doubling
// embedded single quotes.
func QuoteStandardString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
