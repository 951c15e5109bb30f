package schema

// Function is a canonical SQL function a default can refer to without
// knowing the engine's spelling.
type Function string

const (
	// FunctionNow is the current timestamp.
	FunctionNow Function = "now"
)

// Default describes a column default.
// When Function or Expr is set it wins over Value. Function is translated
// through the capability set; Expr is raw SQL and must pass
// Capability.DefaultExprValid before it is emitted.
type Default struct {
	Value    any
	Expr     string
	Function Function
}

// IsExpression reports whether the default is an expression rather than a
// literal value.
func (d Default) IsExpression() bool {
	return d.Expr != "" || d.Function != ""
}

// ColumnMetadata is the raw catalog description of a column.
type ColumnMetadata struct {
	ColumnName      string
	DataType        string
	IsNullable      bool
	OrdinalPosition int
	DefaultValue    *string // raw default text as stored by the engine
}

// Column wraps ColumnMetadata with the default parsed by the engine's
// capability set.
type Column struct {
	ColumnMetadata
	Default *Default // nil when the column has no default
}

// DefaultParser turns an engine's raw default text into a Default.
// It returns nil when the text denotes no default (e.g. NULL).
type DefaultParser func(raw string) *Default

// NewColumn wraps raw metadata, parsing the default with parse.
func NewColumn(meta ColumnMetadata, parse DefaultParser) Column {
	col := Column{ColumnMetadata: meta}
	if meta.DefaultValue != nil && parse != nil {
		col.Default = parse(*meta.DefaultValue)
	}
	return col
}

// Index describes a table index.
type Index struct {
	Name      string
	TableName string
	Columns   []string
	Unique    bool
	Where     string // predicate of a partial index, empty otherwise
}

// ColumnOptions are the column-definition options AddColumnOptions renders.
type ColumnOptions struct {
	// Default is a literal, a Default, a *Default or a Function.
	// HasDefault must be true for it to be considered; this keeps
	// "no default" distinct from "DEFAULT NULL".
	Default    any
	HasDefault bool

	// Null is tri-state: nil leaves nullability alone (needed when altering
	// a column), false appends NOT NULL, true appends nothing.
	Null *bool

	// Column is passed to Conn.Quote for type-aware literal rendering.
	Column *Column
}

// Bool returns a pointer to b, for ColumnOptions.Null.
func Bool(b bool) *bool {
	return &b
}
