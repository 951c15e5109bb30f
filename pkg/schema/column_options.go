package schema

import (
	"strings"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/apperrors"
)

// AddColumnOptions appends the DEFAULT and NOT NULL clauses for opts to sql.
//
// A default expression (Default.Expr, Default.Function or a bare Function)
// takes precedence over a literal value. Every expression, including the
// SQL a capability set renders for a Function, is checked with the
// capability set's DefaultExprValid; an invalid one returns an
// ErrInvalidArgument and sql is left untouched. NOT NULL is only appended
// when opts.Null is explicitly false.
func (a *Adapter) AddColumnOptions(sql *strings.Builder, opts ColumnOptions) error {
	var clause strings.Builder

	if opts.HasDefault {
		value, expr, err := a.resolveDefault(opts.Default)
		if err != nil {
			return err
		}
		switch {
		case expr != "":
			valid, err := a.capability.DefaultExprValid(expr)
			if err != nil {
				return err
			}
			if !valid {
				return apperrors.InvalidArgumentf("invalid default expression %q", expr)
			}
			clause.WriteString(" DEFAULT ")
			clause.WriteString(expr)
		case value != nil:
			clause.WriteString(" DEFAULT ")
			clause.WriteString(a.conn.Quote(value, opts.Column))
		}
	}

	if opts.Null != nil && !*opts.Null {
		clause.WriteString(" NOT NULL")
	}

	sql.WriteString(clause.String())
	return nil
}

// resolveDefault splits a default into its literal value and expression.
func (a *Adapter) resolveDefault(def any) (value any, expr string, err error) {
	switch d := def.(type) {
	case Default:
		return a.resolveStructuredDefault(d)
	case *Default:
		if d == nil {
			return nil, "", nil
		}
		return a.resolveStructuredDefault(*d)
	case Function:
		expr, err := a.capability.SQLForFunction(d)
		return nil, expr, err
	default:
		return def, "", nil
	}
}

func (a *Adapter) resolveStructuredDefault(d Default) (any, string, error) {
	if d.Function != "" {
		expr, err := a.capability.SQLForFunction(d.Function)
		if err != nil {
			return nil, "", err
		}
		return d.Value, expr, nil
	}
	return d.Value, d.Expr, nil
}
