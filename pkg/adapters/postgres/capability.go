package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-schemaplus/pkg/schema"
	sqlcheck "github.com/ekaya-inc/ekaya-schemaplus/pkg/sql"
)

// Capability is the PostgreSQL capability set. Catalog lookups are limited
// to the schemas on the connection's search_path.
type Capability struct {
	conn   schema.Conn
	logger *zap.Logger
}

// NewCapability binds the PostgreSQL capability set to conn.
func NewCapability(conn schema.Conn, logger *zap.Logger) *Capability {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capability{conn: conn, logger: logger.Named("postgres")}
}

func (c *Capability) Engine() schema.Engine {
	return schema.EnginePostgres
}

const viewsQuery = `
	SELECT viewname
	FROM pg_views
	WHERE schemaname = ANY (current_schemas(false))
	ORDER BY viewname`

func (c *Capability) Views(ctx context.Context) ([]string, error) {
	res, err := c.conn.Query(ctx, viewsQuery)
	if err != nil {
		return nil, fmt.Errorf("query views: %w", err)
	}

	views := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		views = append(views, schema.StringValue(row["viewname"]))
	}
	return views, nil
}

const viewDefinitionQuery = `
	SELECT pg_get_viewdef(c.oid, true) AS definition
	FROM pg_class c
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE c.relkind IN ('v', 'm')
	  AND c.relname = $1
	  AND n.nspname = ANY (current_schemas(false))`

// ViewDefinition returns the view body as PostgreSQL reformats it, without
// the trailing semicolon.
func (c *Capability) ViewDefinition(ctx context.Context, viewName string) (string, error) {
	res, err := c.conn.Query(ctx, viewDefinitionQuery, viewName)
	if err != nil {
		return "", fmt.Errorf("query view definition: %w", err)
	}
	if len(res.Rows) == 0 {
		return "", fmt.Errorf("view %q: %w", viewName, apperrors.ErrNotFound)
	}
	def := strings.TrimSpace(schema.StringValue(res.Rows[0]["definition"]))
	return strings.TrimSpace(strings.TrimSuffix(def, ";")), nil
}

// foreignKeysQuery lists foreign keys with their column pairs in
// declaration order. The WHERE clause is completed per lookup.
const foreignKeysQuery = `
	SELECT
		con.conname AS name,
		src.relname AS table_name,
		tgt.relname AS references_table_name,
		ARRAY(
			SELECT a.attname::text
			FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
			JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
			ORDER BY k.ord
		) AS column_names,
		ARRAY(
			SELECT a.attname::text
			FROM unnest(con.confkey) WITH ORDINALITY AS k(attnum, ord)
			JOIN pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum
			ORDER BY k.ord
		) AS references_column_names,
		con.confupdtype::text AS on_update,
		con.confdeltype::text AS on_delete,
		con.condeferrable AS is_deferrable,
		con.condeferred AS is_deferred
	FROM pg_constraint con
	JOIN pg_class src ON src.oid = con.conrelid
	JOIN pg_namespace srcns ON srcns.oid = src.relnamespace
	JOIN pg_class tgt ON tgt.oid = con.confrelid
	WHERE con.contype = 'f'
	  AND srcns.nspname = ANY (current_schemas(false))`

func (c *Capability) ForeignKeys(ctx context.Context, tableName string) ([]schema.ForeignKeyDefinition, error) {
	return c.queryForeignKeys(ctx, foreignKeysQuery+`
	  AND src.relname = $1
	ORDER BY con.conname`, tableName)
}

// ReverseForeignKeys returns constraints on other tables referencing
// tableName. Self-referencing constraints are excluded.
func (c *Capability) ReverseForeignKeys(ctx context.Context, tableName string) ([]schema.ForeignKeyDefinition, error) {
	return c.queryForeignKeys(ctx, foreignKeysQuery+`
	  AND tgt.relname = $1
	  AND con.conrelid <> con.confrelid
	ORDER BY src.relname, con.conname`, tableName)
}

// AllForeignKeys returns every foreign key on the search path.
func (c *Capability) AllForeignKeys(ctx context.Context) ([]schema.ForeignKeyDefinition, error) {
	return c.queryForeignKeys(ctx, foreignKeysQuery+`
	ORDER BY src.relname, con.conname`)
}

func (c *Capability) queryForeignKeys(ctx context.Context, query string, args ...any) ([]schema.ForeignKeyDefinition, error) {
	res, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}

	fks := make([]schema.ForeignKeyDefinition, 0, len(res.Rows))
	for _, row := range res.Rows {
		fk, err := foreignKeyFromRow(row)
		if err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, nil
}

func foreignKeyFromRow(row map[string]any) (schema.ForeignKeyDefinition, error) {
	fk := schema.ForeignKeyDefinition{
		Name:                  schema.StringValue(row["name"]),
		TableName:             schema.StringValue(row["table_name"]),
		ColumnNames:           schema.StringListValue(row["column_names"], ","),
		ReferencesTableName:   schema.StringValue(row["references_table_name"]),
		ReferencesColumnNames: schema.StringListValue(row["references_column_names"], ","),
	}

	var err error
	if fk.OnUpdate, err = parseAction(row["on_update"]); err != nil {
		return fk, fmt.Errorf("foreign key %s: %w", fk.Name, err)
	}
	if fk.OnDelete, err = parseAction(row["on_delete"]); err != nil {
		return fk, fmt.Errorf("foreign key %s: %w", fk.Name, err)
	}

	switch {
	case schema.BoolValue(row["is_deferred"]):
		fk.Deferrable = schema.DeferrableInitiallyDeferred
	case schema.BoolValue(row["is_deferrable"]):
		fk.Deferrable = schema.DeferrableImmediate
	}
	return fk, nil
}

// parseAction maps pg_constraint action codes. 'a' (NO ACTION) is the
// default and is reported as unset, matching what pg_dump omits.
func parseAction(v any) (schema.ReferentialAction, error) {
	code := schema.StringValue(v)
	if code == "a" {
		return schema.ActionUnset, nil
	}
	return schema.ParseReferentialAction(code)
}

const indexesQuery = `
	SELECT
		i.relname AS name,
		ix.indisunique AS is_unique,
		ARRAY(
			SELECT a.attname::text
			FROM unnest(ix.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord)
			JOIN pg_attribute a ON a.attrelid = ix.indrelid AND a.attnum = k.attnum
			ORDER BY k.ord
		) AS column_names,
		COALESCE(pg_get_expr(ix.indpred, ix.indrelid), '') AS predicate
	FROM pg_index ix
	JOIN pg_class t ON t.oid = ix.indrelid
	JOIN pg_class i ON i.oid = ix.indexrelid
	JOIN pg_namespace n ON n.oid = t.relnamespace
	WHERE t.relname = $1
	  AND n.nspname = ANY (current_schemas(false))
	  AND NOT ix.indisprimary
	ORDER BY i.relname`

// Indexes returns the non-primary indexes of tableName, including the
// predicate of partial indexes.
func (c *Capability) Indexes(ctx context.Context, tableName string) ([]schema.Index, error) {
	res, err := c.conn.Query(ctx, indexesQuery, tableName)
	if err != nil {
		return nil, fmt.Errorf("query indexes: %w", err)
	}

	indexes := make([]schema.Index, 0, len(res.Rows))
	for _, row := range res.Rows {
		indexes = append(indexes, schema.Index{
			Name:      schema.StringValue(row["name"]),
			TableName: tableName,
			Columns:   schema.StringListValue(row["column_names"], ","),
			Unique:    schema.BoolValue(row["is_unique"]),
			Where:     schema.StringValue(row["predicate"]),
		})
	}
	return indexes, nil
}

const columnsQuery = `
	SELECT
		c.column_name,
		c.data_type,
		c.is_nullable = 'YES' AS is_nullable,
		c.ordinal_position,
		c.column_default
	FROM information_schema.columns c
	WHERE c.table_schema = ANY (current_schemas(false))
	  AND c.table_name = $1
	ORDER BY c.ordinal_position`

func (c *Capability) Columns(ctx context.Context, tableName string) ([]schema.Column, error) {
	res, err := c.conn.Query(ctx, columnsQuery, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}

	columns := make([]schema.Column, 0, len(res.Rows))
	for _, row := range res.Rows {
		meta := schema.ColumnMetadata{
			ColumnName:      schema.StringValue(row["column_name"]),
			DataType:        schema.StringValue(row["data_type"]),
			IsNullable:      schema.BoolValue(row["is_nullable"]),
			OrdinalPosition: int(schema.Int64Value(row["ordinal_position"])),
			DefaultValue:    schema.NullableString(row["column_default"]),
		}
		columns = append(columns, schema.NewColumn(meta, ParseDefault))
	}
	return columns, nil
}

var (
	castLiteralPattern = regexp.MustCompile(`(?s)^'(.*)'::[\w\s."\[\]()]+$`)
	numericPattern     = regexp.MustCompile(`^\(?(-?\d+(?:\.\d+)?)\)?(?:::[\w\s]+)?$`)
	nowPattern         = regexp.MustCompile(`(?i)^(now\(\)|current_timestamp|transaction_timestamp\(\))$`)
)

// ParseDefault interprets a column_default from information_schema.
// Quoted literals and numbers become values; now() becomes FunctionNow;
// anything else (nextval, function calls) is kept as an expression.
func ParseDefault(raw string) *schema.Default {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "", strings.EqualFold(raw, "NULL"), strings.HasPrefix(strings.ToUpper(raw), "NULL::"):
		return nil
	case raw == "true":
		return &schema.Default{Value: true}
	case raw == "false":
		return &schema.Default{Value: false}
	case nowPattern.MatchString(raw):
		return &schema.Default{Function: schema.FunctionNow, Expr: raw}
	}

	if m := castLiteralPattern.FindStringSubmatch(raw); m != nil {
		return &schema.Default{Value: strings.ReplaceAll(m[1], "''", "'")}
	}
	if m := numericPattern.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return &schema.Default{Value: n}
		}
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			return &schema.Default{Value: f}
		}
	}
	return &schema.Default{Expr: raw}
}

// DefaultExprValid accepts the now() family and any single expression that
// passes the structural and injection checks. PostgreSQL itself rejects
// expressions referring to columns when the DDL runs.
func (c *Capability) DefaultExprValid(expr string) (bool, error) {
	if nowPattern.MatchString(strings.TrimSpace(expr)) {
		return true, nil
	}
	if problem := sqlcheck.CheckExpression(expr); problem != nil {
		c.logger.Debug("rejected default expression",
			zap.String("reason", problem.Reason),
			zap.String("fingerprint", problem.Fingerprint),
		)
		return false, nil
	}
	return true, nil
}

func (c *Capability) SQLForFunction(fn schema.Function) (string, error) {
	switch fn {
	case schema.FunctionNow:
		return "NOW()", nil
	default:
		return "", apperrors.InvalidArgumentf("unknown function %q", fn)
	}
}

func (c *Capability) SupportsPartialIndexes() bool {
	return true
}

func (c *Capability) SupportsAlterForeignKeys() bool {
	return true
}

var (
	_ schema.Capability       = (*Capability)(nil)
	_ schema.ForeignKeyLister = (*Capability)(nil)
)
