package mysql

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

// Capability is the MySQL capability set. Catalog lookups are limited to
// the connection's current database.
type Capability struct {
	conn   schema.Conn
	logger *zap.Logger

	version      string
	exprDefaults bool  // server accepts (expr) column defaults
	lowerCase    int64 // @@lower_case_table_names
}

// NewCapability binds the MySQL capability set to conn.
func NewCapability(conn schema.Conn, logger *zap.Logger) *Capability {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capability{conn: conn, logger: logger.Named("mysql")}
}

func (c *Capability) Engine() schema.Engine {
	return schema.EngineMySQL
}

// PostAttach reads the server version to decide whether expression
// defaults are available (MySQL 8.0.13+, MariaDB 10.2.1+), and
// lower_case_table_names to decide how table names compare.
func (c *Capability) PostAttach(ctx context.Context) error {
	res, err := c.conn.Query(ctx, "SELECT VERSION() AS version, @@lower_case_table_names AS lower_case_table_names")
	if err != nil {
		return fmt.Errorf("query server version: %w", err)
	}
	if len(res.Rows) > 0 {
		c.version = schema.StringValue(res.Rows[0]["version"])
		c.lowerCase = schema.Int64Value(res.Rows[0]["lower_case_table_names"])
	}
	c.exprDefaults = supportsExpressionDefaults(c.version)

	c.logger.Debug("mysql server detected",
		zap.String("version", c.version),
		zap.Bool("expression_defaults", c.exprDefaults),
		zap.Int64("lower_case_table_names", c.lowerCase),
	)
	return nil
}

// Version returns the server version read at attach time.
func (c *Capability) Version() string {
	return c.version
}

// FoldsTableNameCase reports whether the server stores or compares table
// names in lowercase. With lower_case_table_names=0, the Linux default,
// Orders and orders are different tables.
func (c *Capability) FoldsTableNameCase() bool {
	return c.lowerCase != 0
}

var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)`)

func supportsExpressionDefaults(version string) bool {
	m := versionPattern.FindStringSubmatch(version)
	if m == nil {
		return false
	}
	v := [3]int{}
	for i := range v {
		v[i], _ = strconv.Atoi(m[i+1])
	}
	floor := [3]int{8, 0, 13}
	if strings.Contains(strings.ToLower(version), "mariadb") {
		floor = [3]int{10, 2, 1}
	}
	for i := range v {
		if v[i] != floor[i] {
			return v[i] > floor[i]
		}
	}
	return true
}

const viewsQuery = `
	SELECT TABLE_NAME AS name
	FROM information_schema.VIEWS
	WHERE TABLE_SCHEMA = DATABASE()
	ORDER BY TABLE_NAME`

func (c *Capability) Views(ctx context.Context) ([]string, error) {
	res, err := c.conn.Query(ctx, viewsQuery)
	if err != nil {
		return nil, fmt.Errorf("query views: %w", err)
	}

	views := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		views = append(views, schema.StringValue(row["name"]))
	}
	return views, nil
}

const viewDefinitionQuery = `
	SELECT VIEW_DEFINITION AS definition
	FROM information_schema.VIEWS
	WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?`

// ViewDefinition returns the view body as stored by the server, which
// qualifies every identifier with the database name.
func (c *Capability) ViewDefinition(ctx context.Context, viewName string) (string, error) {
	res, err := c.conn.Query(ctx, viewDefinitionQuery, viewName)
	if err != nil {
		return "", fmt.Errorf("query view definition: %w", err)
	}
	if len(res.Rows) == 0 {
		return "", fmt.Errorf("view %q: %w", viewName, apperrors.ErrNotFound)
	}
	return strings.TrimSpace(schema.StringValue(res.Rows[0]["definition"])), nil
}

// foreignKeysQuery returns one row per column pair. The WHERE clause is
// completed per lookup.
const foreignKeysQuery = `
	SELECT
		kcu.CONSTRAINT_NAME AS name,
		kcu.TABLE_NAME AS table_name,
		kcu.COLUMN_NAME AS column_name,
		kcu.REFERENCED_TABLE_NAME AS references_table_name,
		kcu.REFERENCED_COLUMN_NAME AS references_column_name,
		rc.UPDATE_RULE AS on_update,
		rc.DELETE_RULE AS on_delete
	FROM information_schema.KEY_COLUMN_USAGE kcu
	JOIN information_schema.REFERENTIAL_CONSTRAINTS rc
		ON rc.CONSTRAINT_SCHEMA = kcu.CONSTRAINT_SCHEMA
		AND rc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
		AND rc.TABLE_NAME = kcu.TABLE_NAME
	WHERE kcu.TABLE_SCHEMA = DATABASE()
	  AND kcu.REFERENCED_TABLE_NAME IS NOT NULL`

const foreignKeysOrder = `
	ORDER BY kcu.TABLE_NAME, kcu.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`

func (c *Capability) ForeignKeys(ctx context.Context, tableName string) ([]schema.ForeignKeyDefinition, error) {
	return c.queryForeignKeys(ctx, foreignKeysQuery+`
	  AND kcu.TABLE_NAME = ?`+foreignKeysOrder, tableName)
}

// ReverseForeignKeys returns constraints on other tables referencing
// tableName. Self-referencing constraints are excluded.
func (c *Capability) ReverseForeignKeys(ctx context.Context, tableName string) ([]schema.ForeignKeyDefinition, error) {
	return c.queryForeignKeys(ctx, foreignKeysQuery+`
	  AND kcu.REFERENCED_TABLE_NAME = ?
	  AND kcu.TABLE_NAME <> kcu.REFERENCED_TABLE_NAME`+foreignKeysOrder, tableName)
}

// AllForeignKeys returns every foreign key in the current database.
func (c *Capability) AllForeignKeys(ctx context.Context) ([]schema.ForeignKeyDefinition, error) {
	return c.queryForeignKeys(ctx, foreignKeysQuery+foreignKeysOrder)
}

func (c *Capability) queryForeignKeys(ctx context.Context, query string, args ...any) ([]schema.ForeignKeyDefinition, error) {
	res, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}

	b := schema.NewForeignKeyBuilder()
	for _, row := range res.Rows {
		fk := schema.ForeignKeyDefinition{
			Name:                schema.StringValue(row["name"]),
			TableName:           schema.StringValue(row["table_name"]),
			ReferencesTableName: schema.StringValue(row["references_table_name"]),
		}
		if fk.OnUpdate, err = parseRule(row["on_update"]); err != nil {
			return nil, fmt.Errorf("foreign key %s: %w", fk.Name, err)
		}
		if fk.OnDelete, err = parseRule(row["on_delete"]); err != nil {
			return nil, fmt.Errorf("foreign key %s: %w", fk.Name, err)
		}
		b.Add(fk.TableName+"."+fk.Name, fk,
			schema.StringValue(row["column_name"]),
			schema.StringValue(row["references_column_name"]))
	}
	return b.Build(), nil
}

// parseRule maps REFERENTIAL_CONSTRAINTS rules. NO ACTION is the default
// and is reported as unset.
func parseRule(v any) (schema.ReferentialAction, error) {
	rule := schema.StringValue(v)
	if strings.EqualFold(rule, "NO ACTION") {
		return schema.ActionUnset, nil
	}
	return schema.ParseReferentialAction(rule)
}

// RenderForeignKey renders the constraint without DEFERRABLE, which MySQL
// does not accept.
func (c *Capability) RenderForeignKey(fk schema.ForeignKeyDefinition, q schema.Quoter) string {
	return fk.ToSQLWithoutDeferrable(q)
}

// DropForeignKeySQL uses MySQL's DROP FOREIGN KEY form.
func (c *Capability) DropForeignKeySQL(q schema.Quoter, tableName, constraintName string) string {
	return "ALTER TABLE " + q.QuoteTableName(tableName) + " DROP FOREIGN KEY " + q.QuoteColumnName(constraintName)
}

const indexesQuery = `
	SELECT
		INDEX_NAME AS name,
		NON_UNIQUE AS non_unique,
		COLUMN_NAME AS column_name
	FROM information_schema.STATISTICS
	WHERE TABLE_SCHEMA = DATABASE()
	  AND TABLE_NAME = ?
	  AND INDEX_NAME <> 'PRIMARY'
	ORDER BY INDEX_NAME, SEQ_IN_INDEX`

// Indexes returns the non-primary indexes of tableName. Functional key
// parts have no column name and are left out.
func (c *Capability) Indexes(ctx context.Context, tableName string) ([]schema.Index, error) {
	res, err := c.conn.Query(ctx, indexesQuery, tableName)
	if err != nil {
		return nil, fmt.Errorf("query indexes: %w", err)
	}

	var indexes []schema.Index
	positions := make(map[string]int)
	for _, row := range res.Rows {
		name := schema.StringValue(row["name"])
		i, ok := positions[name]
		if !ok {
			indexes = append(indexes, schema.Index{
				Name:      name,
				TableName: tableName,
				Unique:    !schema.BoolValue(row["non_unique"]),
			})
			i = len(indexes) - 1
			positions[name] = i
		}
		if col := schema.StringValue(row["column_name"]); col != "" {
			indexes[i].Columns = append(indexes[i].Columns, col)
		}
	}
	return indexes, nil
}

const columnsQuery = `
	SELECT
		COLUMN_NAME AS column_name,
		DATA_TYPE AS data_type,
		IS_NULLABLE AS is_nullable,
		ORDINAL_POSITION AS ordinal_position,
		COLUMN_DEFAULT AS column_default,
		EXTRA AS extra
	FROM information_schema.COLUMNS
	WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
	ORDER BY ORDINAL_POSITION`

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
		columns = append(columns, schema.NewColumn(meta, DefaultParser(schema.StringValue(row["extra"]))))
	}
	return columns, nil
}

var currentTimestampPattern = regexp.MustCompile(`(?i)^(current_timestamp|now|localtime|localtimestamp)(\(\d?\))?$`)

// DefaultParser returns a parser for COLUMN_DEFAULT given the column's
// EXTRA text. MySQL 8 stores literal defaults unquoted and marks expression
// defaults DEFAULT_GENERATED; MariaDB quotes literals.
func DefaultParser(extra string) schema.DefaultParser {
	generated := strings.Contains(strings.ToUpper(extra), "DEFAULT_GENERATED")
	return func(raw string) *schema.Default {
		switch {
		case strings.EqualFold(raw, "NULL"):
			return nil
		case currentTimestampPattern.MatchString(raw):
			return &schema.Default{Function: schema.FunctionNow, Expr: raw}
		case generated:
			return &schema.Default{Expr: raw}
		case len(raw) >= 2 && strings.HasPrefix(raw, "'") && strings.HasSuffix(raw, "'"):
			return &schema.Default{Value: strings.ReplaceAll(raw[1:len(raw)-1], "''", "'")}
		default:
			return &schema.Default{Value: raw}
		}
	}
}

// DefaultExprValid accepts the CURRENT_TIMESTAMP family everywhere, and a
// parenthesized expression on servers with expression defaults.
func (c *Capability) DefaultExprValid(expr string) (bool, error) {
	expr = strings.TrimSpace(expr)
	if currentTimestampPattern.MatchString(expr) {
		return true, nil
	}
	if !c.exprDefaults || !strings.HasPrefix(expr, "(") || !strings.HasSuffix(expr, ")") {
		return false, nil
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
		return "CURRENT_TIMESTAMP", nil
	default:
		return "", apperrors.InvalidArgumentf("unknown function %q", fn)
	}
}

func (c *Capability) SupportsPartialIndexes() bool {
	return false
}

func (c *Capability) SupportsAlterForeignKeys() bool {
	return true
}

var (
	_ schema.Capability        = (*Capability)(nil)
	_ schema.PostAttacher      = (*Capability)(nil)
	_ schema.TableNameFolder   = (*Capability)(nil)
	_ schema.ForeignKeyDialect = (*Capability)(nil)
	_ schema.ForeignKeyLister  = (*Capability)(nil)
)
