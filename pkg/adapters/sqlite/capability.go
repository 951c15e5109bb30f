package sqlite

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

// Capability is the SQLite capability set. Foreign keys can only be
// declared in CREATE TABLE, so AddForeignKey and RemoveForeignKey are
// rejected and DropTable skips the referencing-key cleanup.
type Capability struct {
	conn   schema.Conn
	logger *zap.Logger
}

// NewCapability binds the SQLite capability set to conn.
func NewCapability(conn schema.Conn, logger *zap.Logger) *Capability {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capability{conn: conn, logger: logger.Named("sqlite")}
}

func (c *Capability) Engine() schema.Engine {
	return schema.EngineSQLite
}

// PostAttach warns when foreign key enforcement is off, which is the
// SQLite default for connections not opened through Open.
func (c *Capability) PostAttach(ctx context.Context) error {
	res, err := c.conn.Query(ctx, "PRAGMA foreign_keys")
	if err != nil {
		return fmt.Errorf("query foreign_keys pragma: %w", err)
	}
	if len(res.Rows) == 0 || !schema.BoolValue(res.Rows[0]["foreign_keys"]) {
		c.logger.Warn("foreign key enforcement is disabled on this connection")
	}
	return nil
}

const viewsQuery = `SELECT name FROM sqlite_master WHERE type = 'view' ORDER BY name`

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

const viewDefinitionQuery = `SELECT sql FROM sqlite_master WHERE type = 'view' AND name = ?`

var createViewPrefix = regexp.MustCompile(
	"(?is)^\\s*CREATE\\s+(?:TEMP\\s+|TEMPORARY\\s+)?VIEW\\s+(?:IF\\s+NOT\\s+EXISTS\\s+)?" +
		"(?:\"(?:[^\"]|\"\")*\"|`[^`]*`|\\[[^\\]]*\\]|[^\\s(]+)" +
		"(?:\\s*\\([^)]*\\))?\\s+AS\\s+")

// ViewDefinition returns the SELECT part of the stored CREATE VIEW text.
func (c *Capability) ViewDefinition(ctx context.Context, viewName string) (string, error) {
	res, err := c.conn.Query(ctx, viewDefinitionQuery, viewName)
	if err != nil {
		return "", fmt.Errorf("query view definition: %w", err)
	}
	if len(res.Rows) == 0 {
		return "", fmt.Errorf("view %q: %w", viewName, apperrors.ErrNotFound)
	}
	return stripCreateView(schema.StringValue(res.Rows[0]["sql"])), nil
}

func stripCreateView(sql string) string {
	body := createViewPrefix.ReplaceAllString(sql, "")
	return strings.TrimSuffix(strings.TrimSpace(body), ";")
}

// foreignKeysQuery joins every table to its foreign_key_list pragma. SQLite
// constraints are unnamed; id groups the column pairs of one constraint.
const foreignKeysQuery = `
	SELECT
		m.name AS table_name,
		fk.id AS id,
		fk."table" AS references_table_name,
		fk."from" AS column_name,
		fk."to" AS references_column_name,
		fk.on_update AS on_update,
		fk.on_delete AS on_delete
	FROM sqlite_master m
	JOIN pragma_foreign_key_list(m.name) fk
	WHERE m.type = 'table'`

const foreignKeysOrder = `
	ORDER BY m.name, fk.id, fk.seq`

func (c *Capability) ForeignKeys(ctx context.Context, tableName string) ([]schema.ForeignKeyDefinition, error) {
	return c.queryForeignKeys(ctx, foreignKeysQuery+`
	  AND m.name = ?`+foreignKeysOrder, tableName)
}

// AllForeignKeys returns the foreign keys of every table.
func (c *Capability) AllForeignKeys(ctx context.Context) ([]schema.ForeignKeyDefinition, error) {
	return c.queryForeignKeys(ctx, foreignKeysQuery+foreignKeysOrder)
}

// ReverseForeignKeys has no catalog view to query, so it scans every
// table's foreign keys. Table names compare case-insensitively and
// self-references are excluded.
func (c *Capability) ReverseForeignKeys(ctx context.Context, tableName string) ([]schema.ForeignKeyDefinition, error) {
	all, err := c.AllForeignKeys(ctx)
	if err != nil {
		return nil, err
	}
	return schema.NewForeignKeyIndex(all, true).Referencing(tableName), nil
}

func (c *Capability) queryForeignKeys(ctx context.Context, query string, args ...any) ([]schema.ForeignKeyDefinition, error) {
	res, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}

	b := schema.NewForeignKeyBuilder()
	implicit := make(map[string]bool)
	for _, row := range res.Rows {
		fk := schema.ForeignKeyDefinition{
			TableName:           schema.StringValue(row["table_name"]),
			ReferencesTableName: schema.StringValue(row["references_table_name"]),
		}
		if fk.OnUpdate, err = parseAction(row["on_update"]); err != nil {
			return nil, fmt.Errorf("foreign key on %s: %w", fk.TableName, err)
		}
		if fk.OnDelete, err = parseAction(row["on_delete"]); err != nil {
			return nil, fmt.Errorf("foreign key on %s: %w", fk.TableName, err)
		}

		key := fk.TableName + "#" + strconv.FormatInt(schema.Int64Value(row["id"]), 10)
		refColumn := schema.StringValue(row["references_column_name"])
		if refColumn == "" {
			implicit[key] = true
		}
		b.Add(key, fk, schema.StringValue(row["column_name"]), refColumn)
	}

	fks := b.Build()
	if len(implicit) == 0 {
		return fks, nil
	}

	// REFERENCES t without a column list targets t's primary key.
	for i := range fks {
		if fks[i].ReferencesColumnNames[0] != "" {
			continue
		}
		pk, err := c.primaryKey(ctx, fks[i].ReferencesTableName)
		if err != nil {
			return nil, err
		}
		if len(pk) == len(fks[i].ColumnNames) {
			fks[i].ReferencesColumnNames = pk
		}
	}
	return fks, nil
}

func parseAction(v any) (schema.ReferentialAction, error) {
	action := schema.StringValue(v)
	if action == "" || strings.EqualFold(action, "NO ACTION") {
		return schema.ActionUnset, nil
	}
	return schema.ParseReferentialAction(action)
}

const primaryKeyQuery = `SELECT name FROM pragma_table_info(?) WHERE pk > 0 ORDER BY pk`

func (c *Capability) primaryKey(ctx context.Context, tableName string) ([]string, error) {
	res, err := c.conn.Query(ctx, primaryKeyQuery, tableName)
	if err != nil {
		return nil, fmt.Errorf("query primary key of %s: %w", tableName, err)
	}
	cols := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		cols = append(cols, schema.StringValue(row["name"]))
	}
	return cols, nil
}

// indexesQuery lists indexes with their key columns. Expression key parts
// have a NULL column name.
const indexesQuery = `
	SELECT
		il.name AS name,
		il."unique" AS is_unique,
		il.partial AS partial,
		ii.name AS column_name,
		m.sql AS sql
	FROM pragma_index_list(?) il
	LEFT JOIN pragma_index_info(il.name) ii
	LEFT JOIN sqlite_master m ON m.type = 'index' AND m.name = il.name
	WHERE il.origin <> 'pk'
	ORDER BY il.name, ii.seqno`

var wherePattern = regexp.MustCompile(`(?is)\bWHERE\s+(.+?)\s*;?\s*$`)

// Indexes returns the indexes of tableName, excluding the primary key.
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
			idx := schema.Index{
				Name:      name,
				TableName: tableName,
				Unique:    schema.BoolValue(row["is_unique"]),
			}
			if schema.BoolValue(row["partial"]) {
				if m := wherePattern.FindStringSubmatch(schema.StringValue(row["sql"])); m != nil {
					idx.Where = m[1]
				}
			}
			indexes = append(indexes, idx)
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
		cid,
		name,
		type,
		"notnull" AS not_null,
		dflt_value
	FROM pragma_table_info(?)
	ORDER BY cid`

func (c *Capability) Columns(ctx context.Context, tableName string) ([]schema.Column, error) {
	res, err := c.conn.Query(ctx, columnsQuery, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}

	columns := make([]schema.Column, 0, len(res.Rows))
	for _, row := range res.Rows {
		meta := schema.ColumnMetadata{
			ColumnName:      schema.StringValue(row["name"]),
			DataType:        strings.ToLower(schema.StringValue(row["type"])),
			IsNullable:      !schema.BoolValue(row["not_null"]),
			OrdinalPosition: int(schema.Int64Value(row["cid"])) + 1,
			DefaultValue:    schema.NullableString(row["dflt_value"]),
		}
		columns = append(columns, schema.NewColumn(meta, ParseDefault))
	}
	return columns, nil
}

var (
	timestampKeyword = regexp.MustCompile(`(?i)^(current_timestamp|current_date|current_time)$`)
	datetimeNow      = regexp.MustCompile(`(?i)^\(?\s*datetime\s*\(\s*'now'\s*\)\s*\)?$`)
)

// ParseDefault parses table_info's dflt_value, which is the default's SQL
// text as written in CREATE TABLE.
func ParseDefault(raw string) *schema.Default {
	raw = strings.TrimSpace(raw)
	upper := strings.ToUpper(raw)
	switch {
	case upper == "NULL":
		return nil
	case upper == "CURRENT_TIMESTAMP" || datetimeNow.MatchString(raw):
		return &schema.Default{Function: schema.FunctionNow, Expr: raw}
	case timestampKeyword.MatchString(raw):
		return &schema.Default{Expr: raw}
	case upper == "TRUE":
		return &schema.Default{Value: true}
	case upper == "FALSE":
		return &schema.Default{Value: false}
	case len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\'':
		return &schema.Default{Value: strings.ReplaceAll(raw[1:len(raw)-1], "''", "'")}
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return &schema.Default{Value: n}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return &schema.Default{Value: f}
	}
	return &schema.Default{Expr: raw}
}

// DefaultExprValid accepts the CURRENT_* keywords, (datetime('now')) and
// any parenthesized expression that passes the expression check.
func (c *Capability) DefaultExprValid(expr string) (bool, error) {
	expr = strings.TrimSpace(expr)
	if timestampKeyword.MatchString(expr) {
		return true, nil
	}
	if !strings.HasPrefix(expr, "(") || !strings.HasSuffix(expr, ")") {
		return false, nil
	}
	if datetimeNow.MatchString(expr) {
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

// FoldsTableNameCase is true: SQLite identifiers are case-insensitive.
func (c *Capability) FoldsTableNameCase() bool {
	return true
}

func (c *Capability) SQLForFunction(fn schema.Function) (string, error) {
	switch fn {
	case schema.FunctionNow:
		return "(DATETIME('now'))", nil
	default:
		return "", apperrors.InvalidArgumentf("unknown function %q", fn)
	}
}

// SupportsPartialIndexes is false. SQLite 3.8+ can create them, but
// callers treat SQLite as lacking the feature.
func (c *Capability) SupportsPartialIndexes() bool {
	return false
}

func (c *Capability) SupportsAlterForeignKeys() bool {
	return false
}

var (
	_ schema.Capability       = (*Capability)(nil)
	_ schema.PostAttacher     = (*Capability)(nil)
	_ schema.TableNameFolder  = (*Capability)(nil)
	_ schema.ForeignKeyLister = (*Capability)(nil)
)
