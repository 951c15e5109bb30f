package postgres

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-schemaplus/pkg/schema"
)

type queryCall struct {
	sql  string
	args []any
}

// catalogConn answers catalog queries with canned rows chosen by a
// substring of the query, and records executed statements.
type catalogConn struct {
	Conn // real quoting

	responses  map[string][]map[string]any
	queries    []queryCall
	statements []string
}

func newCatalogConn() *catalogConn {
	return &catalogConn{responses: make(map[string][]map[string]any)}
}

func (c *catalogConn) Query(ctx context.Context, sql string, args ...any) (*schema.Result, error) {
	c.queries = append(c.queries, queryCall{sql: sql, args: args})
	for marker, rows := range c.responses {
		if strings.Contains(sql, marker) {
			return &schema.Result{Rows: rows}, nil
		}
	}
	return &schema.Result{}, nil
}

func (c *catalogConn) Execute(ctx context.Context, sql string) (*schema.Result, error) {
	c.statements = append(c.statements, sql)
	return &schema.Result{}, nil
}

func (c *catalogConn) Close() error { return nil }

func (c *catalogConn) lastQuery(t *testing.T) queryCall {
	t.Helper()
	require.NotEmpty(t, c.queries)
	return c.queries[len(c.queries)-1]
}

func fkRow(name, table, refTable string, cols, refCols []any, onUpdate, onDelete string, deferrable, deferred bool) map[string]any {
	return map[string]any{
		"name":                    name,
		"table_name":              table,
		"references_table_name":   refTable,
		"column_names":            cols,
		"references_column_names": refCols,
		"on_update":               onUpdate,
		"on_delete":               onDelete,
		"is_deferrable":           deferrable,
		"is_deferred":             deferred,
	}
}

func TestCapability_Views(t *testing.T) {
	conn := newCatalogConn()
	conn.responses["FROM pg_views"] = []map[string]any{{"viewname": "active_users"}, {"viewname": "recent_orders"}}
	c := NewCapability(conn, zaptest.NewLogger(t))

	views, err := c.Views(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"active_users", "recent_orders"}, views)
	assert.Contains(t, conn.lastQuery(t).sql, "current_schemas(false)")
}

func TestCapability_ViewDefinition(t *testing.T) {
	conn := newCatalogConn()
	conn.responses["pg_get_viewdef"] = []map[string]any{{"definition": " SELECT users.id\n   FROM users\n  WHERE users.active;"}}
	c := NewCapability(conn, zaptest.NewLogger(t))

	def, err := c.ViewDefinition(context.Background(), "active_users")
	require.NoError(t, err)
	assert.Equal(t, "SELECT users.id\n   FROM users\n  WHERE users.active", def)
	assert.Equal(t, []any{"active_users"}, conn.lastQuery(t).args)
}

func TestCapability_ViewDefinition_NotFound(t *testing.T) {
	c := NewCapability(newCatalogConn(), zaptest.NewLogger(t))

	_, err := c.ViewDefinition(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCapability_ForeignKeys(t *testing.T) {
	conn := newCatalogConn()
	conn.responses["FROM pg_constraint"] = []map[string]any{
		fkRow("fk_orders_user", "orders", "users", []any{"user_id"}, []any{"id"}, "a", "c", false, false),
		fkRow("fk_orders_shop", "orders", "shops", []any{"shop_id", "region"}, []any{"id", "region"}, "r", "n", true, true),
	}
	c := NewCapability(conn, zaptest.NewLogger(t))

	fks, err := c.ForeignKeys(context.Background(), "orders")
	require.NoError(t, err)
	require.Len(t, fks, 2)

	assert.Equal(t, schema.ForeignKeyDefinition{
		Name:                  "fk_orders_user",
		TableName:             "orders",
		ColumnNames:           []string{"user_id"},
		ReferencesTableName:   "users",
		ReferencesColumnNames: []string{"id"},
		OnUpdate:              schema.ActionUnset,
		OnDelete:              schema.ActionCascade,
	}, fks[0])

	assert.Equal(t, []string{"shop_id", "region"}, fks[1].ColumnNames)
	assert.Equal(t, schema.ActionRestrict, fks[1].OnUpdate)
	assert.Equal(t, schema.ActionSetNull, fks[1].OnDelete)
	assert.Equal(t, schema.DeferrableInitiallyDeferred, fks[1].Deferrable)

	q := conn.lastQuery(t)
	assert.Contains(t, q.sql, "src.relname = $1")
	assert.Equal(t, []any{"orders"}, q.args)
}

func TestCapability_ReverseForeignKeys(t *testing.T) {
	conn := newCatalogConn()
	conn.responses["FROM pg_constraint"] = []map[string]any{
		fkRow("fk_orders_user", "orders", "users", []any{"user_id"}, []any{"id"}, "a", "a", true, false),
	}
	c := NewCapability(conn, zaptest.NewLogger(t))

	fks, err := c.ReverseForeignKeys(context.Background(), "users")
	require.NoError(t, err)
	require.Len(t, fks, 1)
	assert.Equal(t, schema.DeferrableImmediate, fks[0].Deferrable)

	q := conn.lastQuery(t)
	assert.Contains(t, q.sql, "tgt.relname = $1")
	assert.Contains(t, q.sql, "con.conrelid <> con.confrelid")
}

func TestCapability_ForeignKeys_BadAction(t *testing.T) {
	conn := newCatalogConn()
	conn.responses["FROM pg_constraint"] = []map[string]any{
		fkRow("fk", "orders", "users", []any{"user_id"}, []any{"id"}, "z", "a", false, false),
	}
	c := NewCapability(conn, zaptest.NewLogger(t))

	_, err := c.AllForeignKeys(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestCapability_Indexes(t *testing.T) {
	conn := newCatalogConn()
	conn.responses["FROM pg_index"] = []map[string]any{
		{"name": "index_users_on_email", "is_unique": true, "column_names": []any{"email"}, "predicate": "(deleted_at IS NULL)"},
		{"name": "index_users_on_last_first", "is_unique": false, "column_names": []any{"last_name", "first_name"}, "predicate": ""},
	}
	c := NewCapability(conn, zaptest.NewLogger(t))

	indexes, err := c.Indexes(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, []schema.Index{
		{Name: "index_users_on_email", TableName: "users", Columns: []string{"email"}, Unique: true, Where: "(deleted_at IS NULL)"},
		{Name: "index_users_on_last_first", TableName: "users", Columns: []string{"last_name", "first_name"}},
	}, indexes)
}

func TestCapability_Columns(t *testing.T) {
	conn := newCatalogConn()
	conn.responses["information_schema.columns"] = []map[string]any{
		{"column_name": "id", "data_type": "bigint", "is_nullable": false, "ordinal_position": int32(1), "column_default": "nextval('users_id_seq'::regclass)"},
		{"column_name": "status", "data_type": "text", "is_nullable": true, "ordinal_position": int32(2), "column_default": "'active'::text"},
		{"column_name": "created_at", "data_type": "timestamp with time zone", "is_nullable": false, "ordinal_position": int32(3), "column_default": "now()"},
		{"column_name": "notes", "data_type": "text", "is_nullable": true, "ordinal_position": int32(4), "column_default": nil},
	}
	c := NewCapability(conn, zaptest.NewLogger(t))

	cols, err := c.Columns(context.Background(), "users")
	require.NoError(t, err)
	require.Len(t, cols, 4)

	assert.Equal(t, "nextval('users_id_seq'::regclass)", cols[0].Default.Expr)
	assert.Equal(t, "active", cols[1].Default.Value)
	assert.Equal(t, schema.FunctionNow, cols[2].Default.Function)
	assert.Nil(t, cols[3].Default)
	assert.Equal(t, 3, cols[2].OrdinalPosition)
	assert.False(t, cols[0].IsNullable)
}

func TestParseDefault(t *testing.T) {
	tests := []struct {
		raw      string
		expected *schema.Default
	}{
		{"NULL", nil},
		{"NULL::character varying", nil},
		{"true", &schema.Default{Value: true}},
		{"false", &schema.Default{Value: false}},
		{"0", &schema.Default{Value: int64(0)}},
		{"(-5)", &schema.Default{Value: int64(-5)}},
		{"1.5", &schema.Default{Value: 1.5}},
		{"'it''s'::text", &schema.Default{Value: "it's"}},
		{"'draft'::character varying", &schema.Default{Value: "draft"}},
		{"'{}'::jsonb", &schema.Default{Value: "{}"}},
		{"now()", &schema.Default{Function: schema.FunctionNow, Expr: "now()"}},
		{"CURRENT_TIMESTAMP", &schema.Default{Function: schema.FunctionNow, Expr: "CURRENT_TIMESTAMP"}},
		{"gen_random_uuid()", &schema.Default{Expr: "gen_random_uuid()"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseDefault(tt.raw))
		})
	}
}

func TestCapability_DefaultExprValid(t *testing.T) {
	c := NewCapability(newCatalogConn(), zaptest.NewLogger(t))

	for _, expr := range []string{"", "0; DROP TABLE users", "1 -- x", "(1 + 2"} {
		valid, err := c.DefaultExprValid(expr)
		require.NoError(t, err)
		assert.False(t, valid, expr)
	}

	for _, expr := range []string{"NOW()", "now()", "CURRENT_TIMESTAMP"} {
		valid, err := c.DefaultExprValid(expr)
		require.NoError(t, err)
		assert.True(t, valid, expr)
	}
}

func TestCapability_Features(t *testing.T) {
	c := NewCapability(newCatalogConn(), nil)

	assert.Equal(t, schema.EnginePostgres, c.Engine())
	assert.True(t, c.SupportsPartialIndexes())
	assert.True(t, c.SupportsAlterForeignKeys())

	sql, err := c.SQLForFunction(schema.FunctionNow)
	require.NoError(t, err)
	assert.Equal(t, "NOW()", sql)

	_, err = c.SQLForFunction("uuid")
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestAdapter_DropTableRemovesReferencingKeys(t *testing.T) {
	ctx := context.Background()
	conn := newCatalogConn()
	conn.responses["FROM pg_constraint"] = []map[string]any{
		fkRow("fk_orders_user", "orders", "users", []any{"user_id"}, []any{"id"}, "a", "c", false, false),
	}

	a, err := schema.New(ctx, conn, schema.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.Equal(t, schema.EnginePostgres, a.Engine())
	assert.True(t, a.SupportsPartialIndexes())

	require.NoError(t, a.DropTable(ctx, "users"))
	assert.Equal(t, []string{
		`ALTER TABLE "orders" DROP CONSTRAINT "fk_orders_user"`,
		`DROP TABLE "users"`,
	}, conn.statements)
}

func TestAdapter_AddForeignKeyQuotesIdentifiers(t *testing.T) {
	ctx := context.Background()
	conn := newCatalogConn()

	a, err := schema.New(ctx, conn)
	require.NoError(t, err)

	err = a.AddForeignKey(ctx, "orders", []string{"user_id"}, "users", []string{"id"}, schema.ForeignKeyOptions{
		Name:       "fk_orders_user",
		OnDelete:   schema.ActionCascade,
		Deferrable: schema.DeferrableInitiallyDeferred,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		`ALTER TABLE "orders" ADD CONSTRAINT "fk_orders_user" FOREIGN KEY ("user_id") REFERENCES "users" ("id") ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED`,
	}, conn.statements)
}

func TestAdapter_AddColumnOptionsUsesNow(t *testing.T) {
	a, err := schema.New(context.Background(), newCatalogConn())
	require.NoError(t, err)

	var sb strings.Builder
	sb.WriteString(`"created_at" timestamptz`)
	require.NoError(t, a.AddColumnOptions(&sb, schema.ColumnOptions{
		Default:    schema.FunctionNow,
		HasDefault: true,
		Null:       schema.Bool(false),
	}))
	assert.Equal(t, `"created_at" timestamptz DEFAULT NOW() NOT NULL`, sb.String())
}
