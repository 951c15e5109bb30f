//go:build integration

package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/schema"
	"github.com/ekaya-inc/ekaya-schemaplus/pkg/testhelpers"
)

func TestIntegration_SchemaRoundTrip(t *testing.T) {
	db := testhelpers.GetPostgresDB(t)
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	cfg, err := FromMap(db.Config())
	require.NoError(t, err)

	conn, err := Open(ctx, cfg, logger)
	require.NoError(t, err)
	defer conn.Close()

	a, err := schema.New(ctx, conn, schema.WithLogger(logger))
	require.NoError(t, err)
	require.Equal(t, schema.EnginePostgres, a.Engine())

	for _, stmt := range []string{
		`DROP TABLE IF EXISTS rt_orders, rt_users CASCADE`,
		`CREATE TABLE rt_users (id bigserial PRIMARY KEY, email text NOT NULL, active boolean NOT NULL DEFAULT true, deleted_at timestamptz)`,
		`CREATE TABLE rt_orders (id bigserial PRIMARY KEY, user_id bigint, status text DEFAULT 'new', created_at timestamptz DEFAULT now())`,
		`CREATE UNIQUE INDEX rt_users_email ON rt_users (email) WHERE deleted_at IS NULL`,
	} {
		_, err := conn.Execute(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	err = a.AddForeignKey(ctx, "rt_orders", []string{"user_id"}, "rt_users", []string{"id"},
		schema.ForeignKeyOptions{Name: "fk_rt_orders_user", OnDelete: schema.ActionCascade, Deferrable: schema.DeferrableImmediate})
	require.NoError(t, err)

	fks, err := a.ForeignKeys(ctx, "rt_orders")
	require.NoError(t, err)
	require.Len(t, fks, 1)
	assert.Equal(t, "fk_rt_orders_user", fks[0].Name)
	assert.Equal(t, "rt_users", fks[0].ReferencesTableName)
	assert.Equal(t, []string{"user_id"}, fks[0].ColumnNames)
	assert.Equal(t, schema.ActionCascade, fks[0].OnDelete)
	assert.Equal(t, schema.DeferrableImmediate, fks[0].Deferrable)

	reverse, err := a.ReverseForeignKeys(ctx, "rt_users")
	require.NoError(t, err)
	require.Len(t, reverse, 1)
	assert.Equal(t, "rt_orders", reverse[0].TableName)

	indexes, err := a.Indexes(ctx, "rt_users")
	require.NoError(t, err)
	require.Len(t, indexes, 1)
	assert.True(t, indexes[0].Unique)
	assert.Equal(t, "(deleted_at IS NULL)", indexes[0].Where)

	cols, err := a.Columns(ctx, "rt_orders")
	require.NoError(t, err)
	require.Len(t, cols, 4)
	assert.Equal(t, "new", cols[2].Default.Value)
	assert.Equal(t, schema.FunctionNow, cols[3].Default.Function)

	require.NoError(t, a.CreateView(ctx, "rt_active_users", "SELECT id, email FROM rt_users WHERE active", schema.ViewOptions{Force: true}))
	views, err := a.Views(ctx)
	require.NoError(t, err)
	assert.Contains(t, views, "rt_active_users")

	def, err := a.ViewDefinition(ctx, "rt_active_users")
	require.NoError(t, err)
	assert.Contains(t, def, "rt_users")
	require.NoError(t, a.DropView(ctx, "rt_active_users"))

	// Dropping the referenced table removes the constraint first, so no
	// CASCADE is needed.
	require.NoError(t, a.DropTable(ctx, "rt_users"))
	fks, err = a.ForeignKeys(ctx, "rt_orders")
	require.NoError(t, err)
	assert.Empty(t, fks)

	require.NoError(t, a.DropTable(ctx, "rt_orders"))
}
