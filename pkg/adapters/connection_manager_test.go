package adapters

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-schemaplus/pkg/schema"
)

var memoryConfig = map[string]any{"path": ":memory:"}

func newTestManager(t *testing.T, cfg ConnectionManagerConfig) *ConnectionManager {
	t.Helper()
	cm := NewConnectionManager(cfg, zaptest.NewLogger(t))
	t.Cleanup(func() { cm.Close() })
	return cm
}

func TestConnectionManager_GetOrCreate_Reuse(t *testing.T) {
	cm := newTestManager(t, ConnectionManagerConfig{})
	ctx := context.Background()
	datasourceID := uuid.New()

	a1, err := cm.GetOrCreate(ctx, datasourceID, "sqlite3", memoryConfig)
	require.NoError(t, err)
	require.True(t, a1.Attached())
	assert.Equal(t, schema.EngineSQLite, a1.Engine())

	a2, err := cm.GetOrCreate(ctx, datasourceID, "sqlite", memoryConfig)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%p", a1), fmt.Sprintf("%p", a2), "should reuse same adapter")

	stats := cm.Stats()
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.ConnectionsByEngine["sqlite"])
	assert.Equal(t, DefaultConnectionTTLMinutes, stats.TTLMinutes)
	assert.Equal(t, DefaultMaxConnections, stats.MaxConnections)
}

func TestConnectionManager_GetOrCreate_DifferentDatasources(t *testing.T) {
	cm := newTestManager(t, ConnectionManagerConfig{})
	ctx := context.Background()

	a1, err := cm.GetOrCreate(ctx, uuid.New(), "sqlite", memoryConfig)
	require.NoError(t, err)
	a2, err := cm.GetOrCreate(ctx, uuid.New(), "sqlite", memoryConfig)
	require.NoError(t, err)

	assert.NotEqual(t, fmt.Sprintf("%p", a1), fmt.Sprintf("%p", a2))
	assert.Equal(t, 2, cm.Stats().TotalConnections)
}

func TestConnectionManager_GetOrCreate_UnknownEngine(t *testing.T) {
	cm := newTestManager(t, ConnectionManagerConfig{})

	_, err := cm.GetOrCreate(context.Background(), uuid.New(), "oracle", nil)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedEngine)
	assert.Equal(t, 0, cm.Stats().TotalConnections)
}

func TestConnectionManager_GetOrCreate_OpenFailure(t *testing.T) {
	cm := newTestManager(t, ConnectionManagerConfig{})
	refused := errors.New("connection refused")
	cm.open = func(ctx context.Context, engine schema.Engine, cfg map[string]any, logger *zap.Logger) (schema.Conn, error) {
		return nil, refused
	}

	_, err := cm.GetOrCreate(context.Background(), uuid.New(), "postgres", map[string]any{})
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, 0, cm.Stats().TotalConnections)
}

func TestConnectionManager_MaxConnections(t *testing.T) {
	cm := newTestManager(t, ConnectionManagerConfig{MaxConnections: 1})
	ctx := context.Background()
	first := uuid.New()

	_, err := cm.GetOrCreate(ctx, first, "sqlite", memoryConfig)
	require.NoError(t, err)

	_, err = cm.GetOrCreate(ctx, uuid.New(), "sqlite", memoryConfig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum connections limit reached (1)")

	// The existing datasource is still served.
	_, err = cm.GetOrCreate(ctx, first, "sqlite", memoryConfig)
	assert.NoError(t, err)

	cm.Remove(first)
	_, err = cm.GetOrCreate(ctx, uuid.New(), "sqlite", memoryConfig)
	assert.NoError(t, err)
}

func TestConnectionManager_RecreatesUnhealthyConnection(t *testing.T) {
	cm := newTestManager(t, ConnectionManagerConfig{})
	ctx := context.Background()
	datasourceID := uuid.New()

	a1, err := cm.GetOrCreate(ctx, datasourceID, "sqlite", memoryConfig)
	require.NoError(t, err)
	require.NoError(t, a1.Close())

	a2, err := cm.GetOrCreate(ctx, datasourceID, "sqlite", memoryConfig)
	require.NoError(t, err)
	assert.NotEqual(t, fmt.Sprintf("%p", a1), fmt.Sprintf("%p", a2), "unhealthy adapter should be replaced")
	assert.Equal(t, 1, cm.Stats().TotalConnections)

	_, err = a2.Views(ctx)
	assert.NoError(t, err)
}

func TestConnectionManager_ConcurrentGetOrCreate(t *testing.T) {
	cm := newTestManager(t, ConnectionManagerConfig{})
	ctx := context.Background()
	datasourceID := uuid.New()

	const workers = 10
	adapters := make([]*schema.Adapter, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			adapters[i], errs[i] = cm.GetOrCreate(ctx, datasourceID, "sqlite", memoryConfig)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("%p", adapters[0]), fmt.Sprintf("%p", adapters[i]))
	}
	assert.Equal(t, 1, cm.Stats().TotalConnections)
}

func TestConnectionManager_SharedAdapterWithForeignKeyIndex(t *testing.T) {
	cm := NewConnectionManager(ConnectionManagerConfig{}, zaptest.NewLogger(t), schema.WithForeignKeyIndex())
	t.Cleanup(func() { cm.Close() })
	ctx := context.Background()
	datasourceID := uuid.New()

	a, err := cm.GetOrCreate(ctx, datasourceID, "sqlite", memoryConfig)
	require.NoError(t, err)
	_, err = a.Conn().Execute(ctx, `CREATE TABLE users (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = a.Conn().Execute(ctx, `CREATE TABLE orders (id INTEGER PRIMARY KEY, user_id INTEGER REFERENCES users (id))`)
	require.NoError(t, err)
	require.NoError(t, a.RefreshForeignKeyIndex(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			shared, err := cm.GetOrCreate(ctx, datasourceID, "sqlite", memoryConfig)
			if !assert.NoError(t, err) {
				return
			}
			if i%2 == 0 {
				assert.NoError(t, shared.RefreshForeignKeyIndex(ctx))
				return
			}
			fks, err := shared.ReverseForeignKeys(ctx, "users")
			assert.NoError(t, err)
			assert.Len(t, fks, 1)
		}(i)
	}
	wg.Wait()
}

func TestConnectionManager_PerformCleanup(t *testing.T) {
	cm := newTestManager(t, ConnectionManagerConfig{})
	ctx := context.Background()

	stale := uuid.New()
	fresh := uuid.New()
	_, err := cm.GetOrCreate(ctx, stale, "sqlite", memoryConfig)
	require.NoError(t, err)
	_, err = cm.GetOrCreate(ctx, fresh, "sqlite", memoryConfig)
	require.NoError(t, err)

	cm.mu.Lock()
	cm.connections[stale].lastUsed = time.Now().Add(-time.Hour)
	cm.mu.Unlock()

	cm.performCleanup()

	stats := cm.Stats()
	assert.Equal(t, 1, stats.TotalConnections)
	cm.mu.RLock()
	_, staleExists := cm.connections[stale]
	_, freshExists := cm.connections[fresh]
	cm.mu.RUnlock()
	assert.False(t, staleExists)
	assert.True(t, freshExists)
}

func TestConnectionManager_Close(t *testing.T) {
	cm := NewConnectionManager(ConnectionManagerConfig{}, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := cm.GetOrCreate(ctx, uuid.New(), "sqlite", memoryConfig)
	require.NoError(t, err)

	require.NoError(t, cm.Close())
	require.NoError(t, cm.Close(), "Close should be idempotent")
	assert.Equal(t, 0, cm.Stats().TotalConnections)

	_, err = cm.GetOrCreate(ctx, uuid.New(), "sqlite", memoryConfig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection manager is closed")
}

func TestConnectionManager_AppliesAdapterOptions(t *testing.T) {
	cm := NewConnectionManager(ConnectionManagerConfig{}, zaptest.NewLogger(t), schema.WithStrictEngine())
	defer cm.Close()

	cm.open = func(ctx context.Context, engine schema.Engine, cfg map[string]any, logger *zap.Logger) (schema.Conn, error) {
		return &unknownConn{}, nil
	}

	_, err := cm.GetOrCreate(context.Background(), uuid.New(), "postgres", nil)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedEngine)
	assert.Equal(t, 0, cm.Stats().TotalConnections)
}

// unknownConn reports an engine with no registered capability set.
type unknownConn struct{ closed bool }

func (c *unknownConn) EngineName() string { return "Oracle" }
func (c *unknownConn) Execute(ctx context.Context, sql string) (*schema.Result, error) {
	return &schema.Result{}, nil
}
func (c *unknownConn) Query(ctx context.Context, sql string, args ...any) (*schema.Result, error) {
	return &schema.Result{}, nil
}
func (c *unknownConn) Quote(value any, column *schema.Column) string { return fmt.Sprint(value) }
func (c *unknownConn) QuoteTableName(name string) string             { return name }
func (c *unknownConn) QuoteColumnName(name string) string            { return name }
func (c *unknownConn) Close() error {
	c.closed = true
	return nil
}
