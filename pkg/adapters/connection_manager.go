package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-schemaplus/pkg/logging"
	"github.com/ekaya-inc/ekaya-schemaplus/pkg/retry"
	"github.com/ekaya-inc/ekaya-schemaplus/pkg/schema"
)

const (
	DefaultConnectionTTLMinutes = 5
	DefaultCleanupInterval      = 1 * time.Minute
	DefaultMaxConnections       = 20
	DefaultHealthCheckTimeout   = 5 * time.Second
)

// ConnectionManagerConfig holds configuration for the connection manager.
type ConnectionManagerConfig struct {
	TTLMinutes      int
	MaxConnections  int
	CleanupInterval time.Duration
}

// openFunc opens a connection for an engine. The default goes through the
// schema registry.
type openFunc func(ctx context.Context, engine schema.Engine, cfg map[string]any, logger *zap.Logger) (schema.Conn, error)

// ConnectionManager keeps one attached schema.Adapter per datasource and
// closes adapters that have been idle longer than the TTL.
type ConnectionManager struct {
	mu             sync.RWMutex
	connections    map[uuid.UUID]*ManagedConnection
	ttl            time.Duration
	maxConnections int
	adapterOptions []schema.Option
	open           openFunc
	stopped        bool
	stopChan       chan struct{}
	logger         *zap.Logger
}

// ManagedConnection is an attached adapter with its last use time.
type ManagedConnection struct {
	adapter  *schema.Adapter
	engine   schema.Engine
	lastUsed time.Time
	mu       sync.Mutex
}

// NewConnectionManager creates a connection manager. opts are applied to
// every adapter it creates, after the manager's logger. The cleanup
// goroutine runs until Close is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger, opts ...schema.Option) *ConnectionManager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	manager := &ConnectionManager{
		connections:    make(map[uuid.UUID]*ManagedConnection),
		ttl:            time.Duration(cfg.TTLMinutes) * time.Minute,
		maxConnections: cfg.MaxConnections,
		adapterOptions: append([]schema.Option{schema.WithLogger(logger)}, opts...),
		open:           openRegistered,
		stopChan:       make(chan struct{}),
		logger:         logger.Named("connection_manager"),
	}

	go manager.cleanupExpiredConnections(cfg.CleanupInterval)
	return manager
}

func openRegistered(ctx context.Context, engine schema.Engine, cfg map[string]any, logger *zap.Logger) (schema.Conn, error) {
	reg, ok := schema.GetRegistration(engine)
	if !ok || reg.OpenFactory == nil {
		return nil, fmt.Errorf("%w: %s (not compiled in)", apperrors.ErrUnsupportedEngine, engine)
	}
	return reg.OpenFactory(ctx, cfg, logger)
}

// GetOrCreate returns the attached adapter for datasourceID. An existing
// adapter is health-checked first and replaced when the check fails.
// Every caller for the same datasource gets the same *schema.Adapter, which
// is safe for concurrent use over the pooled connections the engine
// packages open.
// engineType is a configuration name such as "postgres" or "sqlite3".
func (m *ConnectionManager) GetOrCreate(
	ctx context.Context,
	datasourceID uuid.UUID,
	engineType string,
	cfg map[string]any,
) (*schema.Adapter, error) {
	engine := schema.ParseEngineType(engineType)
	if engine == schema.EngineUnknown {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedEngine, engineType)
	}

	m.mu.RLock()
	managed, exists := m.connections[datasourceID]
	stopped := m.stopped
	m.mu.RUnlock()

	if stopped {
		return nil, fmt.Errorf("connection manager is closed")
	}

	if exists {
		managed.mu.Lock()

		healthCtx, cancel := context.WithTimeout(ctx, DefaultHealthCheckTimeout)
		defer cancel()

		err := m.healthCheck(healthCtx, managed.adapter)
		if err != nil {
			m.logger.Warn("connection unhealthy, recreating",
				zap.String("datasource_id", datasourceID.String()),
				zap.String("error", logging.SanitizeError(err)),
			)
			managed.mu.Unlock()
			m.remove(datasourceID)
			return m.create(ctx, datasourceID, engine, cfg)
		}

		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed.adapter, nil
	}

	return m.create(ctx, datasourceID, engine, cfg)
}

// healthCheck pings connections that support it. Transient failures are
// retried.
func (m *ConnectionManager) healthCheck(ctx context.Context, a *schema.Adapter) error {
	pinger, ok := a.Conn().(schema.Pinger)
	if !ok {
		return nil
	}
	return retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
		return pinger.Ping(ctx)
	})
}

// create opens and attaches a new adapter.
// Caller must NOT hold any locks.
func (m *ConnectionManager) create(
	ctx context.Context,
	datasourceID uuid.UUID,
	engine schema.Engine,
	cfg map[string]any,
) (*schema.Adapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, fmt.Errorf("connection manager is closed")
	}

	// Another goroutine may have created it while we waited for the lock.
	if managed, exists := m.connections[datasourceID]; exists && managed != nil {
		managed.mu.Lock()
		defer managed.mu.Unlock()
		managed.lastUsed = time.Now()
		return managed.adapter, nil
	}

	if len(m.connections) >= m.maxConnections {
		m.logger.Warn("reached max connections limit",
			zap.Int("current", len(m.connections)),
			zap.Int("max", m.maxConnections),
		)
		return nil, fmt.Errorf("maximum connections limit reached (%d)", m.maxConnections)
	}

	conn, err := m.open(ctx, engine, cfg, m.logger)
	if err != nil {
		m.logger.Error("failed to open connection",
			zap.String("datasource_id", datasourceID.String()),
			zap.String("engine", engine.String()),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("open %s connection for %s: %w", engine, datasourceID, err)
	}

	adapter, err := schema.New(ctx, conn, m.adapterOptions...)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("attach %s capability set for %s: %w", engine, datasourceID, err)
	}

	m.connections[datasourceID] = &ManagedConnection{
		adapter:  adapter,
		engine:   engine,
		lastUsed: time.Now(),
	}

	m.logger.Info("created new connection",
		zap.String("datasource_id", datasourceID.String()),
		zap.String("engine", adapter.Engine().String()),
		zap.Int("total_connections", len(m.connections)),
	)
	return adapter, nil
}

// Remove closes and forgets the adapter for datasourceID, if any.
func (m *ConnectionManager) Remove(datasourceID uuid.UUID) {
	m.remove(datasourceID)
}

// remove acquires the write lock. Caller must NOT hold m.mu.
func (m *ConnectionManager) remove(datasourceID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.connections[datasourceID]; exists && managed != nil {
		m.closeManaged(datasourceID, managed)
		delete(m.connections, datasourceID)
		m.logger.Debug("removed connection",
			zap.String("datasource_id", datasourceID.String()),
		)
	}
}

func (m *ConnectionManager) closeManaged(datasourceID uuid.UUID, managed *ManagedConnection) {
	if managed.adapter == nil {
		return
	}
	if err := managed.adapter.Close(); err != nil {
		m.logger.Warn("failed to close connection",
			zap.String("datasource_id", datasourceID.String()),
			zap.String("error", logging.SanitizeError(err)),
		)
	}
}

func (m *ConnectionManager) cleanupExpiredConnections(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup closes connections idle for longer than the TTL.
// Lock order is manager lock, then connection lock.
func (m *ConnectionManager) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := time.Now()
	var expired []uuid.UUID
	for id, managed := range m.connections {
		if managed == nil {
			continue
		}
		managed.mu.Lock()
		idleTime := now.Sub(managed.lastUsed)
		managed.mu.Unlock()

		if idleTime > m.ttl {
			expired = append(expired, id)
			m.logger.Debug("marking connection for cleanup",
				zap.String("datasource_id", id.String()),
				zap.Duration("idle_time", idleTime),
				zap.Duration("ttl", m.ttl),
			)
		}
	}

	for _, id := range expired {
		m.closeManaged(id, m.connections[id])
		delete(m.connections, id)
	}

	if len(expired) > 0 {
		m.logger.Info("cleaned up expired connections",
			zap.Int("count", len(expired)),
			zap.Int("remaining", len(m.connections)),
		)
	}
}

// Close closes every connection and stops the cleanup goroutine.
// It is safe to call more than once.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	m.stopped = true
	close(m.stopChan)

	for id, managed := range m.connections {
		if managed != nil {
			m.closeManaged(id, managed)
		}
	}

	m.connections = make(map[uuid.UUID]*ManagedConnection)
	m.logger.Info("connection manager closed")
	return nil
}

// Stats returns a snapshot of the manager's state.
func (m *ConnectionManager) Stats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	stats := ConnectionStats{
		TotalConnections:    len(m.connections),
		MaxConnections:      m.maxConnections,
		TTLMinutes:          int(m.ttl.Minutes()),
		ConnectionsByEngine: make(map[string]int),
	}

	for _, managed := range m.connections {
		if managed == nil {
			continue
		}
		managed.mu.Lock()
		idleSeconds := int(now.Sub(managed.lastUsed).Seconds())
		engine := managed.engine
		managed.mu.Unlock()

		stats.ConnectionsByEngine[string(engine)]++
		if idleSeconds > stats.OldestIdleSeconds {
			stats.OldestIdleSeconds = idleSeconds
		}
	}
	return stats
}

// ConnectionStats contains statistics about the connection manager state.
type ConnectionStats struct {
	TotalConnections    int            `json:"total_connections"`
	MaxConnections      int            `json:"max_connections"`
	TTLMinutes          int            `json:"ttl_minutes"`
	ConnectionsByEngine map[string]int `json:"connections_by_engine"`
	OldestIdleSeconds   int            `json:"oldest_idle_seconds"`
}
