package postgres

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/logging"
	"github.com/ekaya-inc/ekaya-schemaplus/pkg/retry"
	"github.com/ekaya-inc/ekaya-schemaplus/pkg/schema"
)

// EngineName is the product name PostgreSQL connections report.
const EngineName = "PostgreSQL"

var literals = schema.LiteralStyle{
	QuoteString: pq.QuoteLiteral,
	QuoteBytes:  quoteBytea,
	True:        "TRUE",
	False:       "FALSE",
	TimeLayout:  "2006-01-02 15:04:05.999999Z07:00",
}

// Conn is a schema.Conn over a pgx pool.
type Conn struct {
	pool      *pgxpool.Pool
	logger    *zap.Logger
	ownedPool bool
}

// NewConn wraps an existing pool. The caller keeps ownership of the pool.
func NewConn(pool *pgxpool.Pool, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{pool: pool, logger: logger.Named("postgres")}
}

// Open creates a pool for cfg and waits until it answers a ping. Transient
// failures (server starting up, connection refused) are retried.
func Open(ctx context.Context, cfg *Config, logger *zap.Logger) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("postgres")

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %s", logging.SanitizeError(err))
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("postgres connection attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("error", logging.SanitizeError(err)),
		)
	}

	var pool *pgxpool.Pool
	err = retry.DoIfRetryable(ctx, retryCfg, func() error {
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	logger.Debug("postgres pool ready",
		zap.String("dsn", logging.SanitizeConnectionString(cfg.ConnectionString())),
	)
	return &Conn{pool: pool, logger: logger, ownedPool: true}, nil
}

// Pool returns the underlying pool.
func (c *Conn) Pool() *pgxpool.Pool {
	return c.pool
}

func (c *Conn) EngineName() string {
	return EngineName
}

// QuoteTableName quotes a possibly schema-qualified name, e.g.
// public.users becomes "public"."users".
func (c *Conn) QuoteTableName(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func (c *Conn) QuoteColumnName(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// Quote renders value as a PostgreSQL literal. Strings bound for a bytea
// column are rendered as bytea.
func (c *Conn) Quote(value any, column *schema.Column) string {
	if s, ok := value.(string); ok && column != nil && strings.EqualFold(column.DataType, "bytea") {
		return quoteBytea([]byte(s))
	}
	return literals.Literal(value)
}

func quoteBytea(b []byte) string {
	return `'\x` + hex.EncodeToString(b) + `'::bytea`
}

// Execute runs any statement. pgx defers execution until rows are consumed,
// so statements without a result set are still iterated.
func (c *Conn) Execute(ctx context.Context, sql string) (*schema.Result, error) {
	rows, err := c.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to execute statement: %w", err)
	}
	return collectRows(rows)
}

// Query runs a catalog query with $n placeholders.
func (c *Conn) Query(ctx context.Context, sql string, args ...any) (*schema.Result, error) {
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return collectRows(rows)
}

func collectRows(rows pgx.Rows) (*schema.Result, error) {
	defer rows.Close()

	result := &schema.Result{}
	fieldDescs := rows.FieldDescriptions()
	result.Columns = make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		result.Columns[i] = fd.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}
		rowMap := make(map[string]any, len(values))
		for i, col := range result.Columns {
			rowMap[col] = values[i]
		}
		result.Rows = append(result.Rows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	result.RowsAffected = rows.CommandTag().RowsAffected()
	return result, nil
}

// Ping checks the pool can reach the server.
func (c *Conn) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Close closes the pool if Open created it.
func (c *Conn) Close() error {
	if c.ownedPool && c.pool != nil {
		c.pool.Close()
	}
	return nil
}

var (
	_ schema.Conn   = (*Conn)(nil)
	_ schema.Pinger = (*Conn)(nil)
)
