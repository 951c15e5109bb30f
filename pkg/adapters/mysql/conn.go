package mysql

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/logging"
	"github.com/ekaya-inc/ekaya-schemaplus/pkg/retry"
	"github.com/ekaya-inc/ekaya-schemaplus/pkg/schema"
)

// EngineName is the product name MySQL connections report.
const EngineName = "MySQL"

var literals = schema.LiteralStyle{
	QuoteString: quoteString,
	QuoteBytes:  quoteBytes,
	True:        "1",
	False:       "0",
	TimeLayout:  "2006-01-02 15:04:05.999999",
}

// Conn is a schema.Conn over database/sql with the go-sql-driver/mysql driver.
type Conn struct {
	db      *sql.DB
	logger  *zap.Logger
	ownedDB bool
}

// NewConn wraps an existing *sql.DB. The caller keeps ownership of db.
func NewConn(db *sql.DB, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{db: db, logger: logger.Named("mysql")}
}

// Open opens a connection pool for cfg and waits until it answers a ping.
func Open(ctx context.Context, cfg *Config, logger *zap.Logger) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("mysql")

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %s", logging.SanitizeError(err))
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(max(1, cfg.MaxOpenConns/2))
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("mysql ping failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("error", logging.SanitizeError(err)),
		)
	}
	if err := retry.DoIfRetryable(ctx, retryCfg, func() error {
		return db.PingContext(ctx)
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL database: %w", err)
	}

	logger.Debug("mysql pool ready",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)
	return &Conn{db: db, logger: logger, ownedDB: true}, nil
}

// DB returns the underlying pool.
func (c *Conn) DB() *sql.DB {
	return c.db
}

func (c *Conn) EngineName() string {
	return EngineName
}

// QuoteTableName quotes a possibly database-qualified name with backticks.
func (c *Conn) QuoteTableName(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

func (c *Conn) QuoteColumnName(name string) string {
	return quoteIdentifier(name)
}

func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Quote renders value as a MySQL literal. Booleans become 1 and 0.
func (c *Conn) Quote(value any, column *schema.Column) string {
	return literals.Literal(value)
}

var stringEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"'", "\\'",
	"\"", "\\\"",
	"\x00", "\\0",
	"\n", "\\n",
	"\r", "\\r",
	"\x1a", "\\Z",
)

// quoteString escapes s the way the server expects with the default
// sql_mode (backslash escapes enabled).
func quoteString(s string) string {
	return "'" + stringEscaper.Replace(s) + "'"
}

func quoteBytes(b []byte) string {
	if len(b) == 0 {
		return "''"
	}
	return "X'" + hex.EncodeToString(b) + "'"
}

// Execute runs a statement that returns no rows.
func (c *Conn) Execute(ctx context.Context, query string) (*schema.Result, error) {
	res, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute statement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return &schema.Result{RowsAffected: affected}, nil
}

// Query runs a catalog query with ? placeholders. Text columns scanned as
// []byte are returned as strings.
func (c *Conn) Query(ctx context.Context, query string, args ...any) (*schema.Result, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	result := &schema.Result{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				rowMap[col] = string(b)
			} else {
				rowMap[col] = values[i]
			}
		}
		result.Rows = append(result.Rows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return result, nil
}

// Ping checks the pool can reach the server.
func (c *Conn) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the pool if Open created it.
func (c *Conn) Close() error {
	if c.ownedDB && c.db != nil {
		return c.db.Close()
	}
	return nil
}

var (
	_ schema.Conn   = (*Conn)(nil)
	_ schema.Pinger = (*Conn)(nil)
)
