package sqlite

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/schema"
)

// EngineName is the product name SQLite connections report.
const EngineName = "SQLite"

var literals = schema.LiteralStyle{
	QuoteString: schema.QuoteStandardString,
	QuoteBytes:  quoteBytes,
	True:        "1",
	False:       "0",
	TimeLayout:  "2006-01-02 15:04:05.999999999-07:00",
}

// Conn is a schema.Conn over database/sql with the build's SQLite driver.
type Conn struct {
	db      *sql.DB
	logger  *zap.Logger
	ownedDB bool
}

// NewConn wraps an existing *sql.DB. The caller keeps ownership of db and
// is responsible for enabling foreign key enforcement on it.
func NewConn(db *sql.DB, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{db: db, logger: logger.Named("sqlite")}
}

// Open opens the database described by cfg. An in-memory database is
// limited to one connection so every statement sees the same data.
func Open(ctx context.Context, cfg *Config, logger *zap.Logger) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sqlite")

	db, err := sql.Open(driverName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	if cfg.IsMemory() {
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open SQLite database %s: %w", cfg.Path, err)
	}

	logger.Debug("sqlite database ready",
		zap.String("path", cfg.Path),
		zap.String("driver", driverType),
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

// QuoteTableName quotes a possibly schema-qualified name ("main.users").
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
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Quote renders value as a SQLite literal. Booleans become 1 and 0.
func (c *Conn) Quote(value any, column *schema.Column) string {
	return literals.Literal(value)
}

func quoteBytes(b []byte) string {
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

// Query runs a catalog query with ? placeholders.
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
			rowMap[col] = values[i]
		}
		result.Rows = append(result.Rows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return result, nil
}

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
