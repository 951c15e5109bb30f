package schema

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/apperrors"
)

// The schema package tests register a fake capability set for each known
// engine. Engine packages register their real ones in their own binaries.
func init() {
	for _, e := range []Engine{EngineMySQL, EnginePostgres, EngineSQLite} {
		engine := e
		Register(EngineRegistration{
			Info: EngineInfo{Engine: engine, DisplayName: engine.String(), Description: "test capability set"},
			CapabilityFactory: func(conn Conn, logger *zap.Logger) Capability {
				return &fakeCapability{engine: engine, conn: conn.(*fakeConn)}
			},
		})
	}
}

var testLiterals = LiteralStyle{
	QuoteString: QuoteStandardString,
	True:        "TRUE",
	False:       "FALSE",
}

// fakeConn records every statement and quotes identifiers verbatim.
type fakeConn struct {
	engineName string
	statements []string
	failOn     map[string]error // statement prefix -> error

	reverse map[string][]ForeignKeyDefinition
	all     []ForeignKeyDefinition
	indexes map[string][]Index

	functionSQL map[Function]string // overrides SQLForFunction

	mu              sync.Mutex
	postAttachCalls int
	allFKCalls      int
	reverseCalls    int
	closed          bool
}

func newFakeConn(engineName string) *fakeConn {
	return &fakeConn{
		engineName:  engineName,
		failOn:      make(map[string]error),
		reverse:     make(map[string][]ForeignKeyDefinition),
		indexes:     make(map[string][]Index),
		functionSQL: make(map[Function]string),
	}
}

func (c *fakeConn) QuoteTableName(name string) string  { return name }
func (c *fakeConn) QuoteColumnName(name string) string { return name }
func (c *fakeConn) EngineName() string                 { return c.engineName }

func (c *fakeConn) Execute(ctx context.Context, sql string) (*Result, error) {
	c.statements = append(c.statements, sql)
	for prefix, err := range c.failOn {
		if strings.HasPrefix(sql, prefix) {
			return nil, err
		}
	}
	return &Result{}, nil
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (*Result, error) {
	return &Result{}, nil
}

func (c *fakeConn) Quote(value any, column *Column) string {
	return testLiterals.Literal(value)
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

// fakeCapability serves catalog data from its fakeConn. The SQLite flavor
// refuses to alter foreign keys, like the real one.
type fakeCapability struct {
	engine Engine
	conn   *fakeConn
}

func (c *fakeCapability) Engine() Engine { return c.engine }

func (c *fakeCapability) PostAttach(ctx context.Context) error {
	c.conn.postAttachCalls++
	return nil
}

func (c *fakeCapability) Views(ctx context.Context) ([]string, error) {
	return []string{"active_users"}, nil
}

func (c *fakeCapability) ViewDefinition(ctx context.Context, viewName string) (string, error) {
	return "SELECT * FROM users WHERE active", nil
}

func (c *fakeCapability) ForeignKeys(ctx context.Context, tableName string) ([]ForeignKeyDefinition, error) {
	var result []ForeignKeyDefinition
	for _, fk := range c.conn.all {
		if fk.TableName == tableName {
			result = append(result, fk)
		}
	}
	return result, nil
}

func (c *fakeCapability) ReverseForeignKeys(ctx context.Context, tableName string) ([]ForeignKeyDefinition, error) {
	c.conn.reverseCalls++
	return c.conn.reverse[tableName], nil
}

func (c *fakeCapability) AllForeignKeys(ctx context.Context) ([]ForeignKeyDefinition, error) {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()
	c.conn.allFKCalls++
	return c.conn.all, nil
}

func (c *fakeCapability) Indexes(ctx context.Context, tableName string) ([]Index, error) {
	return c.conn.indexes[tableName], nil
}

func (c *fakeCapability) Columns(ctx context.Context, tableName string) ([]Column, error) {
	return nil, nil
}

func (c *fakeCapability) DefaultExprValid(expr string) (bool, error) {
	return !strings.Contains(expr, ";"), nil
}

func (c *fakeCapability) SQLForFunction(fn Function) (string, error) {
	if sql, ok := c.conn.functionSQL[fn]; ok {
		return sql, nil
	}
	if fn == FunctionNow {
		return "CURRENT_TIMESTAMP", nil
	}
	return "", apperrors.InvalidArgumentf("unknown function %q", fn)
}

func (c *fakeCapability) FoldsTableNameCase() bool {
	return c.engine == EngineSQLite
}

func (c *fakeCapability) SupportsPartialIndexes() bool {
	return c.engine == EnginePostgres
}

func (c *fakeCapability) SupportsAlterForeignKeys() bool {
	return c.engine != EngineSQLite
}

var (
	_ Capability       = (*fakeCapability)(nil)
	_ PostAttacher     = (*fakeCapability)(nil)
	_ ForeignKeyLister = (*fakeCapability)(nil)
	_ TableNameFolder  = (*fakeCapability)(nil)
	_ Conn             = (*fakeConn)(nil)
)
