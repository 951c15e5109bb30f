package schema

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-schemaplus/pkg/logging"
)

// SQLer is implemented by query builders that can render themselves as SQL.
type SQLer interface {
	ToSQL() string
}

// ViewOptions controls CreateView.
type ViewOptions struct {
	// Force drops an existing view of the same name first.
	Force bool
}

// ForeignKeyOptions controls AddForeignKey.
type ForeignKeyOptions struct {
	Name       string
	OnUpdate   ReferentialAction
	OnDelete   ReferentialAction
	Deferrable Deferrable
}

// DropTableOptions is accepted by DropTable for callers that still pass a
// second argument. None of its fields change the DROP TABLE statement.
type DropTableOptions struct {
	Force bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger. A nil logger is replaced with a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithTableNamer sets the convention used to resolve referenced table names.
func WithTableNamer(namer TableNamer) Option {
	return func(a *Adapter) {
		if namer != nil {
			a.namer = namer
		}
	}
}

// WithStrictEngine makes Attach fail with ErrUnsupportedEngine when no
// capability set matches the connection, instead of falling back to the
// abstract capability set.
func WithStrictEngine() Option {
	return func(a *Adapter) {
		a.strict = true
	}
}

// WithForeignKeyIndex makes the Adapter precompute which tables reference
// which, and answer ReverseForeignKeys from that index. Only used when the
// capability set implements ForeignKeyLister.
func WithForeignKeyIndex() Option {
	return func(a *Adapter) {
		a.useFKIndex = true
	}
}

// Adapter is the uniform schema API over one connection.
//
// An Adapter starts unattached and becomes attached to exactly one
// engine's capability set; it never changes engine afterwards. Attach must
// complete before the Adapter is shared. After that, operations are safe
// for concurrent use as long as the wrapped Conn is; the reverse-foreign-key
// index is the only state the Adapter mutates and it has its own lock.
type Adapter struct {
	conn       Conn
	logger     *zap.Logger
	namer      TableNamer
	strict     bool
	useFKIndex bool

	attached   bool
	engine     Engine
	capability Capability

	fkMu    sync.Mutex
	fkIndex *ForeignKeyIndex // nil until built or after DDL invalidates it
}

// NewAdapter wraps conn without attaching a capability set. Until Attach
// succeeds the Adapter behaves like an unknown engine.
func NewAdapter(conn Conn, opts ...Option) *Adapter {
	a := &Adapter{
		conn:       conn,
		logger:     zap.NewNop(),
		namer:      Naming{},
		engine:     EngineUnknown,
		capability: NewAbstractCapability(EngineUnknown),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// New wraps conn and attaches the capability set matching its engine.
func New(ctx context.Context, conn Conn, opts ...Option) (*Adapter, error) {
	a := NewAdapter(conn, opts...)
	if err := a.Attach(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Attach detects the connection's engine and binds its capability set.
// Calling Attach on an attached Adapter does nothing, so connection
// re-initialization paths may call it freely.
func (a *Adapter) Attach(ctx context.Context) error {
	if a.attached {
		return nil
	}

	engineName := a.conn.EngineName()
	engine := DetectEngine(engineName)

	reg, ok := GetRegistration(engine)
	if !ok || reg.CapabilityFactory == nil {
		if a.strict {
			return fmt.Errorf("%w: %q", apperrors.ErrUnsupportedEngine, engineName)
		}
		a.logger.Warn("no capability set for engine, introspection unavailable",
			zap.String("engine_name", engineName),
		)
		a.engine = engine
		a.capability = NewAbstractCapability(engine)
		a.attached = true
		return nil
	}

	capability := reg.CapabilityFactory(a.conn, a.logger)
	if pa, ok := capability.(PostAttacher); ok {
		if err := pa.PostAttach(ctx); err != nil {
			return fmt.Errorf("post-attach %s: %w", engine, err)
		}
	}

	a.engine = engine
	a.capability = capability
	a.attached = true

	if a.useFKIndex {
		if err := a.RefreshForeignKeyIndex(ctx); err != nil {
			return err
		}
	}

	a.logger.Debug("attached capability set",
		zap.String("engine", engine.String()),
		zap.Bool("fk_index", a.useFKIndex),
	)
	return nil
}

// Attached reports whether Attach has completed.
func (a *Adapter) Attached() bool {
	return a.attached
}

// Engine returns the attached engine, EngineUnknown before Attach.
func (a *Adapter) Engine() Engine {
	return a.engine
}

// Capability returns the bound capability set.
func (a *Adapter) Capability() Capability {
	return a.capability
}

// Conn returns the wrapped connection.
func (a *Adapter) Conn() Conn {
	return a.conn
}

// Close closes the wrapped connection.
func (a *Adapter) Close() error {
	return a.conn.Close()
}

func (a *Adapter) execute(ctx context.Context, sql string) error {
	a.logger.Debug("executing schema statement",
		zap.String("engine", a.engine.String()),
		zap.String("sql", logging.SanitizeQuery(sql)),
	)
	_, err := a.conn.Execute(ctx, sql)
	return err
}

// CreateView creates view name as definition, which is SQL text or a
// SQLer. With opts.Force an existing view is dropped first. The two
// statements are not wrapped in a transaction.
func (a *Adapter) CreateView(ctx context.Context, name string, definition any, opts ViewOptions) error {
	var body string
	switch d := definition.(type) {
	case string:
		body = d
	case SQLer:
		body = d.ToSQL()
	default:
		return apperrors.InvalidArgumentf("view definition must be SQL text or a query builder, got %T", definition)
	}

	quoted := a.conn.QuoteTableName(name)
	if opts.Force {
		if err := a.execute(ctx, "DROP VIEW IF EXISTS "+quoted); err != nil {
			return fmt.Errorf("drop view %s: %w", name, err)
		}
	}
	if err := a.execute(ctx, "CREATE VIEW "+quoted+" AS "+body); err != nil {
		return fmt.Errorf("create view %s: %w", name, err)
	}
	return nil
}

// DropView drops view name. Dropping a missing view is an engine error.
func (a *Adapter) DropView(ctx context.Context, name string) error {
	if err := a.execute(ctx, "DROP VIEW "+a.conn.QuoteTableName(name)); err != nil {
		return fmt.Errorf("drop view %s: %w", name, err)
	}
	return nil
}

// AddForeignKey adds a constraint on table referencing refTable, which is
// resolved through the Adapter's TableNamer. Engines that cannot alter
// constraints fail with an UnsupportedOperationError before any SQL is sent.
func (a *Adapter) AddForeignKey(ctx context.Context, table string, columns []string, refTable string, refColumns []string, opts ForeignKeyOptions) error {
	if !a.capability.SupportsAlterForeignKeys() {
		return apperrors.NewUnsupportedOperationError(a.engine.String(), "adding foreign keys",
			"foreign keys must be declared when the table is created")
	}

	fk := ForeignKeyDefinition{
		Name:                  opts.Name,
		TableName:             table,
		ColumnNames:           columns,
		ReferencesTableName:   a.namer.ProperTableName(refTable),
		ReferencesColumnNames: refColumns,
		OnUpdate:              opts.OnUpdate,
		OnDelete:              opts.OnDelete,
		Deferrable:            opts.Deferrable,
	}
	if err := fk.Validate(); err != nil {
		return err
	}

	var clause string
	if dialect, ok := a.capability.(ForeignKeyDialect); ok {
		clause = dialect.RenderForeignKey(fk, a.conn)
	} else {
		clause = fk.ToSQL(a.conn)
	}

	a.invalidateForeignKeyIndex()
	if err := a.execute(ctx, "ALTER TABLE "+a.conn.QuoteTableName(table)+" ADD "+clause); err != nil {
		return fmt.Errorf("add foreign key on %s: %w", table, err)
	}
	return nil
}

// RemoveForeignKey drops constraint name from table. Engines that cannot
// alter constraints fail with an UnsupportedOperationError before any SQL
// is sent.
func (a *Adapter) RemoveForeignKey(ctx context.Context, table, name string) error {
	if !a.capability.SupportsAlterForeignKeys() {
		return apperrors.NewUnsupportedOperationError(a.engine.String(), "removing foreign keys",
			"foreign keys can only be dropped with their table")
	}
	if name == "" {
		return apperrors.InvalidArgumentf("foreign key on %q has no name", table)
	}

	var stmt string
	if dialect, ok := a.capability.(ForeignKeyDialect); ok {
		stmt = dialect.DropForeignKeySQL(a.conn, table, name)
	} else {
		stmt = "ALTER TABLE " + a.conn.QuoteTableName(table) + " DROP CONSTRAINT " + a.conn.QuoteColumnName(name)
	}

	a.invalidateForeignKeyIndex()
	if err := a.execute(ctx, stmt); err != nil {
		return fmt.Errorf("remove foreign key %s on %s: %w", name, table, err)
	}
	return nil
}

// DropTable drops table name. On engines that can alter constraints, every
// foreign key on another table that references name is removed first so no
// dangling reference is left behind. opts is accepted for compatibility and
// ignored.
func (a *Adapter) DropTable(ctx context.Context, name string, opts ...DropTableOptions) error {
	if a.capability.SupportsAlterForeignKeys() {
		fks, err := a.ReverseForeignKeys(ctx, name)
		if err != nil {
			return fmt.Errorf("list foreign keys referencing %s: %w", name, err)
		}
		for _, fk := range fks {
			if err := a.RemoveForeignKey(ctx, fk.TableName, fk.Name); err != nil {
				return err
			}
		}
	}

	a.invalidateForeignKeyIndex()
	if err := a.execute(ctx, "DROP TABLE "+a.conn.QuoteTableName(name)); err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}
	return nil
}

// SupportsPartialIndexes reports whether the engine supports CREATE INDEX
// ... WHERE. False unless the capability set says otherwise.
func (a *Adapter) SupportsPartialIndexes() bool {
	return a.capability.SupportsPartialIndexes()
}

// Views returns the names of all views.
func (a *Adapter) Views(ctx context.Context) ([]string, error) {
	return a.capability.Views(ctx)
}

// ViewDefinition returns the SQL that follows "CREATE VIEW name AS".
func (a *Adapter) ViewDefinition(ctx context.Context, viewName string) (string, error) {
	return a.capability.ViewDefinition(ctx, viewName)
}

// ForeignKeys returns the constraints defined on table.
func (a *Adapter) ForeignKeys(ctx context.Context, table string) ([]ForeignKeyDefinition, error) {
	return a.capability.ForeignKeys(ctx, table)
}

// ReverseForeignKeys returns the constraints on other tables that
// reference table.
func (a *Adapter) ReverseForeignKeys(ctx context.Context, table string) ([]ForeignKeyDefinition, error) {
	if a.useFKIndex {
		if lister, ok := a.capability.(ForeignKeyLister); ok {
			a.fkMu.Lock()
			defer a.fkMu.Unlock()
			if a.fkIndex == nil {
				if err := a.buildForeignKeyIndex(ctx, lister); err != nil {
					return nil, err
				}
			}
			return a.fkIndex.Referencing(table), nil
		}
	}
	return a.capability.ReverseForeignKeys(ctx, table)
}

// RefreshForeignKeyIndex rebuilds the reverse-foreign-key index. It is a
// no-op when the capability set cannot list all foreign keys.
func (a *Adapter) RefreshForeignKeyIndex(ctx context.Context) error {
	lister, ok := a.capability.(ForeignKeyLister)
	if !ok {
		return nil
	}
	a.fkMu.Lock()
	defer a.fkMu.Unlock()
	return a.buildForeignKeyIndex(ctx, lister)
}

// buildForeignKeyIndex must be called with fkMu held. Table names are
// compared exactly unless the capability set reports that the engine
// folds their case.
func (a *Adapter) buildForeignKeyIndex(ctx context.Context, lister ForeignKeyLister) error {
	fks, err := lister.AllForeignKeys(ctx)
	if err != nil {
		return fmt.Errorf("build foreign key index: %w", err)
	}
	caseFold := false
	if folder, ok := a.capability.(TableNameFolder); ok {
		caseFold = folder.FoldsTableNameCase()
	}
	a.fkIndex = NewForeignKeyIndex(fks, caseFold)
	a.logger.Debug("built foreign key index",
		zap.String("engine", a.engine.String()),
		zap.Bool("case_fold", caseFold),
		zap.Int("foreign_keys", a.fkIndex.Len()),
	)
	return nil
}

func (a *Adapter) invalidateForeignKeyIndex() {
	a.fkMu.Lock()
	a.fkIndex = nil
	a.fkMu.Unlock()
}

// Indexes returns the non-primary indexes of table.
func (a *Adapter) Indexes(ctx context.Context, table string) ([]Index, error) {
	return a.capability.Indexes(ctx, table)
}

// IndexNameExists reports whether table has an index called indexName.
func (a *Adapter) IndexNameExists(ctx context.Context, table, indexName string) (bool, error) {
	indexes, err := a.capability.Indexes(ctx, table)
	if err != nil {
		return false, err
	}
	for _, idx := range indexes {
		if idx.Name == indexName {
			return true, nil
		}
	}
	return false, nil
}

// Columns returns the columns of table with their defaults parsed.
func (a *Adapter) Columns(ctx context.Context, table string) ([]Column, error) {
	return a.capability.Columns(ctx, table)
}

// DefaultExprValid reports whether expr may be used as a column default.
func (a *Adapter) DefaultExprValid(expr string) (bool, error) {
	return a.capability.DefaultExprValid(expr)
}

// SQLForFunction returns the engine's SQL for fn.
func (a *Adapter) SQLForFunction(fn Function) (string, error) {
	return a.capability.SQLForFunction(fn)
}
