package schema

import (
	"context"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/apperrors"
)

// Capability is the engine-specific half of the schema layer: catalog
// introspection and the dialect decisions the Adapter cannot make itself.
// Every engine package ships one implementation; the Adapter binds it to a
// connection once, at attach time.
type Capability interface {
	// Engine returns the engine this capability set serves.
	Engine() Engine

	// Views returns the names of all user views.
	Views(ctx context.Context) ([]string, error)

	// ViewDefinition returns the SQL that follows "CREATE VIEW name AS".
	ViewDefinition(ctx context.Context, viewName string) (string, error)

	// ForeignKeys returns the constraints defined on tableName.
	ForeignKeys(ctx context.Context, tableName string) ([]ForeignKeyDefinition, error)

	// ReverseForeignKeys returns the constraints defined on other tables
	// that reference tableName.
	ReverseForeignKeys(ctx context.Context, tableName string) ([]ForeignKeyDefinition, error)

	// Indexes returns the non-primary indexes of tableName.
	Indexes(ctx context.Context, tableName string) ([]Index, error)

	// Columns returns the columns of tableName with defaults parsed.
	Columns(ctx context.Context, tableName string) ([]Column, error)

	// DefaultExprValid reports whether expr may be used as a column default.
	DefaultExprValid(expr string) (bool, error)

	// SQLForFunction returns the engine's SQL for a canonical function.
	// Unknown functions are an ErrInvalidArgument.
	SQLForFunction(fn Function) (string, error)

	// SupportsPartialIndexes reports whether CREATE INDEX ... WHERE is available.
	SupportsPartialIndexes() bool

	// SupportsAlterForeignKeys reports whether constraints can be added to or
	// dropped from an existing table.
	SupportsAlterForeignKeys() bool
}

// PostAttacher is implemented by capability sets needing one-time setup
// after they are bound to a connection.
type PostAttacher interface {
	PostAttach(ctx context.Context) error
}

// ForeignKeyDialect is implemented by capability sets whose constraint DDL
// differs from the ANSI form the Adapter emits by default.
type ForeignKeyDialect interface {
	// RenderForeignKey renders the clause following "ALTER TABLE t ADD".
	RenderForeignKey(fk ForeignKeyDefinition, q Quoter) string

	// DropForeignKeySQL returns the full statement dropping a constraint.
	DropForeignKeySQL(q Quoter, tableName, constraintName string) string
}

// ForeignKeyLister is implemented by capability sets able to list every
// foreign key in the database in one pass. The Adapter uses it to build a
// reverse-foreign-key index when created WithForeignKeyIndex.
type ForeignKeyLister interface {
	AllForeignKeys(ctx context.Context) ([]ForeignKeyDefinition, error)
}

// TableNameFolder is implemented by capability sets whose engine treats
// table names case-insensitively. Without it, table names are compared
// exactly.
type TableNameFolder interface {
	FoldsTableNameCase() bool
}

// AbstractCapability is bound when no engine capability set matches the
// connection. Introspection fails with ErrNotImplemented rather than
// returning data that could be wrong; DDL the Adapter renders itself uses
// the ANSI forms.
type AbstractCapability struct {
	engine Engine
}

// NewAbstractCapability returns the fallback capability set for engine.
func NewAbstractCapability(engine Engine) *AbstractCapability {
	return &AbstractCapability{engine: engine}
}

func (c *AbstractCapability) Engine() Engine {
	return c.engine
}

func (c *AbstractCapability) Views(ctx context.Context) ([]string, error) {
	return nil, apperrors.NotImplemented("views")
}

func (c *AbstractCapability) ViewDefinition(ctx context.Context, viewName string) (string, error) {
	return "", apperrors.NotImplemented("view definition")
}

func (c *AbstractCapability) ForeignKeys(ctx context.Context, tableName string) ([]ForeignKeyDefinition, error) {
	return nil, apperrors.NotImplemented("foreign keys")
}

func (c *AbstractCapability) ReverseForeignKeys(ctx context.Context, tableName string) ([]ForeignKeyDefinition, error) {
	return nil, apperrors.NotImplemented("reverse foreign keys")
}

func (c *AbstractCapability) Indexes(ctx context.Context, tableName string) ([]Index, error) {
	return nil, apperrors.NotImplemented("indexes")
}

func (c *AbstractCapability) Columns(ctx context.Context, tableName string) ([]Column, error) {
	return nil, apperrors.NotImplemented("columns")
}

func (c *AbstractCapability) DefaultExprValid(expr string) (bool, error) {
	return false, apperrors.NotImplemented("default expression validation")
}

func (c *AbstractCapability) SQLForFunction(fn Function) (string, error) {
	return "", apperrors.NotImplemented("sql for function")
}

func (c *AbstractCapability) SupportsPartialIndexes() bool {
	return false
}

func (c *AbstractCapability) SupportsAlterForeignKeys() bool {
	return true
}

// Ensure AbstractCapability implements Capability at compile time.
var _ Capability = (*AbstractCapability)(nil)
