package schema

import (
	"strings"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/apperrors"
)

// ReferentialAction is the ON UPDATE / ON DELETE behavior of a foreign key.
type ReferentialAction int

const (
	ActionUnset ReferentialAction = iota
	ActionNoAction
	ActionCascade
	ActionRestrict
	ActionSetNull
	ActionSetDefault
)

// String returns the SQL keyword for the action, or "" when unset.
func (a ReferentialAction) String() string {
	switch a {
	case ActionNoAction:
		return "NO ACTION"
	case ActionCascade:
		return "CASCADE"
	case ActionRestrict:
		return "RESTRICT"
	case ActionSetNull:
		return "SET NULL"
	case ActionSetDefault:
		return "SET DEFAULT"
	default:
		return ""
	}
}

// ParseReferentialAction converts catalog rule text to a ReferentialAction.
// Accepts SQL keywords in any case ("CASCADE", "set null", "set_null") and
// the single-letter codes PostgreSQL stores in pg_constraint.
func ParseReferentialAction(s string) (ReferentialAction, error) {
	norm := strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(s, "_", " ")))
	switch norm {
	case "":
		return ActionUnset, nil
	case "NO ACTION", "A":
		return ActionNoAction, nil
	case "CASCADE", "C":
		return ActionCascade, nil
	case "RESTRICT", "R":
		return ActionRestrict, nil
	case "SET NULL", "N":
		return ActionSetNull, nil
	case "SET DEFAULT", "D":
		return ActionSetDefault, nil
	default:
		return ActionUnset, apperrors.InvalidArgumentf("unknown referential action %q", s)
	}
}

// Deferrable is the constraint-checking mode of a foreign key.
// Engines without deferred constraint checking ignore it.
type Deferrable int

const (
	NotDeferrable Deferrable = iota
	DeferrableImmediate
	DeferrableInitiallyDeferred
)

// Quoter quotes identifiers for one SQL dialect.
type Quoter interface {
	QuoteTableName(name string) string
	QuoteColumnName(name string) string
}

// ForeignKeyDefinition describes one foreign-key constraint.
// Values are built per call, either to render DDL or from catalog
// introspection, and are never cached.
type ForeignKeyDefinition struct {
	Name                  string // empty lets the engine generate a name
	TableName             string
	ColumnNames           []string
	ReferencesTableName   string
	ReferencesColumnNames []string
	OnUpdate              ReferentialAction
	OnDelete              ReferentialAction
	Deferrable            Deferrable
}

// Validate checks the column lists are non-empty and of equal length.
func (fk ForeignKeyDefinition) Validate() error {
	if len(fk.ColumnNames) == 0 {
		return apperrors.InvalidArgumentf("foreign key on %q has no columns", fk.TableName)
	}
	if len(fk.ColumnNames) != len(fk.ReferencesColumnNames) {
		return apperrors.InvalidArgumentf("foreign key on %q has %d columns but references %d",
			fk.TableName, len(fk.ColumnNames), len(fk.ReferencesColumnNames))
	}
	if fk.ReferencesTableName == "" {
		return apperrors.InvalidArgumentf("foreign key on %q has no referenced table", fk.TableName)
	}
	return nil
}

// ToSQL renders the constraint as the body of an ALTER TABLE ... ADD clause
// or a CREATE TABLE element:
//
//	[CONSTRAINT name ]FOREIGN KEY (a, b) REFERENCES t (x, y)[ ON UPDATE ..][ ON DELETE ..][ DEFERRABLE[ INITIALLY DEFERRED]]
//
// Identifiers go through q; with a nil q they are written as given.
func (fk ForeignKeyDefinition) ToSQL(q Quoter) string {
	var sb strings.Builder
	fk.writeBody(&sb, q)
	writeDeferrable(&sb, fk.Deferrable)
	return sb.String()
}

// ToSQLWithoutDeferrable renders like ToSQL but never emits a DEFERRABLE
// clause, for dialects that reject it.
func (fk ForeignKeyDefinition) ToSQLWithoutDeferrable(q Quoter) string {
	var sb strings.Builder
	fk.writeBody(&sb, q)
	return sb.String()
}

func (fk ForeignKeyDefinition) writeBody(sb *strings.Builder, q Quoter) {
	if fk.Name != "" {
		sb.WriteString("CONSTRAINT ")
		sb.WriteString(quoteColumn(q, fk.Name))
		sb.WriteString(" ")
	}
	sb.WriteString("FOREIGN KEY (")
	writeColumnList(sb, q, fk.ColumnNames)
	sb.WriteString(") REFERENCES ")
	sb.WriteString(quoteTable(q, fk.ReferencesTableName))
	sb.WriteString(" (")
	writeColumnList(sb, q, fk.ReferencesColumnNames)
	sb.WriteString(")")
	if fk.OnUpdate != ActionUnset {
		sb.WriteString(" ON UPDATE ")
		sb.WriteString(fk.OnUpdate.String())
	}
	if fk.OnDelete != ActionUnset {
		sb.WriteString(" ON DELETE ")
		sb.WriteString(fk.OnDelete.String())
	}
}

func writeDeferrable(sb *strings.Builder, d Deferrable) {
	switch d {
	case DeferrableImmediate:
		sb.WriteString(" DEFERRABLE")
	case DeferrableInitiallyDeferred:
		sb.WriteString(" DEFERRABLE INITIALLY DEFERRED")
	}
}

func writeColumnList(sb *strings.Builder, q Quoter, names []string) {
	for i, name := range names {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quoteColumn(q, name))
	}
}

func quoteTable(q Quoter, name string) string {
	if q == nil {
		return name
	}
	return q.QuoteTableName(name)
}

func quoteColumn(q Quoter, name string) string {
	if q == nil {
		return name
	}
	return q.QuoteColumnName(name)
}

// ForeignKeyBuilder assembles ForeignKeyDefinitions from catalog rows that
// list one column pair per row, keeping constraint and column order.
type ForeignKeyBuilder struct {
	order []string
	byKey map[string]*ForeignKeyDefinition
}

// NewForeignKeyBuilder creates an empty builder.
func NewForeignKeyBuilder() *ForeignKeyBuilder {
	return &ForeignKeyBuilder{byKey: make(map[string]*ForeignKeyDefinition)}
}

// Add appends one column pair to the constraint identified by key.
// The first row for a key supplies the constraint-level fields.
func (b *ForeignKeyBuilder) Add(key string, fk ForeignKeyDefinition, column, refColumn string) {
	existing, ok := b.byKey[key]
	if !ok {
		fk.ColumnNames = nil
		fk.ReferencesColumnNames = nil
		existing = &fk
		b.byKey[key] = existing
		b.order = append(b.order, key)
	}
	existing.ColumnNames = append(existing.ColumnNames, column)
	existing.ReferencesColumnNames = append(existing.ReferencesColumnNames, refColumn)
}

// Build returns the assembled definitions in first-seen order.
func (b *ForeignKeyBuilder) Build() []ForeignKeyDefinition {
	result := make([]ForeignKeyDefinition, 0, len(b.order))
	for _, key := range b.order {
		result = append(result, *b.byKey[key])
	}
	return result
}
