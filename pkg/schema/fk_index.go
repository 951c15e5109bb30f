package schema

import "strings"

// ForeignKeyIndex maps each referenced table to the constraints that point
// at it. It answers ReverseForeignKeys without a catalog round trip.
type ForeignKeyIndex struct {
	byReferenced map[string][]ForeignKeyDefinition
	caseFold     bool
}

// NewForeignKeyIndex indexes fks by referenced table. With caseFold, table
// names are compared case-insensitively (SQLite, MySQL with
// lower_case_table_names set).
func NewForeignKeyIndex(fks []ForeignKeyDefinition, caseFold bool) *ForeignKeyIndex {
	idx := &ForeignKeyIndex{
		byReferenced: make(map[string][]ForeignKeyDefinition),
		caseFold:     caseFold,
	}
	for _, fk := range fks {
		key := idx.key(fk.ReferencesTableName)
		idx.byReferenced[key] = append(idx.byReferenced[key], fk)
	}
	return idx
}

func (idx *ForeignKeyIndex) key(table string) string {
	if idx.caseFold {
		return strings.ToLower(table)
	}
	return table
}

// Referencing returns the constraints on other tables that reference table.
// Self-references are excluded. The returned slice is a copy.
func (idx *ForeignKeyIndex) Referencing(table string) []ForeignKeyDefinition {
	var result []ForeignKeyDefinition
	for _, fk := range idx.byReferenced[idx.key(table)] {
		if idx.key(fk.TableName) == idx.key(table) {
			continue
		}
		result = append(result, cloneForeignKey(fk))
	}
	return result
}

// Len returns the number of indexed constraints.
func (idx *ForeignKeyIndex) Len() int {
	n := 0
	for _, fks := range idx.byReferenced {
		n += len(fks)
	}
	return n
}

func cloneForeignKey(fk ForeignKeyDefinition) ForeignKeyDefinition {
	fk.ColumnNames = append([]string(nil), fk.ColumnNames...)
	fk.ReferencesColumnNames = append([]string(nil), fk.ReferencesColumnNames...)
	return fk
}
