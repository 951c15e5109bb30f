package schema

import "github.com/jinzhu/inflection"

// TableNamer resolves a logical table name to the name used in the database.
type TableNamer interface {
	ProperTableName(name string) string
}

// Naming is the default TableNamer: optional pluralization, then a fixed
// prefix and suffix. The zero value returns names unchanged.
type Naming struct {
	Prefix    string
	Suffix    string
	Pluralize bool
}

// ProperTableName applies the naming convention to name.
func (n Naming) ProperTableName(name string) string {
	if name == "" {
		return name
	}
	if n.Pluralize {
		name = inflection.Plural(name)
	}
	return n.Prefix + name + n.Suffix
}

var _ TableNamer = Naming{}
