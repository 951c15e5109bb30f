package schema

import "strings"

// Engine identifies a database product/dialect a connection talks to.
type Engine string

const (
	EngineUnknown  Engine = ""
	EngineMySQL    Engine = "mysql"
	EnginePostgres Engine = "postgres"
	EngineSQLite   Engine = "sqlite"
)

// String returns the display name used in logs and error messages.
func (e Engine) String() string {
	switch e {
	case EngineMySQL:
		return "MySQL"
	case EnginePostgres:
		return "PostgreSQL"
	case EngineSQLite:
		return "SQLite"
	default:
		return "unknown engine"
	}
}

// DetectEngine maps the engine name reported by a connection to an Engine.
//
// Names starting with "mysql" in any case (MySQL, Mysql2, ...) are MySQL.
// "PostgreSQL" and "SQLite" must match exactly. Anything else is
// EngineUnknown, which is not an error.
func DetectEngine(name string) Engine {
	switch {
	case strings.HasPrefix(strings.ToLower(name), "mysql"):
		return EngineMySQL
	case name == "PostgreSQL":
		return EnginePostgres
	case name == "SQLite":
		return EngineSQLite
	default:
		return EngineUnknown
	}
}

// ParseEngineType maps a configuration type string ("postgres", "sqlite3",
// ...) to an Engine. Unlike DetectEngine it accepts the short lowercase
// names used in config files.
func ParseEngineType(typ string) Engine {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "postgres", "postgresql", "pg":
		return EnginePostgres
	case "mysql", "mysql2":
		return EngineMySQL
	case "sqlite", "sqlite3":
		return EngineSQLite
	default:
		return EngineUnknown
	}
}
