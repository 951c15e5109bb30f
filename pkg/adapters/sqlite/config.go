package sqlite

import (
	"fmt"
	"net/url"
	"strings"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Config contains SQLite connection options.
type Config struct {
	Path     string
	ReadOnly bool
}

// FromMap creates a Config from a generic config map. "path" wins over
// "database"; with neither an in-memory database is used.
func FromMap(cfgMap map[string]any) (*Config, error) {
	cfg := &Config{Path: MemoryPath}

	if path, ok := cfgMap["path"].(string); ok && path != "" {
		cfg.Path = path
	} else if database, ok := cfgMap["database"].(string); ok && database != "" {
		cfg.Path = database
	}

	if ro, ok := cfgMap["read_only"].(bool); ok {
		cfg.ReadOnly = ro
	}

	if cfg.ReadOnly && cfg.IsMemory() {
		return nil, fmt.Errorf("read_only requires a database file")
	}
	return cfg, nil
}

// IsMemory reports whether the database lives only in memory. Every
// connection to such a database sees its own copy.
func (c *Config) IsMemory() bool {
	return c.Path == MemoryPath || strings.Contains(c.Path, "mode=memory")
}

// DSN builds a file: URI with foreign key enforcement switched on for
// every connection.
func (c *Config) DSN() string {
	path := c.Path
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}

	params := url.Values{}
	params.Set(foreignKeysParam, foreignKeysValue)
	if c.ReadOnly {
		params.Set("mode", "ro")
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params.Encode()
}
