package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/schema"
)

// Config holds all configuration for schemaplus.
// Configuration can come from a YAML file or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Datasource is the database the schema commands run against.
	Datasource DatasourceConfig `yaml:"datasource"`

	// Naming is the table naming convention applied to referenced tables.
	Naming NamingConfig `yaml:"naming"`

	// Connections configures the connection manager.
	Connections ConnectionsConfig `yaml:"connections"`

	// StrictEngine makes attaching to an engine without a capability set an
	// error instead of a warning.
	StrictEngine bool `yaml:"strict_engine" env:"SCHEMAPLUS_STRICT_ENGINE" env-default:"false"`

	// ForeignKeyIndex serves reverse foreign key lookups from an in-memory
	// index rebuilt after DDL.
	ForeignKeyIndex bool `yaml:"foreign_key_index" env:"SCHEMAPLUS_FOREIGN_KEY_INDEX" env-default:"false"`
}

// DatasourceConfig describes one database connection.
type DatasourceConfig struct {
	// ID identifies the datasource to the connection manager. When empty a
	// stable ID is derived from the engine and address.
	ID       string `yaml:"id" env:"DB_DATASOURCE_ID" env-default:""`
	Engine   string `yaml:"engine" env:"DB_ENGINE" env-default:"sqlite"`
	Host     string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"DB_PORT" env-default:"0"` // 0 uses the engine default
	User     string `yaml:"user" env:"DB_USER" env-default:""`
	Password string `yaml:"-" env:"DB_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"DB_NAME" env-default:""`
	Path     string `yaml:"path" env:"DB_PATH" env-default:""` // SQLite only
	SSLMode  string `yaml:"ssl_mode" env:"DB_SSL_MODE" env-default:""`
	TLS      string `yaml:"tls" env:"DB_TLS" env-default:""`

	// DockerHost replaces a loopback Host when the tool runs in a
	// container; "off" disables it. Not used for sqlite, which opens a
	// local file.
	DockerHost string `yaml:"docker_host" env:"DB_DOCKER_HOST" env-default:"host.docker.internal"`
}

// NamingConfig holds the table naming convention.
type NamingConfig struct {
	TablePrefix string `yaml:"table_prefix" env:"SCHEMAPLUS_TABLE_PREFIX" env-default:""`
	TableSuffix string `yaml:"table_suffix" env:"SCHEMAPLUS_TABLE_SUFFIX" env-default:""`
	Pluralize   bool   `yaml:"pluralize" env:"SCHEMAPLUS_PLURALIZE" env-default:"false"`
}

// ConnectionsConfig holds connection manager settings.
type ConnectionsConfig struct {
	// TTLMinutes is how long idle connections are kept open.
	TTLMinutes int `yaml:"ttl_minutes" env:"CONNECTION_TTL_MINUTES" env-default:"5"`
	// MaxConnections limits the number of open datasources.
	MaxConnections int `yaml:"max_connections" env:"MAX_CONNECTIONS" env-default:"20"`
}

// Load reads configuration from the YAML file at path with environment
// variable overrides. An empty path reads the environment only.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if path == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if schema.ParseEngineType(c.Datasource.Engine) == schema.EngineUnknown {
		return fmt.Errorf("unsupported datasource engine %q", c.Datasource.Engine)
	}
	if c.Datasource.ID != "" {
		if _, err := uuid.Parse(c.Datasource.ID); err != nil {
			return fmt.Errorf("datasource id: %w", err)
		}
	}
	return nil
}

// DatasourceID returns the configured ID, or one derived from the engine,
// address and database so the same datasource keeps the same ID.
func (d *DatasourceConfig) DatasourceID() uuid.UUID {
	if id, err := uuid.Parse(d.ID); err == nil {
		return id
	}
	key := strings.Join([]string{
		string(schema.ParseEngineType(d.Engine)),
		d.Host,
		fmt.Sprint(d.Port),
		d.Database,
		d.Path,
	}, "|")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key))
}

// Map returns the settings in the form the engine packages' FromMap
// functions accept. Unset fields are left out so engine defaults apply.
func (d *DatasourceConfig) Map() map[string]any {
	m := make(map[string]any)
	set := func(key, value string) {
		if value != "" {
			m[key] = value
		}
	}

	if schema.ParseEngineType(d.Engine) == schema.EngineSQLite {
		set("path", d.Path)
		set("database", d.Database)
		return m
	}

	set("host", d.Host)
	if d.Port > 0 {
		m["port"] = d.Port
	}
	set("user", d.User)
	set("password", d.Password)
	set("database", d.Database)
	set("ssl_mode", d.SSLMode)
	set("tls", d.TLS)
	set("docker_host", d.DockerHost)
	return m
}

// TableNamer returns the naming convention as a schema.TableNamer.
func (n NamingConfig) TableNamer() schema.TableNamer {
	return schema.Naming{
		Prefix:    n.TablePrefix,
		Suffix:    n.TableSuffix,
		Pluralize: n.Pluralize,
	}
}
