package postgres

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/config"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-ca", "verify-full"
	MaxConns int32  // 0 keeps the pgxpool default

	// DockerHost replaces a loopback Host when running in a container.
	// config.DockerHostOff disables the rewrite.
	DockerHost string
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "require"
}

// FromMap creates a Config from a generic config map.
func FromMap(cfgMap map[string]any) (*Config, error) {
	cfg := &Config{
		Port:       DefaultPort(),
		SSLMode:    DefaultSSLMode(),
		DockerHost: config.DefaultDockerHost,
	}

	if host, ok := cfgMap["host"].(string); ok && host != "" {
		cfg.Host = host
	} else {
		return nil, fmt.Errorf("host is required")
	}

	if port, ok := cfgMap["port"].(float64); ok { // JSON numbers are float64
		cfg.Port = int(port)
	} else if port, ok := cfgMap["port"].(int); ok {
		cfg.Port = port
	}

	if user, ok := cfgMap["user"].(string); ok && user != "" {
		cfg.User = user
	} else {
		return nil, fmt.Errorf("user is required")
	}

	if password, ok := cfgMap["password"].(string); ok {
		cfg.Password = password
	}

	if database, ok := cfgMap["database"].(string); ok && database != "" {
		cfg.Database = database
	} else {
		return nil, fmt.Errorf("database is required")
	}

	if sslMode, ok := cfgMap["ssl_mode"].(string); ok && sslMode != "" {
		cfg.SSLMode = sslMode
	}

	if maxConns, ok := cfgMap["max_conns"].(int); ok {
		cfg.MaxConns = int32(maxConns)
	} else if maxConns, ok := cfgMap["max_conns"].(float64); ok {
		cfg.MaxConns = int32(maxConns)
	}

	if dockerHost, ok := cfgMap["docker_host"].(string); ok && dockerHost != "" {
		cfg.DockerHost = dockerHost
	}

	return cfg, nil
}

// ConnectionString builds a PostgreSQL URL. User-provided fields are
// URL-escaped so passwords containing @, /, # or ? survive parsing. Inside
// a container a loopback host resolves to DockerHost.
func (c *Config) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}

	host := config.NewHostResolver(c.DockerHost).Resolve(c.Host)
	addr := net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(c.Port))

	return fmt.Sprintf(
		"postgresql://%s:%s@%s/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		addr,
		url.QueryEscape(c.Database),
		url.QueryEscape(sslMode),
	)
}
