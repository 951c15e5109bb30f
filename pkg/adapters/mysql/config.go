package mysql

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/config"
)

// Config contains MySQL-specific connection options.
type Config struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	TLS          string // "true", "false", "skip-verify", "preferred"
	MaxOpenConns int

	// DockerHost replaces a loopback Host when running in a container.
	// config.DockerHostOff disables the rewrite.
	DockerHost string
}

// DefaultPort returns the default MySQL port.
func DefaultPort() int {
	return 3306
}

// DefaultTLS returns the default TLS mode.
func DefaultTLS() string {
	return "preferred"
}

// FromMap creates a Config from a generic config map.
func FromMap(cfgMap map[string]any) (*Config, error) {
	cfg := &Config{
		Port:         DefaultPort(),
		TLS:          DefaultTLS(),
		MaxOpenConns: 10,
		DockerHost:   config.DefaultDockerHost,
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

	if tls, ok := cfgMap["tls"].(string); ok && tls != "" {
		cfg.TLS = tls
	}

	if n, ok := cfgMap["max_open_conns"].(int); ok {
		cfg.MaxOpenConns = n
	} else if n, ok := cfgMap["max_open_conns"].(float64); ok {
		cfg.MaxOpenConns = int(n)
	}

	if dockerHost, ok := cfgMap["docker_host"].(string); ok && dockerHost != "" {
		cfg.DockerHost = dockerHost
	}

	return cfg, nil
}

// DSN builds the driver data source name. The driver's own formatter
// escapes the password and parameters. Inside a container a loopback host
// resolves to DockerHost.
func (c *Config) DSN() string {
	mc := mysqldriver.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	host := config.NewHostResolver(c.DockerHost).Resolve(c.Host)
	mc.Addr = net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(c.Port))
	mc.DBName = c.Database
	mc.ParseTime = true
	mc.Timeout = 10 * time.Second
	mc.TLSConfig = c.TLS
	return mc.FormatDSN()
}
