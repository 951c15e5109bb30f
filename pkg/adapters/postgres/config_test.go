package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/config"
)

func TestFromMap(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"host":        "db.internal",
		"port":        float64(6543),
		"user":        "app",
		"password":    "secret",
		"database":    "shop",
		"ssl_mode":    "disable",
		"max_conns":   4,
		"docker_host": "172.17.0.1",
	})
	require.NoError(t, err)

	assert.Equal(t, &Config{
		Host:       "db.internal",
		Port:       6543,
		User:       "app",
		Password:   "secret",
		Database:   "shop",
		SSLMode:    "disable",
		MaxConns:   4,
		DockerHost: "172.17.0.1",
	}, cfg)
}

func TestFromMap_Defaults(t *testing.T) {
	cfg, err := FromMap(map[string]any{"host": "h", "user": "u", "database": "d"})
	require.NoError(t, err)

	assert.Equal(t, DefaultPort(), cfg.Port)
	assert.Equal(t, DefaultSSLMode(), cfg.SSLMode)
	assert.Zero(t, cfg.MaxConns)
	assert.Equal(t, config.DefaultDockerHost, cfg.DockerHost)
}

func TestFromMap_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		cfg     map[string]any
		wantErr string
	}{
		{"no host", map[string]any{"user": "u", "database": "d"}, "host is required"},
		{"no user", map[string]any{"host": "h", "database": "d"}, "user is required"},
		{"no database", map[string]any{"host": "h", "user": "u"}, "database is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromMap(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ConnectionString(t *testing.T) {
	cfg := &Config{Host: "db.internal", Port: 5432, User: "app", Password: "p@ss/w#rd?", Database: "shop", SSLMode: "disable"}

	connStr := cfg.ConnectionString()
	assert.True(t, strings.HasPrefix(connStr, "postgresql://app:p%40ss%2Fw%23rd%3F@"), connStr)
	assert.True(t, strings.HasSuffix(connStr, ":5432/shop?sslmode=disable"), connStr)
}

func TestConfig_ConnectionString_LoopbackWithRewriteOff(t *testing.T) {
	cfg := &Config{Host: "::1", Port: 5432, User: "app", Database: "shop", SSLMode: "disable", DockerHost: config.DockerHostOff}

	assert.Equal(t, "postgresql://app:@[::1]:5432/shop?sslmode=disable", cfg.ConnectionString())
}
