package sqlite

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/schema"
)

func init() {
	schema.Register(schema.EngineRegistration{
		Info: schema.EngineInfo{
			Engine:      schema.EngineSQLite,
			DisplayName: "SQLite",
			Description: "SQLite 3.16+ (pure Go driver by default, mattn/go-sqlite3 with -tags cgo_sqlite)",
		},
		CapabilityFactory: func(conn schema.Conn, logger *zap.Logger) schema.Capability {
			return NewCapability(conn, logger)
		},
		OpenFactory: func(ctx context.Context, config map[string]any, logger *zap.Logger) (schema.Conn, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			conn, err := Open(ctx, cfg, logger)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
	})
}
