package mysql

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/schema"
)

func init() {
	schema.Register(schema.EngineRegistration{
		Info: schema.EngineInfo{
			Engine:      schema.EngineMySQL,
			DisplayName: "MySQL",
			Description: "MySQL 5.7+, MariaDB 10.2+, Aurora MySQL",
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
