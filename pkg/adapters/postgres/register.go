package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/schema"
)

func init() {
	schema.Register(schema.EngineRegistration{
		Info: schema.EngineInfo{
			Engine:      schema.EnginePostgres,
			DisplayName: "PostgreSQL",
			Description: "PostgreSQL 12+, Aurora PostgreSQL, Supabase",
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
