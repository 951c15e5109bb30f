package adapters

// Engine packages register their capability sets and open factories with
// the schema registry in init.
import (
	_ "github.com/ekaya-inc/ekaya-schemaplus/pkg/adapters/mysql"
	_ "github.com/ekaya-inc/ekaya-schemaplus/pkg/adapters/postgres"
	_ "github.com/ekaya-inc/ekaya-schemaplus/pkg/adapters/sqlite"
)
