//go:build !cgo_sqlite

package sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	driverName = "sqlite"
	driverType = "purego"

	// modernc applies each _pragma on every new connection.
	foreignKeysParam = "_pragma"
	foreignKeysValue = "foreign_keys(1)"
)
