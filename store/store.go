// Package store opens the configured SQL backend.
package store

import (
	"context"
	"fmt"

	"github.com/warp/finance-engine/store/postgres"
	"github.com/warp/finance-engine/store/sqldb"
	"github.com/warp/finance-engine/store/sqlite"
)

// Open returns a migrated store for driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string) (*sqldb.Store, error) {
	switch driver {
	case "sqlite":
		return sqlite.New(dsn)
	case "postgres":
		return postgres.Open(ctx, dsn)
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}
