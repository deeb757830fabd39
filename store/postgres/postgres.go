/*
Package postgres opens the finance store on PostgreSQL through pgx.

CONCURRENCY:
  Locking reads are SELECT ... FOR UPDATE. The ledger locks the parent
  row (account, payment, subscription) before it sums the children, so
  two writers on the same aggregate serialise on that row lock while
  writers on different aggregates proceed in parallel.

SEE ALSO:
  - store/sqldb: Statements and schema
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/warp/finance-engine/store/sqldb"
)

const pgErrUniqueViolation = "23505"

// Dialect is the PostgreSQL flavour of the shared statements.
var Dialect = sqldb.Dialect{
	Name:              "postgres",
	Rebind:            sqldb.Dollar,
	ForUpdate:         " FOR UPDATE",
	IsUniqueViolation: isUniqueViolation,
	Blob:              "BYTEA",
}

// Open connects to dsn and migrates the schema.
func Open(ctx context.Context, dsn string) (*sqldb.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := NewWithDB(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an already opened database without migrating it.
func NewWithDB(db *sql.DB) *sqldb.Store {
	return sqldb.New(db, Dialect)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}
