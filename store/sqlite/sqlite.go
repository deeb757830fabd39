/*
Package sqlite opens the finance store on SQLite.

PURPOSE:
  Development, tests and single-node deployments. The statements live in
  store/sqldb; this package only opens the database the way those
  statements need it.

CONCURRENCY:
  SQLite has no row locks. Every transaction is opened IMMEDIATE
  (_txlock=immediate), so a writer takes the database write lock at BEGIN
  and concurrent writers queue behind it (_busy_timeout). The invariant
  checks of the ledger therefore always read committed, unshared state.

WAL MODE:
  File databases use WAL: readers don't block the writer.

IN-MEMORY:
  Every connection to ":memory:" is a separate database, so the pool is
  capped at one connection.

USAGE:
  store, err := sqlite.New("./data/finance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := donations.NewLedger(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - store/sqldb: Statements and schema
  - store/postgres: The PostgreSQL flavour
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/finance-engine/store/sqldb"
)

// Dialect is the SQLite flavour of the shared statements.
var Dialect = sqldb.Dialect{
	Name:              "sqlite",
	IsUniqueViolation: isUniqueConstraintError,
	Blob:              "BLOB",
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*sqldb.Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.HasPrefix(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	store := sqldb.New(db, Dialect)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
