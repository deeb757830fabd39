/*
Package sqldb implements the ledger and dossier stores on database/sql.

PURPOSE:
  One implementation serves both backends. A Dialect carries the few
  differences: placeholder syntax, the locking clause and how a unique
  violation is recognised. store/sqlite and store/postgres open the
  database, apply their schema and hand a *sql.DB plus Dialect to New.

INTERFACES IMPLEMENTED:
  donations.Store   accounts, operations, payments, subscriptions, allocations
  gestion.Store     suppliers, expenses, projects, documents, remarks,
                    settlements, transfer orders
  generic.AuditLog  audit_log

LOCKING:
  Lock* methods append Dialect.ForUpdate to their SELECT. On PostgreSQL
  that is a row lock held until commit. SQLite has no row locks: its
  transactions are opened IMMEDIATE, so the first statement of a writer
  already holds the database write lock and Lock* is a plain read.

  Aggregates (balances, allocated sums) are never locked directly; the
  caller locks the parent row first, then sums.

MONEY AND TIME:
  Amounts are stored as integer cents (BIGINT). Timestamps are RFC 3339
  text in UTC with a fixed nine-digit fraction, so they sort lexically and
  read back identically on both backends.

SEE ALSO:
  - donations/store.go, gestion/store.go: The contracts
*/
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/gestion"
	"github.com/warp/finance-engine/generic"
)

// =============================================================================
// DIALECT
// =============================================================================

// Dialect describes a SQL backend.
type Dialect struct {
	Name string
	// Rebind rewrites '?' placeholders for the backend.
	Rebind func(query string) string
	// ForUpdate is appended to locking reads (" FOR UPDATE" or "").
	ForUpdate string
	// IsUniqueViolation recognises a unique constraint error.
	IsUniqueViolation func(err error) bool
	// Blob is the binary column type (BLOB, BYTEA).
	Blob string
}

// Dollar rewrites '?' placeholders to $1, $2, ...
func Dollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// =============================================================================
// STORE
// =============================================================================

type Store struct {
	db      *sql.DB
	dialect Dialect
}

var (
	_ donations.Store    = (*Store)(nil)
	_ gestion.Store      = (*Store)(nil)
	_ donations.LedgerTx = (*txn)(nil)
	_ gestion.DossierTx  = (*txn)(nil)
)

func New(db *sql.DB, d Dialect) *Store {
	if d.Rebind == nil {
		d.Rebind = func(q string) string { return q }
	}
	if d.IsUniqueViolation == nil {
		d.IsUniqueViolation = func(error) bool { return false }
	}
	if d.Blob == "" {
		d.Blob = "BLOB"
	}
	return &Store{db: db, dialect: d}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) reader() *txn { return &txn{q: s.db, d: s.dialect} }

// withTx runs fn in a transaction, committing on nil and rolling back
// otherwise.
func (s *Store) withTx(ctx context.Context, fn func(t *txn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&txn{q: tx, d: s.dialect}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// WithLedgerTx executes fn within a transaction.
func (s *Store) WithLedgerTx(ctx context.Context, fn func(tx donations.LedgerTx) error) error {
	return s.withTx(ctx, func(t *txn) error { return fn(t) })
}

// WithDossierTx executes fn within a transaction.
func (s *Store) WithDossierTx(ctx context.Context, fn func(tx gestion.DossierTx) error) error {
	return s.withTx(ctx, func(t *txn) error { return fn(t) })
}

// =============================================================================
// TXN - Statements shared by the store and its transactions
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txn struct {
	q querier
	d Dialect
}

func (t *txn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.q.ExecContext(ctx, t.d.Rebind(query), args...)
	if err != nil && t.d.IsUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %v", generic.ErrDuplicateReference, err)
	}
	return res, err
}

func (t *txn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.q.QueryContext(ctx, t.d.Rebind(query), args...)
}

func (t *txn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.q.QueryRowContext(ctx, t.d.Rebind(query), args...)
}

// Ledger returns the transaction as a ledger transaction.
func (t *txn) Ledger() donations.LedgerTx { return t }

// locking appends the dialect's lock clause.
func (t *txn) locking(query string) string {
	return query + t.d.ForUpdate
}

// mustAffect turns "no row matched" into generic.ErrNotFound.
func mustAffect(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, generic.ErrNotFound)
	}
	return nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, generic.ErrNotFound)
	}
	return err
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout keeps all nine fractional digits so stored timestamps have a
// fixed width and text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func cents(m generic.Money) int64 { return m.Cents() }

func money(c int64) generic.Money { return generic.NewMoneyFromCents(c) }
