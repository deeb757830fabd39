package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/generic"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, designation, name, description, iban, bic, holder_name, ceilings_json, created_at`

func encodeCeilings(c map[string]generic.Money) (string, error) {
	if len(c) == 0 {
		return "{}", nil
	}
	raw := make(map[string]string, len(c))
	for prefix, m := range c {
		raw[prefix] = m.String()
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("encode ceilings: %w", err)
	}
	return string(b), nil
}

func decodeCeilings(s string) (map[string]generic.Money, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var raw map[string]string
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("decode ceilings: %w", err)
	}
	out := make(map[string]generic.Money, len(raw))
	for prefix, v := range raw {
		m, err := generic.ParseMoney(v)
		if err != nil {
			return nil, fmt.Errorf("decode ceiling %s: %w", prefix, err)
		}
		out[prefix] = m
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (donations.Account, error) {
	var a donations.Account
	var ceilings, createdAt string
	if err := row.Scan(&a.ID, &a.Designation, &a.Name, &a.Description, &a.IBAN, &a.BIC,
		&a.HolderName, &ceilings, &createdAt); err != nil {
		return a, err
	}
	c, err := decodeCeilings(ceilings)
	if err != nil {
		return a, err
	}
	a.Ceilings = c
	a.CreatedAt = parseTime(createdAt)
	return a, nil
}

func (t *txn) InsertAccount(ctx context.Context, a donations.Account) error {
	ceilings, err := encodeCeilings(a.Ceilings)
	if err != nil {
		return err
	}
	_, err = t.exec(ctx, `INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Designation, a.Name, a.Description, a.IBAN, a.BIC, a.HolderName, ceilings, fmtTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert account %s: %w", a.Designation, err)
	}
	return nil
}

func (t *txn) UpdateAccount(ctx context.Context, a donations.Account) error {
	ceilings, err := encodeCeilings(a.Ceilings)
	if err != nil {
		return err
	}
	res, err := t.exec(ctx, `
		UPDATE accounts SET designation = ?, name = ?, description = ?, iban = ?, bic = ?,
			holder_name = ?, ceilings_json = ?
		WHERE id = ?`,
		a.Designation, a.Name, a.Description, a.IBAN, a.BIC, a.HolderName, ceilings, a.ID)
	if err != nil {
		return fmt.Errorf("update account %s: %w", a.ID, err)
	}
	return mustAffect(res, "account", a.ID)
}

func (t *txn) GetAccount(ctx context.Context, id string) (donations.Account, error) {
	a, err := scanAccount(t.queryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	return a, notFound(err, "account", id)
}

func (t *txn) LockAccount(ctx context.Context, id string) (donations.Account, error) {
	a, err := scanAccount(t.queryRow(ctx, t.locking(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`), id))
	return a, notFound(err, "account", id)
}

func (t *txn) ListAccounts(ctx context.Context) ([]donations.Account, error) {
	rows, err := t.query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY designation`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []donations.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// sumCents runs a single-value SUM query. The CAST keeps PostgreSQL from
// returning NUMERIC.
func (t *txn) sumCents(ctx context.Context, query string, args ...any) (generic.Money, error) {
	var c int64
	if err := t.queryRow(ctx, query, args...).Scan(&c); err != nil {
		return generic.Zero, err
	}
	return money(c), nil
}

func (t *txn) Balance(ctx context.Context, accountID string) (generic.Money, error) {
	return t.sumCents(ctx,
		`SELECT CAST(COALESCE(SUM(amount_cents), 0) AS BIGINT) FROM operations WHERE account_id = ?`, accountID)
}

// =============================================================================
// OPERATIONS
// =============================================================================

const operationColumns = `id, account_id, amount_cents, payment_id, allocation_id, label, settled, created_at`

func scanOperation(row scanner) (donations.Operation, error) {
	var op donations.Operation
	var amount int64
	var paymentID, allocationID sql.NullString
	var createdAt string
	if err := row.Scan(&op.ID, &op.AccountID, &amount, &paymentID, &allocationID, &op.Label,
		&op.Settled, &createdAt); err != nil {
		return op, err
	}
	op.Amount = money(amount)
	op.PaymentID = paymentID.String
	op.AllocationID = allocationID.String
	op.CreatedAt = parseTime(createdAt)
	return op, nil
}

func (t *txn) LockOperation(ctx context.Context, id string) (donations.Operation, error) {
	op, err := scanOperation(t.queryRow(ctx, t.locking(`SELECT `+operationColumns+` FROM operations WHERE id = ?`), id))
	return op, notFound(err, "operation", id)
}

func (t *txn) GetOperation(ctx context.Context, id string) (donations.Operation, error) {
	op, err := scanOperation(t.queryRow(ctx, `SELECT `+operationColumns+` FROM operations WHERE id = ?`, id))
	return op, notFound(err, "operation", id)
}

func (t *txn) InsertOperation(ctx context.Context, op donations.Operation) error {
	_, err := t.exec(ctx, `INSERT INTO operations (`+operationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.AccountID, cents(op.Amount), nullString(op.PaymentID), nullString(op.AllocationID),
		op.Label, op.Settled, fmtTime(op.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

func (t *txn) UpdateOperation(ctx context.Context, op donations.Operation) error {
	res, err := t.exec(ctx, `
		UPDATE operations SET account_id = ?, amount_cents = ?, payment_id = ?, allocation_id = ?,
			label = ?, settled = ?
		WHERE id = ?`,
		op.AccountID, cents(op.Amount), nullString(op.PaymentID), nullString(op.AllocationID),
		op.Label, op.Settled, op.ID)
	if err != nil {
		return fmt.Errorf("update operation %s: %w", op.ID, err)
	}
	return mustAffect(res, "operation", op.ID)
}

func (t *txn) DeleteOperation(ctx context.Context, id string) error {
	res, err := t.exec(ctx, `DELETE FROM operations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete operation %s: %w", id, err)
	}
	return mustAffect(res, "operation", id)
}

func (t *txn) ListOperations(ctx context.Context, f donations.OperationFilter) ([]donations.Operation, error) {
	var where []string
	var args []any
	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.PaymentID != "" {
		where = append(where, "payment_id = ?")
		args = append(args, f.PaymentID)
	}
	query := `SELECT ` + operationColumns + ` FROM operations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []donations.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, price_cents, status, label, subscription_id, created_at, completed_at`

func scanPayment(row scanner) (donations.Payment, error) {
	var p donations.Payment
	var price int64
	var status, createdAt string
	var subscriptionID, completedAt sql.NullString
	if err := row.Scan(&p.ID, &price, &status, &p.Label, &subscriptionID, &createdAt, &completedAt); err != nil {
		return p, err
	}
	p.Price = money(price)
	p.Status = donations.PaymentStatus(status)
	p.SubscriptionID = subscriptionID.String
	p.CreatedAt = parseTime(createdAt)
	p.CompletedAt = timePtr(completedAt)
	return p, nil
}

func (t *txn) InsertPayment(ctx context.Context, p donations.Payment) error {
	_, err := t.exec(ctx, `INSERT INTO payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, cents(p.Price), string(p.Status), p.Label, nullString(p.SubscriptionID),
		fmtTime(p.CreatedAt), nullTime(p.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (t *txn) LockPayment(ctx context.Context, id string) (donations.Payment, error) {
	p, err := scanPayment(t.queryRow(ctx, t.locking(`SELECT `+paymentColumns+` FROM payments WHERE id = ?`), id))
	return p, notFound(err, "payment", id)
}

func (t *txn) GetPayment(ctx context.Context, id string) (donations.Payment, error) {
	p, err := scanPayment(t.queryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id))
	return p, notFound(err, "payment", id)
}

func (t *txn) UpdatePayment(ctx context.Context, p donations.Payment) error {
	res, err := t.exec(ctx, `
		UPDATE payments SET price_cents = ?, status = ?, label = ?, subscription_id = ?, completed_at = ?
		WHERE id = ?`,
		cents(p.Price), string(p.Status), p.Label, nullString(p.SubscriptionID), nullTime(p.CompletedAt), p.ID)
	if err != nil {
		return fmt.Errorf("update payment %s: %w", p.ID, err)
	}
	return mustAffect(res, "payment", p.ID)
}

func (t *txn) PaymentAllocated(ctx context.Context, paymentID string) (generic.Money, error) {
	return t.sumCents(ctx,
		`SELECT CAST(COALESCE(SUM(amount_cents), 0) AS BIGINT) FROM operations WHERE payment_id = ?`, paymentID)
}

// =============================================================================
// SUBSCRIPTIONS AND ALLOCATIONS
// =============================================================================

const subscriptionColumns = `id, price_cents, label, created_at`

func scanSubscription(row scanner) (donations.Subscription, error) {
	var s donations.Subscription
	var price int64
	var createdAt string
	if err := row.Scan(&s.ID, &price, &s.Label, &createdAt); err != nil {
		return s, err
	}
	s.Price = money(price)
	s.CreatedAt = parseTime(createdAt)
	return s, nil
}

func (t *txn) InsertSubscription(ctx context.Context, s donations.Subscription) error {
	_, err := t.exec(ctx, `INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES (?, ?, ?, ?)`,
		s.ID, cents(s.Price), s.Label, fmtTime(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (t *txn) LockSubscription(ctx context.Context, id string) (donations.Subscription, error) {
	s, err := scanSubscription(t.queryRow(ctx, t.locking(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`), id))
	return s, notFound(err, "subscription", id)
}

func (t *txn) GetSubscription(ctx context.Context, id string) (donations.Subscription, error) {
	s, err := scanSubscription(t.queryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id))
	return s, notFound(err, "subscription", id)
}

func (t *txn) UpdateSubscription(ctx context.Context, s donations.Subscription) error {
	res, err := t.exec(ctx, `UPDATE subscriptions SET price_cents = ?, label = ? WHERE id = ?`,
		cents(s.Price), s.Label, s.ID)
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", s.ID, err)
	}
	return mustAffect(res, "subscription", s.ID)
}

func (t *txn) SubscriptionAllocated(ctx context.Context, subscriptionID string) (generic.Money, error) {
	return t.sumCents(ctx,
		`SELECT CAST(COALESCE(SUM(amount_cents), 0) AS BIGINT) FROM monthly_allocations WHERE subscription_id = ?`,
		subscriptionID)
}

const allocationColumns = `id, subscription_id, account_id, amount_cents, created_at`

func scanAllocation(row scanner) (donations.MonthlyAllocation, error) {
	var a donations.MonthlyAllocation
	var amount int64
	var createdAt string
	if err := row.Scan(&a.ID, &a.SubscriptionID, &a.AccountID, &amount, &createdAt); err != nil {
		return a, err
	}
	a.Amount = money(amount)
	a.CreatedAt = parseTime(createdAt)
	return a, nil
}

func (t *txn) GetAllocation(ctx context.Context, id string) (donations.MonthlyAllocation, error) {
	a, err := scanAllocation(t.queryRow(ctx, `SELECT `+allocationColumns+` FROM monthly_allocations WHERE id = ?`, id))
	return a, notFound(err, "allocation", id)
}

func (t *txn) InsertAllocation(ctx context.Context, a donations.MonthlyAllocation) error {
	_, err := t.exec(ctx, `INSERT INTO monthly_allocations (`+allocationColumns+`) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.SubscriptionID, a.AccountID, cents(a.Amount), fmtTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert allocation: %w", err)
	}
	return nil
}

func (t *txn) UpdateAllocation(ctx context.Context, a donations.MonthlyAllocation) error {
	res, err := t.exec(ctx, `UPDATE monthly_allocations SET account_id = ?, amount_cents = ? WHERE id = ?`,
		a.AccountID, cents(a.Amount), a.ID)
	if err != nil {
		return fmt.Errorf("update allocation %s: %w", a.ID, err)
	}
	return mustAffect(res, "allocation", a.ID)
}

func (t *txn) DeleteAllocation(ctx context.Context, id string) error {
	res, err := t.exec(ctx, `DELETE FROM monthly_allocations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete allocation %s: %w", id, err)
	}
	return mustAffect(res, "allocation", id)
}

func (t *txn) ListAllocations(ctx context.Context, subscriptionID string) ([]donations.MonthlyAllocation, error) {
	rows, err := t.query(ctx,
		`SELECT `+allocationColumns+` FROM monthly_allocations WHERE subscription_id = ? ORDER BY created_at, id`,
		subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []donations.MonthlyAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// STORE READS (outside any transaction)
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id string) (donations.Account, error) {
	return s.reader().GetAccount(ctx, id)
}

func (s *Store) ListAccounts(ctx context.Context) ([]donations.Account, error) {
	return s.reader().ListAccounts(ctx)
}

func (s *Store) Balance(ctx context.Context, accountID string) (generic.Money, error) {
	return s.reader().Balance(ctx, accountID)
}

func (s *Store) GetOperation(ctx context.Context, id string) (donations.Operation, error) {
	return s.reader().GetOperation(ctx, id)
}

func (s *Store) ListOperations(ctx context.Context, f donations.OperationFilter) ([]donations.Operation, error) {
	return s.reader().ListOperations(ctx, f)
}

func (s *Store) GetPayment(ctx context.Context, id string) (donations.Payment, error) {
	return s.reader().GetPayment(ctx, id)
}

func (s *Store) GetSubscription(ctx context.Context, id string) (donations.Subscription, error) {
	return s.reader().GetSubscription(ctx, id)
}

func (s *Store) ListAllocations(ctx context.Context, subscriptionID string) ([]donations.MonthlyAllocation, error) {
	return s.reader().ListAllocations(ctx, subscriptionID)
}
