/*
ledger.go - Ledger service with transactional conservation guards

PURPOSE:
  Every mutation of an Operation, a Payment price, a Subscription price or
  a MonthlyAllocation goes through this service. Each one runs in a single
  store transaction shaped the same way:

    1. LOCK    the parent rows of every aggregate the mutation touches
               (accounts first, sorted by id; then payment / subscription)
    2. CHECK   sum(committed rows) + net effect of this mutation
    3. WRITE   only if every check passed
    4. COMMIT  or roll back everything

  Because the checks read the aggregate AFTER taking the lock, two
  concurrent writers on the same account serialise: the second one sees the
  first one's committed operation and is judged against it.

GUARDS:
  account       sum(operations) + delta >= 0              NegativeBalance
  payment       sum(operations) + delta <= price          OperationExceedsPayment
                each payment-linked operation > 0
  subscription  sum(allocations) + delta <= price         AllocationExceedsSubscription

MUTATION SYMMETRY:
  insert   delta = +amount on its account
  update   same account:  delta = new - old
           moved:         old account -old, new account +new (both checked)
  delete   delta = -amount on its account
  price    lowering a payment / subscription price re-checks its sum

EXAMPLE:
  ledger := donations.NewLedger(store, logger)
  acct, _ := ledger.CreateAccount(ctx, donations.Account{Designation: "NAT", Name: "National"})
  ledger.ApplyOperation(ctx, acct.ID, generic.MustMoney("100"), donations.OperationContext{})
  _, err := ledger.ApplyOperation(ctx, acct.ID, generic.MustMoney("-150"), donations.OperationContext{})
  errors.Is(err, generic.ErrNegativeBalance) // true, nothing written

SEE ALSO:
  - generic/ledger.go: CheckNonNegative / CheckCeiling
  - store/sqldb: Locking reads per dialect
*/
package donations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/warp/finance-engine/generic"
	"github.com/warp/finance-engine/obs"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store  Store
	Logger *slog.Logger
	Now    func() time.Time
}

func NewLedger(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{Store: store, Logger: logger}
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *Ledger) log() *slog.Logger { return obs.OrDefault(l.Logger) }

// run executes fn in a ledger transaction and reports rejected mutations.
func (l *Ledger) run(ctx context.Context, action string, fn func(tx LedgerTx) error) error {
	err := l.Store.WithLedgerTx(ctx, fn)
	var iv *generic.IntegrityViolation
	if errors.As(err, &iv) {
		obs.IntegrityViolation(string(iv.Kind))
		l.log().Warn("ledger mutation rejected",
			"action", action,
			"kind", iv.Kind,
			"scope", iv.Scope,
			"scope_id", iv.ScopeID,
			"current", iv.Current.String(),
			"delta", iv.Delta.String(),
			"limit", iv.Limit.String(),
		)
	}
	return err
}

// =============================================================================
// GUARDS
// =============================================================================

func guardAccount(ctx context.Context, tx LedgerTx, accountID string, delta generic.Money) error {
	balance, err := tx.Balance(ctx, accountID)
	if err != nil {
		return err
	}
	return generic.CheckNonNegative(generic.NegativeBalance, "account", accountID, balance, delta)
}

func guardPayment(ctx context.Context, tx LedgerTx, p Payment, delta generic.Money) error {
	allocated, err := tx.PaymentAllocated(ctx, p.ID)
	if err != nil {
		return err
	}
	return generic.CheckCeiling(generic.OperationExceedsPayment, "payment", p.ID, allocated, delta, p.Price)
}

func guardSubscription(ctx context.Context, tx LedgerTx, s Subscription, delta generic.Money) error {
	allocated, err := tx.SubscriptionAllocated(ctx, s.ID)
	if err != nil {
		return err
	}
	return generic.CheckCeiling(generic.AllocationExceedsSubscription, "subscription", s.ID, allocated, delta, s.Price)
}

func requirePositiveForPayment(amount generic.Money) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: an operation tied to a payment must be positive, got %s", generic.ErrInvalidAmount, amount)
	}
	return nil
}

func lockAccounts(ctx context.Context, tx LedgerTx, ids ...string) error {
	for _, id := range generic.SortedIDs(ids...) {
		if _, err := tx.LockAccount(ctx, id); err != nil {
			return fmt.Errorf("account %s: %w", id, err)
		}
	}
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func validateAccount(a Account) error {
	if strings.TrimSpace(a.Designation) == "" || strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: account designation and name are required", generic.ErrInvalidInput)
	}
	if a.IBAN != "" && !generic.ValidIBAN(a.IBAN) {
		return fmt.Errorf("%w: invalid IBAN %q", generic.ErrInvalidInput, a.IBAN)
	}
	if a.BIC != "" && !generic.ValidBIC(a.BIC) {
		return fmt.Errorf("%w: invalid BIC %q", generic.ErrInvalidInput, a.BIC)
	}
	for prefix, ceiling := range a.Ceilings {
		if strings.TrimSpace(prefix) == "" || ceiling.IsNegative() {
			return fmt.Errorf("%w: invalid ceiling %q=%s", generic.ErrInvalidInput, prefix, ceiling)
		}
	}
	return nil
}

func (l *Ledger) CreateAccount(ctx context.Context, a Account) (Account, error) {
	if err := validateAccount(a); err != nil {
		return Account{}, err
	}
	a.ID = generic.NewID()
	a.IBAN = generic.NormalizeIBAN(a.IBAN)
	a.CreatedAt = l.now()
	err := l.run(ctx, "create_account", func(tx LedgerTx) error {
		return tx.InsertAccount(ctx, a)
	})
	if err != nil {
		return Account{}, err
	}
	l.log().Info("account created", "account_id", a.ID, "designation", a.Designation)
	return a, nil
}

// UpdateAccount replaces the descriptive, banking and ceiling fields.
func (l *Ledger) UpdateAccount(ctx context.Context, a Account) (Account, error) {
	if err := validateAccount(a); err != nil {
		return Account{}, err
	}
	var out Account
	err := l.run(ctx, "update_account", func(tx LedgerTx) error {
		cur, err := tx.LockAccount(ctx, a.ID)
		if err != nil {
			return err
		}
		cur.Designation = a.Designation
		cur.Name = a.Name
		cur.Description = a.Description
		cur.IBAN = generic.NormalizeIBAN(a.IBAN)
		cur.BIC = strings.ToUpper(strings.TrimSpace(a.BIC))
		cur.HolderName = a.HolderName
		cur.Ceilings = a.Ceilings
		out = cur
		return tx.UpdateAccount(ctx, cur)
	})
	return out, err
}

func (l *Ledger) GetAccount(ctx context.Context, id string) (Account, error) {
	return l.Store.GetAccount(ctx, id)
}

func (l *Ledger) ListAccounts(ctx context.Context) ([]Account, error) {
	return l.Store.ListAccounts(ctx)
}

// Balance is the committed sum of the account's operations.
func (l *Ledger) Balance(ctx context.Context, accountID string) (generic.Money, error) {
	if _, err := l.Store.GetAccount(ctx, accountID); err != nil {
		return generic.Zero, err
	}
	return l.Store.Balance(ctx, accountID)
}

// =============================================================================
// OPERATIONS
// =============================================================================

// ApplyOperation records delta against accountID. It fails with an
// *IntegrityViolation, writing nothing, if the account balance would become
// negative or a linked payment would be over-allocated.
func (l *Ledger) ApplyOperation(ctx context.Context, accountID string, delta generic.Money, oc OperationContext) (Operation, error) {
	return l.InsertOperation(ctx, accountID, delta, oc)
}

func (l *Ledger) InsertOperation(ctx context.Context, accountID string, amount generic.Money, oc OperationContext) (Operation, error) {
	if amount.IsZero() {
		return Operation{}, fmt.Errorf("%w: operation amount is zero", generic.ErrInvalidAmount)
	}
	op := Operation{
		ID:           generic.NewID(),
		AccountID:    accountID,
		Amount:       amount,
		PaymentID:    oc.PaymentID,
		AllocationID: oc.AllocationID,
		Label:        oc.Label,
		CreatedAt:    l.now(),
	}
	err := l.run(ctx, "insert_operation", func(tx LedgerTx) error {
		if err := lockAccounts(ctx, tx, op.AccountID); err != nil {
			return err
		}
		return insertChecked(ctx, tx, op)
	})
	if err != nil {
		return Operation{}, err
	}
	return op, nil
}

// insertChecked guards and writes one operation. The account must already
// be locked.
func insertChecked(ctx context.Context, tx LedgerTx, op Operation) error {
	if err := guardAccount(ctx, tx, op.AccountID, op.Amount); err != nil {
		return err
	}
	if op.PaymentID != "" {
		if err := requirePositiveForPayment(op.Amount); err != nil {
			return err
		}
		p, err := tx.LockPayment(ctx, op.PaymentID)
		if err != nil {
			return fmt.Errorf("payment %s: %w", op.PaymentID, err)
		}
		if err := guardPayment(ctx, tx, p, op.Amount); err != nil {
			return err
		}
	}
	return tx.InsertOperation(ctx, op)
}

// UpdateOperation changes an operation's account, amount or label. When the
// account changes both the losing and the gaining account are checked.
func (l *Ledger) UpdateOperation(ctx context.Context, id string, patch OperationPatch) (Operation, error) {
	var next Operation
	err := l.run(ctx, "update_operation", func(tx LedgerTx) error {
		old, err := tx.LockOperation(ctx, id)
		if err != nil {
			return err
		}
		if old.Settled {
			return generic.ErrOperationImmutable
		}
		next = old
		if patch.AccountID != nil {
			next.AccountID = *patch.AccountID
		}
		if patch.Amount != nil {
			next.Amount = *patch.Amount
		}
		if patch.Label != nil {
			next.Label = *patch.Label
		}
		if next.Amount.IsZero() {
			return fmt.Errorf("%w: operation amount is zero", generic.ErrInvalidAmount)
		}

		if err := lockAccounts(ctx, tx, old.AccountID, next.AccountID); err != nil {
			return err
		}
		if old.AccountID != next.AccountID {
			if err := guardAccount(ctx, tx, old.AccountID, old.Amount.Neg()); err != nil {
				return err
			}
			if err := guardAccount(ctx, tx, next.AccountID, next.Amount); err != nil {
				return err
			}
		} else if err := guardAccount(ctx, tx, next.AccountID, next.Amount.Sub(old.Amount)); err != nil {
			return err
		}

		if next.PaymentID != "" {
			if err := requirePositiveForPayment(next.Amount); err != nil {
				return err
			}
			p, err := tx.LockPayment(ctx, next.PaymentID)
			if err != nil {
				return err
			}
			if err := guardPayment(ctx, tx, p, next.Amount.Sub(old.Amount)); err != nil {
				return err
			}
		}
		return tx.UpdateOperation(ctx, next)
	})
	if err != nil {
		return Operation{}, err
	}
	return next, nil
}

// DeleteOperation removes an unsettled operation if its account can afford
// losing it.
func (l *Ledger) DeleteOperation(ctx context.Context, id string) error {
	return l.run(ctx, "delete_operation", func(tx LedgerTx) error {
		old, err := tx.LockOperation(ctx, id)
		if err != nil {
			return err
		}
		if old.Settled {
			return generic.ErrOperationImmutable
		}
		if err := lockAccounts(ctx, tx, old.AccountID); err != nil {
			return err
		}
		if err := guardAccount(ctx, tx, old.AccountID, old.Amount.Neg()); err != nil {
			return err
		}
		return tx.DeleteOperation(ctx, id)
	})
}

// SettleOperation freezes an operation.
func (l *Ledger) SettleOperation(ctx context.Context, id string) (Operation, error) {
	var op Operation
	err := l.run(ctx, "settle_operation", func(tx LedgerTx) error {
		var err error
		op, err = tx.LockOperation(ctx, id)
		if err != nil {
			return err
		}
		if op.Settled {
			return nil
		}
		op.Settled = true
		return tx.UpdateOperation(ctx, op)
	})
	return op, err
}

func (l *Ledger) GetOperation(ctx context.Context, id string) (Operation, error) {
	return l.Store.GetOperation(ctx, id)
}

func (l *Ledger) ListOperations(ctx context.Context, f OperationFilter) ([]Operation, error) {
	return l.Store.ListOperations(ctx, f)
}

// Transfer moves amount from one account to another as a debit/credit pair
// written in one transaction.
func (l *Ledger) Transfer(ctx context.Context, fromID, toID string, amount generic.Money, label string) (debit, credit Operation, err error) {
	if !amount.IsPositive() {
		return Operation{}, Operation{}, fmt.Errorf("%w: transfer amount must be positive", generic.ErrInvalidAmount)
	}
	if fromID == toID {
		return Operation{}, Operation{}, fmt.Errorf("%w: transfer to the same account", generic.ErrInvalidInput)
	}
	err = l.run(ctx, "transfer", func(tx LedgerTx) error {
		var err error
		debit, credit, err = l.TransferTx(ctx, tx, fromID, toID, amount, label)
		return err
	})
	if err != nil {
		return Operation{}, Operation{}, err
	}
	return debit, credit, nil
}

// TransferTx writes the debit/credit pair of Transfer inside a transaction
// the caller owns, so the move commits together with the caller's writes.
func (l *Ledger) TransferTx(ctx context.Context, tx LedgerTx, fromID, toID string, amount generic.Money, label string) (debit, credit Operation, err error) {
	if !amount.IsPositive() {
		return Operation{}, Operation{}, fmt.Errorf("%w: transfer amount must be positive", generic.ErrInvalidAmount)
	}
	if fromID == toID {
		return Operation{}, Operation{}, fmt.Errorf("%w: transfer to the same account", generic.ErrInvalidInput)
	}
	now := l.now()
	debit = Operation{ID: generic.NewID(), AccountID: fromID, Amount: amount.Neg(), Label: label, CreatedAt: now}
	credit = Operation{ID: generic.NewID(), AccountID: toID, Amount: amount, Label: label, CreatedAt: now}
	if err := lockAccounts(ctx, tx, fromID, toID); err != nil {
		return Operation{}, Operation{}, err
	}
	if err := insertChecked(ctx, tx, debit); err != nil {
		return Operation{}, Operation{}, err
	}
	if err := insertChecked(ctx, tx, credit); err != nil {
		return Operation{}, Operation{}, err
	}
	return debit, credit, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (l *Ledger) CreatePayment(ctx context.Context, price generic.Money, label string) (Payment, error) {
	if price.IsNegative() {
		return Payment{}, fmt.Errorf("%w: negative payment price", generic.ErrInvalidAmount)
	}
	p := Payment{ID: generic.NewID(), Price: price, Status: PaymentWaiting, Label: label, CreatedAt: l.now()}
	if err := l.run(ctx, "create_payment", func(tx LedgerTx) error {
		return tx.InsertPayment(ctx, p)
	}); err != nil {
		return Payment{}, err
	}
	return p, nil
}

func (l *Ledger) GetPayment(ctx context.Context, id string) (Payment, error) {
	return l.Store.GetPayment(ctx, id)
}

// SetPaymentPrice changes the price; lowering it below the sum of the
// payment's operations is rejected.
func (l *Ledger) SetPaymentPrice(ctx context.Context, id string, price generic.Money) (Payment, error) {
	if price.IsNegative() {
		return Payment{}, fmt.Errorf("%w: negative payment price", generic.ErrInvalidAmount)
	}
	var p Payment
	err := l.run(ctx, "set_payment_price", func(tx LedgerTx) error {
		var err error
		p, err = tx.LockPayment(ctx, id)
		if err != nil {
			return err
		}
		p.Price = price
		if err := guardPayment(ctx, tx, p, generic.Zero); err != nil {
			return err
		}
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

// CompletePayment marks a waiting payment completed and records one
// operation per split, all or nothing.
func (l *Ledger) CompletePayment(ctx context.Context, paymentID string, splits []Split) ([]Operation, error) {
	if len(splits) == 0 {
		return nil, fmt.Errorf("%w: no split given", generic.ErrInvalidInput)
	}
	now := l.now()
	accountIDs := make([]string, 0, len(splits))
	ops := make([]Operation, 0, len(splits))
	for _, s := range splits {
		accountIDs = append(accountIDs, s.AccountID)
		ops = append(ops, Operation{
			ID:        generic.NewID(),
			AccountID: s.AccountID,
			Amount:    s.Amount,
			PaymentID: paymentID,
			Label:     s.Label,
			CreatedAt: now,
		})
	}
	err := l.run(ctx, "complete_payment", func(tx LedgerTx) error {
		if err := lockAccounts(ctx, tx, accountIDs...); err != nil {
			return err
		}
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != PaymentWaiting {
			return fmt.Errorf("%w: payment %s is %s", generic.ErrInvalidInput, p.ID, p.Status)
		}
		for _, op := range ops {
			if err := insertChecked(ctx, tx, op); err != nil {
				return err
			}
		}
		p.Status = PaymentCompleted
		p.CompletedAt = &now
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	l.log().Info("payment completed", "payment_id", paymentID, "operations", len(ops))
	return ops, nil
}

// =============================================================================
// SUBSCRIPTIONS AND ALLOCATIONS
// =============================================================================

func (l *Ledger) CreateSubscription(ctx context.Context, price generic.Money, label string) (Subscription, error) {
	if !price.IsPositive() {
		return Subscription{}, fmt.Errorf("%w: subscription price must be positive", generic.ErrInvalidAmount)
	}
	s := Subscription{ID: generic.NewID(), Price: price, Label: label, CreatedAt: l.now()}
	if err := l.run(ctx, "create_subscription", func(tx LedgerTx) error {
		return tx.InsertSubscription(ctx, s)
	}); err != nil {
		return Subscription{}, err
	}
	return s, nil
}

func (l *Ledger) GetSubscription(ctx context.Context, id string) (Subscription, error) {
	return l.Store.GetSubscription(ctx, id)
}

func (l *Ledger) ListAllocations(ctx context.Context, subscriptionID string) ([]MonthlyAllocation, error) {
	return l.Store.ListAllocations(ctx, subscriptionID)
}

// SetSubscriptionPrice rejects a price below the current allocations.
func (l *Ledger) SetSubscriptionPrice(ctx context.Context, id string, price generic.Money) (Subscription, error) {
	if !price.IsPositive() {
		return Subscription{}, fmt.Errorf("%w: subscription price must be positive", generic.ErrInvalidAmount)
	}
	var s Subscription
	err := l.run(ctx, "set_subscription_price", func(tx LedgerTx) error {
		var err error
		s, err = tx.LockSubscription(ctx, id)
		if err != nil {
			return err
		}
		s.Price = price
		if err := guardSubscription(ctx, tx, s, generic.Zero); err != nil {
			return err
		}
		return tx.UpdateSubscription(ctx, s)
	})
	if err != nil {
		return Subscription{}, err
	}
	return s, nil
}

func (l *Ledger) InsertAllocation(ctx context.Context, subscriptionID, accountID string, amount generic.Money) (MonthlyAllocation, error) {
	if !amount.IsPositive() {
		return MonthlyAllocation{}, fmt.Errorf("%w: allocation must be positive", generic.ErrInvalidAmount)
	}
	a := MonthlyAllocation{
		ID:             generic.NewID(),
		SubscriptionID: subscriptionID,
		AccountID:      accountID,
		Amount:         amount,
		CreatedAt:      l.now(),
	}
	err := l.run(ctx, "insert_allocation", func(tx LedgerTx) error {
		if err := lockAccounts(ctx, tx, accountID); err != nil {
			return err
		}
		s, err := tx.LockSubscription(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if err := guardSubscription(ctx, tx, s, amount); err != nil {
			return err
		}
		return tx.InsertAllocation(ctx, a)
	})
	if err != nil {
		return MonthlyAllocation{}, err
	}
	return a, nil
}

// UpdateAllocation changes an allocation's amount and optionally its account.
func (l *Ledger) UpdateAllocation(ctx context.Context, id string, amount generic.Money, accountID string) (MonthlyAllocation, error) {
	if !amount.IsPositive() {
		return MonthlyAllocation{}, fmt.Errorf("%w: allocation must be positive", generic.ErrInvalidAmount)
	}
	var next MonthlyAllocation
	err := l.run(ctx, "update_allocation", func(tx LedgerTx) error {
		current, err := tx.GetAllocation(ctx, id)
		if err != nil {
			return err
		}
		target := current.AccountID
		if accountID != "" {
			target = accountID
		}
		if err := lockAccounts(ctx, tx, target); err != nil {
			return err
		}
		s, err := tx.LockSubscription(ctx, current.SubscriptionID)
		if err != nil {
			return err
		}
		// Re-read under the subscription lock.
		old, err := tx.GetAllocation(ctx, id)
		if err != nil {
			return err
		}
		if err := guardSubscription(ctx, tx, s, amount.Sub(old.Amount)); err != nil {
			return err
		}
		next = old
		next.Amount = amount
		next.AccountID = target
		return tx.UpdateAllocation(ctx, next)
	})
	if err != nil {
		return MonthlyAllocation{}, err
	}
	return next, nil
}

func (l *Ledger) DeleteAllocation(ctx context.Context, id string) error {
	return l.run(ctx, "delete_allocation", func(tx LedgerTx) error {
		a, err := tx.GetAllocation(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.LockSubscription(ctx, a.SubscriptionID); err != nil {
			return err
		}
		return tx.DeleteAllocation(ctx, id)
	})
}

// ApplySubscriptionPayment completes a waiting payment as an instalment of
// the subscription: each allocation becomes an operation tied to both the
// payment and the allocation. Any unallocated remainder stays unassigned.
func (l *Ledger) ApplySubscriptionPayment(ctx context.Context, subscriptionID, paymentID string) ([]Operation, error) {
	planned, err := l.Store.ListAllocations(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if len(planned) == 0 {
		return nil, fmt.Errorf("%w: subscription %s has no allocation", generic.ErrInvalidInput, subscriptionID)
	}
	locked := make(map[string]bool, len(planned))
	accountIDs := make([]string, 0, len(planned))
	for _, a := range planned {
		locked[a.AccountID] = true
		accountIDs = append(accountIDs, a.AccountID)
	}

	now := l.now()
	var ops []Operation
	err = l.run(ctx, "apply_subscription_payment", func(tx LedgerTx) error {
		ops = ops[:0]
		if err := lockAccounts(ctx, tx, accountIDs...); err != nil {
			return err
		}
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != PaymentWaiting {
			return fmt.Errorf("%w: payment %s is %s", generic.ErrInvalidInput, p.ID, p.Status)
		}
		if p.SubscriptionID != "" && p.SubscriptionID != subscriptionID {
			return fmt.Errorf("%w: payment %s belongs to another subscription", generic.ErrInvalidInput, p.ID)
		}
		if _, err := tx.LockSubscription(ctx, subscriptionID); err != nil {
			return err
		}
		allocations, err := tx.ListAllocations(ctx, subscriptionID)
		if err != nil {
			return err
		}
		for _, a := range allocations {
			if !locked[a.AccountID] {
				return generic.ErrConcurrentModification
			}
			op := Operation{
				ID:           generic.NewID(),
				AccountID:    a.AccountID,
				Amount:       a.Amount,
				PaymentID:    p.ID,
				AllocationID: a.ID,
				Label:        "subscription " + subscriptionID,
				CreatedAt:    now,
			}
			if err := insertChecked(ctx, tx, op); err != nil {
				return err
			}
			ops = append(ops, op)
		}
		p.Status = PaymentCompleted
		p.SubscriptionID = subscriptionID
		p.CompletedAt = &now
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}
