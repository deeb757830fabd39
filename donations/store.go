package donations

import (
	"context"

	"github.com/warp/finance-engine/generic"
)

// =============================================================================
// STORE - Persistence contract for the ledger
// =============================================================================

// Store persists ledger records. All writes go through WithLedgerTx.
type Store interface {
	// WithLedgerTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithLedgerTx(ctx context.Context, fn func(tx LedgerTx) error) error

	GetAccount(ctx context.Context, id string) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	Balance(ctx context.Context, accountID string) (generic.Money, error)
	GetOperation(ctx context.Context, id string) (Operation, error)
	ListOperations(ctx context.Context, f OperationFilter) ([]Operation, error)
	GetPayment(ctx context.Context, id string) (Payment, error)
	GetSubscription(ctx context.Context, id string) (Subscription, error)
	ListAllocations(ctx context.Context, subscriptionID string) ([]MonthlyAllocation, error)
}

// LedgerTx is the view of the store inside one transaction.
//
// Lock* methods are locking reads: on PostgreSQL they take a row lock
// (SELECT ... FOR UPDATE) held until commit; on SQLite the whole
// transaction already holds the write lock. They return generic.ErrNotFound
// for unknown ids. Callers lock accounts first, in generic.SortedIDs order,
// then payments or subscriptions.
type LedgerTx interface {
	InsertAccount(ctx context.Context, a Account) error
	UpdateAccount(ctx context.Context, a Account) error
	LockAccount(ctx context.Context, id string) (Account, error)
	Balance(ctx context.Context, accountID string) (generic.Money, error)

	LockOperation(ctx context.Context, id string) (Operation, error)
	InsertOperation(ctx context.Context, op Operation) error
	UpdateOperation(ctx context.Context, op Operation) error
	DeleteOperation(ctx context.Context, id string) error

	InsertPayment(ctx context.Context, p Payment) error
	LockPayment(ctx context.Context, id string) (Payment, error)
	UpdatePayment(ctx context.Context, p Payment) error
	PaymentAllocated(ctx context.Context, paymentID string) (generic.Money, error)

	InsertSubscription(ctx context.Context, s Subscription) error
	LockSubscription(ctx context.Context, id string) (Subscription, error)
	UpdateSubscription(ctx context.Context, s Subscription) error
	SubscriptionAllocated(ctx context.Context, subscriptionID string) (generic.Money, error)

	GetAllocation(ctx context.Context, id string) (MonthlyAllocation, error)
	InsertAllocation(ctx context.Context, a MonthlyAllocation) error
	UpdateAllocation(ctx context.Context, a MonthlyAllocation) error
	DeleteAllocation(ctx context.Context, id string) error
	ListAllocations(ctx context.Context, subscriptionID string) ([]MonthlyAllocation, error)
}
