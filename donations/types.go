/*
Package donations is the ledger invariant engine.

PURPOSE:
  Money enters the organisation as Payments (one-off) and Subscriptions
  (recurring, split across accounts by MonthlyAllocations). It is recorded
  as signed Operations against Accounts. This package owns those records
  and guarantees, under concurrent writers, that:

    1. no Account balance (sum of its operations) is ever negative
    2. the operations tied to a Payment never exceed its price,
       and each of them is strictly positive
    3. the allocations of a Subscription never exceed its price

  Each guard runs inside the same transaction as the write it protects,
  after a locking read on the aggregate's parent row.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account, Operation, Payment, Subscription, MonthlyAllocation

SEE ALSO:
  - ledger.go: The Ledger service and its guards
  - store.go: Persistence contract
*/
package donations

import (
	"time"

	"github.com/warp/finance-engine/generic"
)

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is a named bucket of money. It is never deleted while referenced.
type Account struct {
	ID          string
	Designation string // short code, unique
	Name        string
	Description string

	// Emitter banking details used for outgoing transfer files.
	IBAN       string
	BIC        string
	HolderName string

	// Ceilings maps a type prefix to the amount up to which an expense of
	// that type is engaged automatically for creators holding
	// manage_expense on this account.
	Ceilings map[string]generic.Money

	CreatedAt time.Time
}

// CeilingFor resolves the auto-engagement ceiling for an expense type by
// longest matching prefix.
func (a Account) CeilingFor(code generic.TypeCode) (generic.Money, generic.TypeCode, bool) {
	if len(a.Ceilings) == 0 {
		return generic.Zero, "", false
	}
	return generic.PrefixTableOf(a.Ceilings).Resolve(code)
}

// =============================================================================
// OPERATION
// =============================================================================

// Operation is a signed amount against an account: positive credits,
// negative debits. Once settled it is immutable.
type Operation struct {
	ID           string
	AccountID    string
	Amount       generic.Money
	PaymentID    string // optional
	AllocationID string // optional
	Label        string
	Settled      bool
	CreatedAt    time.Time
}

// OperationContext carries the optional links of a new operation.
type OperationContext struct {
	PaymentID    string
	AllocationID string
	Label        string
}

// OperationPatch changes an operation. Nil fields are left as is.
type OperationPatch struct {
	AccountID *string
	Amount    *generic.Money
	Label     *string
}

type OperationFilter struct {
	AccountID string
	PaymentID string
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentStatus string

const (
	PaymentWaiting   PaymentStatus = "waiting"
	PaymentCompleted PaymentStatus = "completed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Payment is an external money-in event.
type Payment struct {
	ID             string
	Price          generic.Money
	Status         PaymentStatus
	Label          string
	SubscriptionID string // set when the payment is a subscription instalment
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// Split assigns part of a payment to an account.
type Split struct {
	AccountID string
	Amount    generic.Money
	Label     string
}

// =============================================================================
// SUBSCRIPTION / ALLOCATION
// =============================================================================

// Subscription is a recurring pledge with a periodic price.
type Subscription struct {
	ID        string
	Price     generic.Money
	Label     string
	CreatedAt time.Time
}

// MonthlyAllocation directs part of each subscription instalment to an account.
type MonthlyAllocation struct {
	ID             string
	SubscriptionID string
	AccountID      string
	Amount         generic.Money
	CreatedAt      time.Time
}
