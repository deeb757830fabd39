package gestion

import (
	"context"

	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/generic"
)

// =============================================================================
// STORE - Persistence contract for dossiers
// =============================================================================

type ExpenseFilter struct {
	AccountID string
	ProjectID string
	States    []ExpenseState
}

type SettlementFilter struct {
	AccountID       string
	ExpenseID       string
	TransferOrderID string
	Statuses        []SettlementStatus
}

// Store persists dossiers. All writes go through WithDossierTx.
type Store interface {
	// WithDossierTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithDossierTx(ctx context.Context, fn func(tx DossierTx) error) error

	GetExpense(ctx context.Context, id string) (Expense, error)
	ListExpenses(ctx context.Context, f ExpenseFilter) ([]Expense, error)
	GetProject(ctx context.Context, id string) (Project, error)
	GetSupplier(ctx context.Context, id string) (Supplier, error)
	GetSettlement(ctx context.Context, id string) (Settlement, error)
	GetTransferOrder(ctx context.Context, id string) (TransferOrder, error)
	ListTransferOrders(ctx context.Context, accountID string) ([]TransferOrder, error)

	generic.AuditLog
}

// DossierTx is the view of the store inside one transaction.
//
// GetExpense and GetProject load the full aggregate (documents, remarks,
// settlements; a project also gets its participations and expenses).
// Lock* methods are locking reads. Update* methods on versioned rows take
// the version read by the caller and return generic.ErrConcurrentModification
// when the row changed since; on success the stored version is incremented.
type DossierTx interface {
	GetAccount(ctx context.Context, id string) (donations.Account, error)
	// Ledger is the same transaction seen as a ledger transaction.
	Ledger() donations.LedgerTx

	InsertSupplier(ctx context.Context, s Supplier) error
	UpdateSupplier(ctx context.Context, s Supplier) error
	GetSupplier(ctx context.Context, id string) (Supplier, error)

	InsertExpense(ctx context.Context, e Expense) error
	GetExpense(ctx context.Context, id string) (Expense, error)
	LockExpense(ctx context.Context, id string) (Expense, error)
	UpdateExpense(ctx context.Context, e Expense, version int) error

	InsertProject(ctx context.Context, p Project) error
	GetProject(ctx context.Context, id string) (Project, error)
	UpdateProject(ctx context.Context, p Project, version int) error
	InsertParticipation(ctx context.Context, projectID string, p Participation) error

	InsertDocument(ctx context.Context, owner Owner, d Document) error
	LinkDocument(ctx context.Context, owner Owner, documentID string) error
	GetDocument(ctx context.Context, id string) (Document, error)
	UpdateDocument(ctx context.Context, d Document) error

	InsertRemark(ctx context.Context, owner Owner, r Remark) error
	GetRemark(ctx context.Context, id string) (Remark, Owner, error)
	UpdateRemark(ctx context.Context, r Remark) error

	InsertSettlement(ctx context.Context, s Settlement) error
	GetSettlement(ctx context.Context, id string) (Settlement, error)
	UpdateSettlement(ctx context.Context, s Settlement) error
	DeleteSettlement(ctx context.Context, id string) error
	// LockSettlements returns the settlements among ids that exist, in id
	// order, locked for the rest of the transaction.
	LockSettlements(ctx context.Context, ids []string) ([]Settlement, error)
	ListSettlements(ctx context.Context, f SettlementFilter) ([]Settlement, error)

	InsertTransferOrder(ctx context.Context, o TransferOrder) error
	LockTransferOrder(ctx context.Context, id string) (TransferOrder, error)
	UpdateTransferOrder(ctx context.Context, o TransferOrder) error

	AppendAudit(ctx context.Context, entry generic.AuditEntry) error
}
