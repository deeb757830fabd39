/*
Package gestion manages spend dossiers: expenses, projects, their documents
and settlements, the approval workflow, transfer batches and the
accounting export.

PURPOSE:
  An Expense is a single spend against an Account. It collects Documents
  (invoices, quotes, photos, proofs of payment), Remarks from reviewers and
  Settlements (concrete payments out). A Project groups expenses and
  participations. Both move through a guarded workflow (workflow.go) whose
  completion steps require an empty todo list (conditions.go).

  Approved transfer settlements are batched into TransferOrders (transfers.go)
  and rendered as SEPA credit transfer files (sepa.go). Settled rows are
  flattened for bookkeeping (export.go).

KEY CONCEPTS IN THIS FILE (types.go):
  - Expense, Project, Participation
  - Document, Remark, Supplier
  - Settlement, TransferOrder

INVARIANTS:
  - sum(settlement amounts of an expense) <= expense amount
  - a settlement belongs to exactly one expense, at most one transfer order
  - an end-to-end identifier, once assigned, never changes

SEE ALSO:
  - donations: Accounts and the ledger
  - service.go: Dossier operations
*/
package gestion

import (
	"time"

	"github.com/warp/finance-engine/generic"
)

// =============================================================================
// DOCUMENTS
// =============================================================================

// Obligation says how much a document matters to the dossier.
type Obligation string

const (
	Necessary  Obligation = "necessary"
	Preferable Obligation = "preferable"
	Ignorable  Obligation = "ignorable"
)

func (o Obligation) Valid() bool {
	switch o {
	case Necessary, Preferable, Ignorable:
		return true
	}
	return false
}

// Well-known document types.
const (
	DocInvoice        = "facture"
	DocQuote          = "devis"
	DocProofOfPayment = "preuve_paiement"
	DocPhotograph     = "photo"
	DocTicket         = "titre_transport"
	DocGuestList      = "liste_participants"
	DocMileage        = "releve_kilometrique"
	DocFundingRequest = "demande_financement"
)

// Document is a justificatif. File storage is external; only presence of a
// file is known here.
type Document struct {
	ID         string
	Type       string
	Obligation Obligation
	HasFile    bool
	Label      string
	URL        string
	CreatedAt  time.Time
}

// OwnerKind names the dossier a document or remark hangs off.
type OwnerKind string

const (
	OwnerExpense OwnerKind = "expense"
	OwnerProject OwnerKind = "project"
)

type Owner struct {
	Kind OwnerKind
	ID   string
}

// Remark is a reviewer note; open remarks block completion.
type Remark struct {
	ID         string
	Text       string
	AuthorID   string
	Open       bool
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

func openRemarks(rs []Remark) int {
	n := 0
	for _, r := range rs {
		if r.Open {
			n++
		}
	}
	return n
}

func hasDocument(docs []Document, docType string) bool {
	for _, d := range docs {
		if d.Type == docType && d.HasFile {
			return true
		}
	}
	return false
}

func findDocument(docs []Document, id string) (Document, bool) {
	for _, d := range docs {
		if d.ID == id {
			return d, true
		}
	}
	return Document{}, false
}

// =============================================================================
// SUPPLIER
// =============================================================================

// Supplier is a payee. Settlements copy it, so editing a supplier never
// changes past settlements.
type Supplier struct {
	ID      string
	Name    string
	IBAN    string
	BIC     string
	Address string
}

// =============================================================================
// EXPENSE
// =============================================================================

type ExpenseState string

const (
	ExpenseAttenteValidation ExpenseState = "AttenteValidation"
	ExpenseAttenteEngagement ExpenseState = "AttenteEngagement"
	ExpenseConstitution      ExpenseState = "Constitution"
	ExpenseComplet           ExpenseState = "Complet"
	ExpenseCloture           ExpenseState = "Cloture"
	ExpenseRefus             ExpenseState = "Refus"
)

// Engaged reports whether money is committed for the expense.
func (s ExpenseState) Engaged() bool {
	return s == ExpenseConstitution || s == ExpenseComplet || s == ExpenseCloture
}

// Expense (depense) is one spend dossier.
type Expense struct {
	ID            string
	Reference     string
	AccountID     string
	ProjectID     string // optional
	Type          generic.TypeCode
	Label         string
	Amount        generic.Money
	State         ExpenseState
	SupplierID    string // optional
	BeneficiaryID string // person reimbursed, optional
	EngagedAt     *time.Time
	RebilledTo    string // account that bore the cost, once rebilled
	RebilledAt    *time.Time
	CreatedBy     string
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Documents   []Document
	Settlements []Settlement
	Remarks     []Remark
}

// Settled sums the expense's settlement amounts.
func (e *Expense) Settled() generic.Money {
	total := generic.Zero
	for _, s := range e.Settlements {
		total = total.Add(s.Amount)
	}
	return total
}

// =============================================================================
// PROJECT
// =============================================================================

type ProjectState string

const (
	ProjectDemandeFinancement ProjectState = "DemandeFinancement"
	ProjectEnConstitution     ProjectState = "EnConstitution"
	ProjectFinalise           ProjectState = "Finalise"
	ProjectRenvoi             ProjectState = "Renvoi"
	ProjectCloture            ProjectState = "Cloture"
	ProjectRefuse             ProjectState = "Refuse"
)

type ProjectKind string

const (
	ProjectStandard ProjectKind = "standard"
	ProjectEvent    ProjectKind = "event"
)

// Participation is a person taking part in a project.
type Participation struct {
	ID             string
	PersonID       string
	PersonName     string
	Role           string
	NeedsTransport bool
}

// Project groups related expenses.
type Project struct {
	ID        string
	Reference string
	AccountID string
	Title     string
	Kind      ProjectKind
	EventRef  string // opaque external event reference
	State     ProjectState
	CreatedBy string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time

	Participations []Participation
	Documents      []Document
	Remarks        []Remark
	Expenses       []Expense // without their children
}

// =============================================================================
// SETTLEMENT
// =============================================================================

type SettlementMode string

const (
	ModeTransfer    SettlementMode = "transfer"
	ModeDirectDebit SettlementMode = "direct_debit"
	ModeCheck       SettlementMode = "check"
	ModeCard        SettlementMode = "card"
	ModeCash        SettlementMode = "cash"
)

func (m SettlementMode) Valid() bool {
	switch m {
	case ModeTransfer, ModeDirectDebit, ModeCheck, ModeCard, ModeCash:
		return true
	}
	return false
}

// Code is the bookkeeping mode code.
func (m SettlementMode) Code() string {
	switch m {
	case ModeTransfer:
		return "VIR"
	case ModeDirectDebit:
		return "PRE"
	case ModeCheck:
		return "CHQ"
	case ModeCard:
		return "CB"
	case ModeCash:
		return "ESP"
	}
	return ""
}

type SettlementStatus string

const (
	SettlementPending    SettlementStatus = "pending"
	SettlementSettled    SettlementStatus = "settled"
	SettlementReconciled SettlementStatus = "reconciled"
)

// Settlement (reglement) is one payment out for an expense.
type Settlement struct {
	ID              string
	Reference       string
	ExpenseID       string
	AccountID       string // the expense's account
	Mode            SettlementMode
	Amount          generic.Money
	Creditor        Supplier // snapshot
	ProofDocumentID string
	Status          SettlementStatus
	EndToEndID      string
	TransferOrderID string
	CreatedAt       time.Time
	SettledAt       *time.Time
	ReconciledAt    *time.Time
}

// Batchable reports whether the settlement may join a new transfer order.
func (s Settlement) Batchable() bool {
	return s.Mode == ModeTransfer && s.Status == SettlementPending && s.TransferOrderID == ""
}

// =============================================================================
// TRANSFER ORDER
// =============================================================================

type OrderStatus string

const (
	OrderIssued      OrderStatus = "issued"
	OrderTransmitted OrderStatus = "transmitted"
	OrderReconciled  OrderStatus = "reconciled"
	OrderCancelled   OrderStatus = "cancelled"
)

// TransferOrder (ordre de virement) batches transfer settlements of one
// account into one bank file.
type TransferOrder struct {
	ID            string
	Reference     string
	AccountID     string
	ExecutionDate time.Time
	Status        OrderStatus
	File          []byte
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	SettlementIDs []string
}
