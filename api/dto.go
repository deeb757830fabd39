/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP surface. Domain structs carry no tags; these
  types own the snake_case contract so the domain can evolve freely.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  generic.Money marshals as a string with two decimals ("12.30") and
  accepts both "12.30" and 12.3 on input.

DATES:
  Days are "2006-01-02", instants RFC3339.

SEE ALSO:
  - handlers.go, expenses.go, transfers.go: Use these types
*/
package api

import (
	"time"

	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/generic"
	"github.com/warp/finance-engine/gestion"
)

// =============================================================================
// LEDGER
// =============================================================================

type AccountDTO struct {
	ID          string                   `json:"id"`
	Designation string                   `json:"designation"`
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	IBAN        string                   `json:"iban,omitempty"`
	BIC         string                   `json:"bic,omitempty"`
	HolderName  string                   `json:"holder_name,omitempty"`
	Ceilings    map[string]generic.Money `json:"ceilings,omitempty"`
	CreatedAt   string                   `json:"created_at,omitempty"`
}

// AccountRequest creates or replaces an account's editable fields.
type AccountRequest struct {
	Designation string                   `json:"designation"`
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	IBAN        string                   `json:"iban"`
	BIC         string                   `json:"bic"`
	HolderName  string                   `json:"holder_name"`
	Ceilings    map[string]generic.Money `json:"ceilings"`
}

func (r AccountRequest) account(id string) donations.Account {
	return donations.Account{
		ID:          id,
		Designation: r.Designation,
		Name:        r.Name,
		Description: r.Description,
		IBAN:        r.IBAN,
		BIC:         r.BIC,
		HolderName:  r.HolderName,
		Ceilings:    r.Ceilings,
	}
}

type BalanceDTO struct {
	AccountID string        `json:"account_id"`
	Balance   generic.Money `json:"balance"`
}

type OperationDTO struct {
	ID           string        `json:"id"`
	AccountID    string        `json:"account_id"`
	Amount       generic.Money `json:"amount"`
	PaymentID    string        `json:"payment_id,omitempty"`
	AllocationID string        `json:"allocation_id,omitempty"`
	Label        string        `json:"label,omitempty"`
	Settled      bool          `json:"settled"`
	CreatedAt    string        `json:"created_at"`
}

type OperationRequest struct {
	Amount    generic.Money `json:"amount"`
	PaymentID string        `json:"payment_id"`
	Label     string        `json:"label"`
}

// OperationPatchRequest changes the given fields only.
type OperationPatchRequest struct {
	AccountID *string        `json:"account_id"`
	Amount    *generic.Money `json:"amount"`
	Label     *string        `json:"label"`
}

type TransferRequest struct {
	ToAccountID string        `json:"to_account_id"`
	Amount      generic.Money `json:"amount"`
	Label       string        `json:"label"`
}

type PaymentDTO struct {
	ID             string        `json:"id"`
	Price          generic.Money `json:"price"`
	Status         string        `json:"status"`
	Label          string        `json:"label,omitempty"`
	SubscriptionID string        `json:"subscription_id,omitempty"`
	CreatedAt      string        `json:"created_at"`
	CompletedAt    string        `json:"completed_at,omitempty"`
}

type PriceRequest struct {
	Price generic.Money `json:"price"`
	Label string        `json:"label"`
}

type SplitRequest struct {
	AccountID string        `json:"account_id"`
	Amount    generic.Money `json:"amount"`
	Label     string        `json:"label"`
}

type CompletePaymentRequest struct {
	Splits []SplitRequest `json:"splits"`
}

type SubscriptionDTO struct {
	ID        string        `json:"id"`
	Price     generic.Money `json:"price"`
	Label     string        `json:"label,omitempty"`
	CreatedAt string        `json:"created_at"`
}

type AllocationDTO struct {
	ID             string        `json:"id"`
	SubscriptionID string        `json:"subscription_id"`
	AccountID      string        `json:"account_id"`
	Amount         generic.Money `json:"amount"`
}

type AllocationRequest struct {
	AccountID string        `json:"account_id"`
	Amount    generic.Money `json:"amount"`
}

func toAccountDTO(a donations.Account) AccountDTO {
	return AccountDTO{
		ID:          a.ID,
		Designation: a.Designation,
		Name:        a.Name,
		Description: a.Description,
		IBAN:        a.IBAN,
		BIC:         a.BIC,
		HolderName:  a.HolderName,
		Ceilings:    a.Ceilings,
		CreatedAt:   formatTime(a.CreatedAt),
	}
}

func toOperationDTOs(ops []donations.Operation) []OperationDTO {
	out := make([]OperationDTO, len(ops))
	for i, o := range ops {
		out[i] = OperationDTO{
			ID:           o.ID,
			AccountID:    o.AccountID,
			Amount:       o.Amount,
			PaymentID:    o.PaymentID,
			AllocationID: o.AllocationID,
			Label:        o.Label,
			Settled:      o.Settled,
			CreatedAt:    formatTime(o.CreatedAt),
		}
	}
	return out
}

func toPaymentDTO(p donations.Payment) PaymentDTO {
	return PaymentDTO{
		ID:             p.ID,
		Price:          p.Price,
		Status:         string(p.Status),
		Label:          p.Label,
		SubscriptionID: p.SubscriptionID,
		CreatedAt:      formatTime(p.CreatedAt),
		CompletedAt:    formatTimePtr(p.CompletedAt),
	}
}

func toSubscriptionDTO(s donations.Subscription) SubscriptionDTO {
	return SubscriptionDTO{ID: s.ID, Price: s.Price, Label: s.Label, CreatedAt: formatTime(s.CreatedAt)}
}

func toAllocationDTO(a donations.MonthlyAllocation) AllocationDTO {
	return AllocationDTO{ID: a.ID, SubscriptionID: a.SubscriptionID, AccountID: a.AccountID, Amount: a.Amount}
}

// =============================================================================
// DOSSIERS
// =============================================================================

type SupplierDTO struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	IBAN    string `json:"iban,omitempty"`
	BIC     string `json:"bic,omitempty"`
	Address string `json:"address,omitempty"`
}

func (s SupplierDTO) supplier() gestion.Supplier {
	return gestion.Supplier{ID: s.ID, Name: s.Name, IBAN: s.IBAN, BIC: s.BIC, Address: s.Address}
}

type DocumentDTO struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Obligation string `json:"obligation"`
	HasFile    bool   `json:"has_file"`
	Label      string `json:"label,omitempty"`
	URL        string `json:"url,omitempty"`
}

type DocumentRequest struct {
	Type       string `json:"type"`
	Obligation string `json:"obligation"`
	HasFile    bool   `json:"has_file"`
	Label      string `json:"label"`
	URL        string `json:"url"`
}

type ConfirmDocumentRequest struct {
	URL string `json:"url"`
}

type RemarkDTO struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	AuthorID   string `json:"author_id"`
	Open       bool   `json:"open"`
	CreatedAt  string `json:"created_at"`
	ResolvedAt string `json:"resolved_at,omitempty"`
}

type RemarkRequest struct {
	Text string `json:"text"`
}

type SettlementDTO struct {
	ID              string        `json:"id"`
	Reference       string        `json:"reference"`
	ExpenseID       string        `json:"expense_id"`
	AccountID       string        `json:"account_id"`
	Mode            string        `json:"mode"`
	Amount          generic.Money `json:"amount"`
	Creditor        SupplierDTO   `json:"creditor"`
	ProofDocumentID string        `json:"proof_document_id,omitempty"`
	Status          string        `json:"status"`
	EndToEndID      string        `json:"end_to_end_id,omitempty"`
	TransferOrderID string        `json:"transfer_order_id,omitempty"`
	SettledAt       string        `json:"settled_at,omitempty"`
	ReconciledAt    string        `json:"reconciled_at,omitempty"`
}

type SettlementRequest struct {
	Mode            string        `json:"mode"`
	Amount          generic.Money `json:"amount"`
	Creditor        *SupplierDTO  `json:"creditor"`
	ProofDocumentID string        `json:"proof_document_id"`
}

type AmountRequest struct {
	Amount generic.Money `json:"amount"`
}

type ProofRequest struct {
	DocumentID string `json:"document_id"`
}

type MarkSettledRequest struct {
	Date string `json:"date"` // optional, defaults to today
}

type ExpenseDTO struct {
	ID            string          `json:"id"`
	Reference     string          `json:"reference"`
	AccountID     string          `json:"account_id"`
	ProjectID     string          `json:"project_id,omitempty"`
	Type          string          `json:"type"`
	Label         string          `json:"label"`
	Amount        generic.Money   `json:"amount"`
	Settled       generic.Money   `json:"settled"`
	State         string          `json:"state"`
	SupplierID    string          `json:"supplier_id,omitempty"`
	BeneficiaryID string          `json:"beneficiary_id,omitempty"`
	EngagedAt     string          `json:"engaged_at,omitempty"`
	RebilledTo    string          `json:"rebilled_to,omitempty"`
	RebilledAt    string          `json:"rebilled_at,omitempty"`
	CreatedBy     string          `json:"created_by"`
	Version       int             `json:"version"`
	Documents     []DocumentDTO   `json:"documents"`
	Settlements   []SettlementDTO `json:"settlements"`
	Remarks       []RemarkDTO     `json:"remarks"`
}

type CreateExpenseRequest struct {
	AccountID     string        `json:"account_id"`
	ProjectID     string        `json:"project_id"`
	Type          string        `json:"type"`
	Label         string        `json:"label"`
	Amount        generic.Money `json:"amount"`
	SupplierID    string        `json:"supplier_id"`
	BeneficiaryID string        `json:"beneficiary_id"`
}

type RebillRequest struct {
	TargetAccountID string `json:"target_account_id"`
}

type ParticipationDTO struct {
	ID             string `json:"id,omitempty"`
	PersonID       string `json:"person_id"`
	PersonName     string `json:"person_name"`
	Role           string `json:"role,omitempty"`
	NeedsTransport bool   `json:"needs_transport"`
}

type ProjectDTO struct {
	ID             string             `json:"id"`
	Reference      string             `json:"reference"`
	AccountID      string             `json:"account_id"`
	Title          string             `json:"title"`
	Kind           string             `json:"kind"`
	EventRef       string             `json:"event_ref,omitempty"`
	State          string             `json:"state"`
	CreatedBy      string             `json:"created_by"`
	Version        int                `json:"version"`
	Participations []ParticipationDTO `json:"participations"`
	Documents      []DocumentDTO      `json:"documents"`
	Remarks        []RemarkDTO        `json:"remarks"`
	ExpenseIDs     []string           `json:"expense_ids"`
}

type CreateProjectRequest struct {
	AccountID string `json:"account_id"`
	Title     string `json:"title"`
	Kind      string `json:"kind"`
	EventRef  string `json:"event_ref"`
}

type LinkDocumentRequest struct {
	DocumentID string `json:"document_id"`
}

type TodoItemDTO struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

type TodoDTO struct {
	Topic string        `json:"topic"`
	Items []TodoItemDTO `json:"items"`
}

type TodosResponse struct {
	Todos   []TodoDTO `json:"todos"`
	Count   int       `json:"count"`
	NoTodos bool      `json:"no_todos"`
}

type TransitionDTO struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Target string `json:"target"`
}

type AuditEntryDTO struct {
	At         string         `json:"at"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	Transition string         `json:"transition,omitempty"`
	From       string         `json:"from,omitempty"`
	To         string         `json:"to,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func toDocumentDTOs(docs []gestion.Document) []DocumentDTO {
	out := make([]DocumentDTO, len(docs))
	for i, d := range docs {
		out[i] = toDocumentDTO(d)
	}
	return out
}

func toDocumentDTO(d gestion.Document) DocumentDTO {
	return DocumentDTO{
		ID:         d.ID,
		Type:       d.Type,
		Obligation: string(d.Obligation),
		HasFile:    d.HasFile,
		Label:      d.Label,
		URL:        d.URL,
	}
}

func toRemarkDTO(r gestion.Remark) RemarkDTO {
	return RemarkDTO{
		ID:         r.ID,
		Text:       r.Text,
		AuthorID:   r.AuthorID,
		Open:       r.Open,
		CreatedAt:  formatTime(r.CreatedAt),
		ResolvedAt: formatTimePtr(r.ResolvedAt),
	}
}

func toRemarkDTOs(rs []gestion.Remark) []RemarkDTO {
	out := make([]RemarkDTO, len(rs))
	for i, r := range rs {
		out[i] = toRemarkDTO(r)
	}
	return out
}

func toSupplierDTO(s gestion.Supplier) SupplierDTO {
	return SupplierDTO{ID: s.ID, Name: s.Name, IBAN: s.IBAN, BIC: s.BIC, Address: s.Address}
}

func toSettlementDTO(s gestion.Settlement) SettlementDTO {
	return SettlementDTO{
		ID:              s.ID,
		Reference:       s.Reference,
		ExpenseID:       s.ExpenseID,
		AccountID:       s.AccountID,
		Mode:            string(s.Mode),
		Amount:          s.Amount,
		Creditor:        toSupplierDTO(s.Creditor),
		ProofDocumentID: s.ProofDocumentID,
		Status:          string(s.Status),
		EndToEndID:      s.EndToEndID,
		TransferOrderID: s.TransferOrderID,
		SettledAt:       formatDayPtr(s.SettledAt),
		ReconciledAt:    formatTimePtr(s.ReconciledAt),
	}
}

func toExpenseDTO(e gestion.Expense) ExpenseDTO {
	settlements := make([]SettlementDTO, len(e.Settlements))
	for i, s := range e.Settlements {
		settlements[i] = toSettlementDTO(s)
	}
	return ExpenseDTO{
		ID:            e.ID,
		Reference:     e.Reference,
		AccountID:     e.AccountID,
		ProjectID:     e.ProjectID,
		Type:          string(e.Type),
		Label:         e.Label,
		Amount:        e.Amount,
		Settled:       e.Settled(),
		State:         string(e.State),
		SupplierID:    e.SupplierID,
		BeneficiaryID: e.BeneficiaryID,
		EngagedAt:     formatTimePtr(e.EngagedAt),
		RebilledTo:    e.RebilledTo,
		RebilledAt:    formatTimePtr(e.RebilledAt),
		CreatedBy:     e.CreatedBy,
		Version:       e.Version,
		Documents:     toDocumentDTOs(e.Documents),
		Settlements:   settlements,
		Remarks:       toRemarkDTOs(e.Remarks),
	}
}

func toProjectDTO(p gestion.Project) ProjectDTO {
	parts := make([]ParticipationDTO, len(p.Participations))
	for i, pa := range p.Participations {
		parts[i] = ParticipationDTO{
			ID:             pa.ID,
			PersonID:       pa.PersonID,
			PersonName:     pa.PersonName,
			Role:           pa.Role,
			NeedsTransport: pa.NeedsTransport,
		}
	}
	expenseIDs := make([]string, len(p.Expenses))
	for i, e := range p.Expenses {
		expenseIDs[i] = e.ID
	}
	return ProjectDTO{
		ID:             p.ID,
		Reference:      p.Reference,
		AccountID:      p.AccountID,
		Title:          p.Title,
		Kind:           string(p.Kind),
		EventRef:       p.EventRef,
		State:          string(p.State),
		CreatedBy:      p.CreatedBy,
		Version:        p.Version,
		Participations: parts,
		Documents:      toDocumentDTOs(p.Documents),
		Remarks:        toRemarkDTOs(p.Remarks),
		ExpenseIDs:     expenseIDs,
	}
}

func toTodosResponse(todos []gestion.Todo, noTodos bool) TodosResponse {
	out := make([]TodoDTO, len(todos))
	for i, t := range todos {
		items := make([]TodoItemDTO, len(t.Items))
		for j, it := range t.Items {
			items[j] = TodoItemDTO{Message: it.Message, Severity: string(it.Severity)}
		}
		out[i] = TodoDTO{Topic: t.Topic, Items: items}
	}
	return TodosResponse{Todos: out, Count: gestion.CountTodos(todos), NoTodos: noTodos}
}

func toAuditDTOs(entries []generic.AuditEntry) []AuditEntryDTO {
	out := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = AuditEntryDTO{
			At:         formatTime(e.At),
			ActorID:    e.ActorID,
			Action:     string(e.Action),
			Transition: e.Transition,
			From:       e.From,
			To:         e.To,
			Payload:    e.Payload,
		}
	}
	return out
}

// =============================================================================
// TRANSFER ORDERS
// =============================================================================

type TransferOrderDTO struct {
	ID            string   `json:"id"`
	Reference     string   `json:"reference"`
	AccountID     string   `json:"account_id"`
	ExecutionDate string   `json:"execution_date"`
	Status        string   `json:"status"`
	HasFile       bool     `json:"has_file"`
	CreatedBy     string   `json:"created_by"`
	CreatedAt     string   `json:"created_at"`
	SettlementIDs []string `json:"settlement_ids"`
}

type BuildTransferOrderRequest struct {
	SettlementIDs []string `json:"settlement_ids"`
	ExecutionDate string   `json:"execution_date"`
}

type BatchIssueDTO struct {
	SettlementID string `json:"settlement_id,omitempty"`
	Code         string `json:"code"`
	Detail       string `json:"detail,omitempty"`
}

func toTransferOrderDTO(o gestion.TransferOrder) TransferOrderDTO {
	ids := o.SettlementIDs
	if ids == nil {
		ids = []string{}
	}
	return TransferOrderDTO{
		ID:            o.ID,
		Reference:     o.Reference,
		AccountID:     o.AccountID,
		ExecutionDate: o.ExecutionDate.Format(generic.DateLayout),
		Status:        string(o.Status),
		HasFile:       len(o.File) > 0,
		CreatedBy:     o.CreatedBy,
		CreatedAt:     formatTime(o.CreatedAt),
		SettlementIDs: ids,
	}
}

// =============================================================================
// FORMATTING
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func formatDayPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(generic.DateLayout)
}
