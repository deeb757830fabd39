package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/generic"
	"github.com/warp/finance-engine/gestion"
)

// =============================================================================
// SUPPLIERS
// =============================================================================

func (h *Handler) CreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req SupplierDTO
	if !decode(w, r, &req) {
		return
	}
	req.ID = ""
	s, err := h.Gestion.CreateSupplier(r.Context(), req.supplier())
	if err != nil {
		h.writeDomainError(w, "Failed to create supplier", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSupplierDTO(s))
}

func (h *Handler) GetSupplier(w http.ResponseWriter, r *http.Request) {
	s, err := h.Gestion.GetSupplier(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get supplier", err)
		return
	}
	writeJSON(w, http.StatusOK, toSupplierDTO(s))
}

func (h *Handler) UpdateSupplier(w http.ResponseWriter, r *http.Request) {
	var req SupplierDTO
	if !decode(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")
	s, err := h.Gestion.UpdateSupplier(r.Context(), req.supplier())
	if err != nil {
		h.writeDomainError(w, "Failed to update supplier", err)
		return
	}
	writeJSON(w, http.StatusOK, toSupplierDTO(s))
}

// =============================================================================
// EXPENSES
// =============================================================================

// CreateExpense opens a dossier; the response state says whether it was
// engaged automatically.
func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var req CreateExpenseRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := h.Gestion.CreateExpense(r.Context(), actor(r), gestion.ExpenseInput{
		AccountID:     req.AccountID,
		ProjectID:     req.ProjectID,
		Type:          generic.TypeCode(req.Type),
		Label:         req.Label,
		Amount:        req.Amount,
		SupplierID:    req.SupplierID,
		BeneficiaryID: req.BeneficiaryID,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to create expense", err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseDTO(e))
}

// ListExpenses filters by ?account_id=, ?project_id= and repeated ?state=.
func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := gestion.ExpenseFilter{AccountID: q.Get("account_id"), ProjectID: q.Get("project_id")}
	for _, s := range q["state"] {
		f.States = append(f.States, gestion.ExpenseState(s))
	}
	expenses, err := h.Gestion.ListExpenses(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, "Failed to list expenses", err)
		return
	}
	dtos := make([]ExpenseDTO, len(expenses))
	for i, e := range expenses {
		dtos[i] = toExpenseDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	e, err := h.Gestion.GetExpense(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get expense", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(e))
}

// ExpenseTodos returns the outstanding todo list.
func (h *Handler) ExpenseTodos(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	todos, err := h.Gestion.Todos(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to evaluate todos", err)
		return
	}
	done, err := h.Gestion.NoTodos(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to evaluate todos", err)
		return
	}
	writeJSON(w, http.StatusOK, toTodosResponse(todos, done))
}

// ExpenseTransitions lists what the caller may fire now.
func (h *Handler) ExpenseTransitions(w http.ResponseWriter, r *http.Request) {
	ts, err := h.Gestion.AvailableTransitions(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to list transitions", err)
		return
	}
	dtos := make([]TransitionDTO, len(ts))
	for i, t := range ts {
		dtos[i] = TransitionDTO{Name: t.Name, Label: t.Label, Target: string(t.Target)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// FireExpenseTransition applies the named transition.
func (h *Handler) FireExpenseTransition(w http.ResponseWriter, r *http.Request) {
	e, err := h.Gestion.Transition(r.Context(), actor(r), chi.URLParam(r, "id"), chi.URLParam(r, "name"))
	if err != nil {
		h.writeDomainError(w, "Transition refused", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(e))
}

func (h *Handler) UpdateExpenseAmount(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := h.Gestion.UpdateExpenseAmount(r.Context(), actor(r), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		h.writeDomainError(w, "Failed to update amount", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(e))
}

// RebillExpense moves the expense amount to another account.
func (h *Handler) RebillExpense(w http.ResponseWriter, r *http.Request) {
	var req RebillRequest
	if !decode(w, r, &req) {
		return
	}
	debit, credit, err := h.Gestion.Rebill(r.Context(), actor(r), chi.URLParam(r, "id"), req.TargetAccountID)
	if err != nil {
		h.writeDomainError(w, "Failed to rebill expense", err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationDTOs([]donations.Operation{debit, credit}))
}

func (h *Handler) ExpenseHistory(w http.ResponseWriter, r *http.Request) {
	h.history(w, r, gestion.OwnerExpense)
}

// =============================================================================
// DOCUMENTS AND REMARKS (expense or project owner)
// =============================================================================

func ownerOf(r *http.Request, kind gestion.OwnerKind) gestion.Owner {
	return gestion.Owner{Kind: kind, ID: chi.URLParam(r, "id")}
}

func (h *Handler) attachDocument(w http.ResponseWriter, r *http.Request, kind gestion.OwnerKind) {
	var req DocumentRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := h.Gestion.AttachDocument(r.Context(), actor(r), ownerOf(r, kind), gestion.DocumentInput{
		Type:       req.Type,
		Obligation: gestion.Obligation(req.Obligation),
		HasFile:    req.HasFile,
		Label:      req.Label,
		URL:        req.URL,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to attach document", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentDTO(d))
}

func (h *Handler) confirmDocument(w http.ResponseWriter, r *http.Request, kind gestion.OwnerKind) {
	var req ConfirmDocumentRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := h.Gestion.ConfirmDocument(r.Context(), actor(r), ownerOf(r, kind), chi.URLParam(r, "docID"), req.URL)
	if err != nil {
		h.writeDomainError(w, "Failed to confirm document", err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(d))
}

func (h *Handler) addRemark(w http.ResponseWriter, r *http.Request, kind gestion.OwnerKind) {
	var req RemarkRequest
	if !decode(w, r, &req) {
		return
	}
	rm, err := h.Gestion.AddRemark(r.Context(), actor(r), ownerOf(r, kind), req.Text)
	if err != nil {
		h.writeDomainError(w, "Failed to add remark", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRemarkDTO(rm))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request, kind gestion.OwnerKind) {
	entries, err := h.Gestion.History(r.Context(), ownerOf(r, kind))
	if err != nil {
		h.writeDomainError(w, "Failed to read history", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

func (h *Handler) AttachExpenseDocument(w http.ResponseWriter, r *http.Request) {
	h.attachDocument(w, r, gestion.OwnerExpense)
}

func (h *Handler) ConfirmExpenseDocument(w http.ResponseWriter, r *http.Request) {
	h.confirmDocument(w, r, gestion.OwnerExpense)
}

func (h *Handler) AddExpenseRemark(w http.ResponseWriter, r *http.Request) {
	h.addRemark(w, r, gestion.OwnerExpense)
}

func (h *Handler) ResolveRemark(w http.ResponseWriter, r *http.Request) {
	rm, err := h.Gestion.ResolveRemark(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to resolve remark", err)
		return
	}
	writeJSON(w, http.StatusOK, toRemarkDTO(rm))
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func (h *Handler) AddSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettlementRequest
	if !decode(w, r, &req) {
		return
	}
	in := gestion.SettlementInput{
		Mode:            gestion.SettlementMode(req.Mode),
		Amount:          req.Amount,
		ProofDocumentID: req.ProofDocumentID,
	}
	if req.Creditor != nil {
		c := req.Creditor.supplier()
		in.Creditor = &c
	}
	s, err := h.Gestion.AddSettlement(r.Context(), actor(r), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeDomainError(w, "Failed to add settlement", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSettlementDTO(s))
}

func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	s, err := h.Gestion.GetSettlement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(s))
}

func (h *Handler) UpdateSettlementAmount(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := h.Gestion.UpdateSettlementAmount(r.Context(), actor(r), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		h.writeDomainError(w, "Failed to update settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(s))
}

func (h *Handler) DeleteSettlement(w http.ResponseWriter, r *http.Request) {
	if err := h.Gestion.DeleteSettlement(r.Context(), actor(r), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, "Failed to delete settlement", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AttachProof(w http.ResponseWriter, r *http.Request) {
	var req ProofRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := h.Gestion.AttachProof(r.Context(), actor(r), chi.URLParam(r, "id"), req.DocumentID)
	if err != nil {
		h.writeDomainError(w, "Failed to attach proof", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(s))
}

// MarkSettled records a non-transfer settlement as paid.
func (h *Handler) MarkSettled(w http.ResponseWriter, r *http.Request) {
	var req MarkSettledRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	at := time.Now().UTC()
	if req.Date != "" {
		d, err := generic.ParseDay(req.Date)
		if err != nil {
			h.writeDomainError(w, "Invalid date", err)
			return
		}
		at = d
	}
	s, err := h.Gestion.MarkSettled(r.Context(), actor(r), chi.URLParam(r, "id"), at)
	if err != nil {
		h.writeDomainError(w, "Failed to mark settled", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(s))
}

// =============================================================================
// PROJECTS
// =============================================================================

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Gestion.CreateProject(r.Context(), actor(r), gestion.ProjectInput{
		AccountID: req.AccountID,
		Title:     req.Title,
		Kind:      gestion.ProjectKind(req.Kind),
		EventRef:  req.EventRef,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to create project", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectDTO(p))
}

func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.Gestion.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get project", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(p))
}

func (h *Handler) AddParticipation(w http.ResponseWriter, r *http.Request) {
	var req ParticipationDTO
	if !decode(w, r, &req) {
		return
	}
	pa, err := h.Gestion.AddParticipation(r.Context(), actor(r), chi.URLParam(r, "id"), gestion.Participation{
		PersonID:       req.PersonID,
		PersonName:     req.PersonName,
		Role:           req.Role,
		NeedsTransport: req.NeedsTransport,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to add participation", err)
		return
	}
	req.ID = pa.ID
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) ProjectTodos(w http.ResponseWriter, r *http.Request) {
	p, err := h.Gestion.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get project", err)
		return
	}
	todos, err := h.Gestion.ProjectTodos(r.Context(), p.ID)
	if err != nil {
		h.writeDomainError(w, "Failed to evaluate todos", err)
		return
	}
	writeJSON(w, http.StatusOK, toTodosResponse(todos, gestion.NoTodos(todos, p.Remarks)))
}

func (h *Handler) ProjectTransitions(w http.ResponseWriter, r *http.Request) {
	ts, err := h.Gestion.AvailableProjectTransitions(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to list transitions", err)
		return
	}
	dtos := make([]TransitionDTO, len(ts))
	for i, t := range ts {
		dtos[i] = TransitionDTO{Name: t.Name, Label: t.Label, Target: string(t.Target)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) FireProjectTransition(w http.ResponseWriter, r *http.Request) {
	p, err := h.Gestion.TransitionProject(r.Context(), actor(r), chi.URLParam(r, "id"), chi.URLParam(r, "name"))
	if err != nil {
		h.writeDomainError(w, "Transition refused", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(p))
}

func (h *Handler) AttachProjectDocument(w http.ResponseWriter, r *http.Request) {
	h.attachDocument(w, r, gestion.OwnerProject)
}

func (h *Handler) ConfirmProjectDocument(w http.ResponseWriter, r *http.Request) {
	h.confirmDocument(w, r, gestion.OwnerProject)
}

// LinkProjectDocument shares an existing document with the project.
func (h *Handler) LinkProjectDocument(w http.ResponseWriter, r *http.Request) {
	var req LinkDocumentRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.Gestion.LinkDocument(r.Context(), actor(r), ownerOf(r, gestion.OwnerProject), req.DocumentID); err != nil {
		h.writeDomainError(w, "Failed to link document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddProjectRemark(w http.ResponseWriter, r *http.Request) {
	h.addRemark(w, r, gestion.OwnerProject)
}

func (h *Handler) ProjectHistory(w http.ResponseWriter, r *http.Request) {
	h.history(w, r, gestion.OwnerProject)
}
