package gestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/generic"
	"github.com/warp/finance-engine/obs"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service runs every dossier operation. Each write is one store transaction
// that also appends its audit entry.
type Service struct {
	Store      Store
	Authorizer generic.Authorizer
	Typology   *Typology
	Projects   *Rulebook[*Project]
	Ledger     *donations.Ledger // used by Rebill
	Logger     *slog.Logger
	Now        func() time.Time

	// DocumentBaseURL prefixes document ids in exports when a document has
	// no URL of its own.
	DocumentBaseURL string
}

func NewService(store Store, az generic.Authorizer, ledger *donations.Ledger, logger *slog.Logger) *Service {
	return &Service{
		Store:      store,
		Authorizer: az,
		Typology:   DefaultTypology(),
		Projects:   NewProjectRulebook(),
		Ledger:     ledger,
		Logger:     logger,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) log() *slog.Logger { return obs.OrDefault(s.Logger) }

// authorizer is the request's authorizer when one is bound to ctx, else
// the service-wide one.
func (s *Service) authorizer(ctx context.Context) generic.Authorizer {
	return generic.AuthorizerFrom(ctx, s.Authorizer)
}

func (s *Service) require(ctx context.Context, p generic.Principal, accountID, action string, caps ...generic.Capability) error {
	if generic.HasAny(s.authorizer(ctx), p, generic.AccountScope(accountID), caps...) {
		return nil
	}
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	return fmt.Errorf("%w: %s requires one of %s", generic.ErrCapabilityMissing, action, strings.Join(names, ", "))
}

func audit(actor generic.Principal, kind OwnerKind, id string, action generic.AuditAction, at time.Time) generic.AuditEntry {
	e := generic.NewAuditEntry(actor, string(kind), id, action)
	e.At = at
	return e
}

// ownerAccount resolves the account a dossier belongs to, with the manage
// and control capabilities of its kind.
func ownerAccount(ctx context.Context, tx DossierTx, owner Owner) (accountID string, manage, control generic.Capability, err error) {
	switch owner.Kind {
	case OwnerExpense:
		e, err := tx.GetExpense(ctx, owner.ID)
		if err != nil {
			return "", "", "", err
		}
		return e.AccountID, generic.CapManageExpense, generic.CapControlExpense, nil
	case OwnerProject:
		p, err := tx.GetProject(ctx, owner.ID)
		if err != nil {
			return "", "", "", err
		}
		return p.AccountID, generic.CapManageProject, generic.CapControlProject, nil
	}
	return "", "", "", fmt.Errorf("%w: unknown dossier kind %q", generic.ErrInvalidInput, owner.Kind)
}

// =============================================================================
// SUPPLIERS
// =============================================================================

func validateSupplier(sp Supplier) error {
	if strings.TrimSpace(sp.Name) == "" {
		return fmt.Errorf("%w: supplier name is required", generic.ErrInvalidInput)
	}
	if sp.IBAN != "" && !generic.ValidIBAN(sp.IBAN) {
		return fmt.Errorf("%w: invalid IBAN %q", generic.ErrInvalidInput, sp.IBAN)
	}
	if sp.BIC != "" && !generic.ValidBIC(sp.BIC) {
		return fmt.Errorf("%w: invalid BIC %q", generic.ErrInvalidInput, sp.BIC)
	}
	return nil
}

func (s *Service) CreateSupplier(ctx context.Context, sp Supplier) (Supplier, error) {
	if err := validateSupplier(sp); err != nil {
		return Supplier{}, err
	}
	sp.ID = generic.NewID()
	sp.IBAN = generic.NormalizeIBAN(sp.IBAN)
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		return tx.InsertSupplier(ctx, sp)
	})
	if err != nil {
		return Supplier{}, err
	}
	return sp, nil
}

// UpdateSupplier edits a supplier. Settlements already recorded keep the
// details copied when they were created.
func (s *Service) UpdateSupplier(ctx context.Context, sp Supplier) (Supplier, error) {
	if err := validateSupplier(sp); err != nil {
		return Supplier{}, err
	}
	sp.IBAN = generic.NormalizeIBAN(sp.IBAN)
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		if _, err := tx.GetSupplier(ctx, sp.ID); err != nil {
			return err
		}
		return tx.UpdateSupplier(ctx, sp)
	})
	if err != nil {
		return Supplier{}, err
	}
	return sp, nil
}

func (s *Service) GetSupplier(ctx context.Context, id string) (Supplier, error) {
	return s.Store.GetSupplier(ctx, id)
}

// =============================================================================
// EXPENSES
// =============================================================================

type ExpenseInput struct {
	AccountID     string
	ProjectID     string
	Type          generic.TypeCode
	Label         string
	Amount        generic.Money
	SupplierID    string
	BeneficiaryID string
}

// CreateExpense opens a dossier in the state InitialState decides.
func (s *Service) CreateExpense(ctx context.Context, actor generic.Principal, in ExpenseInput) (Expense, error) {
	in.Type = in.Type.Normalize()
	if !in.Amount.IsPositive() {
		return Expense{}, fmt.Errorf("%w: expense amount must be positive", generic.ErrInvalidAmount)
	}
	if strings.TrimSpace(in.Label) == "" {
		return Expense{}, fmt.Errorf("%w: expense label is required", generic.ErrInvalidInput)
	}
	if !s.Typology.Known(in.Type) {
		return Expense{}, fmt.Errorf("%w: unknown expense type %q", generic.ErrInvalidInput, in.Type)
	}

	now := s.now()
	var out Expense
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		account, err := tx.GetAccount(ctx, in.AccountID)
		if err != nil {
			return fmt.Errorf("account %s: %w", in.AccountID, err)
		}
		if in.ProjectID != "" {
			if _, err := tx.GetProject(ctx, in.ProjectID); err != nil {
				return fmt.Errorf("project %s: %w", in.ProjectID, err)
			}
		}
		if in.SupplierID != "" {
			if _, err := tx.GetSupplier(ctx, in.SupplierID); err != nil {
				return fmt.Errorf("supplier %s: %w", in.SupplierID, err)
			}
		}

		state, engaged := InitialState(s.authorizer(ctx), actor, account, in.Type, in.Amount)
		e := Expense{
			ID:            generic.NewID(),
			Reference:     generic.NewReference("DEP"),
			AccountID:     account.ID,
			ProjectID:     in.ProjectID,
			Type:          in.Type,
			Label:         in.Label,
			Amount:        in.Amount,
			State:         state,
			SupplierID:    in.SupplierID,
			BeneficiaryID: in.BeneficiaryID,
			CreatedBy:     actor.ID,
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if engaged {
			if t, ok := ExpenseWorkflow.Lookup(ExpenseAttenteEngagement, "Engager"); ok {
				t.Apply(&ExpenseDossier{Expense: &e}, now)
			}
		}
		if err := tx.InsertExpense(ctx, e); err != nil {
			return err
		}
		entry := audit(actor, OwnerExpense, e.ID, generic.AuditCreated, now)
		entry.To = string(state)
		entry.Payload = map[string]any{"amount": e.Amount.String(), "type": string(e.Type)}
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return Expense{}, err
	}
	s.log().Info("expense created",
		"expense_id", out.ID, "reference", out.Reference, "account_id", out.AccountID,
		"type", out.Type, "amount", out.Amount.String(), "state", out.State, "actor", actor.ID)
	return out, nil
}

func (s *Service) GetExpense(ctx context.Context, id string) (Expense, error) {
	return s.Store.GetExpense(ctx, id)
}

func (s *Service) ListExpenses(ctx context.Context, f ExpenseFilter) ([]Expense, error) {
	return s.Store.ListExpenses(ctx, f)
}

// Todos evaluates the expense against its rulebook.
func (s *Service) Todos(ctx context.Context, expenseID string) ([]Todo, error) {
	e, err := s.Store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	return s.Typology.Rules().Evaluate(&e), nil
}

// NoTodos reports whether the expense may complete: no todo, no open remark.
func (s *Service) NoTodos(ctx context.Context, expenseID string) (bool, error) {
	e, err := s.Store.GetExpense(ctx, expenseID)
	if err != nil {
		return false, err
	}
	return NoTodos(s.Typology.Rules().Evaluate(&e), e.Remarks), nil
}

// Transition fires a named expense transition. A denial returns a
// *generic.TransitionDenied and leaves the expense unchanged; losing an
// optimistic race returns generic.ErrConcurrentModification.
func (s *Service) Transition(ctx context.Context, actor generic.Principal, expenseID, name string) (Expense, error) {
	now := s.now()
	var out Expense
	var from ExpenseState
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		e, err := tx.GetExpense(ctx, expenseID)
		if err != nil {
			return err
		}
		from = e.State
		d := &ExpenseDossier{Expense: &e, Todos: s.Typology.Rules().Evaluate(&e)}
		t, err := ExpenseWorkflow.Check(s.authorizer(ctx), actor, generic.AccountScope(e.AccountID), e.State, d, name)
		if err != nil {
			return err
		}
		version := e.Version
		e.State = t.Target
		t.Apply(d, now)
		e.UpdatedAt = now
		if err := tx.UpdateExpense(ctx, e, version); err != nil {
			return err
		}
		e.Version = version + 1

		entry := audit(actor, OwnerExpense, e.ID, generic.AuditTransition, now)
		entry.Transition = name
		entry.From = string(from)
		entry.To = string(e.State)
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		s.log().Info("expense transition refused",
			"expense_id", expenseID, "transition", name, "actor", actor.ID, "error", err)
		return Expense{}, err
	}
	obs.Transition(string(OwnerExpense), name)
	s.log().Info("expense transition",
		"expense_id", out.ID, "transition", name, "from", from, "to", out.State, "actor", actor.ID)
	return out, nil
}

// AvailableTransitions lists the transitions actor could fire right now.
func (s *Service) AvailableTransitions(ctx context.Context, actor generic.Principal, expenseID string) ([]ExpenseTransition, error) {
	e, err := s.Store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	d := &ExpenseDossier{Expense: &e, Todos: s.Typology.Rules().Evaluate(&e)}
	return ExpenseWorkflow.Allowed(s.authorizer(ctx), actor, generic.AccountScope(e.AccountID), e.State, d), nil
}

// UpdateExpenseAmount changes the amount. It cannot drop below what is
// already settled.
func (s *Service) UpdateExpenseAmount(ctx context.Context, actor generic.Principal, expenseID string, amount generic.Money) (Expense, error) {
	if !amount.IsPositive() {
		return Expense{}, fmt.Errorf("%w: expense amount must be positive", generic.ErrInvalidAmount)
	}
	now := s.now()
	var out Expense
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		e, err := tx.LockExpense(ctx, expenseID)
		if err != nil {
			return err
		}
		if err := s.require(ctx, actor, e.AccountID, "update expense amount", generic.CapManageExpense, generic.CapControlExpense); err != nil {
			return err
		}
		if ExpenseWorkflow.IsTerminal(e.State) {
			return fmt.Errorf("%w: expense %s is %s", generic.ErrInvalidInput, e.Reference, e.State)
		}
		if err := generic.CheckCeiling(generic.SettlementExceedsExpense, "expense", e.ID, e.Settled(), generic.Zero, amount); err != nil {
			return err
		}
		version := e.Version
		e.Amount = amount
		e.UpdatedAt = now
		if err := tx.UpdateExpense(ctx, e, version); err != nil {
			return err
		}
		e.Version = version + 1
		out = e
		return nil
	})
	if err != nil {
		s.rejected(err, "update_expense_amount")
		return Expense{}, err
	}
	return out, nil
}

func (s *Service) rejected(err error, action string) {
	var iv *generic.IntegrityViolation
	if errors.As(err, &iv) {
		obs.IntegrityViolation(string(iv.Kind))
		s.log().Warn("dossier mutation rejected",
			"action", action, "kind", iv.Kind, "scope_id", iv.ScopeID,
			"current", iv.Current.String(), "delta", iv.Delta.String(), "limit", iv.Limit.String())
	}
}

// Rebill moves the cost of an expense onto another account: the target
// account is debited and the expense's account credited. The ledger move,
// the rebill mark on the expense and the audit entry commit together, and an
// expense is rebilled at most once.
func (s *Service) Rebill(ctx context.Context, actor generic.Principal, expenseID, targetAccountID string) (debit, credit donations.Operation, err error) {
	if s.Ledger == nil {
		return donations.Operation{}, donations.Operation{}, fmt.Errorf("rebill: no ledger configured")
	}
	now := s.now()
	var e Expense
	err = s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		var err error
		e, err = tx.LockExpense(ctx, expenseID)
		if err != nil {
			return err
		}
		if err := s.require(ctx, actor, e.AccountID, "rebill", generic.CapControlExpense); err != nil {
			return err
		}
		if !e.State.Engaged() {
			return fmt.Errorf("%w: expense %s is not engaged", generic.ErrInvalidInput, e.Reference)
		}
		if e.RebilledTo != "" {
			return fmt.Errorf("%w: expense %s was already rebilled to %s", generic.ErrInvalidInput, e.Reference, e.RebilledTo)
		}
		debit, credit, err = s.Ledger.TransferTx(ctx, tx.Ledger(), targetAccountID, e.AccountID, e.Amount, "refacturation "+e.Reference)
		if err != nil {
			return err
		}

		version := e.Version
		e.RebilledTo = targetAccountID
		e.RebilledAt = &now
		e.UpdatedAt = now
		if err := tx.UpdateExpense(ctx, e, version); err != nil {
			return err
		}
		entry := audit(actor, OwnerExpense, e.ID, generic.AuditRebilled, now)
		entry.Payload = map[string]any{
			"target_account": targetAccountID,
			"debit":          debit.ID,
			"credit":         credit.ID,
			"amount":         e.Amount.String(),
		}
		return tx.AppendAudit(ctx, entry)
	})
	if err != nil {
		s.rejected(err, "rebill")
		return donations.Operation{}, donations.Operation{}, err
	}
	s.log().Info("expense rebilled", "expense_id", e.ID, "target_account", targetAccountID, "amount", e.Amount.String())
	return debit, credit, nil
}

// =============================================================================
// DOCUMENTS AND REMARKS
// =============================================================================

type DocumentInput struct {
	Type       string
	Obligation Obligation
	HasFile    bool
	Label      string
	URL        string
}

// AttachDocument creates a document on a dossier.
func (s *Service) AttachDocument(ctx context.Context, actor generic.Principal, owner Owner, in DocumentInput) (Document, error) {
	if strings.TrimSpace(in.Type) == "" {
		return Document{}, fmt.Errorf("%w: document type is required", generic.ErrInvalidInput)
	}
	if in.Obligation == "" {
		in.Obligation = Necessary
	}
	if !in.Obligation.Valid() {
		return Document{}, fmt.Errorf("%w: obligation %q", generic.ErrInvalidInput, in.Obligation)
	}
	d := Document{
		ID:         generic.NewID(),
		Type:       in.Type,
		Obligation: in.Obligation,
		HasFile:    in.HasFile || in.URL != "",
		Label:      in.Label,
		URL:        in.URL,
		CreatedAt:  s.now(),
	}
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		accountID, manage, control, err := ownerAccount(ctx, tx, owner)
		if err != nil {
			return err
		}
		if err := s.require(ctx, actor, accountID, "attach document", manage, control); err != nil {
			return err
		}
		return tx.InsertDocument(ctx, owner, d)
	})
	if err != nil {
		return Document{}, err
	}
	return d, nil
}

// LinkDocument attaches an existing document to another dossier.
func (s *Service) LinkDocument(ctx context.Context, actor generic.Principal, owner Owner, documentID string) error {
	return s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		accountID, manage, control, err := ownerAccount(ctx, tx, owner)
		if err != nil {
			return err
		}
		if err := s.require(ctx, actor, accountID, "link document", manage, control); err != nil {
			return err
		}
		if _, err := tx.GetDocument(ctx, documentID); err != nil {
			return err
		}
		return tx.LinkDocument(ctx, owner, documentID)
	})
}

// ConfirmDocument records that the document's file was provided.
func (s *Service) ConfirmDocument(ctx context.Context, actor generic.Principal, owner Owner, documentID, url string) (Document, error) {
	var out Document
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		accountID, manage, control, err := ownerAccount(ctx, tx, owner)
		if err != nil {
			return err
		}
		if err := s.require(ctx, actor, accountID, "confirm document", manage, control); err != nil {
			return err
		}
		d, err := tx.GetDocument(ctx, documentID)
		if err != nil {
			return err
		}
		d.HasFile = true
		if url != "" {
			d.URL = url
		}
		out = d
		return tx.UpdateDocument(ctx, d)
	})
	return out, err
}

// AddRemark opens a reviewer remark; it blocks completion until resolved.
func (s *Service) AddRemark(ctx context.Context, actor generic.Principal, owner Owner, text string) (Remark, error) {
	if strings.TrimSpace(text) == "" {
		return Remark{}, fmt.Errorf("%w: empty remark", generic.ErrInvalidInput)
	}
	r := Remark{ID: generic.NewID(), Text: text, AuthorID: actor.ID, Open: true, CreatedAt: s.now()}
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		accountID, _, control, err := ownerAccount(ctx, tx, owner)
		if err != nil {
			return err
		}
		if err := s.require(ctx, actor, accountID, "add remark", control); err != nil {
			return err
		}
		return tx.InsertRemark(ctx, owner, r)
	})
	if err != nil {
		return Remark{}, err
	}
	return r, nil
}

func (s *Service) ResolveRemark(ctx context.Context, actor generic.Principal, remarkID string) (Remark, error) {
	now := s.now()
	var out Remark
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		r, owner, err := tx.GetRemark(ctx, remarkID)
		if err != nil {
			return err
		}
		accountID, manage, control, err := ownerAccount(ctx, tx, owner)
		if err != nil {
			return err
		}
		if err := s.require(ctx, actor, accountID, "resolve remark", manage, control); err != nil {
			return err
		}
		if !r.Open {
			out = r
			return nil
		}
		r.Open = false
		r.ResolvedAt = &now
		out = r
		return tx.UpdateRemark(ctx, r)
	})
	return out, err
}

// =============================================================================
// PROJECTS
// =============================================================================

type ProjectInput struct {
	AccountID string
	Title     string
	Kind      ProjectKind
	EventRef  string
}

// CreateProject files a funding request.
func (s *Service) CreateProject(ctx context.Context, actor generic.Principal, in ProjectInput) (Project, error) {
	if strings.TrimSpace(in.Title) == "" {
		return Project{}, fmt.Errorf("%w: project title is required", generic.ErrInvalidInput)
	}
	if in.Kind == "" {
		in.Kind = ProjectStandard
	}
	if in.Kind != ProjectStandard && in.Kind != ProjectEvent {
		return Project{}, fmt.Errorf("%w: project kind %q", generic.ErrInvalidInput, in.Kind)
	}
	now := s.now()
	p := Project{
		ID:        generic.NewID(),
		Reference: generic.NewReference("PRJ"),
		AccountID: in.AccountID,
		Title:     in.Title,
		Kind:      in.Kind,
		EventRef:  in.EventRef,
		State:     ProjectDemandeFinancement,
		CreatedBy: actor.ID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		if _, err := tx.GetAccount(ctx, in.AccountID); err != nil {
			return fmt.Errorf("account %s: %w", in.AccountID, err)
		}
		if err := tx.InsertProject(ctx, p); err != nil {
			return err
		}
		entry := audit(actor, OwnerProject, p.ID, generic.AuditCreated, now)
		entry.To = string(p.State)
		return tx.AppendAudit(ctx, entry)
	})
	if err != nil {
		return Project{}, err
	}
	s.log().Info("project created", "project_id", p.ID, "reference", p.Reference, "account_id", p.AccountID, "actor", actor.ID)
	return p, nil
}

func (s *Service) GetProject(ctx context.Context, id string) (Project, error) {
	return s.Store.GetProject(ctx, id)
}

func (s *Service) AddParticipation(ctx context.Context, actor generic.Principal, projectID string, part Participation) (Participation, error) {
	if strings.TrimSpace(part.PersonID) == "" {
		return Participation{}, fmt.Errorf("%w: participant is required", generic.ErrInvalidInput)
	}
	part.ID = generic.NewID()
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		p, err := tx.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if err := s.require(ctx, actor, p.AccountID, "add participation", generic.CapManageProject, generic.CapControlProject); err != nil {
			return err
		}
		return tx.InsertParticipation(ctx, projectID, part)
	})
	if err != nil {
		return Participation{}, err
	}
	return part, nil
}

func (s *Service) ProjectTodos(ctx context.Context, projectID string) ([]Todo, error) {
	p, err := s.Store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return s.Projects.Evaluate(&p), nil
}

// TransitionProject fires a named project transition.
func (s *Service) TransitionProject(ctx context.Context, actor generic.Principal, projectID, name string) (Project, error) {
	now := s.now()
	var out Project
	var from ProjectState
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		p, err := tx.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		from = p.State
		d := &ProjectDossier{Project: &p, Todos: s.Projects.Evaluate(&p)}
		t, err := ProjectWorkflow.Check(s.authorizer(ctx), actor, generic.AccountScope(p.AccountID), p.State, d, name)
		if err != nil {
			return err
		}
		version := p.Version
		p.State = t.Target
		t.Apply(d, now)
		p.UpdatedAt = now
		if err := tx.UpdateProject(ctx, p, version); err != nil {
			return err
		}
		p.Version = version + 1

		entry := audit(actor, OwnerProject, p.ID, generic.AuditTransition, now)
		entry.Transition = name
		entry.From = string(from)
		entry.To = string(p.State)
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		s.log().Info("project transition refused", "project_id", projectID, "transition", name, "actor", actor.ID, "error", err)
		return Project{}, err
	}
	obs.Transition(string(OwnerProject), name)
	s.log().Info("project transition", "project_id", out.ID, "transition", name, "from", from, "to", out.State, "actor", actor.ID)
	return out, nil
}

func (s *Service) AvailableProjectTransitions(ctx context.Context, actor generic.Principal, projectID string) ([]ProjectTransition, error) {
	p, err := s.Store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	d := &ProjectDossier{Project: &p, Todos: s.Projects.Evaluate(&p)}
	return ProjectWorkflow.Allowed(s.authorizer(ctx), actor, generic.AccountScope(p.AccountID), p.State, d), nil
}

// History returns the audit trail of a dossier, oldest first.
func (s *Service) History(ctx context.Context, owner Owner) ([]generic.AuditEntry, error) {
	return s.Store.QueryAudit(ctx, generic.AuditFilter{SubjectKind: string(owner.Kind), SubjectID: owner.ID})
}
