package gestion_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/gestion"
	"github.com/warp/finance-engine/generic"
	memstore "github.com/warp/finance-engine/generic/store"
	"github.com/warp/finance-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	creator    = generic.Principal{ID: "creator", Name: "Camille"}
	manager    = generic.Principal{ID: "manager", Name: "Morgan"}
	engager    = generic.Principal{ID: "engager", Name: "Eden"}
	controller = generic.Principal{ID: "controller", Name: "Charlie"}

	fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
)

const (
	accountIBAN  = "FR7630006000011234567890189"
	supplierIBAN = "GB82WEST12345698765432"
	otherIBAN    = "DE89370400440532013000"
)

type fixture struct {
	svc      *gestion.Service
	ledger   *donations.Ledger
	grants   *memstore.Grants
	account  donations.Account
	supplier gestion.Supplier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	grants := memstore.NewGrants()
	ledger := donations.NewLedger(store, nil)
	svc := gestion.NewService(store, grants, ledger, nil)
	svc.Now = func() time.Time { return fixedNow }

	f := &fixture{svc: svc, ledger: ledger, grants: grants}
	f.account = f.newAccount(t, "OPS", map[string]generic.Money{"AFM": generic.MustMoney("100.00")})
	f.supplier, err = svc.CreateSupplier(context.Background(), gestion.Supplier{
		Name: "Librairie du Centre", IBAN: supplierIBAN, BIC: "WESTGB2L", Address: "1 rue des Livres",
	})
	require.NoError(t, err)
	return f
}

// newAccount creates an empty account and grants the fixture principals
// their capability on it.
func (f *fixture) newAccount(t *testing.T, designation string, ceilings map[string]generic.Money) donations.Account {
	t.Helper()
	acc, err := f.ledger.CreateAccount(context.Background(), donations.Account{
		Designation: designation,
		Name:        "Compte " + designation,
		IBAN:        accountIBAN,
		BIC:         "AGRIFRPP",
		HolderName:  "Association " + designation,
		Ceilings:    ceilings,
	})
	require.NoError(t, err)
	scope := generic.AccountScope(acc.ID)
	f.grants.Add(generic.Grant{PrincipalID: manager.ID, Capability: generic.CapManageExpense, Scope: scope})
	f.grants.Add(generic.Grant{PrincipalID: engager.ID, Capability: generic.CapEngageExpense, Scope: scope})
	f.grants.Add(generic.Grant{PrincipalID: controller.ID, Capability: generic.CapControlExpense, Scope: scope})
	f.grants.Add(generic.Grant{PrincipalID: controller.ID, Capability: generic.CapControlProject, Scope: scope})
	return acc
}

func (f *fixture) expense(t *testing.T, actor generic.Principal, code generic.TypeCode, amount string) gestion.Expense {
	t.Helper()
	e, err := f.svc.CreateExpense(context.Background(), actor, gestion.ExpenseInput{
		AccountID:  f.account.ID,
		Type:       code,
		Label:      "achat " + string(code),
		Amount:     generic.MustMoney(amount),
		SupplierID: f.supplier.ID,
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) attachInvoice(t *testing.T, expenseID string) gestion.Document {
	t.Helper()
	d, err := f.svc.AttachDocument(context.Background(), manager, gestion.Owner{Kind: gestion.OwnerExpense, ID: expenseID},
		gestion.DocumentInput{Type: gestion.DocInvoice, HasFile: true, Label: "facture"})
	require.NoError(t, err)
	return d
}

func (f *fixture) settle(t *testing.T, expenseID string, mode gestion.SettlementMode, amount string) gestion.Settlement {
	t.Helper()
	st, err := f.svc.AddSettlement(context.Background(), manager, expenseID, gestion.SettlementInput{
		Mode: mode, Amount: generic.MustMoney(amount),
	})
	require.NoError(t, err)
	return st
}

// =============================================================================
// EXPENSE CREATION
// =============================================================================

func TestCreateExpense_InitialState(t *testing.T) {
	f := newFixture(t)

	pending := f.expense(t, creator, "COM", "50.00")
	assert.Equal(t, gestion.ExpenseAttenteValidation, pending.State)
	assert.Nil(t, pending.EngagedAt)
	assert.Equal(t, 1, pending.Version)
	assert.Contains(t, pending.Reference, "DEP-")

	auto := f.expense(t, manager, "AFM-B", "80.00")
	assert.Equal(t, gestion.ExpenseConstitution, auto.State)
	require.NotNil(t, auto.EngagedAt)
	assert.True(t, auto.EngagedAt.Equal(fixedNow))

	over := f.expense(t, manager, "AFM-B", "150.00")
	assert.Equal(t, gestion.ExpenseAttenteEngagement, over.State)

	noCeiling := f.expense(t, manager, "FRH-H", "10.00")
	assert.Equal(t, gestion.ExpenseAttenteEngagement, noCeiling.State)

	direct := f.expense(t, engager, "FRH-H", "5000.00")
	assert.Equal(t, gestion.ExpenseConstitution, direct.State)
}

func TestCreateExpense_RequestAuthorizerOverridesServiceGrants(t *testing.T) {
	// GIVEN: An engager whose request carries no grants at all
	// WHEN: The engager creates an expense with that request context
	// THEN: The request grants decide and the expense awaits validation
	f := newFixture(t)
	in := gestion.ExpenseInput{
		AccountID: f.account.ID, Type: "FRH-H", Label: "formation",
		Amount: generic.MustMoney("20.00"), SupplierID: f.supplier.ID,
	}

	ctx := generic.WithAuthorizer(context.Background(), memstore.NewGrants())
	e, err := f.svc.CreateExpense(ctx, engager, in)
	require.NoError(t, err)
	assert.Equal(t, gestion.ExpenseAttenteValidation, e.State)

	// WHEN: A creator's request carries an engage grant on the account
	// THEN: The expense is engaged directly
	ctx = generic.WithAuthorizer(context.Background(), memstore.NewGrants(generic.Grant{
		PrincipalID: creator.ID, Capability: generic.CapEngageExpense, Scope: generic.AccountScope(f.account.ID),
	}))
	e, err = f.svc.CreateExpense(ctx, creator, in)
	require.NoError(t, err)
	assert.Equal(t, gestion.ExpenseConstitution, e.State)
}

func TestCreateExpense_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := gestion.ExpenseInput{AccountID: f.account.ID, Type: "COM", Label: "affiches", Amount: generic.MustMoney("10.00")}

	bad := in
	bad.Amount = generic.Zero
	_, err := f.svc.CreateExpense(ctx, manager, bad)
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	bad = in
	bad.Type = "XYZ"
	_, err = f.svc.CreateExpense(ctx, manager, bad)
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	bad = in
	bad.AccountID = "missing"
	_, err = f.svc.CreateExpense(ctx, manager, bad)
	assert.ErrorIs(t, err, generic.ErrNotFound)

	lower := in
	lower.Type = "com"
	e, err := f.svc.CreateExpense(ctx, manager, lower)
	require.NoError(t, err)
	assert.Equal(t, generic.TypeCode("COM"), e.Type)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestTransition_Lifecycle(t *testing.T) {
	// GIVEN: An expense filed by someone without capabilities
	// WHEN: Walking it through validation, engagement, completion and closing
	// THEN: Each step needs its capability and completion needs no todos
	f := newFixture(t)
	ctx := context.Background()
	e := f.expense(t, creator, "COM", "100.00")

	e, err := f.svc.Transition(ctx, controller, e.ID, "Valider")
	require.NoError(t, err)
	assert.Equal(t, gestion.ExpenseAttenteEngagement, e.State)
	assert.Equal(t, 2, e.Version)

	_, err = f.svc.Transition(ctx, creator, e.ID, "Engager")
	assert.ErrorIs(t, err, generic.ErrTransitionDenied)
	assert.ErrorIs(t, err, generic.ErrCapabilityMissing)
	unchanged, err := f.svc.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, gestion.ExpenseAttenteEngagement, unchanged.State)
	assert.Equal(t, 2, unchanged.Version)

	e, err = f.svc.Transition(ctx, engager, e.ID, "Engager")
	require.NoError(t, err)
	assert.Equal(t, gestion.ExpenseConstitution, e.State)
	require.NotNil(t, e.EngagedAt)

	_, err = f.svc.Transition(ctx, manager, e.ID, "Completer")
	assert.ErrorIs(t, err, generic.ErrGuardFailed)

	f.attachInvoice(t, e.ID)
	f.settle(t, e.ID, gestion.ModeTransfer, "100.00")

	todos, err := f.svc.Todos(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, todos)

	e, err = f.svc.Transition(ctx, manager, e.ID, "Completer")
	require.NoError(t, err)
	assert.Equal(t, gestion.ExpenseComplet, e.State)

	_, err = f.svc.Transition(ctx, manager, e.ID, "Cloturer")
	assert.ErrorIs(t, err, generic.ErrCapabilityMissing)

	e, err = f.svc.Transition(ctx, controller, e.ID, "Cloturer")
	require.NoError(t, err)
	assert.Equal(t, gestion.ExpenseCloture, e.State)

	history, err := f.svc.History(ctx, gestion.Owner{Kind: gestion.OwnerExpense, ID: e.ID})
	require.NoError(t, err)
	var transitions []string
	for _, h := range history {
		if h.Action == generic.AuditTransition {
			transitions = append(transitions, h.Transition)
		}
	}
	assert.Equal(t, []string{"Valider", "Engager", "Completer", "Cloturer"}, transitions)
}

func TestTransition_UnknownFromState(t *testing.T) {
	f := newFixture(t)
	e := f.expense(t, creator, "COM", "10.00")

	_, err := f.svc.Transition(context.Background(), controller, e.ID, "Cloturer")

	assert.ErrorIs(t, err, generic.ErrTransitionUnavailable)
	var denied *generic.TransitionDenied
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, string(gestion.ExpenseAttenteValidation), denied.From)
}

func TestTransition_RenvoyerReopensDossier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.expense(t, engager, "COM", "20.00")
	f.attachInvoice(t, e.ID)
	f.settle(t, e.ID, gestion.ModeCheck, "20.00")

	_, err := f.svc.Transition(ctx, manager, e.ID, "Completer")
	require.NoError(t, err)
	e, err = f.svc.Transition(ctx, controller, e.ID, "Renvoyer")

	require.NoError(t, err)
	assert.Equal(t, gestion.ExpenseConstitution, e.State)
}

func TestAvailableTransitions_FollowCapabilitiesAndGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.expense(t, engager, "COM", "20.00")

	names := func(ts []gestion.ExpenseTransition) []string {
		var out []string
		for _, tr := range ts {
			out = append(out, tr.Name)
		}
		return out
	}

	got, err := f.svc.AvailableTransitions(ctx, manager, e.ID)
	require.NoError(t, err)
	assert.Empty(t, got)

	f.attachInvoice(t, e.ID)
	f.settle(t, e.ID, gestion.ModeCard, "20.00")

	got, err = f.svc.AvailableTransitions(ctx, manager, e.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Completer"}, names(got))

	got, err = f.svc.AvailableTransitions(ctx, creator, e.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// NO TODOS
// =============================================================================

func TestNoTodos_OpenRemarkBlocksCompletion(t *testing.T) {
	// GIVEN: A dossier with every document and full settlement
	// WHEN: A controller opens a remark, then it is resolved
	// THEN: Completion is blocked, then allowed
	f := newFixture(t)
	ctx := context.Background()
	e := f.expense(t, engager, "COM", "30.00")
	f.attachInvoice(t, e.ID)
	f.settle(t, e.ID, gestion.ModeTransfer, "30.00")

	ok, err := f.svc.NoTodos(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	owner := gestion.Owner{Kind: gestion.OwnerExpense, ID: e.ID}
	remark, err := f.svc.AddRemark(ctx, controller, owner, "le montant TTC ne correspond pas")
	require.NoError(t, err)

	ok, err = f.svc.NoTodos(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = f.svc.Transition(ctx, manager, e.ID, "Completer")
	assert.ErrorIs(t, err, generic.ErrGuardFailed)

	resolved, err := f.svc.ResolveRemark(ctx, manager, remark.ID)
	require.NoError(t, err)
	assert.False(t, resolved.Open)
	require.NotNil(t, resolved.ResolvedAt)

	ok, err = f.svc.NoTodos(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAddRemark_RequiresControl(t *testing.T) {
	f := newFixture(t)
	e := f.expense(t, engager, "COM", "30.00")

	_, err := f.svc.AddRemark(context.Background(), manager, gestion.Owner{Kind: gestion.OwnerExpense, ID: e.ID}, "note")

	assert.ErrorIs(t, err, generic.ErrCapabilityMissing)
}

func TestConfirmDocument_ClearsTodo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.expense(t, engager, "AFM", "40.00")
	owner := gestion.Owner{Kind: gestion.OwnerExpense, ID: e.ID}
	f.attachInvoice(t, e.ID)
	photo, err := f.svc.AttachDocument(ctx, manager, owner, gestion.DocumentInput{Type: gestion.DocPhotograph, Label: "photo"})
	require.NoError(t, err)
	assert.False(t, photo.HasFile)

	todos, err := f.svc.Todos(ctx, e.ID)
	require.NoError(t, err)
	assert.Contains(t, messages(todos), "a photograph of the purchased equipment is required")

	_, err = f.svc.ConfirmDocument(ctx, manager, owner, photo.ID, "https://files.example.org/photo.jpg")
	require.NoError(t, err)

	todos, err = f.svc.Todos(ctx, e.ID)
	require.NoError(t, err)
	assert.NotContains(t, messages(todos), "a photograph of the purchased equipment is required")
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func TestAddSettlement_CeilingAtExpenseAmount(t *testing.T) {
	// GIVEN: An engaged 100.00 expense with a 60.00 settlement
	// WHEN: Adding 40.01, then 40.00
	// THEN: The first is rejected, the second fills the expense exactly
	f := newFixture(t)
	ctx := context.Background()
	e := f.expense(t, engager, "COM", "100.00")
	f.settle(t, e.ID, gestion.ModeTransfer, "60.00")

	_, err := f.svc.AddSettlement(ctx, manager, e.ID, gestion.SettlementInput{Mode: gestion.ModeTransfer, Amount: generic.MustMoney("40.01")})
	assert.ErrorIs(t, err, generic.ErrSettlementExceedsExpense)
	var iv *generic.IntegrityViolation
	require.ErrorAs(t, err, &iv)
	assert.Equal(t, "60.00", iv.Current.String())
	assert.Equal(t, "100.00", iv.Limit.String())

	f.settle(t, e.ID, gestion.ModeTransfer, "40.00")
	got, err := f.svc.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", got.Settled().String())
	assert.Len(t, got.Settlements, 2)
}

func TestAddSettlement_NeedsEngagedDossier(t *testing.T) {
	f := newFixture(t)
	e := f.expense(t, creator, "COM", "100.00")

	_, err := f.svc.AddSettlement(context.Background(), manager, e.ID, gestion.SettlementInput{Mode: gestion.ModeCash, Amount: generic.MustMoney("1.00")})

	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestAddSettlement_TransferMustBePositive(t *testing.T) {
	f := newFixture(t)
	e := f.expense(t, engager, "COM", "100.00")

	_, err := f.svc.AddSettlement(context.Background(), manager, e.ID, gestion.SettlementInput{Mode: gestion.ModeTransfer, Amount: generic.MustMoney("-5.00")})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	refund := f.settle(t, e.ID, gestion.ModeCheck, "-5.00")
	assert.Equal(t, "-5.00", refund.Amount.String())
}

func TestSettlement_CreditorIsSnapshot(t *testing.T) {
	// GIVEN: A settlement created for the fixture supplier
	// WHEN: The supplier's IBAN changes afterwards
	// THEN: The settlement keeps the IBAN it was created with
	f := newFixture(t)
	ctx := context.Background()
	e := f.expense(t, engager, "COM", "100.00")
	st := f.settle(t, e.ID, gestion.ModeTransfer, "100.00")
	assert.Equal(t, supplierIBAN, st.Creditor.IBAN)

	changed := f.supplier
	changed.IBAN = otherIBAN
	_, err := f.svc.UpdateSupplier(ctx, changed)
	require.NoError(t, err)

	got, err := f.svc.GetSettlement(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, supplierIBAN, got.Creditor.IBAN)
	assert.Equal(t, "Librairie du Centre", got.Creditor.Name)

	sp, err := f.svc.GetSupplier(ctx, f.supplier.ID)
	require.NoError(t, err)
	assert.Equal(t, otherIBAN, sp.IBAN)
}

func TestUpdateSettlementAmount_WithinRemainder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.expense(t, engager, "COM", "100.00")
	a := f.settle(t, e.ID, gestion.ModeTransfer, "60.00")
	f.settle(t, e.ID, gestion.ModeTransfer, "30.00")

	_, err := f.svc.UpdateSettlementAmount(ctx, manager, a.ID, generic.MustMoney("70.01"))
	assert.ErrorIs(t, err, generic.ErrSettlementExceedsExpense)

	updated, err := f.svc.UpdateSettlementAmount(ctx, manager, a.ID, generic.MustMoney("70.00"))
	require.NoError(t, err)
	assert.Equal(t, "70.00", updated.Amount.String())
}

func TestDeleteSettlement_FreesRemainder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.expense(t, engager, "COM", "100.00")
	a := f.settle(t, e.ID, gestion.ModeTransfer, "100.00")

	require.NoError(t, f.svc.DeleteSettlement(ctx, manager, a.ID))

	_, err := f.svc.GetSettlement(ctx, a.ID)
	assert.ErrorIs(t, err, generic.ErrNotFound)
	f.settle(t, e.ID, gestion.ModeTransfer, "100.00")
}

func TestDeleteSettlement_RefundKeepsCeiling(t *testing.T) {
	// GIVEN: A 100.00 expense settled by a 50.00 cash refund and a 150.00 transfer
	// WHEN: Deleting the refund
	// THEN: Rejected, since the transfer alone would exceed the expense amount
	f := newFixture(t)
	ctx := context.Background()
	e := f.expense(t, engager, "COM", "100.00")
	refund := f.settle(t, e.ID, gestion.ModeCash, "-50.00")
	f.settle(t, e.ID, gestion.ModeTransfer, "150.00")

	err := f.svc.DeleteSettlement(ctx, manager, refund.ID)

	assert.ErrorIs(t, err, generic.ErrSettlementExceedsExpense)
	got, err := f.svc.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, got.Settlements, 2)
	assert.Equal(t, "100.00", got.Settled().String())
}

func TestMarkSettled_ProofBecomesRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.expense(t, engager, "COM", "25.00")
	f.attachInvoice(t, e.ID)
	st := f.settle(t, e.ID, gestion.ModeCard, "25.00")

	settled, err := f.svc.MarkSettled(ctx, controller, st.ID, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, gestion.SettlementSettled, settled.Status)

	todos, err := f.svc.Todos(ctx, e.ID)
	require.NoError(t, err)
	assert.Contains(t, messages(todos), "settlement "+st.Reference+" has no proof of payment")

	proof, err := f.svc.AttachDocument(ctx, manager, gestion.Owner{Kind: gestion.OwnerExpense, ID: e.ID},
		gestion.DocumentInput{Type: gestion.DocProofOfPayment, HasFile: true})
	require.NoError(t, err)
	_, err = f.svc.AttachProof(ctx, manager, st.ID, proof.ID)
	require.NoError(t, err)

	todos, err = f.svc.Todos(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, todos)

	_, err = f.svc.UpdateSettlementAmount(ctx, manager, st.ID, generic.MustMoney("20.00"))
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestUpdateExpenseAmount_NotBelowSettled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.expense(t, engager, "COM", "100.00")
	f.settle(t, e.ID, gestion.ModeTransfer, "80.00")

	_, err := f.svc.UpdateExpenseAmount(ctx, manager, e.ID, generic.MustMoney("79.99"))
	assert.ErrorIs(t, err, generic.ErrSettlementExceedsExpense)

	updated, err := f.svc.UpdateExpenseAmount(ctx, manager, e.ID, generic.MustMoney("80.00"))
	require.NoError(t, err)
	assert.Equal(t, "80.00", updated.Amount.String())
	assert.Equal(t, 2, updated.Version)
}

// =============================================================================
// REBILL
// =============================================================================

func TestRebill_MovesCostToTargetAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.newAccount(t, "EVT", nil)
	_, err := f.ledger.InsertOperation(ctx, target.ID, generic.MustMoney("200.00"), donations.OperationContext{Label: "dotation"})
	require.NoError(t, err)
	e := f.expense(t, engager, "COM", "120.00")

	debit, credit, err := f.svc.Rebill(ctx, controller, e.ID, target.ID)

	require.NoError(t, err)
	assert.Equal(t, "-120.00", debit.Amount.String())
	assert.Equal(t, "120.00", credit.Amount.String())
	bal, err := f.ledger.Balance(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, "80.00", bal.String())
	bal, err = f.ledger.Balance(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, "120.00", bal.String())

	got, err := f.svc.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, target.ID, got.RebilledTo)
	require.NotNil(t, got.RebilledAt)
	history, err := f.svc.History(ctx, gestion.Owner{Kind: gestion.OwnerExpense, ID: e.ID})
	require.NoError(t, err)
	assert.Equal(t, generic.AuditRebilled, history[len(history)-1].Action)
}

func TestRebill_SecondCallRejected(t *testing.T) {
	// GIVEN: An expense already rebilled to a funded account
	// WHEN: The rebill is retried
	// THEN: Rejected, and the target account is debited only once
	f := newFixture(t)
	ctx := context.Background()
	target := f.newAccount(t, "EVT", nil)
	_, err := f.ledger.InsertOperation(ctx, target.ID, generic.MustMoney("500.00"), donations.OperationContext{Label: "dotation"})
	require.NoError(t, err)
	e := f.expense(t, engager, "COM", "100.00")
	_, _, err = f.svc.Rebill(ctx, controller, e.ID, target.ID)
	require.NoError(t, err)

	_, _, err = f.svc.Rebill(ctx, controller, e.ID, target.ID)

	assert.ErrorIs(t, err, generic.ErrInvalidInput)
	bal, err := f.ledger.Balance(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, "400.00", bal.String())
}

func TestRebill_TargetOverdrawnRejected(t *testing.T) {
	f := newFixture(t)
	target := f.newAccount(t, "EVT", nil)
	e := f.expense(t, engager, "COM", "120.00")

	_, _, err := f.svc.Rebill(context.Background(), controller, e.ID, target.ID)

	assert.ErrorIs(t, err, generic.ErrNegativeBalance)
	got, err := f.svc.GetExpense(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Empty(t, got.RebilledTo)
	assert.Equal(t, e.Version, got.Version)
}

func TestRebill_NeedsEngagedExpense(t *testing.T) {
	f := newFixture(t)
	target := f.newAccount(t, "EVT", nil)
	e := f.expense(t, creator, "COM", "10.00")

	_, _, err := f.svc.Rebill(context.Background(), controller, e.ID, target.ID)

	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

// =============================================================================
// PROJECTS
// =============================================================================

func TestProject_Lifecycle(t *testing.T) {
	// GIVEN: An accepted project with a participant needing transport
	// WHEN: Finalising before and after the participant's train expense
	// THEN: Refused first, accepted once the expense exists
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.CreateProject(ctx, creator, gestion.ProjectInput{AccountID: f.account.ID, Title: "Congrès régional"})
	require.NoError(t, err)
	assert.Equal(t, gestion.ProjectDemandeFinancement, p.State)
	assert.Equal(t, gestion.ProjectStandard, p.Kind)

	p, err = f.svc.TransitionProject(ctx, controller, p.ID, "Accepter")
	require.NoError(t, err)
	assert.Equal(t, gestion.ProjectEnConstitution, p.State)

	_, err = f.svc.AddParticipation(ctx, controller, p.ID, gestion.Participation{PersonID: "person-1", PersonName: "Alex", NeedsTransport: true})
	require.NoError(t, err)

	todos, err := f.svc.ProjectTodos(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"participant Alex has no transport expense"}, messages(todos))
	_, err = f.svc.TransitionProject(ctx, controller, p.ID, "Finaliser")
	assert.ErrorIs(t, err, generic.ErrGuardFailed)

	_, err = f.svc.CreateExpense(ctx, engager, gestion.ExpenseInput{
		AccountID: f.account.ID, ProjectID: p.ID, Type: "TRA-T", Label: "train Lyon", Amount: generic.MustMoney("64.00"),
		BeneficiaryID: "person-1",
	})
	require.NoError(t, err)

	p, err = f.svc.TransitionProject(ctx, controller, p.ID, "Finaliser")
	require.NoError(t, err)
	assert.Equal(t, gestion.ProjectFinalise, p.State)
	assert.Len(t, p.Expenses, 1)
	assert.Len(t, p.Participations, 1)
}

func TestProject_TransitionNeedsCapability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.CreateProject(ctx, creator, gestion.ProjectInput{AccountID: f.account.ID, Title: "Stand"})
	require.NoError(t, err)

	_, err = f.svc.TransitionProject(ctx, manager, p.ID, "Accepter")

	assert.ErrorIs(t, err, generic.ErrCapabilityMissing)
}

func TestProject_EventNeedsReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.CreateProject(ctx, creator, gestion.ProjectInput{AccountID: f.account.ID, Title: "Salon", Kind: gestion.ProjectEvent})
	require.NoError(t, err)

	todos, err := f.svc.ProjectTodos(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gestion.CountTodos(todos))

	_, err = f.svc.CreateProject(ctx, creator, gestion.ProjectInput{AccountID: f.account.ID, Title: "X", Kind: "party"})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestLinkDocument_SharedBetweenDossiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.CreateProject(ctx, creator, gestion.ProjectInput{AccountID: f.account.ID, Title: "Forum"})
	require.NoError(t, err)
	e := f.expense(t, engager, "COM", "10.00")
	invoice := f.attachInvoice(t, e.ID)

	require.NoError(t, f.svc.LinkDocument(ctx, controller, gestion.Owner{Kind: gestion.OwnerProject, ID: p.ID}, invoice.ID))

	got, err := f.svc.GetProject(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Documents, 1)
	assert.Equal(t, invoice.ID, got.Documents[0].ID)
}
