package gestion_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/gestion"
	"github.com/warp/finance-engine/generic"
	memstore "github.com/warp/finance-engine/generic/store"
)

func TestInitialState(t *testing.T) {
	account := donations.Account{ID: "acc-1", Ceilings: map[string]generic.Money{"AFM": generic.MustMoney("100.00")}}
	bare := donations.Account{ID: "acc-1"}
	grants := memstore.NewGrants(
		generic.Grant{PrincipalID: "manager", Capability: generic.CapManageExpense, Scope: "acc-1"},
		generic.Grant{PrincipalID: "engager", Capability: generic.CapEngageExpense, Scope: "acc-1"},
		generic.Grant{PrincipalID: "elsewhere", Capability: generic.CapManageExpense, Scope: "acc-2"},
	)

	tests := []struct {
		name        string
		creator     string
		account     donations.Account
		code        generic.TypeCode
		amount      string
		wantState   gestion.ExpenseState
		wantEngaged bool
	}{
		{"no capability", "nobody", account, "AFM-B", "50.00", gestion.ExpenseAttenteValidation, false},
		{"grant on another account", "elsewhere", account, "AFM-B", "50.00", gestion.ExpenseAttenteValidation, false},
		{"manager under inherited ceiling", "manager", account, "AFM-B", "80.00", gestion.ExpenseConstitution, true},
		{"manager at ceiling", "manager", account, "AFM-G", "100.00", gestion.ExpenseConstitution, true},
		{"manager over ceiling", "manager", account, "AFM-B", "150.00", gestion.ExpenseAttenteEngagement, false},
		{"manager without any ceiling for the type", "manager", account, "FRH-H", "1.00", gestion.ExpenseAttenteEngagement, false},
		{"manager on account without ceilings", "manager", bare, "AFM", "1.00", gestion.ExpenseAttenteEngagement, false},
		{"engager ignores ceilings", "engager", bare, "FRH-H", "9999.00", gestion.ExpenseConstitution, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, engaged := gestion.InitialState(grants, generic.Principal{ID: tt.creator}, tt.account, tt.code, generic.MustMoney(tt.amount))
			assert.Equal(t, tt.wantState, state)
			assert.Equal(t, tt.wantEngaged, engaged)
		})
	}
}

func TestExpenseWorkflow_Table(t *testing.T) {
	_, ok := gestion.ExpenseWorkflow.Lookup(gestion.ExpenseAttenteValidation, "Engager")
	assert.False(t, ok)

	tr, ok := gestion.ExpenseWorkflow.Lookup(gestion.ExpenseComplet, "Renvoyer")
	assert.True(t, ok)
	assert.Equal(t, gestion.ExpenseConstitution, tr.Target)

	assert.True(t, gestion.ExpenseWorkflow.IsTerminal(gestion.ExpenseCloture))
	assert.True(t, gestion.ExpenseWorkflow.IsTerminal(gestion.ExpenseRefus))
	assert.False(t, gestion.ExpenseWorkflow.IsTerminal(gestion.ExpenseComplet))
}

func TestExpenseWorkflow_GuardNeedsNoTodos(t *testing.T) {
	// GIVEN: A controller and an expense in Constitution with one todo
	// WHEN: Checking Completer
	// THEN: Denied by the guard; without todos it passes
	grants := memstore.NewGrants(generic.Grant{PrincipalID: "ctl", Capability: generic.CapControlExpense})
	actor := generic.Principal{ID: "ctl"}
	e := &gestion.Expense{State: gestion.ExpenseConstitution}
	todo := []gestion.Todo{{Topic: "Documents", Items: []gestion.TodoItem{{Message: "an invoice is required", Severity: gestion.Imperative}}}}

	_, err := gestion.ExpenseWorkflow.Check(grants, actor, "acc-1", e.State,
		&gestion.ExpenseDossier{Expense: e, Todos: todo}, "Completer")
	assert.ErrorIs(t, err, generic.ErrTransitionDenied)
	assert.ErrorIs(t, err, generic.ErrGuardFailed)

	_, err = gestion.ExpenseWorkflow.Check(grants, actor, "acc-1", e.State,
		&gestion.ExpenseDossier{Expense: e}, "Completer")
	assert.NoError(t, err)
}

func TestExpenseWorkflow_EngagerStampsEngagedAt(t *testing.T) {
	e := &gestion.Expense{State: gestion.ExpenseAttenteEngagement}
	tr, ok := gestion.ExpenseWorkflow.Lookup(e.State, "Engager")
	assert.True(t, ok)

	at := generic.Today()
	tr.Apply(&gestion.ExpenseDossier{Expense: e}, at)
	tr.Apply(&gestion.ExpenseDossier{Expense: e}, at.AddDate(0, 0, 1))

	if assert.NotNil(t, e.EngagedAt) {
		assert.True(t, e.EngagedAt.Equal(at))
	}
}
