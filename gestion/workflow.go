/*
workflow.go - Expense and project state machines

EXPENSE:
  AttenteValidation --Valider--> AttenteEngagement --Engager--> Constitution
  Constitution --Completer [no todos]--> Complet --Cloturer [no todos]--> Cloture
  AttenteValidation --Refuser--> Refus
  AttenteEngagement --Refuser--> Refus
  Complet --Renvoyer--> Constitution

PROJECT:
  DemandeFinancement --Accepter--> EnConstitution --Finaliser [no todos]--> Finalise
  Finalise --Cloturer [no todos]--> Cloture
  Finalise --Renvoyer--> Renvoi --Finaliser [no todos]--> Finalise
  DemandeFinancement --Refuser--> Refuse

INITIAL STATE (expense creation):
  1. creator holds engage_expense on the account      -> Constitution (engaged)
  2. creator holds manage_expense and the type has a
     ceiling on the account (longest prefix) and
     amount <= ceiling                                 -> Constitution (engaged)
  3. creator holds manage_expense                      -> AttenteEngagement
  4. otherwise                                         -> AttenteValidation

  No ceiling at any prefix level is NOT an approval: it falls through to 3.
*/
package gestion

import (
	"fmt"
	"time"

	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/generic"
)

// ExpenseDossier is an expense with its evaluated todos, the subject of
// expense transitions.
type ExpenseDossier struct {
	*Expense
	Todos []Todo
}

// ProjectDossier is the project counterpart of ExpenseDossier.
type ProjectDossier struct {
	*Project
	Todos []Todo
}

type (
	ExpenseTransition = generic.Transition[ExpenseState, *ExpenseDossier]
	ProjectTransition = generic.Transition[ProjectState, *ProjectDossier]
)

func expenseNoTodos(d *ExpenseDossier) error {
	return noTodosError(d.Todos, d.Remarks)
}

func projectNoTodos(d *ProjectDossier) error {
	return noTodosError(d.Todos, d.Remarks)
}

func noTodosError(todos []Todo, remarks []Remark) error {
	if NoTodos(todos, remarks) {
		return nil
	}
	return fmt.Errorf("dossier incomplete: %d todo(s), %d open remark(s)", CountTodos(todos), openRemarks(remarks))
}

func stampEngaged(d *ExpenseDossier, at time.Time) {
	if d.EngagedAt == nil {
		d.EngagedAt = &at
	}
}

// ExpenseWorkflow is the expense transition table.
var ExpenseWorkflow = generic.NewMachine(map[ExpenseState][]ExpenseTransition{
	ExpenseAttenteValidation: {
		{Name: "Valider", Label: "Validate", Target: ExpenseAttenteEngagement,
			Capabilities: []generic.Capability{generic.CapControlExpense}},
		{Name: "Refuser", Label: "Refuse", Target: ExpenseRefus,
			Capabilities: []generic.Capability{generic.CapControlExpense}},
	},
	ExpenseAttenteEngagement: {
		{Name: "Engager", Label: "Engage", Target: ExpenseConstitution,
			Capabilities: []generic.Capability{generic.CapEngageExpense},
			Effect:       stampEngaged},
		{Name: "Refuser", Label: "Refuse", Target: ExpenseRefus,
			Capabilities: []generic.Capability{generic.CapEngageExpense, generic.CapControlExpense}},
	},
	ExpenseConstitution: {
		{Name: "Completer", Label: "Mark complete", Target: ExpenseComplet,
			Capabilities: []generic.Capability{generic.CapManageExpense, generic.CapControlExpense},
			Guard:        expenseNoTodos},
	},
	ExpenseComplet: {
		{Name: "Cloturer", Label: "Close", Target: ExpenseCloture,
			Capabilities: []generic.Capability{generic.CapControlExpense},
			Guard:        expenseNoTodos},
		{Name: "Renvoyer", Label: "Send back", Target: ExpenseConstitution,
			Capabilities: []generic.Capability{generic.CapControlExpense}},
	},
})

// ProjectWorkflow is the project transition table.
var ProjectWorkflow = generic.NewMachine(map[ProjectState][]ProjectTransition{
	ProjectDemandeFinancement: {
		{Name: "Accepter", Label: "Accept", Target: ProjectEnConstitution,
			Capabilities: []generic.Capability{generic.CapControlProject}},
		{Name: "Refuser", Label: "Refuse", Target: ProjectRefuse,
			Capabilities: []generic.Capability{generic.CapControlProject}},
	},
	ProjectEnConstitution: {
		{Name: "Finaliser", Label: "Finalise", Target: ProjectFinalise,
			Capabilities: []generic.Capability{generic.CapManageProject, generic.CapControlProject},
			Guard:        projectNoTodos},
	},
	ProjectFinalise: {
		{Name: "Cloturer", Label: "Close", Target: ProjectCloture,
			Capabilities: []generic.Capability{generic.CapControlProject},
			Guard:        projectNoTodos},
		{Name: "Renvoyer", Label: "Send back", Target: ProjectRenvoi,
			Capabilities: []generic.Capability{generic.CapControlProject}},
	},
	ProjectRenvoi: {
		{Name: "Finaliser", Label: "Finalise", Target: ProjectFinalise,
			Capabilities: []generic.Capability{generic.CapManageProject, generic.CapControlProject},
			Guard:        projectNoTodos},
	},
})

// InitialState decides where a new expense starts. engaged is true when the
// engagement effect must be applied at creation.
func InitialState(az generic.Authorizer, creator generic.Principal, account donations.Account, code generic.TypeCode, amount generic.Money) (state ExpenseState, engaged bool) {
	scope := generic.AccountScope(account.ID)
	if generic.HasAny(az, creator, scope, generic.CapEngageExpense) {
		return ExpenseConstitution, true
	}
	if !generic.HasAny(az, creator, scope, generic.CapManageExpense) {
		return ExpenseAttenteValidation, false
	}
	if ceiling, _, ok := account.CeilingFor(code); ok && amount.LessThanOrEqual(ceiling) {
		return ExpenseConstitution, true
	}
	return ExpenseAttenteEngagement, false
}
