/*
conditions.go - Declarative todo rules for dossiers

PURPOSE:
  Evaluate(dossier) lists what is missing before the dossier can advance:

    [ {topic: "Documents", items: [{"An invoice is required", Imperative}]},
      {topic: "Equipment", items: [{"A photograph ...", Imperative}]} ]

  A Rulebook holds two layers:

    GENERAL    always evaluated, in registration order
    BY TYPE    keyed by type prefix; only the MOST SPECIFIC registered
               prefix applies (AFM-G falls back to AFM when AFM-G has no
               rules, and never gets both)

  NoTodos(dossier) = Evaluate is empty AND no remark is open. It is the
  guard of every completion transition.

RULE SHAPES:
  - RequireDocument: "has a document of type X with a file"
  - Predicate:       arbitrary boolean function, one message
  - Condition:       arbitrary function returning several items

SEE ALSO:
  - typology.go: Expense types and their rules
  - generic/prefix.go: Longest-prefix resolution
*/
package gestion

import (
	"fmt"

	"github.com/warp/finance-engine/generic"
)

// =============================================================================
// TODOS
// =============================================================================

type Severity string

const (
	Imperative Severity = "imperative"
	Warning    Severity = "warning"
	Suggestion Severity = "suggestion"
)

func (s Severity) Valid() bool {
	switch s {
	case Imperative, Warning, Suggestion:
		return true
	}
	return false
}

type TodoItem struct {
	Message  string
	Severity Severity
}

// Todo groups the unmet items of one topic.
type Todo struct {
	Topic string
	Items []TodoItem
}

// CountTodos returns the number of items across topics.
func CountTodos(todos []Todo) int {
	n := 0
	for _, t := range todos {
		n += len(t.Items)
	}
	return n
}

// =============================================================================
// CONDITIONS
// =============================================================================

// Condition produces zero or more items under Topic.
type Condition[T any] struct {
	Name  string
	Topic string
	Check func(subject T) []TodoItem
}

// Predicate builds a single-message condition: message is reported when
// holds returns false.
func Predicate[T any](name, topic, message string, sev Severity, holds func(T) bool) Condition[T] {
	return Condition[T]{
		Name:  name,
		Topic: topic,
		Check: func(subject T) []TodoItem {
			if holds(subject) {
				return nil
			}
			return []TodoItem{{Message: message, Severity: sev}}
		},
	}
}

// Documented is implemented by dossiers carrying documents.
type Documented interface {
	DocumentList() []Document
}

func (e *Expense) DocumentList() []Document { return e.Documents }
func (p *Project) DocumentList() []Document { return p.Documents }

// RequireDocument reports message unless a document of docType with a file
// is attached.
func RequireDocument[T Documented](docType, topic, message string, sev Severity) Condition[T] {
	return Predicate("document:"+docType, topic, message, sev, func(subject T) bool {
		return hasDocument(subject.DocumentList(), docType)
	})
}

// DocumentsConfirmed reports Necessary documents without a file as
// Imperative and Preferable ones as Suggestion.
func DocumentsConfirmed[T Documented](topic string) Condition[T] {
	return Condition[T]{
		Name:  "documents_confirmed",
		Topic: topic,
		Check: func(subject T) []TodoItem {
			var items []TodoItem
			for _, d := range subject.DocumentList() {
				if d.HasFile {
					continue
				}
				switch d.Obligation {
				case Necessary:
					items = append(items, TodoItem{
						Message:  fmt.Sprintf("document %q has no file", documentName(d)),
						Severity: Imperative,
					})
				case Preferable:
					items = append(items, TodoItem{
						Message:  fmt.Sprintf("document %q could be provided", documentName(d)),
						Severity: Suggestion,
					})
				}
			}
			return items
		},
	}
}

func documentName(d Document) string {
	if d.Label != "" {
		return d.Label
	}
	return d.Type
}

// =============================================================================
// RULEBOOK
// =============================================================================

// Rulebook evaluates general conditions plus the most specific per-type set.
type Rulebook[T any] struct {
	general []Condition[T]
	byType  *generic.PrefixTable[[]Condition[T]]
	typeOf  func(T) generic.TypeCode
}

// NewRulebook creates a rulebook. typeOf may be nil for untyped dossiers.
func NewRulebook[T any](typeOf func(T) generic.TypeCode, general ...Condition[T]) *Rulebook[T] {
	return &Rulebook[T]{
		general: general,
		byType:  generic.NewPrefixTable[[]Condition[T]](),
		typeOf:  typeOf,
	}
}

// Register sets the conditions of one type prefix, replacing earlier ones.
// An empty set unregisters nothing: the prefix simply stays unregistered.
func (r *Rulebook[T]) Register(prefix generic.TypeCode, conds ...Condition[T]) {
	if len(conds) == 0 {
		return
	}
	r.byType.Set(prefix, conds)
}

// Specific returns the per-type conditions that apply to code and the
// prefix they were registered under.
func (r *Rulebook[T]) Specific(code generic.TypeCode) ([]Condition[T], generic.TypeCode) {
	conds, prefix, ok := r.byType.Resolve(code)
	if !ok {
		return nil, ""
	}
	return conds, prefix
}

// Evaluate runs every applicable condition. Topics keep first-seen order;
// topics without items are dropped.
func (r *Rulebook[T]) Evaluate(subject T) []Todo {
	conds := append([]Condition[T](nil), r.general...)
	if r.typeOf != nil {
		specific, _ := r.Specific(r.typeOf(subject))
		conds = append(conds, specific...)
	}

	var todos []Todo
	index := map[string]int{}
	for _, c := range conds {
		items := c.Check(subject)
		if len(items) == 0 {
			continue
		}
		i, ok := index[c.Topic]
		if !ok {
			i = len(todos)
			index[c.Topic] = i
			todos = append(todos, Todo{Topic: c.Topic})
		}
		todos[i].Items = append(todos[i].Items, items...)
	}
	return todos
}

// NoTodos is the completion predicate.
func NoTodos(todos []Todo, remarks []Remark) bool {
	return len(todos) == 0 && openRemarks(remarks) == 0
}

// =============================================================================
// GENERAL RULES
// =============================================================================

const (
	TopicDocuments   = "Documents"
	TopicSettlements = "Settlements"
	TopicProject     = "Project"
)

// ExpenseGeneralConditions always run, whatever the expense type.
func ExpenseGeneralConditions() []Condition[*Expense] {
	return []Condition[*Expense]{
		RequireDocument[*Expense](DocInvoice, TopicDocuments, "an invoice is required", Imperative),
		{
			Name:  "proof_of_payment",
			Topic: TopicSettlements,
			Check: func(e *Expense) []TodoItem {
				var items []TodoItem
				for _, s := range e.Settlements {
					if s.Status == SettlementPending {
						continue
					}
					doc, ok := findDocument(e.Documents, s.ProofDocumentID)
					if !ok || !doc.HasFile {
						items = append(items, TodoItem{
							Message:  fmt.Sprintf("settlement %s has no proof of payment", s.Reference),
							Severity: Imperative,
						})
					}
				}
				return items
			},
		},
		DocumentsConfirmed[*Expense](TopicDocuments),
		{
			Name:  "settlements_cover_amount",
			Topic: TopicSettlements,
			Check: func(e *Expense) []TodoItem {
				settled := e.Settled()
				if !settled.LessThan(e.Amount) {
					return nil
				}
				return []TodoItem{{
					Message:  fmt.Sprintf("settlements cover %s of %s", settled, e.Amount),
					Severity: Warning,
				}}
			},
		},
	}
}

// ProjectGeneralConditions apply to every project.
func ProjectGeneralConditions() []Condition[*Project] {
	return []Condition[*Project]{
		DocumentsConfirmed[*Project](TopicDocuments),
		Predicate("event_reference", TopicProject, "an event project needs its event reference", Imperative,
			func(p *Project) bool { return p.Kind != ProjectEvent || p.EventRef != "" }),
		{
			Name:  "participant_transport",
			Topic: TopicProject,
			Check: func(p *Project) []TodoItem {
				var items []TodoItem
				for _, part := range p.Participations {
					if !part.NeedsTransport || hasTransportExpense(p.Expenses, part.PersonID) {
						continue
					}
					items = append(items, TodoItem{
						Message:  fmt.Sprintf("participant %s has no transport expense", participantName(part)),
						Severity: Imperative,
					})
				}
				return items
			},
		},
	}
}

const transportRoot generic.TypeCode = "TRA"

func hasTransportExpense(expenses []Expense, personID string) bool {
	for _, e := range expenses {
		if e.State == ExpenseRefus {
			continue
		}
		if e.BeneficiaryID == personID && e.Type.IsDescendantOf(transportRoot) {
			return true
		}
	}
	return false
}

func participantName(p Participation) string {
	if p.PersonName != "" {
		return p.PersonName
	}
	return p.PersonID
}

// NewProjectRulebook returns the project rulebook. Projects are untyped.
func NewProjectRulebook() *Rulebook[*Project] {
	return NewRulebook[*Project](nil, ProjectGeneralConditions()...)
}
