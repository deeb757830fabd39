package gestion

import (
	"fmt"
	"sort"

	"github.com/warp/finance-engine/generic"
)

// =============================================================================
// TYPOLOGY - Registry of expense types
// =============================================================================

// DefaultAccountNumber is used in the accounting export when no registered
// prefix of an expense type carries an account number.
const DefaultAccountNumber = "471000"

// ExpenseType describes one node of the hierarchical expense taxonomy.
type ExpenseType struct {
	Code          generic.TypeCode
	Label         string
	AccountNumber string // bookkeeping account, inherited by children when empty
	Conditions    []Condition[*Expense]
}

// Typology resolves types to labels, bookkeeping accounts and rules.
// Build it once, then share it read-only.
type Typology struct {
	types    map[generic.TypeCode]ExpenseType
	accounts *generic.PrefixTable[string]
	rules    *Rulebook[*Expense]
}

func NewTypology(types ...ExpenseType) (*Typology, error) {
	t := &Typology{
		types:    make(map[generic.TypeCode]ExpenseType),
		accounts: generic.NewPrefixTable[string](),
		rules:    NewRulebook(func(e *Expense) generic.TypeCode { return e.Type }, ExpenseGeneralConditions()...),
	}
	for _, et := range types {
		if err := t.Register(et); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Register adds a type. Codes are unique.
func (t *Typology) Register(et ExpenseType) error {
	et.Code = et.Code.Normalize()
	if et.Code == "" {
		return fmt.Errorf("%w: empty expense type code", generic.ErrInvalidInput)
	}
	if _, dup := t.types[et.Code]; dup {
		return fmt.Errorf("%w: duplicate expense type %s", generic.ErrInvalidInput, et.Code)
	}
	t.types[et.Code] = et
	if et.AccountNumber != "" {
		t.accounts.Set(et.Code, et.AccountNumber)
	}
	t.rules.Register(et.Code, et.Conditions...)
	return nil
}

// Known reports whether code or one of its ancestors is registered.
func (t *Typology) Known(code generic.TypeCode) bool {
	for _, p := range code.Prefixes() {
		if _, ok := t.types[p]; ok {
			return true
		}
	}
	return false
}

// Lookup returns the most specific registered type for code.
func (t *Typology) Lookup(code generic.TypeCode) (ExpenseType, bool) {
	for _, p := range code.Prefixes() {
		if et, ok := t.types[p]; ok {
			return et, true
		}
	}
	return ExpenseType{}, false
}

// AccountNumber resolves the bookkeeping account by longest prefix.
func (t *Typology) AccountNumber(code generic.TypeCode) string {
	if n, _, ok := t.accounts.Resolve(code); ok {
		return n
	}
	return DefaultAccountNumber
}

// Label returns the most specific registered label, or the code itself.
func (t *Typology) Label(code generic.TypeCode) string {
	if et, ok := t.Lookup(code); ok && et.Label != "" {
		return et.Label
	}
	return string(code.Normalize())
}

// Rules returns the expense rulebook.
func (t *Typology) Rules() *Rulebook[*Expense] { return t.rules }

// Types lists registered types sorted by code.
func (t *Typology) Types() []ExpenseType {
	out := make([]ExpenseType, 0, len(t.types))
	for _, et := range t.types {
		out = append(out, et)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// =============================================================================
// DEFAULT TYPOLOGY
// =============================================================================

const (
	topicEquipment = "Equipment"
	topicTransport = "Transport"
	topicReception = "Reception"
	topicService   = "Service"
)

// DefaultTypology is the built-in taxonomy used when no configuration file
// is given.
func DefaultTypology() *Typology {
	t, err := NewTypology(
		ExpenseType{Code: "FRH", Label: "Frais de reception et d'hebergement", AccountNumber: "625700"},
		ExpenseType{Code: "FRH-H", Label: "Hebergement", AccountNumber: "625600",
			Conditions: []Condition[*Expense]{
				RequireDocument[*Expense](DocGuestList, topicReception, "the list of people accommodated is expected", Warning),
			}},
		ExpenseType{Code: "FRH-R", Label: "Restauration"},
		ExpenseType{Code: "AFM", Label: "Achat de fournitures et materiel", AccountNumber: "606000",
			Conditions: []Condition[*Expense]{
				RequireDocument[*Expense](DocPhotograph, topicEquipment, "a photograph of the purchased equipment is required", Imperative),
			}},
		ExpenseType{Code: "AFM-B", Label: "Fournitures de bureau", AccountNumber: "606400",
			Conditions: []Condition[*Expense]{
				RequireDocument[*Expense](DocQuote, topicEquipment, "a quote is expected for office supplies", Warning),
			}},
		ExpenseType{Code: "AFM-G", Label: "Gros materiel", AccountNumber: "218300"},
		ExpenseType{Code: "TRA", Label: "Transport", AccountNumber: "625100",
			Conditions: []Condition[*Expense]{
				RequireDocument[*Expense](DocTicket, topicTransport, "the transport ticket is required", Imperative),
			}},
		ExpenseType{Code: "TRA-T", Label: "Train"},
		ExpenseType{Code: "TRA-V", Label: "Vehicule personnel",
			Conditions: []Condition[*Expense]{
				RequireDocument[*Expense](DocMileage, topicTransport, "the mileage statement is required", Imperative),
			}},
		ExpenseType{Code: "COM", Label: "Communication", AccountNumber: "623000"},
		ExpenseType{Code: "PRE", Label: "Prestations de service", AccountNumber: "622600",
			Conditions: []Condition[*Expense]{
				RequireDocument[*Expense](DocQuote, topicService, "a signed quote is required", Imperative),
			}},
	)
	if err != nil {
		panic(err)
	}
	return t
}
