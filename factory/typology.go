/*
Package factory builds the expense typology and account ceilings from a
configuration document.

PURPOSE:
  The built-in gestion.DefaultTypology fits a small association. Larger
  ones keep their taxonomy, bookkeeping accounts, document rules and
  auto-engagement ceilings in a file the treasurer can edit, and the
  factory turns it into the Go structs the engine runs on.

FORMAT (YAML; JSON is accepted as well, it is a subset):
  types:
    - code: AFM
      label: Achat de fournitures et materiel
      account: "606000"
      topic: Equipment
      documents:
        - type: photo
          obligation: necessary          # necessary|preferable|ignorable
          message: a photograph of the purchased equipment is required
      rules: [supplier_required]
    - code: AFM-G                         # inherits AFM's rules and account
      label: Gros materiel
      account: "218300"

  ceilings:                               # keyed by account designation
    OPS:
      AFM: 100.00
      FRH-R: 30

DOCUMENT RULES:
  severity defaults from obligation: necessary -> imperative,
  preferable -> suggestion. An ignorable document produces no rule.

NAMED RULES:
  Conditions that are not "document X is present" are Go functions
  registered by name (RegisterRule). The file only references them.

SEE ALSO:
  - gestion/typology.go: Typology, DefaultTypology
  - gestion/conditions.go: Condition, RequireDocument
*/
package factory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/generic"
	"github.com/warp/finance-engine/gestion"
)

// =============================================================================
// DOCUMENT SCHEMA
// =============================================================================

// Config is the parsed configuration document.
type Config struct {
	Types    []TypeConfig                        `yaml:"types" json:"types"`
	Ceilings map[string]map[string]generic.Money `yaml:"ceilings" json:"ceilings"`
}

// TypeConfig describes one expense type.
type TypeConfig struct {
	Code      string           `yaml:"code" json:"code"`
	Label     string           `yaml:"label" json:"label"`
	Account   string           `yaml:"account" json:"account"`
	Topic     string           `yaml:"topic" json:"topic"` // todo topic of this type's rules
	Documents []DocumentConfig `yaml:"documents" json:"documents"`
	Rules     []string         `yaml:"rules" json:"rules"`
}

// DocumentConfig requires a document of Type with a file.
type DocumentConfig struct {
	Type       string `yaml:"type" json:"type"`
	Obligation string `yaml:"obligation" json:"obligation"`
	Severity   string `yaml:"severity" json:"severity"`
	Message    string `yaml:"message" json:"message"`
}

// =============================================================================
// TYPOLOGY FACTORY
// =============================================================================

// RuleBuilder makes a named condition for the topic of the type using it.
type RuleBuilder func(topic string) gestion.Condition[*gestion.Expense]

// TypologyFactory converts configuration documents into a gestion.Typology.
type TypologyFactory struct {
	rules map[string]RuleBuilder
}

// NewTypologyFactory creates a factory with the built-in named rules.
func NewTypologyFactory() *TypologyFactory {
	f := &TypologyFactory{rules: make(map[string]RuleBuilder)}
	f.RegisterRule("supplier_required", func(topic string) gestion.Condition[*gestion.Expense] {
		return gestion.Predicate("supplier_required", topic, "a supplier is required", gestion.Imperative,
			func(e *gestion.Expense) bool { return e.SupplierID != "" })
	})
	f.RegisterRule("beneficiary_required", func(topic string) gestion.Condition[*gestion.Expense] {
		return gestion.Predicate("beneficiary_required", topic, "the person reimbursed must be named", gestion.Imperative,
			func(e *gestion.Expense) bool { return e.BeneficiaryID != "" })
	})
	f.RegisterRule("project_required", func(topic string) gestion.Condition[*gestion.Expense] {
		return gestion.Predicate("project_required", topic, "the expense must belong to a project", gestion.Warning,
			func(e *gestion.Expense) bool { return e.ProjectID != "" })
	})
	return f
}

// RegisterRule makes name usable in the rules list of a type.
func (f *TypologyFactory) RegisterRule(name string, b RuleBuilder) {
	f.rules[name] = b
}

// Rules lists the registered rule names.
func (f *TypologyFactory) Rules() []string {
	names := make([]string, 0, len(f.rules))
	for n := range f.rules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Parse decodes a YAML or JSON document. Unknown keys are rejected.
func (f *TypologyFactory) Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: failed to parse typology: %v", generic.ErrInvalidInput, err)
	}
	return &cfg, nil
}

// ParseFile reads and decodes path.
func (f *TypologyFactory) ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read typology %s: %w", path, err)
	}
	return f.Parse(data)
}

// Typology builds the typology described by cfg. An empty type list yields
// the default typology.
func (f *TypologyFactory) Typology(cfg *Config) (*gestion.Typology, error) {
	if cfg == nil || len(cfg.Types) == 0 {
		return gestion.DefaultTypology(), nil
	}
	types := make([]gestion.ExpenseType, 0, len(cfg.Types))
	for _, tc := range cfg.Types {
		et, err := f.expenseType(tc)
		if err != nil {
			return nil, err
		}
		types = append(types, et)
	}
	return gestion.NewTypology(types...)
}

func (f *TypologyFactory) expenseType(tc TypeConfig) (gestion.ExpenseType, error) {
	code := generic.TypeCode(tc.Code).Normalize()
	if code == "" {
		return gestion.ExpenseType{}, fmt.Errorf("%w: expense type without code", generic.ErrInvalidInput)
	}
	topic := tc.Topic
	if topic == "" {
		topic = tc.Label
	}
	if topic == "" {
		topic = string(code)
	}

	et := gestion.ExpenseType{Code: code, Label: tc.Label, AccountNumber: strings.TrimSpace(tc.Account)}
	for _, dc := range tc.Documents {
		cond, ok, err := documentRule(topic, dc)
		if err != nil {
			return gestion.ExpenseType{}, fmt.Errorf("type %s: %w", code, err)
		}
		if ok {
			et.Conditions = append(et.Conditions, cond)
		}
	}
	for _, name := range tc.Rules {
		b, ok := f.rules[name]
		if !ok {
			return gestion.ExpenseType{}, fmt.Errorf("%w: type %s: unknown rule %q", generic.ErrInvalidInput, code, name)
		}
		et.Conditions = append(et.Conditions, b(topic))
	}
	return et, nil
}

func documentRule(topic string, dc DocumentConfig) (gestion.Condition[*gestion.Expense], bool, error) {
	if strings.TrimSpace(dc.Type) == "" {
		return gestion.Condition[*gestion.Expense]{}, false, fmt.Errorf("%w: document rule without type", generic.ErrInvalidInput)
	}
	obligation := gestion.Obligation(dc.Obligation)
	if obligation == "" {
		obligation = gestion.Necessary
	}
	if !obligation.Valid() {
		return gestion.Condition[*gestion.Expense]{}, false, fmt.Errorf("%w: obligation %q", generic.ErrInvalidInput, dc.Obligation)
	}
	if obligation == gestion.Ignorable {
		return gestion.Condition[*gestion.Expense]{}, false, nil
	}

	severity := gestion.Severity(dc.Severity)
	switch {
	case severity == "" && obligation == gestion.Necessary:
		severity = gestion.Imperative
	case severity == "":
		severity = gestion.Suggestion
	case !severity.Valid():
		return gestion.Condition[*gestion.Expense]{}, false, fmt.Errorf("%w: severity %q", generic.ErrInvalidInput, dc.Severity)
	}

	message := dc.Message
	if message == "" {
		message = fmt.Sprintf("a document of type %q is expected", dc.Type)
	}
	return gestion.RequireDocument[*gestion.Expense](dc.Type, topic, message, severity), true, nil
}

// =============================================================================
// CEILINGS
// =============================================================================

// Ceilings returns the configured ceilings keyed by account designation,
// with normalized prefixes.
func (f *TypologyFactory) Ceilings(cfg *Config) (map[string]map[string]generic.Money, error) {
	out := make(map[string]map[string]generic.Money, len(cfg.Ceilings))
	for designation, byPrefix := range cfg.Ceilings {
		m := make(map[string]generic.Money, len(byPrefix))
		for prefix, amount := range byPrefix {
			code := generic.TypeCode(prefix).Normalize()
			if code == "" || amount.IsNegative() {
				return nil, fmt.Errorf("%w: ceiling %s/%q=%s", generic.ErrInvalidInput, designation, prefix, amount)
			}
			m[string(code)] = amount
		}
		out[designation] = m
	}
	return out, nil
}

// ApplyCeilings replaces the ceilings of every configured account. Accounts
// not named in ceilings are left alone; a designation that matches no
// account is an error and nothing after it is applied.
func ApplyCeilings(ctx context.Context, ledger *donations.Ledger, ceilings map[string]map[string]generic.Money) error {
	if len(ceilings) == 0 {
		return nil
	}
	accounts, err := ledger.ListAccounts(ctx)
	if err != nil {
		return err
	}
	byDesignation := make(map[string]donations.Account, len(accounts))
	for _, a := range accounts {
		byDesignation[a.Designation] = a
	}

	designations := make([]string, 0, len(ceilings))
	for d := range ceilings {
		designations = append(designations, d)
	}
	sort.Strings(designations)

	for _, d := range designations {
		a, ok := byDesignation[d]
		if !ok {
			return fmt.Errorf("ceilings for account %q: %w", d, generic.ErrNotFound)
		}
		a.Ceilings = ceilings[d]
		if _, err := ledger.UpdateAccount(ctx, a); err != nil {
			return fmt.Errorf("ceilings for account %q: %w", d, err)
		}
	}
	return nil
}

// Configure loads the typology file at path into svc and applies its
// ceilings through ledger. An empty path keeps svc's current typology.
func (f *TypologyFactory) Configure(ctx context.Context, path string, svc *gestion.Service, ledger *donations.Ledger) error {
	if path == "" {
		return nil
	}
	cfg, err := f.ParseFile(path)
	if err != nil {
		return err
	}
	typology, err := f.Typology(cfg)
	if err != nil {
		return err
	}
	ceilings, err := f.Ceilings(cfg)
	if err != nil {
		return err
	}
	if err := ApplyCeilings(ctx, ledger, ceilings); err != nil {
		return err
	}
	svc.Typology = typology
	return nil
}
