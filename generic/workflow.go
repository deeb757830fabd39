/*
workflow.go - Guarded, permissioned state transitions

PURPOSE:
  Expenses and projects move through finite state machines. Each entity
  kind declares its table once, at package initialisation:

    state -> [ {name, target, capabilities, guard, effect}, ... ]

  A transition attempt is checked in a fixed order:

    1. AVAILABILITY:  a transition with that name leaves the current state
    2. CAPABILITY:    the principal holds at least one listed token,
                      globally or on the entity's account
    3. GUARD:         the guard (default: always true) returns nil

  The first failing step produces a *TransitionDenied with a human-readable
  reason. The machine never mutates anything; the caller applies the target
  state and the effect, persists, and writes the audit entry.

TRANSITION FLOW:
  ┌───────────┐  Check()   ┌────────────┐  caller   ┌──────────────────┐
  │ state + E │ ─────────▶ │ Transition │ ────────▶ │ state = Target   │
  └───────────┘            └────────────┘           │ Effect(E, now)   │
        │                                           │ save + audit     │
        ▼ denied                                    └──────────────────┘
  *TransitionDenied (entity unchanged)

SEE ALSO:
  - gestion/workflow.go: Expense and project tables
  - capability.go: Authorizer
*/
package generic

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// TRANSITION
// =============================================================================

// Guard returns nil when the transition may proceed, or an error whose
// message is shown to the user.
type Guard[E any] func(subject E) error

// Transition is one edge of a state machine.
type Transition[S comparable, E any] struct {
	Name         string
	Label        string
	Target       S
	Capabilities []Capability
	Guard        Guard[E]
	// Effect runs exactly once, after the checks pass and before saving.
	Effect func(subject E, at time.Time)
}

// Apply runs the side effect, if any.
func (t Transition[S, E]) Apply(subject E, at time.Time) {
	if t.Effect != nil {
		t.Effect(subject, at)
	}
}

// =============================================================================
// MACHINE
// =============================================================================

// Machine is an immutable transition table.
type Machine[S comparable, E any] struct {
	table map[S][]Transition[S, E]
}

// NewMachine copies table. Duplicate transition names out of one state are
// a programming error and panic.
func NewMachine[S comparable, E any](table map[S][]Transition[S, E]) *Machine[S, E] {
	m := &Machine[S, E]{table: make(map[S][]Transition[S, E], len(table))}
	for state, ts := range table {
		seen := make(map[string]bool, len(ts))
		for _, t := range ts {
			if seen[t.Name] {
				panic(fmt.Sprintf("workflow: duplicate transition %q from %v", t.Name, state))
			}
			seen[t.Name] = true
		}
		m.table[state] = append([]Transition[S, E](nil), ts...)
	}
	return m
}

// From returns the transitions declared out of state, in declaration order.
func (m *Machine[S, E]) From(state S) []Transition[S, E] {
	return append([]Transition[S, E](nil), m.table[state]...)
}

// Lookup finds a transition by name out of state.
func (m *Machine[S, E]) Lookup(state S, name string) (Transition[S, E], bool) {
	for _, t := range m.table[state] {
		if t.Name == name {
			return t, true
		}
	}
	return Transition[S, E]{}, false
}

// IsTerminal reports whether no transition leaves state.
func (m *Machine[S, E]) IsTerminal(state S) bool {
	return len(m.table[state]) == 0
}

// Check runs availability, capability and guard checks for transition name.
func (m *Machine[S, E]) Check(az Authorizer, p Principal, scope Scope, state S, subject E, name string) (Transition[S, E], error) {
	from := fmt.Sprint(state)
	t, ok := m.Lookup(state, name)
	if !ok {
		return Transition[S, E]{}, &TransitionDenied{
			Transition: name,
			From:       from,
			Reason:     fmt.Sprintf("no transition %q from state %s", name, from),
			Cause:      ErrTransitionUnavailable,
		}
	}
	if len(t.Capabilities) > 0 && !HasAny(az, p, scope, t.Capabilities...) {
		names := make([]string, len(t.Capabilities))
		for i, c := range t.Capabilities {
			names[i] = string(c)
		}
		return Transition[S, E]{}, &TransitionDenied{
			Transition: name,
			From:       from,
			Reason:     "requires one of: " + strings.Join(names, ", "),
			Cause:      ErrCapabilityMissing,
		}
	}
	if t.Guard != nil {
		if err := t.Guard(subject); err != nil {
			return Transition[S, E]{}, &TransitionDenied{
				Transition: name,
				From:       from,
				Reason:     err.Error(),
				Cause:      ErrGuardFailed,
			}
		}
	}
	return t, nil
}

// Allowed returns the transitions out of state that p could fire right now.
func (m *Machine[S, E]) Allowed(az Authorizer, p Principal, scope Scope, state S, subject E) []Transition[S, E] {
	var out []Transition[S, E]
	for _, t := range m.table[state] {
		if _, err := m.Check(az, p, scope, state, subject, t.Name); err == nil {
			out = append(out, t)
		}
	}
	return out
}
