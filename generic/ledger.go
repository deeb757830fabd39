/*
ledger.go - Conservation invariant checks

PURPOSE:
  The three money invariants of the system are all of the same shape:
  an aggregate that a mutation changes by some net delta must stay on the
  right side of a bound.

    account balance          sum(operations)              >= 0
    payment                  sum(linked operations)       <= price
    subscription             sum(allocations)             <= price
    expense                  sum(settlements)             <= amount

  This file holds the pure checks. The domain packages call them inside
  the same database transaction as the write, after taking a locking read
  on the aggregate's parent row, so two writers can never both pass a
  check against a stale sum.

CRITICAL INVARIANTS:
  1. Checks run before the write commits; on violation the caller rolls back
  2. Boundaries are inclusive: balance == 0 and sum == price are allowed
  3. Nothing is clamped; a violation is always an error

SEE ALSO:
  - donations/ledger.go: Operation, payment and allocation guards
  - gestion/settlements.go: Settlement guard
*/
package generic

import "sort"

// =============================================================================
// INVARIANT CHECKS
// =============================================================================

// CheckNonNegative fails when current+delta < 0.
func CheckNonNegative(kind ViolationKind, scope, scopeID string, current, delta Money) error {
	if current.Add(delta).IsNegative() {
		return &IntegrityViolation{
			Kind:    kind,
			Scope:   scope,
			ScopeID: scopeID,
			Current: current,
			Delta:   delta,
			Limit:   Zero,
		}
	}
	return nil
}

// CheckCeiling fails when current+delta > limit.
func CheckCeiling(kind ViolationKind, scope, scopeID string, current, delta, limit Money) error {
	if current.Add(delta).GreaterThan(limit) {
		return &IntegrityViolation{
			Kind:    kind,
			Scope:   scope,
			ScopeID: scopeID,
			Current: current,
			Delta:   delta,
			Limit:   limit,
		}
	}
	return nil
}

// SortedIDs returns the distinct non-empty ids in ascending order. Row locks
// are always taken in this order to avoid deadlocks between writers that
// touch the same pair of accounts.
func SortedIDs(ids ...string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
