/*
errors.go - Centralized error types for the finance engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages return these (or wrap them with %w) so callers can
  classify failures with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Integrity violations - conservation invariants (always fatal to the tx)
  2. Transition denials   - capability missing, guard failed (recoverable)
  3. Batch validation     - transfer order rejected as a whole (recoverable)
  4. File generation      - missing banking data (recoverable, not I/O)
  5. Store errors         - not found, concurrent modification

PROPAGATION:
  Violations and validation errors are detected before any write commits.
  Nothing is fixed up after the fact. Only ErrConcurrentModification is
  worth an automatic retry; logical violations need data correction.

SEE ALSO:
  - ledger.go: Produces IntegrityViolation
  - workflow.go: Produces TransitionDenied
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrIntegrityViolation matches every *IntegrityViolation.
	ErrIntegrityViolation = errors.New("integrity violation")

	ErrNegativeBalance               = errors.New("negative balance")
	ErrAllocationExceedsSubscription = errors.New("allocations exceed subscription price")
	ErrOperationExceedsPayment       = errors.New("operations exceed payment price")
	ErrSettlementExceedsExpense      = errors.New("settlements exceed expense amount")

	// ErrTransitionDenied matches every *TransitionDenied.
	ErrTransitionDenied      = errors.New("transition denied")
	ErrCapabilityMissing     = errors.New("capability missing")
	ErrGuardFailed           = errors.New("guard failed")
	ErrTransitionUnavailable = errors.New("transition not available from current state")

	// ErrBatchValidation matches every *BatchValidationError.
	ErrBatchValidation = errors.New("batch validation failed")

	// ErrFileGeneration matches every *FileGenerationError.
	ErrFileGeneration = errors.New("transfer file generation failed")

	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidInput       = errors.New("invalid input")
	ErrOperationImmutable = errors.New("operation is settled and immutable")
	ErrDuplicateReference = errors.New("duplicate reference")
)

// =============================================================================
// INTEGRITY VIOLATIONS
// =============================================================================

// ViolationKind names the conservation invariant that would have been broken.
type ViolationKind string

const (
	NegativeBalance               ViolationKind = "negative_balance"
	AllocationExceedsSubscription ViolationKind = "allocation_exceeds_subscription"
	OperationExceedsPayment       ViolationKind = "operation_exceeds_payment"
	SettlementExceedsExpense      ViolationKind = "settlement_exceeds_expense"
)

func (k ViolationKind) sentinel() error {
	switch k {
	case NegativeBalance:
		return ErrNegativeBalance
	case AllocationExceedsSubscription:
		return ErrAllocationExceedsSubscription
	case OperationExceedsPayment:
		return ErrOperationExceedsPayment
	case SettlementExceedsExpense:
		return ErrSettlementExceedsExpense
	}
	return ErrIntegrityViolation
}

// IntegrityViolation is a rejected mutation. Current is the committed
// aggregate, Delta the net effect of the mutation, Limit the bound it may
// not cross (zero for balances).
type IntegrityViolation struct {
	Kind    ViolationKind
	Scope   string // "account", "payment", "subscription", "expense"
	ScopeID string
	Current Money
	Delta   Money
	Limit   Money
}

func (e *IntegrityViolation) Resulting() Money { return e.Current.Add(e.Delta) }

func (e *IntegrityViolation) Error() string {
	return fmt.Sprintf("%s on %s %s: current %s, change %s, limit %s",
		e.Kind, e.Scope, e.ScopeID, e.Current, e.Delta, e.Limit)
}

func (e *IntegrityViolation) Unwrap() error { return e.Kind.sentinel() }

func (e *IntegrityViolation) Is(target error) bool { return target == ErrIntegrityViolation }

// =============================================================================
// TRANSITION DENIED
// =============================================================================

// TransitionDenied explains why a workflow transition was refused. The
// entity is unchanged.
type TransitionDenied struct {
	Transition string
	From       string
	Reason     string
	Cause      error // ErrCapabilityMissing, ErrGuardFailed or ErrTransitionUnavailable
}

func (e *TransitionDenied) Error() string {
	return fmt.Sprintf("transition %q from %q denied: %s", e.Transition, e.From, e.Reason)
}

func (e *TransitionDenied) Unwrap() error { return e.Cause }

func (e *TransitionDenied) Is(target error) bool { return target == ErrTransitionDenied }

// =============================================================================
// BATCH VALIDATION
// =============================================================================

// BatchIssueCode classifies why a settlement cannot join a transfer order.
type BatchIssueCode string

const (
	IssueEmptyBatch          BatchIssueCode = "empty_batch"
	IssueUnknownSettlement   BatchIssueCode = "unknown_settlement"
	IssueDuplicateSettlement BatchIssueCode = "duplicate_settlement"
	IssueMixedAccounts       BatchIssueCode = "mixed_accounts"
	IssueWrongMode           BatchIssueCode = "wrong_mode"
	IssueNotPending          BatchIssueCode = "not_pending"
	IssueAlreadyBatched      BatchIssueCode = "already_batched"
)

type BatchIssue struct {
	SettlementID string
	Code         BatchIssueCode
	Detail       string
}

// BatchValidationError rejects a whole transfer order; nothing was created.
type BatchValidationError struct {
	Issues []BatchIssue
}

func (e *BatchValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		if i.SettlementID == "" {
			parts = append(parts, string(i.Code))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", i.SettlementID, i.Code))
	}
	return "transfer batch rejected: " + strings.Join(parts, "; ")
}

func (e *BatchValidationError) Is(target error) bool { return target == ErrBatchValidation }

// HasIssue reports whether any issue carries code.
func (e *BatchValidationError) HasIssue(code BatchIssueCode) bool {
	for _, i := range e.Issues {
		if i.Code == code {
			return true
		}
	}
	return false
}

// =============================================================================
// FILE GENERATION
// =============================================================================

// FileGenerationError means banking data is missing; no file was emitted.
// It is never returned for I/O failures.
type FileGenerationError struct {
	Missing []string
}

func (e *FileGenerationError) Error() string {
	return "cannot generate transfer file, missing: " + strings.Join(e.Missing, ", ")
}

func (e *FileGenerationError) Is(target error) bool { return target == ErrFileGeneration }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsIntegrityViolation reports a conservation invariant rejection.
func IsIntegrityViolation(err error) bool {
	return errors.Is(err, ErrIntegrityViolation)
}

// IsClientError returns true if the error is due to invalid input or a
// business rule, and must not be retried as is.
func IsClientError(err error) bool {
	return errors.Is(err, ErrIntegrityViolation) ||
		errors.Is(err, ErrTransitionDenied) ||
		errors.Is(err, ErrCapabilityMissing) ||
		errors.Is(err, ErrBatchValidation) ||
		errors.Is(err, ErrFileGeneration) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrOperationImmutable) ||
		errors.Is(err, ErrDuplicateReference)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
