/*
store.go - Shared persistence contracts

PURPOSE:
  The domain packages each define their own Store interface (donations.Store,
  gestion.Store). What they share lives here: the audit trail written next to
  every state change, and the transactional shape every store follows.

TRANSACTIONAL CONTRACT:
  WithTx(ctx, fn) runs fn inside one database transaction.
  - fn returns nil   -> commit
  - fn returns error -> rollback, error returned unchanged
  Invariant checks and the writes they protect always run in the same fn.

AUDIT LOG:
  Append-only. Every committed workflow transition and every built or
  cancelled transfer order records who did what, and the before/after
  state labels.

SEE ALSO:
  - store/sqldb: database/sql implementation
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// AUDIT LOG - Tracks who did what when
// =============================================================================

// AuditEntry records who did what when.
type AuditEntry struct {
	ID          string
	At          time.Time
	ActorID     string
	SubjectKind string // "expense", "project", "transfer_order", ...
	SubjectID   string
	Action      AuditAction
	Transition  string
	From        string
	To          string
	Payload     map[string]any
}

type AuditAction string

const (
	AuditCreated         AuditAction = "created"
	AuditTransition      AuditAction = "transition"
	AuditSettlementAdded AuditAction = "settlement_added"
	AuditOrderBuilt      AuditAction = "transfer_order_built"
	AuditOrderCancelled  AuditAction = "transfer_order_cancelled"
	AuditOrderStatus     AuditAction = "transfer_order_status"
	AuditExported        AuditAction = "accounting_exported"
	AuditRebilled        AuditAction = "rebilled"
)

// AuditLog stores audit entries. Also append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	SubjectKind string
	SubjectID   string
	ActorID     string
	Actions     []AuditAction
}

// NewAuditEntry fills id and timestamp.
func NewAuditEntry(actor Principal, kind, subjectID string, action AuditAction) AuditEntry {
	return AuditEntry{
		ID:          NewSortableID(),
		At:          time.Now().UTC(),
		ActorID:     actor.ID,
		SubjectKind: kind,
		SubjectID:   subjectID,
		Action:      action,
	}
}
