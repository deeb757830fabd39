/*
transfers.go - Transfer batch builder

PURPOSE:
  Groups pending transfer settlements of one account into a TransferOrder
  and drives the order through its lifecycle:

    Issued --MarkTransmitted--> Transmitted --Reconcile--> Reconciled
    Issued --Cancel--> Cancelled (settlements released, ids kept)

BUILD, in one transaction:
  1. lock the candidate settlement rows (sorted ids)
  2. validate every candidate; collect ALL issues, reject the whole batch
     if there is any (no order row, no identifier written)
  3. assign an end-to-end id to each settlement that has none
  4. insert the order and attach the settlements

  An end-to-end id is assigned once. Rebuilding after a cancel keeps it;
  a second build over already-batched settlements fails with
  already_batched and leaves the ids of the first build untouched.

SEE ALSO:
  - sepa.go: File rendering
  - generic/ids.go: NewEndToEndID
*/
package gestion

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/warp/finance-engine/generic"
	"github.com/warp/finance-engine/obs"
)

const subjectTransferOrder = "transfer_order"

func orderAudit(actor generic.Principal, orderID string, action generic.AuditAction, at time.Time) generic.AuditEntry {
	e := generic.NewAuditEntry(actor, subjectTransferOrder, orderID, action)
	e.At = at
	return e
}

// validateBatch checks candidates against the requested ids and account.
func validateBatch(accountID string, requested []string, locked []Settlement) []generic.BatchIssue {
	var issues []generic.BatchIssue
	if len(requested) == 0 {
		return []generic.BatchIssue{{Code: generic.IssueEmptyBatch, Detail: "no settlement given"}}
	}
	byID := make(map[string]Settlement, len(locked))
	for _, s := range locked {
		byID[s.ID] = s
	}
	seen := make(map[string]bool, len(requested))
	for _, id := range requested {
		if seen[id] {
			issues = append(issues, generic.BatchIssue{SettlementID: id, Code: generic.IssueDuplicateSettlement})
			continue
		}
		seen[id] = true
		s, ok := byID[id]
		if !ok {
			issues = append(issues, generic.BatchIssue{SettlementID: id, Code: generic.IssueUnknownSettlement})
			continue
		}
		if s.AccountID != accountID {
			issues = append(issues, generic.BatchIssue{SettlementID: id, Code: generic.IssueMixedAccounts,
				Detail: fmt.Sprintf("belongs to account %s", s.AccountID)})
		}
		if s.Mode != ModeTransfer {
			issues = append(issues, generic.BatchIssue{SettlementID: id, Code: generic.IssueWrongMode,
				Detail: string(s.Mode)})
		}
		if s.Status != SettlementPending {
			issues = append(issues, generic.BatchIssue{SettlementID: id, Code: generic.IssueNotPending,
				Detail: string(s.Status)})
		}
		if s.TransferOrderID != "" {
			issues = append(issues, generic.BatchIssue{SettlementID: id, Code: generic.IssueAlreadyBatched,
				Detail: s.TransferOrderID})
		}
	}
	return issues
}

// BuildTransferOrder batches settlements into a new order. Any invalid
// candidate rejects the whole batch with a *generic.BatchValidationError.
func (s *Service) BuildTransferOrder(ctx context.Context, actor generic.Principal, accountID string, settlementIDs []string, executionDate time.Time) (TransferOrder, error) {
	now := s.now()
	if executionDate.IsZero() {
		executionDate = now
	}
	var out TransferOrder
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		if _, err := tx.GetAccount(ctx, accountID); err != nil {
			return fmt.Errorf("account %s: %w", accountID, err)
		}
		if err := s.require(ctx, actor, accountID, "build transfer order", generic.CapControlExpense); err != nil {
			return err
		}
		locked, err := tx.LockSettlements(ctx, generic.SortedIDs(settlementIDs...))
		if err != nil {
			return err
		}
		if issues := validateBatch(accountID, settlementIDs, locked); len(issues) > 0 {
			return &generic.BatchValidationError{Issues: issues}
		}

		order := TransferOrder{
			ID:            generic.NewID(),
			Reference:     generic.NewReference("OV"),
			AccountID:     accountID,
			ExecutionDate: generic.Day(executionDate),
			Status:        OrderIssued,
			CreatedBy:     actor.ID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.InsertTransferOrder(ctx, order); err != nil {
			return err
		}
		for _, st := range locked {
			if st.EndToEndID == "" {
				st.EndToEndID = generic.NewEndToEndID()
			}
			st.TransferOrderID = order.ID
			if err := tx.UpdateSettlement(ctx, st); err != nil {
				return err
			}
			order.SettlementIDs = append(order.SettlementIDs, st.ID)
		}

		entry := orderAudit(actor, order.ID, generic.AuditOrderBuilt, now)
		entry.To = string(order.Status)
		entry.Payload = map[string]any{"settlements": order.SettlementIDs}
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return err
		}
		out = order
		return nil
	})
	if err != nil {
		s.log().Info("transfer order rejected", "account_id", accountID, "settlements", len(settlementIDs), "error", err)
		return TransferOrder{}, err
	}
	obs.TransferOrderBuilt()
	s.log().Info("transfer order built",
		"order_id", out.ID, "reference", out.Reference, "account_id", accountID,
		"settlements", len(out.SettlementIDs), "execution_date", out.ExecutionDate.Format(generic.DateLayout))
	return out, nil
}

// changeOrder locks an order in status from, applies fn to it and its
// locked settlements, and persists both.
func (s *Service) changeOrder(ctx context.Context, actor generic.Principal, orderID string, from OrderStatus, action string,
	fn func(o *TransferOrder, settlements []Settlement) []Settlement) (TransferOrder, error) {
	now := s.now()
	var out TransferOrder
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		o, err := tx.LockTransferOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := s.require(ctx, actor, o.AccountID, action, generic.CapControlExpense); err != nil {
			return err
		}
		if o.Status != from {
			return fmt.Errorf("%w: transfer order %s is %s, expected %s", generic.ErrInvalidInput, o.Reference, o.Status, from)
		}
		locked, err := tx.LockSettlements(ctx, generic.SortedIDs(o.SettlementIDs...))
		if err != nil {
			return err
		}
		before := o.Status
		for _, st := range fn(&o, locked) {
			if err := tx.UpdateSettlement(ctx, st); err != nil {
				return err
			}
		}
		o.UpdatedAt = now
		if err := tx.UpdateTransferOrder(ctx, o); err != nil {
			return err
		}
		auditAction := generic.AuditOrderStatus
		if o.Status == OrderCancelled {
			auditAction = generic.AuditOrderCancelled
		}
		entry := orderAudit(actor, o.ID, auditAction, now)
		entry.From = string(before)
		entry.To = string(o.Status)
		entry.Payload = map[string]any{"settlements": o.SettlementIDs}
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return TransferOrder{}, err
	}
	s.log().Info("transfer order "+action, "order_id", out.ID, "status", out.Status, "actor", actor.ID)
	return out, nil
}

// CancelTransferOrder releases the settlements of an issued order. They
// keep their end-to-end ids and may be batched again.
func (s *Service) CancelTransferOrder(ctx context.Context, actor generic.Principal, orderID string) (TransferOrder, error) {
	return s.changeOrder(ctx, actor, orderID, OrderIssued, "cancel",
		func(o *TransferOrder, settlements []Settlement) []Settlement {
			o.Status = OrderCancelled
			for i := range settlements {
				settlements[i].TransferOrderID = ""
			}
			return settlements
		})
}

// MarkTransmitted records that the file was sent to the bank. Settlements
// are settled at the execution date.
func (s *Service) MarkTransmitted(ctx context.Context, actor generic.Principal, orderID string) (TransferOrder, error) {
	return s.changeOrder(ctx, actor, orderID, OrderIssued, "transmit",
		func(o *TransferOrder, settlements []Settlement) []Settlement {
			o.Status = OrderTransmitted
			day := generic.Day(o.ExecutionDate)
			for i := range settlements {
				settlements[i].Status = SettlementSettled
				settlements[i].SettledAt = &day
			}
			return settlements
		})
}

// ReconcileTransferOrder records that the bank statement shows the order.
func (s *Service) ReconcileTransferOrder(ctx context.Context, actor generic.Principal, orderID string) (TransferOrder, error) {
	now := s.now()
	return s.changeOrder(ctx, actor, orderID, OrderTransmitted, "reconcile",
		func(o *TransferOrder, settlements []Settlement) []Settlement {
			o.Status = OrderReconciled
			var changed []Settlement
			for _, st := range settlements {
				if st.Status == SettlementReconciled {
					continue
				}
				st.Status = SettlementReconciled
				st.ReconciledAt = &now
				changed = append(changed, st)
			}
			return changed
		})
}

// RenderTransferFile generates the order's bank file and stores it on the
// order. Rendering again returns identical bytes.
func (s *Service) RenderTransferFile(ctx context.Context, actor generic.Principal, orderID string) ([]byte, error) {
	var file []byte
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		o, err := tx.LockTransferOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := s.require(ctx, actor, o.AccountID, "render transfer file", generic.CapControlExpense); err != nil {
			return err
		}
		if o.Status == OrderCancelled {
			return fmt.Errorf("%w: transfer order %s is cancelled", generic.ErrInvalidInput, o.Reference)
		}
		account, err := tx.GetAccount(ctx, o.AccountID)
		if err != nil {
			return err
		}
		settlements, err := tx.ListSettlements(ctx, SettlementFilter{TransferOrderID: o.ID})
		if err != nil {
			return err
		}
		file, err = GenerateTransferFile(o, account, settlements)
		if err != nil {
			return err
		}
		if bytes.Equal(o.File, file) {
			return nil
		}
		o.File = file
		o.UpdatedAt = s.now()
		return tx.UpdateTransferOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (s *Service) GetTransferOrder(ctx context.Context, id string) (TransferOrder, error) {
	return s.Store.GetTransferOrder(ctx, id)
}

func (s *Service) ListTransferOrders(ctx context.Context, accountID string) ([]TransferOrder, error) {
	return s.Store.ListTransferOrders(ctx, accountID)
}
