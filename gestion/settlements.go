package gestion

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/finance-engine/generic"
)

// =============================================================================
// SETTLEMENTS
// =============================================================================
//
// Every settlement write locks the owning expense row first, then checks
//
//   sum(settlements of the expense) + delta <= expense amount
//
// so two concurrent settlements cannot both fit in the same remainder.

type SettlementInput struct {
	Mode   SettlementMode
	Amount generic.Money
	// Creditor overrides the expense supplier. Either way the details are
	// copied onto the settlement.
	Creditor        *Supplier
	ProofDocumentID string
}

// AddSettlement records a payment out for an engaged expense.
func (s *Service) AddSettlement(ctx context.Context, actor generic.Principal, expenseID string, in SettlementInput) (Settlement, error) {
	if !in.Mode.Valid() {
		return Settlement{}, fmt.Errorf("%w: settlement mode %q", generic.ErrInvalidInput, in.Mode)
	}
	if in.Amount.IsZero() || (in.Mode == ModeTransfer && in.Amount.IsNegative()) {
		return Settlement{}, fmt.Errorf("%w: settlement amount %s", generic.ErrInvalidAmount, in.Amount)
	}
	now := s.now()
	var out Settlement
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		e, err := tx.LockExpense(ctx, expenseID)
		if err != nil {
			return err
		}
		if err := s.require(ctx, actor, e.AccountID, "add settlement", generic.CapManageExpense, generic.CapControlExpense); err != nil {
			return err
		}
		if e.State != ExpenseConstitution && e.State != ExpenseComplet {
			return fmt.Errorf("%w: expense %s is %s, settlements need an engaged open dossier", generic.ErrInvalidInput, e.Reference, e.State)
		}
		if err := generic.CheckCeiling(generic.SettlementExceedsExpense, "expense", e.ID, e.Settled(), in.Amount, e.Amount); err != nil {
			return err
		}

		creditor, err := s.creditorFor(ctx, tx, e, in.Creditor)
		if err != nil {
			return err
		}
		if in.ProofDocumentID != "" {
			if _, ok := findDocument(e.Documents, in.ProofDocumentID); !ok {
				return fmt.Errorf("%w: proof document %s is not attached to %s", generic.ErrInvalidInput, in.ProofDocumentID, e.Reference)
			}
		}

		st := Settlement{
			ID:              generic.NewID(),
			Reference:       generic.NewReference("REG"),
			ExpenseID:       e.ID,
			AccountID:       e.AccountID,
			Mode:            in.Mode,
			Amount:          in.Amount,
			Creditor:        creditor,
			ProofDocumentID: in.ProofDocumentID,
			Status:          SettlementPending,
			CreatedAt:       now,
		}
		if err := tx.InsertSettlement(ctx, st); err != nil {
			return err
		}
		entry := audit(actor, OwnerExpense, e.ID, generic.AuditSettlementAdded, now)
		entry.Payload = map[string]any{"settlement": st.ID, "amount": st.Amount.String(), "mode": string(st.Mode)}
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return err
		}
		out = st
		return nil
	})
	if err != nil {
		s.rejected(err, "add_settlement")
		return Settlement{}, err
	}
	return out, nil
}

func (s *Service) creditorFor(ctx context.Context, tx DossierTx, e Expense, override *Supplier) (Supplier, error) {
	if override != nil {
		c := *override
		if err := validateSupplier(c); err != nil {
			return Supplier{}, err
		}
		c.IBAN = generic.NormalizeIBAN(c.IBAN)
		return c, nil
	}
	if e.SupplierID == "" {
		return Supplier{}, nil
	}
	return tx.GetSupplier(ctx, e.SupplierID)
}

// editableSettlement locks the owning expense then the settlement, and
// returns both if the settlement is still pending and unbatched.
func editableSettlement(ctx context.Context, tx DossierTx, settlementID string) (Expense, Settlement, error) {
	head, err := tx.GetSettlement(ctx, settlementID)
	if err != nil {
		return Expense{}, Settlement{}, err
	}
	e, err := tx.LockExpense(ctx, head.ExpenseID)
	if err != nil {
		return Expense{}, Settlement{}, err
	}
	locked, err := tx.LockSettlements(ctx, []string{settlementID})
	if err != nil {
		return Expense{}, Settlement{}, err
	}
	if len(locked) == 0 {
		return Expense{}, Settlement{}, fmt.Errorf("settlement %s: %w", settlementID, generic.ErrNotFound)
	}
	st := locked[0]
	if st.Status != SettlementPending || st.TransferOrderID != "" {
		return Expense{}, Settlement{}, fmt.Errorf("%w: settlement %s is %s and cannot change", generic.ErrInvalidInput, st.Reference, st.Status)
	}
	return e, st, nil
}

// UpdateSettlementAmount changes a pending, unbatched settlement.
func (s *Service) UpdateSettlementAmount(ctx context.Context, actor generic.Principal, settlementID string, amount generic.Money) (Settlement, error) {
	if amount.IsZero() {
		return Settlement{}, fmt.Errorf("%w: settlement amount is zero", generic.ErrInvalidAmount)
	}
	var out Settlement
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		e, st, err := editableSettlement(ctx, tx, settlementID)
		if err != nil {
			return err
		}
		if err := s.require(ctx, actor, e.AccountID, "update settlement", generic.CapManageExpense, generic.CapControlExpense); err != nil {
			return err
		}
		if st.Mode == ModeTransfer && amount.IsNegative() {
			return fmt.Errorf("%w: transfer amount must be positive", generic.ErrInvalidAmount)
		}
		if err := generic.CheckCeiling(generic.SettlementExceedsExpense, "expense", e.ID, e.Settled(), amount.Sub(st.Amount), e.Amount); err != nil {
			return err
		}
		st.Amount = amount
		out = st
		return tx.UpdateSettlement(ctx, st)
	})
	if err != nil {
		s.rejected(err, "update_settlement")
		return Settlement{}, err
	}
	return out, nil
}

// DeleteSettlement removes a pending, unbatched settlement. An end-to-end
// identifier it carried is never handed out again. Removing a negative
// settlement (a refund) raises the settled total, so the ceiling is checked
// here too.
func (s *Service) DeleteSettlement(ctx context.Context, actor generic.Principal, settlementID string) error {
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		e, st, err := editableSettlement(ctx, tx, settlementID)
		if err != nil {
			return err
		}
		if err := s.require(ctx, actor, e.AccountID, "delete settlement", generic.CapManageExpense, generic.CapControlExpense); err != nil {
			return err
		}
		if err := generic.CheckCeiling(generic.SettlementExceedsExpense, "expense", e.ID, e.Settled(), st.Amount.Neg(), e.Amount); err != nil {
			return err
		}
		return tx.DeleteSettlement(ctx, st.ID)
	})
	if err != nil {
		s.rejected(err, "delete_settlement")
	}
	return err
}

// AttachProof links a proof-of-payment document of the expense.
func (s *Service) AttachProof(ctx context.Context, actor generic.Principal, settlementID, documentID string) (Settlement, error) {
	var out Settlement
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		st, err := tx.GetSettlement(ctx, settlementID)
		if err != nil {
			return err
		}
		e, err := tx.GetExpense(ctx, st.ExpenseID)
		if err != nil {
			return err
		}
		if err := s.require(ctx, actor, e.AccountID, "attach proof", generic.CapManageExpense, generic.CapControlExpense); err != nil {
			return err
		}
		if _, ok := findDocument(e.Documents, documentID); !ok {
			return fmt.Errorf("%w: document %s is not attached to %s", generic.ErrInvalidInput, documentID, e.Reference)
		}
		st.ProofDocumentID = documentID
		out = st
		return tx.UpdateSettlement(ctx, st)
	})
	return out, err
}

// MarkSettled records that a non-batched settlement was paid. Transfer
// settlements inside an order are settled by MarkTransmitted instead.
func (s *Service) MarkSettled(ctx context.Context, actor generic.Principal, settlementID string, at time.Time) (Settlement, error) {
	var out Settlement
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		e, st, err := editableSettlement(ctx, tx, settlementID)
		if err != nil {
			return err
		}
		if err := s.require(ctx, actor, e.AccountID, "mark settled", generic.CapControlExpense); err != nil {
			return err
		}
		day := generic.Day(at)
		st.Status = SettlementSettled
		st.SettledAt = &day
		out = st
		return tx.UpdateSettlement(ctx, st)
	})
	return out, err
}

func (s *Service) GetSettlement(ctx context.Context, id string) (Settlement, error) {
	return s.Store.GetSettlement(ctx, id)
}
