package gestion

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/generic"
	"github.com/warp/finance-engine/obs"
)

// =============================================================================
// ACCOUNTING EXPORT
// =============================================================================
//
// One row per settled or reconciled settlement of an account. Exporting
// marks Settled rows Reconciled in the same transaction that reads them,
// so a row is never handed to bookkeeping as "new" twice.

const (
	JournalCode  = "BQ"
	JournalLabel = "Banque"
)

// ExportColumns is the stable header of the export, in order.
var ExportColumns = []string{
	"JournalCode", "JournalLib", "EcritureNum", "EcritureDate", "CompteNum", "CompteLib",
	"PieceRef", "PieceDate", "EcritureLib", "Debit", "Credit", "EcritureLet", "DateLet",
	"DateReglement", "ModeReglement", "Libre1", "Libre2", "Libre3", "URLs",
}

type ExportRow struct {
	JournalCode   string
	JournalLabel  string
	EntryNumber   string
	EntryDate     time.Time
	AccountNumber string
	AccountLabel  string
	PieceRef      string
	PieceDate     time.Time
	EntryLabel    string
	Debit         generic.Money
	Credit        generic.Money
	Letter        string
	LetterDate    *time.Time
	SettledDate   time.Time
	ModeCode      string
	Free1         string
	Free2         string
	Free3         string
	URLs          []string
}

// Record renders the row in ExportColumns order.
func (r ExportRow) Record() []string {
	letterDate := ""
	if r.LetterDate != nil {
		letterDate = r.LetterDate.Format(generic.DateLayout)
	}
	return []string{
		r.JournalCode,
		r.JournalLabel,
		r.EntryNumber,
		r.EntryDate.Format(generic.DateLayout),
		r.AccountNumber,
		r.AccountLabel,
		r.PieceRef,
		r.PieceDate.Format(generic.DateLayout),
		r.EntryLabel,
		r.Debit.String(),
		r.Credit.String(),
		r.Letter,
		letterDate,
		r.SettledDate.Format(generic.DateLayout),
		r.ModeCode,
		r.Free1,
		r.Free2,
		r.Free3,
		strings.Join(r.URLs, " "),
	}
}

// ExportAccounting flattens the account's settled settlements in range.
func (s *Service) ExportAccounting(ctx context.Context, actor generic.Principal, accountID string, rng generic.DateRange) ([]ExportRow, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	return s.export(ctx, actor, accountID, rng, SettlementSettled, SettlementReconciled)
}

// ExportUnreconciled flattens every settlement of the account paid on or
// before upTo that no export has handed over yet, whatever its payment
// date. A settlement backdated after its day was exported is still picked
// up on the next run.
func (s *Service) ExportUnreconciled(ctx context.Context, actor generic.Principal, accountID string, upTo time.Time) ([]ExportRow, error) {
	return s.export(ctx, actor, accountID, generic.DateRange{To: &upTo}, SettlementSettled)
}

func (s *Service) export(ctx context.Context, actor generic.Principal, accountID string, rng generic.DateRange, statuses ...SettlementStatus) ([]ExportRow, error) {
	now := s.now()
	var rows []ExportRow
	err := s.Store.WithDossierTx(ctx, func(tx DossierTx) error {
		rows = rows[:0]
		account, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if err := s.require(ctx, actor, accountID, "export accounting", generic.CapControlExpense); err != nil {
			return err
		}
		settlements, err := tx.ListSettlements(ctx, SettlementFilter{
			AccountID: accountID,
			Statuses:  statuses,
		})
		if err != nil {
			return err
		}
		sort.Slice(settlements, func(i, j int) bool {
			a, b := settledOn(settlements[i]), settledOn(settlements[j])
			if !a.Equal(b) {
				return a.Before(b)
			}
			return settlements[i].Reference < settlements[j].Reference
		})

		expenses := map[string]Expense{}
		var marked int
		for _, st := range settlements {
			if st.SettledAt == nil || !rng.Contains(*st.SettledAt) {
				continue
			}
			if st.Status == SettlementSettled {
				st.Status = SettlementReconciled
				st.ReconciledAt = &now
				if err := tx.UpdateSettlement(ctx, st); err != nil {
					return err
				}
				marked++
			}
			e, ok := expenses[st.ExpenseID]
			if !ok {
				if e, err = tx.GetExpense(ctx, st.ExpenseID); err != nil {
					return err
				}
				expenses[st.ExpenseID] = e
			}
			rows = append(rows, s.exportRow(account, e, st))
		}

		entry := generic.NewAuditEntry(actor, "account", accountID, generic.AuditExported)
		entry.At = now
		entry.Payload = map[string]any{"rows": len(rows), "reconciled": marked}
		return tx.AppendAudit(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	obs.ExportRows(len(rows))
	s.log().Info("accounting exported", "account_id", accountID, "rows", len(rows), "actor", actor.ID)
	return rows, nil
}

func settledOn(st Settlement) time.Time {
	if st.SettledAt == nil {
		return time.Time{}
	}
	return *st.SettledAt
}

func (s *Service) exportRow(account donations.Account, e Expense, st Settlement) ExportRow {
	row := ExportRow{
		JournalCode:   JournalCode,
		JournalLabel:  JournalLabel,
		EntryNumber:   st.Reference,
		EntryDate:     generic.Day(*st.SettledAt),
		AccountNumber: s.Typology.AccountNumber(e.Type),
		AccountLabel:  s.Typology.Label(e.Type),
		PieceRef:      e.Reference,
		PieceDate:     generic.Day(e.CreatedAt),
		EntryLabel:    strings.TrimSpace(e.Label + " " + st.Creditor.Name),
		Debit:         generic.Zero,
		Credit:        generic.Zero,
		Letter:        st.TransferOrderID,
		LetterDate:    st.ReconciledAt,
		SettledDate:   generic.Day(*st.SettledAt),
		ModeCode:      st.Mode.Code(),
		Free1:         account.Designation,
		Free2:         st.Creditor.Name,
		Free3:         st.EndToEndID,
	}
	if st.Amount.IsNegative() {
		row.Credit = st.Amount.Abs()
	} else {
		row.Debit = st.Amount
	}
	for _, d := range e.Documents {
		if d.Type == DocInvoice || d.ID == st.ProofDocumentID {
			if u := s.documentURL(d); u != "" {
				row.URLs = append(row.URLs, u)
			}
		}
	}
	return row
}

func (s *Service) documentURL(d Document) string {
	if d.URL != "" {
		return d.URL
	}
	if s.DocumentBaseURL == "" {
		return ""
	}
	return strings.TrimRight(s.DocumentBaseURL, "/") + "/" + d.ID
}

// WriteCSV writes rows with a header line, semicolon separated.
func WriteCSV(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(ExportColumns); err != nil {
		return fmt.Errorf("write export header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(r.Record()); err != nil {
			return fmt.Errorf("write export row %s: %w", r.EntryNumber, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
