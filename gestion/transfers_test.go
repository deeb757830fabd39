package gestion_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-engine/gestion"
	"github.com/warp/finance-engine/generic"
)

var executionDay = fixedNow.AddDate(0, 0, 1)

// twoTransfers files an engaged FRH-H expense of 10000.00 with settlements of
// 3000.00 and 7000.00.
func (f *fixture) twoTransfers(t *testing.T) (gestion.Expense, gestion.Settlement, gestion.Settlement) {
	t.Helper()
	e := f.expense(t, engager, "FRH-H", "10000.00")
	s1 := f.settle(t, e.ID, gestion.ModeTransfer, "3000.00")
	s2 := f.settle(t, e.ID, gestion.ModeTransfer, "7000.00")
	return e, s1, s2
}

func (f *fixture) build(t *testing.T, ids ...string) gestion.TransferOrder {
	t.Helper()
	o, err := f.svc.BuildTransferOrder(context.Background(), controller, f.account.ID, ids, executionDay)
	require.NoError(t, err)
	return o
}

func endToEndIDs(t *testing.T, f *fixture, ids ...string) []string {
	t.Helper()
	out := make([]string, len(ids))
	for i, id := range ids {
		st, err := f.svc.GetSettlement(context.Background(), id)
		require.NoError(t, err)
		out[i] = st.EndToEndID
	}
	return out
}

// =============================================================================
// BUILD
// =============================================================================

func TestBuildTransferOrder_AssignsEndToEndIDs(t *testing.T) {
	// GIVEN: Two pending transfer settlements of one account
	// WHEN: Building a transfer order from them
	// THEN: Both join the order with distinct, valid end-to-end ids
	f := newFixture(t)
	ctx := context.Background()
	_, s1, s2 := f.twoTransfers(t)

	order := f.build(t, s1.ID, s2.ID)

	assert.Equal(t, gestion.OrderIssued, order.Status)
	assert.Contains(t, order.Reference, "OV-")
	assert.True(t, order.ExecutionDate.Equal(generic.Day(executionDay)))
	assert.ElementsMatch(t, []string{s1.ID, s2.ID}, order.SettlementIDs)

	ids := endToEndIDs(t, f, s1.ID, s2.ID)
	assert.NotEqual(t, ids[0], ids[1])
	for _, id := range ids {
		assert.True(t, generic.ValidEndToEndID(id), id)
		assert.True(t, strings.HasPrefix(id, generic.EndToEndPrefix), id)
	}

	stored, err := f.svc.GetTransferOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, order.SettlementIDs, stored.SettlementIDs)
}

func TestBuildTransferOrder_SecondBuildRejected(t *testing.T) {
	// GIVEN: Settlements already in an issued order
	// WHEN: Building another order over them
	// THEN: already_batched, and the first ids are untouched
	f := newFixture(t)
	ctx := context.Background()
	_, s1, s2 := f.twoTransfers(t)
	first := f.build(t, s1.ID, s2.ID)
	before := endToEndIDs(t, f, s1.ID, s2.ID)

	_, err := f.svc.BuildTransferOrder(ctx, controller, f.account.ID, []string{s1.ID, s2.ID}, executionDay)

	var bve *generic.BatchValidationError
	require.ErrorAs(t, err, &bve)
	assert.True(t, bve.HasIssue(generic.IssueAlreadyBatched))
	assert.Equal(t, before, endToEndIDs(t, f, s1.ID, s2.ID))

	orders, err := f.svc.ListTransferOrders(ctx, f.account.ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, first.ID, orders[0].ID)
}

func TestBuildTransferOrder_MixedAccountsRejectsWholeBatch(t *testing.T) {
	// GIVEN: One settlement of the account and one of another account
	// WHEN: Building an order for the account over both
	// THEN: mixed_accounts; no order and no end-to-end id is written
	f := newFixture(t)
	ctx := context.Background()
	_, s1, _ := f.twoTransfers(t)

	other := f.newAccount(t, "EVT", nil)
	foreign, err := f.svc.CreateExpense(ctx, engager, gestion.ExpenseInput{
		AccountID: other.ID, Type: "COM", Label: "affiches", Amount: generic.MustMoney("50.00"), SupplierID: f.supplier.ID,
	})
	require.NoError(t, err)
	s3 := f.settle(t, foreign.ID, gestion.ModeTransfer, "50.00")

	_, err = f.svc.BuildTransferOrder(ctx, controller, f.account.ID, []string{s1.ID, s3.ID}, executionDay)

	assert.ErrorIs(t, err, generic.ErrBatchValidation)
	var bve *generic.BatchValidationError
	require.ErrorAs(t, err, &bve)
	require.Len(t, bve.Issues, 1)
	assert.Equal(t, s3.ID, bve.Issues[0].SettlementID)
	assert.Equal(t, generic.IssueMixedAccounts, bve.Issues[0].Code)

	orders, err := f.svc.ListTransferOrders(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, []string{"", ""}, endToEndIDs(t, f, s1.ID, s3.ID))
}

func TestBuildTransferOrder_CollectsEveryIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.expense(t, engager, "COM", "100.00")
	check := f.settle(t, e.ID, gestion.ModeCheck, "40.00")
	transfer := f.settle(t, e.ID, gestion.ModeTransfer, "60.00")

	_, err := f.svc.BuildTransferOrder(ctx, controller, f.account.ID,
		[]string{check.ID, transfer.ID, transfer.ID, "missing"}, executionDay)

	var bve *generic.BatchValidationError
	require.ErrorAs(t, err, &bve)
	assert.True(t, bve.HasIssue(generic.IssueWrongMode))
	assert.True(t, bve.HasIssue(generic.IssueDuplicateSettlement))
	assert.True(t, bve.HasIssue(generic.IssueUnknownSettlement))

	_, err = f.svc.BuildTransferOrder(ctx, controller, f.account.ID, nil, executionDay)
	require.ErrorAs(t, err, &bve)
	assert.True(t, bve.HasIssue(generic.IssueEmptyBatch))
}

func TestBuildTransferOrder_RequiresControl(t *testing.T) {
	f := newFixture(t)
	_, s1, _ := f.twoTransfers(t)

	_, err := f.svc.BuildTransferOrder(context.Background(), manager, f.account.ID, []string{s1.ID}, executionDay)

	assert.ErrorIs(t, err, generic.ErrCapabilityMissing)
}

// =============================================================================
// CANCEL AND RENDER
// =============================================================================

func TestCancelTransferOrder_RebuildKeepsIDs(t *testing.T) {
	// GIVEN: An issued order, then cancelled
	// WHEN: Rebuilding an order over the same settlements
	// THEN: The settlements keep their end-to-end ids
	f := newFixture(t)
	ctx := context.Background()
	_, s1, s2 := f.twoTransfers(t)
	first := f.build(t, s1.ID, s2.ID)
	ids := endToEndIDs(t, f, s1.ID, s2.ID)

	cancelled, err := f.svc.CancelTransferOrder(ctx, controller, first.ID)
	require.NoError(t, err)
	assert.Equal(t, gestion.OrderCancelled, cancelled.Status)
	released, err := f.svc.GetSettlement(ctx, s1.ID)
	require.NoError(t, err)
	assert.Empty(t, released.TransferOrderID)
	assert.Equal(t, ids[0], released.EndToEndID)

	second := f.build(t, s1.ID, s2.ID)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, ids, endToEndIDs(t, f, s1.ID, s2.ID))

	_, err = f.svc.RenderTransferFile(ctx, controller, first.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestRenderTransferFile_ByteIdentical(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, s1, s2 := f.twoTransfers(t)
	order := f.build(t, s1.ID, s2.ID)

	a, err := f.svc.RenderTransferFile(ctx, controller, order.ID)
	require.NoError(t, err)
	b, err := f.svc.RenderTransferFile(ctx, controller, order.ID)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(a, b))
	stored, err := f.svc.GetTransferOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, a, stored.File)
	assert.Contains(t, string(a), "<CtrlSum>10000.00</CtrlSum>")
	for _, id := range endToEndIDs(t, f, s1.ID, s2.ID) {
		assert.Contains(t, string(a), "<EndToEndId>"+id+"</EndToEndId>")
	}
}

// =============================================================================
// TRANSMIT, RECONCILE, EXPORT
// =============================================================================

func TestMarkTransmitted_SettlesAtExecutionDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, s1, s2 := f.twoTransfers(t)
	order := f.build(t, s1.ID, s2.ID)

	transmitted, err := f.svc.MarkTransmitted(ctx, controller, order.ID)
	require.NoError(t, err)
	assert.Equal(t, gestion.OrderTransmitted, transmitted.Status)

	st, err := f.svc.GetSettlement(ctx, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, gestion.SettlementSettled, st.Status)
	require.NotNil(t, st.SettledAt)
	assert.True(t, st.SettledAt.Equal(generic.Day(executionDay)))

	_, err = f.svc.CancelTransferOrder(ctx, controller, order.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	reconciled, err := f.svc.ReconcileTransferOrder(ctx, controller, order.ID)
	require.NoError(t, err)
	assert.Equal(t, gestion.OrderReconciled, reconciled.Status)
	st, err = f.svc.GetSettlement(ctx, s2.ID)
	require.NoError(t, err)
	assert.Equal(t, gestion.SettlementReconciled, st.Status)
}

func TestExportAccounting_Idempotent(t *testing.T) {
	// GIVEN: A transmitted order of two settlements
	// WHEN: Exporting the account twice
	// THEN: The same rows both times; the first export reconciles them
	f := newFixture(t)
	ctx := context.Background()
	e, s1, s2 := f.twoTransfers(t)
	f.attachInvoice(t, e.ID)
	order := f.build(t, s1.ID, s2.ID)
	_, err := f.svc.MarkTransmitted(ctx, controller, order.ID)
	require.NoError(t, err)

	first, err := f.svc.ExportAccounting(ctx, controller, f.account.ID, generic.DateRange{})
	require.NoError(t, err)
	require.Len(t, first, 2)

	st, err := f.svc.GetSettlement(ctx, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, gestion.SettlementReconciled, st.Status)

	second, err := f.svc.ExportAccounting(ctx, controller, f.account.ID, generic.DateRange{})
	require.NoError(t, err)
	require.Len(t, second, 2)
	for i := range first {
		assert.Equal(t, first[i].Record(), second[i].Record())
	}

	row := first[0]
	assert.Equal(t, gestion.JournalCode, row.JournalCode)
	assert.Equal(t, "625600", row.AccountNumber)
	assert.Equal(t, "Hebergement", row.AccountLabel)
	assert.Equal(t, e.Reference, row.PieceRef)
	assert.Equal(t, "VIR", row.ModeCode)
	assert.Equal(t, order.ID, row.Letter)
	assert.Equal(t, "OPS", row.Free1)
	assert.True(t, generic.ValidEndToEndID(row.Free3))
	assert.Equal(t, "0.00", row.Credit.String())
}

func TestExportAccounting_DateRangeAndCSV(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, s1, s2 := f.twoTransfers(t)
	order := f.build(t, s1.ID, s2.ID)
	_, err := f.svc.MarkTransmitted(ctx, controller, order.ID)
	require.NoError(t, err)

	before := fixedNow.AddDate(0, 0, -10)
	yesterday := fixedNow.AddDate(0, 0, -1)
	none, err := f.svc.ExportAccounting(ctx, controller, f.account.ID, generic.DateRange{From: &before, To: &yesterday})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.svc.ExportAccounting(ctx, controller, f.account.ID, generic.DateRange{From: &yesterday, To: &before})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	rows, err := f.svc.ExportAccounting(ctx, controller, f.account.ID, generic.DateRange{From: &fixedNow})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, gestion.WriteCSV(&buf, rows))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(gestion.ExportColumns, ";"), lines[0])
	assert.Contains(t, lines[1], "2026-03-03")
}

func TestExportUnreconciled_HandsOverEachRowOnce(t *testing.T) {
	// GIVEN: Two card settlements paid on different past days
	// WHEN: Exporting unreconciled rows up to a cutoff, then a later one
	// THEN: Each row comes out once, in the first run whose cutoff covers it
	f := newFixture(t)
	ctx := context.Background()
	e := f.expense(t, manager, "AFM-B", "80.00")
	recent := f.settle(t, e.ID, gestion.ModeCard, "30.00")
	old := f.settle(t, e.ID, gestion.ModeCard, "20.00")
	_, err := f.svc.MarkSettled(ctx, controller, recent.ID, fixedNow.AddDate(0, 0, -1))
	require.NoError(t, err)
	_, err = f.svc.MarkSettled(ctx, controller, old.ID, fixedNow.AddDate(0, 0, -10))
	require.NoError(t, err)

	rows, err := f.svc.ExportUnreconciled(ctx, controller, f.account.ID, fixedNow.AddDate(0, 0, -2))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, old.Reference, rows[0].EntryNumber)

	rows, err = f.svc.ExportUnreconciled(ctx, controller, f.account.ID, fixedNow.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, recent.Reference, rows[0].EntryNumber)

	rows, err = f.svc.ExportUnreconciled(ctx, controller, f.account.ID, fixedNow)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = f.svc.ExportUnreconciled(ctx, creator, f.account.ID, fixedNow)
	assert.ErrorIs(t, err, generic.ErrCapabilityMissing)
}
