package api_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-engine/api"
	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/generic"
	memstore "github.com/warp/finance-engine/generic/store"
	"github.com/warp/finance-engine/gestion"
	"github.com/warp/finance-engine/store/sqlite"
)

var schedulerNow = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

// settledYesterday files an engaged card expense on a fresh account and
// marks its settlement paid the day before schedulerNow.
func settledYesterday(t *testing.T) (*donations.Ledger, *gestion.Service, donations.Account) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	grants := memstore.NewGrants(generic.Grant{
		PrincipalID: generic.SystemPrincipal.ID,
		Capability:  generic.CapControlExpense,
	})
	ledger := donations.NewLedger(store, nil)
	svc := gestion.NewService(store, grants, ledger, nil)
	svc.Now = func() time.Time { return schedulerNow }

	acc, err := ledger.CreateAccount(ctx, donations.Account{Designation: "OPS", Name: "Fonctionnement"})
	require.NoError(t, err)
	scope := generic.AccountScope(acc.ID)
	grants.Add(generic.Grant{PrincipalID: treasurer.ID, Capability: generic.CapEngageExpense, Scope: scope})
	grants.Add(generic.Grant{PrincipalID: treasurer.ID, Capability: generic.CapManageExpense, Scope: scope})
	grants.Add(generic.Grant{PrincipalID: treasurer.ID, Capability: generic.CapControlExpense, Scope: scope})

	e, err := svc.CreateExpense(ctx, treasurer, gestion.ExpenseInput{
		AccountID: acc.ID, Type: "COM", Label: "affiches", Amount: generic.MustMoney("25.00"),
	})
	require.NoError(t, err)
	st, err := svc.AddSettlement(ctx, treasurer, e.ID, gestion.SettlementInput{
		Mode: gestion.ModeCard, Amount: generic.MustMoney("25.00"),
	})
	require.NoError(t, err)
	_, err = svc.MarkSettled(ctx, treasurer, st.ID, schedulerNow.AddDate(0, 0, -1))
	require.NoError(t, err)

	return ledger, svc, acc
}

func TestExportScheduler_WritesPreviousDay(t *testing.T) {
	// GIVEN: A settlement paid yesterday
	// WHEN: The scheduler runs twice
	// THEN: One CSV per account is written once, then skipped
	ledger, svc, _ := settledYesterday(t)
	dir := t.TempDir()
	es := api.NewExportScheduler(ledger, svc, dir, nil)
	es.Now = func() time.Time { return schedulerNow }

	written := es.RunNow(context.Background())

	want := filepath.Join(dir, "OPS-2026-03-01.csv")
	require.Equal(t, []string{want}, written)
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(gestion.ExportColumns, ";"), lines[0])

	assert.Empty(t, es.RunNow(context.Background()))
}

func TestExportScheduler_NothingToExport(t *testing.T) {
	// GIVEN: Yesterday's settlement already handed over
	// WHEN: The scheduler runs on a later day
	// THEN: No file is written for that day
	ledger, svc, _ := settledYesterday(t)
	dir := t.TempDir()
	es := api.NewExportScheduler(ledger, svc, dir, nil)
	es.Now = func() time.Time { return schedulerNow }
	require.Len(t, es.RunNow(context.Background()), 1)

	es.Now = func() time.Time { return schedulerNow.AddDate(0, 0, 5) }
	assert.Empty(t, es.RunNow(context.Background()))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExportScheduler_PicksUpBackdatedSettlement(t *testing.T) {
	// GIVEN: Yesterday already exported, then a settlement marked paid
	//        with a date before that export
	// WHEN: The scheduler runs the next day
	// THEN: The backdated settlement is exported in the new day's file
	ledger, svc, acc := settledYesterday(t)
	ctx := context.Background()
	dir := t.TempDir()
	es := api.NewExportScheduler(ledger, svc, dir, nil)
	es.Now = func() time.Time { return schedulerNow }
	require.Len(t, es.RunNow(ctx), 1)

	e, err := svc.CreateExpense(ctx, treasurer, gestion.ExpenseInput{
		AccountID: acc.ID, Type: "COM", Label: "tracts", Amount: generic.MustMoney("10.00"),
	})
	require.NoError(t, err)
	st, err := svc.AddSettlement(ctx, treasurer, e.ID, gestion.SettlementInput{
		Mode: gestion.ModeCard, Amount: generic.MustMoney("10.00"),
	})
	require.NoError(t, err)
	_, err = svc.MarkSettled(ctx, treasurer, st.ID, time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	es.Now = func() time.Time { return schedulerNow.AddDate(0, 0, 1) }
	written := es.RunNow(ctx)

	want := filepath.Join(dir, "OPS-2026-03-02.csv")
	require.Equal(t, []string{want}, written)
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], st.Reference)
	assert.Contains(t, lines[1], "2026-02-20")
}

func TestExportScheduler_StartStop(t *testing.T) {
	ledger, svc, _ := settledYesterday(t)
	es := api.NewExportScheduler(ledger, svc, t.TempDir(), nil)
	es.CheckInterval = time.Hour

	es.Start()
	es.Stop()
	es.Stop()

	disabled := api.NewExportScheduler(ledger, svc, t.TempDir(), nil)
	disabled.Enabled = false
	disabled.Start()
	disabled.Stop()
}
