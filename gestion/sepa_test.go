package gestion_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/gestion"
	"github.com/warp/finance-engine/generic"
)

func sepaFixture() (gestion.TransferOrder, donations.Account, []gestion.Settlement) {
	order := gestion.TransferOrder{
		ID:            "order-1",
		Reference:     "OV-01HV6Z8K2M",
		AccountID:     "acc-1",
		ExecutionDate: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		Status:        gestion.OrderIssued,
		CreatedAt:     time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
	}
	account := donations.Account{
		ID: "acc-1", Designation: "OPS", Name: "Operations",
		IBAN: accountIBAN, BIC: "AGRIFRPP", HolderName: "Association Élan",
	}
	creditor := gestion.Supplier{Name: "Librairie du Centre", IBAN: supplierIBAN, BIC: "WESTGB2L"}
	settlements := []gestion.Settlement{
		{ID: "s-2", Reference: "REG-2", Mode: gestion.ModeTransfer, Amount: generic.MustMoney("70.00"),
			Creditor: creditor, EndToEndID: "E2E01HV6Z8K2MB", TransferOrderID: "order-1"},
		{ID: "s-1", Reference: "REG-1", Mode: gestion.ModeTransfer, Amount: generic.MustMoney("30.00"),
			Creditor: gestion.Supplier{Name: "Hôtel de la Gare", IBAN: otherIBAN}, EndToEndID: "E2E01HV6Z8K2MA", TransferOrderID: "order-1"},
	}
	return order, account, settlements
}

func TestGenerateTransferFile_Content(t *testing.T) {
	order, account, settlements := sepaFixture()

	file, err := gestion.GenerateTransferFile(order, account, settlements)

	require.NoError(t, err)
	xml := string(file)
	assert.True(t, strings.HasPrefix(xml, `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.Contains(t, xml, "urn:iso:std:iso:20022:tech:xsd:pain.001.001.03")
	assert.Contains(t, xml, "<MsgId>OV-01HV6Z8K2M</MsgId>")
	assert.Contains(t, xml, "<CreDtTm>2026-03-02T09:30:00</CreDtTm>")
	assert.Contains(t, xml, "<NbOfTxs>2</NbOfTxs>")
	assert.Contains(t, xml, "<CtrlSum>100.00</CtrlSum>")
	assert.Contains(t, xml, "<ReqdExctnDt>2026-03-03</ReqdExctnDt>")
	assert.Contains(t, xml, `<InstdAmt Ccy="EUR">30.00</InstdAmt>`)
	assert.Contains(t, xml, "<IBAN>"+supplierIBAN+"</IBAN>")
	assert.Contains(t, xml, "<BIC>AGRIFRPP</BIC>")
	assert.NotContains(t, xml, "Élan")

	// Transactions are ordered by end-to-end id.
	first := strings.Index(xml, "E2E01HV6Z8K2MA")
	second := strings.Index(xml, "E2E01HV6Z8K2MB")
	assert.True(t, first > 0 && first < second)
}

func TestGenerateTransferFile_Deterministic(t *testing.T) {
	// GIVEN: The same order rendered twice, settlements in a different order
	// WHEN: Generating both files
	// THEN: The bytes are identical
	order, account, settlements := sepaFixture()
	reversed := []gestion.Settlement{settlements[1], settlements[0]}

	a, err := gestion.GenerateTransferFile(order, account, settlements)
	require.NoError(t, err)
	b, err := gestion.GenerateTransferFile(order, account, reversed)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestGenerateTransferFile_MissingBankData(t *testing.T) {
	// GIVEN: An account without BIC and a creditor without IBAN
	// WHEN: Generating the file
	// THEN: A FileGenerationError lists both, and no file is produced
	order, account, settlements := sepaFixture()
	account.BIC = ""
	settlements[1].Creditor.IBAN = ""

	file, err := gestion.GenerateTransferFile(order, account, settlements)

	assert.Nil(t, file)
	assert.ErrorIs(t, err, generic.ErrFileGeneration)
	var fge *generic.FileGenerationError
	require.ErrorAs(t, err, &fge)
	assert.Equal(t, []string{"account OPS: BIC", "settlement REG-1: creditor IBAN"}, fge.Missing)
}

func TestGenerateTransferFile_InvalidIBANAndNoSettlements(t *testing.T) {
	order, account, settlements := sepaFixture()
	account.IBAN = "FR7630006000011234567890180"

	_, err := gestion.GenerateTransferFile(order, account, settlements)
	var fge *generic.FileGenerationError
	require.ErrorAs(t, err, &fge)
	assert.Equal(t, []string{"account OPS: valid IBAN"}, fge.Missing)

	_, err = gestion.GenerateTransferFile(order, account, nil)
	assert.ErrorIs(t, err, generic.ErrFileGeneration)
}
