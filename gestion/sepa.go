package gestion

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/generic"
)

// =============================================================================
// SEPA CREDIT TRANSFER FILE (pain.001.001.03)
// =============================================================================

const (
	painNamespace = "urn:iso:std:iso:20022:tech:xsd:pain.001.001.03"
	xsiNamespace  = "http://www.w3.org/2001/XMLSchema-instance"
	currency      = "EUR"
	creDtTmLayout = "2006-01-02T15:04:05"
)

type painDocument struct {
	XMLName  xml.Name         `xml:"Document"`
	Xmlns    string           `xml:"xmlns,attr"`
	XmlnsXsi string           `xml:"xmlns:xsi,attr"`
	Initn    painCstmrCdtTrfs `xml:"CstmrCdtTrfInitn"`
}

type painCstmrCdtTrfs struct {
	GrpHdr painGroupHeader `xml:"GrpHdr"`
	PmtInf painPmtInf      `xml:"PmtInf"`
}

type painGroupHeader struct {
	MsgID    string    `xml:"MsgId"`
	CreDtTm  string    `xml:"CreDtTm"`
	NbOfTxs  int       `xml:"NbOfTxs"`
	CtrlSum  string    `xml:"CtrlSum"`
	InitgPty painParty `xml:"InitgPty"`
}

type painParty struct {
	Nm string `xml:"Nm"`
}

type painAccount struct {
	IBAN string `xml:"Id>IBAN"`
}

type painAgent struct {
	BIC string `xml:"FinInstnId>BIC"`
}

type painPmtInf struct {
	PmtInfID    string         `xml:"PmtInfId"`
	PmtMtd      string         `xml:"PmtMtd"`
	NbOfTxs     int            `xml:"NbOfTxs"`
	CtrlSum     string         `xml:"CtrlSum"`
	SvcLvl      string         `xml:"PmtTpInf>SvcLvl>Cd"`
	ReqdExctnDt string         `xml:"ReqdExctnDt"`
	Dbtr        painParty      `xml:"Dbtr"`
	DbtrAcct    painAccount    `xml:"DbtrAcct"`
	DbtrAgt     painAgent      `xml:"DbtrAgt"`
	ChrgBr      string         `xml:"ChrgBr"`
	Txs         []painCdtTrfTx `xml:"CdtTrfTxInf"`
}

type painAmount struct {
	Ccy   string `xml:"Ccy,attr"`
	Value string `xml:",chardata"`
}

type painCdtTrfTx struct {
	EndToEndID string      `xml:"PmtId>EndToEndId"`
	InstdAmt   painAmount  `xml:"Amt>InstdAmt"`
	CdtrAgt    *painAgent  `xml:"CdtrAgt,omitempty"`
	Cdtr       painParty   `xml:"Cdtr"`
	CdtrAcct   painAccount `xml:"CdtrAcct"`
	Ustrd      string      `xml:"RmtInf>Ustrd"`
}

// holderName is the emitter name printed on the file.
func holderName(a donations.Account) string {
	if a.HolderName != "" {
		return a.HolderName
	}
	return a.Name
}

// missingBankData lists every piece of banking data the file would need and
// does not have.
func missingBankData(a donations.Account, settlements []Settlement) []string {
	var missing []string
	acct := "account " + a.Designation
	if a.IBAN == "" {
		missing = append(missing, acct+": IBAN")
	} else if !generic.ValidIBAN(a.IBAN) {
		missing = append(missing, acct+": valid IBAN")
	}
	if a.BIC == "" {
		missing = append(missing, acct+": BIC")
	}
	if holderName(a) == "" {
		missing = append(missing, acct+": holder name")
	}
	for _, s := range settlements {
		ref := "settlement " + s.Reference
		if s.Creditor.Name == "" {
			missing = append(missing, ref+": creditor name")
		}
		if s.Creditor.IBAN == "" {
			missing = append(missing, ref+": creditor IBAN")
		} else if !generic.ValidIBAN(s.Creditor.IBAN) {
			missing = append(missing, ref+": valid creditor IBAN")
		}
		if s.EndToEndID == "" {
			missing = append(missing, ref+": end-to-end identifier")
		}
	}
	return missing
}

// GenerateTransferFile renders the SEPA credit transfer file of an order.
// The output depends only on its arguments, so calling it again yields the
// same bytes. Missing banking data yields a *generic.FileGenerationError
// listing all of it; no partial file is produced.
func GenerateTransferFile(order TransferOrder, account donations.Account, settlements []Settlement) ([]byte, error) {
	if len(settlements) == 0 {
		return nil, &generic.FileGenerationError{Missing: []string{"order " + order.Reference + ": settlements"}}
	}
	if missing := missingBankData(account, settlements); len(missing) > 0 {
		return nil, &generic.FileGenerationError{Missing: missing}
	}

	sorted := append([]Settlement(nil), settlements...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].EndToEndID != sorted[j].EndToEndID {
			return sorted[i].EndToEndID < sorted[j].EndToEndID
		}
		return sorted[i].ID < sorted[j].ID
	})

	total := generic.Zero
	txs := make([]painCdtTrfTx, 0, len(sorted))
	for _, s := range sorted {
		total = total.Add(s.Amount)
		tx := painCdtTrfTx{
			EndToEndID: s.EndToEndID,
			InstdAmt:   painAmount{Ccy: currency, Value: s.Amount.String()},
			Cdtr:       painParty{Nm: generic.SEPAText(s.Creditor.Name, 70)},
			CdtrAcct:   painAccount{IBAN: generic.NormalizeIBAN(s.Creditor.IBAN)},
			Ustrd:      generic.SEPAText(s.Reference+" "+order.Reference, 140),
		}
		if s.Creditor.BIC != "" {
			tx.CdtrAgt = &painAgent{BIC: s.Creditor.BIC}
		}
		txs = append(txs, tx)
	}

	name := generic.SEPAText(holderName(account), 70)
	doc := painDocument{
		Xmlns:    painNamespace,
		XmlnsXsi: xsiNamespace,
		Initn: painCstmrCdtTrfs{
			GrpHdr: painGroupHeader{
				MsgID:    order.Reference,
				CreDtTm:  order.CreatedAt.UTC().Format(creDtTmLayout),
				NbOfTxs:  len(txs),
				CtrlSum:  total.String(),
				InitgPty: painParty{Nm: name},
			},
			PmtInf: painPmtInf{
				PmtInfID:    order.Reference,
				PmtMtd:      "TRF",
				NbOfTxs:     len(txs),
				CtrlSum:     total.String(),
				SvcLvl:      "SEPA",
				ReqdExctnDt: generic.Day(order.ExecutionDate).Format(generic.DateLayout),
				Dbtr:        painParty{Nm: name},
				DbtrAcct:    painAccount{IBAN: generic.NormalizeIBAN(account.IBAN)},
				DbtrAgt:     painAgent{BIC: account.BIC},
				ChrgBr:      "SLEV",
				Txs:         txs,
			},
		},
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode transfer file: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
