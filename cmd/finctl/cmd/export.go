package cmd

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/warp/finance-engine/generic"
	"github.com/warp/finance-engine/gestion"
)

var (
	exportAccount string
	exportFrom    string
	exportTo      string
	exportPeriod  string
	exportOut     string
)

// exportCmd represents the export command.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export an account's bookkeeping rows as CSV",
	Long: `Export the settled settlements of one account as semicolon
separated bookkeeping rows. Exported settlements are marked reconciled;
running the export again yields the same rows.

Example:
  finctl export --account OPS --from 2026-01-01 --to 2026-01-31 --out jan.csv
  finctl export --account OPS --period FY2025`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportAccount, "account", "", "account designation or id (required)")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "first settlement day, YYYY-MM-DD")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "last settlement day, YYYY-MM-DD")
	exportCmd.Flags().StringVar(&exportPeriod, "period", "", "day, month (2026-03), year (2026) or fiscal year (FY2025); replaces --from/--to")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
	exportCmd.MarkFlagRequired("account")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if exportPeriod != "" && (exportFrom != "" || exportTo != "") {
		return fmt.Errorf("%w: --period excludes --from and --to", generic.ErrInvalidInput)
	}
	var rng generic.DateRange
	if exportFrom != "" {
		d, err := generic.ParseDay(exportFrom)
		if err != nil {
			return err
		}
		rng.From = &d
	}
	if exportTo != "" {
		d, err := generic.ParseDay(exportTo)
		if err != nil {
			return err
		}
		rng.To = &d
	}

	s, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if exportPeriod != "" {
		p, err := generic.ParsePeriod(exportPeriod, s.fiscalStart)
		if err != nil {
			return err
		}
		rng = p.Range()
	}

	account, err := s.accountByDesignation(ctx, exportAccount)
	if err != nil {
		return err
	}
	rows, err := s.svc.ExportAccounting(ctx, generic.SystemPrincipal, account.ID, rng)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := gestion.WriteCSV(&buf, rows); err != nil {
		return err
	}
	slog.Info("Exported rows", "account", account.Designation, "rows", len(rows))
	return writeOutput(cmd, exportOut, buf.Bytes())
}
