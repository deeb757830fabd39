// Package cmd provides CLI commands for finctl.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/finance-engine/config"
	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/factory"
	"github.com/warp/finance-engine/generic"
	memstore "github.com/warp/finance-engine/generic/store"
	"github.com/warp/finance-engine/gestion"
	"github.com/warp/finance-engine/obs"
	"github.com/warp/finance-engine/store"
	"github.com/warp/finance-engine/store/sqldb"
)

var (
	cfgFile string
	debug   bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "finctl",
	Short: "Operate the association finance engine from the shell",
	Long: `finctl works directly on the finance engine database, as the
system principal, for the treasurer's batch chores.

It supports:
- Exporting an account's bookkeeping rows as CSV
- Downloading the XML file of a transfer order
- Printing the todo list of an expense
- Checking a typology file before deploying it
- Issuing bearer tokens for local testing

Example:
  finctl export --account OPS --from 2026-01-01 --to 2026-01-31
  finctl transfer-file --order <id> --out order.xml
  finctl token --sub u-42 --name Camille --cap control_expense`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Setup logging
		level := "info"
		if debug {
			level = "debug"
		}
		slog.SetDefault(obs.NewLogger(os.Stderr, level, false))
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	// Add subcommands
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(transferFileCmd)
	rootCmd.AddCommand(todosCmd)
	rootCmd.AddCommand(typologyCmd)
	rootCmd.AddCommand(tokenCmd)
}

// services is what database-backed commands work on.
type services struct {
	db          *sqldb.Store
	ledger      *donations.Ledger
	svc         *gestion.Service
	fiscalStart time.Month
}

func (s *services) Close() error { return s.db.Close() }

// openServices loads the configuration and opens the store. The CLI acts
// as the system principal with every capability, globally.
func openServices(ctx context.Context) (*services, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate("db.dsn"); err != nil {
		return nil, err
	}

	slog.Debug("Opening database", "driver", cfg.DB.Driver)
	db, err := store.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	grants := memstore.NewGrants()
	for _, c := range generic.AllCapabilities {
		grants.Add(generic.Grant{PrincipalID: generic.SystemPrincipal.ID, Capability: c, Scope: generic.GlobalScope})
	}
	ledger := donations.NewLedger(db, slog.Default())
	svc := gestion.NewService(db, grants, ledger, slog.Default())
	svc.DocumentBaseURL = cfg.DocumentBaseURL
	if err := factory.NewTypologyFactory().Configure(ctx, cfg.TypologyFile, svc, ledger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load typology: %w", err)
	}
	return &services{db: db, ledger: ledger, svc: svc, fiscalStart: cfg.Export.FiscalYearStart}, nil
}

// accountByDesignation resolves the --account flag.
func (s *services) accountByDesignation(ctx context.Context, designation string) (donations.Account, error) {
	accounts, err := s.ledger.ListAccounts(ctx)
	if err != nil {
		return donations.Account{}, err
	}
	for _, a := range accounts {
		if a.Designation == designation || a.ID == designation {
			return a, nil
		}
	}
	return donations.Account{}, fmt.Errorf("account %q: %w", designation, generic.ErrNotFound)
}

// writeOutput writes data to path, or to the command's stdout when path is
// empty or "-".
func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	slog.Info("Wrote file", "path", path, "bytes", len(data))
	return nil
}
