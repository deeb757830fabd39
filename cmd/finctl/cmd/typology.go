package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/warp/finance-engine/factory"
)

// typologyCmd represents the typology command.
var typologyCmd = &cobra.Command{
	Use:   "typology FILE",
	Short: "Check a typology file and list its expense types",
	Long: `Parse and build a typology file without touching the database.
Prints each type with its bookkeeping account, then the ceilings.

Example:
  finctl typology typology.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runTypology,
}

func runTypology(cmd *cobra.Command, args []string) error {
	f := factory.NewTypologyFactory()
	cfg, err := f.ParseFile(args[0])
	if err != nil {
		return err
	}
	typology, err := f.Typology(cfg)
	if err != nil {
		return err
	}
	ceilings, err := f.Ceilings(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, t := range typology.Types() {
		fmt.Fprintf(out, "%-12s %-8s %s\n", t.Code, typology.AccountNumber(t.Code), t.Label)
	}

	designations := make([]string, 0, len(ceilings))
	for d := range ceilings {
		designations = append(designations, d)
	}
	sort.Strings(designations)
	for _, d := range designations {
		parts := make([]string, 0, len(ceilings[d]))
		for prefix, amount := range ceilings[d] {
			parts = append(parts, prefix+"="+amount.String())
		}
		sort.Strings(parts)
		fmt.Fprintf(out, "ceilings %s: %s\n", d, strings.Join(parts, " "))
	}
	fmt.Fprintf(out, "rules available: %s\n", strings.Join(f.Rules(), ", "))
	return nil
}
