package cmd

import (
	"github.com/spf13/cobra"

	"github.com/warp/finance-engine/generic"
)

var (
	transferOrderID string
	transferOut     string
)

// transferFileCmd represents the transfer-file command.
var transferFileCmd = &cobra.Command{
	Use:   "transfer-file",
	Short: "Write the pain.001 XML of a transfer order",
	Long: `Render the SEPA credit transfer file of a transfer order. The
file is generated once and stored; later calls return the same bytes.

Example:
  finctl transfer-file --order 01J... --out order.xml`,
	RunE: runTransferFile,
}

func init() {
	transferFileCmd.Flags().StringVar(&transferOrderID, "order", "", "transfer order id (required)")
	transferFileCmd.Flags().StringVarP(&transferOut, "out", "o", "", "output file (default stdout)")
	transferFileCmd.MarkFlagRequired("order")
}

func runTransferFile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	file, err := s.svc.RenderTransferFile(ctx, generic.SystemPrincipal, transferOrderID)
	if err != nil {
		return err
	}
	return writeOutput(cmd, transferOut, file)
}
