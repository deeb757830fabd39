package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/finance-engine/api"
	"github.com/warp/finance-engine/config"
	"github.com/warp/finance-engine/generic"
)

var (
	tokenSubject string
	tokenName    string
	tokenCaps    []string
	tokenTTL     time.Duration
)

// tokenCmd represents the token command.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token signed with FINANCE_JWT_SECRET",
	Long: `Issue a bearer token for local testing. Production tokens come
from the identity service. A capability is global unless suffixed with
@<account id>.

Example:
  finctl token --sub u-42 --name Camille --cap control_expense --cap engage_expense@01J...`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "sub", "", "principal id (required)")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name")
	tokenCmd.Flags().StringArrayVar(&tokenCaps, "cap", nil, "capability, repeatable")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
	tokenCmd.MarkFlagRequired("sub")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate("auth.jwtSecret"); err != nil {
		return err
	}
	if tokenSubject == generic.SystemPrincipal.ID {
		return errors.New("the system subject is reserved")
	}
	if _, err := api.ParseCapabilities(tokenSubject, tokenCaps); err != nil {
		return err
	}
	tok, err := api.IssueToken([]byte(cfg.Auth.JWTSecret),
		generic.Principal{ID: tokenSubject, Name: tokenName}, tokenCaps, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
