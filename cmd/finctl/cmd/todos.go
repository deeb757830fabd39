package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/finance-engine/gestion"
)

var todosExpenseID string

// todosCmd represents the todos command.
var todosCmd = &cobra.Command{
	Use:   "todos",
	Short: "Print what is missing before an expense can be completed",
	Long: `Print the outstanding items of an expense grouped by topic, then
whether the dossier is ready for completion.

Example:
  finctl todos --expense 01J...`,
	RunE: runTodos,
}

func init() {
	todosCmd.Flags().StringVar(&todosExpenseID, "expense", "", "expense id (required)")
	todosCmd.MarkFlagRequired("expense")
}

func runTodos(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	e, err := s.svc.GetExpense(ctx, todosExpenseID)
	if err != nil {
		return err
	}
	todos, err := s.svc.Todos(ctx, e.ID)
	if err != nil {
		return err
	}
	done, err := s.svc.NoTodos(ctx, e.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  %s  %s  %s\n", e.Reference, e.Type, e.Amount, e.State)
	printTodos(cmd, todos)
	if done {
		fmt.Fprintln(out, "ready for completion")
	} else {
		fmt.Fprintf(out, "%d item(s) outstanding\n", gestion.CountTodos(todos))
	}
	return nil
}

func printTodos(cmd *cobra.Command, todos []gestion.Todo) {
	out := cmd.OutOrStdout()
	for _, t := range todos {
		fmt.Fprintf(out, "\n[%s]\n", t.Topic)
		for _, i := range t.Items {
			fmt.Fprintf(out, "  - (%s) %s\n", i.Severity, i.Message)
		}
	}
	if len(todos) > 0 {
		fmt.Fprintln(out)
	}
}
