package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/me/cyflow/internal/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow.yaml>",
		Short: "Check a workflow file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := config.LoadWorkflow(args[0])
			if err != nil {
				return fmt.Errorf("invalid workflow: %w", err)
			}

			names := make([]string, 0, len(wf.Defs))
			for name := range wf.Defs {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Printf("Workflow %s is valid\n", wf.Name)
			fmt.Printf("  Cycling:       %s\n", wf.Kind)
			fmt.Printf("  Initial cycle: %s\n", wf.InitialCycle)
			if wf.FinalCycle != nil {
				fmt.Printf("  Final cycle:   %s\n", wf.FinalCycle)
			} else {
				fmt.Printf("  Final cycle:   none\n")
			}
			fmt.Printf("  Tasks:         %d\n", len(names))
			for _, name := range names {
				fmt.Printf("    %s\n", name)
			}
			if len(wf.Xtriggers) > 0 {
				fmt.Printf("  Xtriggers:     %d\n", len(wf.Xtriggers))
			}
			return nil
		},
	}
}
