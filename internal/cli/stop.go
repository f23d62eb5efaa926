package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	var flagTask, flagPoint string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the scheduler, now or after a designated task finishes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if flagTask != "" {
				if flagPoint == "" {
					return fmt.Errorf("--after-task needs --point")
				}
				body = controlRequest{Name: flagTask, Point: flagPoint}
			}
			if _, err := client.Post("/api/v1/stop", body); err != nil {
				return fmt.Errorf("stop: %w", err)
			}
			if flagTask != "" {
				fmt.Printf("scheduler will stop after %s.%s finishes\n", flagTask, flagPoint)
			} else {
				fmt.Println("scheduler stopping")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagTask, "after-task", "", "Run on until this task finishes")
	cmd.Flags().StringVar(&flagPoint, "point", "", "Cycle point of the stop task")
	return cmd
}
