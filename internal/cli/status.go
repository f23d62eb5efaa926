package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/me/cyflow/internal/scheduler"
	"github.com/me/cyflow/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the scheduler status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/status")
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}
			var st scheduler.Status
			if err := json.Unmarshal(resp.Data, &st); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("Workflow: %s\n", st.Workflow)
			fmt.Printf("  State:      %s\n", describe(&st))
			fmt.Printf("  Pooled:     %d\n", len(st.Tasks))
			if len(st.Incomplete) > 0 {
				fmt.Printf("  Incomplete: %v\n", st.Incomplete)
			}
			return nil
		},
	}
}

func describe(st *scheduler.Status) string {
	switch {
	case st.Done:
		return "done"
	case st.Stopping:
		return "stopping"
	case st.Stalled:
		return "stalled"
	default:
		return "running"
	}
}

func newTasksCmd() *cobra.Command {
	var flagState, flagName string

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List pooled task instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/tasks"
			sep := "?"
			if flagState != "" {
				path += sep + "state=" + flagState
				sep = "&"
			}
			if flagName != "" {
				path += sep + "name=" + flagName
			}

			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			var data struct {
				Count int                    `json:"count"`
				Tasks []scheduler.TaskStatus `json:"tasks"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATE\tHELD\tSUBMITS")
			for _, ts := range data.Tasks {
				held := ""
				if ts.Held {
					held = "held"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", ts.ID, ts.State, held, ts.SubmitNum)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&flagState, "state", "", "Filter by state")
	cmd.Flags().StringVar(&flagName, "name", "", "Filter by task name")
	return cmd
}

func newCheckpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints",
		Short: "List saved checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/checkpoints")
			if err != nil {
				return fmt.Errorf("list checkpoints: %w", err)
			}
			var infos []store.CheckpointInfo
			if err := json.Unmarshal(resp.Data, &infos); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tEVENT\tTASKS")
			for _, ci := range infos {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", ci.ID, ci.Time.Format("2006-01-02 15:04:05"), ci.Event, ci.Tasks)
			}
			return w.Flush()
		},
	}
}
