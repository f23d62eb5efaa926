package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// controlRequest matches the control API command body.
type controlRequest struct {
	Name   string            `json:"name"`
	Point  string            `json:"point,omitempty"`
	Script string            `json:"script,omitempty"`
	Env    map[string]string `json:"env,omitempty"`
}

// postCommand sends one task command and prints the outcome.
func postCommand(path, verb string, req controlRequest) error {
	resp, err := client.Post(path, req)
	if err != nil {
		return fmt.Errorf("%s: %w", verb, err)
	}
	var data struct {
		Applied bool `json:"applied"`
		Count   int  `json:"count"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if !data.Applied {
		fmt.Printf("%s queued; the scheduler will apply it on its next tick\n", verb)
		return nil
	}
	fmt.Printf("%s applied to %d task(s)\n", verb, data.Count)
	return nil
}

func taskCommand(use, short, path, verb string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := controlRequest{Name: args[0], Point: "*"}
			if len(args) == 2 {
				req.Point = args[1]
			}
			return postCommand(path, verb, req)
		},
	}
}

func newHoldCmd() *cobra.Command {
	return taskCommand("hold <name> [point]", "Hold matching task instances",
		"/api/v1/tasks/hold", "hold")
}

func newReleaseCmd() *cobra.Command {
	return taskCommand("release <name> [point]", "Release held task instances",
		"/api/v1/tasks/release", "release")
}

func newTriggerCmd() *cobra.Command {
	return taskCommand("trigger <name> [point]", "Force waiting task instances to run",
		"/api/v1/tasks/trigger", "trigger")
}
