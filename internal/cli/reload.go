package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Recompile and swap in the running workflow's definition file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Post("/api/v1/reload", nil)
			if err != nil {
				return fmt.Errorf("reload: %w", err)
			}
			var data struct {
				Applied bool `json:"applied"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			if !data.Applied {
				fmt.Println("reload queued; the scheduler will apply it on its next tick")
				return nil
			}
			fmt.Println("workflow definition reloaded")
			return nil
		},
	}
}
