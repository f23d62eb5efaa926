package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newBroadcastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Override task scripts and environments at runtime",
	}
	cmd.AddCommand(newBroadcastSetCmd(), newBroadcastCancelCmd(), newBroadcastClearCmd())
	return cmd
}

func newBroadcastSetCmd() *cobra.Command {
	var (
		flagPoint  string
		flagScript string
		flagEnv    []string
	)

	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Set a script or environment override for matching tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := make(map[string]string, len(flagEnv))
			for _, kv := range flagEnv {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
				}
				env[k] = v
			}
			if flagScript == "" && len(env) == 0 {
				return fmt.Errorf("nothing to broadcast; use --script or --env")
			}
			return postCommand("/api/v1/broadcast", "broadcast", controlRequest{
				Name:   args[0],
				Point:  flagPoint,
				Script: flagScript,
				Env:    env,
			})
		},
	}

	cmd.Flags().StringVar(&flagPoint, "point", "*", "Cycle point the override applies to")
	cmd.Flags().StringVar(&flagScript, "script", "", "Replacement script")
	cmd.Flags().StringArrayVar(&flagEnv, "env", nil, "Environment override, KEY=VALUE (repeatable)")
	return cmd
}

func newBroadcastCancelCmd() *cobra.Command {
	var flagPoint string

	cmd := &cobra.Command{
		Use:   "cancel <name>",
		Short: "Cancel a broadcast override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.Delete("/api/v1/broadcast", controlRequest{Name: args[0], Point: flagPoint}); err != nil {
				return fmt.Errorf("cancel broadcast: %w", err)
			}
			fmt.Println("broadcast cancelled")
			return nil
		},
	}

	cmd.Flags().StringVar(&flagPoint, "point", "*", "Cycle point the override applies to")
	return cmd
}

func newBroadcastClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Cancel every broadcast override",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.Delete("/api/v1/broadcast/all", nil); err != nil {
				return fmt.Errorf("clear broadcasts: %w", err)
			}
			fmt.Println("broadcasts cleared")
			return nil
		},
	}
}
