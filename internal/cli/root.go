package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/cyflow/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking CYFLOW_SERVER first.
func defaultServer() string {
	if s := os.Getenv("CYFLOW_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8214"
}

// NewRootCmd creates the root cobra command for the cyflow CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cyflow",
		Short: "cyflow — cycling workflow scheduler",
		Long:  "cyflow runs cycling task workflows and manages running schedulers.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Scheduler API URL (or CYFLOW_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newPlayCmd(),
		newValidateCmd(),
		newStatusCmd(),
		newTasksCmd(),
		newHoldCmd(),
		newReleaseCmd(),
		newTriggerCmd(),
		newBroadcastCmd(),
		newReloadCmd(),
		newStopCmd(),
		newCheckpointsCmd(),
	)

	return root
}
