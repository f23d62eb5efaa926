package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/cyflow/internal/config"
	"github.com/me/cyflow/internal/jobs"
	"github.com/me/cyflow/internal/scheduler"
	"github.com/me/cyflow/internal/server"
	"github.com/me/cyflow/internal/store"
)

func newPlayCmd() *cobra.Command {
	var (
		flagAddr    string
		flagDB      string
		flagWorkDir string
		flagTick    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "play <workflow.yaml>",
		Short: "Run a workflow, resuming from its checkpoint if one exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := config.LoadWorkflow(args[0])
			if err != nil {
				return err
			}

			cfg := config.DefaultSchedulerConfig()
			cfg.Addr = flagAddr
			cfg.LogLevel = flagLogLevel
			cfg.LogFormat = flagLogFormat
			if flagTick > 0 {
				cfg.TickInterval = flagTick
			}

			// Per-workflow run directory holds the database and job work
			// directories.
			runDir := flagDB
			dbPath := flagDB
			if dbPath == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("cannot determine home directory: %w", err)
				}
				runDir = filepath.Join(home, ".cyflow", wf.Name)
				dbPath = filepath.Join(runDir, "cyflow.db")
			} else {
				runDir = filepath.Dir(dbPath)
			}
			if err := os.MkdirAll(runDir, 0o755); err != nil {
				return fmt.Errorf("cannot create %s: %w", runDir, err)
			}
			workDir := flagWorkDir
			if workDir == "" {
				workDir = filepath.Join(runDir, "work")
			}
			cfg.DBPath = dbPath

			st, err := store.NewSQLiteStore(dbPath, logger)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer st.Close()
			if err := st.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			logger.Info("database ready", "path", dbPath)

			loop := scheduler.New(wf, st, cfg, logger)
			loop.SetSource(args[0])
			loop.SetRunner(jobs.NewLocalRunner(loop.Events(), workDir, logger))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := loop.Init(ctx); err != nil {
				return fmt.Errorf("init scheduler: %w", err)
			}

			srv := server.New(cfg, loop, st, logger)
			httpServer := &http.Server{Addr: cfg.Addr, Handler: srv}
			go func() {
				logger.Info("control API listening", "addr", cfg.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("control API failed", "error", err)
				}
			}()

			runErr := loop.Start(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown error", "error", err)
			}

			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagAddr, "addr", ":8214", "Control API listen address")
	cmd.Flags().StringVar(&flagDB, "db", "", "Database path (default ~/.cyflow/<workflow>/cyflow.db)")
	cmd.Flags().StringVar(&flagWorkDir, "work-dir", "", "Job work directory (default next to the database)")
	cmd.Flags().DurationVar(&flagTick, "tick", 0, "Main loop interval (default 1s)")

	return cmd
}
