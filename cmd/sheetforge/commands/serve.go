package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sheetforge/sheetforge/pkg/api"
	"github.com/sheetforge/sheetforge/pkg/orchestrator"
	"github.com/sheetforge/sheetforge/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the transformation service",
		Long: `Run the long-lived transformation service: the job control API, the
metrics endpoint, and (when an inbox directory is configured) the inbox
watcher that submits a job for every dropped CSV.`,
		Example: `  # Run with configuration from the environment
  sheetforge serve

  # Run with a dotenv file
  sheetforge serve --env-file /etc/sheetforge/service.env`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.cfg.Telemetry.Tracing.Enabled {
				tracer, err := telemetry.NewTracer(rt.cfg.Telemetry.Tracing,
					rt.cfg.Telemetry.ServiceName, rt.cfg.Telemetry.ServiceVersion, rt.cfg.Telemetry.Environment)
				if err != nil {
					return err
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = tracer.Shutdown(shutdownCtx)
				}()
			}

			if rt.cfg.Telemetry.Metrics.Enabled {
				if err := rt.metrics.StartMetricsServer(); err != nil {
					return err
				}
			}

			if rt.cfg.InboxDir != "" {
				if err := os.MkdirAll(rt.cfg.InboxDir, 0o755); err != nil {
					return err
				}
				watcher := orchestrator.NewWatcher(rt.orch, rt.cfg.InboxDir, rt.cfg.SchemaName,
					rt.log.NewComponentLogger("watcher"))
				go func() {
					if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						rt.log.WithError(err).Error("inbox watcher stopped")
					}
				}()
			}

			server := api.NewServer(rt.orch, rt.store, rt.metrics, rt.log.NewComponentLogger("api"))
			if err := server.ListenAndServe(ctx, rt.cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}
