package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/aggregate"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/bench"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/matrix"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/notify"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/results"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/runner"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/sweepcfg"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/tracing"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the sweep and export the aggregated artifacts",
	Long: `Runs every experiment in the expanded matrix sequentially, records each
terminal outcome in the results store and exports the aggregated CSV, the
summary JSON and the failure ledger. Individual run failures do not stop
the sweep. Interrupting it leaves the store ready for --resume.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := sweepcfg.Load(cfgFile)
		if err != nil {
			return err
		}
		logger, err := buildLogger(cfg.Output.LogFile)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownTracing, err := tracing.Setup(ctx, "sweepctl", cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("setup tracing: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				logger.Warn("flush traces", zap.Error(err))
			}
		}()

		experiments, err := matrix.Expand(cfg)
		if err != nil {
			return err
		}
		store, err := results.Open(cfg.Output.StorePath)
		if err != nil {
			return err
		}
		defer store.Close()

		metrics := runner.NewMetrics()
		if cfg.Telemetry.MetricsAddr != "" {
			startMetricsServer(cfg.Telemetry.MetricsAddr, metrics, logger)
		}

		executor := bench.NewCommandExecutor(cfg, logger)
		sweep := runner.New(cfg, executor, store, logger, metrics)
		_, runErr := sweep.Run(ctx, experiments, runner.Options{Resume: resumeSweep, RetryFailed: retryFailed})
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			return runErr
		}

		// Export whatever the store holds, including after an interrupt;
		// plots only render for a completed sweep.
		summary, err := exportArtifacts(ctx, cfg, store, logger, runErr == nil)
		if err != nil {
			return err
		}
		if runErr != nil {
			notifySweep(cfg, logger, sweep.SessionID(), notify.StatusInterrupted, len(experiments), summary)
			fmt.Printf("sweep interrupted: %d of %d experiments recorded\n",
				summary.TotalExperiments+summary.FailedRuns, len(experiments))
			return runErr
		}
		notifySweep(cfg, logger, sweep.SessionID(), notify.StatusCompleted, len(experiments), summary)

		fmt.Printf("sweep complete: %d ok, %d failed\n", summary.TotalExperiments, summary.FailedRuns)
		fmt.Printf("results: %s\n", cfg.Output.AggregatedCSV)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&resumeSweep, "resume", false, "continue the sweep recorded in the results store")
	runCmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "with --resume, also re-run experiments that exhausted their attempts")
}

// exportArtifacts rebuilds the aggregation table from the store so resumed
// sessions export earlier runs too.
func exportArtifacts(ctx context.Context, cfg sweepcfg.Config, store *results.Store, logger *zap.Logger, plots bool) (aggregate.Summary, error) {
	rows, err := store.Runs()
	if err != nil {
		return aggregate.Summary{}, err
	}
	var table aggregate.Table
	for _, row := range rows {
		table.Ingest(row.Config, row.Outcome)
	}

	ws := aggregate.NewWorkspace(cfg, logger)
	summary, err := ws.Export(&table)
	if err != nil {
		return aggregate.Summary{}, err
	}
	if plots {
		if err := ws.TriggerPlots(ctx); err != nil {
			logger.Warn("plot command failed", zap.Error(err))
		}
	}
	return summary, nil
}

// notifySweep posts the completion webhook when one is configured. Delivery
// problems are logged, never surfaced; the sweep's artifacts already exist.
func notifySweep(cfg sweepcfg.Config, logger *zap.Logger, sessionID, status string, planned int, summary aggregate.Summary) {
	if cfg.Notify.WebhookURL == "" {
		return
	}
	fingerprint, err := cfg.Fingerprint()
	if err != nil {
		logger.Warn("fingerprint for notification", zap.Error(err))
		return
	}
	event := notify.Event{
		SessionID:   sessionID,
		Model:       cfg.Service.Model,
		Fingerprint: fingerprint,
		Status:      status,
		FinishedAt:  time.Now().UTC(),
		PlannedRuns: planned,
		Summary:     summary,
		CSVPath:     cfg.Output.AggregatedCSV,
		SummaryPath: cfg.Output.SummaryJSON,
	}
	if err := notify.New(cfg.Notify.WebhookURL, cfg.Notify.Secret, cfg.Notify.TimeoutMS).Send(event); err != nil {
		logger.Warn("deliver completion webhook", zap.Error(err))
	}
}
