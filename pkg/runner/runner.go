// Package runner executes an expanded experiment matrix strictly in run_id
// order. Every terminal outcome is persisted before the next run starts, so
// an interrupted sweep can resume without repeating finished work.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/bench"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/matrix"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/results"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/sweepcfg"
)

// Options selects how the runner treats a store that already holds results.
type Options struct {
	// Resume continues the sweep recorded in the store, skipping finished
	// runs. Without it a populated store is an error.
	Resume bool
	// RetryFailed narrows the resume skip set to successful runs, so
	// exhausted runs get a fresh chance.
	RetryFailed bool
}

// Runner drives one sweep session.
type Runner struct {
	cfg     sweepcfg.Config
	exec    bench.Executor
	store   *results.Store
	logger  *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer

	sessionID string
}

// New wires a runner. A nil logger or metrics gets a no-op replacement.
func New(cfg sweepcfg.Config, exec bench.Executor, store *results.Store, logger *zap.Logger, metrics *Metrics) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Runner{
		cfg:     cfg,
		exec:    exec,
		store:   store,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer("llm-bench-sweep/runner"),
	}
}

// SessionID returns the sweep session identity once Run has claimed or
// resumed the store.
func (r *Runner) SessionID() string {
	return r.sessionID
}

// Run executes the experiments sequentially and returns the outcomes it
// produced this session. Skipped runs from a resume are not repeated here;
// read the store for the full picture. A context cancellation stops the
// sweep before the next run and surfaces as the returned error, leaving the
// store valid for resume.
func (r *Runner) Run(ctx context.Context, experiments []matrix.ExperimentConfig, opts Options) ([]bench.RunOutcome, error) {
	fingerprint, err := r.cfg.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("fingerprint config: %w", err)
	}

	loadKind := ""
	if len(experiments) > 0 {
		loadKind = string(experiments[0].LoadKind)
	}
	skip, err := r.prepareStore(fingerprint, loadKind, len(experiments), opts)
	if err != nil {
		return nil, err
	}

	r.metrics.planned.Set(float64(len(experiments)))
	r.metrics.completed.Set(float64(len(skip)))

	ctx, sweepSpan := r.tracer.Start(ctx, "sweep", trace.WithAttributes(
		attribute.String("session_id", r.sessionID),
		attribute.Int("planned_runs", len(experiments)),
		attribute.Int("skipped_runs", len(skip)),
	))
	defer sweepSpan.End()

	r.logger.Info("starting sweep",
		zap.String("session", r.sessionID),
		zap.Int("planned", len(experiments)),
		zap.Int("skipped", len(skip)))

	outcomes := make([]bench.RunOutcome, 0, len(experiments))
	for _, ec := range experiments {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("sweep cancelled",
				zap.String("next_run", ec.Label()),
				zap.Int("finished_this_session", len(outcomes)))
			sweepSpan.RecordError(err)
			return outcomes, err
		}
		if skip[ec.RunID] {
			r.logger.Debug("skipping recorded run", zap.String("run", ec.Label()))
			continue
		}

		outcome, err := r.runOne(ctx, ec)
		if err != nil {
			sweepSpan.RecordError(err)
			return outcomes, err
		}
		if err := r.store.Record(ec, outcome); err != nil {
			return outcomes, fmt.Errorf("record %s: %w", ec.Label(), err)
		}
		outcomes = append(outcomes, outcome)
	}

	r.logger.Info("sweep finished",
		zap.String("session", r.sessionID),
		zap.Int("executed", len(outcomes)))
	return outcomes, nil
}

// prepareStore claims a fresh store or validates a resume against the
// recorded sweep, and returns the run_ids to skip.
func (r *Runner) prepareStore(fingerprint, loadKind string, total int, opts Options) (map[int]bool, error) {
	meta, found, err := r.store.Meta()
	if err != nil {
		return nil, fmt.Errorf("read store meta: %w", err)
	}

	if !found {
		if opts.Resume {
			return nil, &sweepcfg.ConfigError{
				Field:  "resume",
				Reason: fmt.Sprintf("store %s holds no sweep to resume", r.store.Path()),
			}
		}
		m := results.Meta{
			SessionID:   uuid.NewString(),
			Fingerprint: fingerprint,
			Model:       r.cfg.Service.Model,
			LoadKind:    loadKind,
			TotalRuns:   total,
			CreatedAt:   time.Now().UTC(),
		}
		if err := r.store.SetMeta(m); err != nil {
			return nil, err
		}
		r.sessionID = m.SessionID
		return map[int]bool{}, nil
	}

	if !opts.Resume {
		return nil, &sweepcfg.ConfigError{
			Field:  "store",
			Reason: fmt.Sprintf("store %s already holds a sweep; pass --resume to continue it", r.store.Path()),
		}
	}
	if meta.Fingerprint != fingerprint {
		return nil, &sweepcfg.ConfigError{
			Field:  "resume",
			Reason: "config does not match the recorded sweep; refusing to mix results",
		}
	}

	r.sessionID = meta.SessionID
	var skip map[int]bool
	if opts.RetryFailed {
		skip, err = r.store.SuccessIDs()
	} else {
		skip, err = r.store.CompletedIDs()
	}
	if err != nil {
		return nil, fmt.Errorf("read recorded runs: %w", err)
	}
	return skip, nil
}

// runOne drives a single experiment through the retry loop and returns its
// terminal outcome. A non-nil error means the sweep itself must stop; run
// failures are encoded in the outcome instead.
func (r *Runner) runOne(ctx context.Context, ec matrix.ExperimentConfig) (bench.RunOutcome, error) {
	ctx, span := r.tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.Int("run_id", ec.RunID),
		attribute.String("model", ec.Model),
		attribute.String("load", ec.LoadLabel()),
		attribute.Int("input_len", ec.InputLen),
		attribute.Int("output_len", ec.OutputLen),
	))
	defer span.End()

	maxAttempts := r.cfg.Run.MaxAttempts
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.retryDelay(attempt)
			r.logger.Info("retrying run",
				zap.String("run", ec.Label()),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			r.metrics.retries.Inc()
			if err := sleepWithContext(ctx, delay); err != nil {
				return bench.RunOutcome{}, err
			}
		}

		started := time.Now()
		sample, err := r.exec.Execute(ctx, ec, r.cfg.Run.Timeout())
		r.metrics.duration.Observe(time.Since(started).Seconds())

		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt))
			r.metrics.runs.WithLabelValues("success").Inc()
			r.metrics.completed.Inc()
			r.logger.Info("run succeeded",
				zap.String("run", ec.Label()),
				zap.String("load", ec.LoadLabel()),
				zap.Int("attempt", attempt),
				zap.Float64("throughput_tokens_per_s", sample.ThroughputTokensPS))
			return bench.RunOutcome{RunID: ec.RunID, Metrics: &sample, Attempts: attempt}, nil
		}

		var runErr *bench.RunError
		if !errors.As(err, &runErr) {
			// Not a classified run failure. The context was cancelled or
			// something else broke the sweep; do not record this run.
			span.RecordError(err)
			return bench.RunOutcome{}, err
		}
		lastErr = runErr
		r.logger.Warn("run attempt failed",
			zap.String("run", ec.Label()),
			zap.Int("attempt", attempt),
			zap.String("reason", string(runErr.Kind)),
			zap.Error(runErr))
	}

	kind := bench.KindOf(lastErr)
	span.RecordError(lastErr)
	span.SetAttributes(
		attribute.Int("attempts", maxAttempts),
		attribute.String("failure_reason", string(kind)),
	)
	r.metrics.runs.WithLabelValues("failed").Inc()
	r.metrics.failures.WithLabelValues(string(kind)).Inc()
	r.metrics.completed.Inc()
	r.logger.Error("run failed after all attempts",
		zap.String("run", ec.Label()),
		zap.Int("attempts", maxAttempts),
		zap.String("reason", string(kind)))
	return bench.RunOutcome{RunID: ec.RunID, Reason: kind, Attempts: maxAttempts}, nil
}

func (r *Runner) retryDelay(attempt int) time.Duration {
	delay := r.cfg.Run.RetryDelay()
	if r.cfg.Run.RetryBackoff {
		delay *= time.Duration(1 << uint(attempt-2))
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
