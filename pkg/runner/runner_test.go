package runner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/bench"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/matrix"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/results"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/sweepcfg"
)

// scriptedExecutor stands in for the benchmark subprocess. The script sees
// the per-run attempt number and decides the outcome.
type scriptedExecutor struct {
	attempts map[int]int
	order    []int
	script   func(ctx context.Context, ec matrix.ExperimentConfig, attempt int) (bench.MetricSample, error)
}

func newScripted(script func(ctx context.Context, ec matrix.ExperimentConfig, attempt int) (bench.MetricSample, error)) *scriptedExecutor {
	return &scriptedExecutor{attempts: map[int]int{}, script: script}
}

func (s *scriptedExecutor) Execute(ctx context.Context, ec matrix.ExperimentConfig, timeout time.Duration) (bench.MetricSample, error) {
	if err := ctx.Err(); err != nil {
		return bench.MetricSample{}, err
	}
	s.attempts[ec.RunID]++
	s.order = append(s.order, ec.RunID)
	return s.script(ctx, ec, s.attempts[ec.RunID])
}

func sample() bench.MetricSample {
	return bench.MetricSample{
		TTFTMedianMS:       40,
		TTFTP99MS:          90,
		ITLMedianMS:        10,
		ITLP99MS:           25,
		ThroughputTokensPS: 1200,
		TotalRequests:      100,
		DurationS:          9.5,
	}
}

func alwaysSucceed(ctx context.Context, ec matrix.ExperimentConfig, attempt int) (bench.MetricSample, error) {
	return sample(), nil
}

func testConfig() sweepcfg.Config {
	cfg := sweepcfg.Default()
	cfg.Service.Model = "meta-llama/Llama-3.1-8B-Instruct"
	cfg.Sweep.ConcurrencyLevels = []int{1, 2}
	cfg.Sweep.InputLengths = sweepcfg.List(128, 256)
	cfg.Sweep.OutputLengths = sweepcfg.Fixed(64)
	cfg.Run.MaxAttempts = 3
	cfg.Run.RetryDelayMS = 1
	return cfg
}

func openStore(t *testing.T) *results.Store {
	t.Helper()
	store, err := results.Open(filepath.Join(t.TempDir(), "sweep.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func expand(t *testing.T, cfg sweepcfg.Config) []matrix.ExperimentConfig {
	t.Helper()
	experiments, err := matrix.Expand(cfg)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	return experiments
}

func TestRunExecutesInOrder(t *testing.T) {
	cfg := testConfig()
	store := openStore(t)
	exec := newScripted(alwaysSucceed)
	experiments := expand(t, cfg)

	outcomes, err := New(cfg, exec, store, nil, nil).Run(context.Background(), experiments, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != len(experiments) {
		t.Fatalf("executed %d of %d runs", len(outcomes), len(experiments))
	}
	for i, id := range exec.order {
		if id != i {
			t.Fatalf("execution order %v not ascending by run_id", exec.order)
		}
	}
	rows, err := store.Runs()
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if len(rows) != len(experiments) {
		t.Fatalf("store holds %d rows, want %d", len(rows), len(experiments))
	}
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	cfg := testConfig()
	store := openStore(t)
	exec := newScripted(func(ctx context.Context, ec matrix.ExperimentConfig, attempt int) (bench.MetricSample, error) {
		if ec.RunID == 0 && attempt < 3 {
			return bench.MetricSample{}, &bench.RunError{Kind: bench.ErrorConnection, Err: errors.New("connection refused")}
		}
		return sample(), nil
	})

	outcomes, err := New(cfg, exec, store, nil, nil).Run(context.Background(), expand(t, cfg), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcomes[0].Succeeded() {
		t.Fatalf("run 0 should have recovered: %+v", outcomes[0])
	}
	if outcomes[0].Attempts != 3 {
		t.Fatalf("run 0 attempts = %d, want 3", outcomes[0].Attempts)
	}
	if outcomes[1].Attempts != 1 {
		t.Fatalf("run 1 attempts = %d, want 1", outcomes[1].Attempts)
	}
}

func TestRunFailureDoesNotAbortSweep(t *testing.T) {
	cfg := testConfig()
	store := openStore(t)
	exec := newScripted(func(ctx context.Context, ec matrix.ExperimentConfig, attempt int) (bench.MetricSample, error) {
		if ec.RunID == 1 {
			return bench.MetricSample{}, &bench.RunError{Kind: bench.ErrorTimeout, Err: errors.New("deadline exceeded")}
		}
		return sample(), nil
	})
	experiments := expand(t, cfg)

	outcomes, err := New(cfg, exec, store, nil, nil).Run(context.Background(), experiments, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != len(experiments) {
		t.Fatalf("sweep stopped early: %d of %d", len(outcomes), len(experiments))
	}
	failed := outcomes[1]
	if failed.Succeeded() {
		t.Fatalf("run 1 should have failed")
	}
	if failed.Reason != bench.ErrorTimeout || failed.Attempts != cfg.Run.MaxAttempts {
		t.Fatalf("unexpected terminal outcome: %+v", failed)
	}
	if got := exec.attempts[1]; got != cfg.Run.MaxAttempts {
		t.Fatalf("run 1 attempted %d times, want %d", got, cfg.Run.MaxAttempts)
	}
	rows, err := store.Runs()
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if len(rows) != len(experiments) {
		t.Fatalf("store holds %d rows, want %d", len(rows), len(experiments))
	}
}

func TestRunRefusesPopulatedStoreWithoutResume(t *testing.T) {
	cfg := testConfig()
	store := openStore(t)
	experiments := expand(t, cfg)

	if _, err := New(cfg, newScripted(alwaysSucceed), store, nil, nil).Run(context.Background(), experiments, Options{}); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	_, err := New(cfg, newScripted(alwaysSucceed), store, nil, nil).Run(context.Background(), experiments, Options{})
	var cfgErr *sweepcfg.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected config error for populated store, got %v", err)
	}
}

func TestResumeSkipsRecordedRuns(t *testing.T) {
	cfg := testConfig()
	store := openStore(t)
	experiments := expand(t, cfg)

	if _, err := New(cfg, newScripted(alwaysSucceed), store, nil, nil).Run(context.Background(), experiments[:2], Options{}); err != nil {
		t.Fatalf("first session: %v", err)
	}

	exec := newScripted(alwaysSucceed)
	outcomes, err := New(cfg, exec, store, nil, nil).Run(context.Background(), experiments, Options{Resume: true})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("resume executed %d runs, want 2", len(outcomes))
	}
	if exec.order[0] != 2 || exec.order[1] != 3 {
		t.Fatalf("resume executed %v, want [2 3]", exec.order)
	}
	rows, err := store.Runs()
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if len(rows) != len(experiments) {
		t.Fatalf("store holds %d rows, want %d", len(rows), len(experiments))
	}
}

func TestResumeRequiresRecordedSweep(t *testing.T) {
	cfg := testConfig()
	store := openStore(t)

	_, err := New(cfg, newScripted(alwaysSucceed), store, nil, nil).Run(context.Background(), expand(t, cfg), Options{Resume: true})
	var cfgErr *sweepcfg.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected config error resuming a fresh store, got %v", err)
	}
}

func TestResumeRejectsChangedConfig(t *testing.T) {
	cfg := testConfig()
	store := openStore(t)
	if _, err := New(cfg, newScripted(alwaysSucceed), store, nil, nil).Run(context.Background(), expand(t, cfg), Options{}); err != nil {
		t.Fatalf("first session: %v", err)
	}

	changed := testConfig()
	changed.Benchmark.Seed = 7
	_, err := New(changed, newScripted(alwaysSucceed), store, nil, nil).Run(context.Background(), expand(t, changed), Options{Resume: true})
	var cfgErr *sweepcfg.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected config error for changed sweep config, got %v", err)
	}
}

func TestResumeRetryFailedReplaysExhaustedRuns(t *testing.T) {
	cfg := testConfig()
	store := openStore(t)
	experiments := expand(t, cfg)

	firstExec := newScripted(func(ctx context.Context, ec matrix.ExperimentConfig, attempt int) (bench.MetricSample, error) {
		if ec.RunID == 1 {
			return bench.MetricSample{}, &bench.RunError{Kind: bench.ErrorProcess, Err: errors.New("exit status 2")}
		}
		return sample(), nil
	})
	if _, err := New(cfg, firstExec, store, nil, nil).Run(context.Background(), experiments, Options{}); err != nil {
		t.Fatalf("first session: %v", err)
	}

	exec := newScripted(alwaysSucceed)
	outcomes, err := New(cfg, exec, store, nil, nil).Run(context.Background(), experiments, Options{Resume: true, RetryFailed: true})
	if err != nil {
		t.Fatalf("retry session: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].RunID != 1 {
		t.Fatalf("retry session executed %+v, want just run 1", outcomes)
	}
	rows, err := store.Runs()
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	for _, row := range rows {
		if !row.Outcome.Succeeded() {
			t.Fatalf("run %d still failed after retry", row.Config.RunID)
		}
	}
}

func TestCancellationStopsBeforeNextRun(t *testing.T) {
	cfg := testConfig()
	store := openStore(t)
	experiments := expand(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := newScripted(func(ctx context.Context, ec matrix.ExperimentConfig, attempt int) (bench.MetricSample, error) {
		if ec.RunID == 1 {
			cancel()
		}
		return sample(), nil
	})

	outcomes, err := New(cfg, exec, store, nil, nil).Run(ctx, experiments, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected runs 0 and 1 to finish, got %d outcomes", len(outcomes))
	}
	rows, err := store.Runs()
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("store holds %d rows, want 2", len(rows))
	}
}

func TestCancellationMidRunIsNotRecorded(t *testing.T) {
	cfg := testConfig()
	store := openStore(t)
	experiments := expand(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := newScripted(func(ctx context.Context, ec matrix.ExperimentConfig, attempt int) (bench.MetricSample, error) {
		if ec.RunID == 1 {
			cancel()
			return bench.MetricSample{}, ctx.Err()
		}
		return sample(), nil
	})

	outcomes, err := New(cfg, exec, store, nil, nil).Run(ctx, experiments, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("only run 0 should have finished, got %d outcomes", len(outcomes))
	}
	rows, err := store.Runs()
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if len(rows) != 1 || rows[0].Config.RunID != 0 {
		t.Fatalf("interrupted run must not be recorded: %+v", rows)
	}
}

func TestRetryBackoffDoublesDelay(t *testing.T) {
	cfg := testConfig()
	cfg.Run.RetryDelayMS = 20
	cfg.Run.RetryBackoff = true
	cfg.Sweep.ConcurrencyLevels = []int{1}
	cfg.Sweep.InputLengths = sweepcfg.Fixed(128)
	store := openStore(t)

	exec := newScripted(func(ctx context.Context, ec matrix.ExperimentConfig, attempt int) (bench.MetricSample, error) {
		return bench.MetricSample{}, &bench.RunError{Kind: bench.ErrorConnection, Err: errors.New("connection refused")}
	})

	started := time.Now()
	outcomes, err := New(cfg, exec, store, nil, nil).Run(context.Background(), expand(t, cfg), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Attempt 2 waits 20ms, attempt 3 waits 40ms.
	if elapsed := time.Since(started); elapsed < 60*time.Millisecond {
		t.Fatalf("backoff delays too short: %v", elapsed)
	}
	if outcomes[0].Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", outcomes[0].Attempts)
	}
}

func TestMetricsTrackOutcomes(t *testing.T) {
	cfg := testConfig()
	cfg.Sweep.InputLengths = sweepcfg.Fixed(128)
	store := openStore(t)
	metrics := NewMetrics()
	exec := newScripted(func(ctx context.Context, ec matrix.ExperimentConfig, attempt int) (bench.MetricSample, error) {
		if ec.RunID == 1 {
			return bench.MetricSample{}, &bench.RunError{Kind: bench.ErrorParse, Err: errors.New("missing summary")}
		}
		return sample(), nil
	})

	if _, err := New(cfg, exec, store, nil, metrics).Run(context.Background(), expand(t, cfg), Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := metricValue(t, metrics, "llm_sweep_runs_total"); got != 2 {
		t.Fatalf("llm_sweep_runs_total = %v, want 2", got)
	}
	if got := metricValue(t, metrics, "llm_sweep_run_failures_total"); got != 1 {
		t.Fatalf("llm_sweep_run_failures_total = %v, want 1", got)
	}
	if got := metricValue(t, metrics, "llm_sweep_run_retries_total"); got != float64(cfg.Run.MaxAttempts-1) {
		t.Fatalf("llm_sweep_run_retries_total = %v, want %d", got, cfg.Run.MaxAttempts-1)
	}
	if got := metricValue(t, metrics, "llm_sweep_runs_completed"); got != 2 {
		t.Fatalf("llm_sweep_runs_completed = %v, want 2", got)
	}
}

func metricValue(t *testing.T, m *Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				total += g.GetValue()
			}
		}
	}
	return total
}
