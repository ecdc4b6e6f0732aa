// Package bench invokes the external benchmark tool for one experiment at a
// time and turns its result document into metric samples. Subprocess failures
// are classified into the retryable error kinds the runner's policy operates
// on.
package bench

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/matrix"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/sweepcfg"
)

// Executor runs one experiment against the target service and returns its
// parsed metrics. Implementations classify attempt failures as *RunError so
// the retry policy can act on the kind; context errors pass through
// unclassified to signal cancellation.
type Executor interface {
	Execute(ctx context.Context, ec matrix.ExperimentConfig, timeout time.Duration) (MetricSample, error)
}

// CommandExecutor shells out to the external benchmark tool (vllm bench
// serve or a drop-in replacement) and reads the result file it writes.
type CommandExecutor struct {
	command         string
	tokenizer       string
	baseURL         string
	endpoint        string
	seed            int64
	trustRemoteCode bool
	rawDir          string
	logger          *zap.Logger
}

// NewCommandExecutor builds the subprocess executor from the sweep config.
// A nil logger is replaced with a no-op one.
func NewCommandExecutor(cfg sweepcfg.Config, logger *zap.Logger) *CommandExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandExecutor{
		command:         cfg.Run.Command,
		tokenizer:       cfg.Service.Tokenizer,
		baseURL:         cfg.Service.BaseURL,
		endpoint:        cfg.Service.Endpoint,
		seed:            cfg.Benchmark.Seed,
		trustRemoteCode: cfg.Benchmark.TrustRemoteCode,
		rawDir:          cfg.Output.RawDir,
		logger:          logger,
	}
}

// BuildArgs derives the tool's argument list 1:1 from an experiment config.
func (e *CommandExecutor) BuildArgs(ec matrix.ExperimentConfig) []string {
	args := []string{
		"bench", "serve",
		"--model", ec.Model,
		"--tokenizer", e.tokenizer,
		"--backend", "openai",
		"--base-url", e.baseURL,
		"--endpoint", e.endpoint,
		"--dataset-name", ec.DatasetName,
		"--num-prompts", strconv.Itoa(ec.NumPrompts),
		"--random-input-len", strconv.Itoa(ec.InputLen),
		"--random-output-len", strconv.Itoa(ec.OutputLen),
		"--seed", strconv.FormatInt(e.seed, 10),
		"--save-result",
		"--result-dir", e.rawDir,
		"--result-filename", resultFilename(ec),
	}
	if ec.DatasetPath != "" {
		args = append(args, "--dataset-path", ec.DatasetPath)
	}
	switch ec.LoadKind {
	case matrix.LoadConcurrency:
		args = append(args, "--max-concurrency", strconv.Itoa(ec.Concurrency()))
	case matrix.LoadRequestRate:
		args = append(args, "--request-rate", strconv.FormatFloat(ec.LoadValue, 'g', -1, 64))
	}
	if e.trustRemoteCode {
		args = append(args, "--trust-remote-code")
	}
	return args
}

// ResultPath returns where the tool is told to write the run's raw result.
func (e *CommandExecutor) ResultPath(ec matrix.ExperimentConfig) string {
	return filepath.Join(e.rawDir, resultFilename(ec))
}

func resultFilename(ec matrix.ExperimentConfig) string {
	return ec.Label() + ".json"
}

// Execute runs the benchmark tool for one experiment with a wall-clock
// timeout, then parses the result file it wrote. The returned error is a
// *RunError except when ctx itself was cancelled.
func (e *CommandExecutor) Execute(ctx context.Context, ec matrix.ExperimentConfig, timeout time.Duration) (MetricSample, error) {
	if err := os.MkdirAll(e.rawDir, 0o755); err != nil {
		return MetricSample{}, runErrorf(ErrorProcess, "create result dir: %v", err)
	}
	resultPath := e.ResultPath(ec)
	// A result left behind by an earlier attempt must not be read as fresh.
	_ = os.Remove(resultPath)

	args := e.BuildArgs(ec)
	e.logger.Debug("executing benchmark",
		zap.Int("run_id", ec.RunID),
		zap.String("command", e.command),
		zap.Strings("args", args),
	)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, e.command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return MetricSample{}, ctx.Err()
	}
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return MetricSample{}, runErrorf(ErrorTimeout,
				"benchmark exceeded %s timeout", timeout)
		}
		detail := tail(stderr.String(), 512)
		if isConnectionFailure(detail) {
			return MetricSample{}, runErrorf(ErrorConnection,
				"benchmark could not reach %s: %s", e.baseURL, detail)
		}
		return MetricSample{}, runErrorf(ErrorProcess, "benchmark exited: %v: %s", err, detail)
	}

	e.logger.Debug("benchmark completed",
		zap.Int("run_id", ec.RunID),
		zap.String("stdout_tail", tail(stdout.String(), 256)),
	)

	raw, err := os.ReadFile(resultPath)
	if err != nil {
		return MetricSample{}, runErrorf(ErrorParse, "result file missing: %v", err)
	}
	return ParseResult(raw)
}

var connectionMarkers = []string{
	"connection refused",
	"connection reset",
	"connection error",
	"cannot connect",
	"econnrefused",
	"no route to host",
	"name or service not known",
}

func isConnectionFailure(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, marker := range connectionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
