// Package matrix materializes the experiment matrix from a validated sweep
// configuration. Expansion is deterministic: the same configuration always
// yields the same configs in the same order, so run IDs line up between a
// plan preview, the results store and the exported rows.
package matrix

import (
	"fmt"
	"strconv"

	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/sweepcfg"
)

// LoadKind tags which load axis produced an experiment's load value.
type LoadKind string

// Load axis kinds. Exactly one is active per sweep.
const (
	LoadConcurrency LoadKind = "concurrency"
	LoadRequestRate LoadKind = "request_rate"
)

// ExperimentConfig is one concrete point of the sweep matrix, immutable once
// expanded. RunID is assigned zero-based in enumeration order and is the
// sole externally meaningful identifier of a run.
type ExperimentConfig struct {
	RunID       int
	Model       string
	LoadKind    LoadKind
	LoadValue   float64
	InputLen    int
	OutputLen   int
	NumPrompts  int
	DatasetName string
	DatasetPath string
}

// Label returns the artifact-friendly run identifier, e.g. "run_0007".
func (e ExperimentConfig) Label() string {
	return fmt.Sprintf("run_%04d", e.RunID)
}

// Concurrency returns the load value as a concurrency count. Only meaningful
// when LoadKind is LoadConcurrency.
func (e ExperimentConfig) Concurrency() int {
	return int(e.LoadValue)
}

// LoadLabel renders the active load axis for logs and previews.
func (e ExperimentConfig) LoadLabel() string {
	if e.LoadKind == LoadConcurrency {
		return "concurrency=" + strconv.Itoa(e.Concurrency())
	}
	return "rps=" + strconv.FormatFloat(e.LoadValue, 'g', -1, 64)
}

// Expand materializes the full Cartesian product of the declared sweep axes
// with load outermost, then input length, then output length. The whole
// matrix is built up front with no side effects, which is what dry-run mode
// prints. Malformed axis declarations return a *sweepcfg.ConfigError.
func Expand(cfg sweepcfg.Config) ([]ExperimentConfig, error) {
	kind, loads, err := loadAxis(cfg.Sweep)
	if err != nil {
		return nil, err
	}
	inputs, err := sweepcfg.ResolveLengths("sweep.input_lengths", cfg.Sweep.InputLengths)
	if err != nil {
		return nil, err
	}
	outputs, err := sweepcfg.ResolveLengths("sweep.output_lengths", cfg.Sweep.OutputLengths)
	if err != nil {
		return nil, err
	}

	out := make([]ExperimentConfig, 0, len(loads)*len(inputs)*len(outputs))
	runID := 0
	for _, load := range loads {
		for _, inputLen := range inputs {
			for _, outputLen := range outputs {
				out = append(out, ExperimentConfig{
					RunID:       runID,
					Model:       cfg.Service.Model,
					LoadKind:    kind,
					LoadValue:   load,
					InputLen:    inputLen,
					OutputLen:   outputLen,
					NumPrompts:  cfg.Benchmark.NumPrompts,
					DatasetName: cfg.Benchmark.Dataset.Name,
					DatasetPath: cfg.Benchmark.Dataset.Path,
				})
				runID++
			}
		}
	}
	return out, nil
}

// loadAxis picks the active load axis. Exactly one of the two kinds must be
// configured; values are deduplicated with first occurrence winning.
func loadAxis(sweep sweepcfg.SweepConfig) (LoadKind, []float64, error) {
	hasConcurrency := len(sweep.ConcurrencyLevels) > 0
	hasRates := len(sweep.RequestRates) > 0
	if hasConcurrency && hasRates {
		return "", nil, &sweepcfg.ConfigError{
			Field:  "sweep",
			Reason: "concurrency_levels and request_rates are mutually exclusive",
		}
	}
	if !hasConcurrency && !hasRates {
		return "", nil, &sweepcfg.ConfigError{
			Field:  "sweep",
			Reason: "one of concurrency_levels or request_rates is required",
		}
	}

	if hasConcurrency {
		vals := make([]float64, 0, len(sweep.ConcurrencyLevels))
		seen := make(map[int]bool, len(sweep.ConcurrencyLevels))
		for _, v := range sweep.ConcurrencyLevels {
			if seen[v] {
				continue
			}
			seen[v] = true
			vals = append(vals, float64(v))
		}
		return LoadConcurrency, vals, nil
	}

	vals := make([]float64, 0, len(sweep.RequestRates))
	seen := make(map[float64]bool, len(sweep.RequestRates))
	for _, v := range sweep.RequestRates {
		if seen[v] {
			continue
		}
		seen[v] = true
		vals = append(vals, v)
	}
	return LoadRequestRate, vals, nil
}
