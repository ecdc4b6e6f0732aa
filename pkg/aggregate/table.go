// Package aggregate turns per-run outcomes into the flat results table, the
// failure ledger and the derived summary statistics, and writes the exported
// artifacts. Summarize is a pure reduction: the same table always produces
// byte-identical output, which downstream regression comparisons depend on.
package aggregate

import (
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/bench"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/matrix"
)

// Row is one successful experiment flattened for export.
type Row struct {
	RunID      int
	Model      string
	LoadKind   matrix.LoadKind
	LoadValue  float64
	InputLen   int
	OutputLen  int
	NumPrompts int
	Metrics    bench.MetricSample
}

// FailureRecord is one exhausted run in the failure ledger.
type FailureRecord struct {
	RunID    int             `json:"run_id"`
	Reason   bench.ErrorKind `json:"reason"`
	Attempts int             `json:"attempts"`
}

// Table accumulates rows in ingest order. Successful outcomes append a row;
// exhausted ones land in the failure ledger with their reason and consumed
// attempts. Rows are append-only while a sweep is running.
type Table struct {
	rows     []Row
	failures []FailureRecord
}

// Ingest records one terminal outcome against its experiment config.
func (t *Table) Ingest(ec matrix.ExperimentConfig, outcome bench.RunOutcome) {
	if outcome.Succeeded() {
		t.rows = append(t.rows, Row{
			RunID:      ec.RunID,
			Model:      ec.Model,
			LoadKind:   ec.LoadKind,
			LoadValue:  ec.LoadValue,
			InputLen:   ec.InputLen,
			OutputLen:  ec.OutputLen,
			NumPrompts: ec.NumPrompts,
			Metrics:    *outcome.Metrics,
		})
		return
	}
	t.failures = append(t.failures, FailureRecord{
		RunID:    ec.RunID,
		Reason:   outcome.Reason,
		Attempts: outcome.Attempts,
	})
}

// Rows returns the successful rows in ingest order.
func (t *Table) Rows() []Row {
	return t.rows
}

// Failures returns the failure ledger in ingest order.
func (t *Table) Failures() []FailureRecord {
	return t.failures
}

// Len returns the number of successful rows.
func (t *Table) Len() int {
	return len(t.rows)
}
