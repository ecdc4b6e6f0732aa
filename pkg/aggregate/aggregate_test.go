package aggregate

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/bench"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/matrix"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/sweepcfg"
)

func experiment(runID int, load float64, inputLen int) matrix.ExperimentConfig {
	return matrix.ExperimentConfig{
		RunID:       runID,
		Model:       "meta-llama/Llama-3.1-8B-Instruct",
		LoadKind:    matrix.LoadConcurrency,
		LoadValue:   load,
		InputLen:    inputLen,
		OutputLen:   256,
		NumPrompts:  100,
		DatasetName: "sharegpt",
	}
}

func success(runID int, throughput float64) bench.RunOutcome {
	return bench.RunOutcome{
		RunID: runID,
		Metrics: &bench.MetricSample{
			TTFTMedianMS:       42.5,
			TTFTP99MS:          99,
			ITLMedianMS:        11.25,
			ITLP99MS:           30,
			ThroughputTokensPS: throughput,
			TotalRequests:      100,
			DurationS:          12.5,
		},
		Attempts: 1,
	}
}

func failure(runID int, kind bench.ErrorKind, attempts int) bench.RunOutcome {
	return bench.RunOutcome{RunID: runID, Reason: kind, Attempts: attempts}
}

func testWorkspace(t *testing.T) *Workspace {
	t.Helper()
	dir := t.TempDir()
	cfg := sweepcfg.Config{}
	cfg.Output.AggregatedCSV = filepath.Join(dir, "aggregated_results.csv")
	cfg.Output.SummaryJSON = filepath.Join(dir, "sweep_summary.json")
	cfg.Output.FailuresJSON = filepath.Join(dir, "failed_runs.json")
	cfg.Output.PlotsDir = filepath.Join(dir, "plots")
	return NewWorkspace(cfg, nil)
}

func TestIngestSplitsOutcomes(t *testing.T) {
	var table Table
	table.Ingest(experiment(0, 1, 128), success(0, 1000))
	table.Ingest(experiment(1, 2, 128), failure(1, bench.ErrorTimeout, 3))
	table.Ingest(experiment(2, 4, 128), success(2, 1500))

	if table.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", table.Len())
	}
	failures := table.Failures()
	if len(failures) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(failures))
	}
	got := failures[0]
	if got.RunID != 1 || got.Reason != bench.ErrorTimeout || got.Attempts != 3 {
		t.Fatalf("unexpected ledger entry: %+v", got)
	}
}

func TestSummarizeStats(t *testing.T) {
	var table Table
	table.Ingest(experiment(0, 4, 128), success(0, 1000))
	table.Ingest(experiment(1, 1, 512), success(1, 3000))
	table.Ingest(experiment(2, 1, 128), failure(2, bench.ErrorConnection, 2))

	s := Summarize(&table)
	if s.TotalExperiments != 2 {
		t.Fatalf("total = %d, want 2", s.TotalExperiments)
	}
	if s.FailedRuns != 1 {
		t.Fatalf("failed = %d, want 1", s.FailedRuns)
	}
	if s.LoadKind != "concurrency" {
		t.Fatalf("load kind = %q", s.LoadKind)
	}
	if len(s.Models) != 1 {
		t.Fatalf("models = %v", s.Models)
	}
	if len(s.LoadValues) != 2 || s.LoadValues[0] != 1 || s.LoadValues[1] != 4 {
		t.Fatalf("load values not sorted distinct: %v", s.LoadValues)
	}
	if len(s.InputLengths) != 2 || s.InputLengths[0] != 128 || s.InputLengths[1] != 512 {
		t.Fatalf("input lengths = %v", s.InputLengths)
	}
	if s.Throughput.Mean != 2000 || s.Throughput.Min != 1000 || s.Throughput.Max != 3000 {
		t.Fatalf("throughput stats = %+v", s.Throughput)
	}
	if s.TTFTMedianMS.Mean != 42.5 {
		t.Fatalf("ttft median mean = %v", s.TTFTMedianMS.Mean)
	}
}

func TestSummarizeEmptyTable(t *testing.T) {
	s := Summarize(&Table{})
	if s.TotalExperiments != 0 || s.FailedRuns != 0 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"models":[]`) {
		t.Fatalf("empty summary should serialize empty arrays: %s", data)
	}
}

func TestSummarizeRepeatable(t *testing.T) {
	var table Table
	table.Ingest(experiment(0, 2, 128), success(0, 1000))
	table.Ingest(experiment(1, 1, 128), success(1, 2000))

	first, err := json.Marshal(Summarize(&table))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := json.Marshal(Summarize(&table))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("summaries differ:\n%s\n%s", first, second)
	}
}

func TestWriteCSVOrderedByRunID(t *testing.T) {
	w := testWorkspace(t)
	var table Table
	table.Ingest(experiment(2, 4, 128), success(2, 1500))
	table.Ingest(experiment(0, 1, 128), success(0, 1000))

	if err := w.WriteCSV(&table); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	f, err := os.Open(w.AggregatedCSV)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d records", len(records))
	}
	if strings.Join(records[0], ",") != strings.Join(csvHeader, ",") {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][0] != "0" || records[2][0] != "2" {
		t.Fatalf("rows not ordered by run_id: %v %v", records[1][0], records[2][0])
	}
	if records[1][3] != "1" {
		t.Fatalf("load_value = %q, want 1", records[1][3])
	}
	if records[1][11] != "1000" {
		t.Fatalf("throughput = %q, want 1000", records[1][11])
	}
}

func TestExportWritesArtifacts(t *testing.T) {
	w := testWorkspace(t)
	var table Table
	table.Ingest(experiment(0, 1, 128), success(0, 1000))
	table.Ingest(experiment(1, 2, 128), failure(1, bench.ErrorProcess, 3))

	summary, err := w.Export(&table)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if summary.TotalExperiments != 1 {
		t.Fatalf("summary total = %d", summary.TotalExperiments)
	}

	var onDisk Summary
	data, err := os.ReadFile(w.SummaryJSON)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if onDisk.TotalExperiments != 1 || onDisk.FailedRuns != 1 {
		t.Fatalf("summary on disk = %+v", onDisk)
	}

	var ledger []FailureRecord
	data, err = os.ReadFile(w.FailuresJSON)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if err := json.Unmarshal(data, &ledger); err != nil {
		t.Fatalf("unmarshal ledger: %v", err)
	}
	if len(ledger) != 1 || ledger[0].RunID != 1 || ledger[0].Reason != bench.ErrorProcess {
		t.Fatalf("ledger on disk = %+v", ledger)
	}
}

func TestTriggerPlotsExportsEnv(t *testing.T) {
	w := testWorkspace(t)
	marker := filepath.Join(t.TempDir(), "env.txt")
	w.PlotCommand = `echo "$SWEEP_CSV" > ` + marker

	if err := w.TriggerPlots(context.Background()); err != nil {
		t.Fatalf("TriggerPlots: %v", err)
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if strings.TrimSpace(string(data)) != w.AggregatedCSV {
		t.Fatalf("SWEEP_CSV = %q, want %q", strings.TrimSpace(string(data)), w.AggregatedCSV)
	}
	if _, err := os.Stat(w.PlotsDir); err != nil {
		t.Fatalf("plots dir not created: %v", err)
	}
}

func TestTriggerPlotsNoCommand(t *testing.T) {
	w := testWorkspace(t)
	if err := w.TriggerPlots(context.Background()); err != nil {
		t.Fatalf("TriggerPlots without command: %v", err)
	}
	if _, err := os.Stat(w.PlotsDir); !os.IsNotExist(err) {
		t.Fatalf("plots dir should not exist without a command")
	}
}

func TestTriggerPlotsReportsFailure(t *testing.T) {
	w := testWorkspace(t)
	w.PlotCommand = "exit 3"
	if err := w.TriggerPlots(context.Background()); err == nil {
		t.Fatalf("expected error from failing plot command")
	}
}
