package aggregate

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/sweepcfg"
)

// csvHeader is the aggregated table's column set. Plot scripts key on these
// names, so the order is part of the output contract.
var csvHeader = []string{
	"run_id",
	"model",
	"load_kind",
	"load_value",
	"input_len",
	"output_len",
	"num_prompts",
	"ttft_median_ms",
	"ttft_p99_ms",
	"itl_median_ms",
	"itl_p99_ms",
	"throughput_tokens_per_s",
	"total_requests",
	"duration_s",
}

// Workspace is the handle to one sweep's output tree. Callers pass it around
// explicitly instead of sharing a process-global results directory, so two
// sweeps in the same process never write over each other.
type Workspace struct {
	AggregatedCSV string
	SummaryJSON   string
	FailuresJSON  string
	PlotsDir      string
	PlotCommand   string

	logger *zap.Logger
}

// NewWorkspace builds a workspace from the resolved output config.
func NewWorkspace(cfg sweepcfg.Config, logger *zap.Logger) *Workspace {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workspace{
		AggregatedCSV: cfg.Output.AggregatedCSV,
		SummaryJSON:   cfg.Output.SummaryJSON,
		FailuresJSON:  cfg.Output.FailuresJSON,
		PlotsDir:      cfg.Output.PlotsDir,
		PlotCommand:   cfg.Analysis.PlotCommand,
		logger:        logger,
	}
}

// Export writes the aggregated CSV, the summary JSON and the failure ledger,
// and returns the summary it wrote.
func (w *Workspace) Export(t *Table) (Summary, error) {
	summary := Summarize(t)
	if err := w.WriteCSV(t); err != nil {
		return Summary{}, err
	}
	if err := writeJSON(w.SummaryJSON, summary); err != nil {
		return Summary{}, fmt.Errorf("write summary: %w", err)
	}
	if err := writeJSON(w.FailuresJSON, t.Failures()); err != nil {
		return Summary{}, fmt.Errorf("write failure ledger: %w", err)
	}
	w.logger.Info("exported sweep artifacts",
		zap.String("csv", w.AggregatedCSV),
		zap.String("summary", w.SummaryJSON),
		zap.Int("rows", t.Len()),
		zap.Int("failures", len(t.Failures())))
	return summary, nil
}

// WriteCSV writes the successful rows, ordered by run_id.
func (w *Workspace) WriteCSV(t *Table) error {
	if err := os.MkdirAll(filepath.Dir(w.AggregatedCSV), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(w.AggregatedCSV)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range sortedRows(t.Rows()) {
		record := []string{
			strconv.Itoa(r.RunID),
			r.Model,
			string(r.LoadKind),
			formatFloat(r.LoadValue),
			strconv.Itoa(r.InputLen),
			strconv.Itoa(r.OutputLen),
			strconv.Itoa(r.NumPrompts),
			formatFloat(r.Metrics.TTFTMedianMS),
			formatFloat(r.Metrics.TTFTP99MS),
			formatFloat(r.Metrics.ITLMedianMS),
			formatFloat(r.Metrics.ITLP99MS),
			formatFloat(r.Metrics.ThroughputTokensPS),
			strconv.FormatInt(r.Metrics.TotalRequests, 10),
			formatFloat(r.Metrics.DurationS),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", r.RunID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// TriggerPlots runs the configured plot command with the artifact locations
// exported in its environment. A sweep without a plot command is a no-op.
func (w *Workspace) TriggerPlots(ctx context.Context) error {
	if w.PlotCommand == "" {
		return nil
	}
	if err := os.MkdirAll(w.PlotsDir, 0o755); err != nil {
		return fmt.Errorf("create plots dir: %w", err)
	}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", w.PlotCommand)
	cmd.Env = append(os.Environ(),
		"SWEEP_CSV="+w.AggregatedCSV,
		"SWEEP_SUMMARY="+w.SummaryJSON,
		"SWEEP_PLOTS_DIR="+w.PlotsDir,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("plot command: %w: %s", err, out)
	}
	w.logger.Info("plot command finished", zap.String("command", w.PlotCommand))
	return nil
}

func sortedRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	copy(out, rows)
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeJSON(path string, payload interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	bytes, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(bytes, '\n'), 0o644)
}
