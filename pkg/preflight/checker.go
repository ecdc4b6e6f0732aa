// Package preflight evaluates whether the host is ready to execute a sweep
// before any benchmark time is spent: the benchmark command must resolve,
// the output locations must be writable and the serving endpoint should be
// answering its health probe.
package preflight

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/sweepcfg"
)

const (
	severityBlocker = "blocker"
	severityWarning = "warning"
)

// healthTimeout bounds the endpoint probe so a dead server cannot stall the
// check.
const healthTimeout = 3 * time.Second

// CheckResult is one readiness evaluation row.
type CheckResult struct {
	Name        string `json:"name"`
	Pass        bool   `json:"pass"`
	Severity    string `json:"severity"`
	Current     string `json:"current"`
	Required    string `json:"required"`
	Remediation string `json:"remediation"`
}

// Report is the full preflight result.
type Report struct {
	GeneratedAt time.Time     `json:"generated_at"`
	HostOS      string        `json:"host_os"`
	HostArch    string        `json:"host_arch"`
	Checks      []CheckResult `json:"checks"`
	Pass        bool          `json:"pass"`
}

// Snapshot captures host facts before evaluation.
type Snapshot struct {
	HostOS       string
	HostArch     string
	Command      string
	CommandPath  string
	ServerURL    string
	ServerStatus string
	ServerOK     bool
	ResultsDir   string
	ResultsDirOK bool
	StoreDir     string
	StoreDirOK   bool
	DatasetPath  string
	DatasetOK    bool
	PlotCommand  string
	ShellOK      bool
}

// CollectSnapshot gathers host facts for the given sweep config.
func CollectSnapshot(cfg sweepcfg.Config) Snapshot {
	commandPath, _ := exec.LookPath(cfg.Run.Command)
	status, ok := probeHealth(cfg.Service.BaseURL)
	storeDir := filepath.Dir(cfg.Output.StorePath)

	s := Snapshot{
		HostOS:       runtime.GOOS,
		HostArch:     runtime.GOARCH,
		Command:      cfg.Run.Command,
		CommandPath:  commandPath,
		ServerURL:    cfg.Service.BaseURL,
		ServerStatus: status,
		ServerOK:     ok,
		ResultsDir:   cfg.Output.ResultsDir,
		ResultsDirOK: dirWritable(cfg.Output.ResultsDir),
		StoreDir:     storeDir,
		StoreDirOK:   dirWritable(storeDir),
		DatasetPath:  cfg.Benchmark.Dataset.Path,
		PlotCommand:  cfg.Analysis.PlotCommand,
		ShellOK:      hasBinary("/bin/sh"),
	}
	if s.DatasetPath != "" {
		s.DatasetOK = pathExists(s.DatasetPath)
	}
	return s
}

// Evaluate returns a report with pass/fail checks. The report passes when
// every blocker passes; warnings are advisory.
func Evaluate(snapshot Snapshot) Report {
	checks := []CheckResult{
		{
			Name:        "benchmark_command",
			Pass:        snapshot.CommandPath != "",
			Severity:    severityBlocker,
			Current:     currentOr(snapshot.CommandPath, "not found"),
			Required:    fmt.Sprintf("%q resolvable on PATH", snapshot.Command),
			Remediation: "Install the benchmark tool (e.g. pip install vllm) or point run.command at one.",
		},
		{
			Name:        "server_reachable",
			Pass:        snapshot.ServerOK,
			Severity:    severityWarning,
			Current:     snapshot.ServerStatus,
			Required:    "health endpoint answering",
			Remediation: "Start the serving endpoint and check service.base_url; connection failures will otherwise burn retry attempts.",
		},
		{
			Name:        "results_dir_writable",
			Pass:        snapshot.ResultsDirOK,
			Severity:    severityBlocker,
			Current:     snapshot.ResultsDir,
			Required:    "writable",
			Remediation: "Create output.results_dir or fix its permissions.",
		},
		{
			Name:        "store_dir_writable",
			Pass:        snapshot.StoreDirOK,
			Severity:    severityBlocker,
			Current:     snapshot.StoreDir,
			Required:    "writable",
			Remediation: "Create the directory holding output.store_path or fix its permissions.",
		},
	}

	if snapshot.DatasetPath != "" {
		checks = append(checks, CheckResult{
			Name:        "dataset_file",
			Pass:        snapshot.DatasetOK,
			Severity:    severityBlocker,
			Current:     snapshot.DatasetPath,
			Required:    "file exists",
			Remediation: "Download the dataset or fix benchmark.dataset.path.",
		})
	}
	if snapshot.PlotCommand != "" {
		checks = append(checks, CheckResult{
			Name:        "plot_shell",
			Pass:        snapshot.ShellOK,
			Severity:    severityWarning,
			Current:     boolLabel(snapshot.ShellOK),
			Required:    "true",
			Remediation: "Install /bin/sh; analysis.plot_command runs through it.",
		})
	}

	pass := true
	for _, check := range checks {
		if check.Severity == severityBlocker && !check.Pass {
			pass = false
			break
		}
	}

	return Report{
		GeneratedAt: time.Now().UTC(),
		HostOS:      snapshot.HostOS,
		HostArch:    snapshot.HostArch,
		Checks:      checks,
		Pass:        pass,
	}
}

// Run executes the preflight evaluation for a config on the current host.
func Run(cfg sweepcfg.Config) Report {
	return Evaluate(CollectSnapshot(cfg))
}

// StrictPass returns true only if all checks pass, including warnings.
func StrictPass(report Report) bool {
	for _, check := range report.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// MarshalJSON returns pretty JSON for external reporting.
func MarshalJSON(report Report) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

// probeHealth issues a GET against the server's health endpoint. Any HTTP
// answer counts as reachable; older servers without /health still respond
// with 404.
func probeHealth(baseURL string) (string, bool) {
	if baseURL == "" {
		return "no base_url configured", false
	}
	client := &http.Client{Timeout: healthTimeout}
	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/health")
	if err != nil {
		return err.Error(), false
	}
	defer resp.Body.Close()
	return fmt.Sprintf("HTTP %d", resp.StatusCode), true
}

func dirWritable(dir string) bool {
	if dir == "" {
		return false
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	probe, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		return false
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return true
}

func hasBinary(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func pathExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func currentOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
