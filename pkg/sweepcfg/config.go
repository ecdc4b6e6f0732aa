package sweepcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Dataset names accepted by the external benchmark tool.
const (
	DatasetShareGPT = "sharegpt"
	DatasetSonnet   = "sonnet"
	DatasetRandom   = "random"
	DatasetCustom   = "custom"
)

// ConfigError reports a malformed sweep declaration. Configuration errors
// are fatal: a sweep whose declaration fails validation must not start.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func errConfig(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Config mirrors the sweep configuration file.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Benchmark BenchmarkConfig `yaml:"benchmark"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Run       RunConfig       `yaml:"run"`
	Output    OutputConfig    `yaml:"output"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// ServiceConfig identifies the target inference service.
type ServiceConfig struct {
	Model     string `yaml:"model"`
	Tokenizer string `yaml:"tokenizer"`
	BaseURL   string `yaml:"base_url"`
	Endpoint  string `yaml:"endpoint"`
}

// DatasetConfig selects the prompt dataset fed to the benchmark tool.
type DatasetConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path,omitempty"`
}

// BenchmarkConfig holds per-run benchmark parameters shared by every
// experiment in the matrix.
type BenchmarkConfig struct {
	Dataset         DatasetConfig `yaml:"dataset"`
	NumPrompts      int           `yaml:"num_prompts"`
	Seed            int64         `yaml:"seed"`
	TrustRemoteCode bool          `yaml:"trust_remote_code"`
}

// SweepConfig declares the matrix dimensions. Exactly one load axis
// (concurrency_levels or request_rates) must be set.
type SweepConfig struct {
	ConcurrencyLevels []int      `yaml:"concurrency_levels,omitempty"`
	RequestRates      []float64  `yaml:"request_rates,omitempty"`
	InputLengths      LengthSpec `yaml:"input_lengths"`
	OutputLengths     LengthSpec `yaml:"output_lengths"`
}

// RunConfig controls subprocess execution and the retry policy.
type RunConfig struct {
	Command      string `yaml:"command"`
	TimeoutS     int    `yaml:"timeout_s"`
	MaxAttempts  int    `yaml:"max_attempts"`
	RetryDelayMS int    `yaml:"retry_delay_ms"`
	RetryBackoff bool   `yaml:"retry_backoff"`
}

// Timeout returns the per-attempt wall-clock limit.
func (r RunConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutS) * time.Second
}

// RetryDelay returns the base delay between attempts.
func (r RunConfig) RetryDelay() time.Duration {
	return time.Duration(r.RetryDelayMS) * time.Millisecond
}

// OutputConfig names every artifact path. Paths left empty are derived
// from results_dir during normalization.
type OutputConfig struct {
	ResultsDir    string `yaml:"results_dir"`
	RawDir        string `yaml:"raw_dir"`
	AggregatedCSV string `yaml:"aggregated_csv"`
	SummaryJSON   string `yaml:"summary_json"`
	FailuresJSON  string `yaml:"failures_json"`
	StorePath     string `yaml:"store_path"`
	LogFile       string `yaml:"log_file"`
	PlotsDir      string `yaml:"plots_dir"`
}

// AnalysisConfig configures post-sweep analysis hooks. Plot rendering is
// delegated to an external command; empty disables it.
type AnalysisConfig struct {
	PlotCommand string `yaml:"plot_command,omitempty"`
}

// TelemetryConfig configures optional tracing and metrics exposure.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	MetricsAddr  string `yaml:"metrics_addr,omitempty"`
}

// NotifyConfig configures the optional completion webhook. An empty URL
// disables notification.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url,omitempty"`
	Secret     string `yaml:"secret,omitempty"`
	TimeoutMS  int    `yaml:"timeout_ms,omitempty"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			BaseURL:  "http://localhost:8000",
			Endpoint: "/v1/completions",
		},
		Benchmark: BenchmarkConfig{
			Dataset:         DatasetConfig{Name: DatasetShareGPT},
			NumPrompts:      100,
			Seed:            42,
			TrustRemoteCode: true,
		},
		Run: RunConfig{
			Command:      "vllm",
			TimeoutS:     3600,
			MaxAttempts:  3,
			RetryDelayMS: 10000,
		},
		Output: OutputConfig{
			ResultsDir: "results",
		},
	}
}

// Load parses, normalizes and validates a sweep config file.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.Service.Tokenizer == "" {
		cfg.Service.Tokenizer = cfg.Service.Model
	}
	if cfg.Service.BaseURL == "" {
		cfg.Service.BaseURL = Default().Service.BaseURL
	}
	if cfg.Service.Endpoint == "" {
		cfg.Service.Endpoint = Default().Service.Endpoint
	}
	if cfg.Benchmark.Dataset.Name == "" {
		cfg.Benchmark.Dataset.Name = DatasetShareGPT
	}
	if cfg.Benchmark.NumPrompts <= 0 {
		cfg.Benchmark.NumPrompts = Default().Benchmark.NumPrompts
	}
	if cfg.Run.Command == "" {
		cfg.Run.Command = Default().Run.Command
	}
	if cfg.Run.TimeoutS <= 0 {
		cfg.Run.TimeoutS = Default().Run.TimeoutS
	}
	if cfg.Run.MaxAttempts <= 0 {
		cfg.Run.MaxAttempts = Default().Run.MaxAttempts
	}
	if cfg.Run.RetryDelayMS < 0 {
		cfg.Run.RetryDelayMS = Default().Run.RetryDelayMS
	}

	out := &cfg.Output
	if out.ResultsDir == "" {
		out.ResultsDir = Default().Output.ResultsDir
	}
	if out.RawDir == "" {
		out.RawDir = filepath.Join(out.ResultsDir, "raw")
	}
	if out.AggregatedCSV == "" {
		out.AggregatedCSV = filepath.Join(out.ResultsDir, "aggregated_results.csv")
	}
	if out.SummaryJSON == "" {
		out.SummaryJSON = filepath.Join(out.ResultsDir, "summary.json")
	}
	if out.FailuresJSON == "" {
		out.FailuresJSON = filepath.Join(out.ResultsDir, "failures.json")
	}
	if out.StorePath == "" {
		out.StorePath = filepath.Join(out.ResultsDir, "sweep.db")
	}
	if out.LogFile == "" {
		out.LogFile = filepath.Join(out.ResultsDir, "sweep.log")
	}
	if out.PlotsDir == "" {
		out.PlotsDir = filepath.Join(out.ResultsDir, "plots")
	}
}

// Validate applies the sweep invariants. It returns a *ConfigError naming
// the offending field; the first violation wins.
func (c Config) Validate() error {
	if c.Service.Model == "" {
		return errConfig("service.model", "model is required")
	}

	switch c.Benchmark.Dataset.Name {
	case DatasetShareGPT, DatasetSonnet, DatasetRandom:
	case DatasetCustom:
		if c.Benchmark.Dataset.Path == "" {
			return errConfig("benchmark.dataset.path", "path is required for the custom dataset")
		}
	default:
		return errConfig("benchmark.dataset.name", "unknown dataset %q", c.Benchmark.Dataset.Name)
	}
	if c.Benchmark.NumPrompts <= 0 {
		return errConfig("benchmark.num_prompts", "must be positive, got %d", c.Benchmark.NumPrompts)
	}

	hasConcurrency := len(c.Sweep.ConcurrencyLevels) > 0
	hasRates := len(c.Sweep.RequestRates) > 0
	if hasConcurrency && hasRates {
		return errConfig("sweep", "concurrency_levels and request_rates are mutually exclusive")
	}
	if !hasConcurrency && !hasRates {
		return errConfig("sweep", "one of concurrency_levels or request_rates is required")
	}
	for i, v := range c.Sweep.ConcurrencyLevels {
		if v <= 0 {
			return errConfig("sweep.concurrency_levels", "entry %d must be positive, got %d", i, v)
		}
	}
	for i, v := range c.Sweep.RequestRates {
		if v <= 0 {
			return errConfig("sweep.request_rates", "entry %d must be positive, got %g", i, v)
		}
	}

	if _, err := ResolveLengths("sweep.input_lengths", c.Sweep.InputLengths); err != nil {
		return err
	}
	if _, err := ResolveLengths("sweep.output_lengths", c.Sweep.OutputLengths); err != nil {
		return err
	}

	if c.Run.MaxAttempts < 1 {
		return errConfig("run.max_attempts", "must be at least 1, got %d", c.Run.MaxAttempts)
	}
	if c.Run.TimeoutS <= 0 {
		return errConfig("run.timeout_s", "must be positive, got %d", c.Run.TimeoutS)
	}
	return nil
}
