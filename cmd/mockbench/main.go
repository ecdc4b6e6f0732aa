// Command mockbench impersonates "vllm bench serve" for demos and
// integration tests. It accepts the same flags, synthesizes plausible
// latency and throughput numbers from the seed and sweep parameters, and
// writes the same result JSON the real tool saves. The numbers are
// deterministic for a given flag set.
//
// Failure paths can be forced through the environment:
//
//	MOCKBENCH_EXIT=N       exit with code N without writing a result
//	MOCKBENCH_STDERR=msg   print msg to stderr before exiting
//	MOCKBENCH_SLEEP_MS=N   sleep before doing anything (timeout testing)
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type benchSummary struct {
	TotalTime    float64 `json:"total_time"`
	Completed    int     `json:"completed"`
	Throughput   float64 `json:"throughput"`
	MeanTTFTMS   float64 `json:"mean_ttft_ms"`
	MedianTTFTMS float64 `json:"median_ttft_ms"`
	P99TTFTMS    float64 `json:"p99_ttft_ms"`
	MeanITLMS    float64 `json:"mean_itl_ms"`
	MedianITLMS  float64 `json:"median_itl_ms"`
	P99ITLMS     float64 `json:"p99_itl_ms"`
	MeanTPOTMS   float64 `json:"mean_tpot_ms"`
	MedianTPOTMS float64 `json:"median_tpot_ms"`
	P99TPOTMS    float64 `json:"p99_tpot_ms"`
}

type benchDocument struct {
	Model           string       `json:"model"`
	Tokenizer       string       `json:"tokenizer"`
	Backend         string       `json:"backend"`
	BaseURL         string       `json:"base_url"`
	Endpoint        string       `json:"endpoint"`
	DatasetName     string       `json:"dataset_name"`
	DatasetPath     string       `json:"dataset_path,omitempty"`
	NumPrompts      int          `json:"num_prompts"`
	InputLen        int          `json:"random_input_len"`
	OutputLen       int          `json:"random_output_len"`
	Seed            int64        `json:"seed"`
	MaxConcurrency  int          `json:"max_concurrency,omitempty"`
	RequestRate     float64      `json:"request_rate,omitempty"`
	TrustRemoteCode bool         `json:"trust_remote_code,omitempty"`
	Summary         benchSummary `json:"summary"`
}

func main() {
	args := os.Args[1:]
	// The real tool is invoked as "vllm bench serve"; accept and drop the
	// same subcommand words so sweep configs only need to swap the command.
	if len(args) >= 2 && args[0] == "bench" && args[1] == "serve" {
		args = args[2:]
	}

	fs := flag.NewFlagSet("mockbench", flag.ExitOnError)
	model := fs.String("model", "", "model name")
	tokenizer := fs.String("tokenizer", "", "tokenizer name")
	backend := fs.String("backend", "openai", "serving backend")
	baseURL := fs.String("base-url", "http://localhost:8000", "server base url")
	endpoint := fs.String("endpoint", "/v1/completions", "completion endpoint")
	datasetName := fs.String("dataset-name", "sharegpt", "dataset name")
	datasetPath := fs.String("dataset-path", "", "dataset path")
	numPrompts := fs.Int("num-prompts", 100, "number of prompts")
	inputLen := fs.Int("random-input-len", 128, "random input length")
	outputLen := fs.Int("random-output-len", 128, "random output length")
	seed := fs.Int64("seed", 0, "rng seed")
	maxConcurrency := fs.Int("max-concurrency", 0, "concurrent request cap")
	requestRate := fs.Float64("request-rate", 0, "request rate per second")
	saveResult := fs.Bool("save-result", false, "write the result file")
	resultDir := fs.String("result-dir", ".", "result directory")
	resultFilename := fs.String("result-filename", "result.json", "result file name")
	trustRemoteCode := fs.Bool("trust-remote-code", false, "accepted for compatibility")
	_ = fs.Parse(args)

	if ms, ok := envInt("MOCKBENCH_SLEEP_MS"); ok {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}
	if code, ok := envInt("MOCKBENCH_EXIT"); ok {
		if msg := os.Getenv("MOCKBENCH_STDERR"); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	doc := benchDocument{
		Model:           *model,
		Tokenizer:       *tokenizer,
		Backend:         *backend,
		BaseURL:         *baseURL,
		Endpoint:        *endpoint,
		DatasetName:     *datasetName,
		DatasetPath:     *datasetPath,
		NumPrompts:      *numPrompts,
		InputLen:        *inputLen,
		OutputLen:       *outputLen,
		Seed:            *seed,
		MaxConcurrency:  *maxConcurrency,
		RequestRate:     *requestRate,
		TrustRemoteCode: *trustRemoteCode,
	}
	doc.Summary = synthesize(doc)

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal result: %v\n", err)
		os.Exit(1)
	}

	if !*saveResult {
		fmt.Println(string(payload))
		return
	}
	if err := os.MkdirAll(*resultDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create result dir: %v\n", err)
		os.Exit(1)
	}
	path := filepath.Join(*resultDir, *resultFilename)
	if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write result: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("result written to %s\n", path)
}

// synthesize derives summary metrics from the benchmark parameters. TTFT
// grows with prompt length and concurrency, ITL with concurrency, and
// throughput scales with concurrency against the per-stream decode rate.
func synthesize(doc benchDocument) benchSummary {
	load := 1.0
	switch {
	case doc.MaxConcurrency > 0:
		load = float64(doc.MaxConcurrency)
	case doc.RequestRate > 0:
		// An open-loop arrival rate keeps roughly rate*latency requests in
		// flight; 1.5 is a crude stand-in for that product.
		load = doc.RequestRate*1.5 + 1
	}

	src := rand.New(rand.NewSource(runSeed(doc)))
	jitter := func(v float64) float64 { return v * (0.97 + 0.06*src.Float64()) }

	ttftMedian := jitter(18 + 0.04*float64(doc.InputLen) + 6*load)
	itlMedian := jitter(7 + 1.8*load)
	ttftP99 := ttftMedian * jitter(2.4)
	itlP99 := itlMedian * jitter(2.1)

	perStream := 1000 / itlMedian
	throughput := jitter(perStream * load * 0.92)
	totalTokens := float64(doc.NumPrompts * doc.OutputLen)

	return benchSummary{
		TotalTime:    totalTokens / throughput,
		Completed:    doc.NumPrompts,
		Throughput:   throughput,
		MeanTTFTMS:   ttftMedian * 1.08,
		MedianTTFTMS: ttftMedian,
		P99TTFTMS:    ttftP99,
		MeanITLMS:    itlMedian * 1.05,
		MedianITLMS:  itlMedian,
		P99ITLMS:     itlP99,
		MeanTPOTMS:   itlMedian * 1.05,
		MedianTPOTMS: itlMedian,
		P99TPOTMS:    itlP99,
	}
}

// runSeed folds every sweep axis into the rng seed so each experiment gets
// stable but distinct numbers.
func runSeed(doc benchDocument) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(doc.Model))
	_, _ = h.Write([]byte(doc.DatasetName))
	fmt.Fprintf(h, "|%d|%d|%d|%d|%g", doc.Seed, doc.InputLen, doc.OutputLen, doc.MaxConcurrency, doc.RequestRate)
	return int64(h.Sum64())
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
