package bench

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// MetricSample holds the per-run metrics parsed from the external tool's
// result document. A sample is never mutated after parsing.
type MetricSample struct {
	TTFTMedianMS       float64 `json:"ttft_median_ms"`
	TTFTP99MS          float64 `json:"ttft_p99_ms"`
	ITLMedianMS        float64 `json:"itl_median_ms"`
	ITLP99MS           float64 `json:"itl_p99_ms"`
	ThroughputTokensPS float64 `json:"throughput_tokens_per_s"`
	TotalRequests      int64   `json:"total_requests"`
	DurationS          float64 `json:"duration_s"`
}

// RunOutcome is the terminal result of one experiment after the retry policy
// is exhausted or a result is obtained. Metrics is set exactly when the run
// succeeded; Reason and the consumed Attempts describe an exhausted run.
type RunOutcome struct {
	RunID    int           `json:"run_id"`
	Metrics  *MetricSample `json:"metrics,omitempty"`
	Reason   ErrorKind     `json:"reason,omitempty"`
	Attempts int           `json:"attempts"`
}

// Succeeded reports whether the run produced metrics.
func (o RunOutcome) Succeeded() bool {
	return o.Metrics != nil
}

// resultSchema constrains the document the external benchmark tool writes:
// a summary object with the latency/throughput fields the aggregator needs,
// all non-negative.
const resultSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["summary"],
  "properties": {
    "summary": {
      "type": "object",
      "required": [
        "total_time",
        "completed",
        "throughput",
        "median_ttft_ms",
        "p99_ttft_ms",
        "median_itl_ms",
        "p99_itl_ms"
      ],
      "properties": {
        "total_time": {"type": "number", "minimum": 0},
        "completed": {"type": "integer", "minimum": 0},
        "throughput": {"type": "number", "minimum": 0},
        "mean_ttft_ms": {"type": "number", "minimum": 0},
        "median_ttft_ms": {"type": "number", "minimum": 0},
        "p99_ttft_ms": {"type": "number", "minimum": 0},
        "mean_tpot_ms": {"type": "number", "minimum": 0},
        "median_tpot_ms": {"type": "number", "minimum": 0},
        "p99_tpot_ms": {"type": "number", "minimum": 0},
        "mean_itl_ms": {"type": "number", "minimum": 0},
        "median_itl_ms": {"type": "number", "minimum": 0},
        "p99_itl_ms": {"type": "number", "minimum": 0}
      }
    }
  }
}`

type resultDocument struct {
	Summary resultSummary `json:"summary"`
}

type resultSummary struct {
	TotalTime    float64 `json:"total_time"`
	Completed    int64   `json:"completed"`
	Throughput   float64 `json:"throughput"`
	MedianTTFTMS float64 `json:"median_ttft_ms"`
	P99TTFTMS    float64 `json:"p99_ttft_ms"`
	MedianITLMS  float64 `json:"median_itl_ms"`
	P99ITLMS     float64 `json:"p99_itl_ms"`
}

// ParseResult validates a raw result document against the expected schema
// and maps it into a MetricSample. Any violation is a parse failure.
func ParseResult(raw []byte) (MetricSample, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(resultSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return MetricSample{}, runErrorf(ErrorParse, "validate result document: %v", err)
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, issue := range result.Errors() {
			issues = append(issues, issue.String())
		}
		return MetricSample{}, runErrorf(ErrorParse,
			"result document failed schema validation: %s", strings.Join(issues, "; "))
	}

	var doc resultDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return MetricSample{}, runErrorf(ErrorParse, "unmarshal result document: %v", err)
	}

	return MetricSample{
		TTFTMedianMS:       doc.Summary.MedianTTFTMS,
		TTFTP99MS:          doc.Summary.P99TTFTMS,
		ITLMedianMS:        doc.Summary.MedianITLMS,
		ITLP99MS:           doc.Summary.P99ITLMS,
		ThroughputTokensPS: doc.Summary.Throughput,
		TotalRequests:      doc.Summary.Completed,
		DurationS:          doc.Summary.TotalTime,
	}, nil
}
