package aggregate

import "sort"

// MetricStats is the mean, minimum and maximum of one metric column.
type MetricStats struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Summary is the derived view over a table's successful rows. It carries no
// timestamps so repeated summarization of the same table stays byte-identical
// when serialized.
type Summary struct {
	TotalExperiments int         `json:"total_experiments"`
	FailedRuns       int         `json:"failed_runs"`
	Models           []string    `json:"models"`
	LoadKind         string      `json:"load_kind"`
	LoadValues       []float64   `json:"load_values"`
	InputLengths     []int       `json:"input_lengths"`
	OutputLengths    []int       `json:"output_lengths"`
	Throughput       MetricStats `json:"throughput_tokens_per_s"`
	TTFTMedianMS     MetricStats `json:"ttft_median_ms"`
	TTFTP99MS        MetricStats `json:"ttft_p99_ms"`
	ITLMedianMS      MetricStats `json:"itl_median_ms"`
	ITLP99MS         MetricStats `json:"itl_p99_ms"`
}

// Summarize reduces the table to summary statistics over the successful rows.
// It mutates nothing and is safe to call any number of times.
func Summarize(t *Table) Summary {
	rows := t.Rows()
	s := Summary{
		TotalExperiments: len(rows),
		FailedRuns:       len(t.Failures()),
		Models:           []string{},
		LoadValues:       []float64{},
		InputLengths:     []int{},
		OutputLengths:    []int{},
	}
	if len(rows) == 0 {
		return s
	}

	s.LoadKind = string(rows[0].LoadKind)
	s.Models = distinctStrings(rows, func(r Row) string { return r.Model })
	s.LoadValues = distinctFloats(rows, func(r Row) float64 { return r.LoadValue })
	s.InputLengths = distinctInts(rows, func(r Row) int { return r.InputLen })
	s.OutputLengths = distinctInts(rows, func(r Row) int { return r.OutputLen })

	s.Throughput = reduce(rows, func(r Row) float64 { return r.Metrics.ThroughputTokensPS })
	s.TTFTMedianMS = reduce(rows, func(r Row) float64 { return r.Metrics.TTFTMedianMS })
	s.TTFTP99MS = reduce(rows, func(r Row) float64 { return r.Metrics.TTFTP99MS })
	s.ITLMedianMS = reduce(rows, func(r Row) float64 { return r.Metrics.ITLMedianMS })
	s.ITLP99MS = reduce(rows, func(r Row) float64 { return r.Metrics.ITLP99MS })
	return s
}

func reduce(rows []Row, pick func(Row) float64) MetricStats {
	stats := MetricStats{Min: pick(rows[0]), Max: pick(rows[0])}
	var sum float64
	for _, r := range rows {
		v := pick(r)
		sum += v
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
	}
	stats.Mean = sum / float64(len(rows))
	return stats
}

func distinctStrings(rows []Row, pick func(Row) string) []string {
	seen := make(map[string]bool, len(rows))
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		v := pick(r)
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func distinctFloats(rows []Row, pick func(Row) float64) []float64 {
	seen := make(map[float64]bool, len(rows))
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		v := pick(r)
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

func distinctInts(rows []Row, pick func(Row) int) []int {
	seen := make(map[int]bool, len(rows))
	out := make([]int, 0, len(rows))
	for _, r := range rows {
		v := pick(r)
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
