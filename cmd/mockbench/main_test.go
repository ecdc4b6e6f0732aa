package main

import (
	"encoding/json"
	"testing"

	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/bench"
)

func sampleDoc() benchDocument {
	return benchDocument{
		Model:          "meta-llama/Llama-3.1-8B-Instruct",
		Tokenizer:      "meta-llama/Llama-3.1-8B-Instruct",
		Backend:        "openai",
		BaseURL:        "http://localhost:8000",
		Endpoint:       "/v1/completions",
		DatasetName:    "sharegpt",
		NumPrompts:     100,
		InputLen:       256,
		OutputLen:      128,
		Seed:           42,
		MaxConcurrency: 4,
	}
}

func TestSynthesizeDeterministic(t *testing.T) {
	a := synthesize(sampleDoc())
	b := synthesize(sampleDoc())
	if a != b {
		t.Fatalf("same parameters produced different summaries:\n%+v\n%+v", a, b)
	}

	changed := sampleDoc()
	changed.Seed = 43
	if c := synthesize(changed); c == a {
		t.Fatalf("changed seed produced an identical summary")
	}
}

func TestSynthesizeLoadScaling(t *testing.T) {
	low := sampleDoc()
	low.MaxConcurrency = 1
	high := sampleDoc()
	high.MaxConcurrency = 16

	ls := synthesize(low)
	hs := synthesize(high)
	if hs.Throughput <= ls.Throughput {
		t.Fatalf("throughput should grow with concurrency: %v vs %v", ls.Throughput, hs.Throughput)
	}
	if hs.MedianITLMS <= ls.MedianITLMS {
		t.Fatalf("itl should grow with concurrency: %v vs %v", ls.MedianITLMS, hs.MedianITLMS)
	}
}

func TestOutputParsesAsRunResult(t *testing.T) {
	doc := sampleDoc()
	doc.Summary = synthesize(doc)
	payload, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	sample, err := bench.ParseResult(payload)
	if err != nil {
		t.Fatalf("sweep parser rejected mockbench output: %v", err)
	}
	if sample.TotalRequests != int64(doc.NumPrompts) {
		t.Fatalf("completed = %d, want %d", sample.TotalRequests, doc.NumPrompts)
	}
	if sample.ThroughputTokensPS != doc.Summary.Throughput {
		t.Fatalf("throughput = %v, want %v", sample.ThroughputTokensPS, doc.Summary.Throughput)
	}
	if sample.TTFTMedianMS != doc.Summary.MedianTTFTMS {
		t.Fatalf("ttft median = %v, want %v", sample.TTFTMedianMS, doc.Summary.MedianTTFTMS)
	}
}
