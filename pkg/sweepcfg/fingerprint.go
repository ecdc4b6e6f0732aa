package sweepcfg

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Fingerprint returns a stable SHA-256 hex digest over the fields that
// determine the experiment matrix and its workload: model, tokenizer,
// dataset, prompt count, seed, the active load axis and both resolved
// length axes. Two configs with equal fingerprints produce interchangeable
// result rows, which is what makes resuming against an existing results
// store safe.
func (c Config) Fingerprint() (string, error) {
	inputs, err := ResolveLengths("sweep.input_lengths", c.Sweep.InputLengths)
	if err != nil {
		return "", err
	}
	outputs, err := ResolveLengths("sweep.output_lengths", c.Sweep.OutputLengths)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "model=%s\n", c.Service.Model)
	fmt.Fprintf(&b, "tokenizer=%s\n", c.Service.Tokenizer)
	fmt.Fprintf(&b, "dataset=%s:%s\n", c.Benchmark.Dataset.Name, c.Benchmark.Dataset.Path)
	fmt.Fprintf(&b, "num_prompts=%d\n", c.Benchmark.NumPrompts)
	fmt.Fprintf(&b, "seed=%d\n", c.Benchmark.Seed)
	if len(c.Sweep.ConcurrencyLevels) > 0 {
		b.WriteString("load=concurrency:")
		writeInts(&b, c.Sweep.ConcurrencyLevels)
	} else {
		b.WriteString("load=request_rate:")
		writeFloats(&b, c.Sweep.RequestRates)
	}
	b.WriteString("input_lengths=")
	writeInts(&b, inputs)
	b.WriteString("output_lengths=")
	writeInts(&b, outputs)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

func writeInts(b *strings.Builder, vs []int) {
	for i, v := range vs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	b.WriteByte('\n')
}

func writeFloats(b *strings.Builder, vs []float64) {
	for i, v := range vs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	b.WriteByte('\n')
}
