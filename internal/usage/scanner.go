// Package usage extracts and accumulates token-usage samples from an
// agent adapter's structured output lines.
package usage

import (
	"encoding/json"

	"github.com/ralph-tui/ralph-tui/internal/core"
)

// inputTokenKeys/outputTokenKeys/etc are the vendor field-name variants
// this scanner recognizes, reflecting that different agent CLIs surface
// usage under different JSON keys within their JSONL stream.
var (
	inputTokenKeys = []string{"inputTokens", "prompt_tokens", "input_tokens"}
	outputTokenKeys = []string{"outputTokens", "completion_tokens", "output_tokens"}
	totalTokenKeys = []string{"totalTokens", "total_tokens"}
	contextWinKeys = []string{"contextWindowTokens", "max_tokens"}
	remainingKeys = []string{"remainingContextTokens"}
	remainingPctKey = []string{"remainingContextPercent"}
)

// Scan extracts the strongest-signal TokenUsageSample from one decoded
// JSON line, scored by how many recognized fields it populates. ok is
// false if the line carries no usage signal at all.
func Scan(line map[string]interface{}) (sample core.TokenUsageSample, ok bool) {
	if v, found := firstInt(line, inputTokenKeys); found {
		sample.InputTokens = v
		sample.Score++
	}
	if v, found := firstInt(line, outputTokenKeys); found {
		sample.OutputTokens = v
		sample.Score++
	}
	if v, found := firstInt(line, totalTokenKeys); found {
		sample.TotalTokens = v
		sample.Score++
	} else if sample.InputTokens > 0 || sample.OutputTokens > 0 {
		sample.TotalTokens = sample.InputTokens + sample.OutputTokens
	}

	if v, found := firstInt(line, contextWinKeys); found && v > 10000 {
		sample.ContextWindowTokens = v
		sample.Score++
	}
	if v, found := firstInt(line, remainingKeys); found {
		sample.RemainingContextTokens = v
		sample.Score++
	}
	if v, found := firstFloat(line, remainingPctKey); found {
		if v > 1 {
			v = v / 100
		}
		sample.RemainingContextPercent = v
		sample.Score++
	}

	return sample, sample.Score > 0
}

// ScanRawLine decodes raw as JSON and scans it. Parse failures are
// treated as no-signal, per the runner's JSONL tolerance policy.
func ScanRawLine(raw []byte) (core.TokenUsageSample, bool) {
	var line map[string]interface{}
	if err := json.Unmarshal(raw, &line); err != nil {
		return core.TokenUsageSample{}, false
	}
	return Scan(line)
}

func firstInt(m map[string]interface{}, keys []string) (int, bool) {
	for _, k := range keys {
		v, found := m[k]
		if !found {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int(n), true
		case int:
			return n, true
		}
	}
	return 0, false
}

func firstFloat(m map[string]interface{}, keys []string) (float64, bool) {
	for _, k := range keys {
		v, found := m[k]
		if !found {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		}
	}
	return 0, false
}

// Accumulator sums TokenUsageSamples into a per-task UsageSummary: token
// counts are additive; context-window fields take the most-recent
// sample's values.
type Accumulator struct {
	summary core.UsageSummary
}

// NewAccumulator returns a zeroed Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Add folds one sample into the running summary.
func (a *Accumulator) Add(sample core.TokenUsageSample) {
	a.summary.InputTokens += sample.InputTokens
	a.summary.OutputTokens += sample.OutputTokens
	a.summary.TotalTokens += sample.TotalTokens
	if sample.ContextWindowTokens > 0 {
		a.summary.ContextWindowTokens = sample.ContextWindowTokens
	}
	if sample.RemainingContextTokens > 0 {
		a.summary.RemainingTokens = sample.RemainingContextTokens
	}
}

// Summary returns the accumulated UsageSummary.
func (a *Accumulator) Summary() core.UsageSummary {
	return a.summary
}
