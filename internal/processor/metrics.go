// Package processor implements the Record Processor Pool (spec.md §4.5):
// stateless transformation of a RawRequestRecord into a MetricRecordDict.
// Metrics are represented as values rather than classes (spec.md §9
// "dynamic metric registry" design note), grounded on the teacher's
// function-value operation pattern (internal/plugin.OperationFunc).
package processor

import (
	"github.com/bc-dunia/inferbench/internal/tokenizer"
	"github.com/bc-dunia/inferbench/internal/types"
)

// Extractor computes one metric's value from a record and its parsed
// response. It returns ok=false when the metric does not apply (e.g. TTFT
// on a non-streaming response). preferUsageCounts threads through the
// --prefer-usage-counts flag (SPEC_FULL §9 open question) so any
// extractor that counts output tokens can honor it.
type Extractor func(rec *types.RawRequestRecord, tok tokenizer.Tokenizer, preferUsageCounts bool) (value types.MetricValue, ok bool)

// Metric is one entry in the dynamic registry.
type Metric struct {
	Tag       string
	Unit      string
	Kind      types.MetricKind
	Extract   Extractor
}

// Registry is the ordered, fixed set of base metrics from spec.md §4.5.
// Aggregate-only metrics (request_count, error_request_count,
// request_throughput, output_token_throughput, goodput) are computed by
// the aggregator directly from sealed records, not extracted here.
var Registry = []Metric{
	{Tag: "input_sequence_length", Unit: "tokens", Kind: types.MetricKindRecord, Extract: extractInputSequenceLength},
	{Tag: "request_latency", Unit: "ms", Kind: types.MetricKindRecord, Extract: extractRequestLatency},
	{Tag: "time_to_first_token", Unit: "ms", Kind: types.MetricKindRecord, Extract: extractTTFT},
	{Tag: "time_to_first_output_token", Unit: "ms", Kind: types.MetricKindRecord, Extract: extractTTFOT},
	{Tag: "time_to_second_token", Unit: "ms", Kind: types.MetricKindRecord, Extract: extractTTST},
	{Tag: "inter_chunk_latency", Unit: "ms", Kind: types.MetricKindRecord, Extract: extractInterChunkLatency},
	{Tag: "inter_token_latency", Unit: "ms", Kind: types.MetricKindRecord, Extract: extractInterTokenLatency},
	{Tag: "output_token_count", Unit: "tokens", Kind: types.MetricKindRecord, Extract: extractOutputTokenCount},
	{Tag: "reasoning_token_count", Unit: "tokens", Kind: types.MetricKindRecord, Extract: extractReasoningTokenCount},
	{Tag: "output_sequence_length", Unit: "tokens", Kind: types.MetricKindRecord, Extract: extractOutputSequenceLength},
	{Tag: "output_token_throughput_per_user", Unit: "tokens/sec/user", Kind: types.MetricKindRecord, Extract: extractOutputTokenThroughputPerUser},
}

func scalar(v float64) types.MetricValue { return types.MetricValue{Scalar: v} }
func list(v []float64) types.MetricValue { return types.MetricValue{List: v, IsList: true} }

func extractInputSequenceLength(rec *types.RawRequestRecord, tok tokenizer.Tokenizer, preferUsageCounts bool) (types.MetricValue, bool) {
	if rec.InputSequenceLength > 0 {
		return scalar(float64(rec.InputSequenceLength)), true
	}
	return types.MetricValue{}, false
}

func extractRequestLatency(rec *types.RawRequestRecord, _ tokenizer.Tokenizer, _ bool) (types.MetricValue, bool) {
	return scalar(float64(rec.EndNs-rec.StartNs) / 1e6), true
}

func extractTTFT(rec *types.RawRequestRecord, _ tokenizer.Tokenizer, _ bool) (types.MetricValue, bool) {
	if rec.Raw == nil || len(rec.Raw.Chunks) == 0 {
		return types.MetricValue{}, false
	}
	return scalar(float64(rec.Raw.Chunks[0].ReceivedNs-rec.StartNs) / 1e6), true
}

func extractTTFOT(rec *types.RawRequestRecord, _ tokenizer.Tokenizer, _ bool) (types.MetricValue, bool) {
	if rec.Raw == nil {
		return types.MetricValue{}, false
	}
	for _, c := range rec.Raw.Chunks {
		if c.DeltaText != "" {
			return scalar(float64(c.ReceivedNs-rec.StartNs) / 1e6), true
		}
	}
	return types.MetricValue{}, false
}

func extractTTST(rec *types.RawRequestRecord, _ tokenizer.Tokenizer, _ bool) (types.MetricValue, bool) {
	if rec.Raw == nil || len(rec.Raw.Chunks) < 2 {
		return types.MetricValue{}, false
	}
	return scalar(float64(rec.Raw.Chunks[1].ReceivedNs-rec.StartNs) / 1e6), true
}

func extractInterChunkLatency(rec *types.RawRequestRecord, _ tokenizer.Tokenizer, _ bool) (types.MetricValue, bool) {
	if rec.Raw == nil || len(rec.Raw.Chunks) < 2 {
		return types.MetricValue{}, false
	}
	deltas := make([]float64, 0, len(rec.Raw.Chunks)-1)
	for i := 1; i < len(rec.Raw.Chunks); i++ {
		deltas = append(deltas, float64(rec.Raw.Chunks[i].ReceivedNs-rec.Raw.Chunks[i-1].ReceivedNs)/1e6)
	}
	return list(deltas), true
}

// extractInterTokenLatency is total output time (from ack to end,
// excluding the first token already accounted by TTFT) divided by
// (output_tokens-1), per spec.md §4.5.
func extractInterTokenLatency(rec *types.RawRequestRecord, tok tokenizer.Tokenizer, preferUsageCounts bool) (types.MetricValue, bool) {
	outputTokens := countOutputTokens(rec, tok, preferUsageCounts)
	if outputTokens <= 1 || rec.AckNs == nil {
		return types.MetricValue{}, false
	}
	totalOutputNs := rec.EndNs - *rec.AckNs
	itl := float64(totalOutputNs) / 1e6 / float64(outputTokens-1)
	return scalar(itl), true
}

// extractOutputTokenCount honors --prefer-usage-counts (SPEC_FULL §9):
// when set, the endpoint's own completion-token count wins whenever
// present; otherwise the tokenizer's own count of the final text is
// authoritative, falling back to the usage count only when there's no
// final text to tokenize (e.g. a tool-call-only response).
func extractOutputTokenCount(rec *types.RawRequestRecord, tok tokenizer.Tokenizer, preferUsageCounts bool) (types.MetricValue, bool) {
	if rec.Raw == nil {
		return types.MetricValue{}, false
	}
	hasUsage := rec.Raw.Usage != nil && rec.Raw.Usage.CompletionTokens > 0
	if preferUsageCounts && hasUsage {
		return scalar(float64(rec.Raw.Usage.CompletionTokens)), true
	}
	if rec.Raw.FinalText == "" && hasUsage {
		return scalar(float64(rec.Raw.Usage.CompletionTokens)), true
	}
	return scalar(float64(tok.Count(rec.Raw.FinalText))), true
}

func extractReasoningTokenCount(rec *types.RawRequestRecord, tok tokenizer.Tokenizer, _ bool) (types.MetricValue, bool) {
	if rec.Raw == nil || rec.Raw.ReasoningText == "" {
		return scalar(0), true
	}
	return scalar(float64(tok.Count(rec.Raw.ReasoningText))), true
}

func extractOutputSequenceLength(rec *types.RawRequestRecord, tok tokenizer.Tokenizer, preferUsageCounts bool) (types.MetricValue, bool) {
	out, _ := extractOutputTokenCount(rec, tok, preferUsageCounts)
	reasoning, _ := extractReasoningTokenCount(rec, tok, preferUsageCounts)
	return scalar(out.Scalar + reasoning.Scalar), true
}

func extractOutputTokenThroughputPerUser(rec *types.RawRequestRecord, tok tokenizer.Tokenizer, preferUsageCounts bool) (types.MetricValue, bool) {
	if rec.AckNs == nil {
		return types.MetricValue{}, false
	}
	outputSeconds := float64(rec.EndNs-*rec.AckNs) / 1e9
	if outputSeconds <= 0 {
		return types.MetricValue{}, false
	}
	outputTokens := countOutputTokens(rec, tok, preferUsageCounts)
	return scalar(float64(outputTokens) / outputSeconds), true
}

func countOutputTokens(rec *types.RawRequestRecord, tok tokenizer.Tokenizer, preferUsageCounts bool) int {
	v, _ := extractOutputTokenCount(rec, tok, preferUsageCounts)
	return int(v.Scalar)
}
