package processor

import (
	"testing"

	"github.com/bc-dunia/inferbench/internal/tokenizer"
	"github.com/bc-dunia/inferbench/internal/types"
)

func TestProcessHappyPathComputesBaseMetrics(t *testing.T) {
	ack := int64(100 * 1e6)
	rec := &types.RawRequestRecord{
		XRequestID: "r1",
		Phase:      types.PhaseProfiling,
		StartNs:    0,
		AckNs:      &ack,
		EndNs:      300 * 1e6,
		Raw: &types.ParsedResponse{
			FinalText: "hello world",
			Chunks: []types.Chunk{
				{ReceivedNs: 100 * 1e6, DeltaText: "hello "},
				{ReceivedNs: 200 * 1e6, DeltaText: "world"},
			},
		},
	}

	tok := tokenizer.NewApproximate()
	dict := Process(rec, tok, false)

	if !dict.OK {
		t.Fatal("expected OK=true")
	}
	if got := dict.Metrics["request_latency"].Scalar; got != 300 {
		t.Fatalf("expected request_latency=300ms, got %v", got)
	}
	if got := dict.Metrics["time_to_first_token"].Scalar; got != 100 {
		t.Fatalf("expected ttft=100ms, got %v", got)
	}
	if _, ok := dict.Metrics["inter_chunk_latency"]; !ok {
		t.Fatal("expected inter_chunk_latency to be present")
	}
}

func TestProcessErroredRecordIsMetadataOnly(t *testing.T) {
	rec := &types.RawRequestRecord{
		XRequestID:          "r2",
		Phase:               types.PhaseProfiling,
		Error:               &types.ErrorDetails{Kind: types.ErrorKindHTTP, Code: 500, Message: "boom"},
		InputSequenceLength: 42,
	}
	dict := Process(rec, tokenizer.NewApproximate(), false)
	if dict.OK {
		t.Fatal("expected OK=false")
	}
	if _, ok := dict.Metrics["request_latency"]; ok {
		t.Fatal("errored record should not carry request_latency")
	}
	if got := dict.Metrics["error_isl"].Scalar; got != 42 {
		t.Fatalf("expected error_isl=42, got %v", got)
	}
}

func TestExtractInterTokenLatencyUsesTotalOutputTimeDividedByTokensMinusOne(t *testing.T) {
	ack := int64(0)
	rec := &types.RawRequestRecord{
		AckNs: &ack,
		EndNs: 400 * 1e6,
		Raw:   &types.ParsedResponse{FinalText: "a b c d e"},
	}
	tok := tokenizer.NewApproximate()
	v, ok := extractInterTokenLatency(rec, tok, false)
	if !ok {
		t.Fatal("expected ok=true")
	}
	// 5 tokens -> 4 gaps over 400ms = 100ms/token
	if v.Scalar != 100 {
		t.Fatalf("expected 100ms, got %v", v.Scalar)
	}
}

func TestExtractOutputTokenCountHonorsPreferUsageCounts(t *testing.T) {
	rec := &types.RawRequestRecord{
		Raw: &types.ParsedResponse{
			FinalText: "hello world",
			Usage:     &types.Usage{CompletionTokens: 99},
		},
	}
	tok := tokenizer.NewApproximate()

	v, ok := extractOutputTokenCount(rec, tok, false)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if v.Scalar != 2 {
		t.Fatalf("preferUsageCounts=false: expected tokenizer count 2, got %v", v.Scalar)
	}

	v, ok = extractOutputTokenCount(rec, tok, true)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if v.Scalar != 99 {
		t.Fatalf("preferUsageCounts=true: expected usage count 99, got %v", v.Scalar)
	}
}
