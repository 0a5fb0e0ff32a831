package config

import (
	"io"
	"testing"

	"github.com/bc-dunia/inferbench/internal/types"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]string{"-concurrency=4", "-request-count=10"}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.URL != "http://localhost:8000" {
		t.Fatalf("expected default URL, got %q", cfg.URL)
	}
	if cfg.EndpointType != "openai_chat" {
		t.Fatalf("expected default endpoint-type openai_chat, got %q", cfg.EndpointType)
	}
	if !cfg.Streaming {
		t.Fatal("expected streaming to default true")
	}
}

func TestValidateRejectsRateWithFixedSchedule(t *testing.T) {
	cfg := &Config{RequestRate: 5, FixedSchedule: true, EndpointType: "openai_chat", RequestRateMode: "constant", CustomDatasetType: "mooncake_trace", SequenceDistribution: DistributionNormal, WorkersMax: 1, RecordProcessors: 1, BenchmarkDurationSeconds: 10}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected ConfigError")
	}
	details, ok := err.(*types.ErrorDetails)
	if !ok || details.Kind != types.ErrorKindConfig {
		t.Fatalf("expected *types.ErrorDetails{Kind: ConfigError}, got %#v", err)
	}
}

func TestValidateRejectsSliceDurationNotSmallerThanBenchmarkDuration(t *testing.T) {
	cfg := &Config{Concurrency: 1, EndpointType: "openai_chat", RequestRateMode: "constant", CustomDatasetType: "single_turn", SequenceDistribution: DistributionNormal, WorkersMax: 1, RecordProcessors: 1, BenchmarkDurationSeconds: 10, SliceDurationSeconds: 10}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected ConfigError for slice-duration >= benchmark-duration")
	}
}

func TestValidateRejectsUnsupportedEndpointType(t *testing.T) {
	cfg := &Config{Concurrency: 1, EndpointType: "grpc_chat", RequestRateMode: "constant", CustomDatasetType: "single_turn", SequenceDistribution: DistributionNormal, WorkersMax: 1, RecordProcessors: 1, BenchmarkDurationSeconds: 10}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected ConfigError for unsupported endpoint-type")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := &Config{Concurrency: 4, EndpointType: "openai_chat", RequestRateMode: "constant", CustomDatasetType: "single_turn", SequenceDistribution: DistributionNormal, WorkersMax: 2, RecordProcessors: 2, RequestCount: 100, StallTimeoutSeconds: 15, TracingExporter: "none", MetricsExporter: "none"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSchedulerModeSelection(t *testing.T) {
	rate := &Config{RequestRate: 5}
	if rate.SchedulerMode() != "rate" {
		t.Fatalf("expected rate mode, got %s", rate.SchedulerMode())
	}
	fixed := &Config{FixedSchedule: true}
	if fixed.SchedulerMode() != "fixed_schedule" {
		t.Fatalf("expected fixed_schedule mode, got %s", fixed.SchedulerMode())
	}
	conc := &Config{Concurrency: 8}
	if conc.SchedulerMode() != "concurrency" {
		t.Fatalf("expected concurrency mode, got %s", conc.SchedulerMode())
	}
}
