// Package config parses and validates the profile command's CLI
// surface (spec.md §6). Flags are parsed with the standard library
// flag package, matching every cmd/*/main.go in the teacher repo — no
// flags framework or env-file loader is used anywhere in the pack.
package config

import (
	"flag"
	"fmt"
	"io"

	"github.com/bc-dunia/inferbench/internal/aggregator"
	"github.com/bc-dunia/inferbench/internal/otel"
	"github.com/bc-dunia/inferbench/internal/scheduler"
	"github.com/bc-dunia/inferbench/internal/types"
)

// SequenceDistribution names a token-length distribution. Validate
// accepts these values, but synthetic generation does not read the
// field: lengths always come from the ISL/OSL mean and stddev flags.
type SequenceDistribution string

const (
	DistributionNormal  SequenceDistribution = "normal"
	DistributionUniform SequenceDistribution = "uniform"
	DistributionFixed   SequenceDistribution = "fixed"
)

// Config is the fully parsed and validated set of profile flags.
type Config struct {
	// Endpoint
	Model                 string
	URL                   string
	EndpointType           string
	Streaming             bool
	RequestTimeoutSeconds float64
	StallTimeoutSeconds   float64
	APIKey                string

	// Input
	InputFile              string
	CustomDatasetType      string
	FixedSchedule          bool
	FixedScheduleAutoOffset bool
	FixedScheduleStartOffsetMs int64
	FixedScheduleEndOffsetMs   int64
	RandomSeed              int64

	// Load
	Concurrency             int
	RequestRate             float64
	RequestRateMode         string
	RequestCount            int
	BenchmarkDurationSeconds   float64
	BenchmarkGracePeriodSeconds float64
	WarmupRequestCount      int
	RequestCancellationRatePercent float64
	RequestCancellationDelaySeconds float64

	// Conversation
	ConversationNum             int
	ConversationTurnMean        float64
	ConversationTurnStddev      float64
	ConversationTurnDelayMeanMs   float64
	ConversationTurnDelayStddevMs float64
	ConversationTurnDelayRatio    float64

	// Lengths
	ISLMean, ISLStddev float64
	OSLMean, OSLStddev float64
	SequenceDistribution SequenceDistribution
	PromptPrefixPoolSize int
	PromptPrefixLength    int

	// Output
	ArtifactDir string
	RunName     string

	// Service
	WorkersMax       int
	RecordProcessors int

	SliceDurationSeconds float64

	// Goodput
	Goodput string

	// New flag beyond spec.md's original list (SPEC_FULL §9 open
	// question: tokenizer counts vs. endpoint-reported usage counts).
	PreferUsageCounts bool

	// Telemetry (SPEC_FULL ambient-stack addition; not in spec.md's
	// own flag list, since observability is named a Non-goal there
	// only for the exported artifacts, not for the run process itself).
	TracingExporter string
	MetricsExporter string
	OTLPEndpoint    string
	TraceSampleRate float64
}

// Parse reads flags from args (excluding argv[0]) into a Config with
// spec.md §6's defaults, then validates it.
func Parse(args []string, stderr io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &Config{}

	fs.StringVar(&cfg.Model, "model", "", "model name sent to the endpoint")
	fs.StringVar(&cfg.URL, "url", "http://localhost:8000", "inference server base URL")
	fs.StringVar(&cfg.EndpointType, "endpoint-type", "openai_chat", "one of openai_chat, openai_completions, openai_embeddings, rank")
	fs.BoolVar(&cfg.Streaming, "streaming", true, "use streaming (SSE) requests where the endpoint type supports it")
	fs.Float64Var(&cfg.RequestTimeoutSeconds, "request-timeout-seconds", 600, "per-request timeout")
	fs.Float64Var(&cfg.StallTimeoutSeconds, "stall-timeout-seconds", 15, "seconds of no stream activity (no SSE chunk) before a streaming request is aborted as stalled")
	fs.StringVar(&cfg.APIKey, "api-key", "", "bearer token sent as Authorization header")

	fs.StringVar(&cfg.InputFile, "input-file", "", "path to a dataset JSONL file")
	fs.StringVar(&cfg.CustomDatasetType, "custom-dataset-type", "single_turn", "one of single_turn, mooncake_trace, multi_turn, random_pool")
	fs.BoolVar(&cfg.FixedSchedule, "fixed-schedule", false, "replay mooncake_trace timestamps instead of generating synthetic arrivals")
	fs.BoolVar(&cfg.FixedScheduleAutoOffset, "fixed-schedule-auto-offset", true, "anchor the trace's first timestamp to run start")
	fs.Int64Var(&cfg.FixedScheduleStartOffsetMs, "fixed-schedule-start-offset", 0, "skip trace entries before this offset (ms)")
	fs.Int64Var(&cfg.FixedScheduleEndOffsetMs, "fixed-schedule-end-offset", 0, "stop admitting trace entries after this offset (ms); 0 = no bound")
	fs.Int64Var(&cfg.RandomSeed, "random-seed", 0, "root seed for every deterministic sub-RNG")

	fs.IntVar(&cfg.Concurrency, "concurrency", 1, "outstanding-credit ceiling (concurrency mode, or a cap under rate mode)")
	fs.Float64Var(&cfg.RequestRate, "request-rate", 0, "target admissions per second (0 = concurrency mode)")
	fs.StringVar(&cfg.RequestRateMode, "request-rate-mode", "constant", "one of constant, poisson")
	fs.IntVar(&cfg.RequestCount, "request-count", 0, "target profiling request count (0 = duration/trace governs)")
	fs.Float64Var(&cfg.BenchmarkDurationSeconds, "benchmark-duration", 0, "profiling duration in seconds (0 = count/trace governs)")
	fs.Float64Var(&cfg.BenchmarkGracePeriodSeconds, "benchmark-grace-period", 30, "seconds to wait for in-flight requests to finish once duration/count is met")
	fs.IntVar(&cfg.WarmupRequestCount, "warmup-request-count", 0, "requests issued before profiling begins, not counted toward statistics")
	fs.Float64Var(&cfg.RequestCancellationRatePercent, "request-cancellation-rate", 0, "percentage of profiling requests to cancel mid-flight")
	fs.Float64Var(&cfg.RequestCancellationDelaySeconds, "request-cancellation-delay", 0, "seconds after request start before a selected cancellation fires")

	fs.IntVar(&cfg.ConversationNum, "conversation-num", 1, "number of distinct conversations to synthesize")
	fs.Float64Var(&cfg.ConversationTurnMean, "conversation-turn-mean", 1, "mean turns per synthesized conversation")
	fs.Float64Var(&cfg.ConversationTurnStddev, "conversation-turn-stddev", 0, "stddev of turns per synthesized conversation")
	fs.Float64Var(&cfg.ConversationTurnDelayMeanMs, "conversation-turn-delay-mean", 0, "mean inter-turn delay in ms")
	fs.Float64Var(&cfg.ConversationTurnDelayStddevMs, "conversation-turn-delay-stddev", 0, "stddev of inter-turn delay in ms")
	fs.Float64Var(&cfg.ConversationTurnDelayRatio, "conversation-turn-delay-ratio", 1, "scales the sampled inter-turn delay")

	fs.Float64Var(&cfg.ISLMean, "isl-mean", 128, "mean input sequence length in tokens")
	fs.Float64Var(&cfg.ISLStddev, "isl-stddev", 0, "stddev of input sequence length")
	fs.Float64Var(&cfg.OSLMean, "osl-mean", 128, "mean output sequence length in tokens")
	fs.Float64Var(&cfg.OSLStddev, "osl-stddev", 0, "stddev of output sequence length")
	distribution := fs.String("sequence-distribution", "normal", "one of normal, uniform, fixed")
	fs.IntVar(&cfg.PromptPrefixPoolSize, "prompt-prefix-pool-size", 0, "number of shared prompt prefixes to synthesize (0 disables prefix reuse)")
	fs.IntVar(&cfg.PromptPrefixLength, "prompt-prefix-length", 0, "token length of each shared prompt prefix")

	fs.StringVar(&cfg.ArtifactDir, "artifact-dir", "./artifacts", "directory under which <run_name>/ artifacts are written")
	fs.StringVar(&cfg.RunName, "run-name", "run", "subdirectory name under artifact-dir")

	fs.IntVar(&cfg.WorkersMax, "workers-max", 8, "worker pool goroutine count")
	fs.IntVar(&cfg.RecordProcessors, "record-processors", 4, "record processor pool goroutine count")
	fs.Float64Var(&cfg.SliceDurationSeconds, "slice-duration", 0, "wall-clock timeslice width in seconds (0 disables timeslicing)")

	fs.StringVar(&cfg.Goodput, "goodput", "", `SLO predicates, e.g. "time_to_first_token:500 inter_token_latency:50"`)

	fs.BoolVar(&cfg.PreferUsageCounts, "prefer-usage-counts", false, "prefer endpoint-reported usage token counts over the tokenizer when both are available")

	fs.StringVar(&cfg.TracingExporter, "tracing-exporter", "none", "one of none, stdout, otlp-grpc, otlp-http")
	fs.StringVar(&cfg.MetricsExporter, "metrics-exporter", "none", "one of none, stdout, otlp-grpc, otlp-http")
	fs.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", "", "endpoint for otlp-grpc/otlp-http exporters")
	fs.Float64Var(&cfg.TraceSampleRate, "trace-sample-rate", 1.0, "fraction of traces to sample, in [0,1]")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.SequenceDistribution = SequenceDistribution(*distribution)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces spec.md §7's ConfigError combinations. Returns a
// *types.ErrorDetails wrapping ConfigError on failure.
func (c *Config) Validate() error {
	if c.RequestRate > 0 && c.FixedSchedule {
		return configError("request-rate is incompatible with fixed-schedule: trace timestamps already determine arrival times")
	}
	if c.SliceDurationSeconds > 0 && c.BenchmarkDurationSeconds > 0 && c.SliceDurationSeconds >= c.BenchmarkDurationSeconds {
		return configError("slice-duration must be smaller than benchmark-duration")
	}
	switch c.EndpointType {
	case "openai_chat", "openai_completions", "openai_embeddings", "rank":
	default:
		return configError(fmt.Sprintf("unsupported endpoint-type %q", c.EndpointType))
	}
	switch scheduler.RateMode(c.RequestRateMode) {
	case scheduler.RateModeConstant, scheduler.RateModePoisson:
	default:
		return configError(fmt.Sprintf("unsupported request-rate-mode %q", c.RequestRateMode))
	}
	switch c.CustomDatasetType {
	case "single_turn", "mooncake_trace", "multi_turn", "random_pool":
	default:
		return configError(fmt.Sprintf("unsupported custom-dataset-type %q", c.CustomDatasetType))
	}
	switch c.SequenceDistribution {
	case DistributionNormal, DistributionUniform, DistributionFixed:
	default:
		return configError(fmt.Sprintf("unsupported sequence-distribution %q", c.SequenceDistribution))
	}
	if c.FixedSchedule && c.CustomDatasetType != "mooncake_trace" {
		return configError("fixed-schedule requires custom-dataset-type=mooncake_trace")
	}
	if c.Concurrency <= 0 && c.RequestRate <= 0 && !c.FixedSchedule {
		return configError("one of concurrency, request-rate, or fixed-schedule must select a traffic mode")
	}
	if c.RequestCancellationRatePercent < 0 || c.RequestCancellationRatePercent > 100 {
		return configError("request-cancellation-rate must be within [0,100]")
	}
	if c.StallTimeoutSeconds <= 0 {
		return configError("stall-timeout-seconds must be positive")
	}
	if c.WorkersMax <= 0 {
		return configError("workers-max must be positive")
	}
	if c.RecordProcessors <= 0 {
		return configError("record-processors must be positive")
	}
	if c.RequestCount <= 0 && c.BenchmarkDurationSeconds <= 0 && !c.FixedSchedule {
		return configError("one of request-count, benchmark-duration, or fixed-schedule must bound the run")
	}
	if c.Goodput != "" {
		if _, err := aggregator.ParseSLOs(c.Goodput); err != nil {
			return configError(err.Error())
		}
	}
	for _, exp := range []string{c.TracingExporter, c.MetricsExporter} {
		switch otel.ExporterType(exp) {
		case otel.ExporterNone, otel.ExporterStdout, otel.ExporterOTLPGRPC, otel.ExporterOTLPHTTP:
		default:
			return configError(fmt.Sprintf("unsupported exporter %q", exp))
		}
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return configError("trace-sample-rate must be within [0,1]")
	}
	return nil
}

func configError(message string) error {
	return &types.ErrorDetails{Kind: types.ErrorKindConfig, Message: message}
}

// SchedulerMode derives the scheduler.Mode this config selects.
func (c *Config) SchedulerMode() scheduler.Mode {
	switch {
	case c.FixedSchedule:
		return scheduler.ModeFixedSchedule
	case c.RequestRate > 0:
		return scheduler.ModeRate
	default:
		return scheduler.ModeConcurrency
	}
}

// TracerConfig builds the otel.Config cmd/profile passes to
// otel.NewTracer from the tracing-exporter/otlp-endpoint/
// trace-sample-rate flags.
func (c *Config) TracerConfig() *otel.Config {
	cfg := otel.DefaultConfig()
	cfg.ExporterType = otel.ExporterType(c.TracingExporter)
	cfg.Enabled = cfg.ExporterType != otel.ExporterNone
	cfg.OTLPEndpoint = c.OTLPEndpoint
	cfg.SampleRate = c.TraceSampleRate
	return cfg
}

// MetricsConfig builds the otel.MetricsConfig cmd/profile passes to
// otel.NewMetrics from the metrics-exporter/otlp-endpoint flags.
func (c *Config) MetricsConfig() *otel.MetricsConfig {
	cfg := otel.DefaultMetricsConfig()
	cfg.ExporterType = otel.ExporterType(c.MetricsExporter)
	cfg.Enabled = cfg.ExporterType != otel.ExporterNone
	cfg.OTLPEndpoint = c.OTLPEndpoint
	return cfg
}
