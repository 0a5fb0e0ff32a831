package aggregator

import (
	"testing"

	"github.com/bc-dunia/inferbench/internal/types"
)

func TestPercentileLinearInterpolation(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50}
	// rank = 0.5*(5-1) = 2.0 -> sorted[2] = 30
	if got := percentile(sorted, 50); got != 30 {
		t.Fatalf("expected p50=30, got %v", got)
	}
	// rank = 0.9*4 = 3.6 -> sorted[3] + 0.6*(sorted[4]-sorted[3]) = 40+6=46
	if got := percentile(sorted, 90); got != 46 {
		t.Fatalf("expected p90=46, got %v", got)
	}
}

func TestProcessDedupesByXRequestID(t *testing.T) {
	a := New(Config{})
	dict := types.MetricRecordDict{
		XRequestID: "r1",
		Phase:      types.PhaseProfiling,
		OK:         true,
		EndNs:      100,
		Metrics:    map[string]types.MetricValue{"request_latency": {Scalar: 10}},
		Unit:       map[string]string{"request_latency": "ms"},
	}
	a.Process(dict)
	a.Process(dict)

	report := a.Seal()
	if report.RequestCount != 1 {
		t.Fatalf("expected request_count=1 after duplicate ingest, got %d", report.RequestCount)
	}
	if got := report.RecordStats["request_latency"].Count; got != 1 {
		t.Fatalf("expected one sample in request_latency vector, got %d", got)
	}
}

func TestWarmupRecordsExcludedFromStats(t *testing.T) {
	a := New(Config{})
	a.Process(types.MetricRecordDict{
		XRequestID: "w1",
		Phase:      types.PhaseWarmup,
		OK:         true,
		Metrics:    map[string]types.MetricValue{"request_latency": {Scalar: 999}},
	})
	a.Process(types.MetricRecordDict{
		XRequestID: "p1",
		Phase:      types.PhaseProfiling,
		OK:         true,
		EndNs:      50,
		Metrics:    map[string]types.MetricValue{"request_latency": {Scalar: 10}},
	})

	report := a.Seal()
	if report.RequestCount != 1 {
		t.Fatalf("expected warmup record excluded from request_count, got %d", report.RequestCount)
	}
	if got := report.RecordStats["request_latency"].Mean; got != 10 {
		t.Fatalf("expected warmup sample excluded from stats, mean=%v", got)
	}
}

func TestDerivedThroughputAndGoodput(t *testing.T) {
	slo, err := ParseSLOs("request_latency:100")
	if err != nil {
		t.Fatalf("ParseSLOs: %v", err)
	}
	a := New(Config{SLOs: slo})
	a.MarkProfilingStart(0)

	a.Process(types.MetricRecordDict{
		XRequestID: "p1", Phase: types.PhaseProfiling, OK: true, EndNs: int64(1e9),
		Metrics: map[string]types.MetricValue{
			"request_latency":    {Scalar: 50},
			"output_token_count": {Scalar: 20},
		},
	})
	a.Process(types.MetricRecordDict{
		XRequestID: "p2", Phase: types.PhaseProfiling, OK: true, EndNs: int64(2e9),
		Metrics: map[string]types.MetricValue{
			"request_latency":    {Scalar: 200}, // violates SLO
			"output_token_count": {Scalar: 30},
		},
	})

	report := a.Seal()
	if report.BenchmarkDurationSeconds != 2 {
		t.Fatalf("expected duration=2s, got %v", report.BenchmarkDurationSeconds)
	}
	if report.RequestThroughput != 1 {
		t.Fatalf("expected request_throughput=1 req/s, got %v", report.RequestThroughput)
	}
	if report.OutputTokenThroughput != 25 {
		t.Fatalf("expected output_token_throughput=25 tok/s, got %v", report.OutputTokenThroughput)
	}
	if report.Goodput != 0.5 {
		t.Fatalf("expected goodput=0.5 (1 of 2 met SLO) over 2s, got %v", report.Goodput)
	}
}

type fakeSink struct{ freed int }

func (f *fakeSink) Free() { f.freed++ }

func TestCreditFreedCalledOncePerRecord(t *testing.T) {
	sink := &fakeSink{}
	a := New(Config{CreditFreed: sink})
	a.Process(types.MetricRecordDict{XRequestID: "p1", Phase: types.PhaseProfiling, OK: true})
	a.Process(types.MetricRecordDict{XRequestID: "p1", Phase: types.PhaseProfiling, OK: true})
	a.Process(types.MetricRecordDict{XRequestID: "w1", Phase: types.PhaseWarmup, OK: true})

	if sink.freed != 2 {
		t.Fatalf("expected Free() called twice (one profiling + one warmup, dup suppressed), got %d", sink.freed)
	}
}

func TestTimeslicingBucketsByFloorDivision(t *testing.T) {
	a := New(Config{SliceDurationNs: int64(1e9)})
	a.MarkProfilingStart(0)

	a.Process(types.MetricRecordDict{
		XRequestID: "p1", Phase: types.PhaseProfiling, OK: true, EndNs: int64(0.5e9),
		Metrics: map[string]types.MetricValue{"request_latency": {Scalar: 10}},
	})
	a.Process(types.MetricRecordDict{
		XRequestID: "p2", Phase: types.PhaseProfiling, OK: true, EndNs: int64(1.5e9),
		Metrics: map[string]types.MetricValue{"request_latency": {Scalar: 20}},
	})

	report := a.Seal()
	if len(report.Slices) != 2 {
		t.Fatalf("expected 2 timeslices, got %d", len(report.Slices))
	}
	if report.Slices[0].Index != 0 || report.Slices[1].Index != 1 {
		t.Fatalf("expected slice indices 0,1, got %d,%d", report.Slices[0].Index, report.Slices[1].Index)
	}
}
