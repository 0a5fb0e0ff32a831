// Package aggregator implements the Aggregator (spec.md §4.6): it
// collects MetricRecordDicts, maintains running per-metric state, and
// produces the final statistical summary plus optional timeslices.
//
// Running accumulators and count/min/max/mean/std bookkeeping are
// adapted from the teacher's internal/analysis/aggregator.go. Percentile
// computation is grounded on internal/transport/sse_decoder.go's
// percentile() helper (linear interpolation) rather than
// analysis/aggregator.go's own index-truncating computePercentile, since
// spec.md §4.6 mandates the interpolated formula exactly.
package aggregator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/bc-dunia/inferbench/internal/otel"
	"github.com/bc-dunia/inferbench/internal/types"
)

// SLOPredicate is one goodput condition: observed_metric <op> threshold.
type SLOPredicate struct {
	Metric    string
	Op        string // "<=", "<", ">=", ">"
	Threshold float64
}

func (p SLOPredicate) satisfied(value float64) bool {
	switch p.Op {
	case "<=":
		return value <= p.Threshold
	case "<":
		return value < p.Threshold
	case ">=":
		return value >= p.Threshold
	case ">":
		return value > p.Threshold
	default:
		return false
	}
}

// CreditFreedSink is notified once per sealed record so concurrency-mode
// scheduling can release the next credit (spec.md §4.6).
type CreditFreedSink interface {
	Free()
}

// Config parameterizes an Aggregator.
type Config struct {
	SliceDurationNs int64 // 0 disables timeslicing
	SLOs            []SLOPredicate
	CreditFreed     CreditFreedSink
}

// Stat is the finalized per-metric summary (spec.md §4.6).
type Stat struct {
	Count int
	Min   float64
	Max   float64
	Mean  float64
	Std   float64
	P1    float64
	P5    float64
	P10   float64
	P25   float64
	P50   float64
	P75   float64
	P90   float64
	P95   float64
	P99   float64
}

// Slice is one wall-clock timeslice's sealed record metrics.
type Slice struct {
	Index   int
	StartNs int64
	EndNs   int64
	Stats   map[string]Stat
	Unit    map[string]string
}

// Report is the finalized summary produced by Seal.
type Report struct {
	RecordStats map[string]Stat
	Unit        map[string]string

	RequestCount      int
	ErrorRequestCount int
	ErrorsByKind      map[types.ErrorKind]int

	BenchmarkDurationSeconds float64
	RequestThroughput        float64
	OutputTokenThroughput    float64
	Goodput                  float64

	ProfilingStartNs int64
	LastRecordNs     int64

	Slices []Slice
}

// Aggregator accumulates sealed MetricRecordDicts. All mutation happens
// under a single mutex, matching spec.md §5 "Accumulators in the
// aggregator run on a single task — no cross-task mutation."
type Aggregator struct {
	cfg Config

	mu          sync.Mutex
	seen        map[string]bool
	vectors     map[string][]float64
	unit        map[string]string
	warmupCount int

	requestCount      int
	errorRequestCount int
	errorsByKind      map[types.ErrorKind]int
	sumOutputTokens   float64
	goodputCount      int

	profilingStartNs int64
	profilingStarted bool
	pendingSlice     []types.MetricRecordDict
	lastRecordNs     int64

	slices map[int]*sliceAccumulator

	tracer  *otel.Tracer
	metrics *otel.Metrics
}

type sliceAccumulator struct {
	startNs, endNs int64
	vectors        map[string][]float64
	unit           map[string]string
}

func New(cfg Config) *Aggregator {
	return &Aggregator{
		cfg:          cfg,
		seen:         make(map[string]bool),
		vectors:      make(map[string][]float64),
		unit:         make(map[string]string),
		errorsByKind: make(map[types.ErrorKind]int),
		slices:       make(map[int]*sliceAccumulator),
		tracer:       otel.NoopTracer(),
		metrics:      otel.NoopMetrics(),
	}
}

// WithTelemetry attaches a tracer and metrics instance, replacing the
// no-op defaults New installs.
func (a *Aggregator) WithTelemetry(tracer *otel.Tracer, metrics *otel.Metrics) *Aggregator {
	if tracer != nil {
		a.tracer = tracer
	}
	if metrics != nil {
		a.metrics = metrics
	}
	return a
}

// MarkProfilingStart records the duration anchor (spec.md §9 Open
// Question resolution: "first issued profiling credit"). Only the first
// call takes effect, and 0 is a valid anchor. Profiling records processed
// before the anchor is known are held and assigned to their timeslices here.
func (a *Aggregator) MarkProfilingStart(ns int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.profilingStarted {
		return
	}
	a.profilingStartNs = ns
	a.profilingStarted = true
	for _, dict := range a.pendingSlice {
		a.appendSlice(dict)
	}
	a.pendingSlice = nil
}

// Process ingests one MetricRecordDict. Idempotent per x_request_id
// (spec.md §4.6 "A record enters aggregation exactly once"). Wrapped
// in an aggregation-batch span and emits the records-sealed / errors
// metrics (SPEC_FULL.md's observability stack) for every record that
// was not a duplicate.
func (a *Aggregator) Process(dict types.MetricRecordDict) {
	ctx := context.Background()
	_, span := a.tracer.StartAggregationBatchSpan(ctx, otel.AggregationBatchSpanOptions{RecordCount: 1})
	defer span.End()

	accepted, warmup := a.processLocked(dict)
	if !accepted {
		return
	}

	phase := string(dict.Phase)
	a.metrics.RecordSealed(ctx, phase, dict.OK)
	if !warmup && !dict.OK && dict.Error != nil {
		a.metrics.RecordError(ctx, string(dict.Error.Kind))
		otel.RecordError(span, dict.Error, string(dict.Error.Kind), false)
	}
}

// processLocked performs the actual bookkeeping under the mutex.
// Returns accepted=false for a duplicate x_request_id (nothing to
// report), and warmup=true when the record was a warmup record
// (already accounted for and excluded from statistics).
func (a *Aggregator) processLocked(dict types.MetricRecordDict) (accepted, warmup bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.seen[dict.XRequestID] {
		return false, false
	}
	a.seen[dict.XRequestID] = true

	if dict.EndNs > a.lastRecordNs {
		a.lastRecordNs = dict.EndNs
	}

	if dict.Phase == types.PhaseWarmup {
		a.warmupCount++
		if a.cfg.CreditFreed != nil {
			a.cfg.CreditFreed.Free()
		}
		return true, true
	}

	a.requestCount++
	if !dict.OK {
		a.errorRequestCount++
		if dict.Error != nil {
			a.errorsByKind[dict.Error.Kind]++
		}
	}

	for tag, v := range dict.Metrics {
		a.appendVector(a.vectors, tag, v)
		a.unit[tag] = dict.Unit[tag]

		if tag == "output_token_count" {
			a.sumOutputTokens += v.Scalar
		}
	}

	if dict.OK && a.sloSatisfied(dict) {
		a.goodputCount++
	}

	if a.cfg.SliceDurationNs > 0 {
		a.appendSlice(dict)
	}

	if a.cfg.CreditFreed != nil {
		a.cfg.CreditFreed.Free()
	}
	return true, false
}

func (a *Aggregator) appendVector(dst map[string][]float64, tag string, v types.MetricValue) {
	if v.IsList {
		dst[tag] = append(dst[tag], v.List...)
		return
	}
	dst[tag] = append(dst[tag], v.Scalar)
}

func (a *Aggregator) sloSatisfied(dict types.MetricRecordDict) bool {
	if len(a.cfg.SLOs) == 0 {
		return false
	}
	for _, slo := range a.cfg.SLOs {
		v, ok := dict.Metrics[slo.Metric]
		if !ok || !slo.satisfied(v.Scalar) {
			return false
		}
	}
	return true
}

func (a *Aggregator) appendSlice(dict types.MetricRecordDict) {
	if !a.profilingStarted {
		a.pendingSlice = append(a.pendingSlice, dict)
		return
	}
	idx := int((dict.EndNs - a.profilingStartNs) / a.cfg.SliceDurationNs)
	sl, ok := a.slices[idx]
	if !ok {
		sl = &sliceAccumulator{
			startNs: a.profilingStartNs + int64(idx)*a.cfg.SliceDurationNs,
			endNs:   a.profilingStartNs + int64(idx+1)*a.cfg.SliceDurationNs,
			vectors: make(map[string][]float64),
			unit:    make(map[string]string),
		}
		a.slices[idx] = sl
	}
	for tag, v := range dict.Metrics {
		a.appendVector(sl.vectors, tag, v)
		sl.unit[tag] = dict.Unit[tag]
	}
}

// Seal finalizes the run: computes statistics, derived metrics, and
// timeslices. Safe to call once, after the worker pool and processor
// pool have drained.
func (a *Aggregator) Seal() Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	report := Report{
		RecordStats:       computeStats(a.vectors),
		Unit:              a.unit,
		RequestCount:      a.requestCount,
		ErrorRequestCount: a.errorRequestCount,
		ErrorsByKind:      a.errorsByKind,
		ProfilingStartNs:  a.profilingStartNs,
		LastRecordNs:      a.lastRecordNs,
	}

	durationNs := a.lastRecordNs - a.profilingStartNs
	if durationNs > 0 {
		report.BenchmarkDurationSeconds = float64(durationNs) / 1e9
		completed := a.requestCount - a.errorRequestCount
		report.RequestThroughput = float64(completed) / report.BenchmarkDurationSeconds
		report.OutputTokenThroughput = a.sumOutputTokens / report.BenchmarkDurationSeconds
		report.Goodput = float64(a.goodputCount) / report.BenchmarkDurationSeconds
	}

	indices := make([]int, 0, len(a.slices))
	for idx := range a.slices {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for _, idx := range indices {
		sl := a.slices[idx]
		report.Slices = append(report.Slices, Slice{
			Index:   idx,
			StartNs: sl.startNs,
			EndNs:   sl.endNs,
			Stats:   computeStats(sl.vectors),
			Unit:    sl.unit,
		})
	}

	return report
}

func computeStats(vectors map[string][]float64) map[string]Stat {
	out := make(map[string]Stat, len(vectors))
	for tag, values := range vectors {
		out[tag] = computeStat(values)
	}
	return out
}

func computeStat(values []float64) Stat {
	n := len(values)
	if n == 0 {
		return Stat{}
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	variance := 0.0
	for _, v := range sorted {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)

	return Stat{
		Count: n,
		Min:   sorted[0],
		Max:   sorted[n-1],
		Mean:  mean,
		Std:   math.Sqrt(variance),
		P1:    percentile(sorted, 1),
		P5:    percentile(sorted, 5),
		P10:   percentile(sorted, 10),
		P25:   percentile(sorted, 25),
		P50:   percentile(sorted, 50),
		P75:   percentile(sorted, 75),
		P90:   percentile(sorted, 90),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
	}
}

// percentile implements spec.md §4.6's exact formula:
// P_k = sorted[floor(k*(n-1))] + frac*(sorted[ceil]-sorted[floor]).
func percentile(sorted []float64, k float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := k / 100.0 * float64(n-1)
	lower := int(math.Floor(rank))
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// ParseSLOs parses the "--goodput" flag value: a space-separated list of
// "metric:threshold" pairs with an implicit "<=" per spec.md §6. Every
// predicate uses "<="; no other operator is parsed.
func ParseSLOs(spec string) ([]SLOPredicate, error) {
	var slos []SLOPredicate
	fields := splitFields(spec)
	for _, f := range fields {
		metric, op, threshold, err := parseSLOField(f)
		if err != nil {
			return nil, err
		}
		slos = append(slos, SLOPredicate{Metric: metric, Op: op, Threshold: threshold})
	}
	return slos, nil
}

func splitFields(s string) []string {
	var fields []string
	cur := ""
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if cur != "" {
				fields = append(fields, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		fields = append(fields, cur)
	}
	return fields
}

func parseSLOField(f string) (metric, op string, threshold float64, err error) {
	idx := -1
	for i, r := range f {
		if r == ':' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", "", 0, fmt.Errorf("aggregator: malformed goodput predicate %q", f)
	}
	metric = f[:idx]
	valuePart := f[idx+1:]
	op = "<="
	if _, scanErr := fmt.Sscanf(valuePart, "%f", &threshold); scanErr != nil {
		return "", "", 0, fmt.Errorf("aggregator: malformed goodput threshold in %q: %w", f, scanErr)
	}
	return metric, op, threshold, nil
}
