package processor

import (
	"context"
	"sync"

	"github.com/bc-dunia/inferbench/internal/bus"
	"github.com/bc-dunia/inferbench/internal/tokenizer"
	"github.com/bc-dunia/inferbench/internal/types"
)

// Pool runs M stateless processors, each pulling a RawRequestRecord off
// `records` and publishing the resulting MetricRecordDict onto `metrics`
// (spec.md §4.5 "load-balanced over workers").
type Pool struct {
	count             int
	tok               tokenizer.Tokenizer
	records           *bus.Queue
	metrics           *bus.Queue
	preferUsageCounts bool
}

func NewPool(count int, tok tokenizer.Tokenizer, records, metrics *bus.Queue, preferUsageCounts bool) *Pool {
	if count <= 0 {
		count = 1
	}
	return &Pool{count: count, tok: tok, records: records, metrics: metrics, preferUsageCounts: preferUsageCounts}
}

func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runOne(ctx)
		}()
	}
	wg.Wait()
}

func (p *Pool) runOne(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		env, ok := p.records.Dequeue()
		if !ok {
			return
		}
		rec, ok := env.Payload.(types.RawRequestRecord)
		if !ok {
			continue
		}
		dict := Process(&rec, p.tok, p.preferUsageCounts)
		p.metrics.Enqueue(bus.Envelope{Kind: "metric_record", Tier: bus.Tier1Operation, Payload: dict})
	}
}

// Process transforms one RawRequestRecord into a MetricRecordDict
// (spec.md §4.5). Failed/cancelled records get a metadata-only dict
// carrying error_isl so they can still be counted, but are otherwise
// excluded from percentile statistics by the aggregator (it only vectors
// metrics present in the dict). preferUsageCounts governs whether
// output-token-counting extractors prefer the endpoint's reported usage
// counts over the tokenizer (SPEC_FULL §9, --prefer-usage-counts).
func Process(rec *types.RawRequestRecord, tok tokenizer.Tokenizer, preferUsageCounts bool) types.MetricRecordDict {
	dict := types.MetricRecordDict{
		XRequestID: rec.XRequestID,
		Phase:      rec.Phase,
		EndNs:      rec.EndNs,
		OK:         rec.Error == nil,
		Error:      rec.Error,
		Metrics:    map[string]types.MetricValue{},
		Unit:       map[string]string{},
	}

	if rec.Error != nil || rec.WasCancelled {
		if rec.InputSequenceLength > 0 {
			dict.Metrics["error_isl"] = types.MetricValue{Scalar: float64(rec.InputSequenceLength)}
			dict.Unit["error_isl"] = "tokens"
		}
		return dict
	}

	for _, m := range Registry {
		value, ok := m.Extract(rec, tok, preferUsageCounts)
		if !ok {
			continue
		}
		dict.Metrics[m.Tag] = value
		dict.Unit[m.Tag] = m.Unit
	}
	return dict
}
