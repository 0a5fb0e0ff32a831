// Package e2e exercises the full scheduler/worker-pool/processor-pool/
// aggregator pipeline against an in-process internal/mockserver, the same
// way cmd/profile wires it, to verify spec.md §8's testable properties
// and the six named end-to-end scenarios. It builds the pipeline
// directly from internal packages rather than spawning the cmd/profile
// binary, since a package-main program can't be imported from a test.
package e2e

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bc-dunia/inferbench/internal/aggregator"
	"github.com/bc-dunia/inferbench/internal/bus"
	"github.com/bc-dunia/inferbench/internal/controller"
	"github.com/bc-dunia/inferbench/internal/dataset"
	"github.com/bc-dunia/inferbench/internal/endpoint"
	"github.com/bc-dunia/inferbench/internal/processor"
	"github.com/bc-dunia/inferbench/internal/scheduler"
	"github.com/bc-dunia/inferbench/internal/service"
	"github.com/bc-dunia/inferbench/internal/tokenizer"
	"github.com/bc-dunia/inferbench/internal/types"
	"github.com/bc-dunia/inferbench/internal/worker"
)

// runOptions parameterizes one pipeline run. Zero-valued fields fall back
// to sane defaults for a short-lived test run.
type runOptions struct {
	conversations []types.Conversation
	schedulerCfg  scheduler.Config
	workerCount   int
	streaming     bool
	randomSeed    int64
	sliceDurationNs int64

	// completeWhen reports true once the run should begin shutdown, polled
	// at a fixed interval alongside the scheduler's own termination check.
	completeWhen func(issued int64, sealed int) bool
	maxWait      time.Duration
}

// runResult collects every record the pipeline produced plus the sealed
// aggregator report, so scenario tests can assert on either view.
type runResult struct {
	report  aggregator.Report
	records []types.RawRequestRecord
	dicts   []types.MetricRecordDict
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testWriter discards log output; slog still requires an io.Writer.
type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

// runPipeline wires scheduler -> worker pool -> record processor ->
// aggregator against baseURL, same shape as cmd/profile's runPipeline,
// and blocks until opts.completeWhen is satisfied (or opts.maxWait
// elapses), then drains and seals the aggregator. baseURL is usually an
// internal/mockserver.Server's BaseURL(), but any OpenAI-chat-shaped
// target works, which is what scenario 5's history-capturing httptest
// server needs.
func runPipeline(t *testing.T, baseURL string, opts runOptions) runResult {
	t.Helper()

	if opts.workerCount <= 0 {
		opts.workerCount = 4
	}
	if opts.maxWait <= 0 {
		opts.maxWait = 30 * time.Second
	}

	logger := newLogger()
	root := dataset.NewRootSeed(opts.randomSeed)
	provider := dataset.NewProvider(opts.conversations, root)

	plugin, err := endpoint.DefaultRegistry().Get("openai_chat")
	if err != nil {
		t.Fatalf("resolving endpoint plugin: %v", err)
	}

	creditsQueue := bus.NewQueue(4 * opts.workerCount)
	recordsQueue := bus.NewQueue(4 * opts.workerCount)
	metricsQueue := bus.NewQueue(4 * opts.workerCount)

	sched := scheduler.NewScheduler(opts.schedulerCfg, provider, root, creditsQueue, logger)

	agg := aggregator.New(aggregator.Config{
		SliceDurationNs: opts.sliceDurationNs,
		CreditFreed:     sched.CreditFreedSink(),
	})

	httpClient := worker.NewHTTPClient(worker.ClientConfig{
		ConnectTimeout:       5 * time.Second,
		AllowPrivateNetworks: true,
	})
	tok := tokenizer.NewApproximate()

	pool := worker.NewPool(worker.Config{
		WorkerCount:    opts.workerCount,
		BaseURL:        baseURL,
		Model:          "test-model",
		Streaming:      opts.streaming,
		RequestTimeout: 10 * time.Second,
		StallTimeout:   2 * time.Second,
	}, httpClient, plugin, provider, tok, root, creditsQueue, recordsQueue, logger)

	var mu sync.Mutex
	var records []types.RawRequestRecord
	var dicts []types.MetricRecordDict

	recordProcessing := newCollectingProcessor(opts.workerCount, tok, recordsQueue, metricsQueue, func(rec types.RawRequestRecord, dict types.MetricRecordDict) {
		mu.Lock()
		records = append(records, rec)
		dicts = append(dicts, dict)
		mu.Unlock()
	})

	ctrl := controller.New(logger)
	sup := service.NewSupervisor(logger, ctrl)
	sup.Register(scheduler.NewService(sched))
	sup.Register(worker.NewService(pool))
	sup.Register(recordProcessing)
	sup.Register(aggregator.NewService(agg, metricsQueue))

	ctx, cancel := context.WithTimeout(context.Background(), opts.maxWait)
	defer cancel()

	if err := sup.StartAll(ctx); err != nil {
		t.Fatalf("starting pipeline: %v", err)
	}

	deadline := time.Now().Add(opts.maxWait)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
waitLoop:
	for {
		select {
		case <-ticker.C:
			mu.Lock()
			sealed := len(dicts)
			mu.Unlock()
			// completeWhen, when set, is the authoritative signal (e.g.
			// "wait for every cancellation-delayed record to seal", which
			// is strictly later than the scheduler itself going Done).
			// Without one, fall back to the scheduler's own completion.
			if opts.completeWhen != nil {
				if opts.completeWhen(sched.ProfilingRequestsIssued(), sealed) {
					break waitLoop
				}
			} else if sched.State() == scheduler.StateDone || sched.State() == scheduler.StateFailed {
				break waitLoop
			}
			if time.Now().After(deadline) {
				t.Fatalf("pipeline did not complete within %s (issued=%d sealed=%d)", opts.maxWait, sched.ProfilingRequestsIssued(), sealed)
			}
		}
	}

	agg.MarkProfilingStart(sched.ProfilingStartNs())
	// Give in-flight requests a brief grace window to land before tearing
	// the pipeline down, mirroring cmd/profile's PhaseGrace wait.
	time.Sleep(150 * time.Millisecond)
	sup.StopAll(context.Background())

	report := agg.Seal()

	mu.Lock()
	defer mu.Unlock()
	return runResult{report: report, records: records, dicts: dicts}
}

// collectingProcessor is the test-harness analogue of cmd/profile's
// recordProcessingService: it runs processor.Process over each queued
// raw record, hands the (record, dict) pair to onSealed, and forwards
// the dict to the aggregator's metrics queue.
type collectingProcessor struct {
	count    int
	tok      tokenizer.Tokenizer
	records  *bus.Queue
	metrics  *bus.Queue
	onSealed func(types.RawRequestRecord, types.MetricRecordDict)

	cancel context.CancelFunc
	done   chan struct{}
}

func newCollectingProcessor(count int, tok tokenizer.Tokenizer, records, metrics *bus.Queue, onSealed func(types.RawRequestRecord, types.MetricRecordDict)) *collectingProcessor {
	if count <= 0 {
		count = 1
	}
	return &collectingProcessor{count: count, tok: tok, records: records, metrics: metrics, onSealed: onSealed}
}

func (c *collectingProcessor) Name() string { return "record_processor_pool" }

func (c *collectingProcessor) Init(ctx context.Context) error { return nil }

func (c *collectingProcessor) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < c.count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runOne(runCtx)
		}()
	}
	go func() {
		wg.Wait()
		close(c.done)
	}()
	return nil
}

func (c *collectingProcessor) runOne(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		env, ok := c.records.Dequeue()
		if !ok {
			return
		}
		rec, ok := env.Payload.(types.RawRequestRecord)
		if !ok {
			continue
		}
		dict := processor.Process(&rec, c.tok, false)
		c.onSealed(rec, dict)
		c.metrics.Enqueue(bus.Envelope{Kind: "metric_record", Tier: bus.Tier1Operation, Payload: dict})
	}
}

func (c *collectingProcessor) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.records.Close()
	if c.done != nil {
		<-c.done
	}
	return nil
}

// singleTurnConversations builds n single-turn conversations requesting
// maxTokens completion tokens each, the shape most scenario tests need.
func singleTurnConversations(n, maxTokens int) []types.Conversation {
	convs := make([]types.Conversation, n)
	for i := range convs {
		convs[i] = types.Conversation{
			ID: fmt.Sprintf("conv-%04d", i),
			Turns: []types.Turn{{
				Role:      types.RoleUser,
				Text:      "tell me something interesting",
				MaxTokens: maxTokens,
			}},
		}
	}
	return convs
}
