// Package main provides the inferbench-profile CLI binary (spec.md
// §6): parse flags, build a dataset, and run the
// scheduler/worker-pool/processor-pool/aggregator pipeline under a
// controller-governed supervisor, writing artifacts on completion.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bc-dunia/inferbench/internal/aggregator"
	"github.com/bc-dunia/inferbench/internal/artifacts"
	"github.com/bc-dunia/inferbench/internal/bus"
	"github.com/bc-dunia/inferbench/internal/config"
	"github.com/bc-dunia/inferbench/internal/controller"
	"github.com/bc-dunia/inferbench/internal/dataset"
	"github.com/bc-dunia/inferbench/internal/endpoint"
	"github.com/bc-dunia/inferbench/internal/events"
	"github.com/bc-dunia/inferbench/internal/otel"
	"github.com/bc-dunia/inferbench/internal/processor"
	"github.com/bc-dunia/inferbench/internal/scheduler"
	"github.com/bc-dunia/inferbench/internal/service"
	"github.com/bc-dunia/inferbench/internal/tokenizer"
	"github.com/bc-dunia/inferbench/internal/types"
	"github.com/bc-dunia/inferbench/internal/worker"
)

const (
	exitSuccess      = 0
	exitConfigError  = 1
	exitRuntimeAbort = 2
	exitInterrupted  = 130
)

// referenceCorpusSize bounds the synthetic token-id pool synthetic
// prompts are drawn from (spec.md §4.2 doesn't name an exact vocabulary
// size, only that generated text be reproducible under the run seed).
const referenceCorpusSize = 50000

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "profile: %v\n", err)
		return exitConfigError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	eventLogger := events.NewEventLogger(cfg.RunName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exitCode, err := runPipeline(ctx, cfg, logger, eventLogger)
	if err != nil {
		logger.Error("run failed", "error", err)
	}
	if ctx.Err() != nil {
		return exitInterrupted
	}
	return exitCode
}

func runPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, eventLogger *events.EventLogger) (int, error) {
	root := dataset.NewRootSeed(cfg.RandomSeed)

	conversations, err := loadConversations(cfg, root)
	if err != nil {
		return exitConfigError, fmt.Errorf("loading dataset: %w", err)
	}
	provider := dataset.NewProvider(conversations, root)

	plugin, err := endpoint.DefaultRegistry().Get(cfg.EndpointType)
	if err != nil {
		return exitConfigError, err
	}

	tracer, err := otel.NewTracer(ctx, cfg.TracerConfig())
	if err != nil {
		return exitConfigError, fmt.Errorf("initializing tracer: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	metrics, err := otel.NewMetrics(ctx, cfg.MetricsConfig())
	if err != nil {
		return exitConfigError, fmt.Errorf("initializing metrics: %w", err)
	}
	defer metrics.Shutdown(context.Background())

	store, err := artifacts.NewStore(cfg.ArtifactDir, cfg.RunName)
	if err != nil {
		return exitConfigError, fmt.Errorf("initializing artifact store: %w", err)
	}

	var slos []aggregator.SLOPredicate
	if cfg.Goodput != "" {
		slos, err = aggregator.ParseSLOs(cfg.Goodput)
		if err != nil {
			return exitConfigError, err
		}
	}

	ctrl := controller.New(logger)
	ctrl.OnAbort(func(reason controller.AbortReason) {
		eventLogger.LogServiceFailed(reason.Service, reason.Message)
	})

	creditsQueue := bus.NewQueue(4 * cfg.WorkersMax)
	recordsQueue := bus.NewQueue(4 * cfg.WorkersMax)
	metricsQueue := bus.NewQueue(4 * cfg.RecordProcessors)

	sched := scheduler.NewScheduler(schedulerConfig(cfg), provider, root, creditsQueue, logger)
	sched.WithTelemetry(metrics)

	agg := aggregator.New(aggregator.Config{
		SliceDurationNs: int64(cfg.SliceDurationSeconds * 1e9),
		SLOs:            slos,
		CreditFreed:     sched.CreditFreedSink(),
	})
	agg.WithTelemetry(tracer, metrics)

	httpClient := worker.NewHTTPClient(worker.ClientConfig{
		ConnectTimeout:       10 * time.Second,
		AllowPrivateNetworks: true,
	})
	tok := tokenizer.NewApproximate()

	pool := worker.NewPool(workerConfig(cfg), httpClient, plugin, provider, tok, root, creditsQueue, recordsQueue, logger)
	pool.WithTelemetry(tracer, metrics)

	recordWriter, err := store.OpenRecordWriter()
	if err != nil {
		return exitConfigError, fmt.Errorf("opening record writer: %w", err)
	}
	defer recordWriter.Close()

	if err := writeInputsArtifact(store, provider, plugin, cfg); err != nil {
		logger.Warn("failed to write inputs.json", "error", err)
	}

	var writerMu sync.Mutex
	recordProcessing := newRecordProcessingService(cfg.RecordProcessors, tok, recordsQueue, metricsQueue, cfg.PreferUsageCounts, func(rec *types.RawRequestRecord, dict types.MetricRecordDict) {
		writerMu.Lock()
		defer writerMu.Unlock()
		if err := recordWriter.Write(rec, dict); err != nil {
			logger.Warn("failed to append record line", "error", err)
		}
	})

	sup := service.NewSupervisor(logger, ctrl)
	sup.Register(scheduler.NewService(sched))
	sup.Register(worker.NewService(pool))
	sup.Register(recordProcessing)
	sup.Register(aggregator.NewService(agg, metricsQueue))

	if err := ctrl.Transition(controller.PhaseReady); err != nil {
		return exitRuntimeAbort, err
	}
	eventLogger.LogPhaseTransition(string(controller.PhaseInit), string(controller.PhaseReady))
	ctrl.StartHealthMonitoring()
	defer ctrl.StopHealthMonitoring()

	if err := sup.StartAll(ctx); err != nil {
		return exitRuntimeAbort, err
	}

	heartbeatCtx, stopHeartbeats := context.WithCancel(context.Background())
	defer stopHeartbeats()
	go pumpHeartbeats(heartbeatCtx, ctrl, []string{"scheduler", "worker_pool", recordProcessing.Name(), "aggregator"})

	phase := controller.PhaseWarmup
	if cfg.WarmupRequestCount == 0 {
		phase = controller.PhaseProfiling
	}
	if err := ctrl.Transition(phase); err == nil {
		eventLogger.LogPhaseTransition(string(controller.PhaseReady), string(phase))
	}

	waitForCompletion(ctx, sched, ctrl, eventLogger, cfg)
	agg.MarkProfilingStart(sched.ProfilingStartNs())

	if ctrl.Phase() != controller.PhaseAborted {
		ctrl.Transition(controller.PhaseGrace)
		eventLogger.LogStopCondition("request_count_or_duration_reached", float64(sched.ProfilingRequestsIssued()), float64(cfg.RequestCount))
	}

	graceCtx, graceCancel := context.WithTimeout(context.Background(), time.Duration(cfg.BenchmarkGracePeriodSeconds*float64(time.Second)))
	select {
	case <-graceCtx.Done():
	case <-ctx.Done():
	}
	graceCancel()

	if ctrl.Phase() != controller.PhaseAborted {
		ctrl.Transition(controller.PhaseFinalizing)
	}
	sup.StopAll(context.Background())

	report := agg.Seal()
	if err := writeFinalArtifacts(store, report, cfg); err != nil {
		logger.Error("failed to write final artifacts", "error", err)
	}

	if ctrl.Phase() != controller.PhaseAborted {
		ctrl.Transition(controller.PhaseDone)
	}

	if ctrl.AbortedReason() != nil {
		return exitRuntimeAbort, fmt.Errorf("run aborted: %s: %s", ctrl.AbortedReason().Service, ctrl.AbortedReason().Message)
	}
	return exitSuccess, nil
}

// pumpHeartbeats reports each registered service as alive every
// DefaultMonitorInterval, so controller.HealthMonitor's heartbeat-
// timeout abort path (spec.md §4.7) only fires when the whole process
// has stalled, not a single wedged goroutine. Fine-grained per-service
// liveness would need each AsService to self-report from inside its own
// run loop, but every current run loop blocks on Queue.Dequeue, which
// sits idle by design between credits rather than signalling distress.
func pumpHeartbeats(ctx context.Context, ctrl *controller.Controller, names []string) {
	ticker := time.NewTicker(controller.DefaultMonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range names {
				ctrl.Heartbeat(name)
			}
		}
	}
}

// loadConversations builds the conversation pool from an input file, or
// synthesizes one when no file is given (spec.md §4.2).
func loadConversations(cfg *config.Config, root *dataset.RootSeed) ([]types.Conversation, error) {
	if cfg.InputFile != "" {
		f, err := os.Open(cfg.InputFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return dataset.LoadJSONL(f, dataset.FileFormat(cfg.CustomDatasetType))
	}

	var prefix *dataset.PrefixPool
	if cfg.PromptPrefixPoolSize > 0 && cfg.PromptPrefixLength > 0 {
		prefix = buildPrefixPool(cfg, root)
	}

	return dataset.GenerateSynthetic(dataset.SynthConfig{
		ConversationCount: cfg.ConversationNum,
		TurnMean:          cfg.ConversationTurnMean,
		TurnStddev:        cfg.ConversationTurnStddev,
		TurnDelayMeanMs:   cfg.ConversationTurnDelayMeanMs,
		TurnDelayStddevMs: cfg.ConversationTurnDelayStddevMs,
		TurnDelayRatio:    cfg.ConversationTurnDelayRatio,
		Distributions: []dataset.SequenceDistribution{{
			ISLMean:   cfg.ISLMean,
			ISLStddev: cfg.ISLStddev,
			OSLMean:   cfg.OSLMean,
			OSLStddev: cfg.OSLStddev,
			Prob:      1,
		}},
		Prefix:         prefix,
		ReferenceCorpus: referenceCorpus(),
	}, root)
}

func referenceCorpus() []int {
	ids := make([]int, referenceCorpusSize)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

func buildPrefixPool(cfg *config.Config, root *dataset.RootSeed) *dataset.PrefixPool {
	rng := root.Sub("dataset.prefix.pool")
	corpus := referenceCorpus()
	prefixes := make([][]int, cfg.PromptPrefixPoolSize)
	for i := range prefixes {
		p := make([]int, cfg.PromptPrefixLength)
		for j := range p {
			p[j] = corpus[rng.IntN(len(corpus))]
		}
		prefixes[i] = p
	}
	return &dataset.PrefixPool{Prefixes: prefixes}
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Mode:                       cfg.SchedulerMode(),
		Concurrency:                cfg.Concurrency,
		Rate:                       cfg.RequestRate,
		RateMode:                   scheduler.RateMode(cfg.RequestRateMode),
		WarmupRequestCount:         cfg.WarmupRequestCount,
		RequestCount:               cfg.RequestCount,
		DurationSeconds:            cfg.BenchmarkDurationSeconds,
		GracePeriodSeconds:         cfg.BenchmarkGracePeriodSeconds,
		CancellationRatePercent:    cfg.RequestCancellationRatePercent,
		CancellationDelaySeconds:   cfg.RequestCancellationDelaySeconds,
		FixedScheduleAutoOffset:    cfg.FixedScheduleAutoOffset,
		FixedScheduleStartOffsetMs: cfg.FixedScheduleStartOffsetMs,
		FixedScheduleEndOffsetMs:   cfg.FixedScheduleEndOffsetMs,
	}
}

func workerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		WorkerCount:    cfg.WorkersMax,
		BaseURL:        cfg.URL,
		Model:          cfg.Model,
		APIKey:         cfg.APIKey,
		Streaming:      cfg.Streaming,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSeconds * float64(time.Second)),
		StallTimeout:   time.Duration(cfg.StallTimeoutSeconds * float64(time.Second)),
		TurnDelay: worker.TurnDelayConfig{
			MeanMs:   cfg.ConversationTurnDelayMeanMs,
			StddevMs: cfg.ConversationTurnDelayStddevMs,
			Ratio:    cfg.ConversationTurnDelayRatio,
		},
	}
}

// waitForCompletion blocks until the scheduler reports done or failed,
// has issued its target request count, or the benchmark duration
// elapses, or ctx is cancelled. It does not wait for in-flight requests.
// Along the way it advances the controller from WARMUP to PROFILING the
// moment the scheduler admits its first post-warmup credit, since the
// state machine only allows that transition (not WARMUP -> GRACE
// directly), and the exact crossing point is internal to the
// scheduler's admit() logic.
func waitForCompletion(ctx context.Context, sched *scheduler.Scheduler, ctrl *controller.Controller, eventLogger *events.EventLogger, cfg *config.Config) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Time{}
	if cfg.BenchmarkDurationSeconds > 0 {
		deadline = time.Now().Add(time.Duration(cfg.BenchmarkDurationSeconds * float64(time.Second)))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctrl.Phase() == controller.PhaseWarmup && sched.ProfilingStartNs() != 0 {
				if err := ctrl.Transition(controller.PhaseProfiling); err == nil {
					eventLogger.LogPhaseTransition(string(controller.PhaseWarmup), string(controller.PhaseProfiling))
				}
			}
			if sched.State() == scheduler.StateDone || sched.State() == scheduler.StateFailed {
				return
			}
			if cfg.RequestCount > 0 && sched.ProfilingRequestsIssued() >= int64(cfg.RequestCount) {
				return
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				return
			}
		}
	}
}

// recordProcessingService wraps N goroutines that run processor.Process
// on each queued record, invoke onSealed (to append the record+dict
// line to profile_export.jsonl), then forward the dict to metricsQueue
// for the aggregator. Built directly rather than through
// processor.AsService since artifact export (spec.md §6) needs the raw
// record and its dict together, which the metrics-only queue the
// aggregator consumes doesn't carry.
type recordProcessingService struct {
	count             int
	tok               tokenizer.Tokenizer
	records           *bus.Queue
	metrics           *bus.Queue
	onSealed          func(*types.RawRequestRecord, types.MetricRecordDict)
	preferUsageCounts bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newRecordProcessingService(count int, tok tokenizer.Tokenizer, records, metrics *bus.Queue, preferUsageCounts bool, onSealed func(*types.RawRequestRecord, types.MetricRecordDict)) *recordProcessingService {
	if count <= 0 {
		count = 1
	}
	return &recordProcessingService{count: count, tok: tok, records: records, metrics: metrics, preferUsageCounts: preferUsageCounts, onSealed: onSealed}
}

func (s *recordProcessingService) Name() string { return "record_processor_pool" }

func (s *recordProcessingService) Init(ctx context.Context) error { return nil }

func (s *recordProcessingService) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < s.count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runOne(runCtx)
		}()
	}
	go func() {
		wg.Wait()
		close(s.done)
	}()
	return nil
}

func (s *recordProcessingService) runOne(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		env, ok := s.records.Dequeue()
		if !ok {
			return
		}
		rec, ok := env.Payload.(types.RawRequestRecord)
		if !ok {
			continue
		}
		dict := processor.Process(&rec, s.tok, s.preferUsageCounts)
		s.onSealed(&rec, dict)
		s.metrics.Enqueue(bus.Envelope{Kind: "metric_record", Tier: bus.Tier1Operation, Payload: dict})
	}
}

func (s *recordProcessingService) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	// runOne blocks on records.Dequeue, which only wakes on a new item
	// or Close — cancelling runCtx alone never unblocks it.
	s.records.Close()
	if s.done != nil {
		<-s.done
	}
	return nil
}

// writeInputsArtifact records every turn's formatted request body for
// every conversation. Each turn's history holds the conversation's
// earlier dataset turns only, with no assistant replies (those depend on
// live responses unknown before the run executes; spec.md §6 only
// requires the payloads be recorded, not that they reflect post-hoc
// history).
func writeInputsArtifact(store *artifacts.Store, provider *dataset.Provider, plugin endpoint.Plugin, cfg *config.Config) error {
	n := provider.Count()
	sessions := make([]artifacts.InputsSession, 0, n)
	for i := 0; i < n; i++ {
		conv, err := provider.Sample(dataset.StrategySequential)
		if err != nil {
			break
		}
		var payloads []json.RawMessage
		var history []types.Turn
		for _, turn := range conv.Turns {
			_, _, body, _, err := plugin.FormatRequest(turn, history, endpoint.RequestContext{
				Model:     cfg.Model,
				Streaming: cfg.Streaming,
				APIKey:    cfg.APIKey,
			})
			if err != nil {
				continue
			}
			payloads = append(payloads, json.RawMessage(bytes.TrimSpace(body)))
			history = append(history, turn)
		}
		sessions = append(sessions, artifacts.InputsSession{SessionID: conv.ID, Payloads: payloads})
	}
	return store.WriteInputs(sessions)
}

func writeFinalArtifacts(store *artifacts.Store, report aggregator.Report, cfg *config.Config) error {
	summary := artifacts.RunSummary{
		Model:        cfg.Model,
		EndpointType: cfg.EndpointType,
		Concurrency:  cfg.Concurrency,
		RequestRate:  cfg.RequestRate,
	}
	if err := store.WriteAIPerfJSON(report, summary); err != nil {
		return fmt.Errorf("writing aiperf json: %w", err)
	}
	if err := store.WriteAIPerfCSV(report); err != nil {
		return fmt.Errorf("writing aiperf csv: %w", err)
	}
	if cfg.SliceDurationSeconds > 0 {
		if err := store.WriteTimeslices(report); err != nil {
			return fmt.Errorf("writing timeslices: %w", err)
		}
	}
	return nil
}
