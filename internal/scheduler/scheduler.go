// Package scheduler translates a traffic specification into a stream of
// credits (spec.md §4.3). Each credit admits one conversation; the worker
// pool makes one request attempt per turn of it.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bc-dunia/inferbench/internal/bus"
	"github.com/bc-dunia/inferbench/internal/dataset"
	"github.com/bc-dunia/inferbench/internal/otel"
	"github.com/bc-dunia/inferbench/internal/types"
)

// Mode selects one of the three traffic shapes from spec.md §4.3.
type Mode string

const (
	ModeConcurrency  Mode = "concurrency"
	ModeRate         Mode = "rate"
	ModeFixedSchedule Mode = "fixed_schedule"
)

// Config parameterizes a scheduler run.
type Config struct {
	Mode Mode

	// Concurrency is the outstanding-credit ceiling. Used directly in
	// ModeConcurrency, and as an optional cap in ModeRate.
	Concurrency int

	Rate     float64
	RateMode RateMode

	WarmupRequestCount int
	RequestCount       int     // target profiling request count, 0 = unbounded (duration/trace governs)
	DurationSeconds    float64 // 0 = unbounded (count/trace governs)
	GracePeriodSeconds float64

	CancellationRatePercent float64 // (0,100]
	CancellationDelaySeconds float64

	FixedScheduleAutoOffset    bool
	FixedScheduleStartOffsetMs int64
	FixedScheduleEndOffsetMs   int64 // 0 = no upper bound
}

// CreditFreedSink lets the aggregator notify the scheduler that a record
// has been sealed, so concurrency mode can release its gate (spec.md
// §4.6 "Credit freed event").
type CreditFreedSink struct {
	limiter *InFlightLimiter
}

func (s *CreditFreedSink) Free() {
	if s.limiter != nil {
		s.limiter.Release()
	}
}

// Scheduler issues credits onto a bus.Queue according to Config.
type Scheduler struct {
	cfg      Config
	provider *dataset.Provider
	root     *dataset.RootSeed
	out      *bus.Queue
	logger   *slog.Logger

	state   atomic.Value // State
	issued  atomic.Int64 // profiling requests admitted (turn-counted)
	warmupIssued atomic.Int64

	inflight *InFlightLimiter

	mu          sync.Mutex
	profilingStartNs int64

	metrics *otel.Metrics
}

// NewScheduler builds a scheduler. provider must already be finalized.
func NewScheduler(cfg Config, provider *dataset.Provider, root *dataset.RootSeed, out *bus.Queue, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cfg:      cfg,
		provider: provider,
		root:     root,
		out:      out,
		logger:   logger,
		metrics:  otel.NoopMetrics(),
	}
	s.state.Store(StateIdle)

	if cfg.Mode == ModeConcurrency || (cfg.Mode == ModeRate && cfg.Concurrency > 0) {
		s.inflight = NewInFlightLimiter(cfg.Concurrency)
	}
	return s
}

// WithTelemetry attaches a metrics instance, replacing the no-op
// default NewScheduler installs.
func (s *Scheduler) WithTelemetry(metrics *otel.Metrics) *Scheduler {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

func (s *Scheduler) State() State {
	return s.state.Load().(State)
}

func (s *Scheduler) transition(to State) error {
	from := s.State()
	if !CanTransition(from, to) {
		return fmt.Errorf("scheduler: illegal transition %s -> %s", from, to)
	}
	s.state.Store(to)
	return nil
}

// CreditFreedSink returns the handle the aggregator uses to release the
// concurrency gate on record completion.
func (s *Scheduler) CreditFreedSink() *CreditFreedSink {
	return &CreditFreedSink{limiter: s.inflight}
}

// Run drives credit issuance until a termination condition is met or ctx
// is cancelled. It blocks until draining completes.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.transition(StateScheduling); err != nil {
		return err
	}

	var err error
	switch s.cfg.Mode {
	case ModeConcurrency:
		err = s.runConcurrency(ctx)
	case ModeRate:
		err = s.runRate(ctx)
	case ModeFixedSchedule:
		err = s.runFixedSchedule(ctx)
	default:
		err = fmt.Errorf("scheduler: unknown mode %q", s.cfg.Mode)
	}

	if err != nil {
		s.state.Store(StateFailed)
		return err
	}

	if tErr := s.transition(StateDraining); tErr != nil {
		return tErr
	}
	// Drain: workers finish in-flight requests within grace period; the
	// controller is responsible for the actual wait/cancel. The scheduler
	// itself only stops issuing new credits, which runConcurrency/runRate
	// already guarantee by returning.
	return s.transition(StateDone)
}

// admittedAllProfilingTurns reports whether the target profiling request
// count has already been reached by previously admitted conversations.
func (s *Scheduler) admittedAllProfilingTurns() bool {
	if s.cfg.RequestCount <= 0 {
		return false
	}
	return s.issued.Load() >= int64(s.cfg.RequestCount)
}

func (s *Scheduler) durationExceeded() bool {
	if s.cfg.DurationSeconds <= 0 {
		return false
	}
	start := atomic.LoadInt64(&s.profilingStartNs)
	if start == 0 {
		return false
	}
	elapsed := float64(types.Now()-start) / 1e9
	return elapsed >= s.cfg.DurationSeconds
}

func (s *Scheduler) terminationMet() bool {
	return s.admittedAllProfilingTurns() || s.durationExceeded()
}

// admit samples one conversation and enqueues a credit that tells the
// worker pool to execute every turn of it. Conversations sampled while
// still under the warmup quota are tagged Phase=warmup and are not
// counted against RequestCount/duration; the first conversation sampled
// after the quota is reached marks the profiling duration anchor.
func (s *Scheduler) admit(strategy dataset.Strategy, scheduledNs int64) error {
	conv, err := s.provider.Sample(strategy)
	if err != nil {
		return err
	}

	phase := types.PhaseProfiling
	if s.warmupIssued.Load() < int64(s.cfg.WarmupRequestCount) {
		phase = types.PhaseWarmup
		s.warmupIssued.Add(int64(len(conv.Turns)))
	} else {
		if atomic.LoadInt64(&s.profilingStartNs) == 0 {
			atomic.StoreInt64(&s.profilingStartNs, types.Now())
		}
		s.issued.Add(int64(len(conv.Turns)))
	}

	cancelAfterNs := s.maybeCancellation(conv.ID)

	credit := types.Credit{
		CreditID:       fmt.Sprintf("credit-%s-%d", conv.ID, types.Now()),
		ConversationID: conv.ID,
		TurnIndex:      0,
		Phase:          phase,
		ScheduledNs:    scheduledNs,
		IssuedNs:       types.Now(),
		CancelAfterNs:  cancelAfterNs,
	}

	ok := s.out.Enqueue(bus.Envelope{Kind: "credit", Tier: bus.Tier1Operation, Payload: credit})
	if !ok {
		s.logger.Warn("credit dropped, queue full or closed", "conversation_id", conv.ID)
		return nil
	}
	s.metrics.RecordCreditIssued(context.Background(), string(phase))
	s.metrics.SetQueueDepth("credits", int64(s.out.Len()))
	return nil
}

// maybeCancellation deterministically marks a fraction of credits for
// cancellation (spec.md §4.3 "Cancellation injection"), keyed off the
// conversation id so the decision is stable under the run seed.
func (s *Scheduler) maybeCancellation(conversationID string) int64 {
	if s.cfg.CancellationRatePercent <= 0 {
		return 0
	}
	rng := s.root.Sub("timing.request.cancellation." + conversationID)
	if rng.Float64()*100 <= s.cfg.CancellationRatePercent {
		return int64(s.cfg.CancellationDelaySeconds * 1e9)
	}
	return 0
}

func (s *Scheduler) runConcurrency(ctx context.Context) error {
	for {
		if s.terminationMet() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := s.inflight.Acquire(ctx); err != nil {
			return nil
		}
		if err := s.admit(dataset.StrategyRandom, types.Now()); err != nil {
			s.inflight.Release()
			return err
		}
	}
}

func (s *Scheduler) runRate(ctx context.Context) error {
	rng := s.root.Sub("scheduling.rate.interval")
	for {
		if s.terminationMet() {
			return nil
		}

		interval := nextInterval(s.cfg.RateMode, s.cfg.Rate, rng)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(interval * float64(time.Second))):
		}

		if s.terminationMet() {
			return nil
		}

		if s.inflight != nil {
			if err := s.inflight.Acquire(ctx); err != nil {
				return nil
			}
		}
		if err := s.admit(dataset.StrategyRandom, types.Now()); err != nil {
			if s.inflight != nil {
				s.inflight.Release()
			}
			return err
		}
	}
}

// runFixedSchedule binds credits to wall-clock offsets derived from each
// conversation's TimestampMs (spec.md §4.3 mode 3). It walks the dataset
// in file order exactly once; conversations outside [start,end] are
// skipped.
func (s *Scheduler) runFixedSchedule(ctx context.Context) error {
	n := s.provider.Count()
	if n == 0 {
		return nil
	}

	var baseOffsetMs int64
	if s.cfg.FixedScheduleAutoOffset {
		first, err := s.provider.At(0)
		if err == nil {
			baseOffsetMs = first.TimestampMs
		}
	}

	runStart := time.Now()
	for i := 0; i < n; i++ {
		conv, err := s.provider.Sample(dataset.StrategySequential)
		if err != nil {
			return err
		}

		offsetMs := conv.TimestampMs - baseOffsetMs
		if offsetMs < s.cfg.FixedScheduleStartOffsetMs {
			continue
		}
		if s.cfg.FixedScheduleEndOffsetMs > 0 && offsetMs > s.cfg.FixedScheduleEndOffsetMs {
			break
		}

		targetTime := runStart.Add(time.Duration(offsetMs) * time.Millisecond)
		wait := time.Until(targetTime)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}

		if err := s.admitConversation(conv, offsetMs); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) admitConversation(conv types.Conversation, offsetMs int64) error {
	phase := types.PhaseProfiling
	if s.warmupIssued.Load() < int64(s.cfg.WarmupRequestCount) {
		phase = types.PhaseWarmup
		s.warmupIssued.Add(int64(len(conv.Turns)))
	} else {
		if atomic.LoadInt64(&s.profilingStartNs) == 0 {
			atomic.StoreInt64(&s.profilingStartNs, types.Now())
		}
		s.issued.Add(int64(len(conv.Turns)))
	}

	credit := types.Credit{
		CreditID:       fmt.Sprintf("credit-%s-%d", conv.ID, types.Now()),
		ConversationID: conv.ID,
		TurnIndex:      0,
		Phase:          phase,
		ScheduledNs:    offsetMs * int64(time.Millisecond),
		IssuedNs:       types.Now(),
		CancelAfterNs:  s.maybeCancellation(conv.ID),
	}

	s.out.Enqueue(bus.Envelope{Kind: "credit", Tier: bus.Tier1Operation, Payload: credit})
	return nil
}

// ProfilingRequestsIssued reports the cumulative profiling turn count
// admitted so far, used by the controller to detect the termination
// condition externally too.
func (s *Scheduler) ProfilingRequestsIssued() int64 {
	return s.issued.Load()
}

// ProfilingStartNs reports the duration anchor (the timestamp the first
// post-warmup credit was issued), or 0 if profiling hasn't started yet.
// cmd/profile passes this to Aggregator.MarkProfilingStart.
func (s *Scheduler) ProfilingStartNs() int64 {
	return atomic.LoadInt64(&s.profilingStartNs)
}
