// Package worker implements the Worker Pool (spec.md §4.4): it consumes
// credits, looks up the conversation, formats and issues the HTTP
// request through an endpoint plugin, times and streams the response,
// and emits a RawRequestRecord.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bc-dunia/inferbench/internal/bus"
	"github.com/bc-dunia/inferbench/internal/dataset"
	"github.com/bc-dunia/inferbench/internal/endpoint"
	"github.com/bc-dunia/inferbench/internal/otel"
	"github.com/bc-dunia/inferbench/internal/tokenizer"
	"github.com/bc-dunia/inferbench/internal/types"
	"go.opentelemetry.io/otel/trace"
)

// TurnDelayConfig parameterizes inter-turn sleeps for multi-turn
// conversations (spec.md §4.4 step 7).
type TurnDelayConfig struct {
	MeanMs   float64
	StddevMs float64
	Ratio    float64
}

// Config parameterizes the worker pool.
type Config struct {
	WorkerCount    int
	BaseURL        string
	Model          string
	APIKey         string
	UserHeaders    map[string]string
	Streaming      bool
	RequestTimeout time.Duration
	StallTimeout   time.Duration
	TurnDelay      TurnDelayConfig
}

// Pool owns the worker goroutines. Workers pull credits from `credits`
// and publish records onto `records`.
type Pool struct {
	cfg       Config
	client    *http.Client
	plugin    endpoint.Plugin
	provider  *dataset.Provider
	tok       tokenizer.Tokenizer
	root      *dataset.RootSeed
	credits   *bus.Queue
	records   *bus.Queue
	logger    *slog.Logger
	reqIDSeq  uint64
	reqIDMu   sync.Mutex
	tracer    *otel.Tracer
	metrics   *otel.Metrics
}

func NewPool(cfg Config, client *http.Client, plugin endpoint.Plugin, provider *dataset.Provider, tok tokenizer.Tokenizer, root *dataset.RootSeed, credits, records *bus.Queue, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg: cfg, client: client, plugin: plugin, provider: provider, tok: tok, root: root,
		credits: credits, records: records, logger: logger,
		tracer: otel.NoopTracer(), metrics: otel.NoopMetrics(),
	}
}

// WithTelemetry attaches a tracer and metrics instance, replacing the
// no-op defaults NewPool installs.
func (p *Pool) WithTelemetry(tracer *otel.Tracer, metrics *otel.Metrics) *Pool {
	if tracer != nil {
		p.tracer = tracer
	}
	if metrics != nil {
		p.metrics = metrics
	}
	return p
}

// Run starts cfg.WorkerCount worker goroutines and blocks until the
// credit queue is closed and drained, or ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.WorkerCount; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("worker-%d", i)
		go func() {
			defer wg.Done()
			p.runWorker(ctx, workerID, i)
		}()
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, workerID string, sessionNum int) {
	for {
		if ctx.Err() != nil {
			return
		}
		env, ok := p.credits.Dequeue()
		if !ok {
			return // queue closed and drained
		}
		credit, ok := env.Payload.(types.Credit)
		if !ok {
			continue
		}
		p.processConversation(ctx, workerID, sessionNum, credit)
	}
}

// processConversation walks every turn of the credited conversation in
// order, accumulating assistant replies into the message history it
// passes to the formatter (spec.md §4.4 step 2, §9 "conversation history
// accumulation": a worker owns this slice for the conversation's
// lifetime, discarded after the final turn).
func (p *Pool) processConversation(ctx context.Context, workerID string, sessionNum int, credit types.Credit) {
	conv, err := p.provider.GetByID(credit.ConversationID)
	if err != nil {
		p.logger.Warn("dataset lookup failed", "conversation_id", credit.ConversationID, "error", err)
		return
	}

	var history []types.Turn
	for turnIdx, turn := range conv.Turns {
		if turnIdx > 0 {
			p.sleepInterTurnDelay(conv.ID)
		}

		record := p.executeTurn(ctx, workerID, sessionNum, credit, conv.ID, turnIdx, turn, history)
		p.records.Enqueue(bus.Envelope{Kind: "record", Tier: bus.Tier1Operation, Payload: record})

		history = append(history, turn)
		if record.Raw != nil && record.Error == nil {
			history = append(history, types.Turn{Role: types.RoleAssistant, Text: record.Raw.FinalText})
		}
	}
}

func (p *Pool) sleepInterTurnDelay(conversationID string) {
	rng := p.root.Sub("timing.turn.delay." + conversationID)
	delayMs := p.cfg.TurnDelay.MeanMs
	if p.cfg.TurnDelay.StddevMs > 0 {
		delayMs = p.cfg.TurnDelay.MeanMs + p.cfg.TurnDelay.StddevMs*rng.NormFloat64()
	}
	delayMs *= p.cfg.TurnDelay.Ratio
	if delayMs < 0 {
		delayMs = 0
	}
	if delayMs > 0 {
		time.Sleep(time.Duration(delayMs) * time.Millisecond)
	}
}

func (p *Pool) nextRequestID() string {
	p.reqIDMu.Lock()
	p.reqIDSeq++
	id := p.reqIDSeq
	p.reqIDMu.Unlock()
	return "req-" + strconv.FormatUint(id, 10)
}

// executeTurn runs the per-credit procedure from spec.md §4.4 for one
// turn: format, send, time, stream-or-read, classify.
func (p *Pool) executeTurn(ctx context.Context, workerID string, sessionNum int, credit types.Credit, conversationID string, turnIndex int, turn types.Turn, history []types.Turn) types.RawRequestRecord {
	xRequestID := p.nextRequestID()

	record := types.RawRequestRecord{
		XRequestID:     xRequestID,
		XCorrelationID: conversationID,
		ConversationID: conversationID,
		TurnIndex:      turnIndex,
		SessionNum:     sessionNum,
		WorkerID:       workerID,
		Phase:          credit.Phase,
	}

	path, headers, body, streaming, err := p.plugin.FormatRequest(turn, history, endpoint.RequestContext{
		Model:         p.cfg.Model,
		Streaming:     p.cfg.Streaming,
		APIKey:        p.cfg.APIKey,
		CorrelationID: conversationID,
		UserHeaders:   p.cfg.UserHeaders,
	})
	if err != nil {
		record.StartNs = types.Now()
		record.EndNs = record.StartNs
		record.Error = classifyParseError(err)
		return record
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if p.cfg.RequestTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
	} else {
		reqCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var cancelled bool
	var cancellationNs int64
	if credit.CancelAfterNs > 0 {
		timer := time.AfterFunc(time.Duration(credit.CancelAfterNs), func() {
			cancelled = true
			cancellationNs = types.Now()
			cancel()
		})
		defer timer.Stop()
	}

	spanCtx, span := p.tracer.StartHTTPAttemptSpan(reqCtx, otel.HTTPAttemptSpanOptions{
		ConversationID: conversationID,
		XRequestID:     xRequestID,
		TurnIndex:      turnIndex,
		Phase:          string(credit.Phase),
		Endpoint:       p.cfg.BaseURL + path,
	})
	defer span.End()

	httpReq, err := http.NewRequestWithContext(spanCtx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		record.StartNs = types.Now()
		record.EndNs = record.StartNs
		record.Error = classifyError(err)
		p.finishAttempt(span, record)
		return record
	}
	for k, vs := range headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("X-Request-ID", xRequestID)
	httpReq.Header.Set("X-Correlation-ID", conversationID)
	otel.InjectHeaders(spanCtx, httpReq.Header, p.tracer)

	record.StartNs = types.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		record.EndNs = types.Now()
		if cancelled {
			record.WasCancelled = true
			record.CancellationNs = &cancellationNs
			record.Error = cancellationError()
		} else {
			record.Error = classifyError(err)
		}
		p.finishAttempt(span, record)
		return record
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		record.EndNs = types.Now()
		record.Status = resp.StatusCode
		record.Error = classifyHTTPStatus(resp.StatusCode)
		p.finishAttempt(span, record)
		return record
	}
	record.Status = resp.StatusCode

	if streaming {
		p.consumeStream(spanCtx, resp.Body, &record, &cancelled, &cancellationNs)
	} else {
		p.consumeFull(resp.Body, &record)
	}

	record.EndNs = types.Now()
	if cancelled && record.Error == nil {
		record.WasCancelled = true
		record.CancellationNs = &cancellationNs
		record.Error = cancellationError()
	}
	p.finishAttempt(span, record)
	return record
}

// finishAttempt records the span's error context plus the
// request-latency and error-kind metrics for one completed attempt.
func (p *Pool) finishAttempt(span trace.Span, record types.RawRequestRecord) {
	ctx := context.Background()
	latencyMs := float64(record.EndNs-record.StartNs) / 1e6
	ok := record.Error == nil
	p.metrics.RecordRequestLatency(ctx, string(record.Phase), ok, latencyMs)
	if record.WasCancelled {
		p.metrics.RecordCancellation(ctx)
	}
	if record.Error != nil {
		p.metrics.RecordError(ctx, string(record.Error.Kind))
		otel.RecordError(span, record.Error, string(record.Error.Kind), record.WasCancelled)
	}
}

func (p *Pool) consumeFull(body io.Reader, record *types.RawRequestRecord) {
	data, err := io.ReadAll(body)
	if err != nil {
		record.Error = classifyError(err)
		return
	}
	record.AckNs = int64Ptr(types.Now())
	parsed, err := p.plugin.ParseFull(data)
	if err != nil {
		record.Error = classifyParseError(err)
		return
	}
	record.Raw = parsed
}

func (p *Pool) consumeStream(ctx context.Context, body io.ReadCloser, record *types.RawRequestRecord, cancelled *bool, cancellationNs *int64) {
	decoder := newSSEDecoder(body, p.cfg.StallTimeout)
	defer decoder.Close()

	parsed := &types.ParsedResponse{}
	first := true

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		event, err := decoder.readEvent()
		if err != nil {
			if err == io.EOF {
				break
			}
			record.Error = classifyParseError(err)
			return
		}
		if event.data == doneMarker {
			break
		}

		chunk, usage, ok, err := p.plugin.ParseChunk([]byte(event.data))
		if err != nil {
			record.Error = classifyParseError(err)
			return
		}
		if !ok {
			continue
		}
		now := types.Now()
		if first {
			record.AckNs = int64Ptr(now)
			first = false
		}
		chunk.ReceivedNs = now
		parsed.Chunks = append(parsed.Chunks, chunk)
		if chunk.DeltaText != "" {
			parsed.FinalText += chunk.DeltaText
		}
		if chunk.DeltaReasoning != "" {
			parsed.ReasoningText += chunk.DeltaReasoning
		}
		if usage != nil {
			parsed.Usage = usage
		}
	}

	record.Raw = parsed
}

func int64Ptr(v int64) *int64 { return &v }
