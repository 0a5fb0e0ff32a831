// Package types holds the core data model shared across inferbench's
// components: conversations and turns served by the dataset provider,
// credits issued by the scheduler, raw records produced by workers, and
// the parsed response shape produced by endpoint plugins.
package types

import "time"

// Role identifies the speaker of a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Media attaches a non-text payload to a Turn.
type Media struct {
	Kind string `json:"kind"` // "image", "audio", "video"
	Data []byte `json:"data,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Turn is one request within a Conversation. Content is frozen at dataset
// generation time; workers never mutate a Turn.
type Turn struct {
	Role         Role    `json:"role"`
	Text         string  `json:"text,omitempty"`
	InputIDs     []int   `json:"input_ids,omitempty"`
	Media        []Media `json:"media,omitempty"`
	Model        string  `json:"model,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	MinTokens    int     `json:"min_tokens,omitempty"`
	IgnoreEOS    bool    `json:"ignore_eos,omitempty"`
	DelayAfterMs int64   `json:"delay_after_ms,omitempty"`

	// InputLength is the authoritative input token count for trace-mode
	// conversations, where the tokenizer is bypassed (spec.md §4.5).
	InputLength int `json:"input_length,omitempty"`
}

// Conversation is a session of one or more ordered turns. Immutable once
// the dataset provider finalizes its pool.
type Conversation struct {
	ID          string  `json:"id"`
	Turns       []Turn  `json:"turns"`
	TimestampMs int64   `json:"timestamp_ms,omitempty"`
	HashIDs     []int64 `json:"hash_ids,omitempty"`
}

// Phase distinguishes warmup credits/records from profiling ones.
type Phase string

const (
	PhaseWarmup    Phase = "warmup"
	PhaseProfiling Phase = "profiling"
)

// Credit is a one-shot permission issued by the scheduler for one whole
// conversation: the worker that takes it makes one request attempt for
// each of the conversation's turns, in order. A credit does not stand
// for a single request.
type Credit struct {
	CreditID       string
	ConversationID string
	TurnIndex      int
	Phase          Phase
	ScheduledNs    int64
	IssuedNs       int64

	// CancelAfterNs, if non-zero, instructs the worker to abort the
	// request CancelAfterNs nanoseconds after start_ns.
	CancelAfterNs int64
}

// ErrorKind is the stable taxonomy from spec.md §7.
type ErrorKind string

const (
	ErrorKindConfig             ErrorKind = "ConfigError"
	ErrorKindTransport          ErrorKind = "TransportError"
	ErrorKindHTTP               ErrorKind = "HTTPError"
	ErrorKindResponseParse      ErrorKind = "ResponseParseError"
	ErrorKindRequestTimeout     ErrorKind = "RequestTimeout"
	ErrorKindRequestCancelled   ErrorKind = "RequestCancellationError"
	ErrorKindDataset            ErrorKind = "DatasetError"
	ErrorKindFatalInternalError ErrorKind = "FatalInternalError"
)

// ErrorDetails is the typed failure carried by a record or control message.
type ErrorDetails struct {
	Kind    ErrorKind `json:"type"`
	Code    int       `json:"code,omitempty"`
	Message string    `json:"message"`
}

func (e *ErrorDetails) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Chunk is one streamed delta of a response.
type Chunk struct {
	ReceivedNs     int64  `json:"received_ns"`
	DeltaText      string `json:"delta_text,omitempty"`
	DeltaReasoning string `json:"delta_reasoning,omitempty"`
	FinishReason   string `json:"finish_reason,omitempty"`
}

// Usage is the endpoint-reported token accounting, when present.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// ParsedResponse is the endpoint-agnostic normalized response shape
// produced by an endpoint plugin's parse_response operation.
type ParsedResponse struct {
	FinalText      string  `json:"final_text,omitempty"`
	ReasoningText  string  `json:"reasoning_text,omitempty"`
	Chunks         []Chunk `json:"chunks,omitempty"`
	Usage          *Usage  `json:"usage,omitempty"`
	EmbeddingDims  int     `json:"embedding_dims,omitempty"`
}

// RawRequestRecord is a worker's timing snapshot of one request attempt.
type RawRequestRecord struct {
	XRequestID     string `json:"x_request_id"`
	XCorrelationID string `json:"x_correlation_id"`
	ConversationID string `json:"conversation_id"`
	TurnIndex      int    `json:"turn_index"`
	SessionNum     int    `json:"session_num"`
	WorkerID       string `json:"worker_id"`
	Phase          Phase  `json:"phase"`

	StartNs int64  `json:"start_ns"`
	AckNs   *int64 `json:"ack_ns,omitempty"`
	EndNs   int64  `json:"end_ns"`

	Status int `json:"status"`

	Raw            *ParsedResponse `json:"raw_response,omitempty"`
	WasCancelled   bool            `json:"was_cancelled"`
	CancellationNs *int64          `json:"cancellation_time_ns,omitempty"`
	Error          *ErrorDetails   `json:"error,omitempty"`

	// InputSequenceLength is known at request-build time; trace mode
	// supplies it directly, other modes fill it in after tokenization.
	InputSequenceLength int `json:"input_sequence_length,omitempty"`
}

// Valid checks the record-level timing invariants from spec.md §8.
func (r *RawRequestRecord) Valid() bool {
	if r.EndNs < r.StartNs {
		return false
	}
	if r.AckNs != nil && (*r.AckNs < r.StartNs || *r.AckNs > r.EndNs) {
		return false
	}
	return true
}

// MetricValue is either a scalar or a list (for per-event streams such as
// inter-chunk latencies).
type MetricValue struct {
	Scalar    float64   `json:"scalar,omitempty"`
	List      []float64 `json:"list,omitempty"`
	IsList    bool      `json:"is_list"`
}

// MetricKind distinguishes per-request, summed, and finalisation-time
// metrics (spec.md §9 dynamic metric registry design note).
type MetricKind string

const (
	MetricKindRecord    MetricKind = "record"
	MetricKindAggregate MetricKind = "aggregate"
	MetricKindDerived   MetricKind = "derived"
)

// MetricRecordDict is the per-request output of the record processor pool.
type MetricRecordDict struct {
	XRequestID string                 `json:"x_request_id"`
	Phase      Phase                  `json:"phase"`
	EndNs      int64                  `json:"end_ns"`
	OK         bool                   `json:"ok"`
	Error      *ErrorDetails          `json:"error,omitempty"`
	Metrics    map[string]MetricValue `json:"metrics"`
	Unit       map[string]string      `json:"unit"`
}

// clockBase anchors Now to the wall clock once per process; later
// readings advance by Go's monotonic clock reading.
var clockBase = time.Now()

// Now returns the current monotonic-clock nanosecond count used for all
// latency arithmetic (spec.md §5, "timing source").
func Now() int64 {
	return clockBase.UnixNano() + int64(time.Since(clockBase))
}
