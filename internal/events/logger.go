// Package events provides structured event logging for a benchmark
// run, adapted from the teacher's internal/events/logger.go: same
// JSON-handler-over-slog shape, same global-logger-with-noop-fallback
// pattern, retargeted from MCP session/reconnect events to this
// module's credit/record/phase events.
package events

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// EventLogger provides structured logging for key events in a
// benchmark run.
type EventLogger struct {
	logger *slog.Logger
	runID  string
}

// NewEventLogger creates a new EventLogger with JSON output to stdout.
func NewEventLogger(runID string) *EventLogger {
	return newEventLogger(runID, os.Stdout)
}

// NewEventLoggerWithWriter creates a new EventLogger with JSON output
// to a custom writer. Useful for testing or redirecting output.
func NewEventLoggerWithWriter(runID string, w io.Writer) *EventLogger {
	return newEventLogger(runID, w)
}

func newEventLogger(runID string, w io.Writer) *EventLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(handler).With("run_id", runID)
	return &EventLogger{logger: logger, runID: runID}
}

// LogCreditIssued logs a credit admission.
// event: "credit_issued"
// Attributes: credit_id, conversation_id, phase
func (el *EventLogger) LogCreditIssued(creditID, conversationID string, phase string) {
	el.logger.Info("credit_issued",
		"credit_id", creditID,
		"conversation_id", conversationID,
		"phase", phase,
	)
}

// LogRecordSealed logs a record entering the aggregator.
// event: "record_sealed"
// Attributes: x_request_id, phase, ok
func (el *EventLogger) LogRecordSealed(xRequestID string, phase string, ok bool) {
	el.logger.Info("record_sealed",
		"x_request_id", xRequestID,
		"phase", phase,
		"ok", ok,
	)
}

// LogPhaseTransition logs a controller phase transition.
// event: "phase_transition"
// Attributes: from_phase, to_phase
func (el *EventLogger) LogPhaseTransition(fromPhase, toPhase string) {
	el.logger.Info("phase_transition",
		"from_phase", fromPhase,
		"to_phase", toPhase,
	)
}

// LogCancellation logs a worker cooperatively cancelling a request.
// event: "cancellation"
// Attributes: x_request_id, conversation_id, delay_ns
func (el *EventLogger) LogCancellation(xRequestID, conversationID string, delayNs int64) {
	el.logger.Warn("cancellation",
		"x_request_id", xRequestID,
		"conversation_id", conversationID,
		"delay_ns", delayNs,
	)
}

// LogStopCondition logs when a termination condition fires.
// event: "stop_condition"
// Attributes: reason, value, threshold
func (el *EventLogger) LogStopCondition(reason string, value, threshold float64) {
	el.logger.Warn("stop_condition",
		"reason", reason,
		"value", value,
		"threshold", threshold,
	)
}

// LogServiceFailed logs a supervised service failing or timing out.
// event: "service_failed"
// Attributes: service, message
func (el *EventLogger) LogServiceFailed(service, message string) {
	el.logger.Error("service_failed",
		"service", service,
		"message", message,
	)
}

var (
	globalLogger *EventLogger
	globalMu     sync.RWMutex

	noopOnce   sync.Once
	noopLogger *EventLogger
)

// SetGlobalEventLogger sets the global event logger instance.
func SetGlobalEventLogger(l *EventLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalEventLogger returns the global event logger instance. If
// none is set, returns a no-op logger.
func GetGlobalEventLogger() *EventLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return NoopEventLogger()
}

// NoopEventLogger returns the shared event logger that discards all
// events. Always the same instance, so callers that compare loggers by
// identity (e.g. "is event logging disabled") see a stable answer.
func NoopEventLogger() *EventLogger {
	noopOnce.Do(func() {
		handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})
		noopLogger = &EventLogger{logger: slog.New(handler)}
	})
	return noopLogger
}
