package otel

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/propagation"
)

// InjectHeaders injects trace context into outgoing HTTP headers. Used
// by internal/worker before sending each attempt, so the endpoint
// under test (if itself instrumented) joins the same trace.
func InjectHeaders(ctx context.Context, headers http.Header, tracer *Tracer) {
	if tracer == nil || !tracer.Enabled() {
		return
	}
	tracer.Propagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

// ExtractContext extracts trace context from incoming HTTP headers.
func ExtractContext(ctx context.Context, headers http.Header, tracer *Tracer) context.Context {
	if tracer == nil || !tracer.Enabled() {
		return ctx
	}
	return tracer.Propagator().Extract(ctx, propagation.HeaderCarrier(headers))
}
