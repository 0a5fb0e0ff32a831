package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bc-dunia/inferbench/internal/bus"
	"github.com/bc-dunia/inferbench/internal/dataset"
	"github.com/bc-dunia/inferbench/internal/endpoint"
	"github.com/bc-dunia/inferbench/internal/tokenizer"
	"github.com/bc-dunia/inferbench/internal/types"
)

// streamingMockServer replies to /v1/chat/completions with a 5-delta SSE
// stream, 20ms before the first byte and 5ms between subsequent deltas,
// mirroring spec.md §8 scenario 1.
func streamingMockServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)

		time.Sleep(20 * time.Millisecond)
		for i := 0; i < 5; i++ {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"tok%d \"}}]}\n\n", i)
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
		fmt.Fprintf(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func TestWorkerPoolStreamingHappyPath(t *testing.T) {
	srv := streamingMockServer(t)
	defer srv.Close()

	conv := types.Conversation{ID: "conv-1", Turns: []types.Turn{{Role: types.RoleUser, Text: "hello"}}}
	provider := dataset.NewProvider([]types.Conversation{conv}, dataset.NewRootSeed(1))

	credits := bus.NewQueue(10)
	records := bus.NewQueue(10)

	pool := NewPool(Config{
		WorkerCount:    1,
		BaseURL:        srv.URL,
		Model:          "test-model",
		Streaming:      true,
		RequestTimeout: 5 * time.Second,
		StallTimeout:   2 * time.Second,
		TurnDelay:      TurnDelayConfig{Ratio: 1},
	}, srv.Client(), endpoint.NewOpenAIChat(), provider, tokenizer.NewApproximate(), dataset.NewRootSeed(1), credits, records, nil)

	credits.Enqueue(bus.Envelope{Kind: "credit", Tier: bus.Tier1Operation, Payload: types.Credit{
		CreditID: "c1", ConversationID: "conv-1", Phase: types.PhaseProfiling, IssuedNs: types.Now(),
	}})
	credits.Close()

	done := make(chan struct{})
	go func() {
		pool.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool.Run did not finish")
	}

	env, ok := records.TryDequeue()
	if !ok {
		t.Fatal("expected one record")
	}
	record := env.Payload.(types.RawRequestRecord)
	if record.Error != nil {
		t.Fatalf("unexpected error: %v", record.Error)
	}
	if record.AckNs == nil {
		t.Fatal("expected ack_ns to be set for a streaming response")
	}
	if !record.Valid() {
		t.Fatalf("record fails timing invariants: %+v", record)
	}
	if record.Raw == nil || !strings.Contains(record.Raw.FinalText, "tok0") {
		t.Fatalf("expected assembled final text to contain streamed deltas, got %+v", record.Raw)
	}
}

func TestWorkerPoolHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	conv := types.Conversation{ID: "conv-1", Turns: []types.Turn{{Role: types.RoleUser, Text: "hello"}}}
	provider := dataset.NewProvider([]types.Conversation{conv}, dataset.NewRootSeed(1))
	credits := bus.NewQueue(10)
	records := bus.NewQueue(10)

	pool := NewPool(Config{WorkerCount: 1, BaseURL: srv.URL, RequestTimeout: 2 * time.Second}, srv.Client(), endpoint.NewOpenAIChat(), provider, tokenizer.NewApproximate(), dataset.NewRootSeed(1), credits, records, nil)

	credits.Enqueue(bus.Envelope{Kind: "credit", Payload: types.Credit{CreditID: "c1", ConversationID: "conv-1", Phase: types.PhaseProfiling}})
	credits.Close()

	done := make(chan struct{})
	go func() { pool.Run(context.Background()); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool.Run did not finish")
	}

	env, ok := records.TryDequeue()
	if !ok {
		t.Fatal("expected one record")
	}
	record := env.Payload.(types.RawRequestRecord)
	if record.Error == nil || record.Error.Kind != types.ErrorKindHTTP || record.Error.Code != 500 {
		t.Fatalf("expected HTTPError(500), got %+v", record.Error)
	}
}
