// Package main provides the inferbench-mockserver CLI binary.
// It starts a standalone OpenAI-shaped inference endpoint (chat
// completions, completions, embeddings, rank) for exercising cmd/profile
// against a local target without a real model server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bc-dunia/inferbench/internal/mockserver"
)

func main() {
	addr := flag.String("addr", ":3000", "HTTP server address")
	ttftMs := flag.Float64("ttft-ms", 20, "delay before the first token/response, in milliseconds")
	itlMs := flag.Float64("itl-ms", 5, "delay between streamed chunks, in milliseconds")
	chunkCount := flag.Int("chunk-count", 5, "number of streamed chunks (and completion tokens) per response")
	embeddingDims := flag.Int("embedding-dims", 8, "vector length returned by /v1/embeddings")
	errorRate := flag.Float64("error-rate", 0, "probability in [0,1] that a request is answered with an injected error")
	errorStatus := flag.Int("error-status", http.StatusInternalServerError, "HTTP status written when error injection fires")
	rateLimit := flag.Int("rate-limit-per-second", 0, "cap on accepted requests per second; 0 disables rate limiting")
	flag.Parse()

	config := mockserver.DefaultConfig()
	config.Addr = *addr
	config.Behavior = mockserver.BehaviorProfile{
		TTFTMs:             *ttftMs,
		ITLMs:              *itlMs,
		ChunkCount:         *chunkCount,
		EmbeddingDims:      *embeddingDims,
		ErrorRate:          *errorRate,
		ErrorStatus:        *errorStatus,
		RateLimitPerSecond: *rateLimit,
	}

	server := mockserver.New(config)

	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting mock server: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Mock inference server listening on %s\n", server.Addr())
	fmt.Printf("Base URL: %s\n", server.BaseURL())
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Stop(ctx)
	fmt.Println("Mock server stopped")
}
