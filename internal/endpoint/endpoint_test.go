package endpoint

import (
	"strings"
	"testing"

	"github.com/bc-dunia/inferbench/internal/types"
)

func TestRegistryLooksUpBuiltins(t *testing.T) {
	r := DefaultRegistry()
	for _, name := range []string{"openai_chat", "openai_completions", "openai_embeddings", "rank"} {
		if _, err := r.Get(name); err != nil {
			t.Fatalf("expected builtin %q to be registered: %v", name, err)
		}
	}
}

func TestRegistryGetUnknownReturnsUnsupportedEndpointError(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.Get("does-not-exist")
	if err == nil {
		t.Fatal("expected error for unknown endpoint type")
	}
	if _, ok := err.(*UnsupportedEndpointError); !ok {
		t.Fatalf("expected *UnsupportedEndpointError, got %T", err)
	}
}

func TestOpenAIChatFormatIncludesHistory(t *testing.T) {
	p := NewOpenAIChat()
	history := []types.Turn{
		{Role: types.RoleUser, Text: "first"},
		{Role: types.RoleAssistant, Text: "reply"},
	}
	turn := types.Turn{Role: types.RoleUser, Text: "second"}

	_, _, body, streaming, err := p.FormatRequest(turn, history, RequestContext{Model: "m", Streaming: true})
	if err != nil {
		t.Fatal(err)
	}
	if !streaming {
		t.Fatal("expected streaming true")
	}
	s := string(body)
	if !strings.Contains(s, "first") || !strings.Contains(s, "reply") || !strings.Contains(s, "second") {
		t.Fatalf("expected history and current turn in body, got %s", s)
	}
}

func TestOpenAIChatParseChunkExtractsDelta(t *testing.T) {
	p := NewOpenAIChat()
	chunk, usage, ok, err := p.ParseChunk([]byte(`{"choices":[{"delta":{"content":"hi"}}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if chunk.DeltaText != "hi" {
		t.Fatalf("expected delta text hi, got %q", chunk.DeltaText)
	}
	if usage != nil {
		t.Fatal("expected no usage on a plain delta chunk")
	}
}

func TestOpenAIChatParseChunkCarriesUsage(t *testing.T) {
	p := NewOpenAIChat()
	_, usage, ok, err := p.ParseChunk([]byte(`{"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected ok=true for a usage-only event")
	}
	if usage == nil || usage.TotalTokens != 7 {
		t.Fatalf("expected total_tokens=7, got %+v", usage)
	}
}

func TestOpenAIEmbeddingsParseFull(t *testing.T) {
	p := NewOpenAIEmbeddings()
	parsed, err := p.ParseFull([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if parsed.EmbeddingDims != 3 {
		t.Fatalf("expected 3 dims, got %d", parsed.EmbeddingDims)
	}
}

func TestRankParseFull(t *testing.T) {
	p := NewRank()
	parsed, err := p.ParseFull([]byte(`{"results":[{"index":0,"relevance_score":0.87}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(parsed.FinalText, "0:0.87") {
		t.Fatalf("unexpected final text: %q", parsed.FinalText)
	}
}
