// Package endpoint holds the formatter/parser plugins the worker pool
// uses to talk to a specific inference API shape (spec.md §6). The
// plugin interface and registry shape are generalized from the teacher's
// internal/plugin.Operation/Registry ("named MCP operation" becomes
// "named endpoint kind").
package endpoint

import (
	"fmt"
	"net/http"

	"github.com/bc-dunia/inferbench/internal/types"
)

// RequestContext carries everything a formatter needs beyond the turn
// itself: the model name, auth, user-supplied headers, and the
// conversation's correlation id (stable across turns of one conversation).
type RequestContext struct {
	Model         string
	Streaming     bool
	APIKey        string
	CorrelationID string
	UserHeaders   map[string]string
}

// Plugin formats one turn into an HTTP request and parses the response
// back into the normalized ParsedResponse shape (spec.md §6).
type Plugin interface {
	Name() string

	// FormatRequest composes the request for turn, given any prior
	// assistant/user turns already accumulated for this conversation.
	FormatRequest(turn types.Turn, history []types.Turn, ctx RequestContext) (path string, headers http.Header, body []byte, streaming bool, err error)

	// ParseChunk parses one SSE data payload (the bytes between "data: "
	// and the trailing newline) into a Chunk. Returns ok=false for
	// payloads that carry neither a delta nor usage; a lone usage object
	// returns ok=true with an empty Chunk.
	ParseChunk(data []byte) (chunk types.Chunk, usage *types.Usage, ok bool, err error)

	// ParseFull parses a complete non-streaming response body.
	ParseFull(body []byte) (*types.ParsedResponse, error)
}

// UnsupportedEndpointError is returned by Registry.Get for an unknown
// endpoint-type flag value, and maps to spec.md §7 ConfigError.
type UnsupportedEndpointError struct {
	EndpointType string
}

func (e *UnsupportedEndpointError) Error() string {
	return fmt.Sprintf("endpoint: unsupported endpoint type %q", e.EndpointType)
}

// Registry holds named endpoint plugins, mirroring the teacher's
// internal/plugin.Registry shape (map + RWMutex would be used if plugins
// were registered concurrently; registration here happens once at
// startup, so a plain map suffices).
type Registry struct {
	plugins map[string]Plugin
}

func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

func (r *Registry) Register(p Plugin) {
	r.plugins[p.Name()] = p
}

func (r *Registry) Get(name string) (Plugin, error) {
	p, ok := r.plugins[name]
	if !ok {
		return nil, &UnsupportedEndpointError{EndpointType: name}
	}
	return p, nil
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	return names
}

// DefaultRegistry returns a Registry preloaded with every built-in
// endpoint plugin (spec.md §6 "Built-ins must exist for OpenAI chat,
// OpenAI completions, OpenAI embeddings, and a rank endpoint").
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewOpenAIChat())
	r.Register(NewOpenAICompletions())
	r.Register(NewOpenAIEmbeddings())
	r.Register(NewRank())
	return r
}
