package endpoint

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bc-dunia/inferbench/internal/types"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequestBody struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

type chatStreamDelta struct {
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

type chatStreamChoice struct {
	Delta        chatStreamDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason,omitempty"`
}

type chatStreamEvent struct {
	Choices []chatStreamChoice `json:"choices"`
	Usage   *usageBody         `json:"usage,omitempty"`
}

type usageBody struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatFullChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatFullResponse struct {
	Choices []chatFullChoice `json:"choices"`
	Usage   *usageBody       `json:"usage,omitempty"`
}

// OpenAIChat formats/parses the /v1/chat/completions shape (spec.md §6).
type OpenAIChat struct{}

func NewOpenAIChat() *OpenAIChat { return &OpenAIChat{} }

func (OpenAIChat) Name() string { return "openai_chat" }

func (OpenAIChat) FormatRequest(turn types.Turn, history []types.Turn, ctx RequestContext) (string, http.Header, []byte, bool, error) {
	messages := make([]chatMessage, 0, len(history)+1)
	for _, h := range history {
		messages = append(messages, chatMessage{Role: string(h.Role), Content: h.Text})
	}
	messages = append(messages, chatMessage{Role: string(turn.Role), Content: turn.Text})

	body, err := json.Marshal(chatRequestBody{
		Model:     ctx.Model,
		Messages:  messages,
		Stream:    ctx.Streaming,
		MaxTokens: turn.MaxTokens,
	})
	if err != nil {
		return "", nil, nil, false, err
	}
	return "/v1/chat/completions", standardHeaders(ctx), body, ctx.Streaming, nil
}

func (OpenAIChat) ParseChunk(data []byte) (types.Chunk, *types.Usage, bool, error) {
	var ev chatStreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return types.Chunk{}, nil, false, fmt.Errorf("endpoint: malformed chat stream event: %w", err)
	}
	var usage *types.Usage
	if ev.Usage != nil {
		usage = &types.Usage{
			PromptTokens:     ev.Usage.PromptTokens,
			CompletionTokens: ev.Usage.CompletionTokens,
			TotalTokens:      ev.Usage.TotalTokens,
		}
	}
	if len(ev.Choices) == 0 {
		return types.Chunk{}, usage, usage != nil, nil
	}
	choice := ev.Choices[0]
	finish := ""
	if choice.FinishReason != nil {
		finish = *choice.FinishReason
	}
	chunk := types.Chunk{
		DeltaText:      choice.Delta.Content,
		DeltaReasoning: choice.Delta.ReasoningContent,
		FinishReason:   finish,
	}
	return chunk, usage, true, nil
}

func (OpenAIChat) ParseFull(body []byte) (*types.ParsedResponse, error) {
	var resp chatFullResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("endpoint: malformed chat response: %w", err)
	}
	parsed := &types.ParsedResponse{}
	if len(resp.Choices) > 0 {
		parsed.FinalText = resp.Choices[0].Message.Content
	}
	if resp.Usage != nil {
		parsed.Usage = &types.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return parsed, nil
}

// OpenAICompletions formats/parses the legacy /v1/completions shape.
type OpenAICompletions struct{}

func NewOpenAICompletions() *OpenAICompletions { return &OpenAICompletions{} }

func (OpenAICompletions) Name() string { return "openai_completions" }

type completionsRequestBody struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	Stream    bool   `json:"stream"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type completionsStreamChoice struct {
	Text         string  `json:"text"`
	FinishReason *string `json:"finish_reason,omitempty"`
}

type completionsStreamEvent struct {
	Choices []completionsStreamChoice `json:"choices"`
	Usage   *usageBody                `json:"usage,omitempty"`
}

type completionsFullChoice struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

type completionsFullResponse struct {
	Choices []completionsFullChoice `json:"choices"`
	Usage   *usageBody              `json:"usage,omitempty"`
}

func (OpenAICompletions) FormatRequest(turn types.Turn, history []types.Turn, ctx RequestContext) (string, http.Header, []byte, bool, error) {
	prompt := turn.Text
	for _, h := range history {
		prompt = h.Text + "\n" + prompt
	}
	body, err := json.Marshal(completionsRequestBody{
		Model:     ctx.Model,
		Prompt:    prompt,
		Stream:    ctx.Streaming,
		MaxTokens: turn.MaxTokens,
	})
	if err != nil {
		return "", nil, nil, false, err
	}
	return "/v1/completions", standardHeaders(ctx), body, ctx.Streaming, nil
}

func (OpenAICompletions) ParseChunk(data []byte) (types.Chunk, *types.Usage, bool, error) {
	var ev completionsStreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return types.Chunk{}, nil, false, fmt.Errorf("endpoint: malformed completions stream event: %w", err)
	}
	var usage *types.Usage
	if ev.Usage != nil {
		usage = &types.Usage{PromptTokens: ev.Usage.PromptTokens, CompletionTokens: ev.Usage.CompletionTokens, TotalTokens: ev.Usage.TotalTokens}
	}
	if len(ev.Choices) == 0 {
		return types.Chunk{}, usage, usage != nil, nil
	}
	finish := ""
	if ev.Choices[0].FinishReason != nil {
		finish = *ev.Choices[0].FinishReason
	}
	return types.Chunk{DeltaText: ev.Choices[0].Text, FinishReason: finish}, usage, true, nil
}

func (OpenAICompletions) ParseFull(body []byte) (*types.ParsedResponse, error) {
	var resp completionsFullResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("endpoint: malformed completions response: %w", err)
	}
	parsed := &types.ParsedResponse{}
	if len(resp.Choices) > 0 {
		parsed.FinalText = resp.Choices[0].Text
	}
	if resp.Usage != nil {
		parsed.Usage = &types.Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens}
	}
	return parsed, nil
}

// OpenAIEmbeddings formats/parses /v1/embeddings. Non-streaming only.
type OpenAIEmbeddings struct{}

func NewOpenAIEmbeddings() *OpenAIEmbeddings { return &OpenAIEmbeddings{} }

func (OpenAIEmbeddings) Name() string { return "openai_embeddings" }

type embeddingsRequestBody struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingsDatum struct {
	Embedding []float64 `json:"embedding"`
}

type embeddingsResponse struct {
	Data  []embeddingsDatum `json:"data"`
	Usage *usageBody        `json:"usage,omitempty"`
}

func (OpenAIEmbeddings) FormatRequest(turn types.Turn, history []types.Turn, ctx RequestContext) (string, http.Header, []byte, bool, error) {
	body, err := json.Marshal(embeddingsRequestBody{Model: ctx.Model, Input: turn.Text})
	if err != nil {
		return "", nil, nil, false, err
	}
	return "/v1/embeddings", standardHeaders(ctx), body, false, nil
}

func (OpenAIEmbeddings) ParseChunk([]byte) (types.Chunk, *types.Usage, bool, error) {
	return types.Chunk{}, nil, false, fmt.Errorf("endpoint: openai_embeddings does not stream")
}

func (OpenAIEmbeddings) ParseFull(body []byte) (*types.ParsedResponse, error) {
	var resp embeddingsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("endpoint: malformed embeddings response: %w", err)
	}
	parsed := &types.ParsedResponse{}
	if len(resp.Data) > 0 {
		parsed.EmbeddingDims = len(resp.Data[0].Embedding)
	}
	if resp.Usage != nil {
		parsed.Usage = &types.Usage{PromptTokens: resp.Usage.PromptTokens, TotalTokens: resp.Usage.TotalTokens}
	}
	return parsed, nil
}

func standardHeaders(ctx RequestContext) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	if ctx.APIKey != "" {
		h.Set("Authorization", "Bearer "+ctx.APIKey)
	}
	for k, v := range ctx.UserHeaders {
		h.Set(k, v)
	}
	return h
}
