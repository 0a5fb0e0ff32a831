package endpoint

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bc-dunia/inferbench/internal/types"
)

// Rank formats/parses a reranking endpoint: one query against the turn's
// text as a single candidate document (spec.md §6 "a rank endpoint").
// Non-streaming only.
type Rank struct{}

func NewRank() *Rank { return &Rank{} }

func (Rank) Name() string { return "rank" }

type rankRequestBody struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rankResponse struct {
	Results []rankResult `json:"results"`
	Usage   *usageBody   `json:"usage,omitempty"`
}

func (Rank) FormatRequest(turn types.Turn, history []types.Turn, ctx RequestContext) (string, http.Header, []byte, bool, error) {
	body, err := json.Marshal(rankRequestBody{
		Model:     ctx.Model,
		Query:     turn.Text,
		Documents: []string{turn.Text},
	})
	if err != nil {
		return "", nil, nil, false, err
	}
	return "/v1/rank", standardHeaders(ctx), body, false, nil
}

func (Rank) ParseChunk([]byte) (types.Chunk, *types.Usage, bool, error) {
	return types.Chunk{}, nil, false, fmt.Errorf("endpoint: rank does not stream")
}

func (Rank) ParseFull(body []byte) (*types.ParsedResponse, error) {
	var resp rankResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("endpoint: malformed rank response: %w", err)
	}
	parsed := &types.ParsedResponse{}
	if len(resp.Results) > 0 {
		parsed.FinalText = fmt.Sprintf("%d:%.6f", resp.Results[0].Index, resp.Results[0].RelevanceScore)
	}
	if resp.Usage != nil {
		parsed.Usage = &types.Usage{PromptTokens: resp.Usage.PromptTokens, TotalTokens: resp.Usage.TotalTokens}
	}
	return parsed, nil
}
