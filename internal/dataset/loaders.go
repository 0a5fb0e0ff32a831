package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/bc-dunia/inferbench/internal/types"
)

// FileFormat identifies one of the four input file shapes from spec.md §6.
type FileFormat string

const (
	FormatSingleTurn    FileFormat = "single_turn"
	FormatMooncakeTrace FileFormat = "mooncake_trace"
	FormatMultiTurn     FileFormat = "multi_turn"
	FormatRandomPool    FileFormat = "random_pool"
)

type singleTurnLine struct {
	Texts     []string `json:"texts,omitempty"`
	Text      string   `json:"text,omitempty"`
	Image     string   `json:"image,omitempty"`
	Audio     string   `json:"audio,omitempty"`
	Video     string   `json:"video,omitempty"`
	MaxTokens int      `json:"max_tokens,omitempty"`
}

type mooncakeTraceLine struct {
	TimestampMs  int64   `json:"timestamp"`
	InputLength  int     `json:"input_length,omitempty"`
	TextInput    string  `json:"text_input,omitempty"`
	OutputLength int     `json:"output_length,omitempty"`
	HashIDs      []int64 `json:"hash_ids,omitempty"`
}

type multiTurnLine struct {
	SessionID string            `json:"session_id,omitempty"`
	Turns     []multiTurnEntry  `json:"turns"`
}

type multiTurnEntry struct {
	Role      string `json:"role,omitempty"`
	Text      string `json:"text,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// LoadJSONL reads a JSONL dataset file of the given format into a
// Conversation pool. One parse error aborts the whole load with a
// DatasetError-flavored message (spec.md §7 DatasetError: "malformed
// trace line").
func LoadJSONL(r io.Reader, format FileFormat) ([]types.Conversation, error) {
	switch format {
	case FormatSingleTurn, FormatRandomPool:
		return loadSingleTurnLike(r, format)
	case FormatMooncakeTrace:
		return loadMooncakeTrace(r)
	case FormatMultiTurn:
		return loadMultiTurn(r)
	default:
		return nil, fmt.Errorf("dataset: unknown file format %q", format)
	}
}

func loadSingleTurnLike(r io.Reader, format FileFormat) ([]types.Conversation, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var convs []types.Conversation
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry singleTurnLine
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("dataset: malformed %s line %d: %w", format, lineNo, err)
		}

		text := entry.Text
		if text == "" && len(entry.Texts) > 0 {
			text = entry.Texts[0]
		}

		var media []types.Media
		if entry.Image != "" {
			media = append(media, types.Media{Kind: "image", URL: entry.Image})
		}
		if entry.Audio != "" {
			media = append(media, types.Media{Kind: "audio", URL: entry.Audio})
		}
		if entry.Video != "" {
			media = append(media, types.Media{Kind: "video", URL: entry.Video})
		}

		convs = append(convs, types.Conversation{
			ID: fmt.Sprintf("%s-%08d", format, lineNo),
			Turns: []types.Turn{{
				Role:      types.RoleUser,
				Text:      text,
				Media:     media,
				MaxTokens: entry.MaxTokens,
			}},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dataset: reading %s: %w", format, err)
	}
	return convs, nil
}

func loadMooncakeTrace(r io.Reader) ([]types.Conversation, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var convs []types.Conversation
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry mooncakeTraceLine
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("dataset: malformed mooncake_trace line %d: %w", lineNo, err)
		}

		convs = append(convs, types.Conversation{
			ID:          fmt.Sprintf("trace-%08d", lineNo),
			TimestampMs: entry.TimestampMs,
			HashIDs:     entry.HashIDs,
			Turns: []types.Turn{{
				Role:        types.RoleUser,
				Text:        entry.TextInput,
				MaxTokens:   entry.OutputLength,
				InputLength: entry.InputLength,
			}},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dataset: reading mooncake_trace: %w", err)
	}
	return convs, nil
}

func loadMultiTurn(r io.Reader) ([]types.Conversation, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var convs []types.Conversation
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry multiTurnLine
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("dataset: malformed multi_turn line %d: %w", lineNo, err)
		}
		if len(entry.Turns) == 0 {
			return nil, fmt.Errorf("dataset: malformed multi_turn line %d: no turns", lineNo)
		}

		sessionID := entry.SessionID
		if sessionID == "" {
			sessionID = fmt.Sprintf("multiturn-%08d", lineNo)
		}

		turns := make([]types.Turn, 0, len(entry.Turns))
		for _, t := range entry.Turns {
			role := types.Role(t.Role)
			if role == "" {
				role = types.RoleUser
			}
			turns = append(turns, types.Turn{
				Role:      role,
				Text:      t.Text,
				MaxTokens: t.MaxTokens,
			})
		}

		convs = append(convs, types.Conversation{ID: sessionID, Turns: turns})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dataset: reading multi_turn: %w", err)
	}
	return convs, nil
}
